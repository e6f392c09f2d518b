package domain

import "time"

// Signal bus channels.
const (
	ChannelWagers      = "wagers"
	ChannelSettlements = "settlements"
)

// Event types published on the signal bus and forwarded to notifiers.
const (
	EventWagerPlaced    = "wager_placed"
	EventWagerSettled   = "wager_settled"
	EventWagerCancelled = "wager_cancelled"
	EventOracleError    = "oracle_error"
)

// WagerEvent is the JSON payload published for wager lifecycle transitions.
type WagerEvent struct {
	Event       string    `json:"event"`
	WagerID     WagerID   `json:"wager_id"`
	Bettor      string    `json:"bettor,omitempty"`
	SubjectFID  int64     `json:"subject_fid,omitempty"`
	Metric      string    `json:"metric,omitempty"`
	Status      string    `json:"status"`
	ActualValue int64     `json:"actual_value,omitempty"`
	Payout      string    `json:"payout,omitempty"`
	TxHash      string    `json:"tx_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
