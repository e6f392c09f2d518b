package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WagerID is the ledger-assigned identifier of a wager. IDs are monotonically
// assigned by the on-chain contract at placement and never reused.
type WagerID uint64

// Metric identifies which social statistic a wager predicts. The numeric
// values match the on-chain uint8 encoding and must not be reordered.
type Metric uint8

const (
	MetricCastsCount    Metric = 0 // casts published in the 24h window, exact match
	MetricLikesGreater  Metric = 1 // likes received in the 24h window, actual > predicted
	MetricLikesLess     Metric = 2 // likes received in the 24h window, actual < predicted
	MetricRepliesCount  Metric = 3 // replies received in the 24h window, exact match
	MetricFollowersGain Metric = 4 // followers gained since placement, exact match
)

// String returns the canonical snake_case name used in the API and storage.
func (m Metric) String() string {
	switch m {
	case MetricCastsCount:
		return "casts_count"
	case MetricLikesGreater:
		return "likes_greater"
	case MetricLikesLess:
		return "likes_less"
	case MetricRepliesCount:
		return "replies_count"
	case MetricFollowersGain:
		return "followers_gain"
	default:
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the defined metrics.
func (m Metric) Valid() bool {
	return m <= MetricFollowersGain
}

// ParseMetric converts the canonical name back into a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "casts_count":
		return MetricCastsCount, nil
	case "likes_greater":
		return MetricLikesGreater, nil
	case "likes_less":
		return MetricLikesLess, nil
	case "replies_count":
		return MetricRepliesCount, nil
	case "followers_gain":
		return MetricFollowersGain, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMetric, s)
	}
}

// Status is the lifecycle state of a wager. The numeric values match the
// on-chain uint8 encoding.
type Status uint8

const (
	StatusActive    Status = 0
	StatusWon       Status = 1
	StatusLost      Status = 2
	StatusCancelled Status = 3
)

// String returns the canonical name used in the API and storage.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusWon:
		return "won"
	case StatusLost:
		return "lost"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Terminal reports whether s is one of the terminal states. A wager reaches a
// terminal state exactly once and never leaves it.
func (s Status) Terminal() bool {
	return s == StatusWon || s == StatusLost || s == StatusCancelled
}

// ParseStatus converts the canonical name back into a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active":
		return StatusActive, nil
	case "won":
		return StatusWon, nil
	case "lost":
		return StatusLost, nil
	case "cancelled":
		return StatusCancelled, nil
	default:
		return 0, fmt.Errorf("unknown wager status %q", s)
	}
}

// Outcome is the terminal classification a resolution produces. It is a
// subset of Status: a resolved wager is either Won or Lost.
type Outcome uint8

const (
	OutcomeWon  Outcome = Outcome(StatusWon)
	OutcomeLost Outcome = Outcome(StatusLost)
)

// Status converts the outcome into the corresponding wager status.
func (o Outcome) Status() Status {
	return Status(o)
}

// String returns "won" or "lost".
func (o Outcome) String() string {
	return Status(o).String()
}

// Wager is a single prediction stake on a subject's future metric value. All
// fields except Status and ActualValue are immutable after placement.
// Monetary amounts are integer-valued decimals in the smallest unit of the
// settlement currency (6-decimal USDC base units).
type Wager struct {
	ID             WagerID
	Bettor         string // hex-encoded owning address
	SubjectFID     int64  // the social identity being measured
	Metric         Metric
	PredictedValue int64
	Stake          decimal.Decimal
	PlacedAt       time.Time
	ResolvesAt     time.Time
	Status         Status
	ActualValue    int64 // populated only once Status is Won or Lost
}

// WagerSpec is the validated request to create a new wager. The ledger
// escrows Stake atomically with creation.
type WagerSpec struct {
	Bettor         string
	SubjectFID     int64
	Metric         Metric
	PredictedValue int64
	Stake          decimal.Decimal
}

// Confirmation is the ledger's handle for an accepted state-changing call.
type Confirmation struct {
	TxHash      string
	BlockNumber uint64
}

// Payout is the result of the payout computation for a terminal wager.
// Amount is what the bettor receives; Fee is the protocol's retained cut.
type Payout struct {
	Amount decimal.Decimal
	Fee    decimal.Decimal
}

// SettlementResult is returned by a successful resolution.
type SettlementResult struct {
	WagerID      WagerID
	Status       Status
	ActualValue  int64
	Payout       decimal.Decimal
	Fee          decimal.Decimal
	Confirmation Confirmation
}

// BettorStats aggregates a bettor's settled history for profile display.
type BettorStats struct {
	TotalWagers  int64
	WonWagers    int64
	TotalStaked  decimal.Decimal
	TotalWinning decimal.Decimal
}

// WinRate returns the fraction of settled wagers that were won, in percent.
func (s BettorStats) WinRate() float64 {
	if s.TotalWagers == 0 {
		return 0
	}
	return float64(s.WonWagers) / float64(s.TotalWagers) * 100
}
