package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// LedgerGateway is the narrow capability interface over the authoritative
// on-chain store. Every state-changing call is atomic on the ledger side:
// status flip, fund movement, and event emission happen together or not at
// all. The ledger's own check-and-set on wager status is the real at-most-once
// guard for settlement; callers' eligibility checks are fast-path only.
type LedgerGateway interface {
	// CreateWager escrows the stake and returns the ledger-assigned ID.
	CreateWager(ctx context.Context, spec WagerSpec) (WagerID, Confirmation, error)
	GetWager(ctx context.Context, id WagerID) (Wager, error)
	// SettleWager atomically flips an Active wager to the outcome's terminal
	// status, records the actual value, and disburses the payout exactly once.
	SettleWager(ctx context.Context, id WagerID, outcome Outcome, actualValue int64, payout decimal.Decimal) (Confirmation, error)
	// CancelWager refunds the stake and flips an Active wager to Cancelled.
	CancelWager(ctx context.Context, id WagerID) (Confirmation, error)
	// ListActive returns the IDs of wagers still Active whose resolution time
	// is at or before the given instant. Used for index backfill.
	ListActive(ctx context.Context, before time.Time) ([]WagerID, error)
}

// StatsSource fetches the realized value of a metric for a subject. Pure
// read; implementations must distinguish subject-not-found, unavailability,
// and rate limiting via the domain sentinel errors.
type StatsSource interface {
	// FetchMetric returns the measured value for the metric's aggregation
	// window ending at windowEnd. For count metrics the window is the 24 hours
	// preceding windowEnd; for followers it is the count at windowEnd.
	FetchMetric(ctx context.Context, fid int64, metric Metric, windowEnd time.Time) (int64, error)
}

// WagerIndex is the off-chain read model mirroring ledger wagers. It backs
// eligibility listing and bettor queries; the ledger remains authoritative.
type WagerIndex interface {
	Upsert(ctx context.Context, w Wager) error
	MarkSettled(ctx context.Context, id WagerID, status Status, actualValue int64, payout decimal.Decimal) error
	GetByID(ctx context.Context, id WagerID) (Wager, error)
	ListByBettor(ctx context.Context, bettor string, opts ListOpts) ([]Wager, error)
	// ListEligible returns IDs of Active wagers with ResolvesAt <= now. Every
	// currently eligible wager appears exactly once; order is unspecified.
	ListEligible(ctx context.Context, now time.Time, limit int) ([]WagerID, error)
	// SetBaseline records the subject's follower count at placement time,
	// used to settle followers_gain wagers as a delta.
	SetBaseline(ctx context.Context, id WagerID, followers int64) error
	GetBaseline(ctx context.Context, id WagerID) (int64, error)
	BettorStats(ctx context.Context, bettor string) (BettorStats, error)
	// ListSettledSince returns wagers settled at or after the given time,
	// used by the cold-storage archiver.
	ListSettledSince(ctx context.Context, since time.Time, opts ListOpts) ([]Wager, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of settlement decisions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// CheckpointStore persists named progress cursors so pipeline workers resume
// where they stopped: block heights for the chain indexer, unix seconds for
// the archiver.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, name string) (uint64, error)
	SetCheckpoint(ctx context.Context, name string, cursor uint64) error
}

// LockManager provides distributed locks used as a fast-path guard against
// duplicate in-flight resolution work. Not the source of truth; the ledger's
// check-and-set is.
type LockManager interface {
	// Acquire returns an unlock function on success or ErrLockHeld if the
	// lock is held by another party.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SignalBus is a lightweight pub/sub fabric for wager lifecycle events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// StatsCache caches provider responses so repeated lookups within a short
// window do not burn the provider's rate limit.
type StatsCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// BlobWriter writes settlement archive objects to cold storage.
type BlobWriter interface {
	Write(ctx context.Context, key string, data []byte, contentType string) error
}
