// Package oracle orchestrates wager settlement. The oracle is the only
// trusted writer of terminal wager state: it selects eligible wagers, fetches
// the realized metric value, asks the lifecycle engine for the decision, and
// submits one atomic settlement call to the ledger.
package oracle

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/lifecycle"
	"github.com/castmarket/castmarket/internal/metrics"
)

// resolveLockTTL bounds how long a crashed resolver can block a wager. The
// ledger's check-and-set makes a stale lock harmless either way.
const resolveLockTTL = 2 * time.Minute

// Deps bundles the oracle's collaborators. Engine, Ledger, Stats, Index, and
// OperatorSecret are required; the rest may be nil and are skipped.
type Deps struct {
	Engine *lifecycle.Engine
	Ledger domain.LedgerGateway
	Stats  domain.StatsSource
	Index  domain.WagerIndex

	Locks   domain.LockManager
	Audit   domain.AuditStore
	Bus     domain.SignalBus
	Metrics *metrics.OracleMetrics

	// OperatorSecret is the pre-shared credential required for Resolve and
	// Cancel calls.
	OperatorSecret string

	Logger *slog.Logger

	// Now overrides the clock in tests. Defaults to time.Now.
	Now func() time.Time
}

// Oracle settles wagers. Safe for concurrent use across distinct wager IDs.
type Oracle struct {
	deps Deps
	log  *slog.Logger
	now  func() time.Time
}

// New validates the dependency set and returns an Oracle.
func New(deps Deps) (*Oracle, error) {
	switch {
	case deps.Engine == nil:
		return nil, errors.New("oracle: lifecycle engine is required")
	case deps.Ledger == nil:
		return nil, errors.New("oracle: ledger gateway is required")
	case deps.Stats == nil:
		return nil, errors.New("oracle: stats source is required")
	case deps.Index == nil:
		return nil, errors.New("oracle: wager index is required")
	case deps.OperatorSecret == "":
		return nil, errors.New("oracle: operator secret is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Oracle{
		deps: deps,
		log:  deps.Logger.With(slog.String("component", "oracle")),
		now:  now,
	}, nil
}

// authorize compares the caller's credential against the operator secret in
// constant time. It runs before any other work so an unauthorized call has no
// side effects and leaks nothing beyond the generic error.
func (o *Oracle) authorize(credential string) error {
	if subtle.ConstantTimeCompare([]byte(credential), []byte(o.deps.OperatorSecret)) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}

// Resolve settles a single wager. Calling it twice on the same wager yields
// success once and ErrAlreadySettled thereafter; the payout is disbursed
// exactly once because the ledger's settlement call is check-and-set.
func (o *Oracle) Resolve(ctx context.Context, id domain.WagerID, credential string) (domain.SettlementResult, error) {
	start := o.now()

	if err := o.authorize(credential); err != nil {
		return domain.SettlementResult{}, err
	}

	// Fast-path guard against duplicate in-flight work on the same wager.
	if o.deps.Locks != nil {
		unlock, err := o.deps.Locks.Acquire(ctx, fmt.Sprintf("resolve:%d", id), resolveLockTTL)
		if err != nil {
			return domain.SettlementResult{}, fmt.Errorf("oracle: wager %d: %w", id, err)
		}
		defer unlock()
	}

	w, err := o.deps.Ledger.GetWager(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrWagerNotFound) || errors.Is(err, domain.ErrNotFound) {
			return domain.SettlementResult{}, fmt.Errorf("oracle: wager %d: %w", id, domain.ErrWagerNotFound)
		}
		return domain.SettlementResult{}, fmt.Errorf("oracle: fetch wager %d: %w", id, err)
	}

	now := o.now()
	if !lifecycle.IsEligibleForResolution(w, now) {
		if w.Status.Terminal() {
			return domain.SettlementResult{}, fmt.Errorf("oracle: wager %d is %s: %w", id, w.Status, domain.ErrAlreadySettled)
		}
		return domain.SettlementResult{}, &domain.NotYetDueError{WagerID: id, Remaining: w.ResolvesAt.Sub(now)}
	}

	actual, err := o.realizedValue(ctx, w)
	if err != nil {
		o.observeError("stats", err)
		return domain.SettlementResult{}, err
	}

	outcome, err := lifecycle.EvaluateOutcome(w.Metric, w.PredictedValue, actual)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("oracle: wager %d: %w", id, err)
	}
	payout, err := o.deps.Engine.ComputePayout(w.Stake, outcome.Status())
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("oracle: wager %d: %w", id, err)
	}

	// Single atomic settlement call. The ledger flips status, moves funds,
	// and emits the event together or not at all; there is no separate
	// "mark resolved" step to get stuck between.
	conf, err := o.deps.Ledger.SettleWager(ctx, id, outcome, actual, payout.Amount)
	if err != nil {
		o.observeError("ledger", err)
		return domain.SettlementResult{}, fmt.Errorf("oracle: settle wager %d: %w", id, err)
	}

	res := domain.SettlementResult{
		WagerID:      id,
		Status:       outcome.Status(),
		ActualValue:  actual,
		Payout:       payout.Amount,
		Fee:          payout.Fee,
		Confirmation: conf,
	}

	o.afterSettlement(ctx, w, res, o.now().Sub(start))
	return res, nil
}

// realizedValue fetches the measured value for the wager's metric. The query
// window is frozen at ResolvesAt so a retried settlement recomputes the same
// value. Followers-gain is settled as the delta against the follower count
// recorded at placement.
func (o *Oracle) realizedValue(ctx context.Context, w domain.Wager) (int64, error) {
	value, err := o.deps.Stats.FetchMetric(ctx, w.SubjectFID, w.Metric, w.ResolvesAt)
	if err != nil {
		return 0, fmt.Errorf("oracle: wager %d subject %d: %w", w.ID, w.SubjectFID, err)
	}

	if w.Metric == domain.MetricFollowersGain {
		baseline, err := o.deps.Index.GetBaseline(ctx, w.ID)
		if err != nil {
			// Without the placement baseline the gain cannot be computed.
			// Surface as a transient failure so the wager stays Active for
			// an operator decision instead of settling on bad data.
			o.log.ErrorContext(ctx, "missing follower baseline",
				slog.Uint64("wager_id", uint64(w.ID)),
				slog.String("error", err.Error()),
			)
			return 0, fmt.Errorf("oracle: wager %d follower baseline: %w", w.ID, domain.ErrStatsUnavailable)
		}
		value -= baseline
	}

	return value, nil
}

// Cancel is the administrative path that refunds an Active wager. It competes
// with Resolve under the same ledger check-and-set discipline.
func (o *Oracle) Cancel(ctx context.Context, id domain.WagerID, credential string) (domain.SettlementResult, error) {
	if err := o.authorize(credential); err != nil {
		return domain.SettlementResult{}, err
	}

	w, err := o.deps.Ledger.GetWager(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrWagerNotFound) || errors.Is(err, domain.ErrNotFound) {
			return domain.SettlementResult{}, fmt.Errorf("oracle: wager %d: %w", id, domain.ErrWagerNotFound)
		}
		return domain.SettlementResult{}, fmt.Errorf("oracle: fetch wager %d: %w", id, err)
	}
	if w.Status.Terminal() {
		return domain.SettlementResult{}, fmt.Errorf("oracle: wager %d is %s: %w", id, w.Status, domain.ErrAlreadySettled)
	}

	conf, err := o.deps.Ledger.CancelWager(ctx, id)
	if err != nil {
		o.observeError("ledger", err)
		return domain.SettlementResult{}, fmt.Errorf("oracle: cancel wager %d: %w", id, err)
	}

	payout, err := o.deps.Engine.ComputePayout(w.Stake, domain.StatusCancelled)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("oracle: wager %d: %w", id, err)
	}

	res := domain.SettlementResult{
		WagerID:      id,
		Status:       domain.StatusCancelled,
		Payout:       payout.Amount,
		Fee:          payout.Fee,
		Confirmation: conf,
	}

	o.afterSettlement(ctx, w, res, 0)
	return res, nil
}

// ListEligible returns the IDs of all wagers currently due for resolution.
// Served from the off-chain index, which the chain indexer keeps current.
func (o *Oracle) ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.WagerID, error) {
	ids, err := o.deps.Index.ListEligible(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("oracle: list eligible: %w", err)
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.EligibleWagers.Set(float64(len(ids)))
	}
	return ids, nil
}

// afterSettlement updates the read model and emits observability signals.
// All of this is best-effort: the ledger has already committed the outcome.
func (o *Oracle) afterSettlement(ctx context.Context, w domain.Wager, res domain.SettlementResult, took time.Duration) {
	if err := o.deps.Index.MarkSettled(ctx, res.WagerID, res.Status, res.ActualValue, res.Payout); err != nil {
		o.log.WarnContext(ctx, "wager index update failed",
			slog.Uint64("wager_id", uint64(res.WagerID)),
			slog.String("error", err.Error()),
		)
	}

	if o.deps.Metrics != nil {
		o.deps.Metrics.ResolutionsTotal.WithLabelValues(res.Status.String()).Inc()
		if took > 0 {
			o.deps.Metrics.SettlementDuration.Observe(took.Seconds())
		}
	}

	if o.deps.Audit != nil {
		event := domain.EventWagerSettled
		if res.Status == domain.StatusCancelled {
			event = domain.EventWagerCancelled
		}
		if err := o.deps.Audit.Log(ctx, event, map[string]any{
			"wager_id":     uint64(res.WagerID),
			"status":       res.Status.String(),
			"actual_value": res.ActualValue,
			"payout":       res.Payout.String(),
			"fee":          res.Fee.String(),
			"tx_hash":      res.Confirmation.TxHash,
		}); err != nil {
			o.log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}

	if o.deps.Bus != nil {
		event := domain.EventWagerSettled
		if res.Status == domain.StatusCancelled {
			event = domain.EventWagerCancelled
		}
		payload, _ := json.Marshal(domain.WagerEvent{
			Event:       event,
			WagerID:     res.WagerID,
			Bettor:      w.Bettor,
			SubjectFID:  w.SubjectFID,
			Metric:      w.Metric.String(),
			Status:      res.Status.String(),
			ActualValue: res.ActualValue,
			Payout:      res.Payout.String(),
			TxHash:      res.Confirmation.TxHash,
			Timestamp:   o.now().UTC(),
		})
		if err := o.deps.Bus.Publish(ctx, domain.ChannelSettlements, payload); err != nil {
			o.log.WarnContext(ctx, "publish settlement event failed", slog.String("error", err.Error()))
		}
	}

	o.log.InfoContext(ctx, "wager settled",
		slog.Uint64("wager_id", uint64(res.WagerID)),
		slog.String("status", res.Status.String()),
		slog.Int64("actual_value", res.ActualValue),
		slog.String("payout", res.Payout.String()),
		slog.String("tx_hash", res.Confirmation.TxHash),
	)
}

func (o *Oracle) observeError(source string, err error) {
	if o.deps.Metrics == nil {
		return
	}
	kind := "permanent"
	if domain.Retryable(err) {
		kind = "transient"
	}
	o.deps.Metrics.ResolutionErrors.WithLabelValues(source, kind).Inc()
}
