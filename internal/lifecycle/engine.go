// Package lifecycle implements the pure decision core of the prediction
// market: outcome evaluation, payout computation, and resolution eligibility.
// It holds no external connections and is deterministic, so settlement
// decisions can be replayed offline for auditing.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// Engine evaluates wager outcomes and computes payouts. All configuration is
// injected at construction so every method is a pure function of its inputs.
type Engine struct {
	feeRate decimal.Decimal // fee on winnings, e.g. 0.015 for 1.5%
	window  time.Duration   // fixed resolution window after placement
}

// New creates an Engine. feeRate must be in [0, 1); window must be positive.
func New(feeRate decimal.Decimal, window time.Duration) (*Engine, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("lifecycle: fee rate %s out of range [0,1)", feeRate)
	}
	if window <= 0 {
		return nil, fmt.Errorf("lifecycle: resolution window must be positive, got %s", window)
	}
	return &Engine{feeRate: feeRate, window: window}, nil
}

// ResolutionWindow returns the configured window length.
func (e *Engine) ResolutionWindow() time.Duration {
	return e.window
}

// ResolvesAt returns the instant a wager placed at the given time becomes
// eligible for resolution.
func (e *Engine) ResolvesAt(placedAt time.Time) time.Time {
	return placedAt.Add(e.window)
}

// EvaluateOutcome classifies a wager as Won or Lost by comparing the
// predicted and realized values under the metric's semantics. Count metrics
// and followers_gain are exact-match; likes_greater and likes_less are strict
// threshold comparisons. An unknown metric is an error, never a default.
func EvaluateOutcome(metric domain.Metric, predicted, actual int64) (domain.Outcome, error) {
	switch metric {
	case domain.MetricCastsCount, domain.MetricRepliesCount, domain.MetricFollowersGain:
		if actual == predicted {
			return domain.OutcomeWon, nil
		}
		return domain.OutcomeLost, nil
	case domain.MetricLikesGreater:
		if actual > predicted {
			return domain.OutcomeWon, nil
		}
		return domain.OutcomeLost, nil
	case domain.MetricLikesLess:
		if actual < predicted {
			return domain.OutcomeWon, nil
		}
		return domain.OutcomeLost, nil
	default:
		return 0, fmt.Errorf("%w: %d", domain.ErrInvalidMetric, uint8(metric))
	}
}

// ComputePayout returns the disbursement for a wager reaching the given
// terminal status. Won pays out the doubled stake minus the winning fee,
// floored to the smallest monetary unit; the rounding remainder stays in the
// fee so that payout + fee always equals exactly 2x the stake. Lost forfeits
// the stake. Cancelled refunds it in full with zero fee.
func (e *Engine) ComputePayout(stake decimal.Decimal, status domain.Status) (domain.Payout, error) {
	switch status {
	case domain.StatusWon:
		gross := stake.Mul(two)
		amount := gross.Mul(decimal.NewFromInt(1).Sub(e.feeRate)).Floor()
		return domain.Payout{Amount: amount, Fee: gross.Sub(amount)}, nil
	case domain.StatusLost:
		return domain.Payout{Amount: decimal.Zero, Fee: decimal.Zero}, nil
	case domain.StatusCancelled:
		return domain.Payout{Amount: stake, Fee: decimal.Zero}, nil
	default:
		return domain.Payout{}, fmt.Errorf("lifecycle: no payout defined for status %s", status)
	}
}

// IsEligibleForResolution reports whether the wager can be resolved now:
// still Active and past its resolution time.
func IsEligibleForResolution(w domain.Wager, now time.Time) bool {
	return w.Status == domain.StatusActive && !now.Before(w.ResolvesAt)
}
