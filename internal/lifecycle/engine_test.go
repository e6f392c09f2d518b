package lifecycle

import (
	"testing"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateOutcomeBoundaries(t *testing.T) {
	cases := []struct {
		name      string
		metric    domain.Metric
		predicted int64
		actual    int64
		want      domain.Outcome
	}{
		{"casts exact match wins", domain.MetricCastsCount, 10, 10, domain.OutcomeWon},
		{"casts one under loses", domain.MetricCastsCount, 10, 9, domain.OutcomeLost},
		{"casts one over loses", domain.MetricCastsCount, 10, 11, domain.OutcomeLost},
		{"replies exact match wins", domain.MetricRepliesCount, 3, 3, domain.OutcomeWon},
		{"replies mismatch loses", domain.MetricRepliesCount, 3, 4, domain.OutcomeLost},
		{"likes greater strict win", domain.MetricLikesGreater, 100, 101, domain.OutcomeWon},
		{"likes greater equal loses", domain.MetricLikesGreater, 100, 100, domain.OutcomeLost},
		{"likes greater under loses", domain.MetricLikesGreater, 100, 50, domain.OutcomeLost},
		{"likes less strict win", domain.MetricLikesLess, 100, 99, domain.OutcomeWon},
		{"likes less equal loses", domain.MetricLikesLess, 100, 100, domain.OutcomeLost},
		{"followers gain exact wins", domain.MetricFollowersGain, 25, 25, domain.OutcomeWon},
		{"followers gain mismatch loses", domain.MetricFollowersGain, 25, 24, domain.OutcomeLost},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EvaluateOutcome(tc.metric, tc.predicted, tc.actual)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			// Re-invocation with identical inputs yields the identical outcome.
			again, err := EvaluateOutcome(tc.metric, tc.predicted, tc.actual)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestEvaluateOutcomeInvalidMetric(t *testing.T) {
	_, err := EvaluateOutcome(domain.Metric(99), 1, 1)
	require.ErrorIs(t, err, domain.ErrInvalidMetric)
}

func TestComputePayoutWonConservation(t *testing.T) {
	eng, err := New(decimal.RequireFromString("0.015"), 24*time.Hour)
	require.NoError(t, err)

	stake := decimal.NewFromInt(1000)
	p, err := eng.ComputePayout(stake, domain.StatusWon)
	require.NoError(t, err)

	// floor(1000 * 2 * 0.985) = 1970
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(1970)), "payout = %s", p.Amount)
	assert.True(t, p.Fee.Equal(decimal.NewFromInt(30)), "fee = %s", p.Fee)

	// Conservation: payout + fee == 2 * stake exactly; fee never negative.
	assert.True(t, p.Amount.Add(p.Fee).Equal(stake.Mul(decimal.NewFromInt(2))))
	assert.False(t, p.Fee.IsNegative())
}

func TestComputePayoutRoundsDown(t *testing.T) {
	// An odd stake makes the gross fee fractional; the remainder must be
	// retained as fee, never lost or double-counted.
	eng, err := New(decimal.RequireFromString("0.015"), 24*time.Hour)
	require.NoError(t, err)

	stake := decimal.NewFromInt(333)
	p, err := eng.ComputePayout(stake, domain.StatusWon)
	require.NoError(t, err)

	// 333*2*0.985 = 656.01 -> 656, fee = 666 - 656 = 10
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(656)), "payout = %s", p.Amount)
	assert.True(t, p.Fee.Equal(decimal.NewFromInt(10)), "fee = %s", p.Fee)
	assert.True(t, p.Amount.Add(p.Fee).Equal(stake.Mul(decimal.NewFromInt(2))))
}

func TestComputePayoutLostAndCancelled(t *testing.T) {
	eng, err := New(decimal.RequireFromString("0.015"), 24*time.Hour)
	require.NoError(t, err)

	stake := decimal.NewFromInt(500)

	lost, err := eng.ComputePayout(stake, domain.StatusLost)
	require.NoError(t, err)
	assert.True(t, lost.Amount.IsZero())
	assert.True(t, lost.Fee.IsZero())

	cancelled, err := eng.ComputePayout(stake, domain.StatusCancelled)
	require.NoError(t, err)
	assert.True(t, cancelled.Amount.Equal(stake), "cancel refunds exactly the stake")
	assert.True(t, cancelled.Fee.IsZero())
}

func TestComputePayoutActiveIsError(t *testing.T) {
	eng, err := New(decimal.RequireFromString("0.015"), 24*time.Hour)
	require.NoError(t, err)

	_, err = eng.ComputePayout(decimal.NewFromInt(100), domain.StatusActive)
	require.Error(t, err)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(decimal.NewFromInt(1), 24*time.Hour)
	assert.Error(t, err, "fee rate of 100% is rejected")

	_, err = New(decimal.RequireFromString("-0.01"), 24*time.Hour)
	assert.Error(t, err)

	_, err = New(decimal.RequireFromString("0.015"), 0)
	assert.Error(t, err)
}

func TestIsEligibleForResolution(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	w := domain.Wager{
		ID:         1,
		Status:     domain.StatusActive,
		ResolvesAt: now,
	}

	assert.False(t, IsEligibleForResolution(w, now.Add(-time.Second)), "one second early")
	assert.True(t, IsEligibleForResolution(w, now), "exactly at the boundary")
	assert.True(t, IsEligibleForResolution(w, now.Add(time.Second)), "one second late")

	for _, st := range []domain.Status{domain.StatusWon, domain.StatusLost, domain.StatusCancelled} {
		w.Status = st
		assert.False(t, IsEligibleForResolution(w, now.Add(time.Hour)), "terminal status %s", st)
	}
}

func TestResolvesAt(t *testing.T) {
	eng, err := New(decimal.RequireFromString("0.015"), 24*time.Hour)
	require.NoError(t, err)

	placed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, placed.Add(24*time.Hour), eng.ResolvesAt(placed))
}
