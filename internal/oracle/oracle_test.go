package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/lifecycle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "operator-secret"

// fakeLedger is an in-memory ledger with the same check-and-set discipline as
// the real contract: settlement and cancellation only succeed while the wager
// is still Active.
type fakeLedger struct {
	mu          sync.Mutex
	wagers      map[domain.WagerID]domain.Wager
	settled     int // successful settlement calls, for exactly-once checks
	getErr      error
	settleErr   error
	paidPayouts []decimal.Decimal
}

func newFakeLedger(ws ...domain.Wager) *fakeLedger {
	l := &fakeLedger{wagers: make(map[domain.WagerID]domain.Wager)}
	for _, w := range ws {
		l.wagers[w.ID] = w
	}
	return l
}

func (l *fakeLedger) CreateWager(ctx context.Context, spec domain.WagerSpec) (domain.WagerID, domain.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := domain.WagerID(len(l.wagers) + 1)
	l.wagers[id] = domain.Wager{
		ID:             id,
		Bettor:         spec.Bettor,
		SubjectFID:     spec.SubjectFID,
		Metric:         spec.Metric,
		PredictedValue: spec.PredictedValue,
		Stake:          spec.Stake,
		Status:         domain.StatusActive,
	}
	return id, domain.Confirmation{TxHash: fmt.Sprintf("0xcreate%d", id)}, nil
}

func (l *fakeLedger) GetWager(ctx context.Context, id domain.WagerID) (domain.Wager, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return domain.Wager{}, l.getErr
	}
	w, ok := l.wagers[id]
	if !ok {
		return domain.Wager{}, domain.ErrWagerNotFound
	}
	return w, nil
}

func (l *fakeLedger) SettleWager(ctx context.Context, id domain.WagerID, outcome domain.Outcome, actual int64, payout decimal.Decimal) (domain.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.settleErr != nil {
		return domain.Confirmation{}, l.settleErr
	}
	w, ok := l.wagers[id]
	if !ok {
		return domain.Confirmation{}, domain.ErrWagerNotFound
	}
	if w.Status != domain.StatusActive {
		return domain.Confirmation{}, domain.ErrAlreadySettled
	}
	w.Status = outcome.Status()
	w.ActualValue = actual
	l.wagers[id] = w
	l.settled++
	l.paidPayouts = append(l.paidPayouts, payout)
	return domain.Confirmation{TxHash: fmt.Sprintf("0xsettle%d", id), BlockNumber: 100}, nil
}

func (l *fakeLedger) CancelWager(ctx context.Context, id domain.WagerID) (domain.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wagers[id]
	if !ok {
		return domain.Confirmation{}, domain.ErrWagerNotFound
	}
	if w.Status != domain.StatusActive {
		return domain.Confirmation{}, domain.ErrAlreadySettled
	}
	w.Status = domain.StatusCancelled
	l.wagers[id] = w
	return domain.Confirmation{TxHash: fmt.Sprintf("0xcancel%d", id)}, nil
}

func (l *fakeLedger) ListActive(ctx context.Context, before time.Time) ([]domain.WagerID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var ids []domain.WagerID
	for id, w := range l.wagers {
		if w.Status == domain.StatusActive && !w.ResolvesAt.After(before) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (l *fakeLedger) status(id domain.WagerID) domain.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wagers[id].Status
}

// fakeStats returns canned values per (fid, metric) and canned errors.
type fakeStats struct {
	values map[string]int64
	err    error
}

func statsKey(fid int64, m domain.Metric) string {
	return fmt.Sprintf("%d/%s", fid, m)
}

func (s *fakeStats) FetchMetric(ctx context.Context, fid int64, metric domain.Metric, windowEnd time.Time) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	v, ok := s.values[statsKey(fid, metric)]
	if !ok {
		return 0, domain.ErrStatsSubjectNotFound
	}
	return v, nil
}

// fakeIndex records settlement mirror writes and holds baselines.
type fakeIndex struct {
	mu        sync.Mutex
	baselines map[domain.WagerID]int64
	eligible  []domain.WagerID
	settled   map[domain.WagerID]domain.Status
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		baselines: make(map[domain.WagerID]int64),
		settled:   make(map[domain.WagerID]domain.Status),
	}
}

func (i *fakeIndex) Upsert(ctx context.Context, w domain.Wager) error { return nil }

func (i *fakeIndex) MarkSettled(ctx context.Context, id domain.WagerID, status domain.Status, actual int64, payout decimal.Decimal) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.settled[id] = status
	return nil
}

func (i *fakeIndex) GetByID(ctx context.Context, id domain.WagerID) (domain.Wager, error) {
	return domain.Wager{}, domain.ErrNotFound
}

func (i *fakeIndex) ListByBettor(ctx context.Context, bettor string, opts domain.ListOpts) ([]domain.Wager, error) {
	return nil, nil
}

func (i *fakeIndex) ListEligible(ctx context.Context, now time.Time, limit int) ([]domain.WagerID, error) {
	return i.eligible, nil
}

func (i *fakeIndex) SetBaseline(ctx context.Context, id domain.WagerID, followers int64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.baselines[id] = followers
	return nil
}

func (i *fakeIndex) GetBaseline(ctx context.Context, id domain.WagerID) (int64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	b, ok := i.baselines[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return b, nil
}

func (i *fakeIndex) BettorStats(ctx context.Context, bettor string) (domain.BettorStats, error) {
	return domain.BettorStats{}, nil
}

func (i *fakeIndex) ListSettledSince(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.Wager, error) {
	return nil, nil
}

func testEngine(t *testing.T) *lifecycle.Engine {
	t.Helper()
	eng, err := lifecycle.New(decimal.RequireFromString("0.015"), 24*time.Hour)
	require.NoError(t, err)
	return eng
}

func testWager(id domain.WagerID, metric domain.Metric, predicted int64, resolvesAt time.Time) domain.Wager {
	return domain.Wager{
		ID:             id,
		Bettor:         "0xabc",
		SubjectFID:     42,
		Metric:         metric,
		PredictedValue: predicted,
		Stake:          decimal.NewFromInt(1000),
		PlacedAt:       resolvesAt.Add(-24 * time.Hour),
		ResolvesAt:     resolvesAt,
		Status:         domain.StatusActive,
	}
}

func newTestOracle(t *testing.T, ledger *fakeLedger, stats *fakeStats, index *fakeIndex, now time.Time) *Oracle {
	t.Helper()
	o, err := New(Deps{
		Engine:         testEngine(t),
		Ledger:         ledger,
		Stats:          stats,
		Index:          index,
		OperatorSecret: testSecret,
		Logger:         slog.Default(),
		Now:            func() time.Time { return now },
	})
	require.NoError(t, err)
	return o
}

func TestResolveWonExactMatch(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(-time.Second)))
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricCastsCount): 10}}
	index := newFakeIndex()

	o := newTestOracle(t, ledger, stats, index, now)

	res, err := o.Resolve(context.Background(), 1, testSecret)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusWon, res.Status)
	assert.Equal(t, int64(10), res.ActualValue)
	assert.True(t, res.Payout.Equal(decimal.NewFromInt(1970)), "payout = %s", res.Payout)
	assert.True(t, res.Fee.Equal(decimal.NewFromInt(30)))
	assert.NotEmpty(t, res.Confirmation.TxHash)
	assert.Equal(t, domain.StatusWon, ledger.status(1))
	assert.Equal(t, domain.StatusWon, index.settled[1], "read model mirrors the outcome")
}

func TestResolveLost(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricLikesGreater, 100, now.Add(-time.Minute)))
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricLikesGreater): 100}}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	res, err := o.Resolve(context.Background(), 1, testSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLost, res.Status)
	assert.True(t, res.Payout.IsZero())
}

func TestResolveUnauthorizedHasNoSideEffects(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(-time.Second)))
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricCastsCount): 10}}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	_, err := o.Resolve(context.Background(), 1, "wrong")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.StatusActive, ledger.status(1), "wager untouched")
	assert.Zero(t, ledger.settled)
}

func TestResolveNotYetDueReportsRemaining(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(time.Second)))
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricCastsCount): 10}}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	_, err := o.Resolve(context.Background(), 1, testSecret)
	require.ErrorIs(t, err, domain.ErrNotYetDue)

	var due *domain.NotYetDueError
	require.ErrorAs(t, err, &due)
	assert.Equal(t, time.Second, due.Remaining)
	assert.Equal(t, domain.StatusActive, ledger.status(1))
}

func TestResolveIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(-time.Second)))
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricCastsCount): 10}}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	_, err := o.Resolve(context.Background(), 1, testSecret)
	require.NoError(t, err)

	_, err = o.Resolve(context.Background(), 1, testSecret)
	require.ErrorIs(t, err, domain.ErrAlreadySettled)

	assert.Equal(t, 1, ledger.settled, "payout disbursed exactly once")
	require.Len(t, ledger.paidPayouts, 1)
}

func TestResolveWagerNotFound(t *testing.T) {
	now := time.Now().UTC()
	o := newTestOracle(t, newFakeLedger(), &fakeStats{}, newFakeIndex(), now)

	_, err := o.Resolve(context.Background(), 99, testSecret)
	require.ErrorIs(t, err, domain.ErrWagerNotFound)
}

func TestResolveStatsUnavailableKeepsWagerActive(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(-time.Second)))
	stats := &fakeStats{err: domain.ErrStatsUnavailable}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	_, err := o.Resolve(context.Background(), 1, testSecret)
	require.ErrorIs(t, err, domain.ErrStatsUnavailable)
	assert.True(t, domain.Retryable(err), "measurement unavailability is retryable, never Lost")
	assert.Equal(t, domain.StatusActive, ledger.status(1))
}

func TestResolveRateLimitedIsRetryable(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(-time.Second)))
	stats := &fakeStats{err: domain.ErrStatsRateLimited}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	_, err := o.Resolve(context.Background(), 1, testSecret)
	require.ErrorIs(t, err, domain.ErrStatsRateLimited)
	assert.True(t, domain.Retryable(err))
	assert.Equal(t, domain.StatusActive, ledger.status(1))
}

func TestResolveFollowersGainUsesBaselineDelta(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	w := testWager(1, domain.MetricFollowersGain, 25, now.Add(-time.Second))
	ledger := newFakeLedger(w)
	// Provider reports the current follower count; the recorded baseline
	// turns it into a gain of exactly 25.
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricFollowersGain): 1025}}
	index := newFakeIndex()
	require.NoError(t, index.SetBaseline(context.Background(), 1, 1000))

	o := newTestOracle(t, ledger, stats, index, now)

	res, err := o.Resolve(context.Background(), 1, testSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWon, res.Status)
	assert.Equal(t, int64(25), res.ActualValue)
}

func TestResolveFollowersGainMissingBaselineIsTransient(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricFollowersGain, 25, now.Add(-time.Second)))
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricFollowersGain): 1025}}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	_, err := o.Resolve(context.Background(), 1, testSecret)
	require.ErrorIs(t, err, domain.ErrStatsUnavailable)
	assert.Equal(t, domain.StatusActive, ledger.status(1))
}

func TestResolveLedgerWriteFailureIsRetryable(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(-time.Second)))
	ledger.settleErr = domain.ErrLedgerWriteFailed
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricCastsCount): 10}}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	_, err := o.Resolve(context.Background(), 1, testSecret)
	require.ErrorIs(t, err, domain.ErrLedgerWriteFailed)
	assert.True(t, domain.Retryable(err))
	assert.Equal(t, domain.StatusActive, ledger.status(1), "wager stays eligible for a later retry")
}

func TestCancelRefundsActiveWager(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(time.Hour)))

	o := newTestOracle(t, ledger, &fakeStats{}, newFakeIndex(), now)

	res, err := o.Cancel(context.Background(), 1, testSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, res.Status)
	assert.True(t, res.Payout.Equal(decimal.NewFromInt(1000)), "full refund, exactly the stake")
	assert.True(t, res.Fee.IsZero())
	assert.Equal(t, domain.StatusCancelled, ledger.status(1))
}

func TestCancelTerminalWagerFails(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	w := testWager(1, domain.MetricCastsCount, 10, now.Add(-time.Second))
	w.Status = domain.StatusWon
	ledger := newFakeLedger(w)

	o := newTestOracle(t, ledger, &fakeStats{}, newFakeIndex(), now)

	_, err := o.Cancel(context.Background(), 1, testSecret)
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestCancelUnauthorized(t *testing.T) {
	now := time.Now().UTC()
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now))

	o := newTestOracle(t, ledger, &fakeStats{}, newFakeIndex(), now)

	_, err := o.Cancel(context.Background(), 1, "nope")
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, domain.StatusActive, ledger.status(1))
}

func TestListEligible(t *testing.T) {
	now := time.Now().UTC()
	index := newFakeIndex()
	index.eligible = []domain.WagerID{3, 1, 7}

	o := newTestOracle(t, newFakeLedger(), &fakeStats{}, index, now)

	ids, err := o.ListEligible(context.Background(), now, 100)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.WagerID{1, 3, 7}, ids)
}

func TestConcurrentResolveSettlesOnce(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	ledger := newFakeLedger(testWager(1, domain.MetricCastsCount, 10, now.Add(-time.Second)))
	stats := &fakeStats{values: map[string]int64{statsKey(42, domain.MetricCastsCount): 10}}

	o := newTestOracle(t, ledger, stats, newFakeIndex(), now)

	const n = 8
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = o.Resolve(context.Background(), 1, testSecret)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, domain.ErrAlreadySettled)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent resolve succeeds")
	assert.Equal(t, 1, ledger.settled)
}
