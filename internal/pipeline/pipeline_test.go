package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/ledger/evm"
)

type blockRange struct{ from, to uint64 }

type fakeChain struct {
	head      uint64
	placed    []evm.PlacedEvent
	resolved  []evm.ResolvedEvent
	cancelled []evm.ResolvedEvent
	scanned   []blockRange
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) { return c.head, nil }

func (c *fakeChain) FilterPlaced(_ context.Context, from uint64, to *uint64) ([]evm.PlacedEvent, error) {
	c.scanned = append(c.scanned, blockRange{from, *to})
	var out []evm.PlacedEvent
	for _, ev := range c.placed {
		if ev.BlockNumber >= from && ev.BlockNumber <= *to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *fakeChain) FilterResolved(_ context.Context, from uint64, to *uint64) ([]evm.ResolvedEvent, error) {
	return filterEvents(c.resolved, from, *to), nil
}

func (c *fakeChain) FilterCancelled(_ context.Context, from uint64, to *uint64) ([]evm.ResolvedEvent, error) {
	return filterEvents(c.cancelled, from, *to), nil
}

func filterEvents(events []evm.ResolvedEvent, from, to uint64) []evm.ResolvedEvent {
	var out []evm.ResolvedEvent
	for _, ev := range events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out
}

type fakeIndex struct {
	domain.WagerIndex
	wagers  map[domain.WagerID]domain.Wager
	settled []domain.Wager
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{wagers: make(map[domain.WagerID]domain.Wager)}
}

func (f *fakeIndex) Upsert(_ context.Context, w domain.Wager) error {
	if cur, ok := f.wagers[w.ID]; ok && cur.Status.Terminal() {
		return nil
	}
	f.wagers[w.ID] = w
	return nil
}

func (f *fakeIndex) MarkSettled(_ context.Context, id domain.WagerID, status domain.Status, actual int64, payout decimal.Decimal) error {
	w, ok := f.wagers[id]
	if !ok || w.Status.Terminal() {
		return nil
	}
	w.Status = status
	w.ActualValue = actual
	f.wagers[id] = w
	return nil
}

func (f *fakeIndex) ListSettledSince(_ context.Context, _ time.Time, opts domain.ListOpts) ([]domain.Wager, error) {
	if opts.Offset >= len(f.settled) {
		return nil, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(f.settled) {
		end = len(f.settled)
	}
	return f.settled[opts.Offset:end], nil
}

type fakeCheckpoints struct {
	cursors map[string]uint64
}

func (f *fakeCheckpoints) GetCheckpoint(_ context.Context, name string) (uint64, error) {
	return f.cursors[name], nil
}

func (f *fakeCheckpoints) SetCheckpoint(_ context.Context, name string, cursor uint64) error {
	f.cursors[name] = cursor
	return nil
}

type fakeBlob struct {
	keys   []string
	bodies []string
	types  []string
}

func (f *fakeBlob) Write(_ context.Context, key string, data []byte, contentType string) error {
	f.keys = append(f.keys, key)
	f.bodies = append(f.bodies, string(data))
	f.types = append(f.types, contentType)
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func testWager(id domain.WagerID, status domain.Status) domain.Wager {
	placed := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	return domain.Wager{
		ID:             id,
		Bettor:         "0x1111111111111111111111111111111111111111",
		SubjectFID:     3,
		Metric:         domain.MetricCastsCount,
		PredictedValue: 5,
		Stake:          decimal.NewFromInt(5_000_000),
		PlacedAt:       placed,
		ResolvesAt:     placed.Add(24 * time.Hour),
		Status:         status,
	}
}

func TestIndexerSweepMirrorsPlacedAndResolved(t *testing.T) {
	resolves := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	chain := &fakeChain{
		head: 1200,
		placed: []evm.PlacedEvent{
			{
				WagerID:        7,
				Bettor:         "0x1111111111111111111111111111111111111111",
				SubjectFID:     3,
				Metric:         domain.MetricLikesGreater,
				Stake:          decimal.NewFromInt(5_000_000),
				PredictedValue: 100,
				ResolvesAt:     resolves,
				BlockNumber:    1010,
			},
			{WagerID: 8, Bettor: "0x2222222222222222222222222222222222222222", ResolvesAt: resolves, Stake: decimal.NewFromInt(1_000_000), BlockNumber: 1020},
		},
		resolved: []evm.ResolvedEvent{
			{WagerID: 7, Status: domain.StatusWon, ActualValue: 140, Payout: decimal.NewFromInt(9_850_000), BlockNumber: 1100},
		},
	}
	index := newFakeIndex()
	cps := &fakeCheckpoints{cursors: map[string]uint64{}}

	ix := NewIndexer(chain, index, cps, 1000, 5000, 24*time.Hour, testLogger())
	require.NoError(t, ix.Sweep(context.Background()))

	// First sweep starts at the deploy block.
	require.Len(t, chain.scanned, 1)
	assert.Equal(t, blockRange{1000, 1200}, chain.scanned[0])
	assert.Equal(t, uint64(1200), cps.cursors[checkpointIndexer])

	won := index.wagers[7]
	assert.Equal(t, domain.StatusWon, won.Status)
	assert.Equal(t, int64(140), won.ActualValue)
	assert.Equal(t, resolves, won.ResolvesAt)
	assert.Equal(t, resolves.Add(-24*time.Hour), won.PlacedAt)

	active := index.wagers[8]
	assert.Equal(t, domain.StatusActive, active.Status)
}

func TestIndexerSweepResumesFromCheckpoint(t *testing.T) {
	chain := &fakeChain{head: 2000}
	cps := &fakeCheckpoints{cursors: map[string]uint64{checkpointIndexer: 1500}}

	ix := NewIndexer(chain, newFakeIndex(), cps, 1000, 5000, 24*time.Hour, testLogger())
	require.NoError(t, ix.Sweep(context.Background()))

	require.Len(t, chain.scanned, 1)
	assert.Equal(t, blockRange{1501, 2000}, chain.scanned[0])
}

func TestIndexerSweepChunksLongRanges(t *testing.T) {
	chain := &fakeChain{head: 1250}
	cps := &fakeCheckpoints{cursors: map[string]uint64{}}

	ix := NewIndexer(chain, newFakeIndex(), cps, 1000, 100, 24*time.Hour, testLogger())
	require.NoError(t, ix.Sweep(context.Background()))

	assert.Equal(t, []blockRange{{1000, 1099}, {1100, 1199}, {1200, 1250}}, chain.scanned)
	assert.Equal(t, uint64(1250), cps.cursors[checkpointIndexer])
}

func TestIndexerSweepNoopWhenCaughtUp(t *testing.T) {
	chain := &fakeChain{head: 1500}
	cps := &fakeCheckpoints{cursors: map[string]uint64{checkpointIndexer: 1500}}

	ix := NewIndexer(chain, newFakeIndex(), cps, 1000, 5000, 24*time.Hour, testLogger())
	require.NoError(t, ix.Sweep(context.Background()))

	assert.Empty(t, chain.scanned)
}

func TestArchiverWritesJSONLAndAdvancesCursor(t *testing.T) {
	index := newFakeIndex()
	index.settled = []domain.Wager{testWager(1, domain.StatusWon), testWager(2, domain.StatusLost)}
	blob := &fakeBlob{}
	cps := &fakeCheckpoints{cursors: map[string]uint64{}}

	a := NewArchiver(index, blob, cps, 500, testLogger())
	require.NoError(t, a.Run(context.Background()))

	require.Len(t, blob.keys, 1)
	assert.True(t, strings.HasPrefix(blob.keys[0], "settlements/"), "key %q", blob.keys[0])
	assert.True(t, strings.HasSuffix(blob.keys[0], ".jsonl"), "key %q", blob.keys[0])
	assert.Equal(t, "application/x-ndjson", blob.types[0])

	lines := strings.Split(strings.TrimSpace(blob.bodies[0]), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"wager_id":1`)
	assert.Contains(t, lines[0], `"status":"won"`)
	assert.Contains(t, lines[1], `"status":"lost"`)

	assert.NotZero(t, cps.cursors[checkpointArchiver])
}

func TestArchiverPagesLargeRuns(t *testing.T) {
	index := newFakeIndex()
	for i := 1; i <= 5; i++ {
		index.settled = append(index.settled, testWager(domain.WagerID(i), domain.StatusWon))
	}
	blob := &fakeBlob{}
	cps := &fakeCheckpoints{cursors: map[string]uint64{}}

	a := NewArchiver(index, blob, cps, 2, testLogger())
	require.NoError(t, a.Run(context.Background()))

	// 5 wagers at a batch size of 2 means three objects.
	require.Len(t, blob.keys, 3)
	assert.NotEqual(t, blob.keys[0], blob.keys[1])
}

func TestArchiverSkipsEmptyRuns(t *testing.T) {
	blob := &fakeBlob{}
	cps := &fakeCheckpoints{cursors: map[string]uint64{checkpointArchiver: uint64(time.Now().Unix())}}

	a := NewArchiver(newFakeIndex(), blob, cps, 500, testLogger())
	require.NoError(t, a.Run(context.Background()))

	assert.Empty(t, blob.keys)
}
