// Package pipeline contains the background workers that keep the off-chain
// read model in sync with the ledger and ship settled wagers to cold storage.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/ledger/evm"
)

// checkpointIndexer names the block cursor the indexer persists between runs.
const checkpointIndexer = "indexer"

// ChainSource is the log-scanning surface of the ledger gateway the indexer
// needs. Satisfied by *evm.Gateway.
type ChainSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterPlaced(ctx context.Context, from uint64, to *uint64) ([]evm.PlacedEvent, error)
	FilterResolved(ctx context.Context, from uint64, to *uint64) ([]evm.ResolvedEvent, error)
	FilterCancelled(ctx context.Context, from uint64, to *uint64) ([]evm.ResolvedEvent, error)
}

// Indexer scans contract event logs and mirrors them into the wager index.
// It is purely an observer: the mirror's conditional writes make re-scanning
// an already-processed range harmless, so crash recovery is just "resume from
// the last checkpoint".
type Indexer struct {
	chain       ChainSource
	index       domain.WagerIndex
	checkpoints domain.CheckpointStore
	deployBlock uint64
	blockChunk  uint64
	window      time.Duration
	logger      *slog.Logger
}

// NewIndexer creates an Indexer. deployBlock is where the first scan starts
// when no checkpoint exists; window is the contract's resolution window, used
// to recover PlacedAt from the event's resolution deadline.
func NewIndexer(
	chain ChainSource,
	index domain.WagerIndex,
	checkpoints domain.CheckpointStore,
	deployBlock uint64,
	blockChunk uint64,
	window time.Duration,
	logger *slog.Logger,
) *Indexer {
	if blockChunk == 0 {
		blockChunk = 5000
	}
	return &Indexer{
		chain:       chain,
		index:       index,
		checkpoints: checkpoints,
		deployBlock: deployBlock,
		blockChunk:  blockChunk,
		window:      window,
		logger:      logger.With(slog.String("component", "indexer")),
	}
}

// RunLoop runs the indexer on a repeating interval until the context is
// cancelled. A failed sweep is logged and retried on the next tick with the
// checkpoint unchanged.
func (ix *Indexer) RunLoop(ctx context.Context, interval time.Duration) error {
	ix.logger.Info("indexer started",
		slog.Duration("interval", interval),
		slog.Uint64("block_chunk", ix.blockChunk),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := ix.Sweep(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			ix.logger.Error("index sweep failed", slog.String("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			ix.logger.Info("indexer stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep scans from the saved checkpoint to the current chain head, in chunks,
// advancing the checkpoint after each fully-applied chunk.
func (ix *Indexer) Sweep(ctx context.Context) error {
	head, err := ix.chain.BlockNumber(ctx)
	if err != nil {
		return err
	}

	last, err := ix.checkpoints.GetCheckpoint(ctx, checkpointIndexer)
	if err != nil {
		return err
	}

	from := last + 1
	if last == 0 {
		from = ix.deployBlock
	}
	if from > head {
		return nil
	}

	for from <= head {
		to := from + ix.blockChunk - 1
		if to > head {
			to = head
		}

		n, err := ix.applyRange(ctx, from, to)
		if err != nil {
			return fmt.Errorf("pipeline: index blocks %d-%d: %w", from, to, err)
		}
		if err := ix.checkpoints.SetCheckpoint(ctx, checkpointIndexer, to); err != nil {
			return err
		}
		if n > 0 {
			ix.logger.Info("indexed chain events",
				slog.Uint64("from_block", from),
				slog.Uint64("to_block", to),
				slog.Int("events", n),
			)
		}
		from = to + 1
	}
	return nil
}

// applyRange mirrors every wager event in [from, to] and returns the count.
// Placements are applied before terminal events so a wager placed and settled
// within the same chunk ends up in its terminal state.
func (ix *Indexer) applyRange(ctx context.Context, from, to uint64) (int, error) {
	placed, err := ix.chain.FilterPlaced(ctx, from, &to)
	if err != nil {
		return 0, err
	}
	for _, ev := range placed {
		if err := ix.index.Upsert(ctx, wagerFromPlaced(ev, ix.window)); err != nil {
			return 0, err
		}
	}

	resolved, err := ix.chain.FilterResolved(ctx, from, &to)
	if err != nil {
		return 0, err
	}
	cancelled, err := ix.chain.FilterCancelled(ctx, from, &to)
	if err != nil {
		return 0, err
	}

	for _, ev := range append(resolved, cancelled...) {
		err := ix.index.MarkSettled(ctx, ev.WagerID, ev.Status, ev.ActualValue, ev.Payout)
		if err != nil {
			return 0, err
		}
	}

	return len(placed) + len(resolved) + len(cancelled), nil
}

// wagerFromPlaced rebuilds the mirror row from a BetPlaced event. The event
// carries the resolution deadline rather than the placement time, so PlacedAt
// is recovered by subtracting the fixed resolution window.
func wagerFromPlaced(ev evm.PlacedEvent, window time.Duration) domain.Wager {
	return domain.Wager{
		ID:             ev.WagerID,
		Bettor:         ev.Bettor,
		SubjectFID:     ev.SubjectFID,
		Metric:         ev.Metric,
		PredictedValue: ev.PredictedValue,
		Stake:          ev.Stake,
		PlacedAt:       ev.ResolvesAt.Add(-window),
		ResolvesAt:     ev.ResolvesAt,
		Status:         domain.StatusActive,
	}
}
