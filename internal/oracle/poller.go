package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/notify"
)

// Poller is the periodic driver for the oracle: on every tick it lists the
// wagers due for resolution and resolves them concurrently. Different wager
// IDs have no ordering constraint between them; per-ID safety comes from the
// ledger's check-and-set, so a wager that fails transiently is simply picked
// up again on a later tick.
type Poller struct {
	oracle      *Oracle
	credential  string
	interval    time.Duration
	batchLimit  int
	concurrency int
	notifier    *notify.Notifier
	log         *slog.Logger
}

// NewPoller creates a Poller driving the given oracle with the operator
// credential. notifier may be nil.
func NewPoller(o *Oracle, credential string, interval time.Duration, batchLimit, concurrency int, notifier *notify.Notifier, logger *slog.Logger) *Poller {
	if batchLimit <= 0 {
		batchLimit = 100
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Poller{
		oracle:      o,
		credential:  credential,
		interval:    interval,
		batchLimit:  batchLimit,
		concurrency: concurrency,
		notifier:    notifier,
		log:         logger.With(slog.String("component", "oracle_poller")),
	}
}

// Run blocks until the context is cancelled, polling at the configured
// interval. The first sweep runs immediately on start.
func (p *Poller) Run(ctx context.Context) error {
	p.log.InfoContext(ctx, "oracle poller starting",
		slog.Duration("interval", p.interval),
		slog.Int("batch_limit", p.batchLimit),
		slog.Int("concurrency", p.concurrency),
	)

	if err := p.sweep(ctx); err != nil && ctx.Err() == nil {
		p.log.ErrorContext(ctx, "resolution sweep failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("oracle poller stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := p.sweep(ctx); err != nil && ctx.Err() == nil {
				p.log.ErrorContext(ctx, "resolution sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// sweep resolves every currently eligible wager. Individual failures do not
// abort the sweep; they are classified and either left for the next tick
// (transient) or escalated to the operator (permanent).
func (p *Poller) sweep(ctx context.Context) error {
	ids, err := p.oracle.ListEligible(ctx, time.Now().UTC(), p.batchLimit)
	if err != nil {
		return fmt.Errorf("poller: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	p.log.InfoContext(ctx, "resolving eligible wagers", slog.Int("count", len(ids)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			res, err := p.oracle.Resolve(ctx, id, p.credential)
			if err != nil {
				p.handleResolveError(ctx, id, err)
				return nil // sweep continues regardless
			}
			p.log.InfoContext(ctx, "resolved wager",
				slog.Uint64("wager_id", uint64(id)),
				slog.String("status", res.Status.String()),
			)
			return nil
		})
	}

	return g.Wait()
}

func (p *Poller) handleResolveError(ctx context.Context, id domain.WagerID, err error) {
	switch {
	case errors.Is(err, domain.ErrAlreadySettled):
		// Another resolver won the race; the outcome is recorded, nothing
		// to do.
		p.log.DebugContext(ctx, "wager already settled",
			slog.Uint64("wager_id", uint64(id)),
		)
	case domain.Retryable(err):
		p.log.WarnContext(ctx, "transient resolution failure, will retry",
			slog.Uint64("wager_id", uint64(id)),
			slog.String("error", err.Error()),
		)
	default:
		p.log.ErrorContext(ctx, "permanent resolution failure",
			slog.Uint64("wager_id", uint64(id)),
			slog.String("error", err.Error()),
		)
		if p.notifier != nil {
			_ = p.notifier.Notify(ctx, domain.EventOracleError,
				"Wager resolution failed",
				fmt.Sprintf("Wager %d cannot be resolved automatically: %v", id, err),
			)
		}
	}
}
