package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castmarket/castmarket/internal/notify"
	"github.com/castmarket/castmarket/internal/oracle"
	"github.com/castmarket/castmarket/internal/pipeline"
	"github.com/castmarket/castmarket/internal/server"
	"github.com/castmarket/castmarket/internal/server/handler"
	"github.com/castmarket/castmarket/internal/server/ws"
	"github.com/castmarket/castmarket/internal/service"
)

// shutdownGrace bounds how long in-flight HTTP requests may run after the
// context is cancelled.
const shutdownGrace = 10 * time.Second

// ServerMode runs the HTTP API and WebSocket hub. Wagers are placed through
// the API; resolutions happen only when an operator calls the resolve
// endpoints.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	o, err := a.buildOracle(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, o)
	a.startNotifyListener(ctx, g, deps)
	return g.Wait()
}

// OracleMode runs the resolution poller without the HTTP surface. Due wagers
// are discovered from the index and settled automatically.
func (a *App) OracleMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting oracle mode")

	o, err := a.buildOracle(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startPoller(ctx, g, deps, o)
	a.startNotifyListener(ctx, g, deps)
	return g.Wait()
}

// IndexerMode runs only the chain-event pipeline: log indexing and, when
// enabled, cold-storage archival. No signing key is needed.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting indexer mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startPipeline(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: HTTP API, resolution poller, and pipeline.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	o, err := a.buildOracle(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, o)
	a.startPoller(ctx, g, deps, o)
	if a.cfg.Pipeline.Enabled {
		a.startPipeline(ctx, g, deps)
	}
	a.startNotifyListener(ctx, g, deps)
	return g.Wait()
}

// buildOracle assembles the resolution oracle from the wired dependencies.
func (a *App) buildOracle(deps *Dependencies) (*oracle.Oracle, error) {
	o, err := oracle.New(oracle.Deps{
		Engine:         deps.Engine,
		Ledger:         deps.Ledger,
		Stats:          deps.Stats,
		Index:          deps.Index,
		Locks:          deps.Locks,
		Audit:          deps.Audit,
		Bus:            deps.Bus,
		Metrics:        deps.Metrics,
		OperatorSecret: a.cfg.Oracle.OperatorSecret,
		Logger:         a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: oracle: %w", err)
	}
	return o, nil
}

// startServer adds the HTTP server, its shutdown watcher, and the WebSocket
// hub to the errgroup.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, o *oracle.Oracle) {
	minStake, maxStake := a.cfg.StakeBounds()
	wagerSvc := service.NewWagerService(
		deps.Engine, deps.Ledger, deps.Index, deps.Users, deps.Bus,
		minStake, maxStake, a.logger,
	)

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:  handler.NewHealthHandler(a.logger),
			Wagers:  handler.NewWagerHandler(wagerSvc, a.logger),
			Oracle:  handler.NewOracleHandler(o, a.logger),
			Stats:   handler.NewStatsHandler(deps.Stats, a.logger),
			Metrics: deps.Metrics.Handler(),
		},
		hub,
		a.logger,
	)

	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("ws hub: %w", err)
	})

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startPoller adds the automatic resolution loop to the errgroup.
func (a *App) startPoller(ctx context.Context, g *errgroup.Group, deps *Dependencies, o *oracle.Oracle) {
	poller := oracle.NewPoller(
		o,
		a.cfg.Oracle.OperatorSecret,
		a.cfg.Oracle.PollInterval.Duration,
		a.cfg.Oracle.BatchLimit,
		a.cfg.Oracle.Concurrency,
		deps.Notifier,
		a.logger,
	)
	g.Go(func() error {
		err := poller.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("oracle poller: %w", err)
	})
}

// startPipeline adds the indexer (and archiver, when configured) to the
// errgroup.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	indexer := pipeline.NewIndexer(
		deps.Ledger,
		deps.Index,
		deps.Checkpoints,
		a.cfg.Ledger.DeployBlock,
		a.cfg.Pipeline.IndexBlockChunk,
		a.cfg.Market.ResolutionWindow.Duration,
		a.logger,
	)

	var archiver *pipeline.Archiver
	if a.cfg.Pipeline.ArchiveEnabled && deps.BlobWriter != nil {
		archiver = pipeline.NewArchiver(
			deps.Index,
			deps.BlobWriter,
			deps.Checkpoints,
			a.cfg.Pipeline.ArchiveBatchSize,
			a.logger,
		)
	}

	orch := pipeline.NewOrchestrator(
		indexer,
		archiver,
		a.cfg.Pipeline.IndexInterval.Duration,
		a.cfg.Pipeline.ArchiveInterval.Duration,
		a.logger,
	)
	g.Go(func() error {
		return orch.Run(ctx)
	})
}

// startNotifyListener bridges signal-bus events to the operator notification
// channels.
func (a *App) startNotifyListener(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	listener := notify.NewListener(deps.Bus, deps.Notifier, a.logger)
	g.Go(func() error {
		err := listener.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("notify listener: %w", err)
	})
}
