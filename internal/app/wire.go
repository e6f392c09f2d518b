package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/castmarket/castmarket/internal/blob/s3"
	"github.com/castmarket/castmarket/internal/cache/redis"
	"github.com/castmarket/castmarket/internal/config"
	"github.com/castmarket/castmarket/internal/crypto"
	"github.com/castmarket/castmarket/internal/domain"
	"github.com/castmarket/castmarket/internal/ledger/evm"
	"github.com/castmarket/castmarket/internal/lifecycle"
	"github.com/castmarket/castmarket/internal/metrics"
	"github.com/castmarket/castmarket/internal/notify"
	"github.com/castmarket/castmarket/internal/platform/neynar"
	"github.com/castmarket/castmarket/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Ledger and market rules
	Ledger *evm.Gateway
	Engine *lifecycle.Engine

	// Stores
	Index       domain.WagerIndex
	Audit       domain.AuditStore
	Checkpoints domain.CheckpointStore

	// Caches and coordination
	Locks domain.LockManager
	Bus   domain.SignalBus

	// Stats provider
	Users *neynar.Client
	Stats *neynar.StatsAdapter

	// Cold storage; nil unless archiving is enabled.
	BlobWriter domain.BlobWriter

	// Observability and alerting
	Metrics  *metrics.OracleMetrics
	Notifier *notify.Notifier
}

// signsTransactions returns true for modes that write to the ledger and
// therefore need the operator key. The indexer only reads event logs.
func signsTransactions(mode string) bool {
	return mode != "indexer"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Metrics: metrics.New()}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Index = postgres.NewWagerIndexStore(pool)
	deps.Audit = postgres.NewAuditStore(pool)
	deps.Checkpoints = postgres.NewCheckpointStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Locks = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewSignalBus(redisClient)

	// --- Neynar stats provider ---
	if cfg.Neynar.APIKey != "" {
		deps.Users = neynar.NewClient(cfg.Neynar.BaseURL, cfg.Neynar.APIKey, 0)
		statsCache := redis.NewStatsCache(redisClient)
		deps.Stats = neynar.NewStatsAdapter(deps.Users, statsCache, deps.Metrics, logger)
	}

	// --- Ledger gateway ---
	key, operator, err := loadOperatorKey(cfg, mode)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	gateway, err := evm.New(ctx, evm.Config{
		RPCURL:          cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		ChainID:         cfg.Ledger.ChainID,
		DeployBlock:     cfg.Ledger.DeployBlock,
		CallTimeout:     cfg.Ledger.CallTimeout.Duration,
	}, key, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	closers = append(closers, gateway.Close)
	deps.Ledger = gateway
	if key != nil {
		logger.Info("operator key loaded", slog.String("address", operator))
	}

	// --- Market rules ---
	engine, err := lifecycle.New(cfg.FeeRate(), cfg.Market.ResolutionWindow.Duration)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: lifecycle: %w", err)
	}
	deps.Engine = engine

	// --- S3 cold storage ---
	if cfg.Pipeline.ArchiveEnabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.BlobWriter = s3blob.NewWriter(s3Client)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// loadOperatorKey resolves the operator signing key for modes that write to
// the ledger. The returned address is for logging only.
func loadOperatorKey(cfg *config.Config, mode string) (*ecdsa.PrivateKey, string, error) {
	if !signsTransactions(mode) {
		return nil, "", nil
	}

	k, addr, err := crypto.LoadSignerKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Ledger.PrivateKey,
		EncryptedKeyPath: cfg.Ledger.EncryptedKeyPath,
		KeyPassword:      cfg.Ledger.KeyPassword,
	})
	if err != nil {
		return nil, "", fmt.Errorf("wire: operator key: %w", err)
	}
	return k, addr.Hex(), nil
}
