// Package config defines the top-level configuration for the cast market
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by CASTMARKET_* environment
// variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Neynar   NeynarConfig   `toml:"neynar"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Oracle   OracleConfig   `toml:"oracle"`
	Market   MarketConfig   `toml:"market"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the settlement chain endpoint, contract parameters, and
// operator key material.
type LedgerConfig struct {
	RPCURL          string   `toml:"rpc_url"`
	ContractAddress string   `toml:"contract_address"`
	ChainID         int64    `toml:"chain_id"`
	DeployBlock     uint64   `toml:"deploy_block"`
	CallTimeout     duration `toml:"call_timeout"`

	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// NeynarConfig holds the Farcaster stats provider parameters.
type NeynarConfig struct {
	APIKey   string   `toml:"api_key"`
	BaseURL  string   `toml:"base_url"`
	CacheTTL duration `toml:"cache_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// OracleConfig holds resolution oracle parameters.
type OracleConfig struct {
	// OperatorSecret authorizes resolve and cancel calls. Required for the
	// oracle and full modes.
	OperatorSecret string   `toml:"operator_secret"`
	PollInterval   duration `toml:"poll_interval"`
	BatchLimit     int      `toml:"batch_limit"`
	Concurrency    int      `toml:"concurrency"`
	LockTTL        duration `toml:"lock_ttl"`
}

// MarketConfig holds wager economics. Monetary bounds are decimal strings in
// base units of the settlement currency.
type MarketConfig struct {
	// FeeRate is the protocol's cut of a winning payout, e.g. "0.015".
	FeeRate string `toml:"fee_rate"`
	// ResolutionWindow is how long after placement a wager becomes resolvable.
	ResolutionWindow duration `toml:"resolution_window"`
	MinStake         string   `toml:"min_stake"`
	MaxStake         string   `toml:"max_stake"`
}

// PipelineConfig holds chain indexer and archiver parameters.
type PipelineConfig struct {
	Enabled          bool     `toml:"enabled"`
	IndexInterval    duration `toml:"index_interval"`
	IndexBlockChunk  uint64   `toml:"index_block_chunk"`
	ArchiveEnabled   bool     `toml:"archive_enabled"`
	ArchiveInterval  duration `toml:"archive_interval"`
	ArchiveBatchSize int      `toml:"archive_batch_size"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:      "https://mainnet.base.org",
			ChainID:     8453,
			CallTimeout: duration{30 * time.Second},
		},
		Neynar: NeynarConfig{
			BaseURL:  "https://api.neynar.com/v2",
			CacheTTL: duration{60 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "castmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "castmarket-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Oracle: OracleConfig{
			PollInterval: duration{time.Minute},
			BatchLimit:   100,
			Concurrency:  4,
			LockTTL:      duration{2 * time.Minute},
		},
		Market: MarketConfig{
			FeeRate:          "0.015",
			ResolutionWindow: duration{24 * time.Hour},
			MinStake:         "1000000",     // 1 USDC
			MaxStake:         "100000000000", // 100,000 USDC
		},
		Pipeline: PipelineConfig{
			Enabled:          true,
			IndexInterval:    duration{15 * time.Second},
			IndexBlockChunk:  5000,
			ArchiveEnabled:   false,
			ArchiveInterval:  duration{24 * time.Hour},
			ArchiveBatchSize: 500,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"wager_placed", "wager_settled", "wager_cancelled", "oracle_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"oracle":  true,
	"indexer": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, oracle, indexer, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if c.Ledger.ContractAddress == "" {
		errs = append(errs, "ledger: contract_address must not be empty")
	}
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, "ledger: chain_id must be positive")
	}
	// Placements and settlements are both signed by the operator key, so a
	// key source is mandatory in every mode that writes to the ledger. Only
	// the indexer is a pure reader.
	needsKey := mode == "server" || mode == "oracle" || mode == "full"
	if needsKey {
		if c.Ledger.PrivateKey == "" && c.Ledger.EncryptedKeyPath == "" {
			errs = append(errs, "ledger: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Ledger.EncryptedKeyPath != "" && c.Ledger.KeyPassword == "" {
			errs = append(errs, "ledger: key_password is required when encrypted_key_path is set")
		}
	}

	// Neynar
	if c.Neynar.APIKey == "" && (mode == "oracle" || mode == "full" || mode == "server") {
		errs = append(errs, "neynar: api_key must not be empty")
	}
	if c.Neynar.BaseURL == "" {
		errs = append(errs, "neynar: base_url must not be empty")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only required when archiving is on.
	if c.Pipeline.ArchiveEnabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
	}

	// Oracle. The HTTP server exposes the operator resolve endpoints, so it
	// needs the shared secret too; only the indexer runs without one.
	if mode == "server" || mode == "oracle" || mode == "full" {
		if c.Oracle.OperatorSecret == "" {
			errs = append(errs, "oracle: operator_secret must not be empty for mode "+c.Mode)
		}
	}
	if c.Oracle.PollInterval.Duration <= 0 {
		errs = append(errs, "oracle: poll_interval must be > 0")
	}
	if c.Oracle.BatchLimit < 1 {
		errs = append(errs, "oracle: batch_limit must be >= 1")
	}
	if c.Oracle.Concurrency < 1 {
		errs = append(errs, "oracle: concurrency must be >= 1")
	}

	// Market
	if fee, err := decimal.NewFromString(c.Market.FeeRate); err != nil {
		errs = append(errs, fmt.Sprintf("market: fee_rate %q is not a valid decimal", c.Market.FeeRate))
	} else if fee.IsNegative() || fee.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("market: fee_rate must be in [0, 1), got %s", fee))
	}
	if c.Market.ResolutionWindow.Duration <= 0 {
		errs = append(errs, "market: resolution_window must be > 0")
	}
	minStake, minErr := decimal.NewFromString(c.Market.MinStake)
	if minErr != nil {
		errs = append(errs, fmt.Sprintf("market: min_stake %q is not a valid decimal", c.Market.MinStake))
	}
	maxStake, maxErr := decimal.NewFromString(c.Market.MaxStake)
	if maxErr != nil {
		errs = append(errs, fmt.Sprintf("market: max_stake %q is not a valid decimal", c.Market.MaxStake))
	}
	if minErr == nil && maxErr == nil && maxStake.LessThan(minStake) {
		errs = append(errs, "market: max_stake must not be less than min_stake")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// FeeRate returns the parsed fee rate. Call Validate first.
func (c *Config) FeeRate() decimal.Decimal {
	fee, _ := decimal.NewFromString(c.Market.FeeRate)
	return fee
}

// StakeBounds returns the parsed stake bounds. Call Validate first.
func (c *Config) StakeBounds() (min, max decimal.Decimal) {
	min, _ = decimal.NewFromString(c.Market.MinStake)
	max, _ = decimal.NewFromString(c.Market.MaxStake)
	return min, max
}
