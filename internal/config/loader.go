package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CASTMARKET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CASTMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "CASTMARKET_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.ContractAddress, "CASTMARKET_LEDGER_CONTRACT_ADDRESS")
	setInt64(&cfg.Ledger.ChainID, "CASTMARKET_LEDGER_CHAIN_ID")
	setUint64(&cfg.Ledger.DeployBlock, "CASTMARKET_LEDGER_DEPLOY_BLOCK")
	setDuration(&cfg.Ledger.CallTimeout, "CASTMARKET_LEDGER_CALL_TIMEOUT")
	setStr(&cfg.Ledger.PrivateKey, "CASTMARKET_LEDGER_PRIVATE_KEY")
	setStr(&cfg.Ledger.EncryptedKeyPath, "CASTMARKET_LEDGER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Ledger.KeyPassword, "CASTMARKET_LEDGER_KEY_PASSWORD")

	// ── Neynar ──
	setStr(&cfg.Neynar.APIKey, "CASTMARKET_NEYNAR_API_KEY")
	setStr(&cfg.Neynar.BaseURL, "CASTMARKET_NEYNAR_BASE_URL")
	setDuration(&cfg.Neynar.CacheTTL, "CASTMARKET_NEYNAR_CACHE_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CASTMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CASTMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CASTMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CASTMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CASTMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CASTMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CASTMARKET_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CASTMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CASTMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CASTMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CASTMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CASTMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CASTMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CASTMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CASTMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CASTMARKET_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "CASTMARKET_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CASTMARKET_S3_REGION")
	setStr(&cfg.S3.Bucket, "CASTMARKET_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CASTMARKET_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CASTMARKET_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CASTMARKET_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CASTMARKET_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.OperatorSecret, "CASTMARKET_ORACLE_OPERATOR_SECRET")
	setDuration(&cfg.Oracle.PollInterval, "CASTMARKET_ORACLE_POLL_INTERVAL")
	setInt(&cfg.Oracle.BatchLimit, "CASTMARKET_ORACLE_BATCH_LIMIT")
	setInt(&cfg.Oracle.Concurrency, "CASTMARKET_ORACLE_CONCURRENCY")
	setDuration(&cfg.Oracle.LockTTL, "CASTMARKET_ORACLE_LOCK_TTL")

	// ── Market ──
	setStr(&cfg.Market.FeeRate, "CASTMARKET_MARKET_FEE_RATE")
	setDuration(&cfg.Market.ResolutionWindow, "CASTMARKET_MARKET_RESOLUTION_WINDOW")
	setStr(&cfg.Market.MinStake, "CASTMARKET_MARKET_MIN_STAKE")
	setStr(&cfg.Market.MaxStake, "CASTMARKET_MARKET_MAX_STAKE")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "CASTMARKET_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.IndexInterval, "CASTMARKET_PIPELINE_INDEX_INTERVAL")
	setUint64(&cfg.Pipeline.IndexBlockChunk, "CASTMARKET_PIPELINE_INDEX_BLOCK_CHUNK")
	setBool(&cfg.Pipeline.ArchiveEnabled, "CASTMARKET_PIPELINE_ARCHIVE_ENABLED")
	setDuration(&cfg.Pipeline.ArchiveInterval, "CASTMARKET_PIPELINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Pipeline.ArchiveBatchSize, "CASTMARKET_PIPELINE_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "CASTMARKET_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "CASTMARKET_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "CASTMARKET_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "CASTMARKET_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CASTMARKET_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CASTMARKET_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CASTMARKET_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CASTMARKET_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CASTMARKET_MODE")
	setStr(&cfg.LogLevel, "CASTMARKET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
