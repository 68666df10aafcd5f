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
// built-in defaults, applies ESCROW_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment only. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ESCROW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Backend, "ESCROW_STORAGE_BACKEND")
	setStr(&cfg.Storage.Postgres.DSN, "ESCROW_POSTGRES_DSN")
	setStr(&cfg.Storage.Postgres.Host, "ESCROW_POSTGRES_HOST")
	setInt(&cfg.Storage.Postgres.Port, "ESCROW_POSTGRES_PORT")
	setStr(&cfg.Storage.Postgres.Database, "ESCROW_POSTGRES_DATABASE")
	setStr(&cfg.Storage.Postgres.User, "ESCROW_POSTGRES_USER")
	setStr(&cfg.Storage.Postgres.Password, "ESCROW_POSTGRES_PASSWORD")
	setStr(&cfg.Storage.Postgres.SSLMode, "ESCROW_POSTGRES_SSL_MODE")
	setInt(&cfg.Storage.Postgres.PoolMaxConns, "ESCROW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Storage.Postgres.PoolMinConns, "ESCROW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Storage.Postgres.RunMigrations, "ESCROW_POSTGRES_RUN_MIGRATIONS")

	// ── Onchain ──
	setBool(&cfg.Onchain.Enabled, "ESCROW_ONCHAIN_ENABLED")
	setStr(&cfg.Onchain.RPCURL, "ESCROW_ONCHAIN_RPC_URL")
	setStr(&cfg.Onchain.PrivateKey, "ESCROW_ONCHAIN_PRIVATE_KEY")
	setStr(&cfg.Onchain.EncryptedKeyPath, "ESCROW_ONCHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Onchain.KeyPassword, "ESCROW_ONCHAIN_KEY_PASSWORD")
	setStr(&cfg.Onchain.ContractAddress, "ESCROW_ONCHAIN_CONTRACT_ADDRESS")
	setInt64(&cfg.Onchain.ChainID, "ESCROW_ONCHAIN_CHAIN_ID")
	setStr(&cfg.Onchain.FailureMode, "ESCROW_ONCHAIN_FAILURE_MODE")
	setInt(&cfg.Onchain.MaxAttempts, "ESCROW_ONCHAIN_MAX_ATTEMPTS")
	setDuration(&cfg.Onchain.RetryInterval, "ESCROW_ONCHAIN_RETRY_INTERVAL")
	setInt(&cfg.Onchain.BatchLimit, "ESCROW_ONCHAIN_BATCH_LIMIT")
	setInt(&cfg.Onchain.RateLimit, "ESCROW_ONCHAIN_RATE_LIMIT")
	setDuration(&cfg.Onchain.RateWindow, "ESCROW_ONCHAIN_RATE_WINDOW")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ESCROW_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ESCROW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROW_REDIS_TLS_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ESCROW_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ESCROW_ARCHIVE_INTERVAL")
	setStr(&cfg.Archive.Prefix, "ESCROW_ARCHIVE_PREFIX")
	setStr(&cfg.Archive.S3.Endpoint, "ESCROW_S3_ENDPOINT")
	setStr(&cfg.Archive.S3.Region, "ESCROW_S3_REGION")
	setStr(&cfg.Archive.S3.Bucket, "ESCROW_S3_BUCKET")
	setStr(&cfg.Archive.S3.AccessKey, "ESCROW_S3_ACCESS_KEY")
	setStr(&cfg.Archive.S3.SecretKey, "ESCROW_S3_SECRET_KEY")
	setBool(&cfg.Archive.S3.UseSSL, "ESCROW_S3_USE_SSL")
	setBool(&cfg.Archive.S3.ForcePathStyle, "ESCROW_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESCROW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ESCROW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ESCROW_MODE")
	setStr(&cfg.LogLevel, "ESCROW_LOG_LEVEL")
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
