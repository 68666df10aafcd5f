// Package config defines the top-level configuration for the escrow core
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ESCROW_* environment
// variables.
type Config struct {
	Storage StorageConfig `toml:"storage"`
	Onchain OnchainConfig `toml:"onchain"`
	Redis   RedisConfig   `toml:"redis"`
	Archive ArchiveConfig `toml:"archive"`
	Notify  NotifyConfig  `toml:"notify"`
	Mode    string        `toml:"mode"`
	LogLevel string       `toml:"log_level"`
}

// StorageConfig selects the position/ledger backend and holds PostgreSQL
// connection parameters for the durable backend.
type StorageConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `toml:"backend"`

	Postgres PostgresConfig `toml:"postgres"`
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

// OnchainConfig holds the chain adapter credentials and the retry-queue
// tuning for the on-chain mirror.
type OnchainConfig struct {
	Enabled          bool   `toml:"enabled"`
	RPCURL           string `toml:"rpc_url"`
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	ContractAddress  string `toml:"contract_address"`
	ChainID          int64  `toml:"chain_id"`

	// FailureMode is "queue" (park failed submissions for retry) or "fail"
	// (surface the submission error to the caller).
	FailureMode string `toml:"failure_mode"`

	MaxAttempts   int      `toml:"max_attempts"`
	RetryInterval duration `toml:"retry_interval"`
	BatchLimit    int      `toml:"batch_limit"`

	// RateLimit caps chain submissions per RateWindow across all workers.
	// Zero disables pacing. Requires Redis.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// RedisConfig holds Redis connection parameters. Redis is optional and only
// used for the retry-drain lock and submission pacing.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig holds the compliance-export schedule and the S3-compatible
// object-storage parameters.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Prefix   string   `toml:"prefix"`

	S3 S3Config `toml:"s3"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration: in-memory storage, mirroring
// disabled, no Redis, no archival. A file-less Load still yields a runnable
// single-process core.
func Defaults() Config {
	return Config{
		Storage: StorageConfig{
			Backend: "memory",
			Postgres: PostgresConfig{
				Host:          "localhost",
				Port:          5432,
				Database:      "escrow",
				User:          "postgres",
				SSLMode:       "disable",
				PoolMaxConns:  10,
				PoolMinConns:  2,
				RunMigrations: true,
			},
		},
		Onchain: OnchainConfig{
			Enabled:       false,
			FailureMode:   "queue",
			MaxAttempts:   5,
			RetryInterval: duration{30 * time.Second},
			BatchLimit:    50,
			RateWindow:    duration{time.Second},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{time.Hour},
			Prefix:   "exports",
			S3: S3Config{
				Endpoint:       "http://localhost:9000",
				Region:         "us-east-1",
				Bucket:         "escrow-compliance",
				ForcePathStyle: true,
			},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"serve":   true,
	"worker":  true,
	"migrate": true,
	"archive": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for internal consistency. It collects
// all problems and returns them as one error so operators can fix a broken
// file in a single pass.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, worker, migrate, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.Storage.Backend {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}
	if c.Storage.Backend == "postgres" && c.Storage.Postgres.DSN == "" {
		if c.Storage.Postgres.Host == "" {
			errs = append(errs, "storage.postgres: either dsn or host must be set")
		}
		if c.Storage.Postgres.Database == "" {
			errs = append(errs, "storage.postgres: database must not be empty")
		}
	}

	if c.Onchain.Enabled {
		if c.Onchain.RPCURL == "" {
			errs = append(errs, "onchain: rpc_url must be set when enabled")
		}
		if c.Onchain.ContractAddress == "" {
			errs = append(errs, "onchain: contract_address must be set when enabled")
		}
		if c.Onchain.ChainID <= 0 {
			errs = append(errs, "onchain: chain_id must be positive")
		}
		if c.Onchain.PrivateKey == "" && c.Onchain.EncryptedKeyPath == "" {
			errs = append(errs, "onchain: either private_key or encrypted_key_path must be set")
		}
		if c.Onchain.EncryptedKeyPath != "" && c.Onchain.KeyPassword == "" {
			errs = append(errs, "onchain: key_password is required when encrypted_key_path is set")
		}
		if c.Onchain.FailureMode != "queue" && c.Onchain.FailureMode != "fail" {
			errs = append(errs, fmt.Sprintf("onchain: failure_mode must be \"queue\" or \"fail\", got %q", c.Onchain.FailureMode))
		}
		if c.Onchain.MaxAttempts <= 0 {
			errs = append(errs, "onchain: max_attempts must be positive")
		}
		if c.Onchain.RateLimit > 0 && !c.Redis.Enabled {
			errs = append(errs, "onchain: rate_limit requires redis to be enabled")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must be set when enabled")
	}

	if c.Archive.Enabled {
		if c.Archive.S3.Bucket == "" {
			errs = append(errs, "archive.s3: bucket must be set when archival is enabled")
		}
		if c.Archive.S3.Region == "" {
			errs = append(errs, "archive.s3: region must be set when archival is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
