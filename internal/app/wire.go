package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/escrowgrid/escrowcore/internal/blob/s3"
	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/cache/redis"
	"github.com/escrowgrid/escrowcore/internal/chain"
	"github.com/escrowgrid/escrowcore/internal/config"
	"github.com/escrowgrid/escrowcore/internal/crypto"
	"github.com/escrowgrid/escrowcore/internal/domain"
	"github.com/escrowgrid/escrowcore/internal/ledger"
	"github.com/escrowgrid/escrowcore/internal/notify"
	"github.com/escrowgrid/escrowcore/internal/service"
	"github.com/escrowgrid/escrowcore/internal/store/memory"
	"github.com/escrowgrid/escrowcore/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore    domain.PositionStore
	PolicyStore      domain.PolicyStore
	InstitutionStore domain.InstitutionStore
	AuditStore       domain.AuditStore
	PendingStore     domain.PendingOnchainStore

	// Ledger (primary backend composed with the optional on-chain mirror)
	Ledger domain.Ledger

	// Services
	Positions    *service.PositionService
	Policies     *service.PolicyService
	Institutions *service.InstitutionService
	Onchain      *service.OnchainService

	// Background workers (nil when the feature is disabled)
	RetryWorker *ledger.RetryWorker
	Exporter    *s3blob.Exporter

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Storage backend ---
	switch cfg.Storage.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Storage.Postgres.DSN,
			Host:     cfg.Storage.Postgres.Host,
			Port:     cfg.Storage.Postgres.Port,
			Database: cfg.Storage.Postgres.Database,
			User:     cfg.Storage.Postgres.User,
			Password: cfg.Storage.Postgres.Password,
			SSLMode:  cfg.Storage.Postgres.SSLMode,
			MaxConns: cfg.Storage.Postgres.PoolMaxConns,
			MinConns: cfg.Storage.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Storage.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.PolicyStore = postgres.NewPolicyStore(pool)
		deps.InstitutionStore = postgres.NewInstitutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.PendingStore = postgres.NewPendingOnchainStore(pool)
		deps.Ledger = postgres.NewLedger(pool)

	case "memory":
		deps.PositionStore = memory.NewPositionStore()
		deps.PolicyStore = memory.NewPolicyStore()
		deps.InstitutionStore = memory.NewInstitutionStore()
		deps.AuditStore = memory.NewAuditStore()
		deps.PendingStore = memory.NewPendingOnchainStore()
		deps.Ledger = memory.NewLedger()

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown storage backend %q", cfg.Storage.Backend)
	}

	auditLog := audit.NewLogger(deps.AuditStore, logger)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Redis coordination (optional) ---
	var locker ledger.BatchLocker
	var limiter ledger.SubmitLimiter
	if cfg.Redis.Enabled {
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

		locker = redis.NewLockManager(redisClient)
		if cfg.Onchain.RateLimit > 0 {
			limiter = redis.NewRateLimiter(redisClient, cfg.Onchain.RateLimit, cfg.Onchain.RateWindow.Duration)
		}
	}

	// --- On-chain mirror (optional) ---
	baseLedger := deps.Ledger
	if cfg.Onchain.Enabled {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Onchain.PrivateKey,
			EncryptedKeyPath: cfg.Onchain.EncryptedKeyPath,
			KeyPassword:      cfg.Onchain.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load signer key: %w", err)
		}

		submitter, err := chain.NewEthereumSubmitter(ctx, chain.Config{
			RPCURL:          cfg.Onchain.RPCURL,
			PrivateKeyHex:   keyHex,
			ContractAddress: cfg.Onchain.ContractAddress,
			ChainID:         cfg.Onchain.ChainID,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain submitter: %w", err)
		}
		closers = append(closers, submitter.Close)

		mirror := ledger.NewMirror(
			submitter,
			deps.InstitutionStore,
			deps.PendingStore,
			auditLog,
			limiter,
			ledger.MirrorConfig{
				FailureMode: ledger.FailureMode(cfg.Onchain.FailureMode),
				ChainID:     cfg.Onchain.ChainID,
			},
			logger,
		)
		deps.Ledger = ledger.NewComposite(baseLedger, mirror)

		deps.RetryWorker = ledger.NewRetryWorker(
			deps.PendingStore,
			submitter,
			auditLog,
			locker,
			limiter,
			deps.Notifier,
			ledger.RetryConfig{
				Interval:    cfg.Onchain.RetryInterval.Duration,
				MaxAttempts: cfg.Onchain.MaxAttempts,
				BatchSize:   cfg.Onchain.BatchLimit,
			},
			logger,
		)
	}

	// --- Compliance archival (optional) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.S3.Endpoint,
			Region:         cfg.Archive.S3.Region,
			Bucket:         cfg.Archive.S3.Bucket,
			AccessKey:      cfg.Archive.S3.AccessKey,
			SecretKey:      cfg.Archive.S3.SecretKey,
			UseSSL:         cfg.Archive.S3.UseSSL,
			ForcePathStyle: cfg.Archive.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		// Exports read the primary backend directly; the mirror adds
		// nothing a compliance snapshot needs.
		deps.Exporter = s3blob.NewExporter(
			s3blob.NewWriter(s3Client),
			baseLedger,
			deps.AuditStore,
			cfg.Archive.Prefix,
			logger,
		)
	}

	// --- Services ---
	deps.Positions = service.NewPositionService(
		deps.PositionStore, deps.InstitutionStore, deps.PolicyStore, deps.Ledger, auditLog, logger,
	)
	deps.Policies = service.NewPolicyService(deps.PolicyStore, deps.InstitutionStore, auditLog, logger)
	deps.Institutions = service.NewInstitutionService(deps.InstitutionStore, auditLog, logger)
	deps.Onchain = service.NewOnchainService(deps.PendingStore)

	return deps, cleanup, nil
}
