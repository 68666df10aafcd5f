package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/domain"
)

// retryLockKey serializes retry batches across worker processes.
const retryLockKey = "onchain_retry"

// BatchLocker serializes batch processing across processes. Acquire returns
// domain.ErrLockHeld when another worker owns the batch.
type BatchLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Alerter raises operator notifications for events that need a human.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RetryConfig tunes the retry worker.
type RetryConfig struct {
	// Interval between drain passes. Defaults to 30s.
	Interval time.Duration
	// MaxAttempts caps total submissions per entry, inline attempt
	// included. Defaults to 5.
	MaxAttempts int
	// BatchSize caps entries per pass. Defaults to 50.
	BatchSize int
}

func (c *RetryConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
}

// RetryWorker drains the pending on-chain queue on a fixed interval. Entries
// that exhaust MaxAttempts stay in the store as terminal records and are
// escalated exactly once, on the attempt that exhausts them.
type RetryWorker struct {
	pending   domain.PendingOnchainStore
	submitter domain.ChainSubmitter
	audit     *audit.Logger
	locker    BatchLocker // optional
	limiter   SubmitLimiter
	alerter   Alerter // optional
	cfg       RetryConfig
	logger    *slog.Logger
}

// NewRetryWorker creates a RetryWorker. locker, limiter, and alerter may be
// nil.
func NewRetryWorker(
	pending domain.PendingOnchainStore,
	submitter domain.ChainSubmitter,
	auditLog *audit.Logger,
	locker BatchLocker,
	limiter SubmitLimiter,
	alerter Alerter,
	cfg RetryConfig,
	logger *slog.Logger,
) *RetryWorker {
	cfg.applyDefaults()
	return &RetryWorker{
		pending:   pending,
		submitter: submitter,
		audit:     auditLog,
		locker:    locker,
		limiter:   limiter,
		alerter:   alerter,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "onchain_retry")),
	}
}

// Run drains the queue every Interval until the context is cancelled. It
// returns the context error on shutdown.
func (w *RetryWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.InfoContext(ctx, "retry worker started",
		slog.Duration("interval", w.cfg.Interval),
		slog.Int("max_attempts", w.cfg.MaxAttempts),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "retry worker stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessBatch(ctx); err != nil {
				w.logger.ErrorContext(ctx, "retry pass failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ProcessBatch runs one drain pass. When a locker is configured and another
// worker holds the batch lock, the pass is skipped without error.
func (w *RetryWorker) ProcessBatch(ctx context.Context) error {
	if w.locker != nil {
		unlock, err := w.locker.Acquire(ctx, retryLockKey, 2*w.cfg.Interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				w.logger.DebugContext(ctx, "retry batch held by another worker")
				return nil
			}
			return fmt.Errorf("ledger: acquire retry lock: %w", err)
		}
		defer unlock()
	}

	due, err := w.pending.ListDue(ctx, w.cfg.MaxAttempts, w.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("ledger: list due retries: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	w.logger.InfoContext(ctx, "draining retry queue", slog.Int("due", len(due)))

	for _, op := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.processOne(ctx, op)
	}
	return nil
}

// processOne retries a single queued submission. Store failures are logged
// and left for the next pass.
func (w *RetryWorker) processOne(ctx context.Context, op domain.PendingOnchainOperation) {
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, "onchain_submit"); err != nil {
			w.logger.WarnContext(ctx, "rate limit wait failed",
				slog.String("pending_id", op.ID),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	txID, err := w.submitter.Submit(ctx, op.PositionID, op.Kind, op.Payload)
	if err == nil {
		if delErr := w.pending.Delete(ctx, op.ID); delErr != nil {
			w.logger.ErrorContext(ctx, "delete drained entry failed",
				slog.String("pending_id", op.ID),
				slog.String("error", delErr.Error()),
			)
			return
		}
		w.logger.InfoContext(ctx, "queued onchain event recorded",
			slog.String("pending_id", op.ID),
			slog.String("position_id", op.PositionID),
			slog.String("tx_id", txID),
			slog.Int("attempts", op.Attempts+1),
		)
		w.audit.Success(ctx, domain.AuditOnchainRecorded, "position", op.PositionID, map[string]any{
			"kind":     string(op.Kind),
			"txId":     txID,
			"attempts": op.Attempts + 1,
			"retried":  true,
		})
		return
	}

	op.Attempts++
	op.LastError = err.Error()
	op.LastAttemptAt = time.Now().UTC()
	if updErr := w.pending.Update(ctx, op); updErr != nil {
		w.logger.ErrorContext(ctx, "update retry entry failed",
			slog.String("pending_id", op.ID),
			slog.String("error", updErr.Error()),
		)
		return
	}

	if op.Attempts >= w.cfg.MaxAttempts {
		w.escalate(ctx, op, err)
		return
	}

	w.logger.WarnContext(ctx, "onchain retry failed",
		slog.String("pending_id", op.ID),
		slog.String("position_id", op.PositionID),
		slog.Int("attempts", op.Attempts),
		slog.Int("max_attempts", w.cfg.MaxAttempts),
		slog.String("error", err.Error()),
	)
}

// escalate records exhaustion of an entry's attempt budget. The entry itself
// is retained for manual inspection and replay.
func (w *RetryWorker) escalate(ctx context.Context, op domain.PendingOnchainOperation, submitErr error) {
	w.logger.ErrorContext(ctx, "onchain retries exhausted",
		slog.String("pending_id", op.ID),
		slog.String("position_id", op.PositionID),
		slog.String("kind", string(op.Kind)),
		slog.Int("attempts", op.Attempts),
		slog.String("error", submitErr.Error()),
	)
	w.audit.Failure(ctx, domain.AuditOnchainRetryExhausted, "position", op.PositionID,
		fmt.Errorf("ledger: %s exhausted after %d attempts: %w", op.Kind, op.Attempts, submitErr))

	if w.alerter != nil {
		title := "On-chain mirror retries exhausted"
		msg := fmt.Sprintf("position %s: %s failed %d times, last error: %v",
			op.PositionID, op.Kind, op.Attempts, submitErr)
		if err := w.alerter.Notify(ctx, "onchain_retry_exhausted", title, msg); err != nil {
			w.logger.ErrorContext(ctx, "exhaustion alert failed",
				slog.String("pending_id", op.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}
