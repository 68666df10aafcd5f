// Package ledger composes the durable event log with the best-effort
// on-chain mirror. The primary backend is authoritative; the mirror never
// blocks or fails an operation unless it is explicitly configured to.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/domain"
)

// FailureMode selects what happens when an inline chain submission fails.
type FailureMode string

const (
	// FailureModeQueue parks the failed payload on the retry queue and lets
	// the primary write stand. This is the default.
	FailureModeQueue FailureMode = "queue"
	// FailureModeFail surfaces the chain error to the caller.
	FailureModeFail FailureMode = "fail"
)

// SubmitLimiter paces chain submissions. Wait blocks until a submission slot
// is available for the given key or the context is cancelled.
type SubmitLimiter interface {
	Wait(ctx context.Context, key string) error
}

// MirrorConfig tunes the on-chain mirror.
type MirrorConfig struct {
	// FailureMode defaults to FailureModeQueue when empty.
	FailureMode FailureMode
	// ChainID, when non-zero, restricts mirroring to templates pinned to
	// this chain. Templates naming a different chain are skipped.
	ChainID int64
}

// Mirror replays ledger events onto an external chain, gated per asset
// template. Whether a position is mirrored is decided by the template config
// of the asset the position holds, resolved at record time.
type Mirror struct {
	submitter domain.ChainSubmitter
	assets    domain.InstitutionStore
	pending   domain.PendingOnchainStore
	audit     *audit.Logger
	limiter   SubmitLimiter // optional
	cfg       MirrorConfig
	logger    *slog.Logger
}

// NewMirror creates a Mirror. limiter may be nil, in which case submissions
// are not paced.
func NewMirror(
	submitter domain.ChainSubmitter,
	assets domain.InstitutionStore,
	pending domain.PendingOnchainStore,
	auditLog *audit.Logger,
	limiter SubmitLimiter,
	cfg MirrorConfig,
	logger *slog.Logger,
) *Mirror {
	if cfg.FailureMode == "" {
		cfg.FailureMode = FailureModeQueue
	}
	return &Mirror{
		submitter: submitter,
		assets:    assets,
		pending:   pending,
		audit:     auditLog,
		limiter:   limiter,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "onchain_mirror")),
	}
}

// RecordPositionCreated mirrors a creation event when the position's template
// opts in. Skips are silent successes.
func (m *Mirror) RecordPositionCreated(ctx context.Context, position domain.Position, lctx domain.LedgerContext) error {
	if !m.shouldMirror(ctx, position) {
		return nil
	}
	event := domain.NewPositionCreatedEvent(position, lctx, time.Now().UTC())
	return m.submit(ctx, position.ID, event.Kind, event.Payload)
}

// RecordPositionStateChanged mirrors a transition event when the position's
// template opts in.
func (m *Mirror) RecordPositionStateChanged(ctx context.Context, position domain.Position, event domain.PositionLifecycleEvent, lctx domain.LedgerContext) error {
	if !m.shouldMirror(ctx, position) {
		return nil
	}
	row := domain.NewPositionStateChangedEvent(position, event, lctx, time.Now().UTC())
	return m.submit(ctx, position.ID, row.Kind, row.Payload)
}

// shouldMirror resolves position -> asset -> template and applies the
// per-template gate. Resolution failures disable mirroring for the call
// rather than failing it; the primary ledger write has already succeeded.
func (m *Mirror) shouldMirror(ctx context.Context, position domain.Position) bool {
	asset, err := m.assets.GetAsset(ctx, position.AssetID)
	if err != nil {
		m.logger.WarnContext(ctx, "mirror skipped, asset lookup failed",
			slog.String("position_id", position.ID),
			slog.String("asset_id", position.AssetID),
			slog.String("error", err.Error()),
		)
		return false
	}
	template, err := m.assets.GetAssetTemplate(ctx, asset.TemplateID)
	if err != nil {
		m.logger.WarnContext(ctx, "mirror skipped, template lookup failed",
			slog.String("position_id", position.ID),
			slog.String("template_id", asset.TemplateID),
			slog.String("error", err.Error()),
		)
		return false
	}

	onchain := template.OnchainConfig()
	if !onchain.Enabled {
		m.logger.DebugContext(ctx, "mirror disabled for template",
			slog.String("position_id", position.ID),
			slog.String("template_id", template.ID),
		)
		return false
	}
	if m.cfg.ChainID != 0 && onchain.ChainID != nil && *onchain.ChainID != m.cfg.ChainID {
		m.logger.DebugContext(ctx, "mirror skipped, template targets another chain",
			slog.String("position_id", position.ID),
			slog.String("template_id", template.ID),
			slog.Int64("template_chain_id", *onchain.ChainID),
			slog.Int64("mirror_chain_id", m.cfg.ChainID),
		)
		return false
	}
	return true
}

// submit pushes one payload to the chain, applying the configured failure
// mode on error.
func (m *Mirror) submit(ctx context.Context, positionID string, kind domain.LedgerEventKind, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ledger: marshal onchain payload: %w", err)
	}

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx, "onchain_submit"); err != nil {
			return m.handleFailure(ctx, positionID, kind, string(raw), fmt.Errorf("ledger: rate limit wait: %w", err))
		}
	}

	txID, err := m.submitter.Submit(ctx, positionID, kind, string(raw))
	if err != nil {
		return m.handleFailure(ctx, positionID, kind, string(raw), err)
	}

	m.logger.InfoContext(ctx, "onchain event recorded",
		slog.String("position_id", positionID),
		slog.String("kind", string(kind)),
		slog.String("tx_id", txID),
	)
	m.audit.Success(ctx, domain.AuditOnchainRecorded, "position", positionID, map[string]any{
		"kind": string(kind),
		"txId": txID,
	})
	return nil
}

// handleFailure applies the failure mode: fail returns the error, queue parks
// the payload for the retry worker. The inline attempt counts as attempt one.
func (m *Mirror) handleFailure(ctx context.Context, positionID string, kind domain.LedgerEventKind, payload string, submitErr error) error {
	m.audit.Failure(ctx, domain.AuditOnchainLedgerFailed, "position", positionID, submitErr)

	if m.cfg.FailureMode == FailureModeFail {
		return &domain.OnchainError{Op: string(kind), PositionID: positionID, Err: submitErr}
	}

	now := time.Now().UTC()
	op := domain.PendingOnchainOperation{
		ID:            domain.NewID("pnd"),
		Kind:          kind,
		PositionID:    positionID,
		Payload:       payload,
		Attempts:      1,
		LastError:     submitErr.Error(),
		LastAttemptAt: now,
		CreatedAt:     now,
	}
	if err := m.pending.Enqueue(ctx, op); err != nil {
		// Queueing failed on top of the submission failure. Nothing left to
		// park the event on, so this one does surface.
		return &domain.OnchainError{
			Op:         string(kind),
			PositionID: positionID,
			Err:        errors.Join(submitErr, fmt.Errorf("ledger: enqueue retry: %w", err)),
		}
	}

	m.logger.WarnContext(ctx, "onchain submission failed, queued for retry",
		slog.String("position_id", positionID),
		slog.String("kind", string(kind)),
		slog.String("pending_id", op.ID),
		slog.String("error", submitErr.Error()),
	)
	return nil
}
