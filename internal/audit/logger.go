// Package audit records every privileged action and every failure to a
// durable append-only sink, for consumption by compliance tooling.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// Logger writes audit events to a durable store and mirrors them to the
// structured log. It is fire-and-forget from the caller's perspective: its
// own failures are logged but never propagate into the primary operation.
type Logger struct {
	store  domain.AuditStore
	logger *slog.Logger
}

// NewLogger creates a Logger over the given store.
func NewLogger(store domain.AuditStore, logger *slog.Logger) *Logger {
	return &Logger{
		store:  store,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record appends one audit event, filling in the id and timestamps when
// unset. It never returns an error.
func (l *Logger) Record(ctx context.Context, event domain.AuditEvent) {
	now := time.Now().UTC()
	if event.ID == "" {
		event.ID = domain.NewID("aud")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}
	event.CreatedAt = now

	attrs := []any{
		slog.String("action", string(event.Action)),
		slog.String("outcome", string(event.Outcome)),
		slog.String("resource_type", event.ResourceType),
		slog.String("resource_id", event.ResourceID),
	}
	if event.Error != nil {
		attrs = append(attrs, slog.String("error", event.Error.Message))
	}

	if err := l.store.Append(ctx, event); err != nil {
		// A lost audit row is reported loudly but must not fail the caller.
		l.logger.ErrorContext(ctx, "audit append failed",
			append(attrs, slog.String("append_error", err.Error()))...)
		return
	}

	l.logger.InfoContext(ctx, "audit", attrs...)
}

// Success is a convenience for recording a successful action.
func (l *Logger) Success(ctx context.Context, action domain.AuditAction, resourceType, resourceID string, payload map[string]any) {
	l.Record(ctx, domain.AuditEvent{
		Action:       action,
		Outcome:      domain.AuditOutcomeSuccess,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Payload:      payload,
	})
}

// Failure is a convenience for recording a failed action with its error.
func (l *Logger) Failure(ctx context.Context, action domain.AuditAction, resourceType, resourceID string, err error) {
	var detail *domain.AuditErrorDetail
	if err != nil {
		detail = &domain.AuditErrorDetail{Message: err.Error()}
	}
	l.Record(ctx, domain.AuditEvent{
		Action:       action,
		Outcome:      domain.AuditOutcomeFailure,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Error:        detail,
	})
}
