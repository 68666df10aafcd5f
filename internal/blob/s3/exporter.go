package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// ObjectWriter is the narrow upload surface the exporter needs. *Writer
// satisfies it; tests substitute an in-memory fake.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// LedgerSource provides read access to ledger events for export.
type LedgerSource interface {
	ListEvents(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEvent, error)
}

// AuditSource provides read access to audit events for export.
type AuditSource interface {
	List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error)
}

// ExportResult reports the objects written by one export pass.
type ExportResult struct {
	LedgerKey    string
	LedgerEvents int
	AuditKey     string
	AuditEvents  int
}

// Exporter serializes ledger and audit events to JSONL snapshots and uploads
// them for compliance retention. Snapshots are full copies; dedup against
// earlier exports is left to the consuming side.
type Exporter struct {
	writer ObjectWriter
	ledger LedgerSource
	audit  AuditSource
	prefix string
	logger *slog.Logger
}

// NewExporter creates an Exporter writing under the given key prefix
// (e.g. "exports"). An empty prefix defaults to "exports".
func NewExporter(writer ObjectWriter, ledger LedgerSource, auditSrc AuditSource, prefix string, logger *slog.Logger) *Exporter {
	if prefix == "" {
		prefix = "exports"
	}
	return &Exporter{
		writer: writer,
		ledger: ledger,
		audit:  auditSrc,
		prefix: prefix,
		logger: logger.With(slog.String("component", "compliance_exporter")),
	}
}

// Export runs one pass, uploading a ledger snapshot and an audit snapshot.
// Empty data sets still produce an (empty) object so consumers can tell an
// empty system from a failed export.
func (e *Exporter) Export(ctx context.Context) (ExportResult, error) {
	now := time.Now().UTC()
	result := ExportResult{}

	ledgerEvents, err := e.ledger.ListEvents(ctx, domain.LedgerFilter{})
	if err != nil {
		return result, fmt.Errorf("s3blob: list ledger events: %w", err)
	}
	result.LedgerKey = e.objectKey("ledger", now)
	result.LedgerEvents = len(ledgerEvents)
	if err := e.putJSONL(ctx, result.LedgerKey, ledgerRows(ledgerEvents)); err != nil {
		return result, err
	}

	auditEvents, err := e.audit.List(ctx, domain.AuditFilter{})
	if err != nil {
		return result, fmt.Errorf("s3blob: list audit events: %w", err)
	}
	result.AuditKey = e.objectKey("audit", now)
	result.AuditEvents = len(auditEvents)
	if err := e.putJSONL(ctx, result.AuditKey, auditRows(auditEvents)); err != nil {
		return result, err
	}

	e.logger.InfoContext(ctx, "compliance export complete",
		slog.String("ledger_key", result.LedgerKey),
		slog.Int("ledger_events", result.LedgerEvents),
		slog.String("audit_key", result.AuditKey),
		slog.Int("audit_events", result.AuditEvents),
	)
	return result, nil
}

// Run exports on a fixed interval until the context is cancelled.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.logger.InfoContext(ctx, "exporter started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			e.logger.InfoContext(ctx, "exporter stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Export(ctx); err != nil {
				e.logger.ErrorContext(ctx, "export failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// objectKey builds a date-partitioned key, e.g.
// exports/ledger/2026/08/31/ledger-20260831T120000Z.jsonl.
func (e *Exporter) objectKey(kind string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s-%s.jsonl",
		e.prefix,
		kind,
		now.Format("2006/01/02"),
		kind,
		now.Format("20060102T150405Z"),
	)
}

func (e *Exporter) putJSONL(ctx context.Context, key string, rows []map[string]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("s3blob: encode export row: %w", err)
		}
	}
	if err := e.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return err
	}
	return nil
}

func ledgerRows(events []domain.LedgerEvent) []map[string]any {
	rows := make([]map[string]any, 0, len(events))
	for _, evt := range events {
		row := map[string]any{
			"id":         evt.ID,
			"kind":       string(evt.Kind),
			"positionId": evt.PositionID,
			"at":         evt.At.UTC().Format(time.RFC3339Nano),
			"newState":   string(evt.NewState),
			"payload":    evt.Payload,
		}
		if evt.PreviousState != nil {
			row["previousState"] = string(*evt.PreviousState)
		}
		rows = append(rows, row)
	}
	return rows
}

func auditRows(events []domain.AuditEvent) []map[string]any {
	rows := make([]map[string]any, 0, len(events))
	for _, evt := range events {
		row := map[string]any{
			"id":           evt.ID,
			"action":       string(evt.Action),
			"outcome":      string(evt.Outcome),
			"resourceType": evt.ResourceType,
			"resourceId":   evt.ResourceID,
			"occurredAt":   evt.OccurredAt.UTC().Format(time.RFC3339Nano),
		}
		if evt.Actor != "" {
			row["actor"] = evt.Actor
		}
		if evt.RequestID != "" {
			row["requestId"] = evt.RequestID
		}
		if evt.InstitutionID != "" {
			row["institutionId"] = evt.InstitutionID
		}
		if len(evt.Payload) > 0 {
			row["payload"] = evt.Payload
		}
		if evt.Error != nil {
			row["error"] = map[string]any{"message": evt.Error.Message, "code": evt.Error.Code}
		}
		rows = append(rows, row)
	}
	return rows
}
