package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/escrowcore/internal/domain"
	"github.com/escrowgrid/escrowcore/internal/store/memory"
)

type capturedObject struct {
	key         string
	contentType string
	body        []byte
}

type fakeObjectWriter struct {
	objects []capturedObject
}

func (f *fakeObjectWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects = append(f.objects, capturedObject{key: path, contentType: contentType, body: body})
	return nil
}

func TestExporterWritesSnapshots(t *testing.T) {
	ctx := context.Background()
	ledgerMem := memory.NewLedger()
	auditMem := memory.NewAuditStore()

	position := domain.Position{
		ID:            domain.NewID("pos"),
		InstitutionID: domain.NewID("ins"),
		AssetID:       domain.NewID("ast"),
		Currency:      "USD",
		Amount:        decimal.RequireFromString("50000"),
		State:         domain.PositionStateCreated,
	}
	require.NoError(t, ledgerMem.RecordPositionCreated(ctx, position, domain.LedgerContext{RequestID: "req-9"}))
	require.NoError(t, auditMem.Append(ctx, domain.AuditEvent{
		ID:           domain.NewID("aud"),
		Action:       domain.AuditPositionCreated,
		Outcome:      domain.AuditOutcomeSuccess,
		ResourceType: "position",
		ResourceID:   position.ID,
		OccurredAt:   time.Now().UTC(),
	}))

	writer := &fakeObjectWriter{}
	exporter := NewExporter(writer, ledgerMem, auditMem, "compliance", slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := exporter.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.LedgerEvents)
	assert.Equal(t, 1, result.AuditEvents)

	require.Len(t, writer.objects, 2)

	ledgerObj := writer.objects[0]
	assert.True(t, strings.HasPrefix(ledgerObj.key, "compliance/ledger/"))
	assert.True(t, strings.HasSuffix(ledgerObj.key, ".jsonl"))
	assert.Equal(t, "application/x-ndjson", ledgerObj.contentType)

	var ledgerRow map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(ledgerObj.body), &ledgerRow))
	assert.Equal(t, position.ID, ledgerRow["positionId"])
	assert.Equal(t, string(domain.LedgerEventPositionCreated), ledgerRow["kind"])

	auditObj := writer.objects[1]
	assert.True(t, strings.HasPrefix(auditObj.key, "compliance/audit/"))

	var auditRow map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(auditObj.body), &auditRow))
	assert.Equal(t, string(domain.AuditPositionCreated), auditRow["action"])
	assert.Equal(t, position.ID, auditRow["resourceId"])
}

func TestExporterEmptySystemStillWritesObjects(t *testing.T) {
	ctx := context.Background()
	writer := &fakeObjectWriter{}
	exporter := NewExporter(writer, memory.NewLedger(), memory.NewAuditStore(), "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := exporter.Export(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.LedgerEvents)
	assert.Zero(t, result.AuditEvents)

	require.Len(t, writer.objects, 2)
	assert.True(t, strings.HasPrefix(writer.objects[0].key, "exports/ledger/"))
	assert.Empty(t, writer.objects[0].body)
}
