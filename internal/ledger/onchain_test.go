package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/domain"
	"github.com/escrowgrid/escrowcore/internal/store/memory"
)

type submitCall struct {
	positionID string
	kind       domain.LedgerEventKind
	payload    string
}

// fakeSubmitter returns scripted errors in call order; once the script runs
// out, every call succeeds.
type fakeSubmitter struct {
	mu    sync.Mutex
	errs  []error
	calls []submitCall
}

func (f *fakeSubmitter) Submit(_ context.Context, positionID string, kind domain.LedgerEventKind, payloadJSON string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitCall{positionID: positionID, kind: kind, payload: payloadJSON})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "0xabc", nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mirrorFixture struct {
	assets    *memory.InstitutionStore
	pending   *memory.PendingOnchainStore
	auditMem  *memory.AuditStore
	submitter *fakeSubmitter
}

func newMirrorFixture(t *testing.T, cfg MirrorConfig, templateConfig map[string]any) (*Mirror, *mirrorFixture, domain.Position) {
	t.Helper()
	ctx := context.Background()

	fx := &mirrorFixture{
		assets:    memory.NewInstitutionStore(),
		pending:   memory.NewPendingOnchainStore(),
		auditMem:  memory.NewAuditStore(),
		submitter: &fakeSubmitter{},
	}

	inst, err := fx.assets.CreateInstitution(ctx, domain.CreateInstitutionInput{
		Name:      "Meridian Escrow",
		Regions:   []domain.Region{domain.RegionUS},
		Verticals: []domain.Vertical{domain.VerticalConstruction},
	})
	require.NoError(t, err)

	tmpl, err := fx.assets.CreateAssetTemplate(ctx, domain.CreateAssetTemplateInput{
		InstitutionID: inst.ID,
		Code:          "CONSTR-US",
		Name:          "US construction retention",
		Vertical:      domain.VerticalConstruction,
		Region:        domain.RegionUS,
		Config:        templateConfig,
	})
	require.NoError(t, err)

	asset, err := fx.assets.CreateAsset(ctx, domain.CreateAssetInput{
		InstitutionID: inst.ID,
		TemplateID:    tmpl.ID,
		Label:         "Tower block phase 2",
	})
	require.NoError(t, err)

	position := domain.Position{
		ID:            domain.NewID("pos"),
		InstitutionID: inst.ID,
		AssetID:       asset.ID,
		Currency:      "USD",
		Amount:        decimal.RequireFromString("250000"),
		State:         domain.PositionStateCreated,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}

	auditLog := audit.NewLogger(fx.auditMem, testLogger())
	mirror := NewMirror(fx.submitter, fx.assets, fx.pending, auditLog, nil, cfg, testLogger())
	return mirror, fx, position
}

func TestMirrorSubmitsWhenTemplateEnabled(t *testing.T) {
	ctx := context.Background()
	mirror, fx, position := newMirrorFixture(t, MirrorConfig{}, map[string]any{
		"onchain": map[string]any{"enabled": true, "chain_id": int64(11155111)},
	})

	require.NoError(t, mirror.RecordPositionCreated(ctx, position, domain.LedgerContext{RequestID: "req-1"}))

	require.Equal(t, 1, fx.submitter.callCount())
	call := fx.submitter.calls[0]
	assert.Equal(t, position.ID, call.positionID)
	assert.Equal(t, domain.LedgerEventPositionCreated, call.kind)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(call.payload), &payload))
	assert.Equal(t, "250000", payload["amount"])
	assert.Equal(t, "req-1", payload["requestId"])

	events, err := fx.auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditOnchainRecorded})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.AuditOutcomeSuccess, events[0].Outcome)
}

func TestMirrorSkipsWhenTemplateDisabled(t *testing.T) {
	ctx := context.Background()
	mirror, fx, position := newMirrorFixture(t, MirrorConfig{}, map[string]any{
		"onchain": map[string]any{"enabled": false},
	})

	require.NoError(t, mirror.RecordPositionCreated(ctx, position, domain.LedgerContext{}))
	assert.Zero(t, fx.submitter.callCount())

	count, err := fx.pending.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestMirrorSkipsWhenConfigAbsent(t *testing.T) {
	ctx := context.Background()
	mirror, fx, position := newMirrorFixture(t, MirrorConfig{}, nil)

	require.NoError(t, mirror.RecordPositionCreated(ctx, position, domain.LedgerContext{}))
	assert.Zero(t, fx.submitter.callCount())
}

func TestMirrorSkipsOnChainMismatch(t *testing.T) {
	ctx := context.Background()
	mirror, fx, position := newMirrorFixture(t, MirrorConfig{ChainID: 1}, map[string]any{
		"onchain": map[string]any{"enabled": true, "chain_id": int64(11155111)},
	})

	require.NoError(t, mirror.RecordPositionCreated(ctx, position, domain.LedgerContext{}))
	assert.Zero(t, fx.submitter.callCount())
}

func TestMirrorQueueModeParksFailure(t *testing.T) {
	ctx := context.Background()
	mirror, fx, position := newMirrorFixture(t, MirrorConfig{FailureMode: FailureModeQueue}, map[string]any{
		"onchain": map[string]any{"enabled": true},
	})
	fx.submitter.errs = []error{errors.New("rpc timeout")}

	require.NoError(t, mirror.RecordPositionCreated(ctx, position, domain.LedgerContext{}))

	ops, err := fx.pending.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, position.ID, ops[0].PositionID)
	assert.Equal(t, domain.LedgerEventPositionCreated, ops[0].Kind)
	assert.Equal(t, 1, ops[0].Attempts)
	assert.Contains(t, ops[0].LastError, "rpc timeout")

	failures, err := fx.auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditOnchainLedgerFailed})
	require.NoError(t, err)
	require.Len(t, failures, 1)
}

func TestMirrorFailModeSurfacesError(t *testing.T) {
	ctx := context.Background()
	mirror, fx, position := newMirrorFixture(t, MirrorConfig{FailureMode: FailureModeFail}, map[string]any{
		"onchain": map[string]any{"enabled": true},
	})
	fx.submitter.errs = []error{errors.New("rpc timeout")}

	err := mirror.RecordPositionStateChanged(ctx, position, domain.PositionLifecycleEvent{
		ID:         domain.NewID("evt"),
		PositionID: position.ID,
		ToState:    domain.PositionStateFunded,
		At:         time.Now().UTC(),
	}, domain.LedgerContext{})

	var onchainErr *domain.OnchainError
	require.ErrorAs(t, err, &onchainErr)
	assert.Equal(t, position.ID, onchainErr.PositionID)

	count, cerr := fx.pending.Count(ctx)
	require.NoError(t, cerr)
	assert.Zero(t, count)
}

func TestCompositeMirrorsAfterPrimary(t *testing.T) {
	ctx := context.Background()
	mirror, fx, position := newMirrorFixture(t, MirrorConfig{}, map[string]any{
		"onchain": map[string]any{"enabled": true},
	})

	base := memory.NewLedger()
	composite := NewComposite(base, mirror)

	require.NoError(t, composite.RecordPositionCreated(ctx, position, domain.LedgerContext{}))

	events, err := composite.ListEvents(ctx, domain.LedgerFilter{PositionID: position.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 1, fx.submitter.callCount())
}

func TestCompositeWithoutMirror(t *testing.T) {
	ctx := context.Background()
	base := memory.NewLedger()
	composite := NewComposite(base, nil)

	position := domain.Position{
		ID:       domain.NewID("pos"),
		Currency: "EUR",
		Amount:   decimal.RequireFromString("100"),
		State:    domain.PositionStateCreated,
	}
	require.NoError(t, composite.RecordPositionCreated(ctx, position, domain.LedgerContext{}))

	events, err := composite.ListEvents(ctx, domain.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
