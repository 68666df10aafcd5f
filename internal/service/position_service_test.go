package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/domain"
	"github.com/escrowgrid/escrowcore/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

type fixture struct {
	positions    *memory.PositionStore
	institutions *memory.InstitutionStore
	policies     *memory.PolicyStore
	ledger       *memory.Ledger
	auditMem     *memory.AuditStore
	auditLog     *audit.Logger

	institution domain.Institution
	template    domain.AssetTemplate
	asset       domain.Asset
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	fx := &fixture{
		positions:    memory.NewPositionStore(),
		institutions: memory.NewInstitutionStore(),
		policies:     memory.NewPolicyStore(),
		ledger:       memory.NewLedger(),
		auditMem:     memory.NewAuditStore(),
	}
	fx.auditLog = audit.NewLogger(fx.auditMem, testLogger())

	var err error
	fx.institution, err = fx.institutions.CreateInstitution(ctx, domain.CreateInstitutionInput{
		Name:      "Harbor Trust",
		Regions:   []domain.Region{domain.RegionEUUK, domain.RegionUS},
		Verticals: []domain.Vertical{domain.VerticalTradeFinance},
	})
	require.NoError(t, err)

	fx.template, err = fx.institutions.CreateAssetTemplate(ctx, domain.CreateAssetTemplateInput{
		InstitutionID: fx.institution.ID,
		Code:          "TF-EU",
		Name:          "EU trade finance escrow",
		Vertical:      domain.VerticalTradeFinance,
		Region:        domain.RegionEUUK,
	})
	require.NoError(t, err)

	fx.asset, err = fx.institutions.CreateAsset(ctx, domain.CreateAssetInput{
		InstitutionID: fx.institution.ID,
		TemplateID:    fx.template.ID,
		Label:         "Rotterdam shipment 4471",
	})
	require.NoError(t, err)

	return fx
}

func (fx *fixture) service(store domain.PositionStore) *PositionService {
	if store == nil {
		store = fx.positions
	}
	return NewPositionService(store, fx.institutions, fx.policies, fx.ledger, fx.auditLog, testLogger())
}

func (fx *fixture) createRequest() CreatePositionRequest {
	return CreatePositionRequest{
		InstitutionID:   fx.institution.ID,
		AssetID:         fx.asset.ID,
		HolderReference: "holder-001",
		Currency:        "EUR",
		Amount:          decimal.RequireFromString("250000"),
	}
}

func TestCreatePosition(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	position, err := svc.Create(ctx, fx.createRequest(), domain.LedgerContext{Actor: "ops@harbor", RequestID: "req-1"})
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStateCreated, position.State)
	assert.Equal(t, "250000", position.Amount.String())
	assert.Empty(t, position.Events)

	events, err := fx.ledger.ListEvents(ctx, domain.LedgerFilter{PositionID: position.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.LedgerEventPositionCreated, events[0].Kind)
	assert.Equal(t, "req-1", events[0].Payload["requestId"])

	audited, err := fx.auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditPositionCreated})
	require.NoError(t, err)
	require.Len(t, audited, 1)
	assert.Equal(t, "ops@harbor", audited[0].Actor)
	assert.Equal(t, position.ID, audited[0].ResourceID)
}

func TestCreatePositionPolicyGate(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	_, err := fx.policies.Upsert(ctx, fx.institution.ID, domain.RegionEUUK, domain.PositionPolicyConfig{
		MinAmount:         decPtr("200000"),
		AllowedCurrencies: []string{"EUR"},
	})
	require.NoError(t, err)

	var violation *domain.PolicyViolationError

	req := fx.createRequest()
	req.Amount = decimal.RequireFromString("100000")
	_, err = svc.Create(ctx, req, domain.LedgerContext{})
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, domain.PolicyRuleBelowMinimum, violation.Rule)

	req = fx.createRequest()
	req.Currency = "USD"
	_, err = svc.Create(ctx, req, domain.LedgerContext{})
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, domain.PolicyRuleCurrencyNotAllowed, violation.Rule)

	_, err = svc.Create(ctx, fx.createRequest(), domain.LedgerContext{})
	require.NoError(t, err)

	// Rejections never reach the store or the ledger.
	positions, err := fx.positions.List(ctx, domain.PositionFilter{})
	require.NoError(t, err)
	assert.Len(t, positions, 1)

	rejected, err := fx.auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditPolicyViolation})
	require.NoError(t, err)
	assert.Len(t, rejected, 2)
}

func TestCreatePositionAbsentPolicyIsUnrestricted(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	req := fx.createRequest()
	req.Currency = "JPY"
	req.Amount = decimal.RequireFromString("0.00000001")
	_, err := svc.Create(ctx, req, domain.LedgerContext{})
	require.NoError(t, err)
}

func TestCreatePositionInvalidAmount(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	req := fx.createRequest()
	req.Amount = decimal.Zero
	_, err := svc.Create(ctx, req, domain.LedgerContext{})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	req.Amount = decimal.RequireFromString("1.000000001")
	_, err = svc.Create(ctx, req, domain.LedgerContext{})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestCreatePositionUnknownAsset(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	req := fx.createRequest()
	req.AssetID = "ast_missing"
	_, err := svc.Create(ctx, req, domain.LedgerContext{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreatePositionAssetInstitutionMismatch(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	other, err := fx.institutions.CreateInstitution(ctx, domain.CreateInstitutionInput{
		Name:      "Altbank",
		Regions:   []domain.Region{domain.RegionSG},
		Verticals: []domain.Vertical{domain.VerticalConstruction},
	})
	require.NoError(t, err)

	req := fx.createRequest()
	req.InstitutionID = other.ID
	_, err = svc.Create(ctx, req, domain.LedgerContext{})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitionScenario(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	position, err := svc.Create(ctx, fx.createRequest(), domain.LedgerContext{})
	require.NoError(t, err)

	funded, err := svc.Transition(ctx, TransitionRequest{
		PositionID: position.ID,
		ToState:    domain.PositionStateFunded,
	}, domain.LedgerContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStateFunded, funded.State)

	reason := "milestone complete"
	released, err := svc.Transition(ctx, TransitionRequest{
		PositionID: position.ID,
		ToState:    domain.PositionStateReleased,
		Reason:     &reason,
	}, domain.LedgerContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStateReleased, released.State)

	require.Len(t, released.Events, 2)
	assert.Equal(t, domain.PositionStateFunded, released.Events[0].ToState)
	assert.Equal(t, domain.PositionStateReleased, released.Events[1].ToState)
	require.NotNil(t, released.Events[1].Reason)
	assert.Equal(t, reason, *released.Events[1].Reason)

	ledgerEvents, err := svc.Events(ctx, position.ID)
	require.NoError(t, err)
	require.Len(t, ledgerEvents, 3)
	assert.Equal(t, domain.LedgerEventPositionCreated, ledgerEvents[0].Kind)
	assert.Equal(t, domain.LedgerEventPositionStateChanged, ledgerEvents[1].Kind)
	assert.Equal(t, domain.LedgerEventPositionStateChanged, ledgerEvents[2].Kind)
}

func TestTransitionInvalid(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	position, err := svc.Create(ctx, fx.createRequest(), domain.LedgerContext{})
	require.NoError(t, err)

	var invalid *domain.InvalidTransitionError
	_, err = svc.Transition(ctx, TransitionRequest{
		PositionID: position.ID,
		ToState:    domain.PositionStateReleased,
	}, domain.LedgerContext{})
	require.ErrorAs(t, err, &invalid)

	audited, err := fx.auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditInvalidTransition})
	require.NoError(t, err)
	assert.Len(t, audited, 1)
}

func TestTransitionIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	position, err := svc.Create(ctx, fx.createRequest(), domain.LedgerContext{})
	require.NoError(t, err)

	funded, err := svc.Transition(ctx, TransitionRequest{
		PositionID: position.ID,
		ToState:    domain.PositionStateFunded,
	}, domain.LedgerContext{})
	require.NoError(t, err)

	again, err := svc.Transition(ctx, TransitionRequest{
		PositionID: position.ID,
		ToState:    domain.PositionStateFunded,
	}, domain.LedgerContext{})
	require.NoError(t, err)
	assert.Equal(t, funded.UpdatedAt, again.UpdatedAt)
	assert.Len(t, again.Events, 1)

	// No extra ledger event for the no-op.
	ledgerEvents, err := svc.Events(ctx, position.ID)
	require.NoError(t, err)
	assert.Len(t, ledgerEvents, 2)
}

// conflictingStore wraps a PositionStore and fails the first n Updates with a
// concurrency conflict.
type conflictingStore struct {
	domain.PositionStore
	remaining int
}

func (s *conflictingStore) Update(ctx context.Context, position domain.Position, latestEvent *domain.PositionLifecycleEvent, expectedState *domain.PositionState) (domain.Position, error) {
	if s.remaining > 0 {
		s.remaining--
		actual := domain.PositionStateCancelled
		expected := domain.PositionStateCreated
		if expectedState != nil {
			expected = *expectedState
		}
		return domain.Position{}, &domain.ConcurrencyConflictError{
			PositionID: position.ID,
			Expected:   expected,
			Actual:     actual,
		}
	}
	return s.PositionStore.Update(ctx, position, latestEvent, expectedState)
}

func TestTransitionRetriesLostRace(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	store := &conflictingStore{PositionStore: fx.positions, remaining: 2}
	svc := fx.service(store)

	position, err := svc.Create(ctx, fx.createRequest(), domain.LedgerContext{})
	require.NoError(t, err)

	funded, err := svc.Transition(ctx, TransitionRequest{
		PositionID: position.ID,
		ToState:    domain.PositionStateFunded,
	}, domain.LedgerContext{})
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStateFunded, funded.State)
	assert.Len(t, funded.Events, 1)
}

func TestTransitionExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	store := &conflictingStore{PositionStore: fx.positions, remaining: 100}
	svc := fx.service(store)

	position, err := svc.Create(ctx, fx.createRequest(), domain.LedgerContext{})
	require.NoError(t, err)

	var conflict *domain.ConcurrencyConflictError
	_, err = svc.Transition(ctx, TransitionRequest{
		PositionID: position.ID,
		ToState:    domain.PositionStateFunded,
	}, domain.LedgerContext{})
	require.ErrorAs(t, err, &conflict)

	audited, err := fx.auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditConcurrencyConflict})
	require.NoError(t, err)
	assert.Len(t, audited, 1)
}

func TestGetUnknownPosition(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	svc := fx.service(nil)

	_, err := svc.Get(ctx, "pos_missing")
	require.ErrorIs(t, err, domain.ErrNotFound)

	audited, err := fx.auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditResourceNotFound})
	require.NoError(t, err)
	assert.Len(t, audited, 1)
}
