// Package service implements the escrow operations exposed to callers:
// position lifecycle, policy administration, and institution onboarding.
// Services orchestrate the stores, the ledger, and the audit log; all
// domain rules live in the domain package.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/domain"
)

// defaultTransitionRetries bounds the optimistic-concurrency retry loop in
// Transition.
const defaultTransitionRetries = 3

// CreatePositionRequest is the caller-facing input for Create.
type CreatePositionRequest struct {
	InstitutionID     string
	AssetID           string
	HolderReference   string
	Currency          string
	Amount            decimal.Decimal
	ExternalReference *string
}

// TransitionRequest is the caller-facing input for Transition.
type TransitionRequest struct {
	PositionID string
	ToState    domain.PositionState
	Reason     *string
	Metadata   map[string]any
}

// PositionService implements the position lifecycle: creation behind the
// policy gate, state transitions under optimistic concurrency, and reads.
type PositionService struct {
	positions domain.PositionStore
	assets    domain.InstitutionStore
	policies  domain.PolicyStore
	ledger    domain.Ledger
	audit     *audit.Logger
	retries   int
	logger    *slog.Logger
}

// NewPositionService creates a PositionService with all required
// dependencies.
func NewPositionService(
	positions domain.PositionStore,
	assets domain.InstitutionStore,
	policies domain.PolicyStore,
	ledger domain.Ledger,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		assets:    assets,
		policies:  policies,
		ledger:    ledger,
		audit:     auditLog,
		retries:   defaultTransitionRetries,
		logger:    logger.With(slog.String("component", "position_service")),
	}
}

// Create validates the request against the asset's institution and the
// applicable regional policy, persists the position in CREATED state, and
// records the creation on the ledger.
func (s *PositionService) Create(ctx context.Context, req CreatePositionRequest, lctx domain.LedgerContext) (domain.Position, error) {
	if err := domain.ValidateAmount(req.Amount); err != nil {
		s.audit.Failure(ctx, domain.AuditValidationFailed, "position", "", err)
		return domain.Position{}, err
	}

	asset, err := s.assets.GetAsset(ctx, req.AssetID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.audit.Failure(ctx, domain.AuditResourceNotFound, "asset", req.AssetID, err)
		}
		return domain.Position{}, fmt.Errorf("service: resolve asset %s: %w", req.AssetID, err)
	}
	if asset.InstitutionID != req.InstitutionID {
		err := fmt.Errorf("service: asset %s does not belong to institution %s: %w",
			req.AssetID, req.InstitutionID, domain.ErrNotFound)
		s.audit.Failure(ctx, domain.AuditResourceNotFound, "asset", req.AssetID, err)
		return domain.Position{}, err
	}

	template, err := s.assets.GetAssetTemplate(ctx, asset.TemplateID)
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: resolve template %s: %w", asset.TemplateID, err)
	}

	// Policy is keyed by the template's region. A missing row means the
	// institution has placed no constraints there.
	policy, err := s.policies.Get(ctx, req.InstitutionID, template.Region)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.Position{}, fmt.Errorf("service: load policy: %w", err)
	}
	if err == nil {
		if checkErr := policy.Config.Check(req.Currency, req.Amount); checkErr != nil {
			s.logger.InfoContext(ctx, "position rejected by policy",
				slog.String("institution_id", req.InstitutionID),
				slog.String("region", string(template.Region)),
				slog.String("error", checkErr.Error()),
			)
			s.audit.Failure(ctx, domain.AuditPolicyViolation, "position", "", checkErr)
			return domain.Position{}, checkErr
		}
	}

	position, err := s.positions.Create(ctx, domain.CreatePositionInput{
		InstitutionID:     req.InstitutionID,
		AssetID:           req.AssetID,
		HolderReference:   req.HolderReference,
		Currency:          req.Currency,
		Amount:            req.Amount,
		ExternalReference: req.ExternalReference,
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("service: create position: %w", err)
	}

	if err := s.ledger.RecordPositionCreated(ctx, position, lctx); err != nil {
		return domain.Position{}, fmt.Errorf("service: ledger record creation: %w", err)
	}

	s.logger.InfoContext(ctx, "position created",
		slog.String("position_id", position.ID),
		slog.String("institution_id", position.InstitutionID),
		slog.String("currency", position.Currency),
		slog.String("amount", position.Amount.String()),
	)
	s.audit.Record(ctx, domain.AuditEvent{
		Action:        domain.AuditPositionCreated,
		Outcome:       domain.AuditOutcomeSuccess,
		Actor:         lctx.Actor,
		RequestID:     lctx.RequestID,
		InstitutionID: position.InstitutionID,
		ResourceType:  "position",
		ResourceID:    position.ID,
		Payload: map[string]any{
			"currency": position.Currency,
			"amount":   position.Amount.String(),
		},
	})
	return position, nil
}

// Transition moves a position to a new state under optimistic concurrency.
// Lost races are retried against fresh state up to a small bound; a
// transition that became invalid after a lost race fails with
// InvalidTransitionError rather than being retried. Idempotent
// self-transitions return the current position unchanged.
func (s *PositionService) Transition(ctx context.Context, req TransitionRequest, lctx domain.LedgerContext) (domain.Position, error) {
	var lastConflict error

	for attempt := 0; attempt < s.retries; attempt++ {
		current, err := s.positions.Get(ctx, req.PositionID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				s.audit.Failure(ctx, domain.AuditResourceNotFound, "position", req.PositionID, err)
			}
			return domain.Position{}, err
		}

		next, err := domain.ApplyTransition(current, req.ToState, req.Reason, req.Metadata, time.Now().UTC())
		if err != nil {
			s.audit.Failure(ctx, domain.AuditInvalidTransition, "position", req.PositionID, err)
			return domain.Position{}, err
		}

		// Self-transition: nothing changed, nothing to persist.
		if next.State == current.State && len(next.Events) == len(current.Events) {
			return current, nil
		}

		latest := next.Events[len(next.Events)-1]
		expected := current.State
		updated, err := s.positions.Update(ctx, next, &latest, &expected)
		if err != nil {
			var conflict *domain.ConcurrencyConflictError
			if errors.As(err, &conflict) {
				lastConflict = err
				s.logger.WarnContext(ctx, "transition lost concurrency race",
					slog.String("position_id", req.PositionID),
					slog.String("expected", string(conflict.Expected)),
					slog.String("actual", string(conflict.Actual)),
					slog.Int("attempt", attempt+1),
				)
				continue
			}
			return domain.Position{}, fmt.Errorf("service: update position: %w", err)
		}

		if err := s.ledger.RecordPositionStateChanged(ctx, updated, latest, lctx); err != nil {
			return domain.Position{}, fmt.Errorf("service: ledger record transition: %w", err)
		}

		s.logger.InfoContext(ctx, "position transitioned",
			slog.String("position_id", updated.ID),
			slog.String("from", string(expected)),
			slog.String("to", string(updated.State)),
		)
		s.audit.Record(ctx, domain.AuditEvent{
			Action:        domain.AuditPositionTransitioned,
			Outcome:       domain.AuditOutcomeSuccess,
			Actor:         lctx.Actor,
			RequestID:     lctx.RequestID,
			InstitutionID: updated.InstitutionID,
			ResourceType:  "position",
			ResourceID:    updated.ID,
			Payload: map[string]any{
				"fromState": string(expected),
				"toState":   string(updated.State),
			},
		})
		return updated, nil
	}

	s.audit.Failure(ctx, domain.AuditConcurrencyConflict, "position", req.PositionID, lastConflict)
	return domain.Position{}, fmt.Errorf("service: transition %s after %d attempts: %w",
		req.PositionID, s.retries, lastConflict)
}

// Get returns one position with its full event history.
func (s *PositionService) Get(ctx context.Context, id string) (domain.Position, error) {
	position, err := s.positions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.audit.Failure(ctx, domain.AuditResourceNotFound, "position", id, err)
		}
		return domain.Position{}, err
	}
	return position, nil
}

// List returns positions matching the filter in creation order.
func (s *PositionService) List(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	return s.positions.List(ctx, filter)
}

// Events returns the ledger trail for one position.
func (s *PositionService) Events(ctx context.Context, positionID string) ([]domain.LedgerEvent, error) {
	return s.ledger.ListEvents(ctx, domain.LedgerFilter{PositionID: positionID})
}
