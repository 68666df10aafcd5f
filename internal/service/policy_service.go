package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/domain"
)

// PolicyService administers per-(institution, region) position policies.
type PolicyService struct {
	policies     domain.PolicyStore
	institutions domain.InstitutionStore
	audit        *audit.Logger
	logger       *slog.Logger
}

// NewPolicyService creates a PolicyService.
func NewPolicyService(
	policies domain.PolicyStore,
	institutions domain.InstitutionStore,
	auditLog *audit.Logger,
	logger *slog.Logger,
) *PolicyService {
	return &PolicyService{
		policies:     policies,
		institutions: institutions,
		audit:        auditLog,
		logger:       logger.With(slog.String("component", "policy_service")),
	}
}

// Upsert creates or replaces the policy for an (institution, region) pair.
// The institution must exist and operate in the region.
func (s *PolicyService) Upsert(ctx context.Context, institutionID string, region domain.Region, config domain.PositionPolicyConfig, lctx domain.LedgerContext) (domain.InstitutionPolicy, error) {
	if !region.Valid() {
		err := fmt.Errorf("service: unknown region %q", region)
		s.audit.Failure(ctx, domain.AuditValidationFailed, "policy", institutionID, err)
		return domain.InstitutionPolicy{}, err
	}
	if config.MinAmount != nil && config.MaxAmount != nil && config.MinAmount.GreaterThan(*config.MaxAmount) {
		err := fmt.Errorf("service: minAmount %s exceeds maxAmount %s: %w",
			config.MinAmount.String(), config.MaxAmount.String(), domain.ErrInvalidAmount)
		s.audit.Failure(ctx, domain.AuditValidationFailed, "policy", institutionID, err)
		return domain.InstitutionPolicy{}, err
	}

	institution, err := s.institutions.GetInstitution(ctx, institutionID)
	if err != nil {
		s.audit.Failure(ctx, domain.AuditResourceNotFound, "institution", institutionID, err)
		return domain.InstitutionPolicy{}, err
	}
	if !institution.OperatesIn(region) {
		err := fmt.Errorf("service: institution %s does not operate in region %s: %w",
			institutionID, region, domain.ErrNotFound)
		s.audit.Failure(ctx, domain.AuditValidationFailed, "policy", institutionID, err)
		return domain.InstitutionPolicy{}, err
	}

	policy, err := s.policies.Upsert(ctx, institutionID, region, config)
	if err != nil {
		return domain.InstitutionPolicy{}, fmt.Errorf("service: upsert policy: %w", err)
	}

	s.logger.InfoContext(ctx, "policy updated",
		slog.String("institution_id", institutionID),
		slog.String("region", string(region)),
	)
	s.audit.Record(ctx, domain.AuditEvent{
		Action:        domain.AuditPolicyUpdated,
		Outcome:       domain.AuditOutcomeSuccess,
		Actor:         lctx.Actor,
		RequestID:     lctx.RequestID,
		InstitutionID: institutionID,
		ResourceType:  "policy",
		ResourceID:    policy.ID,
		Payload:       map[string]any{"region": string(region)},
	})
	return policy, nil
}

// Get returns the policy for an (institution, region) pair, or ErrNotFound
// when the institution has placed no constraints there.
func (s *PolicyService) Get(ctx context.Context, institutionID string, region domain.Region) (domain.InstitutionPolicy, error) {
	return s.policies.Get(ctx, institutionID, region)
}

// List returns all policies configured by an institution.
func (s *PolicyService) List(ctx context.Context, institutionID string) ([]domain.InstitutionPolicy, error) {
	return s.policies.List(ctx, institutionID)
}
