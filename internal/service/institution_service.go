package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/domain"
)

// InstitutionService handles onboarding: institutions, their asset
// templates, and concrete assets.
type InstitutionService struct {
	store  domain.InstitutionStore
	audit  *audit.Logger
	logger *slog.Logger
}

// NewInstitutionService creates an InstitutionService.
func NewInstitutionService(store domain.InstitutionStore, auditLog *audit.Logger, logger *slog.Logger) *InstitutionService {
	return &InstitutionService{
		store:  store,
		audit:  auditLog,
		logger: logger.With(slog.String("component", "institution_service")),
	}
}

// CreateInstitution onboards an institution. At least one region and one
// vertical are required, and all of them must be supported values.
func (s *InstitutionService) CreateInstitution(ctx context.Context, input domain.CreateInstitutionInput, lctx domain.LedgerContext) (domain.Institution, error) {
	if input.Name == "" {
		err := fmt.Errorf("service: institution name is required")
		s.audit.Failure(ctx, domain.AuditValidationFailed, "institution", "", err)
		return domain.Institution{}, err
	}
	if len(input.Regions) == 0 || len(input.Verticals) == 0 {
		err := fmt.Errorf("service: at least one region and vertical required")
		s.audit.Failure(ctx, domain.AuditValidationFailed, "institution", "", err)
		return domain.Institution{}, err
	}
	for _, region := range input.Regions {
		if !region.Valid() {
			err := fmt.Errorf("service: unknown region %q", region)
			s.audit.Failure(ctx, domain.AuditValidationFailed, "institution", "", err)
			return domain.Institution{}, err
		}
	}
	for _, vertical := range input.Verticals {
		if !vertical.Valid() {
			err := fmt.Errorf("service: unknown vertical %q", vertical)
			s.audit.Failure(ctx, domain.AuditValidationFailed, "institution", "", err)
			return domain.Institution{}, err
		}
	}

	institution, err := s.store.CreateInstitution(ctx, input)
	if err != nil {
		return domain.Institution{}, fmt.Errorf("service: create institution: %w", err)
	}

	s.logger.InfoContext(ctx, "institution onboarded",
		slog.String("institution_id", institution.ID),
		slog.String("name", institution.Name),
	)
	s.audit.Record(ctx, domain.AuditEvent{
		Action:        domain.AuditInstitutionCreated,
		Outcome:       domain.AuditOutcomeSuccess,
		Actor:         lctx.Actor,
		RequestID:     lctx.RequestID,
		InstitutionID: institution.ID,
		ResourceType:  "institution",
		ResourceID:    institution.ID,
		Payload:       map[string]any{"name": institution.Name},
	})
	return institution, nil
}

// CreateAssetTemplate defines a new asset class for an institution. The
// template's region and vertical must be within the institution's footprint.
func (s *InstitutionService) CreateAssetTemplate(ctx context.Context, input domain.CreateAssetTemplateInput, lctx domain.LedgerContext) (domain.AssetTemplate, error) {
	institution, err := s.store.GetInstitution(ctx, input.InstitutionID)
	if err != nil {
		s.audit.Failure(ctx, domain.AuditResourceNotFound, "institution", input.InstitutionID, err)
		return domain.AssetTemplate{}, err
	}
	if !institution.OperatesIn(input.Region) {
		err := fmt.Errorf("service: institution %s does not operate in region %s", institution.ID, input.Region)
		s.audit.Failure(ctx, domain.AuditValidationFailed, "asset_template", "", err)
		return domain.AssetTemplate{}, err
	}
	if !institution.SupportsVertical(input.Vertical) {
		err := fmt.Errorf("service: institution %s does not cover vertical %s", institution.ID, input.Vertical)
		s.audit.Failure(ctx, domain.AuditValidationFailed, "asset_template", "", err)
		return domain.AssetTemplate{}, err
	}

	template, err := s.store.CreateAssetTemplate(ctx, input)
	if err != nil {
		return domain.AssetTemplate{}, fmt.Errorf("service: create asset template: %w", err)
	}

	s.logger.InfoContext(ctx, "asset template created",
		slog.String("template_id", template.ID),
		slog.String("institution_id", template.InstitutionID),
		slog.String("code", template.Code),
	)
	s.audit.Record(ctx, domain.AuditEvent{
		Action:        domain.AuditAssetTemplateCreated,
		Outcome:       domain.AuditOutcomeSuccess,
		Actor:         lctx.Actor,
		RequestID:     lctx.RequestID,
		InstitutionID: template.InstitutionID,
		ResourceType:  "asset_template",
		ResourceID:    template.ID,
		Payload:       map[string]any{"code": template.Code, "region": string(template.Region)},
	})
	return template, nil
}

// CreateAsset instantiates a concrete asset from a template. The template
// must belong to the same institution.
func (s *InstitutionService) CreateAsset(ctx context.Context, input domain.CreateAssetInput, lctx domain.LedgerContext) (domain.Asset, error) {
	template, err := s.store.GetAssetTemplate(ctx, input.TemplateID)
	if err != nil {
		s.audit.Failure(ctx, domain.AuditResourceNotFound, "asset_template", input.TemplateID, err)
		return domain.Asset{}, err
	}
	if template.InstitutionID != input.InstitutionID {
		err := fmt.Errorf("service: template %s does not belong to institution %s: %w",
			input.TemplateID, input.InstitutionID, domain.ErrNotFound)
		s.audit.Failure(ctx, domain.AuditResourceNotFound, "asset_template", input.TemplateID, err)
		return domain.Asset{}, err
	}

	asset, err := s.store.CreateAsset(ctx, input)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("service: create asset: %w", err)
	}

	s.logger.InfoContext(ctx, "asset created",
		slog.String("asset_id", asset.ID),
		slog.String("template_id", asset.TemplateID),
	)
	s.audit.Record(ctx, domain.AuditEvent{
		Action:        domain.AuditAssetCreated,
		Outcome:       domain.AuditOutcomeSuccess,
		Actor:         lctx.Actor,
		RequestID:     lctx.RequestID,
		InstitutionID: asset.InstitutionID,
		ResourceType:  "asset",
		ResourceID:    asset.ID,
		Payload:       map[string]any{"label": asset.Label},
	})
	return asset, nil
}

// GetInstitution returns one institution.
func (s *InstitutionService) GetInstitution(ctx context.Context, id string) (domain.Institution, error) {
	return s.store.GetInstitution(ctx, id)
}

// ListInstitutions returns all institutions in creation order.
func (s *InstitutionService) ListInstitutions(ctx context.Context) ([]domain.Institution, error) {
	return s.store.ListInstitutions(ctx)
}

// ListAssetTemplates returns templates matching the filter.
func (s *InstitutionService) ListAssetTemplates(ctx context.Context, filter domain.AssetTemplateFilter) ([]domain.AssetTemplate, error) {
	return s.store.ListAssetTemplates(ctx, filter)
}

// ListAssets returns assets matching the filter.
func (s *InstitutionService) ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.Asset, error) {
	return s.store.ListAssets(ctx, filter)
}
