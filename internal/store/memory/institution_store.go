package memory

import (
	"context"
	"sync"
	"time"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// InstitutionStore implements domain.InstitutionStore in memory.
type InstitutionStore struct {
	mu           sync.Mutex
	institutions map[string]domain.Institution
	templates    map[string]domain.AssetTemplate
	assets       map[string]domain.Asset
}

// NewInstitutionStore creates an empty InstitutionStore.
func NewInstitutionStore() *InstitutionStore {
	return &InstitutionStore{
		institutions: make(map[string]domain.Institution),
		templates:    make(map[string]domain.AssetTemplate),
		assets:       make(map[string]domain.Asset),
	}
}

// CreateInstitution inserts a new institution.
func (s *InstitutionStore) CreateInstitution(ctx context.Context, input domain.CreateInstitutionInput) (domain.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	ins := domain.Institution{
		ID:        domain.NewID("ins"),
		Name:      input.Name,
		Regions:   input.Regions,
		Verticals: input.Verticals,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.institutions[ins.ID] = ins
	return ins, nil
}

// GetInstitution returns the institution with the given id.
func (s *InstitutionStore) GetInstitution(ctx context.Context, id string) (domain.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ins, ok := s.institutions[id]
	if !ok {
		return domain.Institution{}, domain.ErrNotFound
	}
	return ins, nil
}

// ListInstitutions returns every institution.
func (s *InstitutionStore) ListInstitutions(ctx context.Context) ([]domain.Institution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Institution, 0, len(s.institutions))
	for _, ins := range s.institutions {
		out = append(out, ins)
	}
	return out, nil
}

// CreateAssetTemplate inserts a new asset template.
func (s *InstitutionStore) CreateAssetTemplate(ctx context.Context, input domain.CreateAssetTemplateInput) (domain.AssetTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	tpl := domain.AssetTemplate{
		ID:            domain.NewID("tpl"),
		InstitutionID: input.InstitutionID,
		Code:          input.Code,
		Name:          input.Name,
		Vertical:      input.Vertical,
		Region:        input.Region,
		Config:        input.Config,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.templates[tpl.ID] = tpl
	return tpl, nil
}

// GetAssetTemplate returns the template with the given id.
func (s *InstitutionStore) GetAssetTemplate(ctx context.Context, id string) (domain.AssetTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[id]
	if !ok {
		return domain.AssetTemplate{}, domain.ErrNotFound
	}
	return tpl, nil
}

// ListAssetTemplates returns templates matching the filter.
func (s *InstitutionStore) ListAssetTemplates(ctx context.Context, filter domain.AssetTemplateFilter) ([]domain.AssetTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AssetTemplate
	for _, tpl := range s.templates {
		if filter.InstitutionID != "" && tpl.InstitutionID != filter.InstitutionID {
			continue
		}
		out = append(out, tpl)
	}
	return out, nil
}

// CreateAsset inserts a new asset.
func (s *InstitutionStore) CreateAsset(ctx context.Context, input domain.CreateAssetInput) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	asset := domain.Asset{
		ID:            domain.NewID("ast"),
		InstitutionID: input.InstitutionID,
		TemplateID:    input.TemplateID,
		Label:         input.Label,
		Metadata:      input.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.assets[asset.ID] = asset
	return asset, nil
}

// GetAsset returns the asset with the given id.
func (s *InstitutionStore) GetAsset(ctx context.Context, id string) (domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[id]
	if !ok {
		return domain.Asset{}, domain.ErrNotFound
	}
	return asset, nil
}

// ListAssets returns assets matching the filter.
func (s *InstitutionStore) ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Asset
	for _, asset := range s.assets {
		if filter.InstitutionID != "" && asset.InstitutionID != filter.InstitutionID {
			continue
		}
		if filter.TemplateID != "" && asset.TemplateID != filter.TemplateID {
			continue
		}
		out = append(out, asset)
	}
	return out, nil
}
