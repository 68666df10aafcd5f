package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// CreatePositionInput is the validated input for PositionStore.Create.
type CreatePositionInput struct {
	InstitutionID     string
	AssetID           string
	HolderReference   string
	Currency          string
	Amount            decimal.Decimal
	ExternalReference *string
}

// PositionFilter narrows position listings. Empty fields match everything.
type PositionFilter struct {
	InstitutionID   string
	AssetID         string
	HolderReference string
}

// PositionStore is the durable source of truth for positions and their event
// history.
//
// Update is the concurrency-critical path. When expectedState is non-nil the
// store must atomically verify that the persisted state equals expectedState
// before writing; on mismatch it returns ConcurrencyConflictError and applies
// nothing. The position row and the appended latestEvent commit atomically,
// or neither does.
type PositionStore interface {
	Create(ctx context.Context, input CreatePositionInput) (Position, error)
	Get(ctx context.Context, id string) (Position, error)
	List(ctx context.Context, filter PositionFilter) ([]Position, error)
	Update(ctx context.Context, position Position, latestEvent *PositionLifecycleEvent, expectedState *PositionState) (Position, error)
}

// PolicyStore holds per-(institution, region) position policies with upsert
// semantics. Get returns ErrNotFound when no policy row exists; absence means
// no constraint.
type PolicyStore interface {
	Upsert(ctx context.Context, institutionID string, region Region, config PositionPolicyConfig) (InstitutionPolicy, error)
	Get(ctx context.Context, institutionID string, region Region) (InstitutionPolicy, error)
	List(ctx context.Context, institutionID string) ([]InstitutionPolicy, error)
}

// CreateInstitutionInput is the input for InstitutionStore.CreateInstitution.
type CreateInstitutionInput struct {
	Name      string
	Regions   []Region
	Verticals []Vertical
}

// CreateAssetTemplateInput is the input for CreateAssetTemplate.
type CreateAssetTemplateInput struct {
	InstitutionID string
	Code          string
	Name          string
	Vertical      Vertical
	Region        Region
	Config        map[string]any
}

// CreateAssetInput is the input for CreateAsset.
type CreateAssetInput struct {
	InstitutionID string
	TemplateID    string
	Label         string
	Metadata      map[string]any
}

// AssetTemplateFilter narrows template listings.
type AssetTemplateFilter struct {
	InstitutionID string
}

// AssetFilter narrows asset listings.
type AssetFilter struct {
	InstitutionID string
	TemplateID    string
}

// InstitutionStore is the data-access contract for institutions, asset
// templates, and assets. The creation flow resolves asset -> template ->
// region through it; richer CRUD surfaces live outside this core.
type InstitutionStore interface {
	CreateInstitution(ctx context.Context, input CreateInstitutionInput) (Institution, error)
	GetInstitution(ctx context.Context, id string) (Institution, error)
	ListInstitutions(ctx context.Context) ([]Institution, error)

	CreateAssetTemplate(ctx context.Context, input CreateAssetTemplateInput) (AssetTemplate, error)
	GetAssetTemplate(ctx context.Context, id string) (AssetTemplate, error)
	ListAssetTemplates(ctx context.Context, filter AssetTemplateFilter) ([]AssetTemplate, error)

	CreateAsset(ctx context.Context, input CreateAssetInput) (Asset, error)
	GetAsset(ctx context.Context, id string) (Asset, error)
	ListAssets(ctx context.Context, filter AssetFilter) ([]Asset, error)
}
