package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// InstitutionStore implements domain.InstitutionStore using PostgreSQL.
type InstitutionStore struct {
	pool *pgxpool.Pool
}

// NewInstitutionStore creates a new InstitutionStore backed by the given
// connection pool.
func NewInstitutionStore(pool *pgxpool.Pool) *InstitutionStore {
	return &InstitutionStore{pool: pool}
}

func toRegions(raw []string) []domain.Region {
	out := make([]domain.Region, len(raw))
	for i, r := range raw {
		out[i] = domain.Region(r)
	}
	return out
}

func toVerticals(raw []string) []domain.Vertical {
	out := make([]domain.Vertical, len(raw))
	for i, v := range raw {
		out[i] = domain.Vertical(v)
	}
	return out
}

func fromRegions(regions []domain.Region) []string {
	out := make([]string, len(regions))
	for i, r := range regions {
		out[i] = string(r)
	}
	return out
}

func fromVerticals(verticals []domain.Vertical) []string {
	out := make([]string, len(verticals))
	for i, v := range verticals {
		out[i] = string(v)
	}
	return out
}

// CreateInstitution inserts a new institution.
func (s *InstitutionStore) CreateInstitution(ctx context.Context, input domain.CreateInstitutionInput) (domain.Institution, error) {
	ins := domain.Institution{
		ID:        domain.NewID("ins"),
		Name:      input.Name,
		Regions:   input.Regions,
		Verticals: input.Verticals,
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO institutions (id, name, regions, verticals)
		 VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at`,
		ins.ID, ins.Name, fromRegions(ins.Regions), fromVerticals(ins.Verticals),
	).Scan(&ins.CreatedAt, &ins.UpdatedAt)
	if err != nil {
		return domain.Institution{}, fmt.Errorf("postgres: create institution: %w", err)
	}
	return ins, nil
}

func scanInstitutionRow(row pgx.Row) (domain.Institution, error) {
	var ins domain.Institution
	var regions, verticals []string

	err := row.Scan(&ins.ID, &ins.Name, &regions, &verticals, &ins.CreatedAt, &ins.UpdatedAt)
	if err != nil {
		return domain.Institution{}, err
	}
	ins.Regions = toRegions(regions)
	ins.Verticals = toVerticals(verticals)
	return ins, nil
}

// GetInstitution returns the institution with the given id.
func (s *InstitutionStore) GetInstitution(ctx context.Context, id string) (domain.Institution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, regions, verticals, created_at, updated_at
		 FROM institutions WHERE id = $1`, id)

	ins, err := scanInstitutionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Institution{}, domain.ErrNotFound
		}
		return domain.Institution{}, fmt.Errorf("postgres: get institution %s: %w", id, err)
	}
	return ins, nil
}

// ListInstitutions returns every institution, oldest first.
func (s *InstitutionStore) ListInstitutions(ctx context.Context) ([]domain.Institution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, regions, verticals, created_at, updated_at
		 FROM institutions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list institutions: %w", err)
	}
	defer rows.Close()

	var out []domain.Institution
	for rows.Next() {
		ins, err := scanInstitutionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan institution: %w", err)
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// CreateAssetTemplate inserts a new asset template.
func (s *InstitutionStore) CreateAssetTemplate(ctx context.Context, input domain.CreateAssetTemplateInput) (domain.AssetTemplate, error) {
	configJSON, err := json.Marshal(input.Config)
	if err != nil {
		return domain.AssetTemplate{}, fmt.Errorf("postgres: marshal template config: %w", err)
	}

	tpl := domain.AssetTemplate{
		ID:            domain.NewID("tpl"),
		InstitutionID: input.InstitutionID,
		Code:          input.Code,
		Name:          input.Name,
		Vertical:      input.Vertical,
		Region:        input.Region,
		Config:        input.Config,
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO asset_templates (id, institution_id, code, name, vertical, region, config)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at, updated_at`,
		tpl.ID, tpl.InstitutionID, tpl.Code, tpl.Name, string(tpl.Vertical), string(tpl.Region), configJSON,
	).Scan(&tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return domain.AssetTemplate{}, fmt.Errorf("postgres: create asset template: %w", err)
	}
	return tpl, nil
}

func scanTemplateRow(row pgx.Row) (domain.AssetTemplate, error) {
	var tpl domain.AssetTemplate
	var vertical, region string
	var configJSON []byte

	err := row.Scan(&tpl.ID, &tpl.InstitutionID, &tpl.Code, &tpl.Name,
		&vertical, &region, &configJSON, &tpl.CreatedAt, &tpl.UpdatedAt)
	if err != nil {
		return domain.AssetTemplate{}, err
	}

	tpl.Vertical = domain.Vertical(vertical)
	tpl.Region = domain.Region(region)
	if err := json.Unmarshal(configJSON, &tpl.Config); err != nil {
		return domain.AssetTemplate{}, fmt.Errorf("unmarshal template config: %w", err)
	}
	return tpl, nil
}

// GetAssetTemplate returns the template with the given id.
func (s *InstitutionStore) GetAssetTemplate(ctx context.Context, id string) (domain.AssetTemplate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, institution_id, code, name, vertical, region, config, created_at, updated_at
		 FROM asset_templates WHERE id = $1`, id)

	tpl, err := scanTemplateRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AssetTemplate{}, domain.ErrNotFound
		}
		return domain.AssetTemplate{}, fmt.Errorf("postgres: get asset template %s: %w", id, err)
	}
	return tpl, nil
}

// ListAssetTemplates returns templates matching the filter, oldest first.
func (s *InstitutionStore) ListAssetTemplates(ctx context.Context, filter domain.AssetTemplateFilter) ([]domain.AssetTemplate, error) {
	query := `SELECT id, institution_id, code, name, vertical, region, config, created_at, updated_at
		FROM asset_templates`
	args := []any{}
	if filter.InstitutionID != "" {
		query += ` WHERE institution_id = $1`
		args = append(args, filter.InstitutionID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list asset templates: %w", err)
	}
	defer rows.Close()

	var out []domain.AssetTemplate
	for rows.Next() {
		tpl, err := scanTemplateRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan asset template: %w", err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// CreateAsset inserts a new asset.
func (s *InstitutionStore) CreateAsset(ctx context.Context, input domain.CreateAssetInput) (domain.Asset, error) {
	metadataJSON, err := json.Marshal(input.Metadata)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("postgres: marshal asset metadata: %w", err)
	}

	asset := domain.Asset{
		ID:            domain.NewID("ast"),
		InstitutionID: input.InstitutionID,
		TemplateID:    input.TemplateID,
		Label:         input.Label,
		Metadata:      input.Metadata,
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO assets (id, institution_id, template_id, label, metadata)
		 VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
		asset.ID, asset.InstitutionID, asset.TemplateID, asset.Label, metadataJSON,
	).Scan(&asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return domain.Asset{}, fmt.Errorf("postgres: create asset: %w", err)
	}
	return asset, nil
}

func scanAssetRow(row pgx.Row) (domain.Asset, error) {
	var asset domain.Asset
	var metadataJSON []byte

	err := row.Scan(&asset.ID, &asset.InstitutionID, &asset.TemplateID,
		&asset.Label, &metadataJSON, &asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return domain.Asset{}, err
	}
	if err := json.Unmarshal(metadataJSON, &asset.Metadata); err != nil {
		return domain.Asset{}, fmt.Errorf("unmarshal asset metadata: %w", err)
	}
	return asset, nil
}

// GetAsset returns the asset with the given id.
func (s *InstitutionStore) GetAsset(ctx context.Context, id string) (domain.Asset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, institution_id, template_id, label, metadata, created_at, updated_at
		 FROM assets WHERE id = $1`, id)

	asset, err := scanAssetRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Asset{}, domain.ErrNotFound
		}
		return domain.Asset{}, fmt.Errorf("postgres: get asset %s: %w", id, err)
	}
	return asset, nil
}

// ListAssets returns assets matching the filter, oldest first.
func (s *InstitutionStore) ListAssets(ctx context.Context, filter domain.AssetFilter) ([]domain.Asset, error) {
	query := `SELECT id, institution_id, template_id, label, metadata, created_at, updated_at FROM assets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.InstitutionID != "" {
		query += fmt.Sprintf(" AND institution_id = $%d", argIdx)
		args = append(args, filter.InstitutionID)
		argIdx++
	}
	if filter.TemplateID != "" {
		query += fmt.Sprintf(" AND template_id = $%d", argIdx)
		args = append(args, filter.TemplateID)
	}
	query += " ORDER BY created_at"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list assets: %w", err)
	}
	defer rows.Close()

	var out []domain.Asset
	for rows.Next() {
		asset, err := scanAssetRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan asset: %w", err)
		}
		out = append(out, asset)
	}
	return out, rows.Err()
}
