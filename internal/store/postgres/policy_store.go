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

// PolicyStore implements domain.PolicyStore using PostgreSQL. A unique
// constraint on (institution_id, region) backs the upsert semantics.
type PolicyStore struct {
	pool *pgxpool.Pool
}

// NewPolicyStore creates a new PolicyStore backed by the given connection pool.
func NewPolicyStore(pool *pgxpool.Pool) *PolicyStore {
	return &PolicyStore{pool: pool}
}

func scanPolicyRow(row pgx.Row) (domain.InstitutionPolicy, error) {
	var p domain.InstitutionPolicy
	var region string
	var configJSON []byte

	err := row.Scan(&p.ID, &p.InstitutionID, &region, &configJSON, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.InstitutionPolicy{}, err
	}

	p.Region = domain.Region(region)
	if err := json.Unmarshal(configJSON, &p.Config); err != nil {
		return domain.InstitutionPolicy{}, fmt.Errorf("unmarshal policy config: %w", err)
	}
	return p, nil
}

// Upsert creates or replaces the policy for (institutionID, region).
func (s *PolicyStore) Upsert(
	ctx context.Context,
	institutionID string,
	region domain.Region,
	config domain.PositionPolicyConfig,
) (domain.InstitutionPolicy, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return domain.InstitutionPolicy{}, fmt.Errorf("postgres: marshal policy config: %w", err)
	}

	const query = `
		INSERT INTO institution_policies (id, institution_id, region, config)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (institution_id, region)
		DO UPDATE SET config = EXCLUDED.config, updated_at = NOW()
		RETURNING id, institution_id, region, config, created_at, updated_at`

	policy, err := scanPolicyRow(s.pool.QueryRow(ctx, query,
		domain.NewID("pol"), institutionID, string(region), configJSON))
	if err != nil {
		return domain.InstitutionPolicy{}, fmt.Errorf("postgres: upsert policy %s/%s: %w", institutionID, region, err)
	}
	return policy, nil
}

// Get returns the policy for (institutionID, region), or domain.ErrNotFound.
func (s *PolicyStore) Get(ctx context.Context, institutionID string, region domain.Region) (domain.InstitutionPolicy, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, institution_id, region, config, created_at, updated_at
		 FROM institution_policies WHERE institution_id = $1 AND region = $2`,
		institutionID, string(region))

	policy, err := scanPolicyRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.InstitutionPolicy{}, domain.ErrNotFound
		}
		return domain.InstitutionPolicy{}, fmt.Errorf("postgres: get policy %s/%s: %w", institutionID, region, err)
	}
	return policy, nil
}

// List returns all policies for the institution.
func (s *PolicyStore) List(ctx context.Context, institutionID string) ([]domain.InstitutionPolicy, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, institution_id, region, config, created_at, updated_at
		 FROM institution_policies WHERE institution_id = $1 ORDER BY region`,
		institutionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list policies for %s: %w", institutionID, err)
	}
	defer rows.Close()

	var policies []domain.InstitutionPolicy
	for rows.Next() {
		policy, err := scanPolicyRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan policy: %w", err)
		}
		policies = append(policies, policy)
	}
	return policies, rows.Err()
}
