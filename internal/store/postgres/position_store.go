package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, institution_id, asset_id, holder_reference, currency,
	amount::text, state, external_reference, created_at, updated_at`

func scanPositionRow(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var amount, state string

	err := row.Scan(
		&p.ID, &p.InstitutionID, &p.AssetID, &p.HolderReference, &p.Currency,
		&amount, &state, &p.ExternalReference, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}

	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.Position{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	p.State = domain.PositionState(state)
	return p, nil
}

// Create inserts a new position in state CREATED with an empty event list.
func (s *PositionStore) Create(ctx context.Context, input domain.CreatePositionInput) (domain.Position, error) {
	const query = `
		INSERT INTO positions (
			id, institution_id, asset_id, holder_reference, currency,
			amount, state, external_reference
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	pos := domain.Position{
		ID:                domain.NewID("pos"),
		InstitutionID:     input.InstitutionID,
		AssetID:           input.AssetID,
		HolderReference:   input.HolderReference,
		Currency:          input.Currency,
		Amount:            input.Amount,
		State:             domain.PositionStateCreated,
		ExternalReference: input.ExternalReference,
	}

	err := s.pool.QueryRow(ctx, query,
		pos.ID, pos.InstitutionID, pos.AssetID, pos.HolderReference, pos.Currency,
		pos.Amount.String(), string(pos.State), pos.ExternalReference,
	).Scan(&pos.CreatedAt, &pos.UpdatedAt)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: create position: %w", err)
	}
	return pos, nil
}

// Get retrieves a position together with its ordered event history.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	pos, err := scanPositionRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}

	pos.Events, err = s.listEvents(ctx, id)
	if err != nil {
		return domain.Position{}, err
	}
	return pos, nil
}

func (s *PositionStore) listEvents(ctx context.Context, positionID string) ([]domain.PositionLifecycleEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position_id, from_state, to_state, reason, metadata, at
		 FROM position_events WHERE position_id = $1 ORDER BY at, seq`, positionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for %s: %w", positionID, err)
	}
	defer rows.Close()

	var events []domain.PositionLifecycleEvent
	for rows.Next() {
		var evt domain.PositionLifecycleEvent
		var fromState *string
		var metadataJSON []byte

		if err := rows.Scan(&evt.ID, &evt.PositionID, &fromState, &evt.ToState,
			&evt.Reason, &metadataJSON, &evt.At); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		if fromState != nil {
			state := domain.PositionState(*fromState)
			evt.FromState = &state
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &evt.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event metadata: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// List returns positions matching the filter, oldest first. Event histories
// are not populated; callers needing events should Get individual positions.
func (s *PositionStore) List(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.InstitutionID != "" {
		query += fmt.Sprintf(" AND institution_id = $%d", argIdx)
		args = append(args, filter.InstitutionID)
		argIdx++
	}
	if filter.AssetID != "" {
		query += fmt.Sprintf(" AND asset_id = $%d", argIdx)
		args = append(args, filter.AssetID)
		argIdx++
	}
	if filter.HolderReference != "" {
		query += fmt.Sprintf(" AND holder_reference = $%d", argIdx)
		args = append(args, filter.HolderReference)
	}

	query += " ORDER BY created_at, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPositionRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Update persists a mutated position and appends latestEvent in the same
// transaction. When expectedState is non-nil the row update is guarded by a
// WHERE clause on the current state, so the check and the write are one
// atomic statement even under parallel writers; on mismatch nothing is
// written and a ConcurrencyConflictError reports the actual state.
func (s *PositionStore) Update(
	ctx context.Context,
	position domain.Position,
	latestEvent *domain.PositionLifecycleEvent,
	expectedState *domain.PositionState,
) (domain.Position, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		UPDATE positions SET
			holder_reference   = $2,
			state              = $3,
			external_reference = $4,
			updated_at         = $5
		WHERE id = $1`
	args := []any{
		position.ID, position.HolderReference, string(position.State),
		position.ExternalReference, position.UpdatedAt,
	}
	if expectedState != nil {
		query += ` AND state = $6`
		args = append(args, string(*expectedState))
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: update position %s: %w", position.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the position is gone or the guard failed; look at the
		// current row to tell the two apart.
		var actual string
		err := tx.QueryRow(ctx, `SELECT state FROM positions WHERE id = $1`, position.ID).Scan(&actual)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		if err != nil {
			return domain.Position{}, fmt.Errorf("postgres: read state of %s: %w", position.ID, err)
		}
		if expectedState == nil {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, &domain.ConcurrencyConflictError{
			PositionID: position.ID,
			Expected:   *expectedState,
			Actual:     domain.PositionState(actual),
		}
	}

	if latestEvent != nil {
		var metadataJSON []byte
		if latestEvent.Metadata != nil {
			metadataJSON, err = json.Marshal(latestEvent.Metadata)
			if err != nil {
				return domain.Position{}, fmt.Errorf("postgres: marshal event metadata: %w", err)
			}
		}
		var fromState *string
		if latestEvent.FromState != nil {
			state := string(*latestEvent.FromState)
			fromState = &state
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO position_events (id, position_id, from_state, to_state, reason, metadata, at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			latestEvent.ID, latestEvent.PositionID, fromState, string(latestEvent.ToState),
			latestEvent.Reason, metadataJSON, latestEvent.At,
		)
		if err != nil {
			return domain.Position{}, fmt.Errorf("postgres: append event for %s: %w", position.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Position{}, fmt.Errorf("postgres: commit update of %s: %w", position.ID, err)
	}

	return s.Get(ctx, position.ID)
}
