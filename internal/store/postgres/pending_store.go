package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// PendingOnchainStore implements domain.PendingOnchainStore using PostgreSQL,
// so the retry queue survives process restarts.
type PendingOnchainStore struct {
	pool *pgxpool.Pool
}

// NewPendingOnchainStore creates a new PendingOnchainStore backed by the given
// connection pool.
func NewPendingOnchainStore(pool *pgxpool.Pool) *PendingOnchainStore {
	return &PendingOnchainStore{pool: pool}
}

const pendingSelectCols = `id, kind, position_id, payload, attempts, last_error, last_attempt_at, created_at`

func scanPendingRows(rows pgx.Rows) ([]domain.PendingOnchainOperation, error) {
	var ops []domain.PendingOnchainOperation
	for rows.Next() {
		var op domain.PendingOnchainOperation
		var kind string
		if err := rows.Scan(&op.ID, &kind, &op.PositionID, &op.Payload,
			&op.Attempts, &op.LastError, &op.LastAttemptAt, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending operation: %w", err)
		}
		op.Kind = domain.LedgerEventKind(kind)
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Enqueue inserts a new pending operation.
func (s *PendingOnchainStore) Enqueue(ctx context.Context, op domain.PendingOnchainOperation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pending_onchain_operations (
			id, kind, position_id, payload, attempts, last_error, last_attempt_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		op.ID, string(op.Kind), op.PositionID, op.Payload,
		op.Attempts, op.LastError, op.LastAttemptAt, op.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: enqueue pending operation %s: %w", op.ID, err)
	}
	return nil
}

// Update persists the attempt count, error, and timestamp after a retry.
func (s *PendingOnchainStore) Update(ctx context.Context, op domain.PendingOnchainOperation) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE pending_onchain_operations
		 SET attempts = $2, last_error = $3, last_attempt_at = $4
		 WHERE id = $1`,
		op.ID, op.Attempts, op.LastError, op.LastAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update pending operation %s: %w", op.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a pending operation after a successful submission.
func (s *PendingOnchainStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM pending_onchain_operations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete pending operation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListDue returns operations below the attempt cap, oldest first.
func (s *PendingOnchainStore) ListDue(ctx context.Context, maxAttempts, limit int) ([]domain.PendingOnchainOperation, error) {
	query := `SELECT ` + pendingSelectCols + `
		FROM pending_onchain_operations WHERE attempts < $1 ORDER BY created_at`
	args := []any{maxAttempts}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due pending operations: %w", err)
	}
	defer rows.Close()

	ops, err := scanPendingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return ops, nil
}

// List returns every queued operation, terminal entries included.
func (s *PendingOnchainStore) List(ctx context.Context, limit int) ([]domain.PendingOnchainOperation, error) {
	query := `SELECT ` + pendingSelectCols + ` FROM pending_onchain_operations ORDER BY created_at`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending operations: %w", err)
	}
	defer rows.Close()

	ops, err := scanPendingRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return ops, nil
}

// Count returns the total queue depth, terminal entries included.
func (s *PendingOnchainStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_onchain_operations`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count pending operations: %w", err)
	}
	return count, nil
}
