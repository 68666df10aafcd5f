package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append records one audit event.
func (s *AuditStore) Append(ctx context.Context, event domain.AuditEvent) error {
	var payloadJSON, errorJSON []byte
	var err error

	if event.Payload != nil {
		payloadJSON, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit payload: %w", err)
		}
	}
	if event.Error != nil {
		errorJSON, err = json.Marshal(event.Error)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit error: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_events (
			id, action, outcome, actor, request_id, institution_id,
			resource_type, resource_id, payload, error, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, string(event.Action), string(event.Outcome), event.Actor,
		event.RequestID, event.InstitutionID, event.ResourceType, event.ResourceID,
		payloadJSON, errorJSON, event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append audit event %s: %w", event.Action, err)
	}
	return nil
}

// List returns audit events matching the filter in insertion order.
func (s *AuditStore) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	query := `
		SELECT id, action, outcome, actor, request_id, institution_id,
		       resource_type, resource_id, payload, error, occurred_at, created_at
		FROM audit_events`
	args := []any{}
	argIdx := 1

	if filter.Action != "" {
		query += fmt.Sprintf(" WHERE action = $%d", argIdx)
		args = append(args, string(filter.Action))
		argIdx++
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var evt domain.AuditEvent
		var action, outcome string
		var payloadJSON, errorJSON []byte

		if err := rows.Scan(&evt.ID, &action, &outcome, &evt.Actor,
			&evt.RequestID, &evt.InstitutionID, &evt.ResourceType, &evt.ResourceID,
			&payloadJSON, &errorJSON, &evt.OccurredAt, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}

		evt.Action = domain.AuditAction(action)
		evt.Outcome = domain.AuditOutcome(outcome)
		if payloadJSON != nil {
			if err := json.Unmarshal(payloadJSON, &evt.Payload); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit payload: %w", err)
			}
		}
		if errorJSON != nil {
			if err := json.Unmarshal(errorJSON, &evt.Error); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit error: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
