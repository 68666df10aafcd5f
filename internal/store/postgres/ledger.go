package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// Ledger implements domain.Ledger using a durable PostgreSQL table. Per
// position the listing order is timestamp, tie-broken by insertion sequence.
type Ledger struct {
	pool *pgxpool.Pool
}

// NewLedger creates a new Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) insert(ctx context.Context, evt domain.LedgerEvent) error {
	var payloadJSON []byte
	if evt.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("postgres: marshal ledger payload: %w", err)
		}
	}
	var previousState *string
	if evt.PreviousState != nil {
		state := string(*evt.PreviousState)
		previousState = &state
	}

	_, err := l.pool.Exec(ctx,
		`INSERT INTO ledger_events (id, kind, position_id, at, previous_state, new_state, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evt.ID, string(evt.Kind), evt.PositionID, evt.At, previousState, string(evt.NewState), payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: record ledger event %s: %w", evt.Kind, err)
	}
	return nil
}

// RecordPositionCreated appends a POSITION_CREATED event.
func (l *Ledger) RecordPositionCreated(ctx context.Context, position domain.Position, lctx domain.LedgerContext) error {
	return l.insert(ctx, domain.NewPositionCreatedEvent(position, lctx, time.Now().UTC()))
}

// RecordPositionStateChanged appends a POSITION_STATE_CHANGED event.
func (l *Ledger) RecordPositionStateChanged(
	ctx context.Context,
	position domain.Position,
	event domain.PositionLifecycleEvent,
	lctx domain.LedgerContext,
) error {
	return l.insert(ctx, domain.NewPositionStateChangedEvent(position, event, lctx, time.Now().UTC()))
}

// ListEvents returns ledger events matching the filter in per-position
// chronological order.
func (l *Ledger) ListEvents(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEvent, error) {
	query := `SELECT id, kind, position_id, at, previous_state, new_state, payload FROM ledger_events`
	args := []any{}
	if filter.PositionID != "" {
		query += ` WHERE position_id = $1`
		args = append(args, filter.PositionID)
	}
	query += ` ORDER BY at, seq`

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger events: %w", err)
	}
	defer rows.Close()

	var events []domain.LedgerEvent
	for rows.Next() {
		var evt domain.LedgerEvent
		var kind, newState string
		var previousState *string
		var payloadJSON []byte

		if err := rows.Scan(&evt.ID, &kind, &evt.PositionID, &evt.At,
			&previousState, &newState, &payloadJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger event: %w", err)
		}

		evt.Kind = domain.LedgerEventKind(kind)
		evt.NewState = domain.PositionState(newState)
		if previousState != nil {
			state := domain.PositionState(*previousState)
			evt.PreviousState = &state
		}
		if payloadJSON != nil {
			if err := json.Unmarshal(payloadJSON, &evt.Payload); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal ledger payload: %w", err)
			}
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}
