package memory

import (
	"context"
	"sync"
	"time"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// Ledger implements domain.Ledger with an in-memory event list. Insertion
// order per position is preserved by the backing slice.
type Ledger struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// RecordPositionCreated appends a POSITION_CREATED event.
func (l *Ledger) RecordPositionCreated(ctx context.Context, position domain.Position, lctx domain.LedgerContext) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, domain.NewPositionCreatedEvent(position, lctx, time.Now().UTC()))
	return nil
}

// RecordPositionStateChanged appends a POSITION_STATE_CHANGED event for the
// given lifecycle event.
func (l *Ledger) RecordPositionStateChanged(
	ctx context.Context,
	position domain.Position,
	event domain.PositionLifecycleEvent,
	lctx domain.LedgerContext,
) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, domain.NewPositionStateChangedEvent(position, event, lctx, time.Now().UTC()))
	return nil
}

// ListEvents returns events matching the filter in insertion order.
func (l *Ledger) ListEvents(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.LedgerEvent
	for _, evt := range l.events {
		if filter.PositionID != "" && evt.PositionID != filter.PositionID {
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}
