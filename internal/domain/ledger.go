package domain

import (
	"context"
	"time"
)

// LedgerEventKind discriminates ledger event rows.
type LedgerEventKind string

const (
	LedgerEventPositionCreated      LedgerEventKind = "POSITION_CREATED"
	LedgerEventPositionStateChanged LedgerEventKind = "POSITION_STATE_CHANGED"
)

// LedgerEvent is a durable, append-only mirror of a position creation or
// transition, kept independently of the position's own event list. Payload
// carries a business-context snapshot that the lifecycle event does not.
type LedgerEvent struct {
	ID            string
	Kind          LedgerEventKind
	PositionID    string
	At            time.Time
	PreviousState *PositionState
	NewState      PositionState
	Payload       map[string]any
}

// LedgerContext carries request-scoped identity into ledger and audit
// records. All fields are optional.
type LedgerContext struct {
	RequestID string
	Actor     string
}

// LedgerFilter narrows ListEvents. A zero filter returns all events
// (root/operator callers only).
type LedgerFilter struct {
	PositionID string
}

// Ledger is the primary, synchronous event log. A successful return is a
// durability guarantee: the event must never be lost afterwards. Both
// backends preserve insertion order per position.
type Ledger interface {
	RecordPositionCreated(ctx context.Context, position Position, lctx LedgerContext) error
	RecordPositionStateChanged(ctx context.Context, position Position, event PositionLifecycleEvent, lctx LedgerContext) error
	ListEvents(ctx context.Context, filter LedgerFilter) ([]LedgerEvent, error)
}

// NewPositionCreatedEvent builds the ledger row for a position creation. Both
// ledger backends and the on-chain mirror record the same shape.
func NewPositionCreatedEvent(position Position, lctx LedgerContext, now time.Time) LedgerEvent {
	payload := map[string]any{
		"institutionId": position.InstitutionID,
		"assetId":       position.AssetID,
		"currency":      position.Currency,
		"amount":        position.Amount.String(),
		"state":         string(position.State),
	}
	if position.ExternalReference != nil {
		payload["externalReference"] = *position.ExternalReference
	}
	if lctx.RequestID != "" {
		payload["requestId"] = lctx.RequestID
	}

	return LedgerEvent{
		ID:         NewID("led"),
		Kind:       LedgerEventPositionCreated,
		PositionID: position.ID,
		At:         now,
		NewState:   position.State,
		Payload:    payload,
	}
}

// NewPositionStateChangedEvent builds the ledger row for one transition.
func NewPositionStateChangedEvent(position Position, event PositionLifecycleEvent, lctx LedgerContext, now time.Time) LedgerEvent {
	payload := map[string]any{
		"institutionId": position.InstitutionID,
		"assetId":       position.AssetID,
		"toState":       string(event.ToState),
		"at":            event.At.Format(time.RFC3339Nano),
	}
	if event.FromState != nil {
		payload["fromState"] = string(*event.FromState)
	}
	if event.Reason != nil {
		payload["reason"] = *event.Reason
	}
	if lctx.RequestID != "" {
		payload["requestId"] = lctx.RequestID
	}

	return LedgerEvent{
		ID:            NewID("led"),
		Kind:          LedgerEventPositionStateChanged,
		PositionID:    position.ID,
		At:            now,
		PreviousState: event.FromState,
		NewState:      event.ToState,
		Payload:       payload,
	}
}
