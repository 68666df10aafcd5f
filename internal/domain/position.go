package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionState is the lifecycle state of an escrow position.
type PositionState string

const (
	PositionStateCreated           PositionState = "CREATED"
	PositionStateFunded            PositionState = "FUNDED"
	PositionStatePartiallyReleased PositionState = "PARTIALLY_RELEASED"
	PositionStateReleased          PositionState = "RELEASED"
	PositionStateCancelled         PositionState = "CANCELLED"
	PositionStateExpired           PositionState = "EXPIRED"
)

// PositionStates lists every valid position state, useful for validation.
var PositionStates = []PositionState{
	PositionStateCreated,
	PositionStateFunded,
	PositionStatePartiallyReleased,
	PositionStateReleased,
	PositionStateCancelled,
	PositionStateExpired,
}

// Valid reports whether s is one of the defined position states.
func (s PositionState) Valid() bool {
	for _, state := range PositionStates {
		if s == state {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no outbound transitions.
func (s PositionState) Terminal() bool {
	switch s {
	case PositionStateReleased, PositionStateCancelled, PositionStateExpired:
		return true
	default:
		return false
	}
}

// PositionLifecycleEvent is the immutable record of one state transition.
// FromState is nil only for the implicit initial state.
type PositionLifecycleEvent struct {
	ID         string
	PositionID string
	FromState  *PositionState
	ToState    PositionState
	Reason     *string
	Metadata   map[string]any
	At         time.Time
}

// Position is a monetary claim held in escrow against an asset. Events is
// append-only; the current State always equals the ToState of the last event,
// or CREATED when no events exist.
type Position struct {
	ID                string
	InstitutionID     string
	AssetID           string
	HolderReference   string
	Currency          string
	Amount            decimal.Decimal
	State             PositionState
	ExternalReference *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Events            []PositionLifecycleEvent
}

// maxAmountFractionDigits is the precision limit for position amounts.
const maxAmountFractionDigits = 8

// ValidateAmount checks that amount is positive with at most 8 fractional
// digits.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(maxAmountFractionDigits)) {
		return fmt.Errorf("%w: at most %d fractional digits", ErrInvalidAmount, maxAmountFractionDigits)
	}
	return nil
}
