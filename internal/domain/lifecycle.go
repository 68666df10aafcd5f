package domain

import "time"

// allowedTransitions is the full transition table for position states.
// Terminal states map to an empty set.
var allowedTransitions = map[PositionState][]PositionState{
	PositionStateCreated: {
		PositionStateFunded,
		PositionStateCancelled,
		PositionStateExpired,
	},
	PositionStateFunded: {
		PositionStatePartiallyReleased,
		PositionStateReleased,
		PositionStateCancelled,
		PositionStateExpired,
	},
	PositionStatePartiallyReleased: {
		PositionStatePartiallyReleased,
		PositionStateReleased,
		PositionStateCancelled,
		PositionStateExpired,
	},
	PositionStateReleased:  {},
	PositionStateCancelled: {},
	PositionStateExpired:   {},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to PositionState) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ApplyTransition computes the result of moving position to toState at now.
// It is pure: it performs no I/O and does not mutate its input.
//
// Transitioning a position to its current state is an explicit no-op: the
// input position is returned unchanged, with no new event and no UpdatedAt
// bump. Re-applying a transition is therefore always safe.
func ApplyTransition(
	position Position,
	toState PositionState,
	reason *string,
	metadata map[string]any,
	now time.Time,
) (Position, error) {
	if position.State == toState {
		return position, nil
	}

	if !CanTransition(position.State, toState) {
		return Position{}, &InvalidTransitionError{From: position.State, To: toState}
	}

	fromState := position.State
	event := PositionLifecycleEvent{
		ID:         NewID("ple"),
		PositionID: position.ID,
		FromState:  &fromState,
		ToState:    toState,
		Reason:     reason,
		Metadata:   metadata,
		At:         now,
	}

	next := position
	next.State = toState
	next.UpdatedAt = now
	next.Events = make([]PositionLifecycleEvent, 0, len(position.Events)+1)
	next.Events = append(next.Events, position.Events...)
	next.Events = append(next.Events, event)
	return next, nil
}
