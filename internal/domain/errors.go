package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrLockHeld      = errors.New("lock already held")
)

// InvalidTransitionError is returned when a requested state change is not in
// the transition table. It is a caller error and must not be retried.
type InvalidTransitionError struct {
	From PositionState
	To   PositionState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Policy violation rules, surfaced verbatim in error details.
const (
	PolicyRuleBelowMinimum      = "below minimum"
	PolicyRuleAboveMaximum      = "above maximum"
	PolicyRuleCurrencyNotAllowed = "currency not allowed"
)

// PolicyViolationError is returned when a position create request falls
// outside the configured institution policy. Detail names the specific bound
// or allow-list involved so the caller can adjust and retry.
type PolicyViolationError struct {
	Rule   string
	Detail string
}

func (e *PolicyViolationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("policy violation: %s", e.Rule)
	}
	return fmt.Sprintf("policy violation: %s (%s)", e.Rule, e.Detail)
}

// ConcurrencyConflictError is returned by a guarded position update when the
// persisted state no longer matches the expected state. The write was not
// applied; the caller should re-read and retry.
type ConcurrencyConflictError struct {
	PositionID string
	Expected   PositionState
	Actual     PositionState
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on position %s: expected state %s, actual %s",
		e.PositionID, e.Expected, e.Actual)
}

// OnchainError wraps a failed on-chain ledger submission. In fail mode it is
// propagated to the caller; in queue mode it only appears in logs and in the
// pending operation's LastError.
type OnchainError struct {
	Op         string
	PositionID string
	Err        error
}

func (e *OnchainError) Error() string {
	return fmt.Sprintf("onchain ledger %s for position %s: %v", e.Op, e.PositionID, e.Err)
}

func (e *OnchainError) Unwrap() error {
	return e.Err
}
