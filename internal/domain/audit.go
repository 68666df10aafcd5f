package domain

import (
	"context"
	"time"
)

// AuditAction tags an audited operation.
type AuditAction string

// Success actions.
const (
	AuditInstitutionCreated   AuditAction = "INSTITUTION_CREATED"
	AuditAssetTemplateCreated AuditAction = "ASSET_TEMPLATE_CREATED"
	AuditAssetCreated         AuditAction = "ASSET_CREATED"
	AuditPositionCreated      AuditAction = "POSITION_CREATED"
	AuditPositionTransitioned AuditAction = "POSITION_TRANSITIONED"
	AuditPolicyUpdated        AuditAction = "POLICY_UPDATED"
	AuditOnchainRecorded      AuditAction = "ONCHAIN_LEDGER_RECORDED"
)

// Failure actions, critical for security and operational monitoring.
const (
	AuditAuthFailed            AuditAction = "AUTH_FAILED"
	AuditRateLimited           AuditAction = "RATE_LIMITED"
	AuditValidationFailed      AuditAction = "VALIDATION_FAILED"
	AuditResourceNotFound      AuditAction = "RESOURCE_NOT_FOUND"
	AuditPolicyViolation       AuditAction = "POLICY_VIOLATION"
	AuditInvalidTransition     AuditAction = "INVALID_TRANSITION"
	AuditConcurrencyConflict   AuditAction = "CONCURRENCY_CONFLICT"
	AuditOnchainLedgerFailed   AuditAction = "ONCHAIN_LEDGER_FAILED"
	AuditOnchainRetryExhausted AuditAction = "ONCHAIN_RETRY_EXHAUSTED"
)

// AuditOutcome records whether the audited operation succeeded.
type AuditOutcome string

const (
	AuditOutcomeSuccess AuditOutcome = "success"
	AuditOutcomeFailure AuditOutcome = "failure"
)

// AuditErrorDetail is the structured error attached to failure events.
type AuditErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// AuditEvent is one appended audit record.
type AuditEvent struct {
	ID            string
	Action        AuditAction
	Outcome       AuditOutcome
	Actor         string
	RequestID     string
	InstitutionID string
	ResourceType  string
	ResourceID    string
	Payload       map[string]any
	Error         *AuditErrorDetail
	OccurredAt    time.Time
	CreatedAt     time.Time
}

// AuditFilter narrows audit listings.
type AuditFilter struct {
	Action AuditAction
	Limit  int
}

// AuditStore is the durable, append-only audit sink.
type AuditStore interface {
	Append(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}
