package domain

import (
	"context"
	"time"
)

// ChainSubmitter submits one ledger event to the external chain. Implemented
// by a concrete adapter per target chain SDK; the mirror and the retry queue
// depend only on this interface.
type ChainSubmitter interface {
	Submit(ctx context.Context, positionID string, kind LedgerEventKind, payloadJSON string) (txID string, err error)
}

// PendingOnchainOperation is a queued retry record for a ledger event that
// failed to reach the chain. Attempts counts every submission including the
// original inline one; entries that exhaust the configured maximum are
// retained for inspection rather than deleted.
type PendingOnchainOperation struct {
	ID            string
	Kind          LedgerEventKind
	PositionID    string
	Payload       string
	Attempts      int
	LastError     string
	LastAttemptAt time.Time
	CreatedAt     time.Time
}

// PendingOnchainStore persists the retry queue. ListDue returns entries with
// attempts below maxAttempts in creation order; List and Count expose the
// whole queue, terminal entries included, for operational dashboards.
type PendingOnchainStore interface {
	Enqueue(ctx context.Context, op PendingOnchainOperation) error
	Update(ctx context.Context, op PendingOnchainOperation) error
	Delete(ctx context.Context, id string) error
	ListDue(ctx context.Context, maxAttempts, limit int) ([]PendingOnchainOperation, error)
	List(ctx context.Context, limit int) ([]PendingOnchainOperation, error)
	Count(ctx context.Context) (int, error)
}
