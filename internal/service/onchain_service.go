package service

import (
	"context"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// OnchainService exposes the retry queue to operational tooling: queue depth
// for alerting and the full entry list for inspection of terminal failures.
type OnchainService struct {
	pending domain.PendingOnchainStore
}

// NewOnchainService creates an OnchainService.
func NewOnchainService(pending domain.PendingOnchainStore) *OnchainService {
	return &OnchainService{pending: pending}
}

// PendingCount returns the total queue depth, exhausted entries included.
func (s *OnchainService) PendingCount(ctx context.Context) (int, error) {
	return s.pending.Count(ctx)
}

// PendingOperations lists queue entries in creation order. limit <= 0 means
// no limit.
func (s *OnchainService) PendingOperations(ctx context.Context, limit int) ([]domain.PendingOnchainOperation, error) {
	return s.pending.List(ctx, limit)
}
