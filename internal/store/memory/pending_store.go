package memory

import (
	"context"
	"sync"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// PendingOnchainStore implements domain.PendingOnchainStore in memory. An
// in-memory queue does not survive restarts and is acceptable only for
// non-durable deployments; the postgres variant backs everything else.
type PendingOnchainStore struct {
	mu    sync.Mutex
	ops   map[string]domain.PendingOnchainOperation
	order []string
}

// NewPendingOnchainStore creates an empty PendingOnchainStore.
func NewPendingOnchainStore() *PendingOnchainStore {
	return &PendingOnchainStore{ops: make(map[string]domain.PendingOnchainOperation)}
}

// Enqueue inserts a new pending operation.
func (s *PendingOnchainStore) Enqueue(ctx context.Context, op domain.PendingOnchainOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ops[op.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.ops[op.ID] = op
	s.order = append(s.order, op.ID)
	return nil
}

// Update replaces the stored operation after a retry attempt.
func (s *PendingOnchainStore) Update(ctx context.Context, op domain.PendingOnchainOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ops[op.ID]; !ok {
		return domain.ErrNotFound
	}
	s.ops[op.ID] = op
	return nil
}

// Delete removes a pending operation after a successful submission.
func (s *PendingOnchainStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ops[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.ops, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListDue returns operations that have not exhausted maxAttempts, oldest
// first. Terminal entries are retained but never returned here.
func (s *PendingOnchainStore) ListDue(ctx context.Context, maxAttempts, limit int) ([]domain.PendingOnchainOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PendingOnchainOperation
	for _, id := range s.order {
		op := s.ops[id]
		if op.Attempts >= maxAttempts {
			continue
		}
		out = append(out, op)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// List returns every queued operation, terminal entries included.
func (s *PendingOnchainStore) List(ctx context.Context, limit int) ([]domain.PendingOnchainOperation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PendingOnchainOperation
	for _, id := range s.order {
		out = append(out, s.ops[id])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the total queue depth, terminal entries included.
func (s *PendingOnchainStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops), nil
}
