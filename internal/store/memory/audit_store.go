package memory

import (
	"context"
	"sync"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// AuditStore implements domain.AuditStore with an in-memory append-only list.
type AuditStore struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

// NewAuditStore creates an empty AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Append records one audit event.
func (s *AuditStore) Append(ctx context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

// List returns audit events matching the filter in insertion order.
func (s *AuditStore) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.AuditEvent
	for _, evt := range s.events {
		if filter.Action != "" && evt.Action != filter.Action {
			continue
		}
		out = append(out, evt)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}
