// Package memory implements the domain store interfaces with mutex-guarded
// in-process state. It backs tests and ephemeral deployments; durable
// deployments use the postgres package, which implements the same contracts.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

// PositionStore implements domain.PositionStore in memory.
type PositionStore struct {
	mu        sync.Mutex
	positions map[string]domain.Position
	order     []string
}

// NewPositionStore creates an empty PositionStore.
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]domain.Position)}
}

func clonePosition(p domain.Position) domain.Position {
	clone := p
	clone.Events = make([]domain.PositionLifecycleEvent, len(p.Events))
	copy(clone.Events, p.Events)
	return clone
}

// Create inserts a new position in state CREATED with an empty event list.
func (s *PositionStore) Create(ctx context.Context, input domain.CreatePositionInput) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	pos := domain.Position{
		ID:                domain.NewID("pos"),
		InstitutionID:     input.InstitutionID,
		AssetID:           input.AssetID,
		HolderReference:   input.HolderReference,
		Currency:          input.Currency,
		Amount:            input.Amount,
		State:             domain.PositionStateCreated,
		ExternalReference: input.ExternalReference,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	s.positions[pos.ID] = pos
	s.order = append(s.order, pos.ID)
	return clonePosition(pos), nil
}

// Get returns the position with the given id, or domain.ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return clonePosition(pos), nil
}

// List returns positions matching the filter in insertion order.
func (s *PositionStore) List(ctx context.Context, filter domain.PositionFilter) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Position
	for _, id := range s.order {
		pos := s.positions[id]
		if filter.InstitutionID != "" && pos.InstitutionID != filter.InstitutionID {
			continue
		}
		if filter.AssetID != "" && pos.AssetID != filter.AssetID {
			continue
		}
		if filter.HolderReference != "" && pos.HolderReference != filter.HolderReference {
			continue
		}
		out = append(out, clonePosition(pos))
	}
	return out, nil
}

// Update persists a mutated position, appending latestEvent to its history.
// The whole operation runs under one lock, so the expectedState check and the
// write are a single compare-and-set even with parallel callers.
func (s *PositionStore) Update(
	ctx context.Context,
	position domain.Position,
	latestEvent *domain.PositionLifecycleEvent,
	expectedState *domain.PositionState,
) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.positions[position.ID]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}

	if expectedState != nil && current.State != *expectedState {
		return domain.Position{}, &domain.ConcurrencyConflictError{
			PositionID: position.ID,
			Expected:   *expectedState,
			Actual:     current.State,
		}
	}

	updated := current
	updated.State = position.State
	updated.HolderReference = position.HolderReference
	updated.ExternalReference = position.ExternalReference
	updated.UpdatedAt = position.UpdatedAt
	if latestEvent != nil {
		updated.Events = make([]domain.PositionLifecycleEvent, 0, len(current.Events)+1)
		updated.Events = append(updated.Events, current.Events...)
		updated.Events = append(updated.Events, *latestEvent)
	}

	s.positions[position.ID] = updated
	return clonePosition(updated), nil
}
