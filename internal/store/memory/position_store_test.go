package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

func createTestPosition(t *testing.T, s *PositionStore) domain.Position {
	t.Helper()
	pos, err := s.Create(context.Background(), domain.CreatePositionInput{
		InstitutionID:   "ins_1",
		AssetID:         "ast_1",
		HolderReference: "holder-1",
		Currency:        "EUR",
		Amount:          decimal.NewFromInt(250000),
	})
	require.NoError(t, err)
	return pos
}

func TestPositionStoreCreateAndGet(t *testing.T) {
	s := NewPositionStore()
	pos := createTestPosition(t, s)

	assert.Equal(t, domain.PositionStateCreated, pos.State)
	assert.Empty(t, pos.Events)

	got, err := s.Get(context.Background(), pos.ID)
	require.NoError(t, err)
	assert.Equal(t, pos.ID, got.ID)

	_, err = s.Get(context.Background(), "pos_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPositionStoreUpdateAppendsEvent(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	pos := createTestPosition(t, s)

	next, err := domain.ApplyTransition(pos, domain.PositionStateFunded, nil, nil, time.Now().UTC())
	require.NoError(t, err)

	expected := domain.PositionStateCreated
	updated, err := s.Update(ctx, next, &next.Events[0], &expected)
	require.NoError(t, err)

	assert.Equal(t, domain.PositionStateFunded, updated.State)
	require.Len(t, updated.Events, 1)
	assert.Equal(t, domain.PositionStateFunded, updated.Events[0].ToState)

	// The stored copy reflects the same history.
	got, err := s.Get(ctx, pos.ID)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)
}

func TestPositionStoreUpdateConflict(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	pos := createTestPosition(t, s)

	// Move to FUNDED out-of-band.
	funded, err := domain.ApplyTransition(pos, domain.PositionStateFunded, nil, nil, time.Now().UTC())
	require.NoError(t, err)
	expected := domain.PositionStateCreated
	_, err = s.Update(ctx, funded, &funded.Events[0], &expected)
	require.NoError(t, err)

	// A writer still expecting CREATED must lose.
	stale, err := domain.ApplyTransition(pos, domain.PositionStateCancelled, nil, nil, time.Now().UTC())
	require.NoError(t, err)
	_, err = s.Update(ctx, stale, &stale.Events[0], &expected)

	var conflict *domain.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, pos.ID, conflict.PositionID)
	assert.Equal(t, domain.PositionStateCreated, conflict.Expected)
	assert.Equal(t, domain.PositionStateFunded, conflict.Actual)

	// The losing write was not applied.
	got, err := s.Get(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStateFunded, got.State)
	assert.Len(t, got.Events, 1)
}

func TestPositionStoreConcurrentWritersExactlyOneWins(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	for range 50 {
		pos := createTestPosition(t, s)
		now := time.Now().UTC()

		funded, err := domain.ApplyTransition(pos, domain.PositionStateFunded, nil, nil, now)
		require.NoError(t, err)
		cancelled, err := domain.ApplyTransition(pos, domain.PositionStateCancelled, nil, nil, now)
		require.NoError(t, err)

		expected := domain.PositionStateCreated
		errs := make([]error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = s.Update(ctx, funded, &funded.Events[0], &expected)
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = s.Update(ctx, cancelled, &cancelled.Events[0], &expected)
		}()
		wg.Wait()

		var conflicts, successes int
		for _, err := range errs {
			if err == nil {
				successes++
				continue
			}
			var conflict *domain.ConcurrencyConflictError
			require.ErrorAs(t, err, &conflict)
			conflicts++
			assert.Equal(t, domain.PositionStateCreated, conflict.Expected)
		}
		assert.Equal(t, 1, successes, "exactly one writer must win")
		assert.Equal(t, 1, conflicts, "exactly one writer must conflict")

		got, err := s.Get(ctx, pos.ID)
		require.NoError(t, err)
		assert.Len(t, got.Events, 1, "loser must not append an event")
	}
}

func TestPositionStoreUnconditionalUpdate(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	pos := createTestPosition(t, s)

	pos.ExternalReference = strPtr("ext-42")
	pos.UpdatedAt = time.Now().UTC()
	updated, err := s.Update(ctx, pos, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, updated.ExternalReference)
	assert.Equal(t, "ext-42", *updated.ExternalReference)
	assert.Empty(t, updated.Events)
}

func TestPositionStoreListFilters(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	_, err := s.Create(ctx, domain.CreatePositionInput{
		InstitutionID: "ins_a", AssetID: "ast_1", HolderReference: "h1",
		Currency: "EUR", Amount: decimal.NewFromInt(1000),
	})
	require.NoError(t, err)
	_, err = s.Create(ctx, domain.CreatePositionInput{
		InstitutionID: "ins_b", AssetID: "ast_2", HolderReference: "h2",
		Currency: "USD", Amount: decimal.NewFromInt(2000),
	})
	require.NoError(t, err)

	all, err := s.List(ctx, domain.PositionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byInstitution, err := s.List(ctx, domain.PositionFilter{InstitutionID: "ins_a"})
	require.NoError(t, err)
	require.Len(t, byInstitution, 1)
	assert.Equal(t, "ins_a", byInstitution[0].InstitutionID)

	byHolder, err := s.List(ctx, domain.PositionFilter{HolderReference: "h2"})
	require.NoError(t, err)
	require.Len(t, byHolder, 1)
	assert.Equal(t, "ast_2", byHolder[0].AssetID)
}

func strPtr(s string) *string { return &s }
