package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/escrowcore/internal/domain"
)

func TestLedgerRoundTrip(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	pos := domain.Position{
		ID:            "pos_1",
		InstitutionID: "ins_1",
		AssetID:       "ast_1",
		Currency:      "EUR",
		Amount:        decimal.NewFromInt(500),
		State:         domain.PositionStateCreated,
	}
	require.NoError(t, l.RecordPositionCreated(ctx, pos, domain.LedgerContext{RequestID: "req-1"}))

	from := domain.PositionStateCreated
	evt := domain.PositionLifecycleEvent{
		ID:         "ple_1",
		PositionID: pos.ID,
		FromState:  &from,
		ToState:    domain.PositionStateFunded,
		At:         time.Now().UTC(),
	}
	pos.State = domain.PositionStateFunded
	require.NoError(t, l.RecordPositionStateChanged(ctx, pos, evt, domain.LedgerContext{}))

	events, err := l.ListEvents(ctx, domain.LedgerFilter{PositionID: "pos_1"})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, domain.LedgerEventPositionCreated, events[0].Kind)
	assert.Equal(t, domain.PositionStateCreated, events[0].NewState)
	assert.Equal(t, "req-1", events[0].Payload["requestId"])
	assert.Equal(t, "500", events[0].Payload["amount"])

	assert.Equal(t, domain.LedgerEventPositionStateChanged, events[1].Kind)
	require.NotNil(t, events[1].PreviousState)
	assert.Equal(t, domain.PositionStateCreated, *events[1].PreviousState)
	assert.Equal(t, domain.PositionStateFunded, events[1].NewState)
}

func TestLedgerFilterByPosition(t *testing.T) {
	l := NewLedger()
	ctx := context.Background()

	for _, id := range []string{"pos_a", "pos_b", "pos_a"} {
		pos := domain.Position{ID: id, Amount: decimal.NewFromInt(1), State: domain.PositionStateCreated}
		require.NoError(t, l.RecordPositionCreated(ctx, pos, domain.LedgerContext{}))
	}

	all, err := l.ListEvents(ctx, domain.LedgerFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	onlyA, err := l.ListEvents(ctx, domain.LedgerFilter{PositionID: "pos_a"})
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)
	for _, evt := range onlyA {
		assert.Equal(t, "pos_a", evt.PositionID)
	}
}
