package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/escrowgrid/escrowcore/internal/audit"
	"github.com/escrowgrid/escrowcore/internal/domain"
	"github.com/escrowgrid/escrowcore/internal/store/memory"
)

type recordedAlert struct {
	event   string
	title   string
	message string
}

type fakeAlerter struct {
	alerts []recordedAlert
}

func (f *fakeAlerter) Notify(_ context.Context, event, title, message string) error {
	f.alerts = append(f.alerts, recordedAlert{event: event, title: title, message: message})
	return nil
}

type fakeLocker struct {
	err      error
	acquired int
}

func (f *fakeLocker) Acquire(_ context.Context, _ string, _ time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func() {}, nil
}

func newRetryFixture(t *testing.T, submitter *fakeSubmitter, locker BatchLocker, alerter Alerter, cfg RetryConfig) (*RetryWorker, *memory.PendingOnchainStore, *memory.AuditStore) {
	t.Helper()
	pending := memory.NewPendingOnchainStore()
	auditMem := memory.NewAuditStore()
	auditLog := audit.NewLogger(auditMem, testLogger())
	worker := NewRetryWorker(pending, submitter, auditLog, locker, nil, alerter, cfg, testLogger())
	return worker, pending, auditMem
}

func enqueueOp(t *testing.T, pending *memory.PendingOnchainStore, attempts int) domain.PendingOnchainOperation {
	t.Helper()
	now := time.Now().UTC()
	op := domain.PendingOnchainOperation{
		ID:            domain.NewID("pnd"),
		Kind:          domain.LedgerEventPositionStateChanged,
		PositionID:    domain.NewID("pos"),
		Payload:       `{"toState":"FUNDED"}`,
		Attempts:      attempts,
		LastError:     "rpc timeout",
		LastAttemptAt: now,
		CreatedAt:     now,
	}
	require.NoError(t, pending.Enqueue(context.Background(), op))
	return op
}

func TestRetryWorkerDrainsOnSuccess(t *testing.T) {
	ctx := context.Background()
	submitter := &fakeSubmitter{}
	worker, pending, auditMem := newRetryFixture(t, submitter, nil, nil, RetryConfig{MaxAttempts: 5})
	op := enqueueOp(t, pending, 1)

	require.NoError(t, worker.ProcessBatch(ctx))

	require.Equal(t, 1, submitter.callCount())
	assert.Equal(t, op.PositionID, submitter.calls[0].positionID)
	assert.Equal(t, op.Payload, submitter.calls[0].payload)

	count, err := pending.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	events, err := auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditOnchainRecorded})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, op.PositionID, events[0].ResourceID)
	assert.Equal(t, true, events[0].Payload["retried"])
}

func TestRetryWorkerIncrementsAttemptsOnFailure(t *testing.T) {
	ctx := context.Background()
	submitter := &fakeSubmitter{errs: []error{errors.New("still down")}}
	worker, pending, auditMem := newRetryFixture(t, submitter, nil, nil, RetryConfig{MaxAttempts: 5})
	op := enqueueOp(t, pending, 1)

	require.NoError(t, worker.ProcessBatch(ctx))

	ops, err := pending.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 2, ops[0].Attempts)
	assert.Contains(t, ops[0].LastError, "still down")
	assert.True(t, ops[0].LastAttemptAt.After(op.LastAttemptAt) || ops[0].LastAttemptAt.Equal(op.LastAttemptAt))

	// Not exhausted yet, so no escalation.
	events, err := auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditOnchainRetryExhausted})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRetryWorkerEscalatesOnExhaustion(t *testing.T) {
	ctx := context.Background()
	submitter := &fakeSubmitter{errs: []error{errors.New("permanently down")}}
	alerter := &fakeAlerter{}
	worker, pending, auditMem := newRetryFixture(t, submitter, nil, alerter, RetryConfig{MaxAttempts: 3})
	op := enqueueOp(t, pending, 2)

	require.NoError(t, worker.ProcessBatch(ctx))

	// Entry is retained as a terminal record.
	ops, err := pending.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 3, ops[0].Attempts)

	events, err := auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditOnchainRetryExhausted})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, op.PositionID, events[0].ResourceID)

	require.Len(t, alerter.alerts, 1)
	assert.Equal(t, "onchain_retry_exhausted", alerter.alerts[0].event)
	assert.Contains(t, alerter.alerts[0].message, op.PositionID)

	// Terminal entries are no longer picked up.
	submitter.errs = nil
	require.NoError(t, worker.ProcessBatch(ctx))
	assert.Equal(t, 1, submitter.callCount())
}

func TestRetryWorkerRecoversAfterTransientFailures(t *testing.T) {
	ctx := context.Background()
	submitter := &fakeSubmitter{errs: []error{errors.New("flaky"), errors.New("flaky")}}
	worker, pending, auditMem := newRetryFixture(t, submitter, nil, nil, RetryConfig{MaxAttempts: 5})
	enqueueOp(t, pending, 1)

	require.NoError(t, worker.ProcessBatch(ctx))
	require.NoError(t, worker.ProcessBatch(ctx))
	require.NoError(t, worker.ProcessBatch(ctx))

	count, err := pending.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	events, err := auditMem.List(ctx, domain.AuditFilter{Action: domain.AuditOnchainRecorded})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 4, events[0].Payload["attempts"])
}

func TestRetryWorkerSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	submitter := &fakeSubmitter{}
	locker := &fakeLocker{err: domain.ErrLockHeld}
	worker, pending, _ := newRetryFixture(t, submitter, locker, nil, RetryConfig{})
	enqueueOp(t, pending, 1)

	require.NoError(t, worker.ProcessBatch(ctx))
	assert.Zero(t, submitter.callCount())
}

func TestRetryWorkerAcquiresLockPerBatch(t *testing.T) {
	ctx := context.Background()
	submitter := &fakeSubmitter{}
	locker := &fakeLocker{}
	worker, pending, _ := newRetryFixture(t, submitter, locker, nil, RetryConfig{})
	enqueueOp(t, pending, 1)

	require.NoError(t, worker.ProcessBatch(ctx))
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, submitter.callCount())
}

func TestRetryWorkerRunStopsOnCancel(t *testing.T) {
	submitter := &fakeSubmitter{}
	worker, _, _ := newRetryFixture(t, submitter, nil, nil, RetryConfig{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
