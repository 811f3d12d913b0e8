package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragcore/internal/types"
)

type fakeRunner struct {
	mu       sync.Mutex
	delay    time.Duration
	err      error
	runCalls int
	cancels  map[types.ID]bool
}

func newFakeRunner(delay time.Duration) *fakeRunner {
	return &fakeRunner{delay: delay, cancels: make(map[types.ID]bool)}
}

func (f *fakeRunner) Run(ctx context.Context, operationID, botID, callerID types.ID, opts types.ReprocessOptions) (*types.CompletedReport, error) {
	f.mu.Lock()
	f.runCalls++
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &types.CompletedReport{OperationID: operationID, BotID: botID, Total: 1, Successful: 1}, nil
}

func (f *fakeRunner) Cancel(operationID types.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels[operationID] = true
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runCalls
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	runner := newFakeRunner(time.Hour)
	m := New(Config{MaxQueueSize: 1, CheckInterval: time.Hour}, runner, nil)

	_, err := m.Enqueue(types.NewID(), types.NewID(), types.PriorityNormal, types.ReprocessOptions{})
	require.NoError(t, err)

	_, err = m.Enqueue(types.NewID(), types.NewID(), types.PriorityNormal, types.ReprocessOptions{})
	assert.Error(t, err)
}

func TestDispatchMarksTimeoutWhenOperationDeadlineExceeds(t *testing.T) {
	runner := newFakeRunner(time.Hour) // never finishes before the operation timeout
	m := New(Config{OperationTimeout: 5 * time.Millisecond, CheckInterval: time.Millisecond}, runner, nil)

	opID, err := m.Enqueue(types.NewID(), types.NewID(), types.PriorityNormal, types.ReprocessOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	waitUntil(t, time.Second, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, ok := m.failed[opID]
		return ok
	})

	m.mu.Lock()
	failErr := m.failed[opID]
	m.mu.Unlock()
	assert.ErrorIs(t, failErr, context.DeadlineExceeded)
	assert.Equal(t, 1, m.Stats().Failed)
}

func TestSchedulerDequeuesHighestPriorityFirst(t *testing.T) {
	runner := newFakeRunner(200 * time.Millisecond)
	m := New(Config{MaxConcurrentOperations: 1, CheckInterval: 5 * time.Millisecond}, runner, nil)

	lowID, _ := m.Enqueue(types.NewID(), types.NewID(), types.PriorityLow, types.ReprocessOptions{})
	urgentID, _ := m.Enqueue(types.NewID(), types.NewID(), types.PriorityUrgent, types.ReprocessOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	waitUntil(t, time.Second, func() bool {
		_, ok := m.CompletedReport(urgentID)
		return ok
	})

	_, lowDone := m.CompletedReport(lowID)
	assert.False(t, lowDone, "low priority should still be queued or running behind urgent")
}

func TestCancelQueuedOperationRemovesIt(t *testing.T) {
	runner := newFakeRunner(time.Hour)
	m := New(Config{CheckInterval: time.Hour}, runner, nil)

	opID, err := m.Enqueue(types.NewID(), types.NewID(), types.PriorityNormal, types.ReprocessOptions{})
	require.NoError(t, err)

	require.NoError(t, m.CancelOperation(opID))
	assert.Equal(t, 0, m.Stats().Queued)
}

func TestCancelRunningOperationInvokesRunnerCancel(t *testing.T) {
	runner := newFakeRunner(time.Hour)
	m := New(Config{MaxConcurrentOperations: 1, CheckInterval: 5 * time.Millisecond}, runner, nil)

	opID, err := m.Enqueue(types.NewID(), types.NewID(), types.PriorityNormal, types.ReprocessOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	waitUntil(t, time.Second, func() bool {
		return m.Stats().Running == 1
	})

	require.NoError(t, m.CancelOperation(opID))
	runner.mu.Lock()
	cancelled := runner.cancels[opID]
	runner.mu.Unlock()
	assert.True(t, cancelled)
}

func TestShutdownWaitsForSchedulerLoopToExit(t *testing.T) {
	runner := newFakeRunner(10 * time.Millisecond)
	m := New(Config{CheckInterval: 5 * time.Millisecond}, runner, nil)

	ctx := context.Background()
	m.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(shutdownCtx))
	assert.Equal(t, StatusShuttingDown, m.Stats().Status)
}

func TestEstimateDurationUsesFixedFormulaWithNoHistory(t *testing.T) {
	runner := newFakeRunner(0)
	m := New(Config{}, runner, nil)

	got := m.EstimateDuration(10)
	assert.Equal(t, 50*time.Second, got)
}

func TestEstimateWaitIsZeroWhenNothingAhead(t *testing.T) {
	runner := newFakeRunner(0)
	m := New(Config{}, runner, nil)

	assert.Equal(t, time.Duration(0), m.EstimateWait(types.PriorityNormal))
}
