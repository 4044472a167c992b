package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to PlanStatus
		allowed  bool
	}{
		{PlanStatusPending, PlanStatusAwaitingSelection, true},
		{PlanStatusPending, PlanStatusFailed, true},
		{PlanStatusPending, PlanStatusExecuting, false},
		{PlanStatusAwaitingSelection, PlanStatusExecuting, true},
		{PlanStatusAwaitingSelection, PlanStatusPending, false},
		{PlanStatusAwaitingSelection, PlanStatusCompleted, false},
		{PlanStatusExecuting, PlanStatusCompleted, true},
		{PlanStatusExecuting, PlanStatusFailed, true},
		{PlanStatusExecuting, PlanStatusExecuting, true},
		{PlanStatusExecuting, PlanStatusAwaitingSelection, false},
		{PlanStatusCompleted, PlanStatusExecuting, true},
		{PlanStatusCompleted, PlanStatusAwaitingSelection, false},
		{PlanStatusCompleted, PlanStatusFailed, false},
		{PlanStatusFailed, PlanStatusExecuting, false},
		{PlanStatusFailed, PlanStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPlanTransition(t *testing.T) {
	plan := &TestPlan{ID: "p1", Status: PlanStatusPending}

	require.NoError(t, plan.Transition(PlanStatusFailed, "root component not found"))
	assert.Equal(t, "root component not found", plan.FailureReason)
	assert.False(t, plan.UpdatedAt.IsZero())

	err := plan.Transition(PlanStatusExecuting, "")
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeInvalidState))
	assert.Equal(t, PlanStatusFailed, plan.Status)
}

func TestPlanStatusValidate(t *testing.T) {
	assert.NoError(t, PlanStatusCompleted.Validate())
	assert.Error(t, PlanStatus("DONE").Validate())
	assert.NoError(t, ResultStatusFailure.Validate())
	assert.Error(t, ResultStatus("PASSED").Validate())
}

func TestEngineErrorClassification(t *testing.T) {
	nf := NewNotFoundError("mapping", "m1")
	assert.True(t, IsNotFound(nf))
	assert.True(t, IsPermanent(nf))
	assert.False(t, IsRetryable(nf))
	assert.Contains(t, nf.Error(), "mapping not found")
	assert.Contains(t, nf.Error(), "resource=m1")

	wrapped := errors.Join(errors.New("context"), NewTransientError("poll failed", errors.New("eof")))
	assert.True(t, IsTransient(wrapped))
	assert.True(t, IsRetryable(wrapped))

	assert.True(t, errors.Is(NewNotFoundError("plan", "p"), &EngineError{Class: ErrorClassPermanent, Code: ErrCodeNotFound}))
	assert.True(t, IsConflict(NewConflictError("duplicate mapping", nil)))
	assert.True(t, IsThrottled(NewThrottledError("429", nil)))
}

func TestGateBoundsConcurrentHolders(t *testing.T) {
	gate := NewGate(2)
	require.NoError(t, gate.Acquire(context.Background()))
	require.NoError(t, gate.Acquire(context.Background()))
	assert.Equal(t, 2, gate.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, gate.Acquire(ctx), "third acquire must block until the deadline")

	gate.Release()
	require.NoError(t, gate.Acquire(context.Background()))
	gate.Release()
	gate.Release()
	assert.Equal(t, 0, gate.InFlight())
}

func TestGateMinimumLimit(t *testing.T) {
	assert.Equal(t, 1, NewGate(0).Limit())
	assert.Equal(t, 1, NewGate(-3).Limit())
	assert.Equal(t, maxGateLimit, NewGate(maxGateLimit+1).Limit())
}

func TestGateShrinkWaitsForHolders(t *testing.T) {
	gate := NewGate(2)
	require.NoError(t, gate.Acquire(context.Background()))
	require.NoError(t, gate.Acquire(context.Background()))

	gate.SetLimit(1)
	assert.Equal(t, 1, gate.Limit())
	assert.Equal(t, 2, gate.InFlight(), "holders keep their slots")

	gate.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, gate.Acquire(ctx), "one job in flight fills a gate of one")

	gate.Release()
	require.NoError(t, gate.Acquire(context.Background()))
	gate.Release()
}

func TestGateGrowAdmitsWaiters(t *testing.T) {
	gate := NewGate(1)
	require.NoError(t, gate.Acquire(context.Background()))

	admitted := make(chan error, 1)
	go func() { admitted <- gate.Acquire(context.Background()) }()

	gate.SetLimit(2)
	select {
	case err := <-admitted:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not admitted after the limit was raised")
	}
	assert.Equal(t, 2, gate.InFlight())
	gate.Release()
	gate.Release()
}

func TestGateResizeCancelsPendingShrink(t *testing.T) {
	gate := NewGate(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Acquire(context.Background()))
	}

	gate.SetLimit(1)
	gate.SetLimit(4)
	assert.Equal(t, 4, gate.Limit())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, gate.Acquire(ctx), "a fourth slot is free once the shrink is withdrawn")
	assert.Equal(t, 4, gate.InFlight())
	for i := 0; i < 4; i++ {
		gate.Release()
	}
}
