package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/engine"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

func intPtr(v int) *int              { return &v }
func timePtr(t time.Time) *time.Time { return &t }

func seedExecution(t *testing.T, store storage.Store, e models.Execution) models.Execution {
	t.Helper()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt
	require.NoError(t, store.CreateExecution(e))
	return e
}

func TestReconcilerTimeoutDetection(t *testing.T) {
	store := storage.NewMockStore()
	r := engine.NewReconciler(store, logger{}, engine.ReconcilerOptions{})
	now := time.Now()

	running := seedExecution(t, store, models.Execution{
		ID:             "e-timeout",
		WorkflowName:   "slow",
		Status:         models.RunningExecutionStatus,
		TimeoutSeconds: intPtr(60),
		CreatedAt:      now,
	})
	noDeadline := seedExecution(t, store, models.Execution{
		ID:           "e-no-deadline",
		WorkflowName: "slow",
		Status:       models.RunningExecutionStatus,
		CreatedAt:    now.Add(-time.Hour),
	})

	t.Run("NotFlaggedBeforeDeadline", func(t *testing.T) {
		report, err := r.Sweep(context.Background(), now.Add(30*time.Second))
		require.NoError(t, err)
		assert.Empty(t, report.TimedOut)
	})

	t.Run("FlaggedAfterDeadline", func(t *testing.T) {
		report, err := r.Sweep(context.Background(), now.Add(2*time.Minute))
		require.NoError(t, err)
		require.Equal(t, []string{running.ID}, report.TimedOut)

		e, err := store.GetExecution(running.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TimeoutExecutionStatus, e.Status)
		assert.Contains(t, e.ErrorMessage, "exceeded its 60s deadline")

		// Executions without a deadline are never flagged.
		e, err = store.GetExecution(noDeadline.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RunningExecutionStatus, e.Status)
	})

	t.Run("AlreadyFlaggedIsNotFlaggedTwice", func(t *testing.T) {
		report, err := r.Sweep(context.Background(), now.Add(3*time.Minute))
		require.NoError(t, err)
		assert.Empty(t, report.TimedOut)
	})
}

func TestReconcilerExpiredRecordsAreDeleted(t *testing.T) {
	store := storage.NewMockStore()
	r := engine.NewReconciler(store, logger{}, engine.ReconcilerOptions{})
	now := time.Now()

	expired := seedExecution(t, store, models.Execution{
		ID:           "e-expired",
		WorkflowName: "wf",
		Status:       models.CompletedExecutionStatus,
		ExpiresAt:    timePtr(now.Add(-time.Minute)),
		CreatedAt:    now.Add(-25 * time.Hour),
	})
	fresh := seedExecution(t, store, models.Execution{
		ID:           "e-fresh",
		WorkflowName: "wf",
		Status:       models.CompletedExecutionStatus,
		ExpiresAt:    timePtr(now.Add(time.Hour)),
		CreatedAt:    now,
	})
	// RUNNING records are never purged even past their expiry stamp.
	inFlight := seedExecution(t, store, models.Execution{
		ID:           "e-in-flight",
		WorkflowName: "wf",
		Status:       models.RunningExecutionStatus,
		ExpiresAt:    timePtr(now.Add(-time.Minute)),
		CreatedAt:    now.Add(-25 * time.Hour),
	})

	report, err := r.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{expired.ID}, report.Deleted)

	_, err = store.GetExecution(expired.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetExecution(fresh.ID)
	assert.NoError(t, err)
	_, err = store.GetExecution(inFlight.ID)
	assert.NoError(t, err)
}

func TestReconcilerStaleStepEvents(t *testing.T) {
	store := storage.NewMockStore()
	r := engine.NewReconciler(store, logger{}, engine.ReconcilerOptions{StaleThreshold: 10 * time.Minute})
	now := time.Now()

	seedExecution(t, store, models.Execution{
		ID:           "e-crashed",
		WorkflowName: "wf",
		Status:       models.RunningExecutionStatus,
		CreatedAt:    now.Add(-time.Hour),
	})
	_, err := store.AppendStepEvent(models.StepEvent{
		ExecutionID: "e-crashed",
		StepIndex:   0,
		StepName:    "hung",
		Status:      models.StartedStepEventStatus,
		StartedAt:   now.Add(-30 * time.Minute),
	})
	require.NoError(t, err)
	_, err = store.AppendStepEvent(models.StepEvent{
		ExecutionID: "e-crashed",
		StepIndex:   1,
		StepName:    "recent",
		Status:      models.StartedStepEventStatus,
		StartedAt:   now.Add(-time.Minute),
	})
	require.NoError(t, err)

	report, err := r.Sweep(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, report.StaleStepEvents, 1)
	assert.Equal(t, "hung", report.StaleStepEvents[0].StepName)
}

func TestReconcilerRetryCandidates(t *testing.T) {
	store := storage.NewMockStore()
	r := engine.NewReconciler(store, logger{}, engine.ReconcilerOptions{RetryWindow: 24 * time.Hour})
	now := time.Now()

	eligible := seedExecution(t, store, models.Execution{
		ID:           "e-eligible",
		WorkflowName: "wf",
		Status:       models.FailedExecutionStatus,
		RetryCount:   1,
		MaxRetries:   3,
		CreatedAt:    now.Add(-time.Hour),
	})
	seedExecution(t, store, models.Execution{
		ID:           "e-exhausted",
		WorkflowName: "wf",
		Status:       models.FailedExecutionStatus,
		RetryCount:   3,
		MaxRetries:   3,
		CreatedAt:    now.Add(-time.Hour),
	})
	seedExecution(t, store, models.Execution{
		ID:           "e-too-old",
		WorkflowName: "wf",
		Status:       models.FailedExecutionStatus,
		RetryCount:   0,
		MaxRetries:   3,
		CreatedAt:    now.Add(-48 * time.Hour),
	})

	report, err := r.Sweep(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, report.RetryCandidates, 1)
	assert.Equal(t, eligible.ID, report.RetryCandidates[0].ID)
}

func TestReconcilerStartStopsOnContextCancel(t *testing.T) {
	store := storage.NewMockStore()
	r := engine.NewReconciler(store, logger{}, engine.ReconcilerOptions{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reconciler did not stop after context cancellation")
	}
}
