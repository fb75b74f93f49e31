package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bumahkib7/vernont-backend-sub007/internal/service"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

func newService(t *testing.T) (*service.AdminService, storage.Store) {
	t.Helper()
	store := storage.NewMockStore()
	return service.NewAdminService(store), store
}

func createRunning(t *testing.T, store storage.Store, id string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.CreateExecution(models.Execution{
		ID:           id,
		WorkflowName: "wf",
		Status:       models.RunningExecutionStatus,
		MaxRetries:   3,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func TestAdminLifecycle(t *testing.T) {
	svc, store := newService(t)
	createRunning(t, store, "e1")

	require.NoError(t, svc.Pause("e1"))
	e, err := svc.GetExecution("e1")
	require.NoError(t, err)
	assert.Equal(t, models.PausedExecutionStatus, e.Status)

	require.NoError(t, svc.Resume("e1"))
	e, err = svc.GetExecution("e1")
	require.NoError(t, err)
	assert.Equal(t, models.RunningExecutionStatus, e.Status)

	require.NoError(t, svc.Cancel("e1"))
	e, err = svc.GetExecution("e1")
	require.NoError(t, err)
	assert.Equal(t, models.CancelledExecutionStatus, e.Status)

	// Illegal transitions are rejected without touching the record.
	assert.Error(t, svc.Resume("e1"))
	assert.Error(t, svc.Pause("e1"))
}

func TestAdminLifecycleUnknownID(t *testing.T) {
	svc, _ := newService(t)
	assert.ErrorIs(t, svc.Pause("missing"), storage.ErrNotFound)
	assert.ErrorIs(t, svc.Cancel("missing"), storage.ErrNotFound)
	_, err := svc.GetExecution("missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAdminStepEventQueries(t *testing.T) {
	svc, store := newService(t)
	createRunning(t, store, "e1")
	_, err := store.AppendStepEvent(models.StepEvent{
		ExecutionID: "e1", StepIndex: 0, StepName: "reserve",
		Status: models.CompletedStepEventStatus, StartedAt: time.Now(),
	})
	require.NoError(t, err)
	_, err = store.AppendStepEvent(models.StepEvent{
		ExecutionID: "e1", StepIndex: 1, StepName: "charge",
		Status: models.FailedStepEventStatus, ErrorMessage: "declined", StartedAt: time.Now(),
	})
	require.NoError(t, err)

	events, err := svc.ListStepEvents("e1", storage.OrderByStepIndex)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	failed, err := svc.ListFailedStepEvents("e1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "charge", failed[0].StepName)

	_, err = svc.ListStepEvents("missing", storage.OrderByStepIndex)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
