package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_http "github.com/bumahkib7/vernont-backend-sub007/internal/http"
	"github.com/bumahkib7/vernont-backend-sub007/internal/service"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.Store) {
	t.Helper()
	store := storage.NewMockStore()
	server := httptest.NewServer(internal_http.NewMux(service.NewAdminService(store)))
	t.Cleanup(server.Close)
	return server, store
}

func seed(t *testing.T, store storage.Store, e models.Execution) models.Execution {
	t.Helper()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.UpdatedAt = e.CreatedAt
	require.NoError(t, store.CreateExecution(e))
	return e
}

func getJSON(t *testing.T, url string, dest any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dest != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t)

	var body map[string]string
	status := getJSON(t, server.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
}

func TestListExecutionsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, models.Execution{ID: "e1", WorkflowName: "wf-a", Status: models.RunningExecutionStatus})
	seed(t, store, models.Execution{ID: "e2", WorkflowName: "wf-b", Status: models.CompletedExecutionStatus})

	var executions []models.Execution
	status := getJSON(t, server.URL+"/executions", &executions)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, executions, 2)
}

func TestGetExecutionEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, models.Execution{ID: "e1", WorkflowName: "wf", Status: models.FailedExecutionStatus, ErrorMessage: "boom"})

	t.Run("Found", func(t *testing.T) {
		var e models.Execution
		status := getJSON(t, server.URL+"/executions/e1", &e)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "wf", e.WorkflowName)
		assert.Equal(t, models.FailedExecutionStatus, e.Status)
		assert.Equal(t, "boom", e.ErrorMessage)
	})

	t.Run("NotFound", func(t *testing.T) {
		status := getJSON(t, server.URL+"/executions/missing", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		resp, err := http.Post(server.URL+"/executions/e1", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestListStepEventsEndpoint(t *testing.T) {
	server, store := newTestServer(t)
	seed(t, store, models.Execution{ID: "e1", WorkflowName: "wf", Status: models.CompletedExecutionStatus})

	now := time.Now()
	// Logical and chronological order diverge, as with a parallel group.
	_, err := store.AppendStepEvent(models.StepEvent{
		ExecutionID: "e1", StepIndex: 1, StepName: "sms",
		Status: models.CompletedStepEventStatus, StartedAt: now.Add(-time.Second),
	})
	require.NoError(t, err)
	_, err = store.AppendStepEvent(models.StepEvent{
		ExecutionID: "e1", StepIndex: 0, StepName: "email",
		Status: models.CompletedStepEventStatus, StartedAt: now,
	})
	require.NoError(t, err)

	t.Run("ByStepIndex", func(t *testing.T) {
		var events []models.StepEvent
		status := getJSON(t, server.URL+"/executions/e1/events", &events)
		assert.Equal(t, http.StatusOK, status)
		require.Len(t, events, 2)
		assert.Equal(t, "email", events[0].StepName)
	})

	t.Run("ByStartTime", func(t *testing.T) {
		var events []models.StepEvent
		status := getJSON(t, server.URL+"/executions/e1/events?order=started_at", &events)
		assert.Equal(t, http.StatusOK, status)
		require.Len(t, events, 2)
		assert.Equal(t, "sms", events[0].StepName)
	})

	t.Run("UnknownExecution", func(t *testing.T) {
		status := getJSON(t, server.URL+"/executions/missing/events", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}
