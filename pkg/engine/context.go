package engine

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

// ExecContext is the ephemeral per-run scratch space handed to every step.
// It carries a key/value map for passing data between steps, the ids needed
// to propagate tracing into nested workflow calls, and the recorder that
// produces step events. It is exclusively owned by the execution that
// created it and is never persisted as an entity.
type ExecContext struct {
	executionID       string
	workflowName      string
	correlationID     string
	parentExecutionID string

	mu     sync.RWMutex
	values map[string]any

	stepIndex int
	indexMu   sync.Mutex

	recorder *eventRecorder
}

func newExecContext(e models.Execution, recorder *eventRecorder) *ExecContext {
	ec := &ExecContext{
		executionID:  e.ID,
		workflowName: e.WorkflowName,
		values:       make(map[string]any),
		recorder:     recorder,
	}
	if e.CorrelationID != nil {
		ec.correlationID = *e.CorrelationID
	}
	if e.ParentExecutionID != nil {
		ec.parentExecutionID = *e.ParentExecutionID
	}
	return ec
}

// ExecutionID returns the id of the owning execution.
func (ec *ExecContext) ExecutionID() string { return ec.executionID }

// WorkflowName returns the name of the workflow being run.
func (ec *ExecContext) WorkflowName() string { return ec.workflowName }

// CorrelationID returns the cross-workflow tracing token, if any.
func (ec *ExecContext) CorrelationID() string { return ec.correlationID }

// ParentExecutionID returns the parent run's id for nested workflows, if any.
func (ec *ExecContext) ParentExecutionID() string { return ec.parentExecutionID }

// Set stores a value for later steps of the same execution.
func (ec *ExecContext) Set(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.values[key] = value
}

// Get returns a value stored by an earlier step.
func (ec *ExecContext) Get(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.values[key]
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (ec *ExecContext) Keys() []string {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	keys := make([]string, 0, len(ec.values))
	for k := range ec.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot serializes the context map for the execution record. Values
// that cannot be marshalled are dropped rather than failing the run.
func (ec *ExecContext) Snapshot() []byte {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	marshallable := make(map[string]any, len(ec.values))
	for k, v := range ec.values {
		if _, err := json.Marshal(v); err == nil {
			marshallable[k] = v
		}
	}
	data, err := json.Marshal(marshallable)
	if err != nil {
		return nil
	}
	return data
}

// nextIndex hands out the logical step index for the next step attempt.
// Parallel group members each draw their own index.
func (ec *ExecContext) nextIndex() int {
	ec.indexMu.Lock()
	defer ec.indexMu.Unlock()
	idx := ec.stepIndex
	ec.stepIndex++
	return idx
}

// eventRecorder emits the append-only step event audit trail. Recording
// failures are logged and never fail the step itself.
type eventRecorder struct {
	store  storage.Store
	logger Logger
}

func (r *eventRecorder) start(executionID string, index int, stepName string, input any) (int64, time.Time) {
	startedAt := time.Now()
	inputSnapshot, err := json.Marshal(input)
	if err != nil {
		inputSnapshot = nil
	}
	id, err := r.store.AppendStepEvent(models.StepEvent{
		ExecutionID:   executionID,
		StepIndex:     index,
		StepName:      stepName,
		Status:        models.StartedStepEventStatus,
		InputSnapshot: inputSnapshot,
		StartedAt:     startedAt,
	})
	if err != nil {
		r.logger.Errorf("Failed to record start of step '%s' for execution %s: %v", stepName, executionID, err)
		return 0, startedAt
	}
	return id, startedAt
}

func (r *eventRecorder) finish(eventID int64, startedAt time.Time, status models.StepEventStatus, output any, stepErr error) {
	if eventID == 0 {
		return
	}
	var outputSnapshot []byte
	if output != nil {
		if data, err := json.Marshal(output); err == nil {
			outputSnapshot = data
		}
	}
	errMsg := ""
	if stepErr != nil {
		errMsg = stepErr.Error()
	}
	durationMs := time.Since(startedAt).Milliseconds()
	if err := r.store.FinalizeStepEvent(eventID, status, outputSnapshot, errMsg, durationMs); err != nil {
		r.logger.Errorf("Failed to finalize step event %d: %v", eventID, err)
	}
}
