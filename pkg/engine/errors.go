package engine

import (
	"fmt"
	"strings"
)

// WorkflowNotFoundError is returned when Execute is called with a name
// that was never registered. No execution record is created.
type WorkflowNotFoundError struct {
	Name string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow '%s' is not registered", e.Name)
}

// DuplicateWorkflowError is returned by Register on a name collision.
type DuplicateWorkflowError struct {
	Name string
}

func (e *DuplicateWorkflowError) Error() string {
	return fmt.Sprintf("workflow '%s' is already registered", e.Name)
}

// DuplicateExecutionError is returned when an idempotency key already has
// an in-flight execution. Callers must poll or retry later; the engine
// never blocks waiting for the winner.
type DuplicateExecutionError struct {
	WorkflowName   string
	IdempotencyKey string
	ExecutionID    string
}

func (e *DuplicateExecutionError) Error() string {
	return fmt.Sprintf("execution %s for workflow '%s' with idempotency key '%s' is still in flight",
		e.ExecutionID, e.WorkflowName, e.IdempotencyKey)
}

// StepExecutionError wraps the original failure of a step's execute call.
// It triggers the compensation unwind and never masks the cause.
type StepExecutionError struct {
	StepName string
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step '%s' failed: %v", e.StepName, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// StepFailure names one failed compensate call during an unwind.
type StepFailure struct {
	StepName string
	Err      error
}

// CompensationError aggregates failures that occurred while unwinding a
// saga. The unwind is exhaustive: a failing compensate never aborts the
// compensation of earlier steps, so multiple failures can accumulate.
type CompensationError struct {
	Failures []StepFailure
}

func (e *CompensationError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("compensation of '%s' failed: %v", f.StepName, f.Err))
	}
	return strings.Join(parts, "; ")
}

// MaxRetriesExceededError is returned when a retry is requested for an
// execution whose retry budget is spent. The record is left unchanged.
type MaxRetriesExceededError struct {
	ExecutionID string
	RetryCount  int
	MaxRetries  int
}

func (e *MaxRetriesExceededError) Error() string {
	return fmt.Sprintf("execution %s exhausted its retry budget (%d/%d)",
		e.ExecutionID, e.RetryCount, e.MaxRetries)
}

// ExecutionNotFoundError is returned for lookups of unknown execution ids.
type ExecutionNotFoundError struct {
	ID string
}

func (e *ExecutionNotFoundError) Error() string {
	return fmt.Sprintf("execution %s not found", e.ID)
}

// TimeoutError is the synthetic error the reconciler records when it
// detects a deadline breach. It is never raised by the executing call path.
type TimeoutError struct {
	ExecutionID    string
	TimeoutSeconds int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s exceeded its %ds deadline", e.ExecutionID, e.TimeoutSeconds)
}
