package models

import "time"

type ExecutionStatus string

const (
	RunningExecutionStatus     ExecutionStatus = "RUNNING"
	CompletedExecutionStatus   ExecutionStatus = "COMPLETED"
	FailedExecutionStatus      ExecutionStatus = "FAILED"
	CompensatedExecutionStatus ExecutionStatus = "COMPENSATED"
	PausedExecutionStatus      ExecutionStatus = "PAUSED"
	CancelledExecutionStatus   ExecutionStatus = "CANCELLED"
	TimeoutExecutionStatus     ExecutionStatus = "TIMEOUT"
	CleanedUpExecutionStatus   ExecutionStatus = "CLEANED_UP"
)

// DefaultIdempotencyHorizon is how long a cached result is kept for replay.
const DefaultIdempotencyHorizon = 24 * time.Hour

// Execution is the durable record of one run of a named workflow.
// It is created in RUNNING status and owned by the engine: steps never
// write it directly, and only the reconciler may force it into TIMEOUT
// or delete it after expiry.
type Execution struct {
	ID                string          `json:"id" db:"id"` // UUID, regenerated on collision
	WorkflowName      string          `json:"workflow_name" db:"workflow_name"`
	Status            ExecutionStatus `json:"status" db:"status"`
	RetryCount        int             `json:"retry_count" db:"retry_count"`
	MaxRetries        int             `json:"max_retries" db:"max_retries"`
	TimeoutSeconds    *int            `json:"timeout_seconds,omitempty" db:"timeout_seconds"`
	ParentExecutionID *string         `json:"parent_execution_id,omitempty" db:"parent_execution_id"` // back-reference only, never ownership
	CorrelationID     *string         `json:"correlation_id,omitempty" db:"correlation_id"`
	IdempotencyKey    *string         `json:"idempotency_key,omitempty" db:"idempotency_key"` // unique per (workflow_name, key)
	ResultID          *string         `json:"result_id,omitempty" db:"result_id"`
	ResultPayload     []byte          `json:"result_payload,omitempty" db:"result_payload"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty" db:"expires_at"`
	InputData         []byte          `json:"input_data,omitempty" db:"input_data"`
	OutputData        []byte          `json:"output_data,omitempty" db:"output_data"`
	ContextData       []byte          `json:"context_data,omitempty" db:"context_data"`
	ErrorMessage      string          `json:"error_message,omitempty" db:"error_message"`
	ErrorStackTrace   string          `json:"error_stack_trace,omitempty" db:"error_stack_trace"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
	Version           int64           `json:"version" db:"version"` // optimistic concurrency counter
}

// IsTerminal reports whether the execution has left the RUNNING/PAUSED phase.
func (e *Execution) IsTerminal() bool {
	switch e.Status {
	case RunningExecutionStatus, PausedExecutionStatus:
		return false
	}
	return true
}

// HasCachedResult reports whether an idempotent replay can short-circuit
// without re-executing any step.
func (e *Execution) HasCachedResult() bool {
	return e.IsTerminal() && len(e.ResultPayload) > 0
}

// CanRetryAfterFailure reports whether a retry transition back to RUNNING
// is still within the retry budget.
func (e *Execution) CanRetryAfterFailure() bool {
	if e.Status != FailedExecutionStatus && e.Status != CleanedUpExecutionStatus && e.Status != TimeoutExecutionStatus {
		return false
	}
	return e.RetryCount < e.MaxRetries
}

// DeadlineExceeded reports whether the execution has outlived its deadline.
// Executions without a timeout never expire this way.
func (e *Execution) DeadlineExceeded(now time.Time) bool {
	if e.TimeoutSeconds == nil {
		return false
	}
	return now.After(e.CreatedAt.Add(time.Duration(*e.TimeoutSeconds) * time.Second))
}

// Expired reports whether the idempotency/result cache for this record may
// be purged.
func (e *Execution) Expired(now time.Time) bool {
	return e.IsTerminal() && e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}
