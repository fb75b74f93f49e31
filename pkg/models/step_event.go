package models

import "time"

type StepEventStatus string

const (
	StartedStepEventStatus     StepEventStatus = "STARTED"
	CompletedStepEventStatus   StepEventStatus = "COMPLETED"
	FailedStepEventStatus      StepEventStatus = "FAILED"
	CompensatedStepEventStatus StepEventStatus = "COMPENSATED"
)

// StepEvent is one immutable audit entry for a single step attempt within
// an execution. A row is inserted in STARTED status when the step begins
// and finalized exactly once when it completes, fails or compensates.
// Retries of an execution produce new events, never mutations of old ones.
type StepEvent struct {
	ID             int64           `json:"id" db:"id"` // Auto-incremented event ID
	ExecutionID    string          `json:"execution_id" db:"execution_id"`
	StepIndex      int             `json:"step_index" db:"step_index"` // logical order within the run
	StepName       string          `json:"step_name" db:"step_name"`
	Status         StepEventStatus `json:"status" db:"status"`
	InputSnapshot  []byte          `json:"input_snapshot,omitempty" db:"input_snapshot"`
	OutputSnapshot []byte          `json:"output_snapshot,omitempty" db:"output_snapshot"`
	ErrorMessage   string          `json:"error_message,omitempty" db:"error_message"`
	StartedAt      time.Time       `json:"started_at" db:"started_at"`
	DurationMs     *int64          `json:"duration_ms,omitempty" db:"duration_ms"` // set at finalization
}

// Finalized reports whether the event has left the STARTED status.
// Finalized events are append-only history and must not be touched again.
func (ev *StepEvent) Finalized() bool {
	return ev.Status != StartedStepEventStatus
}

// StepStats aggregates duration statistics for one step name within a
// workflow over a time window.
type StepStats struct {
	StepName string  `json:"step_name" db:"step_name"`
	Count    int64   `json:"count" db:"count"`
	AvgMs    float64 `json:"avg_ms" db:"avg_ms"`
	MinMs    int64   `json:"min_ms" db:"min_ms"`
	MaxMs    int64   `json:"max_ms" db:"max_ms"`
}
