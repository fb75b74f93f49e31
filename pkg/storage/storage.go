package storage

import (
	"time"

	"github.com/pkg/errors"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrVersionConflict is returned when an optimistic update loses the race.
	ErrVersionConflict = errors.New("version conflict")
)

// EventOrder selects the ordering for step event listings. The two orders
// can diverge for parallel step groups.
type EventOrder string

const (
	OrderByStepIndex EventOrder = "step_index"
	OrderByStartedAt EventOrder = "started_at"
)

// Store defines the persistence operations the engine and reconciler rely on.
// Begin returns a transactional view of the same store; Commit/Rollback end it.
type Store interface {
	Begin() (Store, error)
	Commit() error
	Rollback() error
	Close() error

	// Execution records. UpdateExecution enforces optimistic concurrency on
	// Version and bumps it on success. FindOrCreateByIdempotencyKey must
	// serialize concurrent duplicate submissions with a row-level write lock
	// so exactly one record exists per (workflow_name, idempotency_key).
	CreateExecution(e models.Execution) error
	GetExecution(id string) (models.Execution, error)
	ListExecutions() ([]models.Execution, error)
	UpdateExecution(e models.Execution) (models.Execution, error)
	DeleteExecution(id string) error
	FindOrCreateByIdempotencyKey(e models.Execution) (models.Execution, bool, error)
	FindByResultID(resultID string) (models.Execution, error)

	// Reconciler sweeps.
	FindTimedOut(now time.Time) ([]models.Execution, error)
	FindExpired(now time.Time) ([]models.Execution, error)
	FindRetryCandidates(since time.Time) ([]models.Execution, error)

	// Step events are append-only: one insert at step start, one finalize.
	AppendStepEvent(ev models.StepEvent) (int64, error)
	FinalizeStepEvent(id int64, status models.StepEventStatus, output []byte, errMsg string, durationMs int64) error
	ListStepEvents(executionID string, order EventOrder) ([]models.StepEvent, error)
	ListFailedStepEvents(executionID string) ([]models.StepEvent, error)
	FindStaleStepEvents(olderThan time.Time) ([]models.StepEvent, error)
	StepDurationStats(workflowName string, from, to time.Time) ([]models.StepStats, error)
}
