package models

import (
	"context"

	"github.com/qmuntal/stateless"
)

// Trigger names a transition of the execution state machine.
type Trigger string

const (
	TriggerComplete   Trigger = "complete"
	TriggerFail       Trigger = "fail"
	TriggerPause      Trigger = "pause"
	TriggerResume     Trigger = "resume"
	TriggerCancel     Trigger = "cancel"
	TriggerTimeout    Trigger = "timeout"
	TriggerRetry      Trigger = "retry"
	TriggerCompensate Trigger = "compensate"
	TriggerCleanup    Trigger = "cleanup"
)

// Apply fires a transition trigger against the execution, mutating its
// status in place. Illegal transitions (and retries past the retry budget)
// return an error and leave the status unchanged.
//
// RUNNING is the sole initial state. The full transition table:
//
//	RUNNING   -> COMPLETED | FAILED | PAUSED | CANCELLED | TIMEOUT
//	PAUSED    -> RUNNING | CANCELLED
//	FAILED    -> RUNNING (retry, guarded) | COMPENSATED | CLEANED_UP
//	COMPLETED -> COMPENSATED | CLEANED_UP
//	TIMEOUT, CANCELLED, COMPENSATED -> CLEANED_UP
//	CLEANED_UP -> RUNNING (retry, guarded)
func (e *Execution) Apply(trigger Trigger) error {
	return e.statusMachine().FireCtx(context.Background(), trigger)
}

// CanApply reports whether a trigger is currently permitted.
func (e *Execution) CanApply(trigger Trigger) bool {
	ok, err := e.statusMachine().CanFireCtx(context.Background(), trigger)
	return err == nil && ok
}

func (e *Execution) statusMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return e.Status, nil
		},
		func(_ context.Context, state stateless.State) error {
			e.Status = state.(ExecutionStatus)
			return nil
		},
		stateless.FiringImmediate,
	)

	withinRetryBudget := func(_ context.Context, _ ...any) bool {
		return e.RetryCount < e.MaxRetries
	}

	sm.Configure(RunningExecutionStatus).
		Permit(TriggerComplete, CompletedExecutionStatus).
		Permit(TriggerFail, FailedExecutionStatus).
		Permit(TriggerPause, PausedExecutionStatus).
		Permit(TriggerCancel, CancelledExecutionStatus).
		Permit(TriggerTimeout, TimeoutExecutionStatus)

	sm.Configure(PausedExecutionStatus).
		Permit(TriggerResume, RunningExecutionStatus).
		Permit(TriggerCancel, CancelledExecutionStatus)

	sm.Configure(FailedExecutionStatus).
		Permit(TriggerRetry, RunningExecutionStatus, withinRetryBudget).
		Permit(TriggerCompensate, CompensatedExecutionStatus).
		Permit(TriggerCleanup, CleanedUpExecutionStatus)

	sm.Configure(CompletedExecutionStatus).
		Permit(TriggerCompensate, CompensatedExecutionStatus).
		Permit(TriggerCleanup, CleanedUpExecutionStatus)

	sm.Configure(TimeoutExecutionStatus).
		Permit(TriggerCleanup, CleanedUpExecutionStatus)

	sm.Configure(CancelledExecutionStatus).
		Permit(TriggerCleanup, CleanedUpExecutionStatus)

	sm.Configure(CompensatedExecutionStatus).
		Permit(TriggerCleanup, CleanedUpExecutionStatus)

	sm.Configure(CleanedUpExecutionStatus).
		Permit(TriggerRetry, RunningExecutionStatus, withinRetryBudget)

	return sm
}
