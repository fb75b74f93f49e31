package engine

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
)

// errCancelled is observed when a cooperative cancel lands between steps.
var errCancelled = errors.New("execution cancelled")

// errPaused is observed when an operator pause lands between steps.
var errPaused = errors.New("execution paused")

// completedStep remembers a successful execute call so the unwind can
// invoke its compensation with the exact same input.
type completedStep struct {
	step  Step
	input any
}

// runSteps drives the definition's steps strictly in order, collecting the
// stack of completed steps for a potential unwind. The returned stack is
// valid even when an error is returned. Between steps the engine observes
// caller context cancellation and cooperative Cancel and Pause requests; an
// in-flight step cannot be preempted.
func (en *Engine) runSteps(ctx context.Context, def Definition, input any, ec *ExecContext) (any, []completedStep, error) {
	var (
		output  any
		stack   []completedStep
		stackMu sync.Mutex
	)

	for _, step := range def.Steps {
		if err := en.checkLiveness(ctx, ec.ExecutionID()); err != nil {
			return nil, stack, err
		}

		if step.IsParallel() {
			groupOut, err := en.runParallel(ctx, step, input, ec, &stack, &stackMu)
			if err != nil {
				return nil, stack, err
			}
			output = groupOut
			continue
		}

		out, err := en.runOne(ctx, step, input, ec)
		if err != nil {
			return nil, stack, err
		}
		stackMu.Lock()
		stack = append(stack, completedStep{step: step, input: input})
		stackMu.Unlock()
		output = out
	}
	return output, stack, nil
}

// runOne wraps a single execute call with event recording and timing.
// The original error is re-raised after the failure event is recorded.
func (en *Engine) runOne(ctx context.Context, step Step, input any, ec *ExecContext) (any, error) {
	index := ec.nextIndex()
	eventID, startedAt := ec.recorder.start(ec.ExecutionID(), index, step.name, input)
	en.logger.Infof("Executing step '%s' (index %d) of execution %s", step.name, index, ec.ExecutionID())

	out, err := execRecovered(ctx, step, input, ec)
	if err != nil {
		ec.recorder.finish(eventID, startedAt, models.FailedStepEventStatus, nil, err)
		return nil, &StepExecutionError{StepName: step.name, Err: err}
	}
	ec.recorder.finish(eventID, startedAt, models.CompletedStepEventStatus, out, nil)
	return out, nil
}

// runParallel runs a group's members concurrently. Members that complete
// push themselves onto the compensation stack even when a sibling fails,
// so a partial group is still unwound. The group's output maps member
// names to their outputs.
func (en *Engine) runParallel(ctx context.Context, group Step, input any, ec *ExecContext, stack *[]completedStep, stackMu *sync.Mutex) (map[string]any, error) {
	g, groupCtx := errgroup.WithContext(ctx)
	outputs := make(map[string]any, len(group.group))
	var outputsMu sync.Mutex

	for _, member := range group.group {
		member := member
		g.Go(func() error {
			out, err := en.runOne(groupCtx, member, input, ec)
			if err != nil {
				return err
			}
			outputsMu.Lock()
			outputs[member.name] = out
			outputsMu.Unlock()
			stackMu.Lock()
			*stack = append(*stack, completedStep{step: member, input: input})
			stackMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// unwind compensates completed steps in strict reverse order. A failing
// compensate is recorded and aggregated but never aborts the unwind of
// earlier entries.
func (en *Engine) unwind(ctx context.Context, stack []completedStep, ec *ExecContext) *CompensationError {
	var failures []StepFailure
	for i := len(stack) - 1; i >= 0; i-- {
		entry := stack[i]
		if entry.step.compensate == nil {
			continue
		}
		index := ec.nextIndex()
		eventID, startedAt := ec.recorder.start(ec.ExecutionID(), index, entry.step.name, entry.input)
		en.logger.Infof("Compensating step '%s' of execution %s", entry.step.name, ec.ExecutionID())

		if err := compensateRecovered(ctx, entry.step, entry.input, ec); err != nil {
			ec.recorder.finish(eventID, startedAt, models.FailedStepEventStatus, nil, err)
			en.logger.Errorf("Compensation of step '%s' failed for execution %s: %v", entry.step.name, ec.ExecutionID(), err)
			failures = append(failures, StepFailure{StepName: entry.step.name, Err: err})
			continue
		}
		ec.recorder.finish(eventID, startedAt, models.CompensatedStepEventStatus, nil, nil)
	}
	if len(failures) > 0 {
		return &CompensationError{Failures: failures}
	}
	return nil
}

// checkLiveness is the cooperative suspension point between steps: it
// observes caller context cancellation and Cancel or Pause requests
// persisted on the execution record.
func (en *Engine) checkLiveness(ctx context.Context, executionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := en.store.GetExecution(executionID)
	if err != nil {
		return errors.Wrapf(err, "liveness check for execution %s", executionID)
	}
	if e.Status == models.CancelledExecutionStatus {
		return errCancelled
	}
	if e.Status == models.PausedExecutionStatus {
		return errPaused
	}
	return nil
}

// execRecovered invokes the step body, converting a panic into an error so
// a buggy step can never strand the execution without a terminal state.
func execRecovered(ctx context.Context, step Step, input any, ec *ExecContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errors.Errorf("step '%s' panicked: %v", step.name, r)
		}
	}()
	return step.execute(ctx, input, ec)
}

func compensateRecovered(ctx context.Context, step Step, input any, ec *ExecContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("compensation of '%s' panicked: %v", step.name, r)
		}
	}()
	return step.compensate(ctx, input, ec)
}
