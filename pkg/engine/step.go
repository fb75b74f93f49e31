package engine

import "context"

// ExecuteFunc is the forward action of a step. It receives the workflow
// input and the per-run context; data produced for later steps goes
// through the context, the returned value is the step's output.
type ExecuteFunc func(ctx context.Context, input any, ec *ExecContext) (any, error)

// CompensateFunc undoes a previously completed execute call. It receives
// the exact input the execute call was given.
type CompensateFunc func(ctx context.Context, input any, ec *ExecContext) error

// Step is a unit of work collected into a workflow definition. Steps are
// plain values so the engine, not the workflow author, drives sequencing,
// timing, event recording and the compensation unwind.
type Step struct {
	name       string
	execute    ExecuteFunc
	compensate CompensateFunc
	group      []Step // non-nil marks a parallel group
}

// StepOption configures an optional property of a step.
type StepOption func(*Step)

// WithCompensation attaches the rollback action invoked during a saga unwind.
func WithCompensation(fn CompensateFunc) StepOption {
	return func(s *Step) {
		s.compensate = fn
	}
}

// NewStep builds a step with automatic instrumentation: the engine wraps
// both execute and compensate with step event recording and timing.
func NewStep(name string, fn ExecuteFunc, opts ...StepOption) Step {
	s := Step{name: name, execute: fn}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Parallel groups independent steps to run concurrently. All members must
// finish before the workflow proceeds; the first failure is propagated
// after every member has returned. Relative order inside the group is
// unspecified.
func Parallel(steps ...Step) Step {
	return Step{name: "parallel", group: steps}
}

// Name returns the step's name.
func (s Step) Name() string { return s.name }

// IsParallel reports whether the step is a parallel group.
func (s Step) IsParallel() bool { return s.group != nil }

// Definition is an ordered composition of steps under a unique workflow
// name. The engine executes Steps strictly in slice order.
type Definition struct {
	Name  string
	Steps []Step
}
