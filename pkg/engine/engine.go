package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

// Logger defines the logging interface for the engine
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const (
	// DefaultMaxRetries bounds how often a failed execution may be re-run.
	DefaultMaxRetries = 3
)

// Result is the tagged outcome of an Execute call. Failures are data, not
// panics: the engine always resolves to a Result after attempting
// compensation and persisting the terminal state.
type Result struct {
	ExecutionID string
	Status      models.ExecutionStatus
	Output      any
	Replayed    bool  // true when an idempotency hit short-circuited the run
	Err         error // the triggering error, if any
	// CompensationErr aggregates rollback failures. It never masks Err.
	CompensationErr error
}

// Engine is the process-wide registry of workflow definitions and the
// sole entry point for running them. It exclusively owns creation and
// terminal-state writes of execution records.
type Engine struct {
	store  storage.Store
	logger Logger

	mu          sync.RWMutex
	definitions map[string]Definition

	defaultMaxRetries  int
	idempotencyHorizon time.Duration
}

// Option configures the engine at construction time.
type Option func(*Engine)

// WithDefaultMaxRetries sets the retry budget applied when an Execute
// call does not override it.
func WithDefaultMaxRetries(n int) Option {
	return func(en *Engine) { en.defaultMaxRetries = n }
}

// WithIdempotencyHorizon sets how long cached results are kept for replay.
func WithIdempotencyHorizon(d time.Duration) Option {
	return func(en *Engine) { en.idempotencyHorizon = d }
}

// New builds an engine over the given store. Definitions are registered
// explicitly during application bootstrap, never discovered implicitly.
func New(store storage.Store, logger Logger, opts ...Option) *Engine {
	en := &Engine{
		store:              store,
		logger:             logger,
		definitions:        make(map[string]Definition),
		defaultMaxRetries:  DefaultMaxRetries,
		idempotencyHorizon: models.DefaultIdempotencyHorizon,
	}
	for _, opt := range opts {
		opt(en)
	}
	return en
}

// Register adds a workflow definition under its unique name.
func (en *Engine) Register(def Definition) error {
	if def.Name == "" {
		return errors.New("empty workflow name")
	}
	if len(def.Steps) == 0 {
		return errors.Errorf("workflow '%s' has no steps", def.Name)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	if _, exists := en.definitions[def.Name]; exists {
		return &DuplicateWorkflowError{Name: def.Name}
	}
	en.definitions[def.Name] = def
	en.logger.Infof("Registered workflow '%s' with %d steps", def.Name, len(def.Steps))
	return nil
}

type executeConfig struct {
	idempotencyKey    *string
	correlationID     *string
	parentExecutionID *string
	timeoutSeconds    *int
	maxRetries        *int
}

// ExecuteOption configures a single Execute call.
type ExecuteOption func(*executeConfig)

// WithIdempotencyKey makes repeated submissions of the same logical
// request replay the cached result instead of re-executing side effects.
func WithIdempotencyKey(key string) ExecuteOption {
	return func(c *executeConfig) { c.idempotencyKey = &key }
}

// WithCorrelationID links this run to related executions for tracing.
func WithCorrelationID(id string) ExecuteOption {
	return func(c *executeConfig) { c.correlationID = &id }
}

// WithParentExecution marks this run as a child of another execution.
func WithParentExecution(id string) ExecuteOption {
	return func(c *executeConfig) { c.parentExecutionID = &id }
}

// WithTimeout sets the deadline, relative to creation, after which the
// reconciler flags the execution as timed out.
func WithTimeout(seconds int) ExecuteOption {
	return func(c *executeConfig) { c.timeoutSeconds = &seconds }
}

// WithMaxRetries overrides the engine's default retry budget for this run.
func WithMaxRetries(n int) ExecuteOption {
	return func(c *executeConfig) { c.maxRetries = &n }
}

// Execute resolves the named workflow, creates or reuses an execution
// record, runs the steps and returns the tagged outcome. It never lets a
// step error escape uncaught.
func (en *Engine) Execute(ctx context.Context, name string, input any, opts ...ExecuteOption) Result {
	en.mu.RLock()
	def, ok := en.definitions[name]
	en.mu.RUnlock()
	if !ok {
		return Result{Err: &WorkflowNotFoundError{Name: name}}
	}

	cfg := executeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	maxRetries := en.defaultMaxRetries
	if cfg.maxRetries != nil {
		maxRetries = *cfg.maxRetries
	}

	inputData, err := json.Marshal(input)
	if err != nil {
		return Result{Err: errors.Wrapf(err, "input for workflow '%s' is not serializable", name)}
	}

	now := time.Now()
	expiresAt := now.Add(en.idempotencyHorizon)
	exec := models.Execution{
		ID:                uuid.NewString(),
		WorkflowName:      name,
		Status:            models.RunningExecutionStatus,
		MaxRetries:        maxRetries,
		TimeoutSeconds:    cfg.timeoutSeconds,
		ParentExecutionID: cfg.parentExecutionID,
		CorrelationID:     cfg.correlationID,
		IdempotencyKey:    cfg.idempotencyKey,
		ExpiresAt:         &expiresAt,
		InputData:         inputData,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if cfg.idempotencyKey != nil {
		existing, created, err := en.store.FindOrCreateByIdempotencyKey(exec)
		if err != nil {
			return Result{Err: errors.Wrapf(err, "idempotent submission of workflow '%s'", name)}
		}
		if !created {
			return en.resumeExisting(ctx, def, existing, input)
		}
		exec = existing
	} else {
		if err := en.createWithFreshID(ctx, &exec); err != nil {
			return Result{Err: err}
		}
	}

	en.logger.Infof("Created execution %s for workflow '%s'", exec.ID, name)
	return en.run(ctx, def, exec, input)
}

// createWithFreshID inserts the record, regenerating the id on the
// unlikely key collision.
func (en *Engine) createWithFreshID(ctx context.Context, exec *models.Execution) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(10*time.Millisecond))
	return retry.Do(ctx, backoff, func(_ context.Context) error {
		if err := en.store.CreateExecution(*exec); err != nil {
			if errors.Is(err, storage.ErrDuplicateKey) {
				exec.ID = uuid.NewString()
				return retry.RetryableError(err)
			}
			return errors.Wrap(err, "create execution")
		}
		return nil
	})
}

// resumeExisting decides what to do when an idempotency key already owns a
// record: replay the cached result, reject a duplicate in-flight
// submission, or re-run a failed attempt from the beginning.
func (en *Engine) resumeExisting(ctx context.Context, def Definition, e models.Execution, input any) Result {
	if e.HasCachedResult() {
		en.logger.Infof("Idempotency hit for execution %s: replaying cached result", e.ID)
		return Result{
			ExecutionID: e.ID,
			Status:      e.Status,
			Output:      json.RawMessage(e.ResultPayload),
			Replayed:    true,
		}
	}
	switch e.Status {
	case models.RunningExecutionStatus, models.PausedExecutionStatus:
		key := ""
		if e.IdempotencyKey != nil {
			key = *e.IdempotencyKey
		}
		return Result{
			ExecutionID: e.ID,
			Status:      e.Status,
			Err: &DuplicateExecutionError{
				WorkflowName:   e.WorkflowName,
				IdempotencyKey: key,
				ExecutionID:    e.ID,
			},
		}
	}

	reopened, err := en.reopen(e)
	if err != nil {
		return Result{ExecutionID: e.ID, Status: e.Status, Err: err}
	}
	en.logger.Infof("Re-running execution %s (attempt %d/%d)", reopened.ID, reopened.RetryCount, reopened.MaxRetries)
	return en.run(ctx, def, reopened, input)
}

// reopen performs the retry transition back to RUNNING, clearing the
// error state of the previous attempt.
func (en *Engine) reopen(e models.Execution) (models.Execution, error) {
	switch e.Status {
	case models.FailedExecutionStatus, models.TimeoutExecutionStatus, models.CleanedUpExecutionStatus:
	default:
		return e, errors.Errorf("execution %s in status %s cannot be re-run", e.ID, e.Status)
	}
	if !e.CanRetryAfterFailure() {
		return e, &MaxRetriesExceededError{ExecutionID: e.ID, RetryCount: e.RetryCount, MaxRetries: e.MaxRetries}
	}
	// TIMEOUT is not directly retry-eligible; it passes through CLEANED_UP.
	if e.Status == models.TimeoutExecutionStatus {
		if err := e.Apply(models.TriggerCleanup); err != nil {
			return e, err
		}
	}
	if err := e.Apply(models.TriggerRetry); err != nil {
		return e, err
	}
	e.RetryCount++
	e.ErrorMessage = ""
	e.ErrorStackTrace = ""
	e.CompletedAt = nil
	return en.store.UpdateExecution(e)
}

// run executes the workflow body against a fresh context and finalizes
// the record.
func (en *Engine) run(ctx context.Context, def Definition, exec models.Execution, input any) Result {
	ec := newExecContext(exec, &eventRecorder{store: en.store, logger: en.logger})
	output, stack, execErr := en.runSteps(ctx, def, input, ec)

	if execErr == nil {
		return en.finalizeSuccess(exec, output, ec)
	}
	if errors.Is(execErr, errCancelled) {
		// Cancel already drove the record to CANCELLED; nothing to persist.
		en.logger.Infof("Execution %s observed cancellation between steps", exec.ID)
		return Result{ExecutionID: exec.ID, Status: models.CancelledExecutionStatus, Err: execErr}
	}
	if errors.Is(execErr, errPaused) {
		// Pause already drove the record to PAUSED. Completed steps keep
		// their effects; the record stays resumable.
		en.logger.Infof("Execution %s observed pause between steps", exec.ID)
		return Result{ExecutionID: exec.ID, Status: models.PausedExecutionStatus, Err: execErr}
	}
	return en.finalizeFailure(ctx, exec, execErr, stack, ec)
}

func (en *Engine) finalizeSuccess(exec models.Execution, output any, ec *ExecContext) Result {
	outputData, err := json.Marshal(output)
	if err != nil {
		en.logger.Errorf("Output of execution %s is not serializable: %v", exec.ID, err)
		outputData = nil
	}
	resultID := uuid.NewString()
	updated, err := en.persistTransition(exec, models.TriggerComplete, func(e *models.Execution) {
		completedAt := time.Now()
		e.OutputData = outputData
		e.ResultID = &resultID
		e.ResultPayload = outputData
		e.ContextData = ec.Snapshot()
		e.CompletedAt = &completedAt
		e.ErrorMessage = ""
		e.ErrorStackTrace = ""
	})
	if err != nil {
		return Result{ExecutionID: exec.ID, Status: exec.Status, Output: output, Err: errors.Wrap(err, "finalize execution")}
	}
	en.logger.Infof("Execution %s completed", exec.ID)
	return Result{ExecutionID: updated.ID, Status: updated.Status, Output: output}
}

func (en *Engine) finalizeFailure(ctx context.Context, exec models.Execution, execErr error, stack []completedStep, ec *ExecContext) Result {
	// The unwind must run even when the caller's context is already gone.
	compErr := en.unwind(context.WithoutCancel(ctx), stack, ec)

	msg := execErr.Error()
	if compErr != nil {
		msg = msg + "; " + compErr.Error()
	}
	stackTrace := fmt.Sprintf("%+v", execErr)

	updated, err := en.persistTransition(exec, models.TriggerFail, func(e *models.Execution) {
		e.ErrorMessage = msg
		e.ErrorStackTrace = stackTrace
		e.ContextData = ec.Snapshot()
	})
	if err != nil {
		en.logger.Errorf("Failed to persist failure of execution %s: %v", exec.ID, err)
		updated = exec
	}
	en.logger.Errorf("Execution %s failed: %v", exec.ID, execErr)

	result := Result{ExecutionID: exec.ID, Status: updated.Status, Err: execErr}
	if compErr != nil {
		result.CompensationErr = compErr
	}
	return result
}

// persistTransition fires the trigger and writes the record, re-reading
// and re-applying on an optimistic version conflict.
func (en *Engine) persistTransition(e models.Execution, trigger models.Trigger, mutate func(*models.Execution)) (models.Execution, error) {
	var updated models.Execution
	backoff := retry.WithMaxRetries(3, retry.NewConstant(25*time.Millisecond))
	err := retry.Do(context.Background(), backoff, func(_ context.Context) error {
		if err := e.Apply(trigger); err != nil {
			return err
		}
		mutate(&e)
		out, err := en.store.UpdateExecution(e)
		if err != nil {
			if errors.Is(err, storage.ErrVersionConflict) {
				fresh, getErr := en.store.GetExecution(e.ID)
				if getErr != nil {
					return getErr
				}
				e = fresh
				return retry.RetryableError(err)
			}
			return err
		}
		updated = out
		return nil
	})
	return updated, err
}

// GetExecution fetches a single execution record.
func (en *Engine) GetExecution(id string) (models.Execution, error) {
	e, err := en.store.GetExecution(id)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Execution{}, &ExecutionNotFoundError{ID: id}
	}
	return e, err
}

// ListStepEvents returns the audit trail of an execution in the requested
// order.
func (en *Engine) ListStepEvents(id string, order storage.EventOrder) ([]models.StepEvent, error) {
	if _, err := en.GetExecution(id); err != nil {
		return nil, err
	}
	return en.store.ListStepEvents(id, order)
}

// Pause suspends a running execution. The body observes it cooperatively.
func (en *Engine) Pause(id string) error {
	_, err := en.transition(id, models.TriggerPause)
	return err
}

// Resume reopens a paused execution.
func (en *Engine) Resume(id string) error {
	_, err := en.transition(id, models.TriggerResume)
	return err
}

// Cancel requests cooperative cancellation: the status flips immediately,
// an in-flight step finishes and the run stops at the next step boundary.
func (en *Engine) Cancel(id string) error {
	_, err := en.transition(id, models.TriggerCancel)
	return err
}

func (en *Engine) transition(id string, trigger models.Trigger) (models.Execution, error) {
	e, err := en.GetExecution(id)
	if err != nil {
		return models.Execution{}, err
	}
	updated, err := en.persistTransition(e, trigger, func(*models.Execution) {})
	if err != nil {
		return models.Execution{}, err
	}
	en.logger.Infof("Execution %s transitioned to %s", id, updated.Status)
	return updated, nil
}

// Retry re-runs a failed execution from the first step. Retries never
// resume into the middle of a run: without a cached result the whole body
// is executed again.
func (en *Engine) Retry(ctx context.Context, id string) Result {
	e, err := en.GetExecution(id)
	if err != nil {
		return Result{ExecutionID: id, Err: err}
	}
	en.mu.RLock()
	def, ok := en.definitions[e.WorkflowName]
	en.mu.RUnlock()
	if !ok {
		return Result{ExecutionID: id, Err: &WorkflowNotFoundError{Name: e.WorkflowName}}
	}
	reopened, err := en.reopen(e)
	if err != nil {
		return Result{ExecutionID: id, Status: e.Status, Err: err}
	}
	var input any
	if len(reopened.InputData) > 0 {
		if err := json.Unmarshal(reopened.InputData, &input); err != nil {
			return Result{ExecutionID: id, Status: reopened.Status, Err: errors.Wrap(err, "decode stored input")}
		}
	}
	en.logger.Infof("Retrying execution %s (attempt %d/%d)", id, reopened.RetryCount, reopened.MaxRetries)
	return en.run(ctx, def, reopened, input)
}

// Rollback explicitly compensates an already-finished execution, driving
// it to COMPENSATED. Completed steps are identified from the audit trail
// and unwound in reverse logical order, each compensation receiving the
// execution's stored workflow input.
func (en *Engine) Rollback(ctx context.Context, id string) error {
	e, err := en.GetExecution(id)
	if err != nil {
		return err
	}
	if !e.CanApply(models.TriggerCompensate) {
		return errors.Errorf("execution %s in status %s cannot be rolled back", id, e.Status)
	}
	en.mu.RLock()
	def, ok := en.definitions[e.WorkflowName]
	en.mu.RUnlock()
	if !ok {
		return &WorkflowNotFoundError{Name: e.WorkflowName}
	}

	events, err := en.store.ListStepEvents(id, storage.OrderByStepIndex)
	if err != nil {
		return errors.Wrap(err, "load audit trail")
	}

	var input any
	if len(e.InputData) > 0 {
		if err := json.Unmarshal(e.InputData, &input); err != nil {
			return errors.Wrap(err, "decode stored input")
		}
	}

	stepsByName := make(map[string]Step)
	for _, step := range def.Steps {
		if step.IsParallel() {
			for _, member := range step.group {
				stepsByName[member.name] = member
			}
			continue
		}
		stepsByName[step.name] = step
	}

	ec := newExecContext(e, &eventRecorder{store: en.store, logger: en.logger})
	var stack []completedStep
	for _, ev := range events {
		if ev.StepIndex >= ec.stepIndex {
			ec.stepIndex = ev.StepIndex + 1
		}
		if ev.Status != models.CompletedStepEventStatus {
			continue
		}
		step, ok := stepsByName[ev.StepName]
		if !ok {
			continue
		}
		stack = append(stack, completedStep{step: step, input: input})
	}

	compErr := en.unwind(context.WithoutCancel(ctx), stack, ec)

	if _, err := en.persistTransition(e, models.TriggerCompensate, func(rec *models.Execution) {
		if compErr != nil {
			rec.ErrorMessage = compErr.Error()
		}
	}); err != nil {
		return errors.Wrapf(err, "persist rollback of execution %s", id)
	}
	en.logger.Infof("Execution %s rolled back", id)
	if compErr != nil {
		return compErr
	}
	return nil
}

// StepStats aggregates per-step duration statistics for a workflow over a
// time window.
func (en *Engine) StepStats(workflowName string, from, to time.Time) ([]models.StepStats, error) {
	return en.store.StepDurationStats(workflowName, from, to)
}
