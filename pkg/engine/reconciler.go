package engine

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

const (
	// DefaultSweepInterval bounds how long a deadline breach can go undetected.
	DefaultSweepInterval = 30 * time.Second
	// DefaultStaleThreshold is how long a STARTED step event may linger
	// before it is reported as evidence of a crashed process.
	DefaultStaleThreshold = 10 * time.Minute
	// DefaultRetryWindow is how far back the sweep looks for failed
	// executions still within their retry budget.
	DefaultRetryWindow = 24 * time.Hour
)

// ReconcilerOptions tunes the background sweep.
type ReconcilerOptions struct {
	Interval       time.Duration
	StaleThreshold time.Duration
	RetryWindow    time.Duration
}

// SweepReport summarizes one reconciliation pass for operators and for
// the external scheduler that drives automatic retries.
type SweepReport struct {
	TimedOut        []string
	StaleStepEvents []models.StepEvent
	Deleted         []string
	RetryCandidates []models.Execution
}

// Reconciler is the corrective background sweep over the execution store.
// It is the only component permitted to force a record into TIMEOUT or to
// physically delete expired idempotency records. It is advisory only: it
// never touches an execution actively driven by an in-process Execute
// call, because its queries match only deadline-breached or terminal rows.
type Reconciler struct {
	store  storage.Store
	logger Logger
	opts   ReconcilerOptions
}

// NewReconciler builds a reconciler with defaults filled in.
func NewReconciler(store storage.Store, logger Logger, opts ReconcilerOptions) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = DefaultStaleThreshold
	}
	if opts.RetryWindow <= 0 {
		opts.RetryWindow = DefaultRetryWindow
	}
	return &Reconciler{store: store, logger: logger, opts: opts}
}

// Start runs the periodic sweep until the context is cancelled. Detection
// latency is bounded by the poll interval, not exact.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()
	r.logger.Infof("Reconciler started with interval %s", r.opts.Interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.Infof("Reconciler stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx, time.Now()); err != nil {
				r.logger.Errorf("Reconciliation sweep failed: %v", err)
			}
		}
	}
}

// Sweep performs one reconciliation pass at the given instant.
func (r *Reconciler) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport

	timedOut, err := r.store.FindTimedOut(now)
	if err != nil {
		return report, errors.Wrap(err, "find timed-out executions")
	}
	for _, e := range timedOut {
		if err := r.markTimedOut(e); err != nil {
			r.logger.Errorf("Failed to time out execution %s: %v", e.ID, err)
			continue
		}
		report.TimedOut = append(report.TimedOut, e.ID)
	}

	stale, err := r.store.FindStaleStepEvents(now.Add(-r.opts.StaleThreshold))
	if err != nil {
		return report, errors.Wrap(err, "find stale step events")
	}
	for _, ev := range stale {
		r.logger.Errorf("Step '%s' of execution %s has been in STARTED status since %s",
			ev.StepName, ev.ExecutionID, ev.StartedAt.Format(time.RFC3339))
	}
	report.StaleStepEvents = stale

	expired, err := r.store.FindExpired(now)
	if err != nil {
		return report, errors.Wrap(err, "find expired executions")
	}
	for _, e := range expired {
		if err := r.store.DeleteExecution(e.ID); err != nil {
			r.logger.Errorf("Failed to delete expired execution %s: %v", e.ID, err)
			continue
		}
		report.Deleted = append(report.Deleted, e.ID)
	}

	candidates, err := r.store.FindRetryCandidates(now.Add(-r.opts.RetryWindow))
	if err != nil {
		return report, errors.Wrap(err, "find retry candidates")
	}
	for _, e := range candidates {
		r.logger.Infof("Execution %s of workflow '%s' is retry-eligible (%d/%d attempts used)",
			e.ID, e.WorkflowName, e.RetryCount, e.MaxRetries)
	}
	report.RetryCandidates = candidates

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// markTimedOut transitions a deadline-breached execution to TIMEOUT with a
// synthetic error. An optimistic version conflict means the execution's
// own engine call finalized it first; the sweep backs off.
func (r *Reconciler) markTimedOut(e models.Execution) error {
	timeoutSeconds := 0
	if e.TimeoutSeconds != nil {
		timeoutSeconds = *e.TimeoutSeconds
	}
	synthetic := &TimeoutError{ExecutionID: e.ID, TimeoutSeconds: timeoutSeconds}

	if err := e.Apply(models.TriggerTimeout); err != nil {
		return err
	}
	e.ErrorMessage = synthetic.Error()
	if _, err := r.store.UpdateExecution(e); err != nil {
		if errors.Is(err, storage.ErrVersionConflict) {
			r.logger.Infof("Execution %s was finalized while being timed out; skipping", e.ID)
			return nil
		}
		return err
	}
	r.logger.Infof("Execution %s timed out after %ds", e.ID, timeoutSeconds)
	return nil
}
