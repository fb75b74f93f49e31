package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
)

func running() models.Execution {
	return models.Execution{
		ID:           "e1",
		WorkflowName: "wf",
		Status:       models.RunningExecutionStatus,
		MaxRetries:   3,
	}
}

func TestApplyLegalTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    models.ExecutionStatus
		trigger models.Trigger
		to      models.ExecutionStatus
	}{
		{"Complete", models.RunningExecutionStatus, models.TriggerComplete, models.CompletedExecutionStatus},
		{"Fail", models.RunningExecutionStatus, models.TriggerFail, models.FailedExecutionStatus},
		{"Pause", models.RunningExecutionStatus, models.TriggerPause, models.PausedExecutionStatus},
		{"Cancel", models.RunningExecutionStatus, models.TriggerCancel, models.CancelledExecutionStatus},
		{"Timeout", models.RunningExecutionStatus, models.TriggerTimeout, models.TimeoutExecutionStatus},
		{"Resume", models.PausedExecutionStatus, models.TriggerResume, models.RunningExecutionStatus},
		{"CancelWhilePaused", models.PausedExecutionStatus, models.TriggerCancel, models.CancelledExecutionStatus},
		{"RetryAfterFailure", models.FailedExecutionStatus, models.TriggerRetry, models.RunningExecutionStatus},
		{"CompensateAfterFailure", models.FailedExecutionStatus, models.TriggerCompensate, models.CompensatedExecutionStatus},
		{"CompensateAfterCompletion", models.CompletedExecutionStatus, models.TriggerCompensate, models.CompensatedExecutionStatus},
		{"CleanupCompleted", models.CompletedExecutionStatus, models.TriggerCleanup, models.CleanedUpExecutionStatus},
		{"CleanupFailed", models.FailedExecutionStatus, models.TriggerCleanup, models.CleanedUpExecutionStatus},
		{"CleanupTimedOut", models.TimeoutExecutionStatus, models.TriggerCleanup, models.CleanedUpExecutionStatus},
		{"CleanupCancelled", models.CancelledExecutionStatus, models.TriggerCleanup, models.CleanedUpExecutionStatus},
		{"CleanupCompensated", models.CompensatedExecutionStatus, models.TriggerCleanup, models.CleanedUpExecutionStatus},
		{"RetryAfterCleanup", models.CleanedUpExecutionStatus, models.TriggerRetry, models.RunningExecutionStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := running()
			e.Status = tc.from
			require.True(t, e.CanApply(tc.trigger))
			require.NoError(t, e.Apply(tc.trigger))
			assert.Equal(t, tc.to, e.Status)
		})
	}
}

func TestApplyIllegalTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    models.ExecutionStatus
		trigger models.Trigger
	}{
		{"CompleteFromCompleted", models.CompletedExecutionStatus, models.TriggerComplete},
		{"CompleteFromPaused", models.PausedExecutionStatus, models.TriggerComplete},
		{"ResumeFromRunning", models.RunningExecutionStatus, models.TriggerResume},
		{"RetryFromRunning", models.RunningExecutionStatus, models.TriggerRetry},
		{"RetryFromCompleted", models.CompletedExecutionStatus, models.TriggerRetry},
		{"RetryFromTimeout", models.TimeoutExecutionStatus, models.TriggerRetry},
		{"CancelFromCompleted", models.CompletedExecutionStatus, models.TriggerCancel},
		{"CancelFromCancelled", models.CancelledExecutionStatus, models.TriggerCancel},
		{"CompensateFromRunning", models.RunningExecutionStatus, models.TriggerCompensate},
		{"CompensateFromCompensated", models.CompensatedExecutionStatus, models.TriggerCompensate},
		{"TimeoutFromFailed", models.FailedExecutionStatus, models.TriggerTimeout},
		{"CleanupFromRunning", models.RunningExecutionStatus, models.TriggerCleanup},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := running()
			e.Status = tc.from
			assert.False(t, e.CanApply(tc.trigger))
			assert.Error(t, e.Apply(tc.trigger))
			assert.Equal(t, tc.from, e.Status, "status must be unchanged after a rejected trigger")
		})
	}
}

func TestRetryGuard(t *testing.T) {
	t.Run("WithinBudget", func(t *testing.T) {
		e := running()
		e.Status = models.FailedExecutionStatus
		e.RetryCount = 2
		e.MaxRetries = 3
		require.NoError(t, e.Apply(models.TriggerRetry))
		assert.Equal(t, models.RunningExecutionStatus, e.Status)
	})

	t.Run("BudgetSpent", func(t *testing.T) {
		e := running()
		e.Status = models.FailedExecutionStatus
		e.RetryCount = 3
		e.MaxRetries = 3
		assert.False(t, e.CanApply(models.TriggerRetry))
		assert.Error(t, e.Apply(models.TriggerRetry))
		assert.Equal(t, models.FailedExecutionStatus, e.Status)
	})

	t.Run("BudgetSpentAfterCleanup", func(t *testing.T) {
		e := running()
		e.Status = models.CleanedUpExecutionStatus
		e.RetryCount = 3
		e.MaxRetries = 3
		assert.Error(t, e.Apply(models.TriggerRetry))
	})
}

func TestExecutionHelpers(t *testing.T) {
	now := time.Now()

	t.Run("IsTerminal", func(t *testing.T) {
		e := running()
		assert.False(t, e.IsTerminal())
		e.Status = models.PausedExecutionStatus
		assert.False(t, e.IsTerminal())
		e.Status = models.FailedExecutionStatus
		assert.True(t, e.IsTerminal())
		e.Status = models.CompletedExecutionStatus
		assert.True(t, e.IsTerminal())
	})

	t.Run("HasCachedResult", func(t *testing.T) {
		e := running()
		e.ResultPayload = []byte(`{"ok":true}`)
		assert.False(t, e.HasCachedResult(), "in-flight executions have no replayable result")
		e.Status = models.CompletedExecutionStatus
		assert.True(t, e.HasCachedResult())
		e.ResultPayload = nil
		assert.False(t, e.HasCachedResult())
	})

	t.Run("DeadlineExceeded", func(t *testing.T) {
		e := running()
		e.CreatedAt = now
		assert.False(t, e.DeadlineExceeded(now.Add(time.Hour)), "no timeout means no deadline")
		seconds := 30
		e.TimeoutSeconds = &seconds
		assert.False(t, e.DeadlineExceeded(now.Add(10*time.Second)))
		assert.True(t, e.DeadlineExceeded(now.Add(time.Minute)))
	})

	t.Run("Expired", func(t *testing.T) {
		e := running()
		past := now.Add(-time.Minute)
		e.ExpiresAt = &past
		assert.False(t, e.Expired(now), "in-flight executions never expire")
		e.Status = models.CompletedExecutionStatus
		assert.True(t, e.Expired(now))
		future := now.Add(time.Hour)
		e.ExpiresAt = &future
		assert.False(t, e.Expired(now))
	})
}
