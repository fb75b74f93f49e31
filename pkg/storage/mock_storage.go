package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
)

// mockStore implements Store with in-memory storage. It is safe for
// concurrent use so engine tests can race executions against it. Begin
// returns the same store: transactional isolation is not simulated.
type mockStore struct {
	mu          sync.RWMutex
	executions  map[string]models.Execution
	events      []models.StepEvent
	nextEventID int64
}

// NewMockStore returns an empty in-memory store.
func NewMockStore() Store {
	return &mockStore{
		executions: make(map[string]models.Execution),
	}
}

func (m *mockStore) Begin() (Store, error) { return m, nil }
func (m *mockStore) Commit() error         { return nil }
func (m *mockStore) Rollback() error       { return nil }
func (m *mockStore) Close() error          { return nil }

func (m *mockStore) CreateExecution(e models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executions[e.ID]; exists {
		return ErrDuplicateKey
	}
	if e.IdempotencyKey != nil {
		for _, other := range m.executions {
			if other.WorkflowName == e.WorkflowName && other.IdempotencyKey != nil && *other.IdempotencyKey == *e.IdempotencyKey {
				return ErrDuplicateKey
			}
		}
	}
	m.executions[e.ID] = e
	return nil
}

func (m *mockStore) GetExecution(id string) (models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.executions[id]
	if !ok {
		return models.Execution{}, ErrNotFound
	}
	return e, nil
}

func (m *mockStore) ListExecutions() ([]models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Execution, 0, len(m.executions))
	for _, e := range m.executions {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) UpdateExecution(e models.Execution) (models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.executions[e.ID]
	if !ok {
		return models.Execution{}, ErrNotFound
	}
	if current.Version != e.Version {
		return models.Execution{}, ErrVersionConflict
	}
	e.Version++
	e.UpdatedAt = time.Now()
	m.executions[e.ID] = e
	return e, nil
}

func (m *mockStore) DeleteExecution(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executions[id]; !ok {
		return ErrNotFound
	}
	delete(m.executions, id)
	remaining := m.events[:0]
	for _, ev := range m.events {
		if ev.ExecutionID != id {
			remaining = append(remaining, ev)
		}
	}
	m.events = remaining
	return nil
}

func (m *mockStore) FindOrCreateByIdempotencyKey(e models.Execution) (models.Execution, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.executions {
		if other.WorkflowName == e.WorkflowName && other.IdempotencyKey != nil &&
			e.IdempotencyKey != nil && *other.IdempotencyKey == *e.IdempotencyKey {
			return other, false, nil
		}
	}
	if _, exists := m.executions[e.ID]; exists {
		return models.Execution{}, false, ErrDuplicateKey
	}
	m.executions[e.ID] = e
	return e, true, nil
}

func (m *mockStore) FindByResultID(resultID string) (models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.executions {
		if e.ResultID != nil && *e.ResultID == resultID {
			return e, nil
		}
	}
	return models.Execution{}, ErrNotFound
}

func (m *mockStore) FindTimedOut(now time.Time) ([]models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Execution
	for _, e := range m.executions {
		if e.Status == models.RunningExecutionStatus && e.DeadlineExceeded(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) FindExpired(now time.Time) ([]models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Execution
	for _, e := range m.executions {
		if e.Expired(now) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) FindRetryCandidates(since time.Time) ([]models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Execution
	for _, e := range m.executions {
		if e.Status == models.FailedExecutionStatus && e.RetryCount < e.MaxRetries && e.CreatedAt.After(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockStore) AppendStepEvent(ev models.StepEvent) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	ev.ID = m.nextEventID
	if ev.StartedAt.IsZero() {
		ev.StartedAt = time.Now()
	}
	m.events = append(m.events, ev)
	return ev.ID, nil
}

func (m *mockStore) FinalizeStepEvent(id int64, status models.StepEventStatus, output []byte, errMsg string, durationMs int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ev := range m.events {
		if ev.ID != id {
			continue
		}
		if ev.Finalized() {
			return ErrVersionConflict
		}
		m.events[i].Status = status
		m.events[i].OutputSnapshot = output
		m.events[i].ErrorMessage = errMsg
		m.events[i].DurationMs = &durationMs
		return nil
	}
	return ErrNotFound
}

func (m *mockStore) ListStepEvents(executionID string, order EventOrder) ([]models.StepEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StepEvent
	for _, ev := range m.events {
		if ev.ExecutionID == executionID {
			out = append(out, ev)
		}
	}
	if order == OrderByStartedAt {
		sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	} else {
		sort.Slice(out, func(i, j int) bool {
			if out[i].StepIndex != out[j].StepIndex {
				return out[i].StepIndex < out[j].StepIndex
			}
			return out[i].ID < out[j].ID
		})
	}
	return out, nil
}

func (m *mockStore) ListFailedStepEvents(executionID string) ([]models.StepEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StepEvent
	for _, ev := range m.events {
		if ev.ExecutionID == executionID && ev.Status == models.FailedStepEventStatus {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockStore) FindStaleStepEvents(olderThan time.Time) ([]models.StepEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.StepEvent
	for _, ev := range m.events {
		if ev.Status == models.StartedStepEventStatus && ev.StartedAt.Before(olderThan) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *mockStore) StepDurationStats(workflowName string, from, to time.Time) ([]models.StepStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	agg := make(map[string]*models.StepStats)
	sums := make(map[string]int64)
	for _, ev := range m.events {
		owner, ok := m.executions[ev.ExecutionID]
		if !ok || owner.WorkflowName != workflowName {
			continue
		}
		if ev.DurationMs == nil || ev.StartedAt.Before(from) || ev.StartedAt.After(to) {
			continue
		}
		st, ok := agg[ev.StepName]
		if !ok {
			st = &models.StepStats{StepName: ev.StepName, MinMs: *ev.DurationMs, MaxMs: *ev.DurationMs}
			agg[ev.StepName] = st
		}
		st.Count++
		sums[ev.StepName] += *ev.DurationMs
		if *ev.DurationMs < st.MinMs {
			st.MinMs = *ev.DurationMs
		}
		if *ev.DurationMs > st.MaxMs {
			st.MaxMs = *ev.DurationMs
		}
	}
	out := make([]models.StepStats, 0, len(agg))
	for name, st := range agg {
		st.AvgMs = float64(sums[name]) / float64(st.Count)
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepName < out[j].StepName })
	return out, nil
}
