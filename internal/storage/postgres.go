package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

type DBInterface interface {
	Get(dest interface{}, query string, args ...interface{}) error
	Select(dest interface{}, query string, args ...interface{}) error
	QueryRowx(query string, args ...interface{}) *sqlx.Row
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// PostgresStore implements storage.Store over either a *sqlx.DB or, after
// Begin, a *sqlx.Tx.
type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin() (storage.Store, error) {
	if db, ok := s.db.(*sqlx.DB); ok {
		tx, err := db.Beginx()
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Commit()
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

// CreateExecution inserts a new execution record in its initial state.
func (s *PostgresStore) CreateExecution(e models.Execution) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_executions
		(id, workflow_name, status, retry_count, max_retries, timeout_seconds,
		 parent_execution_id, correlation_id, idempotency_key, result_id, result_payload,
		 expires_at, input_data, output_data, context_data, error_message, error_stack_trace,
		 completed_at, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		e.ID, e.WorkflowName, e.Status, e.RetryCount, e.MaxRetries, e.TimeoutSeconds,
		e.ParentExecutionID, e.CorrelationID, e.IdempotencyKey, e.ResultID, e.ResultPayload,
		e.ExpiresAt, e.InputData, e.OutputData, e.ContextData, e.ErrorMessage, e.ErrorStackTrace,
		e.CompletedAt, e.CreatedAt, e.UpdatedAt, e.Version)
	if isUniqueViolation(err) {
		return storage.ErrDuplicateKey
	}
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetExecution(id string) (models.Execution, error) {
	var e models.Execution
	err := s.db.Get(&e, "SELECT * FROM workflow_executions WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.Execution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Execution{}, err
	}
	return e, nil
}

func (s *PostgresStore) ListExecutions() ([]models.Execution, error) {
	executions := []models.Execution{}
	err := s.db.Select(&executions, "SELECT * FROM workflow_executions ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// UpdateExecution writes the record under optimistic concurrency: the row
// is matched on (id, version) and the version is bumped on success.
func (s *PostgresStore) UpdateExecution(e models.Execution) (models.Execution, error) {
	var updated models.Execution
	err := s.db.QueryRowx(`
		UPDATE workflow_executions SET
			status = $1, retry_count = $2, max_retries = $3, timeout_seconds = $4,
			parent_execution_id = $5, correlation_id = $6, result_id = $7, result_payload = $8,
			expires_at = $9, input_data = $10, output_data = $11, context_data = $12,
			error_message = $13, error_stack_trace = $14, completed_at = $15,
			updated_at = CURRENT_TIMESTAMP, version = version + 1
		WHERE id = $16 AND version = $17
		RETURNING *`,
		e.Status, e.RetryCount, e.MaxRetries, e.TimeoutSeconds,
		e.ParentExecutionID, e.CorrelationID, e.ResultID, e.ResultPayload,
		e.ExpiresAt, e.InputData, e.OutputData, e.ContextData,
		e.ErrorMessage, e.ErrorStackTrace, e.CompletedAt,
		e.ID, e.Version).StructScan(&updated)
	if err == sql.ErrNoRows {
		if _, getErr := s.GetExecution(e.ID); getErr != nil {
			return models.Execution{}, getErr
		}
		return models.Execution{}, storage.ErrVersionConflict
	}
	if err != nil {
		return models.Execution{}, fmt.Errorf("update execution %s: %w", e.ID, err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteExecution(id string) error {
	res, err := s.db.Exec("DELETE FROM workflow_executions WHERE id = $1", id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// FindOrCreateByIdempotencyKey atomically resolves the record owning
// (workflow_name, idempotency_key). The existing row is taken under a
// row-level write lock so concurrent duplicate submissions serialize; a
// create-create race is resolved by the unique index, with the loser
// re-reading the winner's row.
func (s *PostgresStore) FindOrCreateByIdempotencyKey(e models.Execution) (models.Execution, bool, error) {
	if _, ok := s.db.(*sqlx.Tx); ok {
		return s.findOrCreateLocked(e)
	}
	db := s.db.(*sqlx.DB)

	tx, err := db.Beginx()
	if err != nil {
		return models.Execution{}, false, err
	}
	txStore := &PostgresStore{db: tx}
	found, created, err := txStore.findOrCreateLocked(e)
	if err != nil {
		_ = tx.Rollback()
		if err == storage.ErrDuplicateKey {
			// Lost the create-create race; the winner's row becomes visible
			// once its transaction commits.
			return s.awaitWinner(e)
		}
		return models.Execution{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return models.Execution{}, false, err
	}
	return found, created, nil
}

func (s *PostgresStore) findOrCreateLocked(e models.Execution) (models.Execution, bool, error) {
	var existing models.Execution
	err := s.db.Get(&existing,
		"SELECT * FROM workflow_executions WHERE workflow_name = $1 AND idempotency_key = $2 FOR UPDATE",
		e.WorkflowName, e.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return models.Execution{}, false, err
	}
	if err := s.CreateExecution(e); err != nil {
		return models.Execution{}, false, err
	}
	return e, true, nil
}

func (s *PostgresStore) awaitWinner(e models.Execution) (models.Execution, bool, error) {
	var lastErr error
	// The winner's row only becomes visible once its transaction commits,
	// which can lag under load; poll for up to a second.
	for attempt := 0; attempt < 50; attempt++ {
		var winner models.Execution
		err := s.db.Get(&winner,
			"SELECT * FROM workflow_executions WHERE workflow_name = $1 AND idempotency_key = $2",
			e.WorkflowName, e.IdempotencyKey)
		if err == nil {
			return winner, false, nil
		}
		if err != sql.ErrNoRows {
			return models.Execution{}, false, err
		}
		lastErr = err
		time.Sleep(20 * time.Millisecond)
	}
	return models.Execution{}, false, fmt.Errorf("idempotency race lost but winner not visible: %w", lastErr)
}

func (s *PostgresStore) FindByResultID(resultID string) (models.Execution, error) {
	var e models.Execution
	err := s.db.Get(&e, "SELECT * FROM workflow_executions WHERE result_id = $1", resultID)
	if err == sql.ErrNoRows {
		return models.Execution{}, storage.ErrNotFound
	}
	if err != nil {
		return models.Execution{}, err
	}
	return e, nil
}

// FindTimedOut returns RUNNING executions past their relative deadline.
func (s *PostgresStore) FindTimedOut(now time.Time) ([]models.Execution, error) {
	executions := []models.Execution{}
	err := s.db.Select(&executions, `
		SELECT * FROM workflow_executions
		WHERE status = 'RUNNING'
		AND timeout_seconds IS NOT NULL
		AND created_at + make_interval(secs => timeout_seconds) < $1
		ORDER BY created_at`, now)
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// FindExpired returns terminal executions whose idempotency cache horizon
// has passed and which are eligible for physical deletion.
func (s *PostgresStore) FindExpired(now time.Time) ([]models.Execution, error) {
	executions := []models.Execution{}
	err := s.db.Select(&executions, `
		SELECT * FROM workflow_executions
		WHERE status NOT IN ('RUNNING', 'PAUSED')
		AND expires_at IS NOT NULL
		AND expires_at < $1
		ORDER BY expires_at`, now)
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// FindRetryCandidates returns FAILED executions still within their retry
// budget created after the cutoff.
func (s *PostgresStore) FindRetryCandidates(since time.Time) ([]models.Execution, error) {
	executions := []models.Execution{}
	err := s.db.Select(&executions, `
		SELECT * FROM workflow_executions
		WHERE status = 'FAILED'
		AND retry_count < max_retries
		AND created_at > $1
		ORDER BY created_at`, since)
	if err != nil {
		return nil, err
	}
	return executions, nil
}

// AppendStepEvent inserts a new audit entry and returns its id.
func (s *PostgresStore) AppendStepEvent(ev models.StepEvent) (int64, error) {
	var id int64
	err := s.db.QueryRowx(`
		INSERT INTO step_events
		(execution_id, step_index, step_name, status, input_snapshot, output_snapshot,
		 error_message, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		ev.ExecutionID, ev.StepIndex, ev.StepName, ev.Status, ev.InputSnapshot,
		ev.OutputSnapshot, ev.ErrorMessage, ev.StartedAt, ev.DurationMs).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append step event: %w", err)
	}
	return id, nil
}

// FinalizeStepEvent closes a STARTED event exactly once. Finalized events
// are immutable history.
func (s *PostgresStore) FinalizeStepEvent(id int64, status models.StepEventStatus, output []byte, errMsg string, durationMs int64) error {
	res, err := s.db.Exec(`
		UPDATE step_events
		SET status = $1, output_snapshot = $2, error_message = $3, duration_ms = $4
		WHERE id = $5 AND status = 'STARTED'`,
		status, output, errMsg, durationMs, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var existing models.StepEvent
		if getErr := s.db.Get(&existing, "SELECT * FROM step_events WHERE id = $1", id); getErr == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return storage.ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) ListStepEvents(executionID string, order storage.EventOrder) ([]models.StepEvent, error) {
	orderClause := "step_index, id"
	if order == storage.OrderByStartedAt {
		orderClause = "started_at, id"
	}
	events := []models.StepEvent{}
	err := s.db.Select(&events,
		"SELECT * FROM step_events WHERE execution_id = $1 ORDER BY "+orderClause, executionID)
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (s *PostgresStore) ListFailedStepEvents(executionID string) ([]models.StepEvent, error) {
	events := []models.StepEvent{}
	err := s.db.Select(&events,
		"SELECT * FROM step_events WHERE execution_id = $1 AND status = 'FAILED' ORDER BY step_index, id",
		executionID)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FindStaleStepEvents returns events stuck in STARTED beyond the given
// instant, the signature of a process crash mid-step.
func (s *PostgresStore) FindStaleStepEvents(olderThan time.Time) ([]models.StepEvent, error) {
	events := []models.StepEvent{}
	err := s.db.Select(&events,
		"SELECT * FROM step_events WHERE status = 'STARTED' AND started_at < $1 ORDER BY started_at",
		olderThan)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// StepDurationStats aggregates finalized step durations per step name for
// one workflow over a time window.
func (s *PostgresStore) StepDurationStats(workflowName string, from, to time.Time) ([]models.StepStats, error) {
	stats := []models.StepStats{}
	err := s.db.Select(&stats, `
		SELECT se.step_name,
		       COUNT(*) AS count,
		       AVG(se.duration_ms)::float8 AS avg_ms,
		       MIN(se.duration_ms) AS min_ms,
		       MAX(se.duration_ms) AS max_ms
		FROM step_events se
		JOIN workflow_executions we ON we.id = se.execution_id
		WHERE we.workflow_name = $1
		AND se.duration_ms IS NOT NULL
		AND se.started_at >= $2 AND se.started_at <= $3
		GROUP BY se.step_name
		ORDER BY se.step_name`, workflowName, from, to)
	if err != nil {
		return nil, err
	}
	return stats, nil
}
