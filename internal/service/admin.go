package service

import (
	"time"

	"github.com/bumahkib7/vernont-backend-sub007/internal/log"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/models"
	"github.com/bumahkib7/vernont-backend-sub007/pkg/storage"
)

// AdminService is the operator-facing surface over the execution store,
// used by the CLI and the HTTP server. It only performs status
// transitions the state machine permits; running workflow bodies is the
// engine's job.
type AdminService struct {
	store storage.Store
}

func NewAdminService(store storage.Store) *AdminService {
	return &AdminService{store: store}
}

func (s *AdminService) ListExecutions() ([]models.Execution, error) {
	return s.store.ListExecutions()
}

func (s *AdminService) GetExecution(id string) (models.Execution, error) {
	return s.store.GetExecution(id)
}

// FindByResultID resolves the execution that produced a cached result handle.
func (s *AdminService) FindByResultID(resultID string) (models.Execution, error) {
	return s.store.FindByResultID(resultID)
}

func (s *AdminService) ListStepEvents(id string, order storage.EventOrder) ([]models.StepEvent, error) {
	if _, err := s.store.GetExecution(id); err != nil {
		return nil, err
	}
	return s.store.ListStepEvents(id, order)
}

func (s *AdminService) ListFailedStepEvents(id string) ([]models.StepEvent, error) {
	if _, err := s.store.GetExecution(id); err != nil {
		return nil, err
	}
	return s.store.ListFailedStepEvents(id)
}

func (s *AdminService) StepStats(workflowName string, from, to time.Time) ([]models.StepStats, error) {
	return s.store.StepDurationStats(workflowName, from, to)
}

// Cancel requests cooperative cancellation of an execution.
func (s *AdminService) Cancel(id string) error {
	return s.applyTrigger(id, models.TriggerCancel)
}

// Pause suspends a running execution.
func (s *AdminService) Pause(id string) error {
	return s.applyTrigger(id, models.TriggerPause)
}

// Resume reopens a paused execution.
func (s *AdminService) Resume(id string) error {
	return s.applyTrigger(id, models.TriggerResume)
}

func (s *AdminService) applyTrigger(id string, trigger models.Trigger) (err error) {
	txStore, err := s.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				log.GetLogger().Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			log.GetLogger().Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	e, err := txStore.GetExecution(id)
	if err != nil {
		return err
	}
	if err = e.Apply(trigger); err != nil {
		return err
	}
	if _, err = txStore.UpdateExecution(e); err != nil {
		return err
	}
	log.GetLogger().Infof("Execution %s transitioned to %s", id, e.Status)
	return nil
}
