package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covecrm/cove/internal/automation/model"
)

// RunStore is the gorm-backed workflow run repository. All state
// transitions go through conditional updates so concurrent writers can
// never double-advance a run.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(db *gorm.DB) *RunStore {
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run *model.WorkflowRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *RunStore) GetByID(ctx context.Context, id uuid.UUID) (*model.WorkflowRun, error) {
	var run model.WorkflowRun
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RunStore) FindByIdempotencyKey(ctx context.Context, key string) (*model.WorkflowRun, error) {
	var run model.WorkflowRun
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *RunStore) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, offset, limit int) ([]model.WorkflowRun, error) {
	var runs []model.WorkflowRun
	err := s.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("started_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// Advance persists the run's mutable state, guarded by the expected
// pre-transition status and action index. A zero-row update means
// another writer already moved the run and the caller loses the race.
func (s *RunStore) Advance(ctx context.Context, run *model.WorkflowRun, expectedStatus model.RunStatus, expectedIndex int) error {
	result := s.db.WithContext(ctx).
		Model(&model.WorkflowRun{}).
		Where("id = ? AND status = ? AND current_action_index = ?", run.ID, expectedStatus, expectedIndex).
		Select("Status", "CurrentActionIndex", "ExecutionLog", "CompletedAt", "NextActionAt", "ErrorMessage").
		Updates(run)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrRunConflict
	}
	return nil
}

// CancelIfIdle marks the run CANCELLED only while it is parked: WAITING
// on a delay, or RUNNING with no action executed yet. A run mid-action
// or already terminal is left untouched.
func (s *RunStore) CancelIfIdle(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&model.WorkflowRun{}).
		Where("id = ? AND (status = ? OR (status = ? AND current_action_index = 0))",
			id, model.RunStatusWaiting, model.RunStatusRunning).
		Updates(map[string]interface{}{
			"status":         model.RunStatusCancelled,
			"completed_at":   now,
			"next_action_at": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ForceFail settles a non-terminal run to FAILED.
func (s *RunStore) ForceFail(ctx context.Context, id uuid.UUID, errMsg string) (*model.WorkflowRun, bool, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&model.WorkflowRun{}).
		Where("id = ? AND status IN ?", id, []model.RunStatus{model.RunStatusRunning, model.RunStatusWaiting}).
		Updates(map[string]interface{}{
			"status":         model.RunStatusFailed,
			"error_message":  errMsg,
			"completed_at":   now,
			"next_action_at": nil,
		})
	if result.Error != nil {
		return nil, false, result.Error
	}
	run, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return run, result.RowsAffected > 0, nil
}
