package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covecrm/cove/internal/automation/model"
)

// JobStore is the gorm-backed scheduled-job queue.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job *model.ScheduledJob) error {
	return s.db.WithContext(ctx).Create(job).Error
}

// FindDue returns unprocessed jobs whose due time has passed, oldest
// first.
func (s *JobStore) FindDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error) {
	var jobs []model.ScheduledJob
	err := s.db.WithContext(ctx).
		Where("is_processed = ? AND due_at <= ?", false, now).
		Order("due_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// Claim flips is_processed on an unprocessed job. The conditional
// update is the single-delivery guard: exactly one concurrent poller
// sees a row affected.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).
		Model(&model.ScheduledJob{}).
		Where("id = ? AND is_processed = ?", id, false).
		Update("is_processed", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Reschedule re-enqueues a claimed job for another resume attempt.
func (s *JobStore) Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, retryCount int, errMsg string) error {
	return s.db.WithContext(ctx).
		Model(&model.ScheduledJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_processed":  false,
			"due_at":        dueAt,
			"retry_count":   retryCount,
			"error_message": errMsg,
		}).Error
}

// MarkExhausted records the terminal failure on a spent job. The row
// stays processed so it is never picked up again.
func (s *JobStore) MarkExhausted(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error {
	return s.db.WithContext(ctx).
		Model(&model.ScheduledJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":   retryCount,
			"error_message": errMsg,
		}).Error
}
