package model

import (
	"time"

	"github.com/google/uuid"
)

// ScheduledJob is a durable continuation for a suspended run. The
// poller claims a job by flipping IsProcessed before invoking resume
// logic, which is the single-delivery guard under concurrent pollers.
// A failed resume re-enqueues the same row with a doubled delay until
// RetryCount reaches MaxRetries, at which point the referenced run is
// forced to FAILED.
type ScheduledJob struct {
	BaseModel
	RunID        uuid.UUID `gorm:"type:uuid;column:run_id;not null;index" json:"runId"`
	ResumeIndex  int       `gorm:"column:resume_index;not null" json:"resumeIndex"`
	DueAt        time.Time `gorm:"type:timestamptz;column:due_at;not null;index" json:"dueAt"`
	IsProcessed  bool      `gorm:"column:is_processed;not null;default:false;index" json:"isProcessed"`
	RetryCount   int       `gorm:"column:retry_count;not null;default:0" json:"retryCount"`
	MaxRetries   int       `gorm:"column:max_retries;not null;default:3" json:"maxRetries"`
	ErrorMessage string    `gorm:"type:text;column:error_message" json:"errorMessage,omitempty"`
}

func (j *ScheduledJob) TableName() string {
	return "scheduled_jobs"
}
