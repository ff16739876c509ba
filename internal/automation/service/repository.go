package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/covecrm/cove/internal/automation/model"
)

// DefinitionRepository loads workflow definitions and keeps their run
// counters.
type DefinitionRepository interface {
	FindActiveByTrigger(ctx context.Context, tenantID uuid.UUID, trigger model.TriggerType) ([]model.WorkflowDefinition, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.WorkflowDefinition, error)

	// RecordRunOutcome increments totalRuns plus successfulRuns or
	// failedRuns for one terminal run.
	RecordRunOutcome(ctx context.Context, id uuid.UUID, succeeded bool) error
}

// RunRepository persists workflow runs. Advance is the single-writer
// guard: it saves the run's mutable state only if the stored row still
// matches the expected pre-action status and index, returning
// model.ErrRunConflict otherwise.
type RunRepository interface {
	Create(ctx context.Context, run *model.WorkflowRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.WorkflowRun, error)

	// FindByIdempotencyKey returns (nil, nil) when no run holds the key.
	FindByIdempotencyKey(ctx context.Context, key string) (*model.WorkflowRun, error)
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID, offset, limit int) ([]model.WorkflowRun, error)

	Advance(ctx context.Context, run *model.WorkflowRun, expectedStatus model.RunStatus, expectedIndex int) error

	// CancelIfIdle marks the run CANCELLED only while it is WAITING or
	// still RUNNING before its first action. Returns whether it did.
	CancelIfIdle(ctx context.Context, id uuid.UUID) (bool, error)

	// ForceFail moves a non-terminal run to FAILED with the given error.
	// Returns the run and whether this call performed the transition.
	ForceFail(ctx context.Context, id uuid.UUID, errMsg string) (*model.WorkflowRun, bool, error)
}

// JobRepository is the durable scheduled-job queue.
type JobRepository interface {
	Create(ctx context.Context, job *model.ScheduledJob) error

	// FindDue returns unprocessed jobs with dueAt <= now, oldest first.
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.ScheduledJob, error)

	// Claim atomically flips isProcessed on an unprocessed job. A false
	// return means another poller already owns it.
	Claim(ctx context.Context, id uuid.UUID) (bool, error)

	// Reschedule re-enqueues a claimed job for another attempt.
	Reschedule(ctx context.Context, id uuid.UUID, dueAt time.Time, retryCount int, errMsg string) error

	// MarkExhausted records the terminal failure on a spent job.
	MarkExhausted(ctx context.Context, id uuid.UUID, retryCount int, errMsg string) error
}
