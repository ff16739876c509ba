package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covecrm/cove/internal/automation/model"
	"github.com/covecrm/cove/internal/telemetry"
)

// Runner drives workflow runs through their state machine: it creates
// runs, executes action sequences, suspends on delays, and resumes from
// scheduled jobs. Persistence goes through the repository interfaces so
// the logic is testable without a database.
type Runner struct {
	definitions   DefinitionRepository
	runs          RunRepository
	jobs          JobRepository
	collab        Collaborators
	validate      *validator.Validate
	actionTimeout time.Duration
	logger        *slog.Logger
}

func NewRunner(
	definitions DefinitionRepository,
	runs RunRepository,
	jobs JobRepository,
	collab Collaborators,
	actionTimeout time.Duration,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		definitions:   definitions,
		runs:          runs,
		jobs:          jobs,
		collab:        collab,
		validate:      validator.New(),
		actionTimeout: actionTimeout,
		logger:        logger.With("module", "automation.runner"),
	}
}

// StartRun creates a RUNNING run for the definition and executes it
// until it reaches a terminal state or suspends on a delay. When an
// idempotency key is supplied and a run already holds it, the existing
// run is returned and no new run is created.
func (r *Runner) StartRun(ctx context.Context, def *model.WorkflowDefinition, triggerData map[string]any, idempotencyKey *string) (*model.WorkflowRun, error) {
	if err := r.validate.Struct(def); err != nil {
		return nil, fmt.Errorf("workflow definition %s is invalid: %w", def.ID, err)
	}

	if idempotencyKey != nil && *idempotencyKey != "" {
		existing, err := r.runs.FindByIdempotencyKey(ctx, *idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			r.logger.InfoContext(ctx, "idempotency key already consumed, returning existing run",
				"workflow_id", def.ID, "run_id", existing.ID)
			return existing, nil
		}
	}

	run := &model.WorkflowRun{
		WorkflowID:     def.ID,
		TenantID:       def.TenantID,
		TriggerData:    triggerData,
		Status:         model.RunStatusRunning,
		StartedAt:      time.Now().UTC(),
		IdempotencyKey: idempotencyKey,
	}
	if err := r.runs.Create(ctx, run); err != nil {
		// Lost the insert race on the idempotency key: the run created by
		// the concurrent trigger is the one to return.
		if errors.Is(err, gorm.ErrDuplicatedKey) && idempotencyKey != nil {
			existing, findErr := r.runs.FindByIdempotencyKey(ctx, *idempotencyKey)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create workflow run: %w", err)
	}
	telemetry.RunsStarted.Inc()
	r.logger.InfoContext(ctx, "workflow run started",
		"workflow_id", def.ID, "run_id", run.ID, "actions", len(def.Actions))

	if err := r.execute(ctx, run, def); err != nil {
		return run, err
	}
	return run, nil
}

// Resume continues a WAITING run at resumeIndex after its delay has
// elapsed. Stale jobs (run no longer waiting, or already resumed at a
// later index) are dropped silently. Errors returned here are
// infrastructure failures and safe to retry; action failures settle the
// run to FAILED and return nil.
func (r *Runner) Resume(ctx context.Context, runID uuid.UUID, resumeIndex int) error {
	run, err := r.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	if run.Status != model.RunStatusWaiting {
		r.logger.InfoContext(ctx, "skipping resume, run is no longer waiting",
			"run_id", runID, "status", run.Status)
		return nil
	}
	if run.CurrentActionIndex != resumeIndex {
		r.logger.WarnContext(ctx, "skipping stale resume job",
			"run_id", runID, "job_index", resumeIndex, "run_index", run.CurrentActionIndex)
		return nil
	}

	// Load the definition before waking the run: a transient load
	// failure must leave the run WAITING so the scheduler's retry
	// budget still applies to it.
	def, err := r.definitions.GetByID(ctx, run.WorkflowID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The definition row is gone for good; retrying cannot help.
			if failErr := r.ForceFail(ctx, runID, "workflow definition no longer exists"); failErr != nil {
				r.logger.ErrorContext(ctx, "failed to settle orphaned run", "run_id", runID, "error", failErr)
			}
			return nil
		}
		return fmt.Errorf("failed to load definition %s: %w", run.WorkflowID, err)
	}

	run.Status = model.RunStatusRunning
	run.NextActionAt = nil
	if err := r.runs.Advance(ctx, run, model.RunStatusWaiting, resumeIndex); err != nil {
		if errors.Is(err, model.ErrRunConflict) {
			r.logger.InfoContext(ctx, "lost resume race, another worker owns the run", "run_id", runID)
			return nil
		}
		return fmt.Errorf("failed to wake run %s: %w", runID, err)
	}
	return r.execute(ctx, run, def)
}

// Cancel moves a run to CANCELLED if it is currently idle (WAITING, or
// RUNNING before any action has executed). Returns whether it did;
// false with a nil error means the run was already terminal or mid
// action.
func (r *Runner) Cancel(ctx context.Context, runID uuid.UUID) (bool, error) {
	cancelled, err := r.runs.CancelIfIdle(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel run %s: %w", runID, err)
	}
	if cancelled {
		telemetry.RunsCancelled.Inc()
		r.logger.InfoContext(ctx, "workflow run cancelled", "run_id", runID)
	}
	return cancelled, nil
}

// ForceFail settles a non-terminal run to FAILED. Used by the scheduler
// when a resume exhausts its retries.
func (r *Runner) ForceFail(ctx context.Context, runID uuid.UUID, reason string) error {
	run, changed, err := r.runs.ForceFail(ctx, runID, reason)
	if err != nil {
		return fmt.Errorf("failed to force-fail run %s: %w", runID, err)
	}
	if changed {
		telemetry.RunsFailed.Inc()
		r.recordOutcome(ctx, run.WorkflowID, false)
		r.logger.WarnContext(ctx, "workflow run forced to failed", "run_id", runID, "reason", reason)
	}
	return nil
}

// execute runs actions forward from run.CurrentActionIndex until the
// run completes, fails, or suspends on a delay. The run must be in
// RUNNING state owned by this caller.
func (r *Runner) execute(ctx context.Context, run *model.WorkflowRun, def *model.WorkflowDefinition) error {
	for run.CurrentActionIndex < len(def.Actions) {
		index := run.CurrentActionIndex
		action := def.Actions[index]

		outcome, actionErr := r.dispatch(ctx, run, action)
		if actionErr != nil {
			return r.settleFailed(ctx, run, def, index, action, actionErr)
		}

		run.AppendLog(index, action.Type, outcome, "")
		run.CurrentActionIndex = index + 1

		finished := run.CurrentActionIndex >= len(def.Actions)
		suspend := !finished && action.DelayMinutes > 0

		switch {
		case finished:
			now := time.Now().UTC()
			run.Status = model.RunStatusCompleted
			run.CompletedAt = &now
		case suspend:
			due := time.Now().UTC().Add(time.Duration(action.DelayMinutes) * time.Minute)
			run.Status = model.RunStatusWaiting
			run.NextActionAt = &due
		}

		if err := r.runs.Advance(ctx, run, model.RunStatusRunning, index); err != nil {
			if errors.Is(err, model.ErrRunConflict) {
				r.logger.WarnContext(ctx, "run advanced concurrently, aborting this executor",
					"run_id", run.ID, "action_index", index)
				return nil
			}
			return fmt.Errorf("failed to advance run %s: %w", run.ID, err)
		}

		if finished {
			telemetry.RunsCompleted.Inc()
			r.recordOutcome(ctx, def.ID, true)
			r.logger.InfoContext(ctx, "workflow run completed",
				"run_id", run.ID, "workflow_id", def.ID, "actions", len(def.Actions))
			return nil
		}
		if suspend {
			job := &model.ScheduledJob{
				RunID:       run.ID,
				ResumeIndex: run.CurrentActionIndex,
				DueAt:       *run.NextActionAt,
			}
			if err := r.jobs.Create(ctx, job); err != nil {
				return fmt.Errorf("failed to enqueue resume job for run %s: %w", run.ID, err)
			}
			r.logger.InfoContext(ctx, "workflow run suspended",
				"run_id", run.ID, "resume_index", job.ResumeIndex, "due_at", job.DueAt)
			return nil
		}
	}

	// Only reachable when the index already sits past the action list,
	// e.g. a definition shrank underneath a suspended run.
	now := time.Now().UTC()
	run.Status = model.RunStatusCompleted
	run.CompletedAt = &now
	if err := r.runs.Advance(ctx, run, model.RunStatusRunning, run.CurrentActionIndex); err != nil {
		if errors.Is(err, model.ErrRunConflict) {
			return nil
		}
		return fmt.Errorf("failed to complete run %s: %w", run.ID, err)
	}
	telemetry.RunsCompleted.Inc()
	r.recordOutcome(ctx, def.ID, true)
	return nil
}

// settleFailed records the failed attempt and moves the run to FAILED.
// Later actions never execute: action failure is fail-fast.
func (r *Runner) settleFailed(ctx context.Context, run *model.WorkflowRun, def *model.WorkflowDefinition, index int, action model.ActionSpec, actionErr error) error {
	run.AppendLog(index, action.Type, model.OutcomeFailed, actionErr.Error())
	now := time.Now().UTC()
	run.Status = model.RunStatusFailed
	run.ErrorMessage = fmt.Sprintf("action %d (%s) failed: %v", index, action.Type, actionErr)
	run.CompletedAt = &now

	if err := r.runs.Advance(ctx, run, model.RunStatusRunning, index); err != nil {
		if errors.Is(err, model.ErrRunConflict) {
			r.logger.WarnContext(ctx, "run advanced concurrently while settling failure", "run_id", run.ID)
			return nil
		}
		return fmt.Errorf("failed to settle run %s: %w", run.ID, err)
	}
	telemetry.RunsFailed.Inc()
	r.recordOutcome(ctx, def.ID, false)
	r.logger.WarnContext(ctx, "workflow run failed",
		"run_id", run.ID, "workflow_id", def.ID, "action_index", index, "error", actionErr)
	return nil
}

// dispatch executes a single action against its collaborator under the
// configured timeout. Unknown action types are no-op successes so new
// authoring vocabulary never breaks existing runs.
func (r *Runner) dispatch(ctx context.Context, run *model.WorkflowRun, action model.ActionSpec) (string, error) {
	actionCtx, cancel := context.WithTimeout(ctx, r.actionTimeout)
	defer cancel()

	switch action.Type {
	case model.ActionSendMessage:
		cfg := action.SendMessage
		if cfg == nil {
			return model.OutcomeFailed, errors.New("sendMessage config missing")
		}
		return model.OutcomeSuccess, r.collab.Messages.SendMessage(actionCtx, cfg.Channel, cfg.To, cfg.Body, run.TriggerData)
	case model.ActionUpdateRecord:
		cfg := action.UpdateRecord
		if cfg == nil {
			return model.OutcomeFailed, errors.New("updateRecord config missing")
		}
		entityID, err := uuid.Parse(cfg.EntityID)
		if err != nil {
			return model.OutcomeFailed, fmt.Errorf("invalid entity id %q: %w", cfg.EntityID, err)
		}
		return model.OutcomeSuccess, r.collab.Records.MutateRecord(actionCtx, cfg.EntityType, entityID, cfg.Field, cfg.Value)
	case model.ActionAddTag:
		cfg := action.AddTag
		if cfg == nil {
			return model.OutcomeFailed, errors.New("addTag config missing")
		}
		entityID, err := uuid.Parse(cfg.EntityID)
		if err != nil {
			return model.OutcomeFailed, fmt.Errorf("invalid entity id %q: %w", cfg.EntityID, err)
		}
		return model.OutcomeSuccess, r.collab.Tags.TagEntity(actionCtx, cfg.EntityType, entityID, cfg.Tag)
	case model.ActionNotify:
		cfg := action.Notify
		if cfg == nil {
			return model.OutcomeFailed, errors.New("notify config missing")
		}
		return model.OutcomeSuccess, r.collab.Notifications.Notify(actionCtx, cfg.Target, cfg.Message)
	case model.ActionDelay:
		// The suspension itself happens after dispatch via DelayMinutes.
		return model.OutcomeSuccess, nil
	default:
		r.logger.WarnContext(ctx, "unknown action type, skipping",
			"run_id", run.ID, "action_type", action.Type)
		return model.OutcomeSkipped, nil
	}
}

func (r *Runner) recordOutcome(ctx context.Context, workflowID uuid.UUID, succeeded bool) {
	if err := r.definitions.RecordRunOutcome(ctx, workflowID, succeeded); err != nil {
		r.logger.WarnContext(ctx, "failed to record run outcome on definition",
			"workflow_id", workflowID, "error", err)
	}
}
