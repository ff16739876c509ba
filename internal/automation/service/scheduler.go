package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/covecrm/cove/internal/automation/model"
	"github.com/covecrm/cove/internal/config"
	"github.com/covecrm/cove/internal/telemetry"
)

// Scheduler polls the scheduled-job queue and resumes suspended runs
// whose delay has elapsed. Claiming a job before resuming it keeps
// delivery single even with multiple pollers; a failed resume is
// re-enqueued with a doubling backoff until the retry budget is spent,
// at which point the run is forced to FAILED.
type Scheduler struct {
	jobs   JobRepository
	runner *Runner
	cfg    config.PollerConfig
	logger *slog.Logger
}

func NewScheduler(jobs JobRepository, runner *Runner, cfg config.PollerConfig, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		jobs:   jobs,
		runner: runner,
		cfg:    cfg,
		logger: logger.With("module", "automation.scheduler"),
	}
}

// Start runs the polling loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval, "batch_size", s.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// pollOnce claims and processes one batch of due jobs.
func (s *Scheduler) pollOnce(ctx context.Context) {
	due, err := s.jobs.FindDue(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to poll scheduled jobs", "error", err)
		return
	}

	for _, job := range due {
		claimed, err := s.jobs.Claim(ctx, job.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to claim scheduled job", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			// Another poller got there first.
			continue
		}
		s.process(ctx, job)
	}
}

// process resumes one claimed job's run, rescheduling or exhausting on
// failure.
func (s *Scheduler) process(ctx context.Context, job model.ScheduledJob) {
	err := s.runner.Resume(ctx, job.RunID, job.ResumeIndex)
	if err == nil {
		telemetry.JobsProcessed.Inc()
		return
	}

	retryCount := job.RetryCount + 1
	if retryCount < s.maxRetries(job) {
		// Doubling backoff: base, 2*base, 4*base, ...
		delay := s.cfg.BaseBackoff << (retryCount - 1)
		dueAt := time.Now().UTC().Add(delay)
		if reErr := s.jobs.Reschedule(ctx, job.ID, dueAt, retryCount, err.Error()); reErr != nil {
			s.logger.ErrorContext(ctx, "failed to reschedule job", "job_id", job.ID, "error", reErr)
			return
		}
		telemetry.JobsRetried.Inc()
		s.logger.WarnContext(ctx, "resume failed, job rescheduled",
			"job_id", job.ID, "run_id", job.RunID, "retry_count", retryCount, "due_at", dueAt, "error", err)
		return
	}

	telemetry.JobsExhausted.Inc()
	s.logger.ErrorContext(ctx, "job exhausted its retries, failing the run",
		"job_id", job.ID, "run_id", job.RunID, "retry_count", retryCount, "error", err)
	if markErr := s.jobs.MarkExhausted(ctx, job.ID, retryCount, err.Error()); markErr != nil {
		s.logger.ErrorContext(ctx, "failed to mark job exhausted", "job_id", job.ID, "error", markErr)
	}
	if failErr := s.runner.ForceFail(ctx, job.RunID, "scheduled resume exhausted its retries: "+err.Error()); failErr != nil {
		s.logger.ErrorContext(ctx, "failed to force-fail run after exhaustion",
			"run_id", job.RunID, "error", failErr)
	}
}

func (s *Scheduler) maxRetries(job model.ScheduledJob) int {
	if job.MaxRetries > 0 {
		return job.MaxRetries
	}
	return s.cfg.MaxRetries
}
