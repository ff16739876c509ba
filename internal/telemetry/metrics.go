package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	StageMovesApplied    = prometheus.NewCounter(prometheus.CounterOpts{Name: "stage_moves_applied_total", Help: "Stage moves applied successfully"})
	StageMovesBlocked    = prometheus.NewCounter(prometheus.CounterOpts{Name: "stage_moves_blocked_total", Help: "Stage moves blocked by the blueprint gate"})
	StageMovesOverridden = prometheus.NewCounter(prometheus.CounterOpts{Name: "stage_moves_overridden_total", Help: "Blocked stage moves applied via admin override"})
	StageMoveConflicts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "stage_move_conflicts_total", Help: "Stage moves retried after a version conflict"})
	RunsStarted          = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_runs_started_total", Help: "Workflow runs created"})
	RunsCompleted        = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_runs_completed_total", Help: "Workflow runs completed successfully"})
	RunsFailed           = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_runs_failed_total", Help: "Workflow runs that ended in FAILED"})
	RunsCancelled        = prometheus.NewCounter(prometheus.CounterOpts{Name: "workflow_runs_cancelled_total", Help: "Workflow runs cancelled before completion"})
	JobsProcessed        = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduled_jobs_processed_total", Help: "Scheduled jobs resumed successfully"})
	JobsRetried          = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduled_jobs_retried_total", Help: "Scheduled jobs re-enqueued after a resume failure"})
	JobsExhausted        = prometheus.NewCounter(prometheus.CounterOpts{Name: "scheduled_jobs_exhausted_total", Help: "Scheduled jobs that exhausted their retries"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			StageMovesApplied,
			StageMovesBlocked,
			StageMovesOverridden,
			StageMoveConflicts,
			RunsStarted,
			RunsCompleted,
			RunsFailed,
			RunsCancelled,
			JobsProcessed,
			JobsRetried,
			JobsExhausted,
		)
	})
	return promhttp.Handler()
}
