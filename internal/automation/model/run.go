package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// RunStatus is the run state machine's state set. COMPLETED, FAILED,
// and CANCELLED are terminal; WAITING may only return to RUNNING via a
// scheduled-job resume.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusWaiting   RunStatus = "WAITING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether no further actions may ever execute.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// Execution log outcomes.
const (
	OutcomeSuccess = "SUCCESS"
	OutcomeFailed  = "FAILED"
	OutcomeSkipped = "SKIPPED"
)

// ErrRunConflict is returned when a run advance lost the single-writer
// race: another handler or poller already moved the run past the
// expected state. The losing writer must abort, never double-execute.
var ErrRunConflict = errors.New("workflow run was advanced concurrently")

// ExecutionLogEntry is one append-only record of an action attempt.
type ExecutionLogEntry struct {
	ActionIndex int        `json:"actionIndex"`
	ActionType  ActionType `json:"actionType"`
	Outcome     string     `json:"outcome"`
	Timestamp   time.Time  `json:"timestamp"`
	Error       string     `json:"error,omitempty"`
}

// WorkflowRun is one execution instance of a workflow definition.
// CurrentActionIndex only advances forward; the execution log only
// appends.
type WorkflowRun struct {
	BaseModel
	WorkflowID         uuid.UUID           `gorm:"type:uuid;column:workflow_id;not null;index" json:"workflowId"`
	TenantID           uuid.UUID           `gorm:"type:uuid;column:tenant_id;not null;index" json:"tenantId"`
	TriggerData        datatypes.JSONMap   `gorm:"type:jsonb;column:trigger_data" json:"triggerData,omitempty"`
	CurrentActionIndex int                 `gorm:"column:current_action_index;not null;default:0" json:"currentActionIndex"`
	Status             RunStatus           `gorm:"type:varchar(20);column:status;not null;index" json:"status"`
	ExecutionLog       []ExecutionLogEntry `gorm:"type:jsonb;column:execution_log;serializer:json" json:"executionLog"`
	StartedAt          time.Time           `gorm:"type:timestamptz;column:started_at;not null" json:"startedAt"`
	CompletedAt        *time.Time          `gorm:"type:timestamptz;column:completed_at" json:"completedAt,omitempty"`
	NextActionAt       *time.Time          `gorm:"type:timestamptz;column:next_action_at" json:"nextActionAt,omitempty"`
	IdempotencyKey     *string             `gorm:"type:varchar(255);column:idempotency_key;uniqueIndex" json:"idempotencyKey,omitempty"`
	ErrorMessage       string              `gorm:"type:text;column:error_message" json:"errorMessage,omitempty"`
}

func (r *WorkflowRun) TableName() string {
	return "workflow_runs"
}

// AppendLog adds an entry to the run's execution log.
func (r *WorkflowRun) AppendLog(index int, actionType ActionType, outcome string, errMsg string) {
	r.ExecutionLog = append(r.ExecutionLog, ExecutionLogEntry{
		ActionIndex: index,
		ActionType:  actionType,
		Outcome:     outcome,
		Timestamp:   time.Now().UTC(),
		Error:       errMsg,
	})
}
