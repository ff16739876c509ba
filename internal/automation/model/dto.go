package model

import (
	"time"

	"github.com/google/uuid"
)

// ManualTriggerRequest is the manual trigger entry point payload.
type ManualTriggerRequest struct {
	ContactID      *uuid.UUID     `json:"contactId,omitempty"`
	DealID         *uuid.UUID     `json:"dealId,omitempty"`
	TriggerData    map[string]any `json:"triggerData,omitempty"`
	IdempotencyKey *string        `json:"idempotencyKey,omitempty"`
}

// RunSnapshot is the status view returned by the trigger and inspection
// endpoints: the run is inspectable regardless of outcome.
type RunSnapshot struct {
	ID                 uuid.UUID           `json:"id"`
	WorkflowID         uuid.UUID           `json:"workflowId"`
	Status             RunStatus           `json:"status"`
	CurrentActionIndex int                 `json:"currentActionIndex"`
	ExecutionLog       []ExecutionLogEntry `json:"executionLog"`
	StartedAt          time.Time           `json:"startedAt"`
	CompletedAt        *time.Time          `json:"completedAt,omitempty"`
	NextActionAt       *time.Time          `json:"nextActionAt,omitempty"`
	ErrorMessage       string              `json:"errorMessage,omitempty"`
}

// Snapshot builds the external view of a run.
func (r *WorkflowRun) Snapshot() RunSnapshot {
	log := r.ExecutionLog
	if log == nil {
		log = []ExecutionLogEntry{}
	}
	return RunSnapshot{
		ID:                 r.ID,
		WorkflowID:         r.WorkflowID,
		Status:             r.Status,
		CurrentActionIndex: r.CurrentActionIndex,
		ExecutionLog:       log,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
		NextActionAt:       r.NextActionAt,
		ErrorMessage:       r.ErrorMessage,
	}
}
