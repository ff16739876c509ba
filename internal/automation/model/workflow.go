package model

import (
	"fmt"

	"github.com/google/uuid"
)

// TriggerType is the closed set of domain event kinds a workflow can
// subscribe to. Values match the event types on the domain bus.
type TriggerType string

const (
	TriggerStageChanged  TriggerType = "STAGE_CHANGED"
	TriggerRecordCreated TriggerType = "RECORD_CREATED"
	TriggerRecordUpdated TriggerType = "RECORD_UPDATED"
	TriggerManual        TriggerType = "MANUAL"
)

// WorkflowStatus is the lifecycle status of a workflow definition. Only
// ACTIVE definitions match trigger events.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "DRAFT"
	WorkflowStatusActive   WorkflowStatus = "ACTIVE"
	WorkflowStatusPaused   WorkflowStatus = "PAUSED"
	WorkflowStatusArchived WorkflowStatus = "ARCHIVED"
)

// ActionType is the closed action vocabulary. Unknown values arriving
// from newer authoring surfaces are treated as no-op successes by the
// run state machine, never as failures.
type ActionType string

const (
	ActionSendMessage  ActionType = "SEND_MESSAGE"
	ActionUpdateRecord ActionType = "UPDATE_RECORD"
	ActionAddTag       ActionType = "ADD_TAG"
	ActionNotify       ActionType = "NOTIFY"
	ActionDelay        ActionType = "DELAY"
)

// TriggerCondition is one equality predicate over the trigger event's
// metadata. All conditions of a config must hold for a match.
type TriggerCondition struct {
	Field  string `json:"field" validate:"required"`
	Equals string `json:"equals"`
}

// TriggerConfig filters which occurrences of the subscribed event type
// actually spawn a run. An empty condition list matches everything.
type TriggerConfig struct {
	Conditions []TriggerCondition `json:"conditions,omitempty" validate:"dive"`
}

// SendMessageConfig configures a SEND_MESSAGE action.
type SendMessageConfig struct {
	Channel string `json:"channel" validate:"required"`
	To      string `json:"to" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// UpdateRecordConfig configures an UPDATE_RECORD action.
type UpdateRecordConfig struct {
	EntityType string `json:"entityType" validate:"required"`
	EntityID   string `json:"entityId" validate:"required,uuid"`
	Field      string `json:"field" validate:"required"`
	Value      any    `json:"value"`
}

// AddTagConfig configures an ADD_TAG action.
type AddTagConfig struct {
	EntityType string `json:"entityType" validate:"required"`
	EntityID   string `json:"entityId" validate:"required,uuid"`
	Tag        string `json:"tag" validate:"required"`
}

// NotifyConfig configures a NOTIFY action.
type NotifyConfig struct {
	Target  string `json:"target" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// ActionSpec is one step of a workflow. Exactly the variant matching
// Type is populated; the others stay nil. DelayMinutes > 0 suspends the
// run after this action succeeds, resuming at the next index once the
// delay elapses.
type ActionSpec struct {
	Type         ActionType          `json:"type" validate:"required"`
	DelayMinutes int                 `json:"delayMinutes,omitempty" validate:"gte=0"`
	SendMessage  *SendMessageConfig  `json:"sendMessage,omitempty"`
	UpdateRecord *UpdateRecordConfig `json:"updateRecord,omitempty"`
	AddTag       *AddTagConfig       `json:"addTag,omitempty"`
	Notify       *NotifyConfig       `json:"notify,omitempty"`
}

// WorkflowDefinition is a tenant-scoped automation: a trigger
// subscription plus an ordered action sequence.
type WorkflowDefinition struct {
	BaseModel
	TenantID       uuid.UUID      `gorm:"type:uuid;column:tenant_id;not null;index" json:"tenantId" validate:"required"`
	Name           string         `gorm:"type:varchar(255);column:name;not null" json:"name" validate:"required"`
	TriggerType    TriggerType    `gorm:"type:varchar(50);column:trigger_type;not null;index" json:"triggerType" validate:"required"`
	TriggerConfig  TriggerConfig  `gorm:"type:jsonb;column:trigger_config;serializer:json" json:"triggerConfig"`
	Actions        []ActionSpec   `gorm:"type:jsonb;column:actions;not null;serializer:json" json:"actions" validate:"required,min=1,dive"`
	Status         WorkflowStatus `gorm:"type:varchar(20);column:status;not null;default:'DRAFT'" json:"status"`
	TotalRuns      int            `gorm:"column:total_runs;not null;default:0" json:"totalRuns"`
	SuccessfulRuns int            `gorm:"column:successful_runs;not null;default:0" json:"successfulRuns"`
	FailedRuns     int            `gorm:"column:failed_runs;not null;default:0" json:"failedRuns"`
}

func (w *WorkflowDefinition) TableName() string {
	return "workflow_definitions"
}

// Matches reports whether the trigger config accepts the given event
// metadata. Absence of conditions means match-all.
func (c TriggerConfig) Matches(metadata map[string]any) bool {
	for _, condition := range c.Conditions {
		value, ok := metadata[condition.Field]
		if !ok {
			return false
		}
		if stringify(value) != condition.Equals {
			return false
		}
	}
	return true
}

// stringify compares metadata values in their string form so numeric
// JSON values match string-typed conditions.
func stringify(value any) string {
	return fmt.Sprintf("%v", value)
}
