package model

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AutomationSpec names a workflow action attached to a stage boundary.
// Specs are informational at this layer: they ride along in the metadata
// of the stage-changed event and are realized by the workflows that
// subscribe to it, never executed inline.
type AutomationSpec struct {
	Type   string            `json:"type"`
	Config datatypes.JSONMap `json:"config,omitempty"`
}

// BlueprintDefinition is a tenant-defined, ordered, acyclic sequence of
// stages gating deal progression.
type BlueprintDefinition struct {
	BaseModel
	TenantID              uuid.UUID        `gorm:"type:uuid;column:tenant_id;not null;index" json:"tenantId"`
	Name                  string           `gorm:"type:varchar(255);column:name;not null" json:"name"`
	AllowSkipStages       bool             `gorm:"column:allow_skip_stages;not null;default:false" json:"allowSkipStages"`
	AllowAdminOverride    bool             `gorm:"column:allow_admin_override;not null;default:false" json:"allowAdminOverride"`
	RequireOverrideReason bool             `gorm:"column:require_override_reason;not null;default:false" json:"requireOverrideReason"`
	Stages                []BlueprintStage `gorm:"foreignKey:BlueprintID;references:ID" json:"stages"`
}

func (b *BlueprintDefinition) TableName() string {
	return "blueprint_definitions"
}

// StageByOrder returns the stage at the given 1-based order, or nil.
// Order values are unique within one blueprint but may have gaps.
func (b *BlueprintDefinition) StageByOrder(order int) *BlueprintStage {
	for i := range b.Stages {
		if b.Stages[i].Order == order {
			return &b.Stages[i]
		}
	}
	return nil
}

// StageByID returns the stage with the given id, or nil.
func (b *BlueprintDefinition) StageByID(id uuid.UUID) *BlueprintStage {
	for i := range b.Stages {
		if b.Stages[i].ID == id {
			return &b.Stages[i]
		}
	}
	return nil
}

// StageName returns the stage name at the given order, falling back to a
// synthetic "Stage N" label when the pipeline is sparse at that order.
func (b *BlueprintDefinition) StageName(order int) string {
	if b != nil {
		if stage := b.StageByOrder(order); stage != nil {
			return stage.Name
		}
	}
	return fmt.Sprintf("Stage %d", order)
}

// BlueprintStage belongs to exactly one BlueprintDefinition. Its
// required properties and actions are exit requirements: they gate
// forward moves out of this stage, not entry into it.
type BlueprintStage struct {
	BaseModel
	BlueprintID        uuid.UUID                    `gorm:"type:uuid;column:blueprint_id;not null;index" json:"blueprintId"`
	Name               string                       `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Order              int                          `gorm:"column:stage_order;not null" json:"order"`
	RequiredProperties datatypes.JSONSlice[string]  `gorm:"type:jsonb;column:required_properties" json:"requiredProperties"`
	RequiredActions    datatypes.JSONSlice[string]  `gorm:"type:jsonb;column:required_actions" json:"requiredActions"`
	EntryAutomation    []AutomationSpec             `gorm:"type:jsonb;column:entry_automation;serializer:json" json:"entryAutomation,omitempty"`
	ExitAutomation     []AutomationSpec             `gorm:"type:jsonb;column:exit_automation;serializer:json" json:"exitAutomation,omitempty"`
}

func (s *BlueprintStage) TableName() string {
	return "blueprint_stages"
}
