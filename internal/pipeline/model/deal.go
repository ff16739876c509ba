package model

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ComplianceStatus tracks how a deal's current stage was reached
// relative to its blueprint requirements.
type ComplianceStatus string

const (
	ComplianceCompliant           ComplianceStatus = "COMPLIANT"            // Last move passed the gate cleanly
	ComplianceMissingRequirements ComplianceStatus = "MISSING_REQUIREMENTS" // Requirements outstanding; appears in evaluations only, never after a successful apply
	ComplianceOverridden          ComplianceStatus = "OVERRIDDEN"           // Last move bypassed a blocked evaluation via admin override
	ComplianceNotApplicable       ComplianceStatus = "NOT_APPLICABLE"       // No blueprint assigned
)

// ErrVersionConflict is returned when a versioned deal update lost a
// race against a concurrent writer. Callers must re-evaluate against
// fresh state instead of overwriting.
var ErrVersionConflict = errors.New("deal was modified concurrently")

// Deal is the record whose stage progression is gated by a blueprint.
// Standard and custom properties are kept separate and merged on read,
// custom winning on key collision. CurrentStageOrder mirrors the order
// of the current stage and keeps the deal's ladder position when the
// stage pointer cannot reference a real stage (sparse target orders).
type Deal struct {
	BaseModel
	TenantID                   uuid.UUID                      `gorm:"type:uuid;column:tenant_id;not null;index" json:"tenantId"`
	Name                       string                         `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Properties                 datatypes.JSONMap              `gorm:"type:jsonb;column:properties" json:"properties"`
	CustomFields               datatypes.JSONMap              `gorm:"type:jsonb;column:custom_fields" json:"customFields"`
	BlueprintID                *uuid.UUID                     `gorm:"type:uuid;column:blueprint_id" json:"blueprintId,omitempty"`
	CurrentBlueprintStageID    *uuid.UUID                     `gorm:"type:uuid;column:current_blueprint_stage_id" json:"currentBlueprintStageId,omitempty"`
	CurrentStageOrder          int                            `gorm:"column:current_stage_order;not null;default:0" json:"currentStageOrder"`
	CompletedBlueprintStageIDs datatypes.JSONSlice[uuid.UUID] `gorm:"type:jsonb;column:completed_blueprint_stage_ids" json:"completedBlueprintStageIds"`
	CompletedActions           datatypes.JSONSlice[string]    `gorm:"type:jsonb;column:completed_actions" json:"completedActions"`
	ComplianceStatus           ComplianceStatus               `gorm:"type:varchar(30);column:compliance_status;not null;default:'NOT_APPLICABLE'" json:"complianceStatus"`
	Version                    int                            `gorm:"column:version;not null;default:1" json:"version"`
}

func (d *Deal) TableName() string {
	return "deals"
}

// MergedProperties returns the flat property map seen by the gate:
// standard properties with custom fields merged over them, custom
// winning on overlapping keys.
func (d *Deal) MergedProperties() map[string]any {
	merged := make(map[string]any, len(d.Properties)+len(d.CustomFields))
	for k, v := range d.Properties {
		merged[k] = v
	}
	for k, v := range d.CustomFields {
		merged[k] = v
	}
	return merged
}

// HasCompletedStage reports whether the stage id is already in the
// completed set. The set only grows; corrections happen by moving
// forward again, never by deletion.
func (d *Deal) HasCompletedStage(id uuid.UUID) bool {
	for _, existing := range d.CompletedBlueprintStageIDs {
		if existing == id {
			return true
		}
	}
	return false
}

// HasCompletedAction reports whether the named action token is present
// in the deal's completed-actions set.
func (d *Deal) HasCompletedAction(name string) bool {
	for _, existing := range d.CompletedActions {
		if existing == name {
			return true
		}
	}
	return false
}

// IsPropertyPresent reports whether the merged property map holds a
// non-empty, non-falsy value under the given name. Empty strings,
// false, zero numbers, and empty collections all count as missing.
func IsPropertyPresent(merged map[string]any, name string) bool {
	value, ok := merged[name]
	if !ok || value == nil {
		return false
	}
	switch v := value.(type) {
	case string:
		return v != ""
	case bool:
		return v
	case float64:
		return v != 0
	case int:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}
