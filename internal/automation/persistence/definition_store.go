package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covecrm/cove/internal/automation/model"
)

// DefinitionStore is the gorm-backed workflow definition repository.
type DefinitionStore struct {
	db *gorm.DB
}

func NewDefinitionStore(db *gorm.DB) *DefinitionStore {
	return &DefinitionStore{db: db}
}

// FindActiveByTrigger returns the tenant's ACTIVE workflows subscribed
// to the given trigger type.
func (s *DefinitionStore) FindActiveByTrigger(ctx context.Context, tenantID uuid.UUID, trigger model.TriggerType) ([]model.WorkflowDefinition, error) {
	var definitions []model.WorkflowDefinition
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND trigger_type = ? AND status = ?", tenantID, trigger, model.WorkflowStatusActive).
		Order("created_at ASC").
		Find(&definitions).Error
	if err != nil {
		return nil, err
	}
	return definitions, nil
}

func (s *DefinitionStore) GetByID(ctx context.Context, id uuid.UUID) (*model.WorkflowDefinition, error) {
	var definition model.WorkflowDefinition
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&definition).Error; err != nil {
		return nil, err
	}
	return &definition, nil
}

// Create persists a new workflow definition.
func (s *DefinitionStore) Create(ctx context.Context, definition *model.WorkflowDefinition) error {
	return s.db.WithContext(ctx).Create(definition).Error
}

// RecordRunOutcome bumps the definition's run counters for one terminal
// run.
func (s *DefinitionStore) RecordRunOutcome(ctx context.Context, id uuid.UUID, succeeded bool) error {
	outcomeColumn := "failed_runs"
	if succeeded {
		outcomeColumn = "successful_runs"
	}
	return s.db.WithContext(ctx).
		Model(&model.WorkflowDefinition{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_runs":  gorm.Expr("total_runs + 1"),
			outcomeColumn: gorm.Expr(outcomeColumn + " + 1"),
		}).Error
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
