package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covecrm/cove/internal/pipeline/model"
)

// Store is the gorm-backed record repository for deals and blueprints.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Transaction runs fn inside a database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Store) GetDealInTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Deal, error) {
	var deal model.Deal
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&deal).Error; err != nil {
		return nil, err
	}
	return &deal, nil
}

// UpdateDealInTx persists the deal's stage pointer, completed-stage set,
// compliance status, and completed actions in one statement, guarded by
// an optimistic version check. A concurrent writer that already bumped
// the version makes this a no-op and the caller must retry on fresh
// state.
func (s *Store) UpdateDealInTx(ctx context.Context, tx *gorm.DB, deal *model.Deal, expectedVersion int) error {
	result := tx.WithContext(ctx).
		Model(&model.Deal{}).
		Where("id = ? AND version = ?", deal.ID, expectedVersion).
		Updates(map[string]interface{}{
			"current_blueprint_stage_id":    deal.CurrentBlueprintStageID,
			"current_stage_order":           deal.CurrentStageOrder,
			"completed_blueprint_stage_ids": deal.CompletedBlueprintStageIDs,
			"completed_actions":             deal.CompletedActions,
			"compliance_status":             deal.ComplianceStatus,
			"version":                       expectedVersion + 1,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return model.ErrVersionConflict
	}
	deal.Version = expectedVersion + 1
	return nil
}

func (s *Store) GetBlueprintInTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.BlueprintDefinition, error) {
	var blueprint model.BlueprintDefinition
	err := tx.WithContext(ctx).
		Preload("Stages").
		Where("id = ?", id).
		First(&blueprint).Error
	if err != nil {
		return nil, err
	}
	return &blueprint, nil
}

// GetDeal loads a deal outside any transaction, for read-only surfaces.
func (s *Store) GetDeal(ctx context.Context, id uuid.UUID) (*model.Deal, error) {
	return s.GetDealInTx(ctx, s.db, id)
}

// CreateDeal persists a new deal.
func (s *Store) CreateDeal(ctx context.Context, deal *model.Deal) error {
	if err := s.db.WithContext(ctx).Create(deal).Error; err != nil {
		return fmt.Errorf("failed to create deal: %w", err)
	}
	return nil
}

// SetDealField writes a single merged-map field on a deal under the
// version guard, retrying once against fresh state on conflict. Used by
// the UPDATE_RECORD workflow action.
func (s *Store) SetDealField(ctx context.Context, id uuid.UUID, field string, value any) error {
	for attempt := 0; attempt < 2; attempt++ {
		var deal model.Deal
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&deal).Error; err != nil {
			return err
		}
		if deal.CustomFields == nil {
			deal.CustomFields = map[string]interface{}{}
		}
		deal.CustomFields[field] = value

		result := s.db.WithContext(ctx).
			Model(&model.Deal{}).
			Where("id = ? AND version = ?", deal.ID, deal.Version).
			Updates(map[string]interface{}{
				"custom_fields": deal.CustomFields,
				"version":       deal.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
	}
	return model.ErrVersionConflict
}

// AppendDealTag appends a tag to the deal's "tags" custom field if it is
// not already present. The merged list is rebuilt from a fresh read on
// every attempt so a concurrent append is never overwritten. Used by the
// ADD_TAG workflow action.
func (s *Store) AppendDealTag(ctx context.Context, id uuid.UUID, tag string) error {
	for attempt := 0; attempt < 2; attempt++ {
		var deal model.Deal
		if err := s.db.WithContext(ctx).Where("id = ?", id).First(&deal).Error; err != nil {
			return err
		}
		if deal.CustomFields == nil {
			deal.CustomFields = map[string]interface{}{}
		}

		var tags []any
		if existing, ok := deal.CustomFields["tags"].([]any); ok {
			for _, t := range existing {
				if t == tag {
					return nil
				}
			}
			tags = existing
		}
		deal.CustomFields["tags"] = append(tags, tag)

		result := s.db.WithContext(ctx).
			Model(&model.Deal{}).
			Where("id = ? AND version = ?", deal.ID, deal.Version).
			Updates(map[string]interface{}{
				"custom_fields": deal.CustomFields,
				"version":       deal.Version + 1,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
	}
	return model.ErrVersionConflict
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
