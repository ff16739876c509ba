package service

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/covecrm/cove/internal/pipeline/model"
)

// DealRepository is the narrow record-repository surface the core needs
// for stage transitions. Updates are versioned: an update against a
// stale version returns model.ErrVersionConflict and mutates nothing.
type DealRepository interface {
	GetDealInTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Deal, error)
	UpdateDealInTx(ctx context.Context, tx *gorm.DB, deal *model.Deal, expectedVersion int) error
}

// BlueprintRepository loads blueprint definitions with their stages.
type BlueprintRepository interface {
	GetBlueprintInTx(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.BlueprintDefinition, error)
}

// TxManager owns transaction demarcation so the executor can run its
// read-modify-write atomically without holding a process-wide handle.
type TxManager interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}
