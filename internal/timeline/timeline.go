// Package timeline is the durable event sink: an append-only store of
// audit/timeline records. It receives structured facts about stage
// moves and record changes and is never queried for control decisions.
package timeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event kinds recorded by the core.
const (
	KindStageChanged    = "DEAL_STAGE_CHANGED"
	KindStageOverridden = "DEAL_STAGE_OVERRIDDEN"
	KindRecordCreated   = "RECORD_CREATED"
)

// Event is one immutable timeline record.
type Event struct {
	ID         uuid.UUID                     `gorm:"type:uuid;column:id;not null;primaryKey" json:"id"`
	TenantID   uuid.UUID                     `gorm:"type:uuid;column:tenant_id;not null;index" json:"tenantId"`
	Kind       string                        `gorm:"type:varchar(100);column:kind;not null" json:"kind"`
	SubjectIDs datatypes.JSONSlice[uuid.UUID] `gorm:"type:jsonb;column:subject_ids;not null" json:"subjectIds"`
	Title      string                        `gorm:"type:text;column:title;not null" json:"title"`
	Metadata   datatypes.JSONMap             `gorm:"type:jsonb;column:metadata" json:"metadata,omitempty"`
	Actor      string                        `gorm:"type:varchar(255);column:actor" json:"actor,omitempty"`
	CreatedAt  time.Time                     `gorm:"type:timestamptz;column:created_at;not null" json:"createdAt"`
}

func (e *Event) TableName() string {
	return "timeline_events"
}

// BeforeCreate is a GORM hook that is triggered before a new record is created.
func (e *Event) BeforeCreate(tx *gorm.DB) (err error) {
	if e.ID == uuid.Nil {
		e.ID, err = uuid.NewRandom()
	}
	return
}

// Recorder writes timeline events. RecordInTx participates in the
// caller's transaction so a mutation and its audit record commit
// together; Record is the fire-and-forget variant used after commit.
type Recorder interface {
	RecordInTx(ctx context.Context, tx *gorm.DB, event *Event) error
	Record(ctx context.Context, event *Event)
}

// Store persists timeline events with gorm.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With("module", "timeline"),
	}
}

func (s *Store) RecordInTx(ctx context.Context, tx *gorm.DB, event *Event) error {
	return tx.WithContext(ctx).Create(event).Error
}

// Record writes the event outside any transaction. A sink failure here
// degrades to a logged warning; the mutation the event describes has
// already committed and is not rolled back.
func (s *Store) Record(ctx context.Context, event *Event) {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		s.logger.Warn("failed to record timeline event",
			"kind", event.Kind,
			"tenant_id", event.TenantID,
			"error", err)
	}
}
