package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertEvent inserts the row unless event_id already exists; the unique
	// constraint is the idempotency source of truth. Returns true when the
	// row was inserted.
	InsertEvent(ctx context.Context, db *gorm.DB, event *WebhookEvent) (bool, error)
	FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*WebhookEvent, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, eventID string, processedAt time.Time) error
	ListUnprocessed(ctx context.Context, db *gorm.DB, limit int) ([]WebhookEvent, error)
}
