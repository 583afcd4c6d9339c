package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/hookrelay/internal/event/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, event_id, event_type, entity_type, entity_id,
			payload, processed, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		event.ID,
		event.EventID,
		event.EventType,
		event.EntityType,
		event.EntityID,
		event.Payload,
		event.Processed,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, event_type, entity_type, entity_id,
			payload, processed, received_at, processed_at
		 FROM webhook_events
		 WHERE event_id = ?
		 LIMIT 1`,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, eventID string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_events
		 SET processed = ?, processed_at = ?
		 WHERE event_id = ? AND processed = ?`,
		true,
		processedAt,
		eventID,
		false,
	).Error
}

func (r *repo) ListUnprocessed(ctx context.Context, db *gorm.DB, limit int) ([]domain.WebhookEvent, error) {
	var items []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, event_type, entity_type, entity_id,
			payload, processed, received_at, processed_at
		 FROM webhook_events
		 WHERE processed = ?
		 ORDER BY received_at ASC
		 LIMIT ?`,
		false,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
