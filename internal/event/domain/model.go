package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// WebhookEvent is the persisted record of one gateway notification. EventID
// is sender-issued and carries a unique index; Processed transitions
// false to true exactly once, flipped only by the worker that completed the
// corresponding job.
type WebhookEvent struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventID     string         `json:"event_id" gorm:"type:text;not null;uniqueIndex"`
	EventType   string         `json:"event_type" gorm:"type:text;not null"`
	EntityType  string         `json:"entity_type" gorm:"type:text"`
	EntityID    string         `json:"entity_id" gorm:"type:text"`
	Payload     datatypes.JSON `json:"payload" gorm:"not null"`
	Processed   bool           `json:"processed" gorm:"not null;default:false"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt *time.Time     `json:"processed_at"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Admission is the idempotency guard's verdict for an event id.
type Admission int

const (
	FirstSeen Admission = iota
	Duplicate
)

// Envelope is the parsed body of a gateway notification.
type Envelope struct {
	Entity    string         `json:"entity"`
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	CreatedAt int64          `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}
