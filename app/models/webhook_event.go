package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent is the append-only mirror of verified processor deliveries.
// EventID deduplicates redeliveries of the same event.
type WebhookEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	EventID     string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	EventType   string         `gorm:"type:varchar(100);not null;default:'';index" json:"event_type"`
	RawPayload  datatypes.JSON `gorm:"not null" json:"raw_payload"`
	ProcessedAt time.Time      `gorm:"not null;index" json:"processed_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
