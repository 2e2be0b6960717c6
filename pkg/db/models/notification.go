package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
)

// Notification stores in-app notifications derived from the auction feed.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID              `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_notifications_user_event_type,priority:1" json:"user_id"`
	EventID   uuid.UUID              `gorm:"column:event_id;type:uuid;not null;uniqueIndex:idx_notifications_user_event_type,priority:2" json:"event_id"`
	Type      enums.NotificationType `gorm:"column:type;type:notification_type;not null;uniqueIndex:idx_notifications_user_event_type,priority:3" json:"type"`
	Title     string                 `gorm:"column:title;type:text;not null" json:"title"`
	Message   string                 `gorm:"column:message;type:text;not null" json:"message"`
	Link      *string                `gorm:"column:link;type:text" json:"link,omitempty"`
	ReadAt    *time.Time             `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	ensureID(&n.ID)
	return nil
}
