package models

import (
	"time"

	"github.com/google/uuid"
)

// UserBalance is the cached projection of a user's ledger. ButtonBalance always
// equals the sum of the user's ledger entries.
type UserBalance struct {
	UserID             uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	ButtonBalance      int64     `gorm:"column:button_balance;not null;default:0" json:"button_balance"`
	TotalButtonsEarned int64     `gorm:"column:total_buttons_earned;not null;default:0" json:"total_buttons_earned"`
	TotalButtonsSpent  int64     `gorm:"column:total_buttons_spent;not null;default:0" json:"total_buttons_spent"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}
