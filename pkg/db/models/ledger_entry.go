package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
)

// LedgerEntry records an immutable signed button movement for a user. A
// platform purchase reference credits a user at most once.
type LedgerEntry struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID             `gorm:"column:user_id;type:uuid;not null;index;uniqueIndex:ux_ledger_entries_purchase_reference,where:kind = 'purchase_platform'" json:"user_id"`
	Amount      int64                 `gorm:"column:amount;not null" json:"amount"`
	Kind        enums.LedgerEntryKind `gorm:"column:kind;type:ledger_entry_kind;not null" json:"kind"`
	ReferenceID *uuid.UUID            `gorm:"column:reference_id;type:uuid;uniqueIndex:ux_ledger_entries_purchase_reference,where:kind = 'purchase_platform'" json:"reference_id,omitempty"`
	Description string                `gorm:"column:description;type:text;not null;default:''" json:"description"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
