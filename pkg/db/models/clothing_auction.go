package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
)

// ClothingAuction is a clothing listing priced in buttons. Version increments on
// every accepted bid and status transition.
type ClothingAuction struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OwnerID           uuid.UUID           `gorm:"column:owner_id;type:uuid;not null;index" json:"owner_id"`
	Title             string              `gorm:"column:title;type:text;not null" json:"title"`
	Description       string              `gorm:"column:description;type:text" json:"description"`
	MinimumPrice      int64               `gorm:"column:minimum_price;not null" json:"minimum_price"`
	CurrentHighestBid int64               `gorm:"column:current_highest_bid;not null;default:0" json:"current_highest_bid"`
	HighestBidderID   *uuid.UUID          `gorm:"column:highest_bidder_id;type:uuid" json:"highest_bidder_id,omitempty"`
	BidCount          int                 `gorm:"column:bid_count;not null;default:0" json:"bid_count"`
	Status            enums.AuctionStatus `gorm:"column:status;type:auction_status;not null" json:"status"`
	BiddingEndsAt     time.Time           `gorm:"column:bidding_ends_at;not null;index" json:"bidding_ends_at"`
	Version           int64               `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (a *ClothingAuction) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

// HasLeader reports whether at least one bid has been accepted.
func (a ClothingAuction) HasLeader() bool {
	return a.HighestBidderID != nil && a.CurrentHighestBid > 0
}

// ClothingBid is a button bid on a clothing listing.
type ClothingBid struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AuctionID uuid.UUID       `gorm:"column:auction_id;type:uuid;not null;index" json:"auction_id"`
	BidderID  uuid.UUID       `gorm:"column:bidder_id;type:uuid;not null;index" json:"bidder_id"`
	Amount    int64           `gorm:"column:amount;not null" json:"amount"`
	Status    enums.BidStatus `gorm:"column:status;type:bid_status;not null" json:"status"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (b *ClothingBid) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
