package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
)

// ResaleAuction sells an escrowed amount of buttons for USD.
type ResaleAuction struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID             uuid.UUID           `gorm:"column:seller_id;type:uuid;not null;index" json:"seller_id"`
	ButtonAmount         int64               `gorm:"column:button_amount;not null" json:"button_amount"`
	MinimumPriceUSD      decimal.Decimal     `gorm:"column:minimum_price_usd;type:numeric(12,2);not null" json:"minimum_price_usd"`
	CurrentHighestBidUSD decimal.Decimal     `gorm:"column:current_highest_bid_usd;type:numeric(12,2);not null;default:0" json:"current_highest_bid_usd"`
	HighestBidderID      *uuid.UUID          `gorm:"column:highest_bidder_id;type:uuid" json:"highest_bidder_id,omitempty"`
	BidCount             int                 `gorm:"column:bid_count;not null;default:0" json:"bid_count"`
	Status               enums.AuctionStatus `gorm:"column:status;type:auction_status;not null" json:"status"`
	BiddingEndsAt        time.Time           `gorm:"column:bidding_ends_at;not null;index" json:"bidding_ends_at"`
	Version              int64               `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (a *ResaleAuction) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

func (a ResaleAuction) HasLeader() bool {
	return a.HighestBidderID != nil && a.CurrentHighestBidUSD.IsPositive()
}

// ResaleBid is a USD bid on a resale listing. Nothing is reserved from the bidder.
type ResaleBid struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	AuctionID uuid.UUID       `gorm:"column:auction_id;type:uuid;not null;index" json:"auction_id"`
	BidderID  uuid.UUID       `gorm:"column:bidder_id;type:uuid;not null;index" json:"bidder_id"`
	AmountUSD decimal.Decimal `gorm:"column:amount_usd;type:numeric(12,2);not null" json:"amount_usd"`
	Status    enums.BidStatus `gorm:"column:status;type:bid_status;not null" json:"status"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (b *ResaleBid) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
