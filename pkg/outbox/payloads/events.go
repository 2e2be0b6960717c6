package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
)

// AuctionCreatedEvent announces a new clothing or resale listing.
type AuctionCreatedEvent struct {
	AuctionID       uuid.UUID         `json:"auction_id"`
	Kind            enums.AuctionKind `json:"kind"`
	OwnerID         uuid.UUID         `json:"owner_id"`
	Title           string            `json:"title,omitempty"`
	MinimumPrice    int64             `json:"minimum_price,omitempty"`
	ButtonAmount    int64             `json:"button_amount,omitempty"`
	MinimumPriceUSD *decimal.Decimal  `json:"minimum_price_usd,omitempty"`
	BiddingEndsAt   time.Time         `json:"bidding_ends_at"`
}

// BidPlacedEvent carries the new leader snapshot after an accepted bid.
type BidPlacedEvent struct {
	AuctionID     uuid.UUID         `json:"auction_id"`
	Kind          enums.AuctionKind `json:"kind"`
	BidID         uuid.UUID         `json:"bid_id"`
	BidderID      uuid.UUID         `json:"bidder_id"`
	OwnerID       uuid.UUID         `json:"owner_id"`
	Amount        string            `json:"amount"`
	BidCount      int               `json:"bid_count"`
	Version       int64             `json:"version"`
	BiddingEndsAt time.Time         `json:"bidding_ends_at"`
}

// BidOutbidEvent tells a displaced leader their bid lost the lead.
type BidOutbidEvent struct {
	AuctionID      uuid.UUID         `json:"auction_id"`
	Kind           enums.AuctionKind `json:"kind"`
	BidID          uuid.UUID         `json:"bid_id"`
	BidderID       uuid.UUID         `json:"bidder_id"`
	Amount         string            `json:"amount"`
	RefundedAmount int64             `json:"refunded_amount"`
	NewAmount      string            `json:"new_amount"`
	Version        int64             `json:"version"`
}

// AuctionSettledEvent reports the terminal outcome of an auction.
type AuctionSettledEvent struct {
	AuctionID    uuid.UUID           `json:"auction_id"`
	Kind         enums.AuctionKind   `json:"kind"`
	Status       enums.AuctionStatus `json:"status"`
	OwnerID      uuid.UUID           `json:"owner_id"`
	WinnerID     *uuid.UUID          `json:"winner_id,omitempty"`
	WinningBidID *uuid.UUID          `json:"winning_bid_id,omitempty"`
	Amount       string              `json:"amount,omitempty"`
	ButtonAmount int64               `json:"button_amount,omitempty"`
	Version      int64               `json:"version"`
	SettledAt    time.Time           `json:"settled_at"`
}

// ResaleSettledEvent asks the external payment gateway to collect the winning
// USD amount from the buyer and pay it out to the seller.
type ResaleSettledEvent struct {
	AuctionID    uuid.UUID       `json:"auction_id"`
	SellerID     uuid.UUID       `json:"seller_id"`
	BuyerID      uuid.UUID       `json:"buyer_id"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	ButtonAmount int64           `json:"button_amount"`
	SettledAt    time.Time       `json:"settled_at"`
}

// AuctionCancelledEvent is emitted when an owner withdraws a listing.
type AuctionCancelledEvent struct {
	AuctionID      uuid.UUID         `json:"auction_id"`
	Kind           enums.AuctionKind `json:"kind"`
	OwnerID        uuid.UUID         `json:"owner_id"`
	RefundedBidder *uuid.UUID        `json:"refunded_bidder,omitempty"`
	Version        int64             `json:"version"`
	CancelledAt    time.Time         `json:"cancelled_at"`
}

// ButtonsGrantedEvent records a platform credit.
type ButtonsGrantedEvent struct {
	UserID      uuid.UUID             `json:"user_id"`
	Amount      int64                 `json:"amount"`
	Kind        enums.LedgerEntryKind `json:"kind"`
	ReferenceID *uuid.UUID            `json:"reference_id,omitempty"`
	Balance     int64                 `json:"balance"`
}
