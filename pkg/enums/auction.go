package enums

// AuctionKind distinguishes clothing listings (priced in buttons) from
// button resale listings (priced in USD).
type AuctionKind string

const (
	AuctionKindClothing AuctionKind = "clothing"
	AuctionKindResale   AuctionKind = "resale"
)

var validAuctionKinds = []AuctionKind{
	AuctionKindClothing,
	AuctionKindResale,
}

func (k AuctionKind) IsValid() bool {
	return oneOf(k, validAuctionKinds)
}

func ParseAuctionKind(value string) (AuctionKind, error) {
	return parse(value, "auction kind", validAuctionKinds)
}

// AuctionStatus maps to the auction_status enum in Postgres.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusSold      AuctionStatus = "sold"
	AuctionStatusExpired   AuctionStatus = "expired"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

var validAuctionStatuses = []AuctionStatus{
	AuctionStatusActive,
	AuctionStatusSold,
	AuctionStatusExpired,
	AuctionStatusCancelled,
}

// IsValid reports whether the value matches the canonical auction_status enum.
func (s AuctionStatus) IsValid() bool {
	return oneOf(s, validAuctionStatuses)
}

// IsTerminal reports whether no further transitions are allowed.
func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionStatusSold || s == AuctionStatusExpired || s == AuctionStatusCancelled
}

// ParseAuctionStatus converts raw input into AuctionStatus.
func ParseAuctionStatus(value string) (AuctionStatus, error) {
	return parse(value, "auction status", validAuctionStatuses)
}

// BidStatus maps to the bid_status enum in Postgres.
type BidStatus string

const (
	BidStatusActive    BidStatus = "active"
	BidStatusOutbid    BidStatus = "outbid"
	BidStatusWon       BidStatus = "won"
	BidStatusCancelled BidStatus = "cancelled"
)

var validBidStatuses = []BidStatus{
	BidStatusActive,
	BidStatusOutbid,
	BidStatusWon,
	BidStatusCancelled,
}

func (s BidStatus) IsValid() bool {
	return oneOf(s, validBidStatuses)
}

func ParseBidStatus(value string) (BidStatus, error) {
	return parse(value, "bid status", validBidStatuses)
}
