package enums

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateClothingAuction OutboxAggregateType = "clothing_auction"
	AggregateResaleAuction   OutboxAggregateType = "resale_auction"
	AggregateUserBalance     OutboxAggregateType = "user_balance"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateClothingAuction,
	AggregateResaleAuction,
	AggregateUserBalance,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	return oneOf(a, validAggregateTypes)
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse(value, "aggregate type", validAggregateTypes)
}

// AggregateForAuction returns the aggregate type used for feed events of an auction kind.
func AggregateForAuction(kind AuctionKind) OutboxAggregateType {
	if kind == AuctionKindResale {
		return AggregateResaleAuction
	}
	return AggregateClothingAuction
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventAuctionCreated       OutboxEventType = "auction_created"
	EventAuctionBidPlaced     OutboxEventType = "auction_bid_placed"
	EventAuctionBidOutbid     OutboxEventType = "auction_bid_outbid"
	EventAuctionSettled       OutboxEventType = "auction_settled"
	EventAuctionResaleSettled OutboxEventType = "auction_resale_settled"
	EventAuctionCancelled     OutboxEventType = "auction_cancelled"
	EventButtonsGranted       OutboxEventType = "ledger_buttons_granted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventAuctionCreated,
	EventAuctionBidPlaced,
	EventAuctionBidOutbid,
	EventAuctionSettled,
	EventAuctionResaleSettled,
	EventAuctionCancelled,
	EventButtonsGranted,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	return oneOf(e, validOutboxEventTypes)
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse(value, "event type", validOutboxEventTypes)
}
