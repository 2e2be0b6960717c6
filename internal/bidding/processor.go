package bidding

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/internal/auctions"
	"github.com/angelmondragon/buttonbid-backend/internal/ledger"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/metrics"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
)

const outcomeAccepted = "accepted"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerAppender interface {
	AppendTx(ctx context.Context, tx *gorm.DB, entries ...ledger.Entry) (*models.UserBalance, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// LeaderSnapshot is the auction state right after an accepted bid.
type LeaderSnapshot struct {
	AuctionID uuid.UUID         `json:"auction_id"`
	Kind      enums.AuctionKind `json:"kind"`
	LeaderID  uuid.UUID         `json:"leader_id"`
	Amount    string            `json:"amount"`
	Version   int64             `json:"version"`
	BidCount  int               `json:"bid_count"`
}

type ClothingBidResult struct {
	Bid    models.ClothingBid  `json:"bid"`
	Leader LeaderSnapshot      `json:"leader"`
	Outbid *models.ClothingBid `json:"outbid,omitempty"`
}

type ResaleBidResult struct {
	Bid    models.ResaleBid  `json:"bid"`
	Leader LeaderSnapshot    `json:"leader"`
	Outbid *models.ResaleBid `json:"outbid,omitempty"`
}

type ProcessorParams struct {
	Repo    auctions.Repository
	Ledger  ledgerAppender
	Outbox  eventEmitter
	Tx      txRunner
	Logger  *logger.Logger
	Metrics *metrics.AuctionMetrics
}

// Processor accepts or rejects bids. Each bid runs in one transaction: the
// leader compare-and-set, the ledger movements, the bid rows, and the feed
// events commit together or not at all. Conflicts are reported, never retried.
type Processor struct {
	repo    auctions.Repository
	ledger  ledgerAppender
	outbox  eventEmitter
	tx      txRunner
	logg    *logger.Logger
	metrics *metrics.AuctionMetrics
	now     func() time.Time
}

func NewProcessor(params ProcessorParams) (*Processor, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("auctions repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Processor{
		repo:    params.Repo,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		tx:      params.Tx,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

// PlaceClothingBid reserves amount buttons from the bidder and returns the
// previous leader's reservation to them.
func (p *Processor) PlaceClothingBid(ctx context.Context, auctionID, bidderID uuid.UUID, amount int64) (result *ClothingBidResult, err error) {
	started := time.Now()
	defer func() { p.observe(enums.AuctionKindClothing, started, err) }()
	ctx = p.logg.WithAuctionID(ctx, auctionID.String())

	if auctionID == uuid.Nil || bidderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "auction id and bidder id are required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "bid amount must be positive")
	}

	now := p.now().UTC()
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		auction, err := repo.FindClothing(ctx, auctionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load clothing auction")
		}
		if auction == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
		}
		if err := checkOpen(auction.Status, auction.BiddingEndsAt, now); err != nil {
			return err
		}
		if auction.OwnerID == bidderID {
			return pkgerrors.New(pkgerrors.CodeSelfBid, "owners cannot bid on their own listing")
		}
		if err := checkClothingAmount(auction, amount); err != nil {
			return err
		}

		previous, err := repo.FindActiveClothingBid(ctx, auction.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load leading bid")
		}

		ok, err := repo.SetClothingLeader(ctx, auctions.ClothingLeaderUpdate{
			AuctionID:       auction.ID,
			ExpectedVersion: auction.Version,
			Amount:          amount,
			BidderID:        bidderID,
			Now:             now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update auction leader")
		}
		if !ok {
			return p.clothingConflict(ctx, repo, auction.ID, now)
		}

		reference := auction.ID
		debit := ledger.Entry{
			UserID:      bidderID,
			Amount:      -amount,
			Kind:        enums.LedgerEntryKindSpentBid,
			ReferenceID: &reference,
			Description: fmt.Sprintf("Bid of %d buttons on %s", amount, auction.Title),
		}
		if previous != nil {
			moved, err := repo.UpdateClothingBidStatus(ctx, previous.ID, enums.BidStatusActive, enums.BidStatusOutbid)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark previous bid outbid")
			}
			if !moved {
				return pkgerrors.New(pkgerrors.CodeBidSuperseded, "leading bid changed; retry with the latest state")
			}
			refund := ledger.Entry{
				UserID:      previous.BidderID,
				Amount:      previous.Amount,
				Kind:        enums.LedgerEntryKindRefund,
				ReferenceID: &reference,
				Description: fmt.Sprintf("Refund of %d buttons, outbid on %s", previous.Amount, auction.Title),
			}
			if previous.BidderID == bidderID {
				if _, err := p.ledger.AppendTx(ctx, tx, refund, debit); err != nil {
					return err
				}
			} else {
				if _, err := p.ledger.AppendTx(ctx, tx, debit); err != nil {
					return err
				}
				if _, err := p.ledger.AppendTx(ctx, tx, refund); err != nil {
					return err
				}
			}
			previous.Status = enums.BidStatusOutbid
		} else if _, err := p.ledger.AppendTx(ctx, tx, debit); err != nil {
			return err
		}

		bid := models.ClothingBid{
			AuctionID: auction.ID,
			BidderID:  bidderID,
			Amount:    amount,
			Status:    enums.BidStatusActive,
		}
		if err := repo.InsertClothingBid(ctx, &bid); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert bid")
		}

		leader := LeaderSnapshot{
			AuctionID: auction.ID,
			Kind:      enums.AuctionKindClothing,
			LeaderID:  bidderID,
			Amount:    strconv.FormatInt(amount, 10),
			Version:   auction.Version + 1,
			BidCount:  auction.BidCount + 1,
		}
		if err := p.emitPlaced(ctx, tx, leader, bid.ID, auction.OwnerID, auction.BiddingEndsAt); err != nil {
			return err
		}
		if previous != nil && previous.BidderID != bidderID {
			if err := p.emitOutbid(ctx, tx, leader, payloads.BidOutbidEvent{
				BidID:          previous.ID,
				BidderID:       previous.BidderID,
				Amount:         strconv.FormatInt(previous.Amount, 10),
				RefundedAmount: previous.Amount,
			}); err != nil {
				return err
			}
		}

		result = &ClothingBidResult{Bid: bid, Leader: leader, Outbid: previous}
		return nil
	})
	if err != nil {
		p.logRejected(ctx, err)
		return nil, err
	}

	p.logg.Info(p.logg.WithUserID(ctx, bidderID.String()), "clothing bid accepted")
	return result, nil
}

// PlaceResaleBid records a USD offer. Nothing is reserved from the bidder; the
// payment is collected by the gateway once the auction settles.
func (p *Processor) PlaceResaleBid(ctx context.Context, auctionID, bidderID uuid.UUID, amountUSD decimal.Decimal) (result *ResaleBidResult, err error) {
	started := time.Now()
	defer func() { p.observe(enums.AuctionKindResale, started, err) }()
	ctx = p.logg.WithAuctionID(ctx, auctionID.String())

	if auctionID == uuid.Nil || bidderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "auction id and bidder id are required")
	}
	if !amountUSD.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "bid amount must be positive")
	}
	if !amountUSD.Equal(amountUSD.Round(2)) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "bid amount must have at most two decimal places")
	}

	now := p.now().UTC()
	err = p.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := p.repo.WithTx(tx)
		auction, err := repo.FindResale(ctx, auctionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load resale auction")
		}
		if auction == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
		}
		if err := checkOpen(auction.Status, auction.BiddingEndsAt, now); err != nil {
			return err
		}
		if auction.SellerID == bidderID {
			return pkgerrors.New(pkgerrors.CodeSelfBid, "sellers cannot bid on their own listing")
		}
		if err := checkResaleAmount(auction, amountUSD); err != nil {
			return err
		}

		previous, err := repo.FindActiveResaleBid(ctx, auction.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load leading bid")
		}

		ok, err := repo.SetResaleLeader(ctx, auctions.ResaleLeaderUpdate{
			AuctionID:       auction.ID,
			ExpectedVersion: auction.Version,
			AmountUSD:       amountUSD,
			BidderID:        bidderID,
			Now:             now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update auction leader")
		}
		if !ok {
			return p.resaleConflict(ctx, repo, auction.ID, now)
		}

		if previous != nil {
			moved, err := repo.UpdateResaleBidStatus(ctx, previous.ID, enums.BidStatusActive, enums.BidStatusOutbid)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark previous bid outbid")
			}
			if !moved {
				return pkgerrors.New(pkgerrors.CodeBidSuperseded, "leading bid changed; retry with the latest state")
			}
			previous.Status = enums.BidStatusOutbid
		}

		bid := models.ResaleBid{
			AuctionID: auction.ID,
			BidderID:  bidderID,
			AmountUSD: amountUSD,
			Status:    enums.BidStatusActive,
		}
		if err := repo.InsertResaleBid(ctx, &bid); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert bid")
		}

		leader := LeaderSnapshot{
			AuctionID: auction.ID,
			Kind:      enums.AuctionKindResale,
			LeaderID:  bidderID,
			Amount:    amountUSD.StringFixed(2),
			Version:   auction.Version + 1,
			BidCount:  auction.BidCount + 1,
		}
		if err := p.emitPlaced(ctx, tx, leader, bid.ID, auction.SellerID, auction.BiddingEndsAt); err != nil {
			return err
		}
		if previous != nil && previous.BidderID != bidderID {
			if err := p.emitOutbid(ctx, tx, leader, payloads.BidOutbidEvent{
				BidID:    previous.ID,
				BidderID: previous.BidderID,
				Amount:   previous.AmountUSD.StringFixed(2),
			}); err != nil {
				return err
			}
		}

		result = &ResaleBidResult{Bid: bid, Leader: leader, Outbid: previous}
		return nil
	})
	if err != nil {
		p.logRejected(ctx, err)
		return nil, err
	}

	p.logg.Info(p.logg.WithUserID(ctx, bidderID.String()), "resale bid accepted")
	return result, nil
}

func checkOpen(status enums.AuctionStatus, endsAt, now time.Time) error {
	if status != enums.AuctionStatusActive {
		return pkgerrors.Errorf(pkgerrors.CodeAuctionClosed, "auction is %s", status)
	}
	if !endsAt.After(now) {
		return pkgerrors.New(pkgerrors.CodeAuctionClosed, "bidding has ended")
	}
	return nil
}

func checkClothingAmount(auction *models.ClothingAuction, amount int64) error {
	if !auction.HasLeader() {
		if amount < auction.MinimumPrice {
			return bidTooLow(fmt.Sprintf("bid must be at least %d buttons", auction.MinimumPrice), strconv.FormatInt(auction.MinimumPrice, 10))
		}
		return nil
	}
	if amount <= auction.CurrentHighestBid {
		return bidTooLow(fmt.Sprintf("bid must exceed %d buttons", auction.CurrentHighestBid), strconv.FormatInt(auction.CurrentHighestBid+1, 10))
	}
	return nil
}

func checkResaleAmount(auction *models.ResaleAuction, amount decimal.Decimal) error {
	if !auction.HasLeader() {
		if amount.LessThan(auction.MinimumPriceUSD) {
			return bidTooLow(fmt.Sprintf("bid must be at least $%s", auction.MinimumPriceUSD.StringFixed(2)), auction.MinimumPriceUSD.StringFixed(2))
		}
		return nil
	}
	if !amount.GreaterThan(auction.CurrentHighestBidUSD) {
		next := auction.CurrentHighestBidUSD.Add(decimal.New(1, -2))
		return bidTooLow(fmt.Sprintf("bid must exceed $%s", auction.CurrentHighestBidUSD.StringFixed(2)), next.StringFixed(2))
	}
	return nil
}

func bidTooLow(message, minimum string) error {
	return pkgerrors.New(pkgerrors.CodeBidTooLow, message).
		WithDetails(map[string]any{"minimum_bid": minimum})
}

// clothingConflict explains a failed leader compare-and-set by re-reading the
// auction inside the same transaction.
func (p *Processor) clothingConflict(ctx context.Context, repo auctions.Repository, id uuid.UUID, now time.Time) error {
	current, err := repo.FindClothing(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload clothing auction")
	}
	if current == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
	}
	if err := checkOpen(current.Status, current.BiddingEndsAt, now); err != nil {
		return err
	}
	return superseded(current.Version)
}

func (p *Processor) resaleConflict(ctx context.Context, repo auctions.Repository, id uuid.UUID, now time.Time) error {
	current, err := repo.FindResale(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload resale auction")
	}
	if current == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
	}
	if err := checkOpen(current.Status, current.BiddingEndsAt, now); err != nil {
		return err
	}
	return superseded(current.Version)
}

func superseded(version int64) error {
	return pkgerrors.New(pkgerrors.CodeBidSuperseded, "another bid was accepted first; retry with the latest state").
		WithDetails(map[string]any{"current_version": version})
}

func (p *Processor) emitPlaced(ctx context.Context, tx *gorm.DB, leader LeaderSnapshot, bidID, ownerID uuid.UUID, endsAt time.Time) error {
	return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAuctionBidPlaced,
		AggregateType: enums.AggregateForAuction(leader.Kind),
		AggregateID:   leader.AuctionID,
		Actor:         &outbox.ActorRef{UserID: leader.LeaderID, Source: "bidding"},
		Data: payloads.BidPlacedEvent{
			AuctionID:     leader.AuctionID,
			Kind:          leader.Kind,
			BidID:         bidID,
			BidderID:      leader.LeaderID,
			OwnerID:       ownerID,
			Amount:        leader.Amount,
			BidCount:      leader.BidCount,
			Version:       leader.Version,
			BiddingEndsAt: endsAt,
		},
	})
}

func (p *Processor) emitOutbid(ctx context.Context, tx *gorm.DB, leader LeaderSnapshot, event payloads.BidOutbidEvent) error {
	event.AuctionID = leader.AuctionID
	event.Kind = leader.Kind
	event.NewAmount = leader.Amount
	event.Version = leader.Version
	return p.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAuctionBidOutbid,
		AggregateType: enums.AggregateForAuction(leader.Kind),
		AggregateID:   leader.AuctionID,
		Actor:         &outbox.ActorRef{UserID: leader.LeaderID, Source: "bidding"},
		Data:          event,
	})
}

func (p *Processor) observe(kind enums.AuctionKind, started time.Time, err error) {
	p.metrics.ObserveBid(string(kind), outcome(err), time.Since(started))
}

func (p *Processor) logRejected(ctx context.Context, err error) {
	if typed := pkgerrors.As(err); typed != nil && typed.Code() != pkgerrors.CodeDependency && typed.Code() != pkgerrors.CodeInternal {
		p.logg.Info(p.logg.WithField(ctx, "code", string(typed.Code())), "bid rejected")
		return
	}
	p.logg.Error(ctx, "bid failed", err)
}

func outcome(err error) string {
	if err == nil {
		return outcomeAccepted
	}
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}
