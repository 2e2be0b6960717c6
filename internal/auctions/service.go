package auctions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/internal/ledger"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox"
	"github.com/angelmondragon/buttonbid-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/buttonbid-backend/pkg/pagination"
)

const (
	maxTitleLength   = 200
	dashboardPreview = 10
)

// Service creates, cancels, and reads listings. Bids and settlement live in
// their own packages and share the Repository.
type Service interface {
	CreateClothingListing(ctx context.Context, ownerID uuid.UUID, input CreateClothingInput) (*models.ClothingAuction, error)
	CreateResaleListing(ctx context.Context, sellerID uuid.UUID, input CreateResaleInput) (*models.ResaleAuction, error)
	CancelListing(ctx context.Context, kind enums.AuctionKind, auctionID, actorID uuid.UUID) error
	GetClothing(ctx context.Context, id uuid.UUID) (*models.ClothingAuction, error)
	GetResale(ctx context.Context, id uuid.UUID) (*models.ResaleAuction, error)
	ListActiveAuctions(ctx context.Context, filter ActiveFilter) (*AuctionPage, error)
	Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerService interface {
	AppendTx(ctx context.Context, tx *gorm.DB, entries ...ledger.Entry) (*models.UserBalance, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	ListEntries(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ledger.EntryPage, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type CreateClothingInput struct {
	Title        string
	Description  string
	MinimumPrice int64
	Window       time.Duration
}

type CreateResaleInput struct {
	ButtonAmount    int64
	MinimumPriceUSD decimal.Decimal
	Window          time.Duration
}

// ActiveFilter selects open listings of one kind. Prices are buttons for
// clothing and USD for resale.
type ActiveFilter struct {
	Kind           enums.AuctionKind
	OwnerID        *uuid.UUID
	ExcludeOwnerID *uuid.UUID
	MinPrice       *decimal.Decimal
	MaxPrice       *decimal.Decimal
	EndingBefore   *time.Time
	Pagination     pagination.Params
}

type AuctionPage struct {
	Kind       enums.AuctionKind        `json:"kind"`
	Clothing   []models.ClothingAuction `json:"clothing,omitempty"`
	Resale     []models.ResaleAuction   `json:"resale,omitempty"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

// Dashboard is the per-user summary of listings, open bids, and recent
// ledger activity.
type Dashboard struct {
	Balance          *models.UserBalance      `json:"balance"`
	Listings         []models.ClothingAuction `json:"listings"`
	ResaleListings   []models.ResaleAuction   `json:"resale_listings"`
	ActiveBids       []models.ClothingBid     `json:"active_bids"`
	ActiveResaleBids []models.ResaleBid       `json:"active_resale_bids"`
	RecentActivity   []models.LedgerEntry     `json:"recent_activity"`
}

// Windows holds the default listing durations.
type Windows struct {
	Clothing time.Duration
	Resale   time.Duration
}

type ServiceParams struct {
	Repo    Repository
	Ledger  ledgerService
	Outbox  eventEmitter
	Tx      txRunner
	Logger  *logger.Logger
	Windows Windows
}

type service struct {
	repo    Repository
	ledger  ledgerService
	outbox  eventEmitter
	tx      txRunner
	logg    *logger.Logger
	windows Windows
	now     func() time.Time
}

// NewService wires the listing service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("auctions repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
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
	if params.Windows.Clothing <= 0 || params.Windows.Resale <= 0 {
		return nil, fmt.Errorf("listing windows must be positive")
	}
	return &service{
		repo:    params.Repo,
		ledger:  params.Ledger,
		outbox:  params.Outbox,
		tx:      params.Tx,
		logg:    params.Logger,
		windows: params.Windows,
		now:     time.Now,
	}, nil
}

func (s *service) CreateClothingListing(ctx context.Context, ownerID uuid.UUID, input CreateClothingInput) (*models.ClothingAuction, error) {
	if ownerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "owner id is required")
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	if len(title) > maxTitleLength {
		return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "title must be at most %d characters", maxTitleLength)
	}
	if input.MinimumPrice < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "minimum price must be at least 1 button")
	}
	window, err := s.window(input.Window, s.windows.Clothing)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	auction := &models.ClothingAuction{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		Title:         title,
		Description:   strings.TrimSpace(input.Description),
		MinimumPrice:  input.MinimumPrice,
		Status:        enums.AuctionStatusActive,
		BiddingEndsAt: now.Add(window),
		Version:       1,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateClothing(ctx, auction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create clothing auction")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAuctionCreated,
			AggregateType: enums.AggregateClothingAuction,
			AggregateID:   auction.ID,
			Actor:         &outbox.ActorRef{UserID: ownerID, Source: "api"},
			Data: payloads.AuctionCreatedEvent{
				AuctionID:     auction.ID,
				Kind:          enums.AuctionKindClothing,
				OwnerID:       ownerID,
				Title:         auction.Title,
				MinimumPrice:  auction.MinimumPrice,
				BiddingEndsAt: auction.BiddingEndsAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAuctionID(ctx, auction.ID.String()), "clothing listing created")
	return auction, nil
}

// CreateResaleListing escrows the listed buttons from the seller in the same
// transaction that creates the listing.
func (s *service) CreateResaleListing(ctx context.Context, sellerID uuid.UUID, input CreateResaleInput) (*models.ResaleAuction, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	if input.ButtonAmount < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "button amount must be at least 1")
	}
	minimum := input.MinimumPriceUSD.Round(2)
	if minimum.LessThan(decimal.NewFromFloat(0.01)) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "minimum price must be at least $0.01")
	}
	window, err := s.window(input.Window, s.windows.Resale)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	auction := &models.ResaleAuction{
		ID:                   uuid.New(),
		SellerID:             sellerID,
		ButtonAmount:         input.ButtonAmount,
		MinimumPriceUSD:      minimum,
		CurrentHighestBidUSD: decimal.Zero,
		Status:               enums.AuctionStatusActive,
		BiddingEndsAt:        now.Add(window),
		Version:              1,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateResale(ctx, auction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create resale auction")
		}
		reference := auction.ID
		if _, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:      sellerID,
			Amount:      -input.ButtonAmount,
			Kind:        enums.LedgerEntryKindPurchaseUser,
			ReferenceID: &reference,
			Description: fmt.Sprintf("Listed %d buttons for sale", input.ButtonAmount),
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAuctionCreated,
			AggregateType: enums.AggregateResaleAuction,
			AggregateID:   auction.ID,
			Actor:         &outbox.ActorRef{UserID: sellerID, Source: "api"},
			Data: payloads.AuctionCreatedEvent{
				AuctionID:       auction.ID,
				Kind:            enums.AuctionKindResale,
				OwnerID:         sellerID,
				ButtonAmount:    auction.ButtonAmount,
				MinimumPriceUSD: &minimum,
				BiddingEndsAt:   auction.BiddingEndsAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithAuctionID(ctx, auction.ID.String()), "resale listing created")
	return auction, nil
}

func (s *service) window(requested, fallback time.Duration) (time.Duration, error) {
	if requested == 0 {
		return fallback, nil
	}
	if requested < time.Minute {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "listing window must be at least one minute")
	}
	return requested, nil
}

// CancelListing withdraws an open listing. Clothing leaders get their bid back,
// resale escrow returns to the seller, and every active bid is cancelled.
func (s *service) CancelListing(ctx context.Context, kind enums.AuctionKind, auctionID, actorID uuid.UUID) error {
	if auctionID == uuid.Nil || actorID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "auction id and actor id are required")
	}
	switch kind {
	case enums.AuctionKindClothing:
		return s.cancelClothing(ctx, auctionID, actorID)
	case enums.AuctionKindResale:
		return s.cancelResale(ctx, auctionID, actorID)
	default:
		return pkgerrors.Errorf(pkgerrors.CodeValidation, "invalid auction kind %q", kind)
	}
}

func (s *service) cancelClothing(ctx context.Context, auctionID, actorID uuid.UUID) error {
	now := s.now().UTC()
	var refunded *uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		auction, err := repo.FindClothing(ctx, auctionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load clothing auction")
		}
		if auction == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
		}
		if auction.OwnerID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the owner can cancel a listing")
		}
		if err := ensureOpen(auction.Status, auction.BiddingEndsAt, now); err != nil {
			return err
		}

		ok, err := repo.TransitionClothing(ctx, StatusTransition{
			AuctionID:       auction.ID,
			ExpectedVersion: auction.Version,
			To:              enums.AuctionStatusCancelled,
			Now:             now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel clothing auction")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeBidSuperseded, "auction changed while cancelling; retry")
		}

		leader, err := repo.FindActiveClothingBid(ctx, auction.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load leading bid")
		}
		if leader != nil {
			reference := auction.ID
			if _, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
				UserID:      leader.BidderID,
				Amount:      leader.Amount,
				Kind:        enums.LedgerEntryKindRefund,
				ReferenceID: &reference,
				Description: fmt.Sprintf("Refund of %d buttons for cancelled auction", leader.Amount),
			}); err != nil {
				return err
			}
			bidder := leader.BidderID
			refunded = &bidder
		}
		if _, err := repo.CancelActiveClothingBids(ctx, auction.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel active bids")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAuctionCancelled,
			AggregateType: enums.AggregateClothingAuction,
			AggregateID:   auction.ID,
			Actor:         &outbox.ActorRef{UserID: actorID, Source: "api"},
			Data: payloads.AuctionCancelledEvent{
				AuctionID:      auction.ID,
				Kind:           enums.AuctionKindClothing,
				OwnerID:        auction.OwnerID,
				RefundedBidder: refunded,
				Version:        auction.Version + 1,
				CancelledAt:    now,
			},
		})
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithAuctionID(ctx, auctionID.String()), "clothing listing cancelled")
	return nil
}

func (s *service) cancelResale(ctx context.Context, auctionID, actorID uuid.UUID) error {
	now := s.now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		auction, err := repo.FindResale(ctx, auctionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load resale auction")
		}
		if auction == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
		}
		if auction.SellerID != actorID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "only the seller can cancel a listing")
		}
		if err := ensureOpen(auction.Status, auction.BiddingEndsAt, now); err != nil {
			return err
		}

		ok, err := repo.TransitionResale(ctx, StatusTransition{
			AuctionID:       auction.ID,
			ExpectedVersion: auction.Version,
			To:              enums.AuctionStatusCancelled,
			Now:             now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel resale auction")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeBidSuperseded, "auction changed while cancelling; retry")
		}

		reference := auction.ID
		if _, err := s.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:      auction.SellerID,
			Amount:      auction.ButtonAmount,
			Kind:        enums.LedgerEntryKindPurchaseUser,
			ReferenceID: &reference,
			Description: fmt.Sprintf("Returned %d escrowed buttons from cancelled listing", auction.ButtonAmount),
		}); err != nil {
			return err
		}
		if _, err := repo.CancelActiveResaleBids(ctx, auction.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel active bids")
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAuctionCancelled,
			AggregateType: enums.AggregateResaleAuction,
			AggregateID:   auction.ID,
			Actor:         &outbox.ActorRef{UserID: actorID, Source: "api"},
			Data: payloads.AuctionCancelledEvent{
				AuctionID:   auction.ID,
				Kind:        enums.AuctionKindResale,
				OwnerID:     auction.SellerID,
				Version:     auction.Version + 1,
				CancelledAt: now,
			},
		})
	})
	if err != nil {
		return err
	}
	s.logg.Info(s.logg.WithAuctionID(ctx, auctionID.String()), "resale listing cancelled")
	return nil
}

func ensureOpen(status enums.AuctionStatus, endsAt, now time.Time) error {
	if status != enums.AuctionStatusActive {
		return pkgerrors.Errorf(pkgerrors.CodeAuctionClosed, "auction is %s", status)
	}
	if !endsAt.After(now) {
		return pkgerrors.New(pkgerrors.CodeAuctionClosed, "bidding has ended")
	}
	return nil
}

func (s *service) GetClothing(ctx context.Context, id uuid.UUID) (*models.ClothingAuction, error) {
	auction, err := s.repo.FindClothing(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load clothing auction")
	}
	if auction == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
	}
	return auction, nil
}

func (s *service) GetResale(ctx context.Context, id uuid.UUID) (*models.ResaleAuction, error) {
	auction, err := s.repo.FindResale(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load resale auction")
	}
	if auction == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
	}
	return auction, nil
}

func (s *service) ListActiveAuctions(ctx context.Context, filter ActiveFilter) (*AuctionPage, error) {
	kind := filter.Kind
	if kind == "" {
		kind = enums.AuctionKindClothing
	}
	if !kind.IsValid() {
		return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "invalid auction kind %q", kind)
	}
	if filter.MinPrice != nil && filter.MaxPrice != nil && filter.MinPrice.GreaterThan(*filter.MaxPrice) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "min price must not exceed max price")
	}
	cursor, err := pagination.ParseCursor(filter.Pagination.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	query := ListFilter{
		OwnerID:        filter.OwnerID,
		ExcludeOwnerID: filter.ExcludeOwnerID,
		MinPrice:       filter.MinPrice,
		MaxPrice:       filter.MaxPrice,
		EndingBefore:   filter.EndingBefore,
		Now:            s.now().UTC(),
		Limit:          filter.Pagination.Limit,
		Cursor:         cursor,
	}

	page := &AuctionPage{Kind: kind}
	var next *pagination.Cursor
	switch kind {
	case enums.AuctionKindClothing:
		page.Clothing, next, err = s.repo.ListActiveClothing(ctx, query)
	case enums.AuctionKindResale:
		page.Resale, next, err = s.repo.ListActiveResale(ctx, query)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active auctions")
	}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

func (s *service) Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := &Dashboard{Balance: balance}
	if out.Listings, err = s.repo.ListClothingByOwner(ctx, userID, dashboardPreview); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list clothing listings")
	}
	if out.ResaleListings, err = s.repo.ListResaleBySeller(ctx, userID, dashboardPreview); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list resale listings")
	}
	if out.ActiveBids, err = s.repo.ListClothingBidsByBidder(ctx, userID, enums.BidStatusActive, dashboardPreview); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active bids")
	}
	if out.ActiveResaleBids, err = s.repo.ListResaleBidsByBidder(ctx, userID, enums.BidStatusActive, dashboardPreview); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active resale bids")
	}
	entries, err := s.ledger.ListEntries(ctx, userID, pagination.Params{Limit: dashboardPreview})
	if err != nil {
		return nil, err
	}
	out.RecentActivity = entries.Entries
	return out, nil
}
