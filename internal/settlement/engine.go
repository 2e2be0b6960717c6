package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
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

const (
	defaultBatchSize = 100
	maxBatchSize     = 1000
)

// Outcome describes what a settlement attempt did to one auction.
type Outcome string

const (
	OutcomeSold    Outcome = "sold"
	OutcomeExpired Outcome = "expired"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result is reported per auction. Failures carry the error text and do not
// abort the rest of the batch.
type Result struct {
	AuctionID uuid.UUID         `json:"auction_id"`
	Kind      enums.AuctionKind `json:"kind"`
	Outcome   Outcome           `json:"outcome"`
	WinnerID  *uuid.UUID        `json:"winner_id,omitempty"`
	Amount    string            `json:"amount,omitempty"`
	Error     string            `json:"error,omitempty"`
	err       error
}

// Err returns the failure behind an OutcomeFailed result.
func (r Result) Err() error { return r.err }

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ledgerWriter interface {
	AppendTx(ctx context.Context, tx *gorm.DB, entries ...ledger.Entry) (*models.UserBalance, error)
	EnsureAccountTx(ctx context.Context, tx *gorm.DB, userID uuid.UUID) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type EngineParams struct {
	Repo      auctions.Repository
	Ledger    ledgerWriter
	Outbox    eventEmitter
	Tx        txRunner
	Logger    *logger.Logger
	Metrics   *metrics.AuctionMetrics
	BatchSize int
}

// Engine closes auctions whose deadline has passed. Every auction settles in
// its own transaction guarded by a version compare-and-set, so concurrent
// engines and repeated runs settle each auction exactly once.
type Engine struct {
	repo      auctions.Repository
	ledger    ledgerWriter
	outbox    eventEmitter
	tx        txRunner
	logg      *logger.Logger
	metrics   *metrics.AuctionMetrics
	batchSize int
}

func NewEngine(params EngineParams) (*Engine, error) {
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
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	batch = min(batch, maxBatchSize)
	return &Engine{
		repo:      params.Repo,
		ledger:    params.Ledger,
		outbox:    params.Outbox,
		tx:        params.Tx,
		logg:      params.Logger,
		metrics:   params.Metrics,
		batchSize: batch,
	}, nil
}

// CloseExpiredAuctions settles every auction of each kind that was due at now,
// reading candidates in pages of the configured batch size. An auction that
// fails stays due for the next run and never blocks the ones behind it. The
// returned error only reports failures to list candidates.
func (e *Engine) CloseExpiredAuctions(ctx context.Context, now time.Time) ([]Result, error) {
	now = now.UTC()
	results := make([]Result, 0)

	err := forEachDue(ctx, e.batchSize, now,
		func(query auctions.DueQuery) ([]models.ClothingAuction, error) {
			return e.repo.ListExpiredClothing(ctx, query)
		},
		func(a models.ClothingAuction) auctions.DueMark { return auctions.DueMark{EndsAt: a.BiddingEndsAt, ID: a.ID} },
		func(a models.ClothingAuction) {
			results = append(results, e.settle(ctx, enums.AuctionKindClothing, a.ID, now))
		})
	if err != nil {
		return results, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired clothing auctions")
	}
	err = forEachDue(ctx, e.batchSize, now,
		func(query auctions.DueQuery) ([]models.ResaleAuction, error) {
			return e.repo.ListExpiredResale(ctx, query)
		},
		func(a models.ResaleAuction) auctions.DueMark { return auctions.DueMark{EndsAt: a.BiddingEndsAt, ID: a.ID} },
		func(a models.ResaleAuction) {
			results = append(results, e.settle(ctx, enums.AuctionKindResale, a.ID, now))
		})
	if err != nil {
		return results, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired resale auctions")
	}

	if len(results) > 0 {
		counts := map[Outcome]int{}
		for _, result := range results {
			counts[result.Outcome]++
		}
		e.logg.Info(e.logg.WithFields(ctx, map[string]any{
			"sold":    counts[OutcomeSold],
			"expired": counts[OutcomeExpired],
			"skipped": counts[OutcomeSkipped],
			"failed":  counts[OutcomeFailed],
		}), "settlement batch complete")
	}
	return results, nil
}

// SettleIfDue settles a single auction when its deadline has passed. It
// returns nil when the auction is still open.
func (e *Engine) SettleIfDue(ctx context.Context, kind enums.AuctionKind, auctionID uuid.UUID, now time.Time) (*Result, error) {
	now = now.UTC()
	var (
		status enums.AuctionStatus
		endsAt time.Time
	)
	switch kind {
	case enums.AuctionKindClothing:
		auction, err := e.repo.FindClothing(ctx, auctionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load clothing auction")
		}
		if auction == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
		}
		status, endsAt = auction.Status, auction.BiddingEndsAt
	case enums.AuctionKindResale:
		auction, err := e.repo.FindResale(ctx, auctionID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load resale auction")
		}
		if auction == nil {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "auction not found")
		}
		status, endsAt = auction.Status, auction.BiddingEndsAt
	default:
		return nil, pkgerrors.Errorf(pkgerrors.CodeValidation, "invalid auction kind %q", kind)
	}
	if status != enums.AuctionStatusActive || endsAt.After(now) {
		return nil, nil
	}

	result := e.settle(ctx, kind, auctionID, now)
	if result.Outcome == OutcomeFailed {
		return &result, result.err
	}
	return &result, nil
}

// forEachDue walks due auctions page by page until a short page.
func forEachDue[T any](ctx context.Context, size int, now time.Time, list func(auctions.DueQuery) ([]T, error), mark func(T) auctions.DueMark, visit func(T)) error {
	query := auctions.DueQuery{Now: now, Limit: size}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := list(query)
		if err != nil {
			return err
		}
		for _, row := range page {
			visit(row)
		}
		if len(page) < size {
			return nil
		}
		last := mark(page[len(page)-1])
		query.After = &last
	}
}

var (
	errNotDue      = errors.New("auction not due for settlement")
	errWinnerMoved = errors.New("winning bid changed concurrently")
)

func (e *Engine) settle(ctx context.Context, kind enums.AuctionKind, auctionID uuid.UUID, now time.Time) Result {
	ctx = e.logg.WithAuctionID(ctx, auctionID.String())
	result := Result{AuctionID: auctionID, Kind: kind}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if kind == enums.AuctionKindResale {
			return e.settleResale(ctx, tx, auctionID, now, &result)
		}
		return e.settleClothing(ctx, tx, auctionID, now, &result)
	})
	switch {
	case errors.Is(err, errNotDue):
		result = Result{AuctionID: auctionID, Kind: kind, Outcome: OutcomeSkipped}
	case err != nil:
		result = Result{AuctionID: auctionID, Kind: kind, Outcome: OutcomeFailed, Error: err.Error(), err: err}
		e.logg.Error(ctx, "auction settlement failed", err)
	default:
		e.logg.Info(e.logg.WithField(ctx, "outcome", string(result.Outcome)), "auction settled")
	}

	e.metrics.IncSettlement(string(kind), string(result.Outcome))
	return result
}

func (e *Engine) settleClothing(ctx context.Context, tx *gorm.DB, auctionID uuid.UUID, now time.Time, result *Result) error {
	repo := e.repo.WithTx(tx)
	auction, err := repo.FindClothing(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("load clothing auction: %w", err)
	}
	if auction == nil || auction.Status != enums.AuctionStatusActive || auction.BiddingEndsAt.After(now) {
		return errNotDue
	}

	to := enums.AuctionStatusExpired
	if auction.HasLeader() {
		to = enums.AuctionStatusSold
	}
	ok, err := repo.TransitionClothing(ctx, auctions.StatusTransition{
		AuctionID:       auction.ID,
		ExpectedVersion: auction.Version,
		To:              to,
		Now:             now,
		RequireElapsed:  true,
	})
	if err != nil {
		return fmt.Errorf("transition clothing auction: %w", err)
	}
	if !ok {
		return errNotDue
	}

	event := payloads.AuctionSettledEvent{
		AuctionID: auction.ID,
		Kind:      enums.AuctionKindClothing,
		Status:    to,
		OwnerID:   auction.OwnerID,
		Version:   auction.Version + 1,
		SettledAt: now,
	}

	if to == enums.AuctionStatusSold {
		winning, err := repo.FindActiveClothingBid(ctx, auction.ID)
		if err != nil {
			return fmt.Errorf("load winning bid: %w", err)
		}
		if winning == nil || winning.BidderID != *auction.HighestBidderID || winning.Amount != auction.CurrentHighestBid {
			return fmt.Errorf("winning bid does not match auction leader")
		}
		moved, err := repo.UpdateClothingBidStatus(ctx, winning.ID, enums.BidStatusActive, enums.BidStatusWon)
		if err != nil {
			return fmt.Errorf("mark winning bid: %w", err)
		}
		if !moved {
			return errWinnerMoved
		}
		if err := e.ledger.EnsureAccountTx(ctx, tx, auction.OwnerID); err != nil {
			return err
		}
		reference := auction.ID
		if _, err := e.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:      auction.OwnerID,
			Amount:      winning.Amount,
			Kind:        enums.LedgerEntryKindEarnedSale,
			ReferenceID: &reference,
			Description: fmt.Sprintf("Sold %s for %d buttons", auction.Title, winning.Amount),
		}); err != nil {
			return err
		}
		winner, bidID := winning.BidderID, winning.ID
		event.WinnerID = &winner
		event.WinningBidID = &bidID
		event.Amount = strconv.FormatInt(winning.Amount, 10)
		result.WinnerID = &winner
		result.Amount = event.Amount
		result.Outcome = OutcomeSold
	} else {
		result.Outcome = OutcomeExpired
	}

	if _, err := repo.CancelActiveClothingBids(ctx, auction.ID); err != nil {
		return fmt.Errorf("cancel remaining bids: %w", err)
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAuctionSettled,
		AggregateType: enums.AggregateClothingAuction,
		AggregateID:   auction.ID,
		Actor:         &outbox.ActorRef{Source: "settlement"},
		Data:          event,
	})
}

func (e *Engine) settleResale(ctx context.Context, tx *gorm.DB, auctionID uuid.UUID, now time.Time, result *Result) error {
	repo := e.repo.WithTx(tx)
	auction, err := repo.FindResale(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("load resale auction: %w", err)
	}
	if auction == nil || auction.Status != enums.AuctionStatusActive || auction.BiddingEndsAt.After(now) {
		return errNotDue
	}

	to := enums.AuctionStatusExpired
	if auction.HasLeader() {
		to = enums.AuctionStatusSold
	}
	ok, err := repo.TransitionResale(ctx, auctions.StatusTransition{
		AuctionID:       auction.ID,
		ExpectedVersion: auction.Version,
		To:              to,
		Now:             now,
		RequireElapsed:  true,
	})
	if err != nil {
		return fmt.Errorf("transition resale auction: %w", err)
	}
	if !ok {
		return errNotDue
	}

	reference := auction.ID
	event := payloads.AuctionSettledEvent{
		AuctionID:    auction.ID,
		Kind:         enums.AuctionKindResale,
		Status:       to,
		OwnerID:      auction.SellerID,
		ButtonAmount: auction.ButtonAmount,
		Version:      auction.Version + 1,
		SettledAt:    now,
	}

	if to == enums.AuctionStatusSold {
		winning, err := repo.FindActiveResaleBid(ctx, auction.ID)
		if err != nil {
			return fmt.Errorf("load winning bid: %w", err)
		}
		if winning == nil || winning.BidderID != *auction.HighestBidderID || !winning.AmountUSD.Equal(auction.CurrentHighestBidUSD) {
			return fmt.Errorf("winning bid does not match auction leader")
		}
		moved, err := repo.UpdateResaleBidStatus(ctx, winning.ID, enums.BidStatusActive, enums.BidStatusWon)
		if err != nil {
			return fmt.Errorf("mark winning bid: %w", err)
		}
		if !moved {
			return errWinnerMoved
		}
		if err := e.ledger.EnsureAccountTx(ctx, tx, winning.BidderID); err != nil {
			return err
		}
		if _, err := e.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:      winning.BidderID,
			Amount:      auction.ButtonAmount,
			Kind:        enums.LedgerEntryKindPurchaseUser,
			ReferenceID: &reference,
			Description: fmt.Sprintf("Bought %d buttons for $%s", auction.ButtonAmount, winning.AmountUSD.StringFixed(2)),
		}); err != nil {
			return err
		}
		if err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventAuctionResaleSettled,
			AggregateType: enums.AggregateResaleAuction,
			AggregateID:   auction.ID,
			Actor:         &outbox.ActorRef{Source: "settlement"},
			Data: payloads.ResaleSettledEvent{
				AuctionID:    auction.ID,
				SellerID:     auction.SellerID,
				BuyerID:      winning.BidderID,
				AmountUSD:    winning.AmountUSD,
				ButtonAmount: auction.ButtonAmount,
				SettledAt:    now,
			},
		}); err != nil {
			return err
		}
		winner, bidID := winning.BidderID, winning.ID
		event.WinnerID = &winner
		event.WinningBidID = &bidID
		event.Amount = winning.AmountUSD.StringFixed(2)
		result.WinnerID = &winner
		result.Amount = event.Amount
		result.Outcome = OutcomeSold
	} else {
		if _, err := e.ledger.AppendTx(ctx, tx, ledger.Entry{
			UserID:      auction.SellerID,
			Amount:      auction.ButtonAmount,
			Kind:        enums.LedgerEntryKindPurchaseUser,
			ReferenceID: &reference,
			Description: fmt.Sprintf("Returned %d unsold buttons", auction.ButtonAmount),
		}); err != nil {
			return err
		}
		result.Outcome = OutcomeExpired
	}

	if _, err := repo.CancelActiveResaleBids(ctx, auction.ID); err != nil {
		return fmt.Errorf("cancel remaining bids: %w", err)
	}
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventAuctionSettled,
		AggregateType: enums.AggregateResaleAuction,
		AggregateID:   auction.ID,
		Actor:         &outbox.ActorRef{Source: "settlement"},
		Data:          event,
	})
}
