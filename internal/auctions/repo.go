package auctions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/pagination"
)

// Repository persists clothing and resale auctions with their bids. Every
// state change on an auction row is a compare-and-set keyed by version.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateClothing(ctx context.Context, auction *models.ClothingAuction) error
	CreateResale(ctx context.Context, auction *models.ResaleAuction) error
	FindClothing(ctx context.Context, id uuid.UUID) (*models.ClothingAuction, error)
	FindResale(ctx context.Context, id uuid.UUID) (*models.ResaleAuction, error)

	SetClothingLeader(ctx context.Context, update ClothingLeaderUpdate) (bool, error)
	SetResaleLeader(ctx context.Context, update ResaleLeaderUpdate) (bool, error)
	TransitionClothing(ctx context.Context, transition StatusTransition) (bool, error)
	TransitionResale(ctx context.Context, transition StatusTransition) (bool, error)

	InsertClothingBid(ctx context.Context, bid *models.ClothingBid) error
	InsertResaleBid(ctx context.Context, bid *models.ResaleBid) error
	FindActiveClothingBid(ctx context.Context, auctionID uuid.UUID) (*models.ClothingBid, error)
	FindActiveResaleBid(ctx context.Context, auctionID uuid.UUID) (*models.ResaleBid, error)
	UpdateClothingBidStatus(ctx context.Context, bidID uuid.UUID, from, to enums.BidStatus) (bool, error)
	UpdateResaleBidStatus(ctx context.Context, bidID uuid.UUID, from, to enums.BidStatus) (bool, error)
	CancelActiveClothingBids(ctx context.Context, auctionID uuid.UUID) (int64, error)
	CancelActiveResaleBids(ctx context.Context, auctionID uuid.UUID) (int64, error)
	ListClothingBids(ctx context.Context, auctionID uuid.UUID) ([]models.ClothingBid, error)
	ListResaleBids(ctx context.Context, auctionID uuid.UUID) ([]models.ResaleBid, error)

	ListActiveClothing(ctx context.Context, filter ListFilter) ([]models.ClothingAuction, *pagination.Cursor, error)
	ListActiveResale(ctx context.Context, filter ListFilter) ([]models.ResaleAuction, *pagination.Cursor, error)
	ListExpiredClothing(ctx context.Context, query DueQuery) ([]models.ClothingAuction, error)
	ListExpiredResale(ctx context.Context, query DueQuery) ([]models.ResaleAuction, error)
	ListClothingByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.ClothingAuction, error)
	ListResaleBySeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.ResaleAuction, error)
	ListClothingBidsByBidder(ctx context.Context, bidderID uuid.UUID, status enums.BidStatus, limit int) ([]models.ClothingBid, error)
	ListResaleBidsByBidder(ctx context.Context, bidderID uuid.UUID, status enums.BidStatus, limit int) ([]models.ResaleBid, error)
}

// ClothingLeaderUpdate installs a new leader when the auction is still at
// ExpectedVersion, active, and before its deadline.
type ClothingLeaderUpdate struct {
	AuctionID       uuid.UUID
	ExpectedVersion int64
	Amount          int64
	BidderID        uuid.UUID
	Now             time.Time
}

type ResaleLeaderUpdate struct {
	AuctionID       uuid.UUID
	ExpectedVersion int64
	AmountUSD       decimal.Decimal
	BidderID        uuid.UUID
	Now             time.Time
}

// StatusTransition moves an active auction to a terminal status. When
// RequireElapsed is set the deadline must have passed at Now.
type StatusTransition struct {
	AuctionID       uuid.UUID
	ExpectedVersion int64
	To              enums.AuctionStatus
	Now             time.Time
	RequireElapsed  bool
}

// DueMark is the last auction a settlement page returned.
type DueMark struct {
	EndsAt time.Time
	ID     uuid.UUID
}

// DueQuery pages active auctions whose deadline passed at Now, ordered by
// deadline then id. After resumes strictly past the previous page.
type DueQuery struct {
	Now   time.Time
	After *DueMark
	Limit int
}

// ListFilter narrows active-auction listings.
type ListFilter struct {
	OwnerID        *uuid.UUID
	ExcludeOwnerID *uuid.UUID
	MinPrice       *decimal.Decimal
	MaxPrice       *decimal.Decimal
	EndingBefore   *time.Time
	Now            time.Time
	Limit          int
	Cursor         *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an auctions repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateClothing(ctx context.Context, auction *models.ClothingAuction) error {
	return r.db.WithContext(ctx).Create(auction).Error
}

func (r *repository) CreateResale(ctx context.Context, auction *models.ResaleAuction) error {
	return r.db.WithContext(ctx).Create(auction).Error
}

func (r *repository) FindClothing(ctx context.Context, id uuid.UUID) (*models.ClothingAuction, error) {
	var auction models.ClothingAuction
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&auction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &auction, nil
}

func (r *repository) FindResale(ctx context.Context, id uuid.UUID) (*models.ResaleAuction, error) {
	var auction models.ResaleAuction
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&auction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &auction, nil
}

func (r *repository) SetClothingLeader(ctx context.Context, update ClothingLeaderUpdate) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ClothingAuction{}).
		Where("id = ? AND version = ? AND status = ? AND bidding_ends_at > ?",
			update.AuctionID, update.ExpectedVersion, enums.AuctionStatusActive, update.Now).
		Where("current_highest_bid < ?", update.Amount).
		Updates(map[string]any{
			"current_highest_bid": update.Amount,
			"highest_bidder_id":   update.BidderID,
			"bid_count":           gorm.Expr("bid_count + 1"),
			"version":             gorm.Expr("version + 1"),
			"updated_at":          update.Now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) SetResaleLeader(ctx context.Context, update ResaleLeaderUpdate) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.ResaleAuction{}).
		Where("id = ? AND version = ? AND status = ? AND bidding_ends_at > ?",
			update.AuctionID, update.ExpectedVersion, enums.AuctionStatusActive, update.Now).
		Updates(map[string]any{
			"current_highest_bid_usd": update.AmountUSD,
			"highest_bidder_id":       update.BidderID,
			"bid_count":               gorm.Expr("bid_count + 1"),
			"version":                 gorm.Expr("version + 1"),
			"updated_at":              update.Now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) TransitionClothing(ctx context.Context, transition StatusTransition) (bool, error) {
	return r.transition(ctx, &models.ClothingAuction{}, transition)
}

func (r *repository) TransitionResale(ctx context.Context, transition StatusTransition) (bool, error) {
	return r.transition(ctx, &models.ResaleAuction{}, transition)
}

func (r *repository) transition(ctx context.Context, model any, transition StatusTransition) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND version = ? AND status = ?",
			transition.AuctionID, transition.ExpectedVersion, enums.AuctionStatusActive)
	if transition.RequireElapsed {
		query = query.Where("bidding_ends_at <= ?", transition.Now)
	}
	result := query.Updates(map[string]any{
		"status":     transition.To,
		"version":    gorm.Expr("version + 1"),
		"updated_at": transition.Now,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) InsertClothingBid(ctx context.Context, bid *models.ClothingBid) error {
	return r.db.WithContext(ctx).Create(bid).Error
}

func (r *repository) InsertResaleBid(ctx context.Context, bid *models.ResaleBid) error {
	return r.db.WithContext(ctx).Create(bid).Error
}

func (r *repository) FindActiveClothingBid(ctx context.Context, auctionID uuid.UUID) (*models.ClothingBid, error) {
	var bid models.ClothingBid
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND status = ?", auctionID, enums.BidStatusActive).
		Order("amount DESC").
		Take(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (r *repository) FindActiveResaleBid(ctx context.Context, auctionID uuid.UUID) (*models.ResaleBid, error) {
	var bid models.ResaleBid
	err := r.db.WithContext(ctx).
		Where("auction_id = ? AND status = ?", auctionID, enums.BidStatusActive).
		Order("created_at DESC").
		Take(&bid).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bid, nil
}

func (r *repository) UpdateClothingBidStatus(ctx context.Context, bidID uuid.UUID, from, to enums.BidStatus) (bool, error) {
	return r.updateBidStatus(ctx, &models.ClothingBid{}, bidID, from, to)
}

func (r *repository) UpdateResaleBidStatus(ctx context.Context, bidID uuid.UUID, from, to enums.BidStatus) (bool, error) {
	return r.updateBidStatus(ctx, &models.ResaleBid{}, bidID, from, to)
}

func (r *repository) updateBidStatus(ctx context.Context, model any, bidID uuid.UUID, from, to enums.BidStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(model).
		Where("id = ? AND status = ?", bidID, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) CancelActiveClothingBids(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	return r.cancelActiveBids(ctx, &models.ClothingBid{}, auctionID)
}

func (r *repository) CancelActiveResaleBids(ctx context.Context, auctionID uuid.UUID) (int64, error) {
	return r.cancelActiveBids(ctx, &models.ResaleBid{}, auctionID)
}

func (r *repository) cancelActiveBids(ctx context.Context, model any, auctionID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(model).
		Where("auction_id = ? AND status = ?", auctionID, enums.BidStatusActive).
		Updates(map[string]any{"status": enums.BidStatusCancelled, "updated_at": time.Now().UTC()})
	return result.RowsAffected, result.Error
}

func (r *repository) ListClothingBids(ctx context.Context, auctionID uuid.UUID) ([]models.ClothingBid, error) {
	var bids []models.ClothingBid
	err := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&bids).Error
	return bids, err
}

func (r *repository) ListResaleBids(ctx context.Context, auctionID uuid.UUID) ([]models.ResaleBid, error) {
	var bids []models.ResaleBid
	err := r.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&bids).Error
	return bids, err
}

func (r *repository) activeQuery(ctx context.Context, model any, ownerColumn string, filter ListFilter) *gorm.DB {
	query := r.db.WithContext(ctx).
		Model(model).
		Where("status = ? AND bidding_ends_at > ?", enums.AuctionStatusActive, filter.Now)
	if filter.OwnerID != nil {
		query = query.Where(ownerColumn+" = ?", *filter.OwnerID)
	}
	if filter.ExcludeOwnerID != nil {
		query = query.Where(ownerColumn+" <> ?", *filter.ExcludeOwnerID)
	}
	if filter.EndingBefore != nil {
		query = query.Where("bidding_ends_at <= ?", *filter.EndingBefore)
	}
	if filter.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", filter.Cursor.CreatedAt, filter.Cursor.ID)
	}
	return query.Order("created_at DESC, id DESC")
}

func (r *repository) ListActiveClothing(ctx context.Context, filter ListFilter) ([]models.ClothingAuction, *pagination.Cursor, error) {
	query := r.activeQuery(ctx, &models.ClothingAuction{}, "owner_id", filter)
	if filter.MinPrice != nil {
		query = query.Where("CASE WHEN current_highest_bid > 0 THEN current_highest_bid ELSE minimum_price END >= ?", filter.MinPrice.IntPart())
	}
	if filter.MaxPrice != nil {
		query = query.Where("CASE WHEN current_highest_bid > 0 THEN current_highest_bid ELSE minimum_price END <= ?", filter.MaxPrice.IntPart())
	}

	var rows []models.ClothingAuction
	if err := query.Limit(pagination.LimitWithBuffer(filter.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, filter.Limit, func(a models.ClothingAuction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	return page, next, nil
}

func (r *repository) ListActiveResale(ctx context.Context, filter ListFilter) ([]models.ResaleAuction, *pagination.Cursor, error) {
	query := r.activeQuery(ctx, &models.ResaleAuction{}, "seller_id", filter)
	if filter.MinPrice != nil {
		query = query.Where("(current_highest_bid_usd > 0 AND current_highest_bid_usd >= ?) OR (current_highest_bid_usd = 0 AND minimum_price_usd >= ?)",
			*filter.MinPrice, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		query = query.Where("(current_highest_bid_usd > 0 AND current_highest_bid_usd <= ?) OR (current_highest_bid_usd = 0 AND minimum_price_usd <= ?)",
			*filter.MaxPrice, *filter.MaxPrice)
	}

	var rows []models.ResaleAuction
	if err := query.Limit(pagination.LimitWithBuffer(filter.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, filter.Limit, func(a models.ResaleAuction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
	})
	return page, next, nil
}

func (r *repository) ListExpiredClothing(ctx context.Context, query DueQuery) ([]models.ClothingAuction, error) {
	var rows []models.ClothingAuction
	err := r.dueQuery(ctx, query).Find(&rows).Error
	return rows, err
}

func (r *repository) ListExpiredResale(ctx context.Context, query DueQuery) ([]models.ResaleAuction, error) {
	var rows []models.ResaleAuction
	err := r.dueQuery(ctx, query).Find(&rows).Error
	return rows, err
}

func (r *repository) dueQuery(ctx context.Context, query DueQuery) *gorm.DB {
	q := r.db.WithContext(ctx).
		Where("status = ? AND bidding_ends_at <= ?", enums.AuctionStatusActive, query.Now)
	if query.After != nil {
		q = q.Where("bidding_ends_at > ? OR (bidding_ends_at = ? AND id > ?)",
			query.After.EndsAt, query.After.EndsAt, query.After.ID)
	}
	return q.Order("bidding_ends_at ASC").Order("id ASC").Limit(normalizeBatch(query.Limit))
}

func (r *repository) ListClothingByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.ClothingAuction, error) {
	var rows []models.ClothingAuction
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListResaleBySeller(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.ResaleAuction, error) {
	var rows []models.ResaleAuction
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListClothingBidsByBidder(ctx context.Context, bidderID uuid.UUID, status enums.BidStatus, limit int) ([]models.ClothingBid, error) {
	var rows []models.ClothingBid
	err := r.db.WithContext(ctx).
		Where("bidder_id = ? AND status = ?", bidderID, status).
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListResaleBidsByBidder(ctx context.Context, bidderID uuid.UUID, status enums.BidStatus, limit int) ([]models.ResaleBid, error) {
	var rows []models.ResaleBid
	err := r.db.WithContext(ctx).
		Where("bidder_id = ? AND status = ?", bidderID, status).
		Order("created_at DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&rows).Error
	return rows, err
}

func normalizeBatch(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
