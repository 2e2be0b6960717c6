package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
	"github.com/angelmondragon/buttonbid-backend/pkg/enums"
	"github.com/angelmondragon/buttonbid-backend/pkg/pagination"
)

// Repository manages persistence for ledger entries and the balance projection.
// Entries are insert-only.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateBalance(ctx context.Context, balance *models.UserBalance) (bool, error)
	FindBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error)
	ApplyDelta(ctx context.Context, userID uuid.UUID, delta balanceDelta, now time.Time) (bool, error)
	InsertEntries(ctx context.Context, entries []models.LedgerEntry) error
	HasReference(ctx context.Context, userID uuid.UUID, kind enums.LedgerEntryKind, reference uuid.UUID) (bool, error)
	ListEntries(ctx context.Context, params listEntriesParams) ([]models.LedgerEntry, *pagination.Cursor, error)
	SumByKind(ctx context.Context, userID uuid.UUID) (map[enums.LedgerEntryKind]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

type balanceDelta struct {
	Balance int64
	Earned  int64
	Spent   int64
}

type listEntriesParams struct {
	UserID uuid.UUID
	Limit  int
	Cursor *pagination.Cursor
	Kind   *enums.LedgerEntryKind
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateBalance(ctx context.Context, balance *models.UserBalance) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(balance)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) FindBalance(ctx context.Context, userID uuid.UUID) (*models.UserBalance, error) {
	var balance models.UserBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// ApplyDelta moves the projection in a single conditional UPDATE. A negative
// balance delta only applies when the current balance covers it; the boolean
// result is false when no row matched.
func (r *repository) ApplyDelta(ctx context.Context, userID uuid.UUID, delta balanceDelta, now time.Time) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.UserBalance{}).
		Where("user_id = ?", userID)
	if delta.Balance < 0 {
		query = query.Where("button_balance >= ?", -delta.Balance)
	}

	result := query.Updates(map[string]any{
		"button_balance":       gorm.Expr("button_balance + ?", delta.Balance),
		"total_buttons_earned": gorm.Expr("total_buttons_earned + ?", delta.Earned),
		"total_buttons_spent":  gorm.Expr("total_buttons_spent + ?", delta.Spent),
		"updated_at":           now,
	})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) InsertEntries(ctx context.Context, entries []models.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&entries).Error
}

func (r *repository) HasReference(ctx context.Context, userID uuid.UUID, kind enums.LedgerEntryKind, reference uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("user_id = ? AND kind = ? AND reference_id = ?", userID, kind, reference).
		Count(&n).Error
	return n > 0, err
}

func (r *repository) ListEntries(ctx context.Context, params listEntriesParams) ([]models.LedgerEntry, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("user_id = ?", params.UserID)
	if params.Kind != nil {
		query = query.Where("kind = ?", *params.Kind)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var entries []models.LedgerEntry
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(params.Limit)).Find(&entries).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(entries, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return page, next, nil
}

func (r *repository) SumByKind(ctx context.Context, userID uuid.UUID) (map[enums.LedgerEntryKind]int64, error) {
	var rows []struct {
		Kind  enums.LedgerEntryKind
		Total int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("kind, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ?", userID).
		Group("kind").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	sums := make(map[enums.LedgerEntryKind]int64, len(rows))
	for _, row := range rows {
		sums[row.Kind] = row.Total
	}
	return sums, nil
}
