package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
)

const (
	maxLastErrorLen   = 1024
	defaultPruneBatch = 500
	pendingCond       = "published_at IS NULL"
)

var errTxRequired = errors.New("outbox: transaction required")

// Repository reads and writes outbox_events. Every write that belongs to a
// domain change takes the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish claims the oldest pending rows for this publisher.
// Concurrent publishers skip rows another transaction already holds.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	query := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where(pendingCond)
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.OutboxEvent
	err := query.Order("created_at ASC").Order("id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID, now time.Time) error {
	return setColumns(tx, id, map[string]any{"published_at": now, "last_error": nil})
}

// MarkFailedTx leaves the row pending and burns one attempt.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error {
	return setColumns(tx, id, failure(err))
}

// MarkTerminalTx takes a row out of the publish loop once it has been copied to the DLQ.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, now time.Time, err error) error {
	cols := failure(err)
	cols["published_at"] = now
	return setColumns(tx, id, cols)
}

func failure(err error) map[string]any {
	return map[string]any{
		"last_error":    truncateError(err.Error()),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	}
}

func setColumns(tx *gorm.DB, id uuid.UUID, cols map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(cols).Error
}

// DeletePublishedBefore prunes delivered rows older than the cutoff, at most limit per call.
func (r *Repository) DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = defaultPruneBatch
	}
	db := r.db.WithContext(ctx)
	oldest := db.Model(&models.OutboxEvent{}).
		Select("id").
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Order("published_at ASC").
		Limit(limit)
	res := db.Where("id IN (?)", oldest).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// ListByAggregate returns an aggregate's events in emit order.
func (r *Repository) ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("aggregate_id = ?", aggregateID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func truncateError(message string) string {
	if len(message) > maxLastErrorLen {
		return message[:maxLastErrorLen]
	}
	return message
}
