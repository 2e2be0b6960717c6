package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

const (
	defaultReadNotificationRetention   = 7 * 24 * time.Hour
	defaultUnreadNotificationRetention = 30 * 24 * time.Hour
)

type NotificationCleanupJobParams struct {
	Logger          *logger.Logger
	DB              txRunner
	Repository      notificationsCleanupRepo
	ReadRetention   time.Duration
	UnreadRetention time.Duration
}

// txRunner is satisfied by *db.Client.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type notificationsCleanupRepo interface {
	DeleteReadBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
	DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewNotificationCleanupJob removes read notifications after a short window
// and any notification after the longer one.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	read := params.ReadRetention
	if read <= 0 {
		read = defaultReadNotificationRetention
	}
	unread := params.UnreadRetention
	if unread <= 0 {
		unread = defaultUnreadNotificationRetention
	}
	if unread < read {
		unread = read
	}
	return &notificationCleanupJob{
		logg:   params.Logger,
		db:     params.DB,
		repo:   params.Repository,
		read:   read,
		unread: unread,
		now:    time.Now,
	}, nil
}

type notificationCleanupJob struct {
	logg   *logger.Logger
	db     txRunner
	repo   notificationsCleanupRepo
	read   time.Duration
	unread time.Duration
	now    func() time.Time
}

func (j *notificationCleanupJob) Name() string { return "notification-cleanup" }

func (j *notificationCleanupJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	readCutoff := now.Add(-j.read)
	unreadCutoff := now.Add(-j.unread)
	var readDeleted, staleDeleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if readDeleted, err = j.repo.DeleteReadBefore(ctx, tx, readCutoff); err != nil {
			return err
		}
		staleDeleted, err = j.repo.DeleteOlderThan(ctx, tx, unreadCutoff)
		return err
	})
	if err != nil {
		return fmt.Errorf("notification cleanup: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"read_cutoff":   readCutoff,
		"unread_cutoff": unreadCutoff,
		"read_deleted":  readDeleted,
		"stale_deleted": staleDeleted,
	})
	j.logg.Info(logCtx, "notification cleanup complete")
	return nil
}
