package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

func TestNotificationCleanupJobUsesBothWindows(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	repo := &fakeNotificationRepo{}
	job := newNotificationCleanupJob(t, repo, NotificationCleanupJobParams{})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-defaultReadNotificationRetention); !repo.readCutoff.Equal(want) {
		t.Fatalf("expected read cutoff %s, got %s", want, repo.readCutoff)
	}
	if want := now.Add(-defaultUnreadNotificationRetention); !repo.staleCutoff.Equal(want) {
		t.Fatalf("expected stale cutoff %s, got %s", want, repo.staleCutoff)
	}
}

func TestNotificationCleanupJobClampsUnreadWindow(t *testing.T) {
	repo := &fakeNotificationRepo{}
	job := newNotificationCleanupJob(t, repo, NotificationCleanupJobParams{
		ReadRetention:   48 * time.Hour,
		UnreadRetention: time.Hour,
	})
	if job.unread != 48*time.Hour {
		t.Fatalf("expected unread window clamped to read window, got %s", job.unread)
	}
}

func TestNotificationCleanupJobPropagatesErrors(t *testing.T) {
	repo := &fakeNotificationRepo{err: errors.New("boom")}
	job := newNotificationCleanupJob(t, repo, NotificationCleanupJobParams{})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func newNotificationCleanupJob(t *testing.T, repo *fakeNotificationRepo, params NotificationCleanupJobParams) *notificationCleanupJob {
	t.Helper()
	params.Logger = logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	params.DB = fakeTxRunner{}
	params.Repository = repo
	jobIface, err := NewNotificationCleanupJob(params)
	if err != nil {
		t.Fatalf("NewNotificationCleanupJob: %v", err)
	}
	job, ok := jobIface.(*notificationCleanupJob)
	if !ok {
		t.Fatalf("expected notificationCleanupJob, got %T", jobIface)
	}
	return job
}

type fakeNotificationRepo struct {
	readCutoff  time.Time
	staleCutoff time.Time
	err         error
}

func (f *fakeNotificationRepo) DeleteReadBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.readCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f *fakeNotificationRepo) DeleteOlderThan(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.staleCutoff = cutoff
	return 1, nil
}

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
