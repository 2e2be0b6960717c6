package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 7 * 24 * time.Hour
	outboxDeleteBatch      = 500
	outboxMaxBatches       = 20
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository outboxRetentionRepo
	Retention  time.Duration
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob prunes published feed rows older than the retention
// window. Rows still waiting for the relay are never touched.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		repo:      params.Repository,
		retention: params.Retention,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	repo      outboxRetentionRepo
	retention time.Duration
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, drained, err := j.sweep(ctx, cutoff)
	if err != nil {
		return err
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	})
	if drained {
		j.logg.Info(logCtx, "outbox retention cleanup complete")
	} else {
		j.logg.Warn(logCtx, "outbox retention hit batch cap, backlog remains")
	}
	return nil
}

// sweep deletes in bounded batches so a large backlog cannot hold row locks
// for long. drained is false when the batch cap stopped it early.
func (j *outboxRetentionJob) sweep(ctx context.Context, cutoff time.Time) (deleted int64, drained bool, err error) {
	for range outboxMaxBatches {
		if err := ctx.Err(); err != nil {
			return deleted, false, err
		}
		n, err := j.repo.DeletePublishedBefore(ctx, cutoff, outboxDeleteBatch)
		if err != nil {
			return deleted, false, fmt.Errorf("outbox retention after %d rows: %w", deleted, err)
		}
		deleted += n
		if n < outboxDeleteBatch {
			return deleted, true, nil
		}
	}
	return deleted, false, nil
}
