package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/buttonbid-backend/internal/settlement"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

// SettlementJobName is the registry name of the auction settlement job.
const SettlementJobName = "settlement"

type settlementRunner interface {
	CloseExpiredAuctions(ctx context.Context, now time.Time) ([]settlement.Result, error)
}

type SettlementJobParams struct {
	Logger *logger.Logger
	Engine settlementRunner
}

// NewSettlementJob closes every auction whose bidding window has ended.
func NewSettlementJob(params SettlementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("settlement engine required")
	}
	return &settlementJob{
		logg:   params.Logger,
		engine: params.Engine,
		now:    time.Now,
	}, nil
}

type settlementJob struct {
	logg   *logger.Logger
	engine settlementRunner
	now    func() time.Time
}

func (j *settlementJob) Name() string { return SettlementJobName }

// Run reports per-auction failures as one combined error after the whole batch
// has been attempted.
func (j *settlementJob) Run(ctx context.Context) error {
	results, err := j.engine.CloseExpiredAuctions(ctx, j.now().UTC())
	if err != nil {
		return fmt.Errorf("close expired auctions: %w", err)
	}
	var errs []error
	settled := 0
	for _, result := range results {
		switch result.Outcome {
		case settlement.OutcomeFailed:
			errs = append(errs, fmt.Errorf("settle %s auction %s: %w", result.Kind, result.AuctionID, result.Err()))
		case settlement.OutcomeSold, settlement.OutcomeExpired:
			settled++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(results),
		"settled":    settled,
		"failed":     len(errs),
	})
	j.logg.Info(logCtx, "settlement sweep complete")
	return multierr.Combine(errs...)
}
