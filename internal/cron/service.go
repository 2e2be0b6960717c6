package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
	"github.com/angelmondragon/buttonbid-backend/pkg/metrics"
)

const defaultInterval = time.Minute

var (
	// ErrLocked reports that another worker is running the jobs right now.
	ErrLocked = errors.New("cron lock held by another worker")
	// ErrLeaseLost cancels a cycle whose lock expired or changed owner.
	ErrLeaseLost = errors.New("cron lease lost")
)

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs every registered job once per interval on whichever worker
// holds the lock. The lease is renewed while jobs run.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}
	svc := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: params.Interval,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	return svc, nil
}

// Run ticks until ctx is canceled. The first cycle starts immediately.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "scheduled run failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	return s.withLease(ctx, func(leaseCtx context.Context) error {
		for _, job := range s.registry.Jobs() {
			if err := leaseCtx.Err(); err != nil {
				return leaseErr(leaseCtx, err)
			}
			s.runJob(leaseCtx, job)
		}
		return nil
	}, func() {
		s.logg.Debug(ctx, "cron lock held elsewhere, skipping cycle")
		s.metrics.IncSkipped()
	})
}

// RunOnce executes one named job under the same lock as the loop and
// returns its error.
func (s *Service) RunOnce(ctx context.Context, name string) error {
	job := s.registry.Find(name)
	if job == nil {
		return fmt.Errorf("job %q not registered", name)
	}
	var locked bool
	err := s.withLease(ctx, func(leaseCtx context.Context) error {
		if err := s.runJob(leaseCtx, job); err != nil {
			return err
		}
		return leaseErr(leaseCtx, nil)
	}, func() { locked = true })
	if locked {
		return ErrLocked
	}
	return err
}

// withLease acquires the lock, runs fn with a context canceled when the lease
// cannot be renewed, and releases the lock afterwards. busy runs instead of
// fn when another worker owns the lock.
func (s *Service) withLease(ctx context.Context, fn func(context.Context) error, busy func()) error {
	won, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !won {
		busy()
		return nil
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.renewLease(leaseCtx, cancel)
	}()

	defer func() {
		cancel(nil)
		<-done
		// Release must run even when ctx was canceled by shutdown.
		relCtx, relCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer relCancel()
		if relErr := s.lock.Release(relCtx); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()
	return fn(leaseCtx)
}

func (s *Service) renewLease(ctx context.Context, cancel context.CancelCauseFunc) {
	every := s.lock.TTL() / 3
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := s.lock.Renew(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Transient redis errors are tolerated until the TTL runs out.
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cron lease renewal failed")
				continue
			}
			if !held {
				s.logg.Error(ctx, "cron lease lost, canceling running jobs", ErrLeaseLost)
				cancel(ErrLeaseLost)
				return
			}
		}
	}
}

func leaseErr(ctx context.Context, fallback error) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrLeaseLost) {
		return ErrLeaseLost
	}
	return fallback
}

func (s *Service) runJob(ctx context.Context, job Job) (err error) {
	name := job.Name()
	jobCtx := s.logg.WithJob(ctx, name)
	start := time.Now()
	s.logg.Debug(jobCtx, "job start")

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
			jobCtx = s.logg.WithField(jobCtx, "stack", string(debug.Stack()))
		}
		elapsed := time.Since(start)
		s.metrics.ObserveDuration(name, elapsed)
		jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
		if err != nil {
			s.logg.Error(jobCtx, "job failed", err)
			s.metrics.IncFailure(name)
			return
		}
		s.logg.Debug(jobCtx, "job completed")
		s.metrics.IncSuccess(name)
	}()

	return job.Run(jobCtx)
}
