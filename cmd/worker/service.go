package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

const (
	heartbeatInterval = 30 * time.Second
	readinessAttempts = 5
	readinessBackoff  = 2 * time.Second
)

type pinger interface {
	Ping(ctx context.Context) error
}

type consumerRunner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config *config.Config
	Logger *logger.Logger
	// Dependencies are pinged before any consumer starts.
	Dependencies map[string]pinger
	Consumers    map[string]consumerRunner
	// ReadinessBackoff overrides the wait between readiness attempts.
	ReadinessBackoff time.Duration
}

// Service waits for its dependencies and then runs every feed consumer in
// the process. The first consumer to fail stops the others.
type Service struct {
	cfg       *config.Config
	logg      *logger.Logger
	deps      map[string]pinger
	consumers map[string]consumerRunner
	backoff   time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case len(params.Consumers) == 0:
		return nil, errors.New("at least one consumer is required")
	}
	for name, dep := range params.Dependencies {
		if dep == nil {
			return nil, fmt.Errorf("%s client is required", name)
		}
	}
	for name, consumer := range params.Consumers {
		if consumer == nil {
			return nil, fmt.Errorf("%s consumer is required", name)
		}
	}
	backoff := params.ReadinessBackoff
	if backoff <= 0 {
		backoff = readinessBackoff
	}
	return &Service{
		cfg:       params.Config,
		logg:      params.Logger,
		deps:      params.Dependencies,
		consumers: params.Consumers,
		backoff:   backoff,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.awaitReady(ctx); err != nil {
		return err
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go s.heartbeat(hbCtx)

	group, groupCtx := errgroup.WithContext(ctx)
	for _, name := range sortedKeys(s.consumers) {
		consumer := s.consumers[name]
		consumerCtx := s.logg.WithField(groupCtx, "consumer", name)
		group.Go(func() error {
			s.logg.Info(consumerCtx, "consumer started")
			if err := consumer.Run(consumerCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logg.Error(consumerCtx, "consumer stopped unexpectedly", err)
				return fmt.Errorf("%s consumer: %w", name, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// awaitReady pings every dependency, retrying the failing ones a few times
// so the worker survives a slow-starting database or redis.
func (s *Service) awaitReady(ctx context.Context) error {
	pending := sortedKeys(s.deps)
	for attempt := 1; ; attempt++ {
		var failed []string
		var lastErr error
		for _, name := range pending {
			if err := s.deps[name].Ping(ctx); err != nil {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"dependency": name,
					"attempt":    attempt,
					"error":      err.Error(),
				}), "dependency not ready")
				failed = append(failed, name)
				lastErr = fmt.Errorf("%s ping failed: %w", name, err)
			}
		}
		if len(failed) == 0 {
			s.logg.Info(ctx, "all worker dependencies are ready")
			return nil
		}
		if attempt >= readinessAttempts {
			return lastErr
		}
		pending = failed
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.backoff):
		}
	}
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logg.Debug(ctx, "worker heartbeat")
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
