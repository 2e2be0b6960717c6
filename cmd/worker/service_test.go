package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

type stubPinger struct {
	failures int32
	err      error
	calls    atomic.Int32
}

func (s *stubPinger) Ping(context.Context) error {
	n := s.calls.Add(1)
	if s.err != nil && (s.failures == 0 || n <= s.failures) {
		return s.err
	}
	return nil
}

type stubConsumer struct {
	err   error
	ran   atomic.Bool
	block bool
}

func (s *stubConsumer) Run(ctx context.Context) error {
	s.ran.Store(true)
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

func newWorkerService(t *testing.T, deps map[string]pinger, consumers map[string]consumerRunner) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Config:           &config.Config{},
		Logger:           logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		Dependencies:     deps,
		Consumers:        consumers,
		ReadinessBackoff: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRunStopsWhenDependencyStaysDown(t *testing.T) {
	redis := &stubPinger{err: errors.New("connection refused")}
	db := &stubPinger{}
	consumer := &stubConsumer{}
	svc := newWorkerService(t,
		map[string]pinger{"database": db, "redis": redis},
		map[string]consumerRunner{"notifications": consumer},
	)

	err := svc.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "redis ping failed") {
		t.Fatalf("expected readiness failure, got %v", err)
	}
	if consumer.ran.Load() {
		t.Fatal("consumer must not start before dependencies are ready")
	}
	if got := redis.calls.Load(); got != readinessAttempts {
		t.Fatalf("expected %d redis attempts, got %d", readinessAttempts, got)
	}
	if got := db.calls.Load(); got != 1 {
		t.Fatalf("healthy dependency should be pinged once, got %d", got)
	}
}

func TestRunToleratesSlowDependency(t *testing.T) {
	db := &stubPinger{err: errors.New("starting up"), failures: 2}
	consumer := &stubConsumer{}
	svc := newWorkerService(t,
		map[string]pinger{"database": db},
		map[string]consumerRunner{"notifications": consumer},
	)

	if err := svc.Run(context.Background()); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if !consumer.ran.Load() {
		t.Fatal("consumer should start once the database answers")
	}
}

func TestRunReturnsConsumerErrorAndStopsSiblings(t *testing.T) {
	failing := &stubConsumer{err: errors.New("subscription deleted")}
	sibling := &stubConsumer{block: true}
	svc := newWorkerService(t, nil, map[string]consumerRunner{
		"notifications": failing,
		"audit":         sibling,
	})

	done := make(chan error, 1)
	go func() { done <- svc.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "subscription deleted") {
			t.Fatalf("expected consumer error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failing consumer should stop the worker")
	}
	if !sibling.ran.Load() {
		t.Fatal("sibling consumer should have started")
	}
}

func TestNewServiceRequiresConsumer(t *testing.T) {
	_, err := NewService(ServiceParams{
		Config:       &config.Config{},
		Logger:       logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		Dependencies: map[string]pinger{"database": &stubPinger{}},
	})
	if err == nil {
		t.Fatal("expected missing consumer to fail")
	}
}
