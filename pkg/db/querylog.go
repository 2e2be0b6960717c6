package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

// queryLogger routes gorm's statement log through the service logger. Only
// slow statements and unexpected errors are reported unless verbose is set.
type queryLogger struct {
	logg    *logger.Logger
	slow    time.Duration
	verbose bool
}

func newQueryLogger(logg *logger.Logger, slow time.Duration, verbose bool) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slow: slow, verbose: verbose}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *q
	clone.verbose = level >= gormlogger.Info
	return &clone
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	q.logg.Debug(ctx, fmt.Sprintf(msg, args...))
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	q.logg.Warn(ctx, fmt.Sprintf(msg, args...))
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	q.logg.Error(ctx, fmt.Sprintf(msg, args...), nil)
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	slow := q.slow > 0 && elapsed > q.slow
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)
	if !slow && !failed && !q.verbose {
		return
	}

	sql, rows := fc()
	ctx = q.logg.WithFields(ctx, map[string]any{
		"sql":         sql,
		"rows":        rows,
		"duration_ms": elapsed.Milliseconds(),
	})
	switch {
	case failed && !IsSerializationFailure(err):
		q.logg.Error(ctx, "query failed", err)
	case failed:
		// conflicts are surfaced to callers as STORAGE_CONFLICT
		q.logg.Debug(ctx, "query aborted by concurrent writer")
	case slow:
		q.logg.Warn(ctx, "slow query")
	default:
		q.logg.Debug(ctx, "query")
	}
}
