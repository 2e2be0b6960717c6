package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/buttonbid-backend/pkg/errors"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var errDSNRequired = errors.New("database DSN is required")

// Client owns the pooled GORM connection shared by repositories.
type Client struct {
	gdb *gorm.DB
}

// New opens the configured database, applies pool limits and wires the
// zerolog query logger.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverPostgres
	}
	dialector, err := openDialector(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQueryThreshold, cfg.LogQueries),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	pool, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("sql handle: %w", err)
	}
	applyPoolLimits(pool, cfg)

	if logg != nil {
		logg.Info(logg.WithField(ctx, "driver", driver), "database connection established")
	}
	return &Client{gdb: gdb}, nil
}

// NewFromConn wraps a connection opened elsewhere, typically by tests.
func NewFromConn(gdb *gorm.DB) *Client {
	return &Client{gdb: gdb}
}

func openDialector(driver, dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, errDSNRequired
	}
	switch driver {
	case DriverPostgres:
		return postgres.New(postgres.Config{DSN: dsn, PreferSimpleProtocol: true}), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

// applyPoolLimits leaves database/sql defaults in place for zero values.
func applyPoolLimits(pool *sql.DB, cfg config.DBConfig) {
	if n := cfg.MaxOpenConns; n > 0 {
		pool.SetMaxOpenConns(n)
	}
	if n := cfg.MaxIdleConns; n > 0 {
		pool.SetMaxIdleConns(n)
	}
	if d := cfg.ConnMaxLifetime; d > 0 {
		pool.SetConnMaxLifetime(d)
	}
	if d := cfg.ConnMaxIdleTime; d > 0 {
		pool.SetConnMaxIdleTime(d)
	}
}

func (c *Client) DB() *gorm.DB {
	return c.gdb
}

func (c *Client) Ping(ctx context.Context) error {
	pool, err := c.gdb.DB()
	if err != nil {
		return err
	}
	return pool.PingContext(ctx)
}

func (c *Client) Close() error {
	pool, err := c.gdb.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// WithTx runs fn in one transaction. It rolls back when fn errors or panics
// and reports serialization failures and deadlocks as STORAGE_CONFLICT so
// callers can retry the whole unit.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := c.gdb.WithContext(ctx).Transaction(fn)
	if err == nil || pkgerrors.As(err) != nil || !IsSerializationFailure(err) {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeStorageConflict, err, "transaction conflicted with a concurrent writer")
}
