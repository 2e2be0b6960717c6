package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

const (
	DefaultDir = "pkg/migrate/migrations"
	dialect    = "postgres"
)

// Embedded holds the schema so binaries can migrate without the source tree.
//
//go:embed migrations/*.sql
var Embedded embed.FS

const embeddedDir = "migrations"

// goose keeps its base filesystem and dialect in package state.
var gooseMu sync.Mutex

// Run executes a goose command. An empty dir reads the embedded migrations.
func Run(ctx context.Context, db *sql.DB, dir string, command string, args ...string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	return withSource(dir, func(source string) error {
		// RunContext prints status output to stdout (goose internal)
		if err := goose.RunContext(ctx, command, db, source, args...); err != nil {
			return fmt.Errorf("goose %s: %w", command, err)
		}
		return nil
	})
}

// MigrateToVersion migrates up or down to the requested version by comparing
// it with the current DB version.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, targetVersion string) error {
	if targetVersion == "" {
		return fmt.Errorf("targetVersion is required")
	}
	target, err := strconv.ParseInt(targetVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", targetVersion, err)
	}

	return withSource(dir, func(source string) error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		switch {
		case current == target:
			return nil
		case current < target:
			if err := goose.UpToContext(ctx, db, source, target); err != nil {
				return fmt.Errorf("goose up-to %d: %w", target, err)
			}
		default:
			if err := goose.DownToContext(ctx, db, source, target); err != nil {
				return fmt.Errorf("goose down-to %d: %w", target, err)
			}
		}
		return nil
	})
}

func withSource(dir string, fn func(source string) error) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	source := dir
	if dir == "" {
		goose.SetBaseFS(Embedded)
		defer goose.SetBaseFS(nil)
		source = embeddedDir
	}
	return fn(source)
}

// EmbeddedFS exposes the migration files rooted at the migrations directory.
func EmbeddedFS() fs.FS {
	sub, err := fs.Sub(Embedded, embeddedDir)
	if err != nil {
		panic(err)
	}
	return sub
}
