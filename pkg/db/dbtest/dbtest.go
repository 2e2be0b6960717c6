// Package dbtest opens isolated in-memory databases carrying the full schema.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/buttonbid-backend/pkg/db"
	"github.com/angelmondragon/buttonbid-backend/pkg/db/models"
)

// Models lists every persisted model in migration order.
var Models = []any{
	&models.UserBalance{},
	&models.LedgerEntry{},
	&models.ClothingAuction{},
	&models.ClothingBid{},
	&models.ResaleAuction{},
	&models.ResaleBid{},
	&models.OutboxEvent{},
	&models.OutboxDLQ{},
	&models.Notification{},
}

// Open returns a fresh sqlite database private to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:buttonbid_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(Models...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

// OpenClient wraps Open in the shared db client.
func OpenClient(t *testing.T) (*gorm.DB, *db.Client) {
	t.Helper()
	conn := Open(t)
	return conn, db.NewFromConn(conn)
}
