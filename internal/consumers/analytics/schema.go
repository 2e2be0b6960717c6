package analytics

import (
	"context"
	"fmt"

	cbigquery "cloud.google.com/go/bigquery"
)

const partitionField = "occurred_at"

type tableEnsurer interface {
	EnsureTable(ctx context.Context, name string, schema cbigquery.Schema, partitionField string) error
}

func requiredString(name string) *cbigquery.FieldSchema {
	return &cbigquery.FieldSchema{Name: name, Type: cbigquery.StringFieldType, Required: true}
}

func nullable(name string, typ cbigquery.FieldType) *cbigquery.FieldSchema {
	return &cbigquery.FieldSchema{Name: name, Type: typ}
}

// auctionEventSchema mirrors auctionEventRow.
func auctionEventSchema() cbigquery.Schema {
	return cbigquery.Schema{
		requiredString("event_id"),
		requiredString("event_type"),
		{Name: "occurred_at", Type: cbigquery.TimestampFieldType, Required: true},
		requiredString("auction_id"),
		requiredString("auction_kind"),
		nullable("actor_id", cbigquery.StringFieldType),
		nullable("status", cbigquery.StringFieldType),
		nullable("amount", cbigquery.StringFieldType),
		nullable("button_amount", cbigquery.IntegerFieldType),
		nullable("payload", cbigquery.JSONFieldType),
	}
}

// ledgerEventSchema mirrors ledgerEventRow.
func ledgerEventSchema() cbigquery.Schema {
	return cbigquery.Schema{
		requiredString("event_id"),
		requiredString("event_type"),
		{Name: "occurred_at", Type: cbigquery.TimestampFieldType, Required: true},
		requiredString("user_id"),
		requiredString("entry_kind"),
		{Name: "amount", Type: cbigquery.IntegerFieldType, Required: true},
		{Name: "balance", Type: cbigquery.IntegerFieldType, Required: true},
		nullable("payload", cbigquery.JSONFieldType),
	}
}

// EnsureTables creates the configured feed tables that do not exist yet.
func EnsureTables(ctx context.Context, ensurer tableEnsurer, tables Tables) error {
	if err := ensurer.EnsureTable(ctx, tables.Auctions, auctionEventSchema(), partitionField); err != nil {
		return fmt.Errorf("auction events table: %w", err)
	}
	if tables.Ledger == "" {
		return nil
	}
	if err := ensurer.EnsureTable(ctx, tables.Ledger, ledgerEventSchema(), partitionField); err != nil {
		return fmt.Errorf("ledger events table: %w", err)
	}
	return nil
}
