package analytics

import (
	"context"
	"reflect"
	"strings"
	"testing"

	cbigquery "cloud.google.com/go/bigquery"
)

type recordingEnsurer struct {
	tables map[string]cbigquery.Schema
}

func (r *recordingEnsurer) EnsureTable(_ context.Context, name string, schema cbigquery.Schema, partition string) error {
	if partition != "occurred_at" {
		return nil
	}
	r.tables[name] = schema
	return nil
}

func TestSchemasMatchRowTags(t *testing.T) {
	for _, tc := range []struct {
		row    any
		schema cbigquery.Schema
	}{
		{auctionEventRow{}, auctionEventSchema()},
		{ledgerEventRow{}, ledgerEventSchema()},
	} {
		rt := reflect.TypeOf(tc.row)
		if rt.NumField() != len(tc.schema) {
			t.Fatalf("%s: %d fields but %d columns", rt.Name(), rt.NumField(), len(tc.schema))
		}
		for i := 0; i < rt.NumField(); i++ {
			tag := strings.Split(rt.Field(i).Tag.Get("bigquery"), ",")[0]
			if tag != tc.schema[i].Name {
				t.Fatalf("%s: field %d tagged %q but column is %q", rt.Name(), i, tag, tc.schema[i].Name)
			}
		}
	}
}

func TestEnsureTablesSkipsUnsetLedgerTable(t *testing.T) {
	ensurer := &recordingEnsurer{tables: map[string]cbigquery.Schema{}}
	if err := EnsureTables(context.Background(), ensurer, Tables{Auctions: "auction_events"}); err != nil {
		t.Fatalf("EnsureTables() error: %v", err)
	}
	if len(ensurer.tables) != 1 || ensurer.tables["auction_events"] == nil {
		t.Fatalf("expected only the auction table, got %v", ensurer.tables)
	}

	ensurer = &recordingEnsurer{tables: map[string]cbigquery.Schema{}}
	if err := EnsureTables(context.Background(), ensurer, Tables{Auctions: "a", Ledger: "l"}); err != nil {
		t.Fatalf("EnsureTables() error: %v", err)
	}
	if len(ensurer.tables) != 2 {
		t.Fatalf("expected both tables, got %d", len(ensurer.tables))
	}
}
