package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/angelmondragon/buttonbid-backend/pkg/config"
	"github.com/angelmondragon/buttonbid-backend/pkg/logger"
)

// metadataTimeout bounds each dataset or table lookup.
const metadataTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// FeedTables names the tables the analytics consumer streams into.
type FeedTables struct {
	Auction string
	Ledger  string
}

func (t FeedTables) names() []string {
	var out []string
	for _, name := range []string{t.Auction, t.Ledger} {
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

// Client is a dataset-scoped BigQuery handle for feed analytics.
type Client struct {
	bq     *bigquery.Client
	ds     *bigquery.Dataset
	tables FeedTables
}

// NewClient dials BigQuery and fails when the configured dataset is missing.
// Tables are created lazily through EnsureTable.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	dataset := strings.TrimSpace(cfg.Dataset)
	tables := feedTables(cfg)
	switch {
	case project == "":
		return nil, errProjectIDRequired
	case dataset == "":
		return nil, errDatasetRequired
	case len(tables.names()) == 0:
		return nil, errTableNameRequired
	}

	bq, err := bigquery.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{bq: bq, ds: bq.Dataset(dataset), tables: tables}
	if err := c.checkDataset(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project": project,
			"dataset": dataset,
		}), "bigquery client ready")
	}
	return c, nil
}

// clientOptions prefers inline credentials over a credentials file and
// otherwise falls back to application default credentials.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func feedTables(cfg config.BigQueryConfig) FeedTables {
	return FeedTables{
		Auction: strings.TrimSpace(cfg.AuctionEventsTable),
		Ledger:  strings.TrimSpace(cfg.LedgerEventsTable),
	}
}

func (c *Client) ready() bool {
	return c != nil && c.bq != nil && c.ds != nil
}

func (c *Client) checkDataset(ctx context.Context) error {
	if !c.ready() {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	_, err := c.ds.Metadata(ctx)
	switch {
	case err == nil:
		return nil
	case isNotFound(err):
		return fmt.Errorf("dataset %q does not exist", c.ds.DatasetID)
	default:
		return fmt.Errorf("checking dataset %q: %w", c.ds.DatasetID, err)
	}
}

// EnsureTable creates name with schema if it is missing. New tables are
// clustered on event_type and, when partitionField is set, day-partitioned
// on it. An existing table is left untouched.
func (c *Client) EnsureTable(ctx context.Context, name string, schema bigquery.Schema, partitionField string) error {
	if !c.ready() {
		return errClientNotInitialized
	}
	if name = strings.TrimSpace(name); name == "" {
		return errTableNameRequired
	}
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	table := c.ds.Table(name)
	if _, err := table.Metadata(ctx); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("checking table %q: %w", name, err)
	}

	meta := &bigquery.TableMetadata{
		Schema:     schema,
		Clustering: &bigquery.Clustering{Fields: []string{"event_type"}},
	}
	if partitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: partitionField}
	}
	// another worker may have won the race to create it
	if err := table.Create(ctx, meta); err != nil && !isConflict(err) {
		return fmt.Errorf("creating table %q: %w", name, err)
	}
	return nil
}

// Ping checks the dataset and every feed table.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.checkDataset(ctx); err != nil {
		return err
	}
	for _, name := range c.tables.names() {
		if _, err := c.ds.Table(name).Metadata(ctx); err != nil {
			return fmt.Errorf("checking table %q: %w", name, err)
		}
	}
	return nil
}

// InsertRows streams rows into table. Rows that implement
// bigquery.ValueSaver pick their own insert IDs, so a redelivered feed event
// is dropped by the streaming API.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if !c.ready() {
		return errClientNotInitialized
	}
	if table = strings.TrimSpace(table); table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}

	err := c.ds.Table(table).Inserter().Put(ctx, rows)
	var rejected bigquery.PutMultiError
	if errors.As(err, &rejected) {
		return fmt.Errorf("%s rejected %d of %d rows: %w", table, len(rejected), len(rows), rejected)
	}
	return err
}

// AuctionEventsTable is where auction feed rows land.
func (c *Client) AuctionEventsTable() string { return c.tables.Auction }

// LedgerEventsTable is where ledger feed rows land.
func (c *Client) LedgerEventsTable() string { return c.tables.Ledger }

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

func isNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

func isConflict(err error) bool { return hasStatus(err, http.StatusConflict) }

func hasStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}
