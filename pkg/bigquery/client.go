// Package bigquery wraps the BigQuery client for the settlement analytics
// dataset: streaming inserts from the worker and dashboard queries from the
// API.
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

	"github.com/angelmondragon/tradeline-backend/pkg/config"
	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

const verifyTimeout = 10 * time.Second

var (
	ErrNotConfigured = errors.New("bigquery client not configured")
	ErrMissingTable  = errors.New("bigquery table does not exist")
)

// RowError reports the rows a streaming insert rejected. Index is the row's
// position in the batch passed to InsertRows.
type RowError struct {
	Failed int
	Index  int
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%d row(s) rejected, first at index %d: %v", e.Failed, e.Index, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

type Client struct {
	bq           *bigquery.Client
	dataset      *bigquery.Dataset
	settlements  string
	location     string
	queryTimeout time.Duration
}

// NewClient connects to the configured project and fails fast when the
// dataset or settlements table is missing; the dashboards are useless without
// them and the tables are provisioned outside this service.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	dataset := strings.TrimSpace(cfg.Dataset)
	table := strings.TrimSpace(cfg.SettlementsTable)
	switch {
	case project == "":
		return nil, fmt.Errorf("%w: gcp project id", ErrNotConfigured)
	case dataset == "":
		return nil, fmt.Errorf("%w: dataset", ErrNotConfigured)
	case table == "":
		return nil, fmt.Errorf("%w: settlements table", ErrNotConfigured)
	}

	bq, err := bigquery.NewClient(ctx, project, credentialOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	location := strings.TrimSpace(cfg.Location)
	if location != "" {
		bq.Location = location
	}
	c := &Client{
		bq:           bq,
		dataset:      bq.Dataset(dataset),
		settlements:  table,
		location:     location,
		queryTimeout: cfg.QueryTimeout,
	}
	if err := c.Ping(ctx); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": dataset,
			"table":   table,
		}), "bigquery client ready")
	}
	return c, nil
}

func credentialOptions(gcp config.GCPConfig) []option.ClientOption {
	if raw := strings.TrimSpace(gcp.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	// application default credentials
	return nil
}

// Ping checks the dataset and settlements table are reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		return describeMetadataError("dataset "+c.dataset.DatasetID, err)
	}
	if _, err := c.dataset.Table(c.settlements).Metadata(ctx); err != nil {
		return describeMetadataError("table "+c.settlements, err)
	}
	return nil
}

func describeMetadataError(what string, err error) error {
	if IsNotFound(err) {
		return fmt.Errorf("%w: %s", ErrMissingTable, what)
	}
	return fmt.Errorf("checking %s: %w", what, err)
}

// InsertRows streams rows into table. Rows implementing bigquery.ValueSaver
// keep their insert ids, which BigQuery uses to drop retried duplicates.
// Partial failures come back as *RowError wrapping the PutMultiError.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.dataset == nil {
		return ErrNotConfigured
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return fmt.Errorf("%w: table name", ErrNotConfigured)
	}
	if len(rows) == 0 {
		return nil
	}
	err := c.dataset.Table(table).Inserter().Put(ctx, rows)
	var rowErrs bigquery.PutMultiError
	if errors.As(err, &rowErrs) && len(rowErrs) > 0 {
		return &RowError{Failed: len(rowErrs), Index: rowErrs[0].RowIndex, Err: rowErrs}
	}
	return err
}

// Query runs a parameterised statement bounded by the configured timeout.
// The caller must finish iterating before the timeout elapses.
func (c *Client) Query(ctx context.Context, sql string, params []bigquery.QueryParameter) (*bigquery.RowIterator, error) {
	if c == nil || c.bq == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(sql) == "" {
		return nil, errors.New("empty bigquery statement")
	}
	q := c.bq.Query(sql)
	q.Parameters = params
	if c.location != "" {
		q.Location = c.location
	}
	if c.queryTimeout > 0 {
		q.JobTimeout = c.queryTimeout
	}
	return q.Read(ctx)
}

// SettlementsTable is the table settlement rows land in.
func (c *Client) SettlementsTable() string {
	if c == nil {
		return ""
	}
	return c.settlements
}

func (c *Client) Close() error {
	if c == nil || c.bq == nil {
		return nil
	}
	return c.bq.Close()
}

// IsNotFound reports a 404 from the BigQuery API.
func IsNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
