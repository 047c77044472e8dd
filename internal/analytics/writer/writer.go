package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/sethvargo/go-retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/tradeline-backend/pkg/bigquery"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the analytics writer behavior.
type Config struct {
	SettlementsTable string
	BatchSize        int
	RetryPolicy      RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are attempted.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter streams settlement rows into BigQuery with retries and optional batching.
type BigQueryWriter struct {
	client    tableInserter
	table     string
	batchSize int
	retry     RetryPolicy

	mu     sync.Mutex
	buffer []types.SettlementEventRow
}

// New creates a writer backed by a shared client.
func New(client *pkgbigquery.Client, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	table := strings.TrimSpace(cfg.SettlementsTable)
	if table == "" {
		return nil, errors.New("settlements table is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	policy := cfg.RetryPolicy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = defaultMaxAttempts
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = defaultInitialBackoff
	}
	if policy.MaximumBackoff < policy.InitialBackoff {
		policy.MaximumBackoff = max(defaultMaximumBackoff, policy.InitialBackoff)
	}

	return &BigQueryWriter{
		client:    client,
		table:     table,
		batchSize: batchSize,
		retry:     policy,
	}, nil
}

// InsertSettlement buffers one row and flushes once the batch is full.
func (w *BigQueryWriter) InsertSettlement(ctx context.Context, row types.SettlementEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buffer = append(w.buffer, row)
	if len(w.buffer) >= w.batchSize {
		return w.flushLocked(ctx)
	}
	return nil
}

// Flush writes any buffered rows immediately.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(ctx)
}

func (w *BigQueryWriter) flushLocked(ctx context.Context) error {
	if len(w.buffer) == 0 {
		return nil
	}
	rows := make([]any, len(w.buffer))
	for i := range w.buffer {
		// keyed on the outbox event id so a redelivered event is dropped by
		// BigQuery's best-effort dedupe
		rows[i] = &cbigquery.StructSaver{Struct: &w.buffer[i], InsertID: w.buffer[i].EventID}
	}

	if err := w.insertWithRetry(ctx, rows); err != nil {
		return err
	}
	w.buffer = w.buffer[:0]
	return nil
}

func (w *BigQueryWriter) insertWithRetry(ctx context.Context, rows []any) error {
	backoff := retry.NewExponential(w.retry.InitialBackoff)
	backoff = retry.WithCappedDuration(w.retry.MaximumBackoff, backoff)
	backoff = retry.WithMaxRetries(uint64(w.retry.MaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := w.client.InsertRows(ctx, w.table, rows)
		if transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("insert %s rows: %w", w.table, err)
	}
	return nil
}

var (
	transientHTTP = map[int]bool{
		http.StatusTooManyRequests:     true,
		http.StatusRequestTimeout:      true,
		http.StatusInternalServerError: true,
		http.StatusBadGateway:          true,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      true,
	}
	transientGRPC = map[codes.Code]bool{
		codes.Aborted:           true,
		codes.DeadlineExceeded:  true,
		codes.Internal:          true,
		codes.ResourceExhausted: true,
		codes.Unavailable:       true,
	}
)

// transient reports whether a retry could succeed. Multi-row failures are
// transient only when every inner error is.
func transient(err error) bool {
	var (
		multi    cbigquery.MultiError
		perRow   cbigquery.PutMultiError
		apiErr   *googleapi.Error
		grpcLike interface{ GRPCStatus() *status.Status }
	)
	switch {
	case err == nil:
		return false
	case errors.As(err, &multi):
		return allTransient(multi)
	case errors.As(err, &perRow):
		var inner cbigquery.MultiError
		for _, row := range perRow {
			if len(row.Errors) == 0 {
				return false
			}
			inner = append(inner, row.Errors...)
		}
		return allTransient(inner)
	case errors.As(err, &apiErr):
		return transientHTTP[apiErr.Code]
	case errors.As(err, &grpcLike):
		st := grpcLike.GRPCStatus()
		return st != nil && transientGRPC[st.Code()]
	}
	return false
}

func allTransient(errs cbigquery.MultiError) bool {
	for _, inner := range errs {
		if !transient(inner) {
			return false
		}
	}
	return len(errs) > 0
}

// EncodeJSON serializes the payload for a BigQuery JSON column.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	case []byte:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(marshaled)}, nil
}
