package writer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/tradeline-backend/internal/analytics/types"
	pkgbigquery "github.com/angelmondragon/tradeline-backend/pkg/bigquery"
)

type insertCall struct {
	table     string
	insertIDs []string
}

// scriptedInserter answers each InsertRows call with the next scripted error.
type scriptedInserter struct {
	script []error
	calls  []insertCall
}

func (s *scriptedInserter) InsertRows(_ context.Context, table string, rows []any) error {
	call := insertCall{table: table}
	for _, row := range rows {
		if saver, ok := row.(*cbigquery.StructSaver); ok {
			call.insertIDs = append(call.insertIDs, saver.InsertID)
		}
	}
	s.calls = append(s.calls, call)
	if n := len(s.calls) - 1; n < len(s.script) {
		return s.script[n]
	}
	return nil
}

func scriptedWriter(t *testing.T, batch int, script ...error) (*BigQueryWriter, *scriptedInserter) {
	t.Helper()
	w, err := New(&pkgbigquery.Client{}, Config{
		SettlementsTable: "settlement_events",
		BatchSize:        batch,
		RetryPolicy:      RetryPolicy{InitialBackoff: time.Millisecond, MaximumBackoff: 2 * time.Millisecond},
	})
	require.NoError(t, err)
	ins := &scriptedInserter{script: script}
	w.client = ins
	return w, ins
}

func row(id string) types.SettlementEventRow {
	return types.SettlementEventRow{EventID: id}
}

func httpErr(code int) error { return &googleapi.Error{Code: code} }

func TestNewRequiresClientAndTable(t *testing.T) {
	_, err := New(nil, Config{SettlementsTable: "settlement_events"})
	assert.Error(t, err)
	_, err = New(&pkgbigquery.Client{}, Config{SettlementsTable: " "})
	assert.Error(t, err)
}

func TestEncodeJSON(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    cbigquery.NullJSON
	}{
		{name: "nil", payload: nil, want: cbigquery.NullJSON{}},
		{name: "empty raw", payload: json.RawMessage(nil), want: cbigquery.NullJSON{}},
		{name: "raw passthrough", payload: json.RawMessage(`{"amount_kobo":500000}`), want: cbigquery.NullJSON{Valid: true, JSONVal: `{"amount_kobo":500000}`}},
		{name: "bytes", payload: []byte(`[1]`), want: cbigquery.NullJSON{Valid: true, JSONVal: `[1]`}},
		{name: "map", payload: map[string]any{"reference": "TLP-ABCDEF123456"}, want: cbigquery.NullJSON{Valid: true, JSONVal: `{"reference":"TLP-ABCDEF123456"}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EncodeJSON(tc.payload)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := EncodeJSON(make(chan int))
	assert.Error(t, err)
}

func TestInsertRetriesTransientFailure(t *testing.T) {
	w, ins := scriptedWriter(t, 1, httpErr(http.StatusServiceUnavailable))

	require.NoError(t, w.InsertSettlement(context.Background(), row("evt-1")))
	require.Len(t, ins.calls, 2)
	assert.Equal(t, "settlement_events", ins.calls[1].table)
	assert.Empty(t, w.buffer)
}

func TestInsertKeepsRowsOnPermanentFailure(t *testing.T) {
	w, ins := scriptedWriter(t, 1, httpErr(http.StatusBadRequest))

	assert.Error(t, w.InsertSettlement(context.Background(), row("evt-1")))
	assert.Len(t, ins.calls, 1)
	assert.Len(t, w.buffer, 1, "rows stay buffered for the next flush")
}

func TestInsertStopsAfterMaxAttempts(t *testing.T) {
	busy := httpErr(http.StatusTooManyRequests)
	w, ins := scriptedWriter(t, 1, busy, busy, busy, busy)

	err := w.InsertSettlement(context.Background(), row("evt-1"))
	assert.ErrorContains(t, err, "insert settlement_events rows")
	assert.Len(t, ins.calls, defaultMaxAttempts)
}

func TestInsertRetriesWhenEveryRowFailedTransiently(t *testing.T) {
	rowErr := &pkgbigquery.RowError{Failed: 1, Err: cbigquery.PutMultiError{
		{RowIndex: 0, Errors: cbigquery.MultiError{httpErr(http.StatusServiceUnavailable)}},
	}}
	w, ins := scriptedWriter(t, 1, rowErr)

	require.NoError(t, w.InsertSettlement(context.Background(), row("evt-1")))
	assert.Len(t, ins.calls, 2)
}

func TestBatchFlushesWhenFullAndOnDemand(t *testing.T) {
	w, ins := scriptedWriter(t, 2)
	ctx := context.Background()

	require.NoError(t, w.InsertSettlement(ctx, row("evt-1")))
	assert.Empty(t, ins.calls, "half-full batch waits")

	require.NoError(t, w.InsertSettlement(ctx, row("evt-2")))
	require.Len(t, ins.calls, 1)
	assert.Equal(t, []string{"evt-1", "evt-2"}, ins.calls[0].insertIDs, "insert ids dedupe redeliveries")

	require.NoError(t, w.InsertSettlement(ctx, row("evt-3")))
	require.NoError(t, w.Flush(ctx))
	assert.Len(t, ins.calls, 2)
	assert.Empty(t, w.buffer)

	require.NoError(t, w.Flush(ctx))
	assert.Len(t, ins.calls, 2, "empty flush is a no-op")
}

func TestTransient(t *testing.T) {
	cases := map[string]struct {
		err  error
		want bool
	}{
		"nil":                     {nil, false},
		"plain":                   {errors.New("boom"), false},
		"http 503":                {httpErr(http.StatusServiceUnavailable), true},
		"http 400":                {httpErr(http.StatusBadRequest), false},
		"grpc unavailable":        {status.Error(codes.Unavailable, "down"), true},
		"grpc invalid":            {status.Error(codes.InvalidArgument, "bad"), false},
		"multi all transient":     {cbigquery.MultiError{httpErr(http.StatusBadGateway)}, true},
		"multi mixed":             {cbigquery.MultiError{httpErr(http.StatusBadGateway), errors.New("schema")}, false},
		"empty multi":             {cbigquery.MultiError{}, false},
		"row without inner error": {cbigquery.PutMultiError{{RowIndex: 0}}, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, transient(tc.err))
		})
	}
}
