package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	return entry
}

func TestErrorCarriesContextFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	ctx := log.WithRequestID(context.Background(), "req-123")
	log.Error(ctx, "charge failed", errors.New("gateway timeout"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "gateway timeout", entry["error"])
	stack, ok := entry["stack"].([]any)
	require.True(t, ok, "stack should be a list of frames")
	require.NotEmpty(t, stack)
	assert.Contains(t, stack[0], "TestErrorCarriesContextFieldsAndStack")
}

func TestWarnStackIsOptIn(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf}).Warn(context.Background(), "slow webhook")
	assert.NotContains(t, buf.String(), `"stack"`)

	buf.Reset()
	New(Options{Output: buf, WarnStack: true}).Warn(context.Background(), "slow webhook")
	assert.Contains(t, buf.String(), `"stack"`)
}

func TestFieldsDoNotLeakBetweenContexts(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf})

	parent := log.WithTransactionID(context.Background(), "tx-1")
	child := log.WithReference(parent, "TLP-ABCDEFGHJKLM")
	log.Info(parent, "escrow entered")

	entry := decodeLine(t, buf)
	assert.Equal(t, "tx-1", entry["transaction_id"])
	assert.NotContains(t, entry, "payment_reference")

	buf.Reset()
	log.Info(child, "payout queued")
	entry = decodeLine(t, buf)
	assert.Equal(t, "TLP-ABCDEFGHJKLM", entry["payment_reference"])
}

func TestSensitiveFieldsAreMasked(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{
		"account_number":     "0123456789",
		"authorization_code": "AUTH_abc",
		"otp":                "123456",
		"amount_kobo":        int64(250000),
	})
	log.Info(ctx, "transfer finalized")

	entry := decodeLine(t, buf)
	assert.Equal(t, "******6789", entry["account_number"])
	assert.Equal(t, redacted, entry["authorization_code"])
	assert.Equal(t, redacted, entry["otp"])
	assert.EqualValues(t, 250000, entry["amount_kobo"])
}

func TestNilLoggerIsSilent(t *testing.T) {
	var log *Logger
	ctx := log.WithField(context.Background(), "k", "v")
	assert.NotPanics(t, func() {
		log.Info(ctx, "ignored")
		log.Error(ctx, "ignored", errors.New("x"))
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
}

func TestLevelFiltersInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf, Level: zerolog.WarnLevel})
	log.Info(context.Background(), "hidden")
	assert.Empty(t, buf.String())
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "cron-worker", Output: buf, Console: true}).Info(context.Background(), "payout settled")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(buf.String()), "{"), buf.String())
	assert.Contains(t, buf.String(), "payout settled")
}

func TestForServiceReadsAppConfig(t *testing.T) {
	log := ForService("worker", config.AppConfig{LogLevel: "error", LogWarnStack: true})
	assert.Equal(t, zerolog.ErrorLevel, log.base.GetLevel())
	assert.True(t, log.warnStack)
}
