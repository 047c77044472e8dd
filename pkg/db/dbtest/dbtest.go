// Package dbtest builds in-memory sqlite databases that mirror the Postgres
// schema closely enough for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  phone TEXT,
  role TEXT NOT NULL DEFAULT 'user',
  gateway_customer_code TEXT,
  dedicated_account_number TEXT,
  dedicated_bank_name TEXT,
  dedicated_account_name TEXT,
  bank_code TEXT,
  bank_account_number TEXT,
  bank_account_name TEXT,
  payout_recipient_code TEXT,
  push_token TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX uq_users_email_lower ON users (lower(email));`,
	`CREATE TABLE products (
  id TEXT PRIMARY KEY,
  seller_id TEXT NOT NULL,
  title TEXT NOT NULL,
  price_kobo INTEGER NOT NULL,
  sold INTEGER NOT NULL DEFAULT 0,
  sold_at DATETIME,
  sold_transaction_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE transactions (
  id TEXT PRIMARY KEY,
  payment_reference TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  seller_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  amount_kobo INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'awaiting_payment',
  channel_type TEXT NOT NULL,
  channel_key TEXT NOT NULL,
  channel_account_number TEXT NOT NULL,
  channel_bank_name TEXT NOT NULL,
  channel_account_name TEXT NOT NULL,
  channel_customer_code TEXT,
  gateway_reference TEXT,
  gateway_fee_kobo INTEGER NOT NULL DEFAULT 0,
  commission_kobo INTEGER NOT NULL DEFAULT 0,
  seller_share_kobo INTEGER NOT NULL DEFAULT 0,
  transfer_reference TEXT,
  transfer_code TEXT,
  otp_required INTEGER NOT NULL DEFAULT 0,
  receipt_url TEXT,
  paid_at DATETIME,
  delivery_confirmed_at DATETIME,
  completed_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  CONSTRAINT uq_transactions_payment_reference UNIQUE (payment_reference)
);`,
	`CREATE UNIQUE INDEX uq_transactions_pending_channel ON transactions (buyer_id, channel_key) WHERE status = 'awaiting_payment';`,
	`CREATE UNIQUE INDEX uq_transactions_transfer_reference ON transactions (transfer_reference) WHERE transfer_reference IS NOT NULL;`,
	`CREATE TABLE transaction_transitions (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL,
  payment_reference TEXT NOT NULL,
  from_status TEXT NOT NULL,
  to_status TEXT NOT NULL,
  actor TEXT NOT NULL,
  note TEXT,
  created_at DATETIME,
  CONSTRAINT uq_transaction_transitions_reference_status UNIQUE (payment_reference, to_status)
);`,
	`CREATE TABLE escrows (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL UNIQUE,
  amount_kobo INTEGER NOT NULL,
  commission_kobo INTEGER NOT NULL,
  seller_share_kobo INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'in_escrow',
  created_at DATETIME,
  updated_at DATETIME,
  CHECK (commission_kobo + seller_share_kobo = amount_kobo)
);`,
	`CREATE TABLE platform_wallets (
  id INTEGER PRIMARY KEY,
  available_kobo INTEGER NOT NULL DEFAULT 0,
  reserved_kobo INTEGER NOT NULL DEFAULT 0 CHECK (reserved_kobo >= 0),
  updated_at DATETIME
);`,
	`INSERT INTO platform_wallets (id, available_kobo, reserved_kobo) VALUES (1, 0, 0);`,
	`CREATE TABLE wallet_entries (
  id TEXT PRIMARY KEY,
  entry_type TEXT NOT NULL,
  amount_kobo INTEGER NOT NULL,
  reference TEXT NOT NULL,
  purpose TEXT NOT NULL,
  transaction_id TEXT,
  created_at DATETIME,
  CONSTRAINT uq_wallet_entries_reference_type UNIQUE (reference, entry_type)
);`,
	`CREATE TABLE refund_requests (
  id TEXT PRIMARY KEY,
  transaction_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  reason TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'refund_requested',
  resolved_by TEXT,
  resolved_at DATETIME,
  resolution_note TEXT,
  gross_kobo INTEGER NOT NULL DEFAULT 0,
  gateway_fee_kobo INTEGER NOT NULL DEFAULT 0,
  net_kobo INTEGER NOT NULL DEFAULT 0,
  gateway_status TEXT NOT NULL DEFAULT 'not_required',
  gateway_attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE UNIQUE INDEX uq_refund_requests_outstanding ON refund_requests (transaction_id) WHERE status = 'refund_requested';`,
	`CREATE TABLE unmatched_events (
  id TEXT PRIMARY KEY,
  gateway_event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  amount_kobo INTEGER NOT NULL,
  channel_identifier TEXT,
  email TEXT,
  extracted_reference TEXT,
  reason TEXT NOT NULL,
  high_value INTEGER NOT NULL DEFAULT 0,
  payload TEXT NOT NULL,
  resolved_transaction_id TEXT,
  resolved_by TEXT,
  resolved_at DATETIME,
  created_at DATETIME,
  CONSTRAINT uq_unmatched_events_gateway_event_reason UNIQUE (gateway_event_id, reason)
);`,
	`CREATE TABLE notifications (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  link TEXT,
  read_at DATETIME,
  created_at DATETIME
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL UNIQUE,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);`,
}

// Open returns a fresh in-memory database with the full ledger schema. Each
// call gets its own named database so parallel tests never share rows.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	// one connection keeps the shared-cache database alive and serialises writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}
