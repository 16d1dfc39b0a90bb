// Package dbtest opens in-memory sqlite databases carrying the same tables as
// the postgres migrations, for repository and service tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		name TEXT NOT NULL,
		game TEXT NOT NULL,
		duration TEXT NOT NULL,
		instruction_url TEXT,
		support_contact TEXT,
		price NUMERIC NOT NULL,
		commission_rate NUMERIC,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		approval_status TEXT NOT NULL,
		is_frozen BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		total_sales INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE license_keys (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		code TEXT NOT NULL,
		is_used BOOLEAN NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		order_id TEXT,
		buyer_id TEXT,
		used_at DATETIME,
		expires_at DATETIME,
		notes TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		CONSTRAINT license_keys_code_key UNIQUE (code)
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL,
		buyer_id TEXT,
		buyer_email TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		snapshot_name TEXT NOT NULL,
		snapshot_game TEXT NOT NULL,
		snapshot_price NUMERIC NOT NULL,
		snapshot_duration TEXT NOT NULL,
		snapshot_instruction_url TEXT,
		snapshot_support_contact TEXT,
		quantity INTEGER NOT NULL DEFAULT 1,
		total NUMERIC NOT NULL,
		commission_rate NUMERIC NOT NULL,
		commission NUMERIC NOT NULL,
		seller_earnings NUMERIC NOT NULL,
		status TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		payment_currency TEXT NOT NULL,
		payment_address TEXT,
		payment_amount NUMERIC,
		payment_expires_at DATETIME NOT NULL,
		payment_tx_id TEXT,
		payment_confirmations INTEGER NOT NULL DEFAULT 0,
		paid_at DATETIME,
		license_key_id TEXT,
		license_code TEXT,
		delivered_at DATETIME,
		fulfillment_failed BOOLEAN NOT NULL DEFAULT 0,
		refunded_at DATETIME,
		refund_reason TEXT,
		dispute_open BOOLEAN NOT NULL DEFAULT 0,
		dispute_reason TEXT,
		dispute_opened_at DATETIME,
		dispute_resolved_at DATETIME,
		dispute_resolution TEXT,
		dispute_notes TEXT,
		created_at DATETIME,
		updated_at DATETIME,
		CONSTRAINT orders_order_number_key UNIQUE (order_number),
		CONSTRAINT orders_payment_address_key UNIQUE (payment_address)
	)`,
	`CREATE TABLE seller_balances (
		seller_id TEXT PRIMARY KEY,
		pending_earnings NUMERIC NOT NULL DEFAULT 0 CHECK (pending_earnings >= 0),
		withdrawn_earnings NUMERIC NOT NULL DEFAULT 0,
		total_earnings NUMERIC NOT NULL DEFAULT 0 CHECK (total_earnings >= 0),
		updated_at DATETIME
	)`,
	`CREATE TABLE buyer_stats (
		buyer_id TEXT PRIMARY KEY,
		total_purchases INTEGER NOT NULL DEFAULT 0 CHECK (total_purchases >= 0),
		total_spent NUMERIC NOT NULL DEFAULT 0 CHECK (total_spent >= 0),
		updated_at DATETIME
	)`,
	`CREATE TABLE ledger_events (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		buyer_id TEXT,
		type TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		metadata TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE payment_anomalies (
		id TEXT PRIMARY KEY,
		order_id TEXT,
		kind TEXT NOT NULL,
		payment_address TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		expected_amount NUMERIC,
		received_amount NUMERIC NOT NULL,
		confirmations INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL,
		resolved_at DATETIME,
		created_at DATETIME
	)`,
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
	)`,
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
	)`,
}

// Open returns a fresh database with every table created. The pool is pinned
// to one connection, so concurrent callers run their transactions one after
// another. Lost-claim races need a repository fake; they never happen here.
func Open(t *testing.T, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", strings.ReplaceAll(name, "/", "_"), uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
