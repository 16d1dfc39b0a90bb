package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation from
// postgres (pgx or lib/pq) or sqlite. When constraintName is set the
// violated constraint must match.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code == pgUniqueViolation && (constraintName == "" || pgxErr.ConstraintName == constraintName)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation && (constraintName == "" || pqErr.Constraint == constraintName)
	}

	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") && !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if constraintName == "" || strings.Contains(msg, constraintName) {
		return true
	}
	return strings.Contains(msg, sqliteTarget(constraintName))
}

// sqliteTarget maps a postgres constraint name such as
// "license_keys_code_key" to the "table.column" form sqlite reports. The
// table/column split is ambiguous, so every split point is tried against the
// known tables.
func sqliteTarget(constraintName string) string {
	base := strings.TrimSuffix(constraintName, "_key")
	for i := len(base) - 1; i > 0; i-- {
		if base[i] != '_' {
			continue
		}
		if _, ok := knownTables[base[:i]]; ok {
			return base[:i] + "." + base[i+1:]
		}
	}
	return constraintName
}

var knownTables = map[string]struct{}{
	"products":          {},
	"license_keys":      {},
	"orders":            {},
	"seller_balances":   {},
	"buyer_stats":       {},
	"ledger_events":     {},
	"payment_anomalies": {},
	"outbox_events":     {},
	"outbox_dlq":        {},
}
