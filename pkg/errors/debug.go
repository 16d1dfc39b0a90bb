package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is a log-friendly breakdown of an error chain, including the
// postgres diagnostics when the root cause came from the driver.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Retryable  bool     `json:"retryable"`
	Chain      []string `json:"chain,omitempty"`

	PGCode       string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	dump := ErrorDump{TopMessage: err.Error()}
	if typed := As(err); typed != nil {
		dump.Code = typed.Code()
		dump.Retryable = MetadataFor(typed.Code()).Retryable
	}
	for cur := err; cur != nil; cur = stdErrors.Unwrap(cur) {
		dump.Chain = append(dump.Chain, fmt.Sprintf("%T: %v", cur, cur))
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case stdErrors.As(err, &pgxErr):
		dump.PGCode, dump.PGMessage, dump.PGDetail = pgxErr.Code, pgxErr.Message, pgxErr.Detail
		dump.PGConstraint, dump.PGTable, dump.PGColumn = pgxErr.ConstraintName, pgxErr.TableName, pgxErr.ColumnName
	case stdErrors.As(err, &pqErr):
		dump.PGCode, dump.PGMessage, dump.PGDetail = string(pqErr.Code), pqErr.Message, pqErr.Detail
		dump.PGConstraint, dump.PGTable, dump.PGColumn = pqErr.Constraint, pqErr.Table, pqErr.Column
	}
	return dump
}
