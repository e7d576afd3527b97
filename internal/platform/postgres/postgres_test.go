package postgres

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"pmhub/pkg/platform/sentinel"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", sql.ErrNoRows, sentinel.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "records_pkey"}, sentinel.ErrAlreadyExists},
		{"connection failure", &pgconn.PgError{Code: "08006"}, sentinel.ErrUnavailable},
		{"too many connections", &pgconn.PgError{Code: "53300"}, sentinel.ErrUnavailable},
		{"admin shutdown", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "57P01"}), sentinel.ErrUnavailable},
		{"conn done", sql.ErrConnDone, sentinel.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tt.in), tt.want)
		})
	}

	syntax := &pgconn.PgError{Code: "42601"}
	assert.Same(t, syntax, Classify(syntax))
	assert.NoError(t, Classify(nil))
}

func TestTablesQuoted(t *testing.T) {
	q := Tables{Records: "PM Records"}.Quoted()
	assert.Equal(t, `"PM Records"`, q.Records)
	assert.Equal(t, `"audit_entries"`, q.Audit)
	assert.Equal(t, `"outbox"`, q.Outbox)
}
