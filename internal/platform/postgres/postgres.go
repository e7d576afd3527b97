// Package postgres opens the Postgres connection pool and owns the schema shared
// by the record store, the audit store and the outbox relay.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/lib/pq"

	"pmhub/pkg/platform/sentinel"
)

// Tables names the tables used by the stores. Names are quoted before use, so
// schema-qualified or mixed-case names are safe.
type Tables struct {
	Records string
	Audit   string
	Outbox  string
}

// DefaultTables is the layout created by EnsureSchema when no override is given.
var DefaultTables = Tables{Records: "records", Audit: "audit_entries", Outbox: "outbox"}

func (t Tables) withDefaults() Tables {
	if t.Records == "" {
		t.Records = DefaultTables.Records
	}
	if t.Audit == "" {
		t.Audit = DefaultTables.Audit
	}
	if t.Outbox == "" {
		t.Outbox = DefaultTables.Outbox
	}
	return t
}

// Quoted returns the table names as SQL identifiers.
func (t Tables) Quoted() Tables {
	t = t.withDefaults()
	return Tables{
		Records: pq.QuoteIdentifier(t.Records),
		Audit:   pq.QuoteIdentifier(t.Audit),
		Outbox:  pq.QuoteIdentifier(t.Outbox),
	}
}

// Open connects through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: empty DATABASE_URL")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB, tables Tables) error {
	t := tables.withDefaults()
	q := t.Quoted()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + q.Records + ` (
			entity_type TEXT NOT NULL,
			id          TEXT NOT NULL,
			fields      JSONB NOT NULL DEFAULT '{}'::jsonb,
			version     BIGINT NOT NULL,
			is_deleted  BOOLEAN NOT NULL DEFAULT FALSE,
			created_by  TEXT NOT NULL DEFAULT '',
			updated_by  TEXT NOT NULL DEFAULT '',
			deleted_by  TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			deleted_at  TIMESTAMPTZ,
			PRIMARY KEY (entity_type, id)
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(t.Records+"_live_idx") + ` ON ` + q.Records + ` (entity_type, created_at) WHERE NOT is_deleted`,
		`CREATE TABLE IF NOT EXISTS ` + q.Audit + ` (
			seq         BIGSERIAL PRIMARY KEY,
			id          UUID NOT NULL UNIQUE,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			field_name  TEXT NOT NULL DEFAULT '',
			old_value   JSONB,
			new_value   JSONB,
			version     BIGINT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			request_id  TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(t.Audit+"_entity_idx") + ` ON ` + q.Audit + ` (entity_type, entity_id, occurred_at, seq)`,
		`CREATE TABLE IF NOT EXISTS ` + q.Outbox + ` (
			id             UUID PRIMARY KEY,
			aggregate_type TEXT NOT NULL,
			aggregate_id   TEXT NOT NULL,
			event_type     TEXT NOT NULL,
			payload        JSONB NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL,
			published_at   TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(t.Outbox+"_pending_idx") + ` ON ` + q.Outbox + ` (created_at) WHERE published_at IS NULL`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Classify maps driver errors onto store sentinels. Unique violations become
// ErrAlreadyExists; connection, resource and operator-intervention classes
// become ErrUnavailable.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%w: %s", sentinel.ErrAlreadyExists, pgErr.ConstraintName)
		case len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" || pgErr.Code[:2] == "57"):
			return fmt.Errorf("%w: %s", sentinel.ErrUnavailable, pgErr.Message)
		}
		return err
	}
	if errors.Is(err, sql.ErrConnDone) || pgconn.SafeToRetry(err) || isConnectError(err) {
		return fmt.Errorf("%w: %v", sentinel.ErrUnavailable, err)
	}
	return err
}

func isConnectError(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
