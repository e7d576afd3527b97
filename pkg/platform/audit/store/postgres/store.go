package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	platformpg "pmhub/internal/platform/postgres"
	audit "pmhub/pkg/platform/audit"
	txcontext "pmhub/pkg/platform/tx"
)

// Store implements audit.Store on the audit_entries table and also writes each
// entry to the outbox in the same transaction. The outbox relay publishes those
// rows to Kafka.
type Store struct {
	db     *sql.DB
	tables platformpg.Tables
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db, tables: platformpg.DefaultTables.Quoted()}
}

// NewWithTables creates a store over non-default table names.
func NewWithTables(db *sql.DB, tables platformpg.Tables) *Store {
	return &Store{db: db, tables: tables.Quoted()}
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts the entries and their outbox rows. Outside a caller
// transaction the writes are wrapped in one of their own.
func (s *Store) Append(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, ok := txcontext.From(ctx); !ok {
		return txcontext.NewSQLRunner(s.db, 0).RunInTx(ctx, func(ctx context.Context) error {
			return s.Append(ctx, entries...)
		})
	}

	exec := s.execer(ctx)
	insertEntry := `
		INSERT INTO ` + s.tables.Audit + ` (id, actor, action, entity_type, entity_id, field_name, old_value, new_value, version, occurred_at, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq`
	insertOutbox := `
		INSERT INTO ` + s.tables.Outbox + ` (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		oldValue, err := encodeValue(e.OldValue)
		if err != nil {
			return err
		}
		newValue, err := encodeValue(e.NewValue)
		if err != nil {
			return err
		}
		if err := exec.QueryRowContext(ctx, insertEntry,
			e.ID, e.Actor, string(e.Action), e.EntityType, e.EntityID, e.FieldName,
			oldValue, newValue, e.Version, e.OccurredAt, e.RequestID,
		).Scan(&e.Seq); err != nil {
			return fmt.Errorf("insert audit entry: %w", platformpg.Classify(err))
		}

		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit payload: %w", err)
		}
		if _, err := exec.ExecContext(ctx, insertOutbox,
			uuid.New(), e.EntityType, e.EntityID, string(e.Action), payload, e.OccurredAt,
		); err != nil {
			return fmt.Errorf("insert outbox entry: %w", platformpg.Classify(err))
		}
	}
	return nil
}

// ListByEntity returns an entity's history in occurrence order.
func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	query := `
		SELECT seq, id, actor, action, entity_type, entity_id, field_name, old_value, new_value, version, occurred_at, request_id
		FROM ` + s.tables.Audit + `
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY occurred_at, seq`
	rows, err := s.execer(ctx).QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", platformpg.Classify(err))
	}
	defer rows.Close()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e                  audit.Entry
			action             string
			oldValue, newValue []byte
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Actor, &action, &e.EntityType, &e.EntityID, &e.FieldName,
			&oldValue, &newValue, &e.Version, &e.OccurredAt, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = audit.Action(action)
		e.OccurredAt = e.OccurredAt.UTC()
		if e.OldValue, err = decodeValue(oldValue); err != nil {
			return nil, err
		}
		if e.NewValue, err = decodeValue(newValue); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// encodeValue stores an absent value as SQL NULL.
func encodeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode audit value: %w", err)
	}
	return raw, nil
}

func decodeValue(raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode audit value: %w", err)
	}
	return v, nil
}
