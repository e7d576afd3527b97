// Package sqlite stores audit entries in the embedded database next to records.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	platformsqlite "pmhub/internal/platform/sqlite"
	audit "pmhub/pkg/platform/audit"
	txcontext "pmhub/pkg/platform/tx"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements audit.Store on the audit_entries table.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entries ...audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if _, ok := txcontext.From(ctx); !ok {
		return txcontext.NewSQLRunner(s.db, 0).RunInTx(ctx, func(ctx context.Context) error {
			return s.Append(ctx, entries...)
		})
	}
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
		if _, err := s.execer(ctx).ExecContext(ctx, `
			INSERT INTO audit_entries (id, actor, action, entity_type, entity_id, field_name, old_value, new_value, version, occurred_at, request_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Actor, string(e.Action), e.EntityType, e.EntityID, e.FieldName,
			oldValue, newValue, e.Version, e.OccurredAt.UTC().Format(timeLayout), e.RequestID,
		); err != nil {
			return fmt.Errorf("insert audit entry: %w", platformsqlite.Classify(err))
		}
	}
	return nil
}

func (s *Store) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT seq, id, actor, action, entity_type, entity_id, field_name, old_value, new_value, version, occurred_at, request_id
		FROM audit_entries
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY occurred_at, seq`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", platformsqlite.Classify(err))
	}
	defer func() { _ = rows.Close() }()

	entries := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e                  audit.Entry
			action, occurredAt string
			oldValue, newValue sql.NullString
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Actor, &action, &e.EntityType, &e.EntityID, &e.FieldName,
			&oldValue, &newValue, &e.Version, &occurredAt, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = audit.Action(action)
		if e.OccurredAt, err = time.Parse(time.RFC3339Nano, occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
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

func encodeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode audit value: %w", err)
	}
	return string(raw), nil
}

func decodeValue(raw sql.NullString) (any, error) {
	if !raw.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(raw.String), &v); err != nil {
		return nil, fmt.Errorf("decode audit value: %w", err)
	}
	return v, nil
}
