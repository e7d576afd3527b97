// Package sqlite is the embedded record store. It mirrors the Postgres layout,
// with fields kept as JSON text and timestamps as fixed-width UTC strings.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	platformsqlite "pmhub/internal/platform/sqlite"
	"pmhub/internal/records/models"
	"pmhub/pkg/platform/sentinel"
	txcontext "pmhub/pkg/platform/tx"
	"pmhub/pkg/requestcontext"
)

// TimeLayout sorts lexically in chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore persists records in the records table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// New constructs a SQLite-backed record store. A nil logger disables timing logs.
func New(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *SQLiteStore) observe(ctx context.Context, op string, start time.Time) {
	if s.logger == nil {
		return
	}
	s.logger.DebugContext(ctx, "record store call",
		"store", "sqlite",
		"op", op,
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
		"request_id", requestcontext.RequestID(ctx),
	)
}

const recordColumns = `id, entity_type, fields, version, is_deleted, created_by, updated_by, deleted_by, created_at, updated_at, deleted_at`

func (s *SQLiteStore) Get(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (*models.Record, error) {
	defer s.observe(ctx, "get", time.Now())
	rec, err := scanRecord(s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM records WHERE entity_type = ? AND id = ?`, string(entityType), id))
	if err != nil {
		return nil, fmt.Errorf("get record: %w", platformsqlite.Classify(err))
	}
	if rec.IsDeleted && !includeDeleted {
		return nil, fmt.Errorf("get record: %w", sentinel.ErrNotFound)
	}
	return rec, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *models.Record) (*models.Record, error) {
	defer s.observe(ctx, "insert", time.Now())
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return nil, err
	}
	now := formatTime(requestcontext.Now(ctx))
	out, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO records (entity_type, id, fields, version, is_deleted, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, 1, 0, ?, ?, ?, ?)
		RETURNING `+recordColumns,
		string(rec.EntityType), id, fields, rec.CreatedBy, rec.CreatedBy, now, now))
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", platformsqlite.Classify(err))
	}
	return out, nil
}

func (s *SQLiteStore) ConditionalUpdate(ctx context.Context, entityType models.EntityType, id string, fields models.Fields, actor string, expected *models.Version) (*models.Record, error) {
	defer s.observe(ctx, "conditional_update", time.Now())
	raw, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	v := versionArg(expected)
	out, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, `
		UPDATE records
		SET fields = ?, version = version + 1, updated_by = ?, updated_at = ?
		WHERE entity_type = ? AND id = ? AND is_deleted = 0 AND (? IS NULL OR version = ?)
		RETURNING `+recordColumns,
		raw, actor, formatTime(requestcontext.Now(ctx)), string(entityType), id, v, v))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update record: %w", s.missReason(ctx, entityType, id))
	}
	if err != nil {
		return nil, fmt.Errorf("update record: %w", platformsqlite.Classify(err))
	}
	return out, nil
}

func (s *SQLiteStore) MarkDeleted(ctx context.Context, entityType models.EntityType, id string, actor string, expected *models.Version) (*models.Record, error) {
	defer s.observe(ctx, "mark_deleted", time.Now())
	v := versionArg(expected)
	now := formatTime(requestcontext.Now(ctx))
	out, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, `
		UPDATE records
		SET is_deleted = 1, deleted_by = ?, updated_by = ?, deleted_at = ?, updated_at = ?, version = version + 1
		WHERE entity_type = ? AND id = ? AND is_deleted = 0 AND (? IS NULL OR version = ?)
		RETURNING `+recordColumns,
		actor, actor, now, now, string(entityType), id, v, v))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("delete record: %w", s.missReason(ctx, entityType, id))
	}
	if err != nil {
		return nil, fmt.Errorf("delete record: %w", platformsqlite.Classify(err))
	}
	return out, nil
}

func (s *SQLiteStore) List(ctx context.Context, entityType models.EntityType, opts models.ListOptions) ([]*models.Record, error) {
	defer s.observe(ctx, "list", time.Now())
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT `+recordColumns+` FROM records
		WHERE entity_type = ? AND (? OR is_deleted = 0)
		ORDER BY created_at, id`, string(entityType), opts.IncludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", platformsqlite.Classify(err))
	}
	defer func() { _ = rows.Close() }()

	out := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", platformsqlite.Classify(err))
	}
	return out, nil
}

func (s *SQLiteStore) missReason(ctx context.Context, entityType models.EntityType, id string) error {
	var deleted bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT is_deleted FROM records WHERE entity_type = ? AND id = ?`, string(entityType), id).Scan(&deleted)
	if err != nil {
		return platformsqlite.Classify(err)
	}
	if deleted {
		return sentinel.ErrNotFound
	}
	return sentinel.ErrVersionConflict
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.Record, error) {
	var (
		rec                  models.Record
		entityType, fields   string
		version              int64
		createdAt, updatedAt string
		deletedAt            sql.NullString
	)
	if err := row.Scan(&rec.ID, &entityType, &fields, &version, &rec.IsDeleted,
		&rec.CreatedBy, &rec.UpdatedBy, &rec.DeletedBy, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	rec.EntityType = models.EntityType(entityType)
	rec.Version = models.Version(version)
	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		rec.DeletedAt = &t
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(fields), &m); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	rec.Fields = models.Normalize(m)
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func encodeFields(f models.Fields) (string, error) {
	if f == nil {
		f = models.Fields{}
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}
	return string(raw), nil
}

func versionArg(v *models.Version) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
