package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	platformpg "pmhub/internal/platform/postgres"
	"pmhub/internal/records/models"
	"pmhub/pkg/platform/sentinel"
	txcontext "pmhub/pkg/platform/tx"
	"pmhub/pkg/requestcontext"
)

// PostgresStore persists records in a single table keyed by (entity_type, id),
// with the field map held in a JSONB column.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
	table  string
}

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithLogger enables per-query debug timing logs.
func WithLogger(logger *slog.Logger) Option {
	return func(s *PostgresStore) { s.logger = logger }
}

// WithTables overrides the default table names.
func WithTables(t platformpg.Tables) Option {
	return func(s *PostgresStore) { s.table = t.Quoted().Records }
}

// New constructs a PostgreSQL-backed record store.
func New(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, table: platformpg.DefaultTables.Quoted().Records}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) observe(ctx context.Context, op string, start time.Time) {
	if s.logger == nil {
		return
	}
	s.logger.DebugContext(ctx, "record store call",
		"store", "postgres",
		"op", op,
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
		"request_id", requestcontext.RequestID(ctx),
	)
}

const recordColumns = `id, entity_type, fields, version, is_deleted, created_by, updated_by, deleted_by, created_at, updated_at, deleted_at`

func (s *PostgresStore) Get(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (*models.Record, error) {
	defer s.observe(ctx, "get", time.Now())
	query := `SELECT ` + recordColumns + ` FROM ` + s.table + ` WHERE entity_type = $1 AND id = $2`
	rec, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, string(entityType), id))
	if err != nil {
		return nil, fmt.Errorf("get record: %w", platformpg.Classify(err))
	}
	if rec.IsDeleted && !includeDeleted {
		return nil, fmt.Errorf("get record: %w", sentinel.ErrNotFound)
	}
	return rec, nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec *models.Record) (*models.Record, error) {
	defer s.observe(ctx, "insert", time.Now())
	now := requestcontext.Now(ctx)
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	fields, err := encodeFields(rec.Fields)
	if err != nil {
		return nil, err
	}
	query := `
		INSERT INTO ` + s.table + ` (entity_type, id, fields, version, is_deleted, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, 1, FALSE, $4, $4, $5, $5)
		RETURNING ` + recordColumns
	out, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query, string(rec.EntityType), id, fields, rec.CreatedBy, now))
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", platformpg.Classify(err))
	}
	return out, nil
}

func (s *PostgresStore) ConditionalUpdate(ctx context.Context, entityType models.EntityType, id string, fields models.Fields, actor string, expected *models.Version) (*models.Record, error) {
	defer s.observe(ctx, "conditional_update", time.Now())
	raw, err := encodeFields(fields)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE ` + s.table + `
		SET fields = $3, version = version + 1, updated_by = $4, updated_at = $5
		WHERE entity_type = $1 AND id = $2 AND NOT is_deleted AND ($6::bigint IS NULL OR version = $6)
		RETURNING ` + recordColumns
	out, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query,
		string(entityType), id, raw, actor, requestcontext.Now(ctx), versionArg(expected)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("update record: %w", s.missReason(ctx, entityType, id))
	}
	if err != nil {
		return nil, fmt.Errorf("update record: %w", platformpg.Classify(err))
	}
	return out, nil
}

func (s *PostgresStore) MarkDeleted(ctx context.Context, entityType models.EntityType, id string, actor string, expected *models.Version) (*models.Record, error) {
	defer s.observe(ctx, "mark_deleted", time.Now())
	query := `
		UPDATE ` + s.table + `
		SET is_deleted = TRUE, deleted_by = $3, updated_by = $3, deleted_at = $4, updated_at = $4, version = version + 1
		WHERE entity_type = $1 AND id = $2 AND NOT is_deleted AND ($5::bigint IS NULL OR version = $5)
		RETURNING ` + recordColumns
	out, err := scanRecord(s.execer(ctx).QueryRowContext(ctx, query,
		string(entityType), id, actor, requestcontext.Now(ctx), versionArg(expected)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("delete record: %w", s.missReason(ctx, entityType, id))
	}
	if err != nil {
		return nil, fmt.Errorf("delete record: %w", platformpg.Classify(err))
	}
	return out, nil
}

func (s *PostgresStore) List(ctx context.Context, entityType models.EntityType, opts models.ListOptions) ([]*models.Record, error) {
	defer s.observe(ctx, "list", time.Now())
	query := `SELECT ` + recordColumns + ` FROM ` + s.table + `
		WHERE entity_type = $1 AND ($2 OR NOT is_deleted)
		ORDER BY created_at, id`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(entityType), opts.IncludeDeleted)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", platformpg.Classify(err))
	}
	defer rows.Close()

	out := make([]*models.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", platformpg.Classify(err))
	}
	return out, nil
}

// missReason explains a conditional write that matched no row.
func (s *PostgresStore) missReason(ctx context.Context, entityType models.EntityType, id string) error {
	var deleted bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT is_deleted FROM `+s.table+` WHERE entity_type = $1 AND id = $2`,
		string(entityType), id).Scan(&deleted)
	if err != nil {
		return platformpg.Classify(err)
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
		rec        models.Record
		entityType string
		fields     []byte
		version    int64
		deletedAt  sql.NullTime
	)
	if err := row.Scan(&rec.ID, &entityType, &fields, &version, &rec.IsDeleted,
		&rec.CreatedBy, &rec.UpdatedBy, &rec.DeletedBy, &rec.CreatedAt, &rec.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	rec.EntityType = models.EntityType(entityType)
	rec.Version = models.Version(version)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		rec.DeletedAt = &t
	}
	var m map[string]any
	if err := json.Unmarshal(fields, &m); err != nil {
		return nil, fmt.Errorf("decode fields: %w", err)
	}
	rec.Fields = models.Normalize(m)
	return &rec, nil
}

func encodeFields(f models.Fields) ([]byte, error) {
	if f == nil {
		f = models.Fields{}
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode fields: %w", err)
	}
	return raw, nil
}

func versionArg(v *models.Version) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
