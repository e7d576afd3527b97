// Package service is the mutation orchestrator. Every change to a record goes
// through it: load, permission check, validation, conditional write and audit,
// with the write and its audit entries sharing one unit of work.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"pmhub/internal/history"
	"pmhub/internal/lifecycle"
	"pmhub/internal/mutation/metrics"
	"pmhub/internal/notify"
	"pmhub/internal/occ"
	"pmhub/internal/permission"
	"pmhub/internal/ranking"
	"pmhub/internal/records/models"
	audit "pmhub/pkg/platform/audit"
	dErrors "pmhub/pkg/domain-errors"
)

const (
	opCreate     = "create"
	opUpdate     = "update"
	opDelete     = "delete"
	opTransition = "transition"
	opBulk       = "bulk_transition"
	opPlace      = "place"
	opGet        = "get"
	opList       = "list"
	opHistory    = "history"
)

// RecordStore persists records. Implementations live under internal/records/store.
type RecordStore interface {
	Get(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (*models.Record, error)
	Insert(ctx context.Context, rec *models.Record) (*models.Record, error)
	ConditionalUpdate(ctx context.Context, entityType models.EntityType, id string, fields models.Fields, actor string, expected *models.Version) (*models.Record, error)
	MarkDeleted(ctx context.Context, entityType models.EntityType, id string, actor string, expected *models.Version) (*models.Record, error)
	List(ctx context.Context, entityType models.EntityType, opts models.ListOptions) ([]*models.Record, error)
}

// UnitOfWork runs fn atomically. Stores and the audit store called with the
// derived context join the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Notifier receives status changes after commit.
type Notifier interface {
	Notify(ctx context.Context, e notify.Event)
}

// errUnchanged aborts a unit of work whose mutation turned out to be empty.
var errUnchanged = errors.New("no field changes")

type Service struct {
	store           RecordStore
	uow             UnitOfWork
	occ             *occ.Controller
	history         *history.Recorder
	gate            *permission.Gate
	lifecycle       *lifecycle.Registry
	notifier        Notifier
	logger          *slog.Logger
	metrics         *metrics.Metrics
	tracer          trace.Tracer
	bulkConcurrency int
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithGate replaces the default permission policy. The lifecycle registry
// checks transition actions against the same gate unless WithLifecycle is given.
func WithGate(g *permission.Gate) Option {
	return func(s *Service) { s.gate = g }
}

func WithLifecycle(r *lifecycle.Registry) Option {
	return func(s *Service) { s.lifecycle = r }
}

// WithBulkConcurrency bounds how many records a bulk status change touches at once.
func WithBulkConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.bulkConcurrency = n
		}
	}
}

func New(store RecordStore, auditStore audit.Store, uow UnitOfWork, opts ...Option) *Service {
	s := &Service{
		store:           store,
		uow:             uow,
		occ:             occ.New(store),
		history:         history.New(auditStore),
		logger:          slog.Default(),
		tracer:          otel.Tracer("pmhub/internal/mutation"),
		bulkConcurrency: 8,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = permission.NewGate(nil)
	}
	if s.lifecycle == nil {
		s.lifecycle = lifecycle.Default(s.gate)
	}
	return s
}

// Gate exposes the permission gate for read-side callers.
func (s *Service) Gate() *permission.Gate { return s.gate }

// Lifecycle exposes the status machines.
func (s *Service) Lifecycle() *lifecycle.Registry { return s.lifecycle }

func (s *Service) schema(entityType models.EntityType) (*models.Schema, error) {
	schema, ok := models.SchemaFor(entityType)
	if !ok {
		return nil, dErrors.Validation("entity_type", fmt.Sprintf("unknown entity type '%s'", entityType))
	}
	return schema, nil
}

func (s *Service) load(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (*models.Record, error) {
	rec, err := s.store.Get(ctx, entityType, id, includeDeleted)
	if err != nil {
		return nil, translate(err, entityType, id)
	}
	return rec, nil
}

// Create validates fields, assigns the initial status and derived fields, and
// inserts the record with its create entry. An "id" key in fields selects the
// record id; otherwise one is generated.
func (s *Service) Create(ctx context.Context, entityType models.EntityType, fields map[string]any, actor permission.Actor) (rec *models.Record, err error) {
	ctx, done := s.observe(ctx, opCreate, entityType, "", actor)
	defer func() { done(err) }()

	schema, err := s.schema(entityType)
	if err != nil {
		return nil, err
	}
	input := make(map[string]any, len(fields))
	for k, v := range fields {
		input[k] = v
	}
	id, err := takeID(input)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(actor, entityType, permission.OpCreate, models.Normalize(input)); err != nil {
		return nil, err
	}

	values, err := schema.ValidateCreate(input)
	if err != nil {
		return nil, err
	}
	status, err := s.lifecycle.InitialStatus(entityType, values.String(models.FieldStatus))
	if err != nil {
		return nil, err
	}
	if status != "" {
		values[models.FieldStatus] = status
	}
	if entityType == models.EntityRisk {
		derived, err := lifecycle.DeriveRiskScores(values, values)
		if err != nil {
			return nil, err
		}
		values = values.Merge(derived)
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if schema.RankField != "" && !values.Has(schema.RankField) {
			rank, err := s.endOfScope(ctx, schema, values)
			if err != nil {
				return err
			}
			values[schema.RankField] = rank
		}
		created, err := s.store.Insert(ctx, &models.Record{ID: id, EntityType: entityType, Fields: values, CreatedBy: actor.ID})
		if err != nil {
			return err
		}
		if err := s.history.RecordCreate(ctx, actor.ID, created); err != nil {
			return err
		}
		rec = created
		return nil
	})
	if err != nil {
		return nil, translate(err, entityType, id)
	}
	return rec, nil
}

// Update applies a partial field change. A nil value clears the field. Status
// is not writable here; use Transition. An update that changes nothing returns
// the current record without writing.
func (s *Service) Update(ctx context.Context, entityType models.EntityType, id string, changes map[string]any, actor permission.Actor, expected *models.Version) (rec *models.Record, err error) {
	ctx, done := s.observe(ctx, opUpdate, entityType, id, actor)
	defer func() { done(err) }()

	schema, err := s.schema(entityType)
	if err != nil {
		return nil, err
	}
	current, err := s.load(ctx, entityType, id, false)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(actor, entityType, permission.OpUpdate, current.Fields); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return nil, dErrors.Validation("fields", "at least one field change is required")
	}
	if _, ok := changes[models.FieldStatus]; ok && s.lifecycle.Has(entityType) {
		return nil, dErrors.Validation(models.FieldStatus, "status changes go through a transition")
	}
	normalized, err := schema.ValidateChanges(changes)
	if err != nil {
		return nil, err
	}
	// Owner-scoped actors may not hand a record to someone else.
	if err := s.gate.Check(actor, entityType, permission.OpUpdate, current.Fields.Merge(normalized)); err != nil {
		return nil, err
	}

	var unchanged *models.Record
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		res, err := s.occ.Apply(ctx, entityType, id, actor.ID, expected, func(cur *models.Record) (models.Fields, error) {
			next, err := nextFields(schema, cur.Fields, normalized)
			if err != nil {
				return nil, err
			}
			if len(history.Diff(cur.Fields, next)) == 0 {
				unchanged = cur
				return nil, errUnchanged
			}
			return next, nil
		})
		if err != nil {
			return err
		}
		if _, err := s.history.RecordUpdate(ctx, actor.ID, entityType, id, res.Before.Fields, res.After.Fields, res.After.Version); err != nil {
			return err
		}
		rec = res.After
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return unchanged, nil
	}
	if err != nil {
		return nil, translate(err, entityType, id)
	}
	return rec, nil
}

// nextFields merges changes over current and re-derives computed fields.
func nextFields(schema *models.Schema, current, changes models.Fields) (models.Fields, error) {
	next := current.Merge(changes)
	if schema.Type == models.EntityRisk {
		derived, err := lifecycle.DeriveRiskScores(changes, next)
		if err != nil {
			return nil, err
		}
		next = next.Merge(derived)
	}
	if err := schema.ValidateRecord(next); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete soft-deletes the record and writes a delete entry.
func (s *Service) Delete(ctx context.Context, entityType models.EntityType, id string, actor permission.Actor, expected *models.Version) (err error) {
	ctx, done := s.observe(ctx, opDelete, entityType, id, actor)
	defer func() { done(err) }()

	if _, err := s.schema(entityType); err != nil {
		return err
	}
	current, err := s.load(ctx, entityType, id, false)
	if err != nil {
		return err
	}
	if err := s.gate.Check(actor, entityType, permission.OpDelete, current.Fields); err != nil {
		return err
	}
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		res, err := s.occ.Delete(ctx, entityType, id, actor.ID, expected)
		if err != nil {
			return err
		}
		return s.history.RecordDelete(ctx, actor.ID, entityType, id, res.After.Version)
	})
	return translate(err, entityType, id)
}

// Get reads one record.
func (s *Service) Get(ctx context.Context, entityType models.EntityType, id string, actor permission.Actor, includeDeleted bool) (rec *models.Record, err error) {
	ctx, done := s.observe(ctx, opGet, entityType, id, actor)
	defer func() { done(err) }()

	if _, err := s.schema(entityType); err != nil {
		return nil, err
	}
	if err := s.gate.Check(actor, entityType, permission.OpRead, nil); err != nil {
		return nil, err
	}
	return s.load(ctx, entityType, id, includeDeleted)
}

// List reads every record of a type.
func (s *Service) List(ctx context.Context, entityType models.EntityType, actor permission.Actor, opts models.ListOptions) (recs []*models.Record, err error) {
	ctx, done := s.observe(ctx, opList, entityType, "", actor)
	defer func() { done(err) }()

	if _, err := s.schema(entityType); err != nil {
		return nil, err
	}
	if err := s.gate.Check(actor, entityType, permission.OpRead, nil); err != nil {
		return nil, err
	}
	recs, err = s.store.List(ctx, entityType, opts)
	if err != nil {
		return nil, translate(err, entityType, "")
	}
	return recs, nil
}

// GetHistory returns a record's audit entries in occurrence order. Deleted
// records keep their history.
func (s *Service) GetHistory(ctx context.Context, entityType models.EntityType, id string, actor permission.Actor) (entries []audit.Entry, err error) {
	ctx, done := s.observe(ctx, opHistory, entityType, id, actor)
	defer func() { done(err) }()

	if _, err := s.schema(entityType); err != nil {
		return nil, err
	}
	if err := s.gate.Check(actor, entityType, permission.OpRead, nil); err != nil {
		return nil, err
	}
	if _, err := s.load(ctx, entityType, id, true); err != nil {
		return nil, err
	}
	entries, err = s.history.History(ctx, entityType, id)
	if err != nil {
		return nil, translate(err, entityType, id)
	}
	return entries, nil
}

func takeID(input map[string]any) (string, error) {
	raw, ok := input["id"]
	delete(input, "id")
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", dErrors.Validation("id", "must be a string")
	}
	id, reason := models.ValidateID(s)
	if reason != "" {
		return "", dErrors.Validation("id", reason)
	}
	return id, nil
}

// endOfScope ranks a new record after every ranked member of its scope.
func (s *Service) endOfScope(ctx context.Context, schema *models.Schema, fields models.Fields) (float64, error) {
	items, err := s.scope(ctx, schema, fields, "")
	if err != nil {
		return 0, err
	}
	var last *float64
	for _, it := range items {
		if it.Rank != nil && (last == nil || *it.Rank > *last) {
			last = it.Rank
		}
	}
	rank, ok := ranking.Between(last, nil)
	if !ok {
		return 0, dErrors.New(dErrors.CodeInvariantViolation, "ranking scope has no room at the end; place the record explicitly")
	}
	return rank, nil
}

// scope lists live records sharing the rank scope value found in fields.
func (s *Service) scope(ctx context.Context, schema *models.Schema, fields models.Fields, exclude string) ([]ranking.Item, error) {
	recs, err := s.store.List(ctx, schema.Type, models.ListOptions{})
	if err != nil {
		return nil, err
	}
	want := fields[schema.RankScope]
	var items []ranking.Item
	for _, r := range recs {
		if r.ID == exclude || !models.Equal(r.Fields[schema.RankScope], want) {
			continue
		}
		item := ranking.Item{ID: r.ID}
		if v, ok := r.Fields.Number(schema.RankField); ok {
			item.Rank = &v
		}
		items = append(items, item)
	}
	return items, nil
}
