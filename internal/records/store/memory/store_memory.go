package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"pmhub/internal/records/models"
	"pmhub/pkg/platform/sentinel"
	txcontext "pmhub/pkg/platform/tx"
	"pmhub/pkg/requestcontext"
)

// InMemoryStore keeps records in a map keyed by entity type and id. Writes made
// inside a MemoryRunner unit of work are undone if the unit fails.
type InMemoryStore struct {
	mu      sync.RWMutex
	guard   txcontext.Guard
	records map[string]*models.Record
}

type Option func(*InMemoryStore)

// WithGuard hides writes of uncommitted units of work run by g from readers.
func WithGuard(g txcontext.Guard) Option {
	return func(s *InMemoryStore) {
		s.guard = g
	}
}

// New returns an empty store.
func New(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{guard: txcontext.NoGuard, records: make(map[string]*models.Record)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Get(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (*models.Record, error) {
	defer s.guard.RLock(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[models.Key(entityType, id)]
	if !ok || (rec.IsDeleted && !includeDeleted) {
		return nil, sentinel.ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Insert(ctx context.Context, rec *models.Record) (*models.Record, error) {
	now := requestcontext.Now(ctx)
	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Version = 1
	stored.IsDeleted = false
	stored.CreatedAt = now
	stored.UpdatedAt = now
	stored.UpdatedBy = stored.CreatedBy
	if stored.Fields == nil {
		stored.Fields = models.Fields{}
	}

	key := stored.Key()
	defer s.guard.Lock(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[key]; exists {
		return nil, sentinel.ErrAlreadyExists
	}
	s.records[key] = stored
	s.journal(ctx, key, nil)
	return stored.Clone(), nil
}

func (s *InMemoryStore) ConditionalUpdate(ctx context.Context, entityType models.EntityType, id string, fields models.Fields, actor string, expected *models.Version) (*models.Record, error) {
	key := models.Key(entityType, id)
	defer s.guard.Lock(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[key]
	if !ok || cur.IsDeleted {
		return nil, sentinel.ErrNotFound
	}
	if expected != nil && cur.Version != *expected {
		return nil, sentinel.ErrVersionConflict
	}
	next := cur.Clone()
	next.Fields = fields.Clone()
	next.Version = cur.Version + 1
	next.UpdatedBy = actor
	next.UpdatedAt = requestcontext.Now(ctx)
	s.records[key] = next
	s.journal(ctx, key, cur)
	return next.Clone(), nil
}

func (s *InMemoryStore) MarkDeleted(ctx context.Context, entityType models.EntityType, id string, actor string, expected *models.Version) (*models.Record, error) {
	key := models.Key(entityType, id)
	defer s.guard.Lock(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[key]
	if !ok || cur.IsDeleted {
		return nil, sentinel.ErrNotFound
	}
	if expected != nil && cur.Version != *expected {
		return nil, sentinel.ErrVersionConflict
	}
	now := requestcontext.Now(ctx)
	next := cur.Clone()
	next.IsDeleted = true
	next.DeletedBy = actor
	next.DeletedAt = &now
	next.UpdatedBy = actor
	next.UpdatedAt = now
	next.Version = cur.Version + 1
	s.records[key] = next
	s.journal(ctx, key, cur)
	return next.Clone(), nil
}

func (s *InMemoryStore) List(ctx context.Context, entityType models.EntityType, opts models.ListOptions) ([]*models.Record, error) {
	defer s.guard.RLock(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Record, 0)
	for _, rec := range s.records {
		if rec.EntityType != entityType || (rec.IsDeleted && !opts.IncludeDeleted) {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// journal registers an undo step restoring prev (or removing the key when prev is
// nil). Callers hold s.mu.
func (s *InMemoryStore) journal(ctx context.Context, key string, prev *models.Record) {
	j, ok := txcontext.JournalFrom(ctx)
	if !ok {
		return
	}
	j.OnRollback(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if prev == nil {
			delete(s.records, key)
			return
		}
		s.records[key] = prev
	})
}
