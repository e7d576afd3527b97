package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	audit "pmhub/pkg/platform/audit"
	txcontext "pmhub/pkg/platform/tx"
)

// InMemoryStore keeps history per entity. Appends made inside a MemoryRunner
// unit of work are removed if the unit fails.
type InMemoryStore struct {
	mu      sync.RWMutex
	guard   txcontext.Guard
	seq     int64
	entries map[string][]audit.Entry
}

type Option func(*InMemoryStore)

// WithGuard hides appends of uncommitted units of work run by g from readers.
func WithGuard(g txcontext.Guard) Option {
	return func(s *InMemoryStore) {
		s.guard = g
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{guard: txcontext.NoGuard, entries: make(map[string][]audit.Entry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func key(entityType, entityID string) string {
	return entityType + ":" + entityID
}

func (s *InMemoryStore) Append(ctx context.Context, entries ...audit.Entry) error {
	defer s.guard.Lock(ctx)()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.seq++
		e.Seq = s.seq
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		k := key(e.EntityType, e.EntityID)
		s.entries[k] = append(s.entries[k], e)
		if j, ok := txcontext.JournalFrom(ctx); ok {
			seq := e.Seq
			j.OnRollback(func() { s.remove(k, seq) })
		}
	}
	return nil
}

func (s *InMemoryStore) remove(k string, seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[k]
	for i := range list {
		if list[i].Seq == seq {
			s.entries[k] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (s *InMemoryStore) ListByEntity(ctx context.Context, entityType, entityID string) ([]audit.Entry, error) {
	defer s.guard.RLock(ctx)()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]audit.Entry{}, s.entries[key(entityType, entityID)]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

// Clear drops all history.
func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]audit.Entry)
}
