package tx

import (
	"context"
	"sync"
)

type journalKey struct{}

// Journal collects undo steps for in-memory stores taking part in a unit of work.
type Journal struct {
	undo []func()
}

// OnRollback registers fn to run if the unit of work fails. Steps run in reverse
// registration order.
func (j *Journal) OnRollback(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *Journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
}

// JournalFrom extracts the journal of the enclosing in-memory unit of work.
func JournalFrom(ctx context.Context) (*Journal, bool) {
	j, ok := ctx.Value(journalKey{}).(*Journal)
	return j, ok
}

// Guard is implemented by runners whose stores must hide in-flight units of work
// from readers outside them.
type Guard interface {
	// RLock blocks until no unit of work is running. It is a no-op inside one.
	RLock(ctx context.Context) (unlock func())
	// Lock excludes units of work and readers. It is a no-op inside a unit of work.
	Lock(ctx context.Context) (unlock func())
}

// MemoryRunner serializes in-memory units of work and undoes their writes on failure.
// Stores built with it as their Guard never expose a unit of work before it commits.
type MemoryRunner struct {
	mu sync.RWMutex
}

// NewMemoryRunner returns a runner for the in-memory backend.
func NewMemoryRunner() *MemoryRunner {
	return &MemoryRunner{}
}

// RunInTx runs fn with a fresh journal; nested calls share the outer one.
func (r *MemoryRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := JournalFrom(ctx); ok {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &Journal{}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

func (r *MemoryRunner) RLock(ctx context.Context) func() {
	if _, ok := JournalFrom(ctx); ok {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

func (r *MemoryRunner) Lock(ctx context.Context) func() {
	if _, ok := JournalFrom(ctx); ok {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

type noGuard struct{}

func (noGuard) RLock(context.Context) func() { return func() {} }
func (noGuard) Lock(context.Context) func()  { return func() {} }

// NoGuard is used by stores that are not shared with a MemoryRunner.
var NoGuard Guard = noGuard{}
