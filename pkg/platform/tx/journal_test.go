package tx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRunnerRollsBackInReverseOrder(t *testing.T) {
	runner := NewMemoryRunner()
	var order []int

	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		j, ok := JournalFrom(ctx)
		require.True(t, ok)
		j.OnRollback(func() { order = append(order, 1) })
		j.OnRollback(func() { order = append(order, 2) })
		return errors.New("append failed")
	})

	require.Error(t, err)
	assert.Equal(t, []int{2, 1}, order)
}

func TestMemoryRunnerKeepsWritesOnSuccess(t *testing.T) {
	runner := NewMemoryRunner()
	undone := false

	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		j, _ := JournalFrom(ctx)
		j.OnRollback(func() { undone = true })
		return nil
	})

	require.NoError(t, err)
	assert.False(t, undone)
}

func TestMemoryRunnerNestedCallsShareJournal(t *testing.T) {
	runner := NewMemoryRunner()
	calls := 0

	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		outer, _ := JournalFrom(ctx)
		return runner.RunInTx(ctx, func(inner context.Context) error {
			j, _ := JournalFrom(inner)
			assert.Same(t, outer, j)
			j.OnRollback(func() { calls++ })
			return errors.New("boom")
		})
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestMemoryRunnerGuardHidesUnitOfWork(t *testing.T) {
	runner := NewMemoryRunner()
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- runner.RunInTx(context.Background(), func(ctx context.Context) error {
			runner.RLock(ctx)()
			runner.Lock(ctx)()
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	read := make(chan struct{})
	go func() {
		defer close(read)
		defer runner.RLock(context.Background())()
	}()

	select {
	case <-read:
		t.Fatal("reader ran while a unit of work was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-done)
	<-read
}

func TestNoGuardNeverBlocks(t *testing.T) {
	unlock := NoGuard.Lock(context.Background())
	NoGuard.RLock(context.Background())()
	unlock()
}
