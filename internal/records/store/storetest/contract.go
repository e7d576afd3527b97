// Package storetest holds the behavioural contract every record store backend
// must satisfy. Backend packages run it from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmhub/internal/records/models"
	"pmhub/pkg/platform/sentinel"
)

// RecordStore is the adapter surface under test.
type RecordStore interface {
	Get(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (*models.Record, error)
	Insert(ctx context.Context, rec *models.Record) (*models.Record, error)
	ConditionalUpdate(ctx context.Context, entityType models.EntityType, id string, fields models.Fields, actor string, expected *models.Version) (*models.Record, error)
	MarkDeleted(ctx context.Context, entityType models.EntityType, id string, actor string, expected *models.Version) (*models.Record, error)
	List(ctx context.Context, entityType models.EntityType, opts models.ListOptions) ([]*models.Record, error)
}

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) RecordStore

func newTask(title string) *models.Record {
	return &models.Record{
		EntityType: models.EntityTask,
		Fields:     models.Fields{"title": title, "status": "backlog", "story_points": float64(3)},
		CreatedBy:  "alice@example.com",
	}
}

// RunRecordStoreContract exercises insert, read, conditional update and soft delete.
func RunRecordStoreContract(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("insert assigns id and initial version", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Insert(ctx, newTask("write plan"))
		require.NoError(t, err)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, models.Version(1), rec.Version)

		got, err := store.Get(ctx, models.EntityTask, rec.ID, false)
		require.NoError(t, err)
		assert.Equal(t, "write plan", got.Fields["title"])
		assert.Equal(t, float64(3), got.Fields["story_points"])
		assert.Equal(t, "alice@example.com", got.CreatedBy)
		assert.False(t, got.IsDeleted)
	})

	t.Run("insert with existing id is rejected", func(t *testing.T) {
		store := factory(t)
		rec := newTask("dup")
		rec.ID = uuid.NewString()
		_, err := store.Insert(ctx, rec)
		require.NoError(t, err)

		_, err = store.Insert(ctx, rec)
		assert.ErrorIs(t, err, sentinel.ErrAlreadyExists)
	})

	t.Run("get missing record", func(t *testing.T) {
		store := factory(t)
		_, err := store.Get(ctx, models.EntityTask, uuid.NewString(), false)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("entity type is part of identity", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Insert(ctx, newTask("typed"))
		require.NoError(t, err)
		_, err = store.Get(ctx, models.EntityRisk, rec.ID, false)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("conditional update with matching version", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Insert(ctx, newTask("v1"))
		require.NoError(t, err)

		fields := rec.Fields.Merge(models.Fields{"title": "v2"})
		updated, err := store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, fields, "bob@example.com", rec.Version.Ptr())
		require.NoError(t, err)
		assert.Equal(t, models.Version(2), updated.Version)
		assert.Equal(t, "v2", updated.Fields["title"])
		assert.Equal(t, "bob@example.com", updated.UpdatedBy)

		got, err := store.Get(ctx, models.EntityTask, rec.ID, false)
		require.NoError(t, err)
		assert.Equal(t, models.Version(2), got.Version)
		assert.Equal(t, "v2", got.Fields["title"])
	})

	t.Run("conditional update with stale version", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Insert(ctx, newTask("v1"))
		require.NoError(t, err)
		_, err = store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, rec.Fields, "bob", rec.Version.Ptr())
		require.NoError(t, err)

		_, err = store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, rec.Fields, "carol", rec.Version.Ptr())
		assert.ErrorIs(t, err, sentinel.ErrVersionConflict)
	})

	t.Run("conditional update without version", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Insert(ctx, newTask("v1"))
		require.NoError(t, err)

		updated, err := store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, models.Fields{"title": "forced"}, "bulk", nil)
		require.NoError(t, err)
		assert.Equal(t, models.Version(2), updated.Version)
		assert.Equal(t, models.Fields{"title": "forced"}, updated.Fields)
	})

	t.Run("conditional update of missing record", func(t *testing.T) {
		store := factory(t)
		v := models.Version(1)
		_, err := store.ConditionalUpdate(ctx, models.EntityTask, uuid.NewString(), models.Fields{}, "bob", &v)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("mark deleted hides the record", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Insert(ctx, newTask("gone"))
		require.NoError(t, err)

		deleted, err := store.MarkDeleted(ctx, models.EntityTask, rec.ID, "dave", rec.Version.Ptr())
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted)
		assert.Equal(t, models.Version(2), deleted.Version)

		_, err = store.Get(ctx, models.EntityTask, rec.ID, false)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		got, err := store.Get(ctx, models.EntityTask, rec.ID, true)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted)
		assert.Equal(t, "dave", got.DeletedBy)
		require.NotNil(t, got.DeletedAt)
		assert.Equal(t, "gone", got.Fields["title"])

		_, err = store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, rec.Fields, "dave", deleted.Version.Ptr())
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		_, err = store.MarkDeleted(ctx, models.EntityTask, rec.ID, "dave", nil)
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("mark deleted with stale version", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Insert(ctx, newTask("contended"))
		require.NoError(t, err)
		_, err = store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, rec.Fields, "bob", rec.Version.Ptr())
		require.NoError(t, err)

		_, err = store.MarkDeleted(ctx, models.EntityTask, rec.ID, "dave", rec.Version.Ptr())
		assert.ErrorIs(t, err, sentinel.ErrVersionConflict)
	})

	t.Run("list excludes deleted by default", func(t *testing.T) {
		store := factory(t)
		keep, err := store.Insert(ctx, newTask("keep"))
		require.NoError(t, err)
		drop, err := store.Insert(ctx, newTask("drop"))
		require.NoError(t, err)
		_, err = store.MarkDeleted(ctx, models.EntityTask, drop.ID, "dave", nil)
		require.NoError(t, err)

		live, err := store.List(ctx, models.EntityTask, models.ListOptions{})
		require.NoError(t, err)
		require.Len(t, live, 1)
		assert.Equal(t, keep.ID, live[0].ID)

		all, err := store.List(ctx, models.EntityTask, models.ListOptions{IncludeDeleted: true})
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("concurrent updates at the same version have one winner", func(t *testing.T) {
		store := factory(t)
		rec, err := store.Insert(ctx, newTask("race"))
		require.NoError(t, err)

		const writers = 20
		var wg sync.WaitGroup
		var wins, conflicts atomic.Int32
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				fields := rec.Fields.Merge(models.Fields{"story_points": float64(n)})
				_, err := store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, fields, "racer", rec.Version.Ptr())
				switch {
				case err == nil:
					wins.Add(1)
				case assert.ErrorIs(t, err, sentinel.ErrVersionConflict):
					conflicts.Add(1)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		assert.Equal(t, int32(writers-1), conflicts.Load())
		got, err := store.Get(ctx, models.EntityTask, rec.ID, false)
		require.NoError(t, err)
		assert.Equal(t, models.Version(2), got.Version)
	})
}
