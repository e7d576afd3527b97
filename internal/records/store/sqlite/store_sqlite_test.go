package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformsqlite "pmhub/internal/platform/sqlite"
	"pmhub/internal/records/models"
	"pmhub/internal/records/store/storetest"
	txcontext "pmhub/pkg/platform/tx"
	"pmhub/pkg/requestcontext"
)

func openDB(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	db, err := platformsqlite.Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, nil)
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.RunRecordStoreContract(t, func(t *testing.T) storetest.RecordStore {
		return openDB(t, ":memory:")
	})
}

func TestSQLiteStoreFileContract(t *testing.T) {
	storetest.RunRecordStoreContract(t, func(t *testing.T) storetest.RecordStore {
		return openDB(t, filepath.Join(t.TempDir(), "pmhub.db"))
	})
}

func TestSQLiteStoreRollback(t *testing.T) {
	ctx := context.Background()
	db, err := platformsqlite.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := New(db, nil)

	rec, err := store.Insert(ctx, &models.Record{EntityType: models.EntitySprint, Fields: models.Fields{"name": "S1"}})
	require.NoError(t, err)

	runner := txcontext.NewSQLRunner(db, time.Second)
	err = runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := store.MarkDeleted(ctx, models.EntitySprint, rec.ID, "lead", rec.Version.Ptr()); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := store.Get(ctx, models.EntitySprint, rec.ID, false)
	require.NoError(t, err)
	assert.False(t, got.IsDeleted)
}

func TestSQLiteStoreKeepsRequestTime(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 800, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), at)
	store := openDB(t, ":memory:")

	rec, err := store.Insert(ctx, &models.Record{EntityType: models.EntityTask})
	require.NoError(t, err)
	assert.True(t, at.Equal(rec.CreatedAt))
	assert.True(t, at.Equal(rec.UpdatedAt))
}
