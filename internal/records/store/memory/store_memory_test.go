package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmhub/internal/records/models"
	"pmhub/internal/records/store/storetest"
	"pmhub/pkg/platform/sentinel"
	txcontext "pmhub/pkg/platform/tx"
)

func TestInMemoryStoreContract(t *testing.T) {
	storetest.RunRecordStoreContract(t, func(t *testing.T) storetest.RecordStore {
		return New()
	})
}

func TestInMemoryStoreRollsBackWithUnitOfWork(t *testing.T) {
	ctx := context.Background()
	store := New()
	runner := txcontext.NewMemoryRunner()

	rec, err := store.Insert(ctx, &models.Record{EntityType: models.EntityTask, Fields: models.Fields{"title": "a"}})
	require.NoError(t, err)

	var created string
	err = runner.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, models.Fields{"title": "b"}, "bob", rec.Version.Ptr()); err != nil {
			return err
		}
		other, err := store.Insert(ctx, &models.Record{EntityType: models.EntityTask, Fields: models.Fields{"title": "c"}})
		if err != nil {
			return err
		}
		created = other.ID
		return errors.New("audit append failed")
	})
	require.Error(t, err)

	got, err := store.Get(ctx, models.EntityTask, rec.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Fields["title"])
	assert.Equal(t, models.Version(1), got.Version)

	_, err = store.Get(ctx, models.EntityTask, created, false)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestInMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := New()
	rec, err := store.Insert(ctx, &models.Record{EntityType: models.EntityTask, Fields: models.Fields{"title": "a"}})
	require.NoError(t, err)

	rec.Fields["title"] = "mutated"

	got, err := store.Get(ctx, models.EntityTask, rec.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Fields["title"])
}
