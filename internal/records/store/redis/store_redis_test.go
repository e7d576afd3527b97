package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformredis "pmhub/internal/platform/redis"
	"pmhub/internal/records/models"
	"pmhub/internal/records/store/storetest"
	"pmhub/pkg/platform/sentinel"
)

func newStore(t *testing.T) (*RedisStore, *platformredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := platformredis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr(), PoolSize: 32}))
	t.Cleanup(func() { _ = client.Close() })
	return New(client), client
}

func TestRedisStoreContract(t *testing.T) {
	storetest.RunRecordStoreContract(t, func(t *testing.T) storetest.RecordStore {
		s, _ := newStore(t)
		return s
	})
}

func TestRedisStoreWritesCommitTogether(t *testing.T) {
	ctx := context.Background()
	store, client := newStore(t)
	rec, err := store.Insert(ctx, &models.Record{EntityType: models.EntityRisk, Fields: models.Fields{"title": "r"}})
	require.NoError(t, err)

	err = client.RunInTx(ctx, func(ctx context.Context) error {
		updated, err := store.ConditionalUpdate(ctx, models.EntityRisk, rec.ID, models.Fields{"title": "r2"}, "bob", rec.Version.Ptr())
		if err != nil {
			return err
		}
		// reads inside the batch observe staged writes
		got, err := store.Get(ctx, models.EntityRisk, rec.ID, false)
		require.NoError(t, err)
		assert.Equal(t, updated.Version, got.Version)
		return errors.New("history append failed")
	})
	require.Error(t, err)

	got, err := store.Get(ctx, models.EntityRisk, rec.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "r", got.Fields["title"])
	assert.Equal(t, models.Version(1), got.Version)
}

func TestRedisStoreUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := platformredis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	store := New(client)
	mr.Close()

	_, err := store.Get(context.Background(), models.EntityTask, "tsk-1", false)
	assert.ErrorIs(t, err, sentinel.ErrUnavailable)
}
