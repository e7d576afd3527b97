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
	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/platform/audit/store/audittest"
)

func newClient(t *testing.T) *platformredis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c := platformredis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisAuditStoreContract(t *testing.T) {
	audittest.RunAuditStoreContract(t, func(t *testing.T) audit.Store {
		return New(newClient(t))
	})
}

func TestRedisAuditStoreJoinsBatch(t *testing.T) {
	ctx := context.Background()
	client := newClient(t)
	store := New(client)

	err := client.RunInTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Append(ctx, audit.Entry{Action: audit.ActionUpdate, EntityType: "task", EntityID: "tsk-1"}))
		return errors.New("record write failed")
	})
	require.Error(t, err)

	got, err := store.ListByEntity(ctx, "task", "tsk-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}
