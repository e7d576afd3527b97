package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/platform/audit/store/audittest"
	txcontext "pmhub/pkg/platform/tx"
)

func TestInMemoryStoreContract(t *testing.T) {
	audittest.RunAuditStoreContract(t, func(t *testing.T) audit.Store {
		return NewInMemoryStore()
	})
}

func TestInMemoryStoreRollback(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.Append(ctx, audit.Entry{Action: audit.ActionCreate, EntityType: "task", EntityID: "tsk-1"}))

	err := txcontext.NewMemoryRunner().RunInTx(ctx, func(ctx context.Context) error {
		if err := store.Append(ctx, audit.Entry{Action: audit.ActionUpdate, EntityType: "task", EntityID: "tsk-1"}); err != nil {
			return err
		}
		return errors.New("write failed")
	})
	require.Error(t, err)

	got, err := store.ListByEntity(ctx, "task", "tsk-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, audit.ActionCreate, got[0].Action)
}
