// Package audittest holds the behavioural contract for audit store backends.
package audittest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "pmhub/pkg/platform/audit"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) audit.Store

// RunAuditStoreContract checks ordering, isolation and value fidelity.
func RunAuditStoreContract(t *testing.T, factory Factory) {
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

	t.Run("entries come back in occurrence order", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Append(ctx, audit.Entry{
			Actor: "alice", Action: audit.ActionCreate, EntityType: "risk", EntityID: "rsk-1",
			NewValue: map[string]any{"title": "Vendor delay", "probability": float64(3)},
			Version:  1, OccurredAt: at, RequestID: "req-1",
		}))
		require.NoError(t, store.Append(ctx,
			audit.Entry{Actor: "bob", Action: audit.ActionUpdate, EntityType: "risk", EntityID: "rsk-1",
				FieldName: "probability", OldValue: float64(3), NewValue: float64(4), Version: 2, OccurredAt: at.Add(time.Minute)},
			audit.Entry{Actor: "bob", Action: audit.ActionUpdate, EntityType: "risk", EntityID: "rsk-1",
				FieldName: "owner", OldValue: "alice", NewValue: nil, Version: 2, OccurredAt: at.Add(time.Minute)},
		))

		got, err := store.ListByEntity(ctx, "risk", "rsk-1")
		require.NoError(t, err)
		require.Len(t, got, 3)

		assert.Equal(t, audit.ActionCreate, got[0].Action)
		assert.Equal(t, map[string]any{"title": "Vendor delay", "probability": float64(3)}, got[0].NewValue)
		assert.Nil(t, got[0].OldValue)
		assert.Equal(t, "req-1", got[0].RequestID)
		assert.True(t, at.Equal(got[0].OccurredAt))
		assert.NotEmpty(t, got[0].ID)

		assert.Equal(t, "probability", got[1].FieldName)
		assert.Equal(t, float64(3), got[1].OldValue)
		assert.Equal(t, float64(4), got[1].NewValue)
		assert.Equal(t, "owner", got[2].FieldName)
		assert.Nil(t, got[2].NewValue)
		assert.Equal(t, int64(2), got[2].Version)

		assert.Less(t, got[0].Seq, got[1].Seq)
		assert.Less(t, got[1].Seq, got[2].Seq)
	})

	t.Run("entities are isolated", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Append(ctx,
			audit.Entry{Actor: "a", Action: audit.ActionDelete, EntityType: "task", EntityID: "tsk-1", Version: 3, OccurredAt: at},
			audit.Entry{Actor: "a", Action: audit.ActionDelete, EntityType: "task", EntityID: "tsk-2", Version: 5, OccurredAt: at},
		))
		got, err := store.ListByEntity(ctx, "task", "tsk-2")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(5), got[0].Version)

		none, err := store.ListByEntity(ctx, "task", "tsk-9")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("transition entries keep both statuses", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Append(ctx, audit.Entry{
			Actor: "lead", Action: audit.ActionTransition, EntityType: "gate", EntityID: "gte-1",
			FieldName: "status", OldValue: "pending", NewValue: "approved", Version: 4, OccurredAt: at,
		}))
		got, err := store.ListByEntity(ctx, "gate", "gte-1")
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "pending", got[0].OldValue)
		assert.Equal(t, "approved", got[0].NewValue)
		assert.Equal(t, "status", got[0].FieldName)
	})
}
