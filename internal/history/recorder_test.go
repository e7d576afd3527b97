package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pmhub/internal/records/models"
	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/platform/audit/store/memory"
	"pmhub/pkg/requestcontext"
)

func TestDiff(t *testing.T) {
	before := models.Fields{"title": "a", "impact": float64(3), "owner": "alice"}
	after := models.Fields{"title": "a", "impact": float64(4), "notes": "new"}

	changes := Diff(before, after)

	assert.Equal(t, []FieldChange{
		{Field: "impact", Old: float64(3), New: float64(4)},
		{Field: "notes", Old: nil, New: "new"},
		{Field: "owner", Old: "alice", New: nil},
	}, changes)
	assert.Empty(t, Diff(before, before.Clone()))
}

func TestRecorderWritesOneEntryPerChangedField(t *testing.T) {
	at := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), at), "req-42")
	store := memory.NewInMemoryStore()
	rec := New(store)

	n, err := rec.RecordUpdate(ctx, "bob", models.EntityRisk, "rsk-1",
		models.Fields{"impact": float64(3), "title": "t"},
		models.Fields{"impact": float64(5), "title": "t"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := rec.History(ctx, models.EntityRisk, "rsk-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, audit.ActionUpdate, e.Action)
	assert.Equal(t, "impact", e.FieldName)
	assert.Equal(t, "bob", e.Actor)
	assert.Equal(t, int64(2), e.Version)
	assert.Equal(t, "req-42", e.RequestID)
	assert.True(t, at.Equal(e.OccurredAt))
}

func TestRecorderSkipsEmptyDiff(t *testing.T) {
	store := memory.NewInMemoryStore()
	n, err := New(store).RecordUpdate(context.Background(), "bob", models.EntityTask, "tsk-1",
		models.Fields{"title": "same"}, models.Fields{"title": "same"}, 2)
	require.NoError(t, err)
	assert.Zero(t, n)

	entries, _ := store.ListByEntity(context.Background(), "task", "tsk-1")
	assert.Empty(t, entries)
}

func TestReplayReconstructsFields(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	r := New(store)

	created := &models.Record{ID: "tsk-7", EntityType: models.EntityTask, Version: 1,
		Fields: models.Fields{"title": "Draft plan", "status": "backlog", "story_points": float64(3)}}
	require.NoError(t, r.RecordCreate(ctx, "alice", created))
	_, err := r.RecordUpdate(ctx, "bob", models.EntityTask, "tsk-7",
		created.Fields,
		models.Fields{"title": "Final plan", "status": "backlog"}, 2)
	require.NoError(t, err)
	require.NoError(t, r.RecordTransition(ctx, "bob", models.EntityTask, "tsk-7", "backlog", "in_progress", 3))

	entries, err := r.History(ctx, models.EntityTask, "tsk-7")
	require.NoError(t, err)
	fields, deleted := Replay(entries)

	assert.False(t, deleted)
	assert.Equal(t, models.Fields{"title": "Final plan", "status": "in_progress"}, fields)

	require.NoError(t, r.RecordDelete(ctx, "lead", models.EntityTask, "tsk-7", 4))
	entries, err = r.History(ctx, models.EntityTask, "tsk-7")
	require.NoError(t, err)
	_, deleted = Replay(entries)
	assert.True(t, deleted)
}
