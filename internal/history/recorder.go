// Package history turns accepted mutations into append-only audit entries and
// replays those entries back into a field map.
package history

import (
	"context"
	"fmt"

	"pmhub/internal/records/models"
	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/requestcontext"
)

// Recorder appends entries through an audit.Store. Appends join the caller's
// unit of work; an append failure fails the mutation.
type Recorder struct {
	store audit.Store
}

func New(store audit.Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) entry(ctx context.Context, actor string, action audit.Action, entityType models.EntityType, id string, version models.Version) audit.Entry {
	return audit.Entry{
		Actor:      actor,
		Action:     action,
		EntityType: string(entityType),
		EntityID:   id,
		Version:    int64(version),
		OccurredAt: requestcontext.Now(ctx),
		RequestID:  requestcontext.RequestID(ctx),
	}
}

// RecordCreate writes one create entry holding the full field snapshot.
func (r *Recorder) RecordCreate(ctx context.Context, actor string, rec *models.Record) error {
	e := r.entry(ctx, actor, audit.ActionCreate, rec.EntityType, rec.ID, rec.Version)
	e.NewValue = map[string]any(rec.Fields.Clone())
	if err := r.store.Append(ctx, e); err != nil {
		return fmt.Errorf("record create history: %w", err)
	}
	return nil
}

// RecordUpdate writes one update entry per differing field and returns how many
// were written. It never reads the record store.
func (r *Recorder) RecordUpdate(ctx context.Context, actor string, entityType models.EntityType, id string, before, after models.Fields, version models.Version) (int, error) {
	changes := Diff(before, after)
	if len(changes) == 0 {
		return 0, nil
	}
	entries := make([]audit.Entry, len(changes))
	for i, c := range changes {
		e := r.entry(ctx, actor, audit.ActionUpdate, entityType, id, version)
		e.FieldName = c.Field
		e.OldValue = c.Old
		e.NewValue = c.New
		entries[i] = e
	}
	if err := r.store.Append(ctx, entries...); err != nil {
		return 0, fmt.Errorf("record update history: %w", err)
	}
	return len(entries), nil
}

// RecordDelete writes one delete entry.
func (r *Recorder) RecordDelete(ctx context.Context, actor string, entityType models.EntityType, id string, version models.Version) error {
	if err := r.store.Append(ctx, r.entry(ctx, actor, audit.ActionDelete, entityType, id, version)); err != nil {
		return fmt.Errorf("record delete history: %w", err)
	}
	return nil
}

// RecordTransition writes one transition entry on the status field.
func (r *Recorder) RecordTransition(ctx context.Context, actor string, entityType models.EntityType, id, from, to string, version models.Version) error {
	e := r.entry(ctx, actor, audit.ActionTransition, entityType, id, version)
	e.FieldName = models.FieldStatus
	if from != "" {
		e.OldValue = from
	}
	e.NewValue = to
	if err := r.store.Append(ctx, e); err != nil {
		return fmt.Errorf("record transition history: %w", err)
	}
	return nil
}

// History returns an entity's entries in occurrence order.
func (r *Recorder) History(ctx context.Context, entityType models.EntityType, id string) ([]audit.Entry, error) {
	entries, err := r.store.ListByEntity(ctx, string(entityType), id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}
