package history

import (
	"sort"

	"pmhub/internal/records/models"
	audit "pmhub/pkg/platform/audit"
)

// FieldChange is one differing field. A nil Old means the field appeared; a
// nil New means it was cleared.
type FieldChange struct {
	Field string
	Old   any
	New   any
}

// Diff compares two field sets over the union of their keys, in key order.
func Diff(before, after models.Fields) []FieldChange {
	keys := before.Keys()
	for _, k := range after.Keys() {
		if _, ok := before[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var changes []FieldChange
	for _, k := range keys {
		oldV, newV := before[k], after[k]
		if models.Equal(oldV, newV) {
			continue
		}
		changes = append(changes, FieldChange{Field: k, Old: oldV, New: newV})
	}
	return changes
}

// Replay folds entries into the field map they describe: the create snapshot,
// then field updates and status transitions in order. deleted reports whether
// a delete entry was seen.
func Replay(entries []audit.Entry) (fields models.Fields, deleted bool) {
	fields = models.Fields{}
	for _, e := range entries {
		switch e.Action {
		case audit.ActionCreate:
			fields = models.Fields{}
			if snap, ok := e.NewValue.(map[string]any); ok {
				fields = models.Normalize(snap)
			}
		case audit.ActionUpdate, audit.ActionTransition:
			if e.NewValue == nil {
				delete(fields, e.FieldName)
				continue
			}
			fields[e.FieldName] = models.NormalizeValue(e.NewValue)
		case audit.ActionDelete:
			deleted = true
		}
	}
	return fields, deleted
}
