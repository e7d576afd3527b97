// Package audit defines the append-only change history entry and the store
// contract shared by every backend.
package audit

import (
	"context"
	"time"
)

// Action is the kind of mutation an entry records.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionTransition Action = "transition"
)

// EventCategory classifies entries for downstream routing and retention.
type EventCategory string

const (
	// CategoryCompliance covers lifecycle decisions and removals that must be
	// retained for review (transitions, deletes).
	CategoryCompliance EventCategory = "compliance"
	// CategoryOperations covers routine edits.
	CategoryOperations EventCategory = "operations"
)

// Category derives the routing category from the action.
func (a Action) Category() EventCategory {
	switch a {
	case ActionTransition, ActionDelete:
		return CategoryCompliance
	default:
		return CategoryOperations
	}
}

// Entry is one immutable history row. FieldName is empty for create and delete
// entries; a create entry carries the full field snapshot as NewValue.
//
// Seq is assigned by the store and orders entries that share OccurredAt.
type Entry struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Actor      string    `json:"actor"`
	Action     Action    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	FieldName  string    `json:"field_name,omitempty"`
	OldValue   any       `json:"old_value"`
	NewValue   any       `json:"new_value"`
	Version    int64     `json:"version"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Store appends and reads history. Append joins the caller's unit of work, so
// a failed append rolls back the record write it describes.
type Store interface {
	Append(ctx context.Context, entries ...Entry) error
	ListByEntity(ctx context.Context, entityType, entityID string) ([]Entry, error)
}
