package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityType discriminates the kind of record stored under a common shape.
type EntityType string

const (
	EntityPortfolio   EntityType = "portfolio"
	EntityProject     EntityType = "project"
	EntityCharter     EntityType = "charter"
	EntityPhase       EntityType = "phase"
	EntityGate        EntityType = "gate"
	EntityDeliverable EntityType = "deliverable"
	EntitySprint      EntityType = "sprint"
	EntityTask        EntityType = "task"
	EntityRisk        EntityType = "risk"
	EntityDependency  EntityType = "dependency"
	EntityComment     EntityType = "comment"
	EntityTimeEntry   EntityType = "time_entry"
)

// ParseEntityType normalizes raw input into a known entity type.
func ParseEntityType(raw string) (EntityType, bool) {
	et := EntityType(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := schemas[et]
	return et, ok
}

// Version is the optimistic concurrency token. It starts at 1 on insert and
// advances by one on every accepted mutation.
type Version int64

func (v Version) String() string {
	return strconv.FormatInt(int64(v), 10)
}

// Ptr returns a pointer to a copy of v, for use as an expected version.
func (v Version) Ptr() *Version {
	return &v
}

// ParseVersion parses an externally supplied token. An empty string means no
// token was supplied and yields nil.
func ParseVersion(raw string) (*Version, error) {
	raw = strings.Trim(strings.TrimSpace(raw), `"`)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("invalid version token %q", raw)
	}
	v := Version(n)
	return &v, nil
}

// Record is any mutable entity instance.
//
// Invariants:
//   - Version changes on every accepted mutation and only on accepted mutations
//   - Fields never hold nil values; clearing a field removes the key
//   - A deleted record keeps its fields; IsDeleted hides it from default reads
type Record struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type"`
	Fields     Fields     `json:"fields"`
	Version    Version    `json:"version"`
	IsDeleted  bool       `json:"is_deleted"`
	CreatedBy  string     `json:"created_by"`
	UpdatedBy  string     `json:"updated_by,omitempty"`
	DeletedBy  string     `json:"deleted_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// Status returns the lifecycle status field, or "" for entities without one.
func (r *Record) Status() string {
	return r.Fields.String(FieldStatus)
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Fields = r.Fields.Clone()
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// Key returns the composite identity used by key-value backends.
func (r *Record) Key() string {
	return Key(r.EntityType, r.ID)
}

// Key joins an entity type and id.
func Key(entityType EntityType, id string) string {
	return string(entityType) + ":" + id
}

// ListOptions filters List reads.
type ListOptions struct {
	IncludeDeleted bool
}
