// Package occ applies read-modify-write mutations under optimistic concurrency.
// The store's conditional update is the only serialization point; the
// controller never retries a conflict.
package occ

import (
	"context"
	"errors"
	"fmt"

	"pmhub/internal/records/models"
	"pmhub/pkg/platform/sentinel"
)

// Store is the record store surface the controller needs.
type Store interface {
	Get(ctx context.Context, entityType models.EntityType, id string, includeDeleted bool) (*models.Record, error)
	ConditionalUpdate(ctx context.Context, entityType models.EntityType, id string, fields models.Fields, actor string, expected *models.Version) (*models.Record, error)
	MarkDeleted(ctx context.Context, entityType models.EntityType, id string, actor string, expected *models.Version) (*models.Record, error)
}

// Mutator computes the next field set from a private copy of the current record.
type Mutator func(current *models.Record) (models.Fields, error)

// Result carries both sides of an applied change.
type Result struct {
	Before *models.Record
	After  *models.Record
}

// Controller wraps a Store with compare-and-swap semantics.
type Controller struct {
	store Store
}

func New(store Store) *Controller {
	return &Controller{store: store}
}

// Apply reads the live record, runs mutate on a copy and writes the result if
// the stored version still equals expected. With expected nil the controller
// pins the version it read, so a write that lands between read and write is
// never overwritten.
func (c *Controller) Apply(ctx context.Context, entityType models.EntityType, id, actor string, expected *models.Version, mutate Mutator) (*Result, error) {
	current, err := c.store.Get(ctx, entityType, id, false)
	if err != nil {
		return nil, err
	}
	if expected != nil && current.Version != *expected {
		return nil, fmt.Errorf("apply %s/%s: %w", entityType, id, sentinel.ErrVersionConflict)
	}
	fields, err := mutate(current.Clone())
	if err != nil {
		return nil, err
	}
	after, err := c.store.ConditionalUpdate(ctx, entityType, id, fields, actor, current.Version.Ptr())
	if err != nil {
		return nil, conflictOrErr(err)
	}
	return &Result{Before: current, After: after}, nil
}

// Delete soft-deletes the record under the same version rule as Apply.
func (c *Controller) Delete(ctx context.Context, entityType models.EntityType, id, actor string, expected *models.Version) (*Result, error) {
	current, err := c.store.Get(ctx, entityType, id, false)
	if err != nil {
		return nil, err
	}
	if expected != nil && current.Version != *expected {
		return nil, fmt.Errorf("delete %s/%s: %w", entityType, id, sentinel.ErrVersionConflict)
	}
	after, err := c.store.MarkDeleted(ctx, entityType, id, actor, current.Version.Ptr())
	if err != nil {
		return nil, conflictOrErr(err)
	}
	return &Result{Before: current, After: after}, nil
}

// conflictOrErr reports a record deleted between read and write as a conflict:
// the caller's view was stale.
func conflictOrErr(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return fmt.Errorf("%w: record changed after read", sentinel.ErrVersionConflict)
	}
	return err
}
