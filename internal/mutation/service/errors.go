package service

import (
	"context"
	"errors"
	"fmt"

	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
	"pmhub/pkg/platform/sentinel"
)

// conflictMessage is shown to users whose token went stale.
const conflictMessage = "record was modified by someone else; reload and retry"

// translate maps store sentinels and context errors onto domain codes. Errors
// that already carry a code pass through unchanged.
func translate(err error, entityType models.EntityType, id string) error {
	if err == nil {
		return nil
	}
	if _, ok := dErrors.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, fmt.Sprintf("%s '%s' not found", entityType, id)).
			WithMeta("entity_type", string(entityType)).
			WithMeta("id", id)
	case errors.Is(err, sentinel.ErrAlreadyExists):
		return dErrors.Wrap(err, dErrors.CodeDuplicateID, fmt.Sprintf("%s '%s' already exists", entityType, id)).
			WithMeta("entity_type", string(entityType)).
			WithMeta("id", id)
	case errors.Is(err, sentinel.ErrVersionConflict):
		return dErrors.Wrap(err, dErrors.CodeVersionConflict, conflictMessage).
			WithMeta("entity_type", string(entityType)).
			WithMeta("id", id)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "record store unavailable")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation cancelled or timed out")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "mutation failed")
}

// outcome labels metrics and log lines.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(dErrors.CodeOf(err))
}
