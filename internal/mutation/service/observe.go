package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pmhub/internal/permission"
	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
	"pmhub/pkg/requestcontext"
)

// observe opens a span for one orchestrator call. The returned func ends it,
// records metrics and logs the outcome.
func (s *Service) observe(ctx context.Context, op string, entityType models.EntityType, id string, actor permission.Actor) (context.Context, func(err error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "mutation."+op,
		trace.WithAttributes(
			attribute.String("pmhub.entity_type", string(entityType)),
			attribute.String("pmhub.entity_id", id),
			attribute.String("pmhub.actor", actor.ID),
			attribute.String("pmhub.role", actor.Role.String()),
		),
	)
	return ctx, func(err error) {
		result := outcome(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
		}
		span.End()

		s.metrics.ObserveCall(op, string(entityType), result, time.Since(start))
		if dErrors.HasCode(err, dErrors.CodeVersionConflict) {
			s.metrics.IncrementConflict(string(entityType))
		}

		attrs := []any{
			"operation", op,
			"entity_type", string(entityType),
			"entity_id", id,
			"actor", actor.ID,
			"request_id", requestcontext.RequestID(ctx),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if err == nil {
			s.logger.Log(ctx, successLevel(op), "mutation applied", attrs...)
			return
		}
		switch dErrors.CodeOf(err) {
		case dErrors.CodeInternal, dErrors.CodeStoreUnavailable, dErrors.CodeTimeout:
			s.logger.ErrorContext(ctx, "mutation failed", append(attrs, "error", err)...)
		default:
			s.logger.InfoContext(ctx, "mutation rejected", append(attrs, "outcome", result, "error", err.Error())...)
		}
	}
}

// Reads log at debug.
func successLevel(op string) slog.Level {
	switch op {
	case opGet, opList, opHistory:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
