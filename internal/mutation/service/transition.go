package service

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"pmhub/internal/lifecycle"
	"pmhub/internal/notify"
	"pmhub/internal/permission"
	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
	"pmhub/pkg/platform/sentinel"
	strutil "pmhub/pkg/platform/strings"
	"pmhub/pkg/requestcontext"
)

// TransitionRequest moves one record to a new status. Fields are extra field
// changes written with the transition (a gate decision, a risk response). They are
// rejected when ToStatus is already the current status.
type TransitionRequest struct {
	EntityType      models.EntityType
	ID              string
	ToStatus        string
	Actor           permission.Actor
	ExpectedVersion *models.Version
	Fields          map[string]any
}

var scoreInputs = []string{
	"probability", "impact", models.FieldScore,
	"residual_probability", "residual_impact", models.FieldResidualScore,
}

// Transition validates and applies a status change. A stale ExpectedVersion
// fails before the lifecycle is consulted. Moving to the current status
// succeeds without writing. Side-effect stamps are written in the same unit of
// work as a second conditional update; notifications go out after commit.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (rec *models.Record, err error) {
	ctx, done := s.observe(ctx, opTransition, req.EntityType, req.ID, req.Actor)
	defer func() { done(err) }()

	schema, err := s.schema(req.EntityType)
	if err != nil {
		return nil, err
	}
	current, err := s.load(ctx, req.EntityType, req.ID, false)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != current.Version {
		return nil, translate(fmt.Errorf("transition at version %s, stored %s: %w",
			req.ExpectedVersion, current.Version, sentinel.ErrVersionConflict), req.EntityType, req.ID)
	}
	to := strings.ToLower(strings.TrimSpace(req.ToStatus))
	if to == "" {
		return nil, dErrors.Validation("to_status", "is required")
	}

	extra := models.Fields{}
	if len(req.Fields) > 0 {
		if _, ok := req.Fields[models.FieldStatus]; ok {
			return nil, dErrors.Validation(models.FieldStatus, "the target status is given by to_status")
		}
		if extra, err = schema.ValidateChanges(req.Fields); err != nil {
			return nil, err
		}
	}
	merged := current.Fields.Merge(extra)
	if req.EntityType == models.EntityRisk && touchesAny(extra, scoreInputs) {
		derived, err := lifecycle.DeriveRiskScores(extra, merged)
		if err != nil {
			return nil, err
		}
		merged = merged.Merge(derived)
	}

	from := current.Status()
	if to == from {
		if err := s.gate.Check(req.Actor, req.EntityType, permission.OpTransition, current.Fields); err != nil {
			return nil, err
		}
		if len(extra) > 0 {
			return nil, dErrors.Validation("fields", "record is already in status "+to+"; change fields with an update")
		}
		return current, nil
	}
	transition, err := s.lifecycle.ValidateTransition(req.EntityType, from, to, req.Actor, merged)
	if err != nil {
		return nil, err
	}
	if err := schema.ValidateRecord(merged); err != nil {
		return nil, err
	}

	actor := req.Actor.ID
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		res, err := s.occ.Apply(ctx, req.EntityType, req.ID, actor, req.ExpectedVersion, func(cur *models.Record) (models.Fields, error) {
			if cur.Version != current.Version {
				return nil, fmt.Errorf("record moved past version %s: %w", current.Version, sentinel.ErrVersionConflict)
			}
			next := merged.Clone()
			next[models.FieldStatus] = to
			return next, nil
		})
		if err != nil {
			return err
		}
		if _, err := s.history.RecordUpdate(ctx, actor, req.EntityType, req.ID,
			withoutStatus(res.Before.Fields), withoutStatus(res.After.Fields), res.After.Version); err != nil {
			return err
		}
		if err := s.history.RecordTransition(ctx, actor, req.EntityType, req.ID, from, to, res.After.Version); err != nil {
			return err
		}
		after := res.After

		effects := transition.Effects(actor, requestcontext.Now(ctx), after.Fields)
		if len(effects) > 0 {
			stamped, err := s.occ.Apply(ctx, req.EntityType, req.ID, actor, after.Version.Ptr(), func(cur *models.Record) (models.Fields, error) {
				return cur.Fields.Merge(effects), nil
			})
			if err != nil {
				return err
			}
			if _, err := s.history.RecordUpdate(ctx, actor, req.EntityType, req.ID,
				stamped.Before.Fields, stamped.After.Fields, stamped.After.Version); err != nil {
				return err
			}
			after = stamped.After
		}
		rec = after
		return nil
	})
	if err != nil {
		return nil, translate(err, req.EntityType, req.ID)
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.Event{
			EntityType: string(req.EntityType),
			EntityID:   req.ID,
			From:       from,
			To:         to,
			Actor:      actor,
			Version:    int64(rec.Version),
			OccurredAt: requestcontext.Now(ctx),
			RequestID:  requestcontext.RequestID(ctx),
		})
	}
	return rec, nil
}

func withoutStatus(f models.Fields) models.Fields {
	out := f.Clone()
	delete(out, models.FieldStatus)
	return out
}

func touchesAny(f models.Fields, keys []string) bool {
	for _, k := range keys {
		if _, ok := f[k]; ok {
			return true
		}
	}
	return false
}

// BulkTransitionRequest moves many records of one type to the same status.
type BulkTransitionRequest struct {
	EntityType models.EntityType
	IDs        []string
	ToStatus   string
	Actor      permission.Actor
	Fields     map[string]any
}

// BulkOutcome is the result for one id. Err is nil on success.
type BulkOutcome struct {
	ID     string
	Record *models.Record
	Err    error
}

// BulkResult lists outcomes in request order, duplicates removed.
type BulkResult struct {
	Outcomes  []BulkOutcome
	Succeeded int
	Failed    int
}

// BulkTransition applies one transition per id independently, without version
// tokens: each write still pins the version it read. Partial success is a
// normal result; the error return is reserved for a malformed request.
func (s *Service) BulkTransition(ctx context.Context, req BulkTransitionRequest) (res *BulkResult, err error) {
	ctx, done := s.observe(ctx, opBulk, req.EntityType, "", req.Actor)
	defer func() { done(err) }()

	if _, err := s.schema(req.EntityType); err != nil {
		return nil, err
	}
	ids := strutil.DedupeAndTrim(req.IDs)
	if len(ids) == 0 {
		return nil, dErrors.Validation("ids", "at least one id is required")
	}

	outcomes := make([]BulkOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(s.bulkConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i] = BulkOutcome{ID: id, Err: translate(err, req.EntityType, id)}
				return nil
			}
			rec, err := s.Transition(ctx, TransitionRequest{
				EntityType: req.EntityType,
				ID:         id,
				ToStatus:   req.ToStatus,
				Actor:      req.Actor,
				Fields:     req.Fields,
			})
			outcomes[i] = BulkOutcome{ID: id, Record: rec, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	res = &BulkResult{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Err != nil {
			res.Failed++
			s.metrics.IncrementBulkOutcome(string(dErrors.CodeOf(o.Err)))
			continue
		}
		res.Succeeded++
		s.metrics.IncrementBulkOutcome("ok")
	}
	return res, nil
}
