package service

import (
	"context"
	"errors"
	"fmt"

	"pmhub/internal/permission"
	"pmhub/internal/ranking"
	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
	"pmhub/pkg/platform/sentinel"
)

// PlaceRequest moves a ranked record next to BeforeID (placing it right after
// that record) and/or AfterID (right before it). With neither, the record goes
// to the end of its scope.
type PlaceRequest struct {
	EntityType      models.EntityType
	ID              string
	BeforeID        string
	AfterID         string
	Actor           permission.Actor
	ExpectedVersion *models.Version
}

// PlaceResult is the placed record and how many scope members were renumbered.
type PlaceResult struct {
	Record     *models.Record
	Renumbered int
}

// Place computes a fractional rank between the neighbours. When the gap is
// exhausted the whole scope is renumbered first; every rewrite is its own
// conditional update with its own audit entries, all in one unit of work.
func (s *Service) Place(ctx context.Context, req PlaceRequest) (res *PlaceResult, err error) {
	ctx, done := s.observe(ctx, opPlace, req.EntityType, req.ID, req.Actor)
	defer func() { done(err) }()

	schema, err := s.schema(req.EntityType)
	if err != nil {
		return nil, err
	}
	if schema.RankField == "" {
		return nil, dErrors.Validation("entity_type", fmt.Sprintf("%s records are not ranked", req.EntityType))
	}
	current, err := s.load(ctx, req.EntityType, req.ID, false)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Check(req.Actor, req.EntityType, permission.OpUpdate, current.Fields); err != nil {
		return nil, err
	}
	expected := req.ExpectedVersion
	if expected == nil {
		expected = current.Version.Ptr()
	} else if *expected != current.Version {
		return nil, translate(sentinel.ErrVersionConflict, req.EntityType, req.ID)
	}

	res = &PlaceResult{Record: current}
	actor := req.Actor.ID
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		items, err := s.scope(ctx, schema, current.Fields, "")
		if err != nil {
			return err
		}
		plan, err := ranking.Plan(items, req.ID, req.BeforeID, req.AfterID)
		if err != nil {
			return err
		}
		for _, item := range plan.Renumbered {
			if err := s.setRank(ctx, schema, item.ID, actor, nil, *item.Rank); err != nil {
				return err
			}
		}
		placed, err := s.setRankRecord(ctx, schema, req.ID, actor, expected, plan.Rank)
		if err != nil && !errors.Is(err, errUnchanged) {
			return err
		}
		if placed != nil {
			res.Record = placed
		}
		res.Renumbered = len(plan.Renumbered)
		return nil
	})
	if err != nil {
		return nil, translate(err, req.EntityType, req.ID)
	}
	s.metrics.AddRenumbered(string(req.EntityType), res.Renumbered)
	return res, nil
}

func (s *Service) setRank(ctx context.Context, schema *models.Schema, id, actor string, expected *models.Version, rank float64) error {
	_, err := s.setRankRecord(ctx, schema, id, actor, expected, rank)
	if errors.Is(err, errUnchanged) {
		return nil
	}
	return err
}

// setRankRecord writes one rank with its audit entry. It returns errUnchanged
// without writing when the stored rank already matches.
func (s *Service) setRankRecord(ctx context.Context, schema *models.Schema, id, actor string, expected *models.Version, rank float64) (*models.Record, error) {
	res, err := s.occ.Apply(ctx, schema.Type, id, actor, expected, func(cur *models.Record) (models.Fields, error) {
		if v, ok := cur.Fields.Number(schema.RankField); ok && v == rank {
			return nil, errUnchanged
		}
		return cur.Fields.Merge(models.Fields{schema.RankField: rank}), nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.history.RecordUpdate(ctx, actor, schema.Type, id, res.Before.Fields, res.After.Fields, res.After.Version); err != nil {
		return nil, err
	}
	return res.After, nil
}
