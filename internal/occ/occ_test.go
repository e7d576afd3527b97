package occ

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"pmhub/internal/records/models"
	"pmhub/internal/records/store/memory"
	"pmhub/pkg/platform/sentinel"
)

type ControllerSuite struct {
	suite.Suite
	store *memory.InMemoryStore
	occ   *Controller
	rec   *models.Record
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.store = memory.New()
	s.occ = New(s.store)
	rec, err := s.store.Insert(context.Background(), &models.Record{
		EntityType: models.EntityRisk,
		Fields:     models.Fields{"title": "Vendor delay", "probability": float64(3), "impact": float64(4)},
	})
	s.Require().NoError(err)
	s.rec = rec
}

func setField(key string, v any) Mutator {
	return func(cur *models.Record) (models.Fields, error) {
		return cur.Fields.Merge(models.Fields{key: v}), nil
	}
}

func (s *ControllerSuite) TestApplyWithMatchingVersion() {
	res, err := s.occ.Apply(context.Background(), models.EntityRisk, s.rec.ID, "bob", s.rec.Version.Ptr(), setField("impact", float64(5)))
	s.Require().NoError(err)
	s.Equal(float64(4), res.Before.Fields["impact"])
	s.Equal(float64(5), res.After.Fields["impact"])
	s.Equal(models.Version(2), res.After.Version)
}

func (s *ControllerSuite) TestApplyStaleVersionNeverCallsMutator() {
	stale := models.Version(7)
	called := false
	_, err := s.occ.Apply(context.Background(), models.EntityRisk, s.rec.ID, "bob", &stale, func(*models.Record) (models.Fields, error) {
		called = true
		return nil, nil
	})
	s.ErrorIs(err, sentinel.ErrVersionConflict)
	s.False(called)
}

func (s *ControllerSuite) TestMutatorErrorWritesNothing() {
	boom := errors.New("invalid")
	_, err := s.occ.Apply(context.Background(), models.EntityRisk, s.rec.ID, "bob", nil, func(*models.Record) (models.Fields, error) {
		return nil, boom
	})
	s.ErrorIs(err, boom)

	got, err := s.store.Get(context.Background(), models.EntityRisk, s.rec.ID, false)
	s.Require().NoError(err)
	s.Equal(models.Version(1), got.Version)
}

func (s *ControllerSuite) TestMutatorReceivesCopy() {
	_, err := s.occ.Apply(context.Background(), models.EntityRisk, s.rec.ID, "bob", nil, func(cur *models.Record) (models.Fields, error) {
		cur.Fields["title"] = "scribbled"
		return nil, errors.New("stop")
	})
	s.Require().Error(err)
	got, _ := s.store.Get(context.Background(), models.EntityRisk, s.rec.ID, false)
	s.Equal("Vendor delay", got.Fields["title"])
}

func (s *ControllerSuite) TestApplyMissingRecord() {
	_, err := s.occ.Apply(context.Background(), models.EntityRisk, "rsk-404", "bob", nil, setField("x", "y"))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ControllerSuite) TestDelete() {
	res, err := s.occ.Delete(context.Background(), models.EntityRisk, s.rec.ID, "lead", s.rec.Version.Ptr())
	s.Require().NoError(err)
	s.True(res.After.IsDeleted)

	_, err = s.occ.Delete(context.Background(), models.EntityRisk, s.rec.ID, "lead", nil)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *ControllerSuite) TestDeleteStale() {
	stale := models.Version(9)
	_, err := s.occ.Delete(context.Background(), models.EntityRisk, s.rec.ID, "lead", &stale)
	s.ErrorIs(err, sentinel.ErrVersionConflict)
}

// A writer that slips in between read and write turns an unversioned apply
// into a conflict instead of a lost update.
func TestApplyWithoutVersionPinsReadVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec, err := store.Insert(ctx, &models.Record{EntityType: models.EntityTask, Fields: models.Fields{"title": "a"}})
	require.NoError(t, err)
	ctrl := New(store)

	_, err = ctrl.Apply(ctx, models.EntityTask, rec.ID, "bulk", nil, func(cur *models.Record) (models.Fields, error) {
		_, err := store.ConditionalUpdate(ctx, models.EntityTask, rec.ID, models.Fields{"title": "interloper"}, "other", nil)
		require.NoError(t, err)
		return cur.Fields.Merge(models.Fields{"title": "bulk"}), nil
	})
	assert.ErrorIs(t, err, sentinel.ErrVersionConflict)

	got, err := store.Get(ctx, models.EntityTask, rec.ID, false)
	require.NoError(t, err)
	assert.Equal(t, "interloper", got.Fields["title"])
}

func TestConcurrentApplySameVersion(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	rec, err := store.Insert(ctx, &models.Record{EntityType: models.EntityRisk, Fields: models.Fields{"impact": float64(1)}})
	require.NoError(t, err)
	ctrl := New(store)

	var wg sync.WaitGroup
	var wins atomic.Int32
	var winner atomic.Value
	for i := 2; i <= 21; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			_, err := ctrl.Apply(ctx, models.EntityRisk, rec.ID, "racer", rec.Version.Ptr(), setField("impact", v))
			if err == nil {
				wins.Add(1)
				winner.Store(v)
				return
			}
			assert.ErrorIs(t, err, sentinel.ErrVersionConflict)
		}(float64(i))
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	got, err := store.Get(ctx, models.EntityRisk, rec.ID, false)
	require.NoError(t, err)
	assert.Equal(t, winner.Load(), got.Fields["impact"])
	assert.Equal(t, models.Version(2), got.Version)
}
