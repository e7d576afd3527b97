package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pmhub/internal/mutation/handler/mocks"
	"pmhub/internal/mutation/service"
	"pmhub/internal/permission"
	"pmhub/internal/records/models"
	dErrors "pmhub/pkg/domain-errors"
	audit "pmhub/pkg/platform/audit"
	authmw "pmhub/pkg/platform/middleware/auth"
	"pmhub/pkg/platform/sentinel"
	"pmhub/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

type tokenTable map[string]*authmw.JWTClaims

func (t tokenTable) ValidateToken(token string) (*authmw.JWTClaims, error) {
	if c, ok := t[token]; ok {
		return c, nil
	}
	return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
}

var (
	lead     = permission.Actor{ID: "lee", Role: permission.RoleLead}
	engineer = permission.Actor{ID: "eve", Role: permission.RoleEngineer}
	tokens   = tokenTable{
		"lead-token":     {ActorID: "lee", Role: "lead"},
		"engineer-token": {ActorID: "eve", Role: "engineer"},
		"admin-token":    {ActorID: "ops", Role: "admin"},
	}
)

type HandlerSuite struct {
	suite.Suite
	svc    *mocks.MockService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.svc = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(s.svc, logger, nil, tokens, WithPolicy(permission.DefaultPolicy()), WithTimeout(5*time.Second))
	s.router = chi.NewRouter()
	h.Register(s.router)
}

func (s *HandlerSuite) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	req := testutil.WithBearer(testutil.NewJSONRequest(s.T(), method, path, body), token)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	return testutil.DoRequest(s.router, req)
}

func task(id string, version models.Version, status string) *models.Record {
	return &models.Record{
		ID:         id,
		EntityType: models.EntityTask,
		Fields:     models.Fields{"title": "Write docs", "status": status},
		Version:    version,
		CreatedBy:  "lee",
	}
}

func (s *HandlerSuite) TestRequiresToken() {
	w := s.do(http.MethodGet, "/v1/task/t1", "", nil)
	testutil.AssertStatusAndError(s.T(), w, http.StatusUnauthorized, "unauthorized")

	w = s.do(http.MethodGet, "/v1/task/t1", "forged", nil)
	testutil.AssertStatusAndError(s.T(), w, http.StatusUnauthorized, "unauthorized")
}

func (s *HandlerSuite) TestUnknownEntityType() {
	w := s.do(http.MethodGet, "/v1/widget/w1", "lead-token", nil)

	s.Equal(http.StatusBadRequest, w.Code)
	body := testutil.Decode[map[string]any](s.T(), w)
	s.Equal("validation_error", body["error"])
	s.Equal("entity_type", body["field"])
}

func (s *HandlerSuite) TestCreate() {
	s.svc.EXPECT().
		Create(gomock.Any(), models.EntityTask, map[string]any{"title": "Write docs", "project_id": "p1"}, lead).
		Return(task("t1", 1, "backlog"), nil)

	w := s.do(http.MethodPost, "/v1/task", "lead-token", map[string]any{
		"fields": map[string]any{"title": "Write docs", "project_id": "p1"},
	})

	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	s.Equal(`"1"`, w.Header().Get("ETag"))
	s.Equal("/v1/task/t1", w.Header().Get("Location"))
	rec := testutil.Decode[models.Record](s.T(), w)
	s.Equal("t1", rec.ID)
	s.Equal("backlog", rec.Fields["status"])
}

func (s *HandlerSuite) TestCreateRequiresFields() {
	w := s.do(http.MethodPost, "/v1/task", "lead-token", map[string]any{})

	s.Equal(http.StatusBadRequest, w.Code)
	s.Contains(w.Body.String(), `"field":"fields"`)
}

func (s *HandlerSuite) TestCreateRejectsNonJSON() {
	req := httptest.NewRequest(http.MethodPost, "/v1/task", bytes.NewBufferString("title=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer lead-token")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	s.Equal(http.StatusUnsupportedMediaType, w.Code)
}

func (s *HandlerSuite) TestGetAndList() {
	s.Run("get with include_deleted", func() {
		s.svc.EXPECT().Get(gomock.Any(), models.EntityTask, "t1", lead, true).Return(task("t1", 4, "done"), nil)

		w := s.do(http.MethodGet, "/v1/task/t1?include_deleted=true", "lead-token", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Equal(`"4"`, w.Header().Get("ETag"))
	})

	s.Run("list", func() {
		s.svc.EXPECT().List(gomock.Any(), models.EntityTask, lead, models.ListOptions{}).
			Return([]*models.Record{task("t1", 1, "todo"), task("t2", 1, "todo")}, nil)

		w := s.do(http.MethodGet, "/v1/task", "lead-token", nil)
		s.Equal(http.StatusOK, w.Code)
		resp := testutil.Decode[ListResponse](s.T(), w)
		s.Equal(2, resp.Count)
	})

	s.Run("empty list renders an array", func() {
		s.svc.EXPECT().List(gomock.Any(), models.EntityRisk, lead, models.ListOptions{}).Return(nil, nil)

		w := s.do(http.MethodGet, "/v1/risk", "lead-token", nil)
		s.Equal(http.StatusOK, w.Code)
		s.Contains(w.Body.String(), `"records":[]`)
	})

	s.Run("bad include_deleted", func() {
		w := s.do(http.MethodGet, "/v1/task?include_deleted=maybe", "lead-token", nil)
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("not found", func() {
		s.svc.EXPECT().Get(gomock.Any(), models.EntityTask, "missing", lead, false).
			Return(nil, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "task 'missing' not found"))

		w := s.do(http.MethodGet, "/v1/task/missing", "lead-token", nil)
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *HandlerSuite) TestUpdateVersionTokens() {
	s.Run("If-Match", func() {
		s.svc.EXPECT().
			Update(gomock.Any(), models.EntityTask, "t1", map[string]any{"title": "Renamed"}, engineer, models.Version(3).Ptr()).
			Return(task("t1", 4, "todo"), nil)

		w := s.do(http.MethodPatch, "/v1/task/t1", "engineer-token",
			map[string]any{"fields": map[string]any{"title": "Renamed"}}, "If-Match", `"3"`)
		s.Equal(http.StatusOK, w.Code, w.Body.String())
		s.Equal(`"4"`, w.Header().Get("ETag"))
	})

	s.Run("body token", func() {
		s.svc.EXPECT().
			Update(gomock.Any(), models.EntityTask, "t1", gomock.Any(), engineer, models.Version(7).Ptr()).
			Return(task("t1", 8, "todo"), nil)

		w := s.do(http.MethodPatch, "/v1/task/t1", "engineer-token",
			map[string]any{"fields": map[string]any{"title": "Renamed"}, "expected_version": 7})
		s.Equal(http.StatusOK, w.Code)
	})

	s.Run("disagreeing tokens", func() {
		w := s.do(http.MethodPatch, "/v1/task/t1", "engineer-token",
			map[string]any{"fields": map[string]any{"title": "Renamed"}, "expected_version": 7}, "If-Match", `"6"`)
		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(w.Body.String(), "expected_version")
	})

	s.Run("malformed If-Match", func() {
		w := s.do(http.MethodPatch, "/v1/task/t1", "engineer-token",
			map[string]any{"fields": map[string]any{"title": "Renamed"}}, "If-Match", "abc")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("stale token is a conflict", func() {
		conflict := dErrors.Wrap(sentinel.ErrVersionConflict, dErrors.CodeVersionConflict,
			"record was modified by someone else; reload and retry")
		s.svc.EXPECT().
			Update(gomock.Any(), models.EntityTask, "t1", gomock.Any(), engineer, models.Version(2).Ptr()).
			Return(nil, conflict)

		w := s.do(http.MethodPatch, "/v1/task/t1", "engineer-token",
			map[string]any{"fields": map[string]any{"title": "Renamed"}}, "If-Match", `"2"`)
		s.Equal(http.StatusConflict, w.Code)
		body := testutil.Decode[map[string]any](s.T(), w)
		s.Equal("version_conflict", body["error"])
		s.Contains(body["error_description"], "reload and retry")
	})
}

func (s *HandlerSuite) TestDelete() {
	s.svc.EXPECT().Delete(gomock.Any(), models.EntityTask, "t1", lead, models.Version(5).Ptr()).Return(nil)

	w := s.do(http.MethodDelete, "/v1/task/t1", "lead-token", nil, "If-Match", `W/"5"`)

	s.Equal(http.StatusNoContent, w.Code)
}

func (s *HandlerSuite) TestDeleteForbidden() {
	forbidden := permission.Forbidden(permission.RoleEngineer, models.EntityProject, permission.OpDelete)
	s.svc.EXPECT().Delete(gomock.Any(), models.EntityProject, "p1", engineer, nil).Return(forbidden)

	w := s.do(http.MethodDelete, "/v1/project/p1", "engineer-token", nil)

	s.Equal(http.StatusForbidden, w.Code)
	body := testutil.Decode[map[string]any](s.T(), w)
	details := body["details"].(map[string]any)
	s.Equal("engineer", details["role"])
	s.Equal("delete", details["operation"])
}

func (s *HandlerSuite) TestTransition() {
	s.Run("applies", func() {
		s.svc.EXPECT().Transition(gomock.Any(), service.TransitionRequest{
			EntityType:      models.EntityTask,
			ID:              "t1",
			ToStatus:        "in_progress",
			Actor:           engineer,
			ExpectedVersion: models.Version(2).Ptr(),
		}).Return(task("t1", 3, "in_progress"), nil)

		w := s.do(http.MethodPost, "/v1/task/t1/transitions", "engineer-token",
			map[string]any{"to_status": " In_Progress "}, "If-Match", `"2"`)
		s.Equal(http.StatusOK, w.Code, w.Body.String())
	})

	s.Run("illegal transition", func() {
		illegal := dErrors.New(dErrors.CodeIllegalTransition, "task cannot move from backlog to done").
			WithMeta("from", "backlog").WithMeta("to", "done").WithMeta("allowed", "in_progress,todo")
		s.svc.EXPECT().Transition(gomock.Any(), gomock.Any()).Return(nil, illegal)

		w := s.do(http.MethodPost, "/v1/task/t1/transitions", "engineer-token", map[string]any{"to_status": "done"})
		s.Equal(http.StatusUnprocessableEntity, w.Code)
		body := testutil.Decode[map[string]any](s.T(), w)
		s.Equal("illegal_transition", body["error"])
		s.Equal("in_progress,todo", body["details"].(map[string]any)["allowed"])
	})

	s.Run("missing target", func() {
		w := s.do(http.MethodPost, "/v1/task/t1/transitions", "engineer-token", map[string]any{})
		s.Equal(http.StatusBadRequest, w.Code)
		s.Contains(w.Body.String(), "to_status")
	})
}

func (s *HandlerSuite) TestBulkTransition() {
	s.svc.EXPECT().BulkTransition(gomock.Any(), service.BulkTransitionRequest{
		EntityType: models.EntityTask,
		IDs:        []string{"t1", "t2"},
		ToStatus:   "todo",
		Actor:      lead,
	}).Return(&service.BulkResult{
		Outcomes: []service.BulkOutcome{
			{ID: "t1", Record: task("t1", 2, "todo")},
			{ID: "t2", Err: dErrors.New(dErrors.CodeIllegalTransition, "task cannot move from done to todo")},
		},
		Succeeded: 1,
		Failed:    1,
	}, nil)

	w := s.do(http.MethodPost, "/v1/task/bulk/transitions", "lead-token",
		map[string]any{"ids": []string{"t1", "t2"}, "to_status": "todo"})

	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	resp := testutil.Decode[BulkResponse](s.T(), w)
	s.Equal(1, resp.Succeeded)
	s.Equal(1, resp.Failed)
	s.Require().Len(resp.Outcomes, 2)
	s.True(resp.Outcomes[0].OK)
	s.False(resp.Outcomes[1].OK)
	s.Equal(http.StatusUnprocessableEntity, resp.Outcomes[1].Status)
	s.Equal("illegal_transition", resp.Outcomes[1].Error.Error)
}

func (s *HandlerSuite) TestPlace() {
	s.svc.EXPECT().Place(gomock.Any(), service.PlaceRequest{
		EntityType: models.EntityTask,
		ID:         "t3",
		BeforeID:   "t1",
		AfterID:    "t2",
		Actor:      engineer,
	}).Return(&service.PlaceResult{Record: task("t3", 2, "todo"), Renumbered: 0}, nil)

	w := s.do(http.MethodPost, "/v1/task/t3/place", "engineer-token",
		map[string]any{"before_id": "t1", "after_id": "t2"})

	s.Equal(http.StatusOK, w.Code, w.Body.String())
	resp := testutil.Decode[PlaceResponse](s.T(), w)
	s.Equal("t3", resp.Record.ID)
}

func (s *HandlerSuite) TestHistory() {
	at := time.Date(2024, 5, 17, 9, 0, 0, 0, time.UTC)
	s.svc.EXPECT().GetHistory(gomock.Any(), models.EntityTask, "t1", lead).Return([]audit.Entry{
		{Seq: 1, Action: audit.ActionCreate, EntityType: "task", EntityID: "t1", Version: 1, OccurredAt: at},
		{Seq: 2, Action: audit.ActionTransition, EntityType: "task", EntityID: "t1", FieldName: "status",
			OldValue: "backlog", NewValue: "todo", Version: 2, OccurredAt: at},
	}, nil)

	w := s.do(http.MethodGet, "/v1/task/t1/history", "lead-token", nil)

	s.Require().Equal(http.StatusOK, w.Code)
	resp := testutil.Decode[HistoryResponse](s.T(), w)
	s.Equal(2, resp.Count)
	s.Equal(audit.ActionTransition, resp.Entries[1].Action)
}

func (s *HandlerSuite) TestStoreUnavailable() {
	s.svc.EXPECT().Get(gomock.Any(), models.EntityTask, "t1", lead, false).
		Return(nil, dErrors.Wrap(errors.New("dial tcp: refused"), dErrors.CodeStoreUnavailable, "record store unavailable"))

	w := s.do(http.MethodGet, "/v1/task/t1", "lead-token", nil)

	s.Equal(http.StatusServiceUnavailable, w.Code)
	s.NotContains(w.Body.String(), "dial tcp")
}

func (s *HandlerSuite) TestAdminPolicy() {
	w := s.do(http.MethodGet, "/v1/admin/policy", "lead-token", nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/v1/admin/policy", "admin-token", nil)
	s.Equal(http.StatusOK, w.Code)
	s.Equal("application/yaml", w.Header().Get("Content-Type"))
}

func TestHealthz(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("healthy", func(t *testing.T) {
		r := chi.NewRouter()
		RegisterOps(r, logger, map[string]HealthCheck{
			"records": func(context.Context) error { return nil },
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"records":"ok"`)
	})

	t.Run("degraded", func(t *testing.T) {
		r := chi.NewRouter()
		RegisterOps(r, logger, map[string]HealthCheck{
			"records": func(context.Context) error { return sentinel.ErrUnavailable },
		})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"degraded"`)
	})
}
