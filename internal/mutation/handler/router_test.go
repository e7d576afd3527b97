package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "pmhub/internal/jwt_token"
	"pmhub/internal/lifecycle"
	"pmhub/internal/mutation/service"
	"pmhub/internal/permission"
	"pmhub/internal/records/models"
	"pmhub/internal/storage"
	audit "pmhub/pkg/platform/audit"
	"pmhub/pkg/testutil"
)

// TestRouterAgainstMemoryStore drives the real service through the router.
func TestRouterAgainstMemoryStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := storage.Memory()
	gate := permission.NewGate(permission.DefaultPolicy())
	svc := service.New(backend.Records, backend.Audit, backend.UoW,
		service.WithLogger(logger),
		service.WithGate(gate),
		service.WithLifecycle(lifecycle.Default(gate)),
	)
	jwtService := jwttoken.NewJWTService("router-test-key", "pmhub", "pmhub-api")
	router := chi.NewRouter()
	New(svc, logger, nil, jwttoken.NewJWTServiceAdapter(jwtService)).Register(router)

	token := func(actor string, role permission.Role) string {
		tok, err := jwtService.GenerateAccessToken(actor, role, time.Minute)
		require.NoError(t, err)
		return tok
	}
	lead := token("lee", permission.RoleLead)
	engineer := token("eve", permission.RoleEngineer)
	viewer := token("vic", permission.RoleViewer)

	send := func(method, path, tok string, body any, ifMatch string) *http.Response {
		req := testutil.WithBearer(testutil.NewJSONRequest(t, method, path, body), tok)
		if ifMatch != "" {
			req.Header.Set("If-Match", ifMatch)
		}
		return testutil.DoRequest(router, req).Result()
	}

	testutil.Given(t, "a task created by a lead", func(t *testing.T) {
		req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPost, "/v1/task",
			FieldsRequest{Fields: map[string]any{"id": "tsk-9", "title": "Ship the API"}}), lead)
		w := testutil.DoRequest(router, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, `"1"`, w.Header().Get("ETag"))
		rec := testutil.Decode[models.Record](t, w)
		assert.Equal(t, "backlog", rec.Status())

		testutil.When(t, "an engineer starts it at the current version", func(t *testing.T) {
			resp := send(http.MethodPost, "/v1/task/tsk-9/transitions", engineer, TransitionRequest{ToStatus: "in_progress"}, `"1"`)
			defer resp.Body.Close()

			testutil.Then(t, "the version moves on", func(t *testing.T) {
				require.Equal(t, http.StatusOK, resp.StatusCode)
				assert.Equal(t, `"2"`, resp.Header.Get("ETag"))
			})
		})

		testutil.When(t, "the same token is replayed", func(t *testing.T) {
			req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodPost, "/v1/task/tsk-9/transitions",
				TransitionRequest{ToStatus: "review"}), engineer)
			req.Header.Set("If-Match", `"1"`)

			testutil.Then(t, "it is rejected as a conflict", func(t *testing.T) {
				testutil.AssertStatusAndError(t, testutil.DoRequest(router, req), http.StatusConflict, "version_conflict")
			})
		})

		testutil.When(t, "a viewer tries to delete it", func(t *testing.T) {
			req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodDelete, "/v1/task/tsk-9", nil), viewer)

			testutil.Then(t, "it is forbidden", func(t *testing.T) {
				testutil.AssertStatusAndError(t, testutil.DoRequest(router, req), http.StatusForbidden, "forbidden")
			})
		})

		testutil.Then(t, "the history holds the creation and the transition", func(t *testing.T) {
			req := testutil.WithBearer(testutil.NewJSONRequest(t, http.MethodGet, "/v1/task/tsk-9/history", nil), viewer)
			w := testutil.DoRequest(router, req)
			require.Equal(t, http.StatusOK, w.Code)
			history := testutil.Decode[HistoryResponse](t, w)
			require.Equal(t, 2, history.Count)
			assert.Equal(t, audit.ActionCreate, history.Entries[0].Action)
			assert.Equal(t, audit.ActionTransition, history.Entries[1].Action)
			assert.Equal(t, "eve", history.Entries[1].Actor)
		})
	})
}
