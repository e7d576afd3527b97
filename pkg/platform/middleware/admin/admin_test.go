package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"pmhub/pkg/testutil"
)

func TestRequireAdmin(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RequireAdmin(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	testutil.Given(t, "an admin principal in any case", func(t *testing.T) {
		for _, role := range []string{"admin", "ADMIN"} {
			req := testutil.WithPrincipal(httptest.NewRequest(http.MethodGet, "/v1/admin/policy", nil), "ops", role)
			assert.Equal(t, http.StatusOK, testutil.DoRequest(h, req).Code, "role %q", role)
		}
	})

	testutil.Given(t, "any other role", func(t *testing.T) {
		testutil.Then(t, "the request is forbidden", func(t *testing.T) {
			for _, role := range []string{"lead", "", "viewer"} {
				req := testutil.WithPrincipal(httptest.NewRequest(http.MethodGet, "/v1/admin/policy", nil), "ops", role)
				testutil.AssertStatusAndError(t, testutil.DoRequest(h, req), http.StatusForbidden, "forbidden")
			}
		})
	})
}
