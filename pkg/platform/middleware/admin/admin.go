// Package admin guards operator-only routes.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	dErrors "pmhub/pkg/domain-errors"
	"pmhub/pkg/platform/httputil"
	request "pmhub/pkg/platform/middleware/request"
	"pmhub/pkg/requestcontext"
)

// RoleAdmin is the role name allowed through RequireAdmin.
const RoleAdmin = "admin"

// RequireAdmin rejects authenticated principals whose role is not admin.
// It must run after the auth middleware.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			role := strings.ToLower(requestcontext.Role(ctx))
			if subtle.ConstantTimeCompare([]byte(role), []byte(RoleAdmin)) != 1 {
				logger.WarnContext(ctx, "admin route denied",
					"request_id", request.GetRequestID(ctx),
					"actor", requestcontext.Actor(ctx),
					"role", role,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin role required").
					WithMeta("role", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
