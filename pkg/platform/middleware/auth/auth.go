package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	dErrors "pmhub/pkg/domain-errors"
	"pmhub/pkg/platform/httputil"
	request "pmhub/pkg/platform/middleware/request"
	"pmhub/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// FailureCounter counts rejected tokens.
type FailureCounter interface {
	IncrementAuthFailures()
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	ActorID string
	Role    string
	JTI     string
}

// GetActor retrieves the authenticated actor id from the context
func GetActor(ctx context.Context) string {
	return requestcontext.Actor(ctx)
}

// GetRole retrieves the authenticated actor's role name from the context
func GetRole(ctx context.Context) string {
	return requestcontext.Role(ctx)
}

func writeUnauthorized(w http.ResponseWriter, desc string) {
	httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, desc))
}

// RequireAuth validates the bearer token and stores the principal in the
// request context. failures may be nil.
func RequireAuth(validator JWTValidator, logger *slog.Logger, failures FailureCounter) func(http.Handler) http.Handler {
	reject := func(w http.ResponseWriter, r *http.Request, msg, desc string, err error) {
		ctx := r.Context()
		attrs := []any{"request_id", request.GetRequestID(ctx)}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		logger.WarnContext(ctx, msg, attrs...)
		if failures != nil {
			failures.IncrementAuthFailures()
		}
		writeUnauthorized(w, desc)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			const bearerPrefix = "Bearer "
			token, ok := strings.CutPrefix(authHeader, bearerPrefix)
			if !ok || strings.TrimSpace(token) == "" {
				reject(w, r, "unauthorized access - missing token", "Missing or invalid Authorization header", nil)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				reject(w, r, "unauthorized access - invalid token", "Invalid or expired token", err)
				return
			}
			if claims.ActorID == "" || claims.Role == "" {
				reject(w, r, "unauthorized access - token without principal", "Invalid or expired token", nil)
				return
			}

			ctx := requestcontext.WithPrincipal(r.Context(), claims.ActorID, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
