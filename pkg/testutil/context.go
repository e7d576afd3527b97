package testutil

import (
	"net/http"

	"pmhub/pkg/requestcontext"
)

// WithPrincipal adds an actor and role to the request context, as the auth
// middleware would for an authenticated request.
func WithPrincipal(req *http.Request, actor, role string) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), actor, role))
}
