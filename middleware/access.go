package middleware

import (
	"net/http"

	"github.com/MrEthical07/portalauth"
	"github.com/MrEthical07/portalauth/authz"
	"github.com/go-chi/chi/v5"
)

// RequireRole admits actors holding one of roles and answers 403 otherwise.
// Requests that did not pass RequireSession get 401.
func RequireRole(roles ...authz.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !authz.HasRole(actor, roles...) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GroupExtractor returns the group a request targets.
type GroupExtractor func(*http.Request) string

// GroupFromURLParam reads the group from a chi route parameter.
func GroupFromURLParam(name string) GroupExtractor {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// GroupFromQuery reads the group from a query parameter.
func GroupFromQuery(name string) GroupExtractor {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}

// RequireGroup asks the engine whether the actor may act on the group the
// request targets and answers 403 on Deny.
func RequireGroup(engine *portalauth.Engine, group GroupExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok || engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if engine.Authorize(actor, group(r)) != authz.Allow {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
