package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/portalauth"
)

// SessionCookieName is the cookie checked when no Authorization header is
// present.
const SessionCookieName = "portal_session"

type actorContextKey struct{}
type tokenContextKey struct{}

// ActorFromContext returns the actor stored by RequireSession.
func ActorFromContext(ctx context.Context) (portalauth.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(portalauth.Actor)
	return actor, ok
}

// TokenFromContext returns the session token accepted by RequireSession.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey{}).(string)
	return token, ok && token != ""
}

// WithActor stores actor in ctx. Handlers under test use it to skip
// RequireSession.
func WithActor(ctx context.Context, actor portalauth.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// RequireSession rejects requests without a live session with 401. Store
// outages yield 503 so clients do not drop a valid token.
func RequireSession(engine *portalauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := TokenFromRequest(r)
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			actor, err := engine.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, portalauth.ErrBackendUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
			ctx = context.WithValue(ctx, tokenContextKey{}, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest reads a bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) (string, bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		return bearerToken(h)
	}
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
