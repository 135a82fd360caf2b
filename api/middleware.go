package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/jmcleod/agentgate/auth"
)

type contextKey int

const (
	principalKey contextKey = iota
	serviceAuthKey
)

// AuthMiddleware requires a valid session token and stores the caller's
// principal on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Missing token")
			return
		}
		p, err := a.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// recordsAuth gates the record routes. When protection is on it behaves as
// AuthMiddleware; otherwise a valid token is still attached so mutations
// can identify their actor, and a missing or bad one is ignored.
func (a *API) recordsAuth(next http.Handler) http.Handler {
	strict := a.AuthMiddleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.protectRecords {
			strict.ServeHTTP(w, r)
			return
		}
		if token := bearerToken(r); token != "" {
			if p, err := a.tokens.Verify(token); err == nil {
				r = r.WithContext(withPrincipal(r.Context(), p))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func withPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the session principal attached by
// AuthMiddleware.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(auth.Principal)
	return p, ok
}

// bearerToken returns the credential of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, rest, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(rest)
}
