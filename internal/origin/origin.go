// Package origin normalizes and matches browser origins against the
// configured allowlist shared by the CORS middleware and the WebSocket
// upgrader.
package origin

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Allowlist is an immutable set of normalized origins.
type Allowlist struct {
	origins  map[string]struct{}
	allowAll bool
}

// NewAllowlist builds an Allowlist from raw origin strings. "*" allows any
// origin; invalid entries are logged and ignored.
func NewAllowlist(origins []string) *Allowlist {
	a := &Allowlist{origins: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		trimmed := strings.TrimSpace(o)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			a.allowAll = true
			continue
		}
		normalized, ok := Normalize(trimmed)
		if !ok {
			slog.Warn("ignoring invalid origin in configuration", "origin", o)
			continue
		}
		a.origins[normalized] = struct{}{}
	}
	return a
}

// Normalize lowercases scheme and host and drops any path.
func Normalize(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// Allowed reports whether origin is in the allowlist.
func (a *Allowlist) Allowed(origin string) bool {
	if a == nil || origin == "" {
		return false
	}
	if a.allowAll {
		return true
	}
	normalized, ok := Normalize(origin)
	if !ok {
		return false
	}
	_, exists := a.origins[normalized]
	return exists
}

// CheckWebSocket is a websocket.Upgrader CheckOrigin function. Requests
// without an Origin header come from non-browser clients and are accepted;
// they authenticate with a token like everyone else.
func (a *Allowlist) CheckWebSocket(r *http.Request) bool {
	o := r.Header.Get("Origin")
	if o == "" || a.Allowed(o) {
		return true
	}
	slog.Warn("blocked websocket connection from disallowed origin", "origin", o)
	return false
}

// CORS answers preflight requests and sets CORS response headers for
// allowed origins. Disallowed origins get no CORS headers, so browsers
// block the response.
func (a *Allowlist) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o := r.Header.Get("Origin")
		if o != "" && a.Allowed(o) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", o)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key, X-AirIA-Timestamp, X-AirIA-Event-Id")
			h.Set("Access-Control-Max-Age", "600")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
