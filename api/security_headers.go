package api

import (
	"net/http"
	"strings"
)

const (
	// apiCSP covers JSON, YAML and WebSocket upgrade responses, none of
	// which may load or frame anything.
	apiCSP = "default-src 'none'; frame-ancestors 'none'"

	// docsCSP lets the Swagger UI page pull its bundle from unpkg and run
	// its inline bootstrap script.
	docsCSP = "default-src 'none'; script-src 'unsafe-inline' https://unpkg.com; " +
		"style-src 'unsafe-inline' https://unpkg.com; img-src data: https://unpkg.com; " +
		"connect-src 'self'; frame-ancestors 'none'"

	docsPrefix = "/api/docs"
	authPrefix = "/api/auth/"
)

// SecurityHeaders sets response hardening headers for the gateway. Login and
// identity responses carry bearer tokens and are never cached.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")

		if strings.HasPrefix(r.URL.Path, docsPrefix) {
			h.Set("Content-Security-Policy", docsCSP)
		} else {
			h.Set("Content-Security-Policy", apiCSP)
		}
		if strings.HasPrefix(r.URL.Path, authPrefix) {
			h.Set("Cache-Control", "no-store")
		}
		if requestIsSecure(r) {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}
