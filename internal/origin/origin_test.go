package origin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllowlist(t *testing.T) {
	a := NewAllowlist([]string{"http://LOCALHOST:5173", "not a url", ""})

	assert.True(t, a.Allowed("http://localhost:5173"))
	assert.True(t, a.Allowed("http://localhost:5173/some/path"))
	assert.False(t, a.Allowed("http://localhost:3000"))
	assert.False(t, a.Allowed(""))
}

func TestAllowlistWildcard(t *testing.T) {
	a := NewAllowlist([]string{"*"})
	assert.True(t, a.Allowed("https://anything.example"))
}

func TestCheckWebSocket(t *testing.T) {
	a := NewAllowlist([]string{"http://localhost:5173"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, a.CheckWebSocket(r), "missing origin is a non-browser client")

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, a.CheckWebSocket(r))

	r.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, a.CheckWebSocket(r))
}

func TestCORSPreflight(t *testing.T) {
	a := NewAllowlist([]string{"http://localhost:5173"})
	called := false
	h := a.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called, "preflight must not reach the handler")

	req = httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, called)
}
