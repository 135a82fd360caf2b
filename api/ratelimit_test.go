package api

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffLimiter_AllowsBeforeThreshold(t *testing.T) {
	rl := newBackoffLimiter(clock.NewMock(), usernamePolicy)

	for i := 0; i < usernamePolicy.maxFailures-1; i++ {
		rl.recordFailure("alice")
	}
	blocked, _ := rl.check("alice")
	assert.False(t, blocked)
}

func TestBackoffLimiter_BlocksAtThreshold(t *testing.T) {
	mock := clock.NewMock()
	rl := newBackoffLimiter(mock, usernamePolicy)

	for i := 0; i < usernamePolicy.maxFailures; i++ {
		rl.recordFailure("alice")
	}
	blocked, retryAfter := rl.check("alice")
	assert.True(t, blocked)
	assert.Equal(t, usernamePolicy.base, retryAfter)

	mock.Add(usernamePolicy.base + time.Second)
	blocked, _ = rl.check("alice")
	assert.False(t, blocked, "lockout elapses after base duration")
}

func TestBackoffLimiter_Doubles(t *testing.T) {
	rl := newBackoffLimiter(clock.NewMock(), usernamePolicy)

	for i := 0; i < usernamePolicy.maxFailures+2; i++ {
		rl.recordFailure("alice")
	}
	_, retryAfter := rl.check("alice")
	assert.Equal(t, 4*usernamePolicy.base, retryAfter)
}

func TestBackoffLimiter_Cap(t *testing.T) {
	rl := newBackoffLimiter(clock.NewMock(), ipPolicy)

	for i := 0; i < ipPolicy.maxFailures+40; i++ {
		rl.recordFailure("192.0.2.1")
	}
	_, retryAfter := rl.check("192.0.2.1")
	assert.Equal(t, ipPolicy.limit, retryAfter)
}

func TestBackoffLimiter_SuccessResets(t *testing.T) {
	rl := newBackoffLimiter(clock.NewMock(), usernamePolicy)

	for i := 0; i < usernamePolicy.maxFailures; i++ {
		rl.recordFailure("alice")
	}
	rl.recordSuccess("alice")
	blocked, _ := rl.check("alice")
	assert.False(t, blocked)
}

func TestBackoffLimiter_KeysIndependent(t *testing.T) {
	rl := newBackoffLimiter(clock.NewMock(), usernamePolicy)

	for i := 0; i < usernamePolicy.maxFailures; i++ {
		rl.recordFailure("alice")
	}
	blocked, _ := rl.check("bob")
	assert.False(t, blocked)
}

func TestBackoffLimiter_SweepRemovesExpired(t *testing.T) {
	mock := clock.NewMock()
	rl := newBackoffLimiter(mock, usernamePolicy)

	rl.recordFailure("old")
	mock.Add(usernamePolicy.expiry + time.Minute)
	rl.recordFailure("fresh")
	rl.sweep()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.attempts, "old")
	assert.Contains(t, rl.attempts, "fresh")
}

func TestGlobalRateLimiter(t *testing.T) {
	mock := clock.NewMock()
	rl := newGlobalRateLimiter(mock)

	for i := 0; i < globalMaxFailures-1; i++ {
		rl.recordFailure()
	}
	blocked, _ := rl.check()
	assert.False(t, blocked)

	rl.recordFailure()
	blocked, retryAfter := rl.check()
	assert.True(t, blocked)
	assert.Equal(t, globalLockout, retryAfter)

	mock.Add(globalLockout + time.Second)
	blocked, _ = rl.check()
	assert.False(t, blocked)
}

func TestGlobalRateLimiter_WindowSlides(t *testing.T) {
	mock := clock.NewMock()
	rl := newGlobalRateLimiter(mock)

	for i := 0; i < globalMaxFailures-1; i++ {
		rl.recordFailure()
	}
	mock.Add(globalWindow + time.Second)
	rl.recordFailure()

	blocked, _ := rl.check()
	assert.False(t, blocked, "failures outside the window do not count")
}

func TestLoginLimiters_Scopes(t *testing.T) {
	l := newLoginLimiters(clock.NewMock())

	for i := 0; i < usernamePolicy.maxFailures; i++ {
		l.recordFailure("192.0.2.1", "alice")
	}
	scope, d := l.check("192.0.2.2", "alice")
	assert.Equal(t, "username", scope)
	assert.Positive(t, d)

	scope, _ = l.check("192.0.2.2", "")
	assert.Empty(t, scope)

	for i := 0; i < ipPolicy.maxFailures; i++ {
		l.recordFailure("192.0.2.9", "")
	}
	scope, _ = l.check("192.0.2.9", "bob")
	assert.Equal(t, "ip", scope)
}

func TestWriteRateLimited(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRateLimited(rec, 1500*time.Millisecond)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too many failed login attempts")

	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func TestExtractClientIPWithTrustedProxies(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trusted    []netip.Prefix
		want       string
	}{
		{name: "remote ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "remote ipv6", remoteAddr: "[::1]:8080", want: "::1"},
		{
			name:       "no trusted proxies ignores XFF",
			remoteAddr: "192.168.1.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			want:       "192.168.1.1",
		},
		{
			name:       "trusted proxy takes the address it appended",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25, 203.0.113.9"},
			trusted:    trusted,
			want:       "203.0.113.9",
		},
		{
			name:       "client-supplied entries are ignored",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 5.6.7.8, 198.51.100.25, 10.0.0.5"},
			trusted:    trusted,
			want:       "198.51.100.25",
		},
		{
			name:       "chain of trusted hops yields the outermost",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "10.0.0.7, 10.0.0.5"},
			trusted:    trusted,
			want:       "10.0.0.7",
		},
		{
			name:       "xff skips invalid entries",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "unknown, 203.0.113.7, not-an-ip"},
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "forwarded fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": `for=192.0.2.60, for=198.51.100.1;proto=https;by=203.0.113.43`},
			trusted:    trusted,
			want:       "198.51.100.1",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.11"},
			trusted:    trusted,
			want:       "203.0.113.11",
		},
		{
			name:       "spoof from untrusted peer",
			remoteAddr: "203.0.113.99:12345",
			headers: map[string]string{
				"X-Forwarded-For": "10.0.0.1",
				"Forwarded":       "for=10.0.0.2",
				"X-Real-IP":       "10.0.0.3",
			},
			trusted: trusted,
			want:    "203.0.113.99",
		},
		{name: "empty when nothing parseable", remoteAddr: "not-a-hostport", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.trusted))
		})
	}
}

func TestAPIExtractClientIP(t *testing.T) {
	a := &API{trustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}}

	r := &http.Request{
		RemoteAddr: "10.0.0.2:80",
		Header:     http.Header{"X-Forwarded-For": []string{"198.51.100.25"}},
	}
	assert.Equal(t, "10.0.0.2", a.extractClientIP(r), "10.0.0.2 is not in 10.0.0.1/32")

	r.RemoteAddr = "10.0.0.1:80"
	assert.Equal(t, "198.51.100.25", a.extractClientIP(r))

	// a client cannot pick its lockout bucket by prepending to the header
	r.Header.Set("X-Forwarded-For", "192.0.2.1, 198.51.100.25")
	assert.Equal(t, "198.51.100.25", a.extractClientIP(r))
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{"10.0.0.0/8", " 10.1.2.3 ", "::1", ""})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "10.0.0.0/8", got[0].String())
	assert.Equal(t, "10.1.2.3/32", got[1].String())
	assert.Equal(t, "::1/128", got[2].String())

	_, err = ParseTrustedProxies([]string{"10.0.0.0/8", "garbage"})
	require.Error(t, err)
}
