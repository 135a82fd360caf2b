package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guardFixture struct {
	guard *ServiceKeyGuard
	clock *clock.Mock
	calls int
	last  ServiceAuth
}

func newGuardFixture(t *testing.T, cfg ServiceKeyConfig) *guardFixture {
	t.Helper()
	f := &guardFixture{clock: clock.NewMock()}
	f.clock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	cfg.Clock = f.clock
	if cfg.Keys == nil {
		cfg.Keys = []string{"key-current", "key-next"}
	}
	g, err := NewServiceKeyGuard(cfg)
	require.NoError(t, err)
	f.guard = g
	return f
}

func (f *guardFixture) do(headers map[string]string) *httptest.ResponseRecorder {
	h := f.guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		f.last, _ = ServiceAuthFromContext(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))
	req := httptest.NewRequest(http.MethodPost, "/tools/projects/create", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func (f *guardFixture) nowMillis() string {
	return strconv.FormatInt(f.clock.Now().UnixMilli(), 10)
}

func TestServiceKeyGuard_AcceptsEveryConfiguredKey(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{})

	for _, key := range []string{"key-current", "key-next"} {
		rec := f.do(map[string]string{"x-api-key": key})
		assert.Equal(t, http.StatusCreated, rec.Code, key)
		assert.Equal(t, key, f.last.Token)
	}
	assert.Equal(t, 2, f.calls)
}

func TestServiceKeyGuard_Missing(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{})

	rec := f.do(nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Missing API key"}`, rec.Body.String())
	assert.Zero(t, f.calls)
}

func TestServiceKeyGuard_Invalid(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{})

	for _, key := range []string{"key-curren", "key-current-x", "KEY-CURRENT"} {
		rec := f.do(map[string]string{"x-api-key": key})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, key)
		assert.JSONEq(t, `{"error":"Invalid API key"}`, rec.Body.String())
	}
	assert.Zero(t, f.calls)
}

func TestServiceKeyGuard_BearerFallback(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{})

	rec := f.do(map[string]string{"Authorization": "Bearer key-next"})
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(map[string]string{"Authorization": "Basic key-next"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceKeyGuard_CustomHeader(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{Header: "X-Tool-Token"})

	assert.Equal(t, http.StatusCreated, f.do(map[string]string{"X-Tool-Token": "key-current"}).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(map[string]string{"x-api-key": "key-current"}).Code)
}

func TestServiceKeyGuard_Rotation(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{})

	require.NoError(t, f.guard.SetKeys([]string{"key-next", "key-after"}))
	assert.Equal(t, http.StatusUnauthorized, f.do(map[string]string{"x-api-key": "key-current"}).Code)
	assert.Equal(t, http.StatusCreated, f.do(map[string]string{"x-api-key": "key-after"}).Code)

	assert.ErrorIs(t, f.guard.SetKeys([]string{" ", ""}), ErrNoServiceKeys)
	assert.Equal(t, http.StatusCreated, f.do(map[string]string{"x-api-key": "key-next"}).Code,
		"a rejected rotation keeps the previous keys")
}

func TestNewServiceKeyGuard_RequiresKeys(t *testing.T) {
	_, err := NewServiceKeyGuard(ServiceKeyConfig{Keys: []string{}})
	assert.ErrorIs(t, err, ErrNoServiceKeys)
}

func TestServiceKeyGuard_Freshness(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{Freshness: 5 * time.Minute})
	now := f.clock.Now().UnixMilli()

	tests := []struct {
		name string
		ts   string
		want int
	}{
		{"current", strconv.FormatInt(now, 10), http.StatusCreated},
		{"edge of window", strconv.FormatInt(now-5*60*1000, 10), http.StatusCreated},
		{"too old", strconv.FormatInt(now-5*60*1000-1, 10), http.StatusRequestTimeout},
		{"too far ahead", strconv.FormatInt(now+5*60*1000+1, 10), http.StatusRequestTimeout},
		{"fractional", strconv.FormatInt(now, 10) + ".75", http.StatusCreated},
		{"padded", "  " + strconv.FormatInt(now, 10) + " ", http.StatusCreated},
		{"unparseable is ignored", "yesterday", http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(map[string]string{"x-api-key": "key-current", TimestampHeader: tt.ts})
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusRequestTimeout {
				assert.JSONEq(t, `{"error":"Stale request"}`, rec.Body.String())
			}
		})
	}
}

func TestServiceKeyGuard_FreshnessDisabled(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{})

	rec := f.do(map[string]string{"x-api-key": "key-current", TimestampHeader: "1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, time.UnixMilli(1), f.last.Timestamp)
}

func TestServiceKeyGuard_ReplayShortCircuits(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{Idempotency: true})
	headers := map[string]string{"x-api-key": "key-current", EventIDHeader: "evt-42"}

	rec := f.do(headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "evt-42", f.last.EventID)

	rec = f.do(headers)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 1, f.calls, "replayed event never reaches the handler")
}

func TestServiceKeyGuard_ReplayNovelAfterSweep(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{Idempotency: true})
	headers := map[string]string{"x-api-key": "key-current", EventIDHeader: "evt-7"}

	require.Equal(t, http.StatusCreated, f.do(headers).Code)
	f.clock.Add(DefaultReplayRetention + time.Second)
	assert.Equal(t, 1, f.guard.Ledger().Sweep())

	assert.Equal(t, http.StatusCreated, f.do(headers).Code)
	assert.Equal(t, 2, f.calls)
}

func TestServiceKeyGuard_StaleDoesNotRecordEvent(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{Idempotency: true, Freshness: time.Minute})
	stale := strconv.FormatInt(f.clock.Now().Add(-time.Hour).UnixMilli(), 10)

	rec := f.do(map[string]string{"x-api-key": "key-current", TimestampHeader: stale, EventIDHeader: "evt-9"})
	require.Equal(t, http.StatusRequestTimeout, rec.Code)

	rec = f.do(map[string]string{"x-api-key": "key-current", TimestampHeader: f.nowMillis(), EventIDHeader: "evt-9"})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestServiceKeyGuard_IdempotencyOff(t *testing.T) {
	f := newGuardFixture(t, ServiceKeyConfig{})
	headers := map[string]string{"x-api-key": "key-current", EventIDHeader: "evt-1"}

	assert.Nil(t, f.guard.Ledger())
	assert.Equal(t, http.StatusCreated, f.do(headers).Code)
	assert.Equal(t, http.StatusCreated, f.do(headers).Code)
	assert.Equal(t, 2, f.calls)
}

func TestParseTimestamp(t *testing.T) {
	v, ok := parseTimestamp(" 1700000000000.5 ")
	assert.True(t, ok)
	assert.InDelta(t, 1700000000000.5, v, 0.01)

	for _, raw := range []string{"", "abc", "NaN", "Inf", "-Inf"} {
		_, ok := parseTimestamp(raw)
		assert.False(t, ok, raw)
	}
}
