package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/agentgate/auth"
)

// collector is a webhook endpoint that records every delivered event.
type collector struct {
	mu      sync.Mutex
	events  []webhookEvent
	headers []http.Header
}

func newCollector(t *testing.T, status int) (*collector, *httptest.Server) {
	t.Helper()
	c := &collector{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		c.mu.Lock()
		c.events = append(c.events, evt)
		c.headers = append(c.headers, r.Header.Clone())
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return c, srv
}

func (c *collector) received() []webhookEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webhookEvent(nil), c.events...)
}

func TestAuditLogger_SessionCaller(t *testing.T) {
	col, srv := newCollector(t, http.StatusNoContent)
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))

	var logs bytes.Buffer
	al := newAuditLogger(slog.New(slog.NewJSONHandler(&logs, nil)), mock)
	al.webhook = newAuditWebhook(srv.URL, "X-Collector-Token: s3cret", mock)

	r := httptest.NewRequest(http.MethodPost, "/api/projects/create", nil)
	ctx := withPrincipal(r.Context(), auth.Principal{SubjectID: "alice", Username: "alice"})
	ctx = context.WithValue(ctx, chimiddleware.RequestIDKey, "host/req-000042")
	r = r.WithContext(ctx)

	al.logEvent(AuditProjectCreated, r, slog.String("project_id", "p-9"))
	al.webhook.close()

	events := col.received()
	require.Len(t, events, 1)
	got := events[0]
	assert.Equal(t, string(AuditProjectCreated), got.Event)
	assert.Equal(t, "alice", got.Actor)
	assert.Equal(t, callerSession, got.ActorType)
	assert.Empty(t, got.EventID)
	assert.Equal(t, "host/req-000042", got.RequestID)
	assert.Equal(t, "2026-03-01T09:30:00Z", got.Timestamp)
	assert.Equal(t, map[string]string{"project_id": "p-9"}, got.Attrs)

	assert.Equal(t, "s3cret", col.headers[0].Get("X-Collector-Token"))
	assert.Equal(t, "application/json", col.headers[0].Get("Content-Type"))

	assert.Contains(t, logs.String(), `"actor_type":"session"`)
	assert.Contains(t, logs.String(), `"request_id":"host/req-000042"`)
}

func TestAuditLogger_ServiceReplayCarriesEventID(t *testing.T) {
	col, srv := newCollector(t, http.StatusOK)
	mock := clock.NewMock()

	guard, err := NewServiceKeyGuard(ServiceKeyConfig{
		Keys:        []string{"tool-key"},
		Idempotency: true,
		Clock:       mock,
	})
	require.NoError(t, err)
	guard.audit = newAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), mock)
	guard.audit.webhook = newAuditWebhook(srv.URL, "", mock)

	var handled atomic.Int32
	h := guard.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handled.Add(1)
		guard.audit.logEvent(AuditTeamMemberCreated, r)
	}))
	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodPost, "/tools/team-members/create", nil)
		r.Header.Set(DefaultServiceKeyHeader, "tool-key")
		r.Header.Set(EventIDHeader, "evt-77")
		h.ServeHTTP(httptest.NewRecorder(), r)
	}
	guard.audit.webhook.close()

	assert.Equal(t, int32(1), handled.Load())
	events := col.received()
	require.Len(t, events, 2)
	for i, want := range []AuditEvent{AuditTeamMemberCreated, AuditServiceEventReplayed} {
		assert.Equal(t, string(want), events[i].Event)
		assert.Equal(t, callerService, events[i].Actor)
		assert.Equal(t, callerService, events[i].ActorType)
		assert.Equal(t, "evt-77", events[i].EventID)
	}
}

func TestAuditLogger_AnonymousFailure(t *testing.T) {
	col, srv := newCollector(t, http.StatusOK)
	mock := clock.NewMock()
	al := newAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil)), mock)
	al.webhook = newAuditWebhook(srv.URL, "", mock)

	r := httptest.NewRequest(http.MethodPost, "/tools/projects/create", nil)
	al.logFailure(AuditServiceKeyInvalid, r, ErrInvalidKey.Error())
	al.webhook.close()

	events := col.received()
	require.Len(t, events, 1)
	assert.Equal(t, callerAnonymous, events[0].ActorType)
	assert.Equal(t, ErrInvalidKey.Error(), events[0].Attrs["reason"])
}

func TestWebhook_RetriesOnceAfterServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	mock := clock.NewMock()
	wh := newAuditWebhook(srv.URL, "", mock)
	wh.enqueue(webhookEvent{Event: "login_failure"})

	require.Eventually(t, func() bool { return attempts.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), attempts.Load(), "retry waits for the delay")

	require.Eventually(t, func() bool {
		mock.Add(webhookRetryDelay)
		return attempts.Load() == 2
	}, time.Second, 5*time.Millisecond)
	wh.close()
	assert.Equal(t, int32(2), attempts.Load(), "gives up after one retry")
}

func TestWebhook_NoRetryOnClientError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	wh := newAuditWebhook(srv.URL, "", clock.NewMock())
	wh.enqueue(webhookEvent{Event: "login_failure"})
	wh.close()

	assert.Equal(t, int32(1), attempts.Load())
}

func TestWebhook_FullQueueDoesNotBlock(t *testing.T) {
	wh := &auditWebhook{events: make(chan webhookEvent, 2)}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			wh.enqueue(webhookEvent{Event: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	assert.Len(t, wh.events, 2)
}
