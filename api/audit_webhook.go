package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const (
	webhookQueueSize  = 1024
	webhookRetryDelay = time.Second
	webhookTimeout    = 10 * time.Second
)

// webhookEvent is the JSON body POSTed for each audit entry. EventID is the
// X-AirIA-Event-Id of service calls and RequestID the chi request id.
type webhookEvent struct {
	Event      string            `json:"event"`
	Actor      string            `json:"actor"`
	ActorType  string            `json:"actor_type"`
	EventID    string            `json:"event_id,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	RemoteAddr string            `json:"remote_addr,omitempty"`
	Timestamp  string            `json:"timestamp"`
	Attrs      map[string]string `json:"attrs,omitempty"`
}

// auditWebhook forwards audit entries to an external collector from a
// single goroutine. A full queue drops entries instead of blocking the
// request that produced them.
type auditWebhook struct {
	url    string
	header string // "Name: value"
	client *http.Client
	clock  clock.Clock
	events chan webhookEvent
	wg     sync.WaitGroup
}

func newAuditWebhook(url, header string, c clock.Clock) *auditWebhook {
	w := &auditWebhook{
		url:    url,
		header: header,
		client: &http.Client{Timeout: webhookTimeout},
		clock:  c,
		events: make(chan webhookEvent, webhookQueueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

func (w *auditWebhook) enqueue(evt webhookEvent) {
	select {
	case w.events <- evt:
	default:
		slog.Warn("audit webhook queue full, dropping event", "event", evt.Event, "event_id", evt.EventID)
	}
}

// close delivers what is queued and stops the dispatcher.
func (w *auditWebhook) close() {
	close(w.events)
	w.wg.Wait()
}

func (w *auditWebhook) loop() {
	defer w.wg.Done()
	for evt := range w.events {
		w.deliver(evt)
	}
}

// deliver POSTs evt, retrying once after a 5xx or transport error.
func (w *auditWebhook) deliver(evt webhookEvent) {
	body, err := json.Marshal(evt)
	if err != nil {
		slog.Warn("audit webhook marshal failed", "error", err)
		return
	}
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			<-w.clock.After(webhookRetryDelay)
		}
		retry, err := w.post(body)
		if err == nil {
			return
		}
		slog.Warn("audit webhook delivery failed", "event", evt.Event, "attempt", attempt, "error", err)
		if !retry {
			return
		}
	}
}

// post sends one attempt and reports whether a failure is worth retrying.
func (w *auditWebhook) post(body []byte) (bool, error) {
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentgate-audit-webhook/1.0")
	if name, value, ok := strings.Cut(w.header, ":"); ok {
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return true, err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500:
		return true, &webhookStatusError{status: resp.StatusCode}
	default:
		return false, &webhookStatusError{status: resp.StatusCode}
	}
}

type webhookStatusError struct{ status int }

func (e *webhookStatusError) Error() string {
	return "collector answered " + http.StatusText(e.status)
}
