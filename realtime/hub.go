package realtime

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultRateLimit and DefaultRateWindow bound inbound events per session.
	DefaultRateLimit  = 15
	DefaultRateWindow = 5 * time.Second

	defaultSendBuffer   = 256
	defaultPingInterval = 25 * time.Second
	defaultMaxMessage   = 64 << 10
)

// Hub tracks connected sessions and their room memberships.
type Hub struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
	rooms    map[string]map[*Session]struct{}
	closed   bool
	wg       sync.WaitGroup

	logger       *slog.Logger
	clock        clock.Clock
	rateLimit    int
	rateWindow   time.Duration
	sendBuffer   int
	pingInterval time.Duration
	maxMessage   int64
	metrics      *hubMetrics
	registerer   prometheus.Registerer
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithClock sets the clock used for rate windows and timestamps.
func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// WithRateLimit overrides the per-session event budget. Non-positive values
// keep the defaults.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(h *Hub) {
		if limit > 0 {
			h.rateLimit = limit
		}
		if window > 0 {
			h.rateWindow = window
		}
	}
}

// WithSendBuffer sets how many outbound frames may queue per session before
// it is dropped.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingInterval sets the keepalive ping period.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithMetricsRegisterer exposes hub metrics on reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) { h.registerer = reg }
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sessions:     make(map[*Session]struct{}),
		rooms:        make(map[string]map[*Session]struct{}),
		clock:        clock.New(),
		rateLimit:    DefaultRateLimit,
		rateWindow:   DefaultRateWindow,
		sendBuffer:   defaultSendBuffer,
		pingInterval: defaultPingInterval,
		maxMessage:   defaultMaxMessage,
		metrics:      newHubMetrics(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	h.logger = h.logger.With("component", "realtime")
	if h.registerer != nil {
		if err := h.metrics.register(h.registerer); err != nil {
			h.logger.Warn("registering realtime metrics failed", "error", err)
		}
	}
	return h
}

// start registers s and runs its pumps.
func (h *Hub) start(s *Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.sessions[s] = struct{}{}
	count := len(h.sessions)
	h.wg.Add(2)
	h.mu.Unlock()

	h.metrics.sessions.Inc()
	h.logger.Info("session connected", "session", s.ID, "user", s.Principal.Username, "sessions", count)

	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump()
	}()
	return nil
}

// unregister removes s from the hub and every room it joined, then closes
// its send channel. Safe to call more than once.
func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	h.detachLocked(s)
	count := len(h.sessions)
	h.mu.Unlock()

	close(s.send)
	h.metrics.sessions.Dec()
	h.logger.Info("session disconnected", "session", s.ID, "sessions", count)
}

func (h *Hub) detachLocked(s *Session) {
	delete(h.sessions, s)
	for room := range s.rooms {
		members := h.rooms[room]
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	s.rooms = nil
	s.closed = true
}

func (h *Hub) join(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

func (h *Hub) leave(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(s.rooms, room)
}

// Publish delivers event to every session in room, or to every session when
// room is empty.
func (h *Hub) Publish(event string, payload any, room string) error {
	return h.publish(event, payload, room, nil)
}

// PublishExceptActor is Publish without the sessions authenticated as
// actorID.
func (h *Hub) PublishExceptActor(event string, payload any, actorID, room string) error {
	return h.publish(event, payload, room, func(s *Session) bool {
		return s.Principal.SubjectID == actorID
	})
}

func (h *Hub) publish(event string, payload any, room string, skip func(*Session) bool) error {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}
	var failed []*Session
	for _, s := range h.snapshot(room) {
		if skip != nil && skip(s) {
			continue
		}
		if !h.safeSend(s, msg) {
			failed = append(failed, s)
			continue
		}
		h.metrics.events.WithLabelValues(event).Inc()
	}
	h.removeFailedSessions(failed)
	return nil
}

func (h *Hub) snapshot(room string) []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	src := h.sessions
	if room != "" {
		src = h.rooms[room]
	}
	out := make([]*Session, 0, len(src))
	for s := range src {
		out = append(out, s)
	}
	return out
}

// safeSend queues msg without blocking. It reports false when the session
// is gone or its buffer is full.
func (h *Hub) safeSend(s *Session, msg []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.sessions[s]; !ok || s.closed {
		return false
	}
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// sendTo replies to a single session, dropping it if it cannot keep up.
func (h *Hub) sendTo(s *Session, event string, payload any) {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("encoding reply failed", "event", event, "error", err)
		return
	}
	if !h.safeSend(s, msg) {
		h.removeFailedSessions([]*Session{s})
	}
}

func (h *Hub) removeFailedSessions(failed []*Session) {
	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	var toClose []*Session
	for _, s := range failed {
		if _, ok := h.sessions[s]; ok {
			h.detachLocked(s)
			toClose = append(toClose, s)
		}
	}
	h.mu.Unlock()

	for _, s := range toClose {
		close(s.send)
		h.metrics.sessions.Dec()
		h.metrics.dropped.Inc()
		h.logger.Warn("session dropped, send buffer full", "session", s.ID)
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// RoomSize returns the number of sessions in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Shutdown refuses new sessions, closes every connection and waits for the
// session goroutines to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.conn.Close()
	}
	h.logger.Info("closing sessions", "count", len(sessions))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
