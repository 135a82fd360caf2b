package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultReplayRetention is how long an event id is remembered.
	DefaultReplayRetention = time.Hour
	// DefaultReplaySweep is the interval between expiry sweeps.
	DefaultReplaySweep = 5 * time.Minute
	// DefaultReplayCapacity bounds the number of remembered event ids.
	DefaultReplayCapacity = 100_000
)

// ReplayLedger remembers service event ids for a retention period. It is
// process-local; when full, the oldest ids are evicted first.
type ReplayLedger struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, time.Time]
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// LedgerOption configures a ReplayLedger.
type LedgerOption func(*ReplayLedger)

// WithLedgerClock sets the clock used for first-seen times and sweeps.
func WithLedgerClock(c clock.Clock) LedgerOption {
	return func(l *ReplayLedger) { l.clock = c }
}

// WithLedgerLogger sets the logger used to report sweep failures.
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(l *ReplayLedger) { l.logger = logger }
}

// NewReplayLedger returns an empty ledger. Non-positive arguments select the
// defaults.
func NewReplayLedger(capacity int, retention time.Duration, opts ...LedgerOption) (*ReplayLedger, error) {
	if capacity <= 0 {
		capacity = DefaultReplayCapacity
	}
	if retention <= 0 {
		retention = DefaultReplayRetention
	}
	cache, err := lru.New[string, time.Time](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating replay ledger: %w", err)
	}
	l := &ReplayLedger{
		entries:   cache,
		retention: retention,
		clock:     clock.New(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Seen reports whether eventID was recorded within the retention period.
// A novel or expired id is recorded as first seen now.
func (l *ReplayLedger) Seen(eventID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if first, ok := l.entries.Peek(eventID); ok {
		if now.Sub(first) <= l.retention {
			return true
		}
		l.entries.Remove(eventID)
	}
	l.entries.Add(eventID, now)
	return false
}

// Len returns the number of remembered ids.
func (l *ReplayLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}

// Sweep drops every id older than the retention period and returns how
// many were removed.
func (l *ReplayLedger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	removed := 0
	// Keys are ordered oldest first and first-seen times only grow.
	for _, id := range l.entries.Keys() {
		first, ok := l.entries.Peek(id)
		if !ok {
			continue
		}
		if now.Sub(first) <= l.retention {
			break
		}
		l.entries.Remove(id)
		removed++
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (l *ReplayLedger) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReplaySweep
	}
	ticker := l.clock.Ticker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepSafely()
		}
	}
}

func (l *ReplayLedger) sweepSafely() {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("replay ledger sweep panicked", "panic", r)
		}
	}()
	if n := l.Sweep(); n > 0 {
		l.logger.Debug("replay ledger swept", "removed", n)
	}
}
