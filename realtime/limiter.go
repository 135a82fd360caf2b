package realtime

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// windowLimiter admits at most limit events per fixed window. The window
// restarts on the first event after it has fully elapsed.
type windowLimiter struct {
	mu      sync.Mutex
	clock   clock.Clock
	limit   int
	window  time.Duration
	started bool
	start   time.Time
	count   int
}

func newWindowLimiter(c clock.Clock, limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{clock: c, limit: limit, window: window}
}

func (l *windowLimiter) allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if !l.started || now.Sub(l.start) > l.window {
		l.started = true
		l.start = now
		l.count = 0
	}
	l.count++
	return l.count <= l.limit
}
