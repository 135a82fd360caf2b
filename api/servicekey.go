package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Service request headers.
const (
	DefaultServiceKeyHeader = "x-api-key"
	TimestampHeader         = "X-AirIA-Timestamp"
	EventIDHeader           = "X-AirIA-Event-Id"

	// DefaultFreshness is the accepted clock skew of a timestamped request.
	DefaultFreshness = 5 * time.Minute
)

var (
	// ErrMissingKey means the request carried no service key.
	ErrMissingKey = errors.New("missing API key")
	// ErrInvalidKey means the service key matched none of the accepted keys.
	ErrInvalidKey = errors.New("invalid API key")
	// ErrStaleRequest means the request timestamp is outside the window.
	ErrStaleRequest = errors.New("stale request")
	// ErrNoServiceKeys is returned when a guard is configured without keys.
	ErrNoServiceKeys = errors.New("at least one service key is required")
)

// ServiceAuth describes an authenticated machine caller.
type ServiceAuth struct {
	Token   string `json:"-"`
	EventID string
	// Timestamp is zero when the request carried none.
	Timestamp time.Time
}

// ServiceKeyConfig configures a ServiceKeyGuard. Idempotency requires a
// Ledger; Freshness zero disables the timestamp check.
type ServiceKeyConfig struct {
	Header      string
	Keys        []string
	Freshness   time.Duration
	Idempotency bool
	Ledger      *ReplayLedger
	Clock       clock.Clock
}

// ServiceKeyGuard authenticates machine-to-machine requests with a shared
// key, rejects stale requests and short-circuits replayed events.
type ServiceKeyGuard struct {
	header      string
	freshness   time.Duration
	idempotency bool
	ledger      *ReplayLedger
	clock       clock.Clock
	audit       *auditLogger

	mu   sync.RWMutex
	keys [][]byte
}

// NewServiceKeyGuard validates cfg and returns a guard.
func NewServiceKeyGuard(cfg ServiceKeyConfig) (*ServiceKeyGuard, error) {
	g := &ServiceKeyGuard{
		header:      cfg.Header,
		freshness:   cfg.Freshness,
		idempotency: cfg.Idempotency,
		ledger:      cfg.Ledger,
		clock:       cfg.Clock,
	}
	if g.header == "" {
		g.header = DefaultServiceKeyHeader
	}
	if g.clock == nil {
		g.clock = clock.New()
	}
	if g.idempotency && g.ledger == nil {
		ledger, err := NewReplayLedger(0, 0, WithLedgerClock(g.clock))
		if err != nil {
			return nil, err
		}
		g.ledger = ledger
	}
	if err := g.SetKeys(cfg.Keys); err != nil {
		return nil, err
	}
	return g, nil
}

// SetKeys atomically replaces the accepted keys. Blank keys are ignored;
// an empty result is rejected and leaves the current keys in place.
func (g *ServiceKeyGuard) SetKeys(keys []string) error {
	accepted := make([][]byte, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			accepted = append(accepted, []byte(k))
		}
	}
	if len(accepted) == 0 {
		return ErrNoServiceKeys
	}
	g.mu.Lock()
	g.keys = accepted
	g.mu.Unlock()
	return nil
}

// Ledger returns the replay ledger, or nil when idempotency is off.
func (g *ServiceKeyGuard) Ledger() *ReplayLedger {
	return g.ledger
}

// Middleware wraps next with the guard.
func (g *ServiceKeyGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		candidate := g.candidate(r)
		if candidate == "" {
			g.audit.logFailure(AuditServiceKeyMissing, r, ErrMissingKey.Error())
			writeError(w, http.StatusUnauthorized, "Missing API key")
			return
		}
		if !g.matches(candidate) {
			g.audit.logFailure(AuditServiceKeyInvalid, r, ErrInvalidKey.Error())
			writeError(w, http.StatusUnauthorized, "Invalid API key")
			return
		}

		sa := ServiceAuth{Token: candidate}
		if ts, ok := parseTimestamp(r.Header.Get(TimestampHeader)); ok {
			sa.Timestamp = time.UnixMilli(int64(ts))
			if g.freshness > 0 {
				age := math.Abs(float64(g.clock.Now().UnixMilli()) - ts)
				if age > float64(g.freshness.Milliseconds()) {
					g.audit.log(AuditServiceRequestStale, r, serviceCaller(r.Header.Get(EventIDHeader)),
						slog.String("reason", ErrStaleRequest.Error()),
						slog.Float64("age_ms", age))
					writeError(w, http.StatusRequestTimeout, "Stale request")
					return
				}
			}
		}

		if id := r.Header.Get(EventIDHeader); id != "" {
			sa.EventID = id
			if g.idempotency && g.ledger.Seen(id) {
				g.audit.log(AuditServiceEventReplayed, r, serviceCaller(id))
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		ctx := context.WithValue(r.Context(), serviceAuthKey, sa)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *ServiceKeyGuard) candidate(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(g.header)); v != "" {
		return v
	}
	return bearerToken(r)
}

// matches compares candidate against every key without exiting early.
func (g *ServiceKeyGuard) matches(candidate string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c := []byte(candidate)
	found := 0
	for _, k := range g.keys {
		found |= subtle.ConstantTimeCompare(c, k)
	}
	return found == 1
}

// parseTimestamp accepts any finite decimal number of epoch milliseconds.
func parseTimestamp(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ServiceAuthFromContext returns the machine caller attached by
// ServiceKeyGuard.
func ServiceAuthFromContext(ctx context.Context) (ServiceAuth, bool) {
	sa, ok := ctx.Value(serviceAuthKey).(ServiceAuth)
	return sa, ok
}
