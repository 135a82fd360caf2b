package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// backoffPolicy describes when a key is locked out and for how long.
// Once failures reach maxFailures the lockout starts at base and doubles
// with each further failure up to limit.
type backoffPolicy struct {
	maxFailures int
	base        time.Duration
	limit       time.Duration
	expiry      time.Duration
}

var (
	usernamePolicy = backoffPolicy{maxFailures: 5, base: time.Minute, limit: 15 * time.Minute, expiry: time.Hour}
	ipPolicy       = backoffPolicy{maxFailures: 20, base: time.Minute, limit: 30 * time.Minute, expiry: time.Hour}
)

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// backoffLimiter tracks failed logins per key (a normalized username or a
// client IP) and enforces exponential backoff.
type backoffLimiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	policy   backoffPolicy
	attempts map[string]*attemptRecord
}

func newBackoffLimiter(c clock.Clock, p backoffPolicy) *backoffLimiter {
	return &backoffLimiter{
		clock:    c,
		policy:   p,
		attempts: make(map[string]*attemptRecord),
	}
}

// check reports whether key is locked out and for how much longer.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.clock.Now()
	if now.Sub(rec.lastFailure) > rl.policy.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.clock.Now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.policy.maxFailures {
		lockout := rl.policy.base
		for i := 0; i < rec.failures-rl.policy.maxFailures; i++ {
			lockout *= 2
			if lockout > rl.policy.limit {
				lockout = rl.policy.limit
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep removes expired records.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.policy.expiry {
			delete(rl.attempts, key)
		}
	}
}

const (
	globalWindow      = 1 * time.Minute
	globalMaxFailures = 100
	globalLockout     = 5 * time.Minute
)

// globalRateLimiter locks every login out when failures across all
// accounts spike within a sliding window.
type globalRateLimiter struct {
	mu          sync.Mutex
	clock       clock.Clock
	failures    []time.Time
	lockedUntil time.Time
}

func newGlobalRateLimiter(c clock.Clock) *globalRateLimiter {
	return &globalRateLimiter{clock: c}
}

func (rl *globalRateLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *globalRateLimiter) recordFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	rl.failures = trimWindow(append(rl.failures, now), now, globalWindow)
	if len(rl.failures) >= globalMaxFailures {
		rl.lockedUntil = now.Add(globalLockout)
	}
}

// loginLimiters applies the global, per-IP and per-username limits in that
// order.
type loginLimiters struct {
	global   *globalRateLimiter
	ip       *backoffLimiter
	username *backoffLimiter
}

func newLoginLimiters(c clock.Clock) *loginLimiters {
	return &loginLimiters{
		global:   newGlobalRateLimiter(c),
		ip:       newBackoffLimiter(c, ipPolicy),
		username: newBackoffLimiter(c, usernamePolicy),
	}
}

// check returns the scope that is locked ("global", "ip" or "username").
func (l *loginLimiters) check(ip, username string) (scope string, retryAfter time.Duration) {
	if blocked, d := l.global.check(); blocked {
		return "global", d
	}
	if blocked, d := l.ip.check(ip); blocked {
		return "ip", d
	}
	if username != "" {
		if blocked, d := l.username.check(username); blocked {
			return "username", d
		}
	}
	return "", 0
}

func (l *loginLimiters) recordFailure(ip, username string) {
	l.global.recordFailure()
	l.ip.recordFailure(ip)
	if username != "" {
		l.username.recordFailure(username)
	}
}

func (l *loginLimiters) recordSuccess(ip, username string) {
	l.ip.recordSuccess(ip)
	l.username.recordSuccess(username)
}

func (l *loginLimiters) sweep() {
	l.ip.sweep()
	l.username.sweep()
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many failed login attempts; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// when RemoteAddr falls within one of trustedProxies. With no trusted
// proxies configured RemoteAddr is always used.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if remoteIP == "" || !isTrustedProxy(remoteIP, trustedProxies) {
		return remoteIP
	}

	var xff []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		xff = append(xff, strings.Split(v, ",")...)
	}
	if ip, ok := clientFromChain(xff, trustedProxies); ok {
		return ip
	}

	var fwd []string
	for _, v := range r.Header.Values("Forwarded") {
		for _, elem := range strings.Split(v, ",") {
			for _, param := range strings.Split(elem, ";") {
				param = strings.TrimSpace(param)
				if strings.HasPrefix(strings.ToLower(param), "for=") {
					fwd = append(fwd, param[4:])
				}
			}
		}
	}
	if ip, ok := clientFromChain(fwd, trustedProxies); ok {
		return ip
	}

	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

// clientFromChain walks a forwarding chain from the nearest hop outwards and
// returns the first address outside the trusted proxies. Entries further
// left were written by the client and are ignored. A chain of trusted hops
// only yields its leftmost address.
func clientFromChain(chain []string, trustedProxies []netip.Prefix) (string, bool) {
	outermost := ""
	for i := len(chain) - 1; i >= 0; i-- {
		ip, ok := parseIPCandidate(chain[i])
		if !ok {
			continue
		}
		if !isTrustedProxy(ip, trustedProxies) {
			return ip, true
		}
		outermost = ip
	}
	return outermost, outermost != ""
}

func isTrustedProxy(ip string, trustedProxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	return "", false
}

// ParseTrustedProxies parses CIDRs or bare addresses.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}
