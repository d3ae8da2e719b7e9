package ws

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limit policy. Message limits are token buckets; the connection limit
// is a sliding one-minute window.
const (
	connMessagesPerSec = 20
	ipMessagesPerSec   = 30
	ipConnsPerMinute   = 20

	limiterIdleTTL = 3 * time.Minute
)

// ipLimiter tracks one source address.
type ipLimiter struct {
	messages *rate.Limiter
	conns    []time.Time
	lastSeen time.Time
}

// limiterTable holds per-IP limiters, evicting entries idle past the TTL so
// the table stays bounded by active sources.
type limiterTable struct {
	mu    sync.Mutex
	byIP  map[string]*ipLimiter
	clock func() time.Time
}

func newLimiterTable(clock func() time.Time) *limiterTable {
	if clock == nil {
		clock = time.Now
	}
	return &limiterTable{
		byIP:  make(map[string]*ipLimiter),
		clock: clock,
	}
}

func (t *limiterTable) get(ip string) *ipLimiter {
	now := t.clock()
	l, ok := t.byIP[ip]
	if !ok {
		l = &ipLimiter{
			messages: rate.NewLimiter(rate.Limit(ipMessagesPerSec), ipMessagesPerSec),
		}
		t.byIP[ip] = l
	}
	l.lastSeen = now
	return l
}

// AllowConn reports whether ip may open another connection this minute.
func (t *limiterTable) AllowConn(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	l := t.get(ip)
	cutoff := t.clock().Add(-time.Minute)
	kept := l.conns[:0]
	for _, ts := range l.conns {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.conns = kept
	if len(l.conns) >= ipConnsPerMinute {
		return false
	}
	l.conns = append(l.conns, t.clock())
	return true
}

// AllowMessage reports whether ip is within its message budget.
func (t *limiterTable) AllowMessage(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.get(ip).messages.Allow()
}

// sweep drops limiters for addresses not seen recently.
func (t *limiterTable) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.clock().Add(-limiterIdleTTL)
	for ip, l := range t.byIP {
		if l.lastSeen.Before(cutoff) {
			delete(t.byIP, ip)
		}
	}
}

// newConnLimiter returns the per-connection message bucket.
func newConnLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(connMessagesPerSec), connMessagesPerSec)
}
