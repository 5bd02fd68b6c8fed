package instance

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Process-wide admission ceiling sitting behind the per-IP buckets.
const (
	globalConnRate  = 500
	globalConnBurst = 1000
)

// Idle per-IP buckets are dropped after ipTTL so the map only tracks
// clients seen recently.
const (
	ipTTL      = 5 * time.Minute
	pruneEvery = time.Minute
)

// connLimiter admits new websocket connections through two token
// buckets: one per client IP and one for the whole process. The clock
// is a field so tests can pin it.
type connLimiter struct {
	global *rate.Limiter
	now    func() time.Time

	ipRate  rate.Limit
	ipBurst int

	mu        sync.Mutex
	ips       map[string]*ipBucket
	lastPrune time.Time
}

type ipBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnLimiter(ipRate float64, ipBurst int, globalRate float64, globalBurst int) *connLimiter {
	return &connLimiter{
		global:  rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		now:     time.Now,
		ipRate:  rate.Limit(ipRate),
		ipBurst: ipBurst,
		ips:     make(map[string]*ipBucket),
	}
}

// allow reports whether a connection from ip may proceed. The global
// bucket is checked first, so a rejected IP still spends one global
// token.
func (l *connLimiter) allow(ip string) bool {
	if !l.global.Allow() {
		return false
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastPrune) >= pruneEvery {
		l.prune(now)
		l.lastPrune = now
	}

	b, ok := l.ips[ip]
	if !ok {
		b = &ipBucket{limiter: rate.NewLimiter(l.ipRate, l.ipBurst)}
		l.ips[ip] = b
	}
	b.lastSeen = now
	return b.limiter.Allow()
}

func (l *connLimiter) prune(now time.Time) {
	for ip, b := range l.ips {
		if now.Sub(b.lastSeen) > ipTTL {
			delete(l.ips, ip)
		}
	}
}
