// Package admission limits how fast a single remote host may open new
// connections. Each host gets a token bucket; buckets of hosts that have
// been quiet for a while are evicted.
package admission

import (
	"net"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const (
	defaultIdleExpiry      = 5 * time.Minute
	defaultCleanupInterval = time.Minute
)

// Limiter admits or rejects new connections per remote host. A nil
// *Limiter admits everything.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *cache.Cache
}

// New returns a Limiter allowing perSecond new connections per host with
// the given burst. perSecond <= 0 disables limiting and returns nil.
func New(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: cache.New(defaultIdleExpiry, defaultCleanupInterval),
	}
}

// Allow reports whether a connection from addr may be accepted now.
func (l *Limiter) Allow(addr net.Addr) bool {
	if l == nil {
		return true
	}

	host := hostOf(addr)

	l.mu.Lock()
	var bucket *rate.Limiter
	if v, ok := l.buckets.Get(host); ok {
		bucket = v.(*rate.Limiter)
	} else {
		bucket = rate.NewLimiter(l.limit, l.burst)
	}
	// Refresh the idle expiry on every attempt.
	l.buckets.SetDefault(host, bucket)
	l.mu.Unlock()

	return bucket.Allow()
}

// Hosts returns the number of hosts currently tracked.
func (l *Limiter) Hosts() int {
	if l == nil {
		return 0
	}

	return l.buckets.ItemCount()
}

func hostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}

	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}

	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}

	return host
}
