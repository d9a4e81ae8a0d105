package network

import (
	"net"
	"sync"
	"time"
)

// rateTracker counts events per source IP within a one second window.
type rateTracker struct {
	mu        sync.Mutex
	counts    map[string]*rateBucket
	maxPerSec int
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

func newRateTracker(maxPerSec int) *rateTracker {
	return &rateTracker{
		counts:    make(map[string]*rateBucket),
		maxPerSec: maxPerSec,
	}
}

// allow records one event for ip. A non-positive limit allows everything.
func (rt *rateTracker) allow(ip string) bool {
	if rt.maxPerSec <= 0 {
		return true
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	now := time.Now()
	b, exists := rt.counts[ip]
	if !exists || now.Sub(b.windowStart) >= time.Second {
		rt.counts[ip] = &rateBucket{count: 1, windowStart: now}
		rt.prune(now)
		return true
	}

	b.count++
	return b.count <= rt.maxPerSec
}

// prune drops windows that closed long ago so the map does not grow with
// every address ever seen.
func (rt *rateTracker) prune(now time.Time) {
	if len(rt.counts) < 1024 {
		return
	}
	for ip, b := range rt.counts {
		if now.Sub(b.windowStart) > time.Minute {
			delete(rt.counts, ip)
		}
	}
}

func extractIP(addr net.Addr) string {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
