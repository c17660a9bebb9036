package connauth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a per-source-ip sliding-window limiter (C9). Each source
// gets its own token bucket; a successful authentication resets the
// source's window via Reset.
type Limiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimiter builds a Limiter allowing rps requests per second per
// source, with the given burst.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether sourceIP may proceed, consuming a token if so.
func (l *Limiter) Allow(sourceIP string) bool {
	return l.forSource(sourceIP).Allow()
}

// Reset clears sourceIP's accumulated denial pressure by replacing
// its bucket with a fresh, full one.
func (l *Limiter) Reset(sourceIP string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[sourceIP] = rate.NewLimiter(l.rps, l.burst)
}

func (l *Limiter) forSource(sourceIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[sourceIP]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[sourceIP] = lim
	}
	return lim
}

// sweep removes idle buckets (those refilled to a full burst, meaning
// the source has been quiet long enough to regain every token), bounding memory
// use across long-lived processes with many distinct peers.
func (l *Limiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	for k, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, k)
		}
	}
}

// RunSweeper periodically sweeps idle per-source buckets until ctx is
// canceled. Intended to be started once as a background goroutine
// from cmd/gateway/main.go alongside the Limiter's construction.
func (l *Limiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}
