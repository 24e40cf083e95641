package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultSendsPerMinute = 20
	defaultSendBurst      = 3
	limiterIdleTTL        = 30 * time.Minute
)

// chatLimiter paces outbound sends per chat so a burst of replies does not
// trip the platform's flood limits.
type chatLimiter struct {
	mu         sync.Mutex
	limit      rate.Limit
	burst      int
	limiters   map[string]*rate.Limiter
	lastAccess map[string]time.Time
	lastPrune  time.Time
	now        func() time.Time
}

func newChatLimiter(perMinute, burst int) *chatLimiter {
	if perMinute <= 0 {
		perMinute = defaultSendsPerMinute
	}
	if burst <= 0 {
		burst = defaultSendBurst
	}
	return &chatLimiter{
		limit:      rate.Limit(float64(perMinute) / 60.0),
		burst:      burst,
		limiters:   make(map[string]*rate.Limiter),
		lastAccess: make(map[string]time.Time),
		now:        time.Now,
	}
}

func (l *chatLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPrune) > limiterIdleTTL {
		for k, at := range l.lastAccess {
			if now.Sub(at) > limiterIdleTTL {
				delete(l.limiters, k)
				delete(l.lastAccess, k)
			}
		}
		l.lastPrune = now
	}

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	l.lastAccess[key] = now
	return lim
}

// Wait blocks until a send to key is permitted or ctx is done.
func (l *chatLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Allow reports whether a best-effort send (chat actions) may go out now.
func (l *chatLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

func (l *chatLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
