package server

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxTrackedAuthors = 4096

// AuthorLimiter hands out one token bucket per author.
type AuthorLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewAuthorLimiter returns nil when rps is not positive, which disables limiting.
func NewAuthorLimiter(rps float64, burst int) *AuthorLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &AuthorLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

// Allow consumes a token for author. A nil limiter allows everything.
func (l *AuthorLimiter) Allow(author string) bool {
	if l == nil {
		return true
	}
	return l.get(author).Allow()
}

func (l *AuthorLimiter) get(author string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[author]; ok {
		return limiter
	}
	// Authors are self-asserted, so the table is reset rather than left to grow.
	if len(l.limiters) >= maxTrackedAuthors {
		l.limiters = make(map[string]*rate.Limiter)
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters[author] = limiter
	return limiter
}
