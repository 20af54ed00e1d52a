package fetch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter implements per-domain rate limiting and failure caps. A
// domain that accumulates maxFailures failed fetches is skipped for the
// rest of the run.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	failures     map[string]int
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
	maxFailures  int
}

// NewLimiter creates a limiter. maxFailures <= 0 disables the cap.
func NewLimiter(requestsPerSecond float64, burst, maxFailures int) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if burst <= 0 {
		burst = 4
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		failures:     make(map[string]int),
		defaultRate:  rate.Limit(requestsPerSecond),
		defaultBurst: burst,
		maxFailures:  maxFailures,
	}
}

// Wait blocks until the domain's rate limit clears
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	return l.getLimiter(domain).Wait(ctx)
}

// getLimiter returns the rate limiter for a domain
func (l *Limiter) getLimiter(domain string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[domain]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[domain]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[domain] = limiter

	return limiter
}

// RecordFailure counts one failed fetch against a domain
func (l *Limiter) RecordFailure(domain string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[domain]++
}

// Failures returns the failure count for a domain
func (l *Limiter) Failures(domain string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failures[domain]
}

// Blocked reports whether a domain has hit its failure cap
func (l *Limiter) Blocked(domain string) bool {
	if l.maxFailures <= 0 {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.failures[domain] >= l.maxFailures
}
