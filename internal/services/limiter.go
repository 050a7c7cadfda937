package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter rate limits calls per collaborator so a burst of jobs cannot
// overload an external model or search backend.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter. A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		r = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until the named collaborator may be called again.
func (l *Limiter) Wait(ctx context.Context, collaborator string) error {
	if l == nil {
		return nil
	}
	return l.getLimiter(collaborator).Wait(ctx)
}

func (l *Limiter) getLimiter(collaborator string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[collaborator]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[collaborator]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[collaborator] = limiter
	return limiter
}

// ConfigureRates applies per-collaborator overrides keyed by executor
// operation name. Unknown names are rejected so a typo does not silently
// leave a backend on the default rate.
func (l *Limiter) ConfigureRates(rates map[string]float64) error {
	for name, r := range rates {
		if !knownOp(name) {
			return fmt.Errorf("unknown collaborator %q (supported: %s, %s, %s, %s)",
				name, opExtract, opRetrieve, opStance, opAggregate)
		}
		l.SetRate(name, r, 0)
	}
	return nil
}

// SetRate overrides the rate for one collaborator.
func (l *Limiter) SetRate(collaborator string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}
	l.limiters[collaborator] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
