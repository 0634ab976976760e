package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"forestwatch/pkg/errors"
)

// Limiter provides rate limiting for calls to an external service
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter creates a new rate limiter
// requestsPerMinute: maximum number of requests allowed per minute
func NewLimiter(name string, requestsPerMinute int) *Limiter {
	rps := float64(requestsPerMinute) / 60.0

	// Allow burst of 10% of per-minute limit
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
	}
}

// Wait blocks until the rate limiter allows the request
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(err, "rate limiter %s", l.name)
	}
	return nil
}

// Allow checks if a request is allowed without blocking
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// MultiLimiter manages several limiters (global, per operation)
type MultiLimiter struct {
	limiters map[string]*Limiter
	mu       sync.RWMutex
}

// NewMultiLimiter creates a new multi-limiter
func NewMultiLimiter() *MultiLimiter {
	return &MultiLimiter{
		limiters: make(map[string]*Limiter),
	}
}

// AddLimiter adds a rate limiter for a specific key
func (m *MultiLimiter) AddLimiter(key string, limiter *Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[key] = limiter
}

// Wait waits for all specified limiters; unknown keys are ignored
func (m *MultiLimiter) Wait(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, key := range keys {
		if limiter, ok := m.limiters[key]; ok {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

// Keys used by the training-service client
const (
	KeyGlobal = "global"
	KeySubmit = "submit"
)

// NewTrainerLimiters limits all trainer calls to requestsPerMinute and job
// submissions to a tenth of that (at least one per minute).
func NewTrainerLimiters(requestsPerMinute int) *MultiLimiter {
	m := NewMultiLimiter()
	m.AddLimiter(KeyGlobal, NewLimiter("trainer-global", requestsPerMinute))
	m.AddLimiter(KeySubmit, NewLimiter("trainer-submit", max(1, requestsPerMinute/10)))
	return m
}
