package reconnect

import (
	"context"
	"sync"
	"time"

	"forestwatch/pkg/logger"
)

// Config tunes a Backoff
type Config struct {
	MinBackoff        time.Duration // first delay after a failure (default 1s)
	MaxBackoff        time.Duration // delay cap (default 2m)
	Multiplier        float64       // growth per consecutive failure (default 2)
	MaxFailures       int           // consecutive failures that open the circuit; 0 never opens
	CircuitResetAfter time.Duration // delay while the circuit is open (default 5m)
}

// Backoff paces retries of a connection-bound loop, such as a consumer that
// keeps failing to read from its broker. It is safe for concurrent use.
type Backoff struct {
	cfg Config
	now func() time.Time
	log *logger.Logger

	mu                  sync.Mutex
	current             time.Duration
	consecutiveFailures int
	totalFailures       int
	circuitOpenedAt     time.Time
}

// NewBackoff creates a Backoff with defaults filled in
func NewBackoff(cfg Config, log *logger.Logger) *Backoff {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 2 * time.Minute
		if cfg.MaxBackoff < cfg.MinBackoff {
			cfg.MaxBackoff = cfg.MinBackoff
		}
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.CircuitResetAfter <= 0 {
		cfg.CircuitResetAfter = 5 * time.Minute
	}
	if log == nil {
		log = logger.Get()
	}
	return &Backoff{
		cfg:     cfg,
		now:     time.Now,
		log:     log,
		current: cfg.MinBackoff,
	}
}

// Failure records a failed attempt and returns how long to wait before the
// next one
func (b *Backoff) Failure() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.totalFailures++

	if b.cfg.MaxFailures > 0 && b.consecutiveFailures >= b.cfg.MaxFailures {
		if b.circuitOpenedAt.IsZero() {
			b.circuitOpenedAt = b.now()
			b.log.Errorw("Circuit opened after consecutive failures",
				"consecutive_failures", b.consecutiveFailures,
				"reset_after", b.cfg.CircuitResetAfter,
			)
		}
		return b.cfg.CircuitResetAfter
	}

	delay := b.current
	next := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if next > b.cfg.MaxBackoff {
		next = b.cfg.MaxBackoff
	}
	b.current = next

	b.log.Warnw("Connection attempt failed",
		"consecutive_failures", b.consecutiveFailures,
		"backoff", delay,
	)
	return delay
}

// Success resets the delay and closes the circuit
func (b *Backoff) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consecutiveFailures > 0 {
		b.log.Infow("Connection restored", "after_failures", b.consecutiveFailures)
	}
	b.consecutiveFailures = 0
	b.current = b.cfg.MinBackoff
	b.circuitOpenedAt = time.Time{}
}

// Wait sleeps for d or until ctx is done
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a snapshot of a Backoff
type Stats struct {
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalFailures       int           `json:"total_failures"`
	NextBackoff         time.Duration `json:"next_backoff"`
	CircuitOpen         bool          `json:"circuit_open"`
	CircuitOpenedAt     time.Time     `json:"circuit_opened_at,omitempty"`
}

// Stats returns current counters
func (b *Backoff) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		ConsecutiveFailures: b.consecutiveFailures,
		TotalFailures:       b.totalFailures,
		NextBackoff:         b.current,
		CircuitOpen:         !b.circuitOpenedAt.IsZero(),
		CircuitOpenedAt:     b.circuitOpenedAt,
	}
}
