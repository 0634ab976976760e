package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"forestwatch/internal/metrics"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// DefaultStopTimeout bounds how long Stop waits for running iterations
const DefaultStopTimeout = 2 * time.Minute

// Scheduler manages and coordinates multiple workers
type Scheduler struct {
	workers     []Worker
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex
	log         *logger.Logger
	started     bool
	stopTimeout time.Duration
}

// NewScheduler creates a new worker scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		workers:     make([]Worker, 0),
		log:         logger.Get().With("component", "scheduler"),
		stopTimeout: DefaultStopTimeout,
	}
}

// SetStopTimeout overrides the shutdown wait
func (s *Scheduler) SetStopTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimeout = d
}

// RegisterWorker adds a worker to the scheduler
func (s *Scheduler) RegisterWorker(w Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warnw("Cannot register worker after scheduler has started", "worker", w.Name())
		return
	}

	s.workers = append(s.workers, w)
	s.log.Infow("Worker registered", "worker", w.Name(), "interval", w.Interval())
}

// Start begins running all registered workers
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "scheduler already started")
	}

	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.log.Infow("Starting worker scheduler", "workers", len(s.workers))

	for _, worker := range s.workers {
		if !worker.Enabled() {
			s.log.Infow("Skipping disabled worker", "worker", worker.Name())
			continue
		}

		s.wg.Add(1)
		go s.runWorker(worker)
	}
	return nil
}

// Stop gracefully shuts down all workers
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrInternal, "scheduler not started")
	}
	s.cancel()
	timeout := s.stopTimeout
	s.mu.Unlock()

	s.log.Info("Stopping worker scheduler...")

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		s.log.Info("All workers stopped gracefully")
	case <-time.After(timeout):
		s.log.Warnw("Worker shutdown timed out", "timeout", timeout)
		shutdownErr = errors.Wrapf(errors.ErrTimeout, "worker shutdown after %s", timeout)
	}

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()

	return shutdownErr
}

// runWorker executes a single worker in a loop
func (s *Scheduler) runWorker(worker Worker) {
	defer s.wg.Done()

	ticker := time.NewTicker(worker.Interval())
	defer ticker.Stop()

	// Run immediately on start
	s.executeWorker(worker)

	for {
		select {
		case <-s.ctx.Done():
			s.log.Infow("Worker stopping due to context cancellation", "worker", worker.Name())
			return
		case <-ticker.C:
			if worker.Enabled() {
				s.executeWorker(worker)
			}
		}
	}
}

// executeWorker runs a single iteration of the worker with error handling
func (s *Scheduler) executeWorker(worker Worker) {
	start := time.Now()
	var err error

	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errors.ErrInternal, "worker panicked: %v", fmt.Sprint(r))
			s.log.Errorw("Worker panicked", "worker", worker.Name(), "panic", r)
		}

		duration := time.Since(start)
		metrics.RecordWorkerExecution(worker.Name(), duration, err)
		if hr, ok := worker.(HealthReporter); ok {
			if err != nil {
				hr.RecordError(err, duration)
			} else {
				hr.RecordRun(duration)
			}
		}
	}()

	err = worker.Run(s.ctx)
	if err != nil {
		s.log.Errorw("Worker execution failed",
			"worker", worker.Name(),
			"error", err,
			"duration", time.Since(start),
		)
		return
	}
	s.log.Debugw("Worker execution completed",
		"worker", worker.Name(),
		"duration", time.Since(start),
	)
}

// GetWorkers returns a list of all registered workers
func (s *Scheduler) GetWorkers() []Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	workers := make([]Worker, len(s.workers))
	copy(workers, s.workers)
	return workers
}

// Health returns the health of every worker that reports it
func (s *Scheduler) Health() map[string]WorkerHealth {
	out := make(map[string]WorkerHealth)
	for _, w := range s.GetWorkers() {
		if hr, ok := w.(HealthReporter); ok {
			out[w.Name()] = hr.Health()
		}
	}
	return out
}

// Unhealthy names enabled workers that have not run within maxAge or
// whose last run failed
func (s *Scheduler) Unhealthy(maxAge time.Duration) []string {
	var names []string
	now := time.Now()
	for name, h := range s.Health() {
		if !h.Enabled {
			continue
		}
		if now.Sub(h.LastRun) > maxAge || h.LastError != "" {
			names = append(names, name)
		}
	}
	return names
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}
