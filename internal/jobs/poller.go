package jobs

import (
	"context"
	"time"

	"forestwatch/internal/domain/training"
	"forestwatch/pkg/logger"
)

// StatusSource is the part of a Trainer the poller needs
type StatusSource interface {
	Poll(ctx context.Context, h training.Handle) (training.JobStatus, error)
}

// MaxConsecutivePollErrors fails a job whose status cannot be read this many times in a row
const MaxConsecutivePollErrors = 3

// Poller advances a set of jobs on a fixed interval until all are terminal
// or the deadline passes.
type Poller struct {
	source StatusSource
	clock  Clock
	log    *logger.Logger
}

// NewPoller creates a poller
func NewPoller(source StatusSource, clock Clock, log *logger.Logger) *Poller {
	if clock == nil {
		clock = RealClock{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &Poller{source: source, clock: clock, log: log.With("component", "job_poller")}
}

// Run polls until every job is terminal or timeout elapses; jobs still running
// at the deadline become TimedOut. Returns ctx.Err() if ctx is cancelled, after
// marking unfinished jobs TimedOut.
func (p *Poller) Run(ctx context.Context, jobs []*Job, interval, timeout time.Duration) error {
	deadline := p.clock.Now().Add(timeout)

	for {
		if p.step(ctx, jobs) == 0 {
			return nil
		}

		now := p.clock.Now()
		if !now.Before(deadline) {
			p.expire(jobs, now)
			return nil
		}

		wait := interval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			p.expire(jobs, p.clock.Now())
			return ctx.Err()
		case <-p.clock.After(wait):
		}
	}
}

// step polls every non-terminal job once and returns how many remain active
func (p *Poller) step(ctx context.Context, jobs []*Job) int {
	active := 0
	for _, j := range jobs {
		if j.State.Terminal() {
			continue
		}
		p.advance(ctx, j)
		if !j.State.Terminal() {
			active++
		}
	}
	return active
}

func (p *Poller) advance(ctx context.Context, j *Job) {
	now := p.clock.Now()
	j.Polls++

	status, err := p.source.Poll(ctx, j.Handle)
	if err != nil {
		j.pollErrors++
		p.log.Warnw("Poll failed", "job", j.Handle.Name, "k", j.Handle.K, "attempt", j.pollErrors, "error", err)
		if j.pollErrors >= MaxConsecutivePollErrors {
			j.Err = err
			_ = j.Transition(StateFailed, now)
		} else if j.State == StateSubmitted {
			_ = j.Transition(StatePolling, now)
		}
		return
	}
	j.pollErrors = 0
	j.LastStatus = status

	switch status.Status {
	case training.StatusSucceeded:
		if j.State == StateSubmitted {
			_ = j.Transition(StatePolling, now)
		}
		_ = j.Transition(StateSucceeded, now)
	case training.StatusFailed, training.StatusStopped:
		j.Err = errJobEnded(status)
		_ = j.Transition(StateFailed, now)
	default:
		_ = j.Transition(StatePolling, now)
	}
}

func (p *Poller) expire(jobs []*Job, now time.Time) {
	for _, j := range jobs {
		if !j.State.Terminal() {
			_ = j.Transition(StateTimedOut, now)
			p.log.Warnw("Job timed out", "job", j.Handle.Name, "k", j.Handle.K)
		}
	}
}
