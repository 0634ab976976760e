package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/domain/training"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// scriptedSource returns statuses from a per-job script; the last entry repeats
type scriptedSource struct {
	mu      sync.Mutex
	scripts map[string][]training.Status
	errs    map[string]error
	calls   map[string]int
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		scripts: map[string][]training.Status{},
		errs:    map[string]error{},
		calls:   map[string]int{},
	}
}

func (s *scriptedSource) Poll(_ context.Context, h training.Handle) (training.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.calls[h.ID]
	s.calls[h.ID]++
	if err := s.errs[h.ID]; err != nil {
		return training.JobStatus{}, err
	}
	script := s.scripts[h.ID]
	if n >= len(script) {
		n = len(script) - 1
	}
	return training.JobStatus{Status: script[n]}, nil
}

func start() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

func TestPoller_AllSucceed(t *testing.T) {
	src := newScriptedSource()
	src.scripts["a"] = []training.Status{training.StatusRunning, training.StatusSucceeded}
	src.scripts["b"] = []training.Status{training.StatusRunning, training.StatusRunning, training.StatusSucceeded}

	clock := NewFakeClock(start())
	jobs := []*Job{
		NewJob(training.Handle{ID: "a", K: 2}, clock.Now()),
		NewJob(training.Handle{ID: "b", K: 3}, clock.Now()),
	}

	err := NewPoller(src, clock, logger.Nop()).Run(context.Background(), jobs, 10*time.Second, 30*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, jobs[0].State)
	assert.Equal(t, StateSucceeded, jobs[1].State)
	assert.Equal(t, 10*time.Second, jobs[0].Duration(clock.Now()))
	assert.Equal(t, 20*time.Second, jobs[1].Duration(clock.Now()))
}

func TestPoller_TimeoutMarksRemaining(t *testing.T) {
	src := newScriptedSource()
	src.scripts["fast"] = []training.Status{training.StatusSucceeded}
	src.scripts["slow"] = []training.Status{training.StatusRunning}

	clock := NewFakeClock(start())
	jobs := []*Job{
		NewJob(training.Handle{ID: "fast"}, clock.Now()),
		NewJob(training.Handle{ID: "slow"}, clock.Now()),
	}

	err := NewPoller(src, clock, logger.Nop()).Run(context.Background(), jobs, 10*time.Second, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, StateSucceeded, jobs[0].State)
	assert.Equal(t, StateTimedOut, jobs[1].State)
	assert.Equal(t, start().Add(time.Minute), clock.Now())
}

func TestPoller_FailedJob(t *testing.T) {
	src := newScriptedSource()
	src.scripts["x"] = []training.Status{training.StatusFailed}

	clock := NewFakeClock(start())
	jobs := []*Job{NewJob(training.Handle{ID: "x"}, clock.Now())}

	require.NoError(t, NewPoller(src, clock, logger.Nop()).Run(context.Background(), jobs, time.Second, time.Minute))

	assert.Equal(t, StateFailed, jobs[0].State)
	assert.ErrorIs(t, jobs[0].Err, errors.ErrJobFailed)
}

func TestPoller_RepeatedPollErrorsFailJob(t *testing.T) {
	src := newScriptedSource()
	src.errs["x"] = errors.New("connection refused")

	clock := NewFakeClock(start())
	jobs := []*Job{NewJob(training.Handle{ID: "x"}, clock.Now())}

	require.NoError(t, NewPoller(src, clock, logger.Nop()).Run(context.Background(), jobs, time.Second, time.Hour))

	assert.Equal(t, StateFailed, jobs[0].State)
	assert.Equal(t, MaxConsecutivePollErrors, jobs[0].Polls)
}

func TestPoller_ContextCancelled(t *testing.T) {
	src := newScriptedSource()
	src.scripts["x"] = []training.Status{training.StatusRunning}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clock := NewFakeClock(start())
	jobs := []*Job{NewJob(training.Handle{ID: "x"}, clock.Now())}

	err := NewPoller(src, clock, logger.Nop()).Run(ctx, jobs, time.Second, time.Hour)
	// the fake clock's channel is always ready too, so either exit path may win
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, StateTimedOut, jobs[0].State)
}

func TestJob_IllegalTransition(t *testing.T) {
	j := NewJob(training.Handle{ID: "x"}, start())
	require.NoError(t, j.Transition(StatePolling, start()))
	require.NoError(t, j.Transition(StateSucceeded, start()))

	assert.Error(t, j.Transition(StatePolling, start()))
	assert.True(t, j.State.Terminal())
}
