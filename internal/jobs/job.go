package jobs

import (
	"time"

	"forestwatch/internal/domain/training"
	"forestwatch/pkg/errors"
)

// State of a tracked training job
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether no further transitions are allowed
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateTimedOut:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

var transitions = map[State][]State{
	StateSubmitted: {StatePolling, StateFailed, StateTimedOut},
	StatePolling:   {StatePolling, StateSucceeded, StateFailed, StateTimedOut},
}

// Job tracks one submitted training job through its lifecycle
type Job struct {
	Handle      training.Handle
	State       State
	SubmittedAt time.Time
	FinishedAt  time.Time
	LastStatus  training.JobStatus
	Err         error
	Polls       int
	pollErrors  int
}

// NewJob starts tracking a submitted job
func NewJob(h training.Handle, at time.Time) *Job {
	return &Job{Handle: h, State: StateSubmitted, SubmittedAt: at}
}

// Transition moves the job to next, rejecting illegal moves
func (j *Job) Transition(next State, at time.Time) error {
	for _, allowed := range transitions[j.State] {
		if allowed == next {
			j.State = next
			if next.Terminal() {
				j.FinishedAt = at
			}
			return nil
		}
	}
	return errors.Wrapf(errors.ErrInvalidInput, "job %s: illegal transition %s -> %s", j.Handle.ID, j.State, next)
}

// Duration is the elapsed time from submission to finish (or to at, if still running)
func (j *Job) Duration(at time.Time) time.Duration {
	if !j.FinishedAt.IsZero() {
		return j.FinishedAt.Sub(j.SubmittedAt)
	}
	return at.Sub(j.SubmittedAt)
}
