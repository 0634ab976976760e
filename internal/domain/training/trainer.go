package training

import (
	"context"
	"time"

	"forestwatch/internal/domain/clustering"
)

// Status is the remote state of a training job
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether the job will not change state again
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusStopped:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// ResourceSpec describes what the job may consume
type ResourceSpec struct {
	InstanceType  string        `json:"instance_type"`
	MaxRuntime    time.Duration `json:"max_runtime"`
	MaxIterations int           `json:"max_iterations"`
}

// JobSpec is one clustering job submission
type JobSpec struct {
	Name        string       `json:"name"`
	DatasetRef  string       `json:"dataset_ref"` // object-store key of the TrainingDataset
	K           int          `json:"k"`
	Resources   ResourceSpec `json:"resources"`
	SubmittedBy string       `json:"submitted_by,omitempty"`
}

// Handle identifies a submitted job
type Handle struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	K    int    `json:"k"`
}

// JobStatus is what a poll returns
type JobStatus struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Result is a finished job: the model plus where its artifact lives
type Result struct {
	Handle      Handle            `json:"handle"`
	Model       *clustering.Model `json:"-"`
	ArtifactKey string            `json:"artifact_key"`
	Quality     float64           `json:"quality_metric"`
	Duration    time.Duration     `json:"duration"`
}

// Trainer fits clustering models for a given cluster count
type Trainer interface {
	Submit(ctx context.Context, spec JobSpec) (Handle, error)
	Poll(ctx context.Context, h Handle) (JobStatus, error)
	FetchResult(ctx context.Context, h Handle) (*Result, error)
	Stop(ctx context.Context, h Handle) error
}
