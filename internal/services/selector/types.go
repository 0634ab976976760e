package selector

import (
	"time"

	"forestwatch/internal/domain/training"
	"forestwatch/internal/jobs"
)

// Config drives the search. Zero values are replaced by DefaultConfig values.
type Config struct {
	CandidateKs   []int
	DefaultK      int
	Penalty       float64 // complexity penalty per cluster
	ElbowFraction float64 // improvement below this share of the best improvement ends the elbow
	PollInterval  time.Duration
	Timeout       time.Duration
	Resources     training.ResourceSpec
	Backend       string // metrics label
}

// DefaultConfig mirrors the production defaults
func DefaultConfig() Config {
	return Config{
		CandidateKs:   []int{2, 3, 4, 5, 6},
		DefaultK:      4,
		Penalty:       0.1,
		ElbowFraction: 0.3,
		PollInterval:  10 * time.Second,
		Timeout:       30 * time.Minute,
		Backend:       "local",
	}
}

// Request asks for the best cluster count for one training dataset
type Request struct {
	Region        string
	TileID        string
	SourceImageID string
	DatasetRef    string
	CandidateKs   []int // optional override
}

// Method names how the cluster count was chosen
type Method string

const (
	MethodElbow     Method = "elbow"
	MethodBestScore Method = "best_score"
	MethodDefault   Method = "default"
)

// Candidate is the outcome of one cluster count's training job
type Candidate struct {
	K        int           `json:"k"`
	JobName  string        `json:"job_name"`
	State    jobs.State    `json:"state"`
	Quality  float64       `json:"quality_metric"`
	Score    float64       `json:"score"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`

	result *training.Result
}

// Completed reports whether the candidate produced a model
func (c Candidate) Completed() bool {
	return c.State == jobs.StateSucceeded && c.result != nil
}

// Selection is the search report
type Selection struct {
	TileID         string        `json:"tile_id"`
	OptimalK       int           `json:"optimal_k"`
	Reason         string        `json:"selection_reason"`
	Confidence     float64       `json:"confidence_score"`
	Method         Method        `json:"method"`
	TestedKs       []int         `json:"tested_k_values"`
	CompletedJobs  int           `json:"completed_jobs"`
	TotalJobs      int           `json:"total_jobs"`
	Candidates     []Candidate   `json:"candidates"`
	ProcessingTime time.Duration `json:"processing_time"`

	// Winner is the finished job for OptimalK, nil when the default was used
	Winner *training.Result `json:"-"`
}
