package selector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"forestwatch/internal/domain/training"
	"forestwatch/internal/jobs"
	"forestwatch/internal/metrics"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// stopTimeout bounds best-effort cleanup of unfinished jobs
const stopTimeout = 30 * time.Second

// Service selects the cluster count for a training dataset
type Service struct {
	trainer training.Trainer
	clock   jobs.Clock
	cfg     Config
	log     *logger.Logger
}

// NewService creates a selector
func NewService(trainer training.Trainer, clock jobs.Clock, cfg Config, log *logger.Logger) *Service {
	def := DefaultConfig()
	if len(cfg.CandidateKs) == 0 {
		cfg.CandidateKs = def.CandidateKs
	}
	if cfg.DefaultK < 1 {
		cfg.DefaultK = def.DefaultK
	}
	if cfg.ElbowFraction <= 0 {
		cfg.ElbowFraction = def.ElbowFraction
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Backend == "" {
		cfg.Backend = def.Backend
	}
	if clock == nil {
		clock = jobs.RealClock{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		trainer: trainer,
		clock:   clock,
		cfg:     cfg,
		log:     log.With("component", "k_selector"),
	}
}

// SelectOptimalK trains one model per candidate cluster count and picks one.
// Individual candidate failures never abort the search; with no completed
// candidate the default K is returned with confidence 0.5.
func (s *Service) SelectOptimalK(ctx context.Context, req Request) (*Selection, error) {
	if req.DatasetRef == "" {
		return nil, errors.NewValidationError("dataset_ref", "required", req.DatasetRef)
	}
	ks := req.CandidateKs
	if len(ks) == 0 {
		ks = s.cfg.CandidateKs
	}

	started := s.clock.Now()
	log := s.log.With("tile_id", req.TileID, "region", req.Region)
	if uniq := uniqueKs(ks); len(uniq) != len(ks) {
		log.Warnw("Dropping repeated cluster counts", "requested", ks, "candidates", uniq)
		ks = uniq
	}
	log.Infow("Starting cluster count search", "candidates", ks)

	candidates, handles, tracked := s.submitAll(ctx, req, ks, started)

	poller := jobs.NewPoller(s.trainer, s.clock, log)
	if err := poller.Run(ctx, tracked, s.cfg.PollInterval, s.cfg.Timeout); err != nil {
		log.Warnw("Polling interrupted", "error", err)
	}

	s.collect(ctx, candidates, handles)
	s.stopUnfinished(tracked)

	var completed []Candidate
	for _, c := range candidates {
		if c.Completed() {
			completed = append(completed, *c)
		}
	}

	decision := Choose(completed, s.cfg.DefaultK, s.cfg.ElbowFraction)
	sel := &Selection{
		TileID:         req.TileID,
		OptimalK:       decision.K,
		Reason:         decision.Reason,
		Confidence:     decision.Confidence,
		Method:         decision.Method,
		TestedKs:       ks,
		CompletedJobs:  len(completed),
		TotalJobs:      len(candidates),
		ProcessingTime: s.clock.Now().Sub(started),
	}
	for _, c := range candidates {
		sel.Candidates = append(sel.Candidates, *c)
		if c.K == decision.K && c.Completed() && decision.Method != MethodDefault {
			sel.Winner = c.result
		}
	}

	metrics.RecordSelection(sel.OptimalK, string(sel.Method), sel.Confidence)
	log.Infow("Selected cluster count",
		"k", sel.OptimalK,
		"reason", sel.Reason,
		"confidence", sel.Confidence,
		"completed", sel.CompletedJobs,
		"total", sel.TotalJobs,
	)
	return sel, nil
}

// uniqueKs drops repeated cluster counts, keeping first-seen order
func uniqueKs(ks []int) []int {
	seen := make(map[int]struct{}, len(ks))
	out := make([]int, 0, len(ks))
	for _, k := range ks {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// submitAll launches every candidate concurrently. handles is index-aligned
// with candidates; candidates whose submission failed are returned already
// Failed with a nil handle and are not tracked.
func (s *Service) submitAll(ctx context.Context, req Request, ks []int, at time.Time) ([]*Candidate, []*jobs.Job, []*jobs.Job) {
	candidates := make([]*Candidate, len(ks))
	handles := make([]*jobs.Job, len(ks))

	var wg sync.WaitGroup
	for i, k := range ks {
		name := fmt.Sprintf("k-selection-%s-k%d-%d-%s", req.TileID, k, at.Unix(), uuid.NewString()[:8])
		candidates[i] = &Candidate{K: k, JobName: name, State: jobs.StateSubmitted}

		wg.Add(1)
		go func(i, k int, name string) {
			defer wg.Done()
			h, err := s.trainer.Submit(ctx, training.JobSpec{
				Name:       name,
				DatasetRef: req.DatasetRef,
				K:          k,
				Resources:  s.cfg.Resources,
			})
			if err != nil {
				s.log.Errorw("Failed to submit training job", "k", k, "job", name, "error", err)
				candidates[i].State = jobs.StateFailed
				candidates[i].Error = err.Error()
				metrics.RecordTrainingJob(s.cfg.Backend, "submit_error", 0)
				return
			}
			handles[i] = jobs.NewJob(h, at)
		}(i, k, name)
	}
	wg.Wait()

	var tracked []*jobs.Job
	for _, j := range handles {
		if j != nil {
			tracked = append(tracked, j)
		}
	}
	return candidates, handles, tracked
}

// collect copies job outcomes onto candidates and fetches finished models.
// handles[i] is the job submitted for candidates[i].
func (s *Service) collect(ctx context.Context, candidates []*Candidate, handles []*jobs.Job) {
	now := s.clock.Now()
	for i, c := range candidates {
		j := handles[i]
		if j == nil {
			continue
		}
		c.State = j.State
		c.Duration = j.Duration(now)
		if j.Err != nil {
			c.Error = j.Err.Error()
		}
		metrics.RecordTrainingJob(s.cfg.Backend, string(j.State), c.Duration)

		if j.State != jobs.StateSucceeded {
			continue
		}
		res, err := s.trainer.FetchResult(ctx, j.Handle)
		if err != nil {
			s.log.Warnw("Failed to fetch training result", "k", c.K, "job", c.JobName, "error", err)
			c.State = jobs.StateFailed
			c.Error = err.Error()
			continue
		}
		c.result = res
		c.Quality = res.Quality
		c.Score = res.Quality + s.cfg.Penalty*float64(c.K)
		if res.Duration > 0 {
			c.Duration = res.Duration
		}
		s.log.Infow("Candidate completed", "k", c.K, "quality", c.Quality, "score", c.Score, "duration", c.Duration)
	}
}

// stopUnfinished cancels jobs that never reached a terminal remote state.
// Failures are logged only.
func (s *Service) stopUnfinished(tracked []*jobs.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	for _, j := range tracked {
		if j.LastStatus.Status.Terminal() {
			continue
		}
		if err := s.trainer.Stop(ctx, j.Handle); err != nil {
			s.log.Warnw("Failed to stop training job", "job", j.Handle.Name, "k", j.Handle.K, "error", err)
			continue
		}
		s.log.Infow("Stopped unfinished training job", "job", j.Handle.Name, "k", j.Handle.K)
	}
}
