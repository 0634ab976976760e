package local

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/domain/storage"
	"forestwatch/internal/domain/training"
	"forestwatch/internal/ml/kmeans"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// ArtifactFile is the name of the model archive under each job prefix
const ArtifactFile = "model.tar.gz"

// Config for the in-process trainer
type Config struct {
	ArtifactPrefix string // jobs write to {prefix}/{job name}/model.tar.gz
	MaxConcurrent  int
	Options        kmeans.Options
	// Retention is how long a finished job stays pollable
	Retention time.Duration
}

// DefaultConfig returns defaults suitable for a single host
func DefaultConfig() Config {
	return Config{
		ArtifactPrefix: "training-jobs",
		MaxConcurrent:  4,
		Options:        kmeans.DefaultOptions(),
		Retention:      time.Hour,
	}
}

type job struct {
	handle    training.Handle
	spec      training.JobSpec
	status    training.JobStatus
	result    *training.Result
	cancel    context.CancelFunc
	done      chan struct{}
	submitted time.Time
	finished  time.Time
}

// Trainer runs k-means jobs in goroutines and writes artifacts to the object store
type Trainer struct {
	store storage.ObjectStore
	cfg   Config
	sem   chan struct{}
	log   *logger.Logger

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

// New creates a local trainer
func New(store storage.ObjectStore, cfg Config, log *logger.Logger) *Trainer {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.ArtifactPrefix == "" {
		cfg.ArtifactPrefix = DefaultConfig().ArtifactPrefix
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if log == nil {
		log = logger.Get()
	}
	return &Trainer{
		store: store,
		cfg:   cfg,
		sem:   make(chan struct{}, cfg.MaxConcurrent),
		log:   log.With("component", "local_trainer"),
		jobs:  make(map[string]*job),
	}
}

// Submit starts a job. The job outlives ctx; use Stop to cancel it.
func (t *Trainer) Submit(ctx context.Context, spec training.JobSpec) (training.Handle, error) {
	if spec.K < 1 {
		return training.Handle{}, errors.NewValidationError("k", "must be >= 1", spec.K)
	}
	if spec.DatasetRef == "" {
		return training.Handle{}, errors.NewValidationError("dataset_ref", "required", "")
	}
	if err := ctx.Err(); err != nil {
		return training.Handle{}, err
	}

	id := uuid.NewString()
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("kmeans-k%d-%s", spec.K, id[:8])
	}
	h := training.Handle{ID: id, Name: spec.Name, K: spec.K}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if spec.Resources.MaxRuntime > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), spec.Resources.MaxRuntime)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	j := &job{
		handle:    h,
		spec:      spec,
		status:    training.JobStatus{Status: training.StatusPending},
		cancel:    cancel,
		done:      make(chan struct{}),
		submitted: time.Now(),
	}

	t.mu.Lock()
	t.pruneLocked(j.submitted)
	t.jobs[id] = j
	t.mu.Unlock()

	t.wg.Add(1)
	go t.run(runCtx, j)

	t.log.Infow("Training job submitted", "job", h.Name, "k", h.K, "dataset", spec.DatasetRef)
	return h, nil
}

func (t *Trainer) run(ctx context.Context, j *job) {
	defer t.wg.Done()
	defer close(j.done)
	defer j.cancel()

	select {
	case t.sem <- struct{}{}:
		defer func() { <-t.sem }()
	case <-ctx.Done():
		t.finish(j, nil, ctx.Err())
		return
	}

	started := time.Now()
	t.mu.Lock()
	j.status = training.JobStatus{Status: training.StatusRunning, StartedAt: started}
	t.mu.Unlock()

	result, err := t.train(ctx, j)
	if result != nil {
		result.Duration = time.Since(started)
	}
	t.finish(j, result, err)
}

func (t *Trainer) train(ctx context.Context, j *job) (*training.Result, error) {
	data, err := t.store.Get(ctx, j.spec.DatasetRef)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset %s", j.spec.DatasetRef)
	}
	var ds features.TrainingDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "decode dataset %s: %v", j.spec.DatasetRef, err)
	}
	if ds.Len() == 0 {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "dataset %s has no vectors", j.spec.DatasetRef)
	}

	opts := t.cfg.Options
	if j.spec.Resources.MaxIterations > 0 {
		opts.MaxIterations = j.spec.Resources.MaxIterations
	}
	fit, err := kmeans.Train(ctx, ds.Normalized(), j.spec.K, opts)
	if err != nil {
		return nil, err
	}

	// Mean squared distance per pixel keeps the score comparable with the
	// per-cluster penalty regardless of scene size
	msd := fit.Inertia / float64(ds.Len())
	model := &clustering.Model{
		K:         j.spec.K,
		Centroids: fit.Centroids,
		Quality:   msd,
		Scaling:   ds.Scaling,
		Iters:     fit.Iterations,
		Meta: map[string]string{
			"training_job": j.handle.Name,
			"dataset":      j.spec.DatasetRef,
			"inertia":      strconv.FormatFloat(fit.Inertia, 'g', -1, 64),
		},
	}
	artifact, err := kmeans.EncodeArtifact(model)
	if err != nil {
		return nil, err
	}
	key := storage.Join(t.cfg.ArtifactPrefix, j.handle.Name, ArtifactFile)
	if err := t.store.Put(ctx, key, artifact); err != nil {
		return nil, errors.Wrap(err, "write model artifact")
	}

	return &training.Result{
		Handle:      j.handle,
		Model:       model,
		ArtifactKey: key,
		Quality:     msd,
	}, nil
}

func (t *Trainer) finish(j *job, result *training.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j.finished = time.Now()
	j.status.Duration = j.finished.Sub(j.submitted)
	switch {
	case err == nil:
		j.status.Status = training.StatusSucceeded
		j.result = result
		t.log.Infow("Training job succeeded", "job", j.handle.Name, "k", j.handle.K, "msd", result.Quality, "duration", result.Duration)
	case errors.Is(err, context.Canceled):
		j.status.Status = training.StatusStopped
		j.status.Message = "stopped"
		t.log.Infow("Training job stopped", "job", j.handle.Name)
	default:
		j.status.Status = training.StatusFailed
		j.status.Message = err.Error()
		t.log.Warnw("Training job failed", "job", j.handle.Name, "k", j.handle.K, "error", err)
	}
}

// pruneLocked forgets jobs that finished more than Retention ago
func (t *Trainer) pruneLocked(now time.Time) {
	for id, j := range t.jobs {
		if !j.finished.IsZero() && now.Sub(j.finished) > t.cfg.Retention {
			delete(t.jobs, id)
		}
	}
}

// Jobs returns the number of jobs still held
func (t *Trainer) Jobs() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

func (t *Trainer) get(h training.Handle) (*job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.jobs[h.ID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "training job %s", h.Name)
	}
	return j, nil
}

// Poll returns the job's current status
func (t *Trainer) Poll(ctx context.Context, h training.Handle) (training.JobStatus, error) {
	j, err := t.get(h)
	if err != nil {
		return training.JobStatus{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return j.status, nil
}

// FetchResult returns the model of a succeeded job
func (t *Trainer) FetchResult(ctx context.Context, h training.Handle) (*training.Result, error) {
	j, err := t.get(h)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch j.status.Status {
	case training.StatusSucceeded:
		return j.result, nil
	case training.StatusFailed, training.StatusStopped:
		return nil, errors.Wrapf(errors.ErrJobFailed, "%s: %s", h.Name, j.status.Message)
	default:
		return nil, errors.Wrapf(errors.ErrJobNotFinished, "%s is %s", h.Name, j.status.Status)
	}
}

// Stop cancels a job; finished jobs are left alone
func (t *Trainer) Stop(ctx context.Context, h training.Handle) error {
	j, err := t.get(h)
	if err != nil {
		return err
	}
	j.cancel()
	return nil
}

// Wait blocks until the job has finished or ctx ends
func (t *Trainer) Wait(ctx context.Context, h training.Handle) error {
	j, err := t.get(h)
	if err != nil {
		return err
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops every running job and waits for the goroutines to exit
func (t *Trainer) Close() error {
	t.mu.Lock()
	for _, j := range t.jobs {
		j.cancel()
	}
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}
