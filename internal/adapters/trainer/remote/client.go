package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"forestwatch/internal/adapters/ratelimit"
	"forestwatch/internal/adapters/retry"
	"forestwatch/internal/domain/storage"
	"forestwatch/internal/domain/training"
	"forestwatch/internal/ml/kmeans"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Config for the training-service client
type Config struct {
	Endpoint          string
	RequestsPerMinute int
	RequestTimeout    time.Duration
	Retry             retry.Config
}

// Client talks to a remote training service that writes model artifacts
// into the shared object store:
//
//	POST {endpoint}/jobs             submit a JobSpec
//	GET  {endpoint}/jobs/{id}        poll status
//	GET  {endpoint}/jobs/{id}/result artifact key and quality
//	POST {endpoint}/jobs/{id}/stop   stop
type Client struct {
	base     *url.URL
	http     *http.Client
	store    storage.ObjectStore
	limiters *ratelimit.MultiLimiter
	retry    *retry.Middleware
	log      *logger.Logger
}

// New creates a client
func New(cfg Config, store storage.ObjectStore, log *logger.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.Endpoint, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.NewValidationError("TRAINER_ENDPOINT", "must be an absolute URL", cfg.Endpoint)
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Get()
	}
	return &Client{
		base:     base,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		store:    store,
		limiters: ratelimit.NewTrainerLimiters(cfg.RequestsPerMinute),
		retry:    retry.New(cfg.Retry),
		log:      log.With("component", "remote_trainer"),
	}, nil
}

type submitResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type resultResponse struct {
	ArtifactKey string        `json:"artifact_key"`
	Quality     float64       `json:"quality_metric"`
	Duration    time.Duration `json:"duration"`
}

// Submit sends a job to the service
func (c *Client) Submit(ctx context.Context, spec training.JobSpec) (training.Handle, error) {
	if spec.K < 1 {
		return training.Handle{}, errors.NewValidationError("k", "must be >= 1", spec.K)
	}
	if spec.Name == "" {
		spec.Name = "kmeans-k" + strconv.Itoa(spec.K) + "-" + uuid.NewString()[:8]
	}

	var resp submitResponse
	err := c.call(ctx, http.MethodPost, "jobs", spec, &resp, ratelimit.KeyGlobal, ratelimit.KeySubmit)
	if err != nil {
		return training.Handle{}, errors.Transient(errors.Wrapf(errors.ErrJobSubmission, "%s: %v", spec.Name, err), "submit training job")
	}
	if resp.Name == "" {
		resp.Name = spec.Name
	}
	c.log.Infow("Training job submitted", "job", resp.Name, "id", resp.ID, "k", spec.K)
	return training.Handle{ID: resp.ID, Name: resp.Name, K: spec.K}, nil
}

// Poll returns the remote status
func (c *Client) Poll(ctx context.Context, h training.Handle) (training.JobStatus, error) {
	var st training.JobStatus
	if err := c.call(ctx, http.MethodGet, "jobs/"+url.PathEscape(h.ID), nil, &st, ratelimit.KeyGlobal); err != nil {
		return training.JobStatus{}, errors.Transient(err, "poll "+h.Name)
	}
	return st, nil
}

// FetchResult downloads the artifact the service wrote and decodes the model
func (c *Client) FetchResult(ctx context.Context, h training.Handle) (*training.Result, error) {
	var res resultResponse
	if err := c.call(ctx, http.MethodGet, "jobs/"+url.PathEscape(h.ID)+"/result", nil, &res, ratelimit.KeyGlobal); err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && se.Code == http.StatusConflict {
			return nil, errors.Wrapf(errors.ErrJobNotFinished, "%s", h.Name)
		}
		return nil, errors.Transient(err, "fetch result "+h.Name)
	}

	data, err := c.store.Get(ctx, res.ArtifactKey)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrModelLoad, "artifact %s: %v", res.ArtifactKey, err)
	}
	model, err := kmeans.DecodeArtifact(data)
	if err != nil {
		return nil, err
	}
	return &training.Result{
		Handle:      h,
		Model:       model,
		ArtifactKey: res.ArtifactKey,
		Quality:     res.Quality,
		Duration:    res.Duration,
	}, nil
}

// Stop asks the service to stop the job
func (c *Client) Stop(ctx context.Context, h training.Handle) error {
	if err := c.call(ctx, http.MethodPost, "jobs/"+url.PathEscape(h.ID)+"/stop", nil, nil, ratelimit.KeyGlobal); err != nil {
		return errors.Transient(err, "stop "+h.Name)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out interface{}, limits ...string) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return errors.Wrap(err, "marshal request")
		}
	}
	target := c.base.JoinPath(path).String()

	payload, err := retry.DoValue(ctx, c.retry, func() ([]byte, error) {
		if err := c.limiters.Wait(ctx, limits...); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 300 {
			return nil, &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
		}
		return payload, nil
	})
	if err != nil {
		return err
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Wrapf(errors.ErrDataIntegrity, "decode %s %s: %v", method, path, err)
	}
	return nil
}
