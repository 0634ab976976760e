package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/adapters/retry"
	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/domain/training"
	"forestwatch/internal/ml/kmeans"
	"forestwatch/internal/repository/filesystem"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

func newClient(t *testing.T, h http.Handler) (*Client, *filesystem.Store) {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)

	c, err := New(Config{
		Endpoint:          srv.URL + "/v1",
		RequestsPerMinute: 6000,
		Retry:             retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, store, logger.Nop())
	require.NoError(t, err)
	return c, store
}

func TestClient_JobLifecycle(t *testing.T) {
	ctx := context.Background()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/jobs", func(w http.ResponseWriter, r *http.Request) {
		var spec training.JobSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, 3, spec.K)
		_ = json.NewEncoder(w).Encode(submitResponse{ID: "job-1", Name: spec.Name})
	})
	mux.HandleFunc("GET /v1/jobs/job-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(training.JobStatus{Status: training.StatusSucceeded})
	})
	mux.HandleFunc("GET /v1/jobs/job-1/result", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(resultResponse{ArtifactKey: "training-jobs/remote/model.tar.gz", Quality: 4.2})
	})
	client, store := newClient(t, mux)

	m := &clustering.Model{K: 3, Scaling: features.UnitScaling(), Centroids: []features.Vector{{0.1}, {0.5}, {0.9}}}
	artifact, err := kmeans.EncodeArtifact(m)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "training-jobs/remote/model.tar.gz", artifact))

	h, err := client.Submit(ctx, training.JobSpec{DatasetRef: "datasets/x.json", K: 3})
	require.NoError(t, err)
	assert.Equal(t, "job-1", h.ID)
	assert.Contains(t, h.Name, "kmeans-k3-")

	st, err := client.Poll(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, training.StatusSucceeded, st.Status)

	res, err := client.FetchResult(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 4.2, res.Quality)
	assert.Equal(t, m.Centroids, res.Model.Centroids)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(training.JobStatus{Status: training.StatusRunning})
	}))

	st, err := client.Poll(context.Background(), training.Handle{ID: "job-1", Name: "k3"})
	require.NoError(t, err)
	assert.Equal(t, training.StatusRunning, st.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_SubmitFailureIsTransient(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))

	_, err := client.Submit(context.Background(), training.JobSpec{DatasetRef: "d", K: 2})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.ErrorIs(t, err, errors.ErrJobSubmission)
}

func TestClient_ResultNotReady(t *testing.T) {
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "still running", http.StatusConflict)
	}))

	_, err := client.FetchResult(context.Background(), training.Handle{ID: "job-1", Name: "k3"})
	assert.ErrorIs(t, err, errors.ErrJobNotFinished)
}

func TestNew_RejectsRelativeEndpoint(t *testing.T) {
	_, err := New(Config{Endpoint: "trainer.local"}, nil, logger.Nop())
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)
}

func TestClient_MalformedBodyIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status":`))
	}))

	_, err := client.Poll(context.Background(), training.Handle{ID: "job-1", Name: "k3"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)
	assert.Equal(t, int32(1), calls.Load())
}
