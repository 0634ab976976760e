package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/adapters/trainer/local"
	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/domain/storage"
	"forestwatch/internal/domain/training"
	"forestwatch/internal/jobs"
	"forestwatch/internal/repository/filesystem"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// fakeTrainer finishes each k after a scripted number of polls with a scripted WCSS
type fakeTrainer struct {
	mu         sync.Mutex
	wcss       map[int]float64
	pollsUntil map[int]int // k -> polls before success; -1 never finishes
	failSubmit map[int]bool
	failJob    map[int]bool
	polls      map[string]int
	stopped    []int
}

func newFakeTrainer(wcss map[int]float64) *fakeTrainer {
	return &fakeTrainer{
		wcss:       wcss,
		pollsUntil: map[int]int{},
		failSubmit: map[int]bool{},
		failJob:    map[int]bool{},
		polls:      map[string]int{},
	}
}

func (f *fakeTrainer) Submit(_ context.Context, spec training.JobSpec) (training.Handle, error) {
	if f.failSubmit[spec.K] {
		return training.Handle{}, errors.Transient(errors.New("quota exceeded"), "submit")
	}
	return training.Handle{ID: fmt.Sprintf("job-%d", spec.K), Name: spec.Name, K: spec.K}, nil
}

func (f *fakeTrainer) Poll(_ context.Context, h training.Handle) (training.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.polls[h.ID]++
	if f.failJob[h.K] {
		return training.JobStatus{Status: training.StatusFailed, Message: "AlgorithmError"}, nil
	}
	until := f.pollsUntil[h.K]
	if until < 0 || f.polls[h.ID] <= until {
		return training.JobStatus{Status: training.StatusRunning}, nil
	}
	return training.JobStatus{Status: training.StatusSucceeded}, nil
}

func (f *fakeTrainer) FetchResult(_ context.Context, h training.Handle) (*training.Result, error) {
	q := f.wcss[h.K]
	return &training.Result{
		Handle:  h,
		Model:   &clustering.Model{K: h.K},
		Quality: q,
	}, nil
}

func (f *fakeTrainer) Stop(_ context.Context, h training.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, h.K)
	return nil
}

func newTestService(tr training.Trainer, cfg Config) (*Service, *jobs.FakeClock) {
	clock := jobs.NewFakeClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewService(tr, clock, cfg, logger.Nop()), clock
}

func elbowAtThree() map[int]float64 {
	return map[int]float64{2: 10.0, 3: 3.0, 4: 2.8, 5: 2.7, 6: 2.65}
}

func TestSelectOptimalK_ClearElbowAtThree(t *testing.T) {
	tr := newFakeTrainer(elbowAtThree())
	svc, _ := newTestService(tr, DefaultConfig())

	sel, err := svc.SelectOptimalK(context.Background(), Request{TileID: "22MBU", DatasetRef: "datasets/22MBU.json"})
	require.NoError(t, err)

	assert.Equal(t, 3, sel.OptimalK)
	assert.Equal(t, 0.8, sel.Confidence)
	assert.Equal(t, MethodElbow, sel.Method)
	assert.Equal(t, "Elbow method - diminishing returns after K=3", sel.Reason)
	assert.Equal(t, 5, sel.CompletedJobs)
	assert.Equal(t, 5, sel.TotalJobs)
	require.NotNil(t, sel.Winner)
	assert.Equal(t, 3, sel.Winner.Handle.K)
	assert.Empty(t, tr.stopped)
}

func TestSelectOptimalK_NoCompletedJobsFallsBackToDefault(t *testing.T) {
	tr := newFakeTrainer(elbowAtThree())
	for k := 2; k <= 6; k++ {
		tr.failSubmit[k] = true
	}
	svc, _ := newTestService(tr, DefaultConfig())

	sel, err := svc.SelectOptimalK(context.Background(), Request{TileID: "t", DatasetRef: "d"})
	require.NoError(t, err)

	assert.Equal(t, 4, sel.OptimalK)
	assert.Equal(t, 0.5, sel.Confidence)
	assert.Equal(t, MethodDefault, sel.Method)
	assert.Contains(t, sel.Reason, "no successful training jobs")
	assert.Nil(t, sel.Winner)
	for _, c := range sel.Candidates {
		assert.Equal(t, jobs.StateFailed, c.State)
	}
}

func TestSelectOptimalK_TimeoutStopsUnfinishedJobs(t *testing.T) {
	tr := newFakeTrainer(elbowAtThree())
	tr.pollsUntil[6] = -1
	tr.pollsUntil[5] = 2

	cfg := DefaultConfig()
	cfg.Timeout = time.Minute
	svc, clock := newTestService(tr, cfg)
	start := clock.Now()

	sel, err := svc.SelectOptimalK(context.Background(), Request{TileID: "t", DatasetRef: "d"})
	require.NoError(t, err)

	assert.Equal(t, 4, sel.CompletedJobs)
	assert.Equal(t, []int{6}, tr.stopped)
	assert.Equal(t, time.Minute, clock.Now().Sub(start))
	assert.Equal(t, 3, sel.OptimalK)

	states := map[int]jobs.State{}
	for _, c := range sel.Candidates {
		states[c.K] = c.State
	}
	assert.Equal(t, jobs.StateTimedOut, states[6])
	assert.Equal(t, jobs.StateSucceeded, states[5])
}

func TestSelectOptimalK_OneCandidateFailureDoesNotAbort(t *testing.T) {
	tr := newFakeTrainer(elbowAtThree())
	tr.failJob[4] = true
	tr.failSubmit[5] = true
	svc, _ := newTestService(tr, DefaultConfig())

	sel, err := svc.SelectOptimalK(context.Background(), Request{TileID: "t", DatasetRef: "d"})
	require.NoError(t, err)

	assert.Equal(t, 3, sel.CompletedJobs)
	assert.Equal(t, 5, sel.TotalJobs)
	assert.Equal(t, 3, sel.OptimalK)
}

func TestSelectOptimalK_RepeatedCandidatesTrainOnce(t *testing.T) {
	tr := newFakeTrainer(elbowAtThree())
	svc, _ := newTestService(tr, DefaultConfig())

	sel, err := svc.SelectOptimalK(context.Background(), Request{TileID: "t", DatasetRef: "d", CandidateKs: []int{2, 3, 3}})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 3}, sel.TestedKs)
	assert.Equal(t, 2, sel.TotalJobs)
	assert.Equal(t, 2, sel.CompletedJobs)
	names := map[string]bool{}
	for _, c := range sel.Candidates {
		assert.Equal(t, jobs.StateSucceeded, c.State, "k=%d", c.K)
		names[c.JobName] = true
	}
	assert.Len(t, names, 2)
}

func TestSelectOptimalK_JobNamesAreUnique(t *testing.T) {
	tr := newFakeTrainer(elbowAtThree())
	svc, _ := newTestService(tr, DefaultConfig())
	req := Request{TileID: "22MBU", DatasetRef: "d", CandidateKs: []int{3}}

	first, err := svc.SelectOptimalK(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.SelectOptimalK(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(first.Candidates[0].JobName, "k-selection-22MBU-k3-"))
	assert.NotEqual(t, first.Candidates[0].JobName, second.Candidates[0].JobName)
}

// separatedDataset stores n vectors drawn around three well-separated centres
func separatedDataset(t *testing.T, store storage.ObjectStore, n int) string {
	vectors := make([]features.Vector, 0, n)
	for i := 0; i < n; i++ {
		centre := float64(i%3) * 0.5
		idx := i / 3
		var v features.Vector
		for d := range v {
			v[d] = centre + float64((idx*(d+1)+d)%7-3)*0.01
		}
		vectors = append(vectors, v)
	}
	ds, err := features.NewTrainingDataset("amazon", "22MBU", "S2A_22MBU_20240601", vectors)
	require.NoError(t, err)
	body, err := json.Marshal(ds)
	require.NoError(t, err)

	key := "datasets/amazon/22MBU/S2A_22MBU_20240601.json"
	require.NoError(t, store.Put(context.Background(), key, body))
	return key
}

func TestSelectOptimalK_PenaltyChangesChoiceWithLocalTrainer(t *testing.T) {
	store, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)
	ref := separatedDataset(t, store, 3000)

	tr := local.New(store, local.DefaultConfig(), logger.Nop())
	t.Cleanup(func() { _ = tr.Close() })

	run := func(penalty float64) *Selection {
		cfg := DefaultConfig()
		cfg.CandidateKs = []int{3, 6}
		cfg.Penalty = penalty
		cfg.PollInterval = 10 * time.Millisecond
		cfg.Timeout = time.Minute
		svc := NewService(tr, nil, cfg, logger.Nop())

		sel, err := svc.SelectOptimalK(context.Background(), Request{TileID: "22MBU", DatasetRef: ref})
		require.NoError(t, err)
		require.Equal(t, 2, sel.CompletedJobs)
		for _, c := range sel.Candidates {
			assert.Less(t, c.Quality, 1.0, "k=%d quality is a per-pixel mean", c.K)
		}
		return sel
	}

	unpenalised := run(0)
	assert.Equal(t, 6, unpenalised.OptimalK)
	assert.Equal(t, MethodBestScore, unpenalised.Method)

	penalised := run(0.1)
	assert.Equal(t, 3, penalised.OptimalK)
	assert.Equal(t, MethodBestScore, penalised.Method)
	require.NotNil(t, penalised.Winner)
	assert.Equal(t, 3, penalised.Winner.Model.K)
}

func TestSelectOptimalK_RequiresDataset(t *testing.T) {
	svc, _ := newTestService(newFakeTrainer(nil), DefaultConfig())

	_, err := svc.SelectOptimalK(context.Background(), Request{TileID: "t"})
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)
}

func TestChoose(t *testing.T) {
	cand := func(k int, wcss float64) Candidate {
		return Candidate{K: k, Quality: wcss, Score: wcss + 0.1*float64(k), State: jobs.StateSucceeded}
	}

	t.Run("single candidate", func(t *testing.T) {
		d := Choose([]Candidate{cand(3, 1.5)}, 4, 0.3)
		assert.Equal(t, 3, d.K)
		assert.Equal(t, 0.6, d.Confidence)
		assert.Equal(t, "Best WCSS score: 1.5000", d.Reason)
	})

	t.Run("two candidates use score gap", func(t *testing.T) {
		// scores 1.2 and 1.3: gap 0.1 -> 0.7
		d := Choose([]Candidate{cand(2, 1.0), cand(3, 1.0)}, 4, 0.3)
		assert.Equal(t, 2, d.K)
		assert.InDelta(t, 0.7, d.Confidence, 1e-9)
		assert.Equal(t, MethodBestScore, d.Method)
	})

	t.Run("large gap caps at 0.9", func(t *testing.T) {
		d := Choose([]Candidate{cand(2, 5.0), cand(3, 1.0)}, 4, 0.3)
		assert.Equal(t, 3, d.K)
		assert.Equal(t, 0.9, d.Confidence)
	})

	t.Run("steady improvement has no elbow", func(t *testing.T) {
		d := Choose([]Candidate{cand(2, 9), cand(3, 7), cand(4, 5), cand(5, 3)}, 4, 0.3)
		assert.Equal(t, MethodBestScore, d.Method)
		assert.Equal(t, 5, d.K)
	})

	t.Run("input order does not matter", func(t *testing.T) {
		d := Choose([]Candidate{cand(5, 2.7), cand(2, 10), cand(4, 2.8), cand(3, 3)}, 4, 0.3)
		assert.Equal(t, 3, d.K)
		assert.Equal(t, MethodElbow, d.Method)
	})

	t.Run("empty uses default", func(t *testing.T) {
		d := Choose(nil, 4, 0.3)
		assert.Equal(t, 4, d.K)
		assert.Equal(t, 0.5, d.Confidence)
	})
}
