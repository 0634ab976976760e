package registry

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/domain/storage"
	"forestwatch/internal/domain/training"
	"forestwatch/internal/ml/kmeans"
	"forestwatch/internal/repository/filesystem"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// faultyStore wraps a real store and fails selected operations
type faultyStore struct {
	storage.ObjectStore
	failPutSuffix string
	failList      bool
}

func (f *faultyStore) Put(ctx context.Context, key string, data []byte) error {
	if f.failPutSuffix != "" && strings.HasSuffix(key, f.failPutSuffix) {
		return errors.New("disk full")
	}
	return f.ObjectStore.Put(ctx, key, data)
}

func (f *faultyStore) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	if f.failList {
		return nil, errors.New("connection reset")
	}
	return f.ObjectStore.ListPrefixes(ctx, prefix)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newStore(t *testing.T) storage.ObjectStore {
	s, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

// trainedJob writes a model artifact where a trainer would and returns its result
func trainedJob(t *testing.T, store storage.ObjectStore, name string, k int) *training.Result {
	m := &clustering.Model{K: k, Quality: 1.5}
	for i := 0; i < k; i++ {
		v := float64(i) / float64(k)
		m.Centroids = append(m.Centroids, features.Vector{v, v, v, v, v})
	}
	data, err := kmeans.EncodeArtifact(m)
	require.NoError(t, err)

	key := "training-jobs/" + name + "/output/model.tar.gz"
	require.NoError(t, store.Put(context.Background(), key, data))
	return &training.Result{
		Handle:      training.Handle{ID: name, Name: name, K: k},
		Model:       m,
		ArtifactKey: key,
		Quality:     1.5,
	}
}

func saveReq(job *training.Result) SaveRequest {
	return SaveRequest{
		Region:                  "amazon",
		TileID:                  "22MBU",
		SourceImageID:           "S2A_22MBU_20240601",
		TrainingDatasetLocation: "datasets/amazon/22MBU/S2A_22MBU_20240601.json",
		Job:                     job,
	}
}

func TestSave_ThenGetLatestReturnsIt(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewService(store, nil, Config{Prefix: "models"}, logger.Nop())

	saved, err := svc.Save(ctx, saveReq(trainedJob(t, store, "job-a", 3)))
	require.NoError(t, err)

	latest, ok, err := svc.GetLatest(ctx, "amazon", "22MBU")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, saved.VersionID, latest.VersionID)
	assert.Equal(t, 3, latest.Hyperparameters.K)
	assert.Equal(t, "models/amazon/22MBU/"+saved.VersionID+"/model.artifact", latest.ModelArtifactLocation)
	assert.Equal(t, "S2A_22MBU_20240601", latest.SourceImageID)
}

func TestSave_HistoryGrowsByOneNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { now = now.Add(time.Hour); return now }
	svc := NewService(store, nil, Config{Prefix: "models"}, logger.Nop(), WithClock(clock))

	var saved []string
	for i := 0; i < 3; i++ {
		before, err := svc.GetHistory(ctx, "amazon", "22MBU")
		require.NoError(t, err)

		v, err := svc.Save(ctx, saveReq(trainedJob(t, store, "job", 2)))
		require.NoError(t, err)
		saved = append(saved, v.VersionID)

		after, err := svc.GetHistory(ctx, "amazon", "22MBU")
		require.NoError(t, err)
		assert.Len(t, after, len(before)+1)
		assert.Equal(t, v.VersionID, after[0].VersionID)
	}

	history, err := svc.GetHistory(ctx, "amazon", "22MBU")
	require.NoError(t, err)
	assert.Equal(t, []string{saved[2], saved[1], saved[0]},
		[]string{history[0].VersionID, history[1].VersionID, history[2].VersionID})
}

func TestSave_SameInstantProducesIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewService(store, nil, Config{Prefix: "models"}, logger.Nop(),
		WithClock(fixedClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))))

	a, err := svc.Save(ctx, saveReq(trainedJob(t, store, "a", 2)))
	require.NoError(t, err)
	b, err := svc.Save(ctx, saveReq(trainedJob(t, store, "b", 2)))
	require.NoError(t, err)

	assert.Greater(t, b.VersionID, a.VersionID)
}

func TestSave_ConcurrentSavesNeverCollide(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewService(store, NewLocalLocker(), Config{Prefix: "models"}, logger.Nop(),
		WithClock(fixedClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))))
	job := trainedJob(t, store, "shared", 2)

	const n = 8
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := svc.Save(ctx, saveReq(job))
			if assert.NoError(t, err) {
				ids[i] = v.VersionID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate version %s", id)
		seen[id] = true
	}
	history, err := svc.GetHistory(ctx, "amazon", "22MBU")
	require.NoError(t, err)
	assert.Len(t, history, n)
}

func TestSave_MetadataFailureIsPartialFailure(t *testing.T) {
	ctx := context.Background()
	base := newStore(t)
	store := &faultyStore{ObjectStore: base, failPutSuffix: "metadata.json"}
	svc := NewService(store, nil, Config{Prefix: "models"}, logger.Nop())

	_, err := svc.Save(ctx, saveReq(trainedJob(t, base, "job", 2)))
	require.Error(t, err)

	var partial *errors.PartialFailureError
	require.True(t, errors.As(err, &partial))
	assert.True(t, strings.HasSuffix(partial.OrphanKey, "/model.artifact"))

	ok, err := base.Exists(ctx, partial.OrphanKey)
	require.NoError(t, err)
	assert.True(t, ok, "artifact stays for the operator to clean up")

	// the half-written version is invisible to readers
	_, found, err := svc.GetLatest(ctx, "amazon", "22MBU")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSave_AfterOrphanStillIncreases(t *testing.T) {
	ctx := context.Background()
	base := newStore(t)
	clock := fixedClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	failing := NewService(&faultyStore{ObjectStore: base, failPutSuffix: "metadata.json"}, nil, Config{Prefix: "models"}, logger.Nop(), WithClock(clock))
	healthy := NewService(base, nil, Config{Prefix: "models"}, logger.Nop(), WithClock(clock))

	_, err := failing.Save(ctx, saveReq(trainedJob(t, base, "a", 2)))
	require.Error(t, err)

	v, err := healthy.Save(ctx, saveReq(trainedJob(t, base, "b", 2)))
	require.NoError(t, err)
	assert.Equal(t, "20240601-100000.000001", v.VersionID)
}

func TestGetLatest_AbsentCases(t *testing.T) {
	ctx := context.Background()

	t.Run("no versions", func(t *testing.T) {
		svc := NewService(newStore(t), nil, Config{Prefix: "models"}, logger.Nop())
		v, ok, err := svc.GetLatest(ctx, "amazon", "none")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("storage error", func(t *testing.T) {
		svc := NewService(&faultyStore{ObjectStore: newStore(t), failList: true}, nil, Config{Prefix: "models"}, logger.Nop())
		_, ok, err := svc.GetLatest(ctx, "amazon", "22MBU")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestGetLatest_MalformedMetadataIsDataIntegrity(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Put(ctx, "models/amazon/22MBU/20240601-100000.000000/metadata.json", []byte("{not json")))

	svc := NewService(store, nil, Config{Prefix: "models"}, logger.Nop())
	_, _, err := svc.GetLatest(ctx, "amazon", "22MBU")
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)
}

func TestSave_Validation(t *testing.T) {
	svc := NewService(newStore(t), nil, Config{Prefix: "models"}, logger.Nop())

	_, err := svc.Save(context.Background(), SaveRequest{Region: "amazon", TileID: "22MBU"})
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)
}

func TestLoadModel(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := NewService(store, nil, Config{Prefix: "models"}, logger.Nop())

	job := trainedJob(t, store, "job", 4)
	v, err := svc.Save(ctx, saveReq(job))
	require.NoError(t, err)

	m, err := svc.LoadModel(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, job.Model.Centroids, m.Centroids)

	_, err = svc.LoadModel(ctx, &modelVersionWithMissingArtifact)
	assert.ErrorIs(t, err, errors.ErrModelLoad)
}

var modelVersionWithMissingArtifact = func() modelversion.ModelVersion {
	return modelversion.ModelVersion{VersionID: "20240101-000000.000000", ModelArtifactLocation: "models/x/y/missing/model.artifact"}
}()
