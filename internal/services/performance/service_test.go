package performance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/repository/filesystem"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

type latestStub struct {
	v *modelversion.ModelVersion
}

func (l latestStub) GetLatest(context.Context, string, string) (*modelversion.ModelVersion, bool, error) {
	return l.v, l.v != nil, nil
}

func newTracker(t *testing.T, v *modelversion.ModelVersion) *Service {
	store, err := filesystem.NewStore(t.TempDir())
	require.NoError(t, err)
	return NewService(store, latestStub{v: v}, "model-performance", logger.Nop())
}

func version(k int) *modelversion.ModelVersion {
	return &modelversion.ModelVersion{
		Region:                "amazon",
		TileID:                "22MBU",
		VersionID:             "20240601-100000.000000",
		ModelArtifactLocation: "models/amazon/22MBU/20240601-100000.000000/model.artifact",
		SourceImageID:         "S2A_22MBU_20240601",
		Hyperparameters:       modelversion.Hyperparameters{K: k, TrainingJob: "kmeans-k3"},
	}
}

func observe(conf float64) Observation {
	return Observation{
		Region:         "amazon",
		TileID:         "22MBU",
		Confidence:     alert.Confidence{Overall: conf, DataQuality: 0.9},
		ProcessingTime: 2 * time.Second,
		PixelsAnalyzed: 12000,
		ModelReused:    true,
	}
}

func TestTrack_AppendsAndPersists(t *testing.T) {
	ctx := context.Background()
	svc := newTracker(t, version(3))

	for i := 0; i < 3; i++ {
		_, err := svc.Track(ctx, observe(0.7))
		require.NoError(t, err)
	}

	h, err := svc.Get(ctx, "amazon", "22MBU")
	require.NoError(t, err)
	require.Len(t, h.Entries, 3)
	assert.Equal(t, 3, h.Summary.TotalAnalyses)
	assert.InDelta(t, 0.7, h.Summary.AvgOverallConfidence, 1e-9)
	assert.Equal(t, 1.0, h.Summary.ModelReuseRate)
	assert.Equal(t, TrendStable, h.Summary.PerformanceTrend)
	assert.Equal(t, 1.0, h.Entries[0].ClusterStability)
	assert.Equal(t, int64(2000), h.Entries[0].ProcessingTimeMs)
	assert.Equal(t, "kmeans-k3", h.Entries[0].TrainingJob)
}

func TestTrack_NoModel(t *testing.T) {
	svc := newTracker(t, nil)
	_, err := svc.Track(context.Background(), observe(0.7))
	assert.ErrorIs(t, err, errors.ErrNoData)
}

func TestTrack_Validation(t *testing.T) {
	svc := newTracker(t, version(3))
	_, err := svc.Track(context.Background(), Observation{Region: "amazon"})
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)
}

func TestClusterStability(t *testing.T) {
	tests := []struct {
		k, pixels int
		want      float64
	}{
		{3, 20000, 1.0},
		{5, 7000, 0.8},
		{6, 1000, 0.6},
		{4, 1000, 0.8},
		{8, 50000, 0.8},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ClusterStability(tt.k, tt.pixels), 1e-9, "k=%d pixels=%d", tt.k, tt.pixels)
	}
}

func entries(conf ...float64) []Entry {
	out := make([]Entry, len(conf))
	for i, c := range conf {
		out[i] = Entry{OverallConfidence: c}
	}
	return out
}

func TestTrend(t *testing.T) {
	assert.Equal(t, TrendInsufficientData, trend(entries(0.5, 0.9)))
	assert.Equal(t, TrendImproving, trend(entries(0.1, 0.1, 0.5, 0.6, 0.7, 0.8)))
	assert.Equal(t, TrendDeclining, trend(entries(0.9, 0.8, 0.5)))
	assert.Equal(t, TrendStable, trend(entries(0.7, 0.72, 0.71, 0.7)))
}

func TestDetectAnomalies(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.Empty(t, detectAnomalies(entries(0.7, 0.7, 0.7, 0.1), now))

	got := detectAnomalies(entries(0.70, 0.72, 0.71, 0.69, 0.70, 0.20), now)
	require.Len(t, got, 1)
	assert.Equal(t, "confidence_anomaly", got[0].Type)
	assert.Equal(t, "high", got[0].Severity)

	slow := entries(0.7, 0.7, 0.7, 0.7, 0.7)
	for i := range slow {
		slow[i].ProcessingTimeMs = 3000
	}
	slow[4].ProcessingTimeMs = 45000
	got = detectAnomalies(slow, now)
	require.Len(t, got, 1)
	assert.Equal(t, "processing_time_anomaly", got[0].Type)
}
