package kmeans

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/pkg/errors"
)

// blobs returns n points around each center with a small fixed jitter
func blobs(centers []features.Vector, n int) []features.Vector {
	offsets := []float64{-0.02, -0.01, 0, 0.01, 0.02}
	var out []features.Vector
	for _, c := range centers {
		for i := 0; i < n; i++ {
			p := c
			for d := range p {
				p[d] += offsets[(i+d)%len(offsets)]
			}
			out = append(out, p)
		}
	}
	return out
}

func TestTrain_SeparatesBlobs(t *testing.T) {
	centers := []features.Vector{
		{0.1, 0.1, 0.1, 0.1, 0.1},
		{0.5, 0.5, 0.5, 0.5, 0.5},
		{0.9, 0.9, 0.9, 0.9, 0.9},
	}
	points := blobs(centers, 20)

	fit, err := Train(context.Background(), points, 3, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, fit.Centroids, 3)

	assert.ElementsMatch(t, []int{20, 20, 20}, fit.Sizes)
	assert.Less(t, fit.Inertia, 0.5)
}

func TestTrain_InertiaDecreasesWithK(t *testing.T) {
	points := blobs([]features.Vector{
		{0.1, 0.2, 0.3, 0.4, 0.5},
		{0.8, 0.7, 0.6, 0.5, 0.4},
		{0.4, 0.9, 0.1, 0.2, 0.8},
	}, 15)

	one, err := Train(context.Background(), points, 1, DefaultOptions())
	require.NoError(t, err)
	three, err := Train(context.Background(), points, 3, DefaultOptions())
	require.NoError(t, err)

	assert.Greater(t, one.Inertia, three.Inertia)
}

func TestTrain_Deterministic(t *testing.T) {
	points := blobs([]features.Vector{{0.2, 0.2, 0.2, 0.2, 0.2}, {0.7, 0.7, 0.7, 0.7, 0.7}}, 10)

	a, err := Train(context.Background(), points, 2, DefaultOptions())
	require.NoError(t, err)
	b, err := Train(context.Background(), points, 2, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, a.Centroids, b.Centroids)
	assert.Equal(t, a.Inertia, b.Inertia)
}

func TestTrain_InvalidInput(t *testing.T) {
	_, err := Train(context.Background(), []features.Vector{{}}, 2, DefaultOptions())
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = Train(context.Background(), []features.Vector{{}}, 0, DefaultOptions())
	assert.ErrorIs(t, err, errors.ErrDataIntegrity)
}

func TestTrain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Train(ctx, blobs([]features.Vector{{}}, 5), 1, DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestArtifact_RoundTripPreservesScaling(t *testing.T) {
	m := &clustering.Model{
		K:         2,
		Centroids: []features.Vector{{0.9, 0.1, 0.8, 0.5, 0.5}, {0.1, 0.7, 0.2, 0.4, 0.6}},
		Quality:   1.25,
		Scaling: features.Scaling{Ranges: [features.Dimensions]features.Range{
			{Min: -0.2, Max: 0.9}, {Min: 0, Max: 3000}, {Min: 0, Max: 5000}, {Min: -4, Max: -3}, {Min: -61, Max: -60},
		}},
	}

	data, err := EncodeArtifact(m)
	require.NoError(t, err)

	got, err := DecodeArtifact(data)
	require.NoError(t, err)
	assert.Equal(t, m.Centroids, got.Centroids)
	assert.Equal(t, m.Scaling, got.Scaling)
}

func TestDecodeArtifact_Garbage(t *testing.T) {
	_, err := DecodeArtifact([]byte("not a tarball"))
	assert.ErrorIs(t, err, errors.ErrModelLoad)
}

func TestEncodeArtifact_RejectsInconsistentModel(t *testing.T) {
	_, err := EncodeArtifact(&clustering.Model{K: 3, Centroids: []features.Vector{{}}})
	assert.ErrorIs(t, err, errors.ErrModelLoad)
}
