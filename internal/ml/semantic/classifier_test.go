package semantic

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/features"
)

func centroid(ndvi float64) features.Vector {
	return features.Vector{ndvi, 0.1, 0.4, -3.1, -60.2}
}

func TestClassifier_ExactlyOneHighCoverAndCleared(t *testing.T) {
	c := NewClassifier(DefaultThresholds())
	rng := rand.New(rand.NewPCG(7, 7))

	for k := 2; k <= 8; k++ {
		for trial := 0; trial < 50; trial++ {
			centroids := make([]features.Vector, k)
			for i := range centroids {
				centroids[i] = centroid(rng.Float64()*2 - 1)
			}

			labels, err := c.Classify(centroids)
			require.NoError(t, err)
			require.Len(t, labels, k)

			counts := map[change.Label]int{}
			for _, l := range labels {
				counts[l]++
			}
			assert.Equal(t, 1, counts[change.LabelHighCover], "k=%d", k)
			assert.Equal(t, 1, counts[change.LabelCleared], "k=%d", k)
			assert.Equal(t, k-2, counts[change.LabelDegraded], "k=%d", k)
		}
	}
}

func TestClassifier_OrdersByVegetationIndex(t *testing.T) {
	c := NewClassifier(DefaultThresholds())

	labels, err := c.Classify([]features.Vector{centroid(0.2), centroid(0.85), centroid(-0.1), centroid(0.5)})
	require.NoError(t, err)

	assert.Equal(t, Labels{
		change.LabelDegraded,
		change.LabelHighCover,
		change.LabelCleared,
		change.LabelDegraded,
	}, labels)
}

func TestClassifier_TwoClusters(t *testing.T) {
	c := NewClassifier(DefaultThresholds())

	labels, err := c.Classify([]features.Vector{centroid(0.1), centroid(0.8)})
	require.NoError(t, err)
	assert.Equal(t, Labels{change.LabelCleared, change.LabelHighCover}, labels)
}

func TestClassifier_TiesUseClusterIndex(t *testing.T) {
	c := NewClassifier(DefaultThresholds())

	labels, err := c.Classify([]features.Vector{centroid(0.4), centroid(0.4), centroid(0.4)})
	require.NoError(t, err)
	assert.Equal(t, Labels{change.LabelHighCover, change.LabelDegraded, change.LabelCleared}, labels)
}

func TestClassifier_SingleCluster(t *testing.T) {
	c := NewClassifier(DefaultThresholds())

	tests := []struct {
		name string
		ndvi float64
		want change.Label
	}{
		{"dense forest", 0.75, change.LabelHighCover},
		{"bare soil", 0.12, change.LabelCleared},
		{"sparse", 0.45, change.LabelDegraded},
		{"upper boundary", 0.6, change.LabelDegraded},
		{"lower boundary", 0.3, change.LabelDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			labels, err := c.Classify([]features.Vector{centroid(tt.ndvi)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, labels.Of(0))
		})
	}
}

func TestClassifier_Empty(t *testing.T) {
	c := NewClassifier(DefaultThresholds())

	_, err := c.Classify(nil)
	require.Error(t, err)
}
