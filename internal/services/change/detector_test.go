package changeservice

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/pkg/errors"
)

func vec(ndvi float64) features.Vector {
	return features.Vector{ndvi, 0.5, 0.5, 0.5, 0.5}
}

func model(ndvi ...float64) *clustering.Model {
	m := &clustering.Model{K: len(ndvi), Scaling: features.UnitScaling()}
	for _, x := range ndvi {
		m.Centroids = append(m.Centroids, vec(x))
	}
	return m
}

func TestDetectChanges_LabelsNotIndices(t *testing.T) {
	// same meaning, opposite cluster order
	current := model(0.8, 0.1)
	historical := model(0.15, 0.75)

	d := NewDetector(nil, nil)
	res, err := d.DetectChanges(current, historical, []features.Vector{vec(0.78), vec(0.12)})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Tally.Changed)
	assert.Equal(t, 2, res.Tally.Total)
	assert.Zero(t, res.ChangePercentage)
	assert.False(t, res.NoData)
}

func TestDetectChanges_CountsDowngrade(t *testing.T) {
	historical := model(0.8, 0.45, 0.1)
	current := model(0.1, 0.8, 0.45)

	// reordered clusters with identical centroids change nothing
	pixels := []features.Vector{vec(0.9), vec(0.5), vec(0.05)}
	res, err := NewDetector(nil, nil).DetectChanges(current, historical, pixels)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Tally.Changed)

	// the degraded tier moves up and captures pixels that were high cover
	current = model(0.1, 0.95, 0.7)
	res, err = NewDetector(nil, nil).DetectChanges(current, historical, []features.Vector{vec(0.72), vec(0.74)})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Tally.Count(change.LabelHighCover, change.LabelDegraded))
	assert.Equal(t, 2, res.Tally.Changed)
	assert.True(t, res.HasDowngrade())
	assert.InDelta(t, 100.0, res.ChangePercentage, 1e-9)
	assert.InDelta(t, 1.0, res.ConfidenceScore, 1e-9)
	assert.Equal(t, 2, res.Legacy().ForestToDegraded)
}

func TestDetectChanges_EmptyVectors(t *testing.T) {
	res, err := NewDetector(nil, nil).DetectChanges(model(0.8, 0.1), model(0.7, 0.2), nil)
	require.NoError(t, err)

	assert.True(t, res.NoData)
	assert.Zero(t, res.ChangePercentage)
	assert.Zero(t, res.ConfidenceScore)
	assert.Zero(t, res.Tally.Changed)
	assert.Len(t, res.Tally.Counts, len(change.AllTransitions()))
}

func TestDetectChanges_ModelLoadFailure(t *testing.T) {
	d := NewDetector(nil, nil)

	_, err := d.DetectChanges(nil, model(0.5, 0.1), []features.Vector{vec(0.3)})
	assert.ErrorIs(t, err, errors.ErrModelLoad)

	broken := &clustering.Model{K: 3, Centroids: []features.Vector{vec(0.1)}}
	_, err = d.DetectChanges(model(0.5, 0.1), broken, []features.Vector{vec(0.3)})
	assert.ErrorIs(t, err, errors.ErrModelLoad)
}

func randomModel(rng *rand.Rand) *clustering.Model {
	k := 1 + rng.IntN(6)
	ndvi := make([]float64, k)
	for i := range ndvi {
		ndvi[i] = rng.Float64()
	}
	m := model(ndvi...)
	for i := range m.Centroids {
		for d := 1; d < features.Dimensions; d++ {
			m.Centroids[i][d] = rng.Float64()
		}
	}
	return m
}

func TestDetectChanges_TallyProperties(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	d := NewDetector(nil, nil)

	for trial := 0; trial < 50; trial++ {
		current, historical := randomModel(rng), randomModel(rng)
		pixels := make([]features.Vector, rng.IntN(200))
		for i := range pixels {
			for dim := range pixels[i] {
				pixels[i][dim] = rng.Float64()
			}
		}

		res, err := d.DetectChanges(current, historical, pixels)
		require.NoError(t, err)

		sum := 0
		for _, c := range res.Tally.Counts {
			sum += c
		}
		assert.Equal(t, res.Tally.Changed, sum)
		assert.LessOrEqual(t, res.Tally.Changed, len(pixels))
		assert.Equal(t, len(pixels), res.Tally.Total)
		assert.GreaterOrEqual(t, res.ConfidenceScore, 0.0)
		assert.LessOrEqual(t, res.ConfidenceScore, 1.0)

		again, err := d.DetectChanges(current, historical, pixels)
		require.NoError(t, err)
		assert.Equal(t, res, again)
	}
}

func TestLinearConfidence(t *testing.T) {
	c := DefaultConfidence()

	tally := change.NewTally()
	assert.Zero(t, c.Estimate(tally))

	for i := 0; i < 95; i++ {
		tally.Observe(change.LabelCleared, change.LabelCleared)
	}
	for i := 0; i < 5; i++ {
		tally.Observe(change.LabelHighCover, change.LabelCleared)
	}
	assert.InDelta(t, 0.5, c.Estimate(tally), 1e-9)

	for i := 0; i < 20; i++ {
		tally.Observe(change.LabelHighCover, change.LabelCleared)
	}
	assert.Equal(t, 1.0, c.Estimate(tally))
}

type fixedConfidence float64

func (f fixedConfidence) Estimate(change.Tally) float64 { return float64(f) }

func TestDetectChanges_CustomEstimator(t *testing.T) {
	res, err := NewDetector(nil, fixedConfidence(0.42)).DetectChanges(model(0.8, 0.1), model(0.1, 0.8), []features.Vector{vec(0.8)})
	require.NoError(t, err)
	assert.Equal(t, 0.42, res.ConfidenceScore)
}
