package clustering

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"forestwatch/internal/domain/features"
	"forestwatch/pkg/errors"
)

// Model is a trained k-means partitioner.
// Centroids live in the normalized feature space described by Scaling.
type Model struct {
	K         int               `json:"k"`
	Centroids []features.Vector `json:"centroids"`
	Quality   float64           `json:"quality_metric"` // mean squared distance to the nearest centroid, lower is better
	Scaling   features.Scaling  `json:"scaling"`
	Iters     int               `json:"iterations"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Validate checks structural consistency after decoding
func (m *Model) Validate() error {
	if m.K < 1 {
		return errors.Wrapf(errors.ErrModelLoad, "cluster count %d", m.K)
	}
	if len(m.Centroids) != m.K {
		return errors.Wrapf(errors.ErrModelLoad, "have %d centroids for k=%d", len(m.Centroids), m.K)
	}
	for i, c := range m.Centroids {
		for _, x := range c {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return errors.Wrapf(errors.ErrModelLoad, "centroid %d is not finite", i)
			}
		}
	}
	return nil
}

// Predict returns the index of the nearest centroid for a raw feature vector.
// Ties go to the lowest index.
func (m *Model) Predict(v features.Vector) int {
	return m.PredictNormalized(m.Scaling.Normalize(v))
}

// PredictNormalized is Predict for a vector already in the model's space
func (m *Model) PredictNormalized(v features.Vector) int {
	best, bestDist := 0, math.Inf(1)
	s := v.Slice()
	for i, c := range m.Centroids {
		d := floats.Distance(s, c[:], 2)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// RawCentroids returns centroids mapped back to original feature units,
// so the vegetation coordinate is comparable across models.
func (m *Model) RawCentroids() []features.Vector {
	out := make([]features.Vector, len(m.Centroids))
	for i, c := range m.Centroids {
		out[i] = m.Scaling.Denormalize(c)
	}
	return out
}
