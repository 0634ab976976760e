package semantic

import (
	"sort"

	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/pkg/errors"
)

// Thresholds classify a single-cluster model by absolute vegetation index
type Thresholds struct {
	HighCover float64 // above: high cover
	Cleared   float64 // below: cleared
}

// DefaultThresholds are the NDVI cut-offs for k=1
func DefaultThresholds() Thresholds {
	return Thresholds{HighCover: 0.6, Cleared: 0.3}
}

// Classifier maps cluster indices to semantic labels by centroid vegetation index.
// It holds no state beyond thresholds; labels are recomputed on every call.
type Classifier struct {
	thresholds Thresholds
}

// NewClassifier creates a classifier
func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{thresholds: t}
}

// Labels maps cluster index to label
type Labels []change.Label

// Of returns the label of cluster i
func (l Labels) Of(i int) change.Label {
	return l[i]
}

// Classify labels each centroid. Centroids must be in raw feature units.
// The highest vegetation index is high cover, the lowest cleared, the rest degraded;
// equal values keep cluster-index order.
func (c *Classifier) Classify(centroids []features.Vector) (Labels, error) {
	k := len(centroids)
	if k == 0 {
		return nil, errors.Wrap(errors.ErrDataIntegrity, "classify: no centroids")
	}

	labels := make(Labels, k)
	if k == 1 {
		labels[0] = c.absolute(centroids[0].VegetationIndex())
		return labels, nil
	}

	order := make([]int, k)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return centroids[order[a]].VegetationIndex() > centroids[order[b]].VegetationIndex()
	})

	for rank, idx := range order {
		switch rank {
		case 0:
			labels[idx] = change.LabelHighCover
		case k - 1:
			labels[idx] = change.LabelCleared
		default:
			labels[idx] = change.LabelDegraded
		}
	}
	return labels, nil
}

// ClassifyModel labels a trained model's clusters
func (c *Classifier) ClassifyModel(m *clustering.Model) (Labels, error) {
	return c.Classify(m.RawCentroids())
}

func (c *Classifier) absolute(index float64) change.Label {
	switch {
	case index > c.thresholds.HighCover:
		return change.LabelHighCover
	case index < c.thresholds.Cleared:
		return change.LabelCleared
	default:
		return change.LabelDegraded
	}
}
