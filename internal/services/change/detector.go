package changeservice

import (
	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/ml/semantic"
	"forestwatch/pkg/errors"
)

// Detector compares two independently trained models pixel by pixel.
// Cluster indices are never compared across models, only semantic labels.
type Detector struct {
	classifier *semantic.Classifier
	confidence ConfidenceEstimator
}

// NewDetector creates a detector. A nil estimator uses DefaultConfidence.
func NewDetector(classifier *semantic.Classifier, confidence ConfidenceEstimator) *Detector {
	if classifier == nil {
		classifier = semantic.NewClassifier(semantic.DefaultThresholds())
	}
	if confidence == nil {
		confidence = DefaultConfidence()
	}
	return &Detector{classifier: classifier, confidence: confidence}
}

// DetectChanges labels every vector under both models and tallies label
// transitions (historical -> current). Empty input yields a zero tally
// flagged NoData. The result carries no identity; callers stamp it.
func (d *Detector) DetectChanges(current, historical *clustering.Model, vectors []features.Vector) (*change.Result, error) {
	currentLabels, err := d.labels(current, "current")
	if err != nil {
		return nil, err
	}
	historicalLabels, err := d.labels(historical, "historical")
	if err != nil {
		return nil, err
	}

	tally := change.NewTally()
	if len(vectors) == 0 {
		return &change.Result{Tally: tally, NoData: true}, nil
	}

	for _, v := range vectors {
		tally.Observe(
			historicalLabels.Of(historical.Predict(v)),
			currentLabels.Of(current.Predict(v)),
		)
	}

	return &change.Result{
		Tally:            tally,
		ChangePercentage: tally.Percentage(),
		ConfidenceScore:  d.confidence.Estimate(tally),
	}, nil
}

func (d *Detector) labels(m *clustering.Model, which string) (semantic.Labels, error) {
	if m == nil {
		return nil, errors.Wrapf(errors.ErrModelLoad, "%s model missing", which)
	}
	if err := m.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s model", which)
	}
	labels, err := d.classifier.ClassifyModel(m)
	if err != nil {
		return nil, errors.Wrapf(err, "classify %s model", which)
	}
	return labels, nil
}
