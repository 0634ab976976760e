package changeservice

import "forestwatch/internal/domain/change"

// ConfidenceEstimator scores how much a tally should be trusted, in [0,1]
type ConfidenceEstimator interface {
	Estimate(t change.Tally) float64
}

// LinearConfidence grows linearly with the changed share and saturates at
// SaturationPct. It is a heuristic, not a calibrated probability.
type LinearConfidence struct {
	SaturationPct float64
}

// DefaultConfidence reaches 1.0 at 10% changed pixels
func DefaultConfidence() LinearConfidence {
	return LinearConfidence{SaturationPct: 10}
}

// Estimate implements ConfidenceEstimator
func (l LinearConfidence) Estimate(t change.Tally) float64 {
	if t.Total == 0 || l.SaturationPct <= 0 {
		return 0
	}
	return min(t.Percentage()/l.SaturationPct, 1.0)
}
