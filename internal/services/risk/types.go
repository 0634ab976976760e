package riskservice

// ConfidenceWeights combine the confidence components into the overall score
type ConfidenceWeights struct {
	DataQuality           float64
	HistoricalConsistency float64
	SpatialCoherence      float64
	MultiRegion           float64
}

// Config tunes the aggregator
type Config struct {
	Weights ConfidenceWeights

	// HighReuseEfficiency (percent) above which reuse is called out as high
	HighReuseEfficiency float64
	// FullCoverageTiles is the tile count at which multi-region confidence saturates
	FullCoverageTiles int
	// MaxCoefficientOfVariation of vegetation coverage that still scores any spatial coherence
	MaxCoefficientOfVariation float64
	// FallbackPenalty multiplies overall confidence in data-report mode
	FallbackPenalty float64
}

// DefaultConfig returns the production weights and thresholds
func DefaultConfig() Config {
	return Config{
		Weights: ConfidenceWeights{
			DataQuality:           0.35,
			HistoricalConsistency: 0.25,
			SpatialCoherence:      0.25,
			MultiRegion:           0.15,
		},
		HighReuseEfficiency:       80,
		FullCoverageTiles:         3,
		MaxCoefficientOfVariation: 0.5,
		FallbackPenalty:           0.5,
	}
}

const (
	descChangeDetected = "Significant vegetation changes detected through cluster analysis"
	descMonitoring     = "Moderate vegetation changes detected"
	descStable         = "Cluster analysis shows stable vegetation patterns"
	descDataReport     = "Vegetation analysis completed (basic mode)"

	actionInvestigate = "Immediate investigation of detected changes recommended"
	actionMonitor     = "Continue monitoring for trend development"
	actionRoutine     = "Regular monitoring schedule maintained"
	actionReview      = "Review data and assess based on local knowledge"
)
