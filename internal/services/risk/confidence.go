package riskservice

import (
	"fmt"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/features"
)

func (e *Engine) confidence(outcomes []alert.SceneOutcome, s features.AggregateStatistics, reuse alert.ReuseStats) alert.Confidence {
	var c alert.Confidence
	total := float64(len(outcomes))

	// 1. Data quality: successful scenes weighted by valid pixel share
	succeeded := 0
	for _, o := range outcomes {
		if o.Succeeded {
			succeeded++
		}
	}
	c.DataQuality = float64(succeeded) / total * (s.DataQualityPct / 100)
	switch {
	case c.DataQuality > 0.9:
		c.Factors = append(c.Factors, "Excellent data quality (>90%)")
	case c.DataQuality > 0.7:
		c.Factors = append(c.Factors, "Good data quality (70-90%)")
	default:
		c.Factors = append(c.Factors, "Moderate data quality (<70%)")
	}

	// 2. Historical consistency: share of scenes scored by a reused model
	c.HistoricalConsistency = float64(reuse.ModelsReused) / total
	switch {
	case c.HistoricalConsistency > 0.8:
		c.Factors = append(c.Factors, "High model consistency (>80% reuse)")
	case c.HistoricalConsistency > 0.5:
		c.Factors = append(c.Factors, "Moderate model consistency (50-80% reuse)")
	default:
		c.Factors = append(c.Factors, "Low model consistency (<50% reuse)")
	}

	// 3. Spatial coherence: low coverage variation across scenes
	if s.AvgCoverage > 0 {
		cv := s.StdCoverage / s.AvgCoverage
		c.SpatialCoherence = max(0, 1-cv/e.cfg.MaxCoefficientOfVariation)
	} else {
		c.SpatialCoherence = 0.5
	}
	switch {
	case c.SpatialCoherence > 0.8:
		c.Factors = append(c.Factors, "High spatial coherence (low variance)")
	case c.SpatialCoherence > 0.6:
		c.Factors = append(c.Factors, "Moderate spatial coherence")
	default:
		c.Factors = append(c.Factors, "Low spatial coherence (high variance)")
	}

	// 4. Multi-region coverage
	tiles := len(reuse.UniqueTiles)
	if e.cfg.FullCoverageTiles > 0 {
		c.MultiRegion = min(float64(tiles)/float64(e.cfg.FullCoverageTiles), 1.0)
	}
	if tiles > 1 {
		c.Factors = append(c.Factors, fmt.Sprintf("Multi-region analysis (%d regions)", tiles))
	}

	w := e.cfg.Weights
	c.Overall = c.DataQuality*w.DataQuality +
		c.HistoricalConsistency*w.HistoricalConsistency +
		c.SpatialCoherence*w.SpatialCoherence +
		c.MultiRegion*w.MultiRegion
	c.Level = confidenceLevel(c.Overall)
	return c
}

func confidenceLevel(overall float64) alert.ConfidenceLevel {
	switch {
	case overall >= 0.8:
		return alert.ConfidenceHigh
	case overall >= 0.6:
		return alert.ConfidenceMedium
	case overall >= 0.4:
		return alert.ConfidenceLow
	default:
		return alert.ConfidenceVeryLow
	}
}
