package riskservice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/features"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

func stats(coverage, ndvi float64) features.SceneStatistics {
	return features.SceneStatistics{
		MeanIndex:          ndvi,
		MinIndex:           ndvi - 0.1,
		MaxIndex:           ndvi + 0.1,
		VegetationCoverage: coverage,
		ValidPixels:        9000,
		TotalPixels:        10000,
	}
}

func tallied(tile string, transitions map[change.Transition]int, unchanged int) *change.Result {
	t := change.NewTally()
	for tr, n := range transitions {
		for i := 0; i < n; i++ {
			t.Observe(tr.From, tr.To)
		}
	}
	for i := 0; i < unchanged; i++ {
		t.Observe(change.LabelHighCover, change.LabelHighCover)
	}
	return &change.Result{TileID: tile, Tally: t, ChangePercentage: t.Percentage()}
}

func outcome(tile string, reused bool, c *change.Result) alert.SceneOutcome {
	return alert.SceneOutcome{
		SceneID:     "S2A_" + tile,
		Region:      "amazon",
		TileID:      tile,
		Succeeded:   true,
		ModelReused: reused,
		Stats:       stats(70, 0.6),
		Change:      c,
	}
}

func TestAssess_Levels(t *testing.T) {
	tests := []struct {
		name     string
		changes  []*change.Result
		level    alert.Level
		priority alert.Priority
	}{
		{
			name: "downgrade is high",
			changes: []*change.Result{
				tallied("22MBU", map[change.Transition]int{{From: change.LabelHighCover, To: change.LabelDegraded}: 3}, 97),
			},
			level:    alert.LevelHigh,
			priority: alert.PriorityChangeDetected,
		},
		{
			name: "degraded to cleared is high",
			changes: []*change.Result{
				tallied("22MBU", map[change.Transition]int{{From: change.LabelDegraded, To: change.LabelCleared}: 1}, 99),
				tallied("22MBV", nil, 100),
			},
			level:    alert.LevelHigh,
			priority: alert.PriorityChangeDetected,
		},
		{
			name: "regrowth only is medium",
			changes: []*change.Result{
				tallied("22MBU", map[change.Transition]int{{From: change.LabelCleared, To: change.LabelHighCover}: 5}, 95),
			},
			level:    alert.LevelMedium,
			priority: alert.PriorityMonitoringRequired,
		},
		{
			name:     "no change is info",
			changes:  []*change.Result{tallied("22MBU", nil, 100)},
			level:    alert.LevelInfo,
			priority: alert.PriorityStableConditions,
		},
	}

	engine := NewEngine(DefaultConfig(), logger.Nop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outcomes []alert.SceneOutcome
			for _, c := range tt.changes {
				outcomes = append(outcomes, outcome(c.TileID, true, c))
			}

			a, err := engine.Assess(outcomes)
			require.NoError(t, err)
			assert.Equal(t, tt.level, a.Level)
			assert.Equal(t, tt.priority, a.Priority)
			assert.Equal(t, alert.ModeClusterAnalysis, a.Mode)
			assert.Empty(t, a.FallbackReason)
			assert.Contains(t, a.RiskFactors, "Average NDVI: 0.600")
			assert.NotEmpty(t, a.ID)
		})
	}
}

func TestAssess_FallbackWhenChangeDetectionUnavailable(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())

	failed := outcome("22MBU", false, nil)
	failed.ChangeError = "load historical model: model load failed"
	outcomes := []alert.SceneOutcome{failed, outcome("22MBV", false, &change.Result{NoData: true, Tally: change.NewTally()})}

	a, err := engine.Assess(outcomes)
	require.NoError(t, err)

	assert.Equal(t, alert.LevelInfo, a.Level)
	assert.Equal(t, alert.PriorityDataReport, a.Priority)
	assert.Equal(t, alert.ModeDataReport, a.Mode)
	assert.Contains(t, a.FallbackReason, "change detection failed for 1 of 2 scenes")
	assert.Contains(t, a.RiskFactors, "Vegetation range: 70.0% - 70.0%")
	assert.Contains(t, a.RiskFactors, "Tiles analysed: 2")

	// same outcomes with change detection present score twice as high
	full := NewEngine(DefaultConfig(), logger.Nop()).confidence(outcomes, a.Statistics, a.Reuse)
	assert.InDelta(t, full.Overall/2, a.Confidence.Overall, 1e-9)
}

func TestAssess_FallbackReasonWithoutErrors(t *testing.T) {
	a, err := NewEngine(DefaultConfig(), logger.Nop()).Assess([]alert.SceneOutcome{outcome("22MBU", false, nil)})
	require.NoError(t, err)
	assert.Equal(t, "no temporal model comparison available for any tile", a.FallbackReason)
}

func TestAssess_ReuseStats(t *testing.T) {
	outcomes := []alert.SceneOutcome{
		outcome("22MBU", true, nil),
		outcome("22MBU", true, nil),
		outcome("22MBV", false, nil),
		outcome("21LYG", true, nil),
	}
	a, err := NewEngine(DefaultConfig(), logger.Nop()).Assess(outcomes)
	require.NoError(t, err)

	assert.Equal(t, 4, a.Reuse.TotalImages)
	assert.Equal(t, 3, a.Reuse.ModelsReused)
	assert.Equal(t, 1, a.Reuse.NewModelsTrained)
	assert.Equal(t, []string{"21LYG", "22MBU", "22MBV"}, a.Reuse.UniqueTiles)
	assert.InDelta(t, 75.0, a.Reuse.EfficiencyPct, 1e-9)
	assert.Contains(t, a.RiskFactors, "Model reuse efficiency: 75.0% (3 of 4 images)")
	assert.Contains(t, a.RiskFactors, "Multi-region analysis: 3 different areas")
}

func TestConfidence_Breakdown(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())
	outcomes := []alert.SceneOutcome{
		outcome("22MBU", true, nil),
		outcome("22MBV", false, nil),
	}
	outcomes[1].Stats = stats(50, 0.5)
	s := features.Aggregate([]features.SceneStatistics{outcomes[0].Stats, outcomes[1].Stats})
	r := analyzeReuse(outcomes)

	c := engine.confidence(outcomes, s, r)

	assert.InDelta(t, 0.9, c.DataQuality, 1e-9)
	assert.InDelta(t, 0.5, c.HistoricalConsistency, 1e-9)
	// std(70,50)=14.142, mean 60, cv 0.2357
	assert.InDelta(t, 1-(14.142135623730951/60)/0.5, c.SpatialCoherence, 1e-9)
	assert.InDelta(t, 2.0/3.0, c.MultiRegion, 1e-9)

	want := 0.9*0.35 + 0.5*0.25 + c.SpatialCoherence*0.25 + (2.0/3.0)*0.15
	assert.InDelta(t, want, c.Overall, 1e-9)
	assert.Equal(t, alert.ConfidenceMedium, c.Level)
	assert.Contains(t, c.Factors, "Good data quality (70-90%)")
	assert.Contains(t, c.Factors, "Low model consistency (<50% reuse)")
	assert.Contains(t, c.Factors, "Multi-region analysis (2 regions)")
}

func TestConfidence_NoVegetationIsNeutralCoherence(t *testing.T) {
	engine := NewEngine(DefaultConfig(), logger.Nop())
	outcomes := []alert.SceneOutcome{outcome("22MBU", false, nil)}
	outcomes[0].Stats = stats(0, 0.1)

	c := engine.confidence(outcomes, features.Aggregate([]features.SceneStatistics{outcomes[0].Stats}), analyzeReuse(outcomes))
	assert.Equal(t, 0.5, c.SpatialCoherence)
}

func TestConfidenceLevel(t *testing.T) {
	assert.Equal(t, alert.ConfidenceHigh, confidenceLevel(0.8))
	assert.Equal(t, alert.ConfidenceMedium, confidenceLevel(0.6))
	assert.Equal(t, alert.ConfidenceLow, confidenceLevel(0.4))
	assert.Equal(t, alert.ConfidenceVeryLow, confidenceLevel(0.39))
}

func TestAssess_Empty(t *testing.T) {
	_, err := NewEngine(DefaultConfig(), logger.Nop()).Assess(nil)
	assert.ErrorIs(t, err, errors.ErrNoData)
}
