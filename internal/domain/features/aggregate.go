package features

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// AggregateStatistics summarises several scenes for risk reporting
type AggregateStatistics struct {
	SceneCount     int     `json:"scene_count"`
	AvgCoverage    float64 `json:"avg_vegetation_coverage"`
	MinCoverage    float64 `json:"min_vegetation_coverage"`
	MaxCoverage    float64 `json:"max_vegetation_coverage"`
	StdCoverage    float64 `json:"std_vegetation_coverage"`
	AvgIndex       float64 `json:"avg_ndvi"`
	MinIndex       float64 `json:"min_ndvi"`
	MaxIndex       float64 `json:"max_ndvi"`
	StdIndex       float64 `json:"std_ndvi"`
	TotalPixels    int     `json:"total_pixels"`
	ValidPixels    int     `json:"valid_pixels"`
	DataQualityPct float64 `json:"data_quality_percentage"`
}

// Aggregate combines per-scene statistics. Standard deviations are sample
// deviations across scenes and are 0 for fewer than two scenes.
func Aggregate(scenes []SceneStatistics) AggregateStatistics {
	agg := AggregateStatistics{SceneCount: len(scenes)}
	if len(scenes) == 0 {
		return agg
	}

	coverage := make([]float64, len(scenes))
	index := make([]float64, len(scenes))
	for i, s := range scenes {
		coverage[i] = s.VegetationCoverage
		index[i] = s.MeanIndex
		agg.TotalPixels += s.TotalPixels
		agg.ValidPixels += s.ValidPixels
	}

	agg.AvgCoverage = stat.Mean(coverage, nil)
	agg.MinCoverage = floats.Min(coverage)
	agg.MaxCoverage = floats.Max(coverage)
	agg.AvgIndex = stat.Mean(index, nil)
	agg.MinIndex = floats.Min(index)
	agg.MaxIndex = floats.Max(index)
	if len(scenes) > 1 {
		agg.StdCoverage = stat.StdDev(coverage, nil)
		agg.StdIndex = stat.StdDev(index, nil)
	}
	if agg.TotalPixels > 0 {
		agg.DataQualityPct = float64(agg.ValidPixels) / float64(agg.TotalPixels) * 100
	}
	return agg
}
