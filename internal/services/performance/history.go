package performance

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Trend values
const (
	TrendImproving        = "improving"
	TrendDeclining        = "declining"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

const (
	trendWindow          = 5
	trendMargin          = 0.05
	anomalyWindow        = 10
	minAnomalyEntries    = 5
	slowProcessingMillis = 10_000
)

// Entry is one tracked analysis of a tile
type Entry struct {
	Timestamp             time.Time `json:"timestamp"`
	VersionID             string    `json:"version_id"`
	ModelPath             string    `json:"model_path"`
	TrainingJob           string    `json:"training_job_name"`
	SourceImageID         string    `json:"image_id"`
	K                     int       `json:"k"`
	ClusterStability      float64   `json:"cluster_stability"`
	SpatialCoherence      float64   `json:"spatial_coherence"`
	DataQuality           float64   `json:"data_quality"`
	HistoricalConsistency float64   `json:"historical_consistency"`
	OverallConfidence     float64   `json:"overall_confidence"`
	ProcessingTimeMs      int64     `json:"processing_time_ms"`
	PixelsAnalyzed        int       `json:"pixels_analyzed"`
	ModelReused           bool      `json:"model_reused"`
}

// Summary aggregates all entries
type Summary struct {
	TotalAnalyses        int       `json:"total_analyses"`
	AvgClusterStability  float64   `json:"avg_cluster_stability"`
	AvgSpatialCoherence  float64   `json:"avg_spatial_coherence"`
	AvgDataQuality       float64   `json:"avg_data_quality"`
	AvgOverallConfidence float64   `json:"avg_overall_confidence"`
	ModelReuseRate       float64   `json:"model_reuse_rate"`
	LastUpdated          time.Time `json:"last_updated"`
	PerformanceTrend     string    `json:"performance_trend"`
}

// Anomaly flags an entry that departs from recent behaviour
type Anomaly struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	DetectedAt  time.Time `json:"detected_at"`
}

// History is the performance_history.json document for one tile
type History struct {
	Region          string    `json:"region"`
	TileID          string    `json:"tile_id"`
	TrackingStarted time.Time `json:"tracking_started"`
	Entries         []Entry   `json:"performance_entries"`
	Summary         Summary   `json:"summary_stats"`
	RecentAnomalies []Anomaly `json:"recent_anomalies,omitempty"`
}

// ClusterStability scores a model from its cluster count and training size.
// Fewer clusters and more pixels score higher.
func ClusterStability(k, pixels int) float64 {
	score := 0.8
	switch {
	case k <= 4:
		score += 0.1
	case k >= 6:
		score -= 0.1
	}
	switch {
	case pixels > 10000:
		score += 0.1
	case pixels < 5000:
		score -= 0.1
	}
	return math.Max(0, math.Min(1, score))
}

// Append adds an entry and recomputes summary and anomalies
func (h *History) Append(e Entry, now time.Time) {
	h.Entries = append(h.Entries, e)
	h.Summary = summarize(h.Entries, now)
	h.RecentAnomalies = detectAnomalies(h.Entries, now)
}

func summarize(entries []Entry, now time.Time) Summary {
	n := len(entries)
	s := Summary{TotalAnalyses: n, LastUpdated: now, PerformanceTrend: trend(entries)}
	if n == 0 {
		return s
	}

	stability := make([]float64, n)
	coherence := make([]float64, n)
	quality := make([]float64, n)
	confidence := make([]float64, n)
	reused := 0
	for i, e := range entries {
		stability[i] = e.ClusterStability
		coherence[i] = e.SpatialCoherence
		quality[i] = e.DataQuality
		confidence[i] = e.OverallConfidence
		if e.ModelReused {
			reused++
		}
	}
	s.AvgClusterStability = stat.Mean(stability, nil)
	s.AvgSpatialCoherence = stat.Mean(coherence, nil)
	s.AvgDataQuality = stat.Mean(quality, nil)
	s.AvgOverallConfidence = stat.Mean(confidence, nil)
	s.ModelReuseRate = float64(reused) / float64(n)
	return s
}

// trend compares the two halves of the last few confidences
func trend(entries []Entry) string {
	if len(entries) < 3 {
		return TrendInsufficientData
	}
	recent := entries[max(0, len(entries)-trendWindow):]
	values := make([]float64, len(recent))
	for i, e := range recent {
		values[i] = e.OverallConfidence
	}
	half := len(values) / 2
	first := stat.Mean(values[:half], nil)
	second := stat.Mean(values[half:], nil)
	switch {
	case second > first+trendMargin:
		return TrendImproving
	case second < first-trendMargin:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// detectAnomalies checks the latest entry against the ones before it
func detectAnomalies(entries []Entry, now time.Time) []Anomaly {
	if len(entries) < minAnomalyEntries {
		return nil
	}
	recent := entries[max(0, len(entries)-anomalyWindow):]

	var anomalies []Anomaly

	confidences := make([]float64, len(recent))
	for i, e := range recent {
		confidences[i] = e.OverallConfidence
	}
	prev, latest := confidences[:len(confidences)-1], confidences[len(confidences)-1]
	mean, std := stat.MeanStdDev(prev, nil)
	if dev := math.Abs(latest - mean); dev > 2*std {
		severity := "medium"
		if dev > 3*std {
			severity = "high"
		}
		anomalies = append(anomalies, Anomaly{
			Type:        "confidence_anomaly",
			Description: fmt.Sprintf("Confidence %.2f deviates significantly from recent average %.2f", latest, mean),
			Severity:    severity,
			DetectedAt:  now,
		})
	}

	var times []float64
	for _, e := range recent {
		if e.ProcessingTimeMs > 0 {
			times = append(times, float64(e.ProcessingTimeMs))
		}
	}
	if len(times) >= minAnomalyEntries {
		prev, latest := times[:len(times)-1], times[len(times)-1]
		mean, std := stat.MeanStdDev(prev, nil)
		if latest > mean+2*std && latest > slowProcessingMillis {
			anomalies = append(anomalies, Anomaly{
				Type:        "processing_time_anomaly",
				Description: fmt.Sprintf("Processing time %.0fms significantly higher than average %.0fms", latest, mean),
				Severity:    "medium",
				DetectedAt:  now,
			})
		}
	}
	return anomalies
}
