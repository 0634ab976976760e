package alert

import (
	"time"

	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/features"
)

// Level is the categorical alert level
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelInfo   Level = "INFO"
)

func (l Level) String() string { return string(l) }

// Priority qualifies the level for the notifier
type Priority string

const (
	PriorityChangeDetected     Priority = "CHANGE_DETECTED"
	PriorityMonitoringRequired Priority = "MONITORING_REQUIRED"
	PriorityStableConditions   Priority = "STABLE_CONDITIONS"
	PriorityDataReport         Priority = "DATA_REPORT"
)

// Mode tells whether change detection fed the assessment
type Mode string

const (
	ModeClusterAnalysis Mode = "cluster_analysis"
	ModeDataReport      Mode = "data_report"
)

// SceneOutcome is what the pipeline knows about one analysed scene
type SceneOutcome struct {
	SceneID     string                   `json:"scene_id"`
	Region      string                   `json:"region"`
	TileID      string                   `json:"tile_id"`
	Succeeded   bool                     `json:"succeeded"`
	ModelReused bool                     `json:"model_reused"`
	Stats       features.SceneStatistics `json:"statistics"`
	Change      *change.Result           `json:"change,omitempty"`
	ChangeError string                   `json:"change_error,omitempty"`
	// ProcessingTime covers extraction through change detection
	ProcessingTime time.Duration `json:"processing_time"`
}

// ReuseStats summarises registry hits versus fresh training
type ReuseStats struct {
	TotalImages      int      `json:"total_images"`
	ModelsReused     int      `json:"models_reused"`
	NewModelsTrained int      `json:"new_models_trained"`
	UniqueTiles      []string `json:"unique_tiles"`
	EfficiencyPct    float64  `json:"model_efficiency"`
}

// ConfidenceLevel buckets the overall confidence
type ConfidenceLevel string

const (
	ConfidenceHigh    ConfidenceLevel = "HIGH"
	ConfidenceMedium  ConfidenceLevel = "MEDIUM"
	ConfidenceLow     ConfidenceLevel = "LOW"
	ConfidenceVeryLow ConfidenceLevel = "VERY_LOW"
)

// Confidence is the weighted breakdown behind an assessment
type Confidence struct {
	DataQuality           float64         `json:"data_quality_confidence"`
	HistoricalConsistency float64         `json:"historical_consistency_confidence"`
	SpatialCoherence      float64         `json:"spatial_coherence_confidence"`
	MultiRegion           float64         `json:"multi_region_confidence"`
	Overall               float64         `json:"overall_confidence"`
	Level                 ConfidenceLevel `json:"confidence_level"`
	Factors               []string        `json:"confidence_factors"`
}

// Assessment is the Risk Aggregator output consumed by the notifier
type Assessment struct {
	ID             string                       `json:"id"`
	Level          Level                        `json:"level"`
	Priority       Priority                     `json:"priority"`
	Description    string                       `json:"description"`
	ActionRequired string                       `json:"action_required"`
	RiskFactors    []string                     `json:"risk_factors"`
	Mode           Mode                         `json:"mode"`
	FallbackReason string                       `json:"fallback_reason,omitempty"`
	Confidence     Confidence                   `json:"confidence"`
	Reuse          ReuseStats                   `json:"model_analysis"`
	Statistics     features.AggregateStatistics `json:"statistics"`
	Changes        []change.Result              `json:"change_detections,omitempty"`
	AssessedAt     time.Time                    `json:"assessed_at"`
}
