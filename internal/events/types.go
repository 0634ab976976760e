package events

import (
	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/modelversion"
)

// SceneExtractedEvent announces a scene ready for analysis
type SceneExtractedEvent struct {
	Base         BaseEvent `json:"base"`
	SceneID      string    `json:"scene_id"`
	Region       string    `json:"region,omitempty"`
	TileID       string    `json:"tile_id,omitempty"`
	ForceRetrain bool      `json:"force_retrain,omitempty"`
}

// ModelSavedEvent announces a new registry version
type ModelSavedEvent struct {
	Base          BaseEvent `json:"base"`
	Region        string    `json:"region"`
	TileID        string    `json:"tile_id"`
	VersionID     string    `json:"version_id"`
	K             int       `json:"k"`
	QualityMetric float64   `json:"quality_metric"`
	SourceImageID string    `json:"source_image_id"`
	ArtifactKey   string    `json:"model_artifact_location"`
}

// NewModelSavedEvent builds the event from a saved version
func NewModelSavedEvent(source string, v *modelversion.ModelVersion) *ModelSavedEvent {
	return &ModelSavedEvent{
		Base:          NewBaseEvent(TypeModelSaved, source),
		Region:        v.Region,
		TileID:        v.TileID,
		VersionID:     v.VersionID,
		K:             v.Hyperparameters.K,
		QualityMetric: v.Hyperparameters.QualityMetric,
		SourceImageID: v.SourceImageID,
		ArtifactKey:   v.ModelArtifactLocation,
	}
}

// TileChange is the per-tile change summary with the named counters
// the notifier renders
type TileChange struct {
	Region            string                `json:"region"`
	TileID            string                `json:"tile_id"`
	CurrentVersion    string                `json:"current_version"`
	HistoricalVersion string                `json:"historical_version"`
	ChangePercentage  float64               `json:"change_percentage"`
	ConfidenceScore   float64               `json:"confidence_score"`
	Counters          change.LegacyCounters `json:"transitions"`
}

// AlertAssessedEvent carries a risk assessment to the notifier
type AlertAssessedEvent struct {
	Base       BaseEvent         `json:"base"`
	Assessment *alert.Assessment `json:"assessment"`
	Tiles      []TileChange      `json:"tiles,omitempty"`
}

// NewAlertAssessedEvent builds the event and derives per-tile counters
func NewAlertAssessedEvent(source string, a *alert.Assessment) *AlertAssessedEvent {
	ev := &AlertAssessedEvent{
		Base:       NewBaseEvent(TypeAlertAssessed, source),
		Assessment: a,
	}
	for i := range a.Changes {
		r := &a.Changes[i]
		ev.Tiles = append(ev.Tiles, TileChange{
			Region:            r.Region,
			TileID:            r.TileID,
			CurrentVersion:    r.CurrentVersion,
			HistoricalVersion: r.HistoricalVersion,
			ChangePercentage:  r.ChangePercentage,
			ConfidenceScore:   r.ConfidenceScore,
			Counters:          r.Legacy(),
		})
	}
	if a.FallbackReason != "" {
		a.FallbackReason = SanitizeUTF8(a.FallbackReason)
	}
	return ev
}
