package pipeline

import (
	"strings"
	"time"

	"forestwatch/internal/domain/alert"
	"forestwatch/pkg/errors"
)

// Operation names a request kind
type Operation string

const (
	OpSelectK          Operation = "select_optimal_k"
	OpSaveModel        Operation = "save_model"
	OpCompareModels    Operation = "compare_models"
	OpGetHistory       Operation = "get_model_history"
	OpGetLatest        Operation = "get_latest_model"
	OpTrackPerformance Operation = "track_model_performance"
	OpAnalyzeScene     Operation = "analyze_scene"
	OpAssess           Operation = "assess_risk"
)

// Request is one typed pipeline command
type Request interface {
	Operation() Operation
	Validate() error
}

func requireTile(region, tileID string) error {
	if region == "" {
		return errors.NewValidationError("region", "required", region)
	}
	if tileID == "" {
		return errors.NewValidationError("tile_id", "required", tileID)
	}
	if err := checkSegment("region", region); err != nil {
		return err
	}
	return checkSegment("tile_id", tileID)
}

// checkSegment rejects identifiers that would change the shape of the
// {region}/{tile}/... storage keys they are joined into
func checkSegment(field, value string) error {
	if value == "." || value == ".." {
		return errors.NewValidationError(field, "must not be a relative path element", value)
	}
	if strings.ContainsAny(value, `/\`) {
		return errors.NewValidationError(field, "must not contain path separators", value)
	}
	if strings.TrimSpace(value) != value {
		return errors.NewValidationError(field, "must not have surrounding whitespace", value)
	}
	return nil
}

// SelectKRequest searches the cluster count for a stored training dataset
type SelectKRequest struct {
	Region        string `json:"region"`
	TileID        string `json:"tile_id"`
	SourceImageID string `json:"source_image_id"`
	DatasetRef    string `json:"dataset_ref"`
	CandidateKs   []int  `json:"candidate_ks,omitempty"`
}

func (SelectKRequest) Operation() Operation { return OpSelectK }

func (r SelectKRequest) Validate() error {
	if err := requireTile(r.Region, r.TileID); err != nil {
		return err
	}
	if r.DatasetRef == "" {
		return errors.NewValidationError("dataset_ref", "required", r.DatasetRef)
	}
	seen := make(map[int]bool, len(r.CandidateKs))
	for _, k := range r.CandidateKs {
		if k < 1 {
			return errors.NewValidationError("candidate_ks", "cluster counts must be >= 1", k)
		}
		if seen[k] {
			return errors.NewValidationError("candidate_ks", "cluster counts must be unique", k)
		}
		seen[k] = true
	}
	return nil
}

// SaveModelRequest registers the artifact of a finished training job
type SaveModelRequest struct {
	Region                  string  `json:"region"`
	TileID                  string  `json:"tile_id"`
	SourceImageID           string  `json:"source_image_id"`
	TrainingDatasetLocation string  `json:"training_dataset_location"`
	TrainingJobName         string  `json:"training_job_name"`
	ArtifactKey             string  `json:"artifact_key"`
	K                       int     `json:"k"`
	QualityMetric           float64 `json:"quality_metric"`
}

func (SaveModelRequest) Operation() Operation { return OpSaveModel }

func (r SaveModelRequest) Validate() error {
	if err := requireTile(r.Region, r.TileID); err != nil {
		return err
	}
	if r.ArtifactKey == "" {
		return errors.NewValidationError("artifact_key", "required", r.ArtifactKey)
	}
	if r.K < 1 {
		return errors.NewValidationError("k", "must be >= 1", r.K)
	}
	return nil
}

// CompareModelsRequest runs change detection for a scene's vectors.
// Empty versions compare newest against oldest.
type CompareModelsRequest struct {
	Region            string `json:"region"`
	TileID            string `json:"tile_id"`
	SceneID           string `json:"scene_id"`
	CurrentVersion    string `json:"current_version,omitempty"`
	HistoricalVersion string `json:"historical_version,omitempty"`
}

func (CompareModelsRequest) Operation() Operation { return OpCompareModels }

func (r CompareModelsRequest) Validate() error {
	if err := requireTile(r.Region, r.TileID); err != nil {
		return err
	}
	if r.SceneID == "" {
		return errors.NewValidationError("scene_id", "required", r.SceneID)
	}
	return nil
}

// GetHistoryRequest lists a tile's versions, newest first
type GetHistoryRequest struct {
	Region string `json:"region"`
	TileID string `json:"tile_id"`
}

func (GetHistoryRequest) Operation() Operation { return OpGetHistory }

func (r GetHistoryRequest) Validate() error { return requireTile(r.Region, r.TileID) }

// GetLatestRequest returns a tile's newest version
type GetLatestRequest struct {
	Region string `json:"region"`
	TileID string `json:"tile_id"`
}

func (GetLatestRequest) Operation() Operation { return OpGetLatest }

func (r GetLatestRequest) Validate() error { return requireTile(r.Region, r.TileID) }

// TrackPerformanceRequest appends a performance entry for the tile's latest model
type TrackPerformanceRequest struct {
	Region         string           `json:"region"`
	TileID         string           `json:"tile_id"`
	Confidence     alert.Confidence `json:"confidence"`
	ProcessingTime time.Duration    `json:"processing_time"`
	PixelsAnalyzed int              `json:"pixels_analyzed"`
	ModelReused    bool             `json:"model_reused"`
}

func (TrackPerformanceRequest) Operation() Operation { return OpTrackPerformance }

func (r TrackPerformanceRequest) Validate() error {
	if err := requireTile(r.Region, r.TileID); err != nil {
		return err
	}
	if r.Confidence.Overall < 0 || r.Confidence.Overall > 1 {
		return errors.NewValidationError("confidence.overall", "must be within [0,1]", r.Confidence.Overall)
	}
	if r.PixelsAnalyzed < 0 {
		return errors.NewValidationError("pixels_analyzed", "must be >= 0", r.PixelsAnalyzed)
	}
	return nil
}

// AnalyzeSceneRequest runs extraction, model reuse or training and change
// detection for one scene
type AnalyzeSceneRequest struct {
	SceneID      string `json:"scene_id"`
	ForceRetrain bool   `json:"force_retrain,omitempty"`
	// Region and TileID label the outcome when extraction itself fails
	Region string `json:"region,omitempty"`
	TileID string `json:"tile_id,omitempty"`
}

func (AnalyzeSceneRequest) Operation() Operation { return OpAnalyzeScene }

func (r AnalyzeSceneRequest) Validate() error {
	if r.SceneID == "" {
		return errors.NewValidationError("scene_id", "required", r.SceneID)
	}
	if r.Region != "" {
		if err := checkSegment("region", r.Region); err != nil {
			return err
		}
	}
	if r.TileID != "" {
		return checkSegment("tile_id", r.TileID)
	}
	return nil
}

// AssessRequest grades a batch of scene outcomes
type AssessRequest struct {
	Outcomes []alert.SceneOutcome `json:"outcomes"`
	// Publish sends the assessment to the alert topic
	Publish bool `json:"publish"`
}

func (AssessRequest) Operation() Operation { return OpAssess }

func (r AssessRequest) Validate() error {
	if len(r.Outcomes) == 0 {
		return errors.NewValidationError("outcomes", "at least one scene outcome required", 0)
	}
	for i, o := range r.Outcomes {
		if o.Succeeded && (o.Region == "" || o.TileID == "") {
			return errors.NewValidationError("outcomes", "region and tile_id required for analysed scenes", i)
		}
	}
	return nil
}
