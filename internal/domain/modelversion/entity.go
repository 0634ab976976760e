package modelversion

import (
	"time"

	"forestwatch/pkg/errors"
)

// ModelVersion is one trained model for a (region, tile). Never mutated after save.
type ModelVersion struct {
	Region                  string          `json:"region"`
	TileID                  string          `json:"tile_id"`
	VersionID               string          `json:"version_id"`
	ModelArtifactLocation   string          `json:"model_artifact_location"`
	TrainingDatasetLocation string          `json:"training_dataset_location"`
	SourceImageID           string          `json:"source_image_id"`
	Hyperparameters         Hyperparameters `json:"hyperparameters"`
	CreationTime            time.Time       `json:"creation_time"`
}

// Hyperparameters used to train the model
type Hyperparameters struct {
	K             int     `json:"k"`
	FeatureDim    int     `json:"feature_dim"`
	MaxIterations int     `json:"max_iterations,omitempty"`
	QualityMetric float64 `json:"quality_metric"`
	TrainingJob   string  `json:"training_job,omitempty"`
}

// Validate rejects metadata records missing identifying fields
func (v *ModelVersion) Validate() error {
	switch {
	case v.Region == "":
		return errors.NewValidationError("region", "required", v.Region)
	case v.TileID == "":
		return errors.NewValidationError("tile_id", "required", v.TileID)
	case v.VersionID == "":
		return errors.NewValidationError("version_id", "required", v.VersionID)
	case v.ModelArtifactLocation == "":
		return errors.NewValidationError("model_artifact_location", "required", v.ModelArtifactLocation)
	case v.Hyperparameters.K < 1:
		return errors.NewValidationError("hyperparameters.k", "must be >= 1", v.Hyperparameters.K)
	}
	if _, err := ParseVersionID(v.VersionID); err != nil {
		return err
	}
	return nil
}
