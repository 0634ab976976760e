package features

import (
	"time"

	"forestwatch/pkg/errors"
)

// TrainingDataset is the input of a clustering job.
// Vectors are raw (unscaled); Scaling is computed once and kept with the model.
type TrainingDataset struct {
	Region        string    `json:"region"`
	TileID        string    `json:"tile_id"`
	SourceImageID string    `json:"source_image_id"`
	Vectors       []Vector  `json:"vectors"`
	Scaling       Scaling   `json:"scaling"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewTrainingDataset builds a dataset and computes its scaling
func NewTrainingDataset(region, tileID, sourceImageID string, vectors []Vector) (*TrainingDataset, error) {
	if len(vectors) == 0 {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "training dataset for %s/%s has no vectors", region, tileID)
	}
	scaling, err := ComputeScaling(vectors)
	if err != nil {
		return nil, err
	}
	return &TrainingDataset{
		Region:        region,
		TileID:        tileID,
		SourceImageID: sourceImageID,
		Vectors:       vectors,
		Scaling:       scaling,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Normalized returns the vectors mapped through the dataset scaling
func (d *TrainingDataset) Normalized() []Vector {
	return d.Scaling.NormalizeAll(d.Vectors)
}

// Len returns the number of vectors
func (d *TrainingDataset) Len() int { return len(d.Vectors) }
