package changeservice

import (
	"context"
	"time"

	"github.com/google/uuid"

	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/metrics"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// ModelSource is the read side of the model registry
type ModelSource interface {
	GetHistory(ctx context.Context, region, tileID string) ([]modelversion.ModelVersion, error)
	GetVersion(ctx context.Context, region, tileID, versionID string) (*modelversion.ModelVersion, error)
	LoadModel(ctx context.Context, v *modelversion.ModelVersion) (*clustering.Model, error)
}

// CompareRequest names a tile and optionally the two versions to compare.
// Empty versions default to newest (current) against oldest (historical).
type CompareRequest struct {
	Region            string
	TileID            string
	CurrentVersion    string
	HistoricalVersion string
	Vectors           []features.Vector
}

// Service loads models from the registry and runs the detector
type Service struct {
	detector *Detector
	models   ModelSource
	history  change.Repository // optional
	now      func() time.Time
	log      *logger.Logger
}

// NewService creates the change-detection service. history may be nil.
func NewService(detector *Detector, models ModelSource, history change.Repository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		detector: detector,
		models:   models,
		history:  history,
		now:      time.Now,
		log:      log.With("component", "change_detector"),
	}
}

// Compare resolves both versions, loads their models and tallies transitions.
// A model that cannot be loaded fails the whole comparison.
func (s *Service) Compare(ctx context.Context, req CompareRequest) (*change.Result, error) {
	if req.Region == "" || req.TileID == "" {
		return nil, errors.NewValidationError("tile", "region and tile_id required", req.Region+"/"+req.TileID)
	}

	current, historical, err := s.resolve(ctx, req)
	if err != nil {
		metrics.RecordChange(req.Region, req.TileID, 0, false, err)
		return nil, err
	}

	currentModel, err := s.models.LoadModel(ctx, current)
	if err != nil {
		metrics.RecordChange(req.Region, req.TileID, 0, false, err)
		return nil, errors.Wrap(err, "load current model")
	}
	historicalModel, err := s.models.LoadModel(ctx, historical)
	if err != nil {
		metrics.RecordChange(req.Region, req.TileID, 0, false, err)
		return nil, errors.Wrap(err, "load historical model")
	}

	result, err := s.detector.DetectChanges(currentModel, historicalModel, req.Vectors)
	if err != nil {
		metrics.RecordChange(req.Region, req.TileID, 0, false, err)
		return nil, err
	}
	result.ID = uuid.NewString()
	result.Region = req.Region
	result.TileID = req.TileID
	result.CurrentVersion = current.VersionID
	result.HistoricalVersion = historical.VersionID
	result.DetectedAt = s.now().UTC()

	metrics.RecordChange(req.Region, req.TileID, result.ChangePercentage, result.NoData, nil)
	s.log.Infow("Change detection complete",
		"region", req.Region,
		"tile_id", req.TileID,
		"current", current.VersionID,
		"historical", historical.VersionID,
		"changed", result.Tally.Changed,
		"total", result.Tally.Total,
		"change_pct", result.ChangePercentage,
		"no_data", result.NoData,
	)

	if s.history != nil {
		if err := s.history.Save(ctx, result); err != nil {
			s.log.Warnw("Failed to store change history", "tile_id", req.TileID, "error", err)
		}
	}
	return result, nil
}

// History returns stored change runs for a tile, newest first
func (s *Service) History(ctx context.Context, region, tileID string, limit int) ([]change.Result, error) {
	if s.history == nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "change history store not configured")
	}
	return s.history.GetHistory(ctx, region, tileID, limit)
}

func (s *Service) resolve(ctx context.Context, req CompareRequest) (*modelversion.ModelVersion, *modelversion.ModelVersion, error) {
	if req.CurrentVersion != "" && req.HistoricalVersion != "" {
		current, err := s.models.GetVersion(ctx, req.Region, req.TileID, req.CurrentVersion)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "current version %s", req.CurrentVersion)
		}
		historical, err := s.models.GetVersion(ctx, req.Region, req.TileID, req.HistoricalVersion)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "historical version %s", req.HistoricalVersion)
		}
		return current, historical, nil
	}

	history, err := s.models.GetHistory(ctx, req.Region, req.TileID)
	if err != nil {
		return nil, nil, err
	}
	if len(history) < 2 {
		return nil, nil, errors.Wrapf(errors.ErrNoData, "tile %s/%s has %d model versions, need 2", req.Region, req.TileID, len(history))
	}

	current, historical := &history[0], &history[len(history)-1]
	if req.CurrentVersion != "" {
		if current = find(history, req.CurrentVersion); current == nil {
			return nil, nil, errors.Wrapf(errors.ErrNotFound, "current version %s", req.CurrentVersion)
		}
	}
	if req.HistoricalVersion != "" {
		if historical = find(history, req.HistoricalVersion); historical == nil {
			return nil, nil, errors.Wrapf(errors.ErrNotFound, "historical version %s", req.HistoricalVersion)
		}
	}
	return current, historical, nil
}

func find(history []modelversion.ModelVersion, id string) *modelversion.ModelVersion {
	for i := range history {
		if history[i].VersionID == id {
			return &history[i]
		}
	}
	return nil
}
