package performance

import (
	"context"
	"encoding/json"
	"time"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/domain/storage"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// HistoryFile is the document name under each tile prefix
const HistoryFile = "performance_history.json"

// LatestSource returns the newest registered model of a tile
type LatestSource interface {
	GetLatest(ctx context.Context, region, tileID string) (*modelversion.ModelVersion, bool, error)
}

// Observation is what one analysis run reports about its model
type Observation struct {
	Region         string
	TileID         string
	Confidence     alert.Confidence
	ProcessingTime time.Duration
	PixelsAnalyzed int
	ModelReused    bool
}

// Validate checks required fields
func (o Observation) Validate() error {
	if o.Region == "" {
		return errors.NewValidationError("region", "required", o.Region)
	}
	if o.TileID == "" {
		return errors.NewValidationError("tile_id", "required", o.TileID)
	}
	return nil
}

// Service tracks model performance per tile in the object store.
// Updates are read-modify-write without a lock; concurrent trackers of one tile
// may drop an entry.
type Service struct {
	store  storage.ObjectStore
	models LatestSource
	prefix string
	now    func() time.Time
	log    *logger.Logger
}

// NewService creates the tracker
func NewService(store storage.ObjectStore, models LatestSource, prefix string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		store:  store,
		models: models,
		prefix: prefix,
		now:    time.Now,
		log:    log.With("component", "performance_tracker"),
	}
}

// Key returns the history document key of a tile
func (s *Service) Key(region, tileID string) string {
	return storage.Join(s.prefix, region, tileID, HistoryFile)
}

// Track records an observation against the tile's latest model
func (s *Service) Track(ctx context.Context, obs Observation) (*History, error) {
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	latest, ok, err := s.models.GetLatest(ctx, obs.Region, obs.TileID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Wrapf(errors.ErrNoData, "no model history for %s/%s", obs.Region, obs.TileID)
	}

	h, err := s.Get(ctx, obs.Region, obs.TileID)
	if errors.Is(err, errors.ErrNotFound) {
		h = &History{Region: obs.Region, TileID: obs.TileID, TrackingStarted: s.now().UTC()}
	} else if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	h.Append(Entry{
		Timestamp:             now,
		VersionID:             latest.VersionID,
		ModelPath:             latest.ModelArtifactLocation,
		TrainingJob:           latest.Hyperparameters.TrainingJob,
		SourceImageID:         latest.SourceImageID,
		K:                     latest.Hyperparameters.K,
		ClusterStability:      ClusterStability(latest.Hyperparameters.K, obs.PixelsAnalyzed),
		SpatialCoherence:      obs.Confidence.SpatialCoherence,
		DataQuality:           obs.Confidence.DataQuality,
		HistoricalConsistency: obs.Confidence.HistoricalConsistency,
		OverallConfidence:     obs.Confidence.Overall,
		ProcessingTimeMs:      obs.ProcessingTime.Milliseconds(),
		PixelsAnalyzed:        obs.PixelsAnalyzed,
		ModelReused:           obs.ModelReused,
	}, now)

	body, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal performance history")
	}
	if err := s.store.Put(ctx, s.Key(obs.Region, obs.TileID), body); err != nil {
		return nil, errors.Transient(err, "write performance history")
	}

	s.log.Infow("Performance tracked",
		"region", obs.Region,
		"tile_id", obs.TileID,
		"entries", h.Summary.TotalAnalyses,
		"avg_confidence", h.Summary.AvgOverallConfidence,
		"trend", h.Summary.PerformanceTrend,
		"anomalies", len(h.RecentAnomalies),
	)
	for _, a := range h.RecentAnomalies {
		s.log.Warnw("Performance anomaly", "tile_id", obs.TileID, "type", a.Type, "severity", a.Severity, "description", a.Description)
	}
	return h, nil
}

// Get reads a tile's history; ErrNotFound when it was never tracked
func (s *Service) Get(ctx context.Context, region, tileID string) (*History, error) {
	data, err := s.store.Get(ctx, s.Key(region, tileID))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, errors.Transient(err, "read performance history")
	}
	var h History
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "decode %s: %v", s.Key(region, tileID), err)
	}
	return &h, nil
}
