package pipeline

import (
	"context"
	"time"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/domain/storage"
	"forestwatch/internal/domain/training"
	changeservice "forestwatch/internal/services/change"
	"forestwatch/internal/services/performance"
	"forestwatch/internal/services/registry"
	"forestwatch/internal/services/selector"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// KSelector searches the cluster count for a dataset
type KSelector interface {
	SelectOptimalK(ctx context.Context, req selector.Request) (*selector.Selection, error)
}

// Registry is the model registry
type Registry interface {
	Save(ctx context.Context, req registry.SaveRequest) (*modelversion.ModelVersion, error)
	GetLatest(ctx context.Context, region, tileID string) (*modelversion.ModelVersion, bool, error)
	GetHistory(ctx context.Context, region, tileID string) ([]modelversion.ModelVersion, error)
	GetVersion(ctx context.Context, region, tileID, versionID string) (*modelversion.ModelVersion, error)
	LoadModel(ctx context.Context, v *modelversion.ModelVersion) (*clustering.Model, error)
}

// ChangeDetector compares model versions over a scene
type ChangeDetector interface {
	Compare(ctx context.Context, req changeservice.CompareRequest) (*change.Result, error)
}

// Assessor grades scene outcomes
type Assessor interface {
	Assess(outcomes []alert.SceneOutcome) (*alert.Assessment, error)
}

// PerformanceTracker keeps per-tile model performance history
type PerformanceTracker interface {
	Track(ctx context.Context, obs performance.Observation) (*performance.History, error)
}

// EventPublisher announces saved models and assessments
type EventPublisher interface {
	PublishModelSaved(ctx context.Context, v *modelversion.ModelVersion) error
	PublishAlert(ctx context.Context, a *alert.Assessment) error
}

// Deps are the collaborators of the pipeline. Events and Performance are optional.
type Deps struct {
	Extractor   features.Extractor
	Store       storage.ObjectStore
	Selector    KSelector
	Registry    Registry
	Changes     ChangeDetector
	Risk        Assessor
	Performance PerformanceTracker
	Events      EventPublisher
}

// Config for the pipeline
type Config struct {
	DatasetPrefix string        // training datasets live at {prefix}/{region}/{tile}/{scene}.json
	MaxModelAge   time.Duration // a latest model older than this is retrained; 0 never expires
	MaxIterations int           // recorded in saved hyperparameters
}

// DefaultConfig returns pipeline defaults
func DefaultConfig() Config {
	return Config{
		DatasetPrefix: "datasets",
		MaxIterations: 100,
	}
}

// Service orchestrates the forest-change pipeline
type Service struct {
	deps Deps
	cfg  Config
	now  func() time.Time
	log  *logger.Logger
}

// NewService creates the pipeline
func NewService(deps Deps, cfg Config, log *logger.Logger) *Service {
	if cfg.DatasetPrefix == "" {
		cfg.DatasetPrefix = DefaultConfig().DatasetPrefix
	}
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  log.With("component", "pipeline"),
	}
}

// Execute dispatches a typed request to its handler
func (s *Service) Execute(ctx context.Context, req Request) (interface{}, error) {
	if req == nil {
		return nil, errors.NewValidationError("request", "required", nil)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case SelectKRequest:
		return s.SelectK(ctx, r)
	case SaveModelRequest:
		return s.SaveModel(ctx, r)
	case CompareModelsRequest:
		return s.CompareModels(ctx, r)
	case GetHistoryRequest:
		return s.GetHistory(ctx, r)
	case GetLatestRequest:
		return s.GetLatest(ctx, r)
	case TrackPerformanceRequest:
		return s.TrackPerformance(ctx, r)
	case AnalyzeSceneRequest:
		return s.AnalyzeScene(ctx, r)
	case AssessRequest:
		return s.Assess(ctx, r)
	default:
		return nil, errors.NewValidationError("operation", "unsupported", req.Operation())
	}
}

// SelectK runs the cluster-count search
func (s *Service) SelectK(ctx context.Context, req SelectKRequest) (*selector.Selection, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.deps.Selector.SelectOptimalK(ctx, selector.Request{
		Region:        req.Region,
		TileID:        req.TileID,
		SourceImageID: req.SourceImageID,
		DatasetRef:    req.DatasetRef,
		CandidateKs:   req.CandidateKs,
	})
}

// SaveModel registers an existing training artifact as a new version
func (s *Service) SaveModel(ctx context.Context, req SaveModelRequest) (*modelversion.ModelVersion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.save(ctx, registry.SaveRequest{
		Region:                  req.Region,
		TileID:                  req.TileID,
		SourceImageID:           req.SourceImageID,
		TrainingDatasetLocation: req.TrainingDatasetLocation,
		MaxIterations:           s.cfg.MaxIterations,
		Job: &training.Result{
			Handle:      training.Handle{Name: req.TrainingJobName, K: req.K},
			ArtifactKey: req.ArtifactKey,
			Quality:     req.QualityMetric,
		},
	})
}

func (s *Service) save(ctx context.Context, req registry.SaveRequest) (*modelversion.ModelVersion, error) {
	v, err := s.deps.Registry.Save(ctx, req)
	if err != nil {
		return nil, err
	}
	if s.deps.Events != nil {
		if err := s.deps.Events.PublishModelSaved(ctx, v); err != nil {
			s.log.Warnw("Failed to publish model saved event", "tile_id", v.TileID, "version", v.VersionID, "error", err)
		}
	}
	return v, nil
}

// CompareModels extracts a scene and compares two versions of its tile
func (s *Service) CompareModels(ctx context.Context, req CompareModelsRequest) (*change.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	scene, err := s.deps.Extractor.Extract(ctx, req.SceneID)
	if err != nil {
		return nil, err
	}
	return s.deps.Changes.Compare(ctx, changeservice.CompareRequest{
		Region:            req.Region,
		TileID:            req.TileID,
		CurrentVersion:    req.CurrentVersion,
		HistoricalVersion: req.HistoricalVersion,
		Vectors:           scene.Vectors,
	})
}

// GetHistory lists versions newest first
func (s *Service) GetHistory(ctx context.Context, req GetHistoryRequest) ([]modelversion.ModelVersion, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.deps.Registry.GetHistory(ctx, req.Region, req.TileID)
}

// LatestResponse reports the newest version; Found is false for an empty tile
type LatestResponse struct {
	Found   bool                       `json:"found"`
	Version *modelversion.ModelVersion `json:"version,omitempty"`
}

// GetLatest returns the newest version of a tile
func (s *Service) GetLatest(ctx context.Context, req GetLatestRequest) (*LatestResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	v, ok, err := s.deps.Registry.GetLatest(ctx, req.Region, req.TileID)
	if err != nil {
		return nil, err
	}
	return &LatestResponse{Found: ok, Version: v}, nil
}

// TrackPerformance appends one performance entry
func (s *Service) TrackPerformance(ctx context.Context, req TrackPerformanceRequest) (*performance.History, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s.deps.Performance == nil {
		return nil, errors.Wrap(errors.ErrUnavailable, "performance tracking not configured")
	}
	return s.deps.Performance.Track(ctx, performance.Observation{
		Region:         req.Region,
		TileID:         req.TileID,
		Confidence:     req.Confidence,
		ProcessingTime: req.ProcessingTime,
		PixelsAnalyzed: req.PixelsAnalyzed,
		ModelReused:    req.ModelReused,
	})
}
