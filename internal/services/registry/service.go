package registry

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"forestwatch/internal/domain/clustering"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/domain/storage"
	"forestwatch/internal/domain/training"
	"forestwatch/internal/metrics"
	"forestwatch/internal/ml/kmeans"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Config for the registry
type Config struct {
	Prefix   string        // object-store prefix for model versions
	CacheTTL time.Duration // latest-version cache lifetime
}

// Service is the model registry: (region, tile) -> ordered versions
type Service struct {
	store  storage.ObjectStore
	locker modelversion.Locker
	cache  modelversion.Cache // optional
	layout modelversion.Layout
	ttl    time.Duration
	now    func() time.Time
	log    *logger.Logger
}

// Option customises the registry
type Option func(*Service)

// WithCache enables the latest-version cache
func WithCache(c modelversion.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock overrides the time source used for version ids
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a registry. A nil locker falls back to an in-process lock.
func NewService(store storage.ObjectStore, locker modelversion.Locker, cfg Config, log *logger.Logger, opts ...Option) *Service {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if log == nil {
		log = logger.Get()
	}
	s := &Service{
		store:  store,
		locker: locker,
		layout: modelversion.Layout{Prefix: cfg.Prefix},
		ttl:    cfg.CacheTTL,
		now:    time.Now,
		log:    log.With("component", "model_registry"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Layout exposes the key layout
func (s *Service) Layout() modelversion.Layout { return s.layout }

// SaveRequest registers the output of a finished training job
type SaveRequest struct {
	Region                  string
	TileID                  string
	SourceImageID           string
	TrainingDatasetLocation string
	Job                     *training.Result
	MaxIterations           int
}

// Save copies the job's artifact under a new version and then writes metadata.
// Metadata is only written after the copy succeeds; a metadata failure returns
// a PartialFailureError naming the orphaned artifact.
func (s *Service) Save(ctx context.Context, req SaveRequest) (*modelversion.ModelVersion, error) {
	if err := validateSave(req); err != nil {
		return nil, err
	}

	unlock, err := s.locker.Lock(ctx, req.Region, req.TileID)
	if err != nil {
		metrics.RecordRegistry("save", "", err)
		return nil, errors.Wrapf(err, "lock %s/%s", req.Region, req.TileID)
	}
	defer unlock()

	existing, err := s.store.ListPrefixes(ctx, s.layout.TilePrefix(req.Region, req.TileID))
	if err != nil {
		metrics.RecordRegistry("save", "", err)
		return nil, errors.Transient(err, "list versions")
	}
	latest := ""
	for _, id := range existing {
		if id > latest {
			latest = id
		}
	}

	now := s.now().UTC()
	versionID := modelversion.NextVersionID(now, latest)
	version := &modelversion.ModelVersion{
		Region:                  req.Region,
		TileID:                  req.TileID,
		VersionID:               versionID,
		ModelArtifactLocation:   s.layout.ArtifactKey(req.Region, req.TileID, versionID),
		TrainingDatasetLocation: req.TrainingDatasetLocation,
		SourceImageID:           req.SourceImageID,
		Hyperparameters: modelversion.Hyperparameters{
			K:             req.Job.Handle.K,
			FeatureDim:    5,
			MaxIterations: req.MaxIterations,
			QualityMetric: req.Job.Quality,
			TrainingJob:   req.Job.Handle.Name,
		},
		CreationTime: now,
	}

	if err := s.store.Copy(ctx, req.Job.ArtifactKey, version.ModelArtifactLocation); err != nil {
		metrics.RecordRegistry("save", "", err)
		return nil, errors.Transient(err, "copy model artifact")
	}

	body, err := json.MarshalIndent(version, "", "  ")
	if err == nil {
		err = s.store.Put(ctx, s.layout.MetadataKey(req.Region, req.TileID, versionID), body)
	}
	if err != nil {
		metrics.RecordRegistry("save", "", err)
		s.log.Errorw("Metadata write failed after artifact copy",
			"tile_id", req.TileID, "version", versionID, "orphan", version.ModelArtifactLocation, "error", err)
		return nil, &errors.PartialFailureError{Op: "registry save", OrphanKey: version.ModelArtifactLocation, Err: err}
	}

	if s.cache != nil {
		s.cache.SetLatest(ctx, version, s.ttl)
	}
	metrics.RecordRegistry("save", "", nil)
	s.log.Infow("Saved model version", "region", req.Region, "tile_id", req.TileID, "version", versionID, "k", version.Hyperparameters.K)
	return version, nil
}

func validateSave(req SaveRequest) error {
	switch {
	case req.Region == "":
		return errors.NewValidationError("region", "required", req.Region)
	case req.TileID == "":
		return errors.NewValidationError("tile_id", "required", req.TileID)
	case req.Job == nil:
		return errors.NewValidationError("training_job", "required", nil)
	case req.Job.ArtifactKey == "":
		return errors.NewValidationError("training_job.artifact_key", "required", "")
	case req.Job.Handle.K < 1:
		return errors.NewValidationError("training_job.k", "must be >= 1", req.Job.Handle.K)
	}
	return nil
}

// GetLatest returns the newest version, or false when none exists. Storage
// errors are logged and reported as absence so callers retrain. Versions
// without metadata are skipped. Malformed metadata is an error.
func (s *Service) GetLatest(ctx context.Context, region, tileID string) (*modelversion.ModelVersion, bool, error) {
	if s.cache != nil {
		if v, ok := s.cache.GetLatest(ctx, region, tileID); ok {
			metrics.RecordRegistry("latest", "cache_hit", nil)
			return v, true, nil
		}
	}

	ids, err := s.versionIDs(ctx, region, tileID)
	if err != nil {
		s.log.Warnw("Listing versions failed, treating as absent", "region", region, "tile_id", tileID, "error", err)
		metrics.RecordRegistry("latest", "absent", nil)
		return nil, false, nil
	}

	for _, id := range ids {
		v, err := s.readMetadata(ctx, region, tileID, id)
		switch {
		case err == nil:
			if s.cache != nil {
				s.cache.SetLatest(ctx, v, s.ttl)
			}
			metrics.RecordRegistry("latest", "", nil)
			return v, true, nil
		case errors.Is(err, errors.ErrNotFound):
			continue
		case errors.Is(err, errors.ErrDataIntegrity):
			metrics.RecordRegistry("latest", "", err)
			return nil, false, err
		default:
			s.log.Warnw("Reading metadata failed, treating as absent", "tile_id", tileID, "version", id, "error", err)
			metrics.RecordRegistry("latest", "absent", nil)
			return nil, false, nil
		}
	}

	metrics.RecordRegistry("latest", "absent", nil)
	return nil, false, nil
}

// GetHistory lists versions newest first, skipping versions without metadata
func (s *Service) GetHistory(ctx context.Context, region, tileID string) ([]modelversion.ModelVersion, error) {
	ids, err := s.versionIDs(ctx, region, tileID)
	if err != nil {
		metrics.RecordRegistry("history", "", err)
		return nil, errors.Transient(err, "list versions")
	}

	history := make([]modelversion.ModelVersion, 0, len(ids))
	for _, id := range ids {
		v, err := s.readMetadata(ctx, region, tileID, id)
		if errors.Is(err, errors.ErrNotFound) {
			continue
		}
		if err != nil {
			metrics.RecordRegistry("history", "", err)
			return nil, err
		}
		history = append(history, *v)
	}
	metrics.RecordRegistry("history", "", nil)
	return history, nil
}

// GetVersion reads one named version
func (s *Service) GetVersion(ctx context.Context, region, tileID, versionID string) (*modelversion.ModelVersion, error) {
	return s.readMetadata(ctx, region, tileID, versionID)
}

// LoadModel reads and decodes a version's artifact
func (s *Service) LoadModel(ctx context.Context, v *modelversion.ModelVersion) (*clustering.Model, error) {
	data, err := s.store.Get(ctx, v.ModelArtifactLocation)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrModelLoad, "read %s: %v", v.ModelArtifactLocation, err)
	}
	m, err := kmeans.DecodeArtifact(data)
	if err != nil {
		return nil, errors.Wrapf(err, "version %s", v.VersionID)
	}
	return m, nil
}

// versionIDs returns well-formed version ids, newest first
func (s *Service) versionIDs(ctx context.Context, region, tileID string) ([]string, error) {
	names, err := s.store.ListPrefixes(ctx, s.layout.TilePrefix(region, tileID))
	if err != nil {
		return nil, err
	}
	ids := names[:0]
	for _, n := range names {
		if _, err := modelversion.ParseVersionID(n); err == nil {
			ids = append(ids, n)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func (s *Service) readMetadata(ctx context.Context, region, tileID, versionID string) (*modelversion.ModelVersion, error) {
	data, err := s.store.Get(ctx, s.layout.MetadataKey(region, tileID, versionID))
	if err != nil {
		return nil, err
	}
	var v modelversion.ModelVersion
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "decode metadata %s/%s/%s: %v", region, tileID, versionID, err)
	}
	if err := v.Validate(); err != nil {
		return nil, errors.Wrapf(err, "metadata %s/%s/%s", region, tileID, versionID)
	}
	return &v, nil
}
