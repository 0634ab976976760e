package pipeline

import (
	"context"
	"encoding/json"
	"sort"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/domain/storage"
	changeservice "forestwatch/internal/services/change"
	"forestwatch/internal/services/performance"
	"forestwatch/internal/services/registry"
	"forestwatch/internal/services/selector"
	"forestwatch/pkg/errors"
)

// DatasetKey is where the training dataset of a scene is stored
func (s *Service) DatasetKey(region, tileID, sceneID string) string {
	return storage.Join(s.cfg.DatasetPrefix, region, tileID, sceneID+".json")
}

// AnalyzeScene extracts a scene, reuses or trains the tile's model and runs
// change detection. Transient failures of external collaborators end up in the
// outcome; data integrity failures are returned.
func (s *Service) AnalyzeScene(ctx context.Context, req AnalyzeSceneRequest) (*alert.SceneOutcome, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	started := s.now()
	log := s.log.With("scene_id", req.SceneID)

	scene, err := s.deps.Extractor.Extract(ctx, req.SceneID)
	if err != nil {
		if errors.IsTransient(err) {
			log.Warnw("Scene extraction failed", "error", err)
			return &alert.SceneOutcome{
				SceneID:        req.SceneID,
				Region:         req.Region,
				TileID:         req.TileID,
				ChangeError:    err.Error(),
				ProcessingTime: s.now().Sub(started),
			}, nil
		}
		return nil, err
	}
	if len(scene.Vectors) == 0 {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "scene %s has no valid pixels", scene.SceneID)
	}
	log = log.With("region", scene.Region, "tile_id", scene.TileID)

	outcome := &alert.SceneOutcome{
		SceneID:   scene.SceneID,
		Region:    scene.Region,
		TileID:    scene.TileID,
		Succeeded: true,
		Stats:     scene.Stats,
	}

	latest, ok, err := s.deps.Registry.GetLatest(ctx, scene.Region, scene.TileID)
	if err != nil {
		return nil, err
	}

	if ok && !req.ForceRetrain && !s.expired(latest) {
		outcome.ModelReused = true
		log.Infow("Reusing model", "version", latest.VersionID, "k", latest.Hyperparameters.K)
	} else {
		v, err := s.trainAndSave(ctx, scene)
		switch {
		case err == nil:
			log.Infow("Trained new model", "version", v.VersionID, "k", v.Hyperparameters.K)
		case isPartialFailure(err), !errors.IsTransient(err):
			return nil, err
		default:
			log.Warnw("Model training failed", "error", err)
			outcome.ChangeError = err.Error()
		}
	}

	result, err := s.deps.Changes.Compare(ctx, changeservice.CompareRequest{
		Region:  scene.Region,
		TileID:  scene.TileID,
		Vectors: scene.Vectors,
	})
	switch {
	case err == nil:
		outcome.Change = result
		outcome.ChangeError = ""
	case errors.Is(err, errors.ErrNoData), errors.Is(err, errors.ErrModelLoad), errors.IsTransient(err):
		log.Infow("Change detection unavailable", "reason", err)
		if outcome.ChangeError == "" {
			outcome.ChangeError = err.Error()
		}
	default:
		return nil, err
	}

	outcome.ProcessingTime = s.now().Sub(started)
	return outcome, nil
}

func (s *Service) expired(v *modelversion.ModelVersion) bool {
	if s.cfg.MaxModelAge <= 0 {
		return false
	}
	return s.now().Sub(v.CreationTime) > s.cfg.MaxModelAge
}

func isPartialFailure(err error) bool {
	var pf *errors.PartialFailureError
	return errors.As(err, &pf)
}

// trainAndSave stores the scene as a training dataset, selects K and saves the
// winning model. With no winner the default K is trained on its own.
func (s *Service) trainAndSave(ctx context.Context, scene *features.Scene) (*modelversion.ModelVersion, error) {
	ds, err := features.NewTrainingDataset(scene.Region, scene.TileID, scene.SceneID, scene.Vectors)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(ds)
	if err != nil {
		return nil, errors.Wrap(err, "marshal training dataset")
	}
	key := s.DatasetKey(scene.Region, scene.TileID, scene.SceneID)
	if err := s.deps.Store.Put(ctx, key, body); err != nil {
		return nil, errors.Transient(err, "write training dataset")
	}

	req := selector.Request{
		Region:        scene.Region,
		TileID:        scene.TileID,
		SourceImageID: scene.SceneID,
		DatasetRef:    key,
	}
	sel, err := s.deps.Selector.SelectOptimalK(ctx, req)
	if err != nil {
		return nil, err
	}
	job := sel.Winner
	if job == nil {
		s.log.Infow("No candidate finished, training default cluster count", "tile_id", scene.TileID, "k", sel.OptimalK)
		req.CandidateKs = []int{sel.OptimalK}
		retry, err := s.deps.Selector.SelectOptimalK(ctx, req)
		if err != nil {
			return nil, err
		}
		job = retry.Winner
	}
	if job == nil {
		return nil, errors.Transient(
			errors.Wrapf(errors.ErrJobFailed, "k=%d for %s/%s", sel.OptimalK, scene.Region, scene.TileID),
			"train model",
		)
	}

	return s.save(ctx, registry.SaveRequest{
		Region:                  scene.Region,
		TileID:                  scene.TileID,
		SourceImageID:           scene.SceneID,
		TrainingDatasetLocation: key,
		Job:                     job,
		MaxIterations:           s.cfg.MaxIterations,
	})
}

// Assess grades a batch, optionally publishes the alert and tracks
// performance for every tile in the batch
func (s *Service) Assess(ctx context.Context, req AssessRequest) (*alert.Assessment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a, err := s.deps.Risk.Assess(req.Outcomes)
	if err != nil {
		return nil, err
	}

	if req.Publish && s.deps.Events != nil {
		if err := s.deps.Events.PublishAlert(ctx, a); err != nil {
			s.log.Warnw("Failed to publish alert", "assessment", a.ID, "level", a.Level, "error", err)
		}
	}

	if s.deps.Performance != nil {
		for _, obs := range observations(req.Outcomes, a.Confidence) {
			if _, err := s.deps.Performance.Track(ctx, obs); err != nil {
				s.log.Warnw("Performance tracking failed", "region", obs.Region, "tile_id", obs.TileID, "error", err)
			}
		}
	}
	return a, nil
}

// observations folds scene outcomes into one observation per tile
func observations(outcomes []alert.SceneOutcome, confidence alert.Confidence) []performance.Observation {
	byTile := make(map[string]*performance.Observation)
	var order []string
	for _, o := range outcomes {
		if !o.Succeeded {
			continue
		}
		key := o.Region + "/" + o.TileID
		obs, ok := byTile[key]
		if !ok {
			obs = &performance.Observation{
				Region:      o.Region,
				TileID:      o.TileID,
				Confidence:  confidence,
				ModelReused: true,
			}
			byTile[key] = obs
			order = append(order, key)
		}
		obs.ProcessingTime += o.ProcessingTime
		obs.PixelsAnalyzed += o.Stats.ValidPixels
		obs.ModelReused = obs.ModelReused && o.ModelReused
	}
	sort.Strings(order)

	out := make([]performance.Observation, 0, len(order))
	for _, key := range order {
		out = append(out, *byTile[key])
	}
	return out
}
