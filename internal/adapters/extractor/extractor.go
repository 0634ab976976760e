package extractor

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"forestwatch/internal/domain/features"
	"forestwatch/internal/domain/storage"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Pixel is one raw sample: red and near-infrared reflectance at a location
type Pixel struct {
	Red float64 `json:"red"`
	NIR float64 `json:"nir"`
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SceneDocument is the raster sample written by the upstream band reader
type SceneDocument struct {
	SceneID     string    `json:"scene_id"`
	Region      string    `json:"region"`
	TileID      string    `json:"tile_id,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at"`
	TotalPixels int       `json:"total_pixels"` // raster size before sampling; 0 means len(pixels)
	Pixels      []Pixel   `json:"pixels"`
}

// Config for the store-backed extractor
type Config struct {
	Prefix    string // scene documents live at {prefix}/{scene id}.json
	MaxPixels int    // sampled vectors per scene; 0 keeps all
}

// Extractor builds feature vectors from scene documents in the object store
type Extractor struct {
	store storage.ObjectStore
	cfg   Config
	log   *logger.Logger
}

// New creates an extractor
func New(store storage.ObjectStore, cfg Config, log *logger.Logger) *Extractor {
	if log == nil {
		log = logger.Get()
	}
	return &Extractor{store: store, cfg: cfg, log: log.With("component", "extractor")}
}

// Key returns the document key of a scene
func (e *Extractor) Key(sceneID string) string {
	return storage.Join(e.cfg.Prefix, sceneID+".json")
}

// Extract reads a scene and converts valid pixels into feature vectors
func (e *Extractor) Extract(ctx context.Context, sceneID string) (*features.Scene, error) {
	if sceneID == "" {
		return nil, errors.NewValidationError("scene_id", "required", sceneID)
	}
	data, err := e.store.Get(ctx, e.Key(sceneID))
	if errors.Is(err, errors.ErrNotFound) {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "scene %s not found", sceneID)
	}
	if err != nil {
		return nil, errors.Transient(err, "read scene "+sceneID)
	}

	var doc SceneDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(errors.ErrDataIntegrity, "decode scene %s: %v", sceneID, err)
	}
	if doc.SceneID == "" {
		doc.SceneID = sceneID
	}
	if doc.TileID == "" {
		doc.TileID = TileFromSceneID(doc.SceneID)
	}
	if doc.Region == "" || doc.TileID == "" {
		return nil, errors.NewValidationError("scene", "region and tile_id required", doc.SceneID)
	}

	scene := FromDocument(doc, e.cfg.MaxPixels)
	e.log.Infow("Scene extracted",
		"scene_id", scene.SceneID,
		"tile_id", scene.TileID,
		"vectors", len(scene.Vectors),
		"total_pixels", scene.Stats.TotalPixels,
		"coverage", scene.Stats.VegetationCoverage,
	)
	return scene, nil
}

// FromDocument converts a document, dropping no-data pixels and sampling
// evenly down to maxPixels
func FromDocument(doc SceneDocument, maxPixels int) *features.Scene {
	stride := 1
	if maxPixels > 0 && len(doc.Pixels) > maxPixels {
		stride = int(math.Ceil(float64(len(doc.Pixels)) / float64(maxPixels)))
	}

	vectors := make([]features.Vector, 0, len(doc.Pixels)/stride+1)
	for i := 0; i < len(doc.Pixels); i += stride {
		if v, ok := toVector(doc.Pixels[i]); ok {
			vectors = append(vectors, v)
		}
	}

	total := doc.TotalPixels
	if total == 0 {
		total = len(doc.Pixels)
	}
	// valid share of the raster is measured before sampling
	stats := features.ComputeStatistics(vectors, 0)
	stats.TotalPixels = total
	stats.ValidPixels = validCount(doc.Pixels)

	return &features.Scene{
		SceneID:    doc.SceneID,
		Region:     doc.Region,
		TileID:     doc.TileID,
		AcquiredAt: doc.AcquiredAt,
		Vectors:    vectors,
		Stats:      stats,
		BBox:       features.ComputeBoundingBox(vectors),
	}
}

// NDVI computes (nir-red)/(nir+red)
func NDVI(red, nir float64) float64 {
	return (nir - red) / (nir + red)
}

func toVector(p Pixel) (features.Vector, bool) {
	if !(p.Red > 0 && p.NIR > 0) {
		return features.Vector{}, false
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lng < -180 || p.Lng > 180 {
		return features.Vector{}, false
	}
	v, err := features.VectorFromSlice([]float64{NDVI(p.Red, p.NIR), p.Red, p.NIR, p.Lat, p.Lng})
	return v, err == nil
}

func validCount(pixels []Pixel) int {
	n := 0
	for _, p := range pixels {
		if _, ok := toVector(p); ok {
			n++
		}
	}
	return n
}

// TileFromSceneID extracts the MGRS tile from ids like S2A_22MBU_20240601
func TileFromSceneID(sceneID string) string {
	parts := strings.Split(sceneID, "_")
	if len(parts) < 3 {
		return ""
	}
	return strings.TrimPrefix(parts[1], "T")
}
