package features

import (
	"context"
	"time"

	"gonum.org/v1/gonum/stat"
)

// VegetationThreshold is the NDVI above which a pixel counts as vegetated
const VegetationThreshold = 0.3

// Scene is the output of feature extraction for one satellite image
type Scene struct {
	SceneID    string          `json:"scene_id"`
	Region     string          `json:"region"`
	TileID     string          `json:"tile_id"`
	AcquiredAt time.Time       `json:"acquired_at"`
	Vectors    []Vector        `json:"vectors"`
	Stats      SceneStatistics `json:"statistics"`
	BBox       BoundingBox     `json:"bbox"`
}

// Extractor turns a scene reference into feature vectors. Raster I/O lives behind it.
type Extractor interface {
	Extract(ctx context.Context, sceneID string) (*Scene, error)
}

// SceneStatistics summarises the vegetation index of one scene
type SceneStatistics struct {
	MeanIndex          float64 `json:"mean_ndvi"`
	MinIndex           float64 `json:"min_ndvi"`
	MaxIndex           float64 `json:"max_ndvi"`
	StdIndex           float64 `json:"std_ndvi"`
	VegetationCoverage float64 `json:"vegetation_coverage"`
	ValidPixels        int     `json:"valid_pixels"`
	TotalPixels        int     `json:"total_pixels"`
}

// ComputeStatistics derives scene statistics from sampled vectors.
// totalPixels is the raster size; pass 0 to use the sample count.
func ComputeStatistics(vectors []Vector, totalPixels int) SceneStatistics {
	if totalPixels < len(vectors) {
		totalPixels = len(vectors)
	}
	st := SceneStatistics{ValidPixels: len(vectors), TotalPixels: totalPixels}
	if len(vectors) == 0 {
		return st
	}

	values := make([]float64, len(vectors))
	vegetated := 0
	st.MinIndex, st.MaxIndex = vectors[0].VegetationIndex(), vectors[0].VegetationIndex()
	for i, v := range vectors {
		x := v.VegetationIndex()
		values[i] = x
		if x > VegetationThreshold {
			vegetated++
		}
		st.MinIndex = min(st.MinIndex, x)
		st.MaxIndex = max(st.MaxIndex, x)
	}

	st.MeanIndex = stat.Mean(values, nil)
	st.StdIndex = stat.PopStdDev(values, nil)
	st.VegetationCoverage = float64(vegetated) / float64(len(vectors)) * 100
	return st
}

// BoundingBox is the lat/lng extent of a vector population
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// ComputeBoundingBox returns the extent of vectors; zero value when empty
func ComputeBoundingBox(vectors []Vector) BoundingBox {
	if len(vectors) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{
		MinLat: vectors[0][IndexLatitude], MaxLat: vectors[0][IndexLatitude],
		MinLng: vectors[0][IndexLongitude], MaxLng: vectors[0][IndexLongitude],
	}
	for _, v := range vectors[1:] {
		b.MinLat = min(b.MinLat, v[IndexLatitude])
		b.MaxLat = max(b.MaxLat, v[IndexLatitude])
		b.MinLng = min(b.MinLng, v[IndexLongitude])
		b.MaxLng = max(b.MaxLng, v[IndexLongitude])
	}
	return b
}
