package features

import (
	"math"

	"forestwatch/pkg/errors"
)

// Dimensions is the number of features per pixel
const Dimensions = 5

// Feature indices inside a Vector
const (
	IndexVegetation = iota // NDVI
	IndexBand1             // red reflectance
	IndexBand2             // near-infrared reflectance
	IndexLatitude
	IndexLongitude
)

// Vector is one sampled pixel: [vegetationIndex, band1, band2, latitude, longitude]
type Vector [Dimensions]float64

// VegetationIndex returns the NDVI coordinate
func (v Vector) VegetationIndex() float64 { return v[IndexVegetation] }

// Slice returns a copy of the vector as a slice (gonum helpers take slices)
func (v Vector) Slice() []float64 {
	out := make([]float64, Dimensions)
	copy(out, v[:])
	return out
}

// VectorFromSlice builds a Vector from exactly Dimensions values
func VectorFromSlice(values []float64) (Vector, error) {
	var v Vector
	if len(values) != Dimensions {
		return v, errors.NewValidationError("vector", "expected 5 features", len(values))
	}
	for i, x := range values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return v, errors.NewValidationError("vector", "non-finite feature", x)
		}
		v[i] = x
	}
	return v, nil
}

// Range is the observed {min, max} of one feature
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Scaling holds per-feature min/max used to map features into [0,1].
// It is computed once per training dataset and travels with every model trained on it.
type Scaling struct {
	Ranges [Dimensions]Range `json:"ranges"`
}

// ComputeScaling derives min/max for every feature
func ComputeScaling(vectors []Vector) (Scaling, error) {
	var s Scaling
	if len(vectors) == 0 {
		return s, errors.Wrap(errors.ErrNoData, "compute scaling")
	}
	for d := 0; d < Dimensions; d++ {
		s.Ranges[d] = Range{Min: vectors[0][d], Max: vectors[0][d]}
	}
	for _, v := range vectors[1:] {
		for d := 0; d < Dimensions; d++ {
			s.Ranges[d].Min = math.Min(s.Ranges[d].Min, v[d])
			s.Ranges[d].Max = math.Max(s.Ranges[d].Max, v[d])
		}
	}
	return s, nil
}

// Normalize maps v into the unit hypercube. Constant features map to 0.
func (s Scaling) Normalize(v Vector) Vector {
	var out Vector
	for d := 0; d < Dimensions; d++ {
		span := s.Ranges[d].Max - s.Ranges[d].Min
		if span == 0 {
			continue
		}
		out[d] = (v[d] - s.Ranges[d].Min) / span
	}
	return out
}

// Denormalize is the inverse of Normalize
func (s Scaling) Denormalize(v Vector) Vector {
	var out Vector
	for d := 0; d < Dimensions; d++ {
		out[d] = s.Ranges[d].Min + v[d]*(s.Ranges[d].Max-s.Ranges[d].Min)
	}
	return out
}

// NormalizeAll normalizes a whole population
func (s Scaling) NormalizeAll(vectors []Vector) []Vector {
	out := make([]Vector, len(vectors))
	for i, v := range vectors {
		out[i] = s.Normalize(v)
	}
	return out
}

// UnitScaling maps every feature from [0,1] onto itself
func UnitScaling() Scaling {
	var s Scaling
	for d := range s.Ranges {
		s.Ranges[d] = Range{Min: 0, Max: 1}
	}
	return s
}
