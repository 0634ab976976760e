package kmeans

import (
	"context"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"forestwatch/internal/domain/features"
	"forestwatch/pkg/errors"
)

// Options tunes Lloyd iterations
type Options struct {
	MaxIterations int
	Tolerance     float64 // stop once no centroid moves further than this
	Seed          uint64
}

// DefaultOptions returns the settings used by the local trainer
func DefaultOptions() Options {
	return Options{MaxIterations: 100, Tolerance: 1e-6, Seed: 42}
}

// Fit is the output of one k-means run
type Fit struct {
	Centroids  []features.Vector
	Inertia    float64 // within-cluster sum of squared distances
	Iterations int
	Sizes      []int
}

// Train clusters points (already normalized) into k groups using
// k-means++ seeding followed by Lloyd iterations. Deterministic for a given seed.
func Train(ctx context.Context, points []features.Vector, k int, opts Options) (*Fit, error) {
	if k < 1 {
		return nil, errors.NewValidationError("k", "must be >= 1", k)
	}
	if len(points) < k {
		return nil, errors.Wrapf(errors.ErrInvalidInput, "%d points cannot form %d clusters", len(points), k)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultOptions().MaxIterations
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	centroids := seed(points, k, rng)
	assign := make([]int, len(points))
	sizes := make([]int, k)

	iter := 0
	for iter < opts.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		iter++

		for i, p := range points {
			assign[i] = nearest(centroids, p)
		}

		next := make([]features.Vector, k)
		for c := range sizes {
			sizes[c] = 0
		}
		for i, p := range points {
			c := assign[i]
			sizes[c]++
			for d := range p {
				next[c][d] += p[d]
			}
		}

		shift := 0.0
		for c := range next {
			if sizes[c] == 0 {
				// Empty cluster: re-seed on the point furthest from its centroid
				next[c] = points[furthest(points, centroids, assign)]
			} else {
				for d := range next[c] {
					next[c][d] /= float64(sizes[c])
				}
			}
			shift = math.Max(shift, floats.Distance(next[c][:], centroids[c][:], 2))
		}
		centroids = next

		if shift <= opts.Tolerance {
			break
		}
	}

	for i, p := range points {
		assign[i] = nearest(centroids, p)
	}
	for c := range sizes {
		sizes[c] = 0
	}
	inertia := 0.0
	for i, p := range points {
		c := assign[i]
		sizes[c]++
		d := floats.Distance(p[:], centroids[c][:], 2)
		inertia += d * d
	}

	return &Fit{Centroids: centroids, Inertia: inertia, Iterations: iter, Sizes: sizes}, nil
}

// seed picks initial centroids with k-means++ (D^2 weighting)
func seed(points []features.Vector, k int, rng *rand.Rand) []features.Vector {
	centroids := make([]features.Vector, 0, k)
	centroids = append(centroids, points[rng.IntN(len(points))])

	dist := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			d := floats.Distance(p[:], centroids[nearest(centroids, p)][:], 2)
			dist[i] = d * d
			total += dist[i]
		}
		if total == 0 {
			// All points coincide with a centroid already
			centroids = append(centroids, points[rng.IntN(len(points))])
			continue
		}
		target := rng.Float64() * total
		idx := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				idx = i
				break
			}
		}
		centroids = append(centroids, points[idx])
	}
	return centroids
}

func nearest(centroids []features.Vector, p features.Vector) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		d := floats.Distance(p[:], c[:], 2)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func furthest(points, centroids []features.Vector, assign []int) int {
	best, bestDist := 0, -1.0
	for i, p := range points {
		d := floats.Distance(p[:], centroids[assign[i]][:], 2)
		if d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
