package selector

import (
	"fmt"
	"math"
	"sort"
)

// Decision is the outcome of Choose
type Decision struct {
	K          int
	Reason     string
	Confidence float64
	Method     Method
}

// Choose picks the cluster count from completed candidates.
//
// Candidates are ordered by k. The improvement of each k is the score drop from
// the previous k. After the largest improvement, the first k whose own improvement
// is below elbowFraction of it ends the elbow, and the k before it is chosen with
// confidence 0.8. This needs at least three candidates. Otherwise the best score
// wins and confidence grows with its lead over the runner-up, capped at 0.9.
func Choose(completed []Candidate, defaultK int, elbowFraction float64) Decision {
	if len(completed) == 0 {
		return Decision{
			K:          defaultK,
			Reason:     "Default - no successful training jobs",
			Confidence: 0.5,
			Method:     MethodDefault,
		}
	}

	byK := make([]Candidate, len(completed))
	copy(byK, completed)
	sort.SliceStable(byK, func(i, j int) bool { return byK[i].K < byK[j].K })

	if len(byK) >= 3 {
		improvements := make([]float64, len(byK))
		best, bestIdx := math.Inf(-1), -1
		for i := 1; i < len(byK); i++ {
			improvements[i] = byK[i-1].Score - byK[i].Score
			if improvements[i] > best {
				best, bestIdx = improvements[i], i
			}
		}

		if best > 0 {
			threshold := best * elbowFraction
			for i := bestIdx + 1; i < len(byK); i++ {
				if improvements[i] < threshold {
					k := byK[i-1].K
					return Decision{
						K:          k,
						Reason:     fmt.Sprintf("Elbow method - diminishing returns after K=%d", k),
						Confidence: 0.8,
						Method:     MethodElbow,
					}
				}
			}
		}
	}

	byScore := make([]Candidate, len(byK))
	copy(byScore, byK)
	sort.SliceStable(byScore, func(i, j int) bool { return byScore[i].Score < byScore[j].Score })

	winner := byScore[0]
	confidence := 0.6
	if len(byScore) > 1 {
		gap := byScore[1].Score - winner.Score
		confidence = math.Min(0.9, 0.5+gap*2)
	}
	return Decision{
		K:          winner.K,
		Reason:     fmt.Sprintf("Best WCSS score: %.4f", winner.Quality),
		Confidence: confidence,
		Method:     MethodBestScore,
	}
}
