package change

import (
	"context"
	"time"
)

// Result is one change-detection run for a tile
type Result struct {
	ID                string    `json:"id"`
	Region            string    `json:"region"`
	TileID            string    `json:"tile_id"`
	CurrentVersion    string    `json:"current_version"`
	HistoricalVersion string    `json:"historical_version"`
	Tally             Tally     `json:"tally"`
	ChangePercentage  float64   `json:"change_percentage"`
	ConfidenceScore   float64   `json:"confidence_score"`
	NoData            bool      `json:"no_data"`
	DetectedAt        time.Time `json:"detected_at"`
}

// HasDowngrade reports a non-zero downgrade transition
func (r *Result) HasDowngrade() bool {
	return r.Tally.Downgraded() > 0
}

// LegacyCounters names the transitions the way downstream reports expect
type LegacyCounters struct {
	ForestToDegraded     int `json:"forest_to_degraded"`
	DegradedToDeforested int `json:"degraded_to_deforested"`
	ForestToDeforested   int `json:"forest_to_deforested"`
	NewGrowthPixels      int `json:"new_growth_pixels"`
}

// Legacy derives the named counters from the tally
func (r *Result) Legacy() LegacyCounters {
	t := r.Tally
	return LegacyCounters{
		ForestToDegraded:     t.Count(LabelHighCover, LabelDegraded),
		DegradedToDeforested: t.Count(LabelDegraded, LabelCleared),
		ForestToDeforested:   t.Count(LabelHighCover, LabelCleared),
		NewGrowthPixels: t.Count(LabelCleared, LabelDegraded) +
			t.Count(LabelCleared, LabelHighCover) +
			t.Count(LabelDegraded, LabelHighCover),
	}
}

// Repository persists change-detection runs for trend queries
type Repository interface {
	Save(ctx context.Context, r *Result) error
	GetHistory(ctx context.Context, region, tileID string, limit int) ([]Result, error)
}
