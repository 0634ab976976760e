package clickhouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"forestwatch/internal/domain/change"
	"forestwatch/internal/metrics"
	"forestwatch/pkg/errors"
)

// Compile-time check
var _ change.Repository = (*ChangeRepository)(nil)

// ChangeRepository stores change-detection runs in ClickHouse
type ChangeRepository struct {
	conn driver.Conn
}

// NewChangeRepository creates a new change repository
func NewChangeRepository(conn driver.Conn) *ChangeRepository {
	return &ChangeRepository{conn: conn}
}

type changeRow struct {
	ID                   string    `ch:"id"`
	Region               string    `ch:"region"`
	TileID               string    `ch:"tile_id"`
	CurrentVersion       string    `ch:"current_version"`
	HistoricalVersion    string    `ch:"historical_version"`
	ChangedPixels        uint64    `ch:"changed_pixels"`
	TotalPixels          uint64    `ch:"total_pixels"`
	ChangePercentage     float64   `ch:"change_percentage"`
	ConfidenceScore      float64   `ch:"confidence_score"`
	NoData               uint8     `ch:"no_data"`
	ForestToDegraded     uint64    `ch:"forest_to_degraded"`
	DegradedToDeforested uint64    `ch:"degraded_to_deforested"`
	ForestToDeforested   uint64    `ch:"forest_to_deforested"`
	NewGrowthPixels      uint64    `ch:"new_growth_pixels"`
	Transitions          string    `ch:"transitions"`
	DetectedAt           time.Time `ch:"detected_at"`
}

// Save appends one run
func (r *ChangeRepository) Save(ctx context.Context, res *change.Result) (err error) {
	start := time.Now()
	defer func() { metrics.RecordDBQuery("clickhouse", "change_insert", time.Since(start), err) }()

	transitions, err := json.Marshal(res.Tally)
	if err != nil {
		return errors.Wrap(err, "marshal tally")
	}
	legacy := res.Legacy()
	noData := uint8(0)
	if res.NoData {
		noData = 1
	}

	query := `
		INSERT INTO change_detections (
			id, region, tile_id, current_version, historical_version,
			changed_pixels, total_pixels, change_percentage, confidence_score, no_data,
			forest_to_degraded, degraded_to_deforested, forest_to_deforested, new_growth_pixels,
			transitions, detected_at
		) VALUES (
			?, ?, ?, ?, ?,
			?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?
		)
	`

	err = r.conn.Exec(ctx, query,
		res.ID, res.Region, res.TileID, res.CurrentVersion, res.HistoricalVersion,
		uint64(res.Tally.Changed), uint64(res.Tally.Total), res.ChangePercentage, res.ConfidenceScore, noData,
		uint64(legacy.ForestToDegraded), uint64(legacy.DegradedToDeforested),
		uint64(legacy.ForestToDeforested), uint64(legacy.NewGrowthPixels),
		string(transitions), res.DetectedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to store change detection")
	}
	return nil
}

// GetHistory returns the most recent runs for a tile, newest first
func (r *ChangeRepository) GetHistory(ctx context.Context, region, tileID string, limit int) ([]change.Result, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT
			id, region, tile_id, current_version, historical_version,
			changed_pixels, total_pixels, change_percentage, confidence_score, no_data,
			forest_to_degraded, degraded_to_deforested, forest_to_deforested, new_growth_pixels,
			transitions, detected_at
		FROM change_detections
		WHERE region = ? AND tile_id = ?
		ORDER BY detected_at DESC
		LIMIT ?
	`

	var rows []changeRow
	if err := r.conn.Select(ctx, &rows, query, region, tileID, limit); err != nil {
		return nil, errors.Wrap(err, "failed to query change history")
	}

	out := make([]change.Result, 0, len(rows))
	for _, row := range rows {
		res := change.Result{
			ID:                row.ID,
			Region:            row.Region,
			TileID:            row.TileID,
			CurrentVersion:    row.CurrentVersion,
			HistoricalVersion: row.HistoricalVersion,
			ChangePercentage:  row.ChangePercentage,
			ConfidenceScore:   row.ConfidenceScore,
			NoData:            row.NoData == 1,
			DetectedAt:        row.DetectedAt,
		}
		if err := json.Unmarshal([]byte(row.Transitions), &res.Tally); err != nil {
			return nil, errors.Wrapf(errors.ErrDataIntegrity, "decode transitions for %s: %v", row.ID, err)
		}
		out = append(out, res)
	}
	return out, nil
}
