package workers

import (
	"context"
	"time"

	"forestwatch/internal/metrics"
	"forestwatch/internal/services/performance"
	"forestwatch/pkg/errors"
)

// PerformanceReader reads tracked model performance
type PerformanceReader interface {
	Get(ctx context.Context, region, tileID string) (*performance.History, error)
}

// PerformanceReviewWorker periodically reviews the performance history of
// watched tiles, exporting confidence and anomaly gauges
type PerformanceReviewWorker struct {
	*BaseWorker
	reader        PerformanceReader
	watchlistPath string
}

// NewPerformanceReviewWorker creates the worker. The watchlist is re-read on every run.
func NewPerformanceReviewWorker(reader PerformanceReader, watchlistPath string, interval time.Duration, enabled bool) *PerformanceReviewWorker {
	return &PerformanceReviewWorker{
		BaseWorker:    NewBaseWorker("performance_review", interval, enabled),
		reader:        reader,
		watchlistPath: watchlistPath,
	}
}

// Run reviews every watched tile once
func (w *PerformanceReviewWorker) Run(ctx context.Context) error {
	list, err := LoadWatchlist(w.watchlistPath)
	if err != nil {
		return err
	}
	if len(list.Tiles) == 0 {
		w.Log().Debugw("Watchlist empty", "path", w.watchlistPath)
		return nil
	}

	var errs errors.MultiError
	reviewed := 0
	for _, tile := range list.Tiles {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		h, err := w.reader.Get(ctx, tile.Region, tile.TileID)
		if errors.Is(err, errors.ErrNotFound) {
			w.Log().Debugw("Tile not tracked yet", "region", tile.Region, "tile_id", tile.TileID)
			continue
		}
		if err != nil {
			errs.Add(errors.Wrapf(err, "review %s/%s", tile.Region, tile.TileID))
			continue
		}
		w.review(h)
		reviewed++
	}

	w.Log().Infow("Performance review complete", "tiles", len(list.Tiles), "reviewed", reviewed, "errors", len(errs.Errors))
	return errs.ToError()
}

func (w *PerformanceReviewWorker) review(h *performance.History) {
	metrics.RecordPerformance(h.Region, h.TileID, h.Summary.AvgOverallConfidence, len(h.RecentAnomalies))

	log := w.Log().With("region", h.Region, "tile_id", h.TileID)
	log.Infow("Tile performance",
		"analyses", h.Summary.TotalAnalyses,
		"avg_confidence", h.Summary.AvgOverallConfidence,
		"trend", h.Summary.PerformanceTrend,
	)
	for _, a := range h.RecentAnomalies {
		if a.Severity == "high" {
			log.Errorw("Performance anomaly", "type", a.Type, "description", a.Description)
			continue
		}
		log.Warnw("Performance anomaly", "type", a.Type, "description", a.Description)
	}
}
