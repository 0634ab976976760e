package riskservice

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/features"
	"forestwatch/internal/metrics"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Engine turns per-scene outcomes into one alert assessment.
// It never fails because change detection failed; it degrades to a data report.
type Engine struct {
	cfg Config
	now func() time.Time
	log *logger.Logger
}

// NewEngine creates a risk engine
func NewEngine(cfg Config, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Get()
	}
	return &Engine{
		cfg: cfg,
		now: time.Now,
		log: log.With("component", "risk_engine"),
	}
}

// Assess grades a batch of analysed scenes
func (e *Engine) Assess(outcomes []alert.SceneOutcome) (*alert.Assessment, error) {
	if len(outcomes) == 0 {
		return nil, errors.Wrap(errors.ErrNoData, "assess: no scene outcomes")
	}

	var sceneStats []features.SceneStatistics
	for _, o := range outcomes {
		if o.Succeeded {
			sceneStats = append(sceneStats, o.Stats)
		}
	}
	stats := features.Aggregate(sceneStats)
	reuse := analyzeReuse(outcomes)
	confidence := e.confidence(outcomes, stats, reuse)

	var changes []change.Result
	for _, o := range outcomes {
		if o.Change != nil && !o.Change.NoData {
			changes = append(changes, *o.Change)
		}
	}

	a := &alert.Assessment{
		ID:         uuid.NewString(),
		Mode:       alert.ModeClusterAnalysis,
		Confidence: confidence,
		Reuse:      reuse,
		Statistics: stats,
		Changes:    changes,
		AssessedAt: e.now().UTC(),
	}

	if len(changes) == 0 {
		e.fallback(a, outcomes)
	} else {
		e.grade(a, changes)
	}

	metrics.RecordAlert(a.Level.String(), string(a.Mode))
	e.log.Infow("Risk assessed",
		"level", a.Level,
		"priority", a.Priority,
		"mode", a.Mode,
		"scenes", len(outcomes),
		"tiles", len(reuse.UniqueTiles),
		"confidence", a.Confidence.Overall,
	)
	return a, nil
}

// grade applies the level rules: any downgrade is HIGH, any other change MEDIUM
func (e *Engine) grade(a *alert.Assessment, changes []change.Result) {
	var high, medium []string
	for _, c := range changes {
		switch {
		case c.HasDowngrade():
			high = append(high, fmt.Sprintf("Cluster migration detected in %s (%s pixels lost cover)",
				c.TileID, humanize.Comma(int64(c.Tally.Downgraded()))))
		case c.Tally.Changed > 0:
			medium = append(medium, fmt.Sprintf("Vegetation changes detected in %s (%.1f%% of pixels)",
				c.TileID, c.ChangePercentage))
		}
	}
	info := e.supportingFactors(a.Reuse, a.Statistics)

	switch {
	case len(high) > 0:
		a.Level, a.Priority = alert.LevelHigh, alert.PriorityChangeDetected
		a.Description, a.ActionRequired = descChangeDetected, actionInvestigate
		a.RiskFactors = concat(high, medium, info)
	case len(medium) > 0:
		a.Level, a.Priority = alert.LevelMedium, alert.PriorityMonitoringRequired
		a.Description, a.ActionRequired = descMonitoring, actionMonitor
		a.RiskFactors = concat(medium, info)
	default:
		a.Level, a.Priority = alert.LevelInfo, alert.PriorityStableConditions
		a.Description, a.ActionRequired = descStable, actionRoutine
		a.RiskFactors = info
	}
}

// fallback reports aggregate statistics only, at INFO
func (e *Engine) fallback(a *alert.Assessment, outcomes []alert.SceneOutcome) {
	a.Mode = alert.ModeDataReport
	a.Level, a.Priority = alert.LevelInfo, alert.PriorityDataReport
	a.Description, a.ActionRequired = descDataReport, actionReview
	a.FallbackReason = fallbackReason(outcomes)

	s := a.Statistics
	a.RiskFactors = concat([]string{
		fmt.Sprintf("Vegetation range: %.1f%% - %.1f%%", s.MinCoverage, s.MaxCoverage),
		fmt.Sprintf("NDVI range: %.3f - %.3f", s.MinIndex, s.MaxIndex),
	}, e.supportingFactors(a.Reuse, s))

	a.Confidence.Overall *= e.cfg.FallbackPenalty
	a.Confidence.Level = confidenceLevel(a.Confidence.Overall)
	a.Confidence.Factors = append(a.Confidence.Factors, "Change detection unavailable, confidence reduced")

	e.log.Warnw("Change detection unavailable, reporting data only", "reason", a.FallbackReason)
}

func fallbackReason(outcomes []alert.SceneOutcome) string {
	var failed []string
	noData := 0
	for _, o := range outcomes {
		switch {
		case o.ChangeError != "":
			failed = append(failed, o.TileID+": "+o.ChangeError)
		case o.Change != nil && o.Change.NoData:
			noData++
		}
	}
	switch {
	case len(failed) > 0:
		return fmt.Sprintf("change detection failed for %d of %d scenes (%s)", len(failed), len(outcomes), failed[0])
	case noData > 0:
		return fmt.Sprintf("change detection produced no data for %d of %d scenes", noData, len(outcomes))
	default:
		return "no temporal model comparison available for any tile"
	}
}

// supportingFactors are attached at every level
func (e *Engine) supportingFactors(reuse alert.ReuseStats, s features.AggregateStatistics) []string {
	factors := []string{
		fmt.Sprintf("Model reuse efficiency: %.1f%% (%d of %d images)", reuse.EfficiencyPct, reuse.ModelsReused, reuse.TotalImages),
		fmt.Sprintf("Tiles analysed: %d", len(reuse.UniqueTiles)),
	}
	if reuse.EfficiencyPct > e.cfg.HighReuseEfficiency {
		factors = append(factors, "High model reuse efficiency")
	}
	if len(reuse.UniqueTiles) > 1 {
		factors = append(factors, fmt.Sprintf("Multi-region analysis: %d different areas", len(reuse.UniqueTiles)))
	}
	return append(factors,
		fmt.Sprintf("Average vegetation coverage: %.1f%%", s.AvgCoverage),
		fmt.Sprintf("Average NDVI: %.3f", s.AvgIndex),
		fmt.Sprintf("Data quality: %.1f%% valid pixels (%s of %s)", s.DataQualityPct,
			humanize.Comma(int64(s.ValidPixels)), humanize.Comma(int64(s.TotalPixels))),
	)
}

func analyzeReuse(outcomes []alert.SceneOutcome) alert.ReuseStats {
	r := alert.ReuseStats{TotalImages: len(outcomes)}
	tiles := make(map[string]struct{})
	for _, o := range outcomes {
		if o.ModelReused {
			r.ModelsReused++
		} else {
			r.NewModelsTrained++
		}
		if o.TileID != "" {
			tiles[o.TileID] = struct{}{}
		}
	}
	r.UniqueTiles = make([]string, 0, len(tiles))
	for t := range tiles {
		r.UniqueTiles = append(r.UniqueTiles, t)
	}
	sort.Strings(r.UniqueTiles)
	if r.TotalImages > 0 {
		r.EfficiencyPct = float64(r.ModelsReused) / float64(r.TotalImages) * 100
	}
	return r
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
