package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"forestwatch/pkg/logger"
)

func itoa(i int) string { return strconv.Itoa(i) }

// StoreCollector reports inventory gauges straight from the databases.
// Either connection may be nil.
type StoreCollector struct {
	log        *logger.Logger
	postgres   *sqlx.DB
	clickhouse driver.Conn

	storedModels     *prometheus.Desc
	changeDetections *prometheus.Desc
}

// NewStoreCollector creates a new collector
func NewStoreCollector(log *logger.Logger, postgres *sqlx.DB, clickhouse driver.Conn) *StoreCollector {
	return &StoreCollector{
		log:        log,
		postgres:   postgres,
		clickhouse: clickhouse,

		storedModels: prometheus.NewDesc(
			"forestwatch_stored_model_versions",
			"Model versions held in the postgres object store",
			nil, nil,
		),
		changeDetections: prometheus.NewDesc(
			"forestwatch_change_detections_24h",
			"Change-detection runs recorded in the last 24h, by region",
			[]string{"region"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.storedModels
	ch <- c.changeDetections
}

// Collect implements prometheus.Collector
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.postgres != nil {
		c.collectStoredModels(ctx, ch)
	}
	if c.clickhouse != nil {
		c.collectChangeDetections(ctx, ch)
	}
}

func (c *StoreCollector) collectStoredModels(ctx context.Context, ch chan<- prometheus.Metric) {
	var count int
	err := c.postgres.GetContext(ctx, &count, "SELECT COUNT(*) FROM model_objects WHERE key LIKE '%/metadata.json'")
	if err != nil {
		c.log.Debugw("Failed to count model versions", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.storedModels, prometheus.GaugeValue, float64(count))
}

func (c *StoreCollector) collectChangeDetections(ctx context.Context, ch chan<- prometheus.Metric) {
	var rows []struct {
		Region string `ch:"region"`
		Count  uint64 `ch:"cnt"`
	}
	err := c.clickhouse.Select(ctx, &rows,
		"SELECT region, count() AS cnt FROM change_detections WHERE detected_at > now() - INTERVAL 1 DAY GROUP BY region")
	if err != nil {
		c.log.Debugw("Failed to count change detections", "error", err)
		return
	}
	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(c.changeDetections, prometheus.GaugeValue, float64(r.Count), r.Region)
	}
}

// RegisterStoreCollector registers the collector
func RegisterStoreCollector(collector *StoreCollector) {
	prometheus.MustRegister(collector)
}
