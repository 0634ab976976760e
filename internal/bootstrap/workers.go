package bootstrap

import (
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"

	chclient "forestwatch/internal/adapters/clickhouse"
	"forestwatch/internal/adapters/config"
	pgclient "forestwatch/internal/adapters/postgres"
	redisclient "forestwatch/internal/adapters/redis"
	"forestwatch/internal/workers"
	"forestwatch/pkg/logger"
)

// provideWorkers initializes all background workers
func provideWorkers(cfg *config.Config, perf workers.PerformanceReader, log *logger.Logger) *workers.Scheduler {
	log.Info("Initializing workers...")

	scheduler := workers.NewScheduler()

	interval := cfg.Workers.PerformanceTrackerInterval
	scheduler.RegisterWorker(workers.NewPerformanceReviewWorker(
		perf,
		cfg.Workers.WatchlistFile,
		interval,
		interval > 0,
	))

	log.Infow("✓ Workers initialized", "count", len(scheduler.GetWorkers()))
	return scheduler
}

func pgDB(c *pgclient.Client) *sqlx.DB {
	if c == nil {
		return nil
	}
	return c.DB()
}

func chConn(c *chclient.Client) driver.Conn {
	if c == nil {
		return nil
	}
	return c.Conn()
}

func redisClient(c *redisclient.Client) *goredis.Client {
	if c == nil {
		return nil
	}
	return c.Client()
}
