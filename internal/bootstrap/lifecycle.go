package bootstrap

import (
	"context"
	"io"
	"sync"
	"time"

	chclient "forestwatch/internal/adapters/clickhouse"
	"forestwatch/internal/adapters/kafka"
	pgclient "forestwatch/internal/adapters/postgres"
	redisclient "forestwatch/internal/adapters/redis"
	"forestwatch/internal/api"
	"forestwatch/internal/workers"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Lifecycle manages graceful startup and shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
	consumerWait    time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 150 * time.Second,
		consumerWait:    30 * time.Second, // final batch assessment
	}
}

// ShutdownTargets lists what Shutdown stops. Nil fields are skipped.
type ShutdownTargets struct {
	WG              *sync.WaitGroup
	HTTPServer      *api.Server
	WorkerScheduler *workers.Scheduler
	SceneConsumer   *kafka.Consumer
	Trainer         io.Closer
	KafkaProducer   *kafka.Producer
	PG              *pgclient.Client
	CH              *chclient.Client
	Redis           *redisclient.Client
	ErrorTracker    errors.Tracker
}

// Shutdown performs coordinated cleanup of all components in order:
// 1. No new requests accepted
// 2. Workers finish cleanly
// 3. Scene consumer unblocks and flushes its last batch
// 4. Training jobs stop
// 5. Producer closes after the consumer's final alert
// 6. Logs and errors flushed
// 7. Database connections last (other components may need them)
func (l *Lifecycle) Shutdown(t ShutdownTargets, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/8] Stopping HTTP server...")
	if t.HTTPServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := t.HTTPServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	log.Info("[2/8] Stopping background workers...")
	if t.WorkerScheduler != nil {
		if err := t.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// Close the consumer BEFORE waiting for goroutines: this unblocks ReadMessage()
	log.Info("[3/8] Closing scene consumer...")
	if t.SceneConsumer != nil {
		if err := t.SceneConsumer.Close(); err != nil {
			log.Errorw("Kafka consumer close failed", "error", err)
		}
	}

	log.Info("[4/8] Waiting for consumer goroutines...")
	if t.WG != nil {
		l.waitForGoroutines(t.WG, l.consumerWait, log)
	}

	log.Info("[5/8] Stopping trainer...")
	if t.Trainer != nil {
		if err := t.Trainer.Close(); err != nil {
			log.Errorw("Trainer close failed", "error", err)
		}
	}

	log.Info("[6/8] Closing Kafka producer...")
	if t.KafkaProducer != nil {
		if err := t.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	log.Info("[7/8] Flushing error tracker and logs...")
	l.flushErrorTracker(shutdownCtx, t.ErrorTracker, log)
	_ = logger.Sync()

	log.Info("[8/8] Closing database connections...")
	l.closeDatabases(t.PG, t.CH, t.Redis, log)

	log.Info("✅ Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pg *pgclient.Client,
	ch *chclient.Client,
	rdb *redisclient.Client,
	log *logger.Logger,
) {
	merr := &errors.MultiError{}

	if pg != nil {
		if err := pg.Close(); err != nil {
			merr.Add(errors.Wrap(err, "postgres"))
		}
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			merr.Add(errors.Wrap(err, "clickhouse"))
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			merr.Add(errors.Wrap(err, "redis"))
		}
	}

	if merr.HasErrors() {
		log.Errorw("Database close errors", "error", merr.ToError())
	} else {
		log.Info("✓ Database connections closed")
	}
}
