package consumers

import (
	"context"
	"time"

	"forestwatch/internal/adapters/kafka"
	"forestwatch/pkg/logger"
)

// MessageReader is the read side of a Kafka consumer. *kafka.Consumer satisfies it.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// BatchConsumer defines the interface for batch-based consumers
// that accumulate messages and flush them periodically
type BatchConsumer interface {
	// FlushBatch processes everything accumulated so far
	FlushBatch(ctx context.Context) error

	// LogStats logs consumer statistics (final should be true on shutdown)
	LogStats(final bool)
}

// BatchConsumerConfig holds configuration for batch consumer lifecycle
type BatchConsumerConfig struct {
	ConsumerName  string
	FlushInterval time.Duration
	StatsInterval time.Duration
	Logger        *logger.Logger
}

// BatchConsumerLifecycle manages flush and stats tickers of a batch consumer
// and the final flush on shutdown
type BatchConsumerLifecycle struct {
	config        BatchConsumerConfig
	flushTicker   *time.Ticker
	statsTicker   *time.Ticker
	reader        MessageReader
	batchConsumer BatchConsumer
}

// NewBatchConsumerLifecycle creates a new batch consumer lifecycle manager
func NewBatchConsumerLifecycle(
	config BatchConsumerConfig,
	reader MessageReader,
	batchConsumer BatchConsumer,
) *BatchConsumerLifecycle {
	if config.Logger == nil {
		config.Logger = logger.Get()
	}
	return &BatchConsumerLifecycle{
		config:        config,
		reader:        reader,
		batchConsumer: batchConsumer,
	}
}

// Start initializes tickers and returns cleanup function
// Usage:
//
//	lifecycle := NewBatchConsumerLifecycle(config, reader, batchConsumer)
//	cleanup := lifecycle.Start(ctx)
//	defer cleanup()
//
//	lifecycle.StartBackgroundWorkers(ctx)
func (l *BatchConsumerLifecycle) Start(ctx context.Context) func() {
	l.config.Logger.Infow("Starting batch consumer lifecycle",
		"consumer", l.config.ConsumerName,
		"flush_interval", l.config.FlushInterval,
		"stats_interval", l.config.StatsInterval,
	)

	l.flushTicker = time.NewTicker(l.config.FlushInterval)
	l.statsTicker = time.NewTicker(l.config.StatsInterval)

	return func() {
		l.config.Logger.Infow("Closing batch consumer", "consumer", l.config.ConsumerName)

		l.flushTicker.Stop()
		l.statsTicker.Stop()

		// Final flush with background context (main ctx is cancelled)
		if err := l.batchConsumer.FlushBatch(context.Background()); err != nil {
			l.config.Logger.Errorw("Failed to flush final batch",
				"consumer", l.config.ConsumerName,
				"error", err,
			)
		}

		l.batchConsumer.LogStats(true)

		if err := l.reader.Close(); err != nil {
			l.config.Logger.Errorw("Failed to close Kafka consumer",
				"consumer", l.config.ConsumerName,
				"error", err,
			)
		} else {
			l.config.Logger.Infow("Batch consumer closed", "consumer", l.config.ConsumerName)
		}
	}
}

// StartBackgroundWorkers starts periodic flush and stats logging goroutines
func (l *BatchConsumerLifecycle) StartBackgroundWorkers(ctx context.Context) {
	go l.periodicFlush(ctx)
	go l.periodicStatsLog(ctx)
}

func (l *BatchConsumerLifecycle) periodicFlush(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.flushTicker.C:
			if err := l.batchConsumer.FlushBatch(ctx); err != nil {
				l.config.Logger.Errorw("Periodic flush failed",
					"consumer", l.config.ConsumerName,
					"error", err,
				)
			}
		}
	}
}

func (l *BatchConsumerLifecycle) periodicStatsLog(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.statsTicker.C:
			l.batchConsumer.LogStats(false)
		}
	}
}
