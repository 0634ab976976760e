package consumers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"forestwatch/internal/adapters/kafka"
	"forestwatch/internal/domain/alert"
	"forestwatch/internal/events"
	"forestwatch/internal/services/pipeline"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
	"forestwatch/pkg/reconnect"
)

// SceneAnalyzer is the part of the pipeline the consumer drives
type SceneAnalyzer interface {
	AnalyzeScene(ctx context.Context, req pipeline.AnalyzeSceneRequest) (*alert.SceneOutcome, error)
	Assess(ctx context.Context, req pipeline.AssessRequest) (*alert.Assessment, error)
}

// SceneConsumerConfig tunes batching
type SceneConsumerConfig struct {
	FlushInterval  time.Duration // assess whatever accumulated at least this often
	StatsInterval  time.Duration
	MaxBatch       int           // assess as soon as this many outcomes are pending
	ProcessTimeout time.Duration // per scene, covers model training
	ReadBackoff    reconnect.Config
}

// DefaultSceneConsumerConfig returns batching defaults
func DefaultSceneConsumerConfig() SceneConsumerConfig {
	return SceneConsumerConfig{
		FlushInterval:  5 * time.Minute,
		StatsInterval:  time.Minute,
		MaxBatch:       50,
		ProcessTimeout: 45 * time.Minute,
		ReadBackoff: reconnect.Config{
			MinBackoff:        time.Second,
			MaxBackoff:        time.Minute,
			MaxFailures:       20,
			CircuitResetAfter: 5 * time.Minute,
		},
	}
}

// SceneConsumer analyses scene-extracted events and periodically turns the
// accumulated outcomes into one risk assessment
type SceneConsumer struct {
	reader   MessageReader
	pipeline SceneAnalyzer
	cfg      SceneConsumerConfig
	backoff  *reconnect.Backoff
	log      *logger.Logger

	mu       sync.Mutex
	flushMu  sync.Mutex
	batch    []alert.SceneOutcome
	received int64
	analyzed int64
	rejected int64
	assessed int64
}

// NewSceneConsumer creates a new scene consumer
func NewSceneConsumer(reader MessageReader, p SceneAnalyzer, cfg SceneConsumerConfig, log *logger.Logger) *SceneConsumer {
	def := DefaultSceneConsumerConfig()
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = def.StatsInterval
	}
	if cfg.MaxBatch < 1 {
		cfg.MaxBatch = def.MaxBatch
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = def.ProcessTimeout
	}
	if cfg.ReadBackoff == (reconnect.Config{}) {
		cfg.ReadBackoff = def.ReadBackoff
	}
	if log == nil {
		log = logger.Get()
	}
	log = log.With("component", "scene_consumer")
	return &SceneConsumer{
		reader:   reader,
		pipeline: p,
		cfg:      cfg,
		backoff:  reconnect.NewBackoff(cfg.ReadBackoff, log),
		log:      log,
	}
}

// Start consumes until ctx is cancelled, then flushes the pending batch
func (c *SceneConsumer) Start(ctx context.Context) error {
	lifecycle := NewBatchConsumerLifecycle(BatchConsumerConfig{
		ConsumerName:  "scene_consumer",
		FlushInterval: c.cfg.FlushInterval,
		StatsInterval: c.cfg.StatsInterval,
		Logger:        c.log,
	}, c.reader, c)

	cleanup := lifecycle.Start(ctx)
	defer cleanup()
	lifecycle.StartBackgroundWorkers(ctx)

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("Scene consumer stopping (context cancelled)")
				return nil
			}
			c.log.Debugw("Failed to read scene event", "error", err)
			if reconnect.Wait(ctx, c.backoff.Failure()) != nil {
				c.log.Info("Scene consumer stopping (context cancelled)")
				return nil
			}
			continue
		}
		c.backoff.Success()

		// Analysis outlives shutdown of the read loop; training may take a while
		processCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ProcessTimeout)
		full, err := c.handleMessage(processCtx, msg)
		if err != nil {
			c.log.Errorw("Failed to handle scene event",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"error", err,
			)
		}
		if full {
			if err := c.FlushBatch(processCtx); err != nil {
				c.log.Errorw("Batch flush failed", "error", err)
			}
		}
		cancel()

		if ctx.Err() != nil {
			return nil
		}
	}
}

// handleMessage analyses one scene; reports whether the batch is full
func (c *SceneConsumer) handleMessage(ctx context.Context, msg kafka.Message) (bool, error) {
	c.mu.Lock()
	c.received++
	c.mu.Unlock()

	var ev events.SceneExtractedEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.reject()
		return false, errors.Wrapf(errors.ErrDataIntegrity, "decode scene event: %v", err)
	}

	outcome, err := c.pipeline.AnalyzeScene(ctx, pipeline.AnalyzeSceneRequest{
		SceneID:      ev.SceneID,
		ForceRetrain: ev.ForceRetrain,
		Region:       ev.Region,
		TileID:       ev.TileID,
	})
	if err != nil {
		c.reject()
		return false, errors.Wrapf(err, "analyze scene %s", ev.SceneID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyzed++
	c.batch = append(c.batch, *outcome)
	return len(c.batch) >= c.cfg.MaxBatch, nil
}

func (c *SceneConsumer) reject() {
	c.mu.Lock()
	c.rejected++
	c.mu.Unlock()
}

// FlushBatch assesses and publishes the pending outcomes
func (c *SceneConsumer) FlushBatch(ctx context.Context) error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	batch := c.batch
	c.batch = nil
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	a, err := c.pipeline.Assess(ctx, pipeline.AssessRequest{Outcomes: batch, Publish: true})
	if err != nil {
		return errors.Wrapf(err, "assess %d scenes", len(batch))
	}

	c.mu.Lock()
	c.assessed++
	c.mu.Unlock()

	c.log.Infow("Batch assessed",
		"scenes", len(batch),
		"level", a.Level,
		"priority", a.Priority,
		"confidence", a.Confidence.Overall,
	)
	return nil
}

// LogStats logs consumer counters
func (c *SceneConsumer) LogStats(final bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := "Scene consumer stats"
	if final {
		msg = "Scene consumer final stats"
	}
	c.log.Infow(msg,
		"received", c.received,
		"analyzed", c.analyzed,
		"rejected", c.rejected,
		"assessments", c.assessed,
		"pending", len(c.batch),
		"read_failures", c.backoff.Stats().TotalFailures,
	)
}
