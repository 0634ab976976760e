package events

import (
	"context"

	"forestwatch/internal/domain/alert"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/metrics"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Sink is where encoded events go. *kafka.Producer satisfies it.
type Sink interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// Publisher publishes pipeline events
type Publisher struct {
	sink   Sink
	topics Topics
	source string
	log    *logger.Logger
}

// NewPublisher creates a new event publisher. A nil sink discards every
// event, which is how the daemon runs without Kafka.
func NewPublisher(sink Sink, topics Topics, source string, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Get()
	}
	if source == "" {
		source = "forestwatch"
	}
	return &Publisher{
		sink:   sink,
		topics: topics.withDefaults(),
		source: source,
		log:    log.With("component", "event_publisher"),
	}
}

// Enabled reports whether events leave the process
func (p *Publisher) Enabled() bool {
	return p != nil && p.sink != nil
}

// PublishAlert publishes a risk assessment for the notifier
func (p *Publisher) PublishAlert(ctx context.Context, a *alert.Assessment) error {
	if a == nil {
		return errors.NewValidationError("assessment", "required", nil)
	}
	key := a.ID
	if len(a.Reuse.UniqueTiles) == 1 && len(a.Changes) > 0 {
		key = TileKey(a.Changes[0].Region, a.Changes[0].TileID)
	}
	return p.publish(ctx, p.topics.Alerts, key, NewAlertAssessedEvent(p.source, a))
}

// PublishModelSaved announces a registry save
func (p *Publisher) PublishModelSaved(ctx context.Context, v *modelversion.ModelVersion) error {
	if v == nil {
		return errors.NewValidationError("model_version", "required", nil)
	}
	return p.publish(ctx, p.topics.Models, TileKey(v.Region, v.TileID), NewModelSavedEvent(p.source, v))
}

// PublishSceneExtracted enqueues a scene for analysis
func (p *Publisher) PublishSceneExtracted(ctx context.Context, sceneID, region, tileID string, forceRetrain bool) error {
	if sceneID == "" {
		return errors.NewValidationError("scene_id", "required", sceneID)
	}
	ev := &SceneExtractedEvent{
		Base:         NewBaseEvent(TypeSceneExtracted, p.source),
		SceneID:      sceneID,
		Region:       region,
		TileID:       tileID,
		ForceRetrain: forceRetrain,
	}
	return p.publish(ctx, p.topics.Scenes, TileKey(region, tileID), ev)
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event interface{}) error {
	if !p.Enabled() {
		metrics.RecordKafka(topic, "discarded")
		return nil
	}

	if err := p.sink.Publish(ctx, topic, key, event); err != nil {
		metrics.RecordKafka(topic, "publish_error")
		p.log.Errorw("Failed to publish event",
			"topic", topic,
			"key", key,
			"error", err,
		)
		return errors.Wrap(err, "send to kafka")
	}

	metrics.RecordKafka(topic, "published")
	p.log.Debugw("Event published", "topic", topic, "key", key)
	return nil
}
