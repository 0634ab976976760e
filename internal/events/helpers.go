package events

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"forestwatch/internal/adapters/kafka"
)

// Event type constants
const (
	TypeSceneExtracted = "scene.extracted"
	TypeModelSaved     = "model.saved"
	TypeAlertAssessed  = "alert.assessed"
)

// SchemaVersion is stamped on every event
const SchemaVersion = "1.0"

// Topics maps event kinds to Kafka topics
type Topics struct {
	Scenes string
	Alerts string
	Models string
}

// DefaultTopics returns the built-in topic names
func DefaultTopics() Topics {
	return Topics{
		Scenes: kafka.TopicScenes,
		Alerts: kafka.TopicAlerts,
		Models: kafka.TopicModels,
	}
}

func (t Topics) withDefaults() Topics {
	def := DefaultTopics()
	if t.Scenes == "" {
		t.Scenes = def.Scenes
	}
	if t.Alerts == "" {
		t.Alerts = def.Alerts
	}
	if t.Models == "" {
		t.Models = def.Models
	}
	return t
}

// BaseEvent carries the envelope shared by all events
type BaseEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   string    `json:"version"`
}

// NewBaseEvent creates a new base event with defaults
func NewBaseEvent(eventType, source string) BaseEvent {
	return BaseEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Version:   SchemaVersion,
	}
}

// TileKey is the partition key: all events of a tile land on one partition
func TileKey(region, tileID string) string {
	return region + "/" + tileID
}

// SanitizeUTF8 drops invalid UTF-8 sequences. Error text from external
// services ends up in event payloads.
func SanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "")
}
