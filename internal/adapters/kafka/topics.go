package kafka

// Default topic names; overridable through KafkaConfig
const (
	// Scene-extracted notifications from the feature extraction service
	TopicScenes = "forest.scenes"

	// Risk assessments for the external notifier
	TopicAlerts = "forest.alerts"

	// Model lifecycle: a new version was saved to the registry
	TopicModels = "forest.models"
)
