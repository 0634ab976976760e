package bootstrap

import (
	"context"
	"io"
	"sync"

	chclient "forestwatch/internal/adapters/clickhouse"
	"forestwatch/internal/adapters/config"
	"forestwatch/internal/adapters/extractor"
	"forestwatch/internal/adapters/kafka"
	pgclient "forestwatch/internal/adapters/postgres"
	redisclient "forestwatch/internal/adapters/redis"
	"forestwatch/internal/api"
	"forestwatch/internal/api/health"
	"forestwatch/internal/consumers"
	"forestwatch/internal/domain/change"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/domain/storage"
	"forestwatch/internal/domain/training"
	"forestwatch/internal/events"
	changeservice "forestwatch/internal/services/change"
	"forestwatch/internal/services/performance"
	"forestwatch/internal/services/pipeline"
	"forestwatch/internal/services/registry"
	riskservice "forestwatch/internal/services/risk"
	"forestwatch/internal/services/selector"
	"forestwatch/internal/workers"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (all optional)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Services    *Services
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups storage backends
type Repositories struct {
	Store         storage.ObjectStore
	Locker        modelversion.Locker
	LatestCache   modelversion.Cache // nil without Redis
	ChangeHistory change.Repository  // nil without ClickHouse
}

// Adapters groups all external adapters
type Adapters struct {
	KafkaProducer *kafka.Producer // nil without Kafka
	SceneConsumer *kafka.Consumer // nil without Kafka
	Trainer       training.Trainer
	Extractor     *extractor.Extractor
}

// Services groups domain services
type Services struct {
	Selector    *selector.Service
	Registry    *registry.Service
	Changes     *changeservice.Service
	Risk        *riskservice.Engine
	Performance *performance.Service
	Events      *events.Publisher
	Pipeline    *pipeline.Service
}

// Application groups application layer components
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups all background processing components
type Background struct {
	WorkerScheduler *workers.Scheduler
	SceneSvc        *consumers.SceneConsumer // nil without Kafka
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Services:    &Services{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitCore()
	c.MustInitApplication()
	c.MustInitBackground()
}

// MustInitCore initializes everything up to the pipeline, without the HTTP
// server, workers or consumers. fwctl runs on this.
func (c *Container) MustInitCore() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitServices()
}

// Start starts all background components
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Background.SceneSvc != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			if err := c.Background.SceneSvc.Start(c.Context); err != nil && c.Context.Err() == nil {
				c.Log.Errorw("Scene consumer failed", "error", err)
				c.Cancel()
			}
		}()
		c.Log.Infow("✓ Scene consumer started", "topic", c.Config.Kafka.ScenesTopic)
	}

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	// Start HTTP server
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Cancel application context to signal all components to stop
	c.Cancel()

	var trainer io.Closer
	if closer, ok := c.Adapters.Trainer.(io.Closer); ok {
		trainer = closer
	}

	c.Lifecycle.Shutdown(ShutdownTargets{
		WG:              c.WG,
		HTTPServer:      c.Application.HTTPServer,
		WorkerScheduler: c.Background.WorkerScheduler,
		SceneConsumer:   c.Adapters.SceneConsumer,
		Trainer:         trainer,
		KafkaProducer:   c.Adapters.KafkaProducer,
		PG:              c.PG,
		CH:              c.CH,
		Redis:           c.Redis,
		ErrorTracker:    c.ErrorTracker,
	}, c.Log)
}
