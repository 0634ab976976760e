package bootstrap

import (
	"context"
	"time"

	chclient "forestwatch/internal/adapters/clickhouse"
	"forestwatch/internal/adapters/config"
	errnoop "forestwatch/internal/adapters/errors/noop"
	"forestwatch/internal/adapters/errors/sentry"
	"forestwatch/internal/adapters/extractor"
	"forestwatch/internal/adapters/kafka"
	pgclient "forestwatch/internal/adapters/postgres"
	redisclient "forestwatch/internal/adapters/redis"
	"forestwatch/internal/adapters/retry"
	"forestwatch/internal/adapters/trainer/local"
	"forestwatch/internal/adapters/trainer/remote"
	"forestwatch/internal/api"
	"forestwatch/internal/api/health"
	"forestwatch/internal/consumers"
	"forestwatch/internal/domain/storage"
	"forestwatch/internal/domain/training"
	"forestwatch/internal/events"
	"forestwatch/internal/jobs"
	"forestwatch/internal/metrics"
	"forestwatch/internal/ml/kmeans"
	"forestwatch/internal/ml/semantic"
	chrepo "forestwatch/internal/repository/clickhouse"
	"forestwatch/internal/repository/filesystem"
	pgrepo "forestwatch/internal/repository/postgres"
	redisrepo "forestwatch/internal/repository/redis"
	changeservice "forestwatch/internal/services/change"
	"forestwatch/internal/services/performance"
	"forestwatch/internal/services/pipeline"
	"forestwatch/internal/services/registry"
	riskservice "forestwatch/internal/services/risk"
	"forestwatch/internal/services/selector"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Version is stamped at build time
var Version = "dev"

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	metrics.Init()
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects the optional data stores. A store without
// a configured host stays nil and its features fall back to local ones.
func (c *Container) MustInitInfrastructure() {
	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	var err error

	if c.Config.Postgres.Enabled() {
		c.Log.Info("Connecting to PostgreSQL...")
		c.PG, err = pgclient.NewClient(ctx, c.Config.Postgres)
		if err != nil {
			c.Log.Fatalf("failed to connect postgres: %v", err)
		}
		c.Log.Info("✓ PostgreSQL connected")
	}

	if c.Config.ClickHouse.Enabled() {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(ctx, c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	}

	if c.Config.Redis.Enabled() {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(ctx, c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("✓ Redis connected")
	}

	if c.PG != nil || c.CH != nil {
		metrics.RegisterStoreCollector(metrics.NewStoreCollector(c.Log, pgDB(c.PG), chConn(c.CH)))
	}
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories selects the object store, tile lock and caches
func (c *Container) MustInitRepositories() {
	store, err := provideObjectStore(c.Config, c.PG, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to open object store: %v", err)
	}
	c.Repos.Store = store

	if c.Redis != nil {
		c.Repos.Locker = redisrepo.NewTileLocker(c.Redis, c.Config.Redis.LockTTL, c.Log)
		c.Repos.LatestCache = redisrepo.NewLatestCache(c.Redis, c.Log)
		c.Log.Info("✓ Redis tile lock and latest-version cache enabled")
	} else {
		c.Repos.Locker = registry.NewLocalLocker()
	}

	if c.CH != nil {
		c.Repos.ChangeHistory = chrepo.NewChangeRepository(c.CH.Conn())
		c.Log.Info("✓ Change detection history recorded in ClickHouse")
	}

	c.Log.Info("✓ Repositories initialized")
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes the Kafka producer, the trainer and the feature extractor
func (c *Container) MustInitAdapters() {
	if c.Config.Kafka.Enabled() {
		c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
	} else {
		c.Log.Warn("Kafka brokers not configured: events are discarded and the scene consumer is disabled")
	}

	trainer, err := provideTrainer(c.Config, c.Repos.Store, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to create trainer: %v", err)
	}
	c.Adapters.Trainer = trainer

	c.Adapters.Extractor = extractor.New(c.Repos.Store, extractor.Config{
		Prefix: c.Config.Storage.ScenePrefix,
	}, c.Log)

	c.Log.Infow("✓ Adapters initialized", "trainer", c.Config.Trainer.Backend, "storage", c.Config.Storage.Backend)
}

// ========================================
// Phase 5: Domain Services
// ========================================

// MustInitServices wires the selector, registry, change detection, risk and pipeline
func (c *Container) MustInitServices() {
	cfg := c.Config

	c.Services.Selector = selector.NewService(c.Adapters.Trainer, jobs.RealClock{}, selector.Config{
		CandidateKs:   cfg.Selector.CandidateKs,
		DefaultK:      cfg.Selector.DefaultK,
		Penalty:       cfg.Selector.Penalty,
		ElbowFraction: cfg.Selector.ElbowFraction,
		PollInterval:  cfg.Selector.PollInterval,
		Timeout:       cfg.Selector.Timeout,
		Resources: training.ResourceSpec{
			InstanceType:  cfg.Trainer.InstanceType,
			MaxRuntime:    cfg.Trainer.MaxRuntime,
			MaxIterations: cfg.Trainer.MaxIterations,
		},
		Backend: cfg.Trainer.Backend,
	}, c.Log)

	var opts []registry.Option
	if c.Repos.LatestCache != nil {
		opts = append(opts, registry.WithCache(c.Repos.LatestCache))
	}
	c.Services.Registry = registry.NewService(c.Repos.Store, c.Repos.Locker, registry.Config{
		Prefix:   cfg.Storage.ModelPrefix,
		CacheTTL: cfg.Redis.CacheTTL,
	}, c.Log, opts...)

	classifier := semantic.NewClassifier(semantic.Thresholds{
		HighCover: cfg.Classifier.HighCoverThreshold,
		Cleared:   cfg.Classifier.ClearedThreshold,
	})
	c.Services.Changes = changeservice.NewService(
		changeservice.NewDetector(classifier, changeservice.DefaultConfidence()),
		c.Services.Registry,
		c.Repos.ChangeHistory,
		c.Log,
	)

	c.Services.Risk = riskservice.NewEngine(riskservice.DefaultConfig(), c.Log)
	c.Services.Performance = performance.NewService(c.Repos.Store, c.Services.Registry, cfg.Storage.PerformancePrefix, c.Log)

	var sink events.Sink
	if c.Adapters.KafkaProducer != nil {
		sink = c.Adapters.KafkaProducer
	}
	c.Services.Events = events.NewPublisher(sink, events.Topics{
		Scenes: cfg.Kafka.ScenesTopic,
		Alerts: cfg.Kafka.AlertsTopic,
		Models: cfg.Kafka.ModelsTopic,
	}, cfg.App.Name, c.Log)

	c.Services.Pipeline = pipeline.NewService(pipeline.Deps{
		Extractor:   c.Adapters.Extractor,
		Store:       c.Repos.Store,
		Selector:    c.Services.Selector,
		Registry:    c.Services.Registry,
		Changes:     c.Services.Changes,
		Risk:        c.Services.Risk,
		Performance: c.Services.Performance,
		Events:      c.Services.Events,
	}, pipeline.Config{
		DatasetPrefix: cfg.Pipeline.DatasetPrefix,
		MaxModelAge:   cfg.Pipeline.MaxModelAge,
		MaxIterations: cfg.Trainer.MaxIterations,
	}, c.Log)

	c.Log.Info("✓ Services initialized")
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication creates the HTTP server and health checks
func (c *Container) MustInitApplication() {
	store := c.Repos.Store
	c.Application.HealthHandler = health.New(c.Log, c.Config.App.Name, Version).
		AddCheck("object_store", func(ctx context.Context) error {
			_, err := store.Exists(ctx, "healthcheck")
			return err
		}).
		WithPostgres(pgDB(c.PG)).
		WithClickHouse(chConn(c.CH)).
		WithRedis(redisClient(c.Redis))

	c.Application.HTTPServer = api.NewServer(
		api.ServerConfig{
			Port:        c.Config.HTTP.Port,
			ServiceName: c.Config.App.Name,
			Version:     Version,
		},
		c.Application.HealthHandler,
		api.NewHandler(c.Services.Pipeline, c.Services.Events, c.Log),
		c.Log,
	)
}

// ========================================
// Phase 7: Background Processing
// ========================================

// MustInitBackground creates the worker scheduler and the scene consumer
func (c *Container) MustInitBackground() {
	c.Background.WorkerScheduler = provideWorkers(c.Config, c.Services.Performance, c.Log)
	c.Application.HealthHandler.WithWorkers(c.Background.WorkerScheduler, 2*c.Config.Workers.PerformanceTrackerInterval)

	// The consumer joins its group as soon as it is created, so only the daemon creates it
	if c.Config.Kafka.Enabled() {
		c.Adapters.SceneConsumer = provideKafkaConsumer(c.Config, c.Config.Kafka.ScenesTopic, c.Log)
		c.Background.SceneSvc = consumers.NewSceneConsumer(
			c.Adapters.SceneConsumer,
			c.Services.Pipeline,
			consumers.SceneConsumerConfig{
				FlushInterval:  c.Config.Consumer.FlushInterval,
				StatsInterval:  c.Config.Consumer.StatsInterval,
				MaxBatch:       c.Config.Consumer.MaxBatch,
				ProcessTimeout: c.Config.Consumer.ProcessTimeout,
			},
			c.Log,
		)
	}
}

// ========================================
// Providers
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideObjectStore(cfg *config.Config, pg *pgclient.Client, log *logger.Logger) (storage.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		if pg == nil {
			return nil, errors.Wrap(errors.ErrUnavailable, "postgres object store requires POSTGRES_HOST")
		}
		log.Info("✓ Object store: postgres model_objects")
		return pgrepo.NewObjectRepository(pg.DB()), nil
	default:
		store, err := filesystem.NewStore(cfg.Storage.RootDir)
		if err != nil {
			return nil, err
		}
		log.Infow("✓ Object store: filesystem", "root", cfg.Storage.RootDir)
		return store, nil
	}
}

func provideTrainer(cfg *config.Config, store storage.ObjectStore, log *logger.Logger) (training.Trainer, error) {
	if cfg.Trainer.Backend == "http" {
		rc := retry.DefaultConfig()
		rc.MaxRetries = cfg.Trainer.MaxRetries
		return remote.New(remote.Config{
			Endpoint:          cfg.Trainer.Endpoint,
			RequestsPerMinute: cfg.Trainer.RequestsPerMinute,
			RequestTimeout:    cfg.Trainer.RequestTimeout,
			Retry:             rc,
		}, store, log)
	}

	lc := local.DefaultConfig()
	lc.Options = kmeans.Options{
		MaxIterations: cfg.Trainer.MaxIterations,
		Tolerance:     lc.Options.Tolerance,
		Seed:          uint64(cfg.Trainer.Seed),
	}
	return local.New(store, lc, log), nil
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	log.Info("Initializing Kafka producer...")
	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	log.Info("✓ Kafka producer initialized")
	return producer
}

func provideKafkaConsumer(cfg *config.Config, topic string, log *logger.Logger) *kafka.Consumer {
	log.Infow("Initializing Kafka consumer", "topic", topic)
	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Kafka.Brokers,
		GroupID: cfg.Kafka.GroupID,
		Topic:   topic,
	})
	log.Infow("✓ Kafka consumer initialized", "topic", topic)
	return consumer
}
