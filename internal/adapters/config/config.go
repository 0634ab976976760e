package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"forestwatch/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Storage       StorageConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Trainer       TrainerConfig
	Selector      SelectorConfig
	Classifier    ClassifierConfig
	Pipeline      PipelineConfig
	Consumer      ConsumerConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"forestwatch"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
	Region   string `envconfig:"APP_REGION" default:"default"`
}

type HTTPConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8080"`
}

// StorageConfig selects where model artifacts, metadata and datasets live
type StorageConfig struct {
	Backend string `envconfig:"STORAGE_BACKEND" default:"filesystem"` // filesystem | postgres
	RootDir string `envconfig:"STORAGE_ROOT_DIR" default:"./data"`
	// Prefixes inside the store
	ModelPrefix       string `envconfig:"STORAGE_MODEL_PREFIX" default:"models"`
	PerformancePrefix string `envconfig:"STORAGE_PERFORMANCE_PREFIX" default:"model-performance"`
	ScenePrefix       string `envconfig:"STORAGE_SCENE_PREFIX" default:"scenes"`
}

// PostgresConfig is optional: an empty host disables it
type PostgresConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"forestwatch"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) Enabled() bool { return c.Host != "" }

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Host     string `envconfig:"CLICKHOUSE_HOST"`
	Port     int    `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User     string `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password string `envconfig:"CLICKHOUSE_PASSWORD"`
	Database string `envconfig:"CLICKHOUSE_DB" default:"forestwatch"`
}

func (c ClickHouseConfig) Enabled() bool { return c.Host != "" }

type RedisConfig struct {
	Host     string        `envconfig:"REDIS_HOST"`
	Port     int           `envconfig:"REDIS_PORT" default:"6379"`
	Password string        `envconfig:"REDIS_PASSWORD"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	LockTTL  time.Duration `envconfig:"REDIS_LOCK_TTL" default:"2m"`
	CacheTTL time.Duration `envconfig:"REDIS_CACHE_TTL" default:"10m"`
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers     []string `envconfig:"KAFKA_BROKERS"`
	GroupID     string   `envconfig:"KAFKA_GROUP_ID" default:"forestwatch"`
	AlertsTopic string   `envconfig:"KAFKA_ALERTS_TOPIC" default:"forest.alerts"`
	ModelsTopic string   `envconfig:"KAFKA_MODELS_TOPIC" default:"forest.models"`
	ScenesTopic string   `envconfig:"KAFKA_SCENES_TOPIC" default:"forest.scenes"`
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

// TrainerConfig selects the clustering trainer backend
type TrainerConfig struct {
	Backend           string        `envconfig:"TRAINER_BACKEND" default:"local"` // local | http
	Endpoint          string        `envconfig:"TRAINER_ENDPOINT"`
	RequestsPerMinute int           `envconfig:"TRAINER_REQUESTS_PER_MINUTE" default:"60"`
	MaxRetries        int           `envconfig:"TRAINER_MAX_RETRIES" default:"3"`
	RequestTimeout    time.Duration `envconfig:"TRAINER_REQUEST_TIMEOUT" default:"30s"`
	InstanceType      string        `envconfig:"TRAINER_INSTANCE_TYPE" default:"ml.m5.large"`
	MaxRuntime        time.Duration `envconfig:"TRAINER_MAX_RUNTIME" default:"1h"`
	MaxIterations     int           `envconfig:"TRAINER_MAX_ITERATIONS" default:"100"`
	Seed              int64         `envconfig:"TRAINER_SEED" default:"42"`
}

// SelectorConfig drives the cluster-count search
type SelectorConfig struct {
	CandidateKs   []int         `envconfig:"SELECTOR_CANDIDATE_KS" default:"2,3,4,5,6"`
	DefaultK      int           `envconfig:"SELECTOR_DEFAULT_K" default:"4"`
	Penalty       float64       `envconfig:"SELECTOR_PENALTY" default:"0.1"`
	ElbowFraction float64       `envconfig:"SELECTOR_ELBOW_FRACTION" default:"0.3"`
	PollInterval  time.Duration `envconfig:"SELECTOR_POLL_INTERVAL" default:"10s"`
	Timeout       time.Duration `envconfig:"SELECTOR_TIMEOUT" default:"30m"`
}

// ClassifierConfig holds the absolute thresholds used for single-cluster models
type ClassifierConfig struct {
	HighCoverThreshold float64 `envconfig:"CLASSIFIER_HIGH_COVER_THRESHOLD" default:"0.6"`
	ClearedThreshold   float64 `envconfig:"CLASSIFIER_CLEARED_THRESHOLD" default:"0.3"`
}

// PipelineConfig controls scene analysis
type PipelineConfig struct {
	DatasetPrefix string        `envconfig:"PIPELINE_DATASET_PREFIX" default:"datasets"`
	MaxModelAge   time.Duration `envconfig:"PIPELINE_MAX_MODEL_AGE" default:"0"` // 0 reuses a tile model forever
}

// ConsumerConfig batches scene outcomes before risk assessment
type ConsumerConfig struct {
	FlushInterval  time.Duration `envconfig:"CONSUMER_FLUSH_INTERVAL" default:"5m"`
	StatsInterval  time.Duration `envconfig:"CONSUMER_STATS_INTERVAL" default:"1m"`
	MaxBatch       int           `envconfig:"CONSUMER_MAX_BATCH" default:"50"`
	ProcessTimeout time.Duration `envconfig:"CONSUMER_PROCESS_TIMEOUT" default:"45m"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	PerformanceTrackerInterval time.Duration `envconfig:"WORKER_PERFORMANCE_TRACKER_INTERVAL" default:"6h"`
	WatchlistFile              string        `envconfig:"WORKER_WATCHLIST_FILE" default:"watchlist.yaml"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "filesystem":
	case "postgres":
		if !c.Postgres.Enabled() {
			return errors.NewValidationError("POSTGRES_HOST", "required when STORAGE_BACKEND=postgres", c.Postgres.Host)
		}
	default:
		return errors.NewValidationError("STORAGE_BACKEND", "must be filesystem or postgres", c.Storage.Backend)
	}

	switch c.Trainer.Backend {
	case "local":
	case "http":
		if c.Trainer.Endpoint == "" {
			return errors.NewValidationError("TRAINER_ENDPOINT", "required when TRAINER_BACKEND=http", "")
		}
	default:
		return errors.NewValidationError("TRAINER_BACKEND", "must be local or http", c.Trainer.Backend)
	}

	if len(c.Selector.CandidateKs) == 0 {
		return errors.NewValidationError("SELECTOR_CANDIDATE_KS", "at least one candidate required", c.Selector.CandidateKs)
	}
	for _, k := range c.Selector.CandidateKs {
		if k < 1 {
			return errors.NewValidationError("SELECTOR_CANDIDATE_KS", "cluster counts must be >= 1", k)
		}
	}
	if c.Consumer.MaxBatch < 1 {
		return errors.NewValidationError("CONSUMER_MAX_BATCH", "must be >= 1", c.Consumer.MaxBatch)
	}
	if c.Pipeline.MaxModelAge < 0 {
		return errors.NewValidationError("PIPELINE_MAX_MODEL_AGE", "must not be negative", c.Pipeline.MaxModelAge)
	}
	if c.Selector.DefaultK < 1 {
		return errors.NewValidationError("SELECTOR_DEFAULT_K", "must be >= 1", c.Selector.DefaultK)
	}
	return nil
}
