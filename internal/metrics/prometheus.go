package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forestwatch_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forestwatch_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forestwatch_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Training metrics
	TrainingJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forestwatch_training_jobs_total",
			Help: "Training jobs by final state",
		},
		[]string{"backend", "state"}, // state: succeeded|failed|timed_out|submit_error
	)

	TrainingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forestwatch_training_duration_seconds",
			Help:    "Wall-clock duration of training jobs",
			Buckets: []float64{1, 10, 60, 300, 600, 1200, 1800, 3600},
		},
		[]string{"backend"},
	)

	SelectionConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forestwatch_selection_confidence",
			Help:    "Confidence of cluster-count selections",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
	)

	SelectedK = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forestwatch_selected_k_total",
			Help: "Selected cluster counts",
		},
		[]string{"k", "method"}, // method: elbow|best_score|default
	)

	// Registry metrics
	RegistryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forestwatch_registry_operations_total",
			Help: "Model registry operations",
		},
		[]string{"operation", "status"}, // operation: save|latest|history; status: success|absent|error
	)

	// Change detection metrics
	ChangePercentage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forestwatch_change_percentage",
			Help: "Percentage of pixels whose label changed in the last comparison",
		},
		[]string{"region", "tile_id"},
	)

	ChangeDetections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forestwatch_change_detections_total",
			Help: "Change-detection runs",
		},
		[]string{"status"}, // status: success|no_data|error
	)

	// Alert metrics
	Alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forestwatch_alerts_total",
			Help: "Risk assessments by level and mode",
		},
		[]string{"level", "mode"},
	)

	// Model performance (per watched tile)
	ModelConfidence = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forestwatch_model_confidence",
			Help: "Average overall confidence of a tile's tracked analyses",
		},
		[]string{"region", "tile_id"},
	)

	PerformanceAnomalies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forestwatch_model_performance_anomalies",
			Help: "Recent performance anomalies of a tile",
		},
		[]string{"region", "tile_id"},
	)

	// System metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forestwatch_kafka_messages_total",
			Help: "Total Kafka messages processed",
		},
		[]string{"topic", "operation"}, // operation: produce|consume|error
	)

	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forestwatch_db_queries_total",
			Help: "Total database queries",
		},
		[]string{"database", "operation", "status"},
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forestwatch_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"database", "operation"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)

	prometheus.MustRegister(TrainingJobs)
	prometheus.MustRegister(TrainingDuration)
	prometheus.MustRegister(SelectionConfidence)
	prometheus.MustRegister(SelectedK)

	prometheus.MustRegister(RegistryOperations)
	prometheus.MustRegister(ChangePercentage)
	prometheus.MustRegister(ChangeDetections)
	prometheus.MustRegister(Alerts)
	prometheus.MustRegister(ModelConfidence)
	prometheus.MustRegister(PerformanceAnomalies)

	prometheus.MustRegister(KafkaMessages)
	prometheus.MustRegister(DBQueries)
	prometheus.MustRegister(DBQueryDuration)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, status(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordTrainingJob records a finished (or abandoned) training job
func RecordTrainingJob(backend, state string, duration time.Duration) {
	TrainingJobs.WithLabelValues(backend, state).Inc()
	if duration > 0 {
		TrainingDuration.WithLabelValues(backend).Observe(duration.Seconds())
	}
}

// RecordSelection records a cluster-count decision
func RecordSelection(k int, method string, confidence float64) {
	SelectedK.WithLabelValues(itoa(k), method).Inc()
	SelectionConfidence.Observe(confidence)
}

// RecordRegistry records a registry operation; a non-empty outcome overrides err
func RecordRegistry(operation, outcome string, err error) {
	if outcome == "" {
		outcome = status(err)
	}
	RegistryOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordChange records a change-detection run
func RecordChange(region, tileID string, pct float64, noData bool, err error) {
	switch {
	case err != nil:
		ChangeDetections.WithLabelValues("error").Inc()
	case noData:
		ChangeDetections.WithLabelValues("no_data").Inc()
	default:
		ChangeDetections.WithLabelValues("success").Inc()
		ChangePercentage.WithLabelValues(region, tileID).Set(pct)
	}
}

// RecordAlert records a risk assessment
func RecordAlert(level, mode string) {
	Alerts.WithLabelValues(level, mode).Inc()
}

// RecordPerformance publishes a tile's performance summary
func RecordPerformance(region, tileID string, avgConfidence float64, anomalies int) {
	ModelConfidence.WithLabelValues(region, tileID).Set(avgConfidence)
	PerformanceAnomalies.WithLabelValues(region, tileID).Set(float64(anomalies))
}

// RecordKafka records a Kafka message
func RecordKafka(topic, operation string) {
	KafkaMessages.WithLabelValues(topic, operation).Inc()
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	DBQueries.WithLabelValues(database, operation, status(err)).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}
