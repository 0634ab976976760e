package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"forestwatch/pkg/logger"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// WorkerMonitor reports workers that stopped running or keep failing
type WorkerMonitor interface {
	Unhealthy(maxAge time.Duration) []string
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	checks      map[string]CheckFunc
	workers     WorkerMonitor
	workerAge   time.Duration
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a health handler with no dependency checks
func New(log *logger.Logger, serviceName, version string) *Handler {
	if log == nil {
		log = logger.Get()
	}
	return &Handler{
		log:         log.With("component", "health"),
		checks:      make(map[string]CheckFunc),
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// AddCheck registers a readiness check
func (h *Handler) AddCheck(name string, fn CheckFunc) *Handler {
	h.checks[name] = fn
	return h
}

// WithPostgres adds a Postgres ping when db is configured
func (h *Handler) WithPostgres(db *sqlx.DB) *Handler {
	if db == nil {
		return h
	}
	return h.AddCheck("postgres", db.PingContext)
}

// WithClickHouse adds a ClickHouse ping when conn is configured
func (h *Handler) WithClickHouse(conn driver.Conn) *Handler {
	if conn == nil {
		return h
	}
	return h.AddCheck("clickhouse", conn.Ping)
}

// WithRedis adds a Redis ping when client is configured
func (h *Handler) WithRedis(client *redis.Client) *Handler {
	if client == nil {
		return h
	}
	return h.AddCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
}

// WithWorkers reports workers idle for longer than maxAge in the detailed health
func (h *Handler) WithWorkers(m WorkerMonitor, maxAge time.Duration) *Handler {
	h.workers = m
	h.workerAge = maxAge
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status           string                     `json:"status"` // "healthy", "degraded", "unhealthy"
	Service          string                     `json:"service"`
	Version          string                     `json:"version"`
	Uptime           string                     `json:"uptime"`
	Timestamp        string                     `json:"timestamp"`
	Checks           map[string]ComponentHealth `json:"checks"`
	UnhealthyWorkers []string                   `json:"unhealthy_workers,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK if service is running
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness returns 503 unless every dependency answers
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status, healthy := h.run(ctx)

	code := http.StatusOK
	if healthy < len(status.Checks) {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", status.Checks)
	}
	writeJSON(w, code, status)
}

// HandleHealth returns detailed health; partial failures are "degraded" with 200
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status, healthy := h.run(ctx)
	if h.workers != nil {
		status.UnhealthyWorkers = h.workers.Unhealthy(h.workerAge)
		sort.Strings(status.UnhealthyWorkers)
	}

	code := http.StatusOK
	switch {
	case len(status.Checks) > 0 && healthy == 0:
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	case healthy < len(status.Checks), len(status.UnhealthyWorkers) > 0:
		status.Status = "degraded"
	}
	writeJSON(w, code, status)
}

func (h *Handler) run(ctx context.Context) (HealthStatus, int) {
	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth, len(h.checks)),
	}

	healthy := 0
	for name, fn := range h.checks {
		c := h.check(ctx, name, fn)
		status.Checks[name] = c
		if c.Status == "healthy" {
			healthy++
		}
	}
	return status, healthy
}

func (h *Handler) check(ctx context.Context, name string, fn CheckFunc) ComponentHealth {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "check", name, "error", err, "elapsed", elapsed)
		return ComponentHealth{
			Status:       "unhealthy",
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}
	return ComponentHealth{Status: "healthy", ResponseTime: elapsed.String()}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
