package api

import (
	"context"
	"encoding/json"
	"net/http"

	"forestwatch/internal/services/pipeline"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

// Executor runs typed pipeline requests
type Executor interface {
	Execute(ctx context.Context, req pipeline.Request) (interface{}, error)
}

// SceneQueue enqueues scenes for the consumer
type SceneQueue interface {
	Enabled() bool
	PublishSceneExtracted(ctx context.Context, sceneID, region, tileID string, forceRetrain bool) error
}

// Handler serves the read-mostly pipeline API
type Handler struct {
	pipeline Executor
	queue    SceneQueue
	log      *logger.Logger
}

// NewHandler creates the API handler. queue may be nil.
func NewHandler(p Executor, queue SceneQueue, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Get()
	}
	return &Handler{pipeline: p, queue: queue, log: log.With("component", "api")}
}

// Register adds the /api/v1 routes to mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/tiles/{region}/{tile}/models", h.handleHistory)
	mux.HandleFunc("GET /api/v1/tiles/{region}/{tile}/models/latest", h.handleLatest)
	mux.HandleFunc("POST /api/v1/scenes", h.handleEnqueueScene)
	mux.HandleFunc("POST /api/v1/assessments", h.handleAssess)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, pipeline.GetHistoryRequest{
		Region: r.PathValue("region"),
		TileID: r.PathValue("tile"),
	}, http.StatusOK)
}

func (h *Handler) handleLatest(w http.ResponseWriter, r *http.Request) {
	h.execute(w, r, pipeline.GetLatestRequest{
		Region: r.PathValue("region"),
		TileID: r.PathValue("tile"),
	}, http.StatusOK)
}

func (h *Handler) handleAssess(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AssessRequest
	if !decode(w, r, &req) {
		return
	}
	h.execute(w, r, req, http.StatusOK)
}

// handleEnqueueScene publishes a scene for asynchronous analysis. Training
// can outlive any HTTP timeout so scenes are never analysed inline.
func (h *Handler) handleEnqueueScene(w http.ResponseWriter, r *http.Request) {
	var req pipeline.AnalyzeSceneRequest
	if !decode(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, err)
		return
	}
	if h.queue == nil || !h.queue.Enabled() {
		h.writeError(w, errors.Wrap(errors.ErrUnavailable, "scene queue not configured"))
		return
	}
	if err := h.queue.PublishSceneExtracted(r.Context(), req.SceneID, req.Region, req.TileID, req.ForceRetrain); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"scene_id": req.SceneID, "status": "queued"})
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request, req pipeline.Request, code int) {
	out, err := h.pipeline.Execute(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, code, out)
}

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	var verr *errors.ValidationError
	switch {
	case errors.As(err, &verr), errors.Is(err, errors.ErrInvalidInput), errors.Is(err, errors.ErrDataIntegrity):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound), errors.Is(err, errors.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrUnavailable), errors.IsTransient(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, errors.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Errorw("Request failed", "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
