package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forestwatch/internal/api/health"
	"forestwatch/internal/domain/modelversion"
	"forestwatch/internal/services/pipeline"
	"forestwatch/pkg/errors"
	"forestwatch/pkg/logger"
)

type fakeExecutor struct {
	requests []pipeline.Request
	out      interface{}
	err      error
}

func (f *fakeExecutor) Execute(_ context.Context, req pipeline.Request) (interface{}, error) {
	f.requests = append(f.requests, req)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return f.out, f.err
}

type fakeQueue struct {
	enabled bool
	scenes  []string
}

func (q *fakeQueue) Enabled() bool { return q.enabled }

func (q *fakeQueue) PublishSceneExtracted(_ context.Context, sceneID, region, tileID string, _ bool) error {
	q.scenes = append(q.scenes, sceneID+"@"+region+"/"+tileID)
	return nil
}

func newTestServer(exec Executor, queue SceneQueue) http.Handler {
	log := logger.Nop()
	srv := NewServer(
		ServerConfig{ServiceName: "forestwatch", Version: "test"},
		health.New(log, "forestwatch", "test"),
		NewHandler(exec, queue, log),
		log,
	)
	return srv.Handler()
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestServer_LatestModel(t *testing.T) {
	exec := &fakeExecutor{out: &pipeline.LatestResponse{
		Found:   true,
		Version: &modelversion.ModelVersion{Region: "amazon", TileID: "22MBU", VersionID: "20240101-000000.000000"},
	}}
	h := newTestServer(exec, nil)

	rec := do(h, http.MethodGet, "/api/v1/tiles/amazon/22MBU/models/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp pipeline.LatestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Found)
	assert.Equal(t, "20240101-000000.000000", resp.Version.VersionID)
	require.Len(t, exec.requests, 1)
	assert.Equal(t, pipeline.GetLatestRequest{Region: "amazon", TileID: "22MBU"}, exec.requests[0])
}

func TestServer_History(t *testing.T) {
	exec := &fakeExecutor{out: []modelversion.ModelVersion{}}
	rec := do(newTestServer(exec, nil), http.MethodGet, "/api/v1/tiles/amazon/22MBU/models", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pipeline.GetHistoryRequest{Region: "amazon", TileID: "22MBU"}, exec.requests[0])
}

func TestServer_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", errors.Wrap(errors.ErrNotFound, "version"), http.StatusNotFound},
		{"integrity", errors.Wrap(errors.ErrDataIntegrity, "metadata"), http.StatusBadRequest},
		{"transient", errors.Transient(errors.New("s3 down"), "read"), http.StatusServiceUnavailable},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(newTestServer(&fakeExecutor{err: tt.err}, nil), http.MethodGet, "/api/v1/tiles/r/t/models", "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), "error")
		})
	}
}

func TestServer_Assess(t *testing.T) {
	exec := &fakeExecutor{}
	h := newTestServer(exec, nil)

	rec := do(h, http.MethodPost, "/api/v1/assessments", `{"outcomes":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/api/v1/assessments", `{"bogus":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestServer_EnqueueScene(t *testing.T) {
	rec := do(newTestServer(&fakeExecutor{}, nil), http.MethodPost, "/api/v1/scenes", `{"scene_id":"S2A_1"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	q := &fakeQueue{enabled: true}
	h := newTestServer(&fakeExecutor{}, q)

	rec = do(h, http.MethodPost, "/api/v1/scenes", `{"scene_id":"S2A_1","region":"amazon","tile_id":"22MBU"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"S2A_1@amazon/22MBU"}, q.scenes)

	rec = do(h, http.MethodPost, "/api/v1/scenes", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Probes(t *testing.T) {
	h := newTestServer(&fakeExecutor{}, nil)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health/live", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/health/ready", "").Code)

	rec := do(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service":"forestwatch"`)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/unknown", "").Code)
}
