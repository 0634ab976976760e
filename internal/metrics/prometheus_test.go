package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordChange(t *testing.T) {
	before := testutil.ToFloat64(ChangeDetections.WithLabelValues("success"))
	noData := testutil.ToFloat64(ChangeDetections.WithLabelValues("no_data"))
	failed := testutil.ToFloat64(ChangeDetections.WithLabelValues("error"))

	RecordChange("amazon", "22MBU", 12.5, false, nil)
	RecordChange("amazon", "22MBU", 99, true, nil)
	RecordChange("amazon", "22MBU", 99, false, errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(ChangeDetections.WithLabelValues("success")))
	assert.Equal(t, noData+1, testutil.ToFloat64(ChangeDetections.WithLabelValues("no_data")))
	assert.Equal(t, failed+1, testutil.ToFloat64(ChangeDetections.WithLabelValues("error")))
	assert.Equal(t, 12.5, testutil.ToFloat64(ChangePercentage.WithLabelValues("amazon", "22MBU")),
		"only successful runs move the gauge")
}

func TestRecordRegistry_OutcomeOverridesError(t *testing.T) {
	absent := testutil.ToFloat64(RegistryOperations.WithLabelValues("latest", "absent"))
	failed := testutil.ToFloat64(RegistryOperations.WithLabelValues("save", "error"))

	RecordRegistry("latest", "absent", errors.New("not found"))
	RecordRegistry("save", "", errors.New("disk full"))

	assert.Equal(t, absent+1, testutil.ToFloat64(RegistryOperations.WithLabelValues("latest", "absent")))
	assert.Equal(t, failed+1, testutil.ToFloat64(RegistryOperations.WithLabelValues("save", "error")))
}

func TestRecordWorkerExecution(t *testing.T) {
	before := testutil.ToFloat64(WorkerExecutions.WithLabelValues("performance_review", "success"))

	RecordWorkerExecution("performance_review", 2*time.Second, nil)

	assert.Equal(t, before+1, testutil.ToFloat64(WorkerExecutions.WithLabelValues("performance_review", "success")))
	assert.Greater(t, testutil.ToFloat64(WorkerLastRun.WithLabelValues("performance_review")), 0.0)
}

func TestRecordPerformance(t *testing.T) {
	RecordPerformance("congo", "33NTF", 0.82, 2)

	assert.Equal(t, 0.82, testutil.ToFloat64(ModelConfidence.WithLabelValues("congo", "33NTF")))
	assert.Equal(t, 2.0, testutil.ToFloat64(PerformanceAnomalies.WithLabelValues("congo", "33NTF")))
}

func TestHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
