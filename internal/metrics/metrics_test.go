package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New("test", reg)

	m.IncJobsSubmitted()
	m.IncJobsSubmitted()
	m.IncJobsFinished("completed")
	m.IncLinesSent()
	m.IncChecksumMismatches()
	m.IncAckTimeouts()
	m.ObserveStage("edges", 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsSubmitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LinesSent))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChecksumMismatches))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AckTimeouts))

	rec := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_stage_duration_seconds"))
}
