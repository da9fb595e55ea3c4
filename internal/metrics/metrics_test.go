package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(jobsStartedTotal.WithLabelValues("download", "ok"))
	IncJobStarted("download", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsStartedTotal.WithLabelValues("download", "ok")))

	IncJobStarted("", "")
	assert.GreaterOrEqual(t, testutil.ToFloat64(jobsStartedTotal.WithLabelValues("unknown", "unknown")), 1.0)

	AddDanglingDeleted("cache", 0)
	AddDanglingDeleted("cache", 3)
	assert.GreaterOrEqual(t, testutil.ToFloat64(danglingDeletedTotal.WithLabelValues("cache")), 3.0)
}

func TestExposition(t *testing.T) {
	SetLiveViewers(2)
	IncCleanupCandidate("zombie")

	rec := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "m3u_dvr_live_viewers 2")
	assert.Contains(t, string(body), `m3u_dvr_cleanup_candidates_total{reason="zombie"}`)
}
