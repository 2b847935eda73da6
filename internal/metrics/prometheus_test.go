package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSweepMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.SweepStarted()
	assert.InDelta(t, 1, testutil.ToFloat64(pm.sweepActive), 0)

	pm.ProbeCompleted("classified", 300*time.Millisecond)
	pm.ProbeCompleted("classified", 200*time.Millisecond)
	pm.ProbeCompleted("unreachable", 500*time.Millisecond)
	pm.SweepFinished("completed", 3*time.Second, 2)

	assert.InDelta(t, 2, testutil.ToFloat64(pm.probesTotal.WithLabelValues("classified")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.probesTotal.WithLabelValues("unreachable")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.sweepsTotal.WithLabelValues("completed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(pm.classifiedTotal), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(pm.sweepActive), 0)
}

func TestPrometheusAPIMetrics(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.IncrementHTTPRequests("GET", "/api/v1/health", "200")
	pm.RecordHTTPDuration("GET", "/api/v1/health", 10*time.Millisecond)
	pm.SetWebSocketClients(3)
	pm.LookupCompleted("static", "hit")

	assert.InDelta(t, 1, testutil.ToFloat64(pm.httpRequests.WithLabelValues("GET", "/api/v1/health", "200")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(pm.websocketClients), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pm.lookupsTotal.WithLabelValues("static", "hit")), 0)
}

func TestPrometheusHandler(t *testing.T) {
	pm := NewPrometheusMetrics()
	pm.ProbeCompleted("inconclusive", time.Millisecond)

	srv := httptest.NewServer(pm.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `certsweep_probe_total{outcome="inconclusive"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestPrometheusPeriodicUpdates(t *testing.T) {
	pm := NewPrometheusMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pm.StartPeriodicUpdates(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return !pm.GetLastUpdate().IsZero() }, time.Second, 5*time.Millisecond)
	assert.Positive(t, testutil.ToFloat64(pm.goroutines))
	cancel()
	<-done
}

func TestGetGlobalMetricsSingleton(t *testing.T) {
	assert.Same(t, GetGlobalMetrics(), GetGlobalMetrics())
}
