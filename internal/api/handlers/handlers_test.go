package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/certsweep/internal/api/middleware"
	apierrors "github.com/anstrom/certsweep/internal/errors"
	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/metrics/mocks"
	"github.com/anstrom/certsweep/internal/probe"
	"github.com/anstrom/certsweep/internal/services"
	"github.com/anstrom/certsweep/internal/sweep"
)

func createTestLogger() *logging.Logger {
	return logging.NewWithWriter(logging.DefaultConfig(), &bytes.Buffer{})
}

// MockDB is a mock implementation of DatabasePinger.
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type stubProber struct {
	classified map[string]bool
	block      bool
}

func (p stubProber) Probe(ctx context.Context, address string, port int) probe.Outcome {
	if p.block {
		<-ctx.Done()
		return probe.Outcome{Address: address, Port: port, Kind: probe.KindInconclusive}
	}
	if p.classified[address] {
		return probe.Outcome{Address: address, Port: port, Kind: probe.KindClassified, Classified: true}
	}
	return probe.Outcome{Address: address, Port: port, Kind: probe.KindUnreachable}
}

func newTestRouter(t *testing.T, prober probe.Prober) (*mux.Router, *services.ScanService) {
	t.Helper()
	svc := services.NewScanService(context.Background(), sweep.New(prober), nil)
	h := NewScanHandler(svc, createTestLogger(), metrics.NewRegistry())

	router := mux.NewRouter()
	router.Use(middleware.RequestID())
	router.HandleFunc("/targets", h.PreviewTargets).Methods(http.MethodGet)
	router.HandleFunc("/scans", h.StartScan).Methods(http.MethodPost)
	router.HandleFunc("/scans/current", h.GetCurrent).Methods(http.MethodGet)
	router.HandleFunc("/scans/current", h.CancelCurrent).Methods(http.MethodDelete)
	router.HandleFunc("/scans/current/results", h.GetResults).Methods(http.MethodGet)
	return router, svc
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func waitIdle(t *testing.T, svc *services.ScanService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := svc.Wait(ctx)
	require.NoError(t, err)
}

func TestPreviewTargets(t *testing.T) {
	router, _ := newTestRouter(t, stubProber{})

	t.Run("expands range", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/targets?range=10.0.1.5-7", "")
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[TargetsResponse](t, rec)
		assert.Equal(t, 3, body.Total)
		assert.Equal(t, []string{"10.0.1.5", "10.0.1.6", "10.0.1.7"}, body.Targets)
	})

	t.Run("invalid range", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/targets?range=10.0.1.300", "")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decode[ErrorResponse](t, rec)
		assert.Equal(t, string(apierrors.CodeOctetRange), body.Code)
		assert.NotEmpty(t, body.RequestID)
	})

	t.Run("missing range", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/targets", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestScanLifecycle(t *testing.T) {
	router, svc := newTestRouter(t, stubProber{classified: map[string]bool{"192.0.2.10": true, "192.0.2.2": true}})

	rec := do(t, router, http.MethodGet, "/scans/current", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPost, "/scans", `{"range":"192.0.2.1-20","port":"abc","concurrency":4}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	started := decode[services.StartResponse](t, rec)
	assert.Equal(t, 20, started.Total)
	assert.Equal(t, 443, started.Port)
	assert.Len(t, started.Warnings, 1)

	waitIdle(t, svc)

	rec = do(t, router, http.MethodGet, "/scans/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[sweep.Snapshot](t, rec)
	assert.Equal(t, started.ID, snap.ID)
	assert.Equal(t, sweep.StatusCompleted, snap.Status)
	assert.Equal(t, 20, snap.Completed)
	assert.Equal(t, 2, snap.Classified)

	rec = do(t, router, http.MethodGet, "/scans/current/results?order=desc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rows := decode[ResultsResponse](t, rec)
	require.Equal(t, 2, rows.Count)
	assert.Equal(t, "192.0.2.10", rows.Results[0].Address)
	assert.Equal(t, "192.0.2.2", rows.Results[1].Address)
	assert.Equal(t, "https://192.0.2.10:443", rows.Results[0].URL)

	rec = do(t, router, http.MethodGet, "/scans/current/results?q=.2.10", "")
	rows = decode[ResultsResponse](t, rec)
	assert.Equal(t, 1, rows.Count)

	rec = do(t, router, http.MethodGet, "/scans/current/results?q=nomatch", "")
	rows = decode[ResultsResponse](t, rec)
	assert.Equal(t, 0, rows.Count)
	assert.NotNil(t, rows.Results)
}

func TestStartScan_Conflict(t *testing.T) {
	router, svc := newTestRouter(t, stubProber{block: true})

	rec := do(t, router, http.MethodPost, "/scans", `{"range":"10.0.0.1-4","concurrency":2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(t, router, http.MethodPost, "/scans", `{"range":"10.0.0.5"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(apierrors.CodeScanActive), decode[ErrorResponse](t, rec).Code)

	rec = do(t, router, http.MethodDelete, "/scans/current", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	cancelled := decode[CancelResponse](t, rec)
	assert.True(t, cancelled.CancelRequested)

	waitIdle(t, svc)

	rec = do(t, router, http.MethodGet, "/scans/current", "")
	snap := decode[sweep.Snapshot](t, rec)
	assert.Equal(t, sweep.StatusCancelled, snap.Status)
	assert.False(t, snap.Active)

	rec = do(t, router, http.MethodDelete, "/scans/current", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.False(t, decode[CancelResponse](t, rec).CancelRequested)
}

func TestStartScan_BadRequests(t *testing.T) {
	router, _ := newTestRouter(t, stubProber{})

	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"range":`, ""},
		{"unknown field", `{"range":"10.0.0.1","ports":"443"}`, ""},
		{"missing range", `{"port":"443"}`, ""},
		{"concurrency too high", `{"range":"10.0.0.1","concurrency":5000}`, ""},
		{"negative concurrency", `{"range":"10.0.0.1","concurrency":-1}`, ""},
		{"unsupported range", `{"range":"10.0.0.0/16"}`, string(apierrors.CodeInvalidRange)},
		{"octet out of range", `{"range":"10.0.0.256"}`, string(apierrors.CodeOctetRange)},
		{"inverted range", `{"range":"10.0.1.5-3"}`, string(apierrors.CodeInvalidRange)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/scans", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForError(apierrors.ErrUnsupportedRange("x")))
	assert.Equal(t, http.StatusBadRequest, statusForError(apierrors.NewScanError(apierrors.CodeValidation, "x")))
	assert.Equal(t, http.StatusConflict, statusForError(apierrors.ErrScanActive("id")))
	assert.Equal(t, http.StatusNotFound, statusForError(apierrors.NewScanError(apierrors.CodeNotFound, "x")))
	assert.Equal(t, http.StatusInternalServerError, statusForError(errors.New("boom")))
}

func TestHealthHandler(t *testing.T) {
	t.Run("healthy database", func(t *testing.T) {
		db := &MockDB{}
		db.On("Ping", mock.Anything).Return(nil)

		ctrl := gomock.NewController(t)
		registry := mocks.NewMockMetricsRegistry(ctrl)
		registry.EXPECT().Counter("api_health_checks_total",
			metrics.Labels{metrics.LabelStatus: StatusHealthy}).Times(1)

		h := NewHealthHandler(db, nil, createTestLogger(), registry)
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[HealthResponse](t, rec)
		assert.Equal(t, StatusHealthy, body.Status)
		assert.Equal(t, "ok", body.Checks["database"])
		db.AssertExpectations(t)
	})

	t.Run("failing database", func(t *testing.T) {
		db := &MockDB{}
		db.On("Ping", mock.Anything).Return(errors.New("connection refused"))

		h := NewHealthHandler(db, nil, createTestLogger(), nil)
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		body := decode[HealthResponse](t, rec)
		assert.Equal(t, StatusUnhealthy, body.Status)
		assert.Contains(t, body.Checks["database"], "connection refused")
	})

	t.Run("no database", func(t *testing.T) {
		h := NewHealthHandler(nil, nil, createTestLogger(), nil)
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, StatusNotConfigured, decode[HealthResponse](t, rec).Checks["database"])
	})
}

func TestLivenessVersionMetrics(t *testing.T) {
	registry := metrics.NewRegistry()
	registry.Counter(metrics.MetricProbesTotal, metrics.Labels{metrics.LabelOutcome: "classified"})
	h := NewHealthHandler(nil, nil, createTestLogger(), registry)

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/liveness", nil))
	assert.Equal(t, "alive", decode[LivenessResponse](t, rec).Status)

	SetBuildInfo("1.2.3", "abc123", "2024-01-01")
	rec = httptest.NewRecorder()
	h.Version(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	v := decode[VersionResponse](t, rec)
	assert.Equal(t, "1.2.3", v.Version)
	assert.Equal(t, "abc123", v.Commit)

	rec = httptest.NewRecorder()
	h.Metrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), metrics.MetricProbesTotal)
}
