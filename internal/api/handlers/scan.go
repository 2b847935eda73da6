package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/results"
	"github.com/anstrom/certsweep/internal/services"
	"github.com/anstrom/certsweep/internal/sweep"
)

// ScanService is the part of services.ScanService the handlers use.
type ScanService interface {
	PreviewTargets(spec string) ([]string, error)
	Start(req services.StartRequest) (*services.StartResponse, error)
	Current() (sweep.Snapshot, bool)
	Cancel() bool
	Results(order results.Order, query string) ([]results.EnrichedResult, error)
}

var _ ScanService = (*services.ScanService)(nil)

// ScanHandler serves target previews and the sweep lifecycle.
type ScanHandler struct {
	service   ScanService
	logger    *logging.Logger
	metrics   metrics.MetricsRegistry
	validator *validator.Validate
}

// NewScanHandler creates a new scan handler.
func NewScanHandler(service ScanService, logger *logging.Logger, metricsRegistry metrics.MetricsRegistry) *ScanHandler {
	return &ScanHandler{
		service:   service,
		logger:    logger.WithFields("handler", "scan"),
		metrics:   metricsRegistry,
		validator: validator.New(),
	}
}

// StartScanRequest is the body of POST /scans.
type StartScanRequest struct {
	Range       string `json:"range" validate:"required,max=64"`
	Port        string `json:"port,omitempty" validate:"max=16"`
	Concurrency int    `json:"concurrency,omitempty" validate:"gte=0,lte=1024"`
}

// TargetsResponse is the body of GET /targets.
type TargetsResponse struct {
	Range   string   `json:"range"`
	Total   int      `json:"total"`
	Targets []string `json:"targets"`
}

// CancelResponse is the body of DELETE /scans/current.
type CancelResponse struct {
	ID              string `json:"id"`
	CancelRequested bool   `json:"cancel_requested"`
	Active          bool   `json:"active"`
}

// ResultsResponse is the body of GET /scans/current/results.
type ResultsResponse struct {
	ID      string                   `json:"id"`
	Order   results.Order            `json:"order"`
	Query   string                   `json:"query,omitempty"`
	Count   int                      `json:"count"`
	Results []results.EnrichedResult `json:"results"`
}

// PreviewTargets expands ?range= without probing anything.
func (h *ScanHandler) PreviewTargets(w http.ResponseWriter, r *http.Request) {
	spec := r.URL.Query().Get("range")
	if strings.TrimSpace(spec) == "" {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("range query parameter is required"))
		return
	}

	list, err := h.service.PreviewTargets(spec)
	if err != nil {
		writeError(w, r, statusForError(err), err)
		return
	}

	writeJSON(w, r, http.StatusOK, TargetsResponse{Range: spec, Total: len(list), Targets: list})
}

// StartScan launches a sweep and returns immediately with 202.
func (h *ScanHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("validation failed: %w", err))
		return
	}

	resp, err := h.service.Start(services.StartRequest{
		Range:       req.Range,
		Port:        req.Port,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		status := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("Failed to start sweep", "error", err)
		}
		writeError(w, r, status, err)
		return
	}

	h.logger.Info("Sweep accepted", "sweep_id", resp.ID, "total", resp.Total, "port", resp.Port)
	if h.metrics != nil {
		h.metrics.Counter("api_sweeps_started_total", nil)
	}
	writeJSON(w, r, http.StatusAccepted, resp)
}

// GetCurrent returns the snapshot of the latest sweep.
func (h *ScanHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.service.Current()
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("no sweep has been started"))
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// CancelCurrent requests cancellation and returns without waiting for the
// sweep to drain.
func (h *ScanHandler) CancelCurrent(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.service.Current()
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("no sweep has been started"))
		return
	}

	requested := h.service.Cancel()
	writeJSON(w, r, http.StatusAccepted, CancelResponse{
		ID:              snap.ID,
		CancelRequested: requested,
		Active:          snap.Active,
	})
}

// GetResults returns enriched rows of the latest sweep.
func (h *ScanHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.service.Current()
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Errorf("no sweep has been started"))
		return
	}

	order := results.ParseOrder(r.URL.Query().Get("order"))
	query := r.URL.Query().Get("q")

	rows, err := h.service.Results(order, query)
	if err != nil {
		writeError(w, r, statusForError(err), err)
		return
	}
	if rows == nil {
		rows = []results.EnrichedResult{}
	}

	writeJSON(w, r, http.StatusOK, ResultsResponse{
		ID:      snap.ID,
		Order:   order,
		Query:   query,
		Count:   len(rows),
		Results: rows,
	})
}
