// Package services provides the business logic shared by the API, the
// scheduler and the CLI. ScanService owns the sweep orchestrator, enriches
// classified hits as they arrive and forwards session events to a publisher.
package services

import (
	"context"
	"sync"

	"github.com/anstrom/certsweep/internal/errors"
	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/results"
	"github.com/anstrom/certsweep/internal/sweep"
	"github.com/anstrom/certsweep/internal/targets"
)

// Publisher receives live session events. Implementations must not block.
type Publisher interface {
	PublishProgress(sessionID string, progress sweep.Progress)
	PublishResult(sessionID string, result results.EnrichedResult)
	PublishTerminal(summary sweep.Summary)
}

// StartRequest describes a sweep as entered by an operator.
type StartRequest struct {
	Range       string
	Port        string
	Concurrency int
}

// StartResponse describes an accepted sweep.
type StartResponse struct {
	ID          string   `json:"id"`
	Total       int      `json:"total"`
	Port        int      `json:"port"`
	Concurrency int      `json:"concurrency"`
	Warnings    []string `json:"warnings,omitempty"`

	Session *sweep.Session `json:"-"`
}

// ScanService runs at most one sweep at a time.
type ScanService struct {
	baseCtx      context.Context
	orchestrator *sweep.Orchestrator
	lookup       results.Lookup
	logger       *logging.Logger

	mu        sync.RWMutex
	publisher Publisher
	sessionID string
	enriched  []results.EnrichedResult
	pumpDone  chan struct{}
}

// NewScanService creates a service. Sessions live as long as ctx; lookup may
// be nil.
func NewScanService(ctx context.Context, orchestrator *sweep.Orchestrator, lookup results.Lookup) *ScanService {
	return &ScanService{
		baseCtx:      ctx,
		orchestrator: orchestrator,
		lookup:       lookup,
		logger:       logging.Default().WithComponent("scan_service"),
	}
}

// SetPublisher attaches the live event sink.
func (s *ScanService) SetPublisher(publisher Publisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = publisher
}

// PreviewTargets expands a range without scanning it.
func (s *ScanService) PreviewTargets(spec string) ([]string, error) {
	return targets.ParseTargets(spec)
}

// Start parses the request and launches a sweep. An invalid port is not
// fatal: the sweep runs on the default port and the warning is returned.
func (s *ScanService) Start(req StartRequest) (*StartResponse, error) {
	list, err := targets.ParseTargets(req.Range)
	if err != nil {
		return nil, err
	}

	var warnings []string
	port, err := targets.ParsePort(req.Port)
	if err != nil {
		if !errors.IsConfigWarning(err) {
			return nil, err
		}
		s.logger.Warn("Invalid port, using default", "input", req.Port, "port", port)
		warnings = append(warnings, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The previous session still owns the result set until its pump exits.
	if s.drainingLocked() {
		return nil, errors.ErrScanActive(s.sessionID)
	}

	session, err := s.orchestrator.Start(s.baseCtx, list, port, req.Concurrency)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	s.sessionID = session.ID
	s.enriched = nil
	s.pumpDone = done

	go s.pump(session, done)

	return &StartResponse{
		ID:          session.ID,
		Total:       session.Total(),
		Port:        session.Port,
		Concurrency: session.Concurrency,
		Warnings:    warnings,
		Session:     session,
	}, nil
}

// pump is the single consumer of a session's streams.
func (s *ScanService) pump(session *sweep.Session, done chan struct{}) {
	defer close(done)

	hits, progress := session.Results(), session.Progress()
	for hits != nil || progress != nil {
		select {
		case hit, ok := <-hits:
			if !ok {
				hits = nil
				continue
			}
			row := results.Enrich(s.baseCtx, hit, s.lookup)
			s.mu.Lock()
			if s.sessionID == session.ID {
				s.enriched = append(s.enriched, row)
			}
			s.mu.Unlock()
			if p := s.currentPublisher(); p != nil {
				p.PublishResult(session.ID, row)
			}
		case update, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if p := s.currentPublisher(); p != nil {
				p.PublishProgress(session.ID, update)
			}
		}
	}

	summary := <-session.Done()
	if p := s.currentPublisher(); p != nil {
		p.PublishTerminal(summary)
	}
}

func (s *ScanService) currentPublisher() Publisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.publisher
}

// Current returns a snapshot of the most recent session.
func (s *ScanService) Current() (sweep.Snapshot, bool) {
	session := s.orchestrator.Current()
	if session == nil {
		return sweep.Snapshot{}, false
	}
	return session.Snapshot(), true
}

// IsActive reports whether a sweep is running or its hits are still being
// enriched and published.
func (s *ScanService) IsActive() bool {
	if s.orchestrator.IsActive() {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drainingLocked()
}

func (s *ScanService) drainingLocked() bool {
	if s.pumpDone == nil {
		return false
	}
	select {
	case <-s.pumpDone:
		return false
	default:
		return true
	}
}

// Cancel requests cancellation of the running sweep without waiting.
func (s *ScanService) Cancel() bool {
	return s.orchestrator.Cancel()
}

// Wait blocks until the current session has been fully delivered to the
// publisher, or ctx ends.
func (s *ScanService) Wait(ctx context.Context) (sweep.Summary, error) {
	s.mu.RLock()
	done := s.pumpDone
	s.mu.RUnlock()

	session := s.orchestrator.Current()
	if done == nil || session == nil {
		return sweep.Summary{}, errors.NewScanError(errors.CodeNotFound, "no sweep has been started")
	}

	select {
	case <-done:
		return session.Wait(), nil
	case <-ctx.Done():
		return sweep.Summary{}, ctx.Err()
	}
}

// Results returns the enriched rows of the current session, filtered by query
// and sorted by address.
func (s *ScanService) Results(order results.Order, query string) ([]results.EnrichedResult, error) {
	s.mu.RLock()
	if s.sessionID == "" {
		s.mu.RUnlock()
		return nil, errors.NewScanError(errors.CodeNotFound, "no sweep has been started")
	}
	rows := append([]results.EnrichedResult(nil), s.enriched...)
	s.mu.RUnlock()

	rows = results.Filter(rows, query)
	results.Sort(rows, order)
	return rows, nil
}
