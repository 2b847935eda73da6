// Package sweep runs a Prober over a target list with a fixed pool of
// workers. It streams classified hits and progress to a single consumer,
// supports cooperative cancellation and allows one active session per
// Orchestrator.
package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/certsweep/internal/config"
	"github.com/anstrom/certsweep/internal/errors"
	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/probe"
)

// Orchestrator starts sweeps and enforces the single active session rule.
type Orchestrator struct {
	prober   probe.Prober
	recorder metrics.SweepRecorder
	logger   *logging.Logger

	mu      sync.Mutex
	current *Session
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.SweepRecorder) Option {
	return func(o *Orchestrator) { o.recorder = recorder }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator around prober.
func New(prober probe.Prober, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		prober:   prober,
		recorder: metrics.MultiRecorder{},
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("sweep")
	return o
}

// Start launches a sweep of targets on port with at most concurrency probes
// in flight. A concurrency of zero or less selects config.AutoConcurrency.
//
// ctx bounds the whole session; cancelling it behaves like Session.Cancel.
// Pass a long-lived context, not a request-scoped one.
//
// Start fails with a CodeScanActive error while a previous session has not
// yet emitted its terminal summary.
func (o *Orchestrator) Start(ctx context.Context, targets []string, port, concurrency int) (*Session, error) {
	if len(targets) == 0 {
		return nil, errors.NewScanError(errors.CodeValidation, "no targets to probe")
	}
	if port < 1 || port > 65535 {
		return nil, errors.NewScanError(errors.CodeValidation, "port must be between 1 and 65535").
			WithContext("port", port)
	}
	if concurrency <= 0 {
		concurrency = config.AutoConcurrency()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil && o.current.IsActive() {
		return nil, errors.ErrScanActive(o.current.ID)
	}

	s := newSession(ctx, uuid.NewString(), targets, port, concurrency)
	s.prober = o.prober
	s.recorder = o.recorder
	s.logger = o.logger.WithSweep(s.ID)
	o.current = s

	s.logger.Info("Sweep started",
		"targets", len(targets),
		"port", port,
		"concurrency", concurrency)
	s.recorder.SweepStarted()

	go s.run()
	return s, nil
}

// Current returns the most recent session, active or finished, or nil.
func (o *Orchestrator) Current() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// IsActive reports whether a session is still running or draining.
func (o *Orchestrator) IsActive() bool {
	s := o.Current()
	return s != nil && s.IsActive()
}

// Cancel requests cancellation of the current session, if any. It does not wait.
func (o *Orchestrator) Cancel() bool {
	s := o.Current()
	if s == nil || !s.IsActive() {
		return false
	}
	s.Cancel()
	return true
}

func elapsedMillis(d time.Duration) int64 {
	return d.Milliseconds()
}
