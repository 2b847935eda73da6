package sweep

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/probe"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Hit is emitted for every classified target, in arrival order.
type Hit struct {
	Address    string    `json:"address"`
	Port       int       `json:"port"`
	Classified bool      `json:"classified"`
	Reason     string    `json:"reason,omitempty"`
	FoundAt    time.Time `json:"found_at"`
}

// Progress is emitted after every completed probe.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Summary is the terminal signal of a session, emitted exactly once.
type Summary struct {
	SessionID       string        `json:"session_id"`
	Status          Status        `json:"status"`
	ClassifiedCount int           `json:"classified_count"`
	Completed       int           `json:"completed"`
	Total           int           `json:"total"`
	Elapsed         time.Duration `json:"-"`
	ElapsedMs       int64         `json:"elapsed_ms"`
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Active      bool      `json:"active"`
	Port        int       `json:"port"`
	Concurrency int       `json:"concurrency"`
	Dispatched  int       `json:"dispatched"`
	Completed   int       `json:"completed"`
	Total       int       `json:"total"`
	Classified  int       `json:"classified"`
	StartedAt   time.Time `json:"started_at"`
	ElapsedMs   int64     `json:"elapsed_ms"`
}

// Session is one sweep. It is owned by the Orchestrator that created it.
type Session struct {
	ID          string
	Port        int
	Concurrency int
	StartedAt   time.Time

	targets []string

	prober   probe.Prober
	recorder metrics.SweepRecorder
	logger   *logging.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	active    atomic.Bool

	dispatched atomic.Int64
	completed  atomic.Int64
	classified atomic.Int64

	// emitMu keeps the completed counter and the progress stream in step
	// so progress values are strictly increasing.
	emitMu   sync.Mutex
	results  chan Hit
	progress chan Progress
	done     chan Summary
	finished chan struct{}

	mu      sync.RWMutex
	hits    []Hit
	summary *Summary
}

func newSession(parent context.Context, id string, targets []string, port, concurrency int) *Session {
	ctx, cancel := context.WithCancel(parent)
	total := len(targets)

	s := &Session{
		ID:          id,
		Port:        port,
		Concurrency: concurrency,
		StartedAt:   time.Now(),
		targets:     append([]string(nil), targets...),
		ctx:         ctx,
		cancel:      cancel,
		// Buffered to the target count so workers never block on a slow consumer.
		results:  make(chan Hit, total),
		progress: make(chan Progress, total),
		done:     make(chan Summary, 1),
		finished: make(chan struct{}),
	}
	s.active.Store(true)
	return s
}

// Results streams classified hits. Closed before the terminal summary.
func (s *Session) Results() <-chan Hit { return s.results }

// Progress streams completed/total after every probe. Closed before the terminal summary.
func (s *Session) Progress() <-chan Progress { return s.progress }

// Done delivers the terminal summary once and is then closed.
func (s *Session) Done() <-chan Summary { return s.done }

// Total is the number of targets in the session.
func (s *Session) Total() int { return len(s.targets) }

// Targets returns a copy of the target list.
func (s *Session) Targets() []string { return append([]string(nil), s.targets...) }

// IsActive reports whether the session has not yet emitted its summary.
func (s *Session) IsActive() bool { return s.active.Load() }

// Cancel requests cooperative cancellation and returns immediately. Targets
// not yet dispatched are skipped and in-flight probes are interrupted where
// the network stack allows.
func (s *Session) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.logger.Info("Sweep cancellation requested",
			"completed", s.completed.Load(), "total", len(s.targets))
	}
	s.cancel()
}

// Wait blocks until the session has finished and returns its summary.
func (s *Session) Wait() Summary {
	<-s.finished
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.summary
}

// Summary returns the terminal summary once the session has finished.
func (s *Session) Summary() (Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return Summary{}, false
	}
	return *s.summary, true
}

// Hits returns the classified hits seen so far, in arrival order.
func (s *Session) Hits() []Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Hit(nil), s.hits...)
}

// Snapshot returns the current counters.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:          s.ID,
		Status:      StatusRunning,
		Active:      s.IsActive(),
		Port:        s.Port,
		Concurrency: s.Concurrency,
		Dispatched:  int(s.dispatched.Load()),
		Completed:   int(s.completed.Load()),
		Total:       len(s.targets),
		Classified:  int(s.classified.Load()),
		StartedAt:   s.StartedAt,
		ElapsedMs:   elapsedMillis(time.Since(s.StartedAt)),
	}
	if summary, ok := s.Summary(); ok {
		snap.Status = summary.Status
		snap.ElapsedMs = summary.ElapsedMs
	}
	return snap
}

func (s *Session) stopping() bool {
	return s.cancelled.Load() || s.ctx.Err() != nil
}

func (s *Session) run() {
	jobs := make(chan string)

	var wg sync.WaitGroup
	workers := min(s.Concurrency, len(s.targets))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go s.worker(&wg, jobs)
	}

	s.dispatch(jobs)
	wg.Wait()
	s.finish()
}

func (s *Session) dispatch(jobs chan<- string) {
	defer close(jobs)

	for _, target := range s.targets {
		if s.stopping() {
			return
		}
		select {
		case jobs <- target:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) worker(wg *sync.WaitGroup, jobs <-chan string) {
	defer wg.Done()

	for target := range jobs {
		if s.stopping() {
			continue
		}
		s.dispatched.Add(1)
		s.record(s.prober.Probe(s.ctx, target, s.Port))
	}
}

func (s *Session) record(outcome probe.Outcome) {
	s.recorder.ProbeCompleted(outcome.Kind.String(), outcome.Latency)
	if outcome.Err != nil {
		s.logger.Debug("Probe folded",
			"target", outcome.Address,
			"outcome", outcome.Kind.String(),
			"error", outcome.Err)
	}

	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	if outcome.Kind == probe.KindClassified {
		hit := Hit{
			Address:    outcome.Address,
			Port:       outcome.Port,
			Classified: true,
			Reason:     outcome.Reason,
			FoundAt:    time.Now().UTC(),
		}
		s.mu.Lock()
		s.hits = append(s.hits, hit)
		s.mu.Unlock()
		s.classified.Add(1)
		s.results <- hit
	}

	completed := s.completed.Add(1)
	s.progress <- Progress{Completed: int(completed), Total: len(s.targets)}
}

func (s *Session) finish() {
	status := StatusCompleted
	if s.stopping() {
		status = StatusCancelled
	}
	elapsed := time.Since(s.StartedAt)

	summary := Summary{
		SessionID:       s.ID,
		Status:          status,
		ClassifiedCount: int(s.classified.Load()),
		Completed:       int(s.completed.Load()),
		Total:           len(s.targets),
		Elapsed:         elapsed,
		ElapsedMs:       elapsedMillis(elapsed),
	}

	s.mu.Lock()
	s.summary = &summary
	s.mu.Unlock()

	close(s.results)
	close(s.progress)
	s.cancel()

	s.recorder.SweepFinished(string(status), elapsed, summary.ClassifiedCount)
	s.logger.Info("Sweep finished",
		"status", status,
		"classified", summary.ClassifiedCount,
		"completed", summary.Completed,
		"total", summary.Total,
		"elapsed_ms", summary.ElapsedMs)

	s.active.Store(false)
	s.done <- summary
	close(s.done)
	close(s.finished)
}
