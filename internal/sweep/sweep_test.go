package sweep

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/certsweep/internal/errors"
	"github.com/anstrom/certsweep/internal/probe"
	"github.com/anstrom/certsweep/internal/probe/mocks"
)

type proberFunc func(ctx context.Context, address string, port int) probe.Outcome

func (f proberFunc) Probe(ctx context.Context, address string, port int) probe.Outcome {
	return f(ctx, address, port)
}

func outcome(address string, port int, kind probe.Kind) probe.Outcome {
	return probe.Outcome{
		Address:    address,
		Port:       port,
		Kind:       kind,
		Classified: kind == probe.KindClassified,
	}
}

// blockingProber holds every probe until its context is cancelled.
func blockingProber() proberFunc {
	return func(ctx context.Context, address string, port int) probe.Outcome {
		<-ctx.Done()
		return outcome(address, port, probe.KindInconclusive)
	}
}

func hostRange(prefix string, from, to int) []string {
	var out []string
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s.%d", prefix, i))
	}
	return out
}

type collected struct {
	hits     []Hit
	progress []Progress
	summary  Summary
}

// drain consumes all three streams the way a single consumer would.
func drain(t *testing.T, s *Session) collected {
	t.Helper()
	var c collected
	results, progress := s.Results(), s.Progress()
	deadline := time.After(5 * time.Second)

	for results != nil || progress != nil {
		select {
		case hit, ok := <-results:
			if !ok {
				results = nil
				continue
			}
			c.hits = append(c.hits, hit)
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			c.progress = append(c.progress, p)
		case <-deadline:
			t.Fatal("timed out draining session streams")
		}
	}

	select {
	case c.summary = <-s.Done():
	case <-deadline:
		t.Fatal("timed out waiting for summary")
	}
	return c
}

type countingRecorder struct {
	probes   atomic.Int64
	started  atomic.Int64
	finished atomic.Int64
	status   atomic.Value
}

func (r *countingRecorder) ProbeCompleted(string, time.Duration) { r.probes.Add(1) }
func (r *countingRecorder) SweepStarted()                       { r.started.Add(1) }
func (r *countingRecorder) SweepFinished(status string, _ time.Duration, _ int) {
	r.finished.Add(1)
	r.status.Store(status)
}

func TestStart_EmitsOnlyClassifiedTargets(t *testing.T) {
	prober := proberFunc(func(_ context.Context, address string, port int) probe.Outcome {
		if address == "192.0.2.10" {
			return outcome(address, port, probe.KindClassified)
		}
		return outcome(address, port, probe.KindUnreachable)
	})
	rec := &countingRecorder{}
	o := New(prober, WithRecorder(rec))

	s, err := o.Start(context.Background(), hostRange("192.0.2", 1, 20), 443, 4)
	require.NoError(t, err)

	got := drain(t, s)
	require.Len(t, got.hits, 1)
	assert.Equal(t, "192.0.2.10", got.hits[0].Address)
	assert.Equal(t, 443, got.hits[0].Port)
	assert.True(t, got.hits[0].Classified)

	assert.Equal(t, StatusCompleted, got.summary.Status)
	assert.Equal(t, 1, got.summary.ClassifiedCount)
	assert.Equal(t, 20, got.summary.Completed)
	assert.Equal(t, 20, got.summary.Total)
	assert.Equal(t, s.ID, got.summary.SessionID)

	assert.Equal(t, int64(20), rec.probes.Load())
	assert.Equal(t, int64(1), rec.started.Load())
	assert.Equal(t, int64(1), rec.finished.Load())
	assert.Equal(t, "completed", rec.status.Load())
	assert.Len(t, s.Hits(), 1)
	assert.False(t, s.IsActive())
}

func TestStart_ProgressIsStrictlyIncreasing(t *testing.T) {
	prober := proberFunc(func(_ context.Context, address string, port int) probe.Outcome {
		return outcome(address, port, probe.KindConnectedPlain)
	})
	o := New(prober)

	targets := hostRange("198.51.100", 1, 254)
	s, err := o.Start(context.Background(), targets, 8443, 16)
	require.NoError(t, err)

	got := drain(t, s)
	require.Len(t, got.progress, len(targets))
	for i, p := range got.progress {
		assert.Equal(t, i+1, p.Completed)
		assert.Equal(t, len(targets), p.Total)
	}
	assert.Empty(t, got.hits)
	assert.Equal(t, StatusCompleted, got.summary.Status)
}

func TestStart_BoundsInFlightProbes(t *testing.T) {
	const limit = 4
	var inFlight, peak atomic.Int64

	prober := proberFunc(func(_ context.Context, address string, port int) probe.Outcome {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return outcome(address, port, probe.KindUnreachable)
	})
	o := New(prober)

	s, err := o.Start(context.Background(), hostRange("203.0.113", 1, 60), 443, limit)
	require.NoError(t, err)

	summary := s.Wait()
	assert.Equal(t, 60, summary.Completed)
	assert.LessOrEqual(t, peak.Load(), int64(limit))
	assert.Positive(t, peak.Load())
}

func TestStart_FewerTargetsThanWorkers(t *testing.T) {
	prober := proberFunc(func(_ context.Context, address string, port int) probe.Outcome {
		return outcome(address, port, probe.KindClassified)
	})
	o := New(prober)

	s, err := o.Start(context.Background(), []string{"192.0.2.7"}, 443, 64)
	require.NoError(t, err)

	got := drain(t, s)
	assert.Len(t, got.hits, 1)
	assert.Equal(t, 1, got.summary.Completed)
}

func TestCancel_StopsDispatchAndReportsCancelled(t *testing.T) {
	o := New(blockingProber())

	s, err := o.Start(context.Background(), hostRange("192.0.2", 1, 50), 443, 2)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Snapshot().Dispatched == 2
	}, 2*time.Second, 5*time.Millisecond)

	s.Cancel()
	s.Cancel() // idempotent

	got := drain(t, s)
	assert.Equal(t, StatusCancelled, got.summary.Status)
	assert.LessOrEqual(t, got.summary.Completed, got.summary.Total)
	assert.Less(t, got.summary.Completed, 50)
	assert.Equal(t, 50, got.summary.Total)
	assert.Equal(t, got.summary.Completed, len(got.progress))
}

func TestCancel_ViaParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := New(blockingProber())

	s, err := o.Start(ctx, hostRange("192.0.2", 1, 10), 443, 2)
	require.NoError(t, err)

	cancel()
	summary := s.Wait()
	assert.Equal(t, StatusCancelled, summary.Status)
}

func TestOrchestratorCancel(t *testing.T) {
	o := New(blockingProber())
	assert.False(t, o.Cancel())

	s, err := o.Start(context.Background(), hostRange("192.0.2", 1, 4), 443, 4)
	require.NoError(t, err)
	assert.True(t, o.IsActive())
	assert.True(t, o.Cancel())

	assert.Equal(t, StatusCancelled, s.Wait().Status)
	assert.False(t, o.IsActive())
	assert.False(t, o.Cancel())
}

func TestStart_RejectsSecondActiveSession(t *testing.T) {
	o := New(blockingProber())

	first, err := o.Start(context.Background(), hostRange("192.0.2", 1, 4), 443, 2)
	require.NoError(t, err)

	_, err = o.Start(context.Background(), hostRange("192.0.2", 5, 8), 443, 2)
	require.Error(t, err)
	assert.True(t, errors.IsMisuse(err))
	assert.True(t, errors.IsCode(err, errors.CodeScanActive))
	assert.Same(t, first, o.Current())

	first.Cancel()
	first.Wait()

	second, err := o.Start(context.Background(), hostRange("192.0.2", 5, 8), 443, 2)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	second.Cancel()
	second.Wait()
}

func TestDone_DeliversExactlyOnce(t *testing.T) {
	prober := proberFunc(func(_ context.Context, address string, port int) probe.Outcome {
		return outcome(address, port, probe.KindUnreachable)
	})
	o := New(prober)

	s, err := o.Start(context.Background(), hostRange("192.0.2", 1, 3), 443, 2)
	require.NoError(t, err)

	summary, ok := <-s.Done()
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, summary.Status)

	_, ok = <-s.Done()
	assert.False(t, ok)

	stored, ok := s.Summary()
	require.True(t, ok)
	assert.Equal(t, summary, stored)
	assert.Equal(t, summary, s.Wait())
}

func TestStart_Validation(t *testing.T) {
	o := New(blockingProber())

	_, err := o.Start(context.Background(), nil, 443, 1)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	_, err = o.Start(context.Background(), []string{"192.0.2.1"}, 0, 1)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	_, err = o.Start(context.Background(), []string{"192.0.2.1"}, 70000, 1)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	assert.Nil(t, o.Current())
}

func TestStart_DefaultConcurrency(t *testing.T) {
	prober := proberFunc(func(_ context.Context, address string, port int) probe.Outcome {
		return outcome(address, port, probe.KindUnreachable)
	})
	o := New(prober)

	s, err := o.Start(context.Background(), []string{"192.0.2.1"}, 443, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Concurrency, 8)
	s.Wait()
}

func TestStart_ProbesEveryTargetOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockProber := mocks.NewMockProber(ctrl)

	targets := hostRange("10.0.0", 1, 5)
	for _, target := range targets {
		mockProber.EXPECT().
			Probe(gomock.Any(), target, 9443).
			Return(outcome(target, 9443, probe.KindInconclusive)).
			Times(1)
	}

	o := New(mockProber)
	s, err := o.Start(context.Background(), targets, 9443, 3)
	require.NoError(t, err)

	got := drain(t, s)
	assert.Empty(t, got.hits)
	assert.Equal(t, 5, got.summary.Completed)
}

func TestSnapshot(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	prober := proberFunc(func(ctx context.Context, address string, port int) probe.Outcome {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return outcome(address, port, probe.KindClassified)
	})
	o := New(prober)

	s, err := o.Start(context.Background(), hostRange("192.0.2", 1, 2), 443, 2)
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.Equal(t, s.ID, snap.ID)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.True(t, snap.Active)
	assert.Equal(t, 2, snap.Total)

	once.Do(func() { close(release) })
	s.Wait()

	snap = s.Snapshot()
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.False(t, snap.Active)
	assert.Equal(t, 2, snap.Completed)
	assert.Equal(t, 2, snap.Classified)
}
