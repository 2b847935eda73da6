package metrics

import "time"

// SweepRecorder receives sweep lifecycle measurements from the orchestrator.
type SweepRecorder interface {
	ProbeCompleted(outcome string, duration time.Duration)
	SweepStarted()
	SweepFinished(status string, duration time.Duration, classified int)
}

var (
	_ SweepRecorder = (*PrometheusMetrics)(nil)
	_ SweepRecorder = RegistryRecorder{}
	_ SweepRecorder = MultiRecorder{}
)

// RegistryRecorder mirrors sweep measurements into a MetricsRegistry.
type RegistryRecorder struct {
	Registry MetricsRegistry
}

// ProbeCompleted counts a probe by outcome.
func (r RegistryRecorder) ProbeCompleted(outcome string, duration time.Duration) {
	r.Registry.Counter(MetricProbesTotal, Labels{LabelOutcome: outcome})
	r.Registry.Histogram(MetricProbeDuration, duration.Seconds(), nil)
}

// SweepStarted flags a running sweep.
func (r RegistryRecorder) SweepStarted() {
	r.Registry.Gauge(MetricSweepActive, 1, nil)
}

// SweepFinished counts the sweep by status.
func (r RegistryRecorder) SweepFinished(status string, duration time.Duration, _ int) {
	r.Registry.Gauge(MetricSweepActive, 0, nil)
	r.Registry.Counter(MetricSweepsTotal, Labels{LabelStatus: status})
	r.Registry.Histogram(MetricSweepDuration, duration.Seconds(), nil)
}

// MultiRecorder fans out to several recorders.
type MultiRecorder []SweepRecorder

func (m MultiRecorder) ProbeCompleted(outcome string, duration time.Duration) {
	for _, r := range m {
		r.ProbeCompleted(outcome, duration)
	}
}

func (m MultiRecorder) SweepStarted() {
	for _, r := range m {
		r.SweepStarted()
	}
}

func (m MultiRecorder) SweepFinished(status string, duration time.Duration, classified int) {
	for _, r := range m {
		r.SweepFinished(status, duration, classified)
	}
}
