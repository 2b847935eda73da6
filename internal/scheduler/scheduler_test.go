package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/certsweep/internal/config"
	apperrors "github.com/anstrom/certsweep/internal/errors"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/metrics/mocks"
	"github.com/anstrom/certsweep/internal/services"
)

type fakeStarter struct {
	mu       sync.Mutex
	requests []services.StartRequest
	resp     *services.StartResponse
	err      error
}

func (f *fakeStarter) Start(req services.StartRequest) (*services.StartResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func (f *fakeStarter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func testJob() config.ScheduleConfig {
	return config.ScheduleConfig{
		Enabled: true,
		Cron:    "*/15 * * * *",
		Range:   "192.168.1.0/24",
		Port:    "8443",
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.ScheduleConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*config.ScheduleConfig) {}},
		{name: "descriptor", mutate: func(j *config.ScheduleConfig) { j.Cron = "@hourly" }},
		{name: "bad cron", mutate: func(j *config.ScheduleConfig) { j.Cron = "every tuesday" }, wantErr: "cron"},
		{name: "six fields", mutate: func(j *config.ScheduleConfig) { j.Cron = "0 */5 * * * *" }, wantErr: "cron"},
		{name: "bad range", mutate: func(j *config.ScheduleConfig) { j.Range = "10.0.0.0/8" }, wantErr: "schedule.range"},
		{name: "empty range", mutate: func(j *config.ScheduleConfig) { j.Range = "" }, wantErr: "schedule.range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := testJob()
			tt.mutate(&job)
			s, err := NewScheduler(job, &fakeStarter{}, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, s.NextRun().After(time.Now()))
		})
	}
}

func TestRunOnce_Started(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockMetricsRegistry(ctrl)
	registry.EXPECT().Counter(metrics.MetricScheduledRunsTotal,
		metrics.Labels{metrics.LabelStatus: RunStarted}).Times(1)

	starter := &fakeStarter{resp: &services.StartResponse{ID: "sweep-1", Total: 254, Port: 8443}}
	s, err := NewScheduler(testJob(), starter, registry)
	require.NoError(t, err)

	s.runOnce()

	require.Equal(t, 1, starter.calls())
	assert.Equal(t, services.StartRequest{Range: "192.168.1.0/24", Port: "8443"}, starter.requests[0])
	assert.Zero(t, starter.requests[0].Concurrency)

	when, id := s.LastRun()
	assert.Equal(t, "sweep-1", id)
	assert.False(t, when.IsZero())
}

func TestRunOnce_SkipsWhileActive(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockMetricsRegistry(ctrl)
	registry.EXPECT().Counter(metrics.MetricScheduledRunsTotal,
		metrics.Labels{metrics.LabelStatus: RunSkipped}).Times(2)

	starter := &fakeStarter{err: apperrors.ErrScanActive("running")}
	s, err := NewScheduler(testJob(), starter, registry)
	require.NoError(t, err)

	s.runOnce()
	s.runOnce()

	assert.Equal(t, 2, starter.calls())
	_, id := s.LastRun()
	assert.Empty(t, id)
}

func TestRunOnce_Failure(t *testing.T) {
	ctrl := gomock.NewController(t)
	registry := mocks.NewMockMetricsRegistry(ctrl)
	registry.EXPECT().Counter(metrics.MetricScheduledRunsTotal,
		metrics.Labels{metrics.LabelStatus: RunFailed}).Times(1)

	starter := &fakeStarter{err: errors.New("boom")}
	s, err := NewScheduler(testJob(), starter, registry)
	require.NoError(t, err)

	s.runOnce()
	assert.Equal(t, 1, starter.calls())
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := NewScheduler(testJob(), &fakeStarter{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}

func TestScheduler_RunFires(t *testing.T) {
	job := testJob()
	job.Cron = "@every 1s"
	starter := &fakeStarter{resp: &services.StartResponse{ID: "tick"}}

	s, err := NewScheduler(job, starter, metrics.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return starter.calls() >= 1 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.IsRunning())
}
