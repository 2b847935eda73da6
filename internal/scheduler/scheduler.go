// Package scheduler runs recurring sweeps on a cron schedule. A run that
// fires while another sweep is active is skipped.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/anstrom/certsweep/internal/config"
	"github.com/anstrom/certsweep/internal/errors"
	"github.com/anstrom/certsweep/internal/logging"
	"github.com/anstrom/certsweep/internal/metrics"
	"github.com/anstrom/certsweep/internal/services"
	"github.com/anstrom/certsweep/internal/targets"
)

// Run outcomes recorded in scheduled_runs_total.
const (
	RunStarted = "started"
	RunSkipped = "skipped"
	RunFailed  = "failed"
)

// ScanStarter starts sweeps. *services.ScanService satisfies it.
type ScanStarter interface {
	Start(req services.StartRequest) (*services.StartResponse, error)
}

// Scheduler triggers a configured sweep on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	job      config.ScheduleConfig
	starter  ScanStarter
	metrics  metrics.MetricsRegistry
	logger   *logging.Logger

	mu            sync.RWMutex
	running       bool
	entryID       cron.EntryID
	lastRun       time.Time
	lastSessionID string
}

// NewScheduler validates the schedule and its range. registry may be nil.
func NewScheduler(job config.ScheduleConfig, starter ScanStarter, registry metrics.MetricsRegistry) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(job.Cron)
	if err != nil {
		return nil, errors.NewConfigFieldError(errors.CodeConfiguration,
			fmt.Sprintf("invalid cron expression: %v", err), "schedule.cron", job.Cron)
	}
	if _, err := targets.ParseTargets(job.Range); err != nil {
		return nil, fmt.Errorf("invalid schedule.range: %w", err)
	}

	return &Scheduler{
		cron:     cron.New(),
		schedule: schedule,
		job:      job,
		starter:  starter,
		metrics:  registry,
		logger:   logging.Default().WithComponent("scheduler"),
	}, nil
}

// Start registers the job and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.entryID = s.cron.Schedule(s.schedule, cron.FuncJob(s.runOnce))
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started",
		"cron", s.job.Cron,
		"range", s.job.Range,
		"next_run", s.schedule.Next(time.Now()))
	return nil
}

// Stop stops the cron loop and waits for a firing job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cron.Remove(s.entryID)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// NextRun returns the next activation after now.
func (s *Scheduler) NextRun() time.Time {
	return s.schedule.Next(time.Now())
}

// LastRun returns when the job last fired and the session it started, if any.
func (s *Scheduler) LastRun() (time.Time, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun, s.lastSessionID
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) runOnce() {
	started := time.Now()

	resp, err := s.starter.Start(services.StartRequest{
		Range: s.job.Range,
		Port:  s.job.Port,
	})

	s.mu.Lock()
	s.lastRun = started
	s.lastSessionID = ""
	if resp != nil {
		s.lastSessionID = resp.ID
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		for _, warning := range resp.Warnings {
			s.logger.Warn("Scheduled sweep configuration warning", "warning", warning)
		}
		s.logger.Info("Scheduled sweep started", "sweep_id", resp.ID, "total", resp.Total, "port", resp.Port)
		s.record(RunStarted)
	case errors.IsMisuse(err):
		s.logger.Warn("Skipping scheduled sweep, another sweep is active", "error", err)
		s.record(RunSkipped)
	default:
		s.logger.Error("Scheduled sweep failed to start", "error", err)
		s.record(RunFailed)
	}
}

func (s *Scheduler) record(status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Counter(metrics.MetricScheduledRunsTotal, metrics.Labels{metrics.LabelStatus: status})
}
