package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/stockledger-backend/pkg/logger"
	"github.com/angelmondragon/stockledger-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configure the cron service. JobTimeout bounds each job and
// defaults to half the interval so a cycle always finishes inside the lock TTL.
type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Lock       Lock
	Metrics    *metrics.CronJobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// JobOutcome is the result of a single job within a cycle.
type JobOutcome struct {
	Name     string
	Duration time.Duration
	Err      error
}

// CycleReport summarises one locked cycle. Skipped is set when another
// worker held the lock and no job ran.
type CycleReport struct {
	Skipped  bool
	Outcomes []JobOutcome
}

// Failed counts the jobs that returned an error.
func (r CycleReport) Failed() int {
	failed := 0
	for _, outcome := range r.Outcomes {
		if outcome.Err != nil {
			failed++
		}
	}
	return failed
}

// Service executes the housekeeping jobs once per interval under a
// cluster-wide lock.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	svc := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if svc.registry == nil {
		svc.registry = NewRegistry()
	}
	if svc.interval <= 0 {
		svc.interval = defaultInterval
	}
	if svc.jobTimeout <= 0 {
		svc.jobTimeout = svc.interval / 2
	}
	return svc, nil
}

// RunOnce executes a single locked cycle. Job failures are aggregated into
// the returned error; every job still runs.
func (s *Service) RunOnce(ctx context.Context) (CycleReport, error) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return CycleReport{}, fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Info(ctx, "cron lock held elsewhere, skipping cycle")
		return CycleReport{Skipped: true}, nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	jobs := s.registry.Jobs()
	report := CycleReport{Outcomes: make([]JobOutcome, 0, len(jobs))}
	var errs error
	for _, job := range jobs {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		outcome := s.runJob(ctx, job)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", outcome.Name, outcome.Err))
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":        len(report.Outcomes),
		"failed_jobs": report.Failed(),
	}), "cron cycle complete")
	return report, errs
}

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle finished with errors", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runJob(ctx context.Context, job Job) JobOutcome {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})
	jobCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(jobCtx)
	outcome := JobOutcome{Name: name, Duration: time.Since(start), Err: err}

	s.metrics.ObserveDuration(name, outcome.Duration)
	logCtx := s.logg.WithField(jobCtx, "duration_ms", outcome.Duration.Milliseconds())
	if err != nil {
		s.metrics.IncFailure(name)
		s.logg.Error(logCtx, "cron job failed", err)
		return outcome
	}
	s.metrics.IncSuccess(name)
	s.logg.Info(logCtx, "cron job completed")
	return outcome
}
