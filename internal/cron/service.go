package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/codevault-backend/pkg/logger"
	"github.com/angelmondragon/codevault-backend/pkg/metrics"
)

const defaultInterval = time.Minute

var ErrUnknownJob = errors.New("unknown cron job")

type ServiceParams struct {
	Logger     *logger.Logger
	Registry   *Registry
	Locker     Locker
	Metrics    *metrics.CronJobMetrics
	Interval   time.Duration
	JobTimeout time.Duration
}

// Service runs the registry once per interval. Only the worker holding the lease runs a cycle.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	locker     Locker
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Locker == nil:
		return nil, fmt.Errorf("locker required")
	case params.Registry == nil:
		return nil, fmt.Errorf("job registry required")
	}
	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		locker:     params.Locker,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 {
		s.jobTimeout = s.interval
	}
	return s, nil
}

// Run starts with an immediate cycle, then one per tick, and returns ctx.Err() on shutdown.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce runs every job under a single lease. Job failures are logged and counted; they do
// not stop the jobs after them.
func (s *Service) RunOnce(ctx context.Context) error {
	return s.leased(ctx, func() error {
		for _, job := range s.registry.Jobs() {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.runJob(ctx, job)
		}
		return nil
	})
}

// RunJob runs one named job under the lease and returns its error.
func (s *Service) RunJob(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.leased(ctx, func() error { return s.runJob(ctx, job) })
}

func (s *Service) leased(ctx context.Context, fn func() error) error {
	unlock, err := s.locker.TryLock(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lease: %w", err)
	}
	if unlock == nil {
		s.logg.Debug(ctx, "cron lease held by another worker, skipping")
		return nil
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logg.Error(ctx, "failed to release cron lease", err)
		}
	}()
	return fn()
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": job.Name(), "event": "cron.job"})
	runCtx, cancel := context.WithTimeout(jobCtx, s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := job.Run(runCtx)
	took := time.Since(start)
	s.metrics.ObserveRun(job.Name(), took, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return err
	}
	s.logg.Debug(jobCtx, "job completed")
	return nil
}
