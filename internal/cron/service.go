package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/tradeline-backend/pkg/logger"
	"github.com/angelmondragon/tradeline-backend/pkg/metrics"
)

const defaultInterval = 15 * time.Minute

// ErrLocked is returned when another instance holds the lock.
var ErrLocked = errors.New("cron lock held by another instance")

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// LockRefresh is how often a running cycle extends the lock. Zero
	// disables extension, so a cycle longer than the lock TTL may overlap.
	LockRefresh time.Duration
}

// Service runs the settlement cycle on a fixed cadence under a distributed
// lock.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	refresh  time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = &Registry{byName: map[string]Job{}}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		refresh:  params.LockRefresh,
	}, nil
}

// Names lists the jobs in cycle order.
func (s *Service) Names() []string { return s.registry.Names() }

// Run executes a cycle immediately and then on every tick until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.scheduledCycle(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.scheduledCycle(ctx)
		}
	}
}

func (s *Service) scheduledCycle(ctx context.Context) {
	err := s.runCycle(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrLocked):
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
	case ctx.Err() != nil:
	default:
		// each job failure was already logged by runJob
		s.logg.Warn(s.logg.WithField(ctx, "failures", len(multierr.Errors(err))), "settlement cycle finished with failures")
	}
}

// RunOnce runs one locked cycle, or only the named job. It returns ErrLocked
// rather than waiting when the scheduler is mid-cycle.
func (s *Service) RunOnce(ctx context.Context, name string) error {
	if name == "" {
		return s.runCycle(ctx)
	}
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	return s.withLock(ctx, func(ctx context.Context) error {
		return s.runJob(ctx, job)
	})
}

func (s *Service) runCycle(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		s.logg.Info(ctx, "settlement cycle starting")
		var errs error
		for _, job := range s.registry.Jobs() {
			if ctx.Err() != nil {
				errs = multierr.Append(errs, context.Cause(ctx))
				break
			}
			errs = multierr.Append(errs, s.runJob(ctx, job))
		}
		s.logg.Info(ctx, "settlement cycle complete")
		return errs
	})
}

// withLock holds the lock for the duration of fn, extending it in the
// background. Losing the lock cancels fn's context so the remaining jobs do
// not run alongside the new holder.
func (s *Service) withLock(ctx context.Context, fn func(ctx context.Context) error) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		return ErrLocked
	}

	cycleCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	if s.refresh > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.keepAlive(cycleCtx, cancel)
		}()
	}

	err = fn(cycleCtx)
	lost := errors.Is(context.Cause(cycleCtx), ErrLockLost)
	cancel(nil)
	wg.Wait()

	if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
		s.logg.Error(ctx, "failed to release cron lock", relErr)
	}
	if lost && !errors.Is(err, ErrLockLost) {
		err = multierr.Append(err, ErrLockLost)
	}
	return err
}

func (s *Service) keepAlive(ctx context.Context, cancel context.CancelCauseFunc) {
	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.lock.Extend(ctx)
			switch {
			case err == nil:
			case errors.Is(err, ErrLockLost):
				s.logg.Warn(ctx, "cron lock lost mid-cycle; stopping remaining jobs")
				cancel(ErrLockLost)
				return
			case ctx.Err() != nil:
				return
			default:
				// transient; the next tick retries well inside the TTL
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cron lock extend failed")
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job":   job.Name(),
		"event": "cron.job",
	})
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	finished := time.Now()
	duration := finished.Sub(start)
	s.metrics.ObserveRun(job.Name(), duration, err, finished)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return fmt.Errorf("%s: %w", job.Name(), err)
	}
	s.logg.Info(jobCtx, "job completed")
	return nil
}
