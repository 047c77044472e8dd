package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/tradeline-backend/pkg/logger"
)

// runner is a long-lived Pub/Sub consumer loop.
type runner interface {
	Run(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type namedRunner struct {
	name   string
	runner runner
}

type namedPinger struct {
	name   string
	pinger pinger
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies []namedPinger
	Consumers    []namedRunner
	// OnShutdown runs once after every consumer has returned.
	OnShutdown func(ctx context.Context) error
	Heartbeat  time.Duration
}

type Service struct {
	logg       *logger.Logger
	deps       []namedPinger
	consumers  []namedRunner
	onShutdown func(ctx context.Context) error
	heartbeat  time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for _, c := range params.Consumers {
		if c.runner == nil {
			return nil, fmt.Errorf("%s consumer is required", c.name)
		}
	}
	heartbeat := params.Heartbeat
	if heartbeat <= 0 {
		heartbeat = time.Minute
	}
	return &Service{
		logg:       params.Logger,
		deps:       params.Dependencies,
		consumers:  params.Consumers,
		onShutdown: params.OnShutdown,
		heartbeat:  heartbeat,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if dep.pinger == nil {
			continue
		}
		if err := pingDependency(ctx, s.logg, dep.name, dep.pinger.Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run starts every consumer and returns when ctx is canceled or the first
// consumer fails. A failing consumer cancels its siblings.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(runCtx)

	for _, c := range s.consumers {
		group.Go(func() error {
			defer cancel()
			err := c.runner.Run(groupCtx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			s.logg.Error(s.logg.WithField(ctx, "consumer", c.name), "consumer stopped unexpectedly", err)
			return fmt.Errorf("%s consumer: %w", c.name, err)
		})
	}
	group.Go(func() error {
		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				s.logg.Info(s.logg.WithField(ctx, "consumers", len(s.consumers)), "worker heartbeat")
			}
		}
	})
	firstErr := group.Wait()

	if s.onShutdown != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := s.onShutdown(shutdownCtx); err != nil {
			s.logg.Error(shutdownCtx, "worker shutdown hook failed", err)
		}
	}

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
