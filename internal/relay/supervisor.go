package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"signalrelay/internal/bus"
	"signalrelay/internal/domain"
	"signalrelay/internal/metrics"
)

const (
	defaultMaxRestarts  = 5
	defaultRestartDelay = 10 * time.Second
	defaultBusBuffer    = 100
)

// Pipeline wires one feed to one controller through a fresh bus per run.
type Pipeline struct {
	feed       domain.Feed
	controller *Controller
	bufferSize int
	logger     *slog.Logger
}

func NewPipeline(feed domain.Feed, controller *Controller, bufferSize int, logger *slog.Logger) *Pipeline {
	if bufferSize <= 0 {
		bufferSize = defaultBusBuffer
	}
	return &Pipeline{feed: feed, controller: controller, bufferSize: bufferSize, logger: logger}
}

// RunOnce runs until the feed fails or ctx is cancelled. When the feed fails,
// intake stops but in-flight deliveries finish before RunOnce returns.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	logger := p.logger.With("run_id", uuid.NewString())
	logger.Info("pipeline starting")

	b := bus.New(p.bufferSize, logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer b.Close()
		return p.feed.Start(gctx, b)
	})
	g.Go(func() error {
		p.controller.Run(ctx, b.Subscribe())
		return nil
	})

	err := g.Wait()
	logger.Info("pipeline stopped", "err", err)
	return err
}

// SupervisorConfig configures the process-level restart policy.
type SupervisorConfig struct {
	MaxRestarts  int
	RestartDelay time.Duration
	// Notify posts a best-effort notice to the destination chat.
	Notify func(ctx context.Context, text string)
	Logger *slog.Logger
}

// Supervisor restarts the pipeline after fatal faults.
type Supervisor struct {
	maxRestarts  int
	restartDelay time.Duration
	notify       func(ctx context.Context, text string)
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = defaultMaxRestarts
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.Notify == nil {
		cfg.Notify = func(context.Context, string) {}
	}
	return &Supervisor{
		maxRestarts:  cfg.MaxRestarts,
		restartDelay: cfg.RestartDelay,
		notify:       cfg.Notify,
		logger:       cfg.Logger,
		sleep:        sleepContext,
	}
}

// Run calls run until it returns nil, ctx is cancelled, an authorization
// fault occurs, or MaxRestarts failures have happened.
func (s *Supervisor) Run(ctx context.Context, run func(ctx context.Context) error) error {
	failures := 0
	for {
		err := run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrAuthorizationFault) {
			s.logger.Error("authorization rejected, not restarting", "err", err)
			return err
		}

		failures++
		metrics.Restarts.Inc()
		s.logger.Error("pipeline failed", "attempt", failures, "max_restarts", s.maxRestarts, "err", err)
		s.notify(ctx, fmt.Sprintf("Relay crashed: %v. Restarting (%d/%d)...", err, failures, s.maxRestarts))

		if failures >= s.maxRestarts {
			s.notify(ctx, "Relay stopped: restart attempts exhausted.")
			return fmt.Errorf("pipeline failed %d times: %w", failures, err)
		}
		if err := s.sleep(ctx, s.restartDelay); err != nil {
			return nil
		}
	}
}
