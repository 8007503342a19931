package agent

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/agentward/internal/status"
)

// DefaultHeartbeatInterval paces liveness refreshes between real work.
const DefaultHeartbeatInterval = 60 * time.Second

// ErrUnobservable is returned by Run when status reporting has failed so
// many times in a row that the worker must assume nobody can see it.
var ErrUnobservable = errors.New("status reporting failed repeatedly")

// StatusReporter is the reporting surface a Runner drives. It matches the
// agent-side reporter API.
type StatusReporter interface {
	MarkStarted() bool
	Heartbeat(health int) bool
	MarkStopped() bool
	ShouldTerminate() bool
	SaveLocalOnly(st status.Status, health int, activity string) bool
}

// Config wires a Runner around one worker.
type Config struct {
	Reporter          StatusReporter
	HeartbeatInterval time.Duration
	// Health supplies the value reported with each heartbeat; nil means a
	// constant 100.
	Health func() int
	Logger *slog.Logger
}

// Runner owns the lifecycle of a worker function: it marks the agent
// started, heartbeats on a timer while the work runs, and guarantees that
// exactly one shutdown path marks the agent stopped, whether the work
// returns, the process receives a signal, or reporting becomes
// impossible.
type Runner struct {
	reporter StatusReporter
	interval time.Duration
	health   func() int
	logger   *slog.Logger

	notify func(ctx context.Context) (context.Context, context.CancelFunc)
}

func New(cfg Config) *Runner {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Health == nil {
		cfg.Health = func() int { return 100 }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		reporter: cfg.Reporter,
		interval: cfg.HeartbeatInterval,
		health:   cfg.Health,
		logger:   cfg.Logger,
		notify: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		},
	}
}

// Run executes work until it returns or the context ends. The returned
// error is the work's error, ErrUnobservable when reporting broke down,
// or nil.
func (r *Runner) Run(ctx context.Context, work func(ctx context.Context) error) error {
	ctx, stop := r.notify(ctx)
	defer stop()

	r.reporter.MarkStarted()
	// The only shutdown path: whatever ends Run, the agent is marked
	// stopped exactly once on the way out.
	defer r.reporter.MarkStopped()

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- work(workCtx) }()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			r.logger.Info("shutdown requested, waiting for worker to finish")
			cancel()
			return <-done
		case <-ticker.C:
			r.reporter.Heartbeat(r.health())
			if r.reporter.ShouldTerminate() {
				r.logger.Error("terminating: status updates failing beyond threshold")
				r.reporter.SaveLocalOnly(status.Stopped, 0, "Terminated after repeated update failures")
				cancel()
				<-done
				return ErrUnobservable
			}
		}
	}
}
