package reporter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/agentward/internal/cache"
	"github.com/loykin/agentward/internal/detector"
	"github.com/loykin/agentward/internal/metrics"
	"github.com/loykin/agentward/internal/netprobe"
	"github.com/loykin/agentward/internal/status"
)

// DefaultMaxFailures is the consecutive-failure threshold after which a
// worker should assume it is unobservable and stop.
const DefaultMaxFailures = 5

// DefaultHealth asks ReportWarning and ReportError to substitute the
// conventional score for their severity (75 and 30). It is the only
// out-of-range health accepted; everything else is rejected.
const DefaultHealth = -1

// RemoteStore is the write surface the reporter needs from the remote
// agent_status table.
type RemoteStore interface {
	Patch(ctx context.Context, rec status.Record) error
}

// Config wires a Reporter for one agent. PIDFile, when set, is written on
// MarkStarted so the supervisor can do exact PID liveness checks.
type Config struct {
	Agent       string
	Cache       cache.Cache
	Remote      RemoteStore
	Probe       netprobe.Prober
	MaxFailures int
	PIDFile     string
	Logger      *slog.Logger
}

// Reporter is the status-reporting library a worker agent links against.
// All operations are synchronous, return a success indicator, and never
// panic for ordinary failure; only invalid inputs are rejected outright
// (also via a false return, before any store is touched).
//
// Every operation, in order: validate, mirror to the local cache, probe
// the network, then patch the remote table. The consecutive-failure count
// lives in this instance only; it is lost on restart by design, because a
// restarted agent re-establishes trust from zero.
type Reporter struct {
	agent       string
	cache       cache.Cache
	remote      RemoteStore
	probe       netprobe.Prober
	maxFailures int
	pidFile     string
	logger      *slog.Logger

	mu       sync.Mutex
	failures map[string]int

	now func() time.Time
}

func New(cfg Config) *Reporter {
	if cfg.Probe == nil {
		cfg.Probe = netprobe.Default()
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reporter{
		agent:       cfg.Agent,
		cache:       cfg.Cache,
		remote:      cfg.Remote,
		probe:       cfg.Probe,
		maxFailures: cfg.MaxFailures,
		pidFile:     cfg.PIDFile,
		logger:      cfg.Logger,
		failures:    make(map[string]int),
		now:         time.Now,
	}
}

// MarkStarted reports the agent as running with full health and registers
// the process PID for the supervisor.
func (r *Reporter) MarkStarted() bool {
	if r.pidFile != "" {
		if err := detector.WritePIDFile(r.pidFile); err != nil {
			r.logger.Warn("failed to write pid registration", "agent", r.agent, "path", r.pidFile, "error", err)
		}
	}
	return r.update(status.Running, 100, "Agent started", "")
}

// Heartbeat refreshes updated_at while the agent is in its main loop.
// The cadence is the caller's choice.
func (r *Reporter) Heartbeat(health int) bool {
	return r.update(status.Running, health, "Heartbeat", "")
}

// ReportWarning records a non-fatal condition. Pass DefaultHealth for
// the conventional warning score of 75.
func (r *Reporter) ReportWarning(message string, health int) bool {
	if health == DefaultHealth {
		health = 75
	}
	return r.update(status.Warning, health, message, "")
}

// ReportError records an error; the message lands in last_error. Pass
// DefaultHealth for the conventional error score of 30.
func (r *Reporter) ReportError(message string, health int) bool {
	if health == DefaultHealth {
		health = 30
	}
	return r.update(status.Error, health, "Error occurred", message)
}

// MarkStopped reports the agent as stopped. It is idempotent so the same
// shutdown path may run more than once without harm.
func (r *Reporter) MarkStopped() bool {
	if r.pidFile != "" {
		if err := detector.RemovePIDFile(r.pidFile); err != nil {
			r.logger.Warn("failed to remove pid registration", "agent", r.agent, "path", r.pidFile, "error", err)
		}
	}
	return r.update(status.Stopped, 0, "Agent stopped", "")
}

// ShouldTerminate reports whether sustained remote-write failure has
// crossed the threshold. A worker seeing true should attempt one final
// local-only stopped save and exit.
func (r *Reporter) ShouldTerminate() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.failures[r.agent]
	if n >= r.maxFailures {
		r.logger.Error("maximum consecutive failed updates exceeded; agent should terminate",
			"agent", r.agent, "failures", n, "max", r.maxFailures)
		return true
	}
	return false
}

// Failures returns the current consecutive-failure count.
func (r *Reporter) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures[r.agent]
}

// SaveLocalOnly writes a record to the cache without touching the remote
// store or the failure counter. It is the worker's last resort right
// before self-termination.
func (r *Reporter) SaveLocalOnly(st status.Status, health int, activity string) bool {
	if err := status.Validate(st, health); err != nil {
		return false
	}
	rec := status.Record{AgentName: r.agent, Status: st, Health: health, LastActivity: activity, UpdatedAt: r.now()}
	if err := r.cache.Save(rec); err != nil {
		r.logger.Error("local status save failed", "agent", r.agent, "error", err)
		return false
	}
	return true
}

func (r *Reporter) update(st status.Status, health int, activity, lastErr string) bool {
	if err := status.Validate(st, health); err != nil {
		r.logger.Error("rejected status update", "agent", r.agent, "error", err)
		metrics.IncReport(r.agent, "validation")
		return false
	}

	rec := status.Record{
		AgentName:    r.agent,
		Status:       st,
		Health:       health,
		LastActivity: activity,
		LastError:    lastErr,
		UpdatedAt:    r.now(),
	}

	// Always mirror locally, whatever happens with the remote store.
	if err := r.cache.Save(rec); err != nil {
		r.logger.Warn("local status save failed", "agent", r.agent, "error", err)
	}

	if !r.probe.Reachable() {
		r.logger.Warn("network unavailable, could not update status", "agent", r.agent)
		r.addFailure()
		metrics.IncReport(r.agent, "offline")
		return false
	}

	if err := r.remote.Patch(context.Background(), rec); err != nil {
		r.logger.Warn("remote status update failed", "agent", r.agent, "error", err)
		r.addFailure()
		metrics.IncReport(r.agent, "remote_error")
		return false
	}

	r.resetFailures()
	metrics.IncReport(r.agent, "ok")
	return true
}

func (r *Reporter) addFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[r.agent]++
	metrics.SetConsecutiveFailures(r.agent, r.failures[r.agent])
}

func (r *Reporter) resetFailures() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[r.agent] = 0
	metrics.SetConsecutiveFailures(r.agent, 0)
}
