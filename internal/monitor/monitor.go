package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/agentward/internal/cache"
	"github.com/loykin/agentward/internal/detector"
	"github.com/loykin/agentward/internal/metrics"
	"github.com/loykin/agentward/internal/netprobe"
	"github.com/loykin/agentward/internal/status"
)

// Default cycle parameters, mirrored from the reference deployment.
const (
	DefaultInterval    = 60 * time.Second
	DefaultStaleness   = 300 * time.Second
	DefaultKillWait    = time.Second
	DefaultVerifyDelay = time.Second
)

// Reasons embedded in the corrected last_activity message.
const (
	reasonNotRunning = "process not running"
	reasonStale      = "no activity for too long"
)

// RemoteTable is the subset of the remote client the supervisor needs.
type RemoteTable interface {
	List(ctx context.Context) ([]status.Record, error)
	Get(ctx context.Context, agentName string) (*status.Record, error)
	PatchCorrection(ctx context.Context, rec status.Record) error
}

// AgentRef identifies one supervised agent. PIDFile, when set, is the
// preferred liveness source; Match is the command line substring fallback.
type AgentRef struct {
	Name    string
	Match   string
	PIDFile string
}

// Config configures a Supervisor.
type Config struct {
	Agents      []AgentRef
	Interval    time.Duration
	Staleness   time.Duration // records older than this are considered stale
	KillWait    time.Duration // grace between SIGTERM and SIGKILL
	VerifyDelay time.Duration // pause before re-reading a forced correction
	Cache       *cache.Cache
	Remote      RemoteTable // nil means cache-only operation
	Probe       netprobe.Prober
	Logger      *slog.Logger
}

// Supervisor reconciles recorded agent status against the OS process
// table. Each cycle it either works against the remote table (network up)
// or degrades to local cache files (network down). Records claiming a live
// agent are force-corrected to stopped when the process is gone or the
// record has gone stale; stale-but-alive processes are killed first.
type Supervisor struct {
	cfg Config

	// test seams
	now      func() time.Time
	liveness func(ref AgentRef) (pid int, alive bool)
	kill     func(pid int, wait time.Duration) error
	sleep    func(d time.Duration)
}

func New(cfg Config) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = DefaultKillWait
	}
	if cfg.VerifyDelay <= 0 {
		cfg.VerifyDelay = DefaultVerifyDelay
	}
	if cfg.Probe == nil {
		cfg.Probe = netprobe.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		now:      time.Now,
		liveness: resolvePID,
		kill:     killWithGrace,
		sleep:    time.Sleep,
	}
}

// Run executes check cycles until ctx is cancelled. The first cycle runs
// immediately.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.CheckOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckOnce(ctx)
		}
	}
}

// CheckOnce performs one reconciliation cycle.
func (s *Supervisor) CheckOnce(ctx context.Context) {
	start := s.now()
	defer func() { metrics.ObserveCycle(s.now().Sub(start).Seconds()) }()

	if s.cfg.Remote != nil && s.cfg.Probe.Reachable() {
		s.checkRemote(ctx)
		return
	}
	s.cfg.Logger.Warn("network unreachable, running in degraded cache-only mode")
	s.checkDegraded()
}

func (s *Supervisor) checkRemote(ctx context.Context) {
	recs, err := s.cfg.Remote.List(ctx)
	if err != nil {
		s.cfg.Logger.Error("failed to list remote agent status, falling back to cache", "error", err)
		s.checkDegraded()
		return
	}

	known := make(map[string]AgentRef, len(s.cfg.Agents))
	for _, ref := range s.cfg.Agents {
		known[ref.Name] = ref
	}
	byName := make(map[string]status.Record, len(recs))
	for _, rec := range recs {
		byName[rec.AgentName] = rec
		if _, ok := known[rec.AgentName]; !ok {
			s.cfg.Logger.Warn("remote record for unsupervised agent", "agent", rec.AgentName)
		}
	}

	for _, ref := range s.cfg.Agents {
		rec, ok := byName[ref.Name]
		if !ok {
			s.cfg.Logger.Debug("agent has not reported yet", "agent", ref.Name)
			continue
		}
		s.reconcileRemote(ctx, ref, rec)
	}
}

func (s *Supervisor) reconcileRemote(ctx context.Context, ref AgentRef, rec status.Record) {
	// Only running records are corrected. Warning and error are agent
	// diagnostics the supervisor must not overwrite, and stopped is
	// already the state a correction would produce.
	if rec.Status != status.Running {
		return
	}
	pid, alive := s.liveness(ref)
	stale := s.isStale(rec)
	if alive && !stale {
		return
	}

	reason := reasonNotRunning
	if alive {
		// Alive but silent past the staleness window: a hung or runaway
		// process. Kill it before correcting the record.
		reason = reasonStale
		if err := s.kill(pid, s.cfg.KillWait); err != nil {
			s.cfg.Logger.Error("failed to kill stale agent process", "agent", ref.Name, "pid", pid, "error", err)
		} else {
			s.cfg.Logger.Info("killed stale agent process", "agent", ref.Name, "pid", pid)
			metrics.IncKill(ref.Name)
		}
	}

	fixed := s.stoppedRecord(ref.Name, reason)
	s.cfg.Logger.Info("correcting agent status", "agent", ref.Name, "reason", reason, "was", string(rec.Status))
	if err := s.cfg.Remote.PatchCorrection(ctx, fixed); err != nil {
		s.cfg.Logger.Error("failed to write corrected status", "agent", ref.Name, "error", err)
	}
	if err := s.cfg.Cache.Save(fixed); err != nil {
		s.cfg.Logger.Warn("failed to cache corrected status", "agent", ref.Name, "error", err)
	}
	metrics.IncCorrection(reason)
	s.verifyCorrection(ctx, ref.Name)
}

// verifyCorrection re-reads the record once after a short delay and logs
// when the correction did not take, for example when the agent raced us
// with a fresh heartbeat.
func (s *Supervisor) verifyCorrection(ctx context.Context, agentName string) {
	s.sleep(s.cfg.VerifyDelay)
	rec, err := s.cfg.Remote.Get(ctx, agentName)
	if err != nil {
		s.cfg.Logger.Warn("could not verify corrected status", "agent", agentName, "error", err)
		return
	}
	if rec == nil {
		s.cfg.Logger.Warn("corrected record missing on re-read", "agent", agentName)
		return
	}
	if rec.Status != status.Stopped {
		s.cfg.Logger.Warn("corrected status was overwritten", "agent", agentName, "status", string(rec.Status))
	}
}

// checkDegraded reconciles against local cache files only. Corrections are
// written to the cache and reconciled with the remote table on a later
// cycle by the agents themselves.
func (s *Supervisor) checkDegraded() {
	for _, ref := range s.cfg.Agents {
		pid, alive := s.liveness(ref)
		rec, err := s.cfg.Cache.Load(ref.Name)
		if err != nil {
			s.cfg.Logger.Warn("failed to load cached status", "agent", ref.Name, "error", err)
			continue
		}
		if rec == nil {
			// No record at all: seed the cache from the observed state.
			seed := s.stoppedRecord(ref.Name, reasonNotRunning)
			if alive {
				seed = status.Record{
					AgentName: ref.Name, Status: status.Running, Health: 100,
					LastActivity: "Observed running by supervisor", UpdatedAt: s.now().UTC(),
				}
			}
			if err := s.cfg.Cache.Save(seed); err != nil {
				s.cfg.Logger.Warn("failed to seed cached status", "agent", ref.Name, "error", err)
			}
			continue
		}
		if rec.Status == status.Stopped {
			if alive {
				// Zombie: recorded as stopped but still running. Kill it and
				// leave the record alone.
				if err := s.kill(pid, s.cfg.KillWait); err != nil {
					s.cfg.Logger.Error("failed to kill zombie agent process", "agent", ref.Name, "pid", pid, "error", err)
				} else {
					s.cfg.Logger.Info("killed zombie agent process", "agent", ref.Name, "pid", pid)
					metrics.IncKill(ref.Name)
				}
			}
			continue
		}
		if rec.Status != status.Running {
			// Warning and error records are agent diagnostics; leave them.
			continue
		}
		stale := s.isStale(*rec)
		if alive && !stale {
			continue
		}
		reason := reasonNotRunning
		if alive {
			reason = reasonStale
			if err := s.kill(pid, s.cfg.KillWait); err != nil {
				s.cfg.Logger.Error("failed to kill stale agent process", "agent", ref.Name, "pid", pid, "error", err)
			} else {
				metrics.IncKill(ref.Name)
			}
		}
		fixed := s.stoppedRecord(ref.Name, reason)
		s.cfg.Logger.Info("correcting cached agent status", "agent", ref.Name, "reason", reason, "was", string(rec.Status))
		if err := s.cfg.Cache.Save(fixed); err != nil {
			s.cfg.Logger.Warn("failed to cache corrected status", "agent", ref.Name, "error", err)
		}
		metrics.IncCorrection(reason)
	}
}

// isStale treats a zero UpdatedAt as stale: a record that never carried a
// timestamp cannot prove recency.
func (s *Supervisor) isStale(rec status.Record) bool {
	if rec.UpdatedAt.IsZero() {
		return true
	}
	return s.now().Sub(rec.UpdatedAt) > s.cfg.Staleness
}

func (s *Supervisor) stoppedRecord(agentName, reason string) status.Record {
	return status.Record{
		AgentName:    agentName,
		Status:       status.Stopped,
		Health:       0,
		LastActivity: fmt.Sprintf("Automatically stopped (reason: %s)", reason),
		UpdatedAt:    s.now().UTC(),
	}
}

// resolvePID finds the agent's PID, preferring the registration file and
// falling back to a command line scan.
func resolvePID(ref AgentRef) (int, bool) {
	if ref.PIDFile != "" {
		if pid, ok := (detector.PIDFileDetector{PIDFile: ref.PIDFile}).PID(); ok {
			return pid, true
		}
	}
	if ref.Match != "" {
		if pid, ok := (detector.CmdlineDetector{Match: ref.Match}).PID(); ok {
			return pid, true
		}
	}
	return 0, false
}

// killWithGrace sends SIGTERM, waits up to wait for exit, then escalates
// to SIGKILL.
func killWithGrace(pid int, wait time.Duration) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	if err := p.Terminate(); err != nil {
		return p.Kill()
	}
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if ok, err := process.PidExists(int32(pid)); err == nil && !ok {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if ok, err := process.PidExists(int32(pid)); err == nil && !ok {
		return nil
	}
	return p.Kill()
}
