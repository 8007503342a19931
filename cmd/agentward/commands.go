package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/loykin/agentward"
	"github.com/loykin/agentward/internal/cache"
	"github.com/loykin/agentward/internal/history/clickhouse"
	"github.com/loykin/agentward/internal/logger"
	"github.com/loykin/agentward/internal/remote"
	"github.com/loykin/agentward/internal/status"
)

// command bundles the CLI actions. Output goes to out so tests can
// capture it.
type command struct {
	out io.Writer
}

func loadConfig(path string) (*agentward.Config, *slog.Logger, error) {
	if path == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	fc, err := agentward.LoadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	lg := slog.Default()
	if fc.Log != nil {
		lg = logger.New(*fc.Log)
		slog.SetDefault(lg)
	}
	return fc, lg, nil
}

func remoteOptions(fc *agentward.Config) agentward.RemoteOptions {
	return agentward.RemoteOptions{
		BaseURL:       fc.Remote.BaseURL,
		APIKey:        fc.Remote.APIKey,
		Timeout:       fc.Remote.Timeout,
		MaxAttempts:   fc.Remote.MaxAttempts,
		RetryInterval: fc.Remote.RetryInterval,
	}
}

func remoteClient(fc *agentward.Config, lg *slog.Logger) *remote.Store {
	return remote.New(remote.Config{
		BaseURL:       fc.Remote.BaseURL,
		APIKey:        fc.Remote.APIKey,
		Timeout:       fc.Remote.Timeout,
		MaxAttempts:   fc.Remote.MaxAttempts,
		RetryInterval: fc.Remote.RetryInterval,
		Logger:        lg,
	})
}

func agentRefs(fc *agentward.Config) []agentward.AgentRef {
	refs := make([]agentward.AgentRef, 0, len(fc.Agents))
	for _, a := range fc.Agents {
		refs = append(refs, agentward.AgentRef{Name: a.Name, Match: a.Match, PIDFile: a.PIDFile})
	}
	return refs
}

// Monitor runs supervision cycles until interrupted.
func (c command) Monitor(f MonitorFlags) error {
	fc, lg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if len(fc.Agents) == 0 {
		return fmt.Errorf("no [[agents]] configured")
	}
	if fc.Metrics.Listen != "" {
		if err := agentward.RegisterMetricsDefault(); err != nil {
			return err
		}
		go func() {
			if err := agentward.ServeMetrics(fc.Metrics.Listen); err != nil {
				lg.Error("metrics server stopped", "error", err)
			}
		}()
	}

	sup := agentward.NewSupervisor(agentward.SupervisorOptions{
		Agents:      agentRefs(fc),
		CacheDir:    fc.Cache.Dir,
		Remote:      remoteOptions(fc),
		Interval:    fc.Monitor.Interval,
		Staleness:   fc.Monitor.Staleness,
		KillWait:    fc.Monitor.KillWait,
		VerifyDelay: fc.Monitor.VerifyDelay,
		ProbeTarget: fc.Probe.Target,
		Logger:      lg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if f.Once {
		sup.CheckOnce(ctx)
		return nil
	}
	lg.Info("supervisor started", "agents", len(fc.Agents))
	sup.Run(ctx)
	lg.Info("supervisor stopped")
	return nil
}

// Serve runs the self-hosted agent_status server until interrupted.
func (c command) Serve(f ServeFlags) error {
	fc, lg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	if fc.Server == nil {
		return fmt.Errorf("no [server] section configured")
	}

	var sink agentward.HistorySink
	if h := fc.Server.History; h != nil {
		ch, err := clickhouse.New(h.DSN, h.HistoryTable())
		if err != nil {
			return fmt.Errorf("history sink: %w", err)
		}
		defer func() { _ = ch.Close() }()
		sink = ch
	}

	srv, closeStore, err := agentward.NewHTTPServer(*fc.Server, sink, lg)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	lg.Info("agent_status server started", "listen", fc.Server.Listen)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Status prints agent status from the remote table, falling back to the
// local cache when the remote read fails or --local is given.
func (c command) Status(f StatusFlags) error {
	fc, lg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	ca := cache.Cache{Dir: fc.Cache.Dir}

	var recs []status.Record
	var source = "remote"
	if !f.Local {
		recs, err = c.fetchRemote(fc, lg, f.Agent)
		if err != nil {
			lg.Warn("remote read failed, falling back to cache", "error", err)
		}
	}
	if f.Local || err != nil {
		source = "cache"
		recs, err = loadCached(ca, f.Agent)
		if err != nil {
			return err
		}
	}
	c.printRecords(recs, source)
	return nil
}

func (c command) fetchRemote(fc *agentward.Config, lg *slog.Logger, agent string) ([]status.Record, error) {
	rc := remoteClient(fc, lg)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if agent == "" {
		return rc.List(ctx)
	}
	rec, err := rc.Get(ctx, agent)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return []status.Record{*rec}, nil
}

func loadCached(ca cache.Cache, agent string) ([]status.Record, error) {
	if agent != "" {
		rec, err := ca.Load(agent)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		return []status.Record{*rec}, nil
	}
	names, err := ca.Names()
	if err != nil {
		return nil, err
	}
	var recs []status.Record
	for _, name := range names {
		rec, err := ca.Load(name)
		if err != nil || rec == nil {
			continue
		}
		recs = append(recs, *rec)
	}
	return recs, nil
}

func (c command) printRecords(recs []status.Record, source string) {
	if len(recs) == 0 {
		_, _ = fmt.Fprintf(c.out, "no agent status records (%s)\n", source)
		return
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AGENT\tSTATUS\tHEALTH\tUPDATED\tLAST ACTIVITY")
	for _, r := range recs {
		updated := "-"
		if !r.UpdatedAt.IsZero() {
			updated = r.UpdatedAt.Local().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", r.AgentName, r.Status, r.Health, updated, r.LastActivity)
	}
	_ = w.Flush()
	_, _ = fmt.Fprintf(c.out, "(source: %s)\n", source)
}

// Force writes a stopped record for an agent, both remotely and to the
// cache. This is the manual override for records the supervisor cannot
// reconcile.
func (c command) Force(f ForceFlags) error {
	if f.Agent == "" {
		return fmt.Errorf("--agent is required")
	}
	fc, lg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	reason := f.Reason
	if reason == "" {
		reason = "manual intervention"
	}
	rec := status.Record{
		AgentName:    f.Agent,
		Status:       status.Stopped,
		Health:       0,
		LastActivity: fmt.Sprintf("Automatically stopped (reason: %s)", reason),
		UpdatedAt:    time.Now().UTC(),
	}
	ca := cache.Cache{Dir: fc.Cache.Dir}
	if err := ca.Save(rec); err != nil {
		lg.Warn("cache save failed", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := remoteClient(fc, lg).PatchCorrection(ctx, rec); err != nil {
		return fmt.Errorf("remote write failed (cache updated): %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "forced %s to stopped\n", f.Agent)
	return nil
}

// Report performs a one-shot status write, for agents that are shell
// scripts rather than processes embedding the reporter.
func (c command) Report(f ReportFlags) error {
	if f.Agent == "" {
		return fmt.Errorf("--agent is required")
	}
	fc, lg, err := loadConfig(f.ConfigPath)
	if err != nil {
		return err
	}
	rec := status.Record{
		AgentName:    f.Agent,
		Status:       status.Status(f.Status),
		Health:       f.Health,
		LastActivity: f.Activity,
		LastError:    f.Error,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	ca := cache.Cache{Dir: fc.Cache.Dir}
	if err := ca.Save(rec); err != nil {
		lg.Warn("cache save failed", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := remoteClient(fc, lg).Patch(ctx, rec); err != nil {
		return fmt.Errorf("remote write failed (cache updated): %w", err)
	}
	_, _ = fmt.Fprintf(c.out, "reported %s as %s\n", f.Agent, f.Status)
	return nil
}
