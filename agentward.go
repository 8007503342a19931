// Package agentward reports and supervises the liveness of long-running
// worker agents. Workers embed a Reporter to publish their status to a
// REST agent_status table (with a local file fallback), and a standalone
// Supervisor reconciles those records against the OS process table.
package agentward

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/agentward/internal/cache"
	cfg "github.com/loykin/agentward/internal/config"
	"github.com/loykin/agentward/internal/detector"
	"github.com/loykin/agentward/internal/history"
	"github.com/loykin/agentward/internal/metrics"
	"github.com/loykin/agentward/internal/monitor"
	"github.com/loykin/agentward/internal/netprobe"
	"github.com/loykin/agentward/internal/remote"
	"github.com/loykin/agentward/internal/reporter"
	iapi "github.com/loykin/agentward/internal/server"
	"github.com/loykin/agentward/internal/status"
	"github.com/loykin/agentward/internal/store"
	storefactory "github.com/loykin/agentward/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = status.Record

type Status = status.Status

const (
	StatusRunning = status.Running
	StatusWarning = status.Warning
	StatusError   = status.Error
	StatusStopped = status.Stopped
)

// DefaultHealth selects the conventional health score for ReportWarning
// and ReportError (75 and 30).
const DefaultHealth = reporter.DefaultHealth

type AgentRef = monitor.AgentRef

type Config = cfg.FileConfig

type ServerConfig = cfg.ServerConfig

type StoreConfig = store.Config

type HistorySink = history.Sink

// RemoteOptions configures access to the remote agent_status table.
type RemoteOptions struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxAttempts   int
	RetryInterval time.Duration
}

func (o RemoteOptions) client(logger *slog.Logger) *remote.Store {
	return remote.New(remote.Config{
		BaseURL:       o.BaseURL,
		APIKey:        o.APIKey,
		Timeout:       o.Timeout,
		MaxAttempts:   o.MaxAttempts,
		RetryInterval: o.RetryInterval,
		Logger:        logger,
	})
}

// ReporterOptions wires a Reporter for one agent.
type ReporterOptions struct {
	Agent       string
	CacheDir    string
	Remote      RemoteOptions
	MaxFailures int
	PIDFile     string
	ProbeTarget string
	Logger      *slog.Logger
}

// Reporter is a thin facade over the internal status reporter.
// It provides a stable public API for embedding in workers.
type Reporter struct{ inner *reporter.Reporter }

func NewReporter(o ReporterOptions) *Reporter {
	var probe netprobe.Prober
	if o.ProbeTarget != "" {
		probe = netprobe.TCPProber{Target: o.ProbeTarget, Timeout: netprobe.DefaultTimeout}
	}
	if o.PIDFile == "" && o.CacheDir != "" {
		o.PIDFile = detector.RegistrationPath(o.CacheDir, o.Agent)
	}
	return &Reporter{inner: reporter.New(reporter.Config{
		Agent:       o.Agent,
		Cache:       cache.Cache{Dir: o.CacheDir},
		Remote:      o.Remote.client(o.Logger),
		Probe:       probe,
		MaxFailures: o.MaxFailures,
		PIDFile:     o.PIDFile,
		Logger:      o.Logger,
	})}
}

func (r *Reporter) MarkStarted() bool                { return r.inner.MarkStarted() }
func (r *Reporter) Heartbeat(health int) bool        { return r.inner.Heartbeat(health) }
func (r *Reporter) ReportWarning(msg string, health int) bool {
	return r.inner.ReportWarning(msg, health)
}
func (r *Reporter) ReportError(msg string, health int) bool { return r.inner.ReportError(msg, health) }
func (r *Reporter) MarkStopped() bool                       { return r.inner.MarkStopped() }
func (r *Reporter) ShouldTerminate() bool                   { return r.inner.ShouldTerminate() }
func (r *Reporter) Failures() int                           { return r.inner.Failures() }
func (r *Reporter) SaveLocalOnly(st Status, health int, activity string) bool {
	return r.inner.SaveLocalOnly(st, health, activity)
}

// SupervisorOptions wires a Supervisor over a set of agents.
type SupervisorOptions struct {
	Agents      []AgentRef
	CacheDir    string
	Remote      RemoteOptions
	Interval    time.Duration
	Staleness   time.Duration
	KillWait    time.Duration
	VerifyDelay time.Duration
	ProbeTarget string
	Logger      *slog.Logger
}

// Supervisor is a thin facade over the internal monitor.
type Supervisor struct{ inner *monitor.Supervisor }

func NewSupervisor(o SupervisorOptions) *Supervisor {
	var probe netprobe.Prober
	if o.ProbeTarget != "" {
		probe = netprobe.TCPProber{Target: o.ProbeTarget, Timeout: netprobe.DefaultTimeout}
	}
	var rt monitor.RemoteTable
	if o.Remote.BaseURL != "" {
		rt = o.Remote.client(o.Logger)
	}
	agents := make([]AgentRef, len(o.Agents))
	copy(agents, o.Agents)
	for i := range agents {
		if agents[i].PIDFile == "" && o.CacheDir != "" {
			agents[i].PIDFile = detector.RegistrationPath(o.CacheDir, agents[i].Name)
		}
	}
	return &Supervisor{inner: monitor.New(monitor.Config{
		Agents:      agents,
		Interval:    o.Interval,
		Staleness:   o.Staleness,
		KillWait:    o.KillWait,
		VerifyDelay: o.VerifyDelay,
		Cache:       &cache.Cache{Dir: o.CacheDir},
		Remote:      rt,
		Probe:       probe,
		Logger:      o.Logger,
	})}
}

func (s *Supervisor) Run(ctx context.Context)       { s.inner.Run(ctx) }
func (s *Supervisor) CheckOnce(ctx context.Context) { s.inner.CheckOnce(ctx) }

func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// NewHTTPServer starts a self-hosted agent_status server on sc.Listen.
// The returned close function releases the backing store.
func NewHTTPServer(sc ServerConfig, sink HistorySink, logger *slog.Logger) (*http.Server, func() error, error) {
	st, err := storefactory.New(sc.Store)
	if err != nil {
		return nil, nil, err
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	router := iapi.NewRouter(st, sink, sc.APIKey, sc.BasePath, logger)
	srv, err := iapi.NewServer(sc.Listen, router)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return srv, st.Close, nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
