package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/agentward/internal/logger"
	"github.com/loykin/agentward/internal/store"
)

// APIKeyEnv overrides any configured remote API key when set. Keeping the
// key out of the config file is the recommended deployment.
const APIKeyEnv = "AGENTWARD_API_KEY"

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	Remote  RemoteConfig   `toml:"remote" mapstructure:"remote"`
	Cache   CacheConfig    `toml:"cache" mapstructure:"cache"`
	Probe   ProbeConfig    `toml:"probe" mapstructure:"probe"`
	Report  ReportConfig   `toml:"report" mapstructure:"report"`
	Monitor MonitorConfig  `toml:"monitor" mapstructure:"monitor"`
	Agents  []AgentConfig  `toml:"agents" mapstructure:"agents"`
	Log     *logger.Config `toml:"log" mapstructure:"log"`
	Server  *ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
}

type RemoteConfig struct {
	BaseURL       string        `toml:"base_url" mapstructure:"base_url"`
	APIKey        string        `toml:"api_key" mapstructure:"api_key"`
	Timeout       time.Duration `toml:"timeout" mapstructure:"timeout"`
	MaxAttempts   int           `toml:"max_attempts" mapstructure:"max_attempts"`
	RetryInterval time.Duration `toml:"retry_interval" mapstructure:"retry_interval"`
}

type CacheConfig struct {
	Dir string `toml:"dir" mapstructure:"dir"`
}

type ProbeConfig struct {
	Target  string        `toml:"target" mapstructure:"target"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type ReportConfig struct {
	MaxFailures       int           `toml:"max_failures" mapstructure:"max_failures"`
	HeartbeatInterval time.Duration `toml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
}

type MonitorConfig struct {
	Interval    time.Duration `toml:"interval" mapstructure:"interval"`
	Staleness   time.Duration `toml:"staleness" mapstructure:"staleness"`
	KillWait    time.Duration `toml:"kill_wait" mapstructure:"kill_wait"`
	VerifyDelay time.Duration `toml:"verify_delay" mapstructure:"verify_delay"`
}

// AgentConfig identifies one supervised agent. PIDFile is the preferred
// liveness source; Match is the command line substring fallback.
type AgentConfig struct {
	Name    string `toml:"name" mapstructure:"name"`
	Match   string `toml:"match" mapstructure:"match"`
	PIDFile string `toml:"pidfile" mapstructure:"pidfile"`
}

// ServerConfig configures the optional self-hosted agent_status server.
type ServerConfig struct {
	Listen   string         `toml:"listen" mapstructure:"listen"`
	BasePath string         `toml:"base_path" mapstructure:"base_path"`
	APIKey   string         `toml:"api_key" mapstructure:"api_key"`
	Store    store.Config   `toml:"store" mapstructure:"store"`
	History  *HistoryConfig `toml:"history" mapstructure:"history"`
}

type HistoryConfig struct {
	Type  string `toml:"type" mapstructure:"type"` // "clickhouse"
	DSN   string `toml:"dsn" mapstructure:"dsn"`
	Table string `toml:"table" mapstructure:"table"`
}

type MetricsConfig struct {
	Listen string `toml:"listen" mapstructure:"listen"` // empty disables the metrics endpoint
}

// Load reads a TOML config file and applies environment overrides.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	if key := os.Getenv(APIKeyEnv); key != "" {
		fc.Remote.APIKey = key
	}
	if err := fc.Validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Validate checks the parts that cannot be defaulted away.
func (fc *FileConfig) Validate() error {
	seen := make(map[string]struct{}, len(fc.Agents))
	for i, a := range fc.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d]: name required", i)
		}
		if _, dup := seen[a.Name]; dup {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = struct{}{}
		if a.Match == "" && a.PIDFile == "" {
			return fmt.Errorf("agent %q: match or pidfile required", a.Name)
		}
	}
	if fc.Server != nil && fc.Server.Listen == "" {
		return fmt.Errorf("server.listen required when [server] is present")
	}
	if fc.Server != nil && fc.Server.History != nil {
		h := fc.Server.History
		if h.Type != "clickhouse" {
			return fmt.Errorf("unsupported history type %q", h.Type)
		}
		if h.DSN == "" {
			return fmt.Errorf("server.history.dsn required")
		}
	}
	return nil
}

// HistoryTable returns the configured history table name, defaulting to
// agent_status_history.
func (h *HistoryConfig) HistoryTable() string {
	if h.Table == "" {
		return "agent_status_history"
	}
	return h.Table
}
