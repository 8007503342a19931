package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(command{out: os.Stdout})
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and wires all subcommands.
func buildRoot(c command) *cobra.Command {
	root := createRootCommand()
	root.AddCommand(
		createMonitorCommand(c),
		createServeCommand(c),
		createStatusCommand(c),
		createForceCommand(c),
		createReportCommand(c),
	)
	return root
}

func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agentward",
		Short: "Agent health reporting and supervision tool",
		Long: `Agentward keeps a fleet of worker agents honest: workers report their
liveness to a REST agent_status table (with a local file fallback), and
the supervisor reconciles those records against the OS process table.

Examples:
  agentward monitor --config=agentward.toml
  agentward status --config=agentward.toml --agent="Blog Writing Agent"
  agentward serve --config=agentward.toml       # self-hosted agent_status table`,
	}
}

func createMonitorCommand(c command) *cobra.Command {
	flags := &MonitorFlags{}
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run supervision cycles over the configured agents",
		Long: `Periodically compare each agent's recorded status with the OS process
table. Dead-but-recorded-running agents get their records corrected,
stale-but-alive processes are killed, and when the network is down the
same checks run against local cache files only.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Monitor(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().BoolVar(&flags.Once, "once", false, "run a single cycle and exit")
	return cmd
}

func createServeCommand(c command) *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the self-hosted agent_status server",
		Long: `Serve a REST agent_status table compatible with the hosted API, backed
by SQLite or PostgreSQL, with optional ClickHouse history export.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return cmd
}

func createStatusCommand(c command) *cobra.Command {
	flags := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent status records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&flags.Agent, "agent", "", "show a single agent (default: all)")
	cmd.Flags().BoolVar(&flags.Local, "local", false, "read local cache files instead of the remote table")
	return cmd
}

func createForceCommand(c command) *cobra.Command {
	flags := &ForceFlags{}
	cmd := &cobra.Command{
		Use:   "force",
		Short: "Force-write a stopped record for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Force(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&flags.Agent, "agent", "", "agent name")
	cmd.Flags().StringVar(&flags.Reason, "reason", "", "reason recorded in last_activity")
	return cmd
}

func createReportCommand(c command) *cobra.Command {
	flags := &ReportFlags{}
	cmd := &cobra.Command{
		Use:   "report",
		Short: "One-shot status report for script-based agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Report(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&flags.Agent, "agent", "", "agent name")
	cmd.Flags().StringVar(&flags.Status, "status", "running", "status value (running, warning, error, stopped)")
	cmd.Flags().IntVar(&flags.Health, "health", 100, "health score 0-100")
	cmd.Flags().StringVar(&flags.Activity, "activity", "", "last activity text")
	cmd.Flags().StringVar(&flags.Error, "error", "", "last error text")
	return cmd
}
