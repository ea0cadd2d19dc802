package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/tally"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createCountCommand(globalFlags),
		createSetTargetCommand(globalFlags),
		createHistoryCommand(globalFlags),
		createExportCommand(globalFlags),
		createCalendarCommand(globalFlags),
		createStatusCommand(),
		createPollCommand(),
		createTargetCommand(),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "tally",
		Short: "Count running instances of an executable and keep a daily maximum",
		Long: `Tally watches the process table for one executable, counts its top-level
instances and records the highest count seen each calendar day.

Examples:
  tally serve --config tally.toml       # monitor + HTTP API
  tally count --exe /usr/bin/python3    # one-shot count
  tally history --preset last-7         # recorded daily maxima
  tally export --preset last-month      # CSV export
  tally status --api-url=http://host:8080/api`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createServeCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the monitor, history recorder and HTTP API until interrupted",
		Long: `Start monitoring the configured executable (or the one saved with set-target).
The HTTP API is served when [server].listen is set and metrics when [metrics].enabled is true.
SIGINT or SIGTERM stops monitoring and exits.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := ServeFlags{ConfigPath: g.ConfigPath}
			if len(args) > 0 {
				f.ConfigPath = args[0]
			}
			return runServe(cmd.Context(), f, cmd.OutOrStdout())
		},
	}
}

func createCountCommand(g *GlobalFlags) *cobra.Command {
	f := &CountFlags{}
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count running instances of an executable once",
		Long: `Take one snapshot of the process table and print the number of top-level
instances of the executable. Children spawned by an instance are not counted.

Examples:
  tally count --exe /usr/lib/firefox/firefox
  tally count --exe "C:\Program Files\App\app.exe" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return cmdCount(cmd.Context(), *f, tally.SystemProvider(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.Exe, "exe", "", "executable path (required)")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON including instance pids")
	if err := cmd.MarkFlagRequired("exe"); err != nil {
		panic(err)
	}
	return cmd
}

func createSetTargetCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-target PATH",
		Short: "Save the executable monitored by serve",
		Long: `Validate PATH and store it as the monitoring target used by serve when the
config file does not name one. A running daemon is switched with 'tally target'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdSetTarget(cmd.Context(), SetTargetFlags{ConfigPath: g.ConfigPath, Path: args[0]}, cmd.OutOrStdout())
		},
	}
}

func addRangeFlags(cmd *cobra.Command, r *RangeFlags, defPreset string) {
	cmd.Flags().StringVar(&r.Preset, "preset", defPreset, "this-month|last-month|last-7|last-30|all-time (ignored with --start/--end)")
	cmd.Flags().StringVar(&r.Start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&r.End, "end", "", "last day, YYYY-MM-DD")
}

func createHistoryCommand(g *GlobalFlags) *cobra.Command {
	f := &HistoryFlags{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print daily maxima as JSON",
		Long: `Print one entry per day of the range with its recorded maximum.

Examples:
  tally history --start 2031-03-01 --end 2031-03-31
  tally history --preset all-time`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return cmdHistory(cmd.Context(), *f, time.Now(), cmd.OutOrStdout())
		},
	}
	addRangeFlags(cmd, &f.Range, "last-30")
	return cmd
}

func createExportCommand(g *GlobalFlags) *cobra.Command {
	f := &ExportFlags{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export daily maxima to CSV",
		Long: `Write the recorded days of the range as CSV (Date, Application, Max Instances).

Examples:
  tally export --preset last-month                 # writes <app>_<start>_to_<end>.csv
  tally export --start 2031-03-01 --end 2031-03-31 --out -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return cmdExport(cmd.Context(), *f, time.Now(), cmd.OutOrStdout())
		},
	}
	addRangeFlags(cmd, &f.Range, "this-month")
	cmd.Flags().StringVar(&f.Out, "out", "", `output file; "-" for stdout (default: suggested name)`)
	return cmd
}

func createCalendarCommand(g *GlobalFlags) *cobra.Command {
	f := &CalendarFlags{}
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Print a month of daily maxima as a calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.ConfigPath = g.ConfigPath
			return cmdCalendar(cmd.Context(), *f, time.Now(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&f.Year, "year", 0, "year (default: current)")
	cmd.Flags().IntVar(&f.Month, "month", 0, "month 1-12 (default: current)")
	return cmd
}

func addRemoteFlags(cmd *cobra.Command, f *RemoteFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "http://127.0.0.1:8080/api", "daemon API URL")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createStatusCommand() *cobra.Command {
	f := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's monitoring status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdStatus(cmd.Context(), *f, cmd.OutOrStdout())
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}

func createPollCommand() *cobra.Command {
	f := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Make the daemon count now instead of at the next interval",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdPoll(cmd.Context(), *f, cmd.OutOrStdout())
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}

func createTargetCommand() *cobra.Command {
	f := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   "target PATH",
		Short: "Switch the daemon to another executable and save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdTarget(cmd.Context(), *f, args[0], cmd.OutOrStdout())
		},
	}
	addRemoteFlags(cmd, f)
	return cmd
}
