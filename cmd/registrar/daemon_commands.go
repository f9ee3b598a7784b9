package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"registrar/internal/daemonctl"
	"registrar/internal/registry"
)

const (
	stopGracePeriod  = 5 * time.Second
	startWaitTimeout = 10 * time.Second
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	return []*cobra.Command{
		newStartCommand(ctx),
		newStopCommand(ctx),
		newRestartCommand(ctx),
		newStatusCommand(ctx),
	}
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the registrar daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.EnsureStarted(ctx.socketPath(), exe, daemonLaunchOptions(ctx), startWaitTimeout)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.Launched {
				fmt.Fprintln(stdout, "Daemon not running, launching...")
			}
			printStartState(stdout, result)
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the registrar daemon and its process",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), stopGracePeriod)
			switch {
			case errors.Is(err, daemonctl.ErrDaemonNotRunning):
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			case err != nil:
				return err
			}
			if result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stopping dispatcher and unregistering host...")
			} else {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			printStopResult(stdout, result)
			return nil
		},
	}
}

func newRestartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the registrar daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			result, err := daemonctl.Restart(ctx.socketPath(), ctx.configValue(), exe, daemonLaunchOptions(ctx), stopGracePeriod, startWaitTimeout)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if result.WasRunning {
				printStopResult(stdout, result.Stop)
			}
			switch result.Start.State {
			case daemonctl.StartStateStarted, daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon restarted")
			default:
				printStartState(stdout, result.Start)
			}
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, registry and job status",
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), ctx.configValue())
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, snapshot)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			printStatusLines(stdout, "System Status", snapshot.SystemChecks, colorize)
			printStatusLines(stdout, "Paths", snapshot.Paths, colorize)

			printSection(stdout, "Jobs", colorize)
			rows := buildJobCountRows(snapshot.Daemon.JobCounts)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No jobs")
				return nil
			}
			fmt.Fprint(stdout, renderTotalsTable([]column{textCol("Status"), numberCol("Count")}, rows))
			return nil
		},
	}
}

func printStatusLines(w io.Writer, title string, lines []daemonctl.StatusLine, colorize bool) {
	printSection(w, title, colorize)
	for _, line := range lines {
		fmt.Fprintln(w, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
	}
	fmt.Fprintln(w)
}

func printStopResult(w io.Writer, result daemonctl.StopResult) {
	if result.ForcedKill && result.PID > 0 {
		fmt.Fprintf(w, "Stopping daemon process (pid %d)...\n", result.PID)
	}
	fmt.Fprintln(w, "Daemon stopped")
}

func printStartState(w io.Writer, result daemonctl.StartResult) {
	switch result.State {
	case daemonctl.StartStateStarted:
		fmt.Fprintln(w, "Daemon started")
	case daemonctl.StartStateAlreadyRunning:
		fmt.Fprintln(w, "Daemon already running")
	default:
		message := strings.TrimSpace(result.Message)
		if message == "" {
			message = "Start request sent"
		}
		fmt.Fprintln(w, message)
	}
}

// buildJobCountRows lists non-zero job counts in lifecycle order; statuses
// unknown to this build follow alphabetically.
func buildJobCountRows(counts map[string]int) [][]string {
	order := make([]string, 0, len(counts))
	for _, status := range registry.AllStatuses {
		order = append(order, string(status))
	}
	var extra []string
	for key := range counts {
		if !slices.Contains(order, key) {
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)

	var rows [][]string
	for _, key := range append(order, extra...) {
		if n := counts[key]; n > 0 {
			rows = append(rows, []string{statusLabel(key), strconv.Itoa(n)})
		}
	}
	return rows
}

func daemonLaunchOptions(ctx *commandContext) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{SocketPath: ctx.socketFlagValue(), ConfigPath: ctx.configPath()}
	if ctx.logLevelFlag != nil {
		opts.LogLevel = strings.TrimSpace(*ctx.logLevelFlag)
	}
	return opts
}
