package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"registrar/internal/api"
	"registrar/internal/ipc"
)

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-service and per-host job statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Statistics()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				printSection(out, "Services", colorize)
				if len(resp.Services) == 0 {
					fmt.Fprintln(out, "No services registered")
				} else {
					fmt.Fprint(out, renderTable([]column{
						textCol("Type"), textCol("Host"), textCol("State"),
						numberCol("Running"), numberCol("Queued"), numberCol("Finished"),
						numberCol("Mean Run"), numberCol("Mean Queue"),
					}, buildServiceStatisticsRows(resp.Services)))
				}
				fmt.Fprintln(out)

				printSection(out, "Hosts", colorize)
				if len(resp.Hosts) == 0 {
					fmt.Fprintln(out, "No hosts registered")
					return nil
				}
				rows := make([][]string, 0, len(resp.Hosts))
				for _, host := range resp.Hosts {
					rows = append(rows, []string{host.Host, strconv.Itoa(host.Running), strconv.Itoa(host.Queued)})
				}
				fmt.Fprint(out, renderTotalsTable([]column{textCol("Host"), numberCol("Running"), numberCol("Queued")}, rows))
				return nil
			})
		},
	}
}

func buildServiceStatisticsRows(stats []api.ServiceStatistics) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, entry := range stats {
		rows = append(rows, []string{
			entry.Service.Type,
			entry.Service.Host,
			statusLabel(entry.Service.State),
			strconv.Itoa(entry.RunningJobs),
			strconv.Itoa(entry.QueuedJobs),
			strconv.Itoa(entry.FinishedJobs),
			formatMillis(entry.MeanRunTimeMS),
			formatMillis(entry.MeanQueueTimeMS),
		})
	}
	return rows
}

func formatMillis(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return (time.Duration(ms) * time.Millisecond).Round(time.Millisecond).String()
}

func newLoadCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Show the current load of every online host",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Loads()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Nodes) == 0 {
					fmt.Fprintln(out, "No hosts online")
				} else {
					rows := make([][]string, 0, len(resp.Nodes))
					for _, node := range resp.Nodes {
						rows = append(rows, []string{
							node.Host,
							formatLoad(node.CurrentLoad),
							formatLoad(node.MaxLoad),
							loadFactor(node),
						})
					}
					fmt.Fprint(out, renderTable([]column{textCol("Host"), numberCol("Current"), numberCol("Max"), numberCol("Factor")}, rows))
				}
				fmt.Fprintf(out, "Own load: %s\n", formatLoad(resp.OwnLoad))
				return nil
			})
		},
	}
}

func loadFactor(node api.NodeLoad) string {
	if node.MaxLoad <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", node.CurrentLoad/node.MaxLoad*100)
}

func newDatabaseHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "db-health",
		Short: "Check registry database health (schema, integrity, row counts)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database path: %s\n", resp.DBPath)
				fmt.Fprintf(out, "Database exists: %s\n", yesNo(resp.DatabaseExists))
				fmt.Fprintf(out, "Readable: %s\n", yesNo(resp.DatabaseReadable))
				fmt.Fprintf(out, "Schema version: %d\n", resp.SchemaVersion)
				if len(resp.MissingTables) > 0 {
					fmt.Fprintf(out, "Missing tables: %s\n", strings.Join(resp.MissingTables, ", "))
				} else {
					fmt.Fprintln(out, "Missing tables: none")
				}
				fmt.Fprintf(out, "Integrity check: %s\n", yesNo(resp.IntegrityCheck))
				fmt.Fprintf(out, "Hosts: %d\n", resp.Hosts)
				fmt.Fprintf(out, "Services: %d\n", resp.Services)
				fmt.Fprintf(out, "Jobs: %d\n", resp.Jobs)
				if resp.Error != "" {
					fmt.Fprintf(out, "Error: %s\n", resp.Error)
				}
				return nil
			})
		},
	}
}
