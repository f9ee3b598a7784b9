package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"registrar/internal/api"
	"registrar/internal/ipc"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and clean up jobs",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobShowCommand(ctx))
	jobsCmd.AddCommand(newJobChildrenCommand(ctx))
	jobsCmd.AddCommand(newJobsRemoveCommand(ctx))
	jobsCmd.AddCommand(newJobsPruneCommand(ctx))

	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var serviceType string
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs (active jobs unless filtered)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Jobs(serviceType, strings.ToUpper(strings.TrimSpace(status)))
				if err != nil {
					return err
				}
				return printJobs(cmd, ctx, resp.Jobs, "No jobs")
			})
		},
	}
	cmd.Flags().StringVar(&serviceType, "type", "", "Only list jobs of this service type")
	cmd.Flags().StringVar(&status, "status", "", "Only list jobs with this status")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a single job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Job(id)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp.Job)
				}
				printJobDetail(cmd.OutOrStdout(), resp.Job)
				return nil
			})
		},
	}
}

func newJobChildrenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "children <id>",
		Short: "List all descendants of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.ChildJobs(id)
				if err != nil {
					return err
				}
				return printJobs(cmd, ctx, resp.Jobs, fmt.Sprintf("Job %d has no children", id))
			})
		},
	}
}

func newJobsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove jobs and their descendants",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseJobID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RemoveJobs(ids)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d jobs\n", resp.Removed)
				return nil
			})
		},
	}
}

func newJobsPruneCommand(ctx *commandContext) *cobra.Command {
	var lifetime int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove terminated parentless jobs older than --lifetime days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lifetime < 0 {
				return errors.New("--lifetime must not be negative")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.RemoveParentlessJobs(lifetime)
				if err != nil {
					return err
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, resp)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d parentless jobs\n", resp.Removed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&lifetime, "lifetime", 0, "Minimum age in days of the jobs to remove")
	return cmd
}

func printJobs(cmd *cobra.Command, ctx *commandContext, jobs []api.Job, empty string) error {
	if ctx.JSONMode() {
		return writeJSON(cmd, api.JobList{Jobs: jobs})
	}
	if len(jobs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), empty)
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), renderTable(jobColumns, buildJobRows(jobs)))
	return nil
}

var jobColumns = []column{
	numberCol("ID"), textCol("Type"), textCol("Operation"), textCol("Status"),
	textCol("Processing Host"), numberCol("Load"), numberCol("Parent"),
}

func buildJobRows(jobs []api.Job) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		var parent string
		if job.ParentID != nil {
			parent = strconv.FormatInt(*job.ParentID, 10)
		}
		rows = append(rows, []string{
			strconv.FormatInt(job.ID, 10),
			job.JobType,
			job.Operation,
			statusLabel(job.Status),
			job.ProcessingHost,
			formatLoad(job.JobLoad),
			parent,
		})
	}
	return rows
}

func printJobDetail(out io.Writer, job api.Job) {
	field := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		fmt.Fprintf(out, "%-16s %s\n", label+":", value)
	}
	field("ID", strconv.FormatInt(job.ID, 10))
	field("Type", job.JobType)
	field("Operation", job.Operation)
	if len(job.Arguments) > 0 {
		field("Arguments", strings.Join(job.Arguments, " "))
	}
	field("Status", statusLabel(job.Status))
	if job.FailureReason != "" && job.FailureReason != "NONE" {
		field("Failure", statusLabel(job.FailureReason))
	}
	field("Creator", job.Creator)
	field("Organization", job.Organization)
	field("Created On", job.CreatedHost)
	field("Processing Host", job.ProcessingHost)
	field("Created", job.DateCreated)
	field("Started", job.DateStarted)
	field("Completed", job.DateCompleted)
	if job.ParentID != nil {
		field("Parent", strconv.FormatInt(*job.ParentID, 10))
	}
	if job.RootID != nil {
		field("Root", strconv.FormatInt(*job.RootID, 10))
	}
	field("Dispatchable", yesNo(job.Dispatchable))
	field("Load", formatLoad(job.JobLoad))
	field("Queue Time", fmt.Sprintf("%dms", job.QueueTimeMS))
	field("Run Time", fmt.Sprintf("%dms", job.RunTimeMS))
	field("URI", job.URI)
	field("Payload", job.Payload)
}

func parseJobID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", value)
	}
	return id, nil
}
