package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"registrar/internal/ipc"
)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool
	var match string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines <= 0 {
				lines = 50
			}
			return ctx.withClient(func(client *ipc.Client) error {
				out := cmd.OutOrStdout()
				req := ipc.LogTailRequest{Offset: -1, Limit: lines, Match: match}
				for {
					resp, err := client.LogTail(req)
					if err != nil {
						return err
					}
					for _, line := range resp.Lines {
						fmt.Fprintln(out, line)
					}
					if !follow {
						return nil
					}
					if err := cmd.Context().Err(); err != nil {
						return nil
					}
					req = ipc.LogTailRequest{Offset: resp.Offset, Follow: true, WaitMillis: 1000, Match: match}
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new log lines")
	cmd.Flags().StringVar(&match, "grep", "", "Only show lines containing this text")
	return cmd
}
