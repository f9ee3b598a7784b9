package main

import (
	"github.com/spf13/cobra"

	"registrar/internal/daemonrun"
)

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var development bool
	cmd := &cobra.Command{
		Use:          "daemon",
		Short:        "Run the registrar daemon in the foreground (internal)",
		Hidden:       true,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if socket := ctx.socketFlagValue(); socket != "" {
				cfg.Paths.Socket = socket
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:    ctx.resolvedLogLevel(cfg),
				Development: development,
			})
		},
	}
	cmd.Flags().BoolVar(&development, "development", false, "Include source locations in log output")
	return cmd
}
