package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"registrar/internal/config"
	"registrar/internal/logging"
	"registrar/internal/registryclient"
	"registrar/internal/worker"
)

type workerFlags struct {
	registryURL  string
	token        string
	user         string
	organization string
	serviceType  string
	host         string
	path         string
	bind         string
	nodeName     string
	maxLoad      float64
	allow        []string
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var flags workerFlags

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a job worker that executes dispatched commands",
		Long: "Registers a job-producing service with a remote registry and runs the " +
			"Execute operation for dispatched jobs. The first job argument names the " +
			"command, which must be listed with --allow; remaining arguments are passed to it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.validate(); err != nil {
				return err
			}
			cfg := ctx.configValue()

			logger, err := workerLogger(cfg, ctx.resolvedLogLevel(cfg))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			clientOpts := []registryclient.Option{
				registryclient.WithToken(flags.token),
				registryclient.WithIdentity(flags.user, flags.organization),
			}
			if cfg != nil && cfg.RequestTimeout() > 0 {
				clientOpts = append(clientOpts, registryclient.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}))
			}
			client, err := registryclient.New(flags.registryURL, clientOpts...)
			if err != nil {
				return err
			}

			srv := worker.NewServer(worker.Config{
				ServiceType: flags.serviceType,
				Host:        flags.host,
				Path:        flags.path,
				Bind:        flags.bind,
				NodeName:    flags.nodeName,
				MaxLoad:     flags.maxLoad,
			}, client, logger)
			srv.Handle(worker.OperationExecute, worker.ExecProcessor{Allowed: flags.allow})
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&flags.registryURL, "registry", "", "Base URL of the registry")
	cmd.Flags().StringVar(&flags.token, "token", "", "Bearer token for the registry REST endpoint")
	cmd.Flags().StringVar(&flags.user, "user", "worker", "User reported to the registry")
	cmd.Flags().StringVar(&flags.organization, "organization", "", "Organization reported to the registry")
	cmd.Flags().StringVar(&flags.serviceType, "type", "", "Service type to register")
	cmd.Flags().StringVar(&flags.host, "host", "", "Base URL the registry uses to reach this worker")
	cmd.Flags().StringVar(&flags.path, "path", "", "Service path below the host (defaults to the service type)")
	cmd.Flags().StringVar(&flags.bind, "bind", "127.0.0.1:8282", "Address the worker listens on")
	cmd.Flags().StringVar(&flags.nodeName, "node-name", "", "Human readable node name")
	cmd.Flags().Float64Var(&flags.maxLoad, "max-load", 0, "Maximum load accepted (defaults to the number of cores)")
	cmd.Flags().StringSliceVar(&flags.allow, "allow", nil, "Command names the worker may execute")
	return cmd
}

// workerLogger logs to stdout and <log_dir>/workers/worker-<run id>.log.
func workerLogger(cfg *config.Config, level string) (*slog.Logger, error) {
	if cfg == nil {
		return logging.NewFromConfig(nil, "")
	}
	local := *cfg
	local.Logging.Level = level
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	return logging.NewFromConfig(&local, filepath.Join("workers", "worker-"+runID+".log"))
}

func (f *workerFlags) validate() error {
	var missing []string
	if strings.TrimSpace(f.registryURL) == "" {
		missing = append(missing, "--registry")
	}
	if strings.TrimSpace(f.serviceType) == "" {
		missing = append(missing, "--type")
	}
	if strings.TrimSpace(f.host) == "" {
		missing = append(missing, "--host")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	if len(f.allow) == 0 {
		return errors.New("at least one --allow command is required")
	}
	if strings.TrimSpace(f.path) == "" {
		f.path = "/" + f.serviceType
	}
	if f.maxLoad < 0 {
		return errors.New("--max-load must not be negative")
	}
	return nil
}
