package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"registrar/internal/config"
)

var skipConfigLoad = map[string]string{"skipConfigLoad": "true"}

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create or check the registrar configuration",
	}
	configCmd.AddCommand(newConfigInitCommand(), newConfigValidateCommand(ctx))
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: skipConfigLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if err := writeSampleConfig(target, overwrite); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, "Set server.base_url to the URL other nodes use to reach this registry before starting it.")
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flagValue string) (string, error) {
	if strings.TrimSpace(flagValue) == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(strings.TrimSpace(flagValue))
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

func writeSampleConfig(target string, overwrite bool) error {
	if !overwrite {
		_, err := os.Stat(target)
		switch {
		case err == nil:
			return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
		case !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("check config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := config.CreateSample(target); err != nil {
		return fmt.Errorf("create sample config: %w", err)
	}
	return nil
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and report the effective settings",
		Annotations: skipConfigLoad,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			source := path
			if !exists {
				source = path + " (not found, using defaults)"
			}
			fmt.Fprintf(out, "Config path: %s\n", source)
			fmt.Fprintf(out, "Base URL: %s\n", cfg.Server.BaseURL)
			fmt.Fprintf(out, "Database: %s\n", cfg.DatabasePath())
			fmt.Fprintf(out, "Dispatch every %s, heartbeat every %s\n", cfg.DispatchInterval(), cfg.HeartbeatInterval())
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
