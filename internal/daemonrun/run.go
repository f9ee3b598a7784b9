package daemonrun

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"registrar/internal/config"
	"registrar/internal/daemon"
	"registrar/internal/ipc"
	"registrar/internal/logging"
	"registrar/internal/preflight"
	"registrar/internal/registry"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the registrar daemon runtime loop and blocks until ctx is
// cancelled or the process receives SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, logPath, err := openRunLog(cfg, opts)
	if err != nil {
		return err
	}
	logRuntimeSnapshot(logger, cfg)

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := registry.Open(cfg)
	if err != nil {
		logger.Error("open registry store", logging.Error(err))
		return err
	}

	d, err := daemon.New(cfg, store, logger, daemon.WithLogPath(logPath))
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.Paths.Socket, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.WarnWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check configuration, directory permissions and the registry database"),
			logging.String(logging.FieldImpact, "jobs are not dispatched until the daemon is started"),
		)
	}

	<-signalCtx.Done()
	logger.Info("registrar daemon shutting down")
	return nil
}

// openRunLog creates the per-run log file, points registrar.log at it and
// prunes expired daemon and worker logs.
func openRunLog(cfg *config.Config, opts Options) (*slog.Logger, string, error) {
	runID := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, "registrar-"+runID+".log")

	level := cmp.Or(strings.TrimSpace(opts.LogLevel), cfg.Logging.Level)
	logger, err := logging.New(logging.Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", logPath},
		ErrorOutputPaths: []string{"stderr", logPath},
		Development:      opts.Development,
	})
	if err != nil {
		return nil, "", fmt.Errorf("init logger: %w", err)
	}

	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		logging.WarnWithContext(logger, "registrar.log pointer not updated", "log_pointer_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "`registrar logs` may read a previous run"),
		)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "registrar-*.log", Exclude: []string{logPath}},
		logging.RetentionTarget{Dir: filepath.Join(cfg.Paths.LogDir, "workers"), Pattern: "*.log"},
	)
	return logger, logPath, nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "registrar.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logRuntimeSnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	resolved := preflight.CheckBaseURL(cfg.Server.BaseURL)
	logger.Info("runtime snapshot",
		logging.String(logging.FieldEventType, "runtime_snapshot"),
		logging.String(logging.FieldHost, cfg.Server.BaseURL),
		logging.String("bind", cfg.Server.Bind),
		logging.Float64("max_load", cfg.Server.MaxLoad),
		logging.Bool("api_token_present", strings.TrimSpace(cfg.Server.APIToken) != ""),
		logging.Bool("metrics_enabled", cfg.Server.MetricsEnabled),
		logging.Duration("dispatch_interval", cfg.DispatchInterval()),
		logging.Duration("heartbeat_interval", cfg.HeartbeatInterval()),
		logging.Bool("base_url_resolvable", resolved.Passed),
	)
	if !resolved.Passed {
		logging.WarnWithContext(logger, "base url does not resolve", "base_url_unresolved",
			logging.String("detail", resolved.Detail),
			logging.String(logging.FieldImpact, "remote services may not reach this registry"),
		)
	}
}
