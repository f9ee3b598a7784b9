package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"registrar/internal/api"
	"registrar/internal/config"
	"registrar/internal/ipc"
	"registrar/internal/preflight"
	"registrar/internal/registry"
)

// StatusLine is one labelled check of the status report.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// Snapshot is the status report shown by `registrar status`.
type Snapshot struct {
	Daemon       ipc.StatusResponse `json:"daemon"`
	SystemChecks []StatusLine       `json:"system_checks"`
	Paths        []StatusLine       `json:"paths"`
}

// BuildStatusSnapshot asks the daemon for its status. Job counts are read
// from the database directly when the daemon is down.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &Snapshot{}
	if client, err := ipc.Dial(socketPath); err == nil {
		if resp, err := client.Status(); err == nil {
			snapshot.Daemon = *resp
		}
		_ = client.Close()
	}
	if !snapshot.Daemon.Running && len(snapshot.Daemon.JobCounts) == 0 {
		snapshot.Daemon.JobCounts = offlineJobCounts(ctx, cfg)
	}
	snapshot.SystemChecks = BuildSystemChecks(ctx, cfg, snapshot.Daemon)
	snapshot.Paths = BuildPathChecks(cfg)
	return snapshot, nil
}

func offlineJobCounts(ctx context.Context, cfg *config.Config) map[string]int {
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return nil
	}
	store, err := registry.Open(cfg)
	if err != nil {
		return nil
	}
	defer store.Close()

	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	counts, err := store.StatusCounts(queryCtx)
	if err != nil {
		return nil
	}
	out := make(map[string]int, len(counts))
	for status, n := range counts {
		out[string(status)] = n
	}
	return out
}

// BuildSystemChecks combines daemon runtime state with configuration checks.
// The registry probe runs only while the daemon is up.
func BuildSystemChecks(ctx context.Context, cfg *config.Config, status ipc.StatusResponse) []StatusLine {
	var lines []StatusLine
	if status.Running {
		lines = append(lines, StatusLine{"Registrar", "ok", fmt.Sprintf("Running (pid %d)", status.PID)})
	} else {
		lines = append(lines, StatusLine{"Registrar", "warn", "Not running (run `registrar start`)"})
	}
	lines = append(lines, resultLine(preflight.CheckBaseURL(cfg.Server.BaseURL), "warn"))

	if status.Running {
		lines = append(lines,
			resultLine(preflight.CheckRegistry(ctx, cfg.Server.BaseURL, cfg.Server.APIToken), "error"),
			StatusLine{"Own Load", "info", fmt.Sprintf("%.1f / %.1f", status.OwnLoad, cfg.Server.MaxLoad)},
		)
	}
	lines = append(lines, servicesLine(status.Health))

	if strings.TrimSpace(cfg.Server.APIToken) == "" {
		lines = append(lines, StatusLine{"API Token", "warn", "Not configured (REST endpoint is unauthenticated)"})
	} else {
		lines = append(lines, StatusLine{"API Token", "ok", "Configured"})
	}
	return lines
}

func servicesLine(h api.Health) StatusLine {
	detail := fmt.Sprintf("%d healthy, %d warning, %d error", h.Healthy, h.Warning, h.Error)
	switch {
	case h.Error > 0:
		return StatusLine{"Services", "error", detail}
	case h.Warning > 0:
		return StatusLine{"Services", "warn", detail}
	case h.Healthy > 0:
		return StatusLine{"Services", "ok", detail}
	default:
		return StatusLine{"Services", "info", "No registrations"}
	}
}

// BuildPathChecks verifies the state and log directories are writable.
func BuildPathChecks(cfg *config.Config) []StatusLine {
	return []StatusLine{
		resultLine(preflight.CheckDirectoryAccess("State", cfg.Paths.StateDir), "error"),
		resultLine(preflight.CheckDirectoryAccess("Logs", cfg.Paths.LogDir), "error"),
	}
}

func resultLine(result preflight.Result, failSeverity string) StatusLine {
	if result.Passed {
		return StatusLine{result.Name, "ok", result.Detail}
	}
	return StatusLine{result.Name, failSeverity, result.Detail}
}
