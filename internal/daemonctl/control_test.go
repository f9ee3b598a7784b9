package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"registrar/internal/coordinator"
	"registrar/internal/daemonctl"
	"registrar/internal/registry"
	"registrar/internal/testsupport"
)

func TestDeriveStateDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if got := daemonctl.DeriveStateDir("/run/a/registrard.lock", "/var/b/registry.db", cfg); got != "/run/a" {
		t.Fatalf("lock path should win, got %q", got)
	}
	if got := daemonctl.DeriveStateDir("", "/var/b/registry.db", cfg); got != "/var/b" {
		t.Fatalf("database path should be used next, got %q", got)
	}
	if got := daemonctl.DeriveStateDir("", "", cfg); got != cfg.Paths.StateDir {
		t.Fatalf("config fallback = %q, want %q", got, cfg.Paths.StateDir)
	}
	if got := daemonctl.DeriveStateDir("", "", nil); got != "" {
		t.Fatalf("expected empty state dir, got %q", got)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "registrard.pid")
	if err := os.WriteFile(pidPath, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected error without a usable pid")
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, "", os.Getpid()); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
}

func TestStopWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	_, err := daemonctl.StopAndTerminate(cfg.Paths.Socket, cfg, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
	alive, _, err := daemonctl.ProcessInfo(cfg.Paths.Socket)
	if err != nil || alive {
		t.Fatalf("ProcessInfo = %v, %v; want not alive", alive, err)
	}
}

func TestOfflineStatusSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCoordinator(t, cfg)
	testsupport.MustRegisterHost(t, c, "http://worker:8080", 2)
	testsupport.MustRegisterService(t, c, "testing", "http://worker:8080")
	testsupport.MustCreateJob(t, c, coordinator.JobSpec{
		Host:         "http://worker:8080",
		JobType:      "testing",
		Operation:    "op",
		Dispatchable: true,
	})

	snapshot, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.Paths.Socket, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snapshot.Daemon.Running {
		t.Fatal("daemon should be reported as not running")
	}
	if got := snapshot.Daemon.JobCounts[string(registry.StatusQueued)]; got != 1 {
		t.Fatalf("queued count = %d, want 1", got)
	}
	if len(snapshot.SystemChecks) == 0 || snapshot.SystemChecks[0].Severity != "warn" {
		t.Fatalf("unexpected system checks %+v", snapshot.SystemChecks)
	}
	for _, line := range snapshot.Paths {
		if line.Severity != "ok" {
			t.Fatalf("path check failed: %+v", line)
		}
	}

	if _, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.Paths.Socket, nil); err == nil {
		t.Fatal("expected error without config")
	}
}
