package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"registrar/internal/daemonctl"
	"registrar/internal/daemonrun"
	"registrar/internal/testsupport"
)

func TestRunServesIPCUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: "debug"})
	}()

	client, err := daemonctl.WaitForClient(cfg.Paths.Socket, 5*time.Second)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping daemon runtime test: %v", err)
		}
		t.Fatalf("WaitForClient: %v", err)
	}
	status, err := client.Status()
	client.Close()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running {
		t.Fatal("daemon should be running after Run starts it")
	}
	if status.PID != os.Getpid() {
		t.Fatalf("pid = %d, want %d", status.PID, os.Getpid())
	}

	pidData, err := os.ReadFile(cfg.PIDPath())
	if err != nil {
		t.Fatalf("read pid file: %v", err)
	}
	if strings.TrimSpace(string(pidData)) == "" {
		t.Fatal("pid file is empty")
	}
	pointer := filepath.Join(cfg.Paths.LogDir, "registrar.log")
	if _, err := os.Stat(pointer); err != nil {
		t.Fatalf("log pointer missing: %v", err)
	}

	alive, pid, err := daemonctl.ProcessInfo(cfg.Paths.Socket)
	if err != nil || !alive || pid != os.Getpid() {
		t.Fatalf("ProcessInfo = %v, %d, %v", alive, pid, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if _, err := os.Stat(cfg.PIDPath()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("pid file should be removed on shutdown, stat err = %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error without config")
	}
}
