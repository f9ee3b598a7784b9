package main

import (
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"registrar/internal/coordinator"
	"registrar/internal/ipc"
	"registrar/internal/registry"
	"registrar/internal/testsupport"
)

const (
	workerHost = "http://worker:8080"
	workerType = "composer"
)

func seedWorker(t *testing.T, env *cliTestEnv) {
	t.Helper()
	testsupport.MustRegisterHost(t, env.coord, workerHost, 2)
	testsupport.MustRegisterService(t, env.coord, workerType, workerHost)
}

func TestDaemonStartAndStatus(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"start"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	requireContains(t, out, "Daemon started")

	out, _, err = runCLI(t, []string{"start"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	requireContains(t, out, "Daemon already running")

	seedWorker(t, env)
	testsupport.MustCreateJob(t, env.coord, coordinator.JobSpec{
		Host: workerHost, JobType: workerType, Operation: "encode", Dispatchable: true,
	})

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "System Status")
	requireContains(t, out, "Running (pid")
	requireContains(t, out, "Paths")
	requireContains(t, out, "Queued")
}

func TestHostsAndServicesCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	seedWorker(t, env)

	out, _, err := runCLI(t, []string{"hosts"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("hosts: %v", err)
	}
	requireContains(t, out, workerHost)

	out, _, err = runCLI(t, []string{"hosts", "maintenance", workerHost, "on"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("hosts maintenance: %v", err)
	}
	requireContains(t, out, "maintenance=yes")

	if _, _, err := runCLI(t, []string{"hosts", "maintenance", workerHost, "sometimes"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error for invalid maintenance value")
	}

	out, _, err = runCLI(t, []string{"hosts", "disable", workerHost}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("hosts disable: %v", err)
	}
	requireContains(t, out, "active=no")

	out, _, err = runCLI(t, []string{"services", "--type", workerType}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("services: %v", err)
	}
	requireContains(t, out, workerType)
	requireContains(t, out, "Normal")

	out, _, err = runCLI(t, []string{"services", "sanitize", workerType, workerHost}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("services sanitize: %v", err)
	}
	requireContains(t, out, "is now Normal")

	if _, _, err := runCLI(t, []string{"hosts", "enable", "http://unknown:1"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error enabling an unknown host")
	}
}

func TestJobsCommands(t *testing.T) {
	env := setupCLITestEnv(t)
	seedWorker(t, env)

	parent := testsupport.MustCreateJob(t, env.coord, coordinator.JobSpec{
		Host: workerHost, JobType: workerType, Operation: "workflow", Dispatchable: true,
	})
	parentID := parent.ID
	testsupport.MustCreateJob(t, env.coord, coordinator.JobSpec{
		Host: workerHost, JobType: workerType, Operation: "segment", Dispatchable: true, ParentID: &parentID,
	})
	parentArg := strconv.FormatInt(parent.ID, 10)

	out, _, err := runCLI(t, []string{"jobs", "list"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("jobs list: %v", err)
	}
	requireContains(t, out, "workflow")
	requireContains(t, out, "segment")

	out, _, err = runCLI(t, []string{"jobs", "show", parentArg}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("jobs show: %v", err)
	}
	requireContains(t, out, "Operation:")
	requireContains(t, out, "Queued")

	out, _, err = runCLI(t, []string{"jobs", "children", parentArg}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("jobs children: %v", err)
	}
	requireContains(t, out, "segment")
	if strings.Contains(out, "workflow") {
		t.Fatalf("children should not include the parent: %s", out)
	}

	if _, _, err := runCLI(t, []string{"jobs", "show", "abc"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error for invalid job id")
	}

	out, _, err = runCLI(t, []string{"jobs", "remove", parentArg}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("jobs remove: %v", err)
	}
	requireContains(t, out, "Removed 1 jobs")
	if _, _, err := runCLI(t, []string{"jobs", "show", parentArg}, env.socketPath, env.configPath); err == nil {
		t.Fatal("removed job should no longer be found")
	}

	out, _, err = runCLI(t, []string{"jobs", "prune", "--lifetime", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("jobs prune: %v", err)
	}
	requireContains(t, out, "Removed 0 parentless jobs")
}

func TestJSONOutput(t *testing.T) {
	env := setupCLITestEnv(t)
	seedWorker(t, env)

	out, _, err := runCLI(t, []string{"--json", "hosts"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("hosts --json: %v", err)
	}
	var hosts ipc.HostsResponse
	if err := json.Unmarshal([]byte(out), &hosts); err != nil {
		t.Fatalf("decode hosts: %v (%s)", err, out)
	}
	if len(hosts.Hosts) != 1 || hosts.Hosts[0].BaseURL != workerHost {
		t.Fatalf("unexpected hosts %+v", hosts.Hosts)
	}

	out, _, err = runCLI(t, []string{"--json", "load"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("load --json: %v", err)
	}
	var loads ipc.LoadsResponse
	if err := json.Unmarshal([]byte(out), &loads); err != nil {
		t.Fatalf("decode loads: %v (%s)", err, out)
	}
	found := false
	for _, node := range loads.Nodes {
		if node.Host == workerHost && node.MaxLoad == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("worker load missing from %+v", loads.Nodes)
	}
}

func TestStatsLoadAndDatabaseHealth(t *testing.T) {
	env := setupCLITestEnv(t)
	seedWorker(t, env)
	job := testsupport.MustCreateJob(t, env.coord, coordinator.JobSpec{
		Host: workerHost, JobType: workerType, Operation: "encode", Dispatchable: true,
	})
	testsupport.MustTransition(t, env.coord, job.ID, registry.StatusRunning, workerHost)

	out, _, err := runCLI(t, []string{"stats"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	requireContains(t, out, "Services")
	requireContains(t, out, workerType)
	requireContains(t, out, "Hosts")

	out, _, err = runCLI(t, []string{"load"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	requireContains(t, out, workerHost)
	requireContains(t, out, "Own load")

	out, _, err = runCLI(t, []string{"db-health"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("db-health: %v", err)
	}
	requireContains(t, out, "Integrity check: yes")
	requireContains(t, out, "Jobs: 1")
}

func TestLogsCommandFilters(t *testing.T) {
	env := setupCLITestEnv(t)
	for _, line := range []string{"dispatch round finished", "needle in the log", "heartbeat ok"} {
		if err := appendLine(env.logPath, line); err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}

	out, _, err := runCLI(t, []string{"logs", "--grep", "needle"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "needle in the log")
	if strings.Contains(out, "heartbeat") {
		t.Fatalf("filtered output contains unmatched line: %s", out)
	}

	out, _, err = runCLI(t, []string{"logs", "-n", "1"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("logs -n: %v", err)
	}
	if strings.TrimSpace(out) != "heartbeat ok" {
		t.Fatalf("expected last line only, got %q", out)
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")
	requireContains(t, out, env.cfg.Server.BaseURL)

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error when the config already exists")
	}
}

func TestCommandsReportMissingDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	missing := filepath.Join(t.TempDir(), "missing.sock")

	_, _, err := runCLI(t, []string{"hosts"}, missing, env.configPath)
	if err == nil {
		t.Fatal("expected dial error")
	}
	requireContains(t, err.Error(), "registrar start")

	out, _, err := runCLI(t, []string{"stop"}, missing, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")
}

func TestWorkerRequiresFlags(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"worker"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected error without flags")
	}
	requireContains(t, err.Error(), "--registry")

	_, _, err = runCLI(t, []string{"worker", "--registry", "http://registry:8181", "--type", workerType, "--host", workerHost}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected error without --allow")
	}
	requireContains(t, err.Error(), "--allow")
}
