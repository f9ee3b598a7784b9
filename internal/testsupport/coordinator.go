package testsupport

import (
	"context"
	"testing"

	"registrar/internal/config"
	"registrar/internal/coordinator"
	"registrar/internal/logging"
	"registrar/internal/registry"
)

// NewCoordinator opens a store for cfg and wraps it in a coordinator.
func NewCoordinator(t testing.TB, cfg *config.Config, opts ...coordinator.Option) *coordinator.Coordinator {
	t.Helper()
	store := MustOpenStore(t, cfg)
	return coordinator.New(cfg, store, logging.NewNop(), opts...)
}

// MustRegisterHost registers baseURL with the given max load.
func MustRegisterHost(t testing.TB, c *coordinator.Coordinator, baseURL string, maxLoad float64) *registry.Host {
	t.Helper()
	host, err := c.RegisterHost(context.Background(), registry.Host{
		BaseURL:  baseURL,
		Address:  "127.0.0.1",
		NodeName: baseURL,
		Memory:   1 << 30,
		Cores:    int(maxLoad),
		MaxLoad:  maxLoad,
	})
	if err != nil {
		t.Fatalf("RegisterHost %s: %v", baseURL, err)
	}
	return host
}

// MustRegisterService registers a job-producing serviceType on host under
// the path "/<serviceType>".
func MustRegisterService(t testing.TB, c *coordinator.Coordinator, serviceType, host string) *registry.Service {
	t.Helper()
	svc, err := c.RegisterService(context.Background(), serviceType, host, "/"+serviceType, true)
	if err != nil {
		t.Fatalf("RegisterService %s@%s: %v", serviceType, host, err)
	}
	return svc
}

// MustCreateJob creates a job and fails the test on error.
func MustCreateJob(t testing.TB, c *coordinator.Coordinator, spec coordinator.JobSpec) *registry.Job {
	t.Helper()
	job, err := c.CreateJob(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreateJob %s/%s: %v", spec.JobType, spec.Operation, err)
	}
	return job
}

// MustTransition reloads job, moves it to status on processingHost and
// returns the persisted result.
func MustTransition(t testing.TB, c *coordinator.Coordinator, id int64, status registry.Status, processingHost string) *registry.Job {
	t.Helper()
	ctx := context.Background()
	job, err := c.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob %d: %v", id, err)
	}
	job.Status = status
	job.ProcessingHost = processingHost
	updated, err := c.UpdateJob(ctx, job)
	if err != nil {
		t.Fatalf("UpdateJob %d -> %s: %v", id, status, err)
	}
	return updated
}
