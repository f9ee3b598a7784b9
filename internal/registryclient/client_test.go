package registryclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"registrar/internal/api"
	"registrar/internal/daemon"
	"registrar/internal/logging"
	"registrar/internal/registry"
	"registrar/internal/registryclient"
	"registrar/internal/testsupport"
)

const workerHost = "http://worker:8080"

func newRegistry(t *testing.T, opts ...testsupport.ConfigOption) *registryclient.Client {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	c := testsupport.NewCoordinator(t, cfg)
	srv := httptest.NewServer(daemon.NewAPIHandler(cfg, c, nil, logging.NewNop()))
	t.Cleanup(srv.Close)
	client, err := registryclient.New(srv.URL,
		registryclient.WithToken(cfg.Server.APIToken),
		registryclient.WithIdentity("admin", "mh_default_org"),
		registryclient.WithRetry(3, time.Millisecond),
	)
	if err != nil {
		t.Fatalf("registryclient.New: %v", err)
	}
	return client
}

func TestClientJobRoundTrip(t *testing.T) {
	client := newRegistry(t, testsupport.WithAPIToken("secret"))
	ctx := context.Background()

	if err := client.RegisterHost(ctx, registry.Host{BaseURL: workerHost, Address: "10.0.0.2", Cores: 2, MaxLoad: 2}); err != nil {
		t.Fatalf("RegisterHost: %v", err)
	}
	svc, err := client.RegisterService(ctx, "testing", workerHost, "/testing", true)
	if err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	if !svc.Online || !svc.JobProducer || svc.State != registry.ServiceNormal {
		t.Fatalf("unexpected registration %+v", svc)
	}

	job, err := client.CreateJob(ctx, registryclient.JobRequest{
		Host: workerHost, JobType: "testing", Operation: "encode",
		Arguments: []string{"a"}, Dispatchable: true,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if job.Creator != "admin" || job.Organization != "mh_default_org" || job.Status != registry.StatusQueued {
		t.Fatalf("unexpected job %+v", job)
	}

	job.Status = registry.StatusRunning
	job.ProcessingHost = workerHost
	updated, err := client.UpdateJob(ctx, job)
	if err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if updated.Version <= job.Version || updated.Status != registry.StatusRunning {
		t.Fatalf("update not reflected: %+v", updated)
	}
	if _, err := client.UpdateJob(ctx, job); !errors.Is(err, registry.ErrOptimisticLock) {
		t.Fatalf("stale update: expected ErrOptimisticLock, got %v", err)
	}

	count, err := client.Count(ctx, "testing", registry.StatusRunning)
	if err != nil || count != 1 {
		t.Fatalf("Count = %d, %v; want 1", count, err)
	}
	loads, err := client.CurrentHostLoads(ctx)
	if err != nil {
		t.Fatalf("CurrentHostLoads: %v", err)
	}
	if load := loads[workerHost]; load.CurrentLoad != job.JobLoad || load.MaxLoad != 2 {
		t.Fatalf("unexpected load %+v", load)
	}
	jobs, err := client.Jobs(ctx, "testing", "")
	if err != nil || len(jobs) != 1 {
		t.Fatalf("Jobs = %d, %v; want 1", len(jobs), err)
	}

	if err := client.SetMaintenanceStatus(ctx, workerHost, true); err != nil {
		t.Fatalf("SetMaintenanceStatus: %v", err)
	}
	hosts, err := client.HostRegistrations(ctx)
	if err != nil || len(hosts) != 1 || !hosts[0].Maintenance {
		t.Fatalf("hosts = %+v, %v", hosts, err)
	}
	if err := client.UnregisterService(ctx, "testing", workerHost); err != nil {
		t.Fatalf("UnregisterService: %v", err)
	}
	restarted, err := client.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if restarted.Status != registry.StatusRestart {
		t.Fatalf("running job of an unregistered service should restart, got %s", restarted.Status)
	}
}

func TestClientMapsErrors(t *testing.T) {
	client := newRegistry(t)
	ctx := context.Background()

	if _, err := client.GetJob(ctx, 99); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("GetJob unknown: expected ErrNotFound, got %v", err)
	}
	if err := client.EnableHost(ctx, "http://nowhere"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("EnableHost unknown: expected ErrNotFound, got %v", err)
	}
	if _, err := client.CreateJob(ctx, registryclient.JobRequest{Host: workerHost, Operation: "op"}); !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("CreateJob without type: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := registryclient.New("not a url"); !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("New with bad url: expected ErrInvalidArgument, got %v", err)
	}
}

func TestClientRetriesReads(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(api.HeaderRequestID) == "" {
			t.Errorf("request without %s", api.HeaderRequestID)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hosts":[{"baseUrl":"http://a","maxLoad":1,"online":true}]}`))
	}))
	defer srv.Close()

	client, err := registryclient.New(srv.URL, registryclient.WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hosts, err := client.HostRegistrations(context.Background())
	if err != nil {
		t.Fatalf("HostRegistrations: %v", err)
	}
	if len(hosts) != 1 || hosts[0].BaseURL != "http://a" {
		t.Fatalf("unexpected hosts %+v", hosts)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestClientDoesNotRetryMutationsOrClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := registryclient.New(srv.URL, registryclient.WithRetry(3, time.Millisecond))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.DisableHost(context.Background(), "http://a"); err == nil {
		t.Fatal("expected error from unavailable registry")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("mutation calls = %d, want 1", got)
	}
	calls.Store(0)
	if _, err := client.GetJob(context.Background(), 1); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("not-found calls = %d, want 1", got)
	}
}
