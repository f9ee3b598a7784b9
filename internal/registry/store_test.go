package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"registrar/internal/registry"
	"registrar/internal/testsupport"
)

const hostA = "http://node-a:8080"

func seedService(t *testing.T, store *registry.Store, serviceType, host string) *registry.Service {
	t.Helper()
	ctx := context.Background()
	if _, err := store.UpsertHost(ctx, registry.Host{BaseURL: host, MaxLoad: 2, Cores: 2}); err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}
	svc, err := store.InsertService(ctx, registry.Service{
		ServiceType: serviceType,
		Host:        host,
		Path:        "/" + serviceType,
		JobProducer: true,
		Online:      true,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("InsertService: %v", err)
	}
	return svc
}

func TestUpsertHostPreservesFlags(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	host, err := store.UpsertHost(ctx, registry.Host{BaseURL: hostA, Address: "10.0.0.1", MaxLoad: 4, Cores: 4, Memory: 1 << 30})
	if err != nil {
		t.Fatalf("UpsertHost: %v", err)
	}
	if !host.Online || !host.Active || host.Maintenance {
		t.Fatalf("unexpected flags on new host: %+v", host)
	}
	if err := store.SetHostMaintenance(ctx, hostA, true); err != nil {
		t.Fatalf("SetHostMaintenance: %v", err)
	}
	if err := store.SetHostOnline(ctx, hostA, false); err != nil {
		t.Fatalf("SetHostOnline: %v", err)
	}

	host, err = store.UpsertHost(ctx, registry.Host{BaseURL: hostA, Address: "10.0.0.2", MaxLoad: 8, Cores: 8})
	if err != nil {
		t.Fatalf("UpsertHost again: %v", err)
	}
	if !host.Online {
		t.Fatal("expected re-registration to bring host online")
	}
	if !host.Maintenance {
		t.Fatal("expected maintenance flag to survive re-registration")
	}
	if host.MaxLoad != 8 || host.Address != "10.0.0.2" {
		t.Fatalf("expected refreshed host details, got %+v", host)
	}

	if err := store.SetHostMaintenance(ctx, "http://unknown", true); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown host, got %v", err)
	}
	missing, err := store.GetHost(ctx, "http://unknown")
	if err != nil || missing != nil {
		t.Fatalf("expected nil host without error, got %v %v", missing, err)
	}
}

func TestSetHostActiveCascadesToServices(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedService(t, store, "execute", hostA)

	if err := store.SetHostActive(ctx, hostA, false); err != nil {
		t.Fatalf("SetHostActive: %v", err)
	}
	svc, err := store.GetService(ctx, "execute", hostA)
	if err != nil {
		t.Fatalf("GetService: %v", err)
	}
	if svc.Active {
		t.Fatal("expected service deactivated with its host")
	}
	if err := store.SetHostActive(ctx, "http://unknown", true); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobLifecycleAndOptimisticLock(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	svc := seedService(t, store, "execute", hostA)

	job, err := store.InsertJob(ctx, registry.Job{
		Creator:          "admin",
		Organization:     "mh_default_org",
		JobType:          "execute",
		Operation:        "Execute",
		Arguments:        []string{"echo", "hi"},
		Status:           registry.StatusQueued,
		CreatorServiceID: svc.ID,
		Dispatchable:     true,
		JobLoad:          1.5,
	})
	if err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	if job.Version != 1 || job.CreatedHost != hostA || job.ProcessingHost != "" {
		t.Fatalf("unexpected inserted job: %+v", job)
	}
	if len(job.Arguments) != 2 || job.Arguments[1] != "hi" {
		t.Fatalf("unexpected arguments: %v", job.Arguments)
	}

	stale := *job
	now := time.Now().UTC()
	job.Status = registry.StatusRunning
	job.ProcessorServiceID = svc.ID
	job.DateStarted = &now
	if err := store.UpdateJob(ctx, job); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if job.Version != 2 {
		t.Fatalf("expected version 2, got %d", job.Version)
	}

	stale.Status = registry.StatusFailed
	if err := store.UpdateJob(ctx, &stale); !errors.Is(err, registry.ErrOptimisticLock) {
		t.Fatalf("expected ErrOptimisticLock, got %v", err)
	}

	reloaded, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if reloaded.Status != registry.StatusRunning || reloaded.ProcessingHost != hostA {
		t.Fatalf("unexpected reloaded job: %+v", reloaded)
	}
	if reloaded.DateStarted == nil || !reloaded.DateStarted.Equal(now) {
		t.Fatalf("expected start date to round-trip, got %v", reloaded.DateStarted)
	}

	loads, err := store.HostLoads(ctx)
	if err != nil {
		t.Fatalf("HostLoads: %v", err)
	}
	if loads[hostA] != 1.5 {
		t.Fatalf("expected running job load counted, got %v", loads)
	}

	missing := registry.Job{ID: 9999, Version: 1, Status: registry.StatusFailed}
	if err := store.UpdateJob(ctx, &missing); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDescendantsAndDeletion(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	svc := seedService(t, store, "execute", hostA)

	insert := func(parent *registry.Job) *registry.Job {
		t.Helper()
		spec := registry.Job{
			JobType:          "execute",
			Operation:        "Execute",
			Status:           registry.StatusQueued,
			CreatorServiceID: svc.ID,
			Dispatchable:     true,
			JobLoad:          registry.DefaultJobLoad,
		}
		if parent != nil {
			spec.ParentID = &parent.ID
			root := parent.ID
			if parent.RootID != nil {
				root = *parent.RootID
			}
			spec.RootID = &root
		}
		job, err := store.InsertJob(ctx, spec)
		if err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
		return job
	}

	root := insert(nil)
	child := insert(root)
	grandchild := insert(child)

	descendants, err := store.ListDescendants(ctx, root.ID)
	if err != nil {
		t.Fatalf("ListDescendants: %v", err)
	}
	if len(descendants) != 2 || descendants[0].ID != child.ID || descendants[1].ID != grandchild.ID {
		t.Fatalf("unexpected descendants: %+v", descendants)
	}
	byRoot, err := store.ListJobs(ctx, registry.JobFilter{RootID: root.ID})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(byRoot) != 2 {
		t.Fatalf("expected 2 jobs under root, got %d", len(byRoot))
	}

	if err := store.DeleteJobs(ctx, []int64{grandchild.ID, 12345}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if still, _ := store.GetJob(ctx, grandchild.ID); still == nil {
		t.Fatal("expected failed deletion to roll back")
	}
	if err := store.DeleteJobs(ctx, []int64{grandchild.ID, child.ID, root.ID}); err != nil {
		t.Fatalf("DeleteJobs: %v", err)
	}
	count, err := store.CountJobs(ctx, registry.JobFilter{})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected all jobs removed, got %d", count)
	}
}

func TestCheckHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	seedService(t, store, "execute", hostA)

	health, err := store.CheckHealth(context.Background())
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable || !health.IntegrityCheck {
		t.Fatalf("unexpected health: %+v", health)
	}
	if health.Hosts != 1 || health.Services != 1 || len(health.MissingTables) != 0 {
		t.Fatalf("unexpected counts: %+v", health)
	}
}

func TestParseStatus(t *testing.T) {
	status, err := registry.ParseStatus(" running ")
	if err != nil || status != registry.StatusRunning {
		t.Fatalf("unexpected parse result: %v %v", status, err)
	}
	if _, err := registry.ParseStatus("bogus"); !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if !registry.StatusFailed.IsTerminated() || registry.StatusRestart.IsTerminated() {
		t.Fatal("unexpected terminated classification")
	}
	if len(registry.ActiveStatuses()) != 7 {
		t.Fatalf("expected 7 active statuses, got %v", registry.ActiveStatuses())
	}
}

func TestSystemLoad(t *testing.T) {
	loads := registry.SystemLoad{hostA: {Host: hostA, CurrentLoad: 1, MaxLoad: 4}}
	if err := loads.UpdateNodeLoad(hostA, 1); err != nil {
		t.Fatalf("UpdateNodeLoad: %v", err)
	}
	if got := loads[hostA].LoadFactor(); got != 0.5 {
		t.Fatalf("expected load factor 0.5, got %v", got)
	}
	if err := loads.UpdateNodeLoad("http://unknown", 1); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
