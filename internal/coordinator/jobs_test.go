package coordinator_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"registrar/internal/coordinator"
	"registrar/internal/registry"
	"registrar/internal/testsupport"
)

const (
	localHost   = "http://localhost:8080"
	remoteHost1 = "http://remotehost1:8080"
	remoteHost2 = "http://remotehost2:8080"
	jobType     = "testing"
)

func newRegistry(t *testing.T, opts ...testsupport.ConfigOption) *coordinator.Coordinator {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	c := testsupport.NewCoordinator(t, cfg)
	for _, host := range []string{localHost, remoteHost1, remoteHost2} {
		testsupport.MustRegisterHost(t, c, host, 1)
		testsupport.MustRegisterService(t, c, jobType, host)
	}
	return c
}

func TestCreateJobInitialState(t *testing.T) {
	c := newRegistry(t)
	ctx := context.Background()

	queued := testsupport.MustCreateJob(t, c, coordinator.JobSpec{
		Host:         localHost,
		JobType:      jobType,
		Operation:    "encode",
		Arguments:    []string{"a", "b"},
		Dispatchable: true,
		Creator:      "admin",
		Organization: "mh_default_org",
	})
	if queued.Status != registry.StatusQueued {
		t.Fatalf("dispatchable job status = %s, want QUEUED", queued.Status)
	}
	if queued.ProcessingHost != "" || queued.ProcessorServiceID != 0 {
		t.Fatalf("dispatchable job should have no processor, got %q", queued.ProcessingHost)
	}
	if queued.JobLoad != registry.DefaultJobLoad {
		t.Fatalf("job load = %v, want default %v", queued.JobLoad, registry.DefaultJobLoad)
	}
	if queued.Version != 1 {
		t.Fatalf("version = %d, want 1", queued.Version)
	}
	if !strings.HasSuffix(queued.URI, "/services/job/1.json") {
		t.Fatalf("unexpected uri %q", queued.URI)
	}
	if queued.CreatedHost != localHost {
		t.Fatalf("created host = %q", queued.CreatedHost)
	}
	if len(queued.Arguments) != 2 || queued.Arguments[1] != "b" {
		t.Fatalf("arguments not persisted: %v", queued.Arguments)
	}

	load := 2.5
	local := testsupport.MustCreateJob(t, c, coordinator.JobSpec{
		Host:      remoteHost1,
		JobType:   jobType,
		Operation: "inspect",
		JobLoad:   &load,
	})
	if local.Status != registry.StatusInstantiated {
		t.Fatalf("non-dispatchable job status = %s, want INSTANTIATED", local.Status)
	}
	if local.ProcessingHost != remoteHost1 {
		t.Fatalf("non-dispatchable job processor = %q, want creator host", local.ProcessingHost)
	}
	if local.JobLoad != 2.5 {
		t.Fatalf("job load = %v, want 2.5", local.JobLoad)
	}

	parentID := queued.ID
	child := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "child", ParentID: &parentID})
	childID := child.ID
	grandchild := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "grandchild", ParentID: &childID})
	if grandchild.RootID == nil || *grandchild.RootID != queued.ID {
		t.Fatalf("grandchild root = %v, want %d", grandchild.RootID, queued.ID)
	}
	if child.RootID == nil || *child.RootID != queued.ID {
		t.Fatalf("child root = %v, want %d", child.RootID, queued.ID)
	}

	children, err := c.ChildJobs(ctx, queued.ID)
	if err != nil {
		t.Fatalf("ChildJobs: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 jobs below root, got %d", len(children))
	}
	below, err := c.ChildJobs(ctx, child.ID)
	if err != nil {
		t.Fatalf("ChildJobs(child): %v", err)
	}
	if len(below) != 1 || below[0].ID != grandchild.ID {
		t.Fatalf("expected grandchild below child, got %v", below)
	}
}

func TestCreateJobValidation(t *testing.T) {
	c := newRegistry(t)
	ctx := context.Background()

	if _, err := c.CreateJob(ctx, coordinator.JobSpec{Host: localHost, JobType: jobType}); !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("blank operation: expected ErrInvalidArgument, got %v", err)
	}
	negative := -1.0
	if _, err := c.CreateJob(ctx, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "op", JobLoad: &negative}); !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("negative load: expected ErrInvalidArgument, got %v", err)
	}
	if _, err := c.CreateJob(ctx, coordinator.JobSpec{Host: localHost, JobType: "unknown", Operation: "op"}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("unknown service: expected ErrNotFound, got %v", err)
	}
	missing := int64(999)
	if _, err := c.CreateJob(ctx, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "op", ParentID: &missing}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("unknown parent: expected ErrNotFound, got %v", err)
	}
}

func TestUpdateJobTimestamps(t *testing.T) {
	c := newRegistry(t)
	ctx := context.Background()

	job := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "op", Dispatchable: true})
	running := testsupport.MustTransition(t, c, job.ID, registry.StatusRunning, remoteHost1)
	if running.DateStarted == nil {
		t.Fatal("expected RUNNING to set the start date")
	}
	if running.ProcessingHost != remoteHost1 {
		t.Fatalf("processing host = %q", running.ProcessingHost)
	}
	if running.Version != 2 {
		t.Fatalf("version = %d, want 2", running.Version)
	}

	finished := testsupport.MustTransition(t, c, job.ID, registry.StatusFinished, remoteHost1)
	if finished.DateCompleted == nil {
		t.Fatal("expected FINISHED to set the completion date")
	}
	if finished.DateCompleted.Before(*finished.DateStarted) {
		t.Fatal("completion precedes start")
	}
	if !finished.DateStarted.Equal(*running.DateStarted) {
		t.Fatal("start date changed on completion")
	}

	direct := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "op", Dispatchable: true})
	done := testsupport.MustTransition(t, c, direct.ID, registry.StatusFinished, localHost)
	if done.DateStarted == nil || !done.DateStarted.Equal(done.DateCreated) {
		t.Fatalf("FINISHED without start should start at creation, got %v", done.DateStarted)
	}

	stale := *job
	stale.Status = registry.StatusFailed
	if _, err := c.UpdateJob(ctx, &stale); !errors.Is(err, registry.ErrOptimisticLock) {
		t.Fatalf("expected ErrOptimisticLock for stale version, got %v", err)
	}

	missing := registry.Job{ID: 4242, Version: 1, JobType: jobType, Status: registry.StatusRunning}
	if _, err := c.UpdateJob(ctx, &missing); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	unknownHost, err := c.GetJob(ctx, direct.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	unknownHost.ProcessingHost = "http://nowhere:1"
	if _, err := c.UpdateJob(ctx, unknownHost); !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unknown processor, got %v", err)
	}
}

func TestCounts(t *testing.T) {
	c := newRegistry(t)
	ctx := context.Background()

	for range 3 {
		testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "encode", Dispatchable: true})
	}
	job := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "inspect", Dispatchable: true})
	testsupport.MustTransition(t, c, job.ID, registry.StatusRunning, remoteHost2)

	if n, err := c.Count(ctx, jobType, registry.StatusQueued); err != nil || n != 3 {
		t.Fatalf("Count queued = %d, %v; want 3", n, err)
	}
	if n, err := c.Count(ctx, "", ""); err != nil || n != 4 {
		t.Fatalf("Count all = %d, %v; want 4", n, err)
	}
	if n, err := c.CountByHost(ctx, jobType, remoteHost2, registry.StatusRunning); err != nil || n != 1 {
		t.Fatalf("CountByHost = %d, %v; want 1", n, err)
	}
	if n, err := c.CountByOperation(ctx, jobType, "encode", registry.StatusQueued); err != nil || n != 3 {
		t.Fatalf("CountByOperation = %d, %v; want 3", n, err)
	}
	if n, err := c.CountFull(ctx, jobType, remoteHost2, "inspect", registry.StatusRunning); err != nil || n != 1 {
		t.Fatalf("CountFull = %d, %v; want 1", n, err)
	}
	if _, err := c.CountFull(ctx, jobType, "", "inspect", registry.StatusRunning); !errors.Is(err, registry.ErrInvalidArgument) {
		t.Fatalf("CountFull without host: expected ErrInvalidArgument, got %v", err)
	}
	if n, err := c.JobCount(ctx, "encode"); err != nil || n != 3 {
		t.Fatalf("JobCount = %d, %v; want 3", n, err)
	}
	active, err := c.ActiveJobs(ctx)
	if err != nil || len(active) != 4 {
		t.Fatalf("ActiveJobs = %d, %v; want 4", len(active), err)
	}
}

func TestRemoveJobs(t *testing.T) {
	c := newRegistry(t)
	ctx := context.Background()

	root := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "root", Dispatchable: true})
	rootID := root.ID
	child := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "child", ParentID: &rootID})
	other := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "other"})

	if err := c.RemoveJobs(ctx, []int64{0}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("id 0: expected ErrNotFound, got %v", err)
	}
	if err := c.RemoveJobs(ctx, []int64{root.ID, 999}); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("unknown id: expected ErrNotFound, got %v", err)
	}
	if _, err := c.GetJob(ctx, child.ID); err != nil {
		t.Fatalf("failed removal must not delete anything: %v", err)
	}

	if err := c.RemoveJobs(ctx, []int64{root.ID}); err != nil {
		t.Fatalf("RemoveJobs: %v", err)
	}
	for _, id := range []int64{root.ID, child.ID} {
		if _, err := c.GetJob(ctx, id); !errors.Is(err, registry.ErrNotFound) {
			t.Fatalf("job %d should be gone, got %v", id, err)
		}
	}
	if _, err := c.GetJob(ctx, other.ID); err != nil {
		t.Fatalf("unrelated job removed: %v", err)
	}
}

func TestRemoveParentlessJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCoordinator(t, cfg)
	testsupport.MustRegisterHost(t, c, localHost, 2)
	testsupport.MustRegisterService(t, c, jobType, localHost)
	ctx := context.Background()

	finished := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "encode", Dispatchable: true})
	testsupport.MustTransition(t, c, finished.ID, registry.StatusFinished, localHost)
	workflowStart := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: registry.OperationStartWorkflow, Dispatchable: true})
	testsupport.MustTransition(t, c, workflowStart.ID, registry.StatusFinished, localHost)
	testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "queued", Dispatchable: true})

	// Lifetime 0 treats every job created before now as expired.
	removed, err := c.RemoveParentlessJobs(ctx, 0)
	if err != nil {
		t.Fatalf("RemoveParentlessJobs: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := c.GetJob(ctx, finished.ID); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("finished job should be removed, got %v", err)
	}
	if _, err := c.GetJob(ctx, workflowStart.ID); err != nil {
		t.Fatalf("START_WORKFLOW job must be kept: %v", err)
	}

	removed, err = c.RemoveParentlessJobs(ctx, 30)
	if err != nil || removed != 0 {
		t.Fatalf("recent jobs removed = %d, %v; want 0", removed, err)
	}
}

func TestOwnLoadTracksLocalJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	c := testsupport.NewCoordinator(t, cfg)
	own := c.OwnHost()
	testsupport.MustRegisterHost(t, c, own, 4)
	testsupport.MustRegisterService(t, c, jobType, own)
	testsupport.MustRegisterService(t, c, registry.WorkflowType, own)

	load := 1.5
	job := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: own, JobType: jobType, Operation: "op", Dispatchable: true, JobLoad: &load})
	wf := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: own, JobType: registry.WorkflowType, Operation: "op", Dispatchable: true, JobLoad: &load})

	testsupport.MustTransition(t, c, job.ID, registry.StatusRunning, own)
	testsupport.MustTransition(t, c, wf.ID, registry.StatusRunning, own)
	if got := c.OwnLoad(); got != 1.5 {
		t.Fatalf("OwnLoad = %v, want 1.5", got)
	}

	loads, err := c.CurrentHostLoads(context.Background())
	if err != nil {
		t.Fatalf("CurrentHostLoads: %v", err)
	}
	if loads[own].CurrentLoad != 1.5 || loads[own].MaxLoad != 4 {
		t.Fatalf("unexpected host load %+v", loads[own])
	}

	testsupport.MustTransition(t, c, job.ID, registry.StatusFinished, own)
	if got := c.OwnLoad(); got != 0 {
		t.Fatalf("OwnLoad after finish = %v, want 0", got)
	}
}

func TestServiceStatistics(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithJobStats())
	c := testsupport.NewCoordinator(t, cfg)
	testsupport.MustRegisterHost(t, c, localHost, 2)
	testsupport.MustRegisterHost(t, c, remoteHost1, 2)
	testsupport.MustRegisterService(t, c, jobType, localHost)
	testsupport.MustRegisterService(t, c, jobType, remoteHost1)
	ctx := context.Background()

	done := testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "op", Dispatchable: true})
	testsupport.MustTransition(t, c, done.ID, registry.StatusRunning, remoteHost1)
	testsupport.MustTransition(t, c, done.ID, registry.StatusFinished, remoteHost1)
	testsupport.MustCreateJob(t, c, coordinator.JobSpec{Host: localHost, JobType: jobType, Operation: "op", Dispatchable: true})

	stats, err := c.ServiceStatistics(ctx)
	if err != nil {
		t.Fatalf("ServiceStatistics: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(stats))
	}
	byHost := map[string]registry.ServiceStatistics{}
	for _, entry := range stats {
		byHost[entry.Service.Host] = entry
	}
	if got := byHost[remoteHost1].FinishedJobs; got != 1 {
		t.Fatalf("remote finished = %d, want 1", got)
	}
	if got := byHost[localHost].QueuedJobs; got != 1 {
		t.Fatalf("local queued = %d, want 1", got)
	}

	hosts, err := c.HostStatistics(ctx)
	if err != nil {
		t.Fatalf("HostStatistics: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("expected every host in host statistics, got %d", len(hosts))
	}
}
