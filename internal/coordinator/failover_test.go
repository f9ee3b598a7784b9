package coordinator_test

import (
	"context"
	"testing"

	"registrar/internal/coordinator"
	"registrar/internal/registry"
	"registrar/internal/testsupport"
)

func serviceState(t *testing.T, c *coordinator.Coordinator, host string) *registry.Service {
	t.Helper()
	svc, err := c.ServiceRegistration(context.Background(), jobType, host)
	if err != nil {
		t.Fatalf("ServiceRegistration %s: %v", host, err)
	}
	if svc == nil {
		t.Fatalf("no registration on %s", host)
	}
	return svc
}

func expectStates(t *testing.T, c *coordinator.Coordinator, local, remote1, remote2 registry.ServiceState) {
	t.Helper()
	for host, want := range map[string]registry.ServiceState{localHost: local, remoteHost1: remote1, remoteHost2: remote2} {
		if got := serviceState(t, c, host).State; got != want {
			t.Fatalf("state of %s = %s, want %s", host, got, want)
		}
	}
}

func newJobs(t *testing.T, c *coordinator.Coordinator, n int, operation string, args []string) []*registry.Job {
	t.Helper()
	jobs := make([]*registry.Job, 0, n)
	for range n {
		jobs = append(jobs, testsupport.MustCreateJob(t, c, coordinator.JobSpec{
			Host:         localHost,
			JobType:      jobType,
			Operation:    operation,
			Arguments:    args,
			Dispatchable: true,
		}))
	}
	return jobs
}

func TestFailoverOneJobOneService(t *testing.T) {
	c := newRegistry(t)
	tries := newJobs(t, c, 3, "op1", nil)

	testsupport.MustTransition(t, c, tries[0].ID, registry.StatusFailed, localHost)
	svc := serviceState(t, c, localHost)
	if svc.State != registry.ServiceWarning {
		t.Fatalf("state after first failure = %s, want WARNING", svc.State)
	}
	if svc.WarningStateTrigger != tries[0].Signature() {
		t.Fatalf("warning trigger = %d, want job signature %d", svc.WarningStateTrigger, tries[0].Signature())
	}
	if svc.ErrorStateTrigger != 0 {
		t.Fatalf("error trigger = %d, want 0", svc.ErrorStateTrigger)
	}

	// The same job failing again on the same service does not escalate.
	testsupport.MustTransition(t, c, tries[1].ID, registry.StatusFailed, localHost)
	if got := serviceState(t, c, localHost).State; got != registry.ServiceWarning {
		t.Fatalf("state after second failure = %s, want WARNING", got)
	}

	testsupport.MustTransition(t, c, tries[2].ID, registry.StatusFinished, localHost)
	if got := serviceState(t, c, localHost).State; got != registry.ServiceNormal {
		t.Fatalf("state after success = %s, want NORMAL", got)
	}
}

func TestFailoverOneJobManyServices(t *testing.T) {
	c := newRegistry(t)
	tries := newJobs(t, c, 4, "op1", nil)

	testsupport.MustTransition(t, c, tries[0].ID, registry.StatusFailed, localHost)
	expectStates(t, c, registry.ServiceWarning, registry.ServiceNormal, registry.ServiceNormal)

	// Failing elsewhere with the same signature blames the job, not the services.
	testsupport.MustTransition(t, c, tries[1].ID, registry.StatusFailed, remoteHost1)
	expectStates(t, c, registry.ServiceNormal, registry.ServiceNormal, registry.ServiceNormal)
	if trigger := serviceState(t, c, remoteHost1).WarningStateTrigger; trigger != 0 {
		t.Fatalf("remote1 warning trigger = %d, want 0", trigger)
	}
	if trigger := serviceState(t, c, localHost).WarningStateTrigger; trigger != tries[0].Signature() {
		t.Fatalf("reset local warning trigger = %d, want job signature %d", trigger, tries[0].Signature())
	}

	testsupport.MustTransition(t, c, tries[2].ID, registry.StatusFailed, remoteHost2)
	expectStates(t, c, registry.ServiceNormal, registry.ServiceNormal, registry.ServiceWarning)

	testsupport.MustTransition(t, c, tries[3].ID, registry.StatusFinished, localHost)
	expectStates(t, c, registry.ServiceNormal, registry.ServiceNormal, registry.ServiceWarning)
}

func TestFailoverManyJobsManyServices(t *testing.T) {
	c := newRegistry(t, testsupport.WithMaxAttempts(0))
	job1 := newJobs(t, c, 4, "op1", nil)
	job2 := newJobs(t, c, 3, "op2", []string{"test"})

	testsupport.MustTransition(t, c, job1[0].ID, registry.StatusFailed, localHost)
	expectStates(t, c, registry.ServiceWarning, registry.ServiceNormal, registry.ServiceNormal)

	// A different job failing on a WARNING service escalates it.
	testsupport.MustTransition(t, c, job2[0].ID, registry.StatusFailed, localHost)
	expectStates(t, c, registry.ServiceError, registry.ServiceNormal, registry.ServiceNormal)
	if trigger := serviceState(t, c, localHost).ErrorStateTrigger; trigger != job2[0].Signature() {
		t.Fatalf("error trigger = %d, want %d", trigger, job2[0].Signature())
	}

	testsupport.MustTransition(t, c, job1[1].ID, registry.StatusFailed, remoteHost1)
	expectStates(t, c, registry.ServiceError, registry.ServiceWarning, registry.ServiceNormal)
	if trigger := serviceState(t, c, remoteHost1).ErrorStateTrigger; trigger != 0 {
		t.Fatalf("remote1 error trigger = %d, want 0", trigger)
	}

	testsupport.MustTransition(t, c, job2[1].ID, registry.StatusFinished, remoteHost1)
	expectStates(t, c, registry.ServiceError, registry.ServiceNormal, registry.ServiceNormal)

	testsupport.MustTransition(t, c, job1[2].ID, registry.StatusFinished, remoteHost2)
	expectStates(t, c, registry.ServiceError, registry.ServiceNormal, registry.ServiceNormal)

	// job2 failing elsewhere de-escalates the service it put into ERROR.
	testsupport.MustTransition(t, c, job2[2].ID, registry.StatusFailed, remoteHost2)
	expectStates(t, c, registry.ServiceWarning, registry.ServiceNormal, registry.ServiceNormal)

	// job1 failing elsewhere clears the WARNING it triggered.
	testsupport.MustTransition(t, c, job1[3].ID, registry.StatusFailed, remoteHost2)
	expectStates(t, c, registry.ServiceNormal, registry.ServiceNormal, registry.ServiceNormal)
}

func TestFailoverIgnoresDataFailures(t *testing.T) {
	c := newRegistry(t)
	ctx := context.Background()
	job := newJobs(t, c, 1, "op1", nil)[0]

	loaded, err := c.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	loaded.Status = registry.StatusFailed
	loaded.FailureReason = registry.FailureData
	loaded.ProcessingHost = localHost
	if _, err := c.UpdateJob(ctx, loaded); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	if got := serviceState(t, c, localHost).State; got != registry.ServiceNormal {
		t.Fatalf("data failure degraded service to %s", got)
	}
}

func TestFailoverErrorStatesDisabled(t *testing.T) {
	c := newRegistry(t, testsupport.WithMaxAttempts(-1))
	first := newJobs(t, c, 1, "op1", nil)[0]
	second := newJobs(t, c, 1, "op2", []string{"other"})[0]

	testsupport.MustTransition(t, c, first.ID, registry.StatusFailed, localHost)
	testsupport.MustTransition(t, c, second.ID, registry.StatusFailed, localHost)
	if got := serviceState(t, c, localHost).State; got != registry.ServiceWarning {
		t.Fatalf("state = %s, want WARNING when error states are disabled", got)
	}
}

func TestSanitizeAndHealth(t *testing.T) {
	c := newRegistry(t, testsupport.WithMaxAttempts(0))
	ctx := context.Background()
	first := newJobs(t, c, 1, "op1", nil)[0]
	second := newJobs(t, c, 1, "op2", []string{"other"})[0]
	third := newJobs(t, c, 1, "op3", []string{"third"})[0]

	testsupport.MustTransition(t, c, first.ID, registry.StatusFailed, localHost)
	testsupport.MustTransition(t, c, second.ID, registry.StatusFailed, localHost)
	testsupport.MustTransition(t, c, third.ID, registry.StatusFailed, remoteHost1)

	health, err := c.Health(ctx, "", "")
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Healthy != 1 || health.Warning != 1 || health.Error != 1 {
		t.Fatalf("unexpected health %+v", health)
	}
	abnormal, err := c.CountOfAbnormalServices(ctx)
	if err != nil || abnormal != 2 {
		t.Fatalf("CountOfAbnormalServices = %d, %v; want 2", abnormal, err)
	}

	if err := c.Sanitize(ctx, jobType, localHost); err != nil {
		t.Fatalf("Sanitize: %v", err)
	}
	svc := serviceState(t, c, localHost)
	if svc.State != registry.ServiceNormal || svc.ErrorStateTrigger != 0 || svc.WarningStateTrigger != 0 {
		t.Fatalf("sanitize left %+v", svc)
	}
	if err := c.Sanitize(ctx, jobType, "http://unknown:1"); err == nil {
		t.Fatal("expected error sanitizing unknown registration")
	}
	if _, err := c.Health(ctx, jobType, "http://unknown:1"); err == nil {
		t.Fatal("expected error for health of unknown registration")
	}
}
