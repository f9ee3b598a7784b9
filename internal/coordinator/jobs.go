package coordinator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"registrar/internal/logging"
	"registrar/internal/registry"
)

// JobSpec describes a job to create.
type JobSpec struct {
	// Host and JobType identify the creating service registration.
	Host         string
	JobType      string
	Operation    string
	Arguments    []string
	Payload      string
	Dispatchable bool
	ParentID     *int64
	// JobLoad defaults to registry.DefaultJobLoad when nil.
	JobLoad      *float64
	Creator      string
	Organization string
}

var nonRemovableOperations = []string{
	registry.OperationStartOperation,
	registry.OperationStartWorkflow,
	registry.OperationResume,
}

// CreateJob persists a new job. Dispatchable jobs start QUEUED without a
// processor; others start INSTANTIATED with the creating service as
// processor.
func (c *Coordinator) CreateJob(ctx context.Context, spec JobSpec) (*registry.Job, error) {
	spec.Host = strings.TrimRight(strings.TrimSpace(spec.Host), "/")
	if blank(spec.Host, spec.JobType, spec.Operation) {
		return nil, fmt.Errorf("%w: host, job type and operation must not be blank", registry.ErrInvalidArgument)
	}
	load := registry.DefaultJobLoad
	if spec.JobLoad != nil {
		load = *spec.JobLoad
	}
	if load < 0 {
		return nil, fmt.Errorf("%w: job load must not be negative", registry.ErrInvalidArgument)
	}

	creator, err := c.store.GetService(ctx, spec.JobType, spec.Host)
	if err != nil {
		return nil, err
	}
	if creator == nil {
		return nil, fmt.Errorf("service %s@%s: %w", spec.JobType, spec.Host, registry.ErrNotFound)
	}
	if host, err := c.store.GetHost(ctx, spec.Host); err == nil && host != nil && (host.Maintenance || !host.Active) {
		logging.WarnWithContext(c.logger, "creating job on host that is unavailable for dispatch", "job_create_unavailable_host",
			logging.String(logging.FieldHost, host.BaseURL),
			logging.String(logging.FieldServiceType, spec.JobType),
			logging.Bool("maintenance", host.Maintenance),
			logging.Bool("active", host.Active),
			logging.String(logging.FieldImpact, "job may wait until the host is back in service"),
		)
	}

	job := registry.Job{
		Creator:          spec.Creator,
		Organization:     spec.Organization,
		JobType:          spec.JobType,
		Operation:        spec.Operation,
		Arguments:        spec.Arguments,
		Payload:          spec.Payload,
		FailureReason:    registry.FailureNone,
		CreatorServiceID: creator.ID,
		DateCreated:      c.now(),
		Dispatchable:     spec.Dispatchable,
		JobLoad:          load,
	}
	if spec.ParentID != nil {
		parent, err := c.store.GetJob(ctx, *spec.ParentID)
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("parent job %d: %w", *spec.ParentID, registry.ErrNotFound)
		}
		parentID := parent.ID
		job.ParentID = &parentID
		rootID := parent.ID
		if parent.RootID != nil {
			rootID = *parent.RootID
		}
		job.RootID = &rootID
	}
	if spec.Dispatchable {
		job.Status = registry.StatusQueued
	} else {
		job.Status = registry.StatusInstantiated
		job.ProcessorServiceID = creator.ID
	}

	created, err := c.store.InsertJob(ctx, job)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("job created",
		logging.Int64(logging.FieldJobID, created.ID),
		logging.String(logging.FieldServiceType, created.JobType),
		logging.String(logging.FieldOperation, created.Operation),
		logging.String("status", string(created.Status)),
		logging.Float64("job_load", created.JobLoad),
	)
	return c.decorate(created), nil
}

// UpdateJob persists job after checking its version against the stored one.
// The processor is resolved from JobType and ProcessingHost; a blank host
// clears it. Start and completion timestamps are filled in as the status
// advances. A status change of a non-workflow job updates the failover state
// of its processor.
func (c *Coordinator) UpdateJob(ctx context.Context, job *registry.Job) (*registry.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("%w: job must not be nil", registry.ErrInvalidArgument)
	}
	stored, err := c.store.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("job %d: %w", job.ID, registry.ErrNotFound)
	}

	next := *job
	next.DateCreated = stored.DateCreated
	if next.Status == "" {
		next.Status = stored.Status
	}
	if err := c.resolveProcessor(ctx, &next); err != nil {
		return nil, err
	}
	c.applyTimestamps(&next, stored.Status)

	if err := c.store.UpdateJob(ctx, &next); err != nil {
		return nil, err
	}
	c.trackLoad(&next)

	updated, err := c.store.GetJob(ctx, next.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("job %d: %w", next.ID, registry.ErrNotFound)
	}
	c.decorate(updated)

	if stored.Status != updated.Status {
		c.logger.Debug("job status changed",
			logging.Int64(logging.FieldJobID, updated.ID),
			logging.String(logging.FieldServiceType, updated.JobType),
			logging.String("previous_status", string(stored.Status)),
			logging.String("status", string(updated.Status)),
			logging.String(logging.FieldHost, updated.ProcessingHost),
		)
		c.notifier.JobStatusChanged(ctx, updated, stored.Status)
		if !updated.IsWorkflow() {
			if err := c.updateFailoverState(ctx, updated); err != nil {
				logging.WarnWithContext(c.logger, "failed to update service failover state", "failover_update_failed",
					logging.Int64(logging.FieldJobID, updated.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "service state may not reflect the latest job outcome"),
				)
			}
		}
	}
	return updated, nil
}

func (c *Coordinator) resolveProcessor(ctx context.Context, job *registry.Job) error {
	job.ProcessingHost = strings.TrimRight(strings.TrimSpace(job.ProcessingHost), "/")
	if job.ProcessingHost == "" {
		job.ProcessorServiceID = 0
		return nil
	}
	svc, err := c.store.GetService(ctx, job.JobType, job.ProcessingHost)
	if err != nil {
		return err
	}
	if svc == nil {
		return fmt.Errorf("%w: no %s service registered on %s", registry.ErrInvalidArgument, job.JobType, job.ProcessingHost)
	}
	job.ProcessorServiceID = svc.ID
	return nil
}

func (c *Coordinator) applyTimestamps(job *registry.Job, previous registry.Status) {
	now := c.now()
	switch job.Status {
	case registry.StatusRunning:
		if previous != registry.StatusWaiting && job.DateStarted == nil {
			started := now
			job.DateStarted = &started
			job.QueueTime = started.Sub(job.DateCreated)
		}
	case registry.StatusFailed:
		if job.DateCompleted == nil {
			completed := now
			job.DateCompleted = &completed
			if job.DateStarted != nil {
				job.RunTime = completed.Sub(*job.DateStarted)
			}
		}
	case registry.StatusFinished:
		if job.DateStarted == nil {
			started := job.DateCreated
			job.DateStarted = &started
		}
		if job.DateCompleted == nil {
			completed := now
			job.DateCompleted = &completed
			job.RunTime = completed.Sub(*job.DateStarted)
		}
	}
}

// setJobStatus persists a status change made by the registry itself. Unlike
// UpdateJob it leaves timestamps and failover states alone.
func (c *Coordinator) setJobStatus(ctx context.Context, job *registry.Job, status registry.Status) error {
	previous := job.Status
	job.Status = status
	if err := c.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	c.trackLoad(job)
	if previous != status {
		c.notifier.JobStatusChanged(ctx, c.decorate(job), previous)
	}
	return nil
}

// GetJob returns a job or ErrNotFound.
func (c *Coordinator) GetJob(ctx context.Context, id int64) (*registry.Job, error) {
	job, err := c.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %d: %w", id, registry.ErrNotFound)
	}
	return c.decorate(job), nil
}

// ChildJobs returns the jobs whose root is id, or, when id is not a root, the
// descendants reached through parent links.
func (c *Coordinator) ChildJobs(ctx context.Context, id int64) ([]*registry.Job, error) {
	jobs, err := c.store.ListJobs(ctx, registry.JobFilter{RootID: id})
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		if jobs, err = c.store.ListDescendants(ctx, id); err != nil {
			return nil, err
		}
	}
	return c.decorateAll(jobs), nil
}

// Jobs lists jobs, optionally narrowed by type and status.
func (c *Coordinator) Jobs(ctx context.Context, jobType string, status registry.Status) ([]*registry.Job, error) {
	filter := registry.JobFilter{JobType: jobType}
	if status != "" {
		filter.Statuses = []registry.Status{status}
	}
	jobs, err := c.store.ListJobs(ctx, filter)
	if err != nil {
		return nil, err
	}
	return c.decorateAll(jobs), nil
}

// ActiveJobs lists every job in a non-terminal status.
func (c *Coordinator) ActiveJobs(ctx context.Context) ([]*registry.Job, error) {
	jobs, err := c.store.ListJobs(ctx, registry.JobFilter{Statuses: registry.ActiveStatuses()})
	if err != nil {
		return nil, err
	}
	return c.decorateAll(jobs), nil
}

// DispatchableJobs returns up to limit dispatchable jobs in status with ids
// above afterID.
func (c *Coordinator) DispatchableJobs(ctx context.Context, status registry.Status, afterID int64, limit int) ([]*registry.Job, error) {
	dispatchable := true
	jobs, err := c.store.ListJobs(ctx, registry.JobFilter{
		Statuses:     []registry.Status{status},
		Dispatchable: &dispatchable,
		AfterID:      afterID,
		Limit:        limit,
	})
	if err != nil {
		return nil, err
	}
	return c.decorateAll(jobs), nil
}

// JobPayloads returns the payloads of jobs running operation. A non-positive
// limit returns all of them.
func (c *Coordinator) JobPayloads(ctx context.Context, operation string, limit, offset int) ([]string, error) {
	return c.store.Payloads(ctx, operation, limit, offset)
}

// JobCount counts the jobs running operation.
func (c *Coordinator) JobCount(ctx context.Context, operation string) (int, error) {
	return c.store.CountJobs(ctx, registry.JobFilter{Operation: operation})
}

// Count counts jobs, optionally narrowed by type and status.
func (c *Coordinator) Count(ctx context.Context, jobType string, status registry.Status) (int, error) {
	filter := registry.JobFilter{JobType: jobType}
	if status != "" {
		filter.Statuses = []registry.Status{status}
	}
	return c.store.CountJobs(ctx, filter)
}

// CountByHost counts jobs in status processed on host.
func (c *Coordinator) CountByHost(ctx context.Context, jobType, host string, status registry.Status) (int, error) {
	if blank(host) {
		return 0, fmt.Errorf("%w: host must not be blank", registry.ErrInvalidArgument)
	}
	filter := registry.JobFilter{JobType: jobType, ProcessorHost: host}
	if status != "" {
		filter.Statuses = []registry.Status{status}
	}
	return c.store.CountJobs(ctx, filter)
}

// CountByOperation counts jobs of jobType running operation in status.
func (c *Coordinator) CountByOperation(ctx context.Context, jobType, operation string, status registry.Status) (int, error) {
	if blank(jobType, operation) {
		return 0, fmt.Errorf("%w: job type and operation must not be blank", registry.ErrInvalidArgument)
	}
	filter := registry.JobFilter{JobType: jobType, Operation: operation}
	if status != "" {
		filter.Statuses = []registry.Status{status}
	}
	return c.store.CountJobs(ctx, filter)
}

// CountFull counts jobs matching every criterion; all of them are required.
func (c *Coordinator) CountFull(ctx context.Context, jobType, host, operation string, status registry.Status) (int, error) {
	if blank(jobType, host, operation, string(status)) {
		return 0, fmt.Errorf("%w: job type, host, operation and status are required", registry.ErrInvalidArgument)
	}
	return c.store.CountJobs(ctx, registry.JobFilter{
		JobType:       jobType,
		ProcessorHost: host,
		Operation:     operation,
		Statuses:      []registry.Status{status},
	})
}

// CountRunningChildren counts the RUNNING direct children of parentID.
func (c *Coordinator) CountRunningChildren(ctx context.Context, parentID int64) (int, error) {
	return c.store.CountJobs(ctx, registry.JobFilter{
		ParentID: parentID,
		Statuses: []registry.Status{registry.StatusRunning},
	})
}

// RemoveJobs deletes the given jobs and all of their descendants in one
// transaction. Nothing is deleted when any id is unknown.
func (c *Coordinator) RemoveJobs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	var (
		order []int64
		seen  = make(map[int64]struct{})
	)
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}
	for _, id := range ids {
		if id < 1 {
			return fmt.Errorf("job %d: %w", id, registry.ErrNotFound)
		}
		descendants, err := c.store.ListDescendants(ctx, id)
		if err != nil {
			return err
		}
		for _, job := range slices.Backward(descendants) {
			add(job.ID)
		}
		add(id)
	}
	if err := c.store.DeleteJobs(ctx, order); err != nil {
		return err
	}

	c.loadMu.Lock()
	for _, id := range order {
		if load, ok := c.localLoad[id]; ok {
			delete(c.localLoad, id)
			c.ownLoad -= load
		}
	}
	if len(c.localLoad) == 0 {
		c.ownLoad = 0
	}
	c.loadMu.Unlock()

	c.logger.Info("jobs removed",
		logging.Int("requested", len(ids)),
		logging.Int("removed", len(order)),
		logging.String(logging.FieldEventType, "jobs_removed"),
	)
	return nil
}

// RemoveParentlessJobs deletes terminated top-level jobs older than
// lifetimeDays, keeping workflow start and resume operations. It returns the
// number of top-level jobs removed.
func (c *Coordinator) RemoveParentlessJobs(ctx context.Context, lifetimeDays int) (int, error) {
	if lifetimeDays < 0 {
		return 0, fmt.Errorf("%w: lifetime must not be negative", registry.ErrInvalidArgument)
	}
	terminated := make([]registry.Status, 0, 4)
	for _, status := range registry.AllStatuses {
		if status.IsTerminated() {
			terminated = append(terminated, status)
		}
	}
	jobs, err := c.store.ListJobs(ctx, registry.JobFilter{
		NoParent:          true,
		CreatedBefore:     c.now().Add(-time.Duration(lifetimeDays) * 24 * time.Hour),
		ExcludeOperations: nonRemovableOperations,
		Statuses:          terminated,
	})
	if err != nil {
		return 0, err
	}
	if len(jobs) == 0 {
		return 0, nil
	}
	ids := make([]int64, 0, len(jobs))
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	if err := c.RemoveJobs(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (c *Coordinator) jobURI(id int64) string {
	return fmt.Sprintf("%s/services/job/%d.json", c.jobsURL, id)
}
