package coordinator

import (
	"context"

	"registrar/internal/logging"
	"registrar/internal/registry"
)

var lostJobStatuses = []registry.Status{
	registry.StatusRunning,
	registry.StatusDispatching,
	registry.StatusWaiting,
}

// cleanRunningJobs reschedules or fails the jobs svc was working on when it
// went away. Dispatchable jobs are restarted (their whole tree when the root
// is paused); the others can never be picked up again and fail.
func (c *Coordinator) cleanRunningJobs(ctx context.Context, svc *registry.Service) error {
	jobs, err := c.store.ListJobs(ctx, registry.JobFilter{
		ProcessorServiceID: svc.ID,
		Statuses:           lostJobStatuses,
	})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	logger := c.logger.With(
		logging.String(logging.FieldServiceType, svc.ServiceType),
		logging.String(logging.FieldHost, svc.Host),
	)
	logger.Info("cleaning jobs of departed service", logging.Int("jobs", len(jobs)))

	for _, listed := range jobs {
		// Earlier iterations may already have restarted or cancelled this job.
		job, err := c.store.GetJob(ctx, listed.ID)
		if err != nil {
			return err
		}
		if job == nil || job.Status == registry.StatusCancelled || job.Status == registry.StatusRestart {
			continue
		}

		if !job.Dispatchable {
			logger.Info("marking lost job as failed", logging.Int64(logging.FieldJobID, job.ID))
			if err := c.setJobStatus(ctx, job, registry.StatusFailed); err != nil {
				return err
			}
			continue
		}

		if job.RootID != nil {
			root, err := c.store.GetJob(ctx, *job.RootID)
			if err != nil {
				return err
			}
			if root != nil && root.Status == registry.StatusPaused {
				if err := c.cancelDescendants(ctx, root.ID); err != nil {
					return err
				}
				root.Operation = registry.OperationStartOperation
				logger.Info("restarting paused root job", logging.Int64(logging.FieldJobID, root.ID))
				if err := c.setJobStatus(ctx, root, registry.StatusRestart); err != nil {
					return err
				}
				continue
			}
		}

		if err := c.cancelDescendants(ctx, job.ID); err != nil {
			return err
		}
		logger.Info("rescheduling lost job", logging.Int64(logging.FieldJobID, job.ID))
		job.ProcessorServiceID = 0
		job.ProcessingHost = ""
		if err := c.setJobStatus(ctx, job, registry.StatusRestart); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) cancelDescendants(ctx context.Context, id int64) error {
	descendants, err := c.store.ListDescendants(ctx, id)
	if err != nil {
		return err
	}
	for _, child := range descendants {
		if child.Status.IsTerminated() {
			continue
		}
		if err := c.setJobStatus(ctx, child, registry.StatusCancelled); err != nil {
			return err
		}
	}
	return nil
}

// CleanUndispatchableJobs cancels non-dispatchable jobs left INSTANTIATED or
// RUNNING on host by a previous run. It returns the number cancelled.
func (c *Coordinator) CleanUndispatchableJobs(ctx context.Context, host string) (int, error) {
	dispatchable := false
	jobs, err := c.store.ListJobs(ctx, registry.JobFilter{
		ProcessorHost: host,
		Dispatchable:  &dispatchable,
		Statuses:      []registry.Status{registry.StatusInstantiated, registry.StatusRunning},
	})
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		if err := c.setJobStatus(ctx, job, registry.StatusCancelled); err != nil {
			return 0, err
		}
	}
	if len(jobs) > 0 {
		c.logger.Info("cancelled orphaned undispatchable jobs",
			logging.String(logging.FieldHost, host),
			logging.Int("jobs", len(jobs)),
			logging.String(logging.FieldEventType, "undispatchable_jobs_cleaned"),
		)
	}
	return len(jobs), nil
}
