package coordinator

import (
	"context"

	"registrar/internal/logging"
	"registrar/internal/registry"
)

// updateFailoverState adjusts the state of the job's processor, and of
// registrations degraded by the same job signature, after the job reached
// FAILED or FINISHED.
//
// A failure whose signature already degraded other registrations points at
// the job rather than the services, so those registrations recover one step.
// Otherwise the processor moves NORMAL -> WARNING, and WARNING -> ERROR once
// enough failures accumulated since its last state change.
func (c *Coordinator) updateFailoverState(ctx context.Context, job *registry.Job) error {
	if job.ProcessorServiceID == 0 {
		return nil
	}
	if job.Status != registry.StatusFailed && job.Status != registry.StatusFinished {
		return nil
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	svc, err := c.store.GetServiceByID(ctx, job.ProcessorServiceID)
	if err != nil || svc == nil {
		return err
	}

	if job.Status == registry.StatusFinished {
		if svc.State == registry.ServiceWarning {
			return c.setServiceState(ctx, svc, registry.ServiceNormal, 0)
		}
		return nil
	}

	if job.FailureReason == registry.FailureData {
		return nil
	}
	signature := job.Signature()
	related, err := c.relatedServices(ctx, job.JobType, signature)
	if err != nil {
		return err
	}
	if len(related) > 0 {
		for _, other := range related {
			if other.ID == svc.ID {
				continue
			}
			switch other.State {
			case registry.ServiceWarning:
				err = c.setServiceState(ctx, other, registry.ServiceNormal, signature)
			case registry.ServiceError:
				err = c.setServiceState(ctx, other, registry.ServiceWarning, other.WarningStateTrigger)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	switch svc.State {
	case registry.ServiceNormal:
		return c.setServiceState(ctx, svc, registry.ServiceWarning, signature)
	case registry.ServiceWarning:
		if !c.errorStatesEnabled(job.JobType) {
			return nil
		}
		failures, err := c.store.FailedSince(ctx, svc.ID, svc.StateChanged)
		if err != nil {
			return err
		}
		if failures >= c.maxAttempts {
			c.logger.Debug("failure history reached error threshold",
				logging.String(logging.FieldServiceType, svc.ServiceType),
				logging.String(logging.FieldHost, svc.Host),
				logging.Int("failures", failures),
				logging.Int("max_attempts", c.maxAttempts),
			)
			return c.setServiceState(ctx, svc, registry.ServiceError, signature)
		}
	}
	return nil
}

func (c *Coordinator) relatedServices(ctx context.Context, jobType string, signature int64) ([]*registry.Service, error) {
	services, err := c.store.ListServices(ctx, registry.ServiceFilter{ServiceType: jobType})
	if err != nil {
		return nil, err
	}
	var related []*registry.Service
	for _, svc := range services {
		switch {
		case svc.State == registry.ServiceWarning && svc.WarningStateTrigger == signature:
			related = append(related, svc)
		case svc.State == registry.ServiceError && svc.ErrorStateTrigger == signature:
			related = append(related, svc)
		}
	}
	return related, nil
}

func (c *Coordinator) errorStatesEnabled(serviceType string) bool {
	if c.maxAttempts < 0 {
		return false
	}
	_, excluded := c.noErrorTypes[serviceType]
	return !excluded
}
