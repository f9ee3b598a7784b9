package coordinator

import (
	"context"
	"fmt"
	"strings"

	"registrar/internal/logging"
	"registrar/internal/registry"
)

// RegisterService brings a service registration online. A new registration
// requires a path; a known one keeps its path unless a new one is given.
// Jobs still marked as running on a known registration are cleaned first.
func (c *Coordinator) RegisterService(ctx context.Context, serviceType, host, path string, jobProducer bool) (*registry.Service, error) {
	serviceType = strings.TrimSpace(serviceType)
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	path = strings.TrimSpace(path)
	if blank(serviceType, host) {
		return nil, fmt.Errorf("%w: service type and host must not be blank", registry.ErrInvalidArgument)
	}
	hostReg, err := c.HostRegistration(ctx, host)
	if err != nil {
		return nil, err
	}

	existing, err := c.store.GetService(ctx, serviceType, host)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With(
		logging.String(logging.FieldServiceType, serviceType),
		logging.String(logging.FieldHost, host),
	)
	if existing == nil {
		if path == "" {
			return nil, fmt.Errorf("%w: path must not be blank when registering %s@%s", registry.ErrInvalidArgument, serviceType, host)
		}
		now := c.now()
		svc, err := c.store.InsertService(ctx, registry.Service{
			ServiceType:  serviceType,
			Host:         host,
			Path:         path,
			JobProducer:  jobProducer,
			Online:       true,
			Active:       hostReg.Active,
			OnlineFrom:   now,
			State:        registry.ServiceNormal,
			StateChanged: now,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("service registered", logging.String("path", path), logging.String(logging.FieldEventType, "service_registered"))
		return svc, nil
	}

	if err := c.cleanRunningJobs(ctx, existing); err != nil {
		return nil, err
	}
	if path != "" {
		existing.Path = path
	}
	if !existing.Online {
		existing.OnlineFrom = c.now()
	}
	existing.Online = true
	existing.JobProducer = jobProducer
	if err := c.store.UpdateService(ctx, existing); err != nil {
		return nil, err
	}
	logger.Info("service back online", logging.String("path", existing.Path), logging.String(logging.FieldEventType, "service_registered"))
	return existing, nil
}

// UnregisterService takes a registration offline and cleans the jobs it was
// running.
func (c *Coordinator) UnregisterService(ctx context.Context, serviceType, host string) error {
	svc, err := c.requireService(ctx, serviceType, host)
	if err != nil {
		return err
	}
	svc.Online = false
	if err := c.store.UpdateService(ctx, svc); err != nil {
		return err
	}
	c.logger.Info("service unregistered",
		logging.String(logging.FieldServiceType, svc.ServiceType),
		logging.String(logging.FieldHost, svc.Host),
		logging.String(logging.FieldEventType, "service_unregistered"),
	)
	return c.cleanRunningJobs(ctx, svc)
}

// ServiceRegistrations lists every registration ordered by type then host.
func (c *Coordinator) ServiceRegistrations(ctx context.Context) ([]*registry.Service, error) {
	return c.store.ListServices(ctx, registry.ServiceFilter{})
}

// ServiceRegistrationsByType lists the registrations of one service type.
func (c *Coordinator) ServiceRegistrationsByType(ctx context.Context, serviceType string) ([]*registry.Service, error) {
	return c.store.ListServices(ctx, registry.ServiceFilter{ServiceType: serviceType})
}

// ServiceRegistrationsByHost lists the registrations on one host.
func (c *Coordinator) ServiceRegistrationsByHost(ctx context.Context, host string) ([]*registry.Service, error) {
	return c.store.ListServices(ctx, registry.ServiceFilter{Host: host})
}

// ServiceRegistration returns the registration of serviceType on host, or
// nil when there is none.
func (c *Coordinator) ServiceRegistration(ctx context.Context, serviceType, host string) (*registry.Service, error) {
	return c.store.GetService(ctx, serviceType, host)
}

// Sanitize resets a registration to NORMAL.
func (c *Coordinator) Sanitize(ctx context.Context, serviceType, host string) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	svc, err := c.requireService(ctx, serviceType, host)
	if err != nil {
		return err
	}
	c.logger.Info("service state reset by sanitize",
		logging.String(logging.FieldServiceType, svc.ServiceType),
		logging.String(logging.FieldHost, svc.Host),
		logging.String("previous_state", string(svc.State)),
	)
	return c.setServiceState(ctx, svc, registry.ServiceNormal, 0)
}

// CountOfAbnormalServices counts registrations in WARNING or ERROR.
func (c *Coordinator) CountOfAbnormalServices(ctx context.Context) (int, error) {
	services, err := c.store.ListServices(ctx, registry.ServiceFilter{})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, svc := range services {
		if svc.State != registry.ServiceNormal {
			count++
		}
	}
	return count, nil
}

// Health counts registrations per state, optionally narrowed by service type
// and host. Naming both a type and a host that have no registration yields
// ErrNotFound.
func (c *Coordinator) Health(ctx context.Context, serviceType, host string) (registry.ServiceHealth, error) {
	var health registry.ServiceHealth
	services, err := c.store.ListServices(ctx, registry.ServiceFilter{ServiceType: serviceType, Host: host})
	if err != nil {
		return health, err
	}
	if serviceType != "" && host != "" && len(services) == 0 {
		return health, fmt.Errorf("service %s@%s: %w", serviceType, host, registry.ErrNotFound)
	}
	for _, svc := range services {
		switch svc.State {
		case registry.ServiceWarning:
			health.Warning++
		case registry.ServiceError:
			health.Error++
		default:
			health.Healthy++
		}
	}
	return health, nil
}

func (c *Coordinator) requireService(ctx context.Context, serviceType, host string) (*registry.Service, error) {
	svc, err := c.store.GetService(ctx, serviceType, host)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, fmt.Errorf("service %s@%s: %w", serviceType, host, registry.ErrNotFound)
	}
	return svc, nil
}

// setServiceState persists a state transition. NORMAL clears both triggers
// unless trigger names the job whose failure elsewhere caused the reset;
// WARNING records its trigger and clears the error trigger; ERROR records its
// trigger and keeps the warning trigger. Callers hold stateMu.
func (c *Coordinator) setServiceState(ctx context.Context, svc *registry.Service, state registry.ServiceState, trigger int64) error {
	previous := svc.State
	svc.State = state
	svc.StateChanged = c.now()
	switch state {
	case registry.ServiceNormal:
		if trigger == 0 {
			svc.WarningStateTrigger = 0
			svc.ErrorStateTrigger = 0
		}
	case registry.ServiceWarning:
		svc.WarningStateTrigger = trigger
		svc.ErrorStateTrigger = 0
	case registry.ServiceError:
		svc.ErrorStateTrigger = trigger
	}
	if err := c.store.UpdateService(ctx, svc); err != nil {
		return err
	}
	if previous != state {
		attrs := []logging.Attr{
			logging.String(logging.FieldServiceType, svc.ServiceType),
			logging.String(logging.FieldHost, svc.Host),
			logging.String("previous_state", string(previous)),
			logging.String("state", string(state)),
			logging.Int64("trigger", trigger),
			logging.String(logging.FieldEventType, "service_state_changed"),
		}
		if state == registry.ServiceError {
			logging.WarnWithContext(c.logger, "service entered error state", "service_state_changed",
				append(attrs,
					logging.String(logging.FieldErrorHint, "inspect the failing jobs, then run registrar services sanitize"),
					logging.String(logging.FieldImpact, "no jobs will be dispatched to this service"),
				)...)
		} else {
			c.logger.Info("service state changed", logging.Args(attrs...)...)
		}
	}
	c.notifier.ServiceStateChanged(ctx, svc, previous)
	return nil
}
