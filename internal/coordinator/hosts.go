package coordinator

import (
	"context"
	"fmt"
	"strings"

	"registrar/internal/logging"
	"registrar/internal/registry"
)

// RegisterHost adds a host or refreshes a known one. New hosts start online,
// active and out of maintenance; known hosts are brought back online. A
// non-positive max load falls back to the number of cores.
func (c *Coordinator) RegisterHost(ctx context.Context, host registry.Host) (*registry.Host, error) {
	host.BaseURL = strings.TrimRight(strings.TrimSpace(host.BaseURL), "/")
	if host.BaseURL == "" {
		return nil, fmt.Errorf("%w: host base url must not be blank", registry.ErrInvalidArgument)
	}
	if host.MaxLoad <= 0 {
		host.MaxLoad = float64(host.Cores)
	}
	registered, err := c.store.UpsertHost(ctx, host)
	if err != nil {
		return nil, err
	}
	c.logger.Info("host registered",
		logging.String(logging.FieldHost, registered.BaseURL),
		logging.String("address", registered.Address),
		logging.Int("cores", registered.Cores),
		logging.Float64("max_load", registered.MaxLoad),
		logging.String(logging.FieldEventType, "host_registered"),
	)
	return registered, nil
}

// UnregisterHost takes a host offline and unregisters every service on it.
func (c *Coordinator) UnregisterHost(ctx context.Context, baseURL string) error {
	host, err := c.HostRegistration(ctx, baseURL)
	if err != nil {
		return err
	}
	if err := c.store.SetHostOnline(ctx, host.BaseURL, false); err != nil {
		return err
	}
	services, err := c.store.ListServices(ctx, registry.ServiceFilter{Host: host.BaseURL})
	if err != nil {
		return err
	}
	for _, svc := range services {
		if err := c.UnregisterService(ctx, svc.ServiceType, svc.Host); err != nil {
			return err
		}
	}
	c.logger.Info("host unregistered",
		logging.String(logging.FieldHost, host.BaseURL),
		logging.Int("services", len(services)),
		logging.String(logging.FieldEventType, "host_unregistered"),
	)
	return nil
}

// EnableHost marks a host and all of its services active.
func (c *Coordinator) EnableHost(ctx context.Context, baseURL string) error {
	return c.setHostActive(ctx, baseURL, true)
}

// DisableHost marks a host and all of its services inactive.
func (c *Coordinator) DisableHost(ctx context.Context, baseURL string) error {
	return c.setHostActive(ctx, baseURL, false)
}

func (c *Coordinator) setHostActive(ctx context.Context, baseURL string, active bool) error {
	if err := c.store.SetHostActive(ctx, baseURL, active); err != nil {
		return err
	}
	c.logger.Info("host activation changed",
		logging.String(logging.FieldHost, baseURL),
		logging.Bool("active", active),
	)
	return nil
}

// SetMaintenanceStatus toggles maintenance mode. Services on a host in
// maintenance receive no new jobs.
func (c *Coordinator) SetMaintenanceStatus(ctx context.Context, baseURL string, maintenance bool) error {
	if err := c.store.SetHostMaintenance(ctx, baseURL, maintenance); err != nil {
		return err
	}
	c.logger.Info("host maintenance changed",
		logging.String(logging.FieldHost, baseURL),
		logging.Bool("maintenance", maintenance),
		logging.String(logging.FieldEventType, "host_maintenance"),
	)
	return nil
}

// HostRegistrations lists every known host.
func (c *Coordinator) HostRegistrations(ctx context.Context) ([]*registry.Host, error) {
	return c.store.ListHosts(ctx)
}

// HostRegistration returns a single host or ErrNotFound.
func (c *Coordinator) HostRegistration(ctx context.Context, baseURL string) (*registry.Host, error) {
	host, err := c.store.GetHost(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, fmt.Errorf("host %s: %w", baseURL, registry.ErrNotFound)
	}
	return host, nil
}
