package coordinator

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"

	"registrar/internal/registry"
)

// loadTolerance is the load factor difference below which two hosts count
// as equally busy.
const loadTolerance = 0.01

// CurrentHostLoads reports the load of RUNNING non-workflow jobs on every
// registered host. Idle hosts are present with a current load of 0.
func (c *Coordinator) CurrentHostLoads(ctx context.Context) (registry.SystemLoad, error) {
	hosts, err := c.store.ListHosts(ctx)
	if err != nil {
		return nil, err
	}
	loads, err := c.store.HostLoads(ctx)
	if err != nil {
		return nil, err
	}
	system := make(registry.SystemLoad, len(hosts))
	for _, host := range hosts {
		system[host.BaseURL] = registry.NodeLoad{
			Host:        host.BaseURL,
			CurrentLoad: loads[host.BaseURL],
			MaxLoad:     host.MaxLoad,
		}
	}
	return system, nil
}

// MaxLoads reports the maximum load of every registered host.
func (c *Coordinator) MaxLoads(ctx context.Context) (registry.SystemLoad, error) {
	hosts, err := c.store.ListHosts(ctx)
	if err != nil {
		return nil, err
	}
	system := make(registry.SystemLoad, len(hosts))
	for _, host := range hosts {
		system[host.BaseURL] = registry.NodeLoad{Host: host.BaseURL, MaxLoad: host.MaxLoad}
	}
	return system, nil
}

// MaxLoadOnNode reports the maximum load of one host.
func (c *Coordinator) MaxLoadOnNode(ctx context.Context, host string) (registry.NodeLoad, error) {
	reg, err := c.HostRegistration(ctx, host)
	if err != nil {
		return registry.NodeLoad{}, err
	}
	return registry.NodeLoad{Host: reg.BaseURL, MaxLoad: reg.MaxLoad}, nil
}

// OwnLoad reports the load of jobs running on the registry's own host as
// seen through job updates.
func (c *Coordinator) OwnLoad() float64 {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	return c.ownLoad
}

// trackLoad keeps the local load cache in step with a persisted job.
func (c *Coordinator) trackLoad(job *registry.Job) {
	if job.IsWorkflow() || job.JobLoad <= 0 {
		return
	}
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	current, tracked := c.localLoad[job.ID]
	running := job.Status == registry.StatusRunning && job.ProcessingHost == c.ownHost
	switch {
	case running && !tracked:
		c.localLoad[job.ID] = job.JobLoad
		c.ownLoad += job.JobLoad
	case !running && tracked:
		delete(c.localLoad, job.ID)
		c.ownLoad -= current
	}
	if len(c.localLoad) == 0 {
		c.ownLoad = 0
	}
}

// ServiceRegistrationsByLoad returns the registrations of serviceType that
// can receive jobs, least loaded first.
func (c *Coordinator) ServiceRegistrationsByLoad(ctx context.Context, serviceType string) ([]*registry.Service, error) {
	return c.registrationsForDispatch(ctx, serviceType, false)
}

// ServiceRegistrationsWithCapacity is ServiceRegistrationsByLoad limited to
// hosts whose current load is below their maximum.
func (c *Coordinator) ServiceRegistrationsWithCapacity(ctx context.Context, serviceType string) ([]*registry.Service, error) {
	return c.registrationsForDispatch(ctx, serviceType, true)
}

func (c *Coordinator) registrationsForDispatch(ctx context.Context, serviceType string, withCapacity bool) ([]*registry.Service, error) {
	if blank(serviceType) {
		return nil, fmt.Errorf("%w: service type must not be blank", registry.ErrInvalidArgument)
	}
	services, err := c.store.ListServices(ctx, registry.ServiceFilter{ServiceType: serviceType})
	if err != nil {
		return nil, err
	}
	hosts, err := c.store.ListHosts(ctx)
	if err != nil {
		return nil, err
	}
	eligible := make([]string, 0, len(hosts))
	for _, host := range hosts {
		eligible = append(eligible, host.BaseURL)
	}
	loads, err := c.CurrentHostLoads(ctx)
	if err != nil {
		return nil, err
	}
	return c.Candidates(serviceType, services, eligible, loads, withCapacity), nil
}

// Candidates filters services down to those that may process a job of
// jobType and orders them by preference. A registration qualifies when its
// host is eligible, it is online and active, not in ERROR and not in
// maintenance. withCapacity additionally drops hosts whose current load has
// reached their maximum; hosts missing from loads are kept.
func (c *Coordinator) Candidates(jobType string, services []*registry.Service, eligible []string, loads registry.SystemLoad, withCapacity bool) []*registry.Service {
	allowed := toSet(eligible)
	candidates := make([]*registry.Service, 0, len(services))
	for _, svc := range services {
		if svc.ServiceType != jobType {
			continue
		}
		if _, ok := allowed[svc.Host]; !ok {
			continue
		}
		if svc.State == registry.ServiceError || svc.Maintenance || !svc.Online || !svc.Active {
			continue
		}
		if withCapacity {
			if load, ok := loads.Get(svc.Host); ok && load.Exceeds() {
				continue
			}
		}
		candidates = append(candidates, svc)
	}

	compare := compareLoad
	if jobType == registry.ComposerType && len(c.encodingWorkers) > 0 {
		compare = c.compareEncoding
	}
	slices.SortStableFunc(candidates, func(a, b *registry.Service) int {
		return compare(nodeLoad(loads, a.Host), nodeLoad(loads, b.Host))
	})
	return candidates
}

func nodeLoad(loads registry.SystemLoad, host string) registry.NodeLoad {
	if load, ok := loads.Get(host); ok {
		return load
	}
	return registry.NodeLoad{Host: host}
}

// compareLoad prefers the lower load factor. Hosts within loadTolerance of
// each other are ordered by descending max load.
func compareLoad(a, b registry.NodeLoad) int {
	fa, fb := a.LoadFactor(), b.LoadFactor()
	if math.Abs(fa-fb) <= loadTolerance {
		return cmp.Compare(b.MaxLoad, a.MaxLoad)
	}
	return cmp.Compare(fa, fb)
}

// compareEncoding prefers encoding workers while their load factor stays at
// or below the encoding threshold.
func (c *Coordinator) compareEncoding(a, b registry.NodeLoad) int {
	_, aEncoding := c.encodingWorkers[a.Host]
	_, bEncoding := c.encodingWorkers[b.Host]
	switch {
	case aEncoding == bEncoding:
		return compareLoad(a, b)
	case aEncoding && a.LoadFactor() <= c.encodingThreshold:
		return -1
	case bEncoding && b.LoadFactor() <= c.encodingThreshold:
		return 1
	default:
		return cmp.Compare(a.LoadFactor(), b.LoadFactor())
	}
}
