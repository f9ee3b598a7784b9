package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"registrar/internal/registry"
)

const scrapeTimeout = 5 * time.Second

// Source supplies the registry state exported as gauges.
type Source interface {
	HostRegistrations(ctx context.Context) ([]*registry.Host, error)
	CurrentHostLoads(ctx context.Context) (registry.SystemLoad, error)
	ServiceRegistrations(ctx context.Context) ([]*registry.Service, error)
	StatusCounts(ctx context.Context) (map[registry.Status]int, error)
}

type registryCollector struct {
	source Source

	hostLoad        *prometheus.Desc
	hostMaxLoad     *prometheus.Desc
	hostOnline      *prometheus.Desc
	hostMaintenance *prometheus.Desc
	serviceState    *prometheus.Desc
	jobs            *prometheus.Desc
	scrapeErrors    *prometheus.Desc
}

func newRegistryCollector(source Source) *registryCollector {
	return &registryCollector{
		source:          source,
		hostLoad:        prometheus.NewDesc("registrar_host_load", "Load of running jobs per host", []string{"host"}, nil),
		hostMaxLoad:     prometheus.NewDesc("registrar_host_max_load", "Maximum load per host", []string{"host"}, nil),
		hostOnline:      prometheus.NewDesc("registrar_host_online", "Whether a host is online", []string{"host"}, nil),
		hostMaintenance: prometheus.NewDesc("registrar_host_maintenance", "Whether a host is in maintenance", []string{"host"}, nil),
		serviceState:    prometheus.NewDesc("registrar_service_state", "Failover state per service registration", []string{"type", "host", "state"}, nil),
		jobs:            prometheus.NewDesc("registrar_jobs", "Jobs per status", []string{"status"}, nil),
		scrapeErrors:    prometheus.NewDesc("registrar_scrape_errors", "Registry queries that failed during this scrape", nil, nil),
	}
}

func (c *registryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hostLoad
	ch <- c.hostMaxLoad
	ch <- c.hostOnline
	ch <- c.hostMaintenance
	ch <- c.serviceState
	ch <- c.jobs
	ch <- c.scrapeErrors
}

func (c *registryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()
	failures := 0

	if hosts, err := c.source.HostRegistrations(ctx); err == nil {
		for _, host := range hosts {
			ch <- prometheus.MustNewConstMetric(c.hostMaxLoad, prometheus.GaugeValue, host.MaxLoad, host.BaseURL)
			ch <- prometheus.MustNewConstMetric(c.hostOnline, prometheus.GaugeValue, boolValue(host.Online), host.BaseURL)
			ch <- prometheus.MustNewConstMetric(c.hostMaintenance, prometheus.GaugeValue, boolValue(host.Maintenance), host.BaseURL)
		}
	} else {
		failures++
	}

	if loads, err := c.source.CurrentHostLoads(ctx); err == nil {
		for host, load := range loads {
			ch <- prometheus.MustNewConstMetric(c.hostLoad, prometheus.GaugeValue, load.CurrentLoad, host)
		}
	} else {
		failures++
	}

	if services, err := c.source.ServiceRegistrations(ctx); err == nil {
		for _, svc := range services {
			for _, state := range serviceStates {
				ch <- prometheus.MustNewConstMetric(c.serviceState, prometheus.GaugeValue,
					boolValue(svc.State == state), svc.ServiceType, svc.Host, string(state))
			}
		}
	} else {
		failures++
	}

	if counts, err := c.source.StatusCounts(ctx); err == nil {
		for _, status := range registry.AllStatuses {
			ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(counts[status]), string(status))
		}
	} else {
		failures++
	}

	ch <- prometheus.MustNewConstMetric(c.scrapeErrors, prometheus.GaugeValue, float64(failures))
}

func boolValue(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
