package coordinator

import (
	"context"
	"time"

	"registrar/internal/registry"
)

// ServiceStatistics reports job counts and mean timings for every
// registration. Counts cover jobs created within the statistics window and
// stay zero unless job statistics collection is enabled.
func (c *Coordinator) ServiceStatistics(ctx context.Context) ([]registry.ServiceStatistics, error) {
	services, err := c.store.ListServices(ctx, registry.ServiceFilter{})
	if err != nil {
		return nil, err
	}
	var counts map[int64]registry.ServiceJobCounts
	if c.cfg.Statistics.CollectJobStats {
		since := c.now().Add(-time.Duration(c.cfg.Statistics.MaxJobAgeDays) * 24 * time.Hour)
		if counts, err = c.store.ServiceJobStats(ctx, since); err != nil {
			return nil, err
		}
	}
	stats := make([]registry.ServiceStatistics, 0, len(services))
	for _, svc := range services {
		entry := registry.ServiceStatistics{Service: *svc}
		if count, ok := counts[svc.ID]; ok {
			entry.RunningJobs = count.Running
			entry.QueuedJobs = count.Queued
			entry.FinishedJobs = count.Finished
			entry.MeanRunTime = count.MeanRunTime
			entry.MeanQueueTime = count.MeanQueueTime
		}
		stats = append(stats, entry)
	}
	return stats, nil
}

// HostStatistics reports running and queued jobs for every registered host.
func (c *Coordinator) HostStatistics(ctx context.Context) ([]registry.HostStatistics, error) {
	hosts, err := c.store.ListHosts(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := c.store.HostJobStats(ctx)
	if err != nil {
		return nil, err
	}
	byHost := make(map[string]registry.HostStatistics, len(counts))
	for _, entry := range counts {
		byHost[entry.Host] = entry
	}
	stats := make([]registry.HostStatistics, 0, len(hosts))
	for _, host := range hosts {
		entry := byHost[host.BaseURL]
		entry.Host = host.BaseURL
		stats = append(stats, entry)
	}
	return stats, nil
}

// StatusCounts reports the number of jobs per status.
func (c *Coordinator) StatusCounts(ctx context.Context) (map[registry.Status]int, error) {
	return c.store.StatusCounts(ctx)
}
