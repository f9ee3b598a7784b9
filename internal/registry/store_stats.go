package registry

import (
	"context"
	"fmt"
	"time"
)

// HostLoads sums the load of running non-workflow jobs per processing host.
// Hosts without running jobs are absent from the result.
func (s *Store) HostLoads(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.base_url, COALESCE(SUM(j.job_load), 0)
         FROM jobs j
         JOIN services ps ON ps.id = j.processor_service_id
         JOIN hosts h ON h.id = ps.host_id
         WHERE j.status = ? AND j.job_type <> ?
         GROUP BY h.base_url`,
		string(StatusRunning), WorkflowType,
	)
	if err != nil {
		return nil, fmt.Errorf("host loads: %w", err)
	}
	defer rows.Close()

	loads := make(map[string]float64)
	for rows.Next() {
		var (
			host string
			load float64
		)
		if err := rows.Scan(&host, &load); err != nil {
			return nil, fmt.Errorf("scan host load: %w", err)
		}
		loads[host] = load
	}
	return loads, rows.Err()
}

// ServiceJobCounts holds per-registration job counts and mean timings.
type ServiceJobCounts struct {
	Running       int
	Queued        int
	Finished      int
	MeanRunTime   time.Duration
	MeanQueueTime time.Duration
}

// ServiceJobStats aggregates jobs created at or after since per registration.
// Jobs without a processor are attributed to the registration that created
// them; QUEUED and DISPATCHING jobs both count as queued.
func (s *Store) ServiceJobStats(ctx context.Context, since time.Time) (map[int64]ServiceJobCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(j.processor_service_id, j.creator_service_id) AS sid, j.status, COUNT(1),
            COALESCE(AVG(j.run_time_ms), 0), COALESCE(AVG(j.queue_time_ms), 0)
         FROM jobs j
         WHERE j.date_created >= ? AND j.status IN (?, ?, ?, ?)
         GROUP BY sid, j.status`,
		formatTime(since),
		string(StatusRunning), string(StatusQueued), string(StatusDispatching), string(StatusFinished),
	)
	if err != nil {
		return nil, fmt.Errorf("service job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[int64]ServiceJobCounts)
	for rows.Next() {
		var (
			serviceID int64
			status    string
			count     int
			meanRun   float64
			meanQueue float64
		)
		if err := rows.Scan(&serviceID, &status, &count, &meanRun, &meanQueue); err != nil {
			return nil, fmt.Errorf("scan service job stats: %w", err)
		}
		entry := stats[serviceID]
		switch Status(status) {
		case StatusRunning:
			entry.Running += count
		case StatusQueued, StatusDispatching:
			entry.Queued += count
		case StatusFinished:
			entry.Finished += count
			entry.MeanRunTime = time.Duration(meanRun) * time.Millisecond
			entry.MeanQueueTime = time.Duration(meanQueue) * time.Millisecond
		}
		stats[serviceID] = entry
	}
	return stats, rows.Err()
}

// HostJobStats counts running and queued jobs per host.
func (s *Store) HostJobStats(ctx context.Context) ([]HostStatistics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT h.base_url,
            SUM(CASE WHEN j.status = ? THEN 1 ELSE 0 END),
            SUM(CASE WHEN j.status IN (?, ?) THEN 1 ELSE 0 END)
         FROM jobs j
         JOIN services s ON s.id = COALESCE(j.processor_service_id, j.creator_service_id)
         JOIN hosts h ON h.id = s.host_id
         WHERE j.status IN (?, ?, ?)
         GROUP BY h.base_url
         ORDER BY h.base_url`,
		string(StatusRunning), string(StatusQueued), string(StatusDispatching),
		string(StatusRunning), string(StatusQueued), string(StatusDispatching),
	)
	if err != nil {
		return nil, fmt.Errorf("host job stats: %w", err)
	}
	defer rows.Close()

	var stats []HostStatistics
	for rows.Next() {
		var entry HostStatistics
		if err := rows.Scan(&entry.Host, &entry.Running, &entry.Queued); err != nil {
			return nil, fmt.Errorf("scan host job stats: %w", err)
		}
		stats = append(stats, entry)
	}
	return stats, rows.Err()
}

// FailedSince counts the non-data failures of a registration completed at or
// after since.
func (s *Store) FailedSince(ctx context.Context, serviceID int64, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs
         WHERE processor_service_id = ? AND status = ? AND failure_reason <> ? AND date_completed >= ?`,
		serviceID, string(StatusFailed), string(FailureData), formatTime(since),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count failed jobs: %w", err)
	}
	return count, nil
}

// StatusCounts returns the number of jobs per status.
func (s *Store) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[Status(status)] = count
	}
	return counts, rows.Err()
}
