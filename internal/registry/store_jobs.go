package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobFilter narrows job queries. Zero values match everything.
type JobFilter struct {
	JobType            string
	Operation          string
	Statuses           []Status
	ProcessorHost      string
	ProcessorServiceID int64
	ParentID           int64
	RootID             int64
	NoParent           bool
	Dispatchable       *bool
	CreatedBefore      time.Time
	ExcludeOperations  []string
	AfterID            int64
	Limit              int
	Offset             int
}

func (f JobFilter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.JobType != "" {
		clauses = append(clauses, "j.job_type = ?")
		args = append(args, f.JobType)
	}
	if f.Operation != "" {
		clauses = append(clauses, "j.operation = ?")
		args = append(args, f.Operation)
	}
	if len(f.Statuses) > 0 {
		clauses = append(clauses, "j.status IN ("+makePlaceholders(len(f.Statuses))+")")
		for _, status := range f.Statuses {
			args = append(args, string(status))
		}
	}
	if f.ProcessorHost != "" {
		clauses = append(clauses, "ph.base_url = ?")
		args = append(args, f.ProcessorHost)
	}
	if f.ProcessorServiceID > 0 {
		clauses = append(clauses, "j.processor_service_id = ?")
		args = append(args, f.ProcessorServiceID)
	}
	if f.ParentID > 0 {
		clauses = append(clauses, "j.parent_id = ?")
		args = append(args, f.ParentID)
	}
	if f.RootID > 0 {
		clauses = append(clauses, "j.root_id = ?")
		args = append(args, f.RootID)
	}
	if f.NoParent {
		clauses = append(clauses, "j.parent_id IS NULL")
	}
	if f.Dispatchable != nil {
		clauses = append(clauses, "j.dispatchable = ?")
		args = append(args, boolToInt(*f.Dispatchable))
	}
	if !f.CreatedBefore.IsZero() {
		clauses = append(clauses, "j.date_created < ?")
		args = append(args, formatTime(f.CreatedBefore))
	}
	if len(f.ExcludeOperations) > 0 {
		clauses = append(clauses, "j.operation NOT IN ("+makePlaceholders(len(f.ExcludeOperations))+")")
		for _, op := range f.ExcludeOperations {
			args = append(args, op)
		}
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "j.id > ?")
		args = append(args, f.AfterID)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// InsertJob stores a new job and returns it as persisted. CreatorServiceID
// must reference an existing registration.
func (s *Store) InsertJob(ctx context.Context, job Job) (*Job, error) {
	args, err := encodeArguments(job.Arguments)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	if job.DateCreated.IsZero() {
		job.DateCreated = time.Now().UTC()
	}
	if job.FailureReason == "" {
		job.FailureReason = FailureNone
	}
	res, err := s.execWithRetry(ctx,
		`INSERT INTO jobs (version, creator, organization, job_type, operation, arguments_json, payload, status,
            failure_reason, creator_service_id, processor_service_id, date_created, date_started, date_completed,
            queue_time_ms, run_time_ms, parent_id, root_id, dispatchable, job_load)
         VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullableString(job.Creator),
		nullableString(job.Organization),
		job.JobType,
		job.Operation,
		args,
		nullableString(job.Payload),
		string(job.Status),
		string(job.FailureReason),
		job.CreatorServiceID,
		nullableID(job.ProcessorServiceID),
		formatTime(job.DateCreated),
		nullableTime(job.DateStarted),
		nullableTime(job.DateCompleted),
		job.QueueTime.Milliseconds(),
		job.RunTime.Milliseconds(),
		nullableIDPtr(job.ParentID),
		nullableIDPtr(job.RootID),
		boolToInt(job.Dispatchable),
		job.JobLoad,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob returns the job with id, or nil when unknown.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+" WHERE j.id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	return job, nil
}

// UpdateJob persists the mutable fields of job when its version matches the
// stored one, then advances job.Version. A stale version yields
// ErrOptimisticLock; a missing job yields ErrNotFound.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	args, err := encodeArguments(job.Arguments)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if job.FailureReason == "" {
		job.FailureReason = FailureNone
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET version = version + 1, operation = ?, arguments_json = ?, payload = ?, status = ?,
            failure_reason = ?, processor_service_id = ?, date_started = ?, date_completed = ?,
            queue_time_ms = ?, run_time_ms = ?, dispatchable = ?, job_load = ?
         WHERE id = ? AND version = ?`,
		job.Operation,
		args,
		nullableString(job.Payload),
		string(job.Status),
		string(job.FailureReason),
		nullableID(job.ProcessorServiceID),
		nullableTime(job.DateStarted),
		nullableTime(job.DateCompleted),
		job.QueueTime.Milliseconds(),
		job.RunTime.Milliseconds(),
		boolToInt(job.Dispatchable),
		job.JobLoad,
		job.ID,
		job.Version,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM jobs WHERE id = ?", job.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check job %d: %w", job.ID, err)
		}
		if exists == 0 {
			return fmt.Errorf("job %d: %w", job.ID, ErrNotFound)
		}
		return fmt.Errorf("job %d version %d: %w", job.ID, job.Version, ErrOptimisticLock)
	}
	job.Version++
	return nil
}

// DeleteJobs removes the given jobs in order inside one transaction. Callers
// list descendants before their ancestors. Any unknown id aborts the whole
// deletion with ErrNotFound.
func (s *Store) DeleteJobs(ctx context.Context, ids []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			res, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
			if err != nil {
				return fmt.Errorf("delete job %d: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("job %d: %w", id, ErrNotFound)
			}
		}
		return nil
	})
}

// ListJobs returns jobs matching filter ordered by id.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	where, args := filter.where()
	query := jobSelect + where + " ORDER BY j.id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}
	return s.queryJobs(ctx, query, args...)
}

// CountJobs counts jobs matching filter. Limit and offset are ignored.
func (s *Store) CountJobs(ctx context.Context, filter JobFilter) (int, error) {
	where, args := filter.where()
	query := `SELECT COUNT(1) FROM jobs j
LEFT JOIN services ps ON ps.id = j.processor_service_id
LEFT JOIN hosts ph ON ph.id = ps.host_id` + where
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// ListDescendants returns every job below id in the parent hierarchy,
// shallowest first.
func (s *Store) ListDescendants(ctx context.Context, id int64) ([]*Job, error) {
	query := `WITH RECURSIVE tree(id, depth) AS (
    SELECT id, 1 FROM jobs WHERE parent_id = ?
    UNION ALL
    SELECT c.id, t.depth + 1 FROM jobs c JOIN tree t ON c.parent_id = t.id
)
` + jobSelect + ` JOIN tree ON tree.id = j.id ORDER BY tree.depth, j.id`
	return s.queryJobs(ctx, query, id)
}

// Payloads returns the payloads of jobs running operation, ordered by id.
func (s *Store) Payloads(ctx context.Context, operation string, limit, offset int) ([]string, error) {
	query := "SELECT COALESCE(payload, '') FROM jobs WHERE operation = ? ORDER BY id"
	args := []any{operation}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payloads: %w", err)
	}
	defer rows.Close()

	var payloads []string
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan payload: %w", err)
		}
		payloads = append(payloads, payload)
	}
	return payloads, rows.Err()
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
