package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceFilter narrows ListServices. Zero values match everything.
type ServiceFilter struct {
	ServiceType string
	Host        string
	OnlineOnly  bool
}

// InsertService registers a new service on a known host.
func (s *Store) InsertService(ctx context.Context, svc Service) (*Service, error) {
	host, err := s.GetHost(ctx, svc.Host)
	if err != nil {
		return nil, err
	}
	if host == nil {
		return nil, fmt.Errorf("host %s: %w", svc.Host, ErrNotFound)
	}
	if svc.State == "" {
		svc.State = ServiceNormal
	}
	now := time.Now().UTC()
	if svc.OnlineFrom.IsZero() {
		svc.OnlineFrom = now
	}
	if svc.StateChanged.IsZero() {
		svc.StateChanged = now
	}
	_, err = s.execWithRetry(ctx,
		`INSERT INTO services (service_type, host_id, path, job_producer, online, active, online_from, state,
            state_changed, warning_state_trigger, error_state_trigger)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		svc.ServiceType,
		host.ID,
		svc.Path,
		boolToInt(svc.JobProducer),
		boolToInt(svc.Online),
		boolToInt(svc.Active),
		formatTime(svc.OnlineFrom),
		string(svc.State),
		formatTime(svc.StateChanged),
		svc.WarningStateTrigger,
		svc.ErrorStateTrigger,
	)
	if err != nil {
		return nil, fmt.Errorf("insert service %s@%s: %w", svc.ServiceType, svc.Host, err)
	}
	return s.GetService(ctx, svc.ServiceType, svc.Host)
}

// UpdateService persists the mutable fields of a registration.
func (s *Store) UpdateService(ctx context.Context, svc *Service) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE services SET path = ?, job_producer = ?, online = ?, active = ?, online_from = ?, state = ?,
            state_changed = ?, warning_state_trigger = ?, error_state_trigger = ?
         WHERE id = ?`,
		svc.Path,
		boolToInt(svc.JobProducer),
		boolToInt(svc.Online),
		boolToInt(svc.Active),
		formatTime(svc.OnlineFrom),
		string(svc.State),
		formatTime(svc.StateChanged),
		svc.WarningStateTrigger,
		svc.ErrorStateTrigger,
		svc.ID,
	)
	if err != nil {
		return fmt.Errorf("update service %s@%s: %w", svc.ServiceType, svc.Host, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("service %s@%s: %w", svc.ServiceType, svc.Host, ErrNotFound)
	}
	return nil
}

// GetService returns the registration of serviceType on host, or nil when unknown.
func (s *Store) GetService(ctx context.Context, serviceType, host string) (*Service, error) {
	row := s.db.QueryRowContext(ctx, serviceSelect+" WHERE s.service_type = ? AND h.base_url = ?", serviceType, host)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service %s@%s: %w", serviceType, host, err)
	}
	return svc, nil
}

// GetServiceByID returns a registration by id, or nil when unknown.
func (s *Store) GetServiceByID(ctx context.Context, id int64) (*Service, error) {
	row := s.db.QueryRowContext(ctx, serviceSelect+" WHERE s.id = ?", id)
	svc, err := scanService(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get service %d: %w", id, err)
	}
	return svc, nil
}

// ListServices returns registrations ordered by service type then host.
func (s *Store) ListServices(ctx context.Context, filter ServiceFilter) ([]*Service, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.ServiceType != "" {
		clauses = append(clauses, "s.service_type = ?")
		args = append(args, filter.ServiceType)
	}
	if filter.Host != "" {
		clauses = append(clauses, "h.base_url = ?")
		args = append(args, filter.Host)
	}
	if filter.OnlineOnly {
		clauses = append(clauses, "s.online = 1")
	}
	query := serviceSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY s.service_type, h.base_url"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list services: %w", err)
	}
	defer rows.Close()

	var services []*Service
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}
