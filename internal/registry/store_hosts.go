package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertHost inserts a host or refreshes the registration of a known one.
// New hosts start online, active and out of maintenance; known hosts are
// brought back online and keep their active and maintenance flags.
func (s *Store) UpsertHost(ctx context.Context, host Host) (*Host, error) {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO hosts (base_url, address, node_name, memory, cores, max_load, online, active, maintenance)
         VALUES (?, ?, ?, ?, ?, ?, 1, 1, 0)
         ON CONFLICT(base_url) DO UPDATE SET
            address = excluded.address,
            node_name = excluded.node_name,
            memory = excluded.memory,
            cores = excluded.cores,
            max_load = excluded.max_load,
            online = 1`,
		host.BaseURL,
		nullableString(host.Address),
		nullableString(host.NodeName),
		host.Memory,
		host.Cores,
		host.MaxLoad,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert host %s: %w", host.BaseURL, err)
	}
	return s.GetHost(ctx, host.BaseURL)
}

// GetHost returns the host registered under baseURL, or nil when unknown.
func (s *Store) GetHost(ctx context.Context, baseURL string) (*Host, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+hostColumns+" FROM hosts WHERE base_url = ?", baseURL)
	host, err := scanHost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get host %s: %w", baseURL, err)
	}
	return host, nil
}

// ListHosts returns every registered host ordered by base URL.
func (s *Store) ListHosts(ctx context.Context) ([]*Host, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+hostColumns+" FROM hosts ORDER BY base_url")
	if err != nil {
		return nil, fmt.Errorf("list hosts: %w", err)
	}
	defer rows.Close()

	var hosts []*Host
	for rows.Next() {
		host, err := scanHost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		hosts = append(hosts, host)
	}
	return hosts, rows.Err()
}

// SetHostOnline flips the online flag of a host.
func (s *Store) SetHostOnline(ctx context.Context, baseURL string, online bool) error {
	return s.updateHostFlag(ctx, "online", baseURL, online)
}

// SetHostMaintenance flips the maintenance flag of a host.
func (s *Store) SetHostMaintenance(ctx context.Context, baseURL string, maintenance bool) error {
	return s.updateHostFlag(ctx, "maintenance", baseURL, maintenance)
}

// SetHostActive flips the active flag of a host and of every service on it.
func (s *Store) SetHostActive(ctx context.Context, baseURL string, active bool) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE hosts SET active = ? WHERE base_url = ?", boolToInt(active), baseURL)
		if err != nil {
			return fmt.Errorf("update host active: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("host %s: %w", baseURL, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE services SET active = ? WHERE host_id = (SELECT id FROM hosts WHERE base_url = ?)",
			boolToInt(active), baseURL,
		); err != nil {
			return fmt.Errorf("update service active: %w", err)
		}
		return nil
	})
}

func (s *Store) updateHostFlag(ctx context.Context, column, baseURL string, value bool) error {
	res, err := s.execWithRetry(ctx, "UPDATE hosts SET "+column+" = ? WHERE base_url = ?", boolToInt(value), baseURL)
	if err != nil {
		return fmt.Errorf("update host %s: %w", column, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("host %s: %w", baseURL, ErrNotFound)
	}
	return nil
}
