package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// DatabaseHealth describes the state of the registry database file.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	Hosts            int
	Services         int
	Jobs             int
	Error            string
}

var requiredTables = []string{"hosts", "services", "jobs"}

// CheckHealth returns diagnostic information about the registry database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("registry database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat registry database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("registry database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping registry database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	counts := map[string]*int{"hosts": &health.Hosts, "services": &health.Services, "jobs": &health.Jobs}
	for _, table := range requiredTables {
		var present int
		if err := s.db.QueryRowContext(connCtx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&present); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("query table %s: %w", table, err)
		}
		if present == 0 {
			health.MissingTables = append(health.MissingTables, table)
			continue
		}
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM "+table).Scan(counts[table]); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count %s: %w", table, err)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")
	return health, nil
}
