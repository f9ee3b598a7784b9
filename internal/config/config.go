package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	Socket   string `toml:"socket"`
}

// Server describes how this node is reachable and what it advertises.
type Server struct {
	BaseURL        string  `toml:"base_url"`
	JobsURL        string  `toml:"jobs_url"`
	NodeName       string  `toml:"node_name"`
	Bind           string  `toml:"bind"`
	APIToken       string  `toml:"api_token"`
	MaxLoad        float64 `toml:"max_load"`
	MetricsEnabled bool    `toml:"metrics_enabled"`

	// RateLimitPerMinute caps mutating REST requests per client IP. 0 disables.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// Dispatch contains job dispatcher and heartbeat settings.
type Dispatch struct {
	IntervalSeconds                int      `toml:"interval_seconds"`
	HeartbeatSeconds               int      `toml:"heartbeat_seconds"`
	RequestTimeoutSeconds          int      `toml:"request_timeout_seconds"`
	AcceptJobLoadsExceedingMaxLoad bool     `toml:"accept_job_loads_exceeding_max_load"`
	EncodingWorkers                []string `toml:"encoding_workers"`
	EncodingThreshold              float64  `toml:"encoding_threshold"`
	Organizations                  []string `toml:"organizations"`
}

// Failover controls how repeated job failures degrade a service.
type Failover struct {
	// MaxAttemptsBeforeErrorState is the number of failures a WARNING service
	// may accumulate before it enters ERROR. Negative disables ERROR states.
	MaxAttemptsBeforeErrorState int      `toml:"max_attempts_before_error_state"`
	NoErrorStateServiceTypes    []string `toml:"no_error_state_service_types"`
}

// Statistics contains service statistics collection settings.
type Statistics struct {
	CollectJobStats bool `toml:"collect_job_stats"`
	MaxJobAgeDays   int  `toml:"max_job_age_days"`
}

// Janitor configures periodic removal of finished parentless jobs.
type Janitor struct {
	IntervalSeconds int `toml:"interval_seconds"`
	JobLifetimeDays int `toml:"job_lifetime_days"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Registrar.
//
// Configuration sections by subsystem:
//   - Paths: state, log and socket locations
//   - Server: advertised URLs, HTTP bind address and node capacity
//   - Dispatch: dispatcher cadence, heartbeat and candidate preferences
//   - Failover: service degradation thresholds
//   - Statistics: per-service job statistics collection
//   - Janitor: parentless job cleanup
//   - Logging: log format, level, and retention
type Config struct {
	Paths      Paths      `toml:"paths"`
	Server     Server     `toml:"server"`
	Dispatch   Dispatch   `toml:"dispatch"`
	Failover   Failover   `toml:"failover"`
	Statistics Statistics `toml:"statistics"`
	Janitor    Janitor    `toml:"janitor"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the configuration at path, or from the first existing default
// location when path is empty, then normalizes and validates it. It returns
// the config, the file it came from, and whether that file existed. A missing
// file yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// locate resolves an explicit path as given. Without one it tries the user
// config file, then registrar.toml in the working directory, and falls back
// to the user config path when neither exists.
func locate(path string) (string, bool, error) {
	var candidates []string
	if strings.TrimSpace(path) != "" {
		candidates = []string{path}
	} else {
		candidates = []string{defaultConfigPath, "registrar.toml"}
	}

	first := ""
	for _, candidate := range candidates {
		expanded, err := expandPath(candidate)
		if err != nil {
			return "", false, err
		}
		if first == "" {
			first = expanded
		}
		info, err := os.Stat(expanded)
		switch {
		case err == nil && !info.IsDir():
			return expanded, true, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config: %w", err)
		}
	}
	return first, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir, filepath.Dir(c.Paths.Socket)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the registry database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "registry.db")
}

// LockPath returns the daemon's single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "registrard.lock")
}

// PIDPath returns the file holding the running daemon's process id.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "registrard.pid")
}

// DispatchInterval returns the dispatcher period, or zero when dispatching is disabled.
func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.Dispatch.IntervalSeconds) * time.Second
}

// HeartbeatInterval returns the service probe period, or zero when disabled.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Dispatch.HeartbeatSeconds) * time.Second
}

// RequestTimeout bounds dispatch and heartbeat HTTP calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Dispatch.RequestTimeoutSeconds) * time.Second
}

// JanitorInterval returns the parentless job cleanup period.
func (c *Config) JanitorInterval() time.Duration {
	return time.Duration(c.Janitor.IntervalSeconds) * time.Second
}

// ErrorStatesEnabled reports whether failing services may enter ERROR.
func (c *Config) ErrorStatesEnabled() bool {
	return c.Failover.MaxAttemptsBeforeErrorState >= 0
}

// expandPath resolves a leading "~" against the home directory and returns
// an absolute, cleaned path. Empty input stays empty.
func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	absolute, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return absolute, nil
}

// ExpandPath applies the same "~" and absolute path rules used for config
// values.
func ExpandPath(value string) (string, error) {
	return expandPath(value)
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
