package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDispatch(); err != nil {
		return err
	}
	if err := c.validateStatistics(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	if !validURL(c.Server.BaseURL) {
		return fmt.Errorf("server.base_url %q must be an absolute http(s) URL", c.Server.BaseURL)
	}
	if !validURL(c.Server.JobsURL) {
		return fmt.Errorf("server.jobs_url %q must be an absolute http(s) URL", c.Server.JobsURL)
	}
	if c.Server.MaxLoad < 0 {
		return errors.New("server.max_load must be >= 0")
	}
	if c.Server.RateLimitPerMinute < 0 {
		return errors.New("server.rate_limit_per_minute must be >= 0")
	}
	return nil
}

func (c *Config) validateDispatch() error {
	if err := ensureNonNegativeMap(map[string]int{
		"dispatch.interval_seconds":  c.Dispatch.IntervalSeconds,
		"dispatch.heartbeat_seconds": c.Dispatch.HeartbeatSeconds,
		"janitor.interval_seconds":   c.Janitor.IntervalSeconds,
		"janitor.job_lifetime_days":  c.Janitor.JobLifetimeDays,
	}); err != nil {
		return err
	}
	if c.Dispatch.RequestTimeoutSeconds <= 0 {
		return errors.New("dispatch.request_timeout_seconds must be positive")
	}
	if c.Dispatch.EncodingThreshold < 0 || c.Dispatch.EncodingThreshold > 1 {
		return errors.New("dispatch.encoding_threshold must be between 0 and 1")
	}
	for _, worker := range c.Dispatch.EncodingWorkers {
		if !validURL(worker) {
			return fmt.Errorf("dispatch.encoding_workers entry %q must be an absolute http(s) URL", worker)
		}
	}
	return nil
}

func (c *Config) validateStatistics() error {
	if c.Statistics.MaxJobAgeDays <= 0 {
		return errors.New("statistics.max_job_age_days must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", c.Logging.Level)
	}
}

func ensureNonNegativeMap(values map[string]int) error {
	for key, value := range values {
		if value < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
	}
	return nil
}
