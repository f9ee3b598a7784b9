package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeServer()
	c.normalizeDispatch()
	c.normalizeFailover()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.StateDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.Socket) == "" {
		c.Paths.Socket = filepath.Join(c.Paths.StateDir, defaultSocketName)
	}
	if c.Paths.Socket, err = expandPath(c.Paths.Socket); err != nil {
		return fmt.Errorf("paths.socket: %w", err)
	}
	return nil
}

func (c *Config) normalizeServer() {
	c.Server.BaseURL = trimURL(c.Server.BaseURL)
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = defaultBaseURL
	}
	c.Server.JobsURL = trimURL(c.Server.JobsURL)
	if c.Server.JobsURL == "" {
		c.Server.JobsURL = c.Server.BaseURL
	}
	c.Server.NodeName = strings.TrimSpace(c.Server.NodeName)
	if c.Server.NodeName == "" {
		if name, err := os.Hostname(); err == nil {
			c.Server.NodeName = name
		}
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	c.Server.APIToken = strings.TrimSpace(c.Server.APIToken)
	if c.Server.APIToken == "" {
		c.Server.APIToken = strings.TrimSpace(os.Getenv("REGISTRAR_API_TOKEN"))
	}
	if c.Server.MaxLoad == 0 {
		c.Server.MaxLoad = defaultMaxLoad()
	}
}

func (c *Config) normalizeDispatch() {
	if c.Dispatch.IntervalSeconds > 0 && c.Dispatch.IntervalSeconds < minDispatchInterval {
		c.Dispatch.IntervalSeconds = minDispatchInterval
	}
	workers := make([]string, 0, len(c.Dispatch.EncodingWorkers))
	for _, worker := range c.Dispatch.EncodingWorkers {
		if trimmed := trimURL(worker); trimmed != "" {
			workers = append(workers, trimmed)
		}
	}
	c.Dispatch.EncodingWorkers = workers
	c.Dispatch.Organizations = trimList(c.Dispatch.Organizations)
}

func (c *Config) normalizeFailover() {
	c.Failover.NoErrorStateServiceTypes = trimList(c.Failover.NoErrorStateServiceTypes)
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func trimURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

func trimList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func validURL(value string) bool {
	parsed, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}
