package testsupport

import (
	"path/filepath"
	"testing"

	"registrar/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t   testing.TB
	cfg *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Background loops are disabled so tests drive dispatch rounds and
// heartbeats explicitly.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.Socket = filepath.Join(base, "state", "registrar.sock")
	cfgVal.Server.BaseURL = "http://registry.test:8181"
	cfgVal.Server.JobsURL = cfgVal.Server.BaseURL
	cfgVal.Server.NodeName = "registry-test"
	cfgVal.Server.Bind = "127.0.0.1:0"
	cfgVal.Server.MaxLoad = 4
	cfgVal.Dispatch.IntervalSeconds = 0
	cfgVal.Dispatch.HeartbeatSeconds = 0
	cfgVal.Janitor.IntervalSeconds = 0

	builder := &configBuilder{
		t:   t,
		cfg: &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithMaxAttempts sets the failure count that moves a WARNING service to ERROR.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Failover.MaxAttemptsBeforeErrorState = n
	}
}

// WithJobStats enables per-service job statistics collection.
func WithJobStats() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Statistics.CollectJobStats = true
	}
}

// WithEncodingWorkers marks hosts as preferred composer targets.
func WithEncodingWorkers(threshold float64, hosts ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.EncodingWorkers = hosts
		b.cfg.Dispatch.EncodingThreshold = threshold
	}
}

// WithAPIToken requires a bearer token on the REST endpoint.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.APIToken = token
	}
}

// WithOrganizations restricts dispatch to jobs created by the given organizations.
func WithOrganizations(orgs ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.Organizations = orgs
	}
}

// WithoutLoadReservations stops the dispatcher from reserving hosts for
// jobs that could not be placed.
func WithoutLoadReservations() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Dispatch.AcceptJobLoadsExceedingMaxLoad = false
	}
}

// WithRateLimit caps mutating REST requests per client per minute.
func WithRateLimit(perMinute int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.RateLimitPerMinute = perMinute
	}
}
