// Package logging assembles structured slog loggers and formatting helpers used
// across the registry daemon, CLI and job-producer workers.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so request handlers and the
// dispatcher can tag log lines with job IDs, hosts and correlation IDs. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
