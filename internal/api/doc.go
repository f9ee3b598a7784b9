// Package api defines the wire-format types shared by the REST endpoint, the
// remote registry client, and the IPC layer. It translates registry models
// into transport-friendly DTOs and back.
//
// # Key Types
//
// Job: transport representation of a job, including its optimistic-lock
// version so clients can round-trip updates.
//
// Service, Host: registrations as listed by the registry.
//
// NodeLoad, ServiceStatistics, HostStatistics, Health: load and statistics
// views.
//
// DaemonStatus: aggregated runtime information of registrard.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Enums (job status, failure reason, service
// state) are exposed as their upper-case names. Timestamps use RFC3339 with
// milliseconds in UTC; durations are integer milliseconds. Payloads are
// encoded with github.com/goccy/go-json by the HTTP layers.
package api
