package ipc

import "registrar/internal/api"

// StartRequest starts the daemon's supervisor tree.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon's supervisor tree.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse is the daemon status as seen by the CLI.
type StatusResponse = api.DaemonStatus

// HostsRequest lists host registrations.
type HostsRequest struct{}

// HostsResponse contains host registrations.
type HostsResponse struct {
	Hosts []api.Host `json:"hosts"`
}

// ServicesRequest lists service registrations, optionally filtered.
type ServicesRequest struct {
	ServiceType string `json:"service_type"`
	Host        string `json:"host"`
}

// ServicesResponse contains service registrations.
type ServicesResponse struct {
	Services []api.Service `json:"services"`
}

// JobsRequest lists jobs, optionally filtered by type and status. An empty
// request lists active jobs.
type JobsRequest struct {
	ServiceType string `json:"service_type"`
	Status      string `json:"status"`
}

// JobsResponse contains jobs.
type JobsResponse struct {
	Jobs []api.Job `json:"jobs"`
}

// JobRequest addresses a single job.
type JobRequest struct {
	ID int64 `json:"id"`
}

// JobResponse contains a single job.
type JobResponse struct {
	Job api.Job `json:"job"`
}

// HostRequest addresses a host.
type HostRequest struct {
	Host string `json:"host"`
}

// MaintenanceRequest toggles maintenance mode of a host.
type MaintenanceRequest struct {
	Host        string `json:"host"`
	Maintenance bool   `json:"maintenance"`
}

// HostResponse returns the host after a change.
type HostResponse struct {
	Host api.Host `json:"host"`
}

// SanitizeRequest resets a registration to NORMAL.
type SanitizeRequest struct {
	ServiceType string `json:"service_type"`
	Host        string `json:"host"`
}

// SanitizeResponse returns the registration after sanitizing.
type SanitizeResponse struct {
	Service api.Service `json:"service"`
}

// StatisticsRequest fetches service and host statistics.
type StatisticsRequest struct{}

// StatisticsResponse contains service and host statistics.
type StatisticsResponse struct {
	Services []api.ServiceStatistics `json:"services"`
	Hosts    []api.HostStatistics    `json:"hosts"`
}

// LoadsRequest fetches the current load snapshot.
type LoadsRequest struct{}

// LoadsResponse contains the load of every host and the daemon's own load.
type LoadsResponse struct {
	Nodes   []api.NodeLoad `json:"nodes"`
	OwnLoad float64        `json:"own_load"`
}

// RemoveJobsRequest removes jobs and their descendants.
type RemoveJobsRequest struct {
	IDs []int64 `json:"ids"`
}

// RemoveParentlessJobsRequest removes terminal root jobs older than
// LifetimeDays.
type RemoveParentlessJobsRequest struct {
	LifetimeDays int `json:"lifetime_days"`
}

// RemoveJobsResponse reports number of removed jobs.
type RemoveJobsResponse struct {
	Removed int `json:"removed"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64  `json:"offset"`
	Limit      int    `json:"limit"`
	Follow     bool   `json:"follow"`
	WaitMillis int    `json:"wait_millis"`
	Match      string `json:"match"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// DatabaseHealthRequest fetches detailed database diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports database health information.
type DatabaseHealthResponse struct {
	DBPath           string   `json:"db_path"`
	DatabaseExists   bool     `json:"database_exists"`
	DatabaseReadable bool     `json:"database_readable"`
	SchemaVersion    int      `json:"schema_version"`
	MissingTables    []string `json:"missing_tables"`
	IntegrityCheck   bool     `json:"integrity_check"`
	Hosts            int      `json:"hosts"`
	Services         int      `json:"services"`
	Jobs             int      `json:"jobs"`
	Error            string   `json:"error"`
}
