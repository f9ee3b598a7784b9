package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

const (
	// HeaderOrganization carries the organization of the acting user.
	HeaderOrganization = "X-Registrar-Organization"
	// HeaderUser carries the acting user.
	HeaderUser = "X-Registrar-User"
	// HeaderRequestID correlates a request across client and server logs.
	HeaderRequestID = "X-Request-ID"
)

// Job describes a job in a transport-friendly format.
type Job struct {
	ID             int64    `json:"id"`
	Version        int64    `json:"version"`
	Creator        string   `json:"creator,omitempty"`
	Organization   string   `json:"organization,omitempty"`
	JobType        string   `json:"type"`
	Operation      string   `json:"operation"`
	Arguments      []string `json:"arguments,omitempty"`
	Payload        string   `json:"payload,omitempty"`
	Status         string   `json:"status"`
	FailureReason  string   `json:"failureReason,omitempty"`
	CreatedHost    string   `json:"createdHost,omitempty"`
	ProcessingHost string   `json:"processingHost,omitempty"`
	DateCreated    string   `json:"dateCreated,omitempty"`
	DateStarted    string   `json:"dateStarted,omitempty"`
	DateCompleted  string   `json:"dateCompleted,omitempty"`
	QueueTimeMS    int64    `json:"queueTime"`
	RunTimeMS      int64    `json:"runTime"`
	ParentID       *int64   `json:"parentId,omitempty"`
	RootID         *int64   `json:"rootId,omitempty"`
	Dispatchable   bool     `json:"dispatchable"`
	JobLoad        float64  `json:"jobLoad"`
	URI            string   `json:"uri,omitempty"`
}

// JobList wraps a collection of jobs.
type JobList struct {
	Jobs []Job `json:"jobs"`
}

// Service describes a service registration.
type Service struct {
	Type                string `json:"type"`
	Host                string `json:"host"`
	Path                string `json:"path"`
	JobProducer         bool   `json:"jobProducer"`
	Online              bool   `json:"online"`
	Active              bool   `json:"active"`
	Maintenance         bool   `json:"maintenance"`
	OnlineFrom          string `json:"onlineFrom,omitempty"`
	State               string `json:"serviceState"`
	StateChanged        string `json:"stateChanged,omitempty"`
	WarningStateTrigger int64  `json:"warningStateTrigger,omitempty"`
	ErrorStateTrigger   int64  `json:"errorStateTrigger,omitempty"`
}

// ServiceList wraps a collection of service registrations.
type ServiceList struct {
	Services []Service `json:"services"`
}

// Host describes a host registration.
type Host struct {
	BaseURL     string  `json:"baseUrl"`
	Address     string  `json:"address"`
	NodeName    string  `json:"nodeName,omitempty"`
	Memory      int64   `json:"memory"`
	Cores       int     `json:"cores"`
	MaxLoad     float64 `json:"maxLoad"`
	Online      bool    `json:"online"`
	Active      bool    `json:"active"`
	Maintenance bool    `json:"maintenance"`
}

// HostList wraps a collection of host registrations.
type HostList struct {
	Hosts []Host `json:"hosts"`
}

// NodeLoad is the current and maximum load of one host.
type NodeLoad struct {
	Host        string  `json:"host"`
	CurrentLoad float64 `json:"currentLoad"`
	MaxLoad     float64 `json:"maxLoad"`
}

// Loads wraps a load snapshot ordered by host.
type Loads struct {
	Nodes []NodeLoad `json:"nodes"`
}

// ServiceStatistics summarizes the jobs handled by a registration.
type ServiceStatistics struct {
	Service         Service `json:"service"`
	RunningJobs     int     `json:"running"`
	QueuedJobs      int     `json:"queued"`
	FinishedJobs    int     `json:"finished"`
	MeanRunTimeMS   int64   `json:"meanRunTime"`
	MeanQueueTimeMS int64   `json:"meanQueueTime"`
}

// Statistics wraps per-service statistics.
type Statistics struct {
	Services []ServiceStatistics `json:"services"`
}

// HostStatistics counts running and queued jobs of a host.
type HostStatistics struct {
	Host    string `json:"host"`
	Running int    `json:"running"`
	Queued  int    `json:"queued"`
}

// Health counts registrations by failover state.
type Health struct {
	Healthy int `json:"healthy"`
	Warning int `json:"warning"`
	Error   int `json:"error"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	DatabasePath string         `json:"databasePath"`
	LockFilePath string         `json:"lockFilePath"`
	OwnHost      string         `json:"ownHost"`
	OwnLoad      float64        `json:"ownLoad"`
	JobCounts    map[string]int `json:"jobCounts"`
	Health       Health         `json:"health"`
}

// ErrorResponse is the body of every failed REST request.
type ErrorResponse struct {
	Error string `json:"error"`
}
