package registry

import (
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusInstantiated Status = "INSTANTIATED"
	StatusQueued       Status = "QUEUED"
	StatusPaused       Status = "PAUSED"
	StatusRunning      Status = "RUNNING"
	StatusFinished     Status = "FINISHED"
	StatusFailed       Status = "FAILED"
	StatusDeleted      Status = "DELETED"
	StatusWaiting      Status = "WAITING"
	StatusDispatching  Status = "DISPATCHING"
	StatusRestart      Status = "RESTART"
	StatusCancelled    Status = "CANCELLED"
)

// AllStatuses lists every job status in lifecycle order.
var AllStatuses = []Status{
	StatusInstantiated,
	StatusQueued,
	StatusPaused,
	StatusRunning,
	StatusFinished,
	StatusFailed,
	StatusDeleted,
	StatusWaiting,
	StatusDispatching,
	StatusRestart,
	StatusCancelled,
}

var terminatedStatuses = map[Status]struct{}{
	StatusCancelled: {},
	StatusDeleted:   {},
	StatusFailed:    {},
	StatusFinished:  {},
}

// ParseStatus converts a case-insensitive status name.
func ParseStatus(value string) (Status, error) {
	candidate := Status(strings.ToUpper(strings.TrimSpace(value)))
	for _, status := range AllStatuses {
		if status == candidate {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: unknown job status %q", ErrInvalidArgument, value)
}

// IsTerminated reports whether the job reached a final status.
func (s Status) IsTerminated() bool {
	_, ok := terminatedStatuses[s]
	return ok
}

// IsActive reports whether the job still awaits or performs work.
func (s Status) IsActive() bool {
	return s != "" && !s.IsTerminated()
}

// ActiveStatuses returns every non-terminal status.
func ActiveStatuses() []Status {
	out := make([]Status, 0, len(AllStatuses))
	for _, status := range AllStatuses {
		if status.IsActive() {
			out = append(out, status)
		}
	}
	return out
}

// FailureReason explains why a job failed.
type FailureReason string

const (
	FailureNone       FailureReason = "NONE"
	FailureData       FailureReason = "DATA"
	FailureProcessing FailureReason = "PROCESSING"
)

// ParseFailureReason converts a case-insensitive failure reason; blank means NONE.
func ParseFailureReason(value string) (FailureReason, error) {
	switch FailureReason(strings.ToUpper(strings.TrimSpace(value))) {
	case "", FailureNone:
		return FailureNone, nil
	case FailureData:
		return FailureData, nil
	case FailureProcessing:
		return FailureProcessing, nil
	default:
		return "", fmt.Errorf("%w: unknown failure reason %q", ErrInvalidArgument, value)
	}
}

// ServiceState tracks the health of a service registration.
type ServiceState string

const (
	ServiceNormal  ServiceState = "NORMAL"
	ServiceWarning ServiceState = "WARNING"
	ServiceError   ServiceState = "ERROR"
)

const (
	// WorkflowType is the job type of workflow instances. Workflow jobs do not
	// count towards host load and never degrade services.
	WorkflowType = "workflow"
	// ComposerType is the encoding service type that prefers encoding workers.
	ComposerType = "composer"

	OperationStartOperation = "START_OPERATION"
	OperationStartWorkflow  = "START_WORKFLOW"
	OperationResume         = "RESUME"

	// DefaultJobLoad is applied to jobs created without an explicit load.
	DefaultJobLoad = 0.1
)

// Host is a node that runs services.
type Host struct {
	ID          int64
	BaseURL     string
	Address     string
	NodeName    string
	Memory      int64
	Cores       int
	MaxLoad     float64
	Online      bool
	Active      bool
	Maintenance bool
}

// Service is a service type registered on a host.
type Service struct {
	ID                  int64
	HostID              int64
	ServiceType         string
	Host                string
	Path                string
	JobProducer         bool
	Online              bool
	Active              bool
	OnlineFrom          time.Time
	State               ServiceState
	StateChanged        time.Time
	WarningStateTrigger int64
	ErrorStateTrigger   int64
	// Maintenance mirrors the maintenance flag of the service's host.
	Maintenance bool
}

// DispatchURL returns the endpoint the dispatcher and heartbeat contact.
func (s *Service) DispatchURL() string {
	return strings.TrimRight(s.Host, "/") + "/" + strings.Trim(s.Path, "/") + "/dispatch"
}

// Job is a unit of work processed by a service.
type Job struct {
	ID                 int64
	Version            int64
	Creator            string
	Organization       string
	JobType            string
	Operation          string
	Arguments          []string
	Payload            string
	Status             Status
	FailureReason      FailureReason
	CreatorServiceID   int64
	CreatedHost        string
	ProcessorServiceID int64
	ProcessingHost     string
	DateCreated        time.Time
	DateStarted        *time.Time
	DateCompleted      *time.Time
	QueueTime          time.Duration
	RunTime            time.Duration
	ParentID           *int64
	RootID             *int64
	Dispatchable       bool
	JobLoad            float64
	URI                string
}

// Signature identifies jobs that perform the same work. Service failover
// states remember the signature of the job that triggered them.
func (j *Job) Signature() int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(j.JobType))
	for _, arg := range j.Arguments {
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(arg))
	}
	return int64(h.Sum32())
}

// DispatchSignature groups jobs the dispatcher treats as interchangeable
// within one round.
func (j *Job) DispatchSignature() string {
	return j.JobType + "@" + j.Operation
}

// IsWorkflow reports whether the job is a workflow instance.
func (j *Job) IsWorkflow() bool {
	return j.JobType == WorkflowType
}

// NodeLoad is the current and maximum load of a host.
type NodeLoad struct {
	Host        string
	CurrentLoad float64
	MaxLoad     float64
}

// LoadFactor is CurrentLoad relative to MaxLoad.
func (n NodeLoad) LoadFactor() float64 {
	if n.MaxLoad <= 0 {
		return 0
	}
	return n.CurrentLoad / n.MaxLoad
}

// Exceeds reports whether the host has no spare capacity.
func (n NodeLoad) Exceeds() bool {
	return n.CurrentLoad >= n.MaxLoad
}

// SystemLoad is a snapshot of host loads keyed by base URL.
type SystemLoad map[string]NodeLoad

// Get returns the load of host and whether it is known.
func (s SystemLoad) Get(host string) (NodeLoad, bool) {
	load, ok := s[host]
	return load, ok
}

// UpdateNodeLoad adds delta to the current load of host.
func (s SystemLoad) UpdateNodeLoad(host string, delta float64) error {
	load, ok := s[host]
	if !ok {
		return fmt.Errorf("%w: host %s not in load snapshot", ErrNotFound, host)
	}
	load.CurrentLoad += delta
	s[host] = load
	return nil
}

// ServiceStatistics summarizes the jobs handled by a registration.
type ServiceStatistics struct {
	Service       Service
	RunningJobs   int
	QueuedJobs    int
	FinishedJobs  int
	MeanRunTime   time.Duration
	MeanQueueTime time.Duration
}

// HostStatistics counts the running and queued jobs of a host.
type HostStatistics struct {
	Host    string
	Running int
	Queued  int
}

// ServiceHealth counts registrations by state.
type ServiceHealth struct {
	Healthy int
	Warning int
	Error   int
}
