package api

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"registrar/internal/registry"
)

// FromJob converts a registry job to its API representation.
func FromJob(job *registry.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:             job.ID,
		Version:        job.Version,
		Creator:        job.Creator,
		Organization:   job.Organization,
		JobType:        job.JobType,
		Operation:      job.Operation,
		Arguments:      job.Arguments,
		Payload:        job.Payload,
		Status:         string(job.Status),
		CreatedHost:    job.CreatedHost,
		ProcessingHost: job.ProcessingHost,
		DateCreated:    FormatTime(job.DateCreated),
		QueueTimeMS:    job.QueueTime.Milliseconds(),
		RunTimeMS:      job.RunTime.Milliseconds(),
		ParentID:       job.ParentID,
		RootID:         job.RootID,
		Dispatchable:   job.Dispatchable,
		JobLoad:        job.JobLoad,
		URI:            job.URI,
	}
	if job.FailureReason != registry.FailureNone {
		dto.FailureReason = string(job.FailureReason)
	}
	if job.DateStarted != nil {
		dto.DateStarted = FormatTime(*job.DateStarted)
	}
	if job.DateCompleted != nil {
		dto.DateCompleted = FormatTime(*job.DateCompleted)
	}
	return dto
}

// FromJobs converts a slice of registry jobs.
func FromJobs(jobs []*registry.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// ToJob converts an API job back to a registry job. Hosts and enums are
// validated; timestamps that fail to parse are rejected.
func ToJob(dto Job) (*registry.Job, error) {
	status, err := registry.ParseStatus(dto.Status)
	if err != nil {
		return nil, err
	}
	reason := registry.FailureNone
	if strings.TrimSpace(dto.FailureReason) != "" {
		if reason, err = registry.ParseFailureReason(dto.FailureReason); err != nil {
			return nil, err
		}
	}
	job := &registry.Job{
		ID:             dto.ID,
		Version:        dto.Version,
		Creator:        dto.Creator,
		Organization:   dto.Organization,
		JobType:        dto.JobType,
		Operation:      dto.Operation,
		Arguments:      dto.Arguments,
		Payload:        dto.Payload,
		Status:         status,
		FailureReason:  reason,
		CreatedHost:    dto.CreatedHost,
		ProcessingHost: dto.ProcessingHost,
		QueueTime:      time.Duration(dto.QueueTimeMS) * time.Millisecond,
		RunTime:        time.Duration(dto.RunTimeMS) * time.Millisecond,
		ParentID:       dto.ParentID,
		RootID:         dto.RootID,
		Dispatchable:   dto.Dispatchable,
		JobLoad:        dto.JobLoad,
		URI:            dto.URI,
	}
	if job.DateCreated, err = ParseTime(dto.DateCreated); err != nil {
		return nil, fmt.Errorf("%w: dateCreated: %v", registry.ErrInvalidArgument, err)
	}
	if job.DateStarted, err = parseOptionalTime(dto.DateStarted); err != nil {
		return nil, fmt.Errorf("%w: dateStarted: %v", registry.ErrInvalidArgument, err)
	}
	if job.DateCompleted, err = parseOptionalTime(dto.DateCompleted); err != nil {
		return nil, fmt.Errorf("%w: dateCompleted: %v", registry.ErrInvalidArgument, err)
	}
	return job, nil
}

// ToJobs converts a slice of API jobs.
func ToJobs(dtos []Job) ([]*registry.Job, error) {
	out := make([]*registry.Job, 0, len(dtos))
	for _, dto := range dtos {
		job, err := ToJob(dto)
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", dto.ID, err)
		}
		out = append(out, job)
	}
	return out, nil
}

// FromService converts a service registration.
func FromService(svc *registry.Service) Service {
	if svc == nil {
		return Service{}
	}
	return Service{
		Type:                svc.ServiceType,
		Host:                svc.Host,
		Path:                svc.Path,
		JobProducer:         svc.JobProducer,
		Online:              svc.Online,
		Active:              svc.Active,
		Maintenance:         svc.Maintenance,
		OnlineFrom:          FormatTime(svc.OnlineFrom),
		State:               string(svc.State),
		StateChanged:        FormatTime(svc.StateChanged),
		WarningStateTrigger: svc.WarningStateTrigger,
		ErrorStateTrigger:   svc.ErrorStateTrigger,
	}
}

// FromServices converts a slice of service registrations.
func FromServices(services []*registry.Service) []Service {
	out := make([]Service, 0, len(services))
	for _, svc := range services {
		out = append(out, FromService(svc))
	}
	return out
}

// ToService converts an API service registration back to a registry model.
func ToService(dto Service) *registry.Service {
	svc := &registry.Service{
		ServiceType:         dto.Type,
		Host:                dto.Host,
		Path:                dto.Path,
		JobProducer:         dto.JobProducer,
		Online:              dto.Online,
		Active:              dto.Active,
		Maintenance:         dto.Maintenance,
		State:               registry.ServiceState(dto.State),
		WarningStateTrigger: dto.WarningStateTrigger,
		ErrorStateTrigger:   dto.ErrorStateTrigger,
	}
	svc.OnlineFrom, _ = ParseTime(dto.OnlineFrom)
	svc.StateChanged, _ = ParseTime(dto.StateChanged)
	return svc
}

// FromHost converts a host registration.
func FromHost(host *registry.Host) Host {
	if host == nil {
		return Host{}
	}
	return Host{
		BaseURL:     host.BaseURL,
		Address:     host.Address,
		NodeName:    host.NodeName,
		Memory:      host.Memory,
		Cores:       host.Cores,
		MaxLoad:     host.MaxLoad,
		Online:      host.Online,
		Active:      host.Active,
		Maintenance: host.Maintenance,
	}
}

// FromHosts converts a slice of host registrations.
func FromHosts(hosts []*registry.Host) []Host {
	out := make([]Host, 0, len(hosts))
	for _, host := range hosts {
		out = append(out, FromHost(host))
	}
	return out
}

// ToHost converts an API host registration.
func ToHost(dto Host) registry.Host {
	return registry.Host{
		BaseURL:     dto.BaseURL,
		Address:     dto.Address,
		NodeName:    dto.NodeName,
		Memory:      dto.Memory,
		Cores:       dto.Cores,
		MaxLoad:     dto.MaxLoad,
		Online:      dto.Online,
		Active:      dto.Active,
		Maintenance: dto.Maintenance,
	}
}

// FromSystemLoad converts a load snapshot into a slice ordered by host.
func FromSystemLoad(loads registry.SystemLoad) Loads {
	hosts := make([]string, 0, len(loads))
	for host := range loads {
		hosts = append(hosts, host)
	}
	slices.Sort(hosts)
	out := Loads{Nodes: make([]NodeLoad, 0, len(hosts))}
	for _, host := range hosts {
		load := loads[host]
		out.Nodes = append(out.Nodes, NodeLoad{Host: host, CurrentLoad: load.CurrentLoad, MaxLoad: load.MaxLoad})
	}
	return out
}

// ToSystemLoad converts an API load snapshot.
func ToSystemLoad(dto Loads) registry.SystemLoad {
	out := make(registry.SystemLoad, len(dto.Nodes))
	for _, node := range dto.Nodes {
		out[node.Host] = registry.NodeLoad{Host: node.Host, CurrentLoad: node.CurrentLoad, MaxLoad: node.MaxLoad}
	}
	return out
}

// FromServiceStatistics converts per-service statistics.
func FromServiceStatistics(stats []registry.ServiceStatistics) Statistics {
	out := Statistics{Services: make([]ServiceStatistics, 0, len(stats))}
	for i := range stats {
		entry := stats[i]
		out.Services = append(out.Services, ServiceStatistics{
			Service:         FromService(&entry.Service),
			RunningJobs:     entry.RunningJobs,
			QueuedJobs:      entry.QueuedJobs,
			FinishedJobs:    entry.FinishedJobs,
			MeanRunTimeMS:   entry.MeanRunTime.Milliseconds(),
			MeanQueueTimeMS: entry.MeanQueueTime.Milliseconds(),
		})
	}
	return out
}

// FromHostStatistics converts per-host job counts.
func FromHostStatistics(stats []registry.HostStatistics) []HostStatistics {
	out := make([]HostStatistics, 0, len(stats))
	for _, entry := range stats {
		out = append(out, HostStatistics{Host: entry.Host, Running: entry.Running, Queued: entry.Queued})
	}
	return out
}

// FromHealth converts a service health summary.
func FromHealth(h registry.ServiceHealth) Health {
	return Health{Healthy: h.Healthy, Warning: h.Warning, Error: h.Error}
}

// MergeStatusCounts produces a string-keyed representation of job counts.
func MergeStatusCounts(counts map[registry.Status]int) map[string]int {
	out := make(map[string]int, len(counts))
	for status, count := range counts {
		out[string(status)] = count
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

// ParseTime parses an API timestamp. An empty string yields the zero time.
func ParseTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseOptionalTime(value string) (*time.Time, error) {
	t, err := ParseTime(value)
	if err != nil || t.IsZero() {
		return nil, err
	}
	return &t, nil
}
