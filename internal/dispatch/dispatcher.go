package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"registrar/internal/config"
	"registrar/internal/logging"
	"registrar/internal/metrics"
	"registrar/internal/registry"
)

const pageSize = 100

// Registry is the part of the coordinator the dispatcher drives.
type Registry interface {
	DispatchableJobs(ctx context.Context, status registry.Status, afterID int64, limit int) ([]*registry.Job, error)
	CurrentHostLoads(ctx context.Context) (registry.SystemLoad, error)
	HostRegistrations(ctx context.Context) ([]*registry.Host, error)
	ServiceRegistrations(ctx context.Context) ([]*registry.Service, error)
	Candidates(jobType string, services []*registry.Service, eligible []string, loads registry.SystemLoad, withCapacity bool) []*registry.Service
	GetJob(ctx context.Context, id int64) (*registry.Job, error)
	UpdateJob(ctx context.Context, job *registry.Job) (*registry.Job, error)
	CountRunningChildren(ctx context.Context, parentID int64) (int, error)
}

// RoundResult summarizes one dispatch round.
type RoundResult struct {
	Dispatched     int
	Undispatchable int
	Skipped        int
}

// Dispatcher periodically offers queued and restarting jobs to the least
// loaded services able to run them.
type Dispatcher struct {
	reg             Registry
	client          *Client
	logger          *slog.Logger
	metrics         *metrics.Metrics
	interval        time.Duration
	acceptExceeding bool
	organizations   map[string]struct{}

	mu             sync.Mutex
	priority       map[int64]string
	undispatchable map[string]struct{}
}

// NewDispatcher builds a dispatcher. A nil metrics sink is allowed.
func NewDispatcher(cfg *config.Config, reg Registry, client *Client, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	orgs := make(map[string]struct{}, len(cfg.Dispatch.Organizations))
	for _, org := range cfg.Dispatch.Organizations {
		orgs[org] = struct{}{}
	}
	return &Dispatcher{
		reg:             reg,
		client:          client,
		logger:          logging.NewComponentLogger(logger, "dispatcher"),
		metrics:         m,
		interval:        cfg.DispatchInterval(),
		acceptExceeding: cfg.Dispatch.AcceptJobLoadsExceedingMaxLoad,
		organizations:   orgs,
		priority:        make(map[int64]string),
	}
}

func (d *Dispatcher) String() string { return "dispatcher" }

// Serve runs dispatch rounds until ctx is cancelled.
func (d *Dispatcher) Serve(ctx context.Context) error {
	return runEvery(ctx, d.interval, func(ctx context.Context) {
		if _, err := d.RunRound(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "dispatch round failed", "dispatch_round",
				logging.Error(err),
				logging.String(logging.FieldImpact, "queued jobs wait for the next round"),
			)
		}
	})
}

// Reserved returns the host reserved for job id, if any.
func (d *Dispatcher) Reserved(id int64) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	host, ok := d.priority[id]
	return host, ok
}

// RunRound performs a single dispatch round.
func (d *Dispatcher) RunRound(ctx context.Context) (RoundResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	defer func() { d.metrics.ObserveRound(time.Since(start)) }()

	var result RoundResult
	d.undispatchable = make(map[string]struct{})
	if err := d.prunePriority(ctx); err != nil {
		return result, err
	}

	var workflows []*registry.Job
	for _, status := range []registry.Status{registry.StatusRestart, registry.StatusQueued} {
		var after int64
		for {
			page, err := d.reg.DispatchableJobs(ctx, status, after, pageSize)
			if err != nil {
				return result, fmt.Errorf("list %s jobs: %w", status, err)
			}
			if len(page) == 0 {
				break
			}
			after = page[len(page)-1].ID
			jobs := make([]*registry.Job, 0, len(page))
			for _, job := range page {
				if job.IsWorkflow() {
					workflows = append(workflows, job)
				} else {
					jobs = append(jobs, job)
				}
			}
			if err := d.dispatchPage(ctx, jobs, &result); err != nil {
				return result, err
			}
			if len(page) < pageSize {
				break
			}
		}
	}
	for len(workflows) > 0 {
		n := min(pageSize, len(workflows))
		if err := d.dispatchPage(ctx, workflows[:n], &result); err != nil {
			return result, err
		}
		workflows = workflows[n:]
	}
	if result.Dispatched > 0 || result.Undispatchable > 0 {
		d.logger.Debug("dispatch round complete",
			logging.Int("dispatched", result.Dispatched),
			logging.Int("undispatchable", result.Undispatchable),
			logging.Int("skipped", result.Skipped),
			logging.Duration("duration", time.Since(start)),
		)
	}
	return result, nil
}

func (d *Dispatcher) prunePriority(ctx context.Context) error {
	for id := range d.priority {
		job, err := d.reg.GetJob(ctx, id)
		if err != nil && !errors.Is(err, registry.ErrNotFound) {
			return err
		}
		if job == nil || (job.Status != registry.StatusRestart && job.Status != registry.StatusQueued) {
			delete(d.priority, id)
		}
	}
	return nil
}

func (d *Dispatcher) dispatchPage(ctx context.Context, jobs []*registry.Job, result *RoundResult) error {
	if len(jobs) == 0 {
		return nil
	}
	loads, err := d.reg.CurrentHostLoads(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	hosts, err := d.reg.HostRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("list hosts: %w", err)
	}
	services, err := d.reg.ServiceRegistrations(ctx)
	if err != nil {
		return fmt.Errorf("list services: %w", err)
	}

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, prioritized := d.priority[job.ID]
		if _, marked := d.undispatchable[job.DispatchSignature()]; marked && !prioritized {
			result.Skipped++
			continue
		}
		if !d.creatorKnown(job) {
			d.logger.Debug("skipping job with unknown creator",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String("organization", job.Organization),
				logging.String("creator", job.Creator),
			)
			result.Skipped++
			continue
		}

		withCapacity := job.ParentID == nil || job.IsWorkflow()
		if !withCapacity {
			running, err := d.reg.CountRunningChildren(ctx, *job.ParentID)
			if err != nil {
				return err
			}
			withCapacity = running > 0
		}
		candidates := d.reg.Candidates(job.JobType, services, d.eligibleHosts(hosts, job.ID), loads, withCapacity)

		host, err := d.dispatchJob(ctx, job, candidates, loads)
		switch {
		case err == nil:
			result.Dispatched++
			delete(d.priority, job.ID)
			_ = loads.UpdateNodeLoad(host, job.JobLoad)
		case errors.Is(err, registry.ErrServiceUnavailable):
			result.Undispatchable++
			if !job.IsWorkflow() {
				d.undispatchable[job.DispatchSignature()] = struct{}{}
			}
		case errors.Is(err, registry.ErrUndispatchable):
			result.Undispatchable++
		default:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.WarnWithContext(d.logger, "job dispatch failed", "dispatch_error",
				logging.Int64(logging.FieldJobID, job.ID),
				logging.String(logging.FieldServiceType, job.JobType),
				logging.Error(err),
			)
			result.Undispatchable++
		}
	}
	return nil
}

func (d *Dispatcher) creatorKnown(job *registry.Job) bool {
	if strings.TrimSpace(job.Creator) == "" {
		return false
	}
	if len(d.organizations) == 0 {
		return true
	}
	_, ok := d.organizations[job.Organization]
	return ok
}

// eligibleHosts excludes hosts reserved for jobs other than id.
func (d *Dispatcher) eligibleHosts(hosts []*registry.Host, id int64) []string {
	reserved := make(map[string]struct{}, len(d.priority))
	for jobID, host := range d.priority {
		if jobID != id {
			reserved[host] = struct{}{}
		}
	}
	out := make([]string, 0, len(hosts))
	for _, host := range hosts {
		if _, ok := reserved[host.BaseURL]; !ok {
			out = append(out, host.BaseURL)
		}
	}
	return out
}

// dispatchJob offers job to candidates in order and returns the accepting host.
func (d *Dispatcher) dispatchJob(ctx context.Context, job *registry.Job, candidates []*registry.Service, loads registry.SystemLoad) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("job %d (%s): %w", job.ID, job.JobType, registry.ErrServiceUnavailable)
	}

	var highest float64
	for _, svc := range candidates {
		if load, ok := loads.Get(svc.Host); ok && load.MaxLoad > highest {
			highest = load.MaxLoad
		}
	}
	if job.JobLoad > highest {
		strongest := candidates[:0:0]
		for _, svc := range candidates {
			if load, ok := loads.Get(svc.Host); ok && load.MaxLoad == highest {
				strongest = append(strongest, svc)
			}
		}
		candidates = strongest
	}

	logger := d.logger.With(logging.Int64(logging.FieldJobID, job.ID), logging.String(logging.FieldServiceType, job.JobType))
	current := job
	tried := false
	for _, svc := range candidates {
		current.Status = registry.StatusDispatching
		current.ProcessingHost = svc.Host
		updated, err := d.reg.UpdateJob(ctx, current)
		if err != nil {
			if errors.Is(err, registry.ErrOptimisticLock) {
				return "", fmt.Errorf("job %d changed while dispatching: %w", job.ID, registry.ErrUndispatchable)
			}
			return "", err
		}
		current = updated
		tried = true

		status, err := d.client.Offer(ctx, svc, current)
		switch {
		case err != nil:
			d.metrics.RecordDispatch(metrics.ResultUnreachable)
			logger.Debug("dispatch target unreachable", logging.String(logging.FieldHost, svc.Host), logging.Error(err))
			continue
		case status == http.StatusNoContent:
			d.metrics.RecordDispatch(metrics.ResultAccepted)
			logger.Debug("job dispatched", logging.String(logging.FieldHost, svc.Host))
			return svc.Host, nil
		case status == http.StatusServiceUnavailable:
			d.metrics.RecordDispatch(metrics.ResultBusy)
			continue
		case status == http.StatusPreconditionFailed:
			d.metrics.RecordDispatch(metrics.ResultRefused)
			current.Status = registry.StatusFailed
			if _, err := d.reg.UpdateJob(ctx, current); err != nil {
				return "", err
			}
			logger.Info("job refused by service", logging.String(logging.FieldHost, svc.Host))
			return "", fmt.Errorf("job %d refused by %s: %w", job.ID, svc.Host, registry.ErrUndispatchable)
		default:
			d.metrics.RecordDispatch(metrics.ResultError)
			logger.Debug("unexpected dispatch response",
				logging.String(logging.FieldHost, svc.Host),
				logging.String("response", describeStatus(status, nil)),
			)
			continue
		}
	}

	if tried {
		// A reservation holds its first host until the job leaves the queue.
		if _, held := d.priority[current.ID]; !held && d.acceptExceeding && !current.IsWorkflow() && current.ProcessingHost != "" {
			d.priority[current.ID] = current.ProcessingHost
		}
		current.Status = registry.StatusQueued
		current.ProcessingHost = ""
		if _, err := d.reg.UpdateJob(ctx, current); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("job %d: %w", job.ID, registry.ErrUndispatchable)
}

// runEvery calls fn every interval until ctx is done. A non-positive
// interval parks the loop.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	if interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
