package coordinator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"registrar/internal/config"
	"registrar/internal/logging"
	"registrar/internal/registry"
)

// Notifier receives registry transitions. Implementations must not block.
type Notifier interface {
	JobStatusChanged(ctx context.Context, job *registry.Job, previous registry.Status)
	ServiceStateChanged(ctx context.Context, svc *registry.Service, previous registry.ServiceState)
}

type noopNotifier struct{}

func (noopNotifier) JobStatusChanged(context.Context, *registry.Job, registry.Status) {}

func (noopNotifier) ServiceStateChanged(context.Context, *registry.Service, registry.ServiceState) {}

// Coordinator implements the service registry on top of the registry store:
// host and service registration, job bookkeeping, load accounting and
// failover states.
type Coordinator struct {
	cfg      *config.Config
	store    *registry.Store
	logger   *slog.Logger
	notifier Notifier
	now      func() time.Time

	ownHost           string
	jobsURL           string
	maxAttempts       int
	noErrorTypes      map[string]struct{}
	encodingWorkers   map[string]struct{}
	encodingThreshold float64

	// stateMu serializes failover read-modify-write cycles on registrations.
	stateMu sync.Mutex

	loadMu    sync.Mutex
	localLoad map[int64]float64
	ownLoad   float64
}

// Option configures optional Coordinator behavior.
type Option func(*Coordinator)

// WithNotifier routes job and service transitions to n.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) {
		if n != nil {
			c.notifier = n
		}
	}
}

// WithClock replaces the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// New constructs a coordinator for the registry at store.
func New(cfg *config.Config, store *registry.Store, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:               cfg,
		store:             store,
		logger:            logging.NewComponentLogger(logger, "coordinator"),
		notifier:          noopNotifier{},
		now:               func() time.Time { return time.Now().UTC() },
		ownHost:           cfg.Server.BaseURL,
		jobsURL:           strings.TrimRight(cfg.Server.JobsURL, "/"),
		maxAttempts:       cfg.Failover.MaxAttemptsBeforeErrorState,
		noErrorTypes:      toSet(cfg.Failover.NoErrorStateServiceTypes),
		encodingWorkers:   toSet(cfg.Dispatch.EncodingWorkers),
		encodingThreshold: cfg.Dispatch.EncodingThreshold,
		localLoad:         make(map[int64]float64),
	}
	if c.jobsURL == "" {
		c.jobsURL = strings.TrimRight(cfg.Server.BaseURL, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OwnHost returns the base URL the registry itself is registered under.
func (c *Coordinator) OwnHost() string {
	return c.ownHost
}

// Store exposes the underlying registry store.
func (c *Coordinator) Store() *registry.Store {
	return c.store
}

func (c *Coordinator) decorate(job *registry.Job) *registry.Job {
	if job != nil && job.ID > 0 {
		job.URI = c.jobURI(job.ID)
	}
	return job
}

func (c *Coordinator) decorateAll(jobs []*registry.Job) []*registry.Job {
	for _, job := range jobs {
		c.decorate(job)
	}
	return jobs
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
