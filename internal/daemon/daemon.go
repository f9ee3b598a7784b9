package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"registrar/internal/config"
	"registrar/internal/coordinator"
	"registrar/internal/dispatch"
	"registrar/internal/events"
	"registrar/internal/logging"
	"registrar/internal/metrics"
	"registrar/internal/preflight"
	"registrar/internal/registry"
	"registrar/internal/sysinfo"
)

const (
	supervisorFailureThreshold = 5.0
	supervisorFailureDecay     = 30.0
	supervisorFailureBackoff   = 15 * time.Second
	supervisorShutdownTimeout  = 10 * time.Second
)

// Daemon runs the registry, its background loops, and the REST endpoint,
// and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *registry.Store
	coord   *coordinator.Coordinator
	bus     *events.Bus
	metrics *metrics.Metrics
	handler http.Handler
	logPath string

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    <-chan error
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	DatabasePath string
	LockFilePath string
	OwnHost      string
	OwnLoad      float64
	JobCounts    map[registry.Status]int
	Health       registry.ServiceHealth
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithLogPath names the log file served to IPC log tail requests.
func WithLogPath(path string) Option {
	return func(d *Daemon) { d.logPath = path }
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *registry.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || store == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	bus := events.NewBus(logger)
	coord := coordinator.New(cfg, store, logger, coordinator.WithNotifier(bus))
	m := metrics.New(coord)
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		coord:    coord,
		bus:      bus,
		metrics:  m,
		handler:  NewAPIHandler(cfg, coord, m, logger),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start acquires the daemon lock, registers the own host, and launches the
// supervisor tree.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := preflight.Failed(preflight.RunAll(ctx, d.cfg)); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another registrar daemon instance is already running")
	}

	if err := d.registerOwnHost(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	cancelled, err := d.coord.CleanUndispatchableJobs(ctx, d.coord.OwnHost())
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("clean undispatchable jobs: %w", err)
	}
	if cancelled > 0 {
		d.logger.Info("cancelled jobs left behind by a previous run", logging.Int("count", cancelled))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = d.buildSupervisor().ServeBackground(runCtx)
	d.running.Store(true)
	d.logger.Info("registrar daemon started",
		logging.String("lock", d.lockPath),
		logging.String(logging.FieldHost, d.coord.OwnHost()),
	)
	return nil
}

func (d *Daemon) registerOwnHost(ctx context.Context) error {
	facts, err := sysinfo.Collect(d.cfg.Server.BaseURL)
	if err != nil {
		logging.WarnWithContext(d.logger, "incomplete host facts", "host_facts",
			logging.Error(err),
			logging.String(logging.FieldImpact, "host registers without a resolved address"),
		)
	}
	host, err := d.coord.RegisterHost(ctx, registry.Host{
		BaseURL:  d.cfg.Server.BaseURL,
		Address:  facts.Address,
		NodeName: d.cfg.Server.NodeName,
		Memory:   facts.Memory,
		Cores:    facts.Cores,
		MaxLoad:  d.cfg.Server.MaxLoad,
	})
	if err != nil {
		return fmt.Errorf("register own host: %w", err)
	}
	d.logger.Info("own host registered",
		logging.String(logging.FieldHost, host.BaseURL),
		logging.Float64("max_load", host.MaxLoad),
		logging.Int("cores", host.Cores),
	)
	return nil
}

func (d *Daemon) buildSupervisor() *suture.Supervisor {
	hook := (&sutureslog.Handler{Logger: d.logger}).MustHook()
	sup := suture.New("registrard", suture.Spec{
		EventHook:        hook,
		FailureThreshold: supervisorFailureThreshold,
		FailureDecay:     supervisorFailureDecay,
		FailureBackoff:   supervisorFailureBackoff,
		Timeout:          supervisorShutdownTimeout,
	})

	client := dispatch.NewClient(d.cfg.RequestTimeout(), d.logger)
	if d.cfg.DispatchInterval() > 0 {
		sup.Add(dispatch.NewDispatcher(d.cfg, d.coord, client, d.logger, d.metrics))
	}
	if d.cfg.HeartbeatInterval() > 0 {
		sup.Add(dispatch.NewHeartbeat(d.coord, client, d.cfg.HeartbeatInterval(), d.logger, d.metrics))
	}
	if d.cfg.JanitorInterval() > 0 && d.cfg.Janitor.JobLifetimeDays > 0 {
		sup.Add(dispatch.NewJanitor(d.coord, d.cfg.JanitorInterval(), d.cfg.Janitor.JobLifetimeDays, d.logger))
	}
	sup.Add(events.NewListener(d.bus, d.logger, d.metrics.EventHandlers()))
	sup.Add(newAPIServer(d.cfg.Server.Bind, d.handler, d.logger))
	return sup
}

// Stop stops the supervisor tree, unregisters the own host, and releases the
// daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.done != nil {
		if err := <-d.done; err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Warn("supervisor stopped with error", logging.Error(err))
		}
		d.done = nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.coord.UnregisterHost(ctx, d.coord.OwnHost()); err != nil {
		d.logger.Warn("failed to unregister own host", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("registrar daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if err := d.bus.Close(); err != nil {
		d.logger.Warn("failed to close event bus", logging.Error(err))
	}
	return d.store.Close()
}

// Coordinator exposes the registry operations of the daemon.
func (d *Daemon) Coordinator() *coordinator.Coordinator {
	return d.coord
}

// LogPath returns the daemon's current log file, if any.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Handler returns the REST handler served by the daemon.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// DatabaseHealth returns detailed database diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (registry.DatabaseHealth, error) {
	return d.store.CheckHealth(ctx)
}

// Status returns the current daemon status. Registry failures are logged and
// leave the affected fields empty.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		OwnHost:      d.coord.OwnHost(),
		OwnLoad:      d.coord.OwnLoad(),
	}
	counts, err := d.coord.StatusCounts(ctx)
	if err != nil {
		d.logger.Warn("status: job counts unavailable", logging.Error(err))
	}
	status.JobCounts = counts
	if status.Health, err = d.coord.Health(ctx, "", ""); err != nil {
		d.logger.Warn("status: service health unavailable", logging.Error(err))
	}
	return status
}
