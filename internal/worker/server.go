package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"registrar/internal/logging"
	"registrar/internal/registry"
)

// Registry is the part of the registry a worker talks to.
// *registryclient.Client satisfies it.
type Registry interface {
	RegisterHost(ctx context.Context, host registry.Host) error
	UnregisterHost(ctx context.Context, host string) error
	RegisterService(ctx context.Context, serviceType, host, path string, jobProducer bool) (*registry.Service, error)
	UnregisterService(ctx context.Context, serviceType, host string) error
	GetJob(ctx context.Context, id int64) (*registry.Job, error)
	UpdateJob(ctx context.Context, job *registry.Job) (*registry.Job, error)
}

// Config describes the service a worker registers.
type Config struct {
	ServiceType string
	// Host is the base URL the registry reaches this worker under.
	Host     string
	Path     string
	Bind     string
	NodeName string
	// MaxLoad defaults to the number of cores when zero.
	MaxLoad float64
}

// Server accepts dispatched jobs and runs them.
type Server struct {
	cfg        Config
	reg        Registry
	logger     *slog.Logger
	processors map[string]Processor

	mu      sync.Mutex
	load    float64
	running map[int64]float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer returns a worker for cfg reporting to reg.
func NewServer(cfg Config, reg Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.Host = strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	cfg.Path = "/" + strings.Trim(strings.TrimSpace(cfg.Path), "/")
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		reg:        reg,
		logger:     logging.NewComponentLogger(logger, "worker").With(logging.String(logging.FieldServiceType, cfg.ServiceType)),
		processors: make(map[string]Processor),
		running:    make(map[int64]float64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Handle registers p for operation. Call before serving.
func (s *Server) Handle(operation string, p Processor) {
	s.processors[operation] = p
}

// Load returns the summed load of the jobs currently running.
func (s *Server) Load() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load
}

// Handler returns the HTTP handler serving <path>/dispatch.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Route(s.cfg.Path, func(r chi.Router) {
		r.Head("/dispatch", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		r.Post("/dispatch", s.handleDispatch)
	})
	return r
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.FormValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid job id", http.StatusBadRequest)
		return
	}
	operation := r.FormValue("operation")
	processor, ok := s.processors[operation]
	if !ok {
		s.logger.Info("refusing job with unknown operation",
			logging.Int64(logging.FieldJobID, id),
			logging.String("operation", operation),
		)
		w.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	job, err := s.reg.GetJob(r.Context(), id)
	if err != nil {
		logging.WarnWithContext(s.logger, "dispatched job could not be loaded", "worker_job_load_failed",
			logging.Int64(logging.FieldJobID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job is requeued by the registry"),
		)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !s.reserve(job) {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.ID)
		s.run(job.ID, processor)
	}()
}

// reserve books the job's load unless it would exceed the max load. An idle
// worker accepts a job that exceeds the max load on its own.
func (s *Server) reserve(job *registry.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[job.ID]; ok {
		return false
	}
	if s.load > 0 && s.load+job.JobLoad > s.cfg.MaxLoad {
		return false
	}
	s.running[job.ID] = job.JobLoad
	s.load += job.JobLoad
	return true
}

func (s *Server) release(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load -= s.running[id]
	delete(s.running, id)
	if len(s.running) == 0 {
		s.load = 0
	}
}

func (s *Server) run(id int64, processor Processor) {
	ctx := s.ctx
	logger := s.logger.With(logging.Int64(logging.FieldJobID, id), logging.String(logging.FieldCorrelationID, uuid.NewString()))

	job, err := s.reg.GetJob(ctx, id)
	if err != nil {
		logger.Warn("job vanished before it started", logging.Error(err))
		return
	}
	job.Status = registry.StatusRunning
	job.ProcessingHost = s.cfg.Host
	if job, err = s.reg.UpdateJob(ctx, job); err != nil {
		logging.WarnWithContext(logger, "could not mark job running", "worker_job_start_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "job is not processed"),
		)
		return
	}

	started := time.Now()
	payload, err := processor.Process(ctx, job)
	job.Payload = payload
	switch {
	case err == nil:
		job.Status = registry.StatusFinished
		job.FailureReason = registry.FailureNone
	case errors.Is(err, ErrData):
		job.Status = registry.StatusFailed
		job.FailureReason = registry.FailureData
	default:
		job.Status = registry.StatusFailed
		job.FailureReason = registry.FailureProcessing
	}
	if err != nil {
		logger.Info("job failed",
			logging.String("operation", job.Operation),
			logging.String("reason", string(job.FailureReason)),
			logging.Error(err),
		)
	}

	// The worker's own context may already be cancelled during shutdown;
	// the final report still goes out.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if _, err := s.reg.UpdateJob(reportCtx, job); err != nil {
		logging.ErrorWithContext(logger, "could not report job result", "worker_job_report_failed",
			logging.String("status", string(job.Status)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job stays RUNNING until the service is unregistered"),
		)
		return
	}
	logger.Debug("job completed",
		logging.String("status", string(job.Status)),
		logging.Duration("elapsed", time.Since(started)),
	)
}

// Wait blocks until every accepted job has reported its result.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close cancels running jobs and waits for them to report.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}
