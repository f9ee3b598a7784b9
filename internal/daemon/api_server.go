package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"registrar/internal/api"
	"registrar/internal/config"
	"registrar/internal/coordinator"
	"registrar/internal/logging"
	"registrar/internal/metrics"
	"registrar/internal/registry"
)

type apiHandler struct {
	coord  *coordinator.Coordinator
	logger *slog.Logger
}

// NewAPIHandler builds the REST endpoint mounted under /services. The
// Prometheus handler is mounted at /metrics when m is non-nil and metrics are
// enabled.
func NewAPIHandler(cfg *config.Config, coord *coordinator.Coordinator, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	h := &apiHandler{coord: coord, logger: logging.NewComponentLogger(logger, "api-server")}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(accessLog(h.logger))

	if m != nil && cfg.Server.MetricsEnabled {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/services", func(r chi.Router) {
		r.Use(authMiddleware(cfg.Server.APIToken))

		r.Get("/statistics.json", h.handleStatistics)
		r.Get("/hoststatistics.json", h.handleHostStatistics)
		r.Get("/servicewarnings", h.handleServiceWarnings)
		r.Get("/available.json", h.handleAvailable)
		r.Get("/health.json", h.handleHealth)
		r.Get("/services.json", h.handleServices)
		r.Get("/hosts.json", h.handleHosts)
		r.Get("/job/{id}.json", h.handleGetJob)
		r.Get("/job/{id}/children.json", h.handleChildJobs)
		r.Get("/jobs.json", h.handleJobs)
		r.Get("/activeJobs.json", h.handleActiveJobs)
		r.Get("/payloads.json", h.handlePayloads)
		r.Get("/count", h.handleCount)
		r.Get("/maxload", h.handleMaxLoad)
		r.Get("/currentload", h.handleCurrentLoad)
		r.Get("/ownload", h.handleOwnLoad)
		r.Get("/maxconcurrentjobs", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "maxload", http.StatusMovedPermanently)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(cfg.Server.RateLimitPerMinute))
			r.Post("/sanitize", h.handleSanitize)
			r.Post("/register", h.handleRegister)
			r.Post("/unregister", h.handleUnregister)
			r.Post("/enablehost", h.handleEnableHost)
			r.Post("/disablehost", h.handleDisableHost)
			r.Post("/registerhost", h.handleRegisterHost)
			r.Post("/unregisterhost", h.handleUnregisterHost)
			r.Post("/maintenance", h.handleMaintenance)
			r.Post("/job", h.handleCreateJob)
			r.Put("/job/{id}.json", h.handleUpdateJob)
			r.Delete("/job/{id}", h.handleDeleteJob)
			r.Post("/removejobs", h.handleRemoveJobs)
			r.Post("/removeparentlessjobs", h.handleRemoveParentlessJobs)
		})
	})
	return r
}

func (h *apiHandler) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coord.ServiceStatistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.FromServiceStatistics(stats))
}

func (h *apiHandler) handleHostStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.coord.HostStatistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.FromHostStatistics(stats))
}

func (h *apiHandler) handleServiceWarnings(w http.ResponseWriter, r *http.Request) {
	count, err := h.coord.CountOfAbnormalServices(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeText(w, strconv.Itoa(count))
}

func (h *apiHandler) handleSanitize(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.Sanitize(r.Context(), r.FormValue("serviceType"), r.FormValue("host")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	jobProducer, err := formBool(r, "jobProducer", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	svc, err := h.coord.RegisterService(r.Context(), r.FormValue("serviceType"), r.FormValue("host"), r.FormValue("path"), jobProducer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.FromService(svc))
}

func (h *apiHandler) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if err := h.coord.UnregisterService(r.Context(), r.FormValue("serviceType"), r.FormValue("host")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleEnableHost(w http.ResponseWriter, r *http.Request) {
	h.hostAction(w, r, h.coord.EnableHost)
}

func (h *apiHandler) handleDisableHost(w http.ResponseWriter, r *http.Request) {
	h.hostAction(w, r, h.coord.DisableHost)
}

func (h *apiHandler) handleUnregisterHost(w http.ResponseWriter, r *http.Request) {
	h.hostAction(w, r, h.coord.UnregisterHost)
}

func (h *apiHandler) hostAction(w http.ResponseWriter, r *http.Request, action func(context.Context, string) error) {
	if err := action(r.Context(), r.FormValue("host")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleRegisterHost(w http.ResponseWriter, r *http.Request) {
	host := registry.Host{
		BaseURL:  r.FormValue("host"),
		Address:  r.FormValue("address"),
		NodeName: r.FormValue("nodeName"),
	}
	var err error
	if host.Memory, err = formInt64(r, "memory"); err != nil {
		h.writeError(w, r, err)
		return
	}
	cores, err := formInt64(r, "cores")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	host.Cores = int(cores)
	if host.MaxLoad, err = formFloat(r, "maxLoad"); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.coord.RegisterHost(r.Context(), host); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	maintenance, err := formBool(r, "maintenance", false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.coord.SetMaintenanceStatus(r.Context(), r.FormValue("host"), maintenance); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	services, err := h.coord.ServiceRegistrationsByLoad(r.Context(), r.URL.Query().Get("serviceType"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ServiceList{Services: api.FromServices(services)})
}

func (h *apiHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	health, err := h.coord.Health(r.Context(), query.Get("serviceType"), query.Get("host"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.FromHealth(health))
}

func (h *apiHandler) handleServices(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	serviceType := strings.TrimSpace(query.Get("serviceType"))
	host := strings.TrimSpace(query.Get("host"))
	ctx := r.Context()

	var (
		services []*registry.Service
		err      error
	)
	switch {
	case serviceType != "" && host != "":
		var svc *registry.Service
		if svc, err = h.coord.ServiceRegistration(ctx, serviceType, host); err == nil {
			if svc == nil {
				err = fmt.Errorf("service %s@%s: %w", serviceType, host, registry.ErrNotFound)
			} else {
				services = []*registry.Service{svc}
			}
		}
	case serviceType != "":
		services, err = h.coord.ServiceRegistrationsByType(ctx, serviceType)
	case host != "":
		services, err = h.coord.ServiceRegistrationsByHost(ctx, host)
	default:
		services, err = h.coord.ServiceRegistrations(ctx)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ServiceList{Services: api.FromServices(services)})
}

func (h *apiHandler) handleHosts(w http.ResponseWriter, r *http.Request) {
	hosts, err := h.coord.HostRegistrations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.HostList{Hosts: api.FromHosts(hosts)})
}

func (h *apiHandler) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: %v", registry.ErrInvalidArgument, err))
		return
	}
	dispatchable, err := formBool(r, "start", true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	spec := coordinator.JobSpec{
		Host:         r.PostForm.Get("host"),
		JobType:      r.PostForm.Get("jobType"),
		Operation:    r.PostForm.Get("operation"),
		Arguments:    r.PostForm["arg"],
		Payload:      r.PostForm.Get("payload"),
		Dispatchable: dispatchable,
		Creator:      r.Header.Get(api.HeaderUser),
		Organization: r.Header.Get(api.HeaderOrganization),
	}
	if value := strings.TrimSpace(r.PostForm.Get("jobLoad")); value != "" {
		load, err := strconv.ParseFloat(value, 64)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: jobLoad %q", registry.ErrInvalidArgument, value))
			return
		}
		spec.JobLoad = &load
	}
	if value := strings.TrimSpace(r.PostForm.Get("parent")); value != "" {
		parent, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: parent %q", registry.ErrInvalidArgument, value))
			return
		}
		spec.ParentID = &parent
	}

	job, err := h.coord.CreateJob(r.Context(), spec)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", job.URI)
	h.writeJSON(w, http.StatusCreated, api.FromJob(job))
}

func (h *apiHandler) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var dto api.Job
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: decode job: %v", registry.ErrInvalidArgument, err))
		return
	}
	if dto.ID != id {
		h.writeError(w, r, fmt.Errorf("%w: job id %d does not match path id %d", registry.ErrInvalidArgument, dto.ID, id))
		return
	}
	job, err := api.ToJob(dto)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.coord.UpdateJob(r.Context(), job); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	job, err := h.coord.GetJob(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.FromJob(job))
}

func (h *apiHandler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.coord.RemoveJobs(r.Context(), []int64{id}); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleChildJobs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jobs, err := h.coord.ChildJobs(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.JobList{Jobs: api.FromJobs(jobs)})
}

func (h *apiHandler) handleJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status, err := optionalStatus(query.Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	jobs, err := h.coord.Jobs(r.Context(), query.Get("serviceType"), status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.JobList{Jobs: api.FromJobs(jobs)})
}

func (h *apiHandler) handleActiveJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.coord.ActiveJobs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.JobList{Jobs: api.FromJobs(jobs)})
}

func (h *apiHandler) handlePayloads(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	operation := query.Get("operation")
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	payloads, err := h.coord.JobPayloads(r.Context(), operation, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	total, err := h.coord.JobCount(r.Context(), operation)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"payloads": payloads, "total": total})
}

func (h *apiHandler) handleCount(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status, err := optionalStatus(query.Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	serviceType := query.Get("serviceType")
	host := strings.TrimSpace(query.Get("host"))
	operation := strings.TrimSpace(query.Get("operation"))
	ctx := r.Context()

	var count int
	switch {
	case host != "" && operation != "":
		count, err = h.coord.CountFull(ctx, serviceType, host, operation, status)
	case host != "":
		count, err = h.coord.CountByHost(ctx, serviceType, host, status)
	case operation != "":
		count, err = h.coord.CountByOperation(ctx, serviceType, operation, status)
	default:
		count, err = h.coord.Count(ctx, serviceType, status)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeText(w, strconv.Itoa(count))
}

func (h *apiHandler) handleMaxLoad(w http.ResponseWriter, r *http.Request) {
	if host := strings.TrimSpace(r.URL.Query().Get("host")); host != "" {
		load, err := h.coord.MaxLoadOnNode(r.Context(), host)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, api.NodeLoad{Host: load.Host, CurrentLoad: load.CurrentLoad, MaxLoad: load.MaxLoad})
		return
	}
	loads, err := h.coord.MaxLoads(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.FromSystemLoad(loads))
}

func (h *apiHandler) handleCurrentLoad(w http.ResponseWriter, r *http.Request) {
	loads, err := h.coord.CurrentHostLoads(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.FromSystemLoad(loads))
}

func (h *apiHandler) handleOwnLoad(w http.ResponseWriter, _ *http.Request) {
	h.writeText(w, strconv.FormatFloat(h.coord.OwnLoad(), 'f', -1, 64))
}

func (h *apiHandler) handleRemoveJobs(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	if err := json.Unmarshal([]byte(r.FormValue("jobIds")), &ids); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: jobIds must be a JSON array of ids: %v", registry.ErrInvalidArgument, err))
		return
	}
	if err := h.coord.RemoveJobs(r.Context(), ids); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) handleRemoveParentlessJobs(w http.ResponseWriter, r *http.Request) {
	lifetime, err := formInt64(r, "lifetime")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	removed, err := h.coord.RemoveParentlessJobs(r.Context(), int(lifetime))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("parentless jobs removed on request", logging.Int("count", removed))
	w.WriteHeader(http.StatusNoContent)
}

func (h *apiHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (h *apiHandler) writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (h *apiHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), h.logger), "request failed", "api_error",
			logging.String("path", r.URL.Path),
			logging.Error(err),
		)
	}
	h.writeJSON(w, status, api.ErrorResponse{Error: err.Error()})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrOptimisticLock):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func pathID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: job id %q", registry.ErrInvalidArgument, raw)
	}
	return id, nil
}

func optionalStatus(value string) (registry.Status, error) {
	if strings.TrimSpace(value) == "" {
		return "", nil
	}
	return registry.ParseStatus(value)
}

func formBool(r *http.Request, key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(r.FormValue(key))
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", registry.ErrInvalidArgument, key)
	}
	return parsed, nil
}

func formInt64(r *http.Request, key string) (int64, error) {
	value := strings.TrimSpace(r.FormValue(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", registry.ErrInvalidArgument, key)
	}
	return parsed, nil
}

func formFloat(r *http.Request, key string) (float64, error) {
	value := strings.TrimSpace(r.FormValue(key))
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", registry.ErrInvalidArgument, key)
	}
	return parsed, nil
}

// apiServer runs the REST endpoint as a supervised service.
type apiServer struct {
	bind    string
	handler http.Handler
	logger  *slog.Logger
}

func newAPIServer(bind string, handler http.Handler, logger *slog.Logger) *apiServer {
	return &apiServer{
		bind:    bind,
		handler: handler,
		logger:  logging.NewComponentLogger(logger, "api-server"),
	}
}

func (s *apiServer) String() string { return "api-server" }

// Serve listens on the configured address until ctx is cancelled.
func (s *apiServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	}
}
