package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"
	"time"

	"registrar/internal/api"
	"registrar/internal/daemon"
	"registrar/internal/logging"
	"registrar/internal/logs"
	"registrar/internal/registry"
)

// ServiceName is the JSON-RPC service the daemon registers.
const ServiceName = "Registrar"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer binds the socket at path, replacing a stale socket file.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(ServiceName, &service{daemon: d, logger: logger, ctx: serverCtx}); err != nil {
		cancel()
		_ = listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
		conns:     make(map[net.Conn]struct{}),
	}, nil
}

// Serve accepts connections in the background until Close is called or the
// server context ends.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		<-s.ctx.Done()
		_ = s.listener.Close()
		s.closeConns()
	}()
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "CLI commands may fail to reach the daemon"),
				logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"),
			)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
		}()
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

// Close stops accepting, drops open client connections and removes the
// socket file.
func (s *Server) Close() {
	s.cancel()
	_ = s.listener.Close()
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "socket file not removed", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "a stale socket is replaced on the next start"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.logger.Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.logger.Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.logger.Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.logger.Info("daemon stopped via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	*resp = StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		OwnHost:      status.OwnHost,
		OwnLoad:      status.OwnLoad,
		JobCounts:    api.MergeStatusCounts(status.JobCounts),
		Health:       api.FromHealth(status.Health),
	}
	return nil
}

func (s *service) Hosts(_ HostsRequest, resp *HostsResponse) error {
	hosts, err := s.daemon.Coordinator().HostRegistrations(s.ctx)
	if err != nil {
		return err
	}
	resp.Hosts = api.FromHosts(hosts)
	return nil
}

func (s *service) Services(req ServicesRequest, resp *ServicesResponse) error {
	c := s.daemon.Coordinator()
	var (
		services []*registry.Service
		err      error
	)
	switch {
	case req.ServiceType != "" && req.Host != "":
		var svc *registry.Service
		if svc, err = c.ServiceRegistration(s.ctx, req.ServiceType, req.Host); err == nil && svc != nil {
			services = []*registry.Service{svc}
		}
	case req.ServiceType != "":
		services, err = c.ServiceRegistrationsByType(s.ctx, req.ServiceType)
	case req.Host != "":
		services, err = c.ServiceRegistrationsByHost(s.ctx, req.Host)
	default:
		services, err = c.ServiceRegistrations(s.ctx)
	}
	if err != nil {
		return err
	}
	resp.Services = api.FromServices(services)
	return nil
}

func (s *service) Jobs(req JobsRequest, resp *JobsResponse) error {
	c := s.daemon.Coordinator()
	var (
		jobs []*registry.Job
		err  error
	)
	if req.ServiceType == "" && req.Status == "" {
		jobs, err = c.ActiveJobs(s.ctx)
	} else {
		var status registry.Status
		if req.Status != "" {
			if status, err = registry.ParseStatus(req.Status); err != nil {
				return err
			}
		}
		jobs, err = c.Jobs(s.ctx, req.ServiceType, status)
	}
	if err != nil {
		return err
	}
	resp.Jobs = api.FromJobs(jobs)
	return nil
}

func (s *service) Job(req JobRequest, resp *JobResponse) error {
	job, err := s.daemon.Coordinator().GetJob(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Job = api.FromJob(job)
	return nil
}

func (s *service) ChildJobs(req JobRequest, resp *JobsResponse) error {
	jobs, err := s.daemon.Coordinator().ChildJobs(s.ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Jobs = api.FromJobs(jobs)
	return nil
}

func (s *service) SetMaintenance(req MaintenanceRequest, resp *HostResponse) error {
	c := s.daemon.Coordinator()
	if err := c.SetMaintenanceStatus(s.ctx, req.Host, req.Maintenance); err != nil {
		return err
	}
	s.logger.Info("host maintenance changed via IPC",
		logging.String(logging.FieldHost, req.Host),
		logging.Bool("maintenance", req.Maintenance),
	)
	return s.hostResponse(req.Host, resp)
}

func (s *service) EnableHost(req HostRequest, resp *HostResponse) error {
	if err := s.daemon.Coordinator().EnableHost(s.ctx, req.Host); err != nil {
		return err
	}
	return s.hostResponse(req.Host, resp)
}

func (s *service) DisableHost(req HostRequest, resp *HostResponse) error {
	if err := s.daemon.Coordinator().DisableHost(s.ctx, req.Host); err != nil {
		return err
	}
	return s.hostResponse(req.Host, resp)
}

func (s *service) hostResponse(baseURL string, resp *HostResponse) error {
	host, err := s.daemon.Coordinator().HostRegistration(s.ctx, baseURL)
	if err != nil {
		return err
	}
	resp.Host = api.FromHost(host)
	return nil
}

func (s *service) Sanitize(req SanitizeRequest, resp *SanitizeResponse) error {
	c := s.daemon.Coordinator()
	if err := c.Sanitize(s.ctx, req.ServiceType, req.Host); err != nil {
		return err
	}
	svc, err := c.ServiceRegistration(s.ctx, req.ServiceType, req.Host)
	if err != nil {
		return err
	}
	if svc != nil {
		resp.Service = api.FromService(svc)
	}
	return nil
}

func (s *service) Statistics(_ StatisticsRequest, resp *StatisticsResponse) error {
	c := s.daemon.Coordinator()
	services, err := c.ServiceStatistics(s.ctx)
	if err != nil {
		return err
	}
	hosts, err := c.HostStatistics(s.ctx)
	if err != nil {
		return err
	}
	resp.Services = api.FromServiceStatistics(services).Services
	resp.Hosts = api.FromHostStatistics(hosts)
	return nil
}

func (s *service) Loads(_ LoadsRequest, resp *LoadsResponse) error {
	c := s.daemon.Coordinator()
	loads, err := c.CurrentHostLoads(s.ctx)
	if err != nil {
		return err
	}
	resp.Nodes = api.FromSystemLoad(loads).Nodes
	resp.OwnLoad = c.OwnLoad()
	return nil
}

func (s *service) RemoveJobs(req RemoveJobsRequest, resp *RemoveJobsResponse) error {
	if len(req.IDs) == 0 {
		return errors.New("remove requires at least one job id")
	}
	if err := s.daemon.Coordinator().RemoveJobs(s.ctx, req.IDs); err != nil {
		return err
	}
	resp.Removed = len(req.IDs)
	s.logger.Info("jobs removed via IPC", logging.Int("count", resp.Removed))
	return nil
}

func (s *service) RemoveParentlessJobs(req RemoveParentlessJobsRequest, resp *RemoveJobsResponse) error {
	removed, err := s.daemon.Coordinator().RemoveParentlessJobs(s.ctx, req.LifetimeDays)
	if err != nil {
		return err
	}
	resp.Removed = removed
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	wait := time.Duration(req.WaitMillis) * time.Millisecond
	if wait <= 0 && req.Follow {
		wait = time.Second
	}
	ctx := s.ctx
	if req.Follow && wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, wait+500*time.Millisecond)
		defer cancel()
	}
	result, err := logs.Tail(ctx, logPath, logs.TailOptions{
		Offset: req.Offset,
		Limit:  req.Limit,
		Follow: req.Follow,
		Wait:   wait,
		Match:  req.Match,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			resp.Offset = result.Offset
			return nil
		}
		return err
	}
	resp.Lines = result.Lines
	resp.Offset = result.Offset
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health, err := s.daemon.DatabaseHealth(s.ctx)
	*resp = DatabaseHealthResponse{
		DBPath:           health.DBPath,
		DatabaseExists:   health.DatabaseExists,
		DatabaseReadable: health.DatabaseReadable,
		SchemaVersion:    health.SchemaVersion,
		MissingTables:    health.MissingTables,
		IntegrityCheck:   health.IntegrityCheck,
		Hosts:            health.Hosts,
		Services:         health.Services,
		Jobs:             health.Jobs,
		Error:            health.Error,
	}
	if err != nil && health.Error == "" {
		return err
	}
	return nil
}
