package worker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"registrar/internal/logging"
	"registrar/internal/registry"
	"registrar/internal/sysinfo"
)

// Register announces the worker's host and service to the registry.
func (s *Server) Register(ctx context.Context) error {
	facts, err := sysinfo.Collect(s.cfg.Host)
	if err != nil {
		s.logger.Debug("incomplete host facts", logging.Error(err))
	}
	maxLoad := s.cfg.MaxLoad
	if maxLoad <= 0 {
		maxLoad = float64(facts.Cores)
		s.cfg.MaxLoad = maxLoad
	}
	if err := s.reg.RegisterHost(ctx, registry.Host{
		BaseURL:  s.cfg.Host,
		Address:  facts.Address,
		NodeName: s.cfg.NodeName,
		Memory:   facts.Memory,
		Cores:    facts.Cores,
		MaxLoad:  maxLoad,
	}); err != nil {
		return fmt.Errorf("register host: %w", err)
	}
	if _, err := s.reg.RegisterService(ctx, s.cfg.ServiceType, s.cfg.Host, s.cfg.Path, true); err != nil {
		return fmt.Errorf("register service: %w", err)
	}
	s.logger.Info("worker registered",
		logging.String(logging.FieldHost, s.cfg.Host),
		logging.String("path", s.cfg.Path),
		logging.Float64("max_load", maxLoad),
	)
	return nil
}

// Unregister takes the worker's service and host offline.
func (s *Server) Unregister(ctx context.Context) error {
	return errors.Join(
		s.reg.UnregisterService(ctx, s.cfg.ServiceType, s.cfg.Host),
		s.reg.UnregisterHost(ctx, s.cfg.Host),
	)
}

// Run registers the worker, serves dispatch requests on cfg.Bind until ctx
// is cancelled, then waits for running jobs and unregisters.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Bind)
	if err != nil {
		return fmt.Errorf("worker listen: %w", err)
	}
	if err := s.Register(ctx); err != nil {
		_ = listener.Close()
		return err
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(listener) }()
	s.logger.Info("worker listening", logging.String("address", listener.Addr().String()))

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("worker server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	s.Close()
	if err := s.Unregister(shutdownCtx); err != nil {
		logging.WarnWithContext(s.logger, "worker unregistration failed", "worker_unregister_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "registry keeps the worker until its heartbeat fails"),
		)
	}
	return serveErr
}
