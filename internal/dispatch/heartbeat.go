package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"registrar/internal/logging"
	"registrar/internal/metrics"
	"registrar/internal/registry"
)

// ServiceDirectory is the part of the coordinator the heartbeat maintains.
type ServiceDirectory interface {
	ServiceRegistrations(ctx context.Context) ([]*registry.Service, error)
	RegisterService(ctx context.Context, serviceType, host, path string, jobProducer bool) (*registry.Service, error)
	UnregisterService(ctx context.Context, serviceType, host string) error
}

// Heartbeat probes job producers and unregisters services that miss two
// consecutive checks.
type Heartbeat struct {
	dir      ServiceDirectory
	client   *Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	mu    sync.Mutex
	watch map[int64]struct{}
}

// NewHeartbeat builds a heartbeat probing every interval.
func NewHeartbeat(dir ServiceDirectory, client *Client, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Heartbeat {
	return &Heartbeat{
		dir:      dir,
		client:   client,
		logger:   logging.NewComponentLogger(logger, "heartbeat"),
		metrics:  m,
		interval: interval,
		watch:    make(map[int64]struct{}),
	}
}

func (h *Heartbeat) String() string { return "heartbeat" }

// Serve probes services until ctx is cancelled.
func (h *Heartbeat) Serve(ctx context.Context) error {
	return runEvery(ctx, h.interval, func(ctx context.Context) {
		if err := h.Check(ctx); err != nil && ctx.Err() == nil {
			h.logger.Warn("heartbeat check failed", logging.Error(err))
		}
	})
}

// Watched reports whether svc missed the previous probe.
func (h *Heartbeat) Watched(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.watch[id]
	return ok
}

// Check probes every job producer that is not in maintenance once.
func (h *Heartbeat) Check(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	services, err := h.dir.ServiceRegistrations(ctx)
	if err != nil {
		return err
	}
	for _, svc := range services {
		if !svc.JobProducer || svc.Maintenance {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		logger := h.logger.With(
			logging.String(logging.FieldServiceType, svc.ServiceType),
			logging.String(logging.FieldHost, svc.Host),
		)

		status, err := h.client.Ping(ctx, svc)
		if err == nil && status == http.StatusOK {
			if _, watched := h.watch[svc.ID]; watched {
				delete(h.watch, svc.ID)
				logger.Info("service responsive again")
			}
			if !svc.Online {
				if _, err := h.dir.RegisterService(ctx, svc.ServiceType, svc.Host, "", svc.JobProducer); err != nil {
					logger.Warn("failed to bring service back online", logging.Error(err))
					continue
				}
				logger.Info("service back online")
			}
			continue
		}
		if !svc.Online {
			continue
		}

		h.metrics.RecordHeartbeatFailure()
		if _, watched := h.watch[svc.ID]; !watched {
			h.watch[svc.ID] = struct{}{}
			logger.Info("service missed heartbeat", logging.String("response", describeStatus(status, err)))
			continue
		}
		delete(h.watch, svc.ID)
		if err := h.dir.UnregisterService(ctx, svc.ServiceType, svc.Host); err != nil {
			logger.Warn("failed to unregister unresponsive service", logging.Error(err))
			continue
		}
		logging.WarnWithContext(logger, "unregistered unresponsive service", "service_unresponsive",
			logging.String("response", describeStatus(status, err)),
			logging.String(logging.FieldImpact, "running jobs on the service were requeued"),
		)
	}
	return nil
}
