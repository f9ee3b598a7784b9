package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"registrar/internal/events"
	"registrar/internal/registry"
)

// Dispatch attempt results.
const (
	ResultAccepted    = "accepted"
	ResultBusy        = "busy"
	ResultRefused     = "refused"
	ResultUnreachable = "unreachable"
	ResultError       = "error"
)

// Metrics holds the registrar's instruments on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	dispatchAttempts    *prometheus.CounterVec
	jobTransitions      *prometheus.CounterVec
	serviceStateChanges *prometheus.CounterVec
	heartbeatFailures   prometheus.Counter
	dispatchRound       prometheus.Histogram
}

// New registers the registrar instruments, the Go runtime collectors and,
// when source is non-nil, gauges scraped from source.
func New(source Source) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{
		registry: reg,
		dispatchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_dispatch_attempts_total",
			Help: "Dispatch attempts by result",
		}, []string{"result"}),
		jobTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_job_transitions_total",
			Help: "Job status transitions by new status",
		}, []string{"status"}),
		serviceStateChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "registrar_service_state_changes_total",
			Help: "Service failover state changes by new state",
		}, []string{"state"}),
		heartbeatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "registrar_heartbeat_failures_total",
			Help: "Heartbeat checks that did not get a 200 response",
		}),
		dispatchRound: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "registrar_dispatch_round_seconds",
			Help:    "Duration of dispatch rounds in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if source != nil {
		reg.MustRegister(newRegistryCollector(source))
	}
	return m
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDispatch counts one dispatch attempt.
func (m *Metrics) RecordDispatch(result string) {
	if m == nil {
		return
	}
	m.dispatchAttempts.WithLabelValues(result).Inc()
}

// ObserveRound records the duration of a dispatch round.
func (m *Metrics) ObserveRound(d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchRound.Observe(d.Seconds())
}

// RecordHeartbeatFailure counts a missed heartbeat.
func (m *Metrics) RecordHeartbeatFailure() {
	if m == nil {
		return
	}
	m.heartbeatFailures.Inc()
}

// EventHandlers returns handlers that count job and service transitions.
func (m *Metrics) EventHandlers() events.Handlers {
	return events.Handlers{
		JobStatus: func(_ context.Context, event events.JobStatusEvent) {
			if m == nil {
				return
			}
			m.jobTransitions.WithLabelValues(string(event.Status)).Inc()
		},
		ServiceState: func(_ context.Context, event events.ServiceStateEvent) {
			if m == nil {
				return
			}
			m.serviceStateChanges.WithLabelValues(string(event.State)).Inc()
		},
	}
}

var serviceStates = []registry.ServiceState{registry.ServiceNormal, registry.ServiceWarning, registry.ServiceError}
