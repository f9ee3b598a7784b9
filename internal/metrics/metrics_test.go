package metrics_test

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"registrar/internal/events"
	"registrar/internal/metrics"
	"registrar/internal/registry"
)

type fakeSource struct {
	failServices bool
}

func (fakeSource) HostRegistrations(context.Context) ([]*registry.Host, error) {
	return []*registry.Host{
		{BaseURL: "http://a:8080", MaxLoad: 4, Online: true},
		{BaseURL: "http://b:8080", MaxLoad: 2, Maintenance: true},
	}, nil
}

func (fakeSource) CurrentHostLoads(context.Context) (registry.SystemLoad, error) {
	return registry.SystemLoad{
		"http://a:8080": {Host: "http://a:8080", CurrentLoad: 1.5, MaxLoad: 4},
		"http://b:8080": {Host: "http://b:8080", MaxLoad: 2},
	}, nil
}

func (f fakeSource) ServiceRegistrations(context.Context) ([]*registry.Service, error) {
	if f.failServices {
		return nil, errors.New("database is locked")
	}
	return []*registry.Service{{ServiceType: "composer", Host: "http://a:8080", State: registry.ServiceWarning}}, nil
}

func (fakeSource) StatusCounts(context.Context) (map[registry.Status]int, error) {
	return map[registry.Status]int{registry.StatusQueued: 3}, nil
}

func TestCollectorExportsRegistryGauges(t *testing.T) {
	m := metrics.New(fakeSource{})
	reg := m.Registry()

	cases := map[string]int{
		"registrar_host_load":        2,
		"registrar_host_max_load":    2,
		"registrar_host_online":      2,
		"registrar_host_maintenance": 2,
		"registrar_service_state":    3,
		"registrar_jobs":             len(registry.AllStatuses),
	}
	for name, want := range cases {
		got, err := testutil.GatherAndCount(reg, name)
		if err != nil {
			t.Fatalf("GatherAndCount %s: %v", name, err)
		}
		if got != want {
			t.Fatalf("%s series = %d, want %d", name, got, want)
		}
	}

	expected := `
# HELP registrar_scrape_errors Registry queries that failed during this scrape
# TYPE registrar_scrape_errors gauge
registrar_scrape_errors 0
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "registrar_scrape_errors"); err != nil {
		t.Fatalf("scrape errors: %v", err)
	}
}

func TestCollectorCountsFailedQueries(t *testing.T) {
	m := metrics.New(fakeSource{failServices: true})
	expected := `
# HELP registrar_scrape_errors Registry queries that failed during this scrape
# TYPE registrar_scrape_errors gauge
registrar_scrape_errors 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "registrar_scrape_errors"); err != nil {
		t.Fatalf("scrape errors: %v", err)
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := metrics.New(nil)
	m.RecordDispatch(metrics.ResultAccepted)
	m.RecordDispatch(metrics.ResultAccepted)
	m.RecordDispatch(metrics.ResultBusy)
	m.RecordHeartbeatFailure()
	m.ObserveRound(150 * time.Millisecond)

	handlers := m.EventHandlers()
	handlers.JobStatus(context.Background(), events.JobStatusEvent{Status: registry.StatusFinished})
	handlers.ServiceState(context.Background(), events.ServiceStateEvent{State: registry.ServiceError})

	expected := `
# HELP registrar_dispatch_attempts_total Dispatch attempts by result
# TYPE registrar_dispatch_attempts_total counter
registrar_dispatch_attempts_total{result="accepted"} 2
registrar_dispatch_attempts_total{result="busy"} 1
# HELP registrar_job_transitions_total Job status transitions by new status
# TYPE registrar_job_transitions_total counter
registrar_job_transitions_total{status="FINISHED"} 1
# HELP registrar_service_state_changes_total Service failover state changes by new state
# TYPE registrar_service_state_changes_total counter
registrar_service_state_changes_total{state="ERROR"} 1
# HELP registrar_heartbeat_failures_total Heartbeat checks that did not get a 200 response
# TYPE registrar_heartbeat_failures_total counter
registrar_heartbeat_failures_total 1
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"registrar_dispatch_attempts_total",
		"registrar_job_transitions_total",
		"registrar_service_state_changes_total",
		"registrar_heartbeat_failures_total",
	); err != nil {
		t.Fatalf("counters: %v", err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "registrar_dispatch_round_seconds_count 1") {
		t.Fatalf("handler output missing round histogram:\n%s", body)
	}
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *metrics.Metrics
	m.RecordDispatch(metrics.ResultError)
	m.RecordHeartbeatFailure()
	m.ObserveRound(time.Second)
	m.EventHandlers().JobStatus(context.Background(), events.JobStatusEvent{})
}
