// Package metrics exposes registrar instrumentation in the Prometheus format.
//
// Counters and the dispatch round histogram are updated by the dispatcher,
// the heartbeat and the event listener. Host, service and job gauges are
// computed from the registry on every scrape.
package metrics
