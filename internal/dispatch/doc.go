// Package dispatch runs the registry's background loops: the dispatcher
// that offers queued jobs to job producers, the heartbeat that probes
// producers and unregisters unresponsive ones, and the janitor that removes
// old finished jobs.
package dispatch
