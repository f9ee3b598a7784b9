// Package daemon coordinates the long-running registrard process.
//
// It wires configuration, registry storage, the coordinator, the event bus,
// metrics, and the background loops (dispatcher, heartbeat, janitor, REST
// server) into a suture supervisor tree with flock-based locking to prevent
// multiple instances. On start the daemon registers its own host and cancels
// local jobs that a previous run left behind; on stop it unregisters the host
// again.
//
// Keep orchestration logic here: registry semantics live in the coordinator
// and the loops in the dispatch package, while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
