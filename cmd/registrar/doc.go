// Package main hosts the registrar CLI entrypoint and command graph.
//
// The Cobra command tree translates terminal invocations into IPC calls
// against the local daemon: registry inspection, host maintenance, job
// housekeeping, log tailing and daemon lifecycle control. The worker
// command runs a dispatch target against a remote registry over REST.
//
// Add functionality to the internal packages first and surface it here
// through dedicated commands or flags.
package main
