// Package worker implements the job-producer side of the dispatch contract.
//
// A Server answers heartbeats and dispatch offers on <path>/dispatch,
// accepts jobs while it has capacity and runs them through a Processor
// registered for the job's operation, reporting RUNNING and the final
// status back to the registry. Run wires a Server to a registry: it
// registers the host and service, serves until the context ends and
// unregisters again.
package worker
