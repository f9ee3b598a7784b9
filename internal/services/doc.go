// Package services defines shared utilities consumed by the registry's HTTP
// handlers, the dispatcher and job-producer workers.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, hosts, service types and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate processor
//     failures into job failure reasons (data vs processing).
package services
