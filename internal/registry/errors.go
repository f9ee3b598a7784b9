package registry

import "errors"

var (
	// ErrNotFound reports a missing host, service registration or job.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument reports a request the registry refuses to act on.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOptimisticLock reports a job update based on a stale version.
	ErrOptimisticLock = errors.New("job was modified concurrently")
	// ErrServiceUnavailable reports that no service can currently process a job.
	ErrServiceUnavailable = errors.New("no service available")
	// ErrUndispatchable reports that every candidate refused or failed to accept a job.
	ErrUndispatchable = errors.New("job could not be dispatched")
)
