// Package registry persists hosts, service registrations and jobs in SQLite
// and defines the domain types shared by the coordinator, dispatcher and
// HTTP layers.
//
// The Store manages database connections, schema initialization and every
// query the registry needs: host and service bookkeeping, job CRUD with
// optimistic locking, load sums per host and the aggregate statistics used by
// the status views. Jobs carry a version that increments on every update; an
// update based on a stale copy fails with ErrOptimisticLock so concurrent
// dispatchers and workers never silently overwrite each other.
//
// Schema changes bump schemaVersion in schema.go; operators recreate the
// database to adopt a new schema.
package registry
