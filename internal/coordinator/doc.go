// Package coordinator implements the service registry: host and service
// registration, job creation and updates, host load accounting, dispatch
// candidate selection and the failover states that keep repeatedly failing
// services away from new work.
//
// The coordinator owns all business rules; the registry package only
// persists. Dispatch rounds, heartbeats and the janitor live in package
// dispatch and drive the coordinator through its exported methods.
package coordinator
