// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Wire types reuse the REST DTOs from internal/api so both surfaces render
// hosts, services and jobs identically. Registry errors travel as plain
// messages; callers print them.
package ipc
