// Package logs tails the daemon log file for `registrar logs`.
//
// Tail reads the last N lines or everything after a byte offset, optionally
// waiting for new lines, and returns the offset to continue from.
package logs
