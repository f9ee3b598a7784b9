// Package config loads, normalizes, and validates Registrar configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// REGISTRAR_API_TOKEN. The Config type centralizes every knob the daemon, the
// CLI and job-producer workers need: where the registry database lives, which
// URL this node advertises, how often jobs are dispatched and services are
// probed, and when failing services are taken out of rotation.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
