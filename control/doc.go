// Package control
// License: Apache-2.0
//
// Configuration loading, hot-reload propagation, runtime metrics and debug
// introspection for hioload-flux servers and clients.
//
// Provides concurrent-safe state handling primitives including:
//   - viper-backed configuration with YAML files and FLUX_* environment overrides
//   - Snapshot config reads with reload listeners
//   - Counters and gauges shared by the server, client and WebSocket layers
//   - Debug probes exported next to metrics
//
// This package is cross-platform and build-tag-partitioned as needed.
package control
