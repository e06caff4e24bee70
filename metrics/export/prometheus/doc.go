// Package prometheus exposes authcore Engine metrics as a Prometheus scrape
// target. An [Exporter] is an http.Handler; mount it on any path.
//
// Counter names are prefixed authcore_ and end in _total. The only
// histogram is authcore_authorize_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global registry.
//   - Mutate engine state.
package prometheus
