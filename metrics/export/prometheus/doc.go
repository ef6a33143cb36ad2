// Package prometheus exposes goGuard metrics through
// github.com/prometheus/client_golang.
//
// [PrometheusExporter] is a prometheus.Collector that reads
// [goGuard.Engine.MetricsSnapshot] at scrape time. Counter names are
// goguard_*_total; the single histogram is goguard_guard_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry; callers choose the registry.
//   - Mutate engine state.
package prometheus
