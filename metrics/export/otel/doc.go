// Package otel binds goGuard counters to OpenTelemetry metric instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per guard counter and
// an Int64ObservableGauge per latency bucket. A single callback reads
// [goGuard.Engine.MetricsSnapshot] on each collection cycle; bucket gauges are
// skipped while latency histograms are disabled.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
