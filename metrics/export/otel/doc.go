// Package otel publishes portalauth engine metrics through an OpenTelemetry
// Meter.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter family,
// with members told apart by a single attribute such as outcome or result.
// Histogram buckets share one gauge keyed by le. A single callback reads
// [portalauth.Engine.MetricsSnapshot] on each collection.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
