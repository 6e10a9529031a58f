// Package otel publishes engine counters as OpenTelemetry observable
// instruments: one Int64ObservableCounter per counter and one
// Int64ObservableGauge per latency bucket.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate engine state.
package otel
