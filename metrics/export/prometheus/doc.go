// Package prometheus exports engine counters through client_golang.
//
// [Collector] turns each [campusauth.Engine.MetricsSnapshot] into const
// metrics at scrape time. Counter names are campusauth_*_total; the single
// histogram is campusauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. [Handler] uses its own.
//   - Mutate engine state.
package prometheus
