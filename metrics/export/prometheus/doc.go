// Package prometheus renders portalauth engine metrics in Prometheus text
// exposition format.
//
// Counters are grouped into portalauth_*_total families labeled by outcome,
// result, decision or scope, for example
// portalauth_challenge_attempts_total{outcome="expired"}. The single
// histogram is portalauth_authenticate_latency_seconds. Mount [PrometheusExporter.Handler]
// on the scrape route.
//
// # What this package must NOT do
//
//   - Register with a global registry.
//   - Mutate engine state.
package prometheus
