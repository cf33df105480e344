// Package observability wires OpenTelemetry metrics and tracing for
// meshkit processes.
//
// Init installs OTLP/HTTP meter and tracer providers as the otel globals.
// With observability disabled the otel no-op globals stay in place, so
// instruments created from them cost nothing.
//
// Metrics groups the mesh instruments: registry changes and evictions,
// breaker transitions, invoke outcomes and latency, config publishes and
// refresh deliveries. A nil *Metrics is valid and records nothing.
package observability
