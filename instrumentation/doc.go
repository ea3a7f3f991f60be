// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server. When disabled it wires no-op providers so the hot
// paths pay no observability cost.
package instrumentation
