// Package telemetry owns the process-wide OpenTelemetry setup: OTLP
// gRPC export for spans and metrics, ratio-based sampling, and trace
// context propagation. The entrypoint calls Init once at boot and
// defers Shutdown; when telemetry is disabled both are inert, so no
// other package has to care whether an observability backend exists.
package telemetry
