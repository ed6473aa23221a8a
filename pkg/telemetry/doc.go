// Package telemetry provides structured logging (zerolog) and Prometheus
// metrics for the bootstrap orchestrator. Loggers and metrics are constructed
// from configuration and passed explicitly; the package keeps no globals.
package telemetry
