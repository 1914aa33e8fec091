// Package app contains the core application logic. It wires together the
// device manager, the compute/device registry, and the Scheduler, and runs
// the ambient concerns (health check server, telemetry exporter) around
// them, decoupled from any specific entrypoint like a CLI.
package app
