// Package telemetry bridges a flight controller's serial telemetry link to UDP and
// carries RC channel updates from the ground back to the air unit.
package telemetry
