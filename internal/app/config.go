package app

import (
	"fmt"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// DeviceMode selects the device.Manager implementation: "stub" (the
	// default, in-process reference manager) or "net" (an out-of-process
	// device server reached over socket.io).
	DeviceMode string
	// DeviceNetURL is the device server endpoint. Required when DeviceMode
	// is "net".
	DeviceNetURL string

	// ManifestPaths are directories searched recursively for *.hcl device
	// manifests.
	ManifestPaths []string

	HealthcheckPort int

	// TelemetryURL is the collector endpoint. Telemetry is disabled when
	// empty.
	TelemetryURL      string
	TelemetryInterval time.Duration

	LogLevel  string
	LogFormat string
}

// NewConfig validates cfg and returns a copy with defaults applied.
func NewConfig(cfg Config) (*Config, error) {
	switch cfg.DeviceMode {
	case "", "stub":
		cfg.DeviceMode = "stub"
	case "net":
		if cfg.DeviceNetURL == "" {
			return nil, fmt.Errorf("app: device mode %q requires DeviceNetURL", cfg.DeviceMode)
		}
	default:
		return nil, fmt.Errorf("app: unknown device mode %q", cfg.DeviceMode)
	}

	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = 10 * time.Second
	}

	return &cfg, nil
}
