// Package cli parses command-line arguments into an app.Config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/vk/tensorsched/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly (e.g. -help was
// requested), or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	flagSet := flag.NewFlagSet("tensorsched", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
tensorsched - a dataflow DAG scheduler for a tensor runtime.

Usage:
  tensorsched [options]

Options:
`)
		flagSet.PrintDefaults()
	}

	deviceModeFlag := flagSet.String("device", "stub", "Device manager: 'stub' or 'net'.")
	deviceNetURLFlag := flagSet.String("device-net-url", "", "Device server URL, required when -device=net.")
	manifestPathFlag := flagSet.String("manifest-path", "manifests", "Path to the directory containing *.hcl device manifests.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	telemetryURLFlag := flagSet.String("telemetry-url", "", "Telemetry collector URL. Telemetry is disabled when empty.")
	telemetryIntervalFlag := flagSet.Duration("telemetry-interval", 10*time.Second, "Telemetry report interval.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	cfg, err := app.NewConfig(app.Config{
		DeviceMode:        *deviceModeFlag,
		DeviceNetURL:      *deviceNetURLFlag,
		ManifestPaths:     []string{*manifestPathFlag},
		HealthcheckPort:   *healthPortFlag,
		TelemetryURL:      *telemetryURLFlag,
		TelemetryInterval: *telemetryIntervalFlag,
		LogFormat:         logFormat,
		LogLevel:          logLevel,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	return cfg, false, nil
}
