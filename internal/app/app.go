package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/vk/tensorsched/internal/ctxlog"
	"github.com/vk/tensorsched/internal/device"
	"github.com/vk/tensorsched/internal/devicenet"
	"github.com/vk/tensorsched/internal/devicestub"
	"github.com/vk/tensorsched/internal/hclmanifest"
	"github.com/vk/tensorsched/internal/registry"
	"github.com/vk/tensorsched/internal/scheduler"
)

// closer is satisfied by both devicestub.Manager and devicenet.Manager,
// whose shutdown cannot fail the way a network flush might.
type closer interface {
	Close()
}

// App encapsulates the application's dependencies, configuration, and
// lifecycle: a device manager, the compute/device registry, the Scheduler,
// and the ambient goroutines Run coordinates around them.
type App struct {
	log       *slog.Logger
	registry  *registry.Registry
	dm        device.Manager
	scheduler *scheduler.Scheduler
	cfg       *Config

	httpServer *http.Server
}

// New is the constructor for the main application. It loads any configured
// device manifests, constructs the selected device manager, and constructs
// the Scheduler over it.
func New(outW io.Writer, cfg Config) (*App, error) {
	resolved, err := NewConfig(cfg)
	if err != nil {
		return nil, err
	}

	logger := newLogger(resolved.LogLevel, resolved.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("app: logger configured")

	reg := registry.New()
	if len(resolved.ManifestPaths) > 0 {
		manifest, err := hclmanifest.Load(ctx, resolved.ManifestPaths...)
		if err != nil {
			return nil, fmt.Errorf("app: load device manifests: %w", err)
		}
		reg.LoadDevices(manifest)
		logger.Debug("app: device manifests loaded", "devices", len(reg.Devices()))
	}

	var dm device.Manager
	switch resolved.DeviceMode {
	case "stub":
		dm = devicestub.New()
	case "net":
		dm = devicenet.New(resolved.DeviceNetURL, devicenet.WithLogger(logger))
	}

	sched := scheduler.New(dm, scheduler.WithLogger(logger))

	return &App{
		log:       logger,
		registry:  reg,
		dm:        dm,
		scheduler: sched,
		cfg:       resolved,
	}, nil
}

// Scheduler returns the application's Scheduler. Primarily for tests and
// for callers driving Create/Wait/GetValue directly.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Registry returns the application's registry. Primarily for tests.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
