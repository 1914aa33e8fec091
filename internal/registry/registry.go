// Package registry is the central glue between the HCL device manifests and
// the Go compute functions registered at init time, grounded on the
// teacher's internal/registry (RegisterRunner/RegisterAssetHandler
// panic-on-duplicate discipline) generalized from runner/asset handlers to
// compute functions and device pools.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/vk/tensorsched/internal/compute"
	"github.com/vk/tensorsched/internal/hclmanifest"
)

// Registry holds the device pools declared in HCL manifests alongside a
// view onto the process-wide compute.Fn registry, so app wiring has one
// place to resolve "does this deployment have everything the manifest
// requires".
type Registry struct {
	mu      sync.RWMutex
	devices map[string]hclmanifest.DeviceDecl
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{devices: make(map[string]hclmanifest.DeviceDecl)}
}

// LoadDevices populates the registry's device pools from a parsed Manifest.
// A device already registered under the same memtype:index key is a fatal
// bookkeeping error.
func (r *Registry) LoadDevices(m *hclmanifest.Manifest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range m.Devices {
		key := d.MemType + ":" + d.Index
		if _, exists := r.devices[key]; exists {
			panic(fmt.Sprintf("registry: device %q already registered", key))
		}
		slog.Debug("registry: registered device pool", "device", key, "pool_size", d.PoolSize, "endpoint", d.Endpoint)
		r.devices[key] = d
	}
}

// Devices returns every device pool currently known to the registry.
func (r *Registry) Devices() []hclmanifest.DeviceDecl {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]hclmanifest.DeviceDecl, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Device looks up a single device pool declaration by memtype:index key.
func (r *Registry) Device(key string) (hclmanifest.DeviceDecl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[key]
	return d, ok
}

// ResolveFn looks up a compute function by name. It delegates to the
// process-wide compute registry; tensorsched never ties compute functions
// to a particular Registry instance, since the same binary can only ever
// register one Go implementation per function name regardless of how many
// manifests reference it.
func (r *Registry) ResolveFn(name string) (compute.Fn, bool) {
	return compute.Lookup(name)
}
