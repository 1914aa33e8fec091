// Package device defines the narrow interfaces the scheduler consumes from
// the (out-of-scope) device manager, plus the single callback surface a
// device manager uses to report back to the scheduler.
package device

import (
	"context"

	"github.com/vk/tensorsched/internal/dag"
	"github.com/vk/tensorsched/internal/deviceid"
	"github.com/vk/tensorsched/internal/task"
)

// PhysicalData is the allocation handle a device manager returns for a new
// array: which device owns it and an opaque id the scheduler threads through
// Task payloads without ever interpreting.
type PhysicalData struct {
	Device deviceid.Device
	Data   deviceid.DataID
}

// Listener is the callback surface a device manager invokes on task
// completion or failure. The scheduler implements it.
type Listener interface {
	// OnOperationComplete reports that t finished successfully.
	OnOperationComplete(t *task.Task)
	// OnOperationFailed reports that the operation running as id could not
	// complete. err is surfaced to the first Wait/WaitForAll caller blocked
	// on the resulting poisoned subtree.
	OnOperationFailed(id dag.NodeID, err error)
}

// Device is one execution backend: it accepts opaque tasks and, asynchronously,
// signals their completion or failure through the registered Listener.
type Device interface {
	// PushTask submits t for execution. It does not block on completion.
	PushTask(ctx context.Context, t *task.Task) error
}

// Manager owns device allocation and physical memory for every device the
// scheduler can target.
type Manager interface {
	// GetDevice resolves a device id to its execution backend.
	GetDevice(d deviceid.Device) (Device, error)
	// Allocate reserves space for one array of elemCount float32 elements on d.
	Allocate(ctx context.Context, d deviceid.Device, elemCount int64) (PhysicalData, error)
	// FreeData releases a previously allocated array. The scheduler calls
	// this exactly once per DataNode, when it is observed dead.
	FreeData(ctx context.Context, pd PhysicalData) error
	// GetPtr resolves an allocation to a host-readable copy of its current
	// contents, sized prod(shape) float32 elements.
	GetPtr(ctx context.Context, pd PhysicalData, elemCount int64) ([]float32, error)
	// RegisterListener is called once at construction so the manager's
	// devices know where to report completion and failure.
	RegisterListener(l Listener)
}
