// Package task defines the payload the scheduler hands to a device: enough
// information to run one OpNode's compute function against physical memory.
package task

import (
	"github.com/vk/tensorsched/internal/compute"
	"github.com/vk/tensorsched/internal/dag"
	"github.com/vk/tensorsched/internal/deviceid"
)

// Operand pairs a physical data allocation with the DataNode id it backs.
type Operand struct {
	Data deviceid.DataID
	Node dag.NodeID
}

// Op describes the computation to run: which device, which function.
type Op struct {
	Device deviceid.Device
	Fn     compute.Fn
}

// Task is the immutable snapshot the dispatcher builds for one OpNode
// dispatch. Devices execute it asynchronously and report completion through
// device.Listener.
type Task struct {
	ID      dag.NodeID
	Op      Op
	Inputs  []Operand
	Outputs []Operand
}
