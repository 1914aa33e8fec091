package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tensorsched/internal/compute"
	"github.com/vk/tensorsched/internal/deviceid"
	"github.com/vk/tensorsched/internal/tensorshape"
)

var cpu0 = deviceid.Device{MemType: deviceid.MemCPU, Index: 0}

func identityFn() compute.Fn {
	return compute.Fn{
		Name: "test.identity",
		Call: func(ctx context.Context, inputs, outputs [][]float32) error { return nil },
	}
}

func TestNew(t *testing.T) {
	g := New()
	assert.Equal(t, 0, g.Len())
}

func TestNewDataNode(t *testing.T) {
	g := New()
	dn := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})

	assert.NotZero(t, dn.ID())
	assert.Zero(t, dn.Producer)
	assert.Empty(t, dn.Consumers)
	assert.Equal(t, 1, g.Len())
}

func TestNewOpNode_WiresEdges(t *testing.T) {
	g := New()
	in := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})
	out := g.NewDataNode(cpu0, deviceid.DataID(2), tensorshape.Shape{4})

	op := g.NewOpNode(cpu0, identityFn(), []NodeID{in.ID()}, []NodeID{out.ID()})

	assert.Equal(t, op.ID(), out.Producer)
	assert.Contains(t, in.Consumers, op.ID())
	assert.Equal(t, 3, g.Len())
}

func TestNewOpNode_DuplicateProducerPanics(t *testing.T) {
	g := New()
	in := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})
	out := g.NewDataNode(cpu0, deviceid.DataID(2), tensorshape.Shape{4})
	g.NewOpNode(cpu0, identityFn(), []NodeID{in.ID()}, []NodeID{out.ID()})

	assert.Panics(t, func() {
		g.NewOpNode(cpu0, identityFn(), []NodeID{in.ID()}, []NodeID{out.ID()})
	})
}

func TestRemoveNodeFromDag(t *testing.T) {
	g := New()
	dn := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})

	removed := g.RemoveNodeFromDag(dn.ID())
	require.Equal(t, dn.ID(), removed.ID())
	assert.Equal(t, 0, g.Len())

	_, ok := g.GetNode(dn.ID())
	assert.False(t, ok)
}

func TestRemoveNodeFromDag_DoubleRemovePanics(t *testing.T) {
	g := New()
	dn := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})
	g.RemoveNodeFromDag(dn.ID())

	assert.Panics(t, func() {
		g.RemoveNodeFromDag(dn.ID())
	})
}

func TestNeighborsOf(t *testing.T) {
	g := New()
	in := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})
	out := g.NewDataNode(cpu0, deviceid.DataID(2), tensorshape.Shape{4})
	op := g.NewOpNode(cpu0, identityFn(), []NodeID{in.ID()}, []NodeID{out.ID()})

	assert.ElementsMatch(t, []NodeID{op.ID()}, g.NeighborsOf(in.ID()))
	assert.ElementsMatch(t, []NodeID{in.ID(), out.ID()}, g.NeighborsOf(op.ID()))
}

func TestAdjacentOps(t *testing.T) {
	g := New()
	in := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})
	out := g.NewDataNode(cpu0, deviceid.DataID(2), tensorshape.Shape{4})
	op := g.NewOpNode(cpu0, identityFn(), []NodeID{in.ID()}, []NodeID{out.ID()})

	assert.ElementsMatch(t, []NodeID{op.ID()}, g.AdjacentOps([]NodeID{in.ID()}))
}

func TestNeighborsOf_SkipsRemovedProducer(t *testing.T) {
	g := New()
	out := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})
	op := g.NewOpNode(cpu0, identityFn(), nil, []NodeID{out.ID()})

	// out still names op as its producer even after op is removed from the
	// graph (e.g. once every one of op's outputs has completed); a
	// surviving sibling output must not try to lock a neighbor that is
	// gone.
	g.RemoveNodeFromDag(op.ID())

	assert.Empty(t, g.NeighborsOf(out.ID()))
}

func TestAdjacentOps_SkipsRemovedProducer(t *testing.T) {
	g := New()
	out := g.NewDataNode(cpu0, deviceid.DataID(1), tensorshape.Shape{4})
	op := g.NewOpNode(cpu0, identityFn(), nil, []NodeID{out.ID()})

	g.RemoveNodeFromDag(op.ID())

	assert.Empty(t, g.AdjacentOps([]NodeID{out.ID()}))
}
