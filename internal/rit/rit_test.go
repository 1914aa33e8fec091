package rit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tensorsched/internal/dag"
)

func TestAddNode_DefaultsToReady(t *testing.T) {
	table := New()
	info := table.AddNode(dag.NodeID(1))

	assert.Equal(t, Ready, info.State)
	assert.Zero(t, info.NumTriggersNeeded)
	assert.Zero(t, info.ReferenceCount)
	assert.Equal(t, 1, table.Len())
}

func TestAddNode_DuplicatePanics(t *testing.T) {
	table := New()
	table.AddNode(dag.NodeID(1))

	assert.Panics(t, func() { table.AddNode(dag.NodeID(1)) })
}

func TestAt_MutatesInPlace(t *testing.T) {
	table := New()
	table.AddNode(dag.NodeID(1))

	table.At(dag.NodeID(1)).ReferenceCount = 3
	assert.Equal(t, int32(3), table.At(dag.NodeID(1)).ReferenceCount)
}

func TestRemoveNode(t *testing.T) {
	table := New()
	table.AddNode(dag.NodeID(1))
	table.RemoveNode(dag.NodeID(1))

	assert.Equal(t, 0, table.Len())
	assert.Panics(t, func() { table.At(dag.NodeID(1)) })
}

func TestRemoveNode_DoubleFreePanics(t *testing.T) {
	table := New()
	table.AddNode(dag.NodeID(1))
	table.RemoveNode(dag.NodeID(1))

	assert.Panics(t, func() { table.RemoveNode(dag.NodeID(1)) })
}

func TestGetState(t *testing.T) {
	table := New()
	table.AddNode(dag.NodeID(1))
	require.Equal(t, Ready, table.GetState(dag.NodeID(1)))

	table.At(dag.NodeID(1)).State = Completed
	assert.Equal(t, Completed, table.GetState(dag.NodeID(1)))
}
