package devicestub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tensorsched/internal/compute"
	"github.com/vk/tensorsched/internal/dag"
	"github.com/vk/tensorsched/internal/device"
	"github.com/vk/tensorsched/internal/deviceid"
	"github.com/vk/tensorsched/internal/task"
)

type fakeListener struct {
	completed chan *task.Task
	failed    chan error
}

func newFakeListener() *fakeListener {
	return &fakeListener{
		completed: make(chan *task.Task, 8),
		failed:    make(chan error, 8),
	}
}

func (l *fakeListener) OnOperationComplete(t *task.Task) { l.completed <- t }
func (l *fakeListener) OnOperationFailed(id dag.NodeID, err error) {
	l.failed <- err
}

func TestManager_AllocateGetPtrFreeData(t *testing.T) {
	m := New()
	defer m.Close()

	d := deviceid.Device{MemType: deviceid.MemCPU, Index: 0}
	pd, err := m.Allocate(context.Background(), d, 3)
	require.NoError(t, err)

	buf, err := m.GetPtr(context.Background(), pd, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0}, buf)

	require.NoError(t, m.FreeData(context.Background(), pd))

	_, err = m.GetPtr(context.Background(), pd, 3)
	assert.Error(t, err)
}

func TestManager_FreeData_UnknownAllocation(t *testing.T) {
	m := New()
	defer m.Close()

	bogus := device.PhysicalData{Device: deviceid.Device{MemType: deviceid.MemCPU, Index: 0}, Data: 9999}
	err := m.FreeData(context.Background(), bogus)
	assert.Error(t, err)
}

func TestManager_ExecuteTask_RunsFnAndReportsComplete(t *testing.T) {
	m := New()
	defer m.Close()

	l := newFakeListener()
	m.RegisterListener(l)

	d := deviceid.Device{MemType: deviceid.MemCPU, Index: 0}
	in, err := m.Allocate(context.Background(), d, 1)
	require.NoError(t, err)
	out, err := m.Allocate(context.Background(), d, 1)
	require.NoError(t, err)

	dev, err := m.GetDevice(d)
	require.NoError(t, err)

	fn := compute.Fn{
		Name: "double",
		Call: func(ctx context.Context, ins, outs [][]float32) error {
			outs[0][0] = ins[0][0] * 2
			return nil
		},
	}

	m.mu.Lock()
	m.data[in.Data][0] = 21
	m.mu.Unlock()

	tk := &task.Task{
		ID:      1,
		Op:      task.Op{Device: d, Fn: fn},
		Inputs:  []task.Operand{{Data: in.Data, Node: 10}},
		Outputs: []task.Operand{{Data: out.Data, Node: 11}},
	}
	require.NoError(t, dev.PushTask(context.Background(), tk))

	select {
	case got := <-l.completed:
		assert.Equal(t, tk.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
	}

	result, err := m.GetPtr(context.Background(), out, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{42}, result)
}

func TestManager_ExecuteTask_FnErrorReportsFailure(t *testing.T) {
	m := New()
	defer m.Close()

	l := newFakeListener()
	m.RegisterListener(l)

	d := deviceid.Device{MemType: deviceid.MemCPU, Index: 0}
	out, err := m.Allocate(context.Background(), d, 1)
	require.NoError(t, err)

	dev, err := m.GetDevice(d)
	require.NoError(t, err)

	wantErr := errors.New("boom")
	fn := compute.Fn{
		Name: "always-fails",
		Call: func(ctx context.Context, ins, outs [][]float32) error {
			return wantErr
		},
	}

	tk := &task.Task{
		ID:      2,
		Op:      task.Op{Device: d, Fn: fn},
		Outputs: []task.Operand{{Data: out.Data, Node: 20}},
	}
	require.NoError(t, dev.PushTask(context.Background(), tk))

	select {
	case got := <-l.failed:
		assert.ErrorIs(t, got, wantErr)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for failure")
	}
}
