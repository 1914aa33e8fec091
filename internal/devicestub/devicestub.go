// Package devicestub is an in-process reference device.Manager used by
// tests and the CLI's --device=stub mode. Each device runs its own
// goroutine pulling tasks off a channel, grounded on the teacher's
// worker-goroutine-over-a-channel shape (dag.Executor.worker,
// executor.worker).
package devicestub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vk/tensorsched/internal/device"
	"github.com/vk/tensorsched/internal/deviceid"
	"github.com/vk/tensorsched/internal/task"
)

// Manager is an in-process device.Manager. It holds allocations in plain Go
// slices rather than real device memory, and runs one worker goroutine per
// device, so tests can drive a scheduler without any real hardware or
// network.
type Manager struct {
	// Jitter adds a small random-ish delay before reporting completion, to
	// exercise asynchronous completion ordering in demo/CLI mode. Zero
	// means synchronous completion on the worker's own goroutine, which is
	// what deterministic tests rely on.
	Jitter time.Duration

	mu       sync.Mutex
	data     map[deviceid.DataID][]float32
	nextData deviceid.DataID

	listener device.Listener

	workersMu sync.Mutex
	workers   map[deviceid.Device]chan *task.Task
	wg        sync.WaitGroup
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates an empty stub device manager.
func New() *Manager {
	return &Manager{
		data:    make(map[deviceid.DataID][]float32),
		workers: make(map[deviceid.Device]chan *task.Task),
		closing: make(chan struct{}),
	}
}

// RegisterListener implements device.Manager.
func (m *Manager) RegisterListener(l device.Listener) {
	m.listener = l
}

// GetDevice implements device.Manager, lazily starting a worker goroutine
// for d on first use.
func (m *Manager) GetDevice(d deviceid.Device) (device.Device, error) {
	m.workersMu.Lock()
	defer m.workersMu.Unlock()

	ch, ok := m.workers[d]
	if !ok {
		ch = make(chan *task.Task, 64)
		m.workers[d] = ch
		m.wg.Add(1)
		go m.run(d, ch)
	}
	return &stubDevice{manager: m, queue: ch}, nil
}

// Allocate implements device.Manager by reserving a zeroed host slice.
func (m *Manager) Allocate(ctx context.Context, d deviceid.Device, elemCount int64) (device.PhysicalData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextData++
	id := m.nextData
	m.data[id] = make([]float32, elemCount)

	return device.PhysicalData{Device: d, Data: id}, nil
}

// FreeData implements device.Manager.
func (m *Manager) FreeData(ctx context.Context, pd device.PhysicalData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[pd.Data]; !ok {
		return fmt.Errorf("devicestub: FreeData: unknown allocation %d", pd.Data)
	}
	delete(m.data, pd.Data)
	return nil
}

// GetPtr implements device.Manager by returning a copy of the backing slice.
func (m *Manager) GetPtr(ctx context.Context, pd device.PhysicalData, elemCount int64) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.data[pd.Data]
	if !ok {
		return nil, fmt.Errorf("devicestub: GetPtr: unknown allocation %d", pd.Data)
	}
	out := make([]float32, elemCount)
	copy(out, buf)
	return out, nil
}

// Close stops every device worker goroutine and waits for them to exit.
func (m *Manager) Close() {
	m.closeOnce.Do(func() { close(m.closing) })
	m.wg.Wait()
}

func (m *Manager) run(d deviceid.Device, queue chan *task.Task) {
	defer m.wg.Done()

	for {
		select {
		case t := <-queue:
			m.execute(t)
		case <-m.closing:
			return
		}
	}
}

func (m *Manager) execute(t *task.Task) {
	if m.Jitter > 0 {
		time.Sleep(m.Jitter)
	}

	inputs := make([][]float32, len(t.Inputs))
	outputs := make([][]float32, len(t.Outputs))

	m.mu.Lock()
	for i, in := range t.Inputs {
		buf, ok := m.data[in.Data]
		if !ok {
			m.mu.Unlock()
			m.listener.OnOperationFailed(t.ID, fmt.Errorf("devicestub: execute: unknown input allocation %d", in.Data))
			return
		}
		inputs[i] = buf
	}
	for i, out := range t.Outputs {
		outputs[i] = m.data[out.Data]
	}
	m.mu.Unlock()

	if err := t.Op.Fn.Call(context.Background(), inputs, outputs); err != nil {
		m.listener.OnOperationFailed(t.ID, err)
		return
	}

	m.mu.Lock()
	for i, out := range t.Outputs {
		m.data[out.Data] = outputs[i]
	}
	m.mu.Unlock()

	m.listener.OnOperationComplete(t)
}

type stubDevice struct {
	manager *Manager
	queue   chan *task.Task
}

func (d *stubDevice) PushTask(ctx context.Context, t *task.Task) error {
	select {
	case d.queue <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
