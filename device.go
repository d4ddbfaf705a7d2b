package dieselrhi

import (
	"sync"

	"github.com/andewx/dieselrhi/hal"
)

// Device owns the logical device, its single graphics queue, the command
// pool and the memory arena. It creates every other object and must be
// destroyed after all of them.
type Device struct {
	raw   hal.Device
	info  hal.AdapterInfo
	usage Usage
	arena *MemoryArena
	queue *Queue

	poolMu sync.Mutex
	pool   hal.CommandPool

	destroyOnce sync.Once
}

func newDevice(raw hal.Device, info hal.AdapterInfo, usage Usage) (*Device, error) {
	d := &Device{raw: raw, info: info, usage: usage}
	b := newBuilder()
	defer b.rollback()

	pool, r := raw.CreateCommandPool()
	if err := check("create command pool", KindCreate, r); err != nil {
		return nil, err
	}
	b.push(func() { raw.DestroyCommandPool(pool) })
	d.pool = pool

	q, err := newQueue(d)
	if err != nil {
		return nil, err
	}
	b.push(q.destroy)
	d.queue = q
	d.arena = NewMemoryArena(raw, usage.MemoryBlockSize)
	b.commit()
	return d, nil
}

// Raw exposes the underlying hal device for backends and tests.
func (d *Device) Raw() hal.Device { return d.raw }

func (d *Device) Info() hal.AdapterInfo { return d.info }

func (d *Device) Usage() Usage { return d.usage }

func (d *Device) Queue() *Queue { return d.queue }

func (d *Device) Arena() *MemoryArena { return d.arena }

// WaitIdle blocks until the queue has drained every submission.
func (d *Device) WaitIdle() error {
	return check("wait idle", KindSync, d.raw.WaitIdle())
}

// Destroy waits for the GPU to go idle and releases the command pool, the
// memory arena and the device, in that order. Resources created from the
// device must already be destroyed.
func (d *Device) Destroy() {
	d.destroyOnce.Do(func() {
		if err := d.WaitIdle(); err != nil {
			Logger().Error("dieselrhi: wait idle before device destroy", "err", err)
		}
		d.queue.destroy()
		d.poolMu.Lock()
		d.raw.DestroyCommandPool(d.pool)
		d.poolMu.Unlock()
		d.arena.Destroy()
		d.raw.Destroy()
	})
}
