// Package haltest is a software implementation of hal for tests.
//
// Transfers, blits and clears run against host memory on a queue worker
// goroutine, so work submitted to the queue completes asynchronously just
// like on a GPU. Image layouts are tracked per subresource and every call
// that a driver or validation layer would reject is recorded as a
// violation instead of crashing the process.
package haltest

import (
	"sync"

	"github.com/andewx/dieselrhi/hal"
)

// Options configures a software instance.
type Options struct {
	// Adapters defaults to one discrete adapter with a present-capable
	// graphics queue and timeline semaphores.
	Adapters []hal.AdapterInfo
	// HeapSize is the size of each of the two memory heaps. Default 256 MiB.
	HeapSize uint64
	// Surface is the initial surface extent. Zero means 800x600.
	Surface hal.Extent2D
	// Headless instances have no presentation surface.
	Headless bool
}

type Instance struct {
	mu      sync.Mutex
	opts    Options
	devices []*Device
}

var _ hal.Instance = (*Instance)(nil)

func NewInstance(opts Options) *Instance {
	if opts.Adapters == nil {
		opts.Adapters = []hal.AdapterInfo{{
			Name:               "haltest software adapter",
			Type:               hal.AdapterDiscrete,
			APIVersion:         1<<22 | 3<<12,
			Graphics:           true,
			Present:            !opts.Headless,
			TimelineSemaphores: true,
		}}
	}
	for i := range opts.Adapters {
		opts.Adapters[i].Index = i
	}
	if opts.HeapSize == 0 {
		opts.HeapSize = 256 << 20
	}
	if opts.Surface.Width == 0 || opts.Surface.Height == 0 {
		opts.Surface = hal.Extent2D{Width: 800, Height: 600}
	}
	return &Instance{opts: opts}
}

func (i *Instance) Adapters() ([]hal.AdapterInfo, hal.Result) {
	out := make([]hal.AdapterInfo, len(i.opts.Adapters))
	copy(out, i.opts.Adapters)
	return out, hal.Success
}

func (i *Instance) Open(adapter int, _ hal.DeviceOptions) (hal.Device, hal.Result) {
	if adapter < 0 || adapter >= len(i.opts.Adapters) {
		return nil, hal.ErrorInitializationFailed
	}
	d := newDevice(i.opts.Adapters[adapter], i.opts)
	i.mu.Lock()
	i.devices = append(i.devices, d)
	i.mu.Unlock()
	return d, hal.Success
}

// Device returns the most recently opened device, or nil.
func (i *Instance) Device() *Device {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.devices) == 0 {
		return nil
	}
	return i.devices[len(i.devices)-1]
}

func (i *Instance) Destroy() {}
