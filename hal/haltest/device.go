package haltest

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/andewx/dieselrhi/hal"
)

type object interface {
	kind() string
}

// Device is the software hal.Device. All state is guarded by mu; the queue
// worker holds mu while it executes a submission.
type Device struct {
	mu   sync.Mutex
	cond *sync.Cond

	info  hal.AdapterInfo
	props hal.MemoryProperties
	used  []uint64

	next     uint64
	objects  map[uint64]object
	inflight map[uint64]int

	violations []string
	calls      map[string]int
	failNext   map[string]hal.Result
	panicNext  map[string]bool

	queue     []*submission
	held      bool
	closed    bool
	destroyed bool
	worker    sync.WaitGroup

	submits  int
	draws    int
	presents int

	headless        bool
	surface         hal.Extent2D
	formats         []hal.SurfaceFormat
	presentModes    []hal.PresentMode
	suboptimalEvery int
	acquires        int
	maxSets         uint32
}

var _ hal.Device = (*Device)(nil)

func newDevice(info hal.AdapterInfo, opts Options) *Device {
	d := &Device{
		info: info,
		props: hal.MemoryProperties{
			Types: []hal.MemoryType{
				{Flags: hal.MemoryDeviceLocal, Heap: 0},
				{Flags: hal.MemoryHostVisible | hal.MemoryHostCoherent, Heap: 1},
				{Flags: hal.MemoryHostVisible | hal.MemoryHostCoherent | hal.MemoryHostCached, Heap: 1},
			},
			Heaps: []hal.MemoryHeap{
				{Size: opts.HeapSize, DeviceLocal: true},
				{Size: opts.HeapSize},
			},
		},
		used:         make([]uint64, 2),
		objects:      make(map[uint64]object),
		inflight:     make(map[uint64]int),
		calls:        make(map[string]int),
		failNext:     make(map[string]hal.Result),
		panicNext:    make(map[string]bool),
		headless:     opts.Headless,
		surface:      opts.Surface,
		formats:      []hal.SurfaceFormat{{Format: hal.FormatB8G8R8A8Unorm, ColorSpace: hal.ColorSpaceSRGBNonlinear}},
		presentModes: []hal.PresentMode{hal.PresentFifo, hal.PresentMailbox},
	}
	d.cond = sync.NewCond(&d.mu)
	d.worker.Add(1)
	go d.run()
	return d
}

// call records an API entry and applies injected failures. mu must be held.
func (d *Device) call(name string) hal.Result {
	d.calls[name]++
	if d.panicNext[name] {
		delete(d.panicNext, name)
		panic(fmt.Sprintf("haltest: injected panic in %s", name))
	}
	if r, ok := d.failNext[name]; ok {
		delete(d.failNext, name)
		return r
	}
	return hal.Success
}

func (d *Device) violate(format string, args ...any) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) add(o object) uint64 {
	d.next++
	d.objects[d.next] = o
	return d.next
}

// remove drops h from the registry and flags destruction of unknown handles
// and of objects still referenced by pending submissions.
func (d *Device) remove(h uint64, kind string) bool {
	if h == 0 {
		return false
	}
	o, ok := d.objects[h]
	if !ok {
		d.violate("destroy %s: unknown or already destroyed handle %#x", kind, h)
		return false
	}
	if o.kind() != kind {
		d.violate("destroy %s: handle %#x is a %s", kind, h, o.kind())
		return false
	}
	if n := d.inflight[h]; n > 0 {
		d.violate("destroy %s %#x while referenced by %d pending submission(s)", kind, h, n)
	}
	delete(d.objects, h)
	return true
}

func lookup[T object](d *Device, h uint64, what string) (T, bool) {
	var zero T
	o, ok := d.objects[h]
	if !ok {
		d.violate("%s: unknown or destroyed handle %#x", what, h)
		return zero, false
	}
	t, ok := o.(T)
	if !ok {
		d.violate("%s: handle %#x is a %s, want %s", what, h, o.kind(), zero.kind())
		return zero, false
	}
	return t, true
}

// waitLocked blocks on cond until pred holds or timeout nanoseconds pass.
// mu must be held.
func (d *Device) waitLocked(pred func() bool, timeout uint64) hal.Result {
	if pred() {
		return hal.Success
	}
	if timeout == 0 {
		return hal.Timeout
	}
	forever := timeout == hal.WaitForever || timeout > math.MaxInt64
	var deadline time.Time
	if !forever {
		deadline = time.Now().Add(time.Duration(timeout))
		t := time.AfterFunc(time.Duration(timeout), func() {
			d.mu.Lock()
			d.cond.Broadcast()
			d.mu.Unlock()
		})
		defer t.Stop()
	}
	for !pred() {
		if d.closed {
			return hal.ErrorDeviceLost
		}
		if !forever && !time.Now().Before(deadline) {
			return hal.Timeout
		}
		d.cond.Wait()
	}
	return hal.Success
}

func (d *Device) Info() hal.AdapterInfo { return d.info }

func (d *Device) MemoryProperties() hal.MemoryProperties {
	props := hal.MemoryProperties{
		Types: append([]hal.MemoryType(nil), d.props.Types...),
		Heaps: append([]hal.MemoryHeap(nil), d.props.Heaps...),
	}
	return props
}

func (d *Device) idle() bool { return len(d.queue) == 0 }

func (d *Device) WaitIdle() hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("WaitIdle"); r != hal.Success {
		return r
	}
	return d.waitLocked(d.idle, hal.WaitForever)
}

// Destroy stops the queue worker and flags every object that was not
// destroyed by its owner.
func (d *Device) Destroy() {
	d.mu.Lock()
	d.call("Destroy")
	if d.destroyed {
		d.violate("destroy device: already destroyed")
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	if len(d.queue) > 0 {
		d.violate("destroy device with %d pending submission(s)", len(d.queue))
	}
	counts := map[string]int{}
	for _, o := range d.objects {
		if img, ok := o.(*image); ok && img.swapchain != 0 {
			continue
		}
		if set, ok := o.(*descriptorSet); ok && set.pool != 0 {
			continue
		}
		counts[o.kind()]++
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		d.violate("destroy device: leaked %d %s object(s)", counts[k], k)
	}
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
	d.worker.Wait()
}

// Violations returns every rejected call recorded so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

// Live counts the objects of one kind that have not been destroyed.
// Kinds: memory, buffer, image, view, sampler, shader, set_layout,
// pipeline_layout, descriptor_pool, descriptor_set, render_pass, pipeline,
// framebuffer, command_pool, command_buffer, fence, semaphore, swapchain.
func (d *Device) Live(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.objects {
		if o.kind() == kind {
			n++
		}
	}
	return n
}

// Calls returns how many times the named hal.Device method was invoked.
func (d *Device) Calls(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

// FailNext makes the next call of the named method return r.
func (d *Device) FailNext(name string, r hal.Result) {
	d.mu.Lock()
	d.failNext[name] = r
	d.mu.Unlock()
}

// PanicNext makes the next call of the named method panic.
func (d *Device) PanicNext(name string) {
	d.mu.Lock()
	d.panicNext[name] = true
	d.mu.Unlock()
}

// HoldQueue stops the queue worker before its next submission.
func (d *Device) HoldQueue() {
	d.mu.Lock()
	d.held = true
	d.mu.Unlock()
}

func (d *Device) ReleaseQueue() {
	d.mu.Lock()
	d.held = false
	d.cond.Broadcast()
	d.mu.Unlock()
}

// ForceSuboptimal makes every n-th AcquireNextImage report Suboptimal.
// Zero disables it.
func (d *Device) ForceSuboptimal(n int) {
	d.mu.Lock()
	d.suboptimalEvery = n
	d.acquires = 0
	d.mu.Unlock()
}

// SetSurfaceExtent simulates a window resize. Swapchains built for another
// extent report ErrorOutOfDate from then on.
func (d *Device) SetSurfaceExtent(width, height uint32) {
	d.mu.Lock()
	d.surface = hal.Extent2D{Width: width, Height: height}
	d.mu.Unlock()
}

func (d *Device) SetSurfaceFormats(formats []hal.SurfaceFormat) {
	d.mu.Lock()
	d.formats = append([]hal.SurfaceFormat(nil), formats...)
	d.mu.Unlock()
}

func (d *Device) SetPresentModes(modes []hal.PresentMode) {
	d.mu.Lock()
	d.presentModes = append([]hal.PresentMode(nil), modes...)
	d.mu.Unlock()
}

// SetMaxDescriptorSets caps the sets of every descriptor pool created
// afterwards, whatever the pool asks for.
func (d *Device) SetMaxDescriptorSets(n uint32) {
	d.mu.Lock()
	d.maxSets = n
	d.mu.Unlock()
}

// Stats reports executed work.
type Stats struct {
	Submits  int
	Draws    int
	Presents int
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{Submits: d.submits, Draws: d.draws, Presents: d.presents}
}
