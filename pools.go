package dieselrhi

import (
	"fmt"
	"maps"
	"sync"

	"github.com/andewx/dieselrhi/hal"
)

type DBindingKind int

const (
	UBuffer DBindingKind = iota
	SBuffer
	Sampler2D
)

func (k DBindingKind) String() string {
	switch k {
	case UBuffer:
		return "uniform_buffer"
	case SBuffer:
		return "storage_buffer"
	case Sampler2D:
		return "sampler2d"
	}
	return fmt.Sprintf("DBindingKind(%d)", int(k))
}

func (k DBindingKind) hal() hal.DescriptorType {
	switch k {
	case SBuffer:
		return hal.DescriptorStorageBuffer
	case Sampler2D:
		return hal.DescriptorCombinedImageSampler
	}
	return hal.DescriptorUniformBuffer
}

// DBindingType is one binding of a descriptor set; its index in the set's
// binding list is its binding number. A zero Count means one.
type DBindingType struct {
	Kind  DBindingKind
	Count uint32
}

func (b DBindingType) count() uint32 { return max(b.Count, 1) }

type DescriptorSetLayout struct {
	dev      *Device
	h        hal.DescriptorSetLayout
	bindings []DBindingType
}

// CreateDescriptorSetLayout makes every binding visible to the vertex and
// fragment stages.
func (d *Device) CreateDescriptorSetLayout(bindings []DBindingType) (*DescriptorSetLayout, error) {
	hb := make([]hal.DescriptorBinding, len(bindings))
	for i, b := range bindings {
		hb[i] = hal.DescriptorBinding{Binding: uint32(i), Type: b.Kind.hal(), Count: b.count(), Stages: pushStages}
	}
	h, r := d.raw.CreateDescriptorSetLayout(hb)
	if err := check("create descriptor set layout", KindCreate, r); err != nil {
		return nil, err
	}
	return &DescriptorSetLayout{dev: d, h: h, bindings: append([]DBindingType(nil), bindings...)}, nil
}

func (l *DescriptorSetLayout) Bindings() []DBindingType { return l.bindings }

func (l *DescriptorSetLayout) Destroy() {
	if l.h != 0 {
		l.dev.raw.DestroyDescriptorSetLayout(l.h)
		l.h = 0
	}
}

type descPool struct {
	h       hal.DescriptorPool
	live    int
	retired bool
	dead    bool
	inflight
}

//DAlloc hands out descriptor sets of one layout. Pools are sized up front;
//when the current pool runs dry it is retired and a fresh one opened, so
//exhaustion only costs one pool creation. A retired pool is destroyed once
//its last set is released.
type DAlloc struct {
	dev    *Device
	layout *DescriptorSetLayout
	sets   uint32

	mu      sync.Mutex
	current *descPool
	pools   []*descPool
}

func newDAlloc(d *Device, l *DescriptorSetLayout) *DAlloc {
	return &DAlloc{dev: d, layout: l, sets: d.usage.DescriptorPoolSets}
}

func (a *DAlloc) openPool() error {
	sizes := map[hal.DescriptorType]uint32{}
	for _, b := range a.layout.bindings {
		sizes[b.Kind.hal()] += b.count() * a.sets
	}
	desc := hal.DescriptorPoolDesc{MaxSets: a.sets}
	for _, t := range []hal.DescriptorType{hal.DescriptorUniformBuffer, hal.DescriptorStorageBuffer, hal.DescriptorCombinedImageSampler} {
		if n := sizes[t]; n > 0 {
			desc.Sizes = append(desc.Sizes, hal.DescriptorPoolSize{Type: t, Count: n})
		}
	}
	h, r := a.dev.raw.CreateDescriptorPool(&desc)
	if err := check("create descriptor pool", KindAllocate, r); err != nil {
		return err
	}
	p := &descPool{h: h}
	a.pools = append(a.pools, p)
	a.current = p
	if len(a.pools) > 1 {
		Logger().Debug("dieselrhi: descriptor pool grown", "pools", len(a.pools), "sets_per_pool", a.sets)
	}
	return nil
}

// retire stops allocating from the current pool.
func (a *DAlloc) retire() {
	p := a.current
	a.current = nil
	if p == nil {
		return
	}
	p.retired = true
	if p.live == 0 {
		a.dropPool(p)
	}
}

func (a *DAlloc) dropPool(p *descPool) {
	a.dev.queue.waitSerial(p.lastSerial())
	a.dev.raw.DestroyDescriptorPool(p.h)
	p.dead = true
	for i, x := range a.pools {
		if x == p {
			a.pools = append(a.pools[:i], a.pools[i+1:]...)
			break
		}
	}
}

func (a *DAlloc) NewSet() (*DSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for attempt := 0; ; attempt++ {
		if a.current == nil {
			if err := a.openPool(); err != nil {
				return nil, err
			}
		}
		h, r := a.dev.raw.AllocateDescriptorSet(a.current.h, a.layout.h)
		switch {
		case r == hal.Success:
			a.current.live++
			return &DSet{alloc: a, pool: a.current, h: h}, nil
		case (r == hal.ErrorOutOfPoolMemory || r == hal.ErrorFragmentedPool) && attempt == 0:
			a.retire()
		default:
			return nil, newError("allocate descriptor set", KindAllocate, r)
		}
	}
}

// Pools is the number of pools alive, retired ones included.
func (a *DAlloc) Pools() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pools)
}

func (a *DAlloc) release(s *DSet) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := s.pool
	if p.dead {
		return
	}
	p.live--
	p.stamp(s.lastSerial())
	if p.retired && p.live == 0 {
		a.dropPool(p)
	}
}

// Destroy releases every pool and with them every set. Sets released
// afterwards are ignored.
func (a *DAlloc) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.pools) > 0 {
		a.dropPool(a.pools[0])
	}
	a.current = nil
}

// DBindingData is one descriptor write. Buffer bindings use Buffer with
// Offset and Size (zero Size means the rest of the buffer); Sampler2D
// bindings use View and Sampler.
type DBindingData struct {
	Binding uint32
	Element uint32
	Buffer  *Buffer
	Offset  uint64
	Size    uint64
	View    *ImageView
	Sampler *Sampler
}

func BufferData(binding uint32, buf *Buffer) DBindingData {
	return DBindingData{Binding: binding, Buffer: buf}
}

func TextureData(binding uint32, view *ImageView, sampler *Sampler) DBindingData {
	return DBindingData{Binding: binding, View: view, Sampler: sampler}
}

// DSet is one descriptor set from a DAlloc.
type DSet struct {
	alloc    *DAlloc
	pool     *descPool
	h        hal.DescriptorSet
	refs     map[uint64][]*inflight // binding<<32 | element
	released bool
	inflight
}

func (s *DSet) Handle() hal.DescriptorSet { return s.h }

// Write points bindings at resources. A set still in use by the GPU is
// waited for first.
func (s *DSet) Write(data ...DBindingData) error {
	const op = "write descriptor set"
	if s.released {
		return usageError(op, fmt.Errorf("set already released"))
	}
	bindings := s.alloc.layout.bindings
	writes := make([]hal.DescriptorWrite, 0, len(data))
	refs := make(map[uint64][]*inflight, len(data))
	for _, d := range data {
		if int(d.Binding) >= len(bindings) {
			return usageError(op, fmt.Errorf("binding %d of %d", d.Binding, len(bindings)))
		}
		b := bindings[d.Binding]
		if d.Element >= b.count() {
			return usageError(op, fmt.Errorf("binding %d element %d of %d", d.Binding, d.Element, b.count()))
		}
		slot := uint64(d.Binding)<<32 | uint64(d.Element)
		w := hal.DescriptorWrite{Binding: d.Binding, ArrayElement: d.Element, Type: b.Kind.hal()}
		switch b.Kind {
		case UBuffer, SBuffer:
			if d.Buffer == nil {
				return usageError(op, fmt.Errorf("binding %d (%s) needs a buffer", d.Binding, b.Kind))
			}
			size := d.Size
			if d.Offset <= d.Buffer.size && size == 0 {
				size = d.Buffer.size - d.Offset
			}
			if size == 0 || d.Offset > d.Buffer.size || size > d.Buffer.size-d.Offset {
				return usageError(op, fmt.Errorf("binding %d range [%d,+%d) of %d", d.Binding, d.Offset, size, d.Buffer.size))
			}
			w.Buffers = []hal.DescriptorBufferInfo{{Buffer: d.Buffer.h, Offset: d.Offset, Range: size}}
			refs[slot] = []*inflight{&d.Buffer.inflight}
		case Sampler2D:
			if d.View == nil || d.Sampler == nil {
				return usageError(op, fmt.Errorf("binding %d (%s) needs a view and a sampler", d.Binding, b.Kind))
			}
			depth := d.View.image.Format().IsDepth()
			w.Images = []hal.DescriptorImageInfo{{Sampler: d.Sampler.h, View: d.View.h, Layout: ShaderAccess(Read).Layout(depth)}}
			refs[slot] = []*inflight{&d.View.inflight, &d.View.image.core().inflight, &d.Sampler.inflight}
		}
		writes = append(writes, w)
	}
	s.alloc.dev.queue.waitSerial(s.lastSerial())
	s.alloc.dev.raw.UpdateDescriptorSet(s.h, writes)
	if s.refs == nil {
		s.refs = make(map[uint64][]*inflight)
	}
	maps.Copy(s.refs, refs)
	return nil
}

// Release gives the set back. Its pool is destroyed once it is retired and
// empty.
func (s *DSet) Release() {
	if s.released {
		return
	}
	s.released = true
	s.alloc.release(s)
}
