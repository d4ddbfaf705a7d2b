package dieselrhi

import (
	"fmt"
	"sort"
	"sync"

	"github.com/andewx/dieselrhi/hal"
)

// MemLocation tells the arena who reads and writes a resource.
type MemLocation int

const (
	// Gpu memory is device local and never mapped.
	Gpu MemLocation = iota
	// CpuToGpu memory is host visible and used for uploads.
	CpuToGpu
	// GpuToCpu memory is host visible, preferably cached, and used for readback.
	GpuToCpu
)

func (l MemLocation) String() string {
	switch l {
	case Gpu:
		return "gpu"
	case CpuToGpu:
		return "cpu_to_gpu"
	case GpuToCpu:
		return "gpu_to_cpu"
	}
	return fmt.Sprintf("MemLocation(%d)", int(l))
}

// required and preferred memory property flags per location
func (l MemLocation) flags() (required, preferred hal.MemoryProperty) {
	switch l {
	case CpuToGpu:
		return hal.MemoryHostVisible | hal.MemoryHostCoherent, hal.MemoryDeviceLocal
	case GpuToCpu:
		return hal.MemoryHostVisible | hal.MemoryHostCoherent, hal.MemoryHostCached
	}
	return 0, hal.MemoryDeviceLocal
}

type span struct {
	offset, size uint64
}

type memBlock struct {
	mem       hal.DeviceMemory
	size      uint64
	typeIndex uint32
	linear    bool
	dedicated bool
	mapped    []byte
	free      []span
	live      int
	dead      bool
}

type blockKey struct {
	typeIndex uint32
	linear    bool
}

// Allocation is one sub-allocation of a memory block. It is owned by exactly
// one resource and released by that resource's teardown.
type Allocation struct {
	Offset uint64
	Size   uint64
	Name   string

	block *memBlock
	freed bool
}

func (a *Allocation) Memory() hal.DeviceMemory { return a.block.mem }

// HostVisible reports whether Bytes can be used.
func (a *Allocation) HostVisible() bool { return a.block.mapped != nil }

// Bytes is the persistently mapped range of the allocation, or nil when the
// memory is device local only.
func (a *Allocation) Bytes() []byte {
	if a.block.mapped == nil {
		return nil
	}
	return a.block.mapped[a.Offset : a.Offset+a.Size : a.Offset+a.Size]
}

type ArenaStats struct {
	Blocks      int
	Allocations int
	Reserved    uint64
	Used        uint64
}

// MemoryArena sub-allocates device memory for every buffer and image of a
// Device. Blocks are kept per memory type and per linear/optimal tiling so
// that buffers and images never share a page.
type MemoryArena struct {
	mu        sync.Mutex
	dev       hal.Device
	props     hal.MemoryProperties
	blockSize uint64
	blocks    map[blockKey][]*memBlock
	live      int
	used      uint64
}

func NewMemoryArena(dev hal.Device, blockSize uint64) *MemoryArena {
	if blockSize == 0 {
		blockSize = DefaultMemoryBlockSize
	}
	return &MemoryArena{
		dev:       dev,
		props:     dev.MemoryProperties(),
		blockSize: blockSize,
		blocks:    make(map[blockKey][]*memBlock),
	}
}

// locked runs fn under the arena mutex. A panic while the lock is held is
// logged and turned into an allocation error; the mutex is always released
// so later calls are unaffected.
func (m *MemoryArena) locked(op string, fn func() error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			Logger().Warn("dieselrhi: recovered panic in memory arena", "op", op, "panic", r)
			err = &Error{Op: op, Kind: KindAllocate, Err: fmt.Errorf("panic: %v", r), Caller: caller(3)}
		}
	}()
	return fn()
}

// Allocate reserves memory satisfying req. linear selects the block list for
// buffers; images use optimal tiling and their own blocks.
func (m *MemoryArena) Allocate(req hal.MemoryRequirements, loc MemLocation, linear bool, name string) (*Allocation, error) {
	var out *Allocation
	err := m.locked("allocate", func() error {
		if req.Size == 0 {
			return usageError("allocate", fmt.Errorf("%s: zero sized request", name))
		}
		types := m.memoryTypes(req.TypeBits, loc)
		if len(types) == 0 {
			return &Error{Op: "allocate", Kind: KindAllocate, Result: hal.ErrorFeatureNotPresent,
				Err: fmt.Errorf("%s: no memory type for %s in %#b", name, loc, req.TypeBits), Caller: caller(3)}
		}
		align := max(req.Alignment, 1)
		var last hal.Result
		for _, t := range types {
			key := blockKey{typeIndex: t, linear: linear}
			for _, b := range m.blocks[key] {
				if off, ok := b.reserve(req.Size, align); ok {
					out = m.commit(b, off, req.Size, name)
					return nil
				}
			}
			b, r := m.newBlock(key, req.Size, loc)
			if r != hal.Success {
				last = r
				continue
			}
			off, _ := b.reserve(req.Size, align)
			out = m.commit(b, off, req.Size, name)
			return nil
		}
		return &Error{Op: "allocate " + name, Kind: KindAllocate, Result: last, Caller: caller(3)}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *MemoryArena) commit(b *memBlock, off, size uint64, name string) *Allocation {
	b.live++
	m.live++
	m.used += size
	return &Allocation{Offset: off, Size: size, Name: name, block: b}
}

// memoryTypes lists the acceptable type indices in preference order.
func (m *MemoryArena) memoryTypes(bits uint32, loc MemLocation) []uint32 {
	required, preferred := loc.flags()
	var best, rest []uint32
	for i, t := range m.props.Types {
		if bits&(1<<uint32(i)) == 0 || t.Flags&required != required {
			continue
		}
		if t.Flags&preferred == preferred {
			best = append(best, uint32(i))
		} else {
			rest = append(rest, uint32(i))
		}
	}
	return append(best, rest...)
}

func (m *MemoryArena) newBlock(key blockKey, request uint64, loc MemLocation) (*memBlock, hal.Result) {
	size, dedicated := m.blockSize, false
	if request > m.blockSize {
		size, dedicated = request, true
	}
	mem, r := m.dev.AllocateMemory(size, key.typeIndex)
	if r != hal.Success {
		return nil, r
	}
	b := &memBlock{
		mem:       mem,
		size:      size,
		typeIndex: key.typeIndex,
		linear:    key.linear,
		dedicated: dedicated,
		free:      []span{{0, size}},
	}
	if m.props.Types[key.typeIndex].Flags&hal.MemoryHostVisible != 0 {
		data, r := m.dev.MapMemory(mem, 0, size)
		if r != hal.Success {
			m.dev.FreeMemory(mem)
			return nil, r
		}
		b.mapped = data
	}
	m.blocks[key] = append(m.blocks[key], b)
	Logger().Debug("dieselrhi: memory block created",
		"type", key.typeIndex, "linear", key.linear, "size", size, "dedicated", dedicated, "location", loc.String())
	return b, hal.Success
}

// reserve carves size bytes at the given alignment out of the first free
// span that can hold them.
func (b *memBlock) reserve(size, align uint64) (uint64, bool) {
	for i, s := range b.free {
		start := alignUp(s.offset, align)
		end := start + size
		if end > s.offset+s.size {
			continue
		}
		var repl []span
		if start > s.offset {
			repl = append(repl, span{s.offset, start - s.offset})
		}
		if tail := s.offset + s.size - end; tail > 0 {
			repl = append(repl, span{end, tail})
		}
		b.free = append(b.free[:i], append(repl, b.free[i+1:]...)...)
		return start, true
	}
	return 0, false
}

// release returns a range to the free list and merges it with its
// neighbours.
func (b *memBlock) release(off, size uint64) {
	i := sort.Search(len(b.free), func(i int) bool { return b.free[i].offset > off })
	b.free = append(b.free, span{})
	copy(b.free[i+1:], b.free[i:])
	b.free[i] = span{off, size}
	if i+1 < len(b.free) && b.free[i].offset+b.free[i].size == b.free[i+1].offset {
		b.free[i].size += b.free[i+1].size
		b.free = append(b.free[:i+1], b.free[i+2:]...)
	}
	if i > 0 && b.free[i-1].offset+b.free[i-1].size == b.free[i].offset {
		b.free[i-1].size += b.free[i].size
		b.free = append(b.free[:i], b.free[i+1:]...)
	}
}

// Free returns an allocation to its block. Freeing the same allocation twice
// is a usage error and leaves the arena untouched.
func (m *MemoryArena) Free(a *Allocation) error {
	return m.locked("free", func() error {
		if a == nil || a.block == nil {
			return usageError("free", fmt.Errorf("nil allocation"))
		}
		if a.freed {
			return usageError("free "+a.Name, ErrDoubleFree)
		}
		a.freed = true
		b := a.block
		if b.dead {
			// the arena was destroyed first and took the block with it
			return nil
		}
		b.release(a.Offset, a.Size)
		b.live--
		m.live--
		m.used -= a.Size
		if b.dedicated && b.live == 0 {
			m.dropBlock(b)
		}
		return nil
	})
}

func (m *MemoryArena) dropBlock(b *memBlock) {
	key := blockKey{typeIndex: b.typeIndex, linear: b.linear}
	list := m.blocks[key]
	for i, x := range list {
		if x == b {
			m.blocks[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(m.blocks[key]) == 0 {
		delete(m.blocks, key)
	}
	m.freeBlock(b)
	Logger().Debug("dieselrhi: memory block released", "type", b.typeIndex, "size", b.size)
}

func (m *MemoryArena) freeBlock(b *memBlock) {
	if b.mapped != nil {
		m.dev.UnmapMemory(b.mem)
	}
	m.dev.FreeMemory(b.mem)
	b.dead = true
}

func (m *MemoryArena) Stats() ArenaStats {
	var s ArenaStats
	_ = m.locked("stats", func() error {
		for _, list := range m.blocks {
			for _, b := range list {
				s.Blocks++
				s.Reserved += b.size
			}
		}
		s.Allocations = m.live
		s.Used = m.used
		return nil
	})
	return s
}

// Destroy releases every block. Allocations still alive at this point are
// leaks of their owning resources and are logged; freeing them later is a
// no-op.
func (m *MemoryArena) Destroy() {
	_ = m.locked("destroy", func() error {
		if m.live > 0 {
			Logger().Error("dieselrhi: memory arena destroyed with live allocations", "count", m.live, "bytes", m.used)
		}
		for _, list := range m.blocks {
			for _, b := range list {
				m.freeBlock(b)
			}
		}
		m.blocks = make(map[blockKey][]*memBlock)
		m.live, m.used = 0, 0
		return nil
	})
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) / a * a
}
