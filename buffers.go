package dieselrhi

import (
	"fmt"

	"github.com/andewx/dieselrhi/hal"
)

type BufferUsage uint32

const (
	BufferCopySrc BufferUsage = 1 << iota
	BufferCopyDst
	BufferUniform
	BufferStorage
	BufferIndex
	BufferVertex
	BufferIndirect
)

func (u BufferUsage) hal() hal.BufferUsage {
	var out hal.BufferUsage
	for bit, v := range map[BufferUsage]hal.BufferUsage{
		BufferCopySrc:  hal.BufferUsageTransferSrc,
		BufferCopyDst:  hal.BufferUsageTransferDst,
		BufferUniform:  hal.BufferUsageUniform,
		BufferStorage:  hal.BufferUsageStorage,
		BufferIndex:    hal.BufferUsageIndex,
		BufferVertex:   hal.BufferUsageVertex,
		BufferIndirect: hal.BufferUsageIndirect,
	} {
		if u&bit != 0 {
			out |= v
		}
	}
	return out
}

// Buffer is a linear GPU resource backed by one arena allocation.
type Buffer struct {
	dev      *Device
	h        hal.Buffer
	size     uint64
	usage    BufferUsage
	location MemLocation
	alloc    *Allocation
	inflight
}

//CreateBuffer creates the handle, queries its requirements, sub-allocates
//from the arena and binds. Any failing step rolls back the ones before it.
func (d *Device) CreateBuffer(size uint64, usage BufferUsage, loc MemLocation) (*Buffer, error) {
	if size == 0 || usage == 0 {
		return nil, usageError("create buffer", fmt.Errorf("size %d usage %#x", size, usage))
	}
	b := newBuilder()
	defer b.rollback()

	h, r := d.raw.CreateBuffer(&hal.BufferDesc{Size: size, Usage: usage.hal()})
	if err := check("create buffer", KindCreate, r); err != nil {
		return nil, err
	}
	b.push(func() { d.raw.DestroyBuffer(h) })

	alloc, err := d.arena.Allocate(d.raw.BufferMemoryRequirements(h), loc, true, "buffer")
	if err != nil {
		return nil, err
	}
	b.push(func() { _ = d.arena.Free(alloc) })

	if err := check("bind buffer memory", KindBind, d.raw.BindBufferMemory(h, alloc.Memory(), alloc.Offset)); err != nil {
		return nil, err
	}
	b.commit()
	return &Buffer{dev: d, h: h, size: size, usage: usage, location: loc, alloc: alloc}, nil
}

func (b *Buffer) Handle() hal.Buffer { return b.h }

func (b *Buffer) Size() uint64 { return b.size }

func (b *Buffer) Usage() BufferUsage { return b.usage }

func (b *Buffer) Location() MemLocation { return b.location }

func (b *Buffer) hostRange(op string, offset, n uint64) ([]byte, error) {
	if !b.alloc.HostVisible() {
		return nil, &Error{Op: op, Kind: KindUsage, Err: ErrMemReadOnly, Caller: caller(2)}
	}
	if offset+n > b.size || offset+n < offset {
		return nil, &Error{Op: op, Kind: KindUsage,
			Err: fmt.Errorf("range [%d,%d) outside buffer of %d bytes", offset, offset+n, b.size), Caller: caller(2)}
	}
	return b.alloc.Bytes()[offset : offset+n], nil
}

// Write copies data into host visible memory at offset. The caller must not
// write while the GPU may read the same range.
func (b *Buffer) Write(offset uint64, data []byte) error {
	dst, err := b.hostRange("buffer write", offset, uint64(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (b *Buffer) Read(offset uint64, out []byte) error {
	src, err := b.hostRange("buffer read", offset, uint64(len(out)))
	if err != nil {
		return err
	}
	copy(out, src)
	return nil
}

// Destroy waits for the last submission that used the buffer, then releases
// the handle and its allocation.
func (b *Buffer) Destroy() {
	if b.h == 0 {
		return
	}
	b.dev.queue.waitSerial(b.lastSerial())
	b.dev.raw.DestroyBuffer(b.h)
	if err := b.dev.arena.Free(b.alloc); err != nil {
		Logger().Error("dieselrhi: free buffer memory", "err", err)
	}
	b.h = 0
}
