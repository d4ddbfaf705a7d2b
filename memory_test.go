package dieselrhi

import (
	"errors"
	"testing"

	"github.com/andewx/dieselrhi/hal"
	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const allTypes = 0b111

func newTestArena(t *testing.T, blockSize uint64) (*MemoryArena, *haltest.Device) {
	t.Helper()
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	arena := NewMemoryArena(dev.Raw(), blockSize)
	t.Cleanup(arena.Destroy)
	return arena, hd
}

func TestArenaCoalesce(t *testing.T) {
	arena, _ := newTestArena(t, 1<<16)
	req := hal.MemoryRequirements{Size: 256, Alignment: 256, TypeBits: allTypes}
	var allocs []*Allocation
	for range 3 {
		a, err := arena.Allocate(req, Gpu, true, "test")
		require.NoError(t, err)
		allocs = append(allocs, a)
	}
	assert.Equal(t, []uint64{0, 256, 512}, []uint64{allocs[0].Offset, allocs[1].Offset, allocs[2].Offset})
	block := allocs[0].block
	assert.Same(t, block, allocs[2].block)

	for _, i := range []int{1, 0, 2} {
		require.NoError(t, arena.Free(allocs[i]))
	}
	assert.Equal(t, []span{{0, 1 << 16}}, block.free)

	s := arena.Stats()
	assert.Equal(t, 1, s.Blocks)
	assert.Equal(t, 0, s.Allocations)
	assert.Equal(t, uint64(0), s.Used)
}

func TestArenaAlignment(t *testing.T) {
	arena, _ := newTestArena(t, 1<<16)
	a, err := arena.Allocate(hal.MemoryRequirements{Size: 10, Alignment: 1, TypeBits: allTypes}, Gpu, true, "small")
	require.NoError(t, err)
	b, err := arena.Allocate(hal.MemoryRequirements{Size: 16, Alignment: 256, TypeBits: allTypes}, Gpu, true, "aligned")
	require.NoError(t, err)
	assert.Equal(t, uint64(256), b.Offset)

	// the gap before the aligned allocation is still usable
	c, err := arena.Allocate(hal.MemoryRequirements{Size: 64, Alignment: 16, TypeBits: allTypes}, Gpu, true, "gap")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), c.Offset)
	for _, x := range []*Allocation{a, b, c} {
		require.NoError(t, arena.Free(x))
	}
}

func TestArenaSeparatesTiling(t *testing.T) {
	arena, _ := newTestArena(t, 1<<16)
	req := hal.MemoryRequirements{Size: 64, Alignment: 64, TypeBits: allTypes}
	buf, err := arena.Allocate(req, Gpu, true, "buffer")
	require.NoError(t, err)
	img, err := arena.Allocate(req, Gpu, false, "image")
	require.NoError(t, err)
	assert.NotSame(t, buf.block, img.block)
	assert.Equal(t, 2, arena.Stats().Blocks)
	require.NoError(t, arena.Free(buf))
	require.NoError(t, arena.Free(img))
}

func TestArenaDedicated(t *testing.T) {
	arena, hd := newTestArena(t, 1<<16)
	before := hd.Live("memory")
	a, err := arena.Allocate(hal.MemoryRequirements{Size: 1 << 17, Alignment: 256, TypeBits: allTypes}, Gpu, true, "big")
	require.NoError(t, err)
	assert.True(t, a.block.dedicated)
	assert.Equal(t, uint64(1<<17), a.block.size)
	assert.Equal(t, before+1, hd.Live("memory"))

	require.NoError(t, arena.Free(a))
	assert.Equal(t, before, hd.Live("memory"))
	assert.Equal(t, 0, arena.Stats().Blocks)
}

func TestArenaDoubleFree(t *testing.T) {
	arena, _ := newTestArena(t, 1<<16)
	a, err := arena.Allocate(hal.MemoryRequirements{Size: 64, Alignment: 64, TypeBits: allTypes}, Gpu, true, "once")
	require.NoError(t, err)
	require.NoError(t, arena.Free(a))
	err = arena.Free(a)
	assert.True(t, errors.Is(err, ErrDoubleFree))
	assert.True(t, IsKind(err, KindUsage))
	assert.Equal(t, 0, arena.Stats().Allocations)

	assert.True(t, IsKind(arena.Free(nil), KindUsage))
}

func TestArenaFreeAfterDestroy(t *testing.T) {
	arena, hd := newTestArena(t, 1<<16)
	small, err := arena.Allocate(hal.MemoryRequirements{Size: 64, Alignment: 64, TypeBits: allTypes}, Gpu, true, "small")
	require.NoError(t, err)
	big, err := arena.Allocate(hal.MemoryRequirements{Size: 1 << 17, Alignment: 256, TypeBits: allTypes}, Gpu, true, "big")
	require.NoError(t, err)

	before := hd.Calls("FreeMemory")
	arena.Destroy()
	freed := hd.Calls("FreeMemory")
	assert.Equal(t, before+2, freed)

	require.NoError(t, arena.Free(small))
	require.NoError(t, arena.Free(big))
	assert.True(t, errors.Is(arena.Free(small), ErrDoubleFree))
	assert.Equal(t, freed, hd.Calls("FreeMemory"))

	s := arena.Stats()
	assert.Equal(t, 0, s.Blocks)
	assert.Equal(t, 0, s.Allocations)
	assert.Equal(t, uint64(0), s.Used)
}

func TestArenaRecoversPanic(t *testing.T) {
	arena, hd := newTestArena(t, 1<<16)
	req := hal.MemoryRequirements{Size: 64, Alignment: 64, TypeBits: allTypes}
	hd.PanicNext("AllocateMemory")
	_, err := arena.Allocate(req, Gpu, true, "boom")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAllocate))

	a, err := arena.Allocate(req, Gpu, true, "after")
	require.NoError(t, err)
	require.NoError(t, arena.Free(a))
}

func TestArenaMemoryTypes(t *testing.T) {
	arena, _ := newTestArena(t, 1<<16)
	tests := []struct {
		loc     MemLocation
		typ     uint32
		visible bool
	}{
		{Gpu, 0, false},
		{CpuToGpu, 1, true},
		{GpuToCpu, 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.loc.String(), func(t *testing.T) {
			a, err := arena.Allocate(hal.MemoryRequirements{Size: 64, Alignment: 64, TypeBits: allTypes}, tt.loc, true, "typed")
			require.NoError(t, err)
			defer func() { require.NoError(t, arena.Free(a)) }()
			assert.Equal(t, tt.typ, a.block.typeIndex)
			assert.Equal(t, tt.visible, a.HostVisible())
			if tt.visible {
				assert.Len(t, a.Bytes(), 64)
			} else {
				assert.Nil(t, a.Bytes())
			}
		})
	}

	_, err := arena.Allocate(hal.MemoryRequirements{Size: 64, Alignment: 64, TypeBits: 0b001}, CpuToGpu, true, "nothing")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAllocate))

	_, err = arena.Allocate(hal.MemoryRequirements{TypeBits: allTypes}, Gpu, true, "empty")
	assert.True(t, IsKind(err, KindUsage))
}

func TestArenaFallsBackWhenTypeExhausted(t *testing.T) {
	arena, hd := newTestArena(t, 1<<16)
	hd.FailNext("AllocateMemory", hal.ErrorOutOfDeviceMemory)
	a, err := arena.Allocate(hal.MemoryRequirements{Size: 64, Alignment: 64, TypeBits: allTypes}, GpuToCpu, true, "fallback")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), a.block.typeIndex)
	require.NoError(t, arena.Free(a))
}
