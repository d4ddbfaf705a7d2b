package dieselrhi

import (
	"errors"
	"testing"

	"github.com/andewx/dieselrhi/hal"
	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferHostAccess(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	buf, err := dev.CreateBuffer(32, BufferUniform, CpuToGpu)
	require.NoError(t, err)
	defer buf.Destroy()
	assert.Equal(t, uint64(32), buf.Size())
	assert.Equal(t, CpuToGpu, buf.Location())

	require.NoError(t, buf.Write(4, []byte{1, 2, 3, 4}))
	out := make([]byte, 8)
	require.NoError(t, buf.Read(0, out))
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, out)

	err = buf.Write(30, []byte{1, 2, 3})
	assert.True(t, IsKind(err, KindUsage))
	err = buf.Read(^uint64(0), out)
	assert.True(t, IsKind(err, KindUsage))
}

func TestBufferDeviceLocalIsNotMapped(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	buf, err := dev.CreateBuffer(16, BufferVertex, Gpu)
	require.NoError(t, err)
	defer buf.Destroy()
	err = buf.Write(0, []byte{1})
	assert.True(t, errors.Is(err, ErrMemReadOnly))
	assert.True(t, errors.Is(buf.Read(0, make([]byte, 1)), ErrMemReadOnly))
}

func TestCreateBufferRollback(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	hd.FailNext("BindBufferMemory", hal.ErrorOutOfDeviceMemory)
	_, err := dev.CreateBuffer(64, BufferStorage, Gpu)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindBind))
	assert.True(t, errors.Is(err, hal.ErrorOutOfDeviceMemory))
	assert.Equal(t, 0, hd.Live("buffer"))
	assert.Equal(t, 0, dev.Arena().Stats().Allocations)

	hd.FailNext("CreateBuffer", hal.ErrorOutOfHostMemory)
	_, err = dev.CreateBuffer(64, BufferStorage, Gpu)
	assert.True(t, IsKind(err, KindCreate))

	_, err = dev.CreateBuffer(0, BufferStorage, Gpu)
	assert.True(t, IsKind(err, KindUsage))
}

func TestBufferDestroyTwice(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	buf, err := dev.CreateBuffer(16, BufferIndex, Gpu)
	require.NoError(t, err)
	buf.Destroy()
	buf.Destroy()
	assert.Equal(t, 1, hd.Calls("DestroyBuffer"))
}
