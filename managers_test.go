package dieselrhi

import (
	"testing"
	"time"

	"github.com/andewx/dieselrhi/hal"
	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitEmptyFrame(t *testing.T, ring *FrameRing, f *Frame) {
	t.Helper()
	enc, err := f.Encoder()
	require.NoError(t, err)
	require.NoError(t, enc.Finalize())
	require.NoError(t, ring.Submit(f, nil, false))
}

func TestFrameRingCycles(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	ring, err := NewFrameRing(dev, 3)
	require.NoError(t, err)
	defer ring.Destroy()
	assert.Equal(t, 3, ring.Len())

	for i := range 7 {
		f, err := ring.Begin(NoTimeout)
		require.NoError(t, err)
		assert.Equal(t, i%3, f.Index)
		submitEmptyFrame(t, ring, f)
	}
	require.NoError(t, dev.WaitIdle())
	v, err := ring.Timeline().Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
	assert.Equal(t, 7, hd.Stats().Submits)
}

func TestFrameRingBeginTimeout(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	ring, err := NewFrameRing(dev, 2)
	require.NoError(t, err)
	defer ring.Destroy()

	hd.HoldQueue()
	for range 2 {
		f, err := ring.Begin(NoTimeout)
		require.NoError(t, err)
		submitEmptyFrame(t, ring, f)
	}
	_, err = ring.Begin(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout))

	hd.ReleaseQueue()
	f, err := ring.Begin(NoTimeout)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Index)
}

func TestFrameRingCreate(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true}, func(u *Usage) { u.FramesInFlight = 4 })

	_, err := NewFrameRing(dev, MaxFramesInFlight+1)
	assert.True(t, IsKind(err, KindUsage))

	ring, err := NewFrameRing(dev, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, ring.Len())
	ring.Destroy()

	semaphores := hd.Live("semaphore")
	hd.FailNext("AllocateCommandBuffer", hal.ErrorOutOfHostMemory)
	_, err = NewFrameRing(dev, 2)
	require.Error(t, err)
	assert.Equal(t, semaphores, hd.Live("semaphore"))
	assert.Equal(t, 0, hd.Live("command_buffer"))
}
