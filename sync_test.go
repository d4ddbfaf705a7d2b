package dieselrhi

import (
	"errors"
	"testing"
	"time"

	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emptyRecording(t *testing.T, dev *Device) *CommandBuffer {
	t.Helper()
	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	enc, err := cb.Encoder()
	require.NoError(t, err)
	require.NoError(t, enc.Finalize())
	return cb
}

func TestTimelineSemaphore(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	sem, err := dev.CreateTimelineSemaphore(0)
	require.NoError(t, err)
	defer sem.Destroy()
	cb := emptyRecording(t, dev)
	defer cb.Destroy()

	hd.HoldQueue()
	require.NoError(t, cb.Submit(nil, []SemSubmit{sem.SubmitInfo(5)}, nil))
	err = sem.WaitFor(5, 10*time.Millisecond)
	assert.True(t, IsKind(err, KindTimeout))
	assert.True(t, errors.Is(err, ErrTimeout))

	hd.ReleaseQueue()
	require.NoError(t, sem.WaitFor(5, NoTimeout))
	v, err := sem.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)

	assert.True(t, IsKind(sem.WaitFor(6, 10*time.Millisecond), KindTimeout))
	require.NoError(t, sem.Signal(7))
	require.NoError(t, sem.WaitFor(6, 0))
	v, err = sem.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)
}

func TestBinarySemaphoreHostOps(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	sem, err := dev.CreateSemaphore(Binary)
	require.NoError(t, err)
	defer sem.Destroy()
	assert.Equal(t, Binary, sem.Kind())
	assert.Equal(t, uint64(0), sem.SubmitInfo(9).Value)

	err = sem.WaitFor(1, 0)
	assert.True(t, errors.Is(err, ErrUnsupportedSemaphore))
	assert.True(t, IsKind(err, KindUsage))
	_, err = sem.Value()
	assert.True(t, errors.Is(err, ErrUnsupportedSemaphore))
	assert.True(t, errors.Is(sem.Signal(1), ErrUnsupportedSemaphore))
}

func TestFence(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	f, err := dev.CreateFence(true)
	require.NoError(t, err)
	defer f.Destroy()

	ok, err := f.Signaled()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, f.Wait(NoTimeout))

	require.NoError(t, f.Reset())
	ok, err = f.Signaled()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, IsKind(f.Wait(10*time.Millisecond), KindTimeout))

	cb := emptyRecording(t, dev)
	defer cb.Destroy()
	require.NoError(t, cb.Submit(nil, nil, f))
	require.NoError(t, f.Wait(NoTimeout))
}

// Destroying twice releases the handle once; the device cleanup fails the
// test on any second destroy.
func TestDestroyTwice(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	f, err := dev.CreateFence(false)
	require.NoError(t, err)
	bin, err := dev.CreateSemaphore(Binary)
	require.NoError(t, err)
	tl, err := dev.CreateTimelineSemaphore(1)
	require.NoError(t, err)
	s, err := dev.CreateSampler(SamplerDesc{Mag: Linear, Min: Linear})
	require.NoError(t, err)
	cb := emptyRecording(t, dev)

	for range 2 {
		f.Destroy()
		bin.Destroy()
		tl.Destroy()
		s.Destroy()
		cb.Destroy()
	}
	assert.Equal(t, 1, hd.Calls("DestroyFence"))
	assert.Equal(t, 2, hd.Calls("DestroySemaphore"))
	assert.Equal(t, 1, hd.Calls("DestroySampler"))
	assert.Equal(t, 1, hd.Calls("FreeCommandBuffer"))
	assert.Zero(t, f.Handle())
	assert.Zero(t, cb.Handle())
	assert.Equal(t, 0, hd.Live("fence"))
	assert.Equal(t, 0, hd.Live("semaphore"))
	assert.Equal(t, 0, hd.Live("sampler"))
}

func TestSubmitRequiresFinalize(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()

	err = cb.Submit(nil, nil, nil)
	assert.True(t, IsKind(err, KindUsage))
	assert.Equal(t, 0, hd.Calls("QueueSubmit"))

	err = dev.Queue().Submit(nil, []SemSubmit{{}}, nil, nil)
	assert.True(t, IsKind(err, KindUsage))
	assert.NoError(t, dev.Queue().Submit(nil, nil, nil, nil))
}

func TestResubmit(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	cb := emptyRecording(t, dev)
	defer cb.Destroy()
	require.NoError(t, cb.Wait(NoTimeout))

	require.NoError(t, cb.Submit(nil, nil, nil))
	require.NoError(t, cb.Submit(nil, nil, nil))
	require.NoError(t, cb.Wait(NoTimeout))

	q := dev.Queue()
	assert.Equal(t, uint64(2), q.Serial())
	done, err := q.Completed()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), done)

	// re-recording waits for the previous submission
	enc, err := cb.Encoder()
	require.NoError(t, err)
	require.NoError(t, enc.Finalize())
	require.NoError(t, cb.Submit(nil, nil, nil))
	require.NoError(t, dev.WaitIdle())
}

func TestDestroyWaitsForGPU(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	src, err := dev.CreateBuffer(64, BufferCopySrc, CpuToGpu)
	require.NoError(t, err)
	dst, err := dev.CreateBuffer(64, BufferCopyDst, Gpu)
	require.NoError(t, err)
	defer dst.Destroy()

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)
	enc.CopyBufferToBuffer(src, dst)
	require.NoError(t, enc.Finalize())

	hd.HoldQueue()
	require.NoError(t, cb.Submit(nil, nil, nil))
	done := make(chan struct{})
	go func() {
		src.Destroy()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("buffer destroyed while its copy was pending")
	case <-time.After(20 * time.Millisecond):
	}
	hd.ReleaseQueue()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("destroy did not return after the queue drained")
	}
	assert.Equal(t, 1, hd.Live("buffer"))
}
