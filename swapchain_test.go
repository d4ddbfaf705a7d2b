package dieselrhi

import (
	"errors"
	"testing"

	"github.com/andewx/dieselrhi/hal"
	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSwapchain(t *testing.T, tweak ...func(*Usage)) (*Device, *haltest.Device, *Swapchain, *FrameRing) {
	t.Helper()
	dev, hd := newTestDevice(t, haltest.Options{}, tweak...)
	sc, err := dev.CreateSwapchain(800, 600)
	require.NoError(t, err)
	t.Cleanup(sc.Destroy)
	ring, err := NewFrameRing(dev, 0)
	require.NoError(t, err)
	t.Cleanup(ring.Destroy)
	return dev, hd, sc, ring
}

// presentFrame acquires an image, moves it to the present layout in one
// frame of the ring and presents it. It reports a suboptimal chain.
func presentFrame(t *testing.T, sc *Swapchain, ring *FrameRing) (bool, error) {
	t.Helper()
	idx, acquireSuboptimal, err := sc.AcquireImage()
	if err != nil {
		return false, err
	}
	f, err := ring.Begin(NoTimeout)
	require.NoError(t, err)
	enc, err := f.Encoder()
	require.NoError(t, err)
	img := sc.Image(idx)
	require.NotNil(t, img)
	enc.TransitionImage(img, Undefined)
	enc.TransitionImage(img, Present)
	require.NoError(t, enc.Finalize())
	require.NoError(t, ring.Submit(f, nil, true))
	presentSuboptimal, err := sc.PresentImage(idx, f.RenderDone)
	return acquireSuboptimal || presentSuboptimal, err
}

func TestSwapchainPresent(t *testing.T) {
	dev, hd, sc, ring := newTestSwapchain(t)
	assert.Equal(t, 3, sc.Len())
	assert.Equal(t, Bgra8, sc.Format())
	assert.Equal(t, hal.PresentMailbox, sc.PresentMode())
	assert.Equal(t, hal.Extent2D{Width: 800, Height: 600}, sc.Extent())
	assert.Equal(t, SwapchainCreated, sc.State())

	for range 5 {
		suboptimal, err := presentFrame(t, sc, ring)
		require.NoError(t, err)
		assert.False(t, suboptimal)
		assert.Equal(t, SwapchainCreated, sc.State())
	}
	require.NoError(t, dev.WaitIdle())
	assert.Equal(t, 5, hd.Stats().Presents)
	assert.Nil(t, sc.Image(3))
	assert.Nil(t, sc.View(3))
	assert.NotNil(t, sc.View(0))
}

func TestSwapchainSuboptimal(t *testing.T) {
	_, hd, sc, ring := newTestSwapchain(t)
	hd.ForceSuboptimal(2)

	suboptimal, err := presentFrame(t, sc, ring)
	require.NoError(t, err)
	assert.False(t, suboptimal)

	suboptimal, err = presentFrame(t, sc, ring)
	require.NoError(t, err)
	assert.True(t, suboptimal)
	assert.Equal(t, SwapchainInvalidated, sc.State())

	old := sc.Handle()
	require.NoError(t, sc.Resize(800, 600))
	assert.NotEqual(t, old, sc.Handle())
	assert.Equal(t, 3, sc.Len())
	assert.Equal(t, Bgra8, sc.Format())
	assert.Equal(t, SwapchainCreated, sc.State())
	assert.Equal(t, 1, hd.Live("swapchain"))
	assert.Equal(t, 3, hd.Live("view"))
}

func TestSwapchainSuboptimalEveryOtherFrame(t *testing.T) {
	_, hd, sc, ring := newTestSwapchain(t)
	hd.ForceSuboptimal(2)

	rebuilds := 0
	for range 40 {
		suboptimal, err := presentFrame(t, sc, ring)
		require.NoError(t, err)
		if suboptimal {
			rebuilds++
			require.NoError(t, sc.Resize(800, 600))
		}
		assert.Equal(t, 3, sc.Len())
	}
	assert.Equal(t, 20, rebuilds)
	assert.Equal(t, 1, hd.Live("swapchain"))
	assert.Equal(t, 3, hd.Live("view"))
}

func TestResizeFailureKeepsChain(t *testing.T) {
	for _, call := range []string{"CreateSwapchain", "SwapchainImages", "CreateImageView"} {
		t.Run(call, func(t *testing.T) {
			_, hd, sc, ring := newTestSwapchain(t)
			_, err := presentFrame(t, sc, ring)
			require.NoError(t, err)
			old := sc.Handle()
			view := sc.View(0)

			hd.FailNext(call, hal.ErrorOutOfDeviceMemory)
			err = sc.Resize(800, 600)
			require.Error(t, err)
			assert.True(t, errors.Is(err, hal.ErrorOutOfDeviceMemory))

			// the previous images and views are untouched
			assert.Equal(t, old, sc.Handle())
			assert.Equal(t, 3, sc.Len())
			assert.Same(t, view, sc.View(0))
			assert.NotNil(t, sc.Image(2))
			assert.Equal(t, 3, hd.Live("view"))
			assert.Equal(t, 1, hd.Live("swapchain"))

			// the old handle was retired, so nothing more is acquired from it
			assert.Equal(t, SwapchainInvalidated, sc.State())
			_, _, err = sc.AcquireImage()
			assert.True(t, errors.Is(err, ErrOutOfDate))

			require.NoError(t, sc.Resize(800, 600))
			assert.NotEqual(t, old, sc.Handle())
			assert.Equal(t, 3, sc.Len())
			assert.Equal(t, 1, hd.Live("swapchain"))
			assert.Equal(t, 3, hd.Live("view"))
			_, err = presentFrame(t, sc, ring)
			require.NoError(t, err)
		})
	}
}

func TestSwapchainOutOfDate(t *testing.T) {
	_, hd, sc, ring := newTestSwapchain(t)
	hd.SetSurfaceExtent(1024, 768)

	_, err := presentFrame(t, sc, ring)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutOfDate))
	assert.True(t, IsKind(err, KindSwapchain))
	assert.Equal(t, SwapchainInvalidated, sc.State())

	// no further acquires reach the surface until the chain is rebuilt
	calls := hd.Calls("AcquireNextImage")
	_, _, err = sc.AcquireImage()
	assert.True(t, errors.Is(err, ErrOutOfDate))
	assert.Equal(t, calls, hd.Calls("AcquireNextImage"))

	require.NoError(t, sc.Resize(1024, 768))
	assert.Equal(t, hal.Extent2D{Width: 1024, Height: 768}, sc.Extent())
	_, err = presentFrame(t, sc, ring)
	require.NoError(t, err)
}

func TestSwapchainOutOfDateOnPresent(t *testing.T) {
	_, hd, sc, ring := newTestSwapchain(t)
	idx, _, err := sc.AcquireImage()
	require.NoError(t, err)
	f, err := ring.Begin(NoTimeout)
	require.NoError(t, err)
	enc, err := f.Encoder()
	require.NoError(t, err)
	enc.TransitionImage(sc.Image(idx), Undefined)
	enc.TransitionImage(sc.Image(idx), Present)
	require.NoError(t, enc.Finalize())
	require.NoError(t, ring.Submit(f, nil, true))

	hd.SetSurfaceExtent(640, 480)
	_, err = sc.PresentImage(idx, f.RenderDone)
	assert.True(t, errors.Is(err, ErrOutOfDate))
	_, _, err = sc.AcquireImage()
	assert.True(t, errors.Is(err, ErrOutOfDate))

	require.NoError(t, sc.Resize(640, 480))
	_, err = presentFrame(t, sc, ring)
	require.NoError(t, err)
}

func TestPresentRejectsTimeline(t *testing.T) {
	dev, _, sc, _ := newTestSwapchain(t)
	tl, err := dev.CreateTimelineSemaphore(0)
	require.NoError(t, err)
	defer tl.Destroy()

	_, err = sc.PresentImage(0, tl)
	assert.True(t, IsKind(err, KindUsage))
	assert.True(t, errors.Is(err, ErrUnsupportedSemaphore))
	_, err = sc.PresentImage(7, nil)
	assert.True(t, IsKind(err, KindUsage))
}

func TestSwapchainSurfaceChoices(t *testing.T) {
	t.Run("no usable format", func(t *testing.T) {
		dev, hd := newTestDevice(t, haltest.Options{})
		hd.SetSurfaceFormats([]hal.SurfaceFormat{{Format: hal.FormatR32G32Sfloat}})
		_, err := dev.CreateSwapchain(800, 600)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoSurfaceFormat))
		assert.True(t, IsKind(err, KindInit))
		assert.Equal(t, 0, hd.Live("fence"))
	})
	t.Run("hdr", func(t *testing.T) {
		dev, hd := newTestDevice(t, haltest.Options{}, func(u *Usage) { u.HDR = true })
		hd.SetSurfaceFormats([]hal.SurfaceFormat{
			{Format: hal.FormatB8G8R8A8Unorm},
			{Format: hal.FormatR16G16B16A16Sfloat},
		})
		sc, err := dev.CreateSwapchain(800, 600)
		require.NoError(t, err)
		defer sc.Destroy()
		assert.Equal(t, Rgba16Float, sc.Format())
	})
	t.Run("fifo fallback", func(t *testing.T) {
		dev, hd := newTestDevice(t, haltest.Options{})
		hd.SetPresentModes([]hal.PresentMode{hal.PresentFifo})
		sc, err := dev.CreateSwapchain(800, 600)
		require.NoError(t, err)
		defer sc.Destroy()
		assert.Equal(t, hal.PresentFifo, sc.PresentMode())
	})
	t.Run("headless", func(t *testing.T) {
		dev, hd := newTestDevice(t, haltest.Options{Headless: true})
		_, err := dev.CreateSwapchain(800, 600)
		assert.True(t, IsKind(err, KindUsage))
		assert.Equal(t, 0, hd.Calls("SurfaceCapabilities"))
	})
}

func TestChooseSurfaceParameters(t *testing.T) {
	_, _, ok := chooseSurfaceFormat([]hal.SurfaceFormat{{Format: hal.FormatR8G8B8A8Unorm, ColorSpace: 42}}, false)
	assert.False(t, ok)
	f, cs, ok := chooseSurfaceFormat([]hal.SurfaceFormat{
		{Format: hal.FormatR8G8B8A8Srgb},
		{Format: hal.FormatR8G8B8A8Unorm, ColorSpace: hal.ColorSpaceDisplayP3Nonlinear},
	}, false)
	require.True(t, ok)
	assert.Equal(t, Rgba8, f)
	assert.Equal(t, hal.ColorSpaceDisplayP3Nonlinear, cs)

	assert.Equal(t, hal.PresentFifo, choosePresentMode([]hal.PresentMode{hal.PresentImmediate}, hal.PresentMailbox))
	assert.Equal(t, uint32(3), chooseImageCount(hal.SurfaceCapabilities{MinImageCount: 2}))
	assert.Equal(t, uint32(3), chooseImageCount(hal.SurfaceCapabilities{MinImageCount: 3, MaxImageCount: 3}))

	free := hal.SurfaceCapabilities{
		CurrentExtent: hal.Extent2D{Width: ^uint32(0), Height: ^uint32(0)},
		MinExtent:     hal.Extent2D{Width: 1, Height: 1},
		MaxExtent:     hal.Extent2D{Width: 100, Height: 100},
	}
	assert.Equal(t, hal.Extent2D{Width: 100, Height: 1}, chooseExtent(free, 500, 0))
	fixed := hal.SurfaceCapabilities{CurrentExtent: hal.Extent2D{Width: 320, Height: 200}}
	assert.Equal(t, hal.Extent2D{Width: 320, Height: 200}, chooseExtent(fixed, 500, 500))
}

type fakeWindow struct{ w, h int }

func (f *fakeWindow) GetFramebufferSize() (int, int) { return f.w, f.h }

func TestDisplayRefresh(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{})
	win := &fakeWindow{800, 600}
	disp, err := NewDisplay(dev, win)
	require.NoError(t, err)
	defer disp.Destroy()
	ring, err := NewFrameRing(dev, 2)
	require.NoError(t, err)
	defer ring.Destroy()

	rebuilt, err := disp.Refresh()
	require.NoError(t, err)
	assert.False(t, rebuilt)

	win.w, win.h = 0, 0
	assert.True(t, disp.Minimized())
	rebuilt, err = disp.Refresh()
	require.NoError(t, err)
	assert.False(t, rebuilt)

	win.w, win.h = 640, 480
	hd.SetSurfaceExtent(640, 480)
	rebuilt, err = disp.Refresh()
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, hal.Extent2D{Width: 640, Height: 480}, disp.Swapchain().Extent())

	hd.ForceSuboptimal(1)
	suboptimal, err := presentFrame(t, disp.Swapchain(), ring)
	require.NoError(t, err)
	assert.True(t, suboptimal)
	hd.ForceSuboptimal(0)
	rebuilt, err = disp.Refresh()
	require.NoError(t, err)
	assert.True(t, rebuilt)
	_, err = presentFrame(t, disp.Swapchain(), ring)
	require.NoError(t, err)
}
