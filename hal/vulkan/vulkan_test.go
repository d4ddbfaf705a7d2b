package vulkan_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/andewx/dieselrhi"
	"github.com/andewx/dieselrhi/hal/vulkan"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openGPU opens a headless device on the first capable GPU. The test is
// skipped when there is no display for glfw or no Vulkan 1.2 device.
func openGPU(t *testing.T) *dieselrhi.Device {
	t.Helper()
	if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		t.Skip("no display")
	}
	if err := glfw.Init(); err != nil {
		t.Skipf("glfw: %v", err)
	}
	t.Cleanup(glfw.Terminate)
	if err := vulkan.Init(); err != nil {
		t.Skipf("vulkan loader: %v", err)
	}
	inst, err := vulkan.NewInstance(vulkan.Config{AppName: "dieselrhi-test", Validation: true})
	require.NoError(t, err)

	usage := dieselrhi.DefaultUsage()
	usage.Headless = true
	core := dieselrhi.NewCore(inst, usage)
	t.Cleanup(core.Destroy)
	dev, err := core.CreateDevice()
	if errors.Is(err, dieselrhi.ErrNoDevice) {
		t.Skip("no Vulkan 1.2 graphics device")
	}
	require.NoError(t, err)
	return dev
}

func TestGPUBufferCopy(t *testing.T) {
	dev := openGPU(t)
	src, err := dev.CreateBuffer(256, dieselrhi.BufferCopySrc, dieselrhi.CpuToGpu)
	require.NoError(t, err)
	defer src.Destroy()
	dst, err := dev.CreateBuffer(256, dieselrhi.BufferCopyDst, dieselrhi.GpuToCpu)
	require.NoError(t, err)
	defer dst.Destroy()

	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, src.Write(0, data))

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)
	enc.CopyBufferToBuffer(src, dst)
	require.NoError(t, enc.Finalize())
	require.NoError(t, cb.Submit(nil, nil, nil))
	require.NoError(t, cb.Wait(time.Second))

	got := make([]byte, 256)
	require.NoError(t, dst.Read(0, got))
	assert.Equal(t, data, got)
}

func TestGPUImageRoundTrip(t *testing.T) {
	dev := openGPU(t)
	img, err := dev.CreateImage(dieselrhi.D2, dieselrhi.Rgba8, dieselrhi.Extent{Width: 4, Height: 4}, 1,
		dieselrhi.ImageSampled|dieselrhi.ImageCopySrc, dieselrhi.Gpu)
	require.NoError(t, err)
	defer img.Destroy()

	pixels := make([]byte, 4*4*4)
	for i := range pixels {
		pixels[i] = byte(i * 3)
	}
	read := dieselrhi.ShaderAccess(dieselrhi.Read)
	require.NoError(t, dev.Upload(img, pixels, read))
	got, err := dev.Readback(img, read)
	require.NoError(t, err)
	assert.Equal(t, pixels, got)
}

func TestGPUTimeline(t *testing.T) {
	dev := openGPU(t)
	tl, err := dev.CreateTimelineSemaphore(3)
	require.NoError(t, err)
	defer tl.Destroy()

	v, err := tl.Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	require.NoError(t, tl.Signal(5))
	require.NoError(t, tl.WaitFor(5, time.Second))
	err = tl.WaitFor(6, time.Millisecond)
	assert.True(t, dieselrhi.IsKind(err, dieselrhi.KindTimeout))

	ring, err := dieselrhi.NewFrameRing(dev, 2)
	require.NoError(t, err)
	defer ring.Destroy()
	for range 4 {
		f, err := ring.Begin(time.Second)
		require.NoError(t, err)
		enc, err := f.Encoder()
		require.NoError(t, err)
		require.NoError(t, enc.Finalize())
		require.NoError(t, ring.Submit(f, nil, false))
	}
	require.NoError(t, dev.WaitIdle())
	v, err = ring.Timeline().Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v)
}
