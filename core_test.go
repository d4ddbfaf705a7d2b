package dieselrhi

import (
	"errors"
	"testing"

	"github.com/andewx/dieselrhi/hal"
	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectAdapter(t *testing.T) {
	adapters := []hal.AdapterInfo{
		{Name: "igpu", Type: hal.AdapterIntegrated, Graphics: true, Present: true, TimelineSemaphores: true},
		{Name: "old dgpu", Type: hal.AdapterDiscrete, Graphics: true, Present: true},
		{Name: "dgpu", Type: hal.AdapterDiscrete, Graphics: true, Present: true, TimelineSemaphores: true},
	}
	dev, _ := newTestDevice(t, haltest.Options{Adapters: adapters})
	assert.Equal(t, "dgpu", dev.Info().Name)
	assert.Equal(t, 2, dev.Info().Index)
}

func TestSelectAdapterKeepsFirstWithoutPreference(t *testing.T) {
	adapters := []hal.AdapterInfo{
		{Name: "igpu", Type: hal.AdapterIntegrated, Graphics: true, Present: true, TimelineSemaphores: true},
		{Name: "dgpu", Type: hal.AdapterDiscrete, Graphics: true, Present: true, TimelineSemaphores: true},
	}
	dev, _ := newTestDevice(t, haltest.Options{Adapters: adapters}, func(u *Usage) { u.PreferDiscrete = false })
	assert.Equal(t, "igpu", dev.Info().Name)
}

func TestNoCapableDevice(t *testing.T) {
	core := NewCore(haltest.NewInstance(haltest.Options{Headless: true}), DefaultUsage())
	defer core.Destroy()
	_, err := core.CreateDevice()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoDevice))
	assert.True(t, errors.Is(err, ErrInit))
	assert.False(t, errors.Is(err, ErrCreate))
}

func TestInvalidUsageFallsBack(t *testing.T) {
	u := DefaultUsage()
	u.FramesInFlight = 99
	core := NewCore(haltest.NewInstance(haltest.Options{}), u)
	defer core.Destroy()
	assert.Equal(t, DefaultFramesInFlight, core.Usage().FramesInFlight)
}

func TestDeviceDestroyReleasesEverything(t *testing.T) {
	inst := haltest.NewInstance(haltest.Options{})
	core := NewCore(inst, DefaultUsage())
	dev, err := core.CreateDevice()
	require.NoError(t, err)
	buf, err := dev.CreateBuffer(64, BufferUniform, CpuToGpu)
	require.NoError(t, err)
	buf.Destroy()

	dev.Destroy()
	dev.Destroy()
	core.Destroy()
	hd := inst.Device()
	assert.Empty(t, hd.Violations())
	assert.Equal(t, 0, hd.Live("memory"))
	assert.Equal(t, 1, hd.Calls("Destroy"))
}

func TestErrorFormatting(t *testing.T) {
	err := newError("create buffer", KindCreate, hal.ErrorOutOfDeviceMemory)
	assert.Contains(t, err.Error(), "dieselrhi: create buffer: handle creation failed: ErrorOutOfDeviceMemory")
	assert.Contains(t, err.Error(), "TestErrorFormatting")
	assert.True(t, errors.Is(err, hal.ErrorOutOfDeviceMemory))
	assert.Nil(t, check("ok", KindCreate, hal.Success))
	assert.Nil(t, check("suboptimal", KindSwapchain, hal.Suboptimal))
	assert.Equal(t, "ErrorKind(99)", ErrorKind(99).String())
}

func TestCreateShader(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	s, err := dev.CreateShader(testSPIRV(), "", VertexStage)
	require.NoError(t, err)
	assert.Equal(t, "main", s.Entry())
	assert.Equal(t, VertexStage, s.Stage())
	s.Destroy()
	s.Destroy()

	code := testSPIRV()
	code[0] = 0
	_, err = dev.CreateShader(code, "main", VertexStage)
	assert.True(t, IsKind(err, KindCreate))
	_, err = dev.CreateShader(testSPIRV()[:6], "main", VertexStage)
	assert.True(t, IsKind(err, KindCreate))

	_, err = dev.CompileShader("this is not wgsl", "main", FragmentStage)
	assert.True(t, IsKind(err, KindCreate))

	fs, err := dev.CompileShader(`
@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`, "fs_main", FragmentStage)
	require.NoError(t, err)
	assert.Equal(t, "fs_main", fs.Entry())
	fs.Destroy()
}
