package dieselrhi

import (
	"encoding/binary"
	"testing"

	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDevice opens a device on a software instance. The device is torn
// down at the end of the test and any call the fake rejected, leaks
// included, fails the test.
func newTestDevice(t *testing.T, opts haltest.Options, tweak ...func(*Usage)) (*Device, *haltest.Device) {
	t.Helper()
	usage := DefaultUsage()
	usage.Headless = opts.Headless
	for _, fn := range tweak {
		fn(&usage)
	}
	inst := haltest.NewInstance(opts)
	core := NewCore(inst, usage)
	dev, err := core.CreateDevice()
	require.NoError(t, err)
	hd := inst.Device()
	require.NotNil(t, hd)
	t.Cleanup(func() {
		core.Destroy()
		assert.Empty(t, hd.Violations())
	})
	return dev, hd
}

// testSPIRV is the smallest module header the fake accepts.
func testSPIRV() []byte {
	words := []uint32{spirvMagic, 0x00010000, 0, 1, 0}
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	return out
}

func testShaders(t *testing.T, dev *Device) (*Shader, *Shader) {
	t.Helper()
	vs, err := dev.CreateShader(testSPIRV(), "main", VertexStage)
	require.NoError(t, err)
	fs, err := dev.CreateShader(testSPIRV(), "main", FragmentStage)
	require.NoError(t, err)
	t.Cleanup(func() {
		vs.Destroy()
		fs.Destroy()
	})
	return vs, fs
}

// testPipeline builds a pipeline writing one colour output. Extra options
// are applied to the description before creation.
func testPipeline(t *testing.T, dev *Device, format Format, edit ...func(*RenderPipelineDesc)) *RenderPipeline {
	t.Helper()
	vs, fs := testShaders(t, dev)
	desc := RenderPipelineDesc{
		Vertex:   vs,
		Fragment: fs,
		Outputs:  []OutputInfo{{Format: format, Clear: true, Store: true}},
	}
	for _, fn := range edit {
		fn(&desc)
	}
	p, err := dev.CreateRenderPipeline(desc)
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	return p
}

func testImage(t *testing.T, dev *Device, format Format, w, h uint32, usage ImageUsage) *OwnedImage {
	t.Helper()
	img, err := dev.CreateImage(D2, format, Extent{Width: w, Height: h}, 1, usage, Gpu)
	require.NoError(t, err)
	t.Cleanup(img.Destroy)
	return img
}

func repeatTexel(texel []byte, n int) []byte {
	out := make([]byte, 0, len(texel)*n)
	for range n {
		out = append(out, texel...)
	}
	return out
}
