package dieselrhi

import (
	"testing"

	"github.com/andewx/dieselrhi/hal"
	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uniformAndTexture = [][]DBindingType{{{Kind: UBuffer}, {Kind: Sampler2D}}}

func TestDAllocGrowsAndRetires(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	p := testPipeline(t, dev, Rgba8, func(d *RenderPipelineDesc) { d.Sets = uniformAndTexture })
	hd.SetMaxDescriptorSets(2)
	a, err := p.NewDAlloc(0)
	require.NoError(t, err)
	defer a.Destroy()

	var sets []*DSet
	for range 3 {
		s, err := a.NewSet()
		require.NoError(t, err)
		sets = append(sets, s)
	}
	assert.Equal(t, 2, a.Pools())
	assert.Equal(t, 2, hd.Live("descriptor_pool"))

	sets[0].Release()
	assert.Equal(t, 2, a.Pools())
	sets[1].Release()
	sets[1].Release()
	assert.Equal(t, 1, a.Pools())
	assert.Equal(t, 1, hd.Live("descriptor_pool"))

	// the open pool stays even when empty
	sets[2].Release()
	assert.Equal(t, 1, a.Pools())

	err = sets[0].Write()
	assert.True(t, IsKind(err, KindUsage))
}

func TestDSetReleaseAfterDestroy(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	p := testPipeline(t, dev, Rgba8, func(d *RenderPipelineDesc) { d.Sets = uniformAndTexture })
	hd.SetMaxDescriptorSets(1)
	a, err := p.NewDAlloc(0)
	require.NoError(t, err)

	first, err := a.NewSet()
	require.NoError(t, err)
	second, err := a.NewSet()
	require.NoError(t, err)
	require.Equal(t, 2, a.Pools())

	a.Destroy()
	assert.Equal(t, 0, hd.Live("descriptor_pool"))
	assert.Equal(t, 2, hd.Calls("DestroyDescriptorPool"))

	first.Release()
	second.Release()
	a.Destroy()
	assert.Equal(t, 2, hd.Calls("DestroyDescriptorPool"))
	assert.Equal(t, 0, a.Pools())
}

func TestDAllocPoolFailure(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	p := testPipeline(t, dev, Rgba8, func(d *RenderPipelineDesc) { d.Sets = uniformAndTexture })
	a, err := p.NewDAlloc(0)
	require.NoError(t, err)
	defer a.Destroy()

	hd.FailNext("CreateDescriptorPool", hal.ErrorOutOfDeviceMemory)
	_, err = a.NewSet()
	assert.True(t, IsKind(err, KindAllocate))
	assert.Equal(t, 0, a.Pools())

	s, err := a.NewSet()
	require.NoError(t, err)
	assert.NotZero(t, s.Handle())
}

func TestDSetWrite(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	p := testPipeline(t, dev, Rgba8, func(d *RenderPipelineDesc) { d.Sets = uniformAndTexture })
	a, err := p.NewDAlloc(0)
	require.NoError(t, err)
	defer a.Destroy()
	set, err := a.NewSet()
	require.NoError(t, err)

	buf, err := dev.CreateBuffer(64, BufferUniform, CpuToGpu)
	require.NoError(t, err)
	defer buf.Destroy()
	img := testImage(t, dev, Rgba8, 4, 4, ImageSampled)
	view, err := dev.CreateImageView(img, ViewD2, All, All)
	require.NoError(t, err)
	defer view.Destroy()
	sampler, err := dev.CreateSampler(SamplerDesc{Mag: Linear, Min: Linear})
	require.NoError(t, err)
	defer sampler.Destroy()

	require.NoError(t, set.Write(BufferData(0, buf), TextureData(1, view, sampler)))
	require.NoError(t, set.Write(DBindingData{Binding: 0, Buffer: buf, Offset: 16, Size: 16}))
	assert.Equal(t, 2, hd.Calls("UpdateDescriptorSet"))

	bad := []struct {
		name string
		data DBindingData
	}{
		{"binding out of range", BufferData(2, buf)},
		{"element out of range", DBindingData{Binding: 0, Element: 1, Buffer: buf}},
		{"buffer for a texture", BufferData(1, buf)},
		{"texture without sampler", TextureData(1, view, nil)},
		{"no buffer", DBindingData{Binding: 0}},
		{"range past end", DBindingData{Binding: 0, Buffer: buf, Offset: 32, Size: 64}},
		{"offset past end", DBindingData{Binding: 0, Buffer: buf, Offset: 80}},
		{"empty range", DBindingData{Binding: 0, Buffer: buf, Offset: 64}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, IsKind(set.Write(tt.data), KindUsage))
		})
	}
	assert.Equal(t, 2, hd.Calls("UpdateDescriptorSet"))
}

func TestBindSetsAndRewrite(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	p := testPipeline(t, dev, Rgba8, func(d *RenderPipelineDesc) {
		d.Sets = [][]DBindingType{{{Kind: UBuffer}}}
	})
	a, err := p.NewDAlloc(0)
	require.NoError(t, err)
	defer a.Destroy()
	set, err := a.NewSet()
	require.NoError(t, err)

	buf, err := dev.CreateBuffer(64, BufferUniform, CpuToGpu)
	require.NoError(t, err)
	defer buf.Destroy()
	require.NoError(t, set.Write(BufferData(0, buf)))

	img := testImage(t, dev, Rgba8, 4, 4, ImageAttachment)
	view, err := dev.CreateImageView(img, ViewD2, All, All)
	require.NoError(t, err)
	defer view.Destroy()
	out, err := p.NewOutput(view)
	require.NoError(t, err)
	defer out.Destroy()

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	for range 2 {
		enc, err := cb.Encoder()
		require.NoError(t, err)
		enc.TransitionImage(img, Undefined)
		r := enc.StartRenderPipeline(p, out, []ClearValue{ClearColour(0, 0, 0, 1)})
		r.BindSets(0, set)
		r.Draw(3, 1, 0, 0)
		r.End()
		require.NoError(t, enc.Finalize())
		require.NoError(t, cb.Submit(nil, nil, nil))

		// waits for the submission before touching the set
		require.NoError(t, set.Write(BufferData(0, buf)))
	}
	require.NoError(t, dev.WaitIdle())
	assert.Equal(t, 2, hd.Stats().Draws)
}
