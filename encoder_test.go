package dieselrhi

import (
	"errors"
	"testing"

	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lin "github.com/xlab/linmath"
)

func submitAndWait(t *testing.T, dev *Device, cb *CommandBuffer) {
	t.Helper()
	fence, err := dev.CreateFence(false)
	require.NoError(t, err)
	defer fence.Destroy()
	require.NoError(t, cb.Submit(nil, nil, fence))
	require.NoError(t, fence.Wait(NoTimeout))
}

func TestCopyBufferToBuffer(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	src, err := dev.CreateBuffer(16, BufferCopySrc, CpuToGpu)
	require.NoError(t, err)
	defer src.Destroy()
	dst, err := dev.CreateBuffer(8, BufferCopyDst, GpuToCpu)
	require.NoError(t, err)
	defer dst.Destroy()

	data := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	require.NoError(t, src.Write(0, data))

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)
	enc.CopyBufferToBuffer(src, dst)
	require.NoError(t, enc.Finalize())
	submitAndWait(t, dev, cb)

	out := make([]byte, 8)
	require.NoError(t, dst.Read(0, out))
	assert.Equal(t, data[:8], out)
}

func TestEncoderRangeError(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	a, err := dev.CreateBuffer(16, BufferCopySrc, Gpu)
	require.NoError(t, err)
	defer a.Destroy()
	b, err := dev.CreateBuffer(16, BufferCopyDst, Gpu)
	require.NoError(t, err)
	defer b.Destroy()

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)
	enc.CopyBufferRegion(a, 8, b, 0, 16)
	err = enc.Finalize()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindRecord))

	err = cb.Submit(nil, nil, nil)
	assert.True(t, IsKind(err, KindUsage))
}

func TestEncoderOrdering(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	p := testPipeline(t, dev, Rgba8)
	img := testImage(t, dev, Rgba8, 2, 2, ImageAttachment)
	view, err := dev.CreateImageView(img, ViewD2, All, All)
	require.NoError(t, err)
	defer view.Destroy()
	out, err := p.NewOutput(view)
	require.NoError(t, err)
	defer out.Destroy()

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)

	_, err = cb.Encoder()
	assert.True(t, errors.Is(err, ErrEncoderState))

	enc.StartRenderPipeline(p, out, nil)
	enc.TransitionImage(img, ShaderAccess(Read))
	err = enc.Finalize()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEncoderState))
	assert.True(t, IsKind(err, KindRecord))

	err = enc.Finalize()
	assert.True(t, errors.Is(err, ErrEncoderState))
	assert.True(t, IsKind(cb.Submit(nil, nil, nil), KindUsage))
}

func TestRenderClearAndReadback(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	p := testPipeline(t, dev, Rgba8, func(d *RenderPipelineDesc) {
		d.PushConstantSize = 64
		d.Attributes = []VertexAttribute{Vec3, Vec2}
	})
	img := testImage(t, dev, Rgba8, 2, 2, ImageAttachment|ImageCopySrc)
	view, err := dev.CreateImageView(img, ViewD2, All, All)
	require.NoError(t, err)
	defer view.Destroy()
	out, err := p.NewOutput(view)
	require.NoError(t, err)
	defer out.Destroy()
	assert.Equal(t, uint32(2), out.Extent().Width)

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)
	enc.TransitionImage(img, Undefined)
	r := enc.StartRenderPipeline(p, out, []ClearValue{ClearColour(1, 0, 0, 1)})
	var m lin.Mat4x4
	m.Identity()
	r.PushConstants(0, MatrixBytes(&m))
	r.Draw(3, 1, 0, 0)
	assert.Same(t, enc, r.End())
	require.NoError(t, enc.Finalize())
	submitAndWait(t, dev, cb)

	pixels, err := dev.Readback(img, Attachment(ReadWrite))
	require.NoError(t, err)
	assert.Equal(t, repeatTexel([]byte{255, 0, 0, 255}, 4), pixels)
	assert.Equal(t, 1, hd.Stats().Draws)
}

func TestPushConstantRange(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	p := testPipeline(t, dev, Rgba8, func(d *RenderPipelineDesc) { d.PushConstantSize = 16 })
	img := testImage(t, dev, Rgba8, 2, 2, ImageAttachment)
	view, err := dev.CreateImageView(img, ViewD2, All, All)
	require.NoError(t, err)
	defer view.Destroy()
	out, err := p.NewOutput(view)
	require.NoError(t, err)
	defer out.Destroy()

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)
	r := enc.StartRenderPipeline(p, out, []ClearValue{ClearColour(0, 0, 0, 1)})
	r.PushConstants(8, make([]byte, 16))
	r.End()
	err = enc.Finalize()
	assert.True(t, IsKind(err, KindRecord))
}

func TestBlitStretch(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	src := testImage(t, dev, Rgba8, 2, 2, ImageCopySrc|ImageCopyDst)
	dst := testImage(t, dev, Rgba8, 4, 4, ImageCopySrc|ImageCopyDst)

	texels := [][]byte{{10, 0, 0, 255}, {20, 0, 0, 255}, {30, 0, 0, 255}, {40, 0, 0, 255}}
	var pixels []byte
	for _, tx := range texels {
		pixels = append(pixels, tx...)
	}
	require.NoError(t, dev.Upload(src, pixels, Transfer(Read)))

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)
	enc.TransitionImage(src, Transfer(Read))
	enc.TransitionImage(dst, Undefined)
	enc.BlitImage2DStretch(src, dst)
	assert.Equal(t, 1, enc.Barriers())
	require.NoError(t, enc.Finalize())
	submitAndWait(t, dev, cb)

	got, err := dev.Readback(dst, Transfer(Write))
	require.NoError(t, err)
	var want []byte
	for y := range 4 {
		for x := range 4 {
			want = append(want, texels[(y/2)*2+x/2]...)
		}
	}
	assert.Equal(t, want, got)
}

func TestBlitRegionMismatch(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	src, err := dev.CreateImage(D2, Rgba8, Extent{Width: 2, Height: 2, Depth: 2}, 1, ImageCopySrc, Gpu)
	require.NoError(t, err)
	defer src.Destroy()
	dst := testImage(t, dev, Rgba8, 2, 2, ImageCopyDst)

	cb, err := dev.CreateCommandBuffer()
	require.NoError(t, err)
	defer cb.Destroy()
	enc, err := cb.Encoder()
	require.NoError(t, err)
	region := FullRegion
	region.Layers = All
	enc.BlitImage(src, region, dst, FullRegion, Linear)
	assert.True(t, IsKind(enc.Finalize(), KindRecord))
}
