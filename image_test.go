package dieselrhi

import (
	"testing"

	"github.com/andewx/dieselrhi/hal"
	"github.com/andewx/dieselrhi/hal/haltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateImage(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})

	vol, err := dev.CreateImage(D3, Rgba16Float, Extent{Width: 8, Height: 8, Depth: 4}, 1, ImageSampled|ImageStorage, Gpu)
	require.NoError(t, err)
	defer vol.Destroy()
	assert.Equal(t, uint32(1), vol.Layers())
	assert.Equal(t, hal.Extent3D{Width: 4, Height: 4, Depth: 2}, vol.mipExtent(1))

	line, err := dev.CreateImage(D1, Rgba8, Extent{Width: 16, Height: 7}, 0, ImageSampled, Gpu)
	require.NoError(t, err)
	defer line.Destroy()
	assert.Equal(t, uint32(1), line.Extent().Height)
	assert.Equal(t, uint32(1), line.MipLevels())

	_, err = dev.CreateImage(D2, FormatUndefined, Extent{Width: 1, Height: 1}, 1, ImageSampled, Gpu)
	assert.True(t, IsKind(err, KindUsage))
	_, err = dev.CreateImage(D2, Rgba8, Extent{Width: 0, Height: 1}, 1, ImageSampled, Gpu)
	assert.True(t, IsKind(err, KindUsage))
	_, err = dev.CreateImage(D2, Rgba8, Extent{Width: 1, Height: 1}, 1, 0, Gpu)
	assert.True(t, IsKind(err, KindUsage))

	hd.FailNext("BindImageMemory", hal.ErrorOutOfDeviceMemory)
	_, err = dev.CreateImage(D2, Rgba8, Extent{Width: 4, Height: 4}, 1, ImageSampled, Gpu)
	assert.True(t, IsKind(err, KindBind))
	assert.Equal(t, 2, hd.Live("image"))
}

func TestImageViewTypes(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	img, err := dev.CreateImage(D2, Rgba8, Extent{Width: 4, Height: 4, Depth: 6}, 3, ImageSampled, Gpu)
	require.NoError(t, err)
	defer img.Destroy()

	tests := []struct {
		name   string
		dim    ViewDimension
		layers Range
		want   hal.ViewType
	}{
		{"single layer", ViewD2, Range{Base: 2, Count: 1}, hal.ViewType2D},
		{"array", ViewD2, All, hal.ViewType2DArray},
		{"cube", ViewCube, All, hal.ViewTypeCube},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := dev.CreateImageView(img, tt.dim, tt.layers, Range{Base: 1})
			require.NoError(t, err)
			defer v.Destroy()
			vt, err := viewType(tt.dim, v.Layers().Count)
			require.NoError(t, err)
			assert.Equal(t, tt.want, vt)
			assert.Equal(t, Range{Base: 1, Count: 2}, v.Mips())
			assert.Equal(t, hal.Extent2D{Width: 2, Height: 2}, v.Extent())
		})
	}

	bad := []struct {
		name   string
		dim    ViewDimension
		layers Range
		mips   Range
	}{
		{"3d view of 2d image", ViewD3, All, All},
		{"cube of four", ViewCube, Range{Count: 4}, All},
		{"layers past end", ViewD2, Range{Base: 6}, All},
		{"mips past end", ViewD2, All, Range{Base: 3}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dev.CreateImageView(img, tt.dim, tt.layers, tt.mips)
			assert.True(t, IsKind(err, KindUsage))
		})
	}
}

func TestViewsKeepImageAlive(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	img, err := dev.CreateImage(D2, Rgba8, Extent{Width: 4, Height: 4}, 1, ImageSampled, Gpu)
	require.NoError(t, err)
	a, err := dev.CreateImageView(img, ViewD2, All, All)
	require.NoError(t, err)
	b, err := dev.CreateImageView(img, ViewD2, All, All)
	require.NoError(t, err)

	img.Destroy()
	img.Destroy()
	assert.Equal(t, 1, hd.Live("image"))
	a.Destroy()
	assert.Equal(t, 1, hd.Live("image"))
	b.Destroy()
	assert.Equal(t, 0, hd.Live("image"))
	assert.Equal(t, 0, dev.Arena().Stats().Allocations)
}

func TestUploadLayers(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	img, err := dev.CreateImage(D2, Rgba8, Extent{Width: 2, Height: 1, Depth: 2}, 1, ImageCopyDst|ImageCopySrc|ImageSampled, Gpu)
	require.NoError(t, err)
	defer img.Destroy()

	pixels := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	require.NoError(t, dev.Upload(img, pixels, ShaderAccess(Read)))
	assert.Equal(t, hal.LayoutShaderReadOnly, hd.ImageLayout(img.Handle(), 0, 1))

	got, err := dev.Readback(img, ShaderAccess(Read))
	require.NoError(t, err)
	assert.Equal(t, pixels, got)
	assert.Equal(t, hal.LayoutShaderReadOnly, hd.ImageLayout(img.Handle(), 0, 0))

	err = dev.Upload(img, pixels[:4], ShaderAccess(Read))
	assert.True(t, IsKind(err, KindUsage))
}

func TestUploadDepth(t *testing.T) {
	dev, _ := newTestDevice(t, haltest.Options{Headless: true})
	img, err := dev.CreateImage(D2, D32Float, Extent{Width: 2, Height: 2}, 1, ImageCopyDst|ImageCopySrc|ImageAttachment, Gpu)
	require.NoError(t, err)
	defer img.Destroy()
	pixels := repeatTexel([]byte{0, 0, 0x80, 0x3f}, 4)
	require.NoError(t, dev.Upload(img, pixels, Undefined))
	got, err := dev.Readback(img, Transfer(Write))
	require.NoError(t, err)
	assert.Equal(t, pixels, got)
}

func TestSampler(t *testing.T) {
	dev, hd := newTestDevice(t, haltest.Options{Headless: true})
	s, err := dev.CreateSampler(SamplerDesc{Mag: Linear, Min: Nearest, MaxLod: 4})
	require.NoError(t, err)
	assert.NotZero(t, s.Handle())
	s.Destroy()
	assert.Equal(t, 0, hd.Live("sampler"))
}

func TestFormats(t *testing.T) {
	for f := range formatNames {
		back, ok := formatFromHal(f.Hal())
		assert.True(t, ok)
		assert.Equal(t, f, back)
	}
	assert.True(t, D24S8.HasStencil())
	assert.Equal(t, hal.AspectDepth|hal.AspectStencil, D24S8.aspect())
	assert.Equal(t, uint32(8), Rgba16Float.TexelSize())
	assert.Equal(t, "undefined", FormatUndefined.String())
}
