package dieselrhi

import (
	"fmt"
	"sync"

	"github.com/andewx/dieselrhi/hal"
)

type Format int

const (
	FormatUndefined Format = iota
	Rgba8
	Bgra8
	Rgba8Srgb
	Bgra8Srgb
	// Rgba10 and Bgra10 are the packed 10:10:10:2 formats.
	Rgba10
	Bgra10
	Rgba16
	Rgba16Float
	D24S8
	D32Float
)

var formatTable = map[Format]hal.Format{
	Rgba8:       hal.FormatR8G8B8A8Unorm,
	Bgra8:       hal.FormatB8G8R8A8Unorm,
	Rgba8Srgb:   hal.FormatR8G8B8A8Srgb,
	Bgra8Srgb:   hal.FormatB8G8R8A8Srgb,
	Rgba10:      hal.FormatA2B10G10R10Unorm,
	Bgra10:      hal.FormatA2R10G10B10Unorm,
	Rgba16:      hal.FormatR16G16B16A16Unorm,
	Rgba16Float: hal.FormatR16G16B16A16Sfloat,
	D24S8:       hal.FormatD24UnormS8Uint,
	D32Float:    hal.FormatD32Sfloat,
}

var formatNames = map[Format]string{
	Rgba8: "rgba8", Bgra8: "bgra8", Rgba8Srgb: "rgba8_srgb", Bgra8Srgb: "bgra8_srgb",
	Rgba10: "rgba10", Bgra10: "bgra10", Rgba16: "rgba16", Rgba16Float: "rgba16_float",
	D24S8: "d24s8", D32Float: "d32_float",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return "undefined"
}

func (f Format) Hal() hal.Format { return formatTable[f] }

func (f Format) IsDepth() bool { return f == D24S8 || f == D32Float }

func (f Format) HasStencil() bool { return f == D24S8 }

func (f Format) TexelSize() uint32 { return f.Hal().TexelSize() }

func (f Format) aspect() hal.ImageAspect { return f.Hal().Aspect() }

func formatFromHal(h hal.Format) (Format, bool) {
	for f, v := range formatTable {
		if v == h {
			return f, true
		}
	}
	return FormatUndefined, false
}

type Dimension int

const (
	D1 Dimension = iota + 1
	D2
	D3
)

// Extent is width, height and a third axis that is the depth of a D3 image
// and the array layer count of D1 and D2 images.
type Extent struct {
	Width, Height, Depth uint32
}

type ImageUsage uint32

const (
	ImageCopySrc ImageUsage = 1 << iota
	ImageCopyDst
	ImageSampled
	ImageStorage
	// ImageAttachment becomes a colour or depth attachment by format.
	ImageAttachment
)

func (u ImageUsage) hal(f Format) hal.ImageUsage {
	var out hal.ImageUsage
	if u&ImageCopySrc != 0 {
		out |= hal.ImageUsageTransferSrc
	}
	if u&ImageCopyDst != 0 {
		out |= hal.ImageUsageTransferDst
	}
	if u&ImageSampled != 0 {
		out |= hal.ImageUsageSampled
	}
	if u&ImageStorage != 0 {
		out |= hal.ImageUsageStorage
	}
	if u&ImageAttachment != 0 {
		if f.IsDepth() {
			out |= hal.ImageUsageDepthStencilAttachment
		} else {
			out |= hal.ImageUsageColorAttachment
		}
	}
	return out
}

// Image is either an *OwnedImage, created by the device and destroyed by its
// owner, or a *BorrowedImage handed out by a Swapchain. Only the former has
// a Destroy method.
type Image interface {
	Handle() hal.Image
	Format() Format
	Dimension() Dimension
	Extent() Extent
	MipLevels() uint32
	// Layers is the array layer count; 1 for D3 images.
	Layers() uint32
	core() *imageCore
}

type imageCore struct {
	dev    *Device
	h      hal.Image
	format Format
	dim    Dimension
	extent Extent
	mips   uint32
	inflight
}

func (i *imageCore) Handle() hal.Image    { return i.h }
func (i *imageCore) Format() Format       { return i.format }
func (i *imageCore) Dimension() Dimension { return i.dim }
func (i *imageCore) Extent() Extent       { return i.extent }
func (i *imageCore) MipLevels() uint32    { return i.mips }
func (i *imageCore) core() *imageCore     { return i }

func (i *imageCore) Layers() uint32 {
	if i.dim == D3 {
		return 1
	}
	return max(i.extent.Depth, 1)
}

func (i *imageCore) depth() uint32 {
	if i.dim == D3 {
		return i.extent.Depth
	}
	return 1
}

// mipExtent is the size of one layer of the given mip level.
func (i *imageCore) mipExtent(mip uint32) hal.Extent3D {
	return hal.Extent3D{
		Width:  max(1, i.extent.Width>>mip),
		Height: max(1, i.extent.Height>>mip),
		Depth:  max(1, i.depth()>>mip),
	}
}

// OwnedImage is an image the device created and bound to arena memory. Its
// views share ownership: the handle is released once Destroy was called and
// every view is gone.
type OwnedImage struct {
	imageCore
	alloc *Allocation

	mu        sync.Mutex
	refs      int
	destroyed bool
}

func (i *OwnedImage) retain() {
	i.mu.Lock()
	i.refs++
	i.mu.Unlock()
}

func (i *OwnedImage) release() {
	i.mu.Lock()
	i.refs--
	last := i.refs == 0
	i.mu.Unlock()
	if !last {
		return
	}
	i.dev.queue.waitSerial(i.lastSerial())
	i.dev.raw.DestroyImage(i.h)
	if err := i.dev.arena.Free(i.alloc); err != nil {
		Logger().Error("dieselrhi: free image memory", "err", err)
	}
}

// Destroy drops the owner's reference.
func (i *OwnedImage) Destroy() {
	i.mu.Lock()
	if i.destroyed {
		i.mu.Unlock()
		return
	}
	i.destroyed = true
	i.mu.Unlock()
	i.release()
}

// BorrowedImage is a swapchain image. It has no memory of its own and its
// handle is released only by the swapchain that produced it.
type BorrowedImage struct {
	imageCore
	index uint32
}

// Index is the position of the image in its swapchain.
func (i *BorrowedImage) Index() uint32 { return i.index }

func (d *Device) CreateImage(dim Dimension, format Format, extent Extent, mipLevels uint32, usage ImageUsage, loc MemLocation) (*OwnedImage, error) {
	const op = "create image"
	hf := format.Hal()
	if hf == hal.FormatUndefined {
		return nil, usageError(op, fmt.Errorf("format %d", format))
	}
	if extent.Width == 0 || extent.Height == 0 || usage == 0 {
		return nil, usageError(op, fmt.Errorf("extent %v usage %#x", extent, usage))
	}
	desc := hal.ImageDesc{
		Format:      hf,
		Width:       extent.Width,
		Height:      extent.Height,
		Depth:       1,
		ArrayLayers: max(extent.Depth, 1),
		MipLevels:   max(mipLevels, 1),
		Usage:       usage.hal(format),
	}
	switch dim {
	case D1:
		desc.Type = hal.ImageType1D
		desc.Height = 1
		extent.Height = 1
	case D2:
		desc.Type = hal.ImageType2D
	case D3:
		desc.Type = hal.ImageType3D
		desc.Depth, desc.ArrayLayers = max(extent.Depth, 1), 1
	default:
		return nil, usageError(op, fmt.Errorf("dimension %d", dim))
	}
	extent.Depth = max(extent.Depth, 1)

	b := newBuilder()
	defer b.rollback()
	h, r := d.raw.CreateImage(&desc)
	if err := check(op, KindCreate, r); err != nil {
		return nil, err
	}
	b.push(func() { d.raw.DestroyImage(h) })

	alloc, err := d.arena.Allocate(d.raw.ImageMemoryRequirements(h), loc, false, "image")
	if err != nil {
		return nil, err
	}
	b.push(func() { _ = d.arena.Free(alloc) })

	if err := check("bind image memory", KindBind, d.raw.BindImageMemory(h, alloc.Memory(), alloc.Offset)); err != nil {
		return nil, err
	}
	b.commit()
	img := &OwnedImage{
		imageCore: imageCore{dev: d, h: h, format: format, dim: dim, extent: extent, mips: desc.MipLevels},
		alloc:     alloc,
		refs:      1,
	}
	return img, nil
}

type (
	Filter      = hal.Filter
	AddressMode = hal.AddressMode
)

const (
	Nearest = hal.FilterNearest
	Linear  = hal.FilterLinear
)

type SamplerDesc struct {
	Mag, Min Filter
	Address  AddressMode
	MaxLod   float32
}

type Sampler struct {
	dev *Device
	h   hal.Sampler
	inflight
}

func (d *Device) CreateSampler(desc SamplerDesc) (*Sampler, error) {
	h, r := d.raw.CreateSampler(&hal.SamplerDesc{
		MagFilter:   desc.Mag,
		MinFilter:   desc.Min,
		AddressMode: desc.Address,
		MaxLod:      desc.MaxLod,
	})
	if err := check("create sampler", KindCreate, r); err != nil {
		return nil, err
	}
	return &Sampler{dev: d, h: h}, nil
}

func (s *Sampler) Handle() hal.Sampler { return s.h }

func (s *Sampler) Destroy() {
	if s.h == 0 {
		return
	}
	s.dev.queue.waitSerial(s.lastSerial())
	s.dev.raw.DestroySampler(s.h)
	s.h = 0
}
