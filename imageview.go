package dieselrhi

import (
	"fmt"

	"github.com/andewx/dieselrhi/hal"
)

type ViewDimension int

const (
	ViewD1 ViewDimension = iota + 1
	ViewD2
	ViewD3
	ViewCube
)

// Range selects Count elements starting at Base. A zero Count means every
// element from Base to the end.
type Range struct {
	Base, Count uint32
}

// All is the whole layer or mip range.
var All = Range{}

// clamp fits r into [0,total). It reports false when nothing is left.
func (r Range) clamp(total uint32) (Range, bool) {
	if r.Base >= total {
		return Range{}, false
	}
	n := total - r.Base
	if r.Count != 0 && r.Count < n {
		n = r.Count
	}
	return Range{Base: r.Base, Count: n}, true
}

// ImageView is a typed window onto a subresource range of an image. For an
// OwnedImage the view holds a reference, so the image outlives its views.
type ImageView struct {
	dev    *Device
	h      hal.ImageView
	image  Image
	dim    ViewDimension
	layers Range
	mips   Range
	inflight
}

func viewType(dim ViewDimension, layers uint32) (hal.ViewType, error) {
	array := layers > 1
	switch dim {
	case ViewD1:
		if array {
			return hal.ViewType1DArray, nil
		}
		return hal.ViewType1D, nil
	case ViewD2:
		if array {
			return hal.ViewType2DArray, nil
		}
		return hal.ViewType2D, nil
	case ViewD3:
		if array {
			return 0, fmt.Errorf("3D view over %d layers", layers)
		}
		return hal.ViewType3D, nil
	case ViewCube:
		switch {
		case layers == 6:
			return hal.ViewTypeCube, nil
		case layers > 6 && layers%6 == 0:
			return hal.ViewTypeCubeArray, nil
		}
		return 0, fmt.Errorf("cube view over %d layers", layers)
	}
	return 0, fmt.Errorf("view dimension %d", dim)
}

func (d *Device) CreateImageView(img Image, dim ViewDimension, layers, mips Range) (*ImageView, error) {
	const op = "create image view"
	c := img.core()
	l, ok := layers.clamp(c.Layers())
	if !ok {
		return nil, usageError(op, fmt.Errorf("layer range %+v of %d layers", layers, c.Layers()))
	}
	m, ok := mips.clamp(c.mips)
	if !ok {
		return nil, usageError(op, fmt.Errorf("mip range %+v of %d levels", mips, c.mips))
	}
	if (dim == ViewD3) != (c.dim == D3) {
		return nil, usageError(op, fmt.Errorf("view dimension %d on a %dD image", dim, c.dim))
	}
	vt, err := viewType(dim, l.Count)
	if err != nil {
		return nil, usageError(op, err)
	}
	h, r := d.raw.CreateImageView(&hal.ImageViewDesc{
		Image:  c.h,
		Type:   vt,
		Format: c.format.Hal(),
		Range: hal.SubresourceRange{
			Aspect:     c.format.aspect(),
			BaseMip:    m.Base,
			MipCount:   m.Count,
			BaseLayer:  l.Base,
			LayerCount: l.Count,
		},
	})
	if err := check(op, KindCreate, r); err != nil {
		return nil, err
	}
	if o, ok := img.(*OwnedImage); ok {
		o.retain()
	}
	return &ImageView{dev: d, h: h, image: img, dim: dim, layers: l, mips: m}, nil
}

func (v *ImageView) Handle() hal.ImageView { return v.h }

func (v *ImageView) Image() Image { return v.image }

func (v *ImageView) Dimension() ViewDimension { return v.dim }

func (v *ImageView) Layers() Range { return v.layers }

func (v *ImageView) Mips() Range { return v.mips }

// Extent is the size of the view's base mip level.
func (v *ImageView) Extent() hal.Extent2D {
	e := v.image.core().mipExtent(v.mips.Base)
	return hal.Extent2D{Width: e.Width, Height: e.Height}
}

func (v *ImageView) Destroy() {
	if v.h == 0 {
		return
	}
	v.dev.queue.waitSerial(v.lastSerial())
	v.dev.raw.DestroyImageView(v.h)
	v.h = 0
	if o, ok := v.image.(*OwnedImage); ok {
		o.release()
	}
}
