package vulkan

import (
	"github.com/andewx/dieselrhi/hal"
	vk "github.com/vulkan-go/vulkan"
)

// hal enums carry Vulkan's numeric values, so conversions are plain casts.

func result(ret vk.Result) hal.Result { return hal.Result(ret) }

// resultErr is nil for Success and the hal Result otherwise.
func resultErr(ret vk.Result) error {
	if ret == vk.Success {
		return nil
	}
	return hal.Result(ret)
}

func boolean(b bool) vk.Bool32 {
	if b {
		return vk.Bool32(vk.True)
	}
	return vk.Bool32(vk.False)
}

func extent2D(e vk.Extent2D) hal.Extent2D {
	e.Deref()
	return hal.Extent2D{Width: e.Width, Height: e.Height}
}

func subresourceRange(r hal.SubresourceRange) vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     vk.ImageAspectFlags(r.Aspect),
		BaseMipLevel:   r.BaseMip,
		LevelCount:     r.MipCount,
		BaseArrayLayer: r.BaseLayer,
		LayerCount:     r.LayerCount,
	}
}

func subresourceLayers(l hal.SubresourceLayers) vk.ImageSubresourceLayers {
	return vk.ImageSubresourceLayers{
		AspectMask:     vk.ImageAspectFlags(l.Aspect),
		MipLevel:       l.Mip,
		BaseArrayLayer: l.BaseLayer,
		LayerCount:     l.LayerCount,
	}
}

func offset3D(o hal.Offset3D) vk.Offset3D {
	return vk.Offset3D{X: o.X, Y: o.Y, Z: o.Z}
}

func rect2D(r hal.Rect2D) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}
}

func clearValue(c hal.ClearValue, depth bool) vk.ClearValue {
	if depth {
		return vk.NewClearDepthStencil(c.Depth, c.Stencil)
	}
	return vk.NewClearValue(c.Color[:])
}

// compositeAlpha picks one bit of the supported mask, opaque first.
func compositeAlpha(supported vk.CompositeAlphaFlags) uint32 {
	if supported == 0 || supported&vk.CompositeAlphaFlags(vk.CompositeAlphaOpaqueBit) != 0 {
		return uint32(vk.CompositeAlphaOpaqueBit)
	}
	for bit := uint32(1); bit != 0; bit <<= 1 {
		if uint32(supported)&bit != 0 {
			return bit
		}
	}
	return uint32(vk.CompositeAlphaOpaqueBit)
}

func adapterType(t vk.PhysicalDeviceType) hal.AdapterType {
	return hal.AdapterType(t)
}
