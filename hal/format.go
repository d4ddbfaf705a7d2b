package hal

// Format mirrors VkFormat for the subset this module creates or consumes.
type Format int32

const (
	FormatUndefined          Format = 0
	FormatR8G8B8A8Unorm      Format = 37
	FormatR8G8B8A8Srgb       Format = 43
	FormatB8G8R8A8Unorm      Format = 44
	FormatB8G8R8A8Srgb       Format = 50
	FormatA2R10G10B10Unorm   Format = 58
	FormatA2B10G10R10Unorm   Format = 64
	FormatR16G16B16A16Unorm  Format = 91
	FormatR16G16B16A16Sfloat Format = 97
	FormatR32G32Sfloat       Format = 103
	FormatR32G32B32Sfloat    Format = 106
	FormatR32G32B32A32Sfloat Format = 109
	FormatD32Sfloat          Format = 126
	FormatD24UnormS8Uint     Format = 129
)

// TexelSize is the size in bytes of one texel, or of one vertex attribute
// for the vector formats. Unknown formats report 0.
func (f Format) TexelSize() uint32 {
	switch f {
	case FormatR8G8B8A8Unorm, FormatR8G8B8A8Srgb, FormatB8G8R8A8Unorm, FormatB8G8R8A8Srgb,
		FormatA2R10G10B10Unorm, FormatA2B10G10R10Unorm, FormatD32Sfloat, FormatD24UnormS8Uint:
		return 4
	case FormatR16G16B16A16Unorm, FormatR16G16B16A16Sfloat, FormatR32G32Sfloat:
		return 8
	case FormatR32G32B32Sfloat:
		return 12
	case FormatR32G32B32A32Sfloat:
		return 16
	}
	return 0
}

func (f Format) IsDepth() bool {
	return f == FormatD32Sfloat || f == FormatD24UnormS8Uint
}

func (f Format) HasStencil() bool {
	return f == FormatD24UnormS8Uint
}

// Aspect returns the aspect mask that covers every plane of f.
func (f Format) Aspect() ImageAspect {
	switch {
	case f.HasStencil():
		return AspectDepth | AspectStencil
	case f.IsDepth():
		return AspectDepth
	}
	return AspectColor
}
