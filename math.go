package dieselrhi

import (
	"encoding/binary"
	"math"

	lin "github.com/xlab/linmath"
)

// VulkanProjection rewrites a GL style projection for Vulkan clip space:
// Y points down and depth runs over [0, 1] instead of [-1, 1].
//
// Render pipelines already flip the viewport, so a pipeline drawn with
// StartRenderPipeline only needs the depth remap; pass flipY false there.
func VulkanProjection(out, proj *lin.Mat4x4, flipY bool) {
	var fix lin.Mat4x4
	fix.Identity()
	if flipY {
		fix.ScaleAniso(&fix, 1, -1, 1)
	}
	// z' = 0.5*z + 0.5*w
	fix[2][2] = 0.5
	fix[3][2] = 0.5
	out.Mult(&fix, proj)
}

// MVP multiplies proj*view*model.
func MVP(proj, view, model *lin.Mat4x4) lin.Mat4x4 {
	var vp, out lin.Mat4x4
	vp.Mult(proj, view)
	out.Mult(&vp, model)
	return out
}

// MatrixBytes lays a matrix out column-major as shaders read it, for
// PushConstants or a uniform buffer Write.
func MatrixBytes(m *lin.Mat4x4) []byte {
	out := make([]byte, 0, 64)
	for _, f := range m.Slice() {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}
