package dieselrhi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	lin "github.com/xlab/linmath"
)

func TestVulkanProjection(t *testing.T) {
	var proj, out lin.Mat4x4
	proj.Identity()

	VulkanProjection(&out, &proj, false)
	assert.Equal(t, float32(1), out[1][1])
	assert.Equal(t, float32(0.5), out[2][2])
	assert.Equal(t, float32(0.5), out[3][2])

	VulkanProjection(&out, &proj, true)
	assert.Equal(t, float32(-1), out[1][1])
	assert.Equal(t, float32(1), out[0][0])
	assert.Equal(t, float32(1), out[3][3])
}

func TestMVPAndBytes(t *testing.T) {
	var proj, view, model lin.Mat4x4
	proj.Identity()
	view.Identity()
	model.Identity()
	model[3][0] = 2

	m := MVP(&proj, &view, &model)
	assert.Equal(t, float32(2), m[3][0])

	b := MatrixBytes(&m)
	assert.Len(t, b, 64)
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b[0:4])
	assert.Equal(t, []byte{0, 0, 0, 0}, b[4:8])
	assert.Equal(t, []byte{0, 0, 0x80, 0x3f}, b[20:24])
	assert.Equal(t, []byte{0, 0, 0, 0x40}, b[48:52])
}
