package vulkan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	vk "github.com/vulkan-go/vulkan"
)

func TestExtensionSet(t *testing.T) {
	actual := []string{"VK_KHR_surface", "VK_KHR_xcb_surface", "VK_EXT_debug_report"}
	e := newExtensionSet(actual,
		[]string{"VK_KHR_surface\x00", "VK_KHR_xcb_surface"},
		[]string{"VK_EXT_debug_report", "VK_KHR_surface", "VK_EXT_missing"})

	assert.Empty(t, e.MissingRequired())
	assert.Equal(t, []string{"VK_EXT_missing"}, e.MissingWanted())
	assert.Equal(t, []string{"VK_KHR_surface", "VK_KHR_xcb_surface", "VK_EXT_debug_report"}, e.Enabled())
	assert.True(t, e.Has("VK_EXT_debug_report"))
	assert.False(t, e.Has("VK_EXT_missing"))

	e = newExtensionSet(actual, []string{extSwapchain}, nil)
	assert.Equal(t, []string{extSwapchain}, e.MissingRequired())
}

func TestCStrings(t *testing.T) {
	assert.Equal(t, []string{"a\x00", "b\x00"}, cStrings([]string{"a", "b\x00"}))
	assert.Equal(t, "\x00", cString(""))
}

func TestTable(t *testing.T) {
	var tb table[string]
	a := tb.put("a")
	b := tb.put("b")
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, "b", tb.get(b))
	assert.Equal(t, "", tb.get(0))
	assert.Equal(t, 2, tb.len())

	v, ok := tb.take(a)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	_, ok = tb.take(a)
	assert.False(t, ok)
	assert.Equal(t, 1, tb.len())
}

func TestCompositeAlpha(t *testing.T) {
	opaque := uint32(vk.CompositeAlphaOpaqueBit)
	inherit := uint32(vk.CompositeAlphaInheritBit)
	assert.Equal(t, opaque, compositeAlpha(0))
	assert.Equal(t, opaque, compositeAlpha(vk.CompositeAlphaFlags(opaque|inherit)))
	assert.Equal(t, inherit, compositeAlpha(vk.CompositeAlphaFlags(inherit)))
}
