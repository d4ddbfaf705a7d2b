package vulkan

import (
	"slices"
	"strings"

	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

const (
	extSwapchain   = "VK_KHR_swapchain"
	extDebugReport = "VK_EXT_debug_report"
	layerKhronos   = "VK_LAYER_KHRONOS_validation"
)

// instanceExtensions lists the instance extensions available on the platform.
func instanceExtensions() ([]string, error) {
	var count uint32
	if ret := vk.EnumerateInstanceExtensionProperties("", &count, nil); ret != vk.Success {
		return nil, errors.Wrap(resultErr(ret), "enumerate instance extensions")
	}
	list := make([]vk.ExtensionProperties, count)
	if ret := vk.EnumerateInstanceExtensionProperties("", &count, list); ret != vk.Success {
		return nil, errors.Wrap(resultErr(ret), "enumerate instance extensions")
	}
	names := make([]string, 0, count)
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// deviceExtensions lists the extensions gpu offers.
func deviceExtensions(gpu vk.PhysicalDevice) ([]string, error) {
	var count uint32
	if ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, nil); ret != vk.Success {
		return nil, errors.Wrap(resultErr(ret), "enumerate device extensions")
	}
	list := make([]vk.ExtensionProperties, count)
	if ret := vk.EnumerateDeviceExtensionProperties(gpu, "", &count, list); ret != vk.Success {
		return nil, errors.Wrap(resultErr(ret), "enumerate device extensions")
	}
	names := make([]string, 0, count)
	for _, ext := range list {
		ext.Deref()
		names = append(names, vk.ToString(ext.ExtensionName[:]))
	}
	return names, nil
}

// validationLayers lists the instance layers installed on the platform.
func validationLayers() ([]string, error) {
	var count uint32
	if ret := vk.EnumerateInstanceLayerProperties(&count, nil); ret != vk.Success {
		return nil, errors.Wrap(resultErr(ret), "enumerate layers")
	}
	list := make([]vk.LayerProperties, count)
	if ret := vk.EnumerateInstanceLayerProperties(&count, list); ret != vk.Success {
		return nil, errors.Wrap(resultErr(ret), "enumerate layers")
	}
	names := make([]string, 0, count)
	for _, layer := range list {
		layer.Deref()
		names = append(names, vk.ToString(layer.LayerName[:]))
	}
	return names, nil
}

// extensionSet resolves what to enable from what is required, what would be
// nice to have and what the platform actually offers. It serves instance
// extensions, device extensions and layers alike.
type extensionSet struct {
	wanted   []string
	required []string
	actual   []string
}

func newExtensionSet(actual, required, wanted []string) *extensionSet {
	trim := func(names []string) []string {
		out := make([]string, 0, len(names))
		for _, n := range names {
			out = append(out, strings.TrimRight(n, "\x00"))
		}
		return out
	}
	return &extensionSet{wanted: trim(wanted), required: trim(required), actual: trim(actual)}
}

func (e *extensionSet) missing(names []string) []string {
	var out []string
	for _, n := range names {
		if !slices.Contains(e.actual, n) {
			out = append(out, n)
		}
	}
	return out
}

// MissingRequired returns the required names the platform lacks.
func (e *extensionSet) MissingRequired() []string { return e.missing(e.required) }

func (e *extensionSet) MissingWanted() []string { return e.missing(e.wanted) }

func (e *extensionSet) Has(name string) bool {
	return slices.Contains(e.Enabled(), name)
}

// Enabled is every required name followed by the wanted names that exist,
// without duplicates.
func (e *extensionSet) Enabled() []string {
	out := slices.Clone(e.required)
	for _, w := range e.wanted {
		if slices.Contains(out, w) || !slices.Contains(e.actual, w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// cStrings null-terminates names for the binding.
func cStrings(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, cString(n))
	}
	return out
}

func cString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}
