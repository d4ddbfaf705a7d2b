// Package vulkan implements hal on top of github.com/vulkan-go/vulkan with
// glfw providing the presentation surface.
package vulkan

import (
	"log/slog"
	"sync/atomic"
	"unsafe"

	"github.com/andewx/dieselrhi/hal"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// APIVersion is the Vulkan version requested from the loader. Timeline
// semaphores are core from 1.2.
var APIVersion = vk.MakeVersion(1, 2, 0)

var debugLog atomic.Pointer[slog.Logger]

// getInstanceProcAddr is the loader's vkGetInstanceProcAddr. Entry points the
// binding does not wrap are resolved through it.
var getInstanceProcAddr unsafe.Pointer

// Init loads the Vulkan entry points through glfw. Call it once from the
// main thread before NewInstance, after glfw.Init.
func Init() error {
	if !glfw.VulkanSupported() {
		return errors.New("vulkan: glfw reports no Vulkan loader")
	}
	getInstanceProcAddr = glfw.GetVulkanGetInstanceProcAddress()
	vk.SetGetInstanceProcAddr(getInstanceProcAddr)
	return errors.Wrap(vk.Init(), "vulkan: init")
}

type Config struct {
	AppName string
	// Validation enables the Khronos validation layer and a debug report
	// callback when they are installed.
	Validation bool
	// Window provides the surface. A nil Window opens a headless instance
	// whose devices report no presentation support.
	Window *glfw.Window
	// Logger receives validation messages. Nil uses slog.Default.
	Logger *slog.Logger
}

// Instance is a hal.Instance. It owns the surface of its window.
type Instance struct {
	inst    vk.Instance
	surface vk.Surface
	debug   vk.DebugReportCallback
	layers  []string
	gpus    []vk.PhysicalDevice
	infos   []hal.AdapterInfo
	log     *slog.Logger
}

var _ hal.Instance = (*Instance)(nil)

func NewInstance(cfg Config) (*Instance, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	actual, err := instanceExtensions()
	if err != nil {
		return nil, err
	}
	var required []string
	if cfg.Window != nil {
		required = cfg.Window.GetRequiredInstanceExtensions()
	}
	var wanted []string
	if cfg.Validation {
		wanted = append(wanted, extDebugReport)
	}
	exts := newExtensionSet(actual, required, wanted)
	if missing := exts.MissingRequired(); len(missing) > 0 {
		return nil, errors.Wrapf(hal.ErrorExtensionNotPresent, "vulkan: missing instance extensions %v", missing)
	}

	var layers []string
	if cfg.Validation {
		installed, err := validationLayers()
		if err != nil {
			return nil, err
		}
		ls := newExtensionSet(installed, nil, []string{layerKhronos})
		if missing := ls.MissingWanted(); len(missing) > 0 {
			log.Warn("vulkan: validation layers not installed", "layers", missing)
		}
		layers = cStrings(ls.Enabled())
	}

	enabled := cStrings(exts.Enabled())
	var inst vk.Instance
	ret := vk.CreateInstance(&vk.InstanceCreateInfo{
		SType: vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &vk.ApplicationInfo{
			SType:              vk.StructureTypeApplicationInfo,
			ApiVersion:         uint32(APIVersion),
			ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
			PApplicationName:   cString(cfg.AppName),
			PEngineName:        "dieselrhi\x00",
		},
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &inst)
	if ret != vk.Success {
		return nil, errors.Wrap(resultErr(ret), "vulkan: create instance")
	}
	if err := vk.InitInstance(inst); err != nil {
		vk.DestroyInstance(inst, nil)
		return nil, errors.Wrap(err, "vulkan: init instance")
	}
	i := &Instance{inst: inst, layers: layers, log: log}

	if exts.Has(extDebugReport) {
		debugLog.Store(log)
		ret := vk.CreateDebugReportCallback(inst, &vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugReport,
		}, nil, &i.debug)
		if ret != vk.Success {
			log.Warn("vulkan: debug report callback unavailable", "result", result(ret))
		}
	}

	if cfg.Window != nil {
		ptr, err := cfg.Window.CreateWindowSurface(inst, nil)
		if err != nil {
			i.Destroy()
			return nil, errors.Wrap(err, "vulkan: create window surface")
		}
		i.surface = vk.SurfaceFromPointer(ptr)
	}

	if err := i.enumerate(); err != nil {
		i.Destroy()
		return nil, err
	}
	return i, nil
}

// enumerate collects the physical devices and their queue family choice.
func (i *Instance) enumerate() error {
	var count uint32
	if ret := vk.EnumeratePhysicalDevices(i.inst, &count, nil); ret != vk.Success {
		return errors.Wrap(resultErr(ret), "vulkan: enumerate devices")
	}
	i.gpus = make([]vk.PhysicalDevice, count)
	if ret := vk.EnumeratePhysicalDevices(i.inst, &count, i.gpus); ret != vk.Success {
		return errors.Wrap(resultErr(ret), "vulkan: enumerate devices")
	}
	for idx, gpu := range i.gpus {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(gpu, &props)
		props.Deref()
		info := hal.AdapterInfo{
			Index:      idx,
			Name:       vk.ToString(props.DeviceName[:]),
			Type:       adapterType(props.DeviceType),
			APIVersion: props.ApiVersion,
			// Timeline semaphores are core from 1.2 and must be supported.
			TimelineSemaphores: props.ApiVersion >= uint32(vk.MakeVersion(1, 2, 0)),
		}
		info.QueueFamily, info.Graphics, info.Present = i.queueFamily(gpu)
		if info.Present {
			exts, err := deviceExtensions(gpu)
			if err != nil {
				return err
			}
			info.Present = len(newExtensionSet(exts, []string{extSwapchain}, nil).MissingRequired()) == 0
		}
		i.infos = append(i.infos, info)
		i.log.Debug("vulkan: adapter", "index", idx, "name", info.Name, "type", info.Type.String(),
			"graphics", info.Graphics, "present", info.Present, "timeline", info.TimelineSemaphores)
	}
	return nil
}

// queueFamily prefers a family with both graphics and present support and
// falls back to the first graphics family.
func (i *Instance) queueFamily(gpu vk.PhysicalDevice) (family uint32, graphics, present bool) {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(gpu, &count, props)
	for idx := range props {
		props[idx].Deref()
		if props[idx].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) == 0 {
			continue
		}
		if !graphics {
			family, graphics = uint32(idx), true
		}
		if i.surface == vk.NullSurface {
			break
		}
		var supported vk.Bool32
		vk.GetPhysicalDeviceSurfaceSupport(gpu, uint32(idx), i.surface, &supported)
		if supported.B() {
			return uint32(idx), true, true
		}
	}
	return family, graphics, false
}

func (i *Instance) Adapters() ([]hal.AdapterInfo, hal.Result) {
	return append([]hal.AdapterInfo(nil), i.infos...), hal.Success
}

func (i *Instance) Open(adapter int, opts hal.DeviceOptions) (hal.Device, hal.Result) {
	if adapter < 0 || adapter >= len(i.gpus) {
		return nil, hal.ErrorInitializationFailed
	}
	d, err := openDevice(i, i.gpus[adapter], i.infos[adapter], opts)
	if err != nil {
		i.log.Error("vulkan: open device", "adapter", i.infos[adapter].Name, "err", err)
		var r hal.Result
		if errors.As(err, &r) {
			return nil, r
		}
		return nil, hal.ErrorInitializationFailed
	}
	return d, hal.Success
}

func (i *Instance) Destroy() {
	if i.inst == nil {
		return
	}
	if i.surface != vk.NullSurface {
		vk.DestroySurface(i.inst, i.surface, nil)
		i.surface = vk.NullSurface
	}
	if i.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.inst, i.debug, nil)
		i.debug = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(i.inst, nil)
	i.inst = nil
}

func debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
	object uint64, location uint, messageCode int32, pLayerPrefix string,
	pMessage string, pUserData unsafe.Pointer) vk.Bool32 {

	log := debugLog.Load()
	if log == nil {
		return vk.Bool32(vk.False)
	}
	attrs := []any{"layer", pLayerPrefix, "code", messageCode, "object", object}
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		log.Error("vulkan: "+pMessage, attrs...)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0,
		flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		log.Warn("vulkan: "+pMessage, attrs...)
	default:
		log.Debug("vulkan: "+pMessage, attrs...)
	}
	return vk.Bool32(vk.False)
}
