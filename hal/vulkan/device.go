package vulkan

import (
	"log/slog"
	"sync"
	"unsafe"

	"github.com/andewx/dieselrhi/hal"
	"github.com/pkg/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Device is a hal.Device over one graphics queue. Binding objects live in
// per-kind tables keyed by the hal handle.
type Device struct {
	inst     *Instance
	gpu      vk.PhysicalDevice
	dev      vk.Device
	queue    vk.Queue
	qmu      sync.Mutex
	info     hal.AdapterInfo
	memProps hal.MemoryProperties
	log      *slog.Logger
	timeline timelineProcs

	memory       table[vk.DeviceMemory]
	buffers      table[vk.Buffer]
	images       table[vk.Image]
	views        table[vk.ImageView]
	samplers     table[vk.Sampler]
	shaders      table[vk.ShaderModule]
	setLayouts   table[vk.DescriptorSetLayout]
	pipeLayouts  table[vk.PipelineLayout]
	descPools    table[*descriptorPool]
	sets         table[vk.DescriptorSet]
	renderPasses table[*renderPass]
	pipelines    table[vk.Pipeline]
	framebuffers table[vk.Framebuffer]
	cmdPools     table[vk.CommandPool]
	cmds         table[vk.CommandBuffer]
	fences       table[vk.Fence]
	semaphores   table[semaphore]
	swapchains   table[*swapchain]
}

var _ hal.Device = (*Device)(nil)

func openDevice(inst *Instance, gpu vk.PhysicalDevice, info hal.AdapterInfo, opts hal.DeviceOptions) (*Device, error) {
	if !info.Graphics {
		return nil, errors.Wrapf(hal.ErrorInitializationFailed, "vulkan: %s has no graphics queue", info.Name)
	}
	var required []string
	if info.Present {
		required = append(required, extSwapchain)
	}
	actual, err := deviceExtensions(gpu)
	if err != nil {
		return nil, err
	}
	exts := newExtensionSet(actual, required, nil)
	if missing := exts.MissingRequired(); len(missing) > 0 {
		return nil, errors.Wrapf(hal.ErrorExtensionNotPresent, "vulkan: %s lacks %v", info.Name, missing)
	}
	var layers []string
	if opts.Validation {
		layers = inst.layers
	}

	features := timelineFeatures()
	defer freeChain(features)

	enabled := cStrings(exts.Enabled())
	var dev vk.Device
	ret := vk.CreateDevice(gpu, &vk.DeviceCreateInfo{
		SType: vk.StructureTypeDeviceCreateInfo,
		PNext: features,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos: []vk.DeviceQueueCreateInfo{{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: info.QueueFamily,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}},
		EnabledExtensionCount:   uint32(len(enabled)),
		PpEnabledExtensionNames: enabled,
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     layers,
	}, nil, &dev)
	if ret != vk.Success {
		return nil, errors.Wrap(resultErr(ret), "vulkan: create device")
	}

	d := &Device{inst: inst, gpu: gpu, dev: dev, info: info, log: inst.log}
	if err := d.timeline.load(inst.inst, dev); err != nil {
		vk.DestroyDevice(dev, nil)
		return nil, err
	}
	vk.GetDeviceQueue(dev, info.QueueFamily, 0, &d.queue)
	d.memProps = memoryProperties(gpu)
	return d, nil
}

func memoryProperties(gpu vk.PhysicalDevice) hal.MemoryProperties {
	var props vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(gpu, &props)
	props.Deref()
	var out hal.MemoryProperties
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		t := props.MemoryTypes[i]
		t.Deref()
		out.Types = append(out.Types, hal.MemoryType{Flags: hal.MemoryProperty(t.PropertyFlags), Heap: t.HeapIndex})
	}
	for i := uint32(0); i < props.MemoryHeapCount; i++ {
		h := props.MemoryHeaps[i]
		h.Deref()
		out.Heaps = append(out.Heaps, hal.MemoryHeap{
			Size:        uint64(h.Size),
			DeviceLocal: h.Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0,
		})
	}
	return out
}

func (d *Device) Info() hal.AdapterInfo                 { return d.info }
func (d *Device) MemoryProperties() hal.MemoryProperties { return d.memProps }

func (d *Device) WaitIdle() hal.Result {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return result(vk.DeviceWaitIdle(d.dev))
}

// Destroy waits for the device and releases it. Objects still alive are the
// caller's leak; they are reported, not freed.
func (d *Device) Destroy() {
	if d.dev == nil {
		return
	}
	d.WaitIdle()
	live := map[string]int{
		"memory":     d.memory.len(),
		"buffer":     d.buffers.len(),
		"image":      d.images.len(),
		"pipeline":   d.pipelines.len(),
		"semaphore":  d.semaphores.len(),
		"swapchain":  d.swapchains.len(),
		"descriptor": d.descPools.len(),
	}
	for kind, n := range live {
		if n > 0 {
			d.log.Warn("vulkan: destroying device with live objects", "kind", kind, "count", n)
		}
	}
	vk.DestroyDevice(d.dev, nil)
	d.dev = nil
}

func (d *Device) AllocateMemory(size uint64, memoryType uint32) (hal.DeviceMemory, hal.Result) {
	var mem vk.DeviceMemory
	ret := vk.AllocateMemory(d.dev, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryType,
	}, nil, &mem)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.DeviceMemory(d.memory.put(mem)), hal.Success
}

func (d *Device) FreeMemory(mem hal.DeviceMemory) {
	if m, ok := d.memory.take(uint64(mem)); ok {
		vk.FreeMemory(d.dev, m, nil)
	}
}

func (d *Device) MapMemory(mem hal.DeviceMemory, offset, size uint64) ([]byte, hal.Result) {
	var p unsafe.Pointer
	ret := vk.MapMemory(d.dev, d.memory.get(uint64(mem)), vk.DeviceSize(offset), vk.DeviceSize(size), 0, &p)
	if ret != vk.Success {
		return nil, result(ret)
	}
	return unsafe.Slice((*byte)(p), size), hal.Success
}

func (d *Device) UnmapMemory(mem hal.DeviceMemory) {
	vk.UnmapMemory(d.dev, d.memory.get(uint64(mem)))
}

func (d *Device) CreateBuffer(desc *hal.BufferDesc) (hal.Buffer, hal.Result) {
	var buf vk.Buffer
	ret := vk.CreateBuffer(d.dev, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vk.BufferUsageFlags(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &buf)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.Buffer(d.buffers.put(buf)), hal.Success
}

func (d *Device) DestroyBuffer(buf hal.Buffer) {
	if b, ok := d.buffers.take(uint64(buf)); ok {
		vk.DestroyBuffer(d.dev, b, nil)
	}
}

func requirements(r vk.MemoryRequirements) hal.MemoryRequirements {
	r.Deref()
	return hal.MemoryRequirements{Size: uint64(r.Size), Alignment: uint64(r.Alignment), TypeBits: r.MemoryTypeBits}
}

func (d *Device) BufferMemoryRequirements(buf hal.Buffer) hal.MemoryRequirements {
	var r vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.dev, d.buffers.get(uint64(buf)), &r)
	return requirements(r)
}

func (d *Device) BindBufferMemory(buf hal.Buffer, mem hal.DeviceMemory, offset uint64) hal.Result {
	return result(vk.BindBufferMemory(d.dev, d.buffers.get(uint64(buf)), d.memory.get(uint64(mem)), vk.DeviceSize(offset)))
}

func (d *Device) CreateImage(desc *hal.ImageDesc) (hal.Image, hal.Result) {
	var img vk.Image
	ret := vk.CreateImage(d.dev, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType(desc.Type),
		Format:    vk.Format(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  desc.Depth,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.ArrayLayers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.Image(d.images.put(img)), hal.Success
}

func (d *Device) DestroyImage(img hal.Image) {
	if i, ok := d.images.take(uint64(img)); ok {
		vk.DestroyImage(d.dev, i, nil)
	}
}

func (d *Device) ImageMemoryRequirements(img hal.Image) hal.MemoryRequirements {
	var r vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.dev, d.images.get(uint64(img)), &r)
	return requirements(r)
}

func (d *Device) BindImageMemory(img hal.Image, mem hal.DeviceMemory, offset uint64) hal.Result {
	return result(vk.BindImageMemory(d.dev, d.images.get(uint64(img)), d.memory.get(uint64(mem)), vk.DeviceSize(offset)))
}

func (d *Device) CreateImageView(desc *hal.ImageViewDesc) (hal.ImageView, hal.Result) {
	var view vk.ImageView
	ret := vk.CreateImageView(d.dev, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    d.images.get(uint64(desc.Image)),
		ViewType: vk.ImageViewType(desc.Type),
		Format:   vk.Format(desc.Format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: subresourceRange(desc.Range),
	}, nil, &view)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.ImageView(d.views.put(view)), hal.Success
}

func (d *Device) DestroyImageView(view hal.ImageView) {
	if v, ok := d.views.take(uint64(view)); ok {
		vk.DestroyImageView(d.dev, v, nil)
	}
}

func (d *Device) CreateSampler(desc *hal.SamplerDesc) (hal.Sampler, hal.Result) {
	mode := vk.SamplerAddressMode(desc.AddressMode)
	mipmap := vk.SamplerMipmapModeNearest
	if desc.MinFilter == hal.FilterLinear {
		mipmap = vk.SamplerMipmapModeLinear
	}
	var s vk.Sampler
	ret := vk.CreateSampler(d.dev, &vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    vk.Filter(desc.MagFilter),
		MinFilter:    vk.Filter(desc.MinFilter),
		MipmapMode:   mipmap,
		AddressModeU: mode,
		AddressModeV: mode,
		AddressModeW: mode,
		MaxLod:       desc.MaxLod,
		BorderColor:  vk.BorderColorFloatOpaqueBlack,
	}, nil, &s)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.Sampler(d.samplers.put(s)), hal.Success
}

func (d *Device) DestroySampler(s hal.Sampler) {
	if v, ok := d.samplers.take(uint64(s)); ok {
		vk.DestroySampler(d.dev, v, nil)
	}
}

func (d *Device) CreateShaderModule(code []uint32) (hal.ShaderModule, hal.Result) {
	var m vk.ShaderModule
	ret := vk.CreateShaderModule(d.dev, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}, nil, &m)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.ShaderModule(d.shaders.put(m)), hal.Success
}

func (d *Device) DestroyShaderModule(m hal.ShaderModule) {
	if v, ok := d.shaders.take(uint64(m)); ok {
		vk.DestroyShaderModule(d.dev, v, nil)
	}
}
