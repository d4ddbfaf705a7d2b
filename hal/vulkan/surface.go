package vulkan

import (
	"github.com/andewx/dieselrhi/hal"
	vk "github.com/vulkan-go/vulkan"
)

type swapchain struct {
	sc     vk.Swapchain
	images []uint64
}

func (d *Device) surface() (vk.Surface, bool) {
	s := d.inst.surface
	return s, s != vk.NullSurface && d.info.Present
}

func (d *Device) SurfaceCapabilities() (hal.SurfaceCapabilities, hal.Result) {
	surface, ok := d.surface()
	if !ok {
		return hal.SurfaceCapabilities{}, hal.ErrorSurfaceLost
	}
	var caps vk.SurfaceCapabilities
	if ret := vk.GetPhysicalDeviceSurfaceCapabilities(d.gpu, surface, &caps); ret != vk.Success {
		return hal.SurfaceCapabilities{}, result(ret)
	}
	caps.Deref()
	return hal.SurfaceCapabilities{
		MinImageCount:    caps.MinImageCount,
		MaxImageCount:    caps.MaxImageCount,
		CurrentExtent:    extent2D(caps.CurrentExtent),
		MinExtent:        extent2D(caps.MinImageExtent),
		MaxExtent:        extent2D(caps.MaxImageExtent),
		SupportedUsage:   hal.ImageUsage(caps.SupportedUsageFlags),
		CurrentTransform: uint32(caps.CurrentTransform),
		CompositeAlpha:   compositeAlpha(caps.SupportedCompositeAlpha),
	}, hal.Success
}

func (d *Device) SurfaceFormats() ([]hal.SurfaceFormat, hal.Result) {
	surface, ok := d.surface()
	if !ok {
		return nil, hal.ErrorSurfaceLost
	}
	var count uint32
	if ret := vk.GetPhysicalDeviceSurfaceFormats(d.gpu, surface, &count, nil); ret != vk.Success {
		return nil, result(ret)
	}
	formats := make([]vk.SurfaceFormat, count)
	if ret := vk.GetPhysicalDeviceSurfaceFormats(d.gpu, surface, &count, formats); ret != vk.Success {
		return nil, result(ret)
	}
	out := make([]hal.SurfaceFormat, 0, count)
	for _, f := range formats {
		f.Deref()
		out = append(out, hal.SurfaceFormat{Format: hal.Format(f.Format), ColorSpace: hal.ColorSpace(f.ColorSpace)})
	}
	return out, hal.Success
}

func (d *Device) SurfacePresentModes() ([]hal.PresentMode, hal.Result) {
	surface, ok := d.surface()
	if !ok {
		return nil, hal.ErrorSurfaceLost
	}
	var count uint32
	if ret := vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, surface, &count, nil); ret != vk.Success {
		return nil, result(ret)
	}
	modes := make([]vk.PresentMode, count)
	if ret := vk.GetPhysicalDeviceSurfacePresentModes(d.gpu, surface, &count, modes); ret != vk.Success {
		return nil, result(ret)
	}
	out := make([]hal.PresentMode, 0, count)
	for _, m := range modes {
		out = append(out, hal.PresentMode(m))
	}
	return out, hal.Success
}

func (d *Device) CreateSwapchain(desc *hal.SwapchainDesc) (hal.Swapchain, hal.Result) {
	surface, ok := d.surface()
	if !ok {
		return 0, hal.ErrorSurfaceLost
	}
	var old vk.Swapchain
	if prev := d.swapchains.get(uint64(desc.Old)); prev != nil {
		old = prev.sc
	}
	var sc vk.Swapchain
	ret := vk.CreateSwapchain(d.dev, &vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          surface,
		MinImageCount:    desc.MinImageCount,
		ImageFormat:      vk.Format(desc.Format),
		ImageColorSpace:  vk.ColorSpace(desc.ColorSpace),
		ImageExtent:      vk.Extent2D{Width: desc.Extent.Width, Height: desc.Extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(desc.Usage),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     vk.SurfaceTransformFlagBits(desc.Transform),
		CompositeAlpha:   vk.CompositeAlphaFlagBits(desc.CompositeAlpha),
		PresentMode:      vk.PresentMode(desc.PresentMode),
		Clipped:          vk.True,
		OldSwapchain:     old,
	}, nil, &sc)
	if ret != vk.Success {
		return 0, result(ret)
	}

	var count uint32
	if ret := vk.GetSwapchainImages(d.dev, sc, &count, nil); ret != vk.Success {
		vk.DestroySwapchain(d.dev, sc, nil)
		return 0, result(ret)
	}
	images := make([]vk.Image, count)
	if ret := vk.GetSwapchainImages(d.dev, sc, &count, images); ret != vk.Success {
		vk.DestroySwapchain(d.dev, sc, nil)
		return 0, result(ret)
	}
	s := &swapchain{sc: sc}
	for _, img := range images {
		s.images = append(s.images, d.images.put(img))
	}
	return hal.Swapchain(d.swapchains.put(s)), hal.Success
}

func (d *Device) DestroySwapchain(sc hal.Swapchain) {
	s, ok := d.swapchains.take(uint64(sc))
	if !ok {
		return
	}
	for _, img := range s.images {
		d.images.take(img)
	}
	vk.DestroySwapchain(d.dev, s.sc, nil)
}

func (d *Device) SwapchainImages(sc hal.Swapchain) ([]hal.Image, hal.Result) {
	s := d.swapchains.get(uint64(sc))
	if s == nil {
		return nil, hal.ErrorOutOfDate
	}
	out := make([]hal.Image, 0, len(s.images))
	for _, img := range s.images {
		out = append(out, hal.Image(img))
	}
	return out, hal.Success
}

func (d *Device) AcquireNextImage(sc hal.Swapchain, timeout uint64, sem hal.Semaphore, fence hal.Fence) (uint32, hal.Result) {
	s := d.swapchains.get(uint64(sc))
	if s == nil {
		return 0, hal.ErrorOutOfDate
	}
	var index uint32
	ret := vk.AcquireNextImage(d.dev, s.sc, timeout, d.semaphores.get(uint64(sem)).sem, d.fences.get(uint64(fence)), &index)
	return index, result(ret)
}

func (d *Device) QueuePresent(sc hal.Swapchain, index uint32, wait hal.Semaphore) hal.Result {
	s := d.swapchains.get(uint64(sc))
	if s == nil {
		return hal.ErrorOutOfDate
	}
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{s.sc},
		PImageIndices:  []uint32{index},
	}
	if wait != 0 {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{d.semaphores.get(uint64(wait)).sem}
	}
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return result(vk.QueuePresent(d.queue, &info))
}
