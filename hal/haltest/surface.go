package haltest

import (
	"slices"

	"github.com/andewx/dieselrhi/hal"
)

const (
	surfaceMinImages = 2
	surfaceMaxImages = 8
	surfaceMaxExtent = 16384
)

type swapchain struct {
	desc    hal.SwapchainDesc
	images  []uint64
	retired bool
	next    int
}

func (*swapchain) kind() string { return "swapchain" }

const surfaceUsage = hal.ImageUsageTransferSrc | hal.ImageUsageTransferDst | hal.ImageUsageSampled |
	hal.ImageUsageStorage | hal.ImageUsageColorAttachment

func (d *Device) SurfaceCapabilities() (hal.SurfaceCapabilities, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("SurfaceCapabilities"); r != hal.Success {
		return hal.SurfaceCapabilities{}, r
	}
	if d.headless {
		return hal.SurfaceCapabilities{}, hal.ErrorSurfaceLost
	}
	return hal.SurfaceCapabilities{
		MinImageCount:    surfaceMinImages,
		MaxImageCount:    surfaceMaxImages,
		CurrentExtent:    d.surface,
		MinExtent:        hal.Extent2D{Width: 1, Height: 1},
		MaxExtent:        hal.Extent2D{Width: surfaceMaxExtent, Height: surfaceMaxExtent},
		SupportedUsage:   surfaceUsage,
		CurrentTransform: 1,
		CompositeAlpha:   1,
	}, hal.Success
}

func (d *Device) SurfaceFormats() ([]hal.SurfaceFormat, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("SurfaceFormats"); r != hal.Success {
		return nil, r
	}
	if d.headless {
		return nil, hal.ErrorSurfaceLost
	}
	return append([]hal.SurfaceFormat(nil), d.formats...), hal.Success
}

func (d *Device) SurfacePresentModes() ([]hal.PresentMode, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("SurfacePresentModes"); r != hal.Success {
		return nil, r
	}
	if d.headless {
		return nil, hal.ErrorSurfaceLost
	}
	return append([]hal.PresentMode(nil), d.presentModes...), hal.Success
}

func (d *Device) CreateSwapchain(desc *hal.SwapchainDesc) (hal.Swapchain, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateSwapchain"); r != hal.Success {
		// the old chain is retired even when creation fails
		if old, ok := d.objects[uint64(desc.Old)].(*swapchain); ok {
			old.retired = true
		}
		return 0, r
	}
	if d.headless {
		return 0, hal.ErrorSurfaceLost
	}
	if desc.MinImageCount < surfaceMinImages || desc.MinImageCount > surfaceMaxImages {
		d.violate("create swapchain: image count %d outside [%d,%d]", desc.MinImageCount, surfaceMinImages, surfaceMaxImages)
		return 0, hal.ErrorValidationFailed
	}
	if desc.Extent.Width == 0 || desc.Extent.Height == 0 ||
		desc.Extent.Width > surfaceMaxExtent || desc.Extent.Height > surfaceMaxExtent {
		d.violate("create swapchain: extent %dx%d", desc.Extent.Width, desc.Extent.Height)
		return 0, hal.ErrorValidationFailed
	}
	if !slices.Contains(d.formats, hal.SurfaceFormat{Format: desc.Format, ColorSpace: desc.ColorSpace}) {
		d.violate("create swapchain: format %d/%d not offered by the surface", desc.Format, desc.ColorSpace)
		return 0, hal.ErrorValidationFailed
	}
	if !slices.Contains(d.presentModes, desc.PresentMode) {
		d.violate("create swapchain: present mode %s not offered by the surface", desc.PresentMode)
		return 0, hal.ErrorValidationFailed
	}
	if desc.Usage&^surfaceUsage != 0 || desc.Usage == 0 {
		d.violate("create swapchain: usage %#x", desc.Usage)
		return 0, hal.ErrorValidationFailed
	}
	for h, o := range d.objects {
		sc, ok := o.(*swapchain)
		if !ok || sc.retired {
			continue
		}
		if h != uint64(desc.Old) {
			d.violate("create swapchain: surface already has swapchain %#x and it was not passed as old", h)
			return 0, hal.ErrorNativeWindowInUse
		}
	}
	if desc.Old != 0 {
		old, ok := lookup[*swapchain](d, uint64(desc.Old), "create swapchain")
		if !ok {
			return 0, hal.ErrorValidationFailed
		}
		if old.retired {
			d.violate("create swapchain: old swapchain %#x is already retired", desc.Old)
			return 0, hal.ErrorValidationFailed
		}
		old.retired = true
	}
	sc := &swapchain{desc: *desc}
	sc.desc.Old = 0
	h := d.add(sc)
	for range desc.MinImageCount {
		img := newImage(&hal.ImageDesc{
			Type:        hal.ImageType2D,
			Format:      desc.Format,
			Width:       desc.Extent.Width,
			Height:      desc.Extent.Height,
			Depth:       1,
			ArrayLayers: 1,
			MipLevels:   1,
			Usage:       desc.Usage,
		})
		img.swapchain = h
		img.store = make([]byte, img.size)
		sc.images = append(sc.images, d.add(img))
	}
	return hal.Swapchain(h), hal.Success
}

func (d *Device) DestroySwapchain(sch hal.Swapchain) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroySwapchain")
	sc, ok := d.objects[uint64(sch)].(*swapchain)
	if !d.remove(uint64(sch), "swapchain") || !ok {
		return
	}
	for _, h := range sc.images {
		for vh, o := range d.objects {
			if v, ok := o.(*view); ok && v.image == h {
				d.violate("destroy swapchain %#x: view %#x of image %#x still alive", sch, vh, h)
			}
		}
		if d.inflight[h] > 0 {
			d.violate("destroy swapchain %#x: image %#x referenced by a pending submission", sch, h)
		}
		delete(d.objects, h)
	}
}

func (d *Device) SwapchainImages(sch hal.Swapchain) ([]hal.Image, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("SwapchainImages"); r != hal.Success {
		return nil, r
	}
	sc, ok := lookup[*swapchain](d, uint64(sch), "swapchain images")
	if !ok {
		return nil, hal.ErrorValidationFailed
	}
	out := make([]hal.Image, len(sc.images))
	for i, h := range sc.images {
		out[i] = hal.Image(h)
	}
	return out, hal.Success
}

func (d *Device) AcquireNextImage(sch hal.Swapchain, timeout uint64, sem hal.Semaphore, f hal.Fence) (uint32, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("AcquireNextImage"); r != hal.Success {
		return 0, r
	}
	sc, ok := lookup[*swapchain](d, uint64(sch), "acquire next image")
	if !ok {
		return 0, hal.ErrorValidationFailed
	}
	if sem == 0 && f == 0 {
		d.violate("acquire next image: neither semaphore nor fence given")
		return 0, hal.ErrorValidationFailed
	}
	if sc.retired || sc.desc.Extent != d.surface {
		return 0, hal.ErrorOutOfDate
	}
	var s *semaphore
	if sem != 0 {
		if s, ok = lookup[*semaphore](d, uint64(sem), "acquire next image"); !ok {
			return 0, hal.ErrorValidationFailed
		}
		if s.typ != hal.SemaphoreBinary || s.outstanding() > 0 {
			d.violate("acquire next image: semaphore %#x must be an unsignaled binary semaphore", sem)
			return 0, hal.ErrorValidationFailed
		}
	}
	var fc *fence
	if f != 0 {
		if fc, ok = lookup[*fence](d, uint64(f), "acquire next image"); !ok {
			return 0, hal.ErrorValidationFailed
		}
		if fc.signaled || fc.pending {
			d.violate("acquire next image: fence %#x is not reset", f)
			return 0, hal.ErrorValidationFailed
		}
	}
	index := -1
	for i := range sc.images {
		j := (sc.next + i) % len(sc.images)
		if img := d.objects[sc.images[j]].(*image); !img.acquired {
			index = j
			break
		}
	}
	if index < 0 {
		d.violate("acquire next image: every image of swapchain %#x is already acquired", sch)
		return 0, hal.Timeout
	}
	sc.next = index + 1
	d.objects[sc.images[index]].(*image).acquired = true
	if s != nil {
		s.signaled = true
	}
	if fc != nil {
		fc.signaled = true
	}
	d.cond.Broadcast()
	d.acquires++
	if d.suboptimalEvery > 0 && d.acquires%d.suboptimalEvery == 0 {
		return uint32(index), hal.Suboptimal
	}
	return uint32(index), hal.Success
}

func (d *Device) QueuePresent(sch hal.Swapchain, index uint32, wait hal.Semaphore) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("QueuePresent"); r != hal.Success {
		return r
	}
	sc, ok := lookup[*swapchain](d, uint64(sch), "queue present")
	if !ok {
		return hal.ErrorValidationFailed
	}
	if int(index) >= len(sc.images) {
		d.violate("queue present: index %d of %d images", index, len(sc.images))
		return hal.ErrorValidationFailed
	}
	if !d.objects[sc.images[index]].(*image).acquired {
		d.violate("queue present: image %d of swapchain %#x was not acquired", index, sch)
		return hal.ErrorValidationFailed
	}
	s := &submission{present: &presentOp{swapchain: uint64(sch), index: index}}
	if wait != 0 {
		sem, ok := lookup[*semaphore](d, uint64(wait), "queue present")
		if !ok {
			return hal.ErrorValidationFailed
		}
		if sem.typ != hal.SemaphoreBinary {
			d.violate("queue present: semaphore %#x is a timeline semaphore", wait)
			return hal.ErrorValidationFailed
		}
		s.waits = []hal.SemaphoreSubmit{{Semaphore: wait}}
	}
	s.refs = append(s.refs, sc.images[index])
	if r := d.enqueue(s); r != hal.Success {
		return r
	}
	if sc.retired || sc.desc.Extent != d.surface {
		return hal.ErrorOutOfDate
	}
	return hal.Success
}

func (d *Device) executePresent(p *presentOp) {
	sc, ok := d.objects[p.swapchain].(*swapchain)
	if !ok {
		return
	}
	h := sc.images[p.index]
	img := d.objects[h].(*image)
	rng := hal.SubresourceRange{Aspect: hal.AspectColor, MipCount: 1, LayerCount: 1}
	d.expectLayout(img, h, rng, hal.LayoutPresentSrc, "present")
	img.acquired = false
	d.presents++
}
