package dieselrhi

import (
	"fmt"
	"slices"
	"sync"

	"github.com/andewx/dieselrhi/hal"
)

type SwapchainState int

const (
	SwapchainCreated SwapchainState = iota
	SwapchainAcquiring
	SwapchainAcquired
	SwapchainPresenting
	// SwapchainInvalidated asks for a Resize before the next frame.
	SwapchainInvalidated
)

func (s SwapchainState) String() string {
	switch s {
	case SwapchainCreated:
		return "created"
	case SwapchainAcquiring:
		return "acquiring"
	case SwapchainAcquired:
		return "acquired"
	case SwapchainPresenting:
		return "presenting"
	case SwapchainInvalidated:
		return "invalidated"
	}
	return fmt.Sprintf("SwapchainState(%d)", int(s))
}

var (
	hdrFormats = []Format{Rgba16Float, Bgra10, Rgba10}
	sdrFormats = []Format{Bgra8, Rgba8, Bgra8Srgb, Rgba8Srgb}
)

const swapchainUsage = hal.ImageUsageColorAttachment | hal.ImageUsageTransferDst | hal.ImageUsageStorage

// Swapchain owns the presentable images of the device's surface. Its images
// are BorrowedImages: callers render into them and present them but never
// destroy them.
type Swapchain struct {
	dev   *Device
	fence hal.Fence

	mu         sync.Mutex
	h          hal.Swapchain
	format     Format
	colorSpace hal.ColorSpace
	mode       hal.PresentMode
	extent     hal.Extent2D
	images     []*BorrowedImage
	views      []*ImageView
	state      SwapchainState
	outOfDate  bool
	retired    bool
}

// chooseSurfaceFormat walks the HDR candidates first when hdr is set, then
// the SDR ones, and takes the first the surface offers in an allowed colour
// space.
func chooseSurfaceFormat(offered []hal.SurfaceFormat, hdr bool) (Format, hal.ColorSpace, bool) {
	var candidates []Format
	if hdr {
		candidates = append(candidates, hdrFormats...)
	}
	candidates = append(candidates, sdrFormats...)
	for _, f := range candidates {
		for _, sf := range offered {
			if sf.Format != f.Hal() {
				continue
			}
			if sf.ColorSpace == hal.ColorSpaceSRGBNonlinear || sf.ColorSpace == hal.ColorSpaceDisplayP3Nonlinear {
				return f, sf.ColorSpace, true
			}
		}
	}
	return FormatUndefined, 0, false
}

func choosePresentMode(offered []hal.PresentMode, want hal.PresentMode) hal.PresentMode {
	if slices.Contains(offered, want) {
		return want
	}
	return hal.PresentFifo
}

func chooseImageCount(caps hal.SurfaceCapabilities) uint32 {
	n := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 {
		n = min(n, caps.MaxImageCount)
	}
	return n
}

func chooseExtent(caps hal.SurfaceCapabilities, width, height uint32) hal.Extent2D {
	if caps.CurrentExtent.Width != ^uint32(0) {
		return caps.CurrentExtent
	}
	return hal.Extent2D{
		Width:  min(max(width, caps.MinExtent.Width), caps.MaxExtent.Width),
		Height: min(max(height, caps.MinExtent.Height), caps.MaxExtent.Height),
	}
}

// CreateSwapchain builds a swapchain for the device's surface. width and
// height are only used when the surface leaves the size to the swapchain.
func (d *Device) CreateSwapchain(width, height uint32) (*Swapchain, error) {
	if d.usage.Headless {
		return nil, usageError("create swapchain", fmt.Errorf("device %s is headless", d.info.Name))
	}
	f, r := d.raw.CreateFence(false)
	if err := check("create swapchain fence", KindCreate, r); err != nil {
		return nil, err
	}
	s := &Swapchain{dev: d, fence: f}
	if err := s.build(width, height); err != nil {
		d.raw.DestroyFence(f)
		return nil, err
	}
	return s, nil
}

// build creates the chain from the current one. The new handle, images and
// views are assembled first; only then are the old views and the old handle
// destroyed. On failure s keeps its previous images and views. Callers hold
// mu or own s exclusively.
func (s *Swapchain) build(width, height uint32) error {
	const op = "create swapchain"
	d := s.dev
	caps, r := d.raw.SurfaceCapabilities()
	if err := check(op, KindInit, r); err != nil {
		return err
	}
	formats, r := d.raw.SurfaceFormats()
	if err := check(op, KindInit, r); err != nil {
		return err
	}
	modes, r := d.raw.SurfacePresentModes()
	if err := check(op, KindInit, r); err != nil {
		return err
	}
	format, cs, ok := chooseSurfaceFormat(formats, d.usage.HDR)
	if !ok {
		return &Error{Op: op, Kind: KindInit, Err: ErrNoSurfaceFormat, Caller: caller(2)}
	}
	usage := swapchainUsage
	if caps.SupportedUsage&hal.ImageUsageStorage == 0 {
		usage &^= hal.ImageUsageStorage
	}
	desc := hal.SwapchainDesc{
		MinImageCount:  chooseImageCount(caps),
		Format:         format.Hal(),
		ColorSpace:     cs,
		Extent:         chooseExtent(caps, width, height),
		Usage:          usage,
		PresentMode:    choosePresentMode(modes, d.usage.PreferredPresentMode()),
		Transform:      caps.CurrentTransform,
		CompositeAlpha: caps.CompositeAlpha,
	}
	// A retired handle may not be passed as old a second time.
	if !s.retired {
		desc.Old = s.h
	}

	// Passing the old handle retires it even when creation fails, so from
	// here on a failed rebuild leaves the chain out of date.
	b := newBuilder()
	defer b.rollback()
	if desc.Old != 0 {
		s.retired = true
		b.push(func() { s.invalidate("rebuild failed", true) })
	}
	h, r := d.raw.CreateSwapchain(&desc)
	if err := check(op, KindCreate, r); err != nil {
		return err
	}
	b.push(func() { d.raw.DestroySwapchain(h) })

	handles, r := d.raw.SwapchainImages(h)
	if err := check("swapchain images", KindCreate, r); err != nil {
		return err
	}
	images := make([]*BorrowedImage, 0, len(handles))
	views := make([]*ImageView, 0, len(handles))
	for i, ih := range handles {
		img := &BorrowedImage{
			imageCore: imageCore{
				dev:    d,
				h:      ih,
				format: format,
				dim:    D2,
				extent: Extent{Width: desc.Extent.Width, Height: desc.Extent.Height, Depth: 1},
				mips:   1,
			},
			index: uint32(i),
		}
		v, err := d.CreateImageView(img, ViewD2, All, All)
		if err != nil {
			return err
		}
		b.push(v.Destroy)
		images = append(images, img)
		views = append(views, v)
	}
	b.commit()

	old := s.h
	s.releaseViews()
	if old != 0 {
		d.raw.DestroySwapchain(old)
	}
	s.h, s.retired = h, false
	s.images, s.views = images, views
	s.format, s.colorSpace, s.mode, s.extent = format, cs, desc.PresentMode, desc.Extent
	s.state = SwapchainCreated
	s.outOfDate = false
	Logger().Info("dieselrhi: swapchain built",
		"format", format, "mode", s.mode, "images", len(s.images),
		"width", s.extent.Width, "height", s.extent.Height)
	return nil
}

func (s *Swapchain) releaseViews() {
	for _, v := range s.views {
		v.Destroy()
	}
	s.views = nil
}

// invalidate marks the chain for rebuild. Called with mu held.
func (s *Swapchain) invalidate(reason string, outOfDate bool) {
	if s.state != SwapchainInvalidated {
		Logger().Info("dieselrhi: swapchain invalidated", "reason", reason)
	}
	s.state = SwapchainInvalidated
	s.outOfDate = s.outOfDate || outOfDate
}

// AcquireImage returns the index of the next image to render into. The
// returned bool reports a suboptimal chain: the image is valid and should be
// presented, but the chain wants a Resize afterwards.
func (s *Swapchain) AcquireImage() (uint32, bool, error) {
	const op = "acquire image"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outOfDate {
		return 0, false, &Error{Op: op, Kind: KindSwapchain, Err: ErrOutOfDate, Caller: caller(1)}
	}
	prev := s.state
	s.state = SwapchainAcquiring
	d := s.dev
	index, r := d.raw.AcquireNextImage(s.h, hal.WaitForever, 0, s.fence)
	switch {
	case r == hal.ErrorOutOfDate:
		s.invalidate("acquire out of date", true)
		return 0, false, &Error{Op: op, Kind: KindSwapchain, Result: r, Err: ErrOutOfDate, Caller: caller(1)}
	case r.Failed():
		s.state = prev
		return 0, false, newError(op, KindSwapchain, r)
	case r == hal.Timeout || r == hal.NotReady:
		s.state = prev
		return 0, false, waitError(op, hal.Timeout)
	}
	if err := waitError(op, d.raw.WaitForFence(s.fence, hal.WaitForever)); err != nil {
		return 0, false, err
	}
	if err := check(op, KindSync, d.raw.ResetFence(s.fence)); err != nil {
		return 0, false, err
	}
	if r == hal.Suboptimal || prev == SwapchainInvalidated {
		s.invalidate("acquire suboptimal", false)
		return index, true, nil
	}
	s.state = SwapchainAcquired
	return index, false, nil
}

// PresentImage queues image index for presentation once wait is signaled.
// wait must be a binary semaphore; nil presents without waiting.
func (s *Swapchain) PresentImage(index uint32, wait *Semaphore) (bool, error) {
	const op = "present image"
	if wait != nil && wait.kind != Binary {
		return false, usageError(op, ErrUnsupportedSemaphore)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(index) >= len(s.images) {
		return false, usageError(op, fmt.Errorf("image %d of %d", index, len(s.images)))
	}
	var wh hal.Semaphore
	if wait != nil {
		wh = wait.h
	}
	prev := s.state
	s.state = SwapchainPresenting
	r := s.dev.raw.QueuePresent(s.h, index, wh)
	switch {
	case r == hal.ErrorOutOfDate:
		s.invalidate("present out of date", true)
		return false, &Error{Op: op, Kind: KindSwapchain, Result: r, Err: ErrOutOfDate, Caller: caller(1)}
	case r.Failed():
		s.state = prev
		return false, newError(op, KindSwapchain, r)
	case r == hal.Suboptimal || prev == SwapchainInvalidated:
		s.invalidate("present suboptimal", false)
		return true, nil
	}
	s.state = SwapchainCreated
	return false, nil
}

// Resize waits for the queue and rebuilds the chain from the current one.
// Borrowed images and views handed out before are invalid after a successful
// rebuild. When the rebuild fails the previous images and views stay in
// place and the chain is marked out of date if the old handle was retired.
func (s *Swapchain) Resize(width, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.dev.queue.WaitIdle(); err != nil {
		return err
	}
	return s.build(width, height)
}

func (s *Swapchain) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.h == 0 {
		return
	}
	if err := s.dev.queue.WaitIdle(); err != nil {
		Logger().Error("dieselrhi: destroy swapchain", "err", err)
	}
	s.releaseViews()
	s.dev.raw.DestroySwapchain(s.h)
	s.dev.raw.DestroyFence(s.fence)
	s.h, s.images = 0, nil
}

func (s *Swapchain) Handle() hal.Swapchain { return s.h }

// Image returns image i, or nil when out of range.
func (s *Swapchain) Image(i uint32) *BorrowedImage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(i) >= len(s.images) {
		return nil
	}
	return s.images[i]
}

// View returns the full-image view of image i, or nil when out of range.
func (s *Swapchain) View(i uint32) *ImageView {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(i) >= len(s.views) {
		return nil
	}
	return s.views[i]
}

func (s *Swapchain) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

func (s *Swapchain) Format() Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format
}

func (s *Swapchain) PresentMode() hal.PresentMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *Swapchain) Extent() hal.Extent2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.extent
}

func (s *Swapchain) State() SwapchainState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
