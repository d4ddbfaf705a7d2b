package dieselrhi

// Window is the part of a window system the display needs. *glfw.Window
// satisfies it.
type Window interface {
	GetFramebufferSize() (width, height int)
}

// Display keeps a swapchain matched to its window. Call Refresh once per
// frame before acquiring.
type Display struct {
	window    Window
	swapchain *Swapchain
	width     uint32
	height    uint32
}

func NewDisplay(dev *Device, w Window) (*Display, error) {
	width, height := w.GetFramebufferSize()
	sc, err := dev.CreateSwapchain(uint32(max(width, 1)), uint32(max(height, 1)))
	if err != nil {
		return nil, err
	}
	return &Display{window: w, swapchain: sc, width: uint32(width), height: uint32(height)}, nil
}

func (d *Display) Swapchain() *Swapchain { return d.swapchain }

// Minimized reports a zero sized framebuffer. Nothing can be presented
// until the window is restored.
func (d *Display) Minimized() bool {
	w, h := d.window.GetFramebufferSize()
	return w == 0 || h == 0
}

// Refresh rebuilds the swapchain when the window changed size or the chain
// was invalidated. It reports whether a rebuild happened; views of the old
// images must be recreated when it did.
func (d *Display) Refresh() (bool, error) {
	w, h := d.window.GetFramebufferSize()
	if w == 0 || h == 0 {
		return false, nil
	}
	width, height := uint32(w), uint32(h)
	if width == d.width && height == d.height && d.swapchain.State() != SwapchainInvalidated {
		return false, nil
	}
	if err := d.swapchain.Resize(width, height); err != nil {
		return false, err
	}
	d.width, d.height = width, height
	return true, nil
}

func (d *Display) Destroy() {
	d.swapchain.Destroy()
}
