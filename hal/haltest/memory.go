package haltest

import (
	"github.com/andewx/dieselrhi/hal"
)

const (
	bufferAlignment = 256
	imageAlignment  = 1024
)

type memory struct {
	data   []byte
	heap   uint32
	flags  hal.MemoryProperty
	mapped bool
}

func (*memory) kind() string { return "memory" }

type buffer struct {
	size   uint64
	usage  hal.BufferUsage
	mem    uint64
	offset uint64
}

func (*buffer) kind() string { return "buffer" }

type image struct {
	desc    hal.ImageDesc
	size    uint64
	mem     uint64
	offset  uint64
	layouts []hal.ImageLayout
	// swapchain images own their storage and belong to a swapchain.
	swapchain uint64
	store     []byte
	acquired  bool
}

func (*image) kind() string { return "image" }

type view struct {
	image uint64
	desc  hal.ImageViewDesc
}

func (*view) kind() string { return "view" }

type sampler struct{}

func (*sampler) kind() string { return "sampler" }

func align(v, a uint64) uint64 { return (v + a - 1) &^ (a - 1) }

func mipSize(v, mip uint32) uint32 { return max(1, v>>mip) }

func allTypeBits(props hal.MemoryProperties) uint32 {
	return 1<<uint32(len(props.Types)) - 1
}

func (d *Device) AllocateMemory(size uint64, memoryType uint32) (hal.DeviceMemory, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("AllocateMemory"); r != hal.Success {
		return 0, r
	}
	if size == 0 {
		d.violate("allocate memory: zero size")
		return 0, hal.ErrorValidationFailed
	}
	if int(memoryType) >= len(d.props.Types) {
		d.violate("allocate memory: memory type %d out of range", memoryType)
		return 0, hal.ErrorValidationFailed
	}
	t := d.props.Types[memoryType]
	if d.used[t.Heap]+size > d.props.Heaps[t.Heap].Size {
		return 0, hal.ErrorOutOfDeviceMemory
	}
	d.used[t.Heap] += size
	return hal.DeviceMemory(d.add(&memory{data: make([]byte, size), heap: t.Heap, flags: t.Flags})), hal.Success
}

func (d *Device) FreeMemory(mem hal.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("FreeMemory")
	m, ok := d.objects[uint64(mem)].(*memory)
	if !d.remove(uint64(mem), "memory") || !ok {
		return
	}
	d.used[m.heap] -= uint64(len(m.data))
}

func (d *Device) MapMemory(mem hal.DeviceMemory, offset, size uint64) ([]byte, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("MapMemory"); r != hal.Success {
		return nil, r
	}
	m, ok := lookup[*memory](d, uint64(mem), "map memory")
	if !ok {
		return nil, hal.ErrorMemoryMapFailed
	}
	if m.flags&hal.MemoryHostVisible == 0 {
		d.violate("map memory %#x: memory type is not host visible", mem)
		return nil, hal.ErrorMemoryMapFailed
	}
	if m.mapped {
		d.violate("map memory %#x: already mapped", mem)
		return nil, hal.ErrorMemoryMapFailed
	}
	if offset+size > uint64(len(m.data)) {
		d.violate("map memory %#x: range [%d,%d) beyond size %d", mem, offset, offset+size, len(m.data))
		return nil, hal.ErrorMemoryMapFailed
	}
	m.mapped = true
	return m.data[offset : offset+size : offset+size], hal.Success
}

func (d *Device) UnmapMemory(mem hal.DeviceMemory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("UnmapMemory")
	if m, ok := lookup[*memory](d, uint64(mem), "unmap memory"); ok {
		if !m.mapped {
			d.violate("unmap memory %#x: not mapped", mem)
		}
		m.mapped = false
	}
}

func (d *Device) CreateBuffer(desc *hal.BufferDesc) (hal.Buffer, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateBuffer"); r != hal.Success {
		return 0, r
	}
	if desc.Size == 0 || desc.Usage == 0 {
		d.violate("create buffer: size %d usage %#x", desc.Size, desc.Usage)
		return 0, hal.ErrorValidationFailed
	}
	return hal.Buffer(d.add(&buffer{size: desc.Size, usage: desc.Usage})), hal.Success
}

func (d *Device) DestroyBuffer(buf hal.Buffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyBuffer")
	d.remove(uint64(buf), "buffer")
}

func (d *Device) BufferMemoryRequirements(buf hal.Buffer) hal.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("BufferMemoryRequirements")
	b, ok := lookup[*buffer](d, uint64(buf), "buffer memory requirements")
	if !ok {
		return hal.MemoryRequirements{}
	}
	return hal.MemoryRequirements{
		Size:      align(b.size, bufferAlignment),
		Alignment: bufferAlignment,
		TypeBits:  allTypeBits(d.props),
	}
}

// bind validates a memory binding common to buffers and images.
func (d *Device) bind(what string, mem hal.DeviceMemory, offset, size, alignment uint64) hal.Result {
	m, ok := lookup[*memory](d, uint64(mem), what)
	if !ok {
		return hal.ErrorValidationFailed
	}
	if offset%alignment != 0 {
		d.violate("%s: offset %d not aligned to %d", what, offset, alignment)
		return hal.ErrorValidationFailed
	}
	if offset+size > uint64(len(m.data)) {
		d.violate("%s: range [%d,%d) beyond memory size %d", what, offset, offset+size, len(m.data))
		return hal.ErrorValidationFailed
	}
	return hal.Success
}

func (d *Device) BindBufferMemory(buf hal.Buffer, mem hal.DeviceMemory, offset uint64) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("BindBufferMemory"); r != hal.Success {
		return r
	}
	b, ok := lookup[*buffer](d, uint64(buf), "bind buffer memory")
	if !ok {
		return hal.ErrorValidationFailed
	}
	if b.mem != 0 {
		d.violate("bind buffer memory %#x: already bound", buf)
		return hal.ErrorValidationFailed
	}
	if r := d.bind("bind buffer memory", mem, offset, align(b.size, bufferAlignment), bufferAlignment); r != hal.Success {
		return r
	}
	b.mem, b.offset = uint64(mem), offset
	return hal.Success
}

// bufferBytes returns the bound storage of buf, or nil with a violation.
func (d *Device) bufferBytes(buf hal.Buffer, what string) []byte {
	b, ok := lookup[*buffer](d, uint64(buf), what)
	if !ok {
		return nil
	}
	if b.mem == 0 {
		d.violate("%s: buffer %#x has no memory bound", what, buf)
		return nil
	}
	m, ok := lookup[*memory](d, b.mem, what)
	if !ok {
		return nil
	}
	return m.data[b.offset : b.offset+b.size]
}

func imageSize(desc *hal.ImageDesc) uint64 {
	var total uint64
	for mip := uint32(0); mip < desc.MipLevels; mip++ {
		w, h, dd := mipSize(desc.Width, mip), mipSize(desc.Height, mip), mipSize(desc.Depth, mip)
		total += uint64(w) * uint64(h) * uint64(dd) * uint64(desc.ArrayLayers) * uint64(desc.Format.TexelSize())
	}
	return total
}

func newImage(desc *hal.ImageDesc) *image {
	img := &image{desc: *desc, size: imageSize(desc)}
	img.layouts = make([]hal.ImageLayout, desc.MipLevels*desc.ArrayLayers)
	return img
}

func (d *Device) CreateImage(desc *hal.ImageDesc) (hal.Image, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateImage"); r != hal.Success {
		return 0, r
	}
	if desc.Width == 0 || desc.Height == 0 || desc.Depth == 0 || desc.ArrayLayers == 0 || desc.MipLevels == 0 {
		d.violate("create image: zero extent %dx%dx%d layers %d mips %d",
			desc.Width, desc.Height, desc.Depth, desc.ArrayLayers, desc.MipLevels)
		return 0, hal.ErrorValidationFailed
	}
	if desc.Format.TexelSize() == 0 {
		return 0, hal.ErrorFormatNotSupported
	}
	if desc.Type != hal.ImageType3D && desc.Depth != 1 {
		d.violate("create image: depth %d on a non-3D image", desc.Depth)
		return 0, hal.ErrorValidationFailed
	}
	if desc.Type == hal.ImageType3D && desc.ArrayLayers != 1 {
		d.violate("create image: array layers on a 3D image")
		return 0, hal.ErrorValidationFailed
	}
	if desc.Usage == 0 {
		d.violate("create image: no usage")
		return 0, hal.ErrorValidationFailed
	}
	if desc.Format.IsDepth() && desc.Usage&hal.ImageUsageColorAttachment != 0 {
		d.violate("create image: depth format with colour attachment usage")
		return 0, hal.ErrorValidationFailed
	}
	if !desc.Format.IsDepth() && desc.Usage&hal.ImageUsageDepthStencilAttachment != 0 {
		d.violate("create image: colour format with depth attachment usage")
		return 0, hal.ErrorValidationFailed
	}
	return hal.Image(d.add(newImage(desc))), hal.Success
}

func (d *Device) DestroyImage(img hal.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyImage")
	if i, ok := d.objects[uint64(img)].(*image); ok && i.swapchain != 0 {
		d.violate("destroy image %#x: image is owned by swapchain %#x", img, i.swapchain)
		return
	}
	for h, o := range d.objects {
		if v, ok := o.(*view); ok && v.image == uint64(img) {
			d.violate("destroy image %#x: view %#x still refers to it", img, h)
			break
		}
	}
	d.remove(uint64(img), "image")
}

func (d *Device) ImageMemoryRequirements(img hal.Image) hal.MemoryRequirements {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("ImageMemoryRequirements")
	i, ok := lookup[*image](d, uint64(img), "image memory requirements")
	if !ok {
		return hal.MemoryRequirements{}
	}
	if i.swapchain != 0 {
		d.violate("image memory requirements %#x: swapchain image", img)
	}
	return hal.MemoryRequirements{
		Size:      align(i.size, imageAlignment),
		Alignment: imageAlignment,
		TypeBits:  allTypeBits(d.props),
	}
}

func (d *Device) BindImageMemory(img hal.Image, mem hal.DeviceMemory, offset uint64) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("BindImageMemory"); r != hal.Success {
		return r
	}
	i, ok := lookup[*image](d, uint64(img), "bind image memory")
	if !ok {
		return hal.ErrorValidationFailed
	}
	if i.mem != 0 || i.swapchain != 0 {
		d.violate("bind image memory %#x: already bound", img)
		return hal.ErrorValidationFailed
	}
	if r := d.bind("bind image memory", mem, offset, align(i.size, imageAlignment), imageAlignment); r != hal.Success {
		return r
	}
	i.mem, i.offset = uint64(mem), offset
	return hal.Success
}

// imageBytes returns the backing storage of img, or nil with a violation.
func (d *Device) imageBytes(h uint64, what string) (*image, []byte) {
	i, ok := lookup[*image](d, h, what)
	if !ok {
		return nil, nil
	}
	if i.swapchain != 0 {
		return i, i.store
	}
	if i.mem == 0 {
		d.violate("%s: image %#x has no memory bound", what, h)
		return nil, nil
	}
	m, ok := lookup[*memory](d, i.mem, what)
	if !ok {
		return nil, nil
	}
	return i, m.data[i.offset : i.offset+i.size]
}

// texelOffset is the byte offset of texel (x, y, z) of one subresource.
// Subresources are stored mip-major, then layer, then z, y, x.
func (i *image) texelOffset(mip, layer uint32, x, y, z uint32) uint64 {
	ts := uint64(i.desc.Format.TexelSize())
	var base uint64
	for m := uint32(0); m < mip; m++ {
		base += uint64(mipSize(i.desc.Width, m)) * uint64(mipSize(i.desc.Height, m)) *
			uint64(mipSize(i.desc.Depth, m)) * uint64(i.desc.ArrayLayers) * ts
	}
	w, h, dd := uint64(mipSize(i.desc.Width, mip)), uint64(mipSize(i.desc.Height, mip)), uint64(mipSize(i.desc.Depth, mip))
	base += uint64(layer) * w * h * dd * ts
	return base + ((uint64(z)*h+uint64(y))*w+uint64(x))*ts
}

func (i *image) layoutIndex(mip, layer uint32) int {
	return int(layer*i.desc.MipLevels + mip)
}

// checkRange validates a subresource range against the image.
func (d *Device) checkRange(i *image, h uint64, r hal.SubresourceRange, what string) bool {
	if r.MipCount == 0 || r.LayerCount == 0 ||
		r.BaseMip+r.MipCount > i.desc.MipLevels || r.BaseLayer+r.LayerCount > i.desc.ArrayLayers {
		d.violate("%s: range mips [%d,+%d) layers [%d,+%d) outside image %#x (%d mips, %d layers)",
			what, r.BaseMip, r.MipCount, r.BaseLayer, r.LayerCount, h, i.desc.MipLevels, i.desc.ArrayLayers)
		return false
	}
	// copies name a single aspect of a depth/stencil format
	if all := i.desc.Format.Aspect(); r.Aspect == 0 || r.Aspect&^all != 0 {
		d.violate("%s: aspect %#x does not match format aspect %#x", what, r.Aspect, all)
		return false
	}
	return true
}

// expectLayout flags every subresource of the range whose tracked layout
// is not want.
func (d *Device) expectLayout(i *image, h uint64, r hal.SubresourceRange, want hal.ImageLayout, what string) {
	for mip := r.BaseMip; mip < r.BaseMip+r.MipCount; mip++ {
		for layer := r.BaseLayer; layer < r.BaseLayer+r.LayerCount; layer++ {
			if got := i.layouts[i.layoutIndex(mip, layer)]; got != want {
				d.violate("%s: image %#x mip %d layer %d is in layout %s, expected %s",
					what, h, mip, layer, got, want)
				return
			}
		}
	}
}

func (d *Device) setLayout(i *image, r hal.SubresourceRange, layout hal.ImageLayout) {
	for mip := r.BaseMip; mip < r.BaseMip+r.MipCount; mip++ {
		for layer := r.BaseLayer; layer < r.BaseLayer+r.LayerCount; layer++ {
			i.layouts[i.layoutIndex(mip, layer)] = layout
		}
	}
}

// ImageLayout reports the layout the queue has left one subresource in.
func (d *Device) ImageLayout(img hal.Image, mip, layer uint32) hal.ImageLayout {
	d.mu.Lock()
	defer d.mu.Unlock()
	i, ok := d.objects[uint64(img)].(*image)
	if !ok || mip >= i.desc.MipLevels || layer >= i.desc.ArrayLayers {
		return hal.LayoutUndefined
	}
	return i.layouts[i.layoutIndex(mip, layer)]
}

func (d *Device) CreateImageView(desc *hal.ImageViewDesc) (hal.ImageView, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateImageView"); r != hal.Success {
		return 0, r
	}
	i, ok := lookup[*image](d, uint64(desc.Image), "create image view")
	if !ok {
		return 0, hal.ErrorValidationFailed
	}
	if !d.checkRange(i, uint64(desc.Image), desc.Range, "create image view") {
		return 0, hal.ErrorValidationFailed
	}
	if desc.Format != i.desc.Format {
		d.violate("create image view: format %d differs from image format %d", desc.Format, i.desc.Format)
		return 0, hal.ErrorValidationFailed
	}
	switch desc.Type {
	case hal.ViewType1D, hal.ViewType2D, hal.ViewType3D:
		if desc.Range.LayerCount != 1 {
			d.violate("create image view: non-array view over %d layers", desc.Range.LayerCount)
			return 0, hal.ErrorValidationFailed
		}
	case hal.ViewTypeCube:
		if desc.Range.LayerCount != 6 {
			d.violate("create image view: cube view over %d layers", desc.Range.LayerCount)
			return 0, hal.ErrorValidationFailed
		}
	}
	return hal.ImageView(d.add(&view{image: uint64(desc.Image), desc: *desc})), hal.Success
}

func (d *Device) DestroyImageView(v hal.ImageView) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyImageView")
	d.remove(uint64(v), "view")
}

func (d *Device) CreateSampler(desc *hal.SamplerDesc) (hal.Sampler, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateSampler"); r != hal.Success {
		return 0, r
	}
	return hal.Sampler(d.add(&sampler{})), hal.Success
}

func (d *Device) DestroySampler(s hal.Sampler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroySampler")
	d.remove(uint64(s), "sampler")
}
