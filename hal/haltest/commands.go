package haltest

import (
	"encoding/binary"
	"math"

	"github.com/andewx/dieselrhi/hal"
)

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbPending
)

type commandPool struct{}

func (*commandPool) kind() string { return "command_pool" }

type commandBuffer struct {
	pool  uint64
	state cbState
	ops   []func(d *Device)
	refs  []uint64

	inPass   bool
	passEnd  func(d *Device)
	pipeline uint64
	vertices bool
	indices  bool
}

func (*commandBuffer) kind() string { return "command_buffer" }

func (d *Device) CreateCommandPool() (hal.CommandPool, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateCommandPool"); r != hal.Success {
		return 0, r
	}
	return hal.CommandPool(d.add(&commandPool{})), hal.Success
}

// DestroyCommandPool frees every command buffer allocated from the pool.
func (d *Device) DestroyCommandPool(pool hal.CommandPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyCommandPool")
	if !d.remove(uint64(pool), "command_pool") {
		return
	}
	for h, o := range d.objects {
		if cb, ok := o.(*commandBuffer); ok && cb.pool == uint64(pool) {
			if cb.state == cbPending {
				d.violate("destroy command pool %#x: command buffer %#x is pending", pool, h)
			}
			delete(d.objects, h)
		}
	}
}

func (d *Device) AllocateCommandBuffer(pool hal.CommandPool) (hal.CommandBuffer, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("AllocateCommandBuffer"); r != hal.Success {
		return 0, r
	}
	if _, ok := lookup[*commandPool](d, uint64(pool), "allocate command buffer"); !ok {
		return 0, hal.ErrorValidationFailed
	}
	return hal.CommandBuffer(d.add(&commandBuffer{pool: uint64(pool)})), hal.Success
}

func (d *Device) FreeCommandBuffer(pool hal.CommandPool, cb hal.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("FreeCommandBuffer")
	c, ok := lookup[*commandBuffer](d, uint64(cb), "free command buffer")
	if !ok {
		return
	}
	if c.pool != uint64(pool) {
		d.violate("free command buffer %#x: allocated from pool %#x, not %#x", cb, c.pool, pool)
	}
	if c.state == cbPending {
		d.violate("free command buffer %#x: still pending", cb)
	}
	delete(d.objects, uint64(cb))
}

func (d *Device) BeginCommandBuffer(cb hal.CommandBuffer) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("BeginCommandBuffer"); r != hal.Success {
		return r
	}
	c, ok := lookup[*commandBuffer](d, uint64(cb), "begin command buffer")
	if !ok {
		return hal.ErrorValidationFailed
	}
	switch c.state {
	case cbPending:
		d.violate("begin command buffer %#x: still pending on the queue", cb)
		return hal.ErrorValidationFailed
	case cbRecording:
		d.violate("begin command buffer %#x: already recording", cb)
		return hal.ErrorValidationFailed
	}
	*c = commandBuffer{pool: c.pool, state: cbRecording}
	return hal.Success
}

func (d *Device) EndCommandBuffer(cb hal.CommandBuffer) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("EndCommandBuffer"); r != hal.Success {
		return r
	}
	c, ok := lookup[*commandBuffer](d, uint64(cb), "end command buffer")
	if !ok {
		return hal.ErrorValidationFailed
	}
	if c.state != cbRecording {
		d.violate("end command buffer %#x: not recording", cb)
		return hal.ErrorValidationFailed
	}
	if c.inPass {
		d.violate("end command buffer %#x: render pass still open", cb)
		return hal.ErrorValidationFailed
	}
	c.state = cbExecutable
	return hal.Success
}

// record looks up a recording command buffer. mu must be held.
func (d *Device) record(cb hal.CommandBuffer, name string) *commandBuffer {
	d.call(name)
	c, ok := lookup[*commandBuffer](d, uint64(cb), name)
	if !ok {
		return nil
	}
	if c.state != cbRecording {
		d.violate("%s: command buffer %#x is not recording", name, cb)
		return nil
	}
	return c
}

// ref adds h and the objects it depends on to the command buffer's
// reference list.
func (d *Device) ref(c *commandBuffer, h uint64) {
	if h == 0 {
		return
	}
	c.refs = append(c.refs, h)
	switch o := d.objects[h].(type) {
	case *buffer:
		d.ref(c, o.mem)
	case *image:
		d.ref(c, o.mem)
	case *view:
		d.ref(c, o.image)
	case *framebuffer:
		for _, v := range o.views {
			d.ref(c, v)
		}
	}
}

func (d *Device) CmdPipelineBarrier(cb hal.CommandBuffer, src, dst hal.PipelineStage, barriers []hal.ImageBarrier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdPipelineBarrier")
	if c == nil {
		return
	}
	if c.inPass {
		d.violate("CmdPipelineBarrier: image barrier inside a render pass without a self-dependency")
	}
	if src == 0 || dst == 0 {
		d.violate("CmdPipelineBarrier: empty stage mask (src %#x dst %#x)", src, dst)
	}
	bs := append([]hal.ImageBarrier(nil), barriers...)
	for _, b := range bs {
		d.ref(c, uint64(b.Image))
		if b.NewLayout == hal.LayoutUndefined {
			d.violate("CmdPipelineBarrier: transition of image %#x to Undefined", b.Image)
		}
		if !stageAllowsAccess(src, b.SrcAccess) || !stageAllowsAccess(dst, b.DstAccess) {
			d.violate("CmdPipelineBarrier: access %#x/%#x not supported by stages %#x/%#x",
				b.SrcAccess, b.DstAccess, src, dst)
		}
	}
	c.ops = append(c.ops, func(d *Device) {
		for _, b := range bs {
			img, ok := lookup[*image](d, uint64(b.Image), "pipeline barrier")
			if !ok || !d.checkRange(img, uint64(b.Image), b.Range, "pipeline barrier") {
				continue
			}
			if b.OldLayout != hal.LayoutUndefined {
				d.expectLayout(img, uint64(b.Image), b.Range, b.OldLayout, "pipeline barrier")
			}
			d.setLayout(img, b.Range, b.NewLayout)
		}
	})
}

// stageAllowsAccess reports whether every bit of access is legal for at
// least one stage in mask.
func stageAllowsAccess(mask hal.PipelineStage, access hal.Access) bool {
	if mask&hal.StageAllCommands != 0 {
		return true
	}
	allowed := hal.Access(0)
	if mask&hal.StageTransfer != 0 {
		allowed |= hal.AccessTransferRead | hal.AccessTransferWrite
	}
	if mask&(hal.StageVertexShader|hal.StageFragmentShader|hal.StageComputeShader) != 0 {
		allowed |= hal.AccessShaderRead | hal.AccessShaderWrite | hal.AccessUniformRead
	}
	if mask&hal.StageColorAttachmentOutput != 0 {
		allowed |= hal.AccessColorAttachmentRead | hal.AccessColorAttachmentWrite
	}
	if mask&(hal.StageEarlyFragmentTests|hal.StageLateFragmentTests) != 0 {
		allowed |= hal.AccessDepthStencilAttachmentRead | hal.AccessDepthStencilAttachmentWrite
	}
	if mask&hal.StageHost != 0 {
		allowed |= hal.AccessHostRead | hal.AccessHostWrite
	}
	if mask&hal.StageAllGraphics != 0 {
		allowed |= ^hal.Access(0)
	}
	return access&^allowed == 0
}

func (d *Device) CmdCopyBuffer(cb hal.CommandBuffer, src, dst hal.Buffer, regions []hal.BufferCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdCopyBuffer")
	if c == nil {
		return
	}
	d.ref(c, uint64(src))
	d.ref(c, uint64(dst))
	rs := append([]hal.BufferCopy(nil), regions...)
	c.ops = append(c.ops, func(d *Device) {
		s, t := d.bufferBytes(src, "copy buffer"), d.bufferBytes(dst, "copy buffer")
		if s == nil || t == nil {
			return
		}
		for _, r := range rs {
			if r.SrcOffset+r.Size > uint64(len(s)) || r.DstOffset+r.Size > uint64(len(t)) {
				d.violate("copy buffer: region %+v out of bounds", r)
				continue
			}
			copy(t[r.DstOffset:r.DstOffset+r.Size], s[r.SrcOffset:r.SrcOffset+r.Size])
		}
	})
}

// transfer copies texels between a tightly packed buffer and an image.
func (d *Device) transfer(img *image, imgBytes, buf []byte, r hal.BufferImageCopy, toImage bool, what string) {
	ts := uint64(img.desc.Format.TexelSize())
	mip := r.Subresource.Mip
	w, h, dd := mipSize(img.desc.Width, mip), mipSize(img.desc.Height, mip), mipSize(img.desc.Depth, mip)
	e, o := r.Extent, r.Offset
	if o.X < 0 || o.Y < 0 || o.Z < 0 || uint32(o.X)+e.Width > w || uint32(o.Y)+e.Height > h || uint32(o.Z)+e.Depth > dd {
		d.violate("%s: region offset %+v extent %+v outside mip %d (%dx%dx%d)", what, o, e, mip, w, h, dd)
		return
	}
	row := uint64(e.Width) * ts
	need := r.BufferOffset + uint64(r.Subresource.LayerCount)*uint64(e.Depth)*uint64(e.Height)*row
	if need > uint64(len(buf)) {
		d.violate("%s: buffer range ends at %d, buffer holds %d bytes", what, need, len(buf))
		return
	}
	off := r.BufferOffset
	for l := uint32(0); l < r.Subresource.LayerCount; l++ {
		for z := uint32(0); z < e.Depth; z++ {
			for y := uint32(0); y < e.Height; y++ {
				t := img.texelOffset(mip, r.Subresource.BaseLayer+l, uint32(o.X), uint32(o.Y)+y, uint32(o.Z)+z)
				if toImage {
					copy(imgBytes[t:t+row], buf[off:off+row])
				} else {
					copy(buf[off:off+row], imgBytes[t:t+row])
				}
				off += row
			}
		}
	}
}

func layersRange(img *image, s hal.SubresourceLayers) hal.SubresourceRange {
	return hal.SubresourceRange{Aspect: s.Aspect, BaseMip: s.Mip, MipCount: 1, BaseLayer: s.BaseLayer, LayerCount: s.LayerCount}
}

func (d *Device) CmdCopyBufferToImage(cb hal.CommandBuffer, src hal.Buffer, dst hal.Image, layout hal.ImageLayout, regions []hal.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdCopyBufferToImage")
	if c == nil {
		return
	}
	if c.inPass {
		d.violate("CmdCopyBufferToImage: inside a render pass")
	}
	if layout != hal.LayoutTransferDst && layout != hal.LayoutGeneral {
		d.violate("CmdCopyBufferToImage: destination layout %s", layout)
	}
	d.ref(c, uint64(src))
	d.ref(c, uint64(dst))
	rs := append([]hal.BufferImageCopy(nil), regions...)
	c.ops = append(c.ops, func(d *Device) {
		buf := d.bufferBytes(src, "copy buffer to image")
		img, data := d.imageBytes(uint64(dst), "copy buffer to image")
		if buf == nil || data == nil {
			return
		}
		for _, r := range rs {
			rng := layersRange(img, r.Subresource)
			if !d.checkRange(img, uint64(dst), rng, "copy buffer to image") {
				continue
			}
			d.expectLayout(img, uint64(dst), rng, layout, "copy buffer to image")
			d.transfer(img, data, buf, r, true, "copy buffer to image")
		}
	})
}

func (d *Device) CmdCopyImageToBuffer(cb hal.CommandBuffer, src hal.Image, layout hal.ImageLayout, dst hal.Buffer, regions []hal.BufferImageCopy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdCopyImageToBuffer")
	if c == nil {
		return
	}
	if c.inPass {
		d.violate("CmdCopyImageToBuffer: inside a render pass")
	}
	if layout != hal.LayoutTransferSrc && layout != hal.LayoutGeneral {
		d.violate("CmdCopyImageToBuffer: source layout %s", layout)
	}
	d.ref(c, uint64(src))
	d.ref(c, uint64(dst))
	rs := append([]hal.BufferImageCopy(nil), regions...)
	c.ops = append(c.ops, func(d *Device) {
		buf := d.bufferBytes(dst, "copy image to buffer")
		img, data := d.imageBytes(uint64(src), "copy image to buffer")
		if buf == nil || data == nil {
			return
		}
		for _, r := range rs {
			rng := layersRange(img, r.Subresource)
			if !d.checkRange(img, uint64(src), rng, "copy image to buffer") {
				continue
			}
			d.expectLayout(img, uint64(src), rng, layout, "copy image to buffer")
			d.transfer(img, data, buf, r, false, "copy image to buffer")
		}
	})
}

// CmdBlitImage samples with nearest filtering whatever filter is asked for,
// and requires both images to share a texel size.
func (d *Device) CmdBlitImage(cb hal.CommandBuffer, src hal.Image, srcLayout hal.ImageLayout, dst hal.Image, dstLayout hal.ImageLayout, regions []hal.ImageBlit, filter hal.Filter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdBlitImage")
	if c == nil {
		return
	}
	if srcLayout != hal.LayoutTransferSrc && srcLayout != hal.LayoutGeneral {
		d.violate("CmdBlitImage: source layout %s", srcLayout)
	}
	if dstLayout != hal.LayoutTransferDst && dstLayout != hal.LayoutGeneral {
		d.violate("CmdBlitImage: destination layout %s", dstLayout)
	}
	d.ref(c, uint64(src))
	d.ref(c, uint64(dst))
	rs := append([]hal.ImageBlit(nil), regions...)
	c.ops = append(c.ops, func(d *Device) {
		si, sdata := d.imageBytes(uint64(src), "blit image")
		di, ddata := d.imageBytes(uint64(dst), "blit image")
		if sdata == nil || ddata == nil {
			return
		}
		if si.desc.Format.IsDepth() || di.desc.Format.IsDepth() {
			d.violate("blit image: depth formats cannot be blitted here")
			return
		}
		ts := uint64(si.desc.Format.TexelSize())
		if ts != uint64(di.desc.Format.TexelSize()) {
			d.violate("blit image: texel size %d to %d is not supported", ts, di.desc.Format.TexelSize())
			return
		}
		for _, r := range rs {
			srng, drng := layersRange(si, r.SrcSubresource), layersRange(di, r.DstSubresource)
			if !d.checkRange(si, uint64(src), srng, "blit image") || !d.checkRange(di, uint64(dst), drng, "blit image") {
				continue
			}
			d.expectLayout(si, uint64(src), srng, srcLayout, "blit image")
			d.expectLayout(di, uint64(dst), drng, dstLayout, "blit image")
			d.blit(si, sdata, di, ddata, r, ts)
		}
	})
}

func (d *Device) blit(si *image, sdata []byte, di *image, ddata []byte, r hal.ImageBlit, ts uint64) {
	s0, s1, d0, d1 := r.SrcOffsets[0], r.SrcOffsets[1], r.DstOffsets[0], r.DstOffsets[1]
	sm, dm := r.SrcSubresource.Mip, r.DstSubresource.Mip
	inside := func(img *image, mip uint32, o hal.Offset3D) bool {
		return o.X >= 0 && o.Y >= 0 && o.Z >= 0 &&
			uint32(o.X) <= mipSize(img.desc.Width, mip) &&
			uint32(o.Y) <= mipSize(img.desc.Height, mip) &&
			uint32(o.Z) <= mipSize(img.desc.Depth, mip)
	}
	if !inside(si, sm, s0) || !inside(si, sm, s1) || !inside(di, dm, d0) || !inside(di, dm, d1) {
		d.violate("blit image: region %+v outside the images", r)
		return
	}
	axis := func(dv, d0, d1, s0, s1 int32) int32 {
		t := (float64(dv-d0) + 0.5) / float64(d1-d0)
		v := float64(s0) + t*float64(s1-s0)
		return int32(math.Floor(math.Min(v, float64(max(s0, s1))-0.5)))
	}
	span := func(a, b int32) (int32, int32) { return min(a, b), max(a, b) }
	x0, x1 := span(d0.X, d1.X)
	y0, y1 := span(d0.Y, d1.Y)
	z0, z1 := span(d0.Z, d1.Z)
	if x0 == x1 || y0 == y1 || z0 == z1 {
		return
	}
	for l := uint32(0); l < r.DstSubresource.LayerCount; l++ {
		for z := z0; z < z1; z++ {
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					sx, sy, sz := axis(x, d0.X, d1.X, s0.X, s1.X), axis(y, d0.Y, d1.Y, s0.Y, s1.Y), axis(z, d0.Z, d1.Z, s0.Z, s1.Z)
					so := si.texelOffset(sm, r.SrcSubresource.BaseLayer+l, uint32(sx), uint32(sy), uint32(sz))
					do := di.texelOffset(dm, r.DstSubresource.BaseLayer+l, uint32(x), uint32(y), uint32(z))
					copy(ddata[do:do+ts], sdata[so:so+ts])
				}
			}
		}
	}
}

func (d *Device) CmdBeginRenderPass(cb hal.CommandBuffer, begin *hal.RenderPassBegin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdBeginRenderPass")
	if c == nil {
		return
	}
	if c.inPass {
		d.violate("CmdBeginRenderPass: render pass already open")
		return
	}
	c.inPass = true
	d.ref(c, uint64(begin.Framebuffer))
	b := *begin
	b.ClearValues = append([]hal.ClearValue(nil), begin.ClearValues...)
	fb, ok := lookup[*framebuffer](d, uint64(b.Framebuffer), "CmdBeginRenderPass")
	if !ok {
		return
	}
	rp, ok := lookup[*renderPass](d, uint64(b.RenderPass), "CmdBeginRenderPass")
	if !ok {
		return
	}
	if fb.pass != uint64(b.RenderPass) {
		d.violate("CmdBeginRenderPass: framebuffer %#x was built for render pass %#x", b.Framebuffer, fb.pass)
	}
	for i, a := range rp.attachments {
		if a.LoadOp == hal.LoadOpClear && i >= len(b.ClearValues) {
			d.violate("CmdBeginRenderPass: no clear value for attachment %d", i)
		}
	}
	if b.Area.X < 0 || b.Area.Y < 0 || uint32(b.Area.X)+b.Area.Width > fb.w || uint32(b.Area.Y)+b.Area.Height > fb.h {
		d.violate("CmdBeginRenderPass: render area %+v outside framebuffer %dx%d", b.Area, fb.w, fb.h)
	}
	c.ops = append(c.ops, func(d *Device) {
		d.eachAttachment(b, func(a hal.AttachmentDesc, img *image, h uint64, data []byte, rng hal.SubresourceRange, i int) {
			if a.InitialLayout != hal.LayoutUndefined {
				d.expectLayout(img, h, rng, a.InitialLayout, "begin render pass")
			}
			d.setLayout(img, rng, a.Layout)
			if a.LoadOp == hal.LoadOpClear && i < len(b.ClearValues) {
				clearImage(img, data, rng, b.Area, b.ClearValues[i])
			}
		})
	})
	c.passEnd = func(d *Device) {
		d.eachAttachment(b, func(a hal.AttachmentDesc, img *image, _ uint64, _ []byte, rng hal.SubresourceRange, _ int) {
			d.setLayout(img, rng, a.FinalLayout)
		})
	}
}

// eachAttachment resolves the framebuffer views of a render pass instance
// at execution time.
func (d *Device) eachAttachment(b hal.RenderPassBegin, fn func(a hal.AttachmentDesc, img *image, h uint64, data []byte, rng hal.SubresourceRange, i int)) {
	fb, ok := lookup[*framebuffer](d, uint64(b.Framebuffer), "render pass")
	if !ok {
		return
	}
	rp, ok := lookup[*renderPass](d, uint64(b.RenderPass), "render pass")
	if !ok {
		return
	}
	for i, vh := range fb.views {
		v, ok := lookup[*view](d, vh, "render pass")
		if !ok || i >= len(rp.attachments) {
			continue
		}
		img, data := d.imageBytes(v.image, "render pass")
		if data == nil {
			continue
		}
		fn(rp.attachments[i], img, v.image, data, v.desc.Range, i)
	}
}

// clearImage fills the render area of every subresource in rng. Formats
// without an encoder here are cleared to zero.
func clearImage(img *image, data []byte, rng hal.SubresourceRange, area hal.Rect2D, cv hal.ClearValue) {
	texel := encodeClear(img.desc.Format, cv)
	ts := uint64(len(texel))
	for mip := rng.BaseMip; mip < rng.BaseMip+rng.MipCount; mip++ {
		w, h := mipSize(img.desc.Width, mip), mipSize(img.desc.Height, mip)
		for layer := rng.BaseLayer; layer < rng.BaseLayer+rng.LayerCount; layer++ {
			for y := uint32(area.Y); y < min(h, uint32(area.Y)+area.Height); y++ {
				for x := uint32(area.X); x < min(w, uint32(area.X)+area.Width); x++ {
					o := img.texelOffset(mip, layer, x, y, 0)
					copy(data[o:o+ts], texel)
				}
			}
		}
	}
}

func unorm8(v float32) byte {
	return byte(math.Round(float64(min(max(v, 0), 1)) * 255))
}

func encodeClear(f hal.Format, cv hal.ClearValue) []byte {
	out := make([]byte, f.TexelSize())
	c := cv.Color
	switch f {
	case hal.FormatR8G8B8A8Unorm, hal.FormatR8G8B8A8Srgb:
		out[0], out[1], out[2], out[3] = unorm8(c[0]), unorm8(c[1]), unorm8(c[2]), unorm8(c[3])
	case hal.FormatB8G8R8A8Unorm, hal.FormatB8G8R8A8Srgb:
		out[0], out[1], out[2], out[3] = unorm8(c[2]), unorm8(c[1]), unorm8(c[0]), unorm8(c[3])
	case hal.FormatD32Sfloat:
		binary.LittleEndian.PutUint32(out, math.Float32bits(cv.Depth))
	case hal.FormatD24UnormS8Uint:
		depth := uint32(math.Round(float64(min(max(cv.Depth, 0), 1)) * 0xFFFFFF))
		binary.LittleEndian.PutUint32(out, depth|cv.Stencil<<24)
	}
	return out
}

func (d *Device) CmdEndRenderPass(cb hal.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdEndRenderPass")
	if c == nil {
		return
	}
	if !c.inPass {
		d.violate("CmdEndRenderPass: no render pass open")
		return
	}
	c.inPass = false
	if c.passEnd != nil {
		c.ops = append(c.ops, c.passEnd)
		c.passEnd = nil
	}
}

func (d *Device) CmdBindPipeline(cb hal.CommandBuffer, p hal.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdBindPipeline")
	if c == nil {
		return
	}
	if _, ok := lookup[*pipeline](d, uint64(p), "CmdBindPipeline"); ok {
		c.pipeline = uint64(p)
		d.ref(c, uint64(p))
	}
}

func (d *Device) CmdSetViewport(cb hal.CommandBuffer, vp hal.Viewport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.record(cb, "CmdSetViewport"); c != nil && vp.Width == 0 {
		d.violate("CmdSetViewport: zero width")
	}
}

func (d *Device) CmdSetScissor(cb hal.CommandBuffer, r hal.Rect2D) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.record(cb, "CmdSetScissor"); c != nil && (r.X < 0 || r.Y < 0) {
		d.violate("CmdSetScissor: negative offset %d,%d", r.X, r.Y)
	}
}

func (d *Device) CmdBindVertexBuffers(cb hal.CommandBuffer, first uint32, bufs []hal.Buffer, offsets []uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdBindVertexBuffers")
	if c == nil {
		return
	}
	if len(bufs) != len(offsets) || len(bufs) == 0 {
		d.violate("CmdBindVertexBuffers: %d buffers, %d offsets", len(bufs), len(offsets))
		return
	}
	for _, b := range bufs {
		if buf, ok := lookup[*buffer](d, uint64(b), "CmdBindVertexBuffers"); ok && buf.usage&hal.BufferUsageVertex == 0 {
			d.violate("CmdBindVertexBuffers: buffer %#x lacks vertex usage", b)
		}
		d.ref(c, uint64(b))
	}
	c.vertices = true
}

func (d *Device) CmdBindIndexBuffer(cb hal.CommandBuffer, buf hal.Buffer, offset uint64, t hal.IndexType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdBindIndexBuffer")
	if c == nil {
		return
	}
	if b, ok := lookup[*buffer](d, uint64(buf), "CmdBindIndexBuffer"); ok && b.usage&hal.BufferUsageIndex == 0 {
		d.violate("CmdBindIndexBuffer: buffer %#x lacks index usage", buf)
	}
	d.ref(c, uint64(buf))
	c.indices = true
}

func (d *Device) CmdBindDescriptorSets(cb hal.CommandBuffer, layout hal.PipelineLayout, first uint32, sets []hal.DescriptorSet) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdBindDescriptorSets")
	if c == nil {
		return
	}
	pl, ok := lookup[*pipelineLayout](d, uint64(layout), "CmdBindDescriptorSets")
	if !ok {
		return
	}
	if int(first)+len(sets) > len(pl.sets) {
		d.violate("CmdBindDescriptorSets: sets [%d,+%d) beyond layout with %d sets", first, len(sets), len(pl.sets))
		return
	}
	for i, s := range sets {
		set, ok := lookup[*descriptorSet](d, uint64(s), "CmdBindDescriptorSets")
		if !ok {
			continue
		}
		if set.layout != pl.sets[int(first)+i] {
			d.violate("CmdBindDescriptorSets: set %#x layout does not match slot %d", s, int(first)+i)
		}
		d.ref(c, uint64(s))
	}
}

func (d *Device) CmdPushConstants(cb hal.CommandBuffer, layout hal.PipelineLayout, stages hal.ShaderStage, offset uint32, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdPushConstants")
	if c == nil {
		return
	}
	pl, ok := lookup[*pipelineLayout](d, uint64(layout), "CmdPushConstants")
	if !ok {
		return
	}
	if offset%4 != 0 || len(data)%4 != 0 || offset+uint32(len(data)) > pl.pushSize {
		d.violate("CmdPushConstants: [%d,+%d) outside push range of %d bytes", offset, len(data), pl.pushSize)
	}
}

func (d *Device) drawable(c *commandBuffer, name string) bool {
	if !c.inPass {
		d.violate("%s: outside a render pass", name)
		return false
	}
	if c.pipeline == 0 {
		d.violate("%s: no pipeline bound", name)
		return false
	}
	return true
}

func (d *Device) CmdDraw(cb hal.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdDraw")
	if c == nil || !d.drawable(c, "CmdDraw") {
		return
	}
	c.ops = append(c.ops, func(d *Device) { d.draws++ })
}

func (d *Device) CmdDrawIndexed(cb hal.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.record(cb, "CmdDrawIndexed")
	if c == nil || !d.drawable(c, "CmdDrawIndexed") {
		return
	}
	if !c.indices {
		d.violate("CmdDrawIndexed: no index buffer bound")
		return
	}
	c.ops = append(c.ops, func(d *Device) { d.draws++ })
}
