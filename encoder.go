package dieselrhi

import (
	"fmt"

	"github.com/andewx/dieselrhi/hal"
)

// CommandEncoder records into one command buffer and tracks, per image, the
// access state left by the last operation of this recording. Every image
// operation goes through SetLastImageAccess, which emits a barrier only when
// the state actually changes.
//
// The tracking does not cross recordings: the first access to an image in an
// encoder records no barrier, so callers state the incoming access (for
// example Undefined for a freshly acquired swapchain image) before using it.
type CommandEncoder struct {
	cb       *CommandBuffer
	dev      *Device
	last     map[*imageCore]AccessState
	barriers int
	render   *RenderCommandEncoder
	err      error
	done     bool
}

func newEncoder(cb *CommandBuffer) *CommandEncoder {
	return &CommandEncoder{cb: cb, dev: cb.dev, last: make(map[*imageCore]AccessState)}
}

// fail keeps the first recording error; Finalize reports it.
func (e *CommandEncoder) fail(op string, err error) {
	if e.err == nil {
		e.err = &Error{Op: op, Kind: KindRecord, Err: err, Caller: caller(2)}
	}
}

// ready reports whether a plain encoder operation may be recorded now.
func (e *CommandEncoder) ready(op string) bool {
	switch {
	case e.done:
		e.fail(op, fmt.Errorf("%w: encoder already finalized", ErrEncoderState))
		return false
	case e.render != nil:
		e.fail(op, fmt.Errorf("%w: render pass still open", ErrEncoderState))
		return false
	}
	return true
}

// Err is the first recording error, if any.
func (e *CommandEncoder) Err() error { return e.err }

// Barriers is the number of barriers recorded so far.
func (e *CommandEncoder) Barriers() int { return e.barriers }

func (e *CommandEncoder) LastImageAccess(img Image) (AccessState, bool) {
	s, ok := e.last[img.core()]
	return s, ok
}

// SetLastImageAccess declares that the next operation accesses the given
// layers and mips of img in state. It records a barrier from the previous
// state of img in this recording if there is one and it differs, and reports
// whether it did.
//
// The state is tracked per image, not per subresource. The barrier covers
// only the given range, yet the whole image is taken to be in state
// afterwards, so a second range moved to the same state gets no barrier.
// Callers working on mips or layers one at a time must first move the whole
// image, for example TransitionImage(img, Transfer(Write)) before copying
// into each mip.
func (e *CommandEncoder) SetLastImageAccess(img Image, state AccessState, layers, mips Range) bool {
	const op = "image access"
	if !e.ready(op) {
		return false
	}
	return e.setAccess(img, state, layers, mips)
}

func (e *CommandEncoder) setAccess(img Image, state AccessState, layers, mips Range) bool {
	const op = "image access"
	c := img.core()
	l, ok := layers.clamp(c.Layers())
	if !ok {
		e.fail(op, fmt.Errorf("layer range %+v of %d layers", layers, c.Layers()))
		return false
	}
	m, ok := mips.clamp(c.mips)
	if !ok {
		e.fail(op, fmt.Errorf("mip range %+v of %d levels", mips, c.mips))
		return false
	}
	e.cb.touch(&c.inflight)
	state = state.normalize()
	prev, seen := e.last[c]
	e.last[c] = state
	if !seen || prev == state {
		return false
	}
	depth := c.format.IsDepth()
	layout := state.Layout(depth)
	if state.Kind == AccessUndefined {
		// discard: wait for the prior access but keep the layout
		layout = prev.Layout(depth)
	}
	e.dev.raw.CmdPipelineBarrier(e.cb.h, prev.Stage(depth), state.Stage(depth), []hal.ImageBarrier{{
		Image:     c.h,
		SrcAccess: prev.Access(depth),
		DstAccess: state.Access(depth),
		OldLayout: prev.Layout(depth),
		NewLayout: layout,
		Range: hal.SubresourceRange{
			Aspect:     c.format.aspect(),
			BaseMip:    m.Base,
			MipCount:   m.Count,
			BaseLayer:  l.Base,
			LayerCount: l.Count,
		},
	}})
	e.barriers++
	return true
}

// TransitionImage sets the access state of the whole image.
func (e *CommandEncoder) TransitionImage(img Image, state AccessState) bool {
	return e.SetLastImageAccess(img, state, All, All)
}

func (e *CommandEncoder) touchBuffer(b *Buffer) {
	e.cb.touch(&b.inflight)
}

// CopyBufferToBuffer copies min(src, dst) bytes from the start of src.
func (e *CommandEncoder) CopyBufferToBuffer(src, dst *Buffer) {
	e.CopyBufferRegion(src, 0, dst, 0, min(src.size, dst.size))
}

func (e *CommandEncoder) CopyBufferRegion(src *Buffer, srcOffset uint64, dst *Buffer, dstOffset, size uint64) {
	const op = "copy buffer"
	if !e.ready(op) {
		return
	}
	if srcOffset+size > src.size || dstOffset+size > dst.size {
		e.fail(op, fmt.Errorf("%d bytes from %d/%d exceed %d/%d", size, srcOffset, dstOffset, src.size, dst.size))
		return
	}
	if size == 0 {
		return
	}
	e.touchBuffer(src)
	e.touchBuffer(dst)
	e.dev.raw.CmdCopyBuffer(e.cb.h, src.h, dst.h, []hal.BufferCopy{{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size}})
}

// imageCopy describes one mip level of every layer of img, tightly packed.
func imageCopy(c *imageCore, mip uint32) (hal.BufferImageCopy, uint64) {
	ext := c.mipExtent(mip)
	aspect := c.format.aspect()
	if c.format.IsDepth() {
		aspect = hal.AspectDepth
	}
	size := uint64(ext.Width) * uint64(ext.Height) * uint64(ext.Depth) * uint64(c.Layers()) * uint64(c.format.TexelSize())
	return hal.BufferImageCopy{
		Subresource: hal.SubresourceLayers{Aspect: aspect, Mip: mip, LayerCount: c.Layers()},
		Extent:      ext,
	}, size
}

// CopyBufferToImage fills one mip level of every layer of dst from the
// start of src.
func (e *CommandEncoder) CopyBufferToImage(src *Buffer, dst Image, mip uint32) {
	const op = "copy buffer to image"
	if !e.ready(op) {
		return
	}
	c := dst.core()
	if mip >= c.mips {
		e.fail(op, fmt.Errorf("mip %d of %d", mip, c.mips))
		return
	}
	region, size := imageCopy(c, mip)
	if size > src.size {
		e.fail(op, fmt.Errorf("image needs %d bytes, buffer has %d", size, src.size))
		return
	}
	e.setAccess(dst, Transfer(Write), All, Range{Base: mip, Count: 1})
	e.touchBuffer(src)
	e.dev.raw.CmdCopyBufferToImage(e.cb.h, src.h, c.h, hal.LayoutTransferDst, []hal.BufferImageCopy{region})
}

// CopyImageToBuffer writes one mip level of every layer of src, tightly
// packed, to the start of dst.
func (e *CommandEncoder) CopyImageToBuffer(src Image, dst *Buffer, mip uint32) {
	const op = "copy image to buffer"
	if !e.ready(op) {
		return
	}
	c := src.core()
	if mip >= c.mips {
		e.fail(op, fmt.Errorf("mip %d of %d", mip, c.mips))
		return
	}
	region, size := imageCopy(c, mip)
	if size > dst.size {
		e.fail(op, fmt.Errorf("image needs %d bytes, buffer has %d", size, dst.size))
		return
	}
	e.setAccess(src, Transfer(Read), All, Range{Base: mip, Count: 1})
	e.touchBuffer(dst)
	e.dev.raw.CmdCopyImageToBuffer(e.cb.h, c.h, hal.LayoutTransferSrc, dst.h, []hal.BufferImageCopy{region})
}

// BlitRegion selects a box of one mip level in normalized coordinates. The
// third axis is used only by D3 images.
type BlitRegion struct {
	Layers   Range
	Mip      uint32
	Min, Max [3]float32
}

// FullRegion covers mip 0 of the first layer.
var FullRegion = BlitRegion{Layers: Range{Count: 1}, Max: [3]float32{1, 1, 1}}

func blitOffsets(c *imageCore, r BlitRegion) [2]hal.Offset3D {
	ext := c.mipExtent(r.Mip)
	corner := func(p [3]float32, z int32) hal.Offset3D {
		o := hal.Offset3D{X: int32(p[0] * float32(ext.Width)), Y: int32(p[1] * float32(ext.Height)), Z: z}
		if c.dim == D3 {
			o.Z = int32(p[2] * float32(ext.Depth))
		}
		return o
	}
	return [2]hal.Offset3D{corner(r.Min, 0), corner(r.Max, 1)}
}

func blitLayers(c *imageCore, r BlitRegion) (hal.SubresourceLayers, Range, bool) {
	l, ok := r.Layers.clamp(c.Layers())
	if !ok || r.Mip >= c.mips {
		return hal.SubresourceLayers{}, Range{}, false
	}
	return hal.SubresourceLayers{Aspect: c.format.aspect(), Mip: r.Mip, BaseLayer: l.Base, LayerCount: l.Count}, l, true
}

// BlitImage scales a region of src into a region of dst.
func (e *CommandEncoder) BlitImage(src Image, srcRegion BlitRegion, dst Image, dstRegion BlitRegion, filter Filter) {
	const op = "blit image"
	if !e.ready(op) {
		return
	}
	sc, dc := src.core(), dst.core()
	ss, sl, ok := blitLayers(sc, srcRegion)
	if !ok {
		e.fail(op, fmt.Errorf("source region %+v", srcRegion))
		return
	}
	ds, dl, ok := blitLayers(dc, dstRegion)
	if !ok {
		e.fail(op, fmt.Errorf("destination region %+v", dstRegion))
		return
	}
	if sl.Count != dl.Count {
		e.fail(op, fmt.Errorf("blit of %d layers into %d", sl.Count, dl.Count))
		return
	}
	e.setAccess(src, Transfer(Read), sl, Range{Base: srcRegion.Mip, Count: 1})
	e.setAccess(dst, Transfer(Write), dl, Range{Base: dstRegion.Mip, Count: 1})
	e.dev.raw.CmdBlitImage(e.cb.h, sc.h, hal.LayoutTransferSrc, dc.h, hal.LayoutTransferDst, []hal.ImageBlit{{
		SrcSubresource: ss,
		SrcOffsets:     blitOffsets(sc, srcRegion),
		DstSubresource: ds,
		DstOffsets:     blitOffsets(dc, dstRegion),
	}}, filter)
}

// BlitImage2DStretch scales the first layer and mip of src over the whole
// of dst.
func (e *CommandEncoder) BlitImage2DStretch(src, dst Image) {
	e.BlitImage(src, FullRegion, dst, FullRegion, Nearest)
}

// StartRenderPipeline moves every output attachment into the attachment
// state, begins the render pass and binds the pipeline with a viewport
// flipped so that +Y points up. The returned encoder must be ended before
// this encoder is used again.
func (e *CommandEncoder) StartRenderPipeline(p *RenderPipeline, out *RenderOutput, clears []ClearValue) *RenderCommandEncoder {
	const op = "start render pipeline"
	r := &RenderCommandEncoder{enc: e, pipeline: p}
	if !e.ready(op) {
		r.ended = true
		return r
	}
	if len(out.views) != len(p.outputs) {
		e.fail(op, fmt.Errorf("output has %d views, pipeline expects %d", len(out.views), len(p.outputs)))
		r.ended = true
		return r
	}
	for _, v := range out.views {
		e.setAccess(v.image, Attachment(ReadWrite), v.layers, v.mips)
		e.cb.touch(&v.inflight)
	}
	e.cb.touch(&p.inflight)
	e.cb.touch(&out.inflight)

	ext := out.Extent()
	values := make([]hal.ClearValue, len(p.outputs))
	for i := range values {
		if i < len(clears) {
			values[i] = clears[i].hal()
		}
	}
	h := e.cb.h
	e.dev.raw.CmdBeginRenderPass(h, &hal.RenderPassBegin{
		RenderPass:  p.renderPass,
		Framebuffer: out.fb,
		Area:        hal.Rect2D{Width: ext.Width, Height: ext.Height},
		ClearValues: values,
	})
	e.dev.raw.CmdBindPipeline(h, p.pipeline)
	e.dev.raw.CmdSetViewport(h, hal.Viewport{
		Y:        float32(ext.Height),
		Width:    float32(ext.Width),
		Height:   -float32(ext.Height),
		MaxDepth: 1,
	})
	e.dev.raw.CmdSetScissor(h, hal.Rect2D{Width: ext.Width, Height: ext.Height})
	e.render = r
	return r
}

// Finalize ends the recording. A recording error is returned here and the
// command buffer is left unsubmittable.
func (e *CommandEncoder) Finalize() error {
	const op = "finalize"
	if e.done {
		return &Error{Op: op, Kind: KindRecord, Err: ErrEncoderState, Caller: caller(1)}
	}
	if e.render != nil {
		e.fail(op, fmt.Errorf("%w: render pass still open", ErrEncoderState))
		e.dev.raw.CmdEndRenderPass(e.cb.h)
		e.render.ended = true
		e.render = nil
	}
	e.done = true
	r := e.dev.raw.EndCommandBuffer(e.cb.h)
	if e.err != nil {
		e.cb.state = cbInitial
		return e.err
	}
	if err := check(op, KindRecord, r); err != nil {
		e.cb.state = cbInitial
		return err
	}
	e.cb.state = cbExecutable
	Logger().Debug("dieselrhi: recording finalized", "barriers", e.barriers)
	return nil
}

type IndexType int

const (
	IndexU16 IndexType = iota
	IndexU32
)

// RenderCommandEncoder is a CommandEncoder inside a render pass. It only
// records draw state and draws; End returns the plain encoder.
type RenderCommandEncoder struct {
	enc      *CommandEncoder
	pipeline *RenderPipeline
	ended    bool
}

func (r *RenderCommandEncoder) ok(op string) bool {
	if r.ended {
		r.enc.fail(op, fmt.Errorf("%w: render encoder already ended", ErrEncoderState))
		return false
	}
	return true
}

func (r *RenderCommandEncoder) BindVertexBuffers(bufs ...*Buffer) {
	if !r.ok("bind vertex buffers") || len(bufs) == 0 {
		return
	}
	hs := make([]hal.Buffer, len(bufs))
	offsets := make([]uint64, len(bufs))
	for i, b := range bufs {
		hs[i] = b.h
		r.enc.touchBuffer(b)
	}
	r.enc.dev.raw.CmdBindVertexBuffers(r.enc.cb.h, 0, hs, offsets)
}

func (r *RenderCommandEncoder) BindIndexBuffer(buf *Buffer, t IndexType) {
	if !r.ok("bind index buffer") {
		return
	}
	ht := hal.IndexTypeUint16
	if t == IndexU32 {
		ht = hal.IndexTypeUint32
	}
	r.enc.touchBuffer(buf)
	r.enc.dev.raw.CmdBindIndexBuffer(r.enc.cb.h, buf.h, 0, ht)
}

// BindSets binds descriptor sets starting at set index first.
func (r *RenderCommandEncoder) BindSets(first uint32, sets ...*DSet) {
	if !r.ok("bind sets") || len(sets) == 0 {
		return
	}
	hs := make([]hal.DescriptorSet, len(sets))
	for i, s := range sets {
		hs[i] = s.h
		r.enc.cb.touch(&s.inflight)
		r.enc.cb.touch(&s.pool.inflight)
		for _, slot := range s.refs {
			for _, t := range slot {
				r.enc.cb.touch(t)
			}
		}
	}
	r.enc.dev.raw.CmdBindDescriptorSets(r.enc.cb.h, r.pipeline.layout, first, hs)
}

func (r *RenderCommandEncoder) PushConstants(offset uint32, data []byte) {
	const op = "push constants"
	if !r.ok(op) {
		return
	}
	end := offset + uint32(len(data))
	if offset%4 != 0 || len(data)%4 != 0 || end > r.pipeline.pushSize {
		r.enc.fail(op, fmt.Errorf("range [%d,%d) outside %d push constant bytes", offset, end, r.pipeline.pushSize))
		return
	}
	r.enc.dev.raw.CmdPushConstants(r.enc.cb.h, r.pipeline.layout, pushStages, offset, data)
}

func (r *RenderCommandEncoder) SetViewport(vp hal.Viewport) {
	if r.ok("set viewport") {
		r.enc.dev.raw.CmdSetViewport(r.enc.cb.h, vp)
	}
}

func (r *RenderCommandEncoder) SetScissor(rect hal.Rect2D) {
	if r.ok("set scissor") {
		r.enc.dev.raw.CmdSetScissor(r.enc.cb.h, rect)
	}
}

func (r *RenderCommandEncoder) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if r.ok("draw") {
		r.enc.dev.raw.CmdDraw(r.enc.cb.h, vertexCount, instanceCount, firstVertex, firstInstance)
	}
}

func (r *RenderCommandEncoder) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	if r.ok("draw indexed") {
		r.enc.dev.raw.CmdDrawIndexed(r.enc.cb.h, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
	}
}

// End closes the render pass and hands back the plain encoder.
func (r *RenderCommandEncoder) End() *CommandEncoder {
	if r.ended {
		return r.enc
	}
	r.ended = true
	if r.enc.render == r {
		r.enc.dev.raw.CmdEndRenderPass(r.enc.cb.h)
		r.enc.render = nil
	}
	return r.enc
}
