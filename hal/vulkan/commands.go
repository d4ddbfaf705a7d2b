package vulkan

import (
	"unsafe"

	"github.com/andewx/dieselrhi/hal"
	vk "github.com/vulkan-go/vulkan"
)

func (d *Device) CreateCommandPool() (hal.CommandPool, hal.Result) {
	var pool vk.CommandPool
	ret := vk.CreateCommandPool(d.dev, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.info.QueueFamily,
	}, nil, &pool)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.CommandPool(d.cmdPools.put(pool)), hal.Success
}

func (d *Device) DestroyCommandPool(pool hal.CommandPool) {
	if v, ok := d.cmdPools.take(uint64(pool)); ok {
		vk.DestroyCommandPool(d.dev, v, nil)
	}
}

func (d *Device) AllocateCommandBuffer(pool hal.CommandPool) (hal.CommandBuffer, hal.Result) {
	cbs := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(d.dev, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.cmdPools.get(uint64(pool)),
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, cbs)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.CommandBuffer(d.cmds.put(cbs[0])), hal.Success
}

func (d *Device) FreeCommandBuffer(pool hal.CommandPool, cb hal.CommandBuffer) {
	if v, ok := d.cmds.take(uint64(cb)); ok {
		vk.FreeCommandBuffers(d.dev, d.cmdPools.get(uint64(pool)), 1, []vk.CommandBuffer{v})
	}
}

func (d *Device) BeginCommandBuffer(cb hal.CommandBuffer) hal.Result {
	c := d.cmds.get(uint64(cb))
	if ret := vk.ResetCommandBuffer(c, 0); ret != vk.Success {
		return result(ret)
	}
	return result(vk.BeginCommandBuffer(c, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}))
}

func (d *Device) EndCommandBuffer(cb hal.CommandBuffer) hal.Result {
	return result(vk.EndCommandBuffer(d.cmds.get(uint64(cb))))
}

func (d *Device) CmdPipelineBarrier(cb hal.CommandBuffer, src, dst hal.PipelineStage, barriers []hal.ImageBarrier) {
	vb := make([]vk.ImageMemoryBarrier, 0, len(barriers))
	for _, b := range barriers {
		vb = append(vb, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(b.SrcAccess),
			DstAccessMask:       vk.AccessFlags(b.DstAccess),
			OldLayout:           vk.ImageLayout(b.OldLayout),
			NewLayout:           vk.ImageLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               d.images.get(uint64(b.Image)),
			SubresourceRange:    subresourceRange(b.Range),
		})
	}
	vk.CmdPipelineBarrier(d.cmds.get(uint64(cb)), vk.PipelineStageFlags(src), vk.PipelineStageFlags(dst),
		0, 0, nil, 0, nil, uint32(len(vb)), vb)
}

func (d *Device) CmdCopyBuffer(cb hal.CommandBuffer, src, dst hal.Buffer, regions []hal.BufferCopy) {
	vr := make([]vk.BufferCopy, 0, len(regions))
	for _, r := range regions {
		vr = append(vr, vk.BufferCopy{
			SrcOffset: vk.DeviceSize(r.SrcOffset),
			DstOffset: vk.DeviceSize(r.DstOffset),
			Size:      vk.DeviceSize(r.Size),
		})
	}
	vk.CmdCopyBuffer(d.cmds.get(uint64(cb)), d.buffers.get(uint64(src)), d.buffers.get(uint64(dst)), uint32(len(vr)), vr)
}

func bufferImageCopies(regions []hal.BufferImageCopy) []vk.BufferImageCopy {
	vr := make([]vk.BufferImageCopy, 0, len(regions))
	for _, r := range regions {
		vr = append(vr, vk.BufferImageCopy{
			BufferOffset:     vk.DeviceSize(r.BufferOffset),
			ImageSubresource: subresourceLayers(r.Subresource),
			ImageOffset:      offset3D(r.Offset),
			ImageExtent:      vk.Extent3D{Width: r.Extent.Width, Height: r.Extent.Height, Depth: r.Extent.Depth},
		})
	}
	return vr
}

func (d *Device) CmdCopyBufferToImage(cb hal.CommandBuffer, src hal.Buffer, dst hal.Image, layout hal.ImageLayout, regions []hal.BufferImageCopy) {
	vr := bufferImageCopies(regions)
	vk.CmdCopyBufferToImage(d.cmds.get(uint64(cb)), d.buffers.get(uint64(src)), d.images.get(uint64(dst)),
		vk.ImageLayout(layout), uint32(len(vr)), vr)
}

func (d *Device) CmdCopyImageToBuffer(cb hal.CommandBuffer, src hal.Image, layout hal.ImageLayout, dst hal.Buffer, regions []hal.BufferImageCopy) {
	vr := bufferImageCopies(regions)
	vk.CmdCopyImageToBuffer(d.cmds.get(uint64(cb)), d.images.get(uint64(src)), vk.ImageLayout(layout),
		d.buffers.get(uint64(dst)), uint32(len(vr)), vr)
}

func (d *Device) CmdBlitImage(cb hal.CommandBuffer, src hal.Image, srcLayout hal.ImageLayout, dst hal.Image, dstLayout hal.ImageLayout, regions []hal.ImageBlit, filter hal.Filter) {
	vr := make([]vk.ImageBlit, 0, len(regions))
	for _, r := range regions {
		vr = append(vr, vk.ImageBlit{
			SrcSubresource: subresourceLayers(r.SrcSubresource),
			SrcOffsets:     [2]vk.Offset3D{offset3D(r.SrcOffsets[0]), offset3D(r.SrcOffsets[1])},
			DstSubresource: subresourceLayers(r.DstSubresource),
			DstOffsets:     [2]vk.Offset3D{offset3D(r.DstOffsets[0]), offset3D(r.DstOffsets[1])},
		})
	}
	vk.CmdBlitImage(d.cmds.get(uint64(cb)), d.images.get(uint64(src)), vk.ImageLayout(srcLayout),
		d.images.get(uint64(dst)), vk.ImageLayout(dstLayout), uint32(len(vr)), vr, vk.Filter(filter))
}

func (d *Device) CmdBeginRenderPass(cb hal.CommandBuffer, begin *hal.RenderPassBegin) {
	rp := d.renderPasses.get(uint64(begin.RenderPass))
	if rp == nil {
		return
	}
	clears := make([]vk.ClearValue, 0, len(begin.ClearValues))
	for i, c := range begin.ClearValues {
		clears = append(clears, clearValue(c, i < len(rp.depth) && rp.depth[i]))
	}
	vk.CmdBeginRenderPass(d.cmds.get(uint64(cb)), &vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp.rp,
		Framebuffer:     d.framebuffers.get(uint64(begin.Framebuffer)),
		RenderArea:      rect2D(begin.Area),
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}, vk.SubpassContentsInline)
}

func (d *Device) CmdEndRenderPass(cb hal.CommandBuffer) {
	vk.CmdEndRenderPass(d.cmds.get(uint64(cb)))
}

func (d *Device) CmdBindPipeline(cb hal.CommandBuffer, p hal.Pipeline) {
	vk.CmdBindPipeline(d.cmds.get(uint64(cb)), vk.PipelineBindPointGraphics, d.pipelines.get(uint64(p)))
}

func (d *Device) CmdSetViewport(cb hal.CommandBuffer, vp hal.Viewport) {
	vk.CmdSetViewport(d.cmds.get(uint64(cb)), 0, 1, []vk.Viewport{{
		X:        vp.X,
		Y:        vp.Y,
		Width:    vp.Width,
		Height:   vp.Height,
		MinDepth: vp.MinDepth,
		MaxDepth: vp.MaxDepth,
	}})
}

func (d *Device) CmdSetScissor(cb hal.CommandBuffer, r hal.Rect2D) {
	vk.CmdSetScissor(d.cmds.get(uint64(cb)), 0, 1, []vk.Rect2D{rect2D(r)})
}

func (d *Device) CmdBindVertexBuffers(cb hal.CommandBuffer, first uint32, bufs []hal.Buffer, offsets []uint64) {
	vb := make([]vk.Buffer, 0, len(bufs))
	vo := make([]vk.DeviceSize, 0, len(bufs))
	for i, b := range bufs {
		vb = append(vb, d.buffers.get(uint64(b)))
		var off uint64
		if i < len(offsets) {
			off = offsets[i]
		}
		vo = append(vo, vk.DeviceSize(off))
	}
	vk.CmdBindVertexBuffers(d.cmds.get(uint64(cb)), first, uint32(len(vb)), vb, vo)
}

func (d *Device) CmdBindIndexBuffer(cb hal.CommandBuffer, buf hal.Buffer, offset uint64, t hal.IndexType) {
	vk.CmdBindIndexBuffer(d.cmds.get(uint64(cb)), d.buffers.get(uint64(buf)), vk.DeviceSize(offset), vk.IndexType(t))
}

func (d *Device) CmdBindDescriptorSets(cb hal.CommandBuffer, layout hal.PipelineLayout, first uint32, sets []hal.DescriptorSet) {
	vs := make([]vk.DescriptorSet, 0, len(sets))
	for _, s := range sets {
		vs = append(vs, d.sets.get(uint64(s)))
	}
	vk.CmdBindDescriptorSets(d.cmds.get(uint64(cb)), vk.PipelineBindPointGraphics, d.pipeLayouts.get(uint64(layout)),
		first, uint32(len(vs)), vs, 0, nil)
}

func (d *Device) CmdPushConstants(cb hal.CommandBuffer, layout hal.PipelineLayout, stages hal.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(d.cmds.get(uint64(cb)), d.pipeLayouts.get(uint64(layout)), vk.ShaderStageFlags(stages),
		offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (d *Device) CmdDraw(cb hal.CommandBuffer, vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(d.cmds.get(uint64(cb)), vertexCount, instanceCount, firstVertex, firstInstance)
}

func (d *Device) CmdDrawIndexed(cb hal.CommandBuffer, indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(d.cmds.get(uint64(cb)), indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
