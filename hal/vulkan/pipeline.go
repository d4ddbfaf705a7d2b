package vulkan

import (
	"github.com/andewx/dieselrhi/hal"
	vk "github.com/vulkan-go/vulkan"
)

// descriptorPool remembers its sets so that destroying the pool drops
// their handles too.
type descriptorPool struct {
	pool vk.DescriptorPool
	sets []uint64
}

// renderPass keeps which attachments are depth so clear values can be
// built per attachment.
type renderPass struct {
	rp    vk.RenderPass
	depth []bool
}

func (d *Device) CreateDescriptorSetLayout(bindings []hal.DescriptorBinding) (hal.DescriptorSetLayout, hal.Result) {
	vb := make([]vk.DescriptorSetLayoutBinding, 0, len(bindings))
	for _, b := range bindings {
		vb = append(vb, vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: b.Count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		})
	}
	var l vk.DescriptorSetLayout
	ret := vk.CreateDescriptorSetLayout(d.dev, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vb)),
		PBindings:    vb,
	}, nil, &l)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.DescriptorSetLayout(d.setLayouts.put(l)), hal.Success
}

func (d *Device) DestroyDescriptorSetLayout(l hal.DescriptorSetLayout) {
	if v, ok := d.setLayouts.take(uint64(l)); ok {
		vk.DestroyDescriptorSetLayout(d.dev, v, nil)
	}
}

func (d *Device) CreatePipelineLayout(sets []hal.DescriptorSetLayout, pushConstantSize uint32, pushStages hal.ShaderStage) (hal.PipelineLayout, hal.Result) {
	layouts := make([]vk.DescriptorSetLayout, 0, len(sets))
	for _, s := range sets {
		layouts = append(layouts, d.setLayouts.get(uint64(s)))
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}
	if pushConstantSize > 0 {
		info.PushConstantRangeCount = 1
		info.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: vk.ShaderStageFlags(pushStages),
			Size:       pushConstantSize,
		}}
	}
	var l vk.PipelineLayout
	if ret := vk.CreatePipelineLayout(d.dev, &info, nil, &l); ret != vk.Success {
		return 0, result(ret)
	}
	return hal.PipelineLayout(d.pipeLayouts.put(l)), hal.Success
}

func (d *Device) DestroyPipelineLayout(l hal.PipelineLayout) {
	if v, ok := d.pipeLayouts.take(uint64(l)); ok {
		vk.DestroyPipelineLayout(d.dev, v, nil)
	}
}

func (d *Device) CreateDescriptorPool(desc *hal.DescriptorPoolDesc) (hal.DescriptorPool, hal.Result) {
	sizes := make([]vk.DescriptorPoolSize, 0, len(desc.Sizes))
	for _, s := range desc.Sizes {
		sizes = append(sizes, vk.DescriptorPoolSize{Type: vk.DescriptorType(s.Type), DescriptorCount: s.Count})
	}
	var p vk.DescriptorPool
	ret := vk.CreateDescriptorPool(d.dev, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       desc.MaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}, nil, &p)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.DescriptorPool(d.descPools.put(&descriptorPool{pool: p})), hal.Success
}

func (d *Device) DestroyDescriptorPool(p hal.DescriptorPool) {
	pool, ok := d.descPools.take(uint64(p))
	if !ok {
		return
	}
	for _, s := range pool.sets {
		d.sets.take(s)
	}
	vk.DestroyDescriptorPool(d.dev, pool.pool, nil)
}

func (d *Device) AllocateDescriptorSet(pool hal.DescriptorPool, layout hal.DescriptorSetLayout) (hal.DescriptorSet, hal.Result) {
	p := d.descPools.get(uint64(pool))
	if p == nil {
		return 0, hal.ErrorUnknown
	}
	var set vk.DescriptorSet
	ret := vk.AllocateDescriptorSets(d.dev, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{d.setLayouts.get(uint64(layout))},
	}, &set)
	if ret != vk.Success {
		return 0, result(ret)
	}
	h := d.sets.put(set)
	p.sets = append(p.sets, h)
	return hal.DescriptorSet(h), hal.Success
}

func (d *Device) UpdateDescriptorSet(set hal.DescriptorSet, writes []hal.DescriptorWrite) {
	dst := d.sets.get(uint64(set))
	vw := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		write := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          dst,
			DstBinding:      w.Binding,
			DstArrayElement: w.ArrayElement,
			DescriptorType:  vk.DescriptorType(w.Type),
		}
		for _, b := range w.Buffers {
			write.PBufferInfo = append(write.PBufferInfo, vk.DescriptorBufferInfo{
				Buffer: d.buffers.get(uint64(b.Buffer)),
				Offset: vk.DeviceSize(b.Offset),
				Range:  vk.DeviceSize(b.Range),
			})
		}
		for _, img := range w.Images {
			write.PImageInfo = append(write.PImageInfo, vk.DescriptorImageInfo{
				Sampler:     d.samplers.get(uint64(img.Sampler)),
				ImageView:   d.views.get(uint64(img.View)),
				ImageLayout: vk.ImageLayout(img.Layout),
			})
		}
		write.DescriptorCount = uint32(len(write.PBufferInfo) + len(write.PImageInfo))
		vw = append(vw, write)
	}
	vk.UpdateDescriptorSets(d.dev, uint32(len(vw)), vw, 0, nil)
}

func (d *Device) CreateRenderPass(attachments []hal.AttachmentDesc) (hal.RenderPass, hal.Result) {
	var (
		descs  []vk.AttachmentDescription
		colors []vk.AttachmentReference
		depth  *vk.AttachmentReference
		isDep  []bool
	)
	for i, a := range attachments {
		descs = append(descs, vk.AttachmentDescription{
			Format:         vk.Format(a.Format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOp(a.LoadOp),
			StoreOp:        vk.AttachmentStoreOp(a.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayout(a.InitialLayout),
			FinalLayout:    vk.ImageLayout(a.FinalLayout),
		})
		ref := vk.AttachmentReference{Attachment: uint32(i), Layout: vk.ImageLayout(a.Layout)}
		if a.Format.IsDepth() {
			if a.Format.HasStencil() {
				descs[i].StencilLoadOp = vk.AttachmentLoadOp(a.LoadOp)
				descs[i].StencilStoreOp = vk.AttachmentStoreOp(a.StoreOp)
			}
			depth = &ref
			isDep = append(isDep, true)
			continue
		}
		colors = append(colors, ref)
		isDep = append(isDep, false)
	}
	var rp vk.RenderPass
	ret := vk.CreateRenderPass(d.dev, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(descs)),
		PAttachments:    descs,
		SubpassCount:    1,
		PSubpasses: []vk.SubpassDescription{{
			PipelineBindPoint:       vk.PipelineBindPointGraphics,
			ColorAttachmentCount:    uint32(len(colors)),
			PColorAttachments:       colors,
			PDepthStencilAttachment: depth,
		}},
	}, nil, &rp)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.RenderPass(d.renderPasses.put(&renderPass{rp: rp, depth: isDep})), hal.Success
}

func (d *Device) DestroyRenderPass(rp hal.RenderPass) {
	if v, ok := d.renderPasses.take(uint64(rp)); ok {
		vk.DestroyRenderPass(d.dev, v.rp, nil)
	}
}

func (d *Device) CreateGraphicsPipeline(desc *hal.GraphicsPipelineDesc) (hal.Pipeline, hal.Result) {
	rp := d.renderPasses.get(uint64(desc.RenderPass))
	if rp == nil {
		return 0, hal.ErrorUnknown
	}
	stages := make([]vk.PipelineShaderStageCreateInfo, 0, len(desc.Stages))
	for _, s := range desc.Stages {
		stages = append(stages, vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(s.Stage),
			Module: d.shaders.get(uint64(s.Module)),
			PName:  cString(s.Entry),
		})
	}
	vertex := &vk.PipelineVertexInputStateCreateInfo{SType: vk.StructureTypePipelineVertexInputStateCreateInfo}
	if desc.VertexStride > 0 {
		vertex.VertexBindingDescriptionCount = 1
		vertex.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Stride:    desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}}
		for _, a := range desc.Attributes {
			vertex.PVertexAttributeDescriptions = append(vertex.PVertexAttributeDescriptions, vk.VertexInputAttributeDescription{
				Location: a.Location,
				Format:   vk.Format(a.Format),
				Offset:   a.Offset,
			})
		}
		vertex.VertexAttributeDescriptionCount = uint32(len(vertex.PVertexAttributeDescriptions))
	}
	cull := vk.CullModeFlags(vk.CullModeNone)
	if desc.CullBack {
		cull = vk.CullModeFlags(vk.CullModeBackBit)
	}
	front := vk.FrontFaceClockwise
	if desc.FrontFaceCCW {
		front = vk.FrontFaceCounterClockwise
	}
	lineWidth := desc.LineWidth
	if lineWidth <= 0 {
		lineWidth = 1
	}
	blend := make([]vk.PipelineColorBlendAttachmentState, desc.ColorAttachments)
	for i := range blend {
		blend[i].ColorWriteMask = vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit | vk.ColorComponentBBit | vk.ColorComponentABit)
	}
	dynamic := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}

	info := vk.GraphicsPipelineCreateInfo{
		SType:             vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:        uint32(len(stages)),
		PStages:           stages,
		PVertexInputState: vertex,
		PInputAssemblyState: &vk.PipelineInputAssemblyStateCreateInfo{
			SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
			Topology: vk.PrimitiveTopologyTriangleList,
		},
		PViewportState: &vk.PipelineViewportStateCreateInfo{
			SType:         vk.StructureTypePipelineViewportStateCreateInfo,
			ViewportCount: 1,
			ScissorCount:  1,
		},
		PRasterizationState: &vk.PipelineRasterizationStateCreateInfo{
			SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
			PolygonMode: vk.PolygonMode(desc.Polygon),
			CullMode:    cull,
			FrontFace:   front,
			LineWidth:   lineWidth,
		},
		PMultisampleState: &vk.PipelineMultisampleStateCreateInfo{
			SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
			RasterizationSamples: vk.SampleCount1Bit,
		},
		PDepthStencilState: &vk.PipelineDepthStencilStateCreateInfo{
			SType:            vk.StructureTypePipelineDepthStencilStateCreateInfo,
			DepthTestEnable:  boolean(desc.DepthTest),
			DepthWriteEnable: boolean(desc.DepthTest),
			DepthCompareOp:   vk.CompareOp(desc.DepthCompare),
		},
		PColorBlendState: &vk.PipelineColorBlendStateCreateInfo{
			SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
			AttachmentCount: uint32(len(blend)),
			PAttachments:    blend,
		},
		PDynamicState: &vk.PipelineDynamicStateCreateInfo{
			SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
			DynamicStateCount: uint32(len(dynamic)),
			PDynamicStates:    dynamic,
		},
		Layout:     d.pipeLayouts.get(uint64(desc.Layout)),
		RenderPass: rp.rp,
	}
	pipelines := make([]vk.Pipeline, 1)
	ret := vk.CreateGraphicsPipelines(d.dev, vk.PipelineCache(vk.NullHandle), 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipelines)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.Pipeline(d.pipelines.put(pipelines[0])), hal.Success
}

func (d *Device) DestroyPipeline(p hal.Pipeline) {
	if v, ok := d.pipelines.take(uint64(p)); ok {
		vk.DestroyPipeline(d.dev, v, nil)
	}
}

func (d *Device) CreateFramebuffer(desc *hal.FramebufferDesc) (hal.Framebuffer, hal.Result) {
	rp := d.renderPasses.get(uint64(desc.RenderPass))
	if rp == nil {
		return 0, hal.ErrorUnknown
	}
	views := make([]vk.ImageView, 0, len(desc.Attachments))
	for _, v := range desc.Attachments {
		views = append(views, d.views.get(uint64(v)))
	}
	var fb vk.Framebuffer
	ret := vk.CreateFramebuffer(d.dev, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.rp,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Width,
		Height:          desc.Height,
		Layers:          max(desc.Layers, 1),
	}, nil, &fb)
	if ret != vk.Success {
		return 0, result(ret)
	}
	return hal.Framebuffer(d.framebuffers.put(fb)), hal.Success
}

func (d *Device) DestroyFramebuffer(fb hal.Framebuffer) {
	if v, ok := d.framebuffers.take(uint64(fb)); ok {
		vk.DestroyFramebuffer(d.dev, v, nil)
	}
}
