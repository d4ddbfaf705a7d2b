package haltest

import (
	"github.com/andewx/dieselrhi/hal"
)

const spirvMagic = 0x07230203

type shader struct{ words int }

func (*shader) kind() string { return "shader" }

type setLayout struct{ bindings []hal.DescriptorBinding }

func (*setLayout) kind() string { return "set_layout" }

type pipelineLayout struct {
	sets     []uint64
	pushSize uint32
}

func (*pipelineLayout) kind() string { return "pipeline_layout" }

type descriptorPool struct {
	maxSets   uint32
	allocated uint32
	free      map[hal.DescriptorType]uint32
}

func (*descriptorPool) kind() string { return "descriptor_pool" }

type descriptorSet struct {
	pool    uint64
	layout  uint64
	written map[uint32]bool
}

func (*descriptorSet) kind() string { return "descriptor_set" }

type renderPass struct{ attachments []hal.AttachmentDesc }

func (*renderPass) kind() string { return "render_pass" }

type pipeline struct {
	layout uint64
	pass   uint64
}

func (*pipeline) kind() string { return "pipeline" }

type framebuffer struct {
	pass  uint64
	views []uint64
	w, h  uint32
}

func (*framebuffer) kind() string { return "framebuffer" }

func (d *Device) CreateShaderModule(code []uint32) (hal.ShaderModule, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateShaderModule"); r != hal.Success {
		return 0, r
	}
	if len(code) < 5 || code[0] != spirvMagic {
		d.violate("create shader module: not a SPIR-V module (%d words)", len(code))
		return 0, hal.ErrorValidationFailed
	}
	return hal.ShaderModule(d.add(&shader{words: len(code)})), hal.Success
}

func (d *Device) DestroyShaderModule(m hal.ShaderModule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyShaderModule")
	d.remove(uint64(m), "shader")
}

func (d *Device) CreateDescriptorSetLayout(bindings []hal.DescriptorBinding) (hal.DescriptorSetLayout, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateDescriptorSetLayout"); r != hal.Success {
		return 0, r
	}
	seen := map[uint32]bool{}
	for _, b := range bindings {
		if seen[b.Binding] {
			d.violate("create descriptor set layout: duplicate binding %d", b.Binding)
			return 0, hal.ErrorValidationFailed
		}
		seen[b.Binding] = true
	}
	return hal.DescriptorSetLayout(d.add(&setLayout{bindings: append([]hal.DescriptorBinding(nil), bindings...)})), hal.Success
}

func (d *Device) DestroyDescriptorSetLayout(l hal.DescriptorSetLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyDescriptorSetLayout")
	d.remove(uint64(l), "set_layout")
}

func (d *Device) CreatePipelineLayout(sets []hal.DescriptorSetLayout, pushConstantSize uint32, pushStages hal.ShaderStage) (hal.PipelineLayout, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreatePipelineLayout"); r != hal.Success {
		return 0, r
	}
	pl := &pipelineLayout{pushSize: pushConstantSize}
	for _, s := range sets {
		if _, ok := lookup[*setLayout](d, uint64(s), "create pipeline layout"); !ok {
			return 0, hal.ErrorValidationFailed
		}
		pl.sets = append(pl.sets, uint64(s))
	}
	if pushConstantSize%4 != 0 || pushConstantSize > 128 {
		d.violate("create pipeline layout: push constant size %d", pushConstantSize)
		return 0, hal.ErrorValidationFailed
	}
	if pushConstantSize > 0 && pushStages == 0 {
		d.violate("create pipeline layout: push constants without stages")
		return 0, hal.ErrorValidationFailed
	}
	return hal.PipelineLayout(d.add(pl)), hal.Success
}

func (d *Device) DestroyPipelineLayout(l hal.PipelineLayout) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyPipelineLayout")
	d.remove(uint64(l), "pipeline_layout")
}

func (d *Device) CreateDescriptorPool(desc *hal.DescriptorPoolDesc) (hal.DescriptorPool, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateDescriptorPool"); r != hal.Success {
		return 0, r
	}
	if desc.MaxSets == 0 {
		d.violate("create descriptor pool: zero max sets")
		return 0, hal.ErrorValidationFailed
	}
	p := &descriptorPool{maxSets: desc.MaxSets, free: map[hal.DescriptorType]uint32{}}
	if d.maxSets > 0 {
		p.maxSets = min(p.maxSets, d.maxSets)
	}
	for _, s := range desc.Sizes {
		p.free[s.Type] += s.Count
	}
	return hal.DescriptorPool(d.add(p)), hal.Success
}

// DestroyDescriptorPool implicitly frees every set allocated from the pool.
func (d *Device) DestroyDescriptorPool(pool hal.DescriptorPool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyDescriptorPool")
	if !d.remove(uint64(pool), "descriptor_pool") {
		return
	}
	for h, o := range d.objects {
		if s, ok := o.(*descriptorSet); ok && s.pool == uint64(pool) {
			if d.inflight[h] > 0 {
				d.violate("destroy descriptor pool %#x: set %#x is referenced by a pending submission", pool, h)
			}
			delete(d.objects, h)
		}
	}
}

func (d *Device) AllocateDescriptorSet(pool hal.DescriptorPool, layout hal.DescriptorSetLayout) (hal.DescriptorSet, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("AllocateDescriptorSet"); r != hal.Success {
		return 0, r
	}
	p, ok := lookup[*descriptorPool](d, uint64(pool), "allocate descriptor set")
	if !ok {
		return 0, hal.ErrorValidationFailed
	}
	l, ok := lookup[*setLayout](d, uint64(layout), "allocate descriptor set")
	if !ok {
		return 0, hal.ErrorValidationFailed
	}
	if p.allocated >= p.maxSets {
		return 0, hal.ErrorOutOfPoolMemory
	}
	need := map[hal.DescriptorType]uint32{}
	for _, b := range l.bindings {
		need[b.Type] += b.Count
	}
	for t, n := range need {
		if p.free[t] < n {
			return 0, hal.ErrorOutOfPoolMemory
		}
	}
	for t, n := range need {
		p.free[t] -= n
	}
	p.allocated++
	set := &descriptorSet{pool: uint64(pool), layout: uint64(layout), written: map[uint32]bool{}}
	return hal.DescriptorSet(d.add(set)), hal.Success
}

func (d *Device) UpdateDescriptorSet(set hal.DescriptorSet, writes []hal.DescriptorWrite) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("UpdateDescriptorSet")
	s, ok := lookup[*descriptorSet](d, uint64(set), "update descriptor set")
	if !ok {
		return
	}
	if d.inflight[uint64(set)] > 0 {
		d.violate("update descriptor set %#x while referenced by a pending submission", set)
	}
	l, ok := lookup[*setLayout](d, s.layout, "update descriptor set")
	if !ok {
		return
	}
	for _, w := range writes {
		var binding *hal.DescriptorBinding
		for i := range l.bindings {
			if l.bindings[i].Binding == w.Binding {
				binding = &l.bindings[i]
			}
		}
		if binding == nil {
			d.violate("update descriptor set: binding %d not in layout", w.Binding)
			continue
		}
		if binding.Type != w.Type {
			d.violate("update descriptor set: binding %d has type %d, write has %d", w.Binding, binding.Type, w.Type)
			continue
		}
		n := uint32(len(w.Buffers) + len(w.Images))
		if n == 0 || w.ArrayElement+n > binding.Count {
			d.violate("update descriptor set: binding %d elements [%d,+%d) of %d", w.Binding, w.ArrayElement, n, binding.Count)
			continue
		}
		for _, b := range w.Buffers {
			if buf, ok := lookup[*buffer](d, uint64(b.Buffer), "update descriptor set"); ok {
				want := hal.BufferUsageUniform
				if w.Type == hal.DescriptorStorageBuffer {
					want = hal.BufferUsageStorage
				}
				if buf.usage&want == 0 {
					d.violate("update descriptor set: buffer %#x lacks usage %#x", b.Buffer, want)
				}
			}
		}
		for _, im := range w.Images {
			if im.View != 0 {
				lookup[*view](d, uint64(im.View), "update descriptor set")
			}
			if w.Type == hal.DescriptorCombinedImageSampler || w.Type == hal.DescriptorSampler {
				lookup[*sampler](d, uint64(im.Sampler), "update descriptor set")
			}
		}
		s.written[w.Binding] = true
	}
}

func (d *Device) CreateRenderPass(attachments []hal.AttachmentDesc) (hal.RenderPass, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateRenderPass"); r != hal.Success {
		return 0, r
	}
	depth := 0
	for i, a := range attachments {
		if a.Format.TexelSize() == 0 {
			d.violate("create render pass: attachment %d has unknown format %d", i, a.Format)
			return 0, hal.ErrorValidationFailed
		}
		if a.Format.IsDepth() {
			depth++
		}
		if a.FinalLayout == hal.LayoutUndefined {
			d.violate("create render pass: attachment %d final layout is Undefined", i)
			return 0, hal.ErrorValidationFailed
		}
	}
	if depth > 1 {
		d.violate("create render pass: %d depth attachments", depth)
		return 0, hal.ErrorValidationFailed
	}
	return hal.RenderPass(d.add(&renderPass{attachments: append([]hal.AttachmentDesc(nil), attachments...)})), hal.Success
}

func (d *Device) DestroyRenderPass(rp hal.RenderPass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyRenderPass")
	d.remove(uint64(rp), "render_pass")
}

func (d *Device) CreateGraphicsPipeline(desc *hal.GraphicsPipelineDesc) (hal.Pipeline, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateGraphicsPipeline"); r != hal.Success {
		return 0, r
	}
	if _, ok := lookup[*pipelineLayout](d, uint64(desc.Layout), "create graphics pipeline"); !ok {
		return 0, hal.ErrorValidationFailed
	}
	rp, ok := lookup[*renderPass](d, uint64(desc.RenderPass), "create graphics pipeline")
	if !ok {
		return 0, hal.ErrorValidationFailed
	}
	var stages hal.ShaderStage
	for _, s := range desc.Stages {
		if _, ok := lookup[*shader](d, uint64(s.Module), "create graphics pipeline"); !ok {
			return 0, hal.ErrorValidationFailed
		}
		if s.Entry == "" {
			d.violate("create graphics pipeline: empty entry point")
			return 0, hal.ErrorValidationFailed
		}
		stages |= s.Stage
	}
	if stages&hal.ShaderStageVertex == 0 {
		d.violate("create graphics pipeline: no vertex stage")
		return 0, hal.ErrorValidationFailed
	}
	colour := uint32(0)
	for _, a := range rp.attachments {
		if !a.Format.IsDepth() {
			colour++
		}
	}
	if desc.ColorAttachments != colour {
		d.violate("create graphics pipeline: %d blend states for %d colour attachments", desc.ColorAttachments, colour)
		return 0, hal.ErrorValidationFailed
	}
	for _, a := range desc.Attributes {
		if a.Offset+a.Format.TexelSize() > desc.VertexStride {
			d.violate("create graphics pipeline: attribute %d ends past stride %d", a.Location, desc.VertexStride)
			return 0, hal.ErrorValidationFailed
		}
	}
	if desc.Polygon == hal.PolygonLine && desc.LineWidth <= 0 {
		d.violate("create graphics pipeline: line width %v", desc.LineWidth)
		return 0, hal.ErrorValidationFailed
	}
	return hal.Pipeline(d.add(&pipeline{layout: uint64(desc.Layout), pass: uint64(desc.RenderPass)})), hal.Success
}

func (d *Device) DestroyPipeline(p hal.Pipeline) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyPipeline")
	d.remove(uint64(p), "pipeline")
}

func (d *Device) CreateFramebuffer(desc *hal.FramebufferDesc) (hal.Framebuffer, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateFramebuffer"); r != hal.Success {
		return 0, r
	}
	rp, ok := lookup[*renderPass](d, uint64(desc.RenderPass), "create framebuffer")
	if !ok {
		return 0, hal.ErrorValidationFailed
	}
	if len(desc.Attachments) != len(rp.attachments) {
		d.violate("create framebuffer: %d views for %d attachments", len(desc.Attachments), len(rp.attachments))
		return 0, hal.ErrorValidationFailed
	}
	fb := &framebuffer{pass: uint64(desc.RenderPass), w: desc.Width, h: desc.Height}
	for i, vh := range desc.Attachments {
		v, ok := lookup[*view](d, uint64(vh), "create framebuffer")
		if !ok {
			return 0, hal.ErrorValidationFailed
		}
		if v.desc.Format != rp.attachments[i].Format {
			d.violate("create framebuffer: view %d format %d, attachment wants %d", i, v.desc.Format, rp.attachments[i].Format)
			return 0, hal.ErrorValidationFailed
		}
		img, ok := lookup[*image](d, v.image, "create framebuffer")
		if !ok {
			return 0, hal.ErrorValidationFailed
		}
		mip := v.desc.Range.BaseMip
		if mipSize(img.desc.Width, mip) < desc.Width || mipSize(img.desc.Height, mip) < desc.Height {
			d.violate("create framebuffer: view %d smaller than %dx%d", i, desc.Width, desc.Height)
			return 0, hal.ErrorValidationFailed
		}
		fb.views = append(fb.views, uint64(vh))
	}
	return hal.Framebuffer(d.add(fb)), hal.Success
}

func (d *Device) DestroyFramebuffer(fb hal.Framebuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyFramebuffer")
	d.remove(uint64(fb), "framebuffer")
}
