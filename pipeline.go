package dieselrhi

import (
	"fmt"

	"github.com/andewx/dieselrhi/hal"
)

const pushStages = hal.ShaderStageVertex | hal.ShaderStageFragment

type VertexAttribute int

const (
	Vec2 VertexAttribute = iota
	Vec3
	Vec4
)

func (a VertexAttribute) format() hal.Format {
	switch a {
	case Vec2:
		return hal.FormatR32G32Sfloat
	case Vec3:
		return hal.FormatR32G32B32Sfloat
	}
	return hal.FormatR32G32B32A32Sfloat
}

func (a VertexAttribute) Size() uint32 { return a.format().TexelSize() }

// RasterMode selects filled triangles or outlines of the given width.
type RasterMode struct {
	Outline   bool
	LineWidth float32
}

var Fill = RasterMode{}

func Outline(width float32) RasterMode { return RasterMode{Outline: true, LineWidth: width} }

// RenderPipelineDesc is everything a graphics pipeline is built from. Sets
// lists the bindings of each descriptor set; Stride 0 packs the attributes.
type RenderPipelineDesc struct {
	Vertex           *Shader
	Fragment         *Shader
	Outputs          []OutputInfo
	Sets             [][]DBindingType
	Attributes       []VertexAttribute
	Stride           uint32
	Raster           RasterMode
	PushConstantSize uint32
}

// RenderPipeline owns a render pass, its pipeline layout with one descriptor
// set layout per set, and the graphics pipeline. Viewport and scissor are
// dynamic; culling is back-face with counter-clockwise front faces and
// blending is off.
type RenderPipeline struct {
	dev        *Device
	renderPass hal.RenderPass
	layout     hal.PipelineLayout
	pipeline   hal.Pipeline
	setLayouts []*DescriptorSetLayout
	outputs    []OutputInfo
	pushSize   uint32
	inflight
}

func (d *Device) CreateRenderPipeline(desc RenderPipelineDesc) (*RenderPipeline, error) {
	const op = "create render pipeline"
	if desc.Vertex == nil {
		return nil, usageError(op, fmt.Errorf("no vertex shader"))
	}
	if len(desc.Outputs) == 0 {
		return nil, usageError(op, fmt.Errorf("no outputs"))
	}
	if desc.PushConstantSize%4 != 0 {
		return nil, usageError(op, fmt.Errorf("push constant size %d is not a multiple of 4", desc.PushConstantSize))
	}
	attachments, err := attachmentDescs(desc.Outputs)
	if err != nil {
		return nil, usageError(op, err)
	}

	p := &RenderPipeline{dev: d, outputs: append([]OutputInfo(nil), desc.Outputs...), pushSize: desc.PushConstantSize}
	b := newBuilder()
	defer b.rollback()

	rp, r := d.raw.CreateRenderPass(attachments)
	if err := check("create render pass", KindCreate, r); err != nil {
		return nil, err
	}
	b.push(func() { d.raw.DestroyRenderPass(rp) })
	p.renderPass = rp

	sets := make([]hal.DescriptorSetLayout, 0, len(desc.Sets))
	for _, bindings := range desc.Sets {
		l, err := d.CreateDescriptorSetLayout(bindings)
		if err != nil {
			return nil, err
		}
		b.push(l.Destroy)
		p.setLayouts = append(p.setLayouts, l)
		sets = append(sets, l.h)
	}

	var stages hal.ShaderStage
	if desc.PushConstantSize > 0 {
		stages = pushStages
	}
	layout, r := d.raw.CreatePipelineLayout(sets, desc.PushConstantSize, stages)
	if err := check("create pipeline layout", KindCreate, r); err != nil {
		return nil, err
	}
	b.push(func() { d.raw.DestroyPipelineLayout(layout) })
	p.layout = layout

	gp := hal.GraphicsPipelineDesc{
		Layout:       layout,
		RenderPass:   rp,
		Stages:       []hal.ShaderStageDesc{{Module: desc.Vertex.h, Entry: desc.Vertex.entry, Stage: hal.ShaderStageVertex}},
		Polygon:      hal.PolygonFill,
		LineWidth:    1,
		CullBack:     true,
		FrontFaceCCW: true,
		DepthCompare: hal.CompareLess,
	}
	if desc.Fragment != nil {
		gp.Stages = append(gp.Stages, hal.ShaderStageDesc{Module: desc.Fragment.h, Entry: desc.Fragment.entry, Stage: hal.ShaderStageFragment})
	}
	if desc.Raster.Outline {
		gp.Polygon, gp.LineWidth = hal.PolygonLine, desc.Raster.LineWidth
	}
	var offset uint32
	for i, a := range desc.Attributes {
		gp.Attributes = append(gp.Attributes, hal.VertexAttributeDesc{Location: uint32(i), Offset: offset, Format: a.format()})
		offset += a.Size()
	}
	gp.VertexStride = desc.Stride
	if gp.VertexStride == 0 {
		gp.VertexStride = offset
	}
	for _, o := range desc.Outputs {
		if o.Format.IsDepth() {
			gp.DepthTest = true
		} else {
			gp.ColorAttachments++
		}
	}
	pl, r := d.raw.CreateGraphicsPipeline(&gp)
	if err := check("create graphics pipeline", KindCreate, r); err != nil {
		return nil, err
	}
	p.pipeline = pl
	b.commit()
	return p, nil
}

func (p *RenderPipeline) Outputs() []OutputInfo { return p.outputs }

// SetLayout is the layout of descriptor set i.
func (p *RenderPipeline) SetLayout(i int) *DescriptorSetLayout {
	if i < 0 || i >= len(p.setLayouts) {
		return nil
	}
	return p.setLayouts[i]
}

// NewDAlloc returns an allocator for descriptor set i of the pipeline.
func (p *RenderPipeline) NewDAlloc(set int) (*DAlloc, error) {
	l := p.SetLayout(set)
	if l == nil {
		return nil, usageError("create descriptor allocator", fmt.Errorf("set %d of %d", set, len(p.setLayouts)))
	}
	return newDAlloc(p.dev, l), nil
}

func (p *RenderPipeline) Destroy() {
	if p.pipeline == 0 {
		return
	}
	p.dev.queue.waitSerial(p.lastSerial())
	p.dev.raw.DestroyPipeline(p.pipeline)
	p.dev.raw.DestroyPipelineLayout(p.layout)
	for _, l := range p.setLayouts {
		l.Destroy()
	}
	p.dev.raw.DestroyRenderPass(p.renderPass)
	p.pipeline = 0
}
