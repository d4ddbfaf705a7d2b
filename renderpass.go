package dieselrhi

import (
	"fmt"

	"github.com/andewx/dieselrhi/hal"
)

// OutputInfo describes one attachment of a render pipeline. Clear loads the
// attachment with its clear value, otherwise the previous contents are kept.
type OutputInfo struct {
	Format Format
	Clear  bool
	Store  bool
}

type ClearValue struct {
	Colour  [4]float32
	Depth   float32
	Stencil uint32
}

func ClearColour(r, g, b, a float32) ClearValue {
	return ClearValue{Colour: [4]float32{r, g, b, a}}
}

func ClearDepth(depth float32) ClearValue {
	return ClearValue{Depth: depth}
}

func (c ClearValue) hal() hal.ClearValue {
	return hal.ClearValue{Color: c.Colour, Depth: c.Depth, Stencil: c.Stencil}
}

//Attachments enter and leave the pass in the attachment layout; the encoder
//moves them there before the pass and out again afterwards.
func attachmentDescs(outputs []OutputInfo) ([]hal.AttachmentDesc, error) {
	descs := make([]hal.AttachmentDesc, len(outputs))
	depth := 0
	for i, o := range outputs {
		hf := o.Format.Hal()
		if hf == hal.FormatUndefined {
			return nil, fmt.Errorf("output %d has no format", i)
		}
		if o.Format.IsDepth() {
			depth++
		}
		layout := Attachment(ReadWrite).Layout(o.Format.IsDepth())
		descs[i] = hal.AttachmentDesc{
			Format:        hf,
			LoadOp:        hal.LoadOpLoad,
			StoreOp:       hal.StoreOpDontCare,
			InitialLayout: layout,
			FinalLayout:   layout,
			Layout:        layout,
		}
		if o.Clear {
			descs[i].LoadOp = hal.LoadOpClear
		}
		if o.Store {
			descs[i].StoreOp = hal.StoreOpStore
		}
	}
	if depth > 1 {
		return nil, fmt.Errorf("%d depth outputs", depth)
	}
	return descs, nil
}

// RenderOutput groups the image views a pipeline renders into, in the order
// of the pipeline's outputs.
type RenderOutput struct {
	dev    *Device
	views  []*ImageView
	fb     hal.Framebuffer
	extent hal.Extent2D
	inflight
}

// NewOutput binds views to the pipeline's outputs. The render area is the
// smallest extent among the views.
func (p *RenderPipeline) NewOutput(views ...*ImageView) (*RenderOutput, error) {
	const op = "create render output"
	if len(views) != len(p.outputs) {
		return nil, usageError(op, fmt.Errorf("%d views for %d outputs", len(views), len(p.outputs)))
	}
	var ext hal.Extent2D
	handles := make([]hal.ImageView, len(views))
	for i, v := range views {
		if f := v.image.Format(); f != p.outputs[i].Format {
			return nil, usageError(op, fmt.Errorf("view %d has format %s, output wants %s", i, f, p.outputs[i].Format))
		}
		e := v.Extent()
		if i == 0 {
			ext = e
		} else {
			ext.Width, ext.Height = min(ext.Width, e.Width), min(ext.Height, e.Height)
		}
		handles[i] = v.h
	}
	fb, r := p.dev.raw.CreateFramebuffer(&hal.FramebufferDesc{
		RenderPass:  p.renderPass,
		Attachments: handles,
		Width:       ext.Width,
		Height:      ext.Height,
		Layers:      1,
	})
	if err := check(op, KindCreate, r); err != nil {
		return nil, err
	}
	return &RenderOutput{dev: p.dev, views: append([]*ImageView(nil), views...), fb: fb, extent: ext}, nil
}

func (o *RenderOutput) Extent() hal.Extent2D { return o.extent }

func (o *RenderOutput) Views() []*ImageView { return o.views }

func (o *RenderOutput) Destroy() {
	if o.fb == 0 {
		return
	}
	o.dev.queue.waitSerial(o.lastSerial())
	o.dev.raw.DestroyFramebuffer(o.fb)
	o.fb = 0
}
