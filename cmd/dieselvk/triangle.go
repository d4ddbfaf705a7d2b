package main

import (
	_ "embed"
	"encoding/binary"
	"math"
	"time"

	"github.com/andewx/dieselrhi"
	"github.com/pkg/errors"
	lin "github.com/xlab/linmath"
)

//go:embed triangle.wgsl
var triangleWGSL string

// x, y, r, g, b
var vertices = []float32{
	0.0, -0.6, 1, 0, 0,
	0.6, 0.5, 0, 1, 0,
	-0.6, 0.5, 0, 0, 1,
}

var indices = []uint16{0, 1, 2}

type triangle struct {
	dev      *dieselrhi.Device
	display  *dieselrhi.Display
	ring     *dieselrhi.FrameRing
	vs, fs   *dieselrhi.Shader
	pipeline *dieselrhi.RenderPipeline
	outputs  []*dieselrhi.RenderOutput
	vbuf     *dieselrhi.Buffer
	ibuf     *dieselrhi.Buffer
	start    time.Time
}

func newTriangle(dev *dieselrhi.Device, win dieselrhi.Window, frames int) (_ *triangle, err error) {
	t := &triangle{dev: dev, start: time.Now()}
	defer func() {
		if err != nil {
			t.Destroy()
		}
	}()

	if t.vs, err = dev.CompileShader(triangleWGSL, "vs_main", dieselrhi.VertexStage); err != nil {
		return nil, err
	}
	if t.fs, err = dev.CompileShader(triangleWGSL, "fs_main", dieselrhi.FragmentStage); err != nil {
		return nil, err
	}
	if t.display, err = dieselrhi.NewDisplay(dev, win); err != nil {
		return nil, err
	}
	if err = t.buildPipeline(); err != nil {
		return nil, err
	}
	if err = t.buildOutputs(); err != nil {
		return nil, err
	}

	vdata := floatBytes(vertices)
	if t.vbuf, err = dev.CreateBuffer(uint64(len(vdata)), dieselrhi.BufferVertex, dieselrhi.CpuToGpu); err != nil {
		return nil, err
	}
	if err = t.vbuf.Write(0, vdata); err != nil {
		return nil, err
	}
	idata := make([]byte, 0, 2*len(indices))
	for _, i := range indices {
		idata = binary.LittleEndian.AppendUint16(idata, i)
	}
	if t.ibuf, err = dev.CreateBuffer(uint64(len(idata)), dieselrhi.BufferIndex, dieselrhi.CpuToGpu); err != nil {
		return nil, err
	}
	if err = t.ibuf.Write(0, idata); err != nil {
		return nil, err
	}

	if t.ring, err = dieselrhi.NewFrameRing(dev, frames); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *triangle) buildPipeline() error {
	if t.pipeline != nil {
		t.pipeline.Destroy()
	}
	p, err := t.dev.CreateRenderPipeline(dieselrhi.RenderPipelineDesc{
		Vertex:   t.vs,
		Fragment: t.fs,
		Outputs: []dieselrhi.OutputInfo{
			{Format: t.display.Swapchain().Format(), Clear: true, Store: true},
		},
		Attributes:       []dieselrhi.VertexAttribute{dieselrhi.Vec2, dieselrhi.Vec3},
		PushConstantSize: 64,
	})
	if err != nil {
		return errors.Wrap(err, "triangle pipeline")
	}
	t.pipeline = p
	return nil
}

// buildOutputs makes one render output per swapchain image. The views it
// wraps are replaced on every rebuild, so the outputs must be too.
func (t *triangle) buildOutputs() error {
	t.releaseOutputs()
	sc := t.display.Swapchain()
	for i := 0; i < sc.Len(); i++ {
		out, err := t.pipeline.NewOutput(sc.View(uint32(i)))
		if err != nil {
			return errors.Wrapf(err, "output for image %d", i)
		}
		t.outputs = append(t.outputs, out)
	}
	return nil
}

func (t *triangle) releaseOutputs() {
	for _, o := range t.outputs {
		o.Destroy()
	}
	t.outputs = t.outputs[:0]
}

func (t *triangle) refresh() error {
	rebuilt, err := t.display.Refresh()
	if err != nil || !rebuilt {
		return err
	}
	if t.display.Swapchain().Format() != t.pipeline.Outputs()[0].Format {
		t.releaseOutputs()
		if err := t.buildPipeline(); err != nil {
			return err
		}
	}
	return t.buildOutputs()
}

func (t *triangle) transform() []byte {
	ext := t.display.Swapchain().Extent()
	aspect := float32(ext.Width) / float32(max(ext.Height, 1))

	var proj, vkProj, view, model, id lin.Mat4x4
	proj.Perspective(lin.DegreesToRadians(45), aspect, 0.1, 10)
	dieselrhi.VulkanProjection(&vkProj, &proj, false)
	view.LookAt(&lin.Vec3{0, 0, 2.5}, &lin.Vec3{0, 0, 0}, &lin.Vec3{0, 1, 0})
	id.Identity()
	model.Rotate(&id, 0, 0, 1, float32(time.Since(t.start).Seconds()))
	mvp := dieselrhi.MVP(&vkProj, &view, &model)
	return dieselrhi.MatrixBytes(&mvp)
}

// Frame records and presents one frame. Out of date and timed out frames are
// dropped; the next call rebuilds or retries.
func (t *triangle) Frame() error {
	if err := t.refresh(); err != nil {
		return err
	}
	f, err := t.ring.Begin(time.Second)
	if dieselrhi.IsKind(err, dieselrhi.KindTimeout) {
		return nil
	} else if err != nil {
		return err
	}

	sc := t.display.Swapchain()
	index, _, err := sc.AcquireImage()
	if errors.Is(err, dieselrhi.ErrOutOfDate) {
		return nil
	} else if err != nil {
		return err
	}
	img := sc.Image(index)

	enc, err := f.Encoder()
	if err != nil {
		return err
	}
	enc.TransitionImage(img, dieselrhi.Undefined)
	r := enc.StartRenderPipeline(t.pipeline, t.outputs[index], []dieselrhi.ClearValue{
		dieselrhi.ClearColour(0.05, 0.05, 0.08, 1),
	})
	r.BindVertexBuffers(t.vbuf)
	r.BindIndexBuffer(t.ibuf, dieselrhi.IndexU16)
	r.PushConstants(0, t.transform())
	r.DrawIndexed(uint32(len(indices)), 1, 0, 0, 0)
	r.End()
	enc.TransitionImage(img, dieselrhi.Present)
	if err := enc.Finalize(); err != nil {
		return err
	}
	if err := t.ring.Submit(f, nil, true); err != nil {
		return err
	}

	if _, err := sc.PresentImage(index, f.RenderDone); err != nil && !errors.Is(err, dieselrhi.ErrOutOfDate) {
		return err
	}
	return nil
}

func (t *triangle) Destroy() {
	if t.ring != nil {
		t.ring.Destroy()
	}
	t.releaseOutputs()
	for _, b := range []*dieselrhi.Buffer{t.vbuf, t.ibuf} {
		if b != nil {
			b.Destroy()
		}
	}
	if t.pipeline != nil {
		t.pipeline.Destroy()
	}
	for _, s := range []*dieselrhi.Shader{t.vs, t.fs} {
		if s != nil {
			s.Destroy()
		}
	}
	if t.display != nil {
		t.display.Destroy()
	}
}

func floatBytes(fs []float32) []byte {
	out := make([]byte, 0, 4*len(fs))
	for _, f := range fs {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(f))
	}
	return out
}
