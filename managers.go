package dieselrhi

import (
	"fmt"
	"time"
)

// Frame is one slot of a FrameRing: a command buffer to record the frame
// into and a binary semaphore the frame's submission signals for present.
type Frame struct {
	Index      int
	Commands   *CommandBuffer
	RenderDone *Semaphore

	value uint64
}

// Encoder begins recording the frame's command buffer.
func (f *Frame) Encoder() (*CommandEncoder, error) { return f.Commands.Encoder() }

// FrameRing keeps a fixed number of frames in flight. One timeline semaphore
// tracks GPU progress for every slot: each submission signals the next value
// and Begin waits until the slot's previous value was reached, after which the
// slot's command buffer and everything it referenced may be reused.
// The ring is not thread-safe; render from one goroutine per ring.
type FrameRing struct {
	dev      *Device
	timeline *Semaphore
	frames   []*Frame
	next     int
	value    uint64
}

// NewFrameRing creates n frames. n <= 0 uses Usage.FramesInFlight.
func NewFrameRing(dev *Device, n int) (*FrameRing, error) {
	if n <= 0 {
		n = dev.usage.FramesInFlight
	}
	if n > MaxFramesInFlight {
		return nil, usageError("create frame ring", fmt.Errorf("%d frames in flight, at most %d", n, MaxFramesInFlight))
	}
	b := newBuilder()
	defer b.rollback()

	tl, err := dev.CreateTimelineSemaphore(0)
	if err != nil {
		return nil, err
	}
	b.push(tl.Destroy)
	ring := &FrameRing{dev: dev, timeline: tl}
	for i := range n {
		cb, err := dev.CreateCommandBuffer()
		if err != nil {
			return nil, err
		}
		b.push(cb.Destroy)
		sem, err := dev.CreateSemaphore(Binary)
		if err != nil {
			return nil, err
		}
		b.push(sem.Destroy)
		ring.frames = append(ring.frames, &Frame{Index: i, Commands: cb, RenderDone: sem})
	}
	b.commit()
	return ring, nil
}

func (r *FrameRing) Len() int { return len(r.frames) }

// Timeline is the semaphore frame submissions signal.
func (r *FrameRing) Timeline() *Semaphore { return r.timeline }

// Begin returns the next frame once the GPU finished its previous use. When
// the wait times out the ring does not advance and the error is kind Timeout;
// the caller skips the frame and tries again.
func (r *FrameRing) Begin(timeout time.Duration) (*Frame, error) {
	f := r.frames[r.next]
	if f.value > 0 {
		if err := r.timeline.WaitFor(f.value, timeout); err != nil {
			if IsKind(err, KindTimeout) {
				Logger().Debug("dieselrhi: frame skipped", "frame", f.Index, "waiting_for", f.value)
			}
			return nil, err
		}
	}
	r.next = (r.next + 1) % len(r.frames)
	return f, nil
}

// Submit submits the frame's finalized command buffer. When presentable is
// set the submission also signals f.RenderDone, which must then be consumed
// by Swapchain.PresentImage before the frame comes round again.
func (r *FrameRing) Submit(f *Frame, waits []SemSubmit, presentable bool) error {
	value := r.value + 1
	signals := []SemSubmit{r.timeline.SubmitInfo(value)}
	if presentable {
		signals = append(signals, f.RenderDone.SubmitInfo(0))
	}
	if err := f.Commands.Submit(waits, signals, nil); err != nil {
		return err
	}
	r.value, f.value = value, value
	return nil
}

// Destroy waits for the queue and releases every frame.
func (r *FrameRing) Destroy() {
	if err := r.dev.queue.WaitIdle(); err != nil {
		Logger().Error("dieselrhi: destroy frame ring", "err", err)
	}
	for _, f := range r.frames {
		f.Commands.Destroy()
		f.RenderDone.Destroy()
	}
	r.frames = nil
	r.timeline.Destroy()
}
