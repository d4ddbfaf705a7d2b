package dieselrhi

import (
	"fmt"
	"sync"
	"time"

	"github.com/andewx/dieselrhi/hal"
)

//Queue is the device's single graphics queue. Besides the caller's waits and
//signals, every submission signals an internal timeline semaphore with a
//fresh serial; resources referenced by the submission are stamped with it so
//their teardown can wait for exactly the work that used them.
type Queue struct {
	dev *Device

	mu       sync.Mutex
	timeline hal.Semaphore
	serial   uint64
	once     sync.Once
}

func newQueue(d *Device) (*Queue, error) {
	h, r := d.raw.CreateSemaphore(hal.SemaphoreTimeline, 0)
	if err := check("create queue timeline", KindCreate, r); err != nil {
		return nil, err
	}
	return &Queue{dev: d, timeline: h}, nil
}

func (q *Queue) destroy() {
	q.once.Do(func() { q.dev.raw.DestroySemaphore(q.timeline) })
}

// Serial is the serial of the most recent submission.
func (q *Queue) Serial() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.serial
}

// Completed is the highest serial the GPU has finished.
func (q *Queue) Completed() (uint64, error) {
	v, r := q.dev.raw.SemaphoreValue(q.timeline)
	if err := check("queue completed", KindSync, r); err != nil {
		return 0, err
	}
	return v, nil
}

// waitSerial blocks until the submission with the given serial finished.
func (q *Queue) waitSerial(serial uint64) {
	if serial == 0 {
		return
	}
	if err := waitError("wait serial", q.dev.raw.WaitSemaphore(q.timeline, serial, hal.WaitForever)); err != nil {
		Logger().Error("dieselrhi: wait for queue serial", "serial", serial, "err", err)
	}
}

func semSubmits(in []SemSubmit, op string) ([]hal.SemaphoreSubmit, error) {
	out := make([]hal.SemaphoreSubmit, 0, len(in)+1)
	for _, s := range in {
		if s.Sem == nil {
			return nil, usageError(op, fmt.Errorf("nil semaphore"))
		}
		stage := s.Stage
		if stage == 0 {
			stage = hal.StageAllCommands
		}
		value := s.Value
		if s.Sem.kind == Binary {
			value = 0
		}
		out = append(out, hal.SemaphoreSubmit{Semaphore: s.Sem.h, Value: value, Stage: stage})
	}
	return out, nil
}

// Submit hands finalized command buffers to the GPU. Ordering against other
// submissions exists only through the given waits, signals and fence.
func (q *Queue) Submit(cbs []*CommandBuffer, waits, signals []SemSubmit, fence *Fence) error {
	const op = "queue submit"
	if len(cbs) == 0 && len(waits) == 0 && len(signals) == 0 && fence == nil {
		return nil
	}
	for _, cb := range cbs {
		switch cb.state {
		case cbExecutable:
		case cbSubmitted:
			// resubmission of the same recording
			q.waitSerial(cb.lastSerial())
		default:
			return usageError(op, fmt.Errorf("command buffer is %s, not finalized", cb.state))
		}
	}
	w, err := semSubmits(waits, op)
	if err != nil {
		return err
	}
	s, err := semSubmits(signals, op)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	serial := q.serial + 1
	s = append(s, hal.SemaphoreSubmit{Semaphore: q.timeline, Value: serial, Stage: hal.StageAllCommands})
	desc := hal.SubmitDesc{Wait: w, Signal: s}
	for _, cb := range cbs {
		desc.CommandBuffers = append(desc.CommandBuffers, cb.h)
	}
	var fh hal.Fence
	if fence != nil {
		fh = fence.h
	}
	if err := check(op, KindSubmit, q.dev.raw.QueueSubmit(&desc, fh)); err != nil {
		return err
	}
	q.serial = serial
	for _, cb := range cbs {
		cb.state = cbSubmitted
		cb.stamp(serial)
		for _, t := range cb.touched {
			t.stamp(serial)
		}
	}
	for _, x := range waits {
		x.Sem.stamp(serial)
	}
	for _, x := range signals {
		x.Sem.stamp(serial)
	}
	if fence != nil {
		fence.stamp(serial)
	}
	return nil
}

func (q *Queue) WaitIdle() error {
	return check("queue wait idle", KindSync, q.dev.raw.QueueWaitIdle())
}

type cbState int

const (
	cbInitial cbState = iota
	cbRecording
	cbExecutable
	cbSubmitted
)

func (s cbState) String() string {
	switch s {
	case cbRecording:
		return "recording"
	case cbExecutable:
		return "executable"
	case cbSubmitted:
		return "submitted"
	}
	return "initial"
}

// CommandBuffer is a reusable recording target allocated from the device's
// command pool.
type CommandBuffer struct {
	dev     *Device
	h       hal.CommandBuffer
	state   cbState
	touched []*inflight
	inflight
}

func (d *Device) CreateCommandBuffer() (*CommandBuffer, error) {
	d.poolMu.Lock()
	h, r := d.raw.AllocateCommandBuffer(d.pool)
	d.poolMu.Unlock()
	if err := check("allocate command buffer", KindCreate, r); err != nil {
		return nil, err
	}
	return &CommandBuffer{dev: d, h: h}, nil
}

func (cb *CommandBuffer) Handle() hal.CommandBuffer { return cb.h }

// Encoder begins a new recording. A buffer still executing from its previous
// submission is waited for first.
func (cb *CommandBuffer) Encoder() (*CommandEncoder, error) {
	if cb.state == cbRecording {
		return nil, usageError("begin recording", ErrEncoderState)
	}
	cb.dev.queue.waitSerial(cb.lastSerial())
	if err := check("begin recording", KindRecord, cb.dev.raw.BeginCommandBuffer(cb.h)); err != nil {
		return nil, err
	}
	cb.state = cbRecording
	cb.touched = cb.touched[:0]
	return newEncoder(cb), nil
}

func (cb *CommandBuffer) Submit(waits, signals []SemSubmit, fence *Fence) error {
	return cb.dev.queue.Submit([]*CommandBuffer{cb}, waits, signals, fence)
}

// Wait blocks until the last submission of this buffer has completed.
func (cb *CommandBuffer) Wait(timeout time.Duration) error {
	serial := cb.lastSerial()
	if serial == 0 {
		return nil
	}
	return waitError("command buffer wait", cb.dev.raw.WaitSemaphore(cb.dev.queue.timeline, serial, timeoutNanos(timeout)))
}

func (cb *CommandBuffer) Destroy() {
	if cb.h == 0 {
		return
	}
	cb.dev.queue.waitSerial(cb.lastSerial())
	cb.dev.poolMu.Lock()
	cb.dev.raw.FreeCommandBuffer(cb.dev.pool, cb.h)
	cb.dev.poolMu.Unlock()
	cb.h = 0
}

func (cb *CommandBuffer) touch(f *inflight) {
	cb.touched = append(cb.touched, f)
}
