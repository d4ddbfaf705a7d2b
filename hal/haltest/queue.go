package haltest

import (
	"github.com/andewx/dieselrhi/hal"
)

type fence struct {
	signaled bool
	pending  bool
}

func (*fence) kind() string { return "fence" }

type semaphore struct {
	typ   hal.SemaphoreType
	value uint64
	// binary bookkeeping
	signaled       bool
	pendingSignals int
	pendingWaits   int
	// highest timeline value a pending submission will signal
	maxPending uint64
}

func (*semaphore) kind() string { return "semaphore" }

// outstanding is the number of binary signals not yet claimed by a wait.
func (s *semaphore) outstanding() int {
	n := s.pendingSignals - s.pendingWaits
	if s.signaled {
		n++
	}
	return n
}

type presentOp struct {
	swapchain uint64
	index     uint32
}

type submission struct {
	cbs     []uint64
	waits   []hal.SemaphoreSubmit
	signals []hal.SemaphoreSubmit
	fence   uint64
	refs    []uint64
	present *presentOp
}

// run is the queue worker: it executes submissions in order once their
// semaphore waits are satisfied.
func (d *Device) run() {
	defer d.worker.Done()
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		for !d.closed && (len(d.queue) == 0 || d.held || !d.ready(d.queue[0])) {
			d.cond.Wait()
		}
		if d.closed {
			return
		}
		d.execute(d.queue[0])
		d.queue = d.queue[1:]
		d.cond.Broadcast()
	}
}

func (d *Device) ready(s *submission) bool {
	for _, w := range s.waits {
		sem, ok := d.objects[uint64(w.Semaphore)].(*semaphore)
		if !ok {
			continue
		}
		if sem.typ == hal.SemaphoreBinary && !sem.signaled {
			return false
		}
		if sem.typ == hal.SemaphoreTimeline && sem.value < w.Value {
			return false
		}
	}
	return true
}

func (d *Device) execute(s *submission) {
	for _, w := range s.waits {
		if sem, ok := d.objects[uint64(w.Semaphore)].(*semaphore); ok && sem.typ == hal.SemaphoreBinary {
			sem.signaled = false
			sem.pendingWaits--
		}
	}
	for _, h := range s.cbs {
		c, ok := d.objects[h].(*commandBuffer)
		if !ok {
			d.violate("execute: command buffer %#x destroyed while pending", h)
			continue
		}
		for _, op := range c.ops {
			op(d)
		}
		c.state = cbExecutable
	}
	if s.present != nil {
		d.executePresent(s.present)
	}
	for _, sig := range s.signals {
		sem, ok := d.objects[uint64(sig.Semaphore)].(*semaphore)
		if !ok {
			continue
		}
		if sem.typ == hal.SemaphoreBinary {
			sem.signaled = true
			sem.pendingSignals--
		} else {
			sem.value = max(sem.value, sig.Value)
		}
	}
	if f, ok := d.objects[s.fence].(*fence); ok {
		f.signaled, f.pending = true, false
	}
	for _, h := range s.refs {
		if d.inflight[h]--; d.inflight[h] <= 0 {
			delete(d.inflight, h)
		}
	}
}

// enqueue validates the synchronization of a submission and hands it to the
// worker. mu must be held.
func (d *Device) enqueue(s *submission) hal.Result {
	for _, w := range s.waits {
		sem, ok := lookup[*semaphore](d, uint64(w.Semaphore), "queue submit wait")
		if !ok {
			return hal.ErrorValidationFailed
		}
		s.refs = append(s.refs, uint64(w.Semaphore))
		if sem.typ == hal.SemaphoreBinary {
			if sem.outstanding() < 1 {
				d.violate("queue submit: wait on binary semaphore %#x that has no signal pending", w.Semaphore)
				return hal.ErrorValidationFailed
			}
			sem.pendingWaits++
		}
	}
	for _, sig := range s.signals {
		sem, ok := lookup[*semaphore](d, uint64(sig.Semaphore), "queue submit signal")
		if !ok {
			return hal.ErrorValidationFailed
		}
		s.refs = append(s.refs, uint64(sig.Semaphore))
		if sem.typ == hal.SemaphoreBinary {
			if sem.outstanding() > 0 {
				d.violate("queue submit: signal of binary semaphore %#x that is already signaled", sig.Semaphore)
				return hal.ErrorValidationFailed
			}
			sem.pendingSignals++
			continue
		}
		if sig.Value <= sem.value || sig.Value <= sem.maxPending {
			d.violate("queue submit: timeline semaphore %#x signal %d not above %d", sig.Semaphore, sig.Value, max(sem.value, sem.maxPending))
			return hal.ErrorValidationFailed
		}
		sem.maxPending = sig.Value
	}
	if s.fence != 0 {
		f, ok := lookup[*fence](d, s.fence, "queue submit fence")
		if !ok {
			return hal.ErrorValidationFailed
		}
		if f.signaled || f.pending {
			d.violate("queue submit: fence %#x is not reset", s.fence)
			return hal.ErrorValidationFailed
		}
		f.pending = true
		s.refs = append(s.refs, s.fence)
	}
	for _, h := range s.refs {
		d.inflight[h]++
	}
	d.queue = append(d.queue, s)
	d.cond.Broadcast()
	return hal.Success
}

func (d *Device) QueueSubmit(desc *hal.SubmitDesc, f hal.Fence) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("QueueSubmit"); r != hal.Success {
		return r
	}
	s := &submission{
		waits:   append([]hal.SemaphoreSubmit(nil), desc.Wait...),
		signals: append([]hal.SemaphoreSubmit(nil), desc.Signal...),
		fence:   uint64(f),
	}
	for _, cb := range desc.CommandBuffers {
		c, ok := lookup[*commandBuffer](d, uint64(cb), "queue submit")
		if !ok {
			return hal.ErrorValidationFailed
		}
		if c.state != cbExecutable {
			d.violate("queue submit: command buffer %#x is not executable (state %d)", cb, c.state)
			return hal.ErrorValidationFailed
		}
		s.cbs = append(s.cbs, uint64(cb))
		s.refs = append(s.refs, uint64(cb))
		s.refs = append(s.refs, c.refs...)
	}
	if r := d.enqueue(s); r != hal.Success {
		return r
	}
	for _, h := range s.cbs {
		d.objects[h].(*commandBuffer).state = cbPending
	}
	d.submits++
	return hal.Success
}

func (d *Device) QueueWaitIdle() hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("QueueWaitIdle"); r != hal.Success {
		return r
	}
	return d.waitLocked(d.idle, hal.WaitForever)
}

func (d *Device) CreateFence(signaled bool) (hal.Fence, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateFence"); r != hal.Success {
		return 0, r
	}
	return hal.Fence(d.add(&fence{signaled: signaled})), hal.Success
}

func (d *Device) DestroyFence(f hal.Fence) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroyFence")
	d.remove(uint64(f), "fence")
}

func (d *Device) WaitForFence(f hal.Fence, timeout uint64) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("WaitForFence"); r != hal.Success {
		return r
	}
	fc, ok := lookup[*fence](d, uint64(f), "wait for fence")
	if !ok {
		return hal.ErrorValidationFailed
	}
	if !fc.signaled && !fc.pending && timeout == hal.WaitForever {
		d.violate("wait for fence %#x: fence is neither signaled nor pending", f)
		return hal.Timeout
	}
	return d.waitLocked(func() bool { return fc.signaled }, timeout)
}

func (d *Device) ResetFence(f hal.Fence) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("ResetFence"); r != hal.Success {
		return r
	}
	fc, ok := lookup[*fence](d, uint64(f), "reset fence")
	if !ok {
		return hal.ErrorValidationFailed
	}
	if fc.pending {
		d.violate("reset fence %#x: fence is pending", f)
		return hal.ErrorValidationFailed
	}
	fc.signaled = false
	return hal.Success
}

func (d *Device) FenceStatus(f hal.Fence) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("FenceStatus"); r != hal.Success {
		return r
	}
	fc, ok := lookup[*fence](d, uint64(f), "fence status")
	if !ok {
		return hal.ErrorValidationFailed
	}
	if fc.signaled {
		return hal.Success
	}
	return hal.NotReady
}

func (d *Device) CreateSemaphore(t hal.SemaphoreType, initial uint64) (hal.Semaphore, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("CreateSemaphore"); r != hal.Success {
		return 0, r
	}
	if t == hal.SemaphoreTimeline && !d.info.TimelineSemaphores {
		return 0, hal.ErrorFeatureNotPresent
	}
	if t == hal.SemaphoreBinary && initial != 0 {
		d.violate("create semaphore: binary semaphore with initial value %d", initial)
		return 0, hal.ErrorValidationFailed
	}
	return hal.Semaphore(d.add(&semaphore{typ: t, value: initial})), hal.Success
}

func (d *Device) DestroySemaphore(s hal.Semaphore) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.call("DestroySemaphore")
	d.remove(uint64(s), "semaphore")
}

func (d *Device) timeline(s hal.Semaphore, what string) *semaphore {
	sem, ok := lookup[*semaphore](d, uint64(s), what)
	if !ok {
		return nil
	}
	if sem.typ != hal.SemaphoreTimeline {
		d.violate("%s: semaphore %#x is binary", what, s)
		return nil
	}
	return sem
}

func (d *Device) WaitSemaphore(s hal.Semaphore, value uint64, timeout uint64) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("WaitSemaphore"); r != hal.Success {
		return r
	}
	sem := d.timeline(s, "wait semaphore")
	if sem == nil {
		return hal.ErrorValidationFailed
	}
	return d.waitLocked(func() bool { return sem.value >= value }, timeout)
}

func (d *Device) SemaphoreValue(s hal.Semaphore) (uint64, hal.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("SemaphoreValue"); r != hal.Success {
		return 0, r
	}
	sem := d.timeline(s, "semaphore value")
	if sem == nil {
		return 0, hal.ErrorValidationFailed
	}
	return sem.value, hal.Success
}

func (d *Device) SignalSemaphore(s hal.Semaphore, value uint64) hal.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r := d.call("SignalSemaphore"); r != hal.Success {
		return r
	}
	sem := d.timeline(s, "signal semaphore")
	if sem == nil {
		return hal.ErrorValidationFailed
	}
	if value <= sem.value {
		d.violate("signal semaphore %#x: value %d not above current %d", s, value, sem.value)
		return hal.ErrorValidationFailed
	}
	sem.value = value
	d.cond.Broadcast()
	return hal.Success
}
