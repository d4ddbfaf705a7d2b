package dieselrhi

import (
	"time"

	"github.com/andewx/dieselrhi/hal"
)

// NoTimeout makes a wait block until it is satisfied.
const NoTimeout time.Duration = -1

func timeoutNanos(d time.Duration) uint64 {
	if d < 0 {
		return hal.WaitForever
	}
	return uint64(d.Nanoseconds())
}

// waitError classifies the result of a blocking wait. A timeout is reported
// with its own kind so callers can treat it as non-fatal.
func waitError(op string, r hal.Result) error {
	switch {
	case r == hal.Timeout:
		return &Error{Op: op, Kind: KindTimeout, Result: r, Caller: caller(2)}
	case r.Failed():
		return &Error{Op: op, Kind: KindSync, Result: r, Caller: caller(2)}
	}
	return nil
}

// Fence is a binary CPU-observable signal. It must be reset before reuse.
type Fence struct {
	dev *Device
	h   hal.Fence
	inflight
}

func (d *Device) CreateFence(signaled bool) (*Fence, error) {
	h, r := d.raw.CreateFence(signaled)
	if err := check("create fence", KindCreate, r); err != nil {
		return nil, err
	}
	return &Fence{dev: d, h: h}, nil
}

func (f *Fence) Handle() hal.Fence { return f.h }

func (f *Fence) Wait(timeout time.Duration) error {
	return waitError("wait fence", f.dev.raw.WaitForFence(f.h, timeoutNanos(timeout)))
}

func (f *Fence) Reset() error {
	return check("reset fence", KindSync, f.dev.raw.ResetFence(f.h))
}

func (f *Fence) Signaled() (bool, error) {
	r := f.dev.raw.FenceStatus(f.h)
	if err := check("fence status", KindSync, r); err != nil {
		return false, err
	}
	return r == hal.Success, nil
}

func (f *Fence) Destroy() {
	if f.h == 0 {
		return
	}
	f.dev.queue.waitSerial(f.lastSerial())
	f.dev.raw.DestroyFence(f.h)
	f.h = 0
}

type SemaphoreKind int

const (
	Binary SemaphoreKind = iota
	Timeline
)

func (k SemaphoreKind) String() string {
	if k == Timeline {
		return "timeline"
	}
	return "binary"
}

// Semaphore orders GPU work. Binary semaphores carry one signal per wait;
// timeline semaphores carry a monotonically increasing counter that both the
// host and the queue can wait on.
type Semaphore struct {
	dev  *Device
	h    hal.Semaphore
	kind SemaphoreKind
	inflight
}

// SemSubmit is one wait or signal operation of a submission. Value is
// ignored for binary semaphores. Stage is the wait stage; zero means all
// commands.
type SemSubmit struct {
	Sem   *Semaphore
	Value uint64
	Stage hal.PipelineStage
}

func (d *Device) CreateSemaphore(kind SemaphoreKind) (*Semaphore, error) {
	if kind == Timeline {
		return d.CreateTimelineSemaphore(0)
	}
	h, r := d.raw.CreateSemaphore(hal.SemaphoreBinary, 0)
	if err := check("create semaphore", KindCreate, r); err != nil {
		return nil, err
	}
	return &Semaphore{dev: d, h: h, kind: Binary}, nil
}

func (d *Device) CreateTimelineSemaphore(initial uint64) (*Semaphore, error) {
	h, r := d.raw.CreateSemaphore(hal.SemaphoreTimeline, initial)
	if err := check("create timeline semaphore", KindCreate, r); err != nil {
		return nil, err
	}
	return &Semaphore{dev: d, h: h, kind: Timeline}, nil
}

func (s *Semaphore) Kind() SemaphoreKind { return s.kind }

func (s *Semaphore) Handle() hal.Semaphore { return s.h }

// SubmitInfo pairs the semaphore with a value for Submit. Binary semaphores
// drop the value.
func (s *Semaphore) SubmitInfo(value uint64) SemSubmit {
	if s.kind == Binary {
		value = 0
	}
	return SemSubmit{Sem: s, Value: value}
}

func (s *Semaphore) timelineOnly(op string) error {
	if s.kind != Timeline {
		return &Error{Op: op, Kind: KindUsage, Err: ErrUnsupportedSemaphore, Caller: caller(2)}
	}
	return nil
}

// WaitFor blocks until the counter reaches value.
func (s *Semaphore) WaitFor(value uint64, timeout time.Duration) error {
	if err := s.timelineOnly("semaphore wait"); err != nil {
		return err
	}
	return waitError("semaphore wait", s.dev.raw.WaitSemaphore(s.h, value, timeoutNanos(timeout)))
}

func (s *Semaphore) Value() (uint64, error) {
	if err := s.timelineOnly("semaphore value"); err != nil {
		return 0, err
	}
	v, r := s.dev.raw.SemaphoreValue(s.h)
	if err := check("semaphore value", KindSync, r); err != nil {
		return 0, err
	}
	return v, nil
}

// Signal sets the counter from the host. The value must be above the
// current one.
func (s *Semaphore) Signal(value uint64) error {
	if err := s.timelineOnly("semaphore signal"); err != nil {
		return err
	}
	return check("semaphore signal", KindSync, s.dev.raw.SignalSemaphore(s.h, value))
}

func (s *Semaphore) Destroy() {
	if s.h == 0 {
		return
	}
	s.dev.queue.waitSerial(s.lastSerial())
	s.dev.raw.DestroySemaphore(s.h)
	s.h = 0
}
