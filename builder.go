package dieselrhi

import "sync/atomic"

// builder owns the intermediate handles of a multi-step construction. Each
// successful step pushes its undo; rollback runs them in reverse unless the
// construction was committed.
//
//	b := newBuilder()
//	defer b.rollback()
//	h, r := dev.CreateBuffer(...)
//	b.push(func() { dev.DestroyBuffer(h) })
//	...
//	b.commit()
type builder struct {
	undo []func()
}

func newBuilder() *builder { return &builder{} }

func (b *builder) push(fn func()) { b.undo = append(b.undo, fn) }

func (b *builder) commit() { b.undo = nil }

func (b *builder) rollback() {
	for i := len(b.undo) - 1; i >= 0; i-- {
		b.undo[i]()
	}
	b.undo = nil
}

// inflight records the last queue serial that referenced a resource. Destroy
// waits for that serial before the handle is released.
type inflight struct {
	serial atomic.Uint64
}

func (f *inflight) stamp(serial uint64) {
	for {
		cur := f.serial.Load()
		if cur >= serial || f.serial.CompareAndSwap(cur, serial) {
			return
		}
	}
}

func (f *inflight) lastSerial() uint64 { return f.serial.Load() }
