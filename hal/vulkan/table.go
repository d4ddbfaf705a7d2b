package vulkan

import "sync"

// table maps the opaque hal handles onto binding objects. Handles start at 1
// so that zero keeps meaning null.
type table[T any] struct {
	mu   sync.RWMutex
	next uint64
	m    map[uint64]T
}

func (t *table[T]) put(v T) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.m == nil {
		t.m = make(map[uint64]T)
	}
	t.next++
	t.m[t.next] = v
	return t.next
}

// get returns the zero value for null or unknown handles.
func (t *table[T]) get(h uint64) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[h]
}

func (t *table[T]) take(h uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.m[h]
	delete(t.m, h)
	return v, ok
}

func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
