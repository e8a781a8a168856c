package object

import (
	"runtime"
	"sync"
	"weak"
)

// arena maps handle indices to objects. A slot holds its object weakly:
// handing an object to a VM does not keep it alive. A slot is revoked when
// its object is destroyed or collected.
type arena struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

type slot struct {
	ref        weak.Pointer[Base]
	generation uint32
	used       bool
}

var objects = &arena{}

func (a *arena) acquire(b *Base) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}
	s := &a.slots[idx]
	s.generation++
	if s.generation == 0 {
		// Generation 0 marks the zero handle.
		s.generation = 1
	}
	s.ref = weak.Make(b)
	s.used = true
	h := Handle{index: idx, generation: s.generation}
	runtime.AddCleanup(b, a.release, h)
	return h
}

func (a *arena) release(h Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.index) >= len(a.slots) {
		return
	}
	s := &a.slots[h.index]
	if s.generation != h.generation || !s.used {
		return
	}
	*s = slot{generation: s.generation + 1}
	a.free = append(a.free, h.index)
}

func (a *arena) resolve(h Handle) (Object, bool) {
	if h.IsZero() {
		return nil, false
	}
	a.mu.Lock()
	if int(h.index) >= len(a.slots) {
		a.mu.Unlock()
		return nil, false
	}
	s := a.slots[h.index]
	a.mu.Unlock()
	if s.generation != h.generation || !s.used {
		return nil, false
	}
	b := s.ref.Value()
	if b == nil {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed || b.handle != h {
		return nil, false
	}
	return b.self, true
}

// live counts slots whose object is still reachable. A collected object
// stops counting before its cleanup frees the slot.
func (a *arena) live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for i := range a.slots {
		if a.slots[i].used && a.slots[i].ref.Value() != nil {
			n++
		}
	}
	return n
}
