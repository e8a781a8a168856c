// Package object defines the identity and lifetime of native objects that can
// cross into a scripting VM.
//
// A script never holds a Go pointer to a native object. It holds a Handle, an
// index into a process-wide arena plus a generation counter. Destroying an
// object bumps the generation of its slot, so every handle minted before the
// destruction stops resolving. This is how a script-side reference to a
// deleted object degrades to null instead of dangling.
//
// The arena references objects weakly. An object nobody else holds is
// collected as usual and its handles stop resolving as if it had been
// destroyed, though its destroy hooks do not run.
package object

import (
	"fmt"
	"sync"
)

// Object is implemented by every native object that can be exposed to a VM.
// Host types get the implementation by embedding Base.
type Object interface {
	ObjectBase() *Base
}

// Base carries the bookkeeping for an Object. Embed it by value in host
// structs and always use the host struct through a pointer.
type Base struct {
	mu        sync.Mutex
	self      Object
	handle    Handle
	destroyed bool
	onDestroy []func()
}

// ObjectBase implements Object.
func (b *Base) ObjectBase() *Base { return b }

// Destroy marks the object as deleted and revokes every handle to it.
// Destroying twice is a no-op.
func (b *Base) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	h := b.handle
	hooks := b.onDestroy
	b.onDestroy = nil
	b.self = nil
	b.mu.Unlock()

	if !h.IsZero() {
		objects.release(h)
	}
	for _, fn := range hooks {
		fn()
	}
}

// Destroyed reports whether Destroy has been called.
func (b *Base) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// OnDestroy registers fn to run once when the object is destroyed. If the
// object is already destroyed fn runs immediately.
func (b *Base) OnDestroy(fn func()) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		fn()
		return
	}
	b.onDestroy = append(b.onDestroy, fn)
	b.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// Handle is a revocable reference to an Object. The zero Handle resolves to
// nothing.
type Handle struct {
	index      uint32
	generation uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.generation == 0 }

func (h Handle) String() string {
	if h.IsZero() {
		return "handle(nil)"
	}
	return fmt.Sprintf("handle(%d#%d)", h.index, h.generation)
}

// HandleOf returns the handle of o, allocating one on first use. A nil or
// destroyed object yields the zero handle.
func HandleOf(o Object) Handle {
	if o == nil {
		return Handle{}
	}
	b := o.ObjectBase()
	if b == nil {
		return Handle{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return Handle{}
	}
	if b.handle.IsZero() {
		b.self = o
		b.handle = objects.acquire(b)
	}
	return b.handle
}

// Resolve returns the object behind h. It fails once the object has been
// destroyed, even if its slot has since been reused.
func Resolve(h Handle) (Object, bool) {
	return objects.resolve(h)
}

// Live returns the number of objects holding a handle that are neither
// destroyed nor collected.
func Live() int {
	return objects.live()
}

// IsLive reports whether o is non-nil and not destroyed.
func IsLive(o Object) bool {
	if o == nil {
		return false
	}
	b := o.ObjectBase()
	return b != nil && !b.Destroyed()
}
