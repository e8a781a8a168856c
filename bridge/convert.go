package bridge

import (
	"math"

	lua "github.com/yuin/gopher-lua"

	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

// ---------------------------------------------------------------------------
// Value conversion
// ---------------------------------------------------------------------------

// wrapper is the payload of an object userdata. It holds a revocable handle,
// never the object itself, so a destroyed object cannot be reached from the
// VM.
type wrapper struct {
	handle object.Handle
	class  *Class
}

// ToLua converts v for L's VM, installing the VM's registry if needed.
func ToLua(L *lua.LState, v variant.Value) lua.LValue {
	return For(L).ToLua(L, v)
}

// TryToLua is ToLua for host code running outside a VM call.
func TryToLua(L *lua.LState, v variant.Value) (lua.LValue, error) {
	return For(L).TryToLua(L, v)
}

// FromLua converts a VM value, installing the VM's registry if needed.
func FromLua(L *lua.LState, lv lua.LValue) variant.Value {
	return For(L).FromLua(L, lv)
}

// ToLua converts v into a VM value. A value the VM cannot hold exactly
// raises ArgumentError in L, so call it only from inside a VM call.
func (r *Registry) ToLua(L *lua.LState, v variant.Value) lua.LValue {
	lv, err := r.TryToLua(L, v)
	if err != nil {
		r.RaiseError(L, err)
	}
	return lv
}

// TryToLua converts v into a VM value.
//
// Ints and Floats both become numbers; an Int with no exact float64 form
// (beyond ±2^53 in general) is refused with an ArgumentError. Symbols become
// strings. Lists and maps become tables tagged with a marker metatable so
// they convert back to the same kind. A Null inside a list or map is stored
// as the registry's null sentinel, since a table cannot hold nil. Objects
// become userdata typed by their bridge class; the same live object always
// yields the same userdata. A destroyed object converts to nil.
func (r *Registry) TryToLua(L *lua.LState, v variant.Value) (lua.LValue, error) {
	lv, err := r.toLua(L, v)
	if err != nil {
		return lua.LNil, err
	}
	if lv == r.null {
		return lua.LNil, nil
	}
	return lv, nil
}

func (r *Registry) toLua(L *lua.LState, v variant.Value) (lua.LValue, error) {
	switch v.Kind() {
	case variant.KindNull:
		return r.null, nil
	case variant.KindBool:
		return lua.LBool(v.AsBool()), nil
	case variant.KindInt:
		i := v.AsInt()
		if !variant.ExactFloat(i) {
			return nil, meta.ArgumentErrorf("integer %d has no exact script number", i)
		}
		return lua.LNumber(float64(i)), nil
	case variant.KindFloat:
		return lua.LNumber(v.AsFloat()), nil
	case variant.KindString, variant.KindSymbol:
		return lua.LString(v.AsString()), nil
	case variant.KindList:
		list := v.AsList()
		tb := L.CreateTable(len(list), 0)
		for i, e := range list {
			lv, err := r.toLua(L, e)
			if err != nil {
				return nil, err
			}
			tb.RawSetInt(i+1, lv)
		}
		tb.Metatable = r.listMeta
		return tb, nil
	case variant.KindMap:
		m := v.AsMap()
		tb := L.CreateTable(0, m.Len())
		for _, e := range m.Entries() {
			k, err := r.toLua(L, e.Key)
			if err != nil {
				return nil, err
			}
			if n, ok := k.(lua.LNumber); ok && math.IsNaN(float64(n)) {
				continue
			}
			if k == r.null && !e.Key.IsNull() {
				// Destroyed object key.
				continue
			}
			val, err := r.toLua(L, e.Value)
			if err != nil {
				return nil, err
			}
			tb.RawSet(k, val)
		}
		tb.Metatable = r.mapMeta
		return tb, nil
	case variant.KindObject:
		if ud := r.wrap(L, v.AsObject(), nil); ud != lua.LNil {
			return ud, nil
		}
		return r.null, nil
	}
	return r.null, nil
}

// wrap returns the userdata for o. hint, when set, is the class the object
// was constructed through and wins over lookup by type. A cached userdata
// is moved to a more derived class registered since it was made.
func (r *Registry) wrap(L *lua.LState, o object.Object, hint *Class) lua.LValue {
	h := object.HandleOf(o)
	if h.IsZero() {
		return lua.LNil
	}
	class := hint
	if class == nil {
		class = r.classOf(L, o)
	}

	r.mu.Lock()
	if ud := r.wrappers[h]; ud != nil {
		if w := ud.Value.(*wrapper); w.class != class && class.IsSubclassOf(w.class) {
			log.Debugf("%s: rewrapped as %s", h, class.Name())
			w.class = class
			ud.Metatable = class.instanceMeta
		}
		r.mu.Unlock()
		return ud
	}
	r.sweepLocked()
	ud := L.NewUserData()
	ud.Value = &wrapper{handle: h, class: class}
	ud.Metatable = class.instanceMeta
	r.wrappers[h] = ud
	r.mu.Unlock()

	o.ObjectBase().OnDestroy(func() { r.forget(h) })
	return ud
}

// sweepLocked drops wrappers of objects that were garbage collected, which
// never run their destroy hooks. It runs each time the table doubles.
func (r *Registry) sweepLocked() {
	if len(r.wrappers) < r.sweepAt {
		return
	}
	for h := range r.wrappers {
		if _, ok := object.Resolve(h); !ok {
			delete(r.wrappers, h)
		}
	}
	r.sweepAt = max(minSweep, 2*len(r.wrappers))
}

// Sweep drops the wrappers of collected objects now.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepAt = 0
	r.sweepLocked()
}

// Wrappers returns the number of cached object userdata.
func (r *Registry) Wrappers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.wrappers)
}

// FromLua converts a VM value into a Value.
//
// Numbers become Int when integral (and not negative zero), else Float.
// The null sentinel becomes Null.
// Tagged tables convert back to their kind. Untagged tables whose keys are
// exactly 1..n, including the empty table, become Lists; other tables become
// Maps. Object userdata resolve to their object, or Null once it has been
// destroyed. Exceptions convert to their message. Functions, threads,
// channels and class tables have no value form and become Null.
func (r *Registry) FromLua(L *lua.LState, lv lua.LValue) variant.Value {
	return r.fromLua(L, lv, nil)
}

func (r *Registry) fromLua(L *lua.LState, lv lua.LValue, seen map[*lua.LTable]bool) variant.Value {
	switch v := lv.(type) {
	case lua.LBool:
		return variant.Bool(bool(v))
	case lua.LNumber:
		f := float64(v)
		if variant.IntegralFloat(f) && !(f == 0 && math.Signbit(f)) {
			return variant.Int(int64(f))
		}
		return variant.Float(f)
	case lua.LString:
		return variant.String(string(v))
	case *lua.LUserData:
		if v == r.null {
			return variant.Null
		}
		switch x := v.Value.(type) {
		case *wrapper:
			if o, ok := object.Resolve(x.handle); ok {
				return variant.Object(o)
			}
		case *Exception:
			return variant.String(x.Message)
		}
		return variant.Null
	case *lua.LTable:
		if r.classOfTable(v) != nil {
			return variant.Null
		}
		if seen[v] {
			// Cyclic tables cannot be represented.
			return variant.Null
		}
		if seen == nil {
			seen = make(map[*lua.LTable]bool)
		}
		seen[v] = true
		defer delete(seen, v)
		return r.fromTable(L, v, seen)
	}
	return variant.Null
}

func (r *Registry) fromTable(L *lua.LState, tb *lua.LTable, seen map[*lua.LTable]bool) variant.Value {
	switch tb.Metatable {
	case r.listMeta:
		return variant.List(r.tableList(L, tb, seen)...)
	case r.mapMeta:
		return variant.MapValue(r.tableMap(L, tb, seen))
	}

	count, maxKey := 0, 0
	sequence := true
	tb.ForEach(func(k, _ lua.LValue) {
		count++
		n, ok := k.(lua.LNumber)
		if !ok || float64(n) < 1 || float64(n) != math.Trunc(float64(n)) {
			sequence = false
			return
		}
		if int(n) > maxKey {
			maxKey = int(n)
		}
	})
	if sequence && maxKey == count {
		return variant.List(r.tableList(L, tb, seen)...)
	}
	return variant.MapValue(r.tableMap(L, tb, seen))
}

func (r *Registry) tableList(L *lua.LState, tb *lua.LTable, seen map[*lua.LTable]bool) []variant.Value {
	n := 0
	tb.ForEach(func(k, _ lua.LValue) {
		if i, ok := k.(lua.LNumber); ok && int(i) > n && float64(i) == math.Trunc(float64(i)) {
			n = int(i)
		}
	})
	out := make([]variant.Value, n)
	for i := 1; i <= n; i++ {
		out[i-1] = r.fromLua(L, tb.RawGetInt(i), seen)
	}
	return out
}

func (r *Registry) tableMap(L *lua.LState, tb *lua.LTable, seen map[*lua.LTable]bool) *variant.Map {
	m := variant.NewMap()
	tb.ForEach(func(k, v lua.LValue) {
		key := r.fromLua(L, k, seen)
		if key.IsNull() && k != r.null {
			return
		}
		m.Set(key, r.fromLua(L, v, seen))
	})
	return m
}
