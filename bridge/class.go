package bridge

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

// Class is the script-side counterpart of a native class descriptor. It owns
// the global class table (constructor and method trampolines) and the
// metatable shared by all wrapped instances. Superclass members are reached
// through the __index chain of the class table; nothing is copied.
type Class struct {
	Desc  *meta.Class
	Super *Class

	registry     *Registry
	table        *lua.LTable
	instanceMeta *lua.LTable
}

// Name returns the script-visible class name.
func (c *Class) Name() string { return c.Desc.Name }

// Table returns the global class table.
func (c *Class) Table() *lua.LTable { return c.table }

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

func newClass(L *lua.LState, r *Registry, desc *meta.Class, super *Class) *Class {
	c := &Class{Desc: desc, Super: super, registry: r}

	c.table = L.NewTable()
	c.table.RawSetString("new", L.NewFunction(c.construct))
	for _, name := range desc.MethodNames() {
		c.table.RawSetString(name, L.NewFunction(c.trampoline(name)))
	}
	if desc == RootClass {
		c.table.RawSetString("className", L.NewFunction(c.className))
		c.table.RawSetString("isA", L.NewFunction(c.isA))
	}

	classMeta := L.NewTable()
	if super != nil {
		classMeta.RawSetString("__index", super.table)
	}
	classMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(desc.Name))
		return 1
	}))
	L.SetMetatable(c.table, classMeta)

	c.instanceMeta = L.NewTable()
	c.instanceMeta.RawSetString("__index", L.NewFunction(c.index))
	c.instanceMeta.RawSetString("__newindex", L.NewFunction(c.newIndex))
	c.instanceMeta.RawSetString("__tostring", L.NewFunction(c.toString))
	c.instanceMeta.RawSetString("__eq", r.eq)
	c.instanceMeta.RawSetString("__name", lua.LString(desc.Name))
	return c
}

// ---------------------------------------------------------------------------
// Instance metamethods
// ---------------------------------------------------------------------------

// index resolves obj.key: properties first, then the class table chain.
func (c *Class) index(L *lua.LState) int {
	w := c.checkWrapper(L, 1)
	key, ok := L.Get(2).(lua.LString)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	if prop := w.class.Desc.Property(string(key)); prop != nil {
		obj := c.resolve(L, w, string(key))
		v, err := c.callGetter(prop, obj)
		if err != nil {
			c.registry.RaiseError(L, err)
		}
		L.Push(c.registry.ToLua(L, v))
		return 1
	}
	L.Push(L.GetField(w.class.table, string(key)))
	return 1
}

func (c *Class) newIndex(L *lua.LState) int {
	w := c.checkWrapper(L, 1)
	key := L.CheckString(2)
	prop := w.class.Desc.Property(key)
	if prop == nil {
		c.registry.Raise(L, meta.NoMethodError, "undefined property '%s' for %s", key, w.class.Name())
	}
	if prop.ReadOnly() {
		c.registry.Raise(L, meta.NoMethodError, "property '%s' of %s is read-only", key, w.class.Name())
	}
	v, ok := prop.Type.Coerce(c.registry.FromLua(L, L.Get(3)))
	if !ok {
		c.registry.Raise(L, meta.TypeError, "cannot assign %s to %s.%s (%s)",
			typeName(L.Get(3)), w.class.Name(), key, prop.Type)
	}
	obj := c.resolve(L, w, key)
	if err := c.callSetter(prop, obj, v); err != nil {
		c.registry.RaiseError(L, err)
	}
	return 0
}

func (c *Class) toString(L *lua.LState) int {
	w := c.checkWrapper(L, 1)
	obj, ok := object.Resolve(w.handle)
	switch {
	case !ok:
		L.Push(lua.LString(fmt.Sprintf("#<%s (destroyed)>", w.class.Name())))
	default:
		if s, ok := obj.(fmt.Stringer); ok {
			L.Push(lua.LString(s.String()))
		} else {
			L.Push(lua.LString(fmt.Sprintf("#<%s>", w.class.Name())))
		}
	}
	return 1
}

func (r *Registry) instanceEq(L *lua.LState) int {
	a, aok := L.Get(1).(*lua.LUserData)
	b, bok := L.Get(2).(*lua.LUserData)
	if !aok || !bok {
		L.Push(lua.LFalse)
		return 1
	}
	wa, aok := a.Value.(*wrapper)
	wb, bok := b.Value.(*wrapper)
	L.Push(lua.LBool(aok && bok && wa.handle == wb.handle))
	return 1
}

// ---------------------------------------------------------------------------
// Root class methods
// ---------------------------------------------------------------------------

func (c *Class) className(L *lua.LState) int {
	w := c.checkWrapper(L, 1)
	L.Push(lua.LString(w.class.Name()))
	return 1
}

func (c *Class) isA(L *lua.LState) int {
	w := c.checkWrapper(L, 1)
	tb, ok := L.Get(2).(*lua.LTable)
	if !ok {
		c.registry.Raise(L, meta.TypeError, "class expected, got %s", typeName(L.Get(2)))
	}
	other := c.registry.classOfTable(tb)
	L.Push(lua.LBool(other != nil && w.class.IsSubclassOf(other)))
	return 1
}

// ---------------------------------------------------------------------------
// Receivers
// ---------------------------------------------------------------------------

// checkWrapper returns the wrapper at stack index n or raises TypeError.
func (c *Class) checkWrapper(L *lua.LState, n int) *wrapper {
	if ud, ok := L.Get(n).(*lua.LUserData); ok {
		if w, ok := ud.Value.(*wrapper); ok {
			return w
		}
	}
	c.registry.Raise(L, meta.TypeError, "%s instance expected, got %s", c.Name(), typeName(L.Get(n)))
	return nil
}

// receiver validates the receiver of a method call and resolves its object.
func (c *Class) receiver(L *lua.LState, method string) (*wrapper, object.Object) {
	v := L.Get(1)
	ud, ok := v.(*lua.LUserData)
	var w *wrapper
	if ok {
		w, _ = ud.Value.(*wrapper)
	}
	if w == nil || !w.class.IsSubclassOf(c) {
		c.registry.Raise(L, meta.TypeError, "%s#%s called on %s (use obj:%s(...))",
			c.Name(), method, typeName(v), method)
	}
	return w, c.resolve(L, w, method)
}

func (c *Class) resolve(L *lua.LState, w *wrapper, member string) object.Object {
	obj, ok := object.Resolve(w.handle)
	if !ok {
		c.registry.Raise(L, meta.RuntimeError, "%s#%s: object has been destroyed", w.class.Name(), member)
	}
	return obj
}

func (c *Class) callGetter(p *meta.Property, obj object.Object) (v variant.Value, err error) {
	defer recoverNative(&err)
	return p.Get(obj)
}

func (c *Class) callSetter(p *meta.Property, obj object.Object, v variant.Value) (err error) {
	defer recoverNative(&err)
	return p.Set(obj, v)
}
