// Package bridge exposes native classes and objects to a Lua VM.
//
// Each VM gets one Registry, created on first use and found again from any
// thread of that VM. The registry builds a bridge class per native class
// descriptor, converts values in both directions and owns the VM's exception
// hierarchy.
package bridge

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/tliron/commonlog"
	lua "github.com/yuin/gopher-lua"

	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/object"
)

var log = commonlog.GetLogger("garnet.bridge")

const minSweep = 64

// RootClass is the implicit superclass of every bridged class. Objects whose
// Go type was never registered are wrapped as RootClass instances.
var RootClass = &meta.Class{Name: "Object"}

// ConfigError reports a class that cannot be registered.
type ConfigError struct {
	Class string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("bridge: cannot register class %s: %v", e.Class, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ---------------------------------------------------------------------------
// Per-VM registries
// ---------------------------------------------------------------------------

var (
	registriesMu sync.RWMutex
	registries   = make(map[*lua.Global]*Registry)
)

// For returns the registry of L's VM, creating and installing it on first
// use. All threads of one VM share a registry.
func For(L *lua.LState) *Registry {
	registriesMu.RLock()
	r := registries[L.G]
	registriesMu.RUnlock()
	if r != nil {
		return r
	}

	registriesMu.Lock()
	defer registriesMu.Unlock()
	if r := registries[L.G]; r != nil {
		return r
	}
	r = newRegistry(L)
	registries[L.G] = r
	return r
}

// Lookup returns the registry of L's VM without creating one.
func Lookup(L *lua.LState) *Registry {
	registriesMu.RLock()
	defer registriesMu.RUnlock()
	return registries[L.G]
}

// Detach forgets the registry of L's VM. Call it when the VM is closed.
func Detach(L *lua.LState) {
	registriesMu.Lock()
	defer registriesMu.Unlock()
	delete(registries, L.G)
}

// Registry maps native class descriptors to bridge classes for one VM.
type Registry struct {
	mu sync.RWMutex

	classes map[*meta.Class]*Class
	byName  map[string]*Class
	byType  map[reflect.Type]*Class
	byTable map[*lua.LTable]*Class
	root    *Class

	wrappers map[object.Handle]*lua.LUserData
	sweepAt  int
	// owned keeps script-constructed objects alive when no OnConstruct
	// hook takes them.
	owned map[object.Handle]object.Object

	null     *lua.LUserData
	listMeta *lua.LTable
	mapMeta  *lua.LTable
	eq       *lua.LFunction
	exc      *exceptions

	// OnConstruct, when set, is called with every object a script
	// constructs through a bridge class.
	OnConstruct func(object.Object)
}

func newRegistry(L *lua.LState) *Registry {
	r := &Registry{
		classes:  make(map[*meta.Class]*Class),
		byName:   make(map[string]*Class),
		byType:   make(map[reflect.Type]*Class),
		byTable:  make(map[*lua.LTable]*Class),
		wrappers: make(map[object.Handle]*lua.LUserData),
		sweepAt:  minSweep,
		owned:    make(map[object.Handle]object.Object),
	}

	r.null = L.NewUserData()
	nullMeta := L.NewTable()
	nullMeta.RawSetString("__name", lua.LString("null"))
	nullMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("null"))
		return 1
	}))
	r.null.Metatable = nullMeta
	L.SetGlobal("null", r.null)

	r.listMeta = L.NewTable()
	r.listMeta.RawSetString("__name", lua.LString("List"))
	r.mapMeta = L.NewTable()
	r.mapMeta.RawSetString("__name", lua.LString("Map"))
	r.eq = L.NewFunction(r.instanceEq)

	r.bootstrapExceptions(L)

	root, err := r.ensure(L, RootClass)
	if err != nil {
		panic(fmt.Sprintf("bridge: bootstrap root class: %v", err))
	}
	r.root = root
	log.Debugf("registry installed")
	return r
}

// Ensure returns the bridge class for desc, building it and its ancestors on
// first use. Building is idempotent: the same descriptor always yields the
// same bridge class. A different descriptor reusing a registered name is
// accepted only when its shape is identical.
func (r *Registry) Ensure(L *lua.LState, desc *meta.Class) (*Class, error) {
	return r.ensure(L, desc)
}

func (r *Registry) ensure(L *lua.LState, desc *meta.Class) (*Class, error) {
	if desc == nil {
		return nil, &ConfigError{Class: "<nil>", Err: fmt.Errorf("nil class descriptor")}
	}
	r.mu.RLock()
	c := r.classes[desc]
	r.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	if err := desc.CheckChain(); err != nil {
		return nil, &ConfigError{Class: desc.Name, Err: err}
	}
	if !meta.ValidName(desc.Name) {
		return nil, &ConfigError{Class: desc.Name, Err: fmt.Errorf("invalid class name")}
	}

	var super *Class
	switch {
	case desc.Super != nil:
		s, err := r.ensure(L, desc.Super)
		if err != nil {
			return nil, err
		}
		super = s
	case desc != RootClass:
		super = r.root
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c := r.classes[desc]; c != nil {
		return c, nil
	}
	if _, taken := r.exc.byName[desc.Name]; taken {
		return nil, &ConfigError{Class: desc.Name, Err: fmt.Errorf("name is taken by an exception class")}
	}
	if existing := r.byName[desc.Name]; existing != nil {
		same, err := sameShape(existing.Desc, desc)
		if err != nil {
			return nil, &ConfigError{Class: desc.Name, Err: err}
		}
		if !same {
			return nil, &ConfigError{Class: desc.Name, Err: fmt.Errorf("an incompatible class with this name is already registered")}
		}
		r.classes[desc] = existing
		if desc.GoType != nil {
			if _, ok := r.byType[desc.GoType]; !ok {
				r.byType[desc.GoType] = existing
			}
		}
		log.Debugf("class %s: aliased identical descriptor", desc.Name)
		return existing, nil
	}

	c = newClass(L, r, desc, super)
	r.classes[desc] = c
	r.byName[desc.Name] = c
	r.byTable[c.table] = c
	if desc.GoType != nil {
		r.byType[desc.GoType] = c
	}
	L.SetGlobal(desc.Name, c.table)
	log.Debugf("class %s: built (%d methods, %d properties)", desc.Name, len(desc.MethodNames()), len(desc.Properties))
	return c, nil
}

// Class returns the bridge class registered under name, or nil.
func (r *Registry) Class(name string) *Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Root returns the bridge class of RootClass.
func (r *Registry) Root() *Class { return r.root }

// Len returns the number of bridge classes, including the root class.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// classOf picks the bridge class used to wrap o: its own descriptor if it
// carries one, else the class registered for its Go type, else the root.
func (r *Registry) classOf(L *lua.LState, o object.Object) *Class {
	if d, ok := o.(meta.Described); ok {
		if desc := d.MetaClass(); desc != nil {
			c, err := r.ensure(L, desc)
			if err == nil {
				return c
			}
			log.Warningf("wrapping %T as %s: %v", o, RootClass.Name, err)
		}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c := r.byType[reflect.TypeOf(o)]; c != nil {
		return c
	}
	return r.root
}

func (r *Registry) classOfTable(tb *lua.LTable) *Class {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byTable[tb]
}

func (r *Registry) forget(h object.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.wrappers, h)
	delete(r.owned, h)
}

// retain keeps a script-constructed object alive until it is destroyed.
func (r *Registry) retain(o object.Object) {
	h := object.HandleOf(o)
	if h.IsZero() {
		return
	}
	r.mu.Lock()
	r.owned[h] = o
	r.mu.Unlock()
	o.ObjectBase().OnDestroy(func() { r.forget(h) })
}

// Null returns the sentinel that stands for Null inside tables. Scripts
// see it as the global null.
func (r *Registry) Null() *lua.LUserData { return r.null }
