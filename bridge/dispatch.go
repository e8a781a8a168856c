package bridge

import (
	"fmt"
	"runtime/debug"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

// ---------------------------------------------------------------------------
// Overload resolution
// ---------------------------------------------------------------------------

// candidate pairs a signature with its position in the overload group.
type candidate struct {
	sig   meta.Signature
	index int
}

// resolve picks the overload to call for args. An overload is viable when
// it accepts len(args) arguments and every fixed argument coerces to its
// parameter type. Non-variadic overloads beat variadic ones; remaining ties
// go to the earliest declared.
func resolve(cands []candidate, args []variant.Value) (int, meta.Arguments, bool) {
	best := -1
	var bestArgs meta.Arguments
	bestVariadic := false
	for _, cand := range cands {
		bound, ok := cand.sig.Bind(args)
		if !ok {
			continue
		}
		variadic := cand.sig.Variadic
		if best < 0 || (bestVariadic && !variadic) {
			best, bestArgs, bestVariadic = cand.index, bound, variadic
		}
	}
	return best, bestArgs, best >= 0
}

// overloads collects the overload group for name along the superclass
// chain, own declarations first.
func (c *Class) overloads(name string) []*meta.Method {
	var out []*meta.Method
	for k := c.Desc; k != nil; k = k.Super {
		out = append(out, k.Overloads(name)...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Trampolines
// ---------------------------------------------------------------------------

// trampoline returns the VM entry point for the method group name. It is
// called as obj:name(...), so the receiver is argument 1.
func (c *Class) trampoline(name string) lua.LGFunction {
	return func(L *lua.LState) int {
		w, obj := c.receiver(L, name)
		args := c.registry.arguments(L, 2)

		// Dispatch on the receiver's own class so subclass overloads are
		// seen even when the method was found on an ancestor's table.
		group := w.class.overloads(name)
		cands := make([]candidate, len(group))
		for i, m := range group {
			cands[i] = candidate{sig: m.Signature, index: i}
		}
		i, bound, ok := resolve(cands, args)
		if !ok {
			c.registry.Raise(L, meta.ArgumentError, "no overload of %s#%s matches (%s)",
				w.class.Name(), name, kinds(args))
		}

		result, err := invoke(group[i], obj, bound)
		if err != nil {
			c.registry.RaiseError(L, err)
		}
		L.Push(c.registry.ToLua(L, result))
		return 1
	}
}

// construct implements Class.new(...). Class:new(...) is accepted too.
func (c *Class) construct(L *lua.LState) int {
	first := 1
	if tb, ok := L.Get(1).(*lua.LTable); ok && tb == c.table {
		first = 2
	}
	args := c.registry.arguments(L, first)

	ctors := c.Desc.Constructors
	if len(ctors) == 0 {
		c.registry.Raise(L, meta.NoMethodError, "%s cannot be constructed from scripts", c.Name())
	}
	cands := make([]candidate, len(ctors))
	for i, k := range ctors {
		cands[i] = candidate{sig: k.Signature, index: i}
	}
	i, bound, ok := resolve(cands, args)
	if !ok {
		c.registry.Raise(L, meta.ArgumentError, "no constructor of %s matches (%s)", c.Name(), kinds(args))
	}

	obj, err := construct(ctors[i], bound)
	if err != nil {
		c.registry.RaiseError(L, err)
	}
	if obj == nil {
		c.registry.Raise(L, meta.RuntimeError, "%s constructor returned nothing", c.Name())
	}
	if hook := c.registry.OnConstruct; hook != nil {
		hook(obj)
	} else {
		c.registry.retain(obj)
	}
	L.Push(c.registry.wrap(L, obj, c))
	return 1
}

// arguments converts stack slots from..top.
func (r *Registry) arguments(L *lua.LState, from int) []variant.Value {
	top := L.GetTop()
	if top < from {
		return nil
	}
	args := make([]variant.Value, 0, top-from+1)
	for i := from; i <= top; i++ {
		args = append(args, r.FromLua(L, L.Get(i)))
	}
	return args
}

func invoke(m *meta.Method, obj object.Object, args meta.Arguments) (v variant.Value, err error) {
	defer recoverNative(&err)
	return m.Invoke(obj, args)
}

func construct(k *meta.Constructor, args meta.Arguments) (o object.Object, err error) {
	defer recoverNative(&err)
	return k.New(args)
}

// recoverNative turns a panic in native code into an error. VM errors
// raised by nested script calls keep unwinding.
func recoverNative(err *error) {
	rec := recover()
	if rec == nil {
		return
	}
	if _, ok := rec.(*lua.ApiError); ok {
		panic(rec)
	}
	log.Errorf("native panic: %v\n%s", rec, debug.Stack())
	*err = fmt.Errorf("native panic: %v", rec)
}

func kinds(args []variant.Value) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.Kind().String()
	}
	return strings.Join(parts, ", ")
}

func typeName(lv lua.LValue) string {
	if ud, ok := lv.(*lua.LUserData); ok {
		switch v := ud.Value.(type) {
		case *wrapper:
			return v.class.Name()
		case *Exception:
			return v.Class.Name
		}
	}
	return lv.Type().String()
}
