package bridge

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/chazu/garnet/meta"
)

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// Exception class names bootstrapped in every VM.
const (
	ExceptionName     = "Exception"
	StandardErrorName = "StandardError"
	ScriptErrorName   = "ScriptError"
	SyntaxErrorName   = "SyntaxError"
)

// ExceptionClass is a node of a VM's exception hierarchy.
type ExceptionClass struct {
	Name  string
	Super *ExceptionClass
	ud    *lua.LUserData
}

// IsSubclassOf reports whether c is other or inherits from it.
func (c *ExceptionClass) IsSubclassOf(other *ExceptionClass) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

// Exception is a script-level error: a class, a description and the frames
// active when it was raised, innermost first.
type Exception struct {
	Class     *ExceptionClass
	Message   string
	Backtrace []string
}

// Error renders "<description> (<ExceptionClass>)".
func (e *Exception) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Class.Name)
}

// exceptions holds the exception hierarchy of one VM.
type exceptions struct {
	byName     map[string]*ExceptionClass
	classMeta  *lua.LTable
	objectMeta *lua.LTable
}

// bootstrapExceptions builds the standard hierarchy:
//
//	Exception
//	  StandardError
//	    RuntimeError, ArgumentError, TypeError
//	    NameError
//	      NoMethodError
//	  ScriptError
//	    SyntaxError
func (r *Registry) bootstrapExceptions(L *lua.LState) {
	r.exc = &exceptions{byName: make(map[string]*ExceptionClass)}

	r.exc.classMeta = L.NewTable()
	r.exc.classMeta.RawSetString("__index", L.NewFunction(r.exceptionClassIndex))
	r.exc.classMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(r.checkExceptionClass(L, 1).Name))
		return 1
	}))
	r.exc.classMeta.RawSetString("__call", L.NewFunction(func(L *lua.LState) int {
		c := r.checkExceptionClass(L, 1)
		L.Push(r.newExceptionValue(L, c, L.OptString(2, c.Name)))
		return 1
	}))

	r.exc.objectMeta = L.NewTable()
	r.exc.objectMeta.RawSetString("__index", L.NewFunction(r.exceptionIndex))
	r.exc.objectMeta.RawSetString("__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(r.checkException(L, 1).Error()))
		return 1
	}))

	root := r.defineException(L, ExceptionName, nil)
	std := r.defineException(L, StandardErrorName, root)
	r.defineException(L, meta.RuntimeError, std)
	r.defineException(L, meta.ArgumentError, std)
	r.defineException(L, meta.TypeError, std)
	nameErr := r.defineException(L, meta.NameError, std)
	r.defineException(L, meta.NoMethodError, nameErr)
	scriptErr := r.defineException(L, ScriptErrorName, root)
	r.defineException(L, SyntaxErrorName, scriptErr)

	L.SetGlobal("raise", L.NewFunction(r.raise))
}

func (r *Registry) defineException(L *lua.LState, name string, super *ExceptionClass) *ExceptionClass {
	c := &ExceptionClass{Name: name, Super: super}
	c.ud = L.NewUserData()
	c.ud.Value = c
	c.ud.Metatable = r.exc.classMeta
	r.exc.byName[name] = c
	L.SetGlobal(name, c.ud)
	return c
}

// ExceptionClass returns the exception class called name, or nil.
func (r *Registry) ExceptionClass(name string) *ExceptionClass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exc.byName[name]
}

// NewException builds an exception of the named class, falling back to
// RuntimeError for unknown names.
func (r *Registry) NewException(className, message string, backtrace []string) *Exception {
	c := r.ExceptionClass(className)
	if c == nil {
		c = r.ExceptionClass(meta.RuntimeError)
	}
	return &Exception{Class: c, Message: message, Backtrace: backtrace}
}

// Exception converts a raised VM value into an Exception. Exception objects
// pass through; strings and other values become RuntimeErrors.
func (r *Registry) Exception(lv lua.LValue) *Exception {
	if ud, ok := lv.(*lua.LUserData); ok {
		switch v := ud.Value.(type) {
		case *Exception:
			return v
		case *ExceptionClass:
			return &Exception{Class: v, Message: v.Name}
		}
	}
	msg := lv.String()
	if lv == lua.LNil {
		msg = "unknown error"
	}
	return r.NewException(meta.RuntimeError, msg, nil)
}

// ExceptionFromError converts a Go error returned by native code. An
// *Exception passes through; a *meta.Error selects its exception class.
func (r *Registry) ExceptionFromError(err error) *Exception {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}
	var me *meta.Error
	if errors.As(err, &me) {
		return r.NewException(me.Class, err.Error(), nil)
	}
	return r.NewException(meta.RuntimeError, err.Error(), nil)
}

func (r *Registry) exceptionValue(L *lua.LState, exc *Exception) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = exc
	ud.Metatable = r.exc.objectMeta
	return ud
}

func (r *Registry) newExceptionValue(L *lua.LState, c *ExceptionClass, msg string) *lua.LUserData {
	return r.exceptionValue(L, &Exception{Class: c, Message: msg})
}

// Throw raises exc in the VM, capturing the backtrace if it has none. It
// does not return.
func (r *Registry) Throw(L *lua.LState, exc *Exception) {
	if len(exc.Backtrace) == 0 {
		exc.Backtrace = Backtrace(L)
	}
	L.Error(r.exceptionValue(L, exc), 0)
}

// Raise raises a new exception of the named class.
func (r *Registry) Raise(L *lua.LState, className, format string, args ...any) {
	r.Throw(L, r.NewException(className, fmt.Sprintf(format, args...), nil))
}

// RaiseError raises the exception matching a Go error.
func (r *Registry) RaiseError(L *lua.LState, err error) {
	exc := r.ExceptionFromError(err)
	if len(exc.Backtrace) > 0 {
		// A native call may hand back an exception raised elsewhere; copy it
		// so the new raise site gets its own frames.
		exc = &Exception{Class: exc.Class, Message: exc.Message}
	}
	r.Throw(L, exc)
}

// ---------------------------------------------------------------------------
// Script API
// ---------------------------------------------------------------------------

// raise implements the global raise function:
//
//	raise("message")               -- RuntimeError
//	raise(ArgumentError)           -- message is the class name
//	raise(ArgumentError, "message")
//	raise(exc)                     -- re-raise an exception object
func (r *Registry) raise(L *lua.LState) int {
	var exc *Exception
	switch v := L.Get(1).(type) {
	case lua.LString:
		exc = r.NewException(meta.RuntimeError, string(v), nil)
	case *lua.LUserData:
		switch x := v.Value.(type) {
		case *ExceptionClass:
			exc = &Exception{Class: x, Message: L.OptString(2, x.Name)}
		case *Exception:
			exc = x
		}
	case *lua.LNilType:
		exc = r.NewException(meta.RuntimeError, "unhandled exception", nil)
	}
	if exc == nil {
		r.Raise(L, meta.TypeError, "exception class/object expected")
		return 0
	}
	r.Throw(L, exc)
	return 0
}

func (r *Registry) checkExceptionClass(L *lua.LState, n int) *ExceptionClass {
	if ud, ok := L.Get(n).(*lua.LUserData); ok {
		if c, ok := ud.Value.(*ExceptionClass); ok {
			return c
		}
	}
	r.Raise(L, meta.TypeError, "exception class expected")
	return nil
}

func (r *Registry) checkException(L *lua.LState, n int) *Exception {
	if ud, ok := L.Get(n).(*lua.LUserData); ok {
		if e, ok := ud.Value.(*Exception); ok {
			return e
		}
	}
	r.Raise(L, meta.TypeError, "exception expected")
	return nil
}

func (r *Registry) exceptionClassIndex(L *lua.LState) int {
	c := r.checkExceptionClass(L, 1)
	switch L.CheckString(2) {
	case "name":
		L.Push(lua.LString(c.Name))
	case "superclass":
		if c.Super == nil {
			L.Push(lua.LNil)
		} else {
			L.Push(c.Super.ud)
		}
	case "new":
		L.Push(L.NewFunction(func(L *lua.LState) int {
			// Both Class.new(msg) and Class:new(msg) work.
			msgIdx := 1
			if ud, ok := L.Get(1).(*lua.LUserData); ok && ud == c.ud {
				msgIdx = 2
			}
			L.Push(r.newExceptionValue(L, c, L.OptString(msgIdx, c.Name)))
			return 1
		}))
	case "subclass":
		L.Push(L.NewFunction(func(L *lua.LState) int {
			nameIdx := 1
			if ud, ok := L.Get(1).(*lua.LUserData); ok && ud == c.ud {
				nameIdx = 2
			}
			name := L.CheckString(nameIdx)
			r.mu.Lock()
			existing := r.exc.byName[name]
			r.mu.Unlock()
			if existing != nil {
				if existing.Super != c {
					r.Raise(L, meta.TypeError, "superclass mismatch for exception %s", name)
				}
				L.Push(existing.ud)
				return 1
			}
			if !meta.ValidName(name) {
				r.Raise(L, meta.ArgumentError, "invalid exception class name %q", name)
			}
			r.mu.Lock()
			sub := r.defineException(L, name, c)
			r.mu.Unlock()
			L.Push(sub.ud)
			return 1
		}))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

func (r *Registry) exceptionIndex(L *lua.LState) int {
	e := r.checkException(L, 1)
	switch L.CheckString(2) {
	case "message":
		L.Push(lua.LString(e.Message))
	case "class":
		L.Push(e.Class.ud)
	case "backtrace":
		tb := L.CreateTable(len(e.Backtrace), 0)
		for _, f := range e.Backtrace {
			tb.Append(lua.LString(f))
		}
		L.Push(tb)
	case "is":
		L.Push(L.NewFunction(func(L *lua.LState) int {
			other := r.checkExceptionClass(L, 2)
			L.Push(lua.LBool(e.Class.IsSubclassOf(other)))
			return 1
		}))
	default:
		L.Push(lua.LNil)
	}
	return 1
}

// ---------------------------------------------------------------------------
// Backtraces
// ---------------------------------------------------------------------------

// Backtrace returns the active script frames of L as "<source>:<line>",
// innermost first. Only script function activations contribute frames:
// Go functions are omitted and loops or blocks never add a frame of their
// own.
func Backtrace(L *lua.LState) []string {
	var frames []string
	for level := 0; ; level++ {
		dbg, ok := L.GetStack(level)
		if !ok {
			break
		}
		fn, err := L.GetInfo("Slf", dbg, lua.LNil)
		if err != nil {
			continue
		}
		if f, ok := fn.(*lua.LFunction); !ok || f.IsG {
			continue
		}
		frames = append(frames, fmt.Sprintf("%s:%d", dbg.Source, dbg.CurrentLine))
	}
	return frames
}

// Handler is the message handler installed around protected calls. It turns
// whatever was raised into an exception object carrying a backtrace.
func (r *Registry) Handler(L *lua.LState) int {
	lv := L.Get(1)
	exc := r.Exception(lv)
	if len(exc.Backtrace) == 0 {
		exc.Backtrace = Backtrace(L)
		if s, ok := lv.(lua.LString); ok && len(exc.Backtrace) > 0 {
			exc.Message = strings.TrimPrefix(string(s), exc.Backtrace[0]+": ")
		}
	}
	L.Push(r.exceptionValue(L, exc))
	return 1
}
