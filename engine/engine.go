// Package engine owns an embedded Lua VM and exposes it to a host: global
// name bindings, class registration, evaluation, and the observable error
// state of the last evaluation.
package engine

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/chazu/garnet/bridge"
	"github.com/chazu/garnet/config"
	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

var log = commonlog.GetLogger("garnet.engine")

// DefaultLabel names scripts evaluated without a label.
const DefaultLabel = "*script*"

// ---------------------------------------------------------------------------
// Process-wide VM -> Engine table
// ---------------------------------------------------------------------------

var (
	enginesMu sync.RWMutex
	engines   = make(map[*lua.Global]*Engine)
)

// FindByState returns the engine associated with L's VM, or nil.
func FindByState(L *lua.LState) *Engine {
	if L == nil {
		return nil
	}
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return engines[L.G]
}

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Engine wraps one Lua VM. An engine is not safe for concurrent use;
// distinct engines may run on distinct goroutines.
type Engine struct {
	// ID identifies the engine in logs.
	ID uuid.UUID

	L        *lua.LState
	owned    bool
	registry *bridge.Registry
	handler  *lua.LFunction
	closed   bool

	bindings   map[string]variant.Value
	evaluating bool

	// The globals metatable, the __index it had before the bindings hook
	// and the hook itself, restored on Close of an attached VM.
	globalsMeta *lua.LTable
	prevIndex   lua.LValue
	hook        *lua.LFunction

	objectsMu sync.Mutex
	objects   map[object.Handle]object.Object

	hasError  bool
	errorText string
	backtrace []string

	hasErrorListeners  []func(bool)
	errorListeners     []func(string)
	backtraceListeners []func([]string)
}

// New creates an engine with the default configuration.
func New() *Engine {
	e, err := NewWithConfig(config.Default())
	if err != nil {
		// The default configuration has no preload scripts.
		panic(err)
	}
	return e
}

// NewWithConfig creates an engine owning a fresh VM configured by cfg and
// evaluates cfg's preload scripts. A failing preload script closes the
// engine and is returned as an error.
func NewWithConfig(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid configuration: %w", err)
	}

	L := lua.NewState(lua.Options{
		CallStackSize:       cfg.Engine.CallStackSize,
		RegistrySize:        cfg.Engine.RegistrySize,
		SkipOpenLibs:        true,
		IncludeGoStackTrace: cfg.Engine.IncludeGoStackTrace,
	})
	openLibraries(L, cfg.Engine.Libraries)

	e := attach(L, true)
	for _, path := range cfg.PreloadPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("engine: cannot read preload script: %w", err)
		}
		e.Evaluate(string(data), path)
		if e.HasError() {
			err := fmt.Errorf("engine: preload %s failed: %s", path, e.Error())
			e.Close()
			return nil, err
		}
		log.Debugf("engine %s: preloaded %s", e.ID, path)
	}
	return e, nil
}

// Attach returns the engine for an existing VM, creating one that does not
// own the VM if none is associated yet. Closing an attached engine leaves
// the VM open.
func Attach(L *lua.LState) *Engine {
	if e := FindByState(L); e != nil {
		return e
	}
	return attach(L, false)
}

func attach(L *lua.LState, owned bool) *Engine {
	e := &Engine{
		ID:       uuid.New(),
		L:        L,
		owned:    owned,
		registry: bridge.For(L),
		bindings: make(map[string]variant.Value),
		objects:  make(map[object.Handle]object.Object),
	}
	e.registry.OnConstruct = e.adopt
	e.handler = L.NewFunction(e.registry.Handler)
	e.installBindings()

	enginesMu.Lock()
	engines[L.G] = e
	enginesMu.Unlock()
	log.Infof("engine %s: started (owns VM: %t)", e.ID, owned)
	return e
}

var libraries = []struct {
	name   string
	global string
	open   lua.LGFunction
}{
	{"package", lua.LoadLibName, lua.OpenPackage},
	{"base", lua.BaseLibName, lua.OpenBase},
	{"table", lua.TabLibName, lua.OpenTable},
	{"io", lua.IoLibName, lua.OpenIo},
	{"os", lua.OsLibName, lua.OpenOs},
	{"string", lua.StringLibName, lua.OpenString},
	{"math", lua.MathLibName, lua.OpenMath},
	{"debug", lua.DebugLibName, lua.OpenDebug},
	{"channel", lua.ChannelLibName, lua.OpenChannel},
	{"coroutine", lua.CoroutineLibName, lua.OpenCoroutine},
}

// openLibraries opens the named standard libraries in the VM's canonical
// order.
func openLibraries(L *lua.LState, names []string) {
	for _, lib := range libraries {
		if !slices.Contains(names, lib.name) {
			continue
		}
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.global))
		L.Call(1, 0)
	}
}

// Close destroys the objects scripts constructed through this engine, closes
// the VM if the engine owns it and forgets the VM -> engine association.
func (e *Engine) Close() {
	if e.closed {
		return
	}
	e.closed = true

	enginesMu.Lock()
	if engines[e.L.G] == e {
		delete(engines, e.L.G)
	}
	enginesMu.Unlock()

	e.objectsMu.Lock()
	owned := make([]object.Object, 0, len(e.objects))
	for _, o := range e.objects {
		owned = append(owned, o)
	}
	e.objectsMu.Unlock()
	for _, o := range owned {
		o.ObjectBase().Destroy()
	}

	if e.owned {
		bridge.Detach(e.L)
		e.L.Close()
	} else {
		e.registry.OnConstruct = nil
		if e.globalsMeta.RawGetString("__index") == e.hook {
			e.globalsMeta.RawSetString("__index", e.prevIndex)
		}
	}
	log.Infof("engine %s: closed (%d objects destroyed)", e.ID, len(owned))
}

// adopt records an object constructed by a script as owned by the engine.
func (e *Engine) adopt(o object.Object) {
	h := object.HandleOf(o)
	if h.IsZero() {
		return
	}
	e.objectsMu.Lock()
	e.objects[h] = o
	e.objectsMu.Unlock()
	o.ObjectBase().OnDestroy(func() {
		e.objectsMu.Lock()
		delete(e.objects, h)
		e.objectsMu.Unlock()
	})
}

// State returns the engine's VM.
func (e *Engine) State() *lua.LState { return e.L }

// Registry returns the bridge class registry of the engine's VM.
func (e *Engine) Registry() *bridge.Registry { return e.registry }

// CollectGarbage runs a blocking garbage collection cycle and drops the
// script wrappers of collected objects. The VM's heap is the Go heap.
func (e *Engine) CollectGarbage() {
	runtime.GC()
	e.registry.Sweep()
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

// RegisterClass makes desc and its ancestors available to scripts.
func (e *Engine) RegisterClass(desc *meta.Class) (*bridge.Class, error) {
	return e.registry.Ensure(e.L, desc)
}

// MustRegisterClass is like RegisterClass but panics on configuration
// errors.
func (e *Engine) MustRegisterClass(desc *meta.Class) *bridge.Class {
	c, err := e.RegisterClass(desc)
	if err != nil {
		panic(err)
	}
	return c
}

// RegisterValue binds name to v in the script globals. Bindings are read
// when a script accesses the name, so re-registering a name changes what
// already compiled scripts see. A script assignment to the name shadows the
// binding until the name is registered again.
func (e *Engine) RegisterValue(name string, v variant.Value) {
	e.bindings[name] = v
	e.L.G.Global.RawSetString(name, lua.LNil)
	log.Debugf("engine %s: registered %s = %v", e.ID, name, v)
}

// RegisterObject binds name to a native object.
func (e *Engine) RegisterObject(name string, o object.Object) {
	e.RegisterValue(name, variant.Object(o))
}

// installBindings hooks the globals table so unknown names are looked up in
// the binding map. An existing __index is consulted afterwards.
func (e *Engine) installBindings() {
	L := e.L
	globals := L.G.Global
	mt, ok := L.GetMetatable(globals).(*lua.LTable)
	if !ok {
		mt = L.NewTable()
		L.SetMetatable(globals, mt)
	}
	prev := mt.RawGetString("__index")
	e.globalsMeta, e.prevIndex = mt, prev
	e.hook = L.NewFunction(func(L *lua.LState) int {
		if name, ok := L.Get(2).(lua.LString); ok {
			if v, found := e.bindings[string(name)]; found {
				L.Push(e.registry.ToLua(L, v))
				return 1
			}
		}
		switch p := prev.(type) {
		case *lua.LFunction:
			L.Push(p)
			L.Push(L.Get(1))
			L.Push(L.Get(2))
			L.Call(2, 1)
		case *lua.LTable:
			L.Push(L.GetTable(p, L.Get(2)))
		default:
			L.Push(lua.LNil)
		}
		return 1
	})
	mt.RawSetString("__index", e.hook)
}

// ---------------------------------------------------------------------------
// Evaluation
// ---------------------------------------------------------------------------

// Program is a compiled chunk bound to the engine that compiled it.
type Program struct {
	Label string

	engine *Engine
	fn     *lua.LFunction
}

// Compile compiles source without running it. A bare expression compiles to
// a chunk returning its value. Syntax errors are returned as
// *bridge.Exception values of class SyntaxError and do not change the
// engine's error state.
func (e *Engine) Compile(source, label string) (*Program, error) {
	if label == "" {
		label = DefaultLabel
	}
	fn, err := e.L.Load(strings.NewReader("return ("+source+"\n)"), label)
	if err != nil {
		fn, err = e.L.Load(strings.NewReader(source), label)
	}
	if err != nil {
		return nil, e.syntaxError(err, source, label)
	}
	return &Program{Label: label, engine: e, fn: fn}, nil
}

// Evaluate compiles and runs source. It returns the script's value, or Null
// when the script fails; failures are reported through the error state,
// never as Go errors. Evaluating from native code called by a script is a
// programming error and panics.
func (e *Engine) Evaluate(source, label string) variant.Value {
	p, err := e.Compile(source, label)
	if err != nil {
		e.enter()
		defer e.leave()
		e.publish(e.registry.ExceptionFromError(err))
		return variant.Null
	}
	return e.Execute(p)
}

// Execute runs a compiled program and publishes the resulting error state.
func (e *Engine) Execute(p *Program) variant.Value {
	if p.engine != e {
		panic("engine: program was compiled by another engine")
	}
	e.enter()
	defer e.leave()

	L := e.L
	L.Push(p.fn)
	if err := L.PCall(0, 1, e.handler); err != nil {
		e.publish(e.exceptionFrom(err, p.Label))
		return variant.Null
	}
	ret := L.Get(-1)
	L.Pop(1)
	result := e.registry.FromLua(L, ret)
	e.publish(nil)
	return result
}

func (e *Engine) enter() {
	if e.closed {
		panic("engine: evaluate on closed engine")
	}
	if e.evaluating {
		panic("engine: re-entrant evaluate from native code")
	}
	e.evaluating = true
}

func (e *Engine) leave() { e.evaluating = false }

func (e *Engine) exceptionFrom(err error, label string) *bridge.Exception {
	var exc *bridge.Exception
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) {
		exc = e.registry.Exception(apiErr.Object)
	} else {
		exc = e.registry.ExceptionFromError(err)
	}
	if len(exc.Backtrace) == 0 {
		exc.Backtrace = []string{label + ":0"}
	}
	return exc
}

// syntaxError turns a load failure into a SyntaxError located at the parser
// line. Errors at end of input are reported on the last line.
func (e *Engine) syntaxError(err error, source, label string) *bridge.Exception {
	line, msg := 0, err.Error()
	if apiErr, ok := err.(*lua.ApiError); ok && apiErr.Cause != nil {
		err = apiErr.Cause
	}
	var perr *parse.Error
	var cerr *lua.CompileError
	switch {
	case errors.As(err, &perr):
		line, msg = perr.Pos.Line, perr.Message
		if perr.Token != "" && line != parse.EOF {
			msg = fmt.Sprintf("%s near '%s'", perr.Message, perr.Token)
		}
		if line == parse.EOF {
			line = strings.Count(strings.TrimRight(source, "\n"), "\n") + 1
			msg += " at end of input"
		}
	case errors.As(err, &cerr):
		line, msg = cerr.Line, cerr.Message
	}
	return e.registry.NewException(bridge.SyntaxErrorName, msg, []string{fmt.Sprintf("%s:%d", label, line)})
}

// ---------------------------------------------------------------------------
// Error state
// ---------------------------------------------------------------------------

// HasError reports whether the last evaluation failed.
func (e *Engine) HasError() bool { return e.hasError }

// Error returns "<message> (<ExceptionClass>)" for the last failed
// evaluation, or "".
func (e *Engine) Error() string { return e.errorText }

// Backtrace returns the "<label>:<line>" frames of the last failed
// evaluation, innermost first.
func (e *Engine) Backtrace() []string { return slices.Clone(e.backtrace) }

// OnHasErrorChanged registers fn to be called when HasError changes.
func (e *Engine) OnHasErrorChanged(fn func(bool)) {
	e.hasErrorListeners = append(e.hasErrorListeners, fn)
}

// OnErrorChanged registers fn to be called when Error changes.
func (e *Engine) OnErrorChanged(fn func(string)) {
	e.errorListeners = append(e.errorListeners, fn)
}

// OnBacktraceChanged registers fn to be called when Backtrace changes.
func (e *Engine) OnBacktraceChanged(fn func([]string)) {
	e.backtraceListeners = append(e.backtraceListeners, fn)
}

// publish replaces the error state as a group, then notifies listeners of
// the fields that actually changed.
func (e *Engine) publish(exc *bridge.Exception) {
	var (
		hasError  bool
		text      string
		backtrace []string
	)
	if exc != nil {
		hasError = true
		text = exc.Error()
		backtrace = slices.Clone(exc.Backtrace)
	}

	hasErrorChanged := hasError != e.hasError
	errorChanged := text != e.errorText
	backtraceChanged := !slices.Equal(backtrace, e.backtrace)
	e.hasError, e.errorText, e.backtrace = hasError, text, backtrace

	if exc != nil {
		log.Debugf("engine %s: %s at %s", e.ID, text, strings.Join(backtrace, ", "))
	}
	if hasErrorChanged {
		for _, fn := range e.hasErrorListeners {
			fn(hasError)
		}
	}
	if errorChanged {
		for _, fn := range e.errorListeners {
			fn(text)
		}
	}
	if backtraceChanged {
		for _, fn := range e.backtraceListeners {
			fn(slices.Clone(backtrace))
		}
	}
}
