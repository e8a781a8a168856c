package engine

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/chazu/garnet/config"
	"github.com/chazu/garnet/meta"
	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

type counter struct {
	object.Base
	Count int
}

func (c *counter) Increment() int {
	c.Count++
	return c.Count
}

func (c *counter) Add(n int) int {
	c.Count += n
	return c.Count
}

func (c *counter) Fail() error { return errors.New("failed") }

type reentrant struct {
	object.Base
	engine *Engine
}

func (r *reentrant) Nested() variant.Value { return r.engine.Evaluate("1", "nested") }

var (
	counterClass   = meta.MustReflect("Counter", (*counter)(nil))
	reentrantClass = meta.MustReflect("Reentrant", (*reentrant)(nil))
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e := New()
	t.Cleanup(e.Close)
	return e
}

func expectBacktrace(t *testing.T, e *Engine, want ...string) {
	t.Helper()
	got := e.Backtrace()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected backtrace %v, got %v", want, got)
	}
}

func TestEvaluate_Values(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		src  string
		want variant.Value
	}{
		{"1 + 2", variant.Int(3)},
		{"1.5 * 2", variant.Int(3)},
		{"1 / 4", variant.Float(0.25)},
		{"'a' .. 'b'", variant.String("ab")},
		{"nil", variant.Null},
		{"local x = 2\nreturn x * 3", variant.Int(6)},
		{"x = 1", variant.Null},
		{"{1, 'two'}", variant.List(variant.Int(1), variant.String("two"))},
		{"1 -- trailing comment", variant.Int(1)},
	}
	for _, tt := range tests {
		got := e.Evaluate(tt.src, "")
		if e.HasError() {
			t.Errorf("%q: unexpected error %s", tt.src, e.Error())
			continue
		}
		if !variant.Equal(got, tt.want) {
			t.Errorf("%q: expected %v, got %v", tt.src, tt.want, got)
		}
	}
}

func TestEvaluate_RaisedError(t *testing.T) {
	e := newEngine(t)

	got := e.Evaluate(`raise("error")`, "")
	if !got.IsNull() {
		t.Errorf("expected Null result, got %v", got)
	}
	if !e.HasError() {
		t.Fatal("expected error state")
	}
	if e.Error() != "error (RuntimeError)" {
		t.Errorf("expected 'error (RuntimeError)', got %q", e.Error())
	}
	expectBacktrace(t, e, "*script*:1")

	e.Evaluate(`raise(ArgumentError, "bad")`, "input.lua")
	if e.Error() != "bad (ArgumentError)" {
		t.Errorf("expected 'bad (ArgumentError)', got %q", e.Error())
	}
	expectBacktrace(t, e, "input.lua:1")
}

func TestEvaluate_BacktraceFrames(t *testing.T) {
	e := newEngine(t)

	e.Evaluate("for i = 1, 5 do\n  raise(RuntimeError, 'error')\nend", "")
	expectBacktrace(t, e, "*script*:2")

	e.Evaluate("local function f()\n  raise('x')\nend\nf()", "")
	expectBacktrace(t, e, "*script*:2", "*script*:4")

	e.Evaluate("error('plain')", "")
	if e.Error() != "plain (RuntimeError)" {
		t.Errorf("expected 'plain (RuntimeError)', got %q", e.Error())
	}
	expectBacktrace(t, e, "*script*:1")
}

func TestEvaluate_SyntaxError(t *testing.T) {
	e := newEngine(t)

	e.Evaluate("local = 1", "")
	if !e.HasError() {
		t.Fatal("expected error state")
	}
	if !strings.HasSuffix(e.Error(), "(SyntaxError)") {
		t.Errorf("expected SyntaxError, got %q", e.Error())
	}
	expectBacktrace(t, e, "*script*:1")

	e.Evaluate("x = 1\ny = (", "")
	if !strings.HasSuffix(e.Error(), "(SyntaxError)") {
		t.Errorf("expected SyntaxError, got %q", e.Error())
	}
	expectBacktrace(t, e, "*script*:2")

	if _, err := e.Compile("local = 1", "c.lua"); err == nil {
		t.Error("expected Compile to return the syntax error")
	}
}

func TestEvaluate_SuccessClearsError(t *testing.T) {
	e := newEngine(t)

	e.Evaluate(`raise("error")`, "")
	if !e.HasError() {
		t.Fatal("expected error state")
	}
	e.Evaluate("1", "")
	if e.HasError() {
		t.Error("expected error state to be cleared")
	}
	if e.Error() != "" {
		t.Errorf("expected empty error, got %q", e.Error())
	}
	if len(e.Backtrace()) != 0 {
		t.Errorf("expected empty backtrace, got %v", e.Backtrace())
	}
}

func TestEvaluate_ChangeNotifications(t *testing.T) {
	e := newEngine(t)

	var hasErrorCalls, errorCalls, backtraceCalls int
	var lastHasError bool
	e.OnHasErrorChanged(func(v bool) {
		hasErrorCalls++
		lastHasError = v
		// Listeners observe the whole group already updated.
		if e.Error() == "" && v {
			t.Error("error text not yet updated when HasError changed")
		}
	})
	e.OnErrorChanged(func(string) { errorCalls++ })
	e.OnBacktraceChanged(func([]string) { backtraceCalls++ })

	check := func(step string, h, m, b int) {
		t.Helper()
		if hasErrorCalls != h || errorCalls != m || backtraceCalls != b {
			t.Errorf("%s: expected %d/%d/%d notifications, got %d/%d/%d",
				step, h, m, b, hasErrorCalls, errorCalls, backtraceCalls)
		}
	}

	e.Evaluate("1", "")
	check("clean evaluation", 0, 0, 0)

	e.Evaluate(`raise("one")`, "")
	check("first error", 1, 1, 1)
	if !lastHasError {
		t.Error("expected HasError notification with true")
	}

	e.Evaluate(`raise("one")`, "")
	check("identical error", 1, 1, 1)

	e.Evaluate(`raise("two")`, "")
	check("new message, same frames", 1, 2, 1)

	e.Evaluate("\nraise('two')", "")
	check("same message, new frames", 1, 2, 2)

	e.Evaluate("2", "")
	check("cleared", 2, 3, 3)
	if lastHasError {
		t.Error("expected HasError notification with false")
	}
}

func TestRegisterValue_Retroactive(t *testing.T) {
	e := newEngine(t)

	p, err := e.Compile("x", "")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	e.RegisterValue("x", variant.Int(1))
	if got := e.Execute(p); !variant.Equal(got, variant.Int(1)) {
		t.Errorf("expected 1, got %v", got)
	}
	e.RegisterValue("x", variant.Int(2))
	if got := e.Execute(p); !variant.Equal(got, variant.Int(2)) {
		t.Errorf("expected compiled chunk to see 2, got %v", got)
	}
	if got := e.Evaluate("x", ""); !variant.Equal(got, variant.Int(2)) {
		t.Errorf("expected 2, got %v", got)
	}

	e.Evaluate("x = 10", "")
	if got := e.Evaluate("x", ""); !variant.Equal(got, variant.Int(10)) {
		t.Errorf("expected script assignment to shadow, got %v", got)
	}
	e.RegisterValue("x", variant.Int(3))
	if got := e.Evaluate("x", ""); !variant.Equal(got, variant.Int(3)) {
		t.Errorf("expected re-registration to win, got %v", got)
	}
}

func TestRegisterValue_SymbolBecomesString(t *testing.T) {
	e := newEngine(t)
	e.RegisterValue("sym", variant.Symbol("abc"))
	got := e.Evaluate("type(sym) == 'string' and sym", "")
	if !variant.Equal(got, variant.String("abc")) {
		t.Errorf("expected String abc, got %v", got)
	}
}

func TestRegisterObject(t *testing.T) {
	e := newEngine(t)
	e.MustRegisterClass(counterClass)
	c := &counter{}
	defer c.Destroy()
	e.RegisterObject("counter", c)

	if got := e.Evaluate("counter:increment()", ""); !variant.Equal(got, variant.Int(1)) {
		t.Errorf("expected 1, got %v (%s)", got, e.Error())
	}
	if c.Count != 1 {
		t.Errorf("expected count 1, got %d", c.Count)
	}
	if got := e.Evaluate("counter", ""); got.AsObject() != object.Object(c) {
		t.Errorf("expected the registered object back, got %v", got)
	}

	e.Evaluate("counter:add('x')", "")
	if !strings.HasSuffix(e.Error(), "(ArgumentError)") {
		t.Errorf("expected ArgumentError, got %q", e.Error())
	}
	e.Evaluate("counter:fail()", "")
	if e.Error() != "failed (RuntimeError)" {
		t.Errorf("expected 'failed (RuntimeError)', got %q", e.Error())
	}

	c.Destroy()
	if got := e.Evaluate("counter", ""); !got.IsNull() {
		t.Errorf("expected Null for destroyed object, got %v", got)
	}
}

func TestRegisterObject_BeforeClass(t *testing.T) {
	e := newEngine(t)
	c := &counter{}
	defer c.Destroy()
	e.RegisterObject("c", c)

	if got := e.Evaluate("c:className()", ""); got.AsString() != "Object" {
		t.Fatalf("expected Object before registration, got %v (%s)", got, e.Error())
	}

	e.MustRegisterClass(counterClass)
	if got := e.Evaluate("c:increment()", ""); !variant.Equal(got, variant.Int(1)) {
		t.Fatalf("expected 1, got %v (%s)", got, e.Error())
	}
	if got := e.Evaluate("c:className()", ""); got.AsString() != "Counter" {
		t.Errorf("expected Counter, got %v", got)
	}
	if got := e.Evaluate("c", ""); got.AsObject() != object.Object(c) {
		t.Errorf("expected the registered object back, got %v", got)
	}
}

func TestRegisterClass_DispatchesOnce(t *testing.T) {
	e := newEngine(t)
	first := e.MustRegisterClass(counterClass)
	if again := e.MustRegisterClass(counterClass); again != first {
		t.Fatal("expected re-registration to return the same class")
	}
	twin := meta.MustReflect("Counter", (*counter)(nil))
	if alias := e.MustRegisterClass(twin); alias != first {
		t.Fatal("expected an identical descriptor to alias the registered class")
	}

	c := &counter{}
	defer c.Destroy()
	e.RegisterObject("c", c)

	if got := e.Evaluate("c:increment()", ""); !variant.Equal(got, variant.Int(1)) {
		t.Fatalf("expected 1, got %v (%s)", got, e.Error())
	}
	if c.Count != 1 {
		t.Errorf("expected one native call, got %d", c.Count)
	}
	got := e.Evaluate("local n = Counter.new() n:add(2) return n", "")
	if n, ok := got.AsObject().(*counter); !ok || n.Count != 2 {
		t.Errorf("expected count 2 on a constructed counter, got %v (%s)", got, e.Error())
	}
}

func TestRegisterValue_InexactInteger(t *testing.T) {
	e := newEngine(t)
	e.RegisterValue("edge", variant.Int(1<<53))
	e.RegisterValue("big", variant.Int(1<<53+1))

	if got := e.Evaluate("edge", ""); !variant.Equal(got, variant.Int(1<<53)) {
		t.Errorf("expected 2^53, got %v (%s)", got, e.Error())
	}
	e.Evaluate("big", "")
	if !e.HasError() || !strings.HasSuffix(e.Error(), "(ArgumentError)") {
		t.Errorf("expected ArgumentError, got %q", e.Error())
	}
}

func TestRegisterClass_ConfigError(t *testing.T) {
	e := newEngine(t)
	a := &meta.Class{Name: "A"}
	b := &meta.Class{Name: "B", Super: a}
	a.Super = b

	if _, err := e.RegisterClass(b); err == nil {
		t.Fatal("expected an error for a cyclic superclass chain")
	}
	defer func() {
		if recover() == nil {
			t.Error("expected MustRegisterClass to panic")
		}
	}()
	e.MustRegisterClass(b)
}

func TestClose_DestroysConstructedObjects(t *testing.T) {
	e := New()
	e.MustRegisterClass(counterClass)

	got := e.Evaluate("local c = Counter.new() c:add(5) return c", "")
	o := got.AsObject()
	if o == nil {
		t.Fatalf("expected an object, got %v (%s)", got, e.Error())
	}
	if o.(*counter).Count != 5 {
		t.Errorf("expected count 5, got %d", o.(*counter).Count)
	}
	kept := e.Evaluate("Counter.new()", "").AsObject()
	kept.ObjectBase().Destroy()

	e.Close()
	if object.IsLive(o) {
		t.Error("expected engine-owned object to be destroyed on Close")
	}
}

func TestFindByState(t *testing.T) {
	e := New()
	L := e.State()
	if FindByState(L) != e {
		t.Error("expected FindByState to return the engine")
	}
	if e.Registry() == nil {
		t.Error("expected a registry")
	}
	e.Close()
	if FindByState(L) != nil {
		t.Error("expected no engine after Close")
	}

	other := lua.NewState()
	defer other.Close()
	if FindByState(other) != nil {
		t.Error("expected nil for an unassociated VM")
	}
}

func TestAttach(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	e := Attach(L)
	if Attach(L) != e {
		t.Error("expected Attach to reuse the associated engine")
	}
	e.RegisterValue("answer", variant.Int(42))
	if got := e.Evaluate("answer", ""); !variant.Equal(got, variant.Int(42)) {
		t.Errorf("expected 42, got %v", got)
	}
	e.Close()

	if err := L.DoString("y = 1"); err != nil {
		t.Errorf("expected attached VM to stay open, got %v", err)
	}
}

func TestAttach_CloseRestoresIndex(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	e := Attach(L)
	e.RegisterValue("stale", variant.String("old"))
	e.Close()

	if err := L.DoString("assert(stale == nil)"); err != nil {
		t.Errorf("expected closed engine's bindings to be gone, got %v", err)
	}
	if mt, ok := L.GetMetatable(L.G.Global).(*lua.LTable); ok && mt.RawGetString("__index") != lua.LNil {
		t.Errorf("expected __index to be removed, got %v", mt.RawGetString("__index"))
	}

	next := Attach(L)
	defer next.Close()
	if next == e {
		t.Fatal("expected a new engine after Close")
	}
	if got := next.Evaluate("stale", ""); !got.IsNull() {
		t.Errorf("expected Null, got %v", got)
	}
}

func TestAttach_ChainsExistingIndex(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	if err := L.DoString(`setmetatable(_G, {__index = function(_, k) return "fallback:" .. k end})`); err != nil {
		t.Fatal(err)
	}

	e := Attach(L)
	e.RegisterValue("bound", variant.String("yes"))

	if got := e.Evaluate("bound", ""); got.AsString() != "yes" {
		t.Errorf("expected yes, got %v", got)
	}
	if got := e.Evaluate("missing", ""); got.AsString() != "fallback:missing" {
		t.Errorf("expected previous __index to be consulted, got %v", got)
	}

	e.Close()
	if err := L.DoString(`assert(bound == "fallback:bound")`); err != nil {
		t.Errorf("expected previous __index to be restored, got %v", err)
	}
}

func TestEvaluate_Reentrant(t *testing.T) {
	e := newEngine(t)
	e.MustRegisterClass(reentrantClass)
	r := &reentrant{engine: e}
	defer r.Destroy()
	e.RegisterObject("r", r)

	e.Evaluate("r:nested()", "")
	if !e.HasError() || !strings.Contains(e.Error(), "re-entrant") {
		t.Errorf("expected re-entrant evaluation to fail, got %q", e.Error())
	}
}

func TestNewWithConfig(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prelude.lua"), []byte("greeting = 'hi'"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Dir = dir
	cfg.Scripts.Preload = []string{"prelude.lua"}

	e, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer e.Close()
	if got := e.Evaluate("greeting", ""); got.AsString() != "hi" {
		t.Errorf("expected preloaded global, got %v", got)
	}
	if got := e.Evaluate("string.upper('a')", ""); got.AsString() != "A" {
		t.Errorf("expected string library, got %v (%s)", got, e.Error())
	}
	if got := e.Evaluate("io", ""); !got.IsNull() {
		t.Errorf("expected io library to be closed by default, got %v", got)
	}
}

func TestNewWithConfig_Libraries(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Libraries = []string{"base"}
	e, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig failed: %v", err)
	}
	defer e.Close()
	if got := e.Evaluate("string", ""); !got.IsNull() {
		t.Errorf("expected no string library, got %v", got)
	}
	if got := e.Evaluate("tostring(1)", ""); got.AsString() != "1" {
		t.Errorf("expected base library, got %v", got)
	}
}

func TestNewWithConfig_PreloadFailure(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.lua"), []byte("raise('nope')"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Dir = dir
	cfg.Scripts.Preload = []string{"bad.lua"}

	_, err := NewWithConfig(cfg)
	if err == nil || !strings.Contains(err.Error(), "nope (RuntimeError)") {
		t.Errorf("expected preload failure, got %v", err)
	}

	cfg.Scripts.Preload = []string{"missing.lua"}
	if _, err := NewWithConfig(cfg); err == nil {
		t.Error("expected error for a missing preload script")
	}
}

func TestCollectGarbage(t *testing.T) {
	e := newEngine(t)
	e.Evaluate("local t = {} for i = 1, 100 do t[i] = {} end", "")
	e.CollectGarbage()
	if e.HasError() {
		t.Errorf("unexpected error %s", e.Error())
	}
}

func TestCollectGarbage_ReleasesUnheldObjects(t *testing.T) {
	e := newEngine(t)
	before := object.Live()
	for i := 0; i < 1000; i++ {
		e.RegisterObject("tmp", &counter{})
		e.Evaluate("tmp", "")
	}
	e.RegisterValue("tmp", variant.Null)
	e.CollectGarbage()
	e.CollectGarbage()

	if got := object.Live(); got > before {
		t.Errorf("expected at most %d live objects, got %d", before, got)
	}
	if got := e.Registry().Wrappers(); got > 0 {
		t.Errorf("expected no wrappers, got %d", got)
	}
}
