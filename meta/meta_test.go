package meta

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"testing"

	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

type testObject struct {
	object.Base
	Text   string
	Hidden int    `garnet:"-"`
	Label  string `garnet:"caption,readonly"`
	count  int
}

func (o *testObject) TestMethod(v1 int, v2 float64, v3 bool, v4 string) float64 {
	n, _ := strconv.Atoi(v4)
	adj := 5.0
	if v3 {
		adj = -5
	}
	return float64(v1)*v2 + adj + float64(n)
}

func (o *testObject) TestVariantMethod(v1, v2, v3 variant.Value) string {
	f1, _ := v1.Number()
	f2, _ := v2.Number()
	return fmt.Sprintf("%g-%s", f1+f2, v3.AsString())
}

func (o *testObject) TestVariadicMethod(v1 string, rest VariadicArgument) int64 {
	n, _ := strconv.Atoi(v1)
	return int64(n) + rest.At(0).AsInt()*rest.At(1).AsInt()
}

func (o *testObject) TestOverloadedMethod() int { return 1 }

func (o *testObject) TestOverloadedMethod_Int(x int) int { return x }

func (o *testObject) Sum(xs ...int) int {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total
}

func (o *testObject) Fail() error { return errors.New("boom") }

func (o *testObject) Bump() { o.count++ }

type derivedObject struct {
	testObject
	Extra bool
}

func (d *derivedObject) Shout(s string) string { return s + "!" }

type badObject struct {
	object.Base
}

func (b *badObject) Take(ch chan int) {}

func TestReflect_Methods(t *testing.T) {
	class, err := Reflect("TestObject", (*testObject)(nil))
	if err != nil {
		t.Fatalf("Reflect failed: %v", err)
	}

	names := class.MethodNames()
	want := map[string]bool{
		"bump": true, "fail": true, "sum": true, "testMethod": true,
		"testOverloadedMethod": true, "testVariadicMethod": true, "testVariantMethod": true,
	}
	if len(names) != len(want) {
		t.Fatalf("expected %d method names, got %v", len(want), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected method %q", n)
		}
	}

	group := class.Overloads("testOverloadedMethod")
	if len(group) != 2 {
		t.Fatalf("expected 2 overloads, got %d", len(group))
	}
	if len(group[0].Signature.Params) != 0 {
		t.Errorf("expected zero-arg overload first, got %d params", len(group[0].Signature.Params))
	}
	if p := group[1].Signature.Params; len(p) != 1 || p[0].Type != Int {
		t.Errorf("expected (Int) overload second, got %+v", p)
	}
}

func TestReflect_Invoke(t *testing.T) {
	class := MustReflect("TestObject", (*testObject)(nil))
	obj := &testObject{}
	defer obj.Destroy()

	m := class.Overloads("testMethod")[0]
	args, ok := m.Signature.Bind([]variant.Value{
		variant.Int(3), variant.Float(1.5), variant.Bool(true), variant.String("10"),
	})
	if !ok {
		t.Fatal("expected arguments to bind")
	}
	got, err := m.Invoke(obj, args)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !variant.Equal(got, variant.Float(9.5)) {
		t.Errorf("expected 9.5, got %v", got)
	}

	v := class.Overloads("testVariantMethod")[0]
	args, _ = v.Signature.Bind([]variant.Value{variant.Int(1), variant.Float(2.5), variant.String("x")})
	got, _ = v.Invoke(obj, args)
	if got.AsString() != "3.5-x" {
		t.Errorf("expected 3.5-x, got %v", got)
	}

	bump := class.Overloads("bump")[0]
	bump.Invoke(obj, Arguments{})
	if obj.count != 1 {
		t.Errorf("expected count 1, got %d", obj.count)
	}

	fail := class.Overloads("fail")[0]
	if _, err := fail.Invoke(obj, Arguments{}); err == nil || err.Error() != "boom" {
		t.Errorf("expected boom error, got %v", err)
	}
}

func TestReflect_Variadic(t *testing.T) {
	class := MustReflect("TestObject", (*testObject)(nil))
	obj := &testObject{}
	defer obj.Destroy()

	m := class.Overloads("testVariadicMethod")[0]
	if !m.Signature.Variadic || len(m.Signature.Params) != 1 {
		t.Fatalf("expected variadic with one fixed param, got %+v", m.Signature)
	}

	args, ok := m.Signature.Bind([]variant.Value{variant.String("3"), variant.Float(4), variant.Int(5)})
	if !ok {
		t.Fatal("expected bind to succeed")
	}
	if args.Rest.Len() != 2 {
		t.Fatalf("expected 2 rest args, got %d", args.Rest.Len())
	}
	got, err := m.Invoke(obj, args)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !variant.Equal(got, variant.Int(23)) {
		t.Errorf("expected 23, got %v", got)
	}

	sum := class.Overloads("sum")[0]
	if !sum.Signature.Variadic || len(sum.Signature.Params) != 0 {
		t.Fatalf("expected Go variadic to map to a variadic signature, got %+v", sum.Signature)
	}
	args, _ = sum.Signature.Bind([]variant.Value{variant.Int(1), variant.Float(2), variant.Int(3)})
	got, err = sum.Invoke(obj, args)
	if err != nil {
		t.Fatalf("invoke failed: %v", err)
	}
	if !variant.Equal(got, variant.Int(6)) {
		t.Errorf("expected 6, got %v", got)
	}

	if _, ok := sum.Signature.Bind(nil); !ok {
		t.Error("variadic with no fixed params should accept zero arguments")
	}
}

func TestReflect_Properties(t *testing.T) {
	class := MustReflect("TestObject", (*testObject)(nil))
	obj := &testObject{Label: "lbl"}
	defer obj.Destroy()

	if class.Property("hidden") != nil {
		t.Error("expected hidden field to be skipped")
	}
	if class.Property("count") != nil {
		t.Error("unexported field must not be a property")
	}

	text := class.Property("text")
	if text == nil {
		t.Fatal("expected text property")
	}
	if err := text.Set(obj, variant.String("hi")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if obj.Text != "hi" {
		t.Errorf("expected Text=hi, got %q", obj.Text)
	}
	got, _ := text.Get(obj)
	if got.AsString() != "hi" {
		t.Errorf("expected hi, got %v", got)
	}
	if err := text.Set(obj, variant.Int(3)); err == nil {
		t.Error("expected type error setting Int into String")
	}

	caption := class.Property("caption")
	if caption == nil || !caption.ReadOnly() {
		t.Fatal("expected read-only caption property")
	}
	got, _ = caption.Get(obj)
	if got.AsString() != "lbl" {
		t.Errorf("expected lbl, got %v", got)
	}
}

func TestReflect_Super(t *testing.T) {
	base := MustReflect("TestObject", (*testObject)(nil))
	derived, err := Reflect("Derived", (*derivedObject)(nil), WithSuper(base))
	if err != nil {
		t.Fatalf("Reflect failed: %v", err)
	}

	if names := derived.MethodNames(); len(names) != 1 || names[0] != "shout" {
		t.Errorf("expected only shout declared on Derived, got %v", names)
	}
	if !derived.IsSubclassOf(base) || base.IsSubclassOf(derived) {
		t.Error("subclass relation is wrong")
	}
	if derived.Property("text") == nil || derived.Property("extra") == nil {
		t.Error("expected inherited and own properties")
	}

	// Inherited property access works on the derived Go type.
	d := &derivedObject{}
	defer d.Destroy()
	if err := derived.Property("text").Set(d, variant.String("x")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if d.Text != "x" {
		t.Errorf("expected Text=x, got %q", d.Text)
	}

	// Inherited methods dispatch on the derived receiver.
	got, err := base.Overloads("testOverloadedMethod")[1].Invoke(d, Arguments{Fixed: []variant.Value{variant.Int(7)}})
	if err != nil || !variant.Equal(got, variant.Int(7)) {
		t.Errorf("expected 7, got %v (%v)", got, err)
	}
}

func TestReflect_Constructors(t *testing.T) {
	class := MustReflect("TestObject", (*testObject)(nil))
	if len(class.Constructors) != 1 || len(class.Constructors[0].Signature.Params) != 0 {
		t.Fatal("expected default zero-arg constructor")
	}
	o, err := class.Constructors[0].New(Arguments{})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := o.(*testObject); !ok {
		t.Errorf("expected *testObject, got %T", o)
	}

	withText := MustReflect("TestObject", (*testObject)(nil),
		WithConstructor(func() *testObject { return &testObject{} }),
		WithConstructor(func(text string) (*testObject, error) {
			if text == "" {
				return nil, errors.New("empty")
			}
			return &testObject{Text: text}, nil
		}),
	)
	if len(withText.Constructors) != 2 {
		t.Fatalf("expected 2 constructors, got %d", len(withText.Constructors))
	}
	ctor := withText.Constructors[1]
	o, err = ctor.New(Arguments{Fixed: []variant.Value{variant.String("t")}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if o.(*testObject).Text != "t" {
		t.Errorf("expected Text=t, got %q", o.(*testObject).Text)
	}
	if _, err := ctor.New(Arguments{Fixed: []variant.Value{variant.String("")}}); err == nil {
		t.Error("expected constructor error")
	}

	if _, err := Reflect("Bad", (*testObject)(nil), WithConstructor(42)); err == nil {
		t.Error("expected error for non-function constructor")
	}
}

func TestReflect_Errors(t *testing.T) {
	if _, err := Reflect("Bad", (*badObject)(nil)); err == nil {
		t.Error("expected error for unsupported parameter type")
	}
	if _, err := Reflect("Bad", (*badObject)(nil), Exclude("Take")); err != nil {
		t.Errorf("expected Exclude to hide the method, got %v", err)
	}
	if _, err := Reflect("Nil", nil); err == nil {
		t.Error("expected error for nil prototype")
	}
}

func TestCoerce(t *testing.T) {
	live := &testObject{}
	defer live.Destroy()
	dead := &testObject{}
	dead.Destroy()

	tests := []struct {
		typ  Type
		in   variant.Value
		ok   bool
		want variant.Value
	}{
		{Int, variant.Int(3), true, variant.Int(3)},
		{Int, variant.Float(4), true, variant.Int(4)},
		{Int, variant.Float(4.5), false, variant.Null},
		{Int, variant.String("4"), false, variant.Null},
		{Float, variant.Int(2), true, variant.Float(2)},
		{String, variant.Symbol("s"), true, variant.String("s")},
		{Symbol, variant.String("s"), true, variant.Symbol("s")},
		{Bool, variant.Int(1), false, variant.Null},
		{Object, variant.Null, true, variant.Null},
		{Object, variant.Object(live), true, variant.Object(live)},
		{Object, variant.Object(dead), false, variant.Null},
		{Dynamic, variant.String("x"), true, variant.String("x")},
		{List, variant.List(), true, variant.List()},
		{Map, variant.List(), true, variant.MapValue(variant.NewMap())},
		{Map, variant.List(variant.Int(1)), false, variant.Null},
	}
	for _, tt := range tests {
		got, ok := tt.typ.Coerce(tt.in)
		if ok != tt.ok {
			t.Errorf("%v.Coerce(%v): ok = %v, want %v", tt.typ, tt.in, ok, tt.ok)
			continue
		}
		if ok && !variant.Equal(got, tt.want) {
			t.Errorf("%v.Coerce(%v) = %v, want %v", tt.typ, tt.in, got, tt.want)
		}
	}
}

func TestParamCoerce_GoType(t *testing.T) {
	p := Param{Type: Object, GoType: reflect.TypeOf((*derivedObject)(nil))}

	d := &derivedObject{}
	defer d.Destroy()
	o := &testObject{}
	defer o.Destroy()

	if _, ok := p.Coerce(variant.Object(d)); !ok {
		t.Error("expected derived object to coerce")
	}
	if _, ok := p.Coerce(variant.Object(o)); ok {
		t.Error("expected unrelated object to be rejected")
	}
}

func TestSignature_Accepts(t *testing.T) {
	if !Sig(Int).Accepts(1) || Sig(Int).Accepts(2) {
		t.Error("fixed signature arity mismatch")
	}
	if !VarSig(Int).Accepts(3) || VarSig(Int).Accepts(0) {
		t.Error("variadic signature arity mismatch")
	}
}

func TestCheckChain(t *testing.T) {
	a := &Class{Name: "A"}
	b := &Class{Name: "B", Super: a}
	if err := b.CheckChain(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	a.Super = b
	if err := b.CheckChain(); err == nil {
		t.Error("expected cycle error")
	}
	if len(b.Ancestors()) != 1 {
		t.Errorf("expected Ancestors to stop at the cycle, got %d", len(b.Ancestors()))
	}
}

func TestScriptName(t *testing.T) {
	tests := map[string]string{
		"ReadAll":                  "readAll",
		"TestOverloadedMethod_Int": "testOverloadedMethod",
		"URL":                      "url",
		"HTTPServer":               "httpServer",
		"X":                        "x",
	}
	for in, want := range tests {
		if got := ScriptName(in); got != want {
			t.Errorf("ScriptName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidName(t *testing.T) {
	for _, n := range []string{"Foo", "_x", "a1"} {
		if !ValidName(n) {
			t.Errorf("expected %q to be valid", n)
		}
	}
	for _, n := range []string{"", "1a", "end", "a-b", "a.b"} {
		if ValidName(n) {
			t.Errorf("expected %q to be invalid", n)
		}
	}
}
