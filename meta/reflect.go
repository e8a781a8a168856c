package meta

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

// ---------------------------------------------------------------------------
// Reflect: build a Class from a Go type
// ---------------------------------------------------------------------------

var (
	objectType   = reflect.TypeOf((*object.Object)(nil)).Elem()
	valueType    = reflect.TypeOf(variant.Value{})
	variadicType = reflect.TypeOf(VariadicArgument{})
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	baseType     = reflect.TypeOf((*object.Base)(nil))
)

// Option configures Reflect.
type Option func(*reflectConfig)

type reflectConfig struct {
	super   *Class
	ctors   []any
	exclude map[string]bool
}

// WithSuper sets the superclass. Methods the superclass's Go type already
// has are inherited rather than redeclared.
func WithSuper(super *Class) Option {
	return func(c *reflectConfig) { c.super = super }
}

// WithConstructor adds a constructor overload from a Go function returning
// the instance type, optionally with an error. Without any WithConstructor
// the class gets a zero-argument constructor allocating a zero value.
func WithConstructor(fn any) Option {
	return func(c *reflectConfig) { c.ctors = append(c.ctors, fn) }
}

// Exclude hides Go methods and fields by their Go name.
func Exclude(goNames ...string) Option {
	return func(c *reflectConfig) {
		for _, n := range goNames {
			c.exclude[n] = true
		}
	}
}

// Reflect builds a class descriptor for the Go type of prototype, which must
// be a pointer to a struct embedding object.Base. A typed nil pointer is
// enough:
//
//	meta.Reflect("Counter", (*Counter)(nil))
//
// Exported methods become script methods named by ScriptName, so Go methods
// differing only in an underscore suffix form one overload group. A last
// parameter of type VariadicArgument, or a Go variadic parameter, makes the
// method variadic. Methods may return nothing, a value, an error, or a value
// and an error.
//
// Exported non-embedded fields become properties named by PropertyName,
// overridable with a `garnet:"name"` tag; `garnet:"name,readonly"` drops the
// setter and `garnet:"-"` hides the field. Fields of unsupported types are
// skipped.
func Reflect(name string, prototype object.Object, opts ...Option) (*Class, error) {
	cfg := &reflectConfig{exclude: make(map[string]bool)}
	for _, opt := range opts {
		opt(cfg)
	}

	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("meta: %s: prototype must be a pointer to a struct, got %v", name, t)
	}

	class := &Class{Name: name, Super: cfg.super, GoType: t}

	if len(cfg.ctors) == 0 {
		elem := t.Elem()
		class.Constructors = []*Constructor{{
			New: func(Arguments) (object.Object, error) {
				return reflect.New(elem).Interface().(object.Object), nil
			},
		}}
	}
	for _, fn := range cfg.ctors {
		ctor, err := reflectConstructor(t, fn)
		if err != nil {
			return nil, fmt.Errorf("meta: %s constructor: %w", name, err)
		}
		class.Constructors = append(class.Constructors, ctor)
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if cfg.exclude[m.Name] || isBaseMethod(m.Name) || m.Name == "MetaClass" {
			continue
		}
		if inherited(cfg.super, m.Name) {
			continue
		}
		method, err := reflectMethod(m)
		if err != nil {
			return nil, fmt.Errorf("meta: %s.%s: %w", name, m.Name, err)
		}
		class.Methods = append(class.Methods, method)
	}

	elem := t.Elem()
	for i := 0; i < elem.NumField(); i++ {
		f := elem.Field(i)
		if !f.IsExported() || f.Anonymous || cfg.exclude[f.Name] {
			continue
		}
		prop, ok := reflectProperty(f)
		if ok {
			class.Properties = append(class.Properties, prop)
		}
	}

	return class, nil
}

// MustReflect is Reflect that panics on error.
func MustReflect(name string, prototype object.Object, opts ...Option) *Class {
	c, err := Reflect(name, prototype, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func isBaseMethod(name string) bool {
	_, ok := baseType.MethodByName(name)
	return ok
}

func inherited(super *Class, goName string) bool {
	for k := super; k != nil; k = k.Super {
		if k.GoType == nil {
			continue
		}
		if _, ok := k.GoType.MethodByName(goName); ok {
			return true
		}
	}
	return false
}

func reflectMethod(m reflect.Method) (*Method, error) {
	c, err := newCallable(m.Type, 1)
	if err != nil {
		return nil, err
	}
	if err := checkResults(m.Type, false); err != nil {
		return nil, err
	}
	goName := m.Name
	return &Method{
		Name:      ScriptName(goName),
		Signature: c.sig,
		Invoke: func(self object.Object, args Arguments) (variant.Value, error) {
			fn := reflect.ValueOf(self).MethodByName(goName)
			if !fn.IsValid() {
				return variant.Null, TypeErrorf("%T has no method %s", self, goName)
			}
			out, err := c.call(fn, args)
			if err != nil {
				return variant.Null, err
			}
			return collectResults(out)
		},
	}, nil
}

func reflectConstructor(instance reflect.Type, fn any) (*Constructor, error) {
	fv := reflect.ValueOf(fn)
	ft := fv.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("expected a function, got %v", ft)
	}
	if ft.NumOut() == 0 || !ft.Out(0).Implements(objectType) {
		return nil, fmt.Errorf("%v must return an object", ft)
	}
	if !ft.Out(0).AssignableTo(instance) && !instance.AssignableTo(ft.Out(0)) {
		return nil, fmt.Errorf("%v does not return %v", ft, instance)
	}
	if err := checkResults(ft, true); err != nil {
		return nil, err
	}
	c, err := newCallable(ft, 0)
	if err != nil {
		return nil, err
	}
	return &Constructor{
		Signature: c.sig,
		New: func(args Arguments) (object.Object, error) {
			out, err := c.call(fv, args)
			if err != nil {
				return nil, err
			}
			if len(out) == 2 && !out[1].IsNil() {
				return nil, out[1].Interface().(error)
			}
			if out[0].IsNil() {
				return nil, errors.New("constructor returned nil")
			}
			return out[0].Interface().(object.Object), nil
		},
	}, nil
}

func reflectProperty(f reflect.StructField) (*Property, bool) {
	name := PropertyName(f.Name)
	readonly := false
	if tag, ok := f.Tag.Lookup("garnet"); ok {
		parts := strings.Split(tag, ",")
		if parts[0] == "-" {
			return nil, false
		}
		if parts[0] != "" {
			name = parts[0]
		}
		for _, p := range parts[1:] {
			if p == "readonly" {
				readonly = true
			}
		}
	}
	p, err := paramFor(f.Type)
	if err != nil {
		return nil, false
	}
	goName := f.Name
	field := func(self object.Object) (reflect.Value, error) {
		rv := reflect.ValueOf(self)
		if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
			return reflect.Value{}, TypeErrorf("%T has no field %s", self, goName)
		}
		fv := rv.Elem().FieldByName(goName)
		if !fv.IsValid() {
			return reflect.Value{}, TypeErrorf("%T has no field %s", self, goName)
		}
		return fv, nil
	}

	prop := &Property{
		Name: name,
		Type: p.Type,
		Get: func(self object.Object) (variant.Value, error) {
			fv, err := field(self)
			if err != nil {
				return variant.Null, err
			}
			return toVariant(fv)
		},
	}
	if !readonly {
		ft := f.Type
		prop.Set = func(self object.Object, v variant.Value) error {
			fv, err := field(self)
			if err != nil {
				return err
			}
			nv, err := fromVariant(v, ft)
			if err != nil {
				return err
			}
			fv.Set(nv)
			return nil
		}
	}
	return prop, true
}

// ---------------------------------------------------------------------------
// Calling Go functions with bound arguments
// ---------------------------------------------------------------------------

type restKind int

const (
	restNone restKind = iota
	restCarrier
	restSlice
)

type callable struct {
	fixed    []reflect.Type
	sig      Signature
	rest     restKind
	restElem reflect.Type
}

// newCallable derives a Signature from ft, ignoring the first skip inputs
// (the receiver of a method expression).
func newCallable(ft reflect.Type, skip int) (*callable, error) {
	c := &callable{}
	n := ft.NumIn()
	last := n - 1
	switch {
	case n > skip && ft.IsVariadic():
		c.rest = restSlice
		c.restElem = ft.In(last).Elem()
		if _, err := paramFor(c.restElem); err != nil {
			return nil, err
		}
		n = last
	case n > skip && ft.In(last) == variadicType:
		c.rest = restCarrier
		n = last
	}
	for i := skip; i < n; i++ {
		in := ft.In(i)
		p, err := paramFor(in)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i-skip+1, err)
		}
		c.fixed = append(c.fixed, in)
		c.sig.Params = append(c.sig.Params, p)
	}
	c.sig.Variadic = c.rest != restNone
	return c, nil
}

func (c *callable) call(fn reflect.Value, args Arguments) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, len(c.fixed)+1)
	for i, t := range c.fixed {
		v, err := fromVariant(args.At(i), t)
		if err != nil {
			return nil, err
		}
		in = append(in, v)
	}
	switch c.rest {
	case restCarrier:
		in = append(in, reflect.ValueOf(args.Rest))
	case restSlice:
		rest := args.Rest.List()
		s := reflect.MakeSlice(reflect.SliceOf(c.restElem), len(rest), len(rest))
		for i, v := range rest {
			ev, err := fromVariant(v, c.restElem)
			if err != nil {
				return nil, err
			}
			s.Index(i).Set(ev)
		}
		in = append(in, s)
		return fn.CallSlice(in), nil
	}
	return fn.Call(in), nil
}

func checkResults(ft reflect.Type, ctor bool) error {
	switch ft.NumOut() {
	case 0:
		if ctor {
			return errors.New("constructor must return a value")
		}
		return nil
	case 1:
		if ft.Out(0) == errorType {
			if ctor {
				return errors.New("constructor must return a value")
			}
			return nil
		}
		if !ctor {
			if _, err := paramFor(ft.Out(0)); err != nil {
				return fmt.Errorf("result: %w", err)
			}
		}
		return nil
	case 2:
		if ft.Out(1) != errorType {
			return fmt.Errorf("second result must be error, got %v", ft.Out(1))
		}
		if !ctor {
			if _, err := paramFor(ft.Out(0)); err != nil {
				return fmt.Errorf("result: %w", err)
			}
		}
		return nil
	}
	return fmt.Errorf("too many results (%d)", ft.NumOut())
}

func collectResults(out []reflect.Value) (variant.Value, error) {
	switch len(out) {
	case 0:
		return variant.Null, nil
	case 1:
		if out[0].Type() == errorType {
			if out[0].IsNil() {
				return variant.Null, nil
			}
			return variant.Null, out[0].Interface().(error)
		}
		return toVariant(out[0])
	default:
		if !out[1].IsNil() {
			return variant.Null, out[1].Interface().(error)
		}
		return toVariant(out[0])
	}
}

// ---------------------------------------------------------------------------
// Go type mapping
// ---------------------------------------------------------------------------

// paramFor maps a Go type to the Param accepting it.
func paramFor(t reflect.Type) (Param, error) {
	if t == valueType {
		return Param{Type: Dynamic}, nil
	}
	if t.Implements(objectType) {
		return Param{Type: Object, GoType: t}, nil
	}
	switch t.Kind() {
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return Param{Type: Dynamic}, nil
		}
	case reflect.Bool:
		return Param{Type: Bool}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Param{Type: Int}, nil
	case reflect.Float32, reflect.Float64:
		return Param{Type: Float}, nil
	case reflect.String:
		return Param{Type: String}, nil
	case reflect.Slice, reflect.Array:
		if _, err := paramFor(t.Elem()); err != nil {
			return Param{}, err
		}
		return Param{Type: List}, nil
	case reflect.Map:
		if _, err := paramFor(t.Key()); err != nil {
			return Param{}, err
		}
		if _, err := paramFor(t.Elem()); err != nil {
			return Param{}, err
		}
		return Param{Type: Map}, nil
	}
	return Param{}, fmt.Errorf("unsupported Go type %v", t)
}

// fromVariant converts v to a Go value of type t.
func fromVariant(v variant.Value, t reflect.Type) (reflect.Value, error) {
	p, err := paramFor(t)
	if err != nil {
		return reflect.Value{}, err
	}
	cv, ok := p.Coerce(v)
	if !ok {
		return reflect.Value{}, TypeErrorf("cannot convert %s to %v", v.Kind(), t)
	}

	switch p.Type {
	case Dynamic:
		if t == valueType {
			return reflect.ValueOf(cv), nil
		}
		x := cv.Interface()
		if x == nil {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(x), nil
	case Object:
		o := cv.AsObject()
		if o == nil {
			return reflect.Zero(t), nil
		}
		return reflect.ValueOf(o), nil
	}

	nv := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		nv.SetBool(cv.AsBool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := cv.AsInt()
		if nv.OverflowInt(n) {
			return reflect.Value{}, ArgumentErrorf("%d overflows %v", n, t)
		}
		nv.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := cv.AsInt()
		if n < 0 || nv.OverflowUint(uint64(n)) {
			return reflect.Value{}, ArgumentErrorf("%d overflows %v", n, t)
		}
		nv.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		f, _ := cv.Number()
		nv.SetFloat(f)
	case reflect.String:
		nv.SetString(cv.AsString())
	case reflect.Slice:
		list := cv.AsList()
		nv = reflect.MakeSlice(t, len(list), len(list))
		for i, e := range list {
			ev, err := fromVariant(e, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			nv.Index(i).Set(ev)
		}
	case reflect.Array:
		list := cv.AsList()
		if len(list) != t.Len() {
			return reflect.Value{}, ArgumentErrorf("expected %d elements, got %d", t.Len(), len(list))
		}
		for i, e := range list {
			ev, err := fromVariant(e, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			nv.Index(i).Set(ev)
		}
	case reflect.Map:
		m := cv.AsMap()
		nv = reflect.MakeMapWithSize(t, m.Len())
		for _, e := range m.Entries() {
			kv, err := fromVariant(e.Key, t.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			ev, err := fromVariant(e.Value, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			nv.SetMapIndex(kv, ev)
		}
	}
	return nv, nil
}

// toVariant converts a Go value to a Value.
func toVariant(rv reflect.Value) (variant.Value, error) {
	if rv.Type() == valueType {
		return rv.Interface().(variant.Value), nil
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		if rv.IsNil() {
			if rv.Kind() == reflect.Slice {
				return variant.List(), nil
			}
			if rv.Kind() == reflect.Map {
				return variant.MapValue(nil), nil
			}
			return variant.Null, nil
		}
	}
	return variant.From(rv.Interface())
}
