package meta

import (
	"reflect"

	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

// Type is the declared type of a parameter, property or result.
type Type uint8

const (
	// Dynamic accepts any value unchanged.
	Dynamic Type = iota
	Bool
	Int
	Float
	String
	Symbol
	List
	Map
	Object
)

var typeNames = [...]string{
	Dynamic: "Dynamic",
	Bool:    "Bool",
	Int:     "Int",
	Float:   "Float",
	String:  "String",
	Symbol:  "Symbol",
	List:    "List",
	Map:     "Map",
	Object:  "Object",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Type(?)"
}

// Coerce converts v to t, reporting whether the conversion is allowed.
//
//   - Int accepts Int and integral Float.
//   - Float accepts Int and Float.
//   - String and Symbol accept each other.
//   - Map accepts an empty List, the form an empty script table takes.
//   - Object accepts a live object or Null.
//   - Dynamic accepts anything.
func (t Type) Coerce(v variant.Value) (variant.Value, bool) {
	switch t {
	case Dynamic:
		return v, true
	case Bool:
		return v, v.Kind() == variant.KindBool
	case Int:
		switch v.Kind() {
		case variant.KindInt:
			return v, true
		case variant.KindFloat:
			if variant.IntegralFloat(v.AsFloat()) {
				return variant.Int(int64(v.AsFloat())), true
			}
		}
		return variant.Null, false
	case Float:
		switch v.Kind() {
		case variant.KindFloat:
			return v, true
		case variant.KindInt:
			return variant.Float(float64(v.AsInt())), true
		}
		return variant.Null, false
	case String:
		switch v.Kind() {
		case variant.KindString:
			return v, true
		case variant.KindSymbol:
			return variant.String(v.AsString()), true
		}
		return variant.Null, false
	case Symbol:
		switch v.Kind() {
		case variant.KindSymbol:
			return v, true
		case variant.KindString:
			return variant.Symbol(v.AsString()), true
		}
		return variant.Null, false
	case List:
		return v, v.Kind() == variant.KindList
	case Map:
		switch v.Kind() {
		case variant.KindMap:
			return v, true
		case variant.KindList:
			if len(v.AsList()) == 0 {
				return variant.MapValue(variant.NewMap()), true
			}
		}
		return variant.Null, false
	case Object:
		switch v.Kind() {
		case variant.KindNull:
			return v, true
		case variant.KindObject:
			if object.IsLive(v.AsObject()) {
				return v, true
			}
		}
		return variant.Null, false
	}
	return variant.Null, false
}

// Param is one declared parameter of a method or constructor.
type Param struct {
	Name string
	Type Type
	// GoType narrows an Object parameter to objects assignable to it.
	GoType reflect.Type
}

// Coerce is Type.Coerce plus the GoType check for Object parameters.
func (p Param) Coerce(v variant.Value) (variant.Value, bool) {
	out, ok := p.Type.Coerce(v)
	if !ok {
		return out, false
	}
	if p.Type == Object && p.GoType != nil && out.Kind() == variant.KindObject {
		if !reflect.TypeOf(out.AsObject()).AssignableTo(p.GoType) {
			return variant.Null, false
		}
	}
	return out, true
}

// Signature describes the accepted arguments of a callable. A variadic
// signature accepts any number of further arguments after Params; they are
// delivered through a VariadicArgument.
type Signature struct {
	Params   []Param
	Variadic bool
}

// Sig is shorthand for a non-variadic signature of unnamed parameters.
func Sig(types ...Type) Signature {
	params := make([]Param, len(types))
	for i, t := range types {
		params[i] = Param{Type: t}
	}
	return Signature{Params: params}
}

// VarSig is Sig with a trailing variadic tail.
func VarSig(types ...Type) Signature {
	s := Sig(types...)
	s.Variadic = true
	return s
}

// Accepts reports whether the signature can take n arguments.
func (s Signature) Accepts(n int) bool {
	if n == len(s.Params) {
		return true
	}
	return s.Variadic && n > len(s.Params)
}

// Bind coerces args against the signature. Arguments past the fixed
// parameters become the variadic tail.
func (s Signature) Bind(args []variant.Value) (Arguments, bool) {
	if !s.Accepts(len(args)) {
		return Arguments{}, false
	}
	fixed := make([]variant.Value, len(s.Params))
	for i, p := range s.Params {
		v, ok := p.Coerce(args[i])
		if !ok {
			return Arguments{}, false
		}
		fixed[i] = v
	}
	out := Arguments{Fixed: fixed}
	if s.Variadic {
		out.Rest = NewVariadicArgument(args[len(s.Params):]...)
	}
	return out, true
}

// Arguments are the bound arguments of one call.
type Arguments struct {
	Fixed []variant.Value
	Rest  VariadicArgument
}

// At returns fixed argument i, or Null when out of range.
func (a Arguments) At(i int) variant.Value {
	if i < 0 || i >= len(a.Fixed) {
		return variant.Null
	}
	return a.Fixed[i]
}

// Int returns fixed argument i as int64.
func (a Arguments) Int(i int) int64 { return a.At(i).AsInt() }

// Float returns fixed argument i as float64, widening Ints.
func (a Arguments) Float(i int) float64 {
	f, _ := a.At(i).Number()
	return f
}

// String returns fixed argument i as a string.
func (a Arguments) String(i int) string { return a.At(i).AsString() }

// Bool returns fixed argument i as a bool.
func (a Arguments) Bool(i int) bool { return a.At(i).AsBool() }
