// Package variant implements the dynamic value exchanged between native code
// and a scripting VM.
package variant

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/garnet/object"
)

// Kind identifies the alternative held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSymbol
	KindList
	KindMap
	KindObject
)

var kindNames = [...]string{
	KindNull:   "Null",
	KindBool:   "Bool",
	KindInt:    "Int",
	KindFloat:  "Float",
	KindString: "String",
	KindSymbol: "Symbol",
	KindList:   "List",
	KindMap:    "Map",
	KindObject: "Object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a tagged union over the kinds above. The zero Value is Null.
// Values are immutable except for the contents of a List slice or a Map,
// which are shared on copy.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	m    *Map
	obj  object.Object
}

// Null is the null value.
var Null = Value{}

// Constructors, one per kind.

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Symbol(s string) Value { return Value{kind: KindSymbol, s: s} }
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }
func MapValue(m *Map) Value {
	if m == nil {
		m = NewMap()
	}
	return Value{kind: KindMap, m: m}
}

// Object wraps a native object. A nil object yields Null.
func Object(o object.Object) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, obj: o}
}

// Kind returns the alternative held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload, false for other kinds.
func (v Value) AsBool() bool { return v.b }

// AsInt returns the integer payload, 0 for other kinds.
func (v Value) AsInt() int64 { return v.i }

// AsFloat returns the float payload, 0 for other kinds.
func (v Value) AsFloat() float64 { return v.f }

// AsString returns the text of a String or Symbol, "" for other kinds.
func (v Value) AsString() string { return v.s }

// AsList returns the elements of a List. The slice is shared.
func (v Value) AsList() []Value { return v.list }

// AsMap returns the map of a Map value, nil for other kinds.
func (v Value) AsMap() *Map { return v.m }

// AsObject returns the object of an Object value, nil for other kinds.
func (v Value) AsObject() object.Object { return v.obj }

// Truthy follows script semantics: only Null and false are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	}
	return true
}

func (v Value) isNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// Number returns the numeric payload of an Int or Float as float64.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	}
	return 0, false
}

// ExactFloat reports whether i survives a conversion to float64 and back.
// Every integer in [-2^53, 2^53] does.
func ExactFloat(i int64) bool {
	f := float64(i)
	return f >= -(1<<63) && f < (1<<63) && int64(f) == i
}

// IntegralFloat reports whether f has an exact int64 representation.
func IntegralFloat(f float64) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return false
	}
	return f >= -(1<<63) && f < (1<<63)
}

// ---------------------------------------------------------------------------
// Equality and formatting
// ---------------------------------------------------------------------------

// Equal reports whether a and b hold the same content. Ints and Floats
// compare by numeric value, so Int(2) equals Float(2). Other kinds must
// match. Objects compare by identity, lists elementwise and maps entrywise.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		if a.isNumber() && b.isNumber() {
			return compareNumbers(a, b) == 0
		}
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindInt:
		return a.i == b.i
	case KindFloat:
		return a.f == b.f
	case KindString, KindSymbol:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return a.m.Equal(b.m)
	case KindObject:
		return a.obj == b.obj
	}
	return false
}

// String renders v for diagnostics.
func (v Value) String() string {
	var sb strings.Builder
	v.format(&sb)
	return sb.String()
}

func (v Value) format(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindSymbol:
		sb.WriteByte(':')
		sb.WriteString(v.s)
	case KindList:
		sb.WriteByte('[')
		for i, e := range v.list {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.format(sb)
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteByte('{')
		for i, e := range v.m.Entries() {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.Key.format(sb)
			sb.WriteString(": ")
			e.Value.format(sb)
		}
		sb.WriteByte('}')
	case KindObject:
		if s, ok := v.obj.(fmt.Stringer); ok {
			sb.WriteString(s.String())
		} else {
			fmt.Fprintf(sb, "<%T>", v.obj)
		}
	}
}
