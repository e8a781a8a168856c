package variant

import (
	"fmt"
	"reflect"

	"github.com/chazu/garnet/object"
)

// From converts a plain Go value into a Value. Supported inputs are nil,
// bool, the integer and float kinds, string, Value, object.Object, slices,
// arrays and maps of supported values.
func From(x any) (Value, error) {
	switch x := x.(type) {
	case nil:
		return Null, nil
	case Value:
		return x, nil
	case object.Object:
		return Object(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []Value:
		return List(x...), nil
	case *Map:
		return MapValue(x), nil
	}
	return fromReflect(reflect.ValueOf(x))
}

// MustFrom is From that panics on unsupported input.
func MustFrom(x any) Value {
	v, err := From(x)
	if err != nil {
		panic(err)
	}
	return v
}

func fromReflect(rv reflect.Value) (Value, error) {
	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > 1<<63-1 {
			return Null, fmt.Errorf("variant: %d overflows Int", u)
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return List(), nil
		}
		out := make([]Value, rv.Len())
		for i := range out {
			e, err := From(rv.Index(i).Interface())
			if err != nil {
				return Null, err
			}
			out[i] = e
		}
		return List(out...), nil
	case reflect.Map:
		m := NewMap()
		iter := rv.MapRange()
		for iter.Next() {
			k, err := From(iter.Key().Interface())
			if err != nil {
				return Null, err
			}
			v, err := From(iter.Value().Interface())
			if err != nil {
				return Null, err
			}
			m.Set(k, v)
		}
		return MapValue(m), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null, nil
		}
		if o, ok := rv.Interface().(object.Object); ok {
			return Object(o), nil
		}
	}
	return Null, fmt.Errorf("variant: unsupported Go type %s", rv.Type())
}

// Interface returns the natural Go value for v: nil, bool, int64, float64,
// string, []any, map[any]any or object.Object. Symbols become strings.
// Map keys that are lists or maps are rendered with String.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString, KindSymbol:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[any]any, v.m.Len())
		for _, e := range v.m.Entries() {
			var k any
			switch e.Key.kind {
			case KindList, KindMap:
				k = e.Key.String()
			default:
				k = e.Key.Interface()
			}
			out[k] = e.Value.Interface()
		}
		return out
	case KindObject:
		return v.obj
	}
	return nil
}
