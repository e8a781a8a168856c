package meta

import "github.com/chazu/garnet/variant"

// VariadicArgument carries the arguments of a call that fall beyond the
// fixed parameters of a variadic signature, in call order.
type VariadicArgument struct {
	values []variant.Value
}

// NewVariadicArgument copies vs into a new carrier.
func NewVariadicArgument(vs ...variant.Value) VariadicArgument {
	if len(vs) == 0 {
		return VariadicArgument{}
	}
	return VariadicArgument{values: append([]variant.Value(nil), vs...)}
}

// Len returns the number of collected arguments.
func (v VariadicArgument) Len() int { return len(v.values) }

// At returns argument i, or Null when out of range.
func (v VariadicArgument) At(i int) variant.Value {
	if i < 0 || i >= len(v.values) {
		return variant.Null
	}
	return v.values[i]
}

// List returns a copy of the collected arguments.
func (v VariadicArgument) List() []variant.Value {
	return append([]variant.Value(nil), v.values...)
}

// Value returns the collected arguments as a List value.
func (v VariadicArgument) Value() variant.Value {
	return variant.List(v.List()...)
}
