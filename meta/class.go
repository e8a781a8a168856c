// Package meta describes native classes to the scripting bridge: their
// constructors, overloaded methods, properties and superclass.
//
// A Class is plain data. It can be written by hand, built from a Go type with
// Reflect, or derived from another reflective model (see package protometa).
package meta

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/chazu/garnet/object"
	"github.com/chazu/garnet/variant"
)

// Method is one overload of a named method. Several Methods sharing a Name
// on the same Class form an overload group, tried in declaration order.
type Method struct {
	Name      string
	Signature Signature
	Invoke    func(self object.Object, args Arguments) (variant.Value, error)
}

// Constructor is one overload of a class constructor.
type Constructor struct {
	Signature Signature
	New       func(args Arguments) (object.Object, error)
}

// Property is a named attribute with a getter and an optional setter. A
// property without Set is read-only.
type Property struct {
	Name string
	Type Type
	Get  func(self object.Object) (variant.Value, error)
	Set  func(self object.Object, v variant.Value) error
}

// ReadOnly reports whether the property has no setter.
func (p *Property) ReadOnly() bool { return p.Set == nil }

// Class is a native class descriptor.
type Class struct {
	Name  string
	Super *Class
	// GoType is the Go type of instances, used to find the class of an
	// object handed to a VM. It may be nil for classes whose instances name
	// their class through Described.
	GoType       reflect.Type
	Constructors []*Constructor
	Methods      []*Method
	Properties   []*Property
}

// Described is implemented by objects that carry their own class
// descriptor, taking precedence over lookup by Go type.
type Described interface {
	object.Object
	MetaClass() *Class
}

// Overloads returns the methods named name declared directly on c, in
// declaration order.
func (c *Class) Overloads(name string) []*Method {
	var out []*Method
	for _, m := range c.Methods {
		if m.Name == name {
			out = append(out, m)
		}
	}
	return out
}

// MethodNames returns the distinct method names declared directly on c, in
// order of first declaration.
func (c *Class) MethodNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range c.Methods {
		if !seen[m.Name] {
			seen[m.Name] = true
			out = append(out, m.Name)
		}
	}
	return out
}

// Property returns the property named name, searching superclasses.
func (c *Class) Property(name string) *Property {
	for k := c; k != nil; k = k.Super {
		for _, p := range k.Properties {
			if p.Name == name {
				return p
			}
		}
	}
	return nil
}

// IsSubclassOf reports whether c is other or inherits from it.
func (c *Class) IsSubclassOf(other *Class) bool {
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
	}
	return false
}

// Ancestors returns the superclass chain of c, nearest first. It stops at the
// first repeated class so a cyclic chain cannot loop; use CheckChain to
// detect cycles.
func (c *Class) Ancestors() []*Class {
	seen := map[*Class]bool{c: true}
	var out []*Class
	for k := c.Super; k != nil && !seen[k]; k = k.Super {
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// CheckChain reports a cyclic superclass chain.
func (c *Class) CheckChain() error {
	seen := map[*Class]bool{}
	var names []string
	for k := c; k != nil; k = k.Super {
		names = append(names, k.Name)
		if seen[k] {
			return fmt.Errorf("cyclic superclass chain: %s", strings.Join(names, " < "))
		}
		seen[k] = true
	}
	return nil
}

// String describes the class and its direct members.
func (c *Class) String() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	if c.Super != nil {
		sb.WriteString(" < ")
		sb.WriteString(c.Super.Name)
	}
	return sb.String()
}
