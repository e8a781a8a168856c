package gowrap

import (
	"fmt"
	"go/types"
	"strings"

	"github.com/chazu/garnet/meta"
)

const (
	objectPkg  = "github.com/chazu/garnet/object"
	variantPkg = "github.com/chazu/garnet/variant"
	metaPkg    = "github.com/chazu/garnet/meta"
)

// ClassSurface is the script-visible shape meta.Reflect would give a Go
// object type.
type ClassSurface struct {
	Name       string
	Methods    []MethodSurface
	Properties []PropertySurface
	// Skipped lists fields left out of the surface, with the reason.
	Skipped []string
	// Problems lists methods meta.Reflect would reject. A class with
	// problems needs meta.Exclude for those methods.
	Problems []string
}

// MethodSurface is one overload group.
type MethodSurface struct {
	Name      string
	Overloads []OverloadSurface
}

// OverloadSurface is one Go method inside an overload group.
type OverloadSurface struct {
	GoName   string
	Params   []meta.Type
	Variadic bool
	// Result is empty for methods returning nothing or only an error.
	Result string
}

// PropertySurface is one reflected struct field.
type PropertySurface struct {
	Name     string
	GoName   string
	Type     meta.Type
	ReadOnly bool
}

// Describe returns the class surfaces of every object type in model, in
// name order. Methods promoted from embedded structs are not listed.
func Describe(model *PackageModel) []ClassSurface {
	var out []ClassSurface
	for _, tm := range model.Types {
		if !tm.IsObject {
			continue
		}
		out = append(out, describeType(tm))
	}
	return out
}

func describeType(tm TypeModel) ClassSurface {
	cs := ClassSurface{Name: tm.Name}

	groups := map[string]int{}
	for _, fn := range tm.Methods {
		if fn.Name == "MetaClass" {
			continue
		}
		ov, err := describeMethod(fn)
		if err != nil {
			cs.Problems = append(cs.Problems, fmt.Sprintf("%s: %v", fn.Name, err))
			continue
		}
		name := MethodName(fn.Name)
		i, ok := groups[name]
		if !ok {
			i = len(cs.Methods)
			groups[name] = i
			cs.Methods = append(cs.Methods, MethodSurface{Name: name})
		}
		cs.Methods[i].Overloads = append(cs.Methods[i].Overloads, ov)
	}

	for _, f := range tm.Fields {
		if f.Embedded {
			continue
		}
		name, readonly, hidden := PropertyName(f.Name, f.Tag)
		if hidden {
			continue
		}
		t, err := scriptType(f.GoType)
		if err != nil {
			cs.Skipped = append(cs.Skipped, fmt.Sprintf("%s: %v", f.Name, err))
			continue
		}
		cs.Properties = append(cs.Properties, PropertySurface{
			Name:     name,
			GoName:   f.Name,
			Type:     t,
			ReadOnly: readonly,
		})
	}
	return cs
}

func describeMethod(fn FunctionModel) (OverloadSurface, error) {
	ov := OverloadSurface{GoName: fn.Name, Variadic: fn.Rest != NoRest}
	if fn.Rest == GoVariadic {
		last := fn.Params[len(fn.Params)-1].GoType.(*types.Slice)
		if _, err := scriptType(last.Elem()); err != nil {
			return ov, err
		}
	}
	for i, p := range fn.Fixed() {
		t, err := scriptType(p.GoType)
		if err != nil {
			return ov, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		ov.Params = append(ov.Params, t)
	}

	results := fn.Results
	if fn.ReturnsErr {
		results = results[:len(results)-1]
	}
	switch {
	case len(results) > 1, len(fn.Results) == 2 && !fn.ReturnsErr:
		return ov, fmt.Errorf("unsupported results (%d)", len(fn.Results))
	case len(results) == 1:
		t, err := scriptType(results[0].GoType)
		if err != nil {
			return ov, fmt.Errorf("result: %w", err)
		}
		ov.Result = t.String()
	}
	return ov, nil
}

// scriptType maps a Go type to the script type meta.Reflect gives it.
func scriptType(t types.Type) (meta.Type, error) {
	if isNamed(t, variantPkg, "Value") {
		if _, ptr := t.(*types.Pointer); !ptr {
			return meta.Dynamic, nil
		}
	}
	if isObjectType(t) {
		return meta.Object, nil
	}
	switch u := t.Underlying().(type) {
	case *types.Interface:
		if u.Empty() {
			return meta.Dynamic, nil
		}
	case *types.Basic:
		info := u.Info()
		switch {
		case info&types.IsBoolean != 0:
			return meta.Bool, nil
		case info&types.IsInteger != 0:
			return meta.Int, nil
		case info&types.IsFloat != 0:
			return meta.Float, nil
		case info&types.IsString != 0:
			return meta.String, nil
		}
	case *types.Slice:
		if _, err := scriptType(u.Elem()); err != nil {
			return 0, err
		}
		return meta.List, nil
	case *types.Array:
		if _, err := scriptType(u.Elem()); err != nil {
			return 0, err
		}
		return meta.List, nil
	case *types.Map:
		if _, err := scriptType(u.Key()); err != nil {
			return 0, err
		}
		if _, err := scriptType(u.Elem()); err != nil {
			return 0, err
		}
		return meta.Map, nil
	}
	return 0, fmt.Errorf("unsupported Go type %s", t)
}

// String renders the surface the way a script author would call it.
func (cs ClassSurface) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "class %s\n", cs.Name)
	for _, m := range cs.Methods {
		for _, ov := range m.Overloads {
			params := make([]string, 0, len(ov.Params)+1)
			for _, p := range ov.Params {
				params = append(params, p.String())
			}
			if ov.Variadic {
				params = append(params, "...")
			}
			fmt.Fprintf(&b, "  %s(%s)", m.Name, strings.Join(params, ", "))
			if ov.Result != "" {
				fmt.Fprintf(&b, " -> %s", ov.Result)
			}
			b.WriteString("\n")
		}
	}
	for _, p := range cs.Properties {
		fmt.Fprintf(&b, "  %s: %s", p.Name, p.Type)
		if p.ReadOnly {
			b.WriteString(" (read-only)")
		}
		b.WriteString("\n")
	}
	for _, s := range cs.Skipped {
		fmt.Fprintf(&b, "  # skipped %s\n", s)
	}
	for _, p := range cs.Problems {
		fmt.Fprintf(&b, "  # rejected %s\n", p)
	}
	return b.String()
}
