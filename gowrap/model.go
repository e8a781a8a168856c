// Package gowrap introspects Go packages and previews the script surface
// meta.Reflect would give their object types.
package gowrap

import "go/types"

// PackageModel is the exported API of one Go package, as far as scripts
// can see it.
type PackageModel struct {
	ImportPath string
	Name       string
	Functions  []FunctionModel
	Types      []TypeModel
}

// TypeModel is an exported named type.
type TypeModel struct {
	Name   string
	GoType types.Type
	// IsObject is set when *T implements object.Object, i.e. T can be
	// handed to a script.
	IsObject bool
	Fields   []FieldModel
	// Methods declared on T or *T. Promoted methods are left out.
	Methods []FunctionModel
}

// Rest says how a function takes trailing arguments.
type Rest uint8

const (
	// NoRest takes a fixed number of arguments.
	NoRest Rest = iota
	// GoVariadic ends in xs ...T.
	GoVariadic
	// VariadicArgument ends in a meta.VariadicArgument.
	VariadicArgument
)

// FunctionModel is an exported function or method. Params exclude the
// receiver; for GoVariadic the last one is the []T slice.
type FunctionModel struct {
	Name       string
	Params     []ParamModel
	Results    []ParamModel
	ReturnsErr bool
	Rest       Rest
}

// Fixed returns the parameters before the rest argument, if any.
func (fm FunctionModel) Fixed() []ParamModel {
	if fm.Rest == NoRest {
		return fm.Params
	}
	return fm.Params[:len(fm.Params)-1]
}

// ParamModel is a parameter or result.
type ParamModel struct {
	Name   string
	GoType types.Type
}

// FieldModel is an exported struct field.
type FieldModel struct {
	Name     string
	GoType   types.Type
	Tag      string
	Embedded bool
}
