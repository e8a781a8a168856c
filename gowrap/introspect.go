package gowrap

import (
	"fmt"
	"go/types"

	"golang.org/x/tools/go/packages"
)

// IntrospectPackage loads the package at importPath and models its
// exported functions and types. only, if non-nil, limits the model to the
// names it contains.
func IntrospectPackage(importPath string, only map[string]bool) (*PackageModel, error) {
	pkgs, err := packages.Load(&packages.Config{Mode: packages.NeedName | packages.NeedTypes | packages.NeedSyntax}, importPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", importPath, err)
	}
	switch {
	case len(pkgs) == 0:
		return nil, fmt.Errorf("no packages found for %s", importPath)
	case len(pkgs[0].Errors) > 0:
		return nil, fmt.Errorf("package errors: %v", pkgs[0].Errors)
	case pkgs[0].Types == nil:
		return nil, fmt.Errorf("type information not available for %s", importPath)
	}

	pkg := pkgs[0]
	model := &PackageModel{ImportPath: importPath, Name: pkg.Name}
	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		if only != nil && !only[name] {
			continue
		}
		switch obj := scope.Lookup(name).(type) {
		case *types.Func:
			if obj.Exported() {
				model.Functions = append(model.Functions, modelFunc(obj))
			}
		case *types.TypeName:
			if obj.Exported() && !obj.IsAlias() {
				if named, ok := obj.Type().(*types.Named); ok {
					model.Types = append(model.Types, modelType(named))
				}
			}
		}
	}
	return model, nil
}

func modelType(named *types.Named) TypeModel {
	ptr := types.NewPointer(named)
	tm := TypeModel{Name: named.Obj().Name(), GoType: named}

	st, isStruct := named.Underlying().(*types.Struct)
	if isStruct {
		tm.IsObject = isObjectType(ptr)
		for i := 0; i < st.NumFields(); i++ {
			if f := st.Field(i); f.Exported() {
				tm.Fields = append(tm.Fields, FieldModel{
					Name:     f.Name(),
					GoType:   f.Type(),
					Tag:      st.Tag(i),
					Embedded: f.Embedded(),
				})
			}
		}
	}

	// The pointer method set holds both receiver kinds; an index path
	// longer than one step means the method was promoted.
	mset := types.NewMethodSet(ptr)
	for i := 0; i < mset.Len(); i++ {
		sel := mset.At(i)
		fn, ok := sel.Obj().(*types.Func)
		if ok && fn.Exported() && len(sel.Index()) == 1 {
			tm.Methods = append(tm.Methods, modelFunc(fn))
		}
	}
	return tm
}

func modelFunc(fn *types.Func) FunctionModel {
	sig := fn.Type().(*types.Signature)
	fm := FunctionModel{
		Name:    fn.Name(),
		Params:  tupleModel(sig.Params()),
		Results: tupleModel(sig.Results()),
	}
	if n := len(fm.Results); n > 0 {
		fm.ReturnsErr = types.Identical(fm.Results[n-1].GoType, errorType)
	}
	switch n := len(fm.Params); {
	case sig.Variadic():
		fm.Rest = GoVariadic
	case n > 0 && isNamed(fm.Params[n-1].GoType, metaPkg, "VariadicArgument"):
		if _, ptr := fm.Params[n-1].GoType.(*types.Pointer); !ptr {
			fm.Rest = VariadicArgument
		}
	}
	return fm
}

func tupleModel(t *types.Tuple) []ParamModel {
	out := make([]ParamModel, t.Len())
	for i := range out {
		v := t.At(i)
		out[i] = ParamModel{Name: v.Name(), GoType: v.Type()}
	}
	return out
}

var errorType = types.Universe.Lookup("error").Type()

// isObjectType reports whether t has object.Object's ObjectBase method.
func isObjectType(t types.Type) bool {
	obj, _, _ := types.LookupFieldOrMethod(t, false, nil, "ObjectBase")
	fn, ok := obj.(*types.Func)
	if !ok {
		return false
	}
	sig := fn.Type().(*types.Signature)
	return sig.Params().Len() == 0 && sig.Results().Len() == 1 &&
		isNamed(sig.Results().At(0).Type(), objectPkg, "Base")
}

// isNamed reports whether t is (a pointer to) the named type pkgPath.name.
func isNamed(t types.Type, pkgPath, name string) bool {
	if p, ok := t.(*types.Pointer); ok {
		t = p.Elem()
	}
	n, ok := t.(*types.Named)
	if !ok || n.Obj().Pkg() == nil {
		return false
	}
	return n.Obj().Pkg().Path() == pkgPath && n.Obj().Name() == name
}
