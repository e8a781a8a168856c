package gowrap

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/chazu/garnet/meta"
)

// MethodName returns the overload group a Go method joins.
// e.g., "ReadAll" → "readAll", "Scale_Factor" → "scale"
func MethodName(goName string) string {
	return meta.ScriptName(goName)
}

// PropertyName applies a struct field's `garnet` tag to its name. hidden is
// set for `garnet:"-"`.
func PropertyName(goName, tag string) (name string, readonly, hidden bool) {
	name = meta.PropertyName(goName)
	value, ok := reflect.StructTag(tag).Lookup("garnet")
	if !ok {
		return name, false, false
	}
	parts := strings.Split(value, ",")
	if parts[0] == "-" {
		return "", false, true
	}
	if parts[0] != "" {
		name = parts[0]
	}
	for _, p := range parts[1:] {
		if p == "readonly" {
			readonly = true
		}
	}
	return name, readonly, false
}

// PackageLabel converts a Go import path to the label used in surface
// listings.
// e.g., "encoding/json" → "Json", "example.com/go-kit" → "GoKit"
func PackageLabel(importPath string) string {
	parts := strings.Split(importPath, "/")
	return toPascal(parts[len(parts)-1])
}

// toPascal converts a string to PascalCase.
// Handles hyphenated and underscore-separated names.
func toPascal(s string) string {
	if len(s) == 0 {
		return s
	}

	var b strings.Builder
	nextUpper := true
	for _, r := range s {
		if r == '-' || r == '_' {
			nextUpper = true
			continue
		}
		if nextUpper {
			b.WriteRune(unicode.ToUpper(r))
			nextUpper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
