package meta

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ScriptName converts a Go method name to the script-visible method name.
// Go uses PascalCase; scripts use camelCase. Everything from the first
// underscore on is an overload suffix and is dropped, so Go methods
// "Scale" and "Scale_Factor" both join the overload group "scale".
//
//	"ReadAll"      → "readAll"
//	"Scale_Factor" → "scale"
//	"URL"          → "url"
func ScriptName(goName string) string {
	if i := strings.IndexByte(goName, '_'); i > 0 {
		goName = goName[:i]
	}
	return lowerInitialism(goName)
}

// lowerInitialism lowercases the leading run of upper-case letters, keeping
// the last one upper-case when it starts the next word: "HTTPServer" →
// "httpServer".
func lowerInitialism(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	n := 0
	for n < len(runes) && unicode.IsUpper(runes[n]) {
		n++
	}
	switch {
	case n == 0:
		return s
	case n == 1 || n == len(runes):
		// "Foo" → "foo", "URL" → "url"
	default:
		// "HTTPServer": keep the S that starts "Server".
		if unicode.IsLower(runes[n]) {
			n--
		}
	}
	for i := 0; i < n; i++ {
		runes[i] = unicode.ToLower(runes[i])
	}
	return string(runes)
}

// PropertyName converts a Go field name to a script property name.
func PropertyName(goName string) string {
	return lowerInitialism(goName)
}

// ValidName reports whether name is usable as a script identifier.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	r, _ := utf8.DecodeRuneInString(name)
	if !(r == '_' || unicode.IsLetter(r)) {
		return false
	}
	for _, r := range name {
		if !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return !reserved[name]
}

var reserved = map[string]bool{
	"and": true, "break": true, "do": true, "else": true, "elseif": true,
	"end": true, "false": true, "for": true, "function": true, "if": true,
	"in": true, "local": true, "nil": true, "not": true, "or": true,
	"repeat": true, "return": true, "then": true, "true": true,
	"until": true, "while": true, "goto": true,
}
