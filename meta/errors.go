package meta

import "fmt"

// Exception class names understood by the bridge.
const (
	RuntimeError  = "RuntimeError"
	ArgumentError = "ArgumentError"
	TypeError     = "TypeError"
	NameError     = "NameError"
	NoMethodError = "NoMethodError"
)

// Error is returned by native code that wants a specific script exception
// class for its failure. Any other error surfaces as a RuntimeError.
type Error struct {
	Class   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf returns an *Error of the given exception class.
func Errorf(class, format string, args ...any) error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// ArgumentErrorf returns an ArgumentError.
func ArgumentErrorf(format string, args ...any) error {
	return Errorf(ArgumentError, format, args...)
}

// TypeErrorf returns a TypeError.
func TypeErrorf(format string, args ...any) error {
	return Errorf(TypeError, format, args...)
}
