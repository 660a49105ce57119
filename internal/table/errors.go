package table

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by table operations. Every failure returned by this
// module wraps exactly one of them, so callers can branch with errors.Is.
var (
	// ErrUnknownColumn means a referenced label is not present in the schema.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrAmbiguousKey means a label resolves to more than one column, or a
	// rename would produce a duplicate label.
	ErrAmbiguousKey = errors.New("ambiguous key")

	// ErrShapeMismatch means rows or columns cannot be aligned as requested.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrTypeMismatch means values are not compatible with the operation,
	// e.g. the mean of a text column.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrKeyNotFound means a group or index key was never observed.
	ErrKeyNotFound = errors.New("key not found")
)

// Error records which operation failed and on which label.
type Error struct {
	Op    string
	Label string
	Err   error
}

func (e *Error) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Label, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error whose Err wraps kind with an optional detail message.
func Errorf(op, label string, kind error, format string, args ...any) error {
	err := kind
	if format != "" {
		err = fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
	}
	return &Error{Op: op, Label: label, Err: err}
}
