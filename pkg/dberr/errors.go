// Package dberr defines the error taxonomy shared by every engine component.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error into one of the kinds spec.md §7 names.
type Kind int

const (
	KindUnknown Kind = iota
	KindParse
	KindSemantic
	KindConstraintViolation
	KindType
	KindNotFound
	KindIO
	KindBufferExhausted
	KindTxnAborted
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "PARSE_ERROR"
	case KindSemantic:
		return "SEMANTIC_ERROR"
	case KindConstraintViolation:
		return "CONSTRAINT_VIOLATION"
	case KindType:
		return "TYPE_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindIO:
		return "IO_ERROR"
	case KindBufferExhausted:
		return "BUFFER_EXHAUSTED"
	case KindTxnAborted:
		return "TXN_ABORTED"
	default:
		return "UNKNOWN_ERROR"
	}
}

// Error wraps an underlying cause with a Kind for the engine's callers.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, dberr.ConstraintViolation) style checks against a Kind sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons against a specific kind, independent of message.
var (
	ParseError          = &Error{Kind: KindParse}
	SemanticError       = &Error{Kind: KindSemantic}
	ConstraintViolation = &Error{Kind: KindConstraintViolation}
	TypeError           = &Error{Kind: KindType}
	NotFound            = &Error{Kind: KindNotFound}
	IOError             = &Error{Kind: KindIO}
	BufferExhausted     = &Error{Kind: KindBufferExhausted}
	TxnAborted          = &Error{Kind: KindTxnAborted}
)

// KindOf extracts the Kind from err, or KindUnknown if err isn't a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
