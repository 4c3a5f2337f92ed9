// Package dberr defines the semantic error taxonomy shared by the storage
// engine, namespace layer, interpreter, and session.
package dberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way callers need to branch on it: the
// session maps a Kind to a wire response or to closing the connection,
// the metadata store decides whether to log-and-truncate or propagate.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindIO
	KindCorruptMetadata
	KindSizeExceedsClass
	KindSlotOutOfBounds
	KindNotFound
	KindAlreadyExists
	KindInvalidName
	KindInvalidArgument
	KindDivisionByZero
	KindUnimplemented
	KindProtocolViolation
	KindCanceled
	KindAuthFailed
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindCorruptMetadata:
		return "CorruptMetadata"
	case KindSizeExceedsClass:
		return "SizeExceedsClass"
	case KindSlotOutOfBounds:
		return "SlotOutOfBounds"
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalidName:
		return "InvalidName"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindDivisionByZero:
		return "DivisionByZero"
	case KindUnimplemented:
		return "Unimplemented"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindCanceled:
		return "Canceled"
	case KindAuthFailed:
		return "AuthFailed"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying error with a semantic Kind and the operation
// that raised it, so the session and interpreter can switch on the error
// class while the full "op: cause" chain stays printable.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error. op should read like a call site, e.g. "metadata:
// write_batch" or "allocator: allocate".
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown if err does not wrap
// an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// Is reports whether err is (or wraps) an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
