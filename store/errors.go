package store

import (
	"errors"
	"fmt"
)

// ErrorKind is the semantic class of an error raised by the ODM or translated
// from a store provider.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindCancelled
	KindInvalidArgument
	KindDeadlineExceeded
	KindNotFound
	KindAlreadyExists
	KindPermissionDenied
	KindResourceExhausted
	KindPreconditionFailed
	KindAborted
	KindOutOfRange
	KindUnimplemented
	KindInternal
	KindUnavailable
	KindDataLoss
	KindUnauthorized
	KindSchemaInvalid
	KindDocumentInvalid
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindCancelled:          "cancelled",
	KindInvalidArgument:    "invalid argument",
	KindDeadlineExceeded:   "deadline exceeded",
	KindNotFound:           "not found",
	KindAlreadyExists:      "already exists",
	KindPermissionDenied:   "permission denied",
	KindResourceExhausted:  "resource exhausted",
	KindPreconditionFailed: "precondition failed",
	KindAborted:            "aborted",
	KindOutOfRange:         "out of range",
	KindUnimplemented:      "unimplemented",
	KindInternal:           "internal",
	KindUnavailable:        "unavailable",
	KindDataLoss:           "data loss",
	KindUnauthorized:       "unauthorized",
	KindSchemaInvalid:      "schema invalid",
	KindDocumentInvalid:    "document invalid",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type of the ODM. Every error that leaves a public
// operation is either an *Error or wraps one.
//
// Kind identifies the failure class, Msg is the human readable detail and
// ProviderCode carries the numeric status returned by the store provider
// (0 when the error did not originate in the store). Err holds the original
// cause, if any.
type Error struct {
	Kind         ErrorKind
	Msg          string
	ProviderCode int
	Err          error

	logged bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	return "trellis: " + msg
}

// Unwrap returns the original cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind. This lets the
// package level sentinels be used with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	// ErrNotFound matches every error of kind KindNotFound.
	ErrNotFound = &Error{Kind: KindNotFound}

	// ErrAlreadyExists matches create collisions.
	ErrAlreadyExists = &Error{Kind: KindAlreadyExists}

	// ErrPreconditionFailed matches precondition violations such as a missing
	// resource name or a partial update after a field removal.
	ErrPreconditionFailed = &Error{Kind: KindPreconditionFailed}

	// ErrInvalidArgument matches malformed arguments.
	ErrInvalidArgument = &Error{Kind: KindInvalidArgument}

	// ErrAborted matches transactions abandoned because of contention.
	ErrAborted = &Error{Kind: KindAborted}

	// ErrSchemaInvalid matches invalid field declarations.
	ErrSchemaInvalid = &Error{Kind: KindSchemaInvalid}

	// ErrDocumentInvalid matches documents that fail validation.
	ErrDocumentInvalid = &Error{Kind: KindDocumentInvalid}
)

// Errorf returns a new *Error of the given kind.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ProviderError is the boundary shape of a failure reported by a store
// provider: a status code in the 0-16 range and an optional detail string.
type ProviderError struct {
	Code    int
	Details string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("store provider error %d", e.Code)
	}
	return fmt.Sprintf("store provider error %d: %s", e.Code, e.Details)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Provider status codes, patterned on the google.rpc.Code enumeration.
const (
	CodeOK = iota
	CodeCancelled
	CodeUnknown
	CodeInvalidArgument
	CodeDeadlineExceeded
	CodeNotFound
	CodeAlreadyExists
	CodePermissionDenied
	CodeResourceExhausted
	CodeFailedPrecondition
	CodeAborted
	CodeOutOfRange
	CodeUnimplemented
	CodeInternal
	CodeUnavailable
	CodeDataLoss
	CodeUnauthenticated
)
