package capture

import "fmt"

// Kind classifies a capture error into the taxonomy the service facade
// exposes to its callers. Kinds are stable outward shape, never raw
// storage detail.
type Kind string

const (
	KindInvalidInput    Kind = "invalid_input"
	KindUnknownField    Kind = "unknown_field"
	KindInactiveField   Kind = "inactive_field"
	KindInvalidContext  Kind = "invalid_context"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindStorage         Kind = "storage"
	KindCancelled       Kind = "cancelled"
)

// Error is the single typed error shape returned by every capture component.
// No component returns raw storage errors to its caller; Wrap a lower-level
// error into one of these kinds at the point of detection.
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

func (e *Error) Unwrap() error {
	return e.Cause
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Constructors. These are the only way components should manufacture
// capture.Error values, keeping the message format consistent.

func ErrInvalidInput(format string, args ...any) *Error {
	return newErr(KindInvalidInput, format, args...)
}

func ErrUnknownField(application, fieldName string) *Error {
	return newErr(KindUnknownField, "field %q is not defined for application %q", fieldName, application)
}

func ErrInactiveField(application, fieldName string) *Error {
	return newErr(KindInactiveField, "field %q is inactive for application %q", fieldName, application)
}

func ErrInvalidContext(format string, args ...any) *Error {
	return newErr(KindInvalidContext, format, args...)
}

func ErrNotFound(format string, args ...any) *Error {
	return newErr(KindNotFound, format, args...)
}

func ErrConflict(format string, args ...any) *Error {
	return newErr(KindConflict, format, args...)
}

func ErrStorage(cause error, format string, args ...any) *Error {
	return wrapErr(KindStorage, cause, format, args...)
}

func ErrCancelled(cause error) *Error {
	return wrapErr(KindCancelled, cause, "operation cancelled")
}

// Is reports whether err is a *Error of the given kind. Intended for use
// by callers (and by the facade's single Conflict retry) that need to
// branch on the taxonomy without depending on the concrete struct.
func Is(err error, kind Kind) bool {
	ce, ok := err.(*Error)
	if !ok {
		return false
	}
	return ce.Kind == kind
}

// KindOf returns the Kind of err, or KindStorage if err is not a *Error
// (an escaped, unclassified error is treated as a storage failure since
// no component is allowed to leak raw errors past its boundary).
func KindOf(err error) Kind {
	ce, ok := err.(*Error)
	if !ok {
		return KindStorage
	}
	return ce.Kind
}
