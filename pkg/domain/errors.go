package domain

import (
	"errors"
	"fmt"
)

// Kind is the stable error taxonomy shared by every component and by the
// transport envelope. Values are wire-visible and must not change.
type Kind string

const (
	KindValidation   Kind = "ValidationError"
	KindNotFound     Kind = "NotFoundError"
	KindConflict     Kind = "ConflictError"
	KindInvalidState Kind = "InvalidStateError"
	KindForbidden    Kind = "ForbiddenError"
	KindCompilation  Kind = "CompilationError"
	KindPublishing   Kind = "PublishingError"
	KindIntegrity    Kind = "IntegrityError"
	KindUnavailable  Kind = "UnavailableError"
)

// Error is the typed error carried across component boundaries. Details
// holds stable machine-readable fields (path, field_key, operator,
// ruleset_version_id) for programmatic handling.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetail returns e with one detail field added, for fluent construction.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// WithCause attaches an underlying error preserved through errors.Unwrap.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// NewError builds an Error of the given kind with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error {
	return NewError(KindValidation, format, args...)
}

func NotFoundf(format string, args ...any) *Error {
	return NewError(KindNotFound, format, args...)
}

func Conflictf(format string, args ...any) *Error {
	return NewError(KindConflict, format, args...)
}

func InvalidStatef(format string, args ...any) *Error {
	return NewError(KindInvalidState, format, args...)
}

func Forbiddenf(format string, args ...any) *Error {
	return NewError(KindForbidden, format, args...)
}

func Compilationf(format string, args ...any) *Error {
	return NewError(KindCompilation, format, args...)
}

func Publishingf(format string, args ...any) *Error {
	return NewError(KindPublishing, format, args...)
}

func Integrityf(format string, args ...any) *Error {
	return NewError(KindIntegrity, format, args...)
}

func Unavailablef(format string, args ...any) *Error {
	return NewError(KindUnavailable, format, args...)
}

// KindOf reports the Kind of err, unwrapping as needed. Errors outside the
// taxonomy map to UnavailableError so callers never see an unclassified
// failure.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnavailable
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
