// Package failure defines the error taxonomy shared by every stage of a
// reservation run. The CLI maps any error back to a Kind to decide what to
// report and which exit code to use.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the coarse category of a failed run.
type Kind string

const (
	KindConfiguration       Kind = "ConfigurationError"
	KindNavigation          Kind = "NavigationError"
	KindAuthentication      Kind = "AuthenticationError"
	KindFieldResolution     Kind = "FieldResolutionError"
	KindInteraction         Kind = "InteractionError"
	KindSubmission          Kind = "SubmissionError"
	KindConfirmationTimeout Kind = "ConfirmationTimeout"
	KindUnknown             Kind = "UnknownError"
)

// Reasons carried by FieldResolutionError and InteractionError.
const (
	ReasonNotFound                = "NotFound"
	ReasonAmbiguousNoVisibleMatch = "AmbiguousNoVisibleMatch"
	ReasonTimeout                 = "Timeout"
	ReasonMissingField            = "MissingField"
	ReasonOptionNotFound          = "OptionNotFound"
)

// Error is a classified failure. Field is set for errors that concern a
// single form field.
type Error struct {
	Kind   Kind
	Field  string
	Reason string
	Err    error
}

// Sentinels for errors.Is comparisons. Only the Kind is compared.
var (
	ErrConfiguration       = &Error{Kind: KindConfiguration}
	ErrNavigation          = &Error{Kind: KindNavigation}
	ErrAuthentication      = &Error{Kind: KindAuthentication}
	ErrFieldResolution     = &Error{Kind: KindFieldResolution}
	ErrInteraction         = &Error{Kind: KindInteraction}
	ErrSubmission          = &Error{Kind: KindSubmission}
	ErrConfirmationTimeout = &Error{Kind: KindConfirmationTimeout}
)

// New returns a classified error wrapping err.
func New(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Newf is New with a formatted cause.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ForField returns a classified error about a single form field.
func ForField(kind Kind, field, reason string, err error) *Error {
	return &Error{Kind: kind, Field: field, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %q)", e.Field)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind. A target with a
// Reason set additionally requires the reasons to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
