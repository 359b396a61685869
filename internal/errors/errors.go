package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can branch on it instead of matching messages.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindNoRefreshToken     Kind = "no_refresh_token"
	KindRefreshFailed      Kind = "refresh_failed"
	KindNetwork            Kind = "network"
	KindValidation         Kind = "validation"
	KindUnexpectedStatus   Kind = "unexpected_status"
)

// Common errors for the auth client. Compare with errors.Is; any *Error of the
// same Kind matches.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrNoRefreshToken     = &Error{Kind: KindNoRefreshToken}
	ErrRefreshFailed      = &Error{Kind: KindRefreshFailed}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrUnexpectedStatus   = &Error{Kind: KindUnexpectedStatus}

	// Storage errors
	ErrNotFound = errors.New("not found")
)

var genericMessages = map[Kind]string{
	KindInvalidCredentials: "Invalid email or password.",
	KindNoRefreshToken:     "Your session has expired. Please sign in again.",
	KindRefreshFailed:      "Your session has expired. Please sign in again.",
	KindNetwork:            "Unable to reach the server. Check your connection and try again.",
	KindValidation:         "Please check the form and try again.",
	KindUnexpectedStatus:   "Something went wrong. Please try again.",
}

// Error is a classified failure. Message holds backend supplied detail when available.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString("[")
		b.WriteString(e.Op)
		b.WriteString("] ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind. A missing refresh token is
// handled exactly like a failed refresh, so it also matches ErrRefreshFailed.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return e.Kind == KindNoRefreshToken && t.Kind == KindRefreshFailed
}

// New builds a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds a ValidationError with a human readable message.
func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// UserMessage returns text suitable for display: backend detail first, then a
// generic message for the kind.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return genericMessages[KindUnexpectedStatus]
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Kind == KindValidation && e.Err != nil {
		return e.Err.Error()
	}
	if msg, ok := genericMessages[e.Kind]; ok {
		return msg
	}
	return genericMessages[KindUnexpectedStatus]
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
