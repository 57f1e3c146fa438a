package models

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; use ReasonOf to get the user-facing text.
var (
	ErrValidation             = errors.New("validation error")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrUnauthorized           = errors.New("unauthorized")
)

// Error is a typed domain failure. Reason is safe to show to end users.
type Error struct {
	Kind   error
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func InvalidTransition(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidTransition, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func Unauthorized(op, format string, args ...any) error {
	return &Error{Kind: ErrUnauthorized, Op: op, Reason: fmt.Sprintf(format, args...)}
}

func NotFound(op, entity, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, Reason: fmt.Sprintf("%s %s not found", entity, id)}
}

// Conflict reports a failed compare-and-set or a lost lock race. Callers may retry
// after re-reading the entity.
func Conflict(op, reason string, cause error) error {
	return &Error{Kind: ErrConcurrentModification, Op: op, Reason: reason, Err: cause}
}

// ReasonOf returns the human-readable reason carried by a typed error, or the
// plain error text for anything else.
func ReasonOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) && typed.Reason != "" {
		return typed.Reason
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// IsRetryable reports whether the caller may re-fetch and try the action again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
