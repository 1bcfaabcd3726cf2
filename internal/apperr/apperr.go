// Package apperr defines the error kinds the core reports to its callers.
// Stores and services return these (optionally wrapped) so the transport
// layer can translate them without inspecting driver errors.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrDuplicatePresence = errors.New("visitor is already checked in")
	ErrNotPresent        = errors.New("visitor is not checked in")
	ErrNotFound          = errors.New("not found")
	ErrStorage           = errors.New("storage failure")
)

// Error carries a kind, a message safe to show the caller, and the underlying cause.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a missing or malformed input field.
func Validation(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown entity.
func NotFound(what, id string) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf("%s %s not found", what, id)}
}

// Storage wraps a persistence failure. The message stays generic; the cause is kept for logs.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return &Error{Kind: ErrStorage, Err: fmt.Errorf("%s: %w", op, err)}
}

// PublicMessage returns the text that may be shown to a caller for err.
func PublicMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" && !errors.Is(err, ErrStorage) {
		return appErr.Message
	}
	switch {
	case errors.Is(err, ErrDuplicatePresence):
		return ErrDuplicatePresence.Error()
	case errors.Is(err, ErrNotPresent):
		return ErrNotPresent.Error()
	case errors.Is(err, ErrNotFound):
		return ErrNotFound.Error()
	}
	return "internal error"
}
