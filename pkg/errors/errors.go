package errors

import (
	goerrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return goerrors.New(msg)
}

// Is and As are re-exported so that callers don't need to import both this
// package and the standard library errors package.
var (
	Is = goerrors.Is
	As = goerrors.As
)

type contextError struct {
	context string
	cause   error
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.cause)
}

func (err contextError) Unwrap() error {
	return err.cause
}

// WithContext annotates `err` with a short description of what was being
// attempted when it occurred. Returns nil if err is nil.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context: context, cause: err}
}

// FriendlyError is an error whose message is meant to be shown directly to
// the operator, rather than debugging output.
type FriendlyError struct {
	msg string
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the message that should be shown to the operator.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

// NewFriendlyError creates a FriendlyError with a formatted message.
func NewFriendlyError(format string, args ...interface{}) error {
	return FriendlyError{fmt.Sprintf(format, args...)}
}

// GetFriendlyMessage returns the friendly message of the first error in the
// chain that has one.
func GetFriendlyMessage(err error) (string, bool) {
	var friendly interface{ FriendlyMessage() string }
	if As(err, &friendly) {
		return friendly.FriendlyMessage(), true
	}
	return "", false
}

// RootCause unwraps `err` until it reaches an error that doesn't wrap
// anything else.
func RootCause(err error) error {
	for {
		next := goerrors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
