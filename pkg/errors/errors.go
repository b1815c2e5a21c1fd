package errors

import (
	goErrors "errors"
	"fmt"
)

// New returns an error that formats as the given text.
func New(msg string) error {
	return goErrors.New(msg)
}

// Newf returns an error formatted according to the format specifier.
func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goErrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goErrors.As(err, target)
}

// FriendlyError is an error whose message is meant to be shown directly to
// the user, without the context chain that led to it.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	msgTemplate string
	args        []interface{}
}

// NewFriendlyError creates an error that is displayed to the user as is.
func NewFriendlyError(msgTemplate string, args ...interface{}) error {
	return friendlyError{msgTemplate, args}
}

func (err friendlyError) Error() string {
	return err.FriendlyMessage()
}

func (err friendlyError) FriendlyMessage() string {
	return fmt.Sprintf(err.msgTemplate, err.args...)
}

type contextError struct {
	context string
	err     error
}

// WithContext annotates `err` with a description of what was being done when
// it happened. The result prints as "context: err".
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{context, err}
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.err)
}

func (err contextError) Unwrap() error {
	return err.err
}

// RootCause strips all the context added by WithContext and returns the
// original error.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.err
	}
}

// GetFriendlyMessage returns the user facing message of the first
// FriendlyError in the chain of `err`.
func GetFriendlyMessage(err error) (string, bool) {
	var friendly FriendlyError
	if As(err, &friendly) {
		return friendly.FriendlyMessage(), true
	}
	return "", false
}
