// Package errwrap decorates errors with additional context without losing
// the underlying cause.
package errwrap

import (
	"bytes"
	"fmt"
)

// Wrap decorates cause with message.
func Wrap(cause error, message string) error {
	return &wrapper{cause: cause, message: message}
}

// Wrapf decorates cause with a Sprintf-style message.
func Wrapf(cause error, format string, args ...interface{}) error {
	return Wrap(cause, fmt.Sprintf(format, args...))
}

type wrapper struct {
	cause   error
	message string
}

func (w *wrapper) Error() string {
	var buf bytes.Buffer
	if w.message != "" {
		buf.WriteString(w.message)
		buf.WriteString(": ")
	}
	if w.cause != nil {
		buf.WriteString(w.cause.Error())
	}
	return buf.String()
}

func (w *wrapper) Unwrap() error {
	return w.cause
}
