// Package errors wraps github.com/pkg/errors with the handful of helpers the
// engine uses for annotating and combining failures.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// New returns an error with the supplied message and no stack.
func New(msg string) error {
	return fmt.Errorf("%s", msg)
}

// Errorf formats an error without recording a stack.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// WrapfOrNil annotates err with a formatted message; nil stays nil.
func WrapfOrNil(err error, format string, args ...interface{}) error {
	// avoid formatting the message when there is nothing to wrap
	if err == nil {
		return nil
	}
	return errors.WithMessage(err, fmt.Sprintf(format, args...))
}

// Wrapf is WrapfOrNil if err != nil, and Errorf otherwise: it never returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return Errorf(format, args...)
	}
	return WrapfOrNil(err, format, args...)
}

// Is reports whether err, or any error it wraps, is target.
func Is(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		if errs, ok := err.(Errors); ok {
			for _, e := range errs.Slice() {
				if Is(e, target) {
					return true
				}
			}
			return false
		}
		next := errors.Unwrap(err)
		if next == nil {
			next = errors.Cause(err)
			if next == err {
				return false
			}
		}
		err = next
	}
	return false
}
