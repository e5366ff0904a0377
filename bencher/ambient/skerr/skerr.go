// Package skerr wraps errors with call-site context so a later log line
// or correlation id can show where an error actually originated, not just
// where it was last returned.
package skerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Wrap annotates err with the caller's file:line. Returns nil if err is
// nil, so it's safe to write `return skerr.Wrap(err)` unconditionally.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(err)
}

// Wrapf annotates err with a message plus the caller's file:line.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return errors.Wrapf(err, format, args...)
}

// Fmt builds a new error from a format string, stamped with the caller's
// file:line, for call sites that are originating an error rather than
// wrapping one.
func Fmt(format string, args ...interface{}) error {
	return errors.WithStack(fmt.Errorf(format, args...))
}

// Unwrap returns the innermost error in the chain, stripping all skerr/
// pkg/errors stack annotations.
func Unwrap(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
