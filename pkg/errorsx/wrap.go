package errorsx

import (
	"errors"
	"fmt"
)

// Error pairs a failure with the reason code reported to observers and the
// user.
type Error struct {
	Reason ReasonCode
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a reasoned error from a message.
func New(reason ReasonCode, msg string) error {
	return &Error{Reason: reason, Err: errors.New(msg)}
}

// Wrap attaches reason to err. The innermost reason wins: an error that
// already carries one is returned unchanged. Nil stays nil.
func Wrap(err error, reason ReasonCode) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Reason: reason, Err: err}
}

// Wrapf prefixes err with a formatted context and attaches reason.
func Wrapf(err error, reason ReasonCode, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(fmt.Errorf(format+": %w", append(args, err)...), reason)
}

// Reason extracts the reason code from err, or ReasonUnknown.
func Reason(err error) ReasonCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonUnknown
}

func HasReason(err error, reason ReasonCode) bool {
	return Reason(err) == reason
}
