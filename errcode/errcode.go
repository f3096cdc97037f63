// Package errcode defines the failure taxonomy shared by adapters and handlers.
package errcode

import (
	"context"
	"errors"
)

// Code is a stable error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

const (
	OK Code = "ok"

	// HardwareNotReady: a dependency was not ready at Init.
	HardwareNotReady Code = "hardware_not_ready"
	// ConfigurationFailed: a pin or transport configuration call was rejected.
	ConfigurationFailed Code = "configuration_failed"
	// TransferError: a physical exchange failed.
	TransferError Code = "transfer_error"
	// HardwareError: a pin set/read failed mid-operation.
	HardwareError Code = "hardware_error"
	// InvalidParameter: caller-supplied index or argument out of range.
	InvalidParameter Code = "invalid_parameter"
	// NotInitialized: operation attempted before a successful init.
	NotInitialized Code = "not_initialized"
	// Unsupported: operation not meaningful for the active backend or device variant.
	Unsupported Code = "unsupported"
	// Timeout: a caller deadline expired.
	Timeout Code = "timeout"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause next to a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.TransferError) match a wrapped E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap attaches code c and operation op to err. A nil err stays nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// New returns an E without a cause.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Of extracts a Code from an error chain, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Timeout
	}
	return Error
}
