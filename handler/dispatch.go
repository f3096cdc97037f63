package handler

import (
	"context"

	"github.com/michcald/devhandler/errcode"
)

// Visit runs fn with the live driver under the façade lock and returns its
// result. If the driver cannot be made ready, fn is not called and def is
// returned. Use Call when def could be mistaken for a real result.
func Visit[D Driver, T any](f *Facade[D], fn func(D) T, def T) T {
	defer f.mu.Guard()()
	if err := f.ensureLocked(); err != nil {
		f.rec.Operation(f.name, "visit", err)
		return def
	}
	v := fn(f.driver)
	f.rec.Operation(f.name, "visit", nil)
	return v
}

// Call runs fn with the live driver under the façade lock. An init failure is
// returned as is, and fn is not called.
func Call[D Driver, T any](f *Facade[D], op string, fn func(D) (T, error)) (T, error) {
	defer f.mu.Guard()()
	return callLocked(f, op, fn)
}

// CallContext is Call bounded by ctx while waiting for the lock.
func CallContext[D Driver, T any](ctx context.Context, f *Facade[D], op string, fn func(D) (T, error)) (T, error) {
	release, err := f.mu.GuardContext(ctx)
	if err != nil {
		var zero T
		err = errcode.Wrap(errcode.Timeout, op, err)
		f.rec.Operation(f.name, op, err)
		return zero, err
	}
	defer release()
	return callLocked(f, op, fn)
}

func callLocked[D Driver, T any](f *Facade[D], op string, fn func(D) (T, error)) (T, error) {
	if err := f.ensureLocked(); err != nil {
		var zero T
		f.rec.Operation(f.name, op, err)
		return zero, err
	}
	v, err := fn(f.driver)
	f.rec.Operation(f.name, op, err)
	return v, err
}
