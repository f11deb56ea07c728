// Package result provides the two-variant outcome returned by the public
// operations of oasis. A Result is either Ok(value) or Err(error); callers
// branch on it with IsOk/IsError, a switch over Unwrap, or Match.
package result

import "errors"

// ErrUninitialized is reported by the zero Result, which carries neither a
// value nor an error.
var ErrUninitialized = errors.New("result: uninitialized result")

// Result holds either a value of type T or an error, never both.
type Result[T any] struct {
	value T
	err   error
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Err wraps a failure. A nil error is replaced by ErrUninitialized so the
// Result still reads as an error.
func Err[T any](err error) Result[T] {
	if err == nil {
		err = ErrUninitialized
	}
	return Result[T]{err: err}
}

// From converts the conventional (value, error) pair into a Result.
func From[T any](value T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(value)
}

func (r Result[T]) IsOk() bool { return r.ok }

func (r Result[T]) IsError() bool { return !r.ok }

// Get returns the wrapped value, or the zero value of T for an error Result.
func (r Result[T]) Get() T { return r.value }

// Error returns the wrapped error, or nil for an Ok Result.
func (r Result[T]) Error() error {
	if r.ok {
		return nil
	}
	if r.err == nil {
		return ErrUninitialized
	}
	return r.err
}

// Unwrap returns the conventional (value, error) pair.
func (r Result[T]) Unwrap() (T, error) {
	return r.value, r.Error()
}

// Or returns the wrapped value, or fallback when the Result is an error.
func (r Result[T]) Or(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Match calls exactly one of onOk or onErr depending on the variant.
func Match[T, B any](r Result[T], onOk func(T) B, onErr func(error) B) B {
	if r.ok {
		return onOk(r.value)
	}
	return onErr(r.Error())
}

// Map transforms the value of an Ok Result and passes errors through.
func Map[T, U any](r Result[T], fn func(T) U) Result[U] {
	if !r.ok {
		return Err[U](r.Error())
	}
	return Ok(fn(r.value))
}
