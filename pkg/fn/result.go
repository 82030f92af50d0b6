// Package fn provides the Result and Stage types the ingestion pipeline is
// composed from.
package fn

import "fmt"

// Result[T] is a stage outcome: a value or the error that stopped the
// pipeline.
type Result[T any] struct {
	val T
	err error
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v}
}

// Err creates a failed Result from an error.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Errf creates a failed Result from a formatted string.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Errorf(format, args...)}
}

// IsErr reports whether the stage failed.
func (r Result[T]) IsErr() bool { return r.err != nil }

// Unwrap returns the value and error.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
