// Package outcome provides the tagged result type threaded through every
// stage call. Exactly one of the four states holds: a success value, a
// failure reason, a suspension (routed to manual review), or a cancellation.
// Components branch by inspecting the tag; no panics or exceptions cross
// component boundaries.
package outcome

import (
	dErrors "veriqan/pkg/domainerrors"
)

// Status tags an Outcome.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusSuspended Status = "suspended"
	StatusCancelled Status = "cancelled"
)

// Outcome is a tagged union over a success value of type T.
type Outcome[T any] struct {
	status  Status
	value   T
	err     error
	reasons []string
}

// Success wraps a value in a successful outcome.
func Success[T any](value T) Outcome[T] {
	return Outcome[T]{status: StatusSuccess, value: value}
}

// Failure wraps a failure reason. A nil err is normalized to a coded
// internal error so the failure tag always carries a reason.
func Failure[T any](err error) Outcome[T] {
	if err == nil {
		err = dErrors.New(dErrors.CodeInternal, "failure outcome with no reason")
	}
	return Outcome[T]{status: StatusFailure, err: err}
}

// Suspended marks the case as handed to manual review with the reason codes
// a reviewer needs. Not a success, not a failure.
func Suspended[T any](reasons ...string) Outcome[T] {
	return Outcome[T]{status: StatusSuspended, reasons: reasons}
}

// Cancelled marks an explicit cancellation, never conflated with failure.
func Cancelled[T any](err error) Outcome[T] {
	if err == nil {
		err = dErrors.New(dErrors.CodeCancelled, "processing cancelled")
	}
	return Outcome[T]{status: StatusCancelled, err: err}
}

func (o Outcome[T]) Status() Status    { return o.status }
func (o Outcome[T]) IsSuccess() bool   { return o.status == StatusSuccess }
func (o Outcome[T]) IsFailure() bool   { return o.status == StatusFailure }
func (o Outcome[T]) IsSuspended() bool { return o.status == StatusSuspended }
func (o Outcome[T]) IsCancelled() bool { return o.status == StatusCancelled }

// Value returns the success value; ok is false for any non-success tag.
func (o Outcome[T]) Value() (T, bool) {
	return o.value, o.status == StatusSuccess
}

// MustValue returns the success value and is only safe after IsSuccess.
func (o Outcome[T]) MustValue() T { return o.value }

// Err returns the failure or cancellation reason, nil otherwise.
func (o Outcome[T]) Err() error { return o.err }

// Reasons returns the review reason codes for a suspended outcome.
func (o Outcome[T]) Reasons() []string { return o.reasons }
