// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package serveerr collects the error taxonomy shared by the device,
// pool, queue and streaming packages. Errors carry a Kind so callers
// can dispatch on it with errors.As, instead of comparing against a
// set of exported sentinel values.
package serveerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories a caller may want to
// recover from or report differently than a generic failure.
type Kind string

const (
	// BadSpec marks a deviceSpec that failed to parse.
	BadSpec Kind = "ERR_BAD_SPEC"
	// NoCapacity marks a registry/planner allocation that found nothing to allocate.
	NoCapacity Kind = "ERR_NO_CAPACITY"
	// InsufficientSlots marks a planner allocation that found some, but not enough, slots.
	InsufficientSlots Kind = "ERR_INSUFFICIENT_SLOTS"
	// Conflict marks an acquireExclusiveAt call on a non-free range.
	Conflict Kind = "ERR_CONFLICT"
	// QueueFull marks a submit rejected because the queue is at capacity.
	QueueFull Kind = "ERR_QUEUE_FULL"
	// Shutdown marks a submit rejected because the pool is shutting down.
	Shutdown Kind = "ERR_SHUTDOWN"
	// WorkerFault marks a job failed because its worker crashed mid-batch.
	WorkerFault Kind = "ERR_WORKER_FAULT"
	// EngineLoad marks a worker that failed to bring its engine adapter up.
	EngineLoad Kind = "ERR_ENGINE_LOAD"
	// Timeout marks a StreamingResult.Next call that timed out.
	Timeout Kind = "ERR_TIMEOUT"
	// Backpressure marks a publish dropped because the consumer fell behind.
	Backpressure Kind = "ERR_BACKPRESSURE"
)

// Error is a Kind-tagged error. The zero value is not valid; use New/Wrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind, chaining an underlying cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is/errors.As to see through to the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Of reports the Kind of err, if it (or something it wraps) is an *Error.
func Of(err error) (Kind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}
