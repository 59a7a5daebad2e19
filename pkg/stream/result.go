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

// Package stream implements StreamingResult: a finite,
// single-producer/single-consumer sequence of byte chunks with
// cancellation and timeout semantics, per spec.md §4.6.
package stream

import (
	"sync"
	"time"

	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/serveerr"
)

var log = logger.NewLogger("stream")

// Outcome is what Next returned, beyond a plain chunk.
type Outcome int

const (
	// Chunk means a chunk was delivered.
	Chunk Outcome = iota
	// Timeout means the wait exceeded the caller's deadline; the
	// producer was not cancelled.
	Timeout
	// End means the stream is exhausted (terminal chunk already delivered).
	End
	// Err means the producer ended the stream with an error.
	Err
)

// Result is a StreamingResult: produced by a Worker, consumed by a caller.
type Result struct {
	mu        sync.Mutex
	chunks    chan []byte
	done      bool
	err       error
	cancelled bool

	// lastDrainAt and backpressure track consumer liveness for the
	// watermark publish can fail against.
	lastDrainAt time.Time
	watermark   time.Duration
}

// New creates a Result with the given channel bound and backpressure watermark.
func New(bound int, watermark time.Duration) *Result {
	return &Result{
		chunks:      make(chan []byte, bound),
		lastDrainAt: nowFunc(),
		watermark:   watermark,
	}
}

// nowFunc exists so tests can fake the clock without a dependency injection
// ceremony for every caller.
var nowFunc = time.Now

// Publish is the producer side. It is non-blocking up to the internal
// bound; if the consumer has failed to drain for longer than the
// backpressure watermark, the chunk is dropped and ERR_BACKPRESSURE is
// returned instead of blocking the worker indefinitely.
func (r *Result) Publish(data []byte, last bool) error {
	r.mu.Lock()
	if r.done || r.cancelled {
		r.mu.Unlock()
		return nil // terminal is terminal; cancellation discards silently.
	}
	if r.watermark > 0 && nowFunc().Sub(r.lastDrainAt) > r.watermark {
		r.mu.Unlock()
		return serveerr.New(serveerr.Backpressure, "consumer has not drained for longer than %s", r.watermark)
	}
	r.mu.Unlock()

	// An empty terminal chunk carries no data; it only ends the stream.
	if !last || len(data) > 0 {
		select {
		case r.chunks <- data:
		default:
			return serveerr.New(serveerr.Backpressure, "channel full")
		}
	}

	if last {
		r.mu.Lock()
		r.done = true
		r.mu.Unlock()
		close(r.chunks)
	}
	return nil
}

// Fail ends the stream with a terminal error, observed by the next Next call.
func (r *Result) Fail(err error) {
	r.mu.Lock()
	if r.done || r.cancelled {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.err = err
	r.mu.Unlock()
	close(r.chunks)
}

// Next consumes the next chunk, blocking up to timeout. A zero timeout
// waits forever.
func (r *Result) Next(timeout time.Duration) ([]byte, Outcome, error) {
	r.mu.Lock()
	r.lastDrainAt = nowFunc()
	r.mu.Unlock()

	if timeout <= 0 {
		data, ok := <-r.chunks
		return r.classify(data, ok)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data, ok := <-r.chunks:
		return r.classify(data, ok)
	case <-timer.C:
		return nil, Timeout, nil
	}
}

func (r *Result) classify(data []byte, ok bool) ([]byte, Outcome, error) {
	if ok {
		return data, Chunk, nil
	}
	r.mu.Lock()
	err := r.err
	r.mu.Unlock()
	if err != nil {
		return nil, Err, err
	}
	return nil, End, nil
}

// Cancel is idempotent. Subsequent Publish calls are discarded. An
// in-flight engine call is not aborted (spec.md §5): the producer keeps
// publishing until its engine output ends, and those chunks are dropped.
// A producer may check Cancelled at a chunk boundary.
func (r *Result) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled || r.done {
		return
	}
	r.cancelled = true
	r.done = true
	close(r.chunks)
	log.Debug("stream cancelled")
}

// Cancelled reports whether Cancel has been called, for the producer to
// check at a chunk boundary.
func (r *Result) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}
