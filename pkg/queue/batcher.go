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

package queue

import (
	"sync"
	"time"
)

// Batcher drains a Queue into batches, emitting one whenever either of
// two conditions holds (spec.md §4.4):
//   - the queue has accumulated maxBatch jobs,
//   - the oldest queued job has waited maxDelay (checked on each wake
//     tick, every maxDelay/2).
//
// The time since the last dispatched batch is not tracked: a tick on a
// non-empty queue emits nothing while its oldest job has waited less
// than maxDelay.
//
// It never reorders jobs and never splits a job across batches.
type Batcher struct {
	q        *Queue
	maxBatch int
	maxDelay time.Duration

	out    chan []Job
	wake   chan struct{}
	stopCh chan struct{}
	stopped sync.Once
}

// NewBatcher creates a Batcher over q. maxBatch and maxDelay must both be positive.
func NewBatcher(q *Queue, maxBatch int, maxDelay time.Duration) *Batcher {
	if maxBatch < 1 {
		maxBatch = 1
	}
	return &Batcher{
		q:        q,
		maxBatch: maxBatch,
		maxDelay: maxDelay,
		out:      make(chan []Job),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Batches returns the channel batches are delivered on.
func (b *Batcher) Batches() <-chan []Job {
	return b.out
}

// Notify wakes the batcher to re-check the size condition immediately,
// called by the producer right after a successful Push so a queue that
// fills to maxBatch doesn't wait for the next tick.
func (b *Batcher) Notify() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Run drives the batcher loop until Stop is called. It is meant to run
// in its own goroutine, owned by the WorkerPool that consumes b.Batches().
func (b *Batcher) Run() {
	// Wake period is bounded by maxDelay/2 so the oldest-job-age
	// condition is never missed by more than half its own budget,
	// mirroring the worker pool's idle-retirement sweep cadence.
	period := b.maxDelay / 2
	if period <= 0 {
		period = time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			b.flushRemainder()
			close(b.out)
			return
		case <-b.wake:
			b.maybeEmit(false)
		case <-ticker.C:
			b.maybeEmit(true)
		}
	}
}

// Stop ends the batcher loop; idempotent.
func (b *Batcher) Stop() {
	b.stopped.Do(func() { close(b.stopCh) })
}

func (b *Batcher) maybeEmit(tick bool) {
	depth := b.q.Len()
	if depth == 0 {
		return
	}

	if depth >= b.maxBatch {
		b.emit(b.maxBatch)
		return
	}

	if tick && b.q.oldestAge(time.Now()) >= b.maxDelay {
		b.emit(depth)
	}
}

func (b *Batcher) emit(n int) {
	jobs := b.q.drainUpTo(n)
	if len(jobs) == 0 {
		return
	}
	select {
	case b.out <- jobs:
	case <-b.stopCh:
	}
}

// flushRemainder drains whatever is left in the queue as one final
// batch so Stop doesn't strand submitted jobs.
func (b *Batcher) flushRemainder() {
	for {
		jobs := b.q.drainUpTo(b.maxBatch)
		if len(jobs) == 0 {
			return
		}
		select {
		case b.out <- jobs:
		default:
			return
		}
	}
}
