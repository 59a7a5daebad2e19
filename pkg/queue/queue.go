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

// Package queue implements the bounded FIFO Job Queue and the dynamic
// Batcher that drains it, per spec.md §4.4.
package queue

import (
	"sync"
	"time"

	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/serveerr"
)

var log = logger.NewLogger("job-queue")

// Job is one unit of work submitted for a model.
type Job struct {
	ID      string
	Payload []byte
	// SubmittedAt is stamped by the caller (see pkg/pool's Submit), not by
	// the queue, so the batcher can measure true wait age even across a
	// queue that never blocks.
	SubmittedAt time.Time
}

// Queue is a bounded FIFO. A WorkerPool sizes it at 2*b (b = batch size)
// unless configured otherwise, per spec.md §4.4; submissions beyond capacity are rejected with
// ERR_QUEUE_FULL rather than blocking the caller.
type Queue struct {
	mu       sync.Mutex
	items    []Job
	capacity int
}

// New creates a Queue with the given capacity. capacity <= 0 means unbounded.
func New(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Push appends a job, failing with ERR_QUEUE_FULL if the queue is at capacity.
func (q *Queue) Push(j Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && len(q.items) >= q.capacity {
		return serveerr.New(serveerr.QueueFull, "queue at capacity %d", q.capacity)
	}
	q.items = append(q.items, j)
	return nil
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drainUpTo atomically removes and returns up to n jobs from the front
// of the queue, preserving order. It never re-orders or duplicates.
func (q *Queue) drainUpTo(n int) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.items) {
		n = len(q.items)
	}
	if n == 0 {
		return nil
	}
	out := make([]Job, n)
	copy(out, q.items[:n])
	q.items = q.items[n:]
	return out
}

// oldestAge reports how long the front job has waited, or 0 if empty.
func (q *Queue) oldestAge(now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0
	}
	return now.Sub(q.items[0].SubmittedAt)
}
