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

// Package worker implements the Worker state machine of spec.md §4.5:
// one engine instance pinned to a device slot, fed batches by the
// WorkerPool and publishing per-job output through StreamingResults.
package worker

import (
	"sync"
	"time"

	"github.com/inferx/servingcore/pkg/deviceset"
	"github.com/inferx/servingcore/pkg/engine"
	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/queue"
	"github.com/inferx/servingcore/pkg/serveerr"
	"github.com/inferx/servingcore/pkg/stream"
)

var log = logger.NewLogger("worker")

// State is a Worker's position in its Starting -> Idle -> Busy ->
// Draining -> Dead lifecycle.
type State int

const (
	// Starting is set from construction until Load succeeds.
	Starting State = iota
	// Idle means the worker holds a live engine handle and accepts batches.
	Idle
	// Busy means a batch is in flight.
	Busy
	// Draining means the worker finishes its current batch, if any, but
	// accepts no more, ahead of retirement.
	Draining
	// Dead means the engine handle has been unloaded; the worker is inert.
	Dead
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Draining:
		return "draining"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Worker is one engine instance pinned to a device slot.
type Worker struct {
	ID      string
	adapter engine.Adapter
	devices deviceset.Set

	mu      sync.Mutex
	state   State
	handle  engine.Handle
	lastUse time.Time
	onIdle  func()
}

// New creates a Worker bound to the given adapter and device slot. The
// worker starts in state Starting; call Load to bring the engine up.
func New(id string, adapter engine.Adapter, devices deviceset.Set) *Worker {
	return &Worker{
		ID:      id,
		adapter: adapter,
		devices: devices,
		state:   Starting,
	}
}

// Devices returns the device slot this worker is pinned to.
func (w *Worker) Devices() deviceset.Set {
	return w.devices
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// LastUse reports when the worker last finished a batch, for the
// pool's idle-retirement sweep.
func (w *Worker) LastUse() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUse
}

// Load brings the engine up on this worker's device slot. On failure
// the worker is marked Dead so the pool does not retry it silently.
func (w *Worker) Load(modelURL string, opts engine.Options) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Starting {
		return serveerr.New(serveerr.EngineLoad, "worker %s: load called in state %s", w.ID, w.state)
	}

	h, err := w.adapter.Load(modelURL, w.devices, opts)
	if err != nil {
		w.state = Dead
		return serveerr.Wrap(serveerr.EngineLoad, err, "worker %s: engine load failed", w.ID)
	}

	w.handle = h
	w.state = Idle
	w.lastUse = time.Now()
	log.Debug("worker %s: loaded on devices %s", w.ID, w.devices.String())
	return nil
}

// Drain moves the worker to Draining: no further RunBatch calls are
// accepted, but a batch already in flight completes normally.
func (w *Worker) Drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Idle || w.state == Busy {
		w.state = Draining
	}
}

// Stop unloads the engine and marks the worker Dead. Idempotent.
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == Dead {
		return
	}
	if w.handle != nil {
		w.adapter.Unload(w.handle)
	}
	w.state = Dead
	log.Debug("worker %s: stopped", w.ID)
}

// Available reports whether the worker may accept a new batch right now.
func (w *Worker) Available() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state == Idle
}

// OnIdle registers a callback invoked whenever the worker transitions
// back to Idle after finishing a batch, so the owning pool can wake a
// dispatcher that is waiting for worker capacity.
func (w *Worker) OnIdle(fn func()) {
	w.mu.Lock()
	w.onIdle = fn
	w.mu.Unlock()
}

// RunBatch submits jobs to the engine, publishing output into results
// (pre-created by the caller, one per job, same order as jobs, so a
// submitter can hold a handle to its stream before the pool has picked
// a worker to run it on). The worker transitions Idle -> Busy for the
// duration of the call's async pump, then back to Idle (or stays
// Draining/Dead, on a draining worker finishing its last batch, or on
// engine fault).
func (w *Worker) RunBatch(jobs []queue.Job, results []*stream.Result) error {
	if len(jobs) != len(results) {
		return serveerr.New(serveerr.BadSpec, "worker %s: %d jobs but %d result streams", w.ID, len(jobs), len(results))
	}

	w.mu.Lock()
	if w.state != Idle {
		state := w.state
		w.mu.Unlock()
		return serveerr.New(serveerr.WorkerFault, "worker %s: not idle (state=%s)", w.ID, state)
	}
	w.state = Busy
	handle := w.handle
	w.mu.Unlock()

	payloads := make([][]byte, len(jobs))
	for i, j := range jobs {
		payloads[i] = j.Payload
	}

	it, err := w.adapter.Infer(handle, payloads)
	if err != nil {
		w.fault(results, serveerr.Wrap(serveerr.WorkerFault, err, "worker %s: infer call failed", w.ID))
		return nil
	}

	go w.pump(it, results)
	return nil
}

// pump drains the engine's chunk iterator, routing each chunk to the
// result stream for its JobIndex, until the iterator ends or faults.
func (w *Worker) pump(it engine.ChunkIterator, results []*stream.Result) {
	defer it.Close()

	for {
		chunk, ok, err := it.Next()
		if err != nil {
			w.fault(results, serveerr.Wrap(serveerr.WorkerFault, err, "worker %s: engine stream error", w.ID))
			return
		}
		if !ok {
			break
		}
		if chunk.JobIndex < 0 {
			w.publishCombined(chunk, results)
			continue
		}
		if chunk.JobIndex >= len(results) {
			log.Warn("worker %s: chunk for out-of-range job index %d", w.ID, chunk.JobIndex)
			continue
		}
		if perr := results[chunk.JobIndex].Publish(chunk.Data, chunk.Last); perr != nil {
			log.Warn("worker %s: publish to job %d failed: %v", w.ID, chunk.JobIndex, perr)
		}
	}

	// Any stream that never saw a terminal chunk (e.g. the engine ended
	// the iterator early for one job) is a missing tail; treat it the
	// same as a mid-batch fault rather than hanging the caller forever.
	for _, r := range results {
		r.Fail(serveerr.New(serveerr.WorkerFault, "worker: engine ended stream without a terminal chunk"))
	}

	w.finishBatch()
}

// publishCombined handles a chunk.JobIndex == -1 chunk: per spec.md
// §4.5's unbatching rule, the engine returned one combined output for
// the whole batch instead of streaming per-job, so it must be split
// along the batch dimension in job order before publishing.
func (w *Worker) publishCombined(chunk engine.Chunk, results []*stream.Result) {
	segments, err := engine.SplitBatch(chunk.Data, len(results))
	if err != nil {
		log.Warn("worker %s: combined output: %v", w.ID, err)
		return
	}
	for i, segment := range segments {
		if perr := results[i].Publish(segment, chunk.Last); perr != nil {
			log.Warn("worker %s: publish to job %d failed: %v", w.ID, i, perr)
		}
	}
}

func (w *Worker) fault(results []*stream.Result, err error) {
	for _, r := range results {
		r.Fail(err)
	}
	w.mu.Lock()
	w.state = Dead
	w.mu.Unlock()
	if w.handle != nil {
		w.adapter.Unload(w.handle)
	}
	log.Error("worker %s: fault: %v", w.ID, err)
}

func (w *Worker) finishBatch() {
	w.mu.Lock()
	if w.state == Dead {
		w.mu.Unlock()
		return
	}
	w.lastUse = time.Now()
	if w.state == Draining {
		w.mu.Unlock()
		return
	}
	w.state = Idle
	onIdle := w.onIdle
	w.mu.Unlock()

	if onIdle != nil {
		onIdle()
	}
}
