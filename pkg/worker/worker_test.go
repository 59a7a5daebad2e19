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

package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inferx/servingcore/pkg/deviceset"
	"github.com/inferx/servingcore/pkg/engine"
	"github.com/inferx/servingcore/pkg/engine/loopback"
	"github.com/inferx/servingcore/pkg/queue"
	"github.com/inferx/servingcore/pkg/serveerr"
	"github.com/inferx/servingcore/pkg/stream"
)

func TestWorkerLoadIdleRunBatch(t *testing.T) {
	w := New("w0", loopback.New(), deviceset.New())
	require.NoError(t, w.Load("model://echo", nil))
	require.Equal(t, Idle, w.State())

	results := []*stream.Result{stream.New(8, time.Minute)}
	err := w.RunBatch([]queue.Job{{ID: "a", Payload: []byte("hi")}}, results)
	require.NoError(t, err)

	data, outcome, err := results[0].Next(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, stream.Chunk, outcome)
	require.Equal(t, []byte("hi"), data)

	_, outcome, err = results[0].Next(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, stream.End, outcome)

	waitForState(t, w, Idle)
}

func TestWorkerFaultOnInferError(t *testing.T) {
	w := New("w0", &faultyAdapter{failInfer: true}, deviceset.New())
	require.NoError(t, w.Load("model://bad", nil))

	results := []*stream.Result{stream.New(8, time.Minute)}
	err := w.RunBatch([]queue.Job{{ID: "a"}}, results)
	require.NoError(t, err)

	_, _, err = results[0].Next(2 * time.Second)
	require.Error(t, err)
	kind, ok := serveerr.Of(err)
	require.True(t, ok)
	require.Equal(t, serveerr.WorkerFault, kind)

	waitForState(t, w, Dead)
}

func TestWorkerMissingTailFaultsJobButNotWorker(t *testing.T) {
	w := New("w0", &faultyAdapter{dropTerminal: true}, deviceset.New())
	require.NoError(t, w.Load("model://partial", nil))

	results := []*stream.Result{stream.New(8, time.Minute)}
	err := w.RunBatch([]queue.Job{{ID: "a"}}, results)
	require.NoError(t, err)

	data, outcome, err := results[0].Next(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, stream.Chunk, outcome)
	require.Equal(t, []byte("partial"), data)

	_, _, err = results[0].Next(2 * time.Second)
	require.Error(t, err)
	kind, _ := serveerr.Of(err)
	require.Equal(t, serveerr.WorkerFault, kind)

	waitForState(t, w, Idle)
}

func TestWorkerSplitsCombinedOutput(t *testing.T) {
	w := New("w0", &combinedAdapter{}, deviceset.New())
	require.NoError(t, w.Load("model://combined", nil))

	results := []*stream.Result{
		stream.New(8, time.Minute),
		stream.New(8, time.Minute),
		stream.New(8, time.Minute),
	}
	jobs := []queue.Job{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	err := w.RunBatch(jobs, results)
	require.NoError(t, err)

	for i, want := range [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")} {
		data, outcome, err := results[i].Next(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, stream.Chunk, outcome)
		require.Equal(t, want, data)

		_, outcome, err = results[i].Next(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, stream.End, outcome)
	}

	waitForState(t, w, Idle)
}

func TestWorkerDrainThenStop(t *testing.T) {
	w := New("w0", loopback.New(), deviceset.New())
	require.NoError(t, w.Load("model://echo", nil))

	w.Drain()
	require.Equal(t, Draining, w.State())
	require.False(t, w.Available())

	w.Stop()
	require.Equal(t, Dead, w.State())
	w.Stop() // idempotent
}

func waitForState(t *testing.T, w *Worker, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("worker never reached state %s, stuck at %s", want, w.State())
}

// faultyAdapter is a test-only engine.Adapter used to exercise the
// worker's fault paths.
type faultyAdapter struct {
	failInfer    bool
	dropTerminal bool
}

func (f *faultyAdapter) Load(string, deviceset.Set, engine.Options) (engine.Handle, error) {
	return "handle", nil
}
func (f *faultyAdapter) Unload(engine.Handle) {}
func (f *faultyAdapter) Capabilities() engine.Capabilities {
	return engine.Capabilities{}
}
func (f *faultyAdapter) Infer(engine.Handle, [][]byte) (engine.ChunkIterator, error) {
	if f.failInfer {
		return nil, serveerr.New(serveerr.EngineLoad, "boom")
	}
	if f.dropTerminal {
		return &onceIterator{chunk: engine.Chunk{JobIndex: 0, Data: []byte("partial"), Last: false}}, nil
	}
	return &onceIterator{}, nil
}

// combinedAdapter returns one combined, JobIndex == -1 output for the
// whole batch instead of streaming per-job, exercising the worker's
// batch-dimension split.
type combinedAdapter struct{}

func (c *combinedAdapter) Load(string, deviceset.Set, engine.Options) (engine.Handle, error) {
	return "handle", nil
}
func (c *combinedAdapter) Unload(engine.Handle) {}
func (c *combinedAdapter) Capabilities() engine.Capabilities {
	return engine.Capabilities{}
}
func (c *combinedAdapter) Infer(_ engine.Handle, batch [][]byte) (engine.ChunkIterator, error) {
	data := engine.EncodeBatch([][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")})
	return &onceIterator{chunk: engine.Chunk{JobIndex: -1, Data: data, Last: true}}, nil
}

// onceIterator yields a single non-terminal chunk, then ends — simulating
// an engine that stopped producing output without sending Last:true.
type onceIterator struct {
	chunk engine.Chunk
	done  bool
}

func (it *onceIterator) Next() (engine.Chunk, bool, error) {
	if it.done {
		return engine.Chunk{}, false, nil
	}
	it.done = true
	if it.chunk.Data == nil {
		return engine.Chunk{}, false, nil
	}
	return it.chunk, true, nil
}

func (it *onceIterator) Close() {}
