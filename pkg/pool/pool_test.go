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

package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inferx/servingcore/pkg/device"
	"github.com/inferx/servingcore/pkg/deviceset"
	"github.com/inferx/servingcore/pkg/engine"
	"github.com/inferx/servingcore/pkg/engine/loopback"
	"github.com/inferx/servingcore/pkg/stream"
)

func newCPUPool(t *testing.T, minWorkers int) *Pool {
	t.Helper()
	reg := device.NewRegistry(0, nil)
	planner := device.NewPlanner(reg)
	cfg := Config{
		ModelID:     "echo",
		ModelURL:    "model://echo",
		Adapter:     loopback.New(),
		MinWorkers:  minWorkers,
		MaxBatch:    2,
		MaxDelay:    20 * time.Millisecond,
		IdleTimeout: 0,
	}
	p := New(cfg, planner)
	require.NoError(t, p.Register(device.ModelInfo{ID: "echo", MaxWorkers: minWorkers}))
	return p
}

func TestPoolSubmitRoundTrips(t *testing.T) {
	p := newCPUPool(t, 1)
	defer p.Unregister()

	res, err := p.Submit("job-1", []byte("hello"))
	require.NoError(t, err)

	data, outcome, err := res.Next(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, stream.Chunk, outcome)
	require.Equal(t, []byte("hello"), data)

	_, outcome, err = res.Next(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, stream.End, outcome)
}

func TestPoolRejectsSubmitAfterUnregister(t *testing.T) {
	p := newCPUPool(t, 1)
	require.NoError(t, p.Unregister())

	_, err := p.Submit("job-1", []byte("hello"))
	require.Error(t, err)
}

func TestPoolScaleUpIncreasesWorkerCount(t *testing.T) {
	p := newCPUPool(t, 1)
	defer p.Unregister()

	require.Equal(t, 1, p.WorkerCount())
	require.NoError(t, p.Scale(device.ModelInfo{ID: "echo"}, 3))
	require.Equal(t, 3, p.WorkerCount())
}

func TestPoolScaleDownNeverBelowMinWorkers(t *testing.T) {
	p := newCPUPool(t, 2)
	defer p.Unregister()

	require.NoError(t, p.Scale(device.ModelInfo{ID: "echo"}, 4))
	require.Equal(t, 4, p.WorkerCount())

	require.NoError(t, p.Scale(device.ModelInfo{ID: "echo"}, 0))
	require.Equal(t, 2, p.WorkerCount())
}

func TestPoolHandlesConcurrentSubmits(t *testing.T) {
	p := newCPUPool(t, 3)
	defer p.Unregister()

	const n = 20
	results := make([]*stream.Result, n)
	for i := 0; i < n; i++ {
		res, err := p.Submit(string(rune('a'+i)), []byte{byte(i)})
		require.NoError(t, err)
		results[i] = res
	}

	for i, res := range results {
		data, outcome, err := res.Next(2 * time.Second)
		require.NoErrorf(t, err, "job %d", i)
		require.Equal(t, stream.Chunk, outcome)
		require.Equal(t, []byte{byte(i)}, data)

		_, outcome, err = res.Next(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, stream.End, outcome)
	}
}

// TestPoolWaitsForIdleWorkerInsteadOfFailing exercises spec.md §4.4: a
// batch submitted while the pool's lone worker is still busy must wait
// for the worker to return to Idle, not fail immediately with
// ERR_NO_CAPACITY.
func TestPoolWaitsForIdleWorkerInsteadOfFailing(t *testing.T) {
	reg := device.NewRegistry(0, nil)
	planner := device.NewPlanner(reg)
	release := make(chan struct{})
	cfg := Config{
		ModelID:    "block",
		ModelURL:   "model://block",
		Adapter:    &blockingAdapter{release: release},
		MinWorkers: 1,
		MaxBatch:   1,
		MaxDelay:   5 * time.Millisecond,
	}
	p := New(cfg, planner)
	require.NoError(t, p.Register(device.ModelInfo{ID: "block", MaxWorkers: 1}))
	defer p.Unregister()

	res1, err := p.Submit("job-1", []byte("first"))
	require.NoError(t, err)

	// Give the batcher time to dispatch job-1 onto the pool's one
	// worker, which then blocks inside Infer's chunk stream.
	time.Sleep(30 * time.Millisecond)

	res2, err := p.Submit("job-2", []byte("second"))
	require.NoError(t, err)

	// job-2's batch has nowhere to go yet; let the pool sit in
	// waitForIdle for a while before releasing job-1, proving it
	// waits instead of failing job-2 with ERR_NO_CAPACITY.
	time.Sleep(100 * time.Millisecond)
	close(release)

	for _, tc := range []struct {
		res  *stream.Result
		want []byte
	}{
		{res1, []byte("first")},
		{res2, []byte("second")},
	} {
		data, outcome, err := tc.res.Next(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, stream.Chunk, outcome)
		require.Equal(t, tc.want, data)

		_, outcome, err = tc.res.Next(2 * time.Second)
		require.NoError(t, err)
		require.Equal(t, stream.End, outcome)
	}
}

// blockingAdapter is a test-only engine.Adapter whose Infer call blocks
// the worker's pump loop until release is closed, so a test can hold a
// worker Busy to exercise the pool's idle-wait path.
type blockingAdapter struct {
	release chan struct{}
}

func (b *blockingAdapter) Load(string, deviceset.Set, engine.Options) (engine.Handle, error) {
	return "handle", nil
}
func (b *blockingAdapter) Unload(engine.Handle) {}
func (b *blockingAdapter) Capabilities() engine.Capabilities {
	return engine.Capabilities{}
}
func (b *blockingAdapter) Infer(_ engine.Handle, batch [][]byte) (engine.ChunkIterator, error) {
	return &blockingIterator{release: b.release, payload: batch[0]}, nil
}

type blockingIterator struct {
	release chan struct{}
	payload []byte
	done    bool
}

func (it *blockingIterator) Next() (engine.Chunk, bool, error) {
	if it.done {
		return engine.Chunk{}, false, nil
	}
	<-it.release
	it.done = true
	return engine.Chunk{JobIndex: 0, Data: it.payload, Last: true}, true, nil
}

func (it *blockingIterator) Close() {}
