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

// Package engine defines the abstract interface a model engine
// collaborator implements. The core never knows how a model is
// actually executed; it only loads a handle, feeds it batches, and
// drains chunks from it.
package engine

import (
	"encoding/binary"
	"fmt"

	"github.com/inferx/servingcore/pkg/deviceset"
)

// Capabilities describes what an engine can do, consulted by the
// Device Planner to pick default exclusivity (spec.md §4.2).
type Capabilities struct {
	Accelerator bool
	Streaming   bool
	// PythonEngine marks the Python engine, which the Planner forces
	// exclusive when it is running on an Accelerator platform.
	PythonEngine bool
}

// Handle is an opaque reference to one loaded model instance, scoped
// to the worker that loaded it.
type Handle interface{}

// Options carries engine-specific load-time parameters (e.g. dtype,
// quantization), opaque to the core.
type Options map[string]string

// Chunk is one piece of output produced by Infer. JobIndex selects
// which job in the batch this chunk belongs to when the engine streams
// per-job; for a single combined output, JobIndex is -1 and Data is a
// sequence of len(batch) segments encoded with EncodeBatch, one per job
// in the same order the batch was submitted in, which the worker splits
// apart with SplitBatch.
type Chunk struct {
	JobIndex int
	Data     []byte
	Last     bool
}

// EncodeBatch frames segments (one per job, in job order) into the wire
// form a combined, JobIndex == -1 Chunk carries: each segment prefixed
// by its length as a big-endian uint32.
func EncodeBatch(segments [][]byte) []byte {
	size := 0
	for _, s := range segments {
		size += 4 + len(s)
	}
	out := make([]byte, 0, size)
	var lenBuf [4]byte
	for _, s := range segments {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
		out = append(out, lenBuf[:]...)
		out = append(out, s...)
	}
	return out
}

// SplitBatch reverses EncodeBatch, splitting a combined output's Data
// back into exactly n per-job segments in job order. It errors if data
// is malformed or does not contain exactly n segments.
func SplitBatch(data []byte, n int) ([][]byte, error) {
	segments := make([][]byte, 0, n)
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("combined output: truncated length prefix")
		}
		size := binary.BigEndian.Uint32(data[:4])
		data = data[4:]
		if uint64(len(data)) < uint64(size) {
			return nil, fmt.Errorf("combined output: truncated segment")
		}
		segments = append(segments, data[:size])
		data = data[size:]
	}
	if len(segments) != n {
		return nil, fmt.Errorf("combined output: got %d segments, want %d", len(segments), n)
	}
	return segments, nil
}

// ChunkIterator is the stream of output chunks Infer returns. Next
// blocks until a chunk is ready, the stream ends (ok=false, err=nil),
// or the engine fails (err!=nil).
type ChunkIterator interface {
	Next() (chunk Chunk, ok bool, err error)
	Close()
}

// Adapter is implemented by each supported model engine (an external
// collaborator per spec.md §1/§6).
type Adapter interface {
	// Load brings up one model instance pinned to deviceSet (empty set == CPU).
	Load(modelURL string, deviceSet deviceset.Set, opts Options) (Handle, error)
	// Infer submits one batch payload and returns its output chunk stream.
	Infer(h Handle, batchPayload [][]byte) (ChunkIterator, error)
	// Unload releases a loaded model instance.
	Unload(h Handle)
	// Capabilities reports this adapter's static capabilities.
	Capabilities() Capabilities
}
