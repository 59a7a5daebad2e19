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

// Package loopback is a trivial Adapter that echoes each job's payload
// back as two chunks, per-job. It plays the role the teacher's "none"
// policy backend plays for the policy package: a minimal, always-available
// implementation useful for wiring tests and used by cmd/servingd as its
// default and fallback engine, requiring no accelerator and no real model.
package loopback

import (
	"github.com/inferx/servingcore/pkg/deviceset"
	"github.com/inferx/servingcore/pkg/engine"
)

type handle struct {
	url string
}

// Adapter is the loopback engine.Adapter.
type Adapter struct{}

// New creates a loopback Adapter.
func New() *Adapter {
	return &Adapter{}
}

// Load implements engine.Adapter.
func (a *Adapter) Load(modelURL string, _ deviceset.Set, _ engine.Options) (engine.Handle, error) {
	return &handle{url: modelURL}, nil
}

// Unload implements engine.Adapter.
func (a *Adapter) Unload(engine.Handle) {}

// Capabilities implements engine.Adapter.
func (a *Adapter) Capabilities() engine.Capabilities {
	return engine.Capabilities{Accelerator: false, Streaming: true}
}

// Infer implements engine.Adapter: it echoes each job's payload back as
// two chunks, tagged with the job's batch index so the worker can route
// them without needing to split a combined output.
func (a *Adapter) Infer(_ engine.Handle, batch [][]byte) (engine.ChunkIterator, error) {
	chunks := make([]engine.Chunk, 0, 2*len(batch))
	for idx, payload := range batch {
		chunks = append(chunks,
			engine.Chunk{JobIndex: idx, Data: payload, Last: false},
			engine.Chunk{JobIndex: idx, Data: nil, Last: true},
		)
	}
	return &iterator{chunks: chunks}, nil
}

type iterator struct {
	chunks []engine.Chunk
	pos    int
}

func (it *iterator) Next() (engine.Chunk, bool, error) {
	if it.pos >= len(it.chunks) {
		return engine.Chunk{}, false, nil
	}
	c := it.chunks[it.pos]
	it.pos++
	return c, true, nil
}

func (it *iterator) Close() {}
