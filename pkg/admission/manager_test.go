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

package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inferx/servingcore/pkg/device"
	"github.com/inferx/servingcore/pkg/engine"
	"github.com/inferx/servingcore/pkg/engine/loopback"
	"github.com/inferx/servingcore/pkg/stream"
)

func loopbackResolver(name string) (engine.Adapter, engine.Capabilities, error) {
	a := loopback.New()
	return a, a.Capabilities(), nil
}

func newTestManager() *Manager {
	reg := device.NewRegistry(0, nil)
	planner := device.NewPlanner(reg)
	return NewManager(planner, loopbackResolver)
}

func TestManagerRegisterSubmitUnregister(t *testing.T) {
	m := newTestManager()

	req := RegisterRequest{
		Name:          "echo",
		URL:           "model://echo",
		Engine:        "loopback",
		MaxWorkers:    1,
		BatchSize:     1,
		MaxBatchDelay: 10 * time.Millisecond,
	}
	require.NoError(t, m.Register(req))

	res, err := m.Submit("echo", "", "job-1", []byte("hi"))
	require.NoError(t, err)

	data, outcome, err := res.Next(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, stream.Chunk, outcome)
	require.Equal(t, []byte("hi"), data)

	require.NoError(t, m.Unregister("echo", ""))

	_, err = m.Submit("echo", "", "job-2", []byte("bye"))
	require.Error(t, err)
}

func TestManagerRegisterDuplicateConflicts(t *testing.T) {
	m := newTestManager()
	req := RegisterRequest{Name: "echo", URL: "model://echo", Engine: "loopback", MaxWorkers: 1, BatchSize: 1, MaxBatchDelay: 10 * time.Millisecond}
	require.NoError(t, m.Register(req))
	err := m.Register(req)
	require.Error(t, err)
}

func TestManagerScaleUnknownModel(t *testing.T) {
	m := newTestManager()
	err := m.Scale("ghost", "", 1, 2, device.ModelInfo{ID: "ghost"})
	require.Error(t, err)
}
