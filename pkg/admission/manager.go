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

// Package admission is the façade the front-end collaborator calls:
// register/unregister/scale/submit, per spec.md §6. It owns the set of
// per-model WorkerPools and the model-store URL syntax that describes
// them.
package admission

import (
	"fmt"
	"sync"
	"time"

	"github.com/inferx/servingcore/pkg/device"
	"github.com/inferx/servingcore/pkg/engine"
	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/pool"
	"github.com/inferx/servingcore/pkg/serveerr"
	"github.com/inferx/servingcore/pkg/stream"
)

var log = logger.NewLogger("admission")

// EngineResolver looks up the engine.Adapter and its capabilities for
// a named engine (e.g. "pytorch", "loopback"), letting the admission
// layer stay agnostic of which engines are actually linked in.
type EngineResolver func(name string) (engine.Adapter, engine.Capabilities, error)

// RegisterRequest mirrors the admission façade's register() operation.
type RegisterRequest struct {
	Name           string
	Version        string
	URL            string
	Engine         string
	DeviceSpec     string
	TensorParallel int
	MaxWorkers     int
	MPI            bool
	BatchSize      int
	MaxBatchDelay  time.Duration
	MaxIdleTime    time.Duration
	EngineOptions  engine.Options
}

// Manager is the set of all per-model WorkerPools, keyed by modelId.
type Manager struct {
	planner *device.Planner
	resolve EngineResolver

	mu    sync.Mutex
	pools map[string]*pool.Pool
}

// NewManager creates a Manager bound to the process-wide Planner.
func NewManager(planner *device.Planner, resolve EngineResolver) *Manager {
	return &Manager{
		planner: planner,
		resolve: resolve,
		pools:   make(map[string]*pool.Pool),
	}
}

// ModelID is the map key spec.md calls `modelId = name[:version]`.
func ModelID(name, version string) string {
	if version == "" {
		return name
	}
	return fmt.Sprintf("%s:%s", name, version)
}

// Register brings up a WorkerPool for one model. Concurrent register
// calls for different models proceed independently; calls for the
// same modelId are serialized by Manager's lock.
func (m *Manager) Register(req RegisterRequest) error {
	id := ModelID(req.Name, req.Version)

	adapter, caps, err := m.resolve(req.Engine)
	if err != nil {
		return serveerr.Wrap(serveerr.BadSpec, err, "register %s: unknown engine %q", id, req.Engine)
	}

	m.mu.Lock()
	if _, exists := m.pools[id]; exists {
		m.mu.Unlock()
		return serveerr.New(serveerr.Conflict, "model %s is already registered", id)
	}
	m.mu.Unlock()

	minWorkers := req.MaxWorkers
	if minWorkers < 1 {
		minWorkers = 1
	}

	p := pool.New(pool.Config{
		ModelID:     id,
		ModelURL:    req.URL,
		Adapter:     adapter,
		EngineOpts:  req.EngineOptions,
		MinWorkers:  minWorkers,
		MaxBatch:    req.BatchSize,
		MaxDelay:    req.MaxBatchDelay,
		IdleTimeout: req.MaxIdleTime,
	}, m.planner)

	info := device.ModelInfo{
		ID:             id,
		DeviceSpec:     req.DeviceSpec,
		TensorParallel: req.TensorParallel,
		MaxWorkers:     minWorkers,
		MPI:            req.MPI,
		Caps: device.Capabilities{
			Accelerator:         caps.Accelerator,
			PythonOnAccelerator: caps.Accelerator && caps.PythonEngine,
		},
	}

	if err := p.Register(info); err != nil {
		return err
	}
	p.StartIdleSweep()

	m.mu.Lock()
	m.pools[id] = p
	m.mu.Unlock()

	log.Debug("registered model %s (engine=%s url=%s)", id, req.Engine, req.URL)
	return nil
}

// Unregister tears down a model's WorkerPool, releasing its devices.
func (m *Manager) Unregister(name, version string) error {
	id := ModelID(name, version)

	m.mu.Lock()
	p, ok := m.pools[id]
	if ok {
		delete(m.pools, id)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Unregister()
}

// Scale adjusts a model's worker count between minWorkers and
// maxWorkers, targeting maxWorkers (the richer of the pair spec.md §6
// accepts) while never dropping below minWorkers.
func (m *Manager) Scale(name, version string, minWorkers, maxWorkers int, info device.ModelInfo) error {
	id := ModelID(name, version)

	m.mu.Lock()
	p, ok := m.pools[id]
	m.mu.Unlock()
	if !ok {
		return serveerr.New(serveerr.BadSpec, "model %s is not registered", id)
	}

	target := maxWorkers
	if target < minWorkers {
		target = minWorkers
	}
	return p.Scale(info, target)
}

// Submit enqueues one payload against an already-registered model and
// returns its StreamingResult.
func (m *Manager) Submit(name, version, jobID string, payload []byte) (*stream.Result, error) {
	id := ModelID(name, version)

	m.mu.Lock()
	p, ok := m.pools[id]
	m.mu.Unlock()
	if !ok {
		return nil, serveerr.New(serveerr.BadSpec, "model %s is not registered", id)
	}

	return p.Submit(jobID, payload)
}
