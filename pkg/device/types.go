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

// Package device implements the Device Registry and Device Planner:
// the process-wide map of accelerator occupancy, and the logic that
// turns a model's device spec into a concrete SlotPlan against it.
package device

import "github.com/inferx/servingcore/pkg/deviceset"

// Kind identifies the flavor of an accelerator device.
type Kind string

const (
	// CPU marks the pseudo-device used by models that don't need an accelerator.
	CPU Kind = "CPU"
	// GPU marks a CUDA-capable accelerator.
	GPU Kind = "GPU"
	// Accelerator marks any other accelerator kind (e.g. a Neuron core).
	Accelerator Kind = "Accelerator"
)

// State is the occupancy state of one device slot in the registry.
type State int

const (
	// Free means the device is unowned.
	Free State = iota
	// Exclusive means the device is owned by exactly one worker.
	Exclusive
	// Shared means the device is owned by one or more workers, subject to memory headroom.
	Shared
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Exclusive:
		return "exclusive"
	case Shared:
		return "shared"
	default:
		return "unknown"
	}
}

// Device describes one entry in the process-wide device sequence.
type Device struct {
	Kind Kind
	ID   int
}

// Set is an alias for the device-id set algebra used throughout this package.
type Set = deviceset.Set

// MemoryProbe reports live free/reserved memory for a device, used by
// acquireShared to decide whether a model replica still fits. Supplied
// by the engine-adapter collaborator; the registry only calls it.
type MemoryProbe func(id int) (freeBytes int64, err error)

// SlotPlan is the result of planning a model's device spec against the
// registry: one DeviceSet per worker replica the pool should spawn.
type SlotPlan struct {
	Slots          []Set
	Exclusive      bool
	DevicesPerSlot int
}

// NumWorkers is the number of worker replicas this plan calls for.
func (p SlotPlan) NumWorkers() int {
	return len(p.Slots)
}

// IsCPU reports whether this plan is the CPU fallback (no accelerator devices).
func (p SlotPlan) IsCPU() bool {
	return len(p.Slots) == 1 && p.Slots[0].Size() == 0
}
