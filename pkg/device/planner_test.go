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

package device

import (
	"testing"

	"github.com/inferx/servingcore/pkg/serveerr"
)

func TestPlanCPUWhenNoAccelerator(t *testing.T) {
	p := NewPlanner(NewRegistry(0, nil))

	plan, err := p.Plan(ModelInfo{ID: "m1", DeviceSpec: "*", Caps: Capabilities{Accelerator: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.IsCPU() {
		t.Fatalf("expected CPU plan, got %+v", plan)
	}
	if plan.NumWorkers() != 1 {
		t.Fatalf("expected 1 worker, got %d", plan.NumWorkers())
	}
}

func TestPlanExclusivePack(t *testing.T) {
	reg := NewRegistry(8, nil)
	p := NewPlanner(reg)

	plan, err := p.Plan(ModelInfo{
		ID:             "m1",
		DeviceSpec:     "{2}",
		TensorParallel: 2,
		Caps:           Capabilities{Accelerator: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !plan.Exclusive {
		t.Fatalf("expected exclusive plan")
	}
	if plan.NumWorkers() != 2 {
		t.Fatalf("expected 2 workers, got %d", plan.NumWorkers())
	}
	if plan.Slots[0].String() != "0-1" || plan.Slots[1].String() != "2-3" {
		t.Fatalf("unexpected slot layout: %v", plan.Slots)
	}

	occ := reg.Occupancy()
	want := []State{Exclusive, Exclusive, Exclusive, Exclusive, Free, Free, Free, Free}
	for i := range want {
		if occ[i] != want[i] {
			t.Fatalf("occupancy[%d] = %v, want %v", i, occ[i], want[i])
		}
	}
}

func TestPlanSharedRetentionHighIndexFirst(t *testing.T) {
	reg := NewRegistry(4, &MaxShared{Count: 2})
	p := NewPlanner(reg)

	plan, err := p.Plan(ModelInfo{ID: "m1", DeviceSpec: "*", Caps: Capabilities{Accelerator: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Exclusive {
		t.Fatalf("expected shared plan")
	}
	if len(plan.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(plan.Slots))
	}
	if plan.Slots[0].String() != "3" || plan.Slots[1].String() != "2" {
		t.Fatalf("expected collection order [3,2], got %v", plan.Slots)
	}
	occ := reg.Occupancy()
	if occ[2] != Shared || occ[3] != Shared || occ[0] != Free || occ[1] != Free {
		t.Fatalf("unexpected occupancy: %v", occ)
	}
}

func TestPlanCountExceedingAvailableIsInsufficientSlots(t *testing.T) {
	reg := NewRegistry(2, nil)
	p := NewPlanner(reg)

	_, err := p.Plan(ModelInfo{ID: "m1", DeviceSpec: "{3}", Caps: Capabilities{Accelerator: true}})
	if err == nil {
		t.Fatalf("expected error")
	}
	kind, ok := serveerr.Of(err)
	if !ok || kind != serveerr.InsufficientSlots {
		t.Fatalf("expected ERR_INSUFFICIENT_SLOTS, got %v (%v)", kind, err)
	}
}

func TestPlanBadSpec(t *testing.T) {
	p := NewPlanner(NewRegistry(4, nil))

	_, err := p.Plan(ModelInfo{ID: "m1", DeviceSpec: "{oops}", Caps: Capabilities{Accelerator: true}})
	if err == nil {
		t.Fatalf("expected error")
	}
	kind, ok := serveerr.Of(err)
	if !ok || kind != serveerr.BadSpec {
		t.Fatalf("expected ERR_BAD_SPEC, got %v (%v)", kind, err)
	}
}

func TestPlanRegistrationUnregistrationRoundTrips(t *testing.T) {
	reg := NewRegistry(8, nil)
	p := NewPlanner(reg)
	before := reg.Occupancy()

	plan, err := p.Plan(ModelInfo{
		ID:             "m1",
		DeviceSpec:     "{2}",
		TensorParallel: 2,
		Caps:           Capabilities{Accelerator: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, slot := range plan.Slots {
		if err := reg.Release(slot, "m1"); err != nil {
			t.Fatalf("release failed: %v", err)
		}
	}

	after := reg.Occupancy()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("occupancy[%d] before=%v after=%v", i, before[i], after[i])
		}
	}
}
