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
	"strconv"
	"strings"

	multierror "github.com/hashicorp/go-multierror"

	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/serveerr"
)

var planLog = logger.NewLogger("device-planner")

// Capabilities describes what a model's engine can do, enough for the
// planner to pick a default exclusivity and whether CPU-only applies.
type Capabilities struct {
	// Accelerator is true if the engine can run on an accelerator at all.
	Accelerator bool
	// PythonOnAccelerator is true for the Python engine running on an
	// Accelerator-kind platform; spec.md §4.2 forces exclusivity for it.
	PythonOnAccelerator bool
}

// ModelInfo is the immutable descriptor a Planner consumes. It mirrors
// spec.md §3's ModelInfo, trimmed to the fields the planner needs.
type ModelInfo struct {
	ID             string
	DeviceSpec     string
	TensorParallel int // tp >= 1
	MaxWorkers     int // mw >= 1
	MPI            bool
	Caps           Capabilities
}

// Planner turns a ModelInfo's device spec into a SlotPlan against a Registry.
type Planner struct {
	reg *Registry
}

// NewPlanner creates a Planner bound to the given Registry.
func NewPlanner(reg *Registry) *Planner {
	return &Planner{reg: reg}
}

// parsedSpec is the result of parsing a deviceSpec string.
type parsedSpec struct {
	cpu       bool
	all       bool
	count     int   // from "{k}"
	explicit  []int // from "a;b;c"
	exclusive bool  // forced by a trailing "-"
}

func parseDeviceSpec(spec string) (parsedSpec, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return parsedSpec{cpu: true}, nil
	}

	exclusive := false
	if strings.HasSuffix(s, "-") {
		exclusive = true
		s = s[:len(s)-1]
	}

	switch {
	case s == "*":
		return parsedSpec{all: true, exclusive: exclusive}, nil

	case strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}"):
		inner := strings.TrimSpace(s[1 : len(s)-1])
		k, err := strconv.Atoi(inner)
		if err != nil || k <= 0 {
			return parsedSpec{}, serveerr.New(serveerr.BadSpec, "bad count spec %q", spec)
		}
		return parsedSpec{count: k, exclusive: exclusive}, nil

	default:
		parts := strings.Split(s, ";")
		ids := make([]int, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			id, err := strconv.Atoi(p)
			if err != nil {
				return parsedSpec{}, serveerr.New(serveerr.BadSpec, "bad device id %q in spec %q", p, spec)
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return parsedSpec{}, serveerr.New(serveerr.BadSpec, "empty explicit device spec %q", spec)
		}
		return parsedSpec{explicit: ids, exclusive: exclusive}, nil
	}
}

// defaultExclusive implements spec.md §4.2's default-exclusivity rule.
func defaultExclusive(m ModelInfo) bool {
	if m.TensorParallel > 1 {
		return true
	}
	if m.MPI {
		return true
	}
	if m.Caps.PythonOnAccelerator {
		return true
	}
	return false
}

// Plan computes a SlotPlan for m against the bound Registry, acquiring
// the slots atomically: on any failure, nothing already acquired by
// this call is left allocated.
func (p *Planner) Plan(m ModelInfo) (SlotPlan, error) {
	if m.TensorParallel < 1 {
		m.TensorParallel = 1
	}
	if m.MaxWorkers < 1 {
		m.MaxWorkers = 1
	}

	devicesPerSlot := m.TensorParallel
	if m.MPI {
		devicesPerSlot *= m.MaxWorkers
	}

	parsed, err := parseDeviceSpec(m.DeviceSpec)
	if err != nil {
		return SlotPlan{}, err
	}

	if parsed.cpu || !m.Caps.Accelerator || p.reg == nil || p.reg.Len() == 0 {
		planLog.Debug("model %s: CPU slot (spec=%q accelerator=%v devices=%d)", m.ID, m.DeviceSpec, m.Caps.Accelerator, regLen(p.reg))
		return SlotPlan{Slots: []Set{deviceSetEmpty()}, Exclusive: false, DevicesPerSlot: 1}, nil
	}

	exclusive := parsed.exclusive || defaultExclusive(m)

	switch {
	case parsed.all:
		return p.planAll(m, devicesPerSlot, exclusive)
	case parsed.count > 0:
		return p.planCount(m, devicesPerSlot, exclusive, parsed.count)
	case len(parsed.explicit) > 0:
		return p.planExplicit(m, devicesPerSlot, exclusive, parsed.explicit)
	default:
		return SlotPlan{}, serveerr.New(serveerr.BadSpec, "could not parse device spec %q", m.DeviceSpec)
	}
}

func regLen(r *Registry) int {
	if r == nil {
		return 0
	}
	return r.Len()
}

// candidateStarts returns, for the given exclusivity, the ordered list of
// slot-start indices available for devicesPerSlot-wide slots, tie-broken
// per spec.md §4.2: lowest index first for exclusive, highest first for shared.
func (p *Planner) candidateStarts(devicesPerSlot int, exclusive bool) []int {
	r := p.reg
	n := r.Len()
	starts := []int{}

	if exclusive {
		limit := n
		if !r.MaxSharedIsAll() {
			limit = n - r.MaxSharedDevice()
		}
		// Slot boundaries are fixed at i*devicesPerSlot, i=0,1,2,...: slots
		// never overlap, so candidates are collected by slot index, not by
		// sliding the start one device at a time.
		for i := 0; (i+1)*devicesPerSlot <= limit; i++ {
			start := i * devicesPerSlot
			if r.rangeFreeForPlanning(start, devicesPerSlot, false) {
				starts = append(starts, start)
			}
		}
		return starts
	}

	// Shared: only single-device slots, scanned from the high end down,
	// restricted to the shared window.
	windowStart := r.sharedWindowStart()
	for start := n - 1; start >= windowStart; start-- {
		if r.rangeFreeForPlanning(start, 1, true) {
			starts = append(starts, start)
		}
	}
	return starts
}

func (p *Planner) planAll(m ModelInfo, devicesPerSlot int, exclusive bool) (SlotPlan, error) {
	starts := p.candidateStarts(devicesPerSlot, exclusive)
	if len(starts) == 0 {
		return SlotPlan{}, serveerr.New(serveerr.NoCapacity, "model %s: no slots fit device spec %q", m.ID, m.DeviceSpec)
	}
	return p.commit(starts, devicesPerSlot, exclusive, m.ID)
}

func (p *Planner) planCount(m ModelInfo, devicesPerSlot int, exclusive bool, k int) (SlotPlan, error) {
	starts := p.candidateStarts(devicesPerSlot, exclusive)
	if len(starts) < k {
		return SlotPlan{}, serveerr.New(serveerr.InsufficientSlots, "model %s: need %d slots, only %d available", m.ID, k, len(starts))
	}
	return p.commit(starts[:k], devicesPerSlot, exclusive, m.ID)
}

func (p *Planner) planExplicit(m ModelInfo, devicesPerSlot int, exclusive bool, ids []int) (SlotPlan, error) {
	if len(ids)%devicesPerSlot != 0 {
		return SlotPlan{}, serveerr.New(serveerr.BadSpec, "model %s: %d explicit ids not a multiple of devicesPerSlot=%d", m.ID, len(ids), devicesPerSlot)
	}

	slots := make([]Set, 0, len(ids)/devicesPerSlot)
	for i := 0; i+devicesPerSlot <= len(ids); i += devicesPerSlot {
		group := ids[i : i+devicesPerSlot]
		for j, id := range group {
			if id != group[0]+j {
				return SlotPlan{}, serveerr.New(serveerr.BadSpec, "model %s: explicit device group %v is not contiguous", m.ID, group)
			}
		}
		slots = append(slots, deviceSetFrom(group))
	}

	acquired := make([]Set, 0, len(slots))
	for _, slot := range slots {
		var err error
		if exclusive {
			err = p.reg.AcquireExclusiveAt(slot.List()[0], slot.Size())
		} else {
			for k, id := range slot.List() {
				if e := p.reg.AcquireShared(id, m.ID, 0, 0, nil); e != nil {
					err = e
					acquired = append(acquired, deviceSetFrom(slot.List()[:k]))
					break
				}
			}
		}
		if err != nil {
			p.releaseAll(acquired, m.ID)
			return SlotPlan{}, err
		}
		acquired = append(acquired, slot)
	}

	return SlotPlan{Slots: acquired, Exclusive: exclusive, DevicesPerSlot: devicesPerSlot}, nil
}

func (p *Planner) commit(starts []int, devicesPerSlot int, exclusive bool, holder string) (SlotPlan, error) {
	acquired := make([]Set, 0, len(starts))
	for _, start := range starts {
		var err error
		if exclusive {
			err = p.reg.AcquireExclusiveAt(start, devicesPerSlot)
		} else {
			err = p.reg.AcquireShared(start, holder, 0, 0, nil)
		}
		if err != nil {
			p.releaseAll(acquired, holder)
			return SlotPlan{}, err
		}
		if exclusive {
			acquired = append(acquired, deviceSetFrom(contiguous(start, devicesPerSlot)))
		} else {
			acquired = append(acquired, deviceSetFrom([]int{start}))
		}
	}
	return SlotPlan{Slots: acquired, Exclusive: exclusive, DevicesPerSlot: devicesPerSlot}, nil
}

// Release returns every slot in plan to the registry on behalf of holder.
func (p *Planner) Release(plan SlotPlan, holder string) error {
	var errs *multierror.Error
	for _, slot := range plan.Slots {
		if err := p.reg.Release(slot, holder); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// ReleaseSet returns one slot directly, for callers (like a pool scaling
// down a single worker) that don't have a full SlotPlan on hand.
func (p *Planner) ReleaseSet(set Set, holder string) error {
	return p.reg.Release(set, holder)
}

func (p *Planner) releaseAll(slots []Set, holder string) {
	for _, s := range slots {
		_ = p.reg.Release(s, holder)
	}
}

func contiguous(start, count int) []int {
	ids := make([]int, count)
	for i := 0; i < count; i++ {
		ids[i] = start + i
	}
	return ids
}
