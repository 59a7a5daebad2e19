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
	"sync"

	multierror "github.com/hashicorp/go-multierror"

	logger "github.com/inferx/servingcore/pkg/log"
	"github.com/inferx/servingcore/pkg/serveerr"
)

var log = logger.NewLogger("device-registry")

// MaxShared describes how many of the highest-index devices may ever be
// put into SHARED mode. It is resolved once at Registry construction
// from the (integer count | float ratio in (0,1] | absent) union in
// spec.md §3, and never changes for the process lifetime.
type MaxShared struct {
	// Count is the resolved number of devices in the shared window.
	Count int
	// All is true if every device may be used in SHARED mode (absent config).
	All bool
}

// Registry is the process-wide singleton tracking per-device occupancy.
// All mutating operations are serialized by a single lock: they happen
// at registration/scale/teardown time, so coarse locking is correct and
// simple, per spec.md §4.1.
type Registry struct {
	mu    sync.Mutex
	occ   []State
	n     int
	shmax MaxShared

	// holders reference-counts SHARED ownership: device id -> holder id -> count.
	holders map[int]map[string]int
}

// NewRegistry discovers n devices of a single kind and builds a Registry
// for them. maxShared resolves the "absent -> ALL" default for a nil arg.
func NewRegistry(n int, maxShared *MaxShared) *Registry {
	sh := MaxShared{All: true}
	if maxShared != nil {
		sh = *maxShared
	}
	if sh.All {
		sh.Count = n
	}
	if sh.Count > n {
		sh.Count = n
	}
	return &Registry{
		occ:     make([]State, n),
		n:       n,
		shmax:   sh,
		holders: make(map[int]map[string]int),
	}
}

// Len returns the number of devices this registry manages.
func (r *Registry) Len() int {
	return r.n
}

// MaxSharedDevice returns the resolved width of the shared window.
func (r *Registry) MaxSharedDevice() int {
	return r.shmax.Count
}

// MaxSharedIsAll reports whether every device is eligible for SHARED
// mode (the "absent configuration" default). It is distinct from
// MaxSharedDevice()==Len(): an explicit count equal to n restricts the
// exclusive window to nothing, while the ALL default does not
// restrict exclusive allocation at all — see SPEC_FULL.md's resolution
// of the maxSharedDevice / exclusive-window interaction.
func (r *Registry) MaxSharedIsAll() bool {
	return r.shmax.All
}

// sharedWindowStart is the lowest device index eligible for SHARED mode.
func (r *Registry) sharedWindowStart() int {
	return r.n - r.shmax.Count
}

// Occupancy returns a snapshot of the occupancy array, for introspection and tests.
func (r *Registry) Occupancy() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.occ))
	copy(out, r.occ)
	return out
}

// AcquireExclusive finds the lowest contiguous run of count FREE devices,
// flips them to EXCLUSIVE, and returns their ids.
func (r *Registry) AcquireExclusive(count int) (Set, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if count <= 0 {
		return deviceSetEmpty(), serveerr.New(serveerr.BadSpec, "acquireExclusive: count must be > 0, got %d", count)
	}

	for start := 0; start+count <= r.n; start++ {
		if r.rangeFreeLocked(start, count) {
			ids := make([]int, count)
			for i := 0; i < count; i++ {
				r.occ[start+i] = Exclusive
				ids[i] = start + i
			}
			log.Debug("acquireExclusive(%d) => %v", count, ids)
			return idsToSet(ids), nil
		}
	}

	return deviceSetEmpty(), serveerr.New(serveerr.NoCapacity, "no contiguous run of %d free devices", count)
}

// AcquireExclusiveAt acquires the specific range [startID, startID+count),
// failing if any device in the range is not FREE.
func (r *Registry) AcquireExclusiveAt(startID, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if startID < 0 || count <= 0 || startID+count > r.n {
		return serveerr.New(serveerr.BadSpec, "acquireExclusiveAt: range [%d,%d) out of bounds for %d devices", startID, startID+count, r.n)
	}
	if !r.rangeFreeLocked(startID, count) {
		return serveerr.New(serveerr.Conflict, "range [%d,%d) is not entirely free", startID, startID+count)
	}

	for i := 0; i < count; i++ {
		r.occ[startID+i] = Exclusive
	}
	log.Debug("acquireExclusiveAt(%d, %d) => ok", startID, count)
	return nil
}

func (r *Registry) rangeFreeLocked(start, count int) bool {
	for i := start; i < start+count; i++ {
		if r.occ[i] != Free {
			return false
		}
	}
	return true
}

// AcquireShared attempts to put device id into SHARED mode on behalf of
// holder. It succeeds if the device is FREE or already SHARED, lies in
// the shared window, and the memory probe reports enough headroom.
func (r *Registry) AcquireShared(id int, holder string, requiredMem, reservedMem int64, probe MemoryProbe) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id < 0 || id >= r.n {
		return serveerr.New(serveerr.BadSpec, "acquireShared: device id %d out of range", id)
	}
	if id < r.sharedWindowStart() {
		return serveerr.New(serveerr.NoCapacity, "device %d is outside the shared window [%d,%d)", id, r.sharedWindowStart(), r.n)
	}
	if r.occ[id] == Exclusive {
		return serveerr.New(serveerr.NoCapacity, "device %d is exclusively held", id)
	}

	if probe != nil {
		free, err := probe(id)
		if err != nil {
			return serveerr.Wrap(serveerr.NoCapacity, err, "memory probe failed for device %d", id)
		}
		if free-requiredMem <= reservedMem {
			return serveerr.New(serveerr.NoCapacity, "device %d has insufficient memory headroom (free=%d required=%d reserved=%d)", id, free, requiredMem, reservedMem)
		}
	}

	r.occ[id] = Shared
	if r.holders[id] == nil {
		r.holders[id] = make(map[string]int)
	}
	r.holders[id][holder]++
	log.Debug("acquireShared(%d, holder=%s) => ok (refcount=%d)", id, holder, r.holders[id][holder])
	return nil
}

// Release returns devices to FREE. For SHARED devices, it decrements the
// holder's reference count and only frees the device once every holder
// has released it. An id outside the registry does not stop the
// teardown: Release skips it, releases the remaining ids, and reports
// every skipped id in the returned error.
func (r *Registry) Release(set Set, holder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs *multierror.Error
	for _, id := range set.List() {
		if id < 0 || id >= r.n {
			errs = multierror.Append(errs, serveerr.New(serveerr.BadSpec, "release: device id %d out of range", id))
			continue
		}
		switch r.occ[id] {
		case Exclusive:
			r.occ[id] = Free
		case Shared:
			hs := r.holders[id]
			if hs != nil {
				hs[holder]--
				if hs[holder] <= 0 {
					delete(hs, holder)
				}
			}
			if len(hs) == 0 {
				delete(r.holders, id)
				r.occ[id] = Free
			}
		case Free:
			// already free; releasing twice is a no-op, not an error.
		}
	}
	log.Debug("release(%s, holder=%s)", set.String(), holder)
	return errs.ErrorOrNil()
}

func idsToSet(ids []int) Set {
	return deviceSetFrom(ids)
}

// rangeFreeForPlanning is a read-only availability check used by the
// Planner while building candidate slot lists. It does not mutate
// state; the subsequent Acquire* call is what actually commits, and
// may still fail with ERR_CONFLICT if another registration raced it
// in between, in which case the Planner releases what it already
// committed and surfaces the error.
func (r *Registry) rangeFreeForPlanning(start, count int, shared bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if start < 0 || start+count > r.n {
		return false
	}
	for i := start; i < start+count; i++ {
		if shared {
			if r.occ[i] == Exclusive {
				return false
			}
		} else if r.occ[i] != Free {
			return false
		}
	}
	return true
}
