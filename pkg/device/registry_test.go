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

	"github.com/stretchr/testify/require"

	"github.com/inferx/servingcore/pkg/serveerr"
)

func TestAcquireExclusivePacksLow(t *testing.T) {
	r := NewRegistry(8, nil)

	set, err := r.AcquireExclusive(2)
	require.NoError(t, err)
	require.Equal(t, "0-1", set.String())

	set2, err := r.AcquireExclusive(2)
	require.NoError(t, err)
	require.Equal(t, "2-3", set2.String())

	occ := r.Occupancy()
	require.Equal(t, []State{Exclusive, Exclusive, Exclusive, Exclusive, Free, Free, Free, Free}, occ)
}

func TestAcquireExclusiveNoCapacity(t *testing.T) {
	r := NewRegistry(2, nil)

	_, err := r.AcquireExclusive(3)
	require.Error(t, err)
	kind, ok := serveerr.Of(err)
	require.True(t, ok)
	require.Equal(t, serveerr.NoCapacity, kind)
}

func TestAcquireExclusiveAtConflict(t *testing.T) {
	r := NewRegistry(4, nil)

	require.NoError(t, r.AcquireExclusiveAt(1, 2))
	err := r.AcquireExclusiveAt(0, 2)
	require.Error(t, err)
	kind, ok := serveerr.Of(err)
	require.True(t, ok)
	require.Equal(t, serveerr.Conflict, kind)
}

func TestAcquireSharedHighIndexWindow(t *testing.T) {
	// n=4, maxSharedDevice=2: devices {2,3} are the shared window.
	r := NewRegistry(4, &MaxShared{Count: 2})

	require.NoError(t, r.AcquireShared(3, "m1", 0, 0, nil))
	require.NoError(t, r.AcquireShared(2, "m1", 0, 0, nil))

	err := r.AcquireShared(1, "m1", 0, 0, nil)
	require.Error(t, err)

	occ := r.Occupancy()
	require.Equal(t, []State{Free, Free, Shared, Shared}, occ)
}

func TestAcquireSharedMemoryProbe(t *testing.T) {
	r := NewRegistry(1, &MaxShared{Count: 1})

	probe := func(id int) (int64, error) { return 1000, nil }
	err := r.AcquireShared(0, "m1", 950, 100, probe)
	require.Error(t, err)

	err = r.AcquireShared(0, "m1", 500, 100, probe)
	require.NoError(t, err)
}

func TestReleaseExclusiveIsIdempotent(t *testing.T) {
	r := NewRegistry(4, nil)
	set, err := r.AcquireExclusive(2)
	require.NoError(t, err)

	require.NoError(t, r.Release(set, "w1"))
	require.NoError(t, r.Release(set, "w1"))
	require.Equal(t, []State{Free, Free, Free, Free}, r.Occupancy())
}

func TestReleaseSharedRefcounts(t *testing.T) {
	r := NewRegistry(2, &MaxShared{Count: 2})

	require.NoError(t, r.AcquireShared(0, "w1", 0, 0, nil))
	require.NoError(t, r.AcquireShared(0, "w2", 0, 0, nil))

	require.NoError(t, r.Release(deviceSetFrom([]int{0}), "w1"))
	require.Equal(t, Shared, r.Occupancy()[0])

	require.NoError(t, r.Release(deviceSetFrom([]int{0}), "w2"))
	require.Equal(t, Free, r.Occupancy()[0])
}

func TestRegisterThenUnregisterRoundTrips(t *testing.T) {
	r := NewRegistry(8, nil)
	before := r.Occupancy()

	set, err := r.AcquireExclusive(4)
	require.NoError(t, err)
	require.NoError(t, r.Release(set, "w1"))

	require.Equal(t, before, r.Occupancy())
}
