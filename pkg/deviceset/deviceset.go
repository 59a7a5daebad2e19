// Copyright The NRI Plugins Authors. All Rights Reserved.
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

// Package deviceset provides the set algebra a SlotPlan needs over
// accelerator device ids, built on top of k8s.io/utils/cpuset the same
// way the teacher package built CPU sets on it.
package deviceset

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"
)

// Set is a set of device ids. CPU device id -1 denotes "no accelerator,
// run on CPU" and is never a member of a Set; CPU slots carry an empty Set.
type Set = cpuset.CPUSet

var (
	// New builds a Set from the given ids.
	New = cpuset.New
	// Parse parses a cpuset-style range list such as "0-3,6".
	Parse = cpuset.Parse
)

// MustParse panics if parsing the given device range string fails.
func MustParse(s string) cpuset.CPUSet {
	set, err := cpuset.Parse(s)
	if err != nil {
		panic(fmt.Errorf("failed to parse device set %s: %w", s, err))
	}
	return set
}

// Short prints the set as a string, shortened into contiguous/strided runs.
func Short(set cpuset.CPUSet) string {
	str, sep := "", ""

	beg, end, step := -1, -1, -1
	for _, dev := range strings.Split(set.String(), ",") {
		if strings.Contains(dev, "-") {
			str += sep + dev
			sep = ","
			continue
		}
		i, err := strconv.ParseInt(dev, 10, 0)
		if err != nil {
			return set.String()
		}
		id := int(i)
		if beg < 0 {
			beg, end = id, id
			continue
		}
		if step < 0 {
			end = id
			step = end - beg
			continue
		}
		if id-end == step {
			end = id
			continue
		}
		str += sep + mkRange(beg, end, step)
		sep = ","
		beg, end = id, id
		step = -1
	}

	if beg >= 0 {
		str += sep + mkRange(beg, end, step)
	}

	return str
}

func mkRange(beg, end, step int) string {
	if beg < 0 {
		return ""
	}
	if beg == end {
		return strconv.FormatInt(int64(beg), 10)
	}

	b, e := strconv.FormatInt(int64(beg), 10), strconv.FormatInt(int64(end), 10)
	if step == 1 {
		return b + "-" + e
	}
	if beg+step == end {
		return b + "," + e
	}

	s := strconv.FormatInt(int64(step), 10)
	return b + "-" + e + ":" + s
}
