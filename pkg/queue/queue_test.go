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

package queue

import (
	"testing"
	"time"

	"github.com/inferx/servingcore/pkg/serveerr"
)

func TestPushRejectsBeyondCapacity(t *testing.T) {
	q := New(2)
	if err := q.Push(Job{ID: "a"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Push(Job{ID: "b"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := q.Push(Job{ID: "c"})
	if kind, ok := serveerr.Of(err); !ok || kind != serveerr.QueueFull {
		t.Fatalf("expected ERR_QUEUE_FULL, got %v", err)
	}
}

func TestDrainUpToPreservesOrder(t *testing.T) {
	q := New(0)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Push(Job{ID: id}); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}

	first := q.drainUpTo(2)
	if len(first) != 2 || first[0].ID != "a" || first[1].ID != "b" {
		t.Fatalf("unexpected first drain: %+v", first)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", q.Len())
	}

	rest := q.drainUpTo(5)
	if len(rest) != 1 || rest[0].ID != "c" {
		t.Fatalf("unexpected second drain: %+v", rest)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestOldestAgeZeroWhenEmpty(t *testing.T) {
	q := New(0)
	if age := q.oldestAge(time.Now()); age != 0 {
		t.Fatalf("expected zero age on empty queue, got %v", age)
	}
}

func TestOldestAgeMeasuresFrontJob(t *testing.T) {
	q := New(0)
	submitted := time.Now().Add(-5 * time.Second)
	if err := q.Push(Job{ID: "a", SubmittedAt: submitted}); err != nil {
		t.Fatalf("push: %v", err)
	}
	age := q.oldestAge(submitted.Add(5 * time.Second))
	if age < 5*time.Second {
		t.Fatalf("expected age >= 5s, got %v", age)
	}
}
