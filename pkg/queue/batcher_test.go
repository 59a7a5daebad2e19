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
)

func TestBatcherEmitsOnSize(t *testing.T) {
	q := New(0)
	b := NewBatcher(q, 2, time.Hour)
	go b.Run()
	defer b.Stop()

	if err := q.Push(Job{ID: "a", SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := q.Push(Job{ID: "b", SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("push: %v", err)
	}
	b.Notify()

	select {
	case batch := <-b.Batches():
		if len(batch) != 2 {
			t.Fatalf("expected batch of 2, got %d", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for size-triggered batch")
	}
}

func TestBatcherEmitsOnAge(t *testing.T) {
	q := New(0)
	b := NewBatcher(q, 10, 50*time.Millisecond)
	go b.Run()
	defer b.Stop()

	if err := q.Push(Job{ID: "a", SubmittedAt: time.Now()}); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case batch := <-b.Batches():
		if len(batch) != 1 {
			t.Fatalf("expected batch of 1, got %d", len(batch))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for age-triggered batch")
	}
}

func TestBatcherNeverReordersAcrossBatches(t *testing.T) {
	q := New(0)
	b := NewBatcher(q, 2, time.Hour)
	go b.Run()
	defer b.Stop()

	ids := []string{"a", "b", "c", "d", "e"}
	for _, id := range ids {
		if err := q.Push(Job{ID: id, SubmittedAt: time.Now()}); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}
	b.Notify()

	var got []string
	for len(got) < len(ids) {
		select {
		case batch := <-b.Batches():
			for _, j := range batch {
				got = append(got, j.ID)
			}
			b.Notify()
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %v so far", got)
		}
	}

	for i, id := range ids {
		if got[i] != id {
			t.Fatalf("order mismatch at %d: want %s got %s (full: %v)", i, id, got[i], got)
		}
	}
}
