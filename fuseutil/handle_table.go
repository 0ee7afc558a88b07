// Copyright 2015 Google Inc. All Rights Reserved.
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

package fuseutil

import (
	"fmt"
	"sync"

	"github.com/llfuse/fuse/fuseops"
)

// HandleTable maps the opaque handle IDs given to the kernel in open, create
// and opendir replies to the file system's per-handle state.
//
// IDs are never zero, which the kernel uses to mean "no handle", and are not
// reused within the lifetime of a table. Safe for concurrent use.
type HandleTable[T any] struct {
	mu sync.Mutex

	// The next ID to hand out.
	//
	// INVARIANT: next > 0
	// INVARIANT: For all keys k in entries, 0 < k < next
	//
	// GUARDED_BY(mu)
	next fuseops.HandleID

	// GUARDED_BY(mu)
	entries map[fuseops.HandleID]T
}

// NewHandleTable creates an empty table.
func NewHandleTable[T any]() *HandleTable[T] {
	return &HandleTable[T]{
		next:    1,
		entries: make(map[fuseops.HandleID]T),
	}
}

// Encode stores v and returns the ID to give to the kernel for it.
func (t *HandleTable[T]) Encode(v T) fuseops.HandleID {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.next
	t.next++
	t.entries[h] = v

	return h
}

// Lookup returns the value for h, or false if h is zero or isn't live. The
// value is borrowed: it stays in the table.
func (t *HandleTable[T]) Lookup(h fuseops.HandleID) (v T, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok = t.entries[h]
	return
}

// Release removes h from the table and returns its value. Each ID must be
// released exactly once; releasing zero, an unknown ID or an ID that was
// already released is a programming error and panics.
func (t *HandleTable[T]) Release(h fuseops.HandleID) T {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h == 0 {
		panic("Release of handle 0")
	}

	v, ok := t.entries[h]
	if !ok {
		if h < t.next {
			panic(fmt.Sprintf("Handle %d released twice", h))
		}

		panic(fmt.Sprintf("Unknown handle %d", h))
	}

	delete(t.entries, h)
	return v
}

// Len returns the number of live handles.
func (t *HandleTable[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}
