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

// Package freelist provides a simple stack of recycled pointers.
package freelist

import "unsafe"

// A Freelist is a stack of unused pointers, for recycling large objects
// without leaning on the garbage collector. The zero value is empty and ready
// to use. A Freelist is not safe for concurrent use.
type Freelist struct {
	list []unsafe.Pointer
}

// Get returns a pointer previously supplied to Put, or nil if the list is
// empty.
func (fl *Freelist) Get() (p unsafe.Pointer) {
	l := len(fl.list)
	if l == 0 {
		return
	}

	p = fl.list[l-1]
	fl.list = fl.list[:l-1]

	return
}

// Put contributes an element to the free list.
func (fl *Freelist) Put(p unsafe.Pointer) {
	fl.list = append(fl.list, p)
}

// Len returns the number of elements currently in the list.
func (fl *Freelist) Len() int {
	return len(fl.list)
}
