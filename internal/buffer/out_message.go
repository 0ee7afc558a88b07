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

package buffer

import (
	"fmt"
	"unsafe"

	"github.com/llfuse/fuse/internal/fusekernel"
)

// OutMessageHeaderSize is the size of the leading header in every properly
// constructed OutMessage. Reset brings the message back to this size.
const OutMessageHeaderSize = fusekernel.OutHeaderSize

// The payload capacity of an OutMessage: enough for the largest read reply,
// or for a readdirplus reply of the same size.
const outPayloadSize = fusekernel.MaxReadSize

// OutMessage provides a mechanism for constructing a single contiguous fuse
// message from multiple segments, where the first segment is always a
// fusekernel.OutHeader message.
//
// Must be initialized with Reset.
type OutMessage struct {
	// The offset into storage of the first byte not yet in use.
	offset int

	// Backing storage, kept as uint64s so that struct casts are aligned.
	storage [(OutMessageHeaderSize + outPayloadSize) / 8]uint64
}

func (m *OutMessage) bytes() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&m.storage[0])), len(m.storage)*8)
}

// Reset resets m so that it's ready to be used again. Afterward, the contents
// are solely a zeroed fusekernel.OutHeader struct.
func (m *OutMessage) Reset() {
	m.offset = OutMessageHeaderSize
	clear(m.bytes()[:OutMessageHeaderSize])
}

// OutHeader returns a pointer to the header at the start of the message.
func (m *OutMessage) OutHeader() *fusekernel.OutHeader {
	return (*fusekernel.OutHeader)(unsafe.Pointer(&m.storage[0]))
}

// Grow grows m's buffer by the given number of bytes, returning a pointer to
// the start of the new segment, which is guaranteed to be zeroed. If there is
// insufficient space, it returns nil.
func (m *OutMessage) Grow(n int) unsafe.Pointer {
	p := m.GrowNoZero(n)
	if p != nil {
		clear(unsafe.Slice((*byte)(p), n))
	}

	return p
}

// GrowNoZero is equivalent to Grow, except the new segment is not zeroed. Use
// with caution!
func (m *OutMessage) GrowNoZero(n int) unsafe.Pointer {
	if n < 0 || n > len(m.storage)*8-m.offset {
		return nil
	}

	if n == 0 {
		// Nothing to point at, but not a failure either.
		return unsafe.Pointer(&m.storage[0])
	}

	p := unsafe.Pointer(&m.bytes()[m.offset])
	m.offset += n

	return p
}

// GrowSlice is like GrowNoZero, but returns the new segment as a slice whose
// capacity is limited to its length. It returns nil on insufficient space.
func (m *OutMessage) GrowSlice(n int) []byte {
	start := m.offset
	if m.GrowNoZero(n) == nil {
		return nil
	}

	return m.bytes()[start : start+n : start+n]
}

// ShrinkTo shrinks m to the given size. It panics if the size is greater
// than Len() or less than OutMessageHeaderSize.
func (m *OutMessage) ShrinkTo(n int) {
	if n < OutMessageHeaderSize || n > m.offset {
		panic(fmt.Sprintf(
			"ShrinkTo(%d) out of range (current Len: %d)",
			n,
			m.offset))
	}

	m.offset = n
}

// Append is equivalent to growing by len(src), then copying src over the new
// segment. It panics if there is not enough room available.
func (m *OutMessage) Append(src []byte) {
	dst := m.GrowSlice(len(src))
	if dst == nil {
		panic(fmt.Sprintf("Can't append %d bytes", len(src)))
	}

	copy(dst, src)
}

// AppendString is like Append, but accepts string input.
func (m *OutMessage) AppendString(src string) {
	dst := m.GrowSlice(len(src))
	if dst == nil {
		panic(fmt.Sprintf("Can't append %d bytes", len(src)))
	}

	copy(dst, src)
}

// Len returns the current size of the message, including the leading
// header.
func (m *OutMessage) Len() int {
	return m.offset
}

// Bytes returns a reference to the current contents of the buffer, including
// the leading header.
func (m *OutMessage) Bytes() []byte {
	return m.bytes()[:m.offset]
}
