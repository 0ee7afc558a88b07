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

// Package buffer holds the fixed-size storage used to read requests from and
// write replies to the fuse device.
package buffer

import (
	"errors"
	"fmt"
	"io"
	"syscall"
	"unsafe"

	"github.com/llfuse/fuse/internal/fusekernel"
)

// All requests read from the kernel, without data, are shorter than
// this.
var pageSize = syscall.Getpagesize()

// The maximum read size that we expect to ever see from the kernel, used for
// calculating the size of InMessage storage. The kernel adds a page of
// headers in front of write payloads.
var bufSize = pageSize + fusekernel.MaxWriteSize

// ErrShortMessage is returned by InMessage.Init when the device yields fewer
// bytes than a request header.
var ErrShortMessage = errors.New("short read from fuse device")

// An incoming message from the kernel, including leading fusekernel.InHeader
// struct. Provides storage for messages and convenient access to their
// contents.
type InMessage struct {
	remaining []byte
	storage   []byte
}

// NewInMessage allocates storage large enough for any request the kernel
// sends.
func NewInMessage() *InMessage {
	// Back the storage with uint64s so that struct casts are aligned.
	words := make([]uint64, (bufSize+7)/8)
	return &InMessage{
		storage: unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(words)*8),
	}
}

// Init initializes m with the next message read from r. The reader must
// return exactly one message per Read call, as /dev/fuse does.
func (m *InMessage) Init(r io.Reader) error {
	n, err := r.Read(m.storage)
	if err != nil {
		return err
	}

	if n < fusekernel.InHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrShortMessage, n)
	}

	m.remaining = m.storage[fusekernel.InHeaderSize:n]

	// Check the header's length.
	if int(m.Header().Len) != n {
		return fmt.Errorf(
			"Header says %d bytes, but we read %d",
			m.Header().Len,
			n)
	}

	return nil
}

// Header returns a reference to the header read in the most recent call to
// Init.
func (m *InMessage) Header() *fusekernel.InHeader {
	return (*fusekernel.InHeader)(unsafe.Pointer(&m.storage[0]))
}

// Len returns the number of bytes left to consume.
func (m *InMessage) Len() uintptr {
	return uintptr(len(m.remaining))
}

// Consume consumes the next n bytes from the message, returning a nil
// pointer if there are fewer than n bytes available.
func (m *InMessage) Consume(n uintptr) unsafe.Pointer {
	if m.Len() == 0 || n > m.Len() {
		return nil
	}

	p := unsafe.Pointer(&m.remaining[0])
	m.remaining = m.remaining[n:]

	return p
}

// ConsumeBytes is equivalent to Consume, except it returns a slice of bytes.
// The result will be nil if Consume would fail.
func (m *InMessage) ConsumeBytes(n uintptr) []byte {
	if n > m.Len() {
		return nil
	}

	b := m.remaining[:n]
	m.remaining = m.remaining[n:]

	return b
}
