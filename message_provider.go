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

package fuse

import (
	"sync"
	"unsafe"

	"github.com/llfuse/fuse/internal/buffer"
	"github.com/llfuse/fuse/internal/freelist"
)

// MessageProvider supplies the buffers a Connection reads requests into and
// builds replies in. Messages are returned once the op they carry has been
// replied to.
type MessageProvider interface {
	GetInMessage() *buffer.InMessage
	GetOutMessage() *buffer.OutMessage
	PutInMessage(*buffer.InMessage)
	PutOutMessage(*buffer.OutMessage)
}

// DefaultMessageProvider recycles messages through free lists, so that a
// busy connection doesn't allocate a megabyte or two per op.
type DefaultMessageProvider struct {
	mu sync.Mutex

	inMessages  freelist.Freelist // GUARDED_BY(mu)
	outMessages freelist.Freelist // GUARDED_BY(mu)
}

var _ MessageProvider = &DefaultMessageProvider{}

func (m *DefaultMessageProvider) GetInMessage() *buffer.InMessage {
	m.mu.Lock()
	x := (*buffer.InMessage)(m.inMessages.Get())
	m.mu.Unlock()

	if x == nil {
		x = buffer.NewInMessage()
	}

	return x
}

func (m *DefaultMessageProvider) GetOutMessage() *buffer.OutMessage {
	m.mu.Lock()
	x := (*buffer.OutMessage)(m.outMessages.Get())
	m.mu.Unlock()

	if x == nil {
		x = new(buffer.OutMessage)
	}
	x.Reset()

	return x
}

func (m *DefaultMessageProvider) PutInMessage(x *buffer.InMessage) {
	m.mu.Lock()
	m.inMessages.Put(unsafe.Pointer(x))
	m.mu.Unlock()
}

func (m *DefaultMessageProvider) PutOutMessage(x *buffer.OutMessage) {
	m.mu.Lock()
	m.outMessages.Put(unsafe.Pointer(x))
	m.mu.Unlock()
}

// Len reports the number of idle messages of each kind.
func (m *DefaultMessageProvider) Len() (in int, out int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.inMessages.Len(), m.outMessages.Len()
}
