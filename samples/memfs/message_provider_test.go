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

package memfs_test

import (
	"os"
	"sync"
	"testing"

	. "github.com/jacobsa/ogletest"
	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/internal/buffer"
	"github.com/llfuse/fuse/samples"
	"github.com/llfuse/fuse/samples/memfs"
	"golang.org/x/sys/unix"
)

func TestMessageProvider(t *testing.T) { RunTests(t) }

type MessageProviderTest struct {
	samples.SampleTest
	messageProviderTestImpl MessageProviderTestImpl
}

func init() { RegisterTestSuite(&MessageProviderTest{}) }

func (t *MessageProviderTest) SetUp(ti *TestInfo) {
	t.MountConfig.MessageProvider = &t.messageProviderTestImpl

	t.FileSystem = memfs.NewMemFS(uint32(os.Getuid()), uint32(os.Getgid()), &t.Clock)
	t.SampleTest.SetUp()
}

// The test suite is torn down during the test to ensure
// that all FUSE operations are complete before checking
// the invocations on the custom message provider.
func (t *MessageProviderTest) TearDown() {}

// A simple message provider class that wraps the default message provider
// and tracks how often each message is called.
type MessageProviderTestImpl struct {
	mu                     sync.Mutex
	defaultMessageProvider fuse.DefaultMessageProvider
	getInMessageCount      int
	getOutMessageCount     int
	putInMessageCount      int
	putOutMessageCount     int
}

func (m *MessageProviderTestImpl) GetInMessage() *buffer.InMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getInMessageCount += 1
	return m.defaultMessageProvider.GetInMessage()
}

func (m *MessageProviderTestImpl) GetOutMessage() *buffer.OutMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.getOutMessageCount += 1
	return m.defaultMessageProvider.GetOutMessage()
}

func (m *MessageProviderTestImpl) PutInMessage(x *buffer.InMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putInMessageCount += 1
	m.defaultMessageProvider.PutInMessage(x)
}

func (m *MessageProviderTestImpl) PutOutMessage(x *buffer.OutMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putOutMessageCount += 1
	m.defaultMessageProvider.PutOutMessage(x)
}

func (t *MessageProviderTest) TestCustomMessageProviderCallbacksInvoked() {
	const contents = "Hello world"

	// Write a file.
	entry, open, err := t.Kernel.Create(fuseops.RootInodeID, "foo", unix.S_IFREG|0400, unix.O_RDWR)
	AssertEq(nil, err)

	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 0, []byte(contents))
	AssertEq(nil, err)

	// Read it back.
	data, err := t.Kernel.Read(entry.Nodeid, open.Fh, 0, 100)
	AssertEq(nil, err)
	ExpectEq(contents, string(data))

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))

	// Also a request nobody handles, and one the kernel expects no reply to.
	AssertEq(nil, t.Kernel.Forget(entry.Nodeid, 1))
	_, err = t.Kernel.Send(1000, fuseops.RootInodeID)
	AssertEq(nil, err)

	// Hang up. This ensures that all FUSE operations are complete.
	t.SampleTest.TearDown()

	// Check that our custom message provider was invoked as expected.
	m := &t.messageProviderTestImpl
	m.mu.Lock()
	defer m.mu.Unlock()

	AssertGt(m.getInMessageCount, 0)
	AssertGt(m.getOutMessageCount, 0)
	AssertGt(m.putInMessageCount, 0)
	AssertGt(m.putOutMessageCount, 0)
	AssertEq(m.getInMessageCount, m.putInMessageCount)
	AssertEq(m.getOutMessageCount, m.putOutMessageCount)
}
