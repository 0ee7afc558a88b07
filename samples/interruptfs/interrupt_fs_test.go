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

package interruptfs_test

import (
	"errors"
	"testing"

	. "github.com/jacobsa/ogletest"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
	"github.com/llfuse/fuse/fusetesting"
	"github.com/llfuse/fuse/internal/fusekernel"
	"github.com/llfuse/fuse/samples"
	"github.com/llfuse/fuse/samples/interruptfs"
	"golang.org/x/sys/unix"
)

func TestInterruptFS(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type InterruptFSTest struct {
	samples.SampleTest
	fs *interruptfs.InterruptFS
}

func init() { RegisterTestSuite(&InterruptFSTest{}) }

var _ SetUpInterface = &InterruptFSTest{}
var _ TearDownInterface = &InterruptFSTest{}

func (t *InterruptFSTest) SetUp(ti *TestInfo) {
	// Create the file system.
	t.fs = interruptfs.New()
	t.Server = fuseutil.NewFileSystemServer(t.fs)

	// Serve it.
	t.SampleTest.SetUp()
}

func (t *InterruptFSTest) openFoo() (uint64, uint64) {
	entry, err := t.Kernel.Lookup(fuseops.RootInodeID, "foo")
	AssertEq(nil, err)

	open, err := t.Kernel.Open(entry.Nodeid, unix.O_RDONLY)
	AssertEq(nil, err)

	return entry.Nodeid, open.Fh
}

////////////////////////////////////////////////////////////////////////
// Test functions
////////////////////////////////////////////////////////////////////////

func (t *InterruptFSTest) StatFoo() {
	entry, err := t.Kernel.Lookup(fuseops.RootInodeID, "foo")
	AssertEq(nil, err)

	ExpectThat(entry, fusetesting.ModeIs(0777))
	ExpectThat(entry, fusetesting.SizeIs(1234))
}

func (t *InterruptFSTest) InterruptedDuringRead() {
	ino, fh := t.openFoo()

	// Start a read, and wait for it to make it to the file system.
	p, err := t.Kernel.ReadStart(ino, fh, 0, 1024)
	AssertEq(nil, err)

	t.fs.WaitForFirstRead()

	// Interrupt it. The read should return with EINTR.
	AssertEq(nil, t.Kernel.Interrupt(p.Unique))

	reply, err := p.Wait()
	AssertEq(nil, err)
	ExpectTrue(errors.Is(reply.Err(), unix.EINTR), "%v", reply.Err())
	ExpectEq(1, t.fs.Interrupted())

	AssertEq(nil, t.Kernel.Release(ino, fh))
}

func (t *InterruptFSTest) InterruptForUnknownRequest() {
	// Interrupts for requests that already finished are dropped.
	AssertEq(nil, t.Kernel.Interrupt(12345))

	_, err := t.Kernel.Lookup(fuseops.RootInodeID, "foo")
	ExpectEq(nil, err)
}

func (t *InterruptFSTest) ConcurrentReads_OnlyOneInterrupted() {
	ino, fh := t.openFoo()

	p1, err := t.Kernel.ReadStart(ino, fh, 0, 1024)
	AssertEq(nil, err)

	p2, err := t.Kernel.ReadStart(ino, fh, 1024, 1024)
	AssertEq(nil, err)

	t.fs.WaitForInFlight(2)

	AssertEq(nil, t.Kernel.Interrupt(p2.Unique))
	reply, err := p2.Wait()
	AssertEq(nil, err)
	ExpectTrue(errors.Is(reply.Err(), unix.EINTR), "%v", reply.Err())
	ExpectEq(1, t.fs.Interrupted())

	AssertEq(nil, t.Kernel.Interrupt(p1.Unique))
	reply, err = p1.Wait()
	AssertEq(nil, err)
	ExpectTrue(errors.Is(reply.Err(), unix.EINTR), "%v", reply.Err())
	ExpectEq(2, t.fs.Interrupted())

	AssertEq(nil, t.Kernel.Release(ino, fh))
}

func (t *InterruptFSTest) InterruptedDuringFlush() {
	t.fs.EnableFlushBlocking()
	ino, fh := t.openFoo()

	p, err := t.Kernel.Start(fusekernel.OpFlush, ino, fusekernel.FlushIn{Fh: fh})
	AssertEq(nil, err)

	t.fs.WaitForInFlight(1)
	AssertEq(nil, t.Kernel.Interrupt(p.Unique))

	reply, err := p.Wait()
	AssertEq(nil, err)
	ExpectTrue(errors.Is(reply.Err(), unix.EINTR), "%v", reply.Err())

	AssertEq(nil, t.Kernel.Release(ino, fh))
}
