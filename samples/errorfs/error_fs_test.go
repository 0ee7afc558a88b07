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

package errorfs_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	. "github.com/jacobsa/ogletest"
	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/samples"
	"github.com/llfuse/fuse/samples/errorfs"
	"golang.org/x/sys/unix"
)

func TestErrorFS(t *testing.T) { RunTests(t) }

const root = fuseops.RootInodeID

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type ErrorFSTest struct {
	samples.SampleTest
	fs errorfs.FS
}

func init() { RegisterTestSuite(&ErrorFSTest{}) }

var _ SetUpInterface = &ErrorFSTest{}
var _ TearDownInterface = &ErrorFSTest{}

func (t *ErrorFSTest) SetUp(ti *TestInfo) {
	var err error

	t.fs, err = errorfs.New()
	AssertEq(nil, err)

	t.FileSystem = t.fs
	t.SampleTest.SetUp()
}

func errnoIs(err error, errno unix.Errno) bool {
	return errors.Is(err, errno)
}

func (t *ErrorFSTest) lookUpFoo() uint64 {
	entry, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)
	return entry.Nodeid
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *ErrorFSTest) NoErrors() {
	ino := t.lookUpFoo()

	open, err := t.Kernel.Open(ino, unix.O_RDONLY)
	AssertEq(nil, err)

	data, err := t.Kernel.Read(ino, open.Fh, 0, 100)
	AssertEq(nil, err)
	ExpectEq(errorfs.FooContents, string(data))

	AssertEq(nil, t.Kernel.Release(ino, open.Fh))
}

func (t *ErrorFSTest) LookUpInode() {
	t.fs.SetError(reflect.TypeOf(&fuseops.LookUpInodeOp{}), unix.EOWNERDEAD)

	_, err := t.Kernel.Lookup(root, "foo")
	ExpectTrue(errnoIs(err, unix.EOWNERDEAD), "%v", err)
}

func (t *ErrorFSTest) GetInodeAttributes() {
	ino := t.lookUpFoo()
	t.fs.SetError(reflect.TypeOf(&fuseops.GetInodeAttributesOp{}), unix.EOWNERDEAD)

	_, err := t.Kernel.Getattr(ino)
	ExpectTrue(errnoIs(err, unix.EOWNERDEAD), "%v", err)
}

func (t *ErrorFSTest) OpenFile() {
	ino := t.lookUpFoo()
	t.fs.SetError(reflect.TypeOf(&fuseops.OpenFileOp{}), unix.EOWNERDEAD)

	_, err := t.Kernel.Open(ino, unix.O_RDONLY)
	ExpectTrue(errnoIs(err, unix.EOWNERDEAD), "%v", err)
}

func (t *ErrorFSTest) ReadFile() {
	ino := t.lookUpFoo()
	t.fs.SetError(reflect.TypeOf(&fuseops.ReadFileOp{}), unix.EOWNERDEAD)

	open, err := t.Kernel.Open(ino, unix.O_RDONLY)
	AssertEq(nil, err)

	_, err = t.Kernel.Read(ino, open.Fh, 0, 100)
	ExpectTrue(errnoIs(err, unix.EOWNERDEAD), "%v", err)

	AssertEq(nil, t.Kernel.Release(ino, open.Fh))
}

func (t *ErrorFSTest) OpenDir() {
	t.fs.SetError(reflect.TypeOf(&fuseops.OpenDirOp{}), unix.EOWNERDEAD)

	_, err := t.Kernel.Opendir(root)
	ExpectTrue(errnoIs(err, unix.EOWNERDEAD), "%v", err)
}

func (t *ErrorFSTest) ReadDir() {
	t.fs.SetError(reflect.TypeOf(&fuseops.ReadDirOp{}), unix.EOWNERDEAD)

	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	_, err = t.Kernel.Readdir(root, dir.Fh, 0, 4096)
	ExpectTrue(errnoIs(err, unix.EOWNERDEAD), "%v", err)

	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))
}

func (t *ErrorFSTest) StatFS() {
	t.fs.SetError(reflect.TypeOf(&fuseops.StatFSOp{}), unix.ENOSPC)

	_, err := t.Kernel.Statfs(root)
	ExpectTrue(errnoIs(err, unix.ENOSPC), "%v", err)
}

func (t *ErrorFSTest) GetXattr_NoAttribute() {
	_, _, err := t.Kernel.Getxattr(root, "user.foo", 0)
	ExpectTrue(errnoIs(err, unix.ENODATA), "%v", err)
}

func (t *ErrorFSTest) WrappedErrno() {
	t.fs.SetError(
		reflect.TypeOf(&fuseops.LookUpInodeOp{}),
		fmt.Errorf("looking up: %w", fuse.EACCES))

	_, err := t.Kernel.Lookup(root, "foo")
	ExpectTrue(errnoIs(err, unix.EACCES), "%v", err)
}

func (t *ErrorFSTest) NonErrnoBecomesEIO() {
	t.fs.SetError(reflect.TypeOf(&fuseops.LookUpInodeOp{}), errors.New("taco"))

	_, err := t.Kernel.Lookup(root, "foo")
	ExpectTrue(errnoIs(err, unix.EIO), "%v", err)
}

func (t *ErrorFSTest) ClearedError() {
	typ := reflect.TypeOf(&fuseops.LookUpInodeOp{})

	t.fs.SetError(typ, unix.EOWNERDEAD)
	_, err := t.Kernel.Lookup(root, "foo")
	ExpectTrue(errnoIs(err, unix.EOWNERDEAD), "%v", err)

	t.fs.SetError(typ, nil)
	_, err = t.Kernel.Lookup(root, "foo")
	ExpectEq(nil, err)
}

func (t *ErrorFSTest) FlushReported_ReleaseSwallowed() {
	ino := t.lookUpFoo()
	t.fs.SetError(reflect.TypeOf(&fuseops.FlushFileOp{}), unix.EOWNERDEAD)
	t.fs.SetError(reflect.TypeOf(&fuseops.ReleaseFileHandleOp{}), unix.EOWNERDEAD)

	open, err := t.Kernel.Open(ino, unix.O_RDONLY)
	AssertEq(nil, err)

	err = t.Kernel.Flush(ino, open.Fh)
	ExpectTrue(errnoIs(err, unix.EOWNERDEAD), "%v", err)

	ExpectEq(nil, t.Kernel.Release(ino, open.Fh))
}

func (t *ErrorFSTest) UnimplementedOp() {
	_, err := t.Kernel.Mkdir(root, "dir", 0700)
	ExpectTrue(errnoIs(err, unix.ENOSYS), "%v", err)
}
