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
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"github.com/kylelemons/godebug/pretty"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fusetesting"
	"github.com/llfuse/fuse/fuseutil"
	"github.com/llfuse/fuse/internal/fusekernel"
	"github.com/llfuse/fuse/samples"
	"github.com/llfuse/fuse/samples/memfs"
	"golang.org/x/sys/unix"
)

func TestMemFS(t *testing.T) { RunTests(t) }

const root = fuseops.RootInodeID

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type MemFSTest struct {
	samples.SampleTest
	fs *memfs.MemFS
}

func init() { RegisterTestSuite(&MemFSTest{}) }

func (t *MemFSTest) SetUp(ti *TestInfo) {
	t.Clock.SetTime(time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local))

	t.fs = memfs.NewMemFS(uint32(os.Getuid()), uint32(os.Getgid()), &t.Clock)

	// Forget gets no reply. Serving ops in order makes its effect visible to
	// the next request.
	t.Server = fuseutil.NewSingleThreadedFileSystemServer(t.fs)
	t.SampleTest.SetUp()
}

func (t *MemFSTest) TearDown() {
	t.SampleTest.TearDown()
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func errnoIs(err error, errno unix.Errno) bool {
	return errors.Is(err, errno)
}

// Create a file with the given contents, returning its entry. The handle is
// released.
func (t *MemFSTest) createWithContents(
	parent uint64,
	name string,
	contents string) fusekernel.EntryOut {
	entry, open, err := t.Kernel.Create(parent, name, unix.S_IFREG|0644, unix.O_RDWR)
	AssertEq(nil, err)

	if contents != "" {
		n, err := t.Kernel.Write(entry.Nodeid, open.Fh, 0, []byte(contents))
		AssertEq(nil, err)
		AssertEq(len(contents), n)
	}

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
	return entry
}

// Read the whole file through a fresh handle.
func (t *MemFSTest) readAll(ino uint64) string {
	open, err := t.Kernel.Open(ino, unix.O_RDONLY)
	AssertEq(nil, err)

	data, err := t.Kernel.Read(ino, open.Fh, 0, 1<<16)
	AssertEq(nil, err)

	AssertEq(nil, t.Kernel.Release(ino, open.Fh))
	return string(data)
}

// List the directory through a fresh handle, in the order the file system
// returns entries.
func (t *MemFSTest) readDirNames(ino uint64) []string {
	dir, err := t.Kernel.Opendir(ino)
	AssertEq(nil, err)

	entries, err := t.Kernel.ReadDirAll(ino, dir.Fh, 4096)
	AssertEq(nil, err)

	AssertEq(nil, t.Kernel.Releasedir(ino, dir.Fh))

	var names []string
	for _, e := range entries {
		names = append(names, e.Name)
	}

	return names
}

////////////////////////////////////////////////////////////////////////
// Directories
////////////////////////////////////////////////////////////////////////

func (t *MemFSTest) ContentsOfEmptyFileSystem() {
	ExpectThat(t.readDirNames(root), ElementsAre(".", ".."))
}

func (t *MemFSTest) Mkdir_OneLevel() {
	createTime := t.Clock.Now()
	entry, err := t.Kernel.Mkdir(root, "dir", 0754)
	AssertEq(nil, err)

	ExpectNe(0, entry.Nodeid)
	ExpectNe(root, entry.Nodeid)
	ExpectEq(entry.Nodeid, entry.Attr.Ino)
	ExpectThat(entry, fusetesting.ModeIs(0754|os.ModeDir))
	ExpectThat(entry, fusetesting.MtimeIs(createTime))
	ExpectEq(2, entry.Attr.Nlink)
	ExpectEq(t.Kernel.Uid, entry.Attr.Uid)
	ExpectEq(t.Kernel.Gid, entry.Attr.Gid)

	// The root gains a link from the child's "..".
	attr, err := t.Kernel.Getattr(root)
	AssertEq(nil, err)
	ExpectEq(3, attr.Attr.Nlink)
	ExpectThat(attr, fusetesting.MtimeIs(createTime))

	// Read the directory.
	ExpectThat(t.readDirNames(entry.Nodeid), ElementsAre(".", ".."))
	ExpectThat(t.readDirNames(root), ElementsAre(".", "..", "dir"))
}

func (t *MemFSTest) Mkdir_TwoLevels() {
	parent, err := t.Kernel.Mkdir(root, "parent", 0700)
	AssertEq(nil, err)

	child, err := t.Kernel.Mkdir(parent.Nodeid, "dir", 0754)
	AssertEq(nil, err)

	looked, err := t.Kernel.Lookup(parent.Nodeid, "dir")
	AssertEq(nil, err)
	ExpectEq(child.Nodeid, looked.Nodeid)

	ExpectThat(t.readDirNames(parent.Nodeid), ElementsAre(".", "..", "dir"))

	// ".." points at the parent.
	dir, err := t.Kernel.Opendir(child.Nodeid)
	AssertEq(nil, err)

	entries, err := t.Kernel.ReadDirAll(child.Nodeid, dir.Fh, 4096)
	AssertEq(nil, err)
	AssertEq(2, len(entries))
	ExpectEq(child.Nodeid, entries[0].Inode)
	ExpectEq(parent.Nodeid, entries[1].Inode)

	AssertEq(nil, t.Kernel.Releasedir(child.Nodeid, dir.Fh))
}

func (t *MemFSTest) Mkdir_AlreadyExists() {
	_, err := t.Kernel.Mkdir(root, "dir", 0754)
	AssertEq(nil, err)

	_, err = t.Kernel.Mkdir(root, "dir", 0754)
	ExpectTrue(errnoIs(err, unix.EEXIST), "%v", err)
}

func (t *MemFSTest) Mkdir_IntermediateIsFile() {
	file := t.createWithContents(root, "foo", "")

	_, err := t.Kernel.Mkdir(file.Nodeid, "dir", 0754)
	ExpectTrue(errnoIs(err, unix.ENOTDIR), "%v", err)
}

func (t *MemFSTest) Mkdir_IntermediateIsNonExistent() {
	_, err := t.Kernel.Mkdir(17, "dir", 0754)
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

func (t *MemFSTest) Rmdir_NonEmpty() {
	dir, err := t.Kernel.Mkdir(root, "dir", 0754)
	AssertEq(nil, err)
	t.createWithContents(dir.Nodeid, "foo", "")

	err = t.Kernel.Rmdir(root, "dir")
	ExpectTrue(errnoIs(err, unix.ENOTEMPTY), "%v", err)
}

func (t *MemFSTest) Rmdir_Empty() {
	_, err := t.Kernel.Mkdir(root, "dir", 0754)
	AssertEq(nil, err)

	AssertEq(nil, t.Kernel.Rmdir(root, "dir"))

	_, err = t.Kernel.Lookup(root, "dir")
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)

	attr, err := t.Kernel.Getattr(root)
	AssertEq(nil, err)
	ExpectEq(2, attr.Attr.Nlink)

	ExpectThat(t.readDirNames(root), ElementsAre(".", ".."))
}

func (t *MemFSTest) Rmdir_NonExistent() {
	err := t.Kernel.Rmdir(root, "blah")
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

func (t *MemFSTest) Rmdir_File() {
	t.createWithContents(root, "foo", "")

	err := t.Kernel.Rmdir(root, "foo")
	ExpectTrue(errnoIs(err, unix.ENOTDIR), "%v", err)
}

func (t *MemFSTest) Unlink_Directory() {
	_, err := t.Kernel.Mkdir(root, "dir", 0754)
	AssertEq(nil, err)

	err = t.Kernel.Unlink(root, "dir")
	ExpectTrue(errnoIs(err, unix.EISDIR), "%v", err)
}

func (t *MemFSTest) CaseSensitive() {
	t.createWithContents(root, "file", "")
	_, err := t.Kernel.Mkdir(root, "dir", 0754)
	AssertEq(nil, err)

	for _, name := range []string{"File", "FILE", "Dir", "DIR"} {
		_, err := t.Kernel.Lookup(root, name)
		ExpectTrue(errnoIs(err, unix.ENOENT), "%s: %v", name, err)
	}
}

func (t *MemFSTest) ReadDir_Pagination() {
	expected := []string{".", ".."}
	for i := 0; i < 20; i++ {
		name := strings.Repeat("x", i+1)
		t.createWithContents(root, name, "")
		expected = append(expected, name)
	}

	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	// ReadDirAll checks each reply against the capacity.
	for _, capacity := range []uint32{48, 64, 100, 256, 4096} {
		entries, err := t.Kernel.ReadDirAll(root, dir.Fh, capacity)
		AssertEq(nil, err, "capacity %d", capacity)

		var names []string
		for _, e := range entries {
			names = append(names, e.Name)
		}

		ExpectEq("", pretty.Compare(expected, names), "capacity %d", capacity)
	}

	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))
}

func (t *MemFSTest) ReadDir_WhileModifying() {
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		t.createWithContents(root, name, "")
	}

	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	// Room for two entries per page.
	const capacity = 64

	b, err := t.Kernel.Readdir(root, dir.Fh, 0, capacity)
	AssertEq(nil, err)
	page, err := fusetesting.ParseDirents(b)
	AssertEq(nil, err)
	AssertThat(fusetesting.Names(page), ElementsAre(".", ".."))

	all := page
	offset := uint64(page[len(page)-1].Offset)

	// Modify the directory behind the reader.
	AssertEq(nil, t.Kernel.Unlink(root, "c"))
	t.createWithContents(root, "f", "")

	for {
		b, err := t.Kernel.Readdir(root, dir.Fh, offset, capacity)
		AssertEq(nil, err)

		page, err := fusetesting.ParseDirents(b)
		AssertEq(nil, err)
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		offset = uint64(page[len(page)-1].Offset)
	}

	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))

	// No duplicates, nothing that was there throughout is missing, and the
	// removed entry is gone.
	seen := make(map[string]int)
	for _, e := range all {
		seen[e.Name]++
	}

	for name, n := range seen {
		ExpectEq(1, n, "%s", name)
	}

	for _, name := range []string{".", "..", "a", "b", "d", "e"} {
		ExpectEq(1, seen[name], "%s", name)
	}

	ExpectEq(0, seen["c"])
}

func (t *MemFSTest) ReadDir_BadHandle() {
	_, err := t.Kernel.Readdir(root, 17, 0, 4096)
	ExpectTrue(errnoIs(err, unix.EBADF), "%v", err)
}

func (t *MemFSTest) ReadDir_OffsetPastEnd() {
	t.createWithContents(root, "foo", "")

	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	for _, offset := range []uint64{3, 1 << 40, 1<<63 + 5, ^uint64(0)} {
		b, err := t.Kernel.Readdir(root, dir.Fh, offset, 4096)
		AssertEq(nil, err, "%d", offset)
		ExpectEq(0, len(b), "%d", offset)
	}

	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))
}

func (t *MemFSTest) ReadDirPlus() {
	file := t.createWithContents(root, "foo", "taco")

	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	b, err := t.Kernel.ReaddirPlus(root, dir.Fh, 0, 4096)
	AssertEq(nil, err)

	entries, err := fusetesting.ParseDirentsPlus(b)
	AssertEq(nil, err)
	AssertEq(3, len(entries))

	// The dot entries carry no lookup.
	ExpectEq(".", entries[0].Dirent.Name)
	ExpectEq(0, entries[0].Entry.Nodeid)
	ExpectEq("..", entries[1].Dirent.Name)
	ExpectEq(0, entries[1].Entry.Nodeid)

	ExpectEq("foo", entries[2].Dirent.Name)
	ExpectEq(file.Nodeid, entries[2].Entry.Nodeid)
	ExpectThat(entries[2].Entry, fusetesting.SizeIs(4))
	ExpectEq(1, entries[2].Entry.EntryValid)

	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))

	// The readdirplus entry counts as a lookup: after forgetting only the one
	// from create, unlinking still leaves the inode alive.
	AssertEq(nil, t.Kernel.Forget(file.Nodeid, 1))
	AssertEq(nil, t.Kernel.Unlink(root, "foo"))

	_, err = t.Kernel.Getattr(file.Nodeid)
	ExpectEq(nil, err)

	AssertEq(nil, t.Kernel.Forget(file.Nodeid, 1))
	_, err = t.Kernel.Getattr(file.Nodeid)
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

////////////////////////////////////////////////////////////////////////
// Files
////////////////////////////////////////////////////////////////////////

func (t *MemFSTest) CreateThenLookUp() {
	createTime := t.Clock.Now()
	entry, open, err := t.Kernel.Create(root, "foo", unix.S_IFREG|0640, unix.O_WRONLY)
	AssertEq(nil, err)

	ExpectNe(0, open.Fh)
	ExpectThat(entry, fusetesting.ModeIs(0640))
	ExpectThat(entry, fusetesting.SizeIs(0))
	ExpectThat(entry, fusetesting.MtimeIs(createTime))
	ExpectEq(1, entry.Attr.Nlink)
	ExpectEq(1, entry.Generation)

	looked, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)
	ExpectEq("", pretty.Compare(entry, looked))

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
	ExpectEq(0, t.fs.OpenHandles())
}

func (t *MemFSTest) Create_AlreadyExists() {
	t.createWithContents(root, "foo", "")

	_, _, err := t.Kernel.Create(root, "foo", unix.S_IFREG|0640, unix.O_WRONLY)
	ExpectTrue(errnoIs(err, unix.EEXIST), "%v", err)
	ExpectEq(0, t.fs.OpenHandles())
}

func (t *MemFSTest) LookUp_Missing() {
	_, err := t.Kernel.Lookup(root, "foo")
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

func (t *MemFSTest) ModifyExistingFile() {
	entry := t.createWithContents(root, "foo", "Hello, world!")

	t.Clock.AdvanceTime(time.Second)
	modifyTime := t.Clock.Now()

	open, err := t.Kernel.Open(entry.Nodeid, unix.O_WRONLY)
	AssertEq(nil, err)

	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 4, []byte("o! "))
	AssertEq(nil, err)
	AssertEq(nil, t.Kernel.Flush(entry.Nodeid, open.Fh))
	AssertEq(nil, t.Kernel.Fsync(entry.Nodeid, open.Fh, true))
	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))

	attr, err := t.Kernel.Getattr(entry.Nodeid)
	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.SizeIs(13))
	ExpectThat(attr, fusetesting.MtimeIs(modifyTime))

	ExpectEq("Hello! world!", t.readAll(entry.Nodeid))
}

func (t *MemFSTest) OpenWithTruncate() {
	entry := t.createWithContents(root, "foo", "taco")

	open, err := t.Kernel.Open(entry.Nodeid, unix.O_WRONLY|unix.O_TRUNC)
	AssertEq(nil, err)
	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))

	ExpectEq("", t.readAll(entry.Nodeid))
}

func (t *MemFSTest) OpenDirectoryAsFile() {
	_, err := t.Kernel.Open(root, unix.O_RDONLY)
	ExpectTrue(errnoIs(err, unix.EISDIR), "%v", err)
}

func (t *MemFSTest) WriteStartsPastEndOfFile() {
	entry, open, err := t.Kernel.Create(root, "foo", unix.S_IFREG|0600, unix.O_RDWR)
	AssertEq(nil, err)

	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 2, []byte("111"))
	AssertEq(nil, err)

	data, err := t.Kernel.Read(entry.Nodeid, open.Fh, 0, 100)
	AssertEq(nil, err)
	ExpectEq("\x00\x00111", string(data))

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
}

func (t *MemFSTest) ReadsPastEndOfFile() {
	entry := t.createWithContents(root, "foo", "taco")

	open, err := t.Kernel.Open(entry.Nodeid, unix.O_RDONLY)
	AssertEq(nil, err)

	// Straddling EOF.
	data, err := t.Kernel.Read(entry.Nodeid, open.Fh, 2, 10)
	AssertEq(nil, err)
	ExpectEq("co", string(data))

	// At EOF.
	data, err = t.Kernel.Read(entry.Nodeid, open.Fh, 4, 10)
	AssertEq(nil, err)
	ExpectEq(0, len(data))

	// Beyond EOF.
	data, err = t.Kernel.Read(entry.Nodeid, open.Fh, 100, 10)
	AssertEq(nil, err)
	ExpectEq(0, len(data))

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
}

func (t *MemFSTest) Read_BadHandle() {
	entry := t.createWithContents(root, "foo", "taco")

	_, err := t.Kernel.Read(entry.Nodeid, 17, 0, 10)
	ExpectTrue(errnoIs(err, unix.EBADF), "%v", err)
}

func (t *MemFSTest) UnlinkFile_Exists() {
	entry := t.createWithContents(root, "foo", "taco")

	AssertEq(nil, t.Kernel.Unlink(root, "foo"))

	_, err := t.Kernel.Lookup(root, "foo")
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
	ExpectThat(t.readDirNames(root), ElementsAre(".", ".."))

	// The kernel still holds a lookup.
	attr, err := t.Kernel.Getattr(entry.Nodeid)
	AssertEq(nil, err)
	ExpectEq(0, attr.Attr.Nlink)
}

func (t *MemFSTest) UnlinkFile_NonExistent() {
	err := t.Kernel.Unlink(root, "foo")
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

func (t *MemFSTest) UnlinkFile_StillOpen() {
	entry, open, err := t.Kernel.Create(root, "foo", unix.S_IFREG|0600, unix.O_RDWR)
	AssertEq(nil, err)

	AssertEq(nil, t.Kernel.Unlink(root, "foo"))

	// Writing and reading through the handle still works.
	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 0, []byte("taco"))
	AssertEq(nil, err)

	data, err := t.Kernel.Read(entry.Nodeid, open.Fh, 0, 10)
	AssertEq(nil, err)
	ExpectEq("taco", string(data))

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
}

func (t *MemFSTest) ForgetReusesInodeID() {
	first := t.createWithContents(root, "foo", "")
	AssertEq(nil, t.Kernel.Unlink(root, "foo"))
	AssertEq(nil, t.Kernel.BatchForget(fusekernel.BatchForgetEntryIn{
		Inode:   first.Nodeid,
		Nlookup: 1,
	}))

	// The ID comes back with a new generation.
	second := t.createWithContents(root, "bar", "")
	ExpectEq(first.Nodeid, second.Nodeid)
	ExpectEq(first.Generation+1, second.Generation)
}

func (t *MemFSTest) Truncate_Smaller() {
	entry := t.createWithContents(root, "foo", "taco")

	attr, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrSize),
		Size:  2,
	})

	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.SizeIs(2))
	ExpectEq("ta", t.readAll(entry.Nodeid))
}

func (t *MemFSTest) Truncate_Larger() {
	entry := t.createWithContents(root, "foo", "taco")

	attr, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrSize),
		Size:  6,
	})

	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.SizeIs(6))
	ExpectEq("taco\x00\x00", t.readAll(entry.Nodeid))
}

func (t *MemFSTest) Truncate_Directory() {
	_, err := t.Kernel.Setattr(root, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrSize),
		Size:  6,
	})

	ExpectTrue(errnoIs(err, unix.EISDIR), "%v", err)
}

func (t *MemFSTest) Truncate_TooLarge() {
	entry := t.createWithContents(root, "foo", "taco")

	_, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrSize | fusekernel.SetattrMode),
		Size:  1 << 50,
		Mode:  0600,
	})

	ExpectTrue(errnoIs(err, unix.EFBIG), "%v", err)

	// Nothing changed.
	attr, err := t.Kernel.Getattr(entry.Nodeid)
	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.SizeIs(4))
	ExpectThat(attr, fusetesting.ModeIs(0644))
	ExpectEq("taco", t.readAll(entry.Nodeid))
}

func (t *MemFSTest) Truncate_PastCapacity() {
	entry := t.createWithContents(root, "foo", "")

	st, err := t.Kernel.Statfs(root)
	AssertEq(nil, err)
	capacity := st.St.Blocks * uint64(st.St.Bsize)

	_, err = t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrSize),
		Size:  capacity + 1,
	})

	ExpectTrue(errnoIs(err, unix.EFBIG), "%v", err)
}

func (t *MemFSTest) Write_TooLarge() {
	entry, open, err := t.Kernel.Create(root, "foo", unix.S_IFREG|0600, unix.O_RDWR)
	AssertEq(nil, err)

	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 0, []byte("taco"))
	AssertEq(nil, err)

	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 1<<50, []byte("burrito"))
	ExpectTrue(errnoIs(err, unix.EFBIG), "%v", err)

	// An offset that doesn't fit in an int64.
	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 1<<63, []byte("burrito"))
	ExpectTrue(errnoIs(err, unix.EINVAL), "%v", err)

	attr, err := t.Kernel.Getattr(entry.Nodeid)
	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.SizeIs(4))

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
}

func (t *MemFSTest) Chmod() {
	entry := t.createWithContents(root, "foo", "")

	attr, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrMode),
		Mode:  0754,
	})

	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.ModeIs(0754))
}

func (t *MemFSTest) Chown() {
	entry := t.createWithContents(root, "foo", "")

	attr, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrUid | fusekernel.SetattrGid),
		Uid:   17,
		Gid:   19,
	})

	AssertEq(nil, err)
	ExpectEq(17, attr.Attr.Uid)
	ExpectEq(19, attr.Attr.Gid)
}

func (t *MemFSTest) Chtimes() {
	entry := t.createWithContents(root, "foo", "")
	expectedMtime := time.Date(2014, 1, 2, 3, 4, 5, 6, time.Local)

	attr, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid:     uint32(fusekernel.SetattrMtime),
		Mtime:     uint64(expectedMtime.Unix()),
		MtimeNsec: uint32(expectedMtime.Nanosecond()),
	})

	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.MtimeIs(expectedMtime))
}

func (t *MemFSTest) Chtimes_Now() {
	entry := t.createWithContents(root, "foo", "")

	t.Clock.AdvanceTime(time.Hour)
	attr, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrMtime | fusekernel.SetattrMtimeNow),
	})

	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.MtimeIs(t.Clock.Now()))
}

func (t *MemFSTest) Fallocate() {
	entry, open, err := t.Kernel.Create(root, "foo", unix.S_IFREG|0600, unix.O_RDWR)
	AssertEq(nil, err)

	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 0, []byte("tacoburrito"))
	AssertEq(nil, err)

	// Extend.
	AssertEq(nil, t.Kernel.Fallocate(entry.Nodeid, open.Fh, 8, 8, 0))

	attr, err := t.Kernel.Getattr(entry.Nodeid)
	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.SizeIs(16))

	// Punch a hole.
	AssertEq(nil, t.Kernel.Fallocate(
		entry.Nodeid,
		open.Fh,
		4,
		4,
		unix.FALLOC_FL_KEEP_SIZE|unix.FALLOC_FL_PUNCH_HOLE))

	data, err := t.Kernel.Read(entry.Nodeid, open.Fh, 0, 100)
	AssertEq(nil, err)
	ExpectEq("taco\x00\x00\x00\x00ito\x00\x00\x00\x00\x00", string(data))

	// Unsupported modes.
	err = t.Kernel.Fallocate(entry.Nodeid, open.Fh, 0, 4, unix.FALLOC_FL_COLLAPSE_RANGE)
	ExpectTrue(errnoIs(err, unix.ENOTSUP), "%v", err)

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
}

func (t *MemFSTest) Fallocate_TooLarge() {
	entry, open, err := t.Kernel.Create(root, "foo", unix.S_IFREG|0600, unix.O_RDWR)
	AssertEq(nil, err)

	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 0, []byte("taco"))
	AssertEq(nil, err)

	err = t.Kernel.Fallocate(entry.Nodeid, open.Fh, 0, 1<<50, 0)
	ExpectTrue(errnoIs(err, unix.EFBIG), "%v", err)

	// Offset plus length overflows.
	err = t.Kernel.Fallocate(entry.Nodeid, open.Fh, ^uint64(0)-1, 4, 0)
	ExpectTrue(errnoIs(err, unix.EFBIG), "%v", err)

	// Punching a hole far past the end is fine.
	AssertEq(nil, t.Kernel.Fallocate(
		entry.Nodeid,
		open.Fh,
		2,
		^uint64(0)-1,
		unix.FALLOC_FL_KEEP_SIZE|unix.FALLOC_FL_PUNCH_HOLE))

	data, err := t.Kernel.Read(entry.Nodeid, open.Fh, 0, 100)
	AssertEq(nil, err)
	ExpectEq("ta\x00\x00", string(data))

	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
}

func (t *MemFSTest) Mknod() {
	entry, err := t.Kernel.Mknod(root, "foo", unix.S_IFREG|0640, 0)
	AssertEq(nil, err)
	ExpectThat(entry, fusetesting.ModeIs(0640))

	_, err = t.Kernel.Mknod(root, "fifo", unix.S_IFIFO|0640, 0)
	ExpectTrue(errnoIs(err, unix.ENOTSUP), "%v", err)
}

func (t *MemFSTest) Access() {
	ExpectEq(nil, t.Kernel.Access(root, unix.R_OK))

	err := t.Kernel.Access(17, unix.R_OK)
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

func (t *MemFSTest) HandlesAreReleasedExactlyOnce() {
	file := t.createWithContents(root, "foo", "")

	var files []uint64
	var dirs []uint64
	for i := 0; i < 3; i++ {
		open, err := t.Kernel.Open(file.Nodeid, unix.O_RDONLY)
		AssertEq(nil, err)
		files = append(files, open.Fh)

		dir, err := t.Kernel.Opendir(root)
		AssertEq(nil, err)
		dirs = append(dirs, dir.Fh)
	}

	ExpectEq(6, t.fs.OpenHandles())

	for i := range files {
		AssertEq(nil, t.Kernel.Release(file.Nodeid, files[i]))
		AssertEq(nil, t.Kernel.Releasedir(root, dirs[i]))
	}

	ExpectEq(0, t.fs.OpenHandles())
}

func (t *MemFSTest) StatFS() {
	t.createWithContents(root, "foo", "taco")
	_, err := t.Kernel.Mkdir(root, "dir", 0700)
	AssertEq(nil, err)

	st, err := t.Kernel.Statfs(root)
	AssertEq(nil, err)

	ExpectEq(4096, st.St.Bsize)
	ExpectEq(3, st.St.Files)
	ExpectEq(255, st.St.Namelen)
	ExpectEq(st.St.Blocks-1, st.St.Bfree)
}

////////////////////////////////////////////////////////////////////////
// Links
////////////////////////////////////////////////////////////////////////

func (t *MemFSTest) Symlink() {
	entry, err := t.Kernel.Symlink(root, "foo", "/some/target")
	AssertEq(nil, err)

	ExpectThat(entry, fusetesting.ModeIs(0444|os.ModeSymlink))
	ExpectThat(entry, fusetesting.SizeIs(uint64(len("/some/target"))))

	target, err := t.Kernel.Readlink(entry.Nodeid)
	AssertEq(nil, err)
	ExpectEq("/some/target", target)

	_, err = t.Kernel.Readlink(root)
	ExpectTrue(errnoIs(err, unix.EINVAL), "%v", err)
}

func (t *MemFSTest) HardLink() {
	file := t.createWithContents(root, "foo", "taco")

	entry, err := t.Kernel.Link(file.Nodeid, root, "bar")
	AssertEq(nil, err)
	ExpectEq(file.Nodeid, entry.Nodeid)
	ExpectEq(2, entry.Attr.Nlink)

	AssertEq(nil, t.Kernel.Unlink(root, "foo"))

	looked, err := t.Kernel.Lookup(root, "bar")
	AssertEq(nil, err)
	ExpectEq(1, looked.Attr.Nlink)
	ExpectEq("taco", t.readAll(looked.Nodeid))
}

func (t *MemFSTest) HardLink_Directory() {
	dir, err := t.Kernel.Mkdir(root, "dir", 0700)
	AssertEq(nil, err)

	_, err = t.Kernel.Link(dir.Nodeid, root, "bar")
	ExpectTrue(errnoIs(err, unix.EPERM), "%v", err)
}

////////////////////////////////////////////////////////////////////////
// Rename
////////////////////////////////////////////////////////////////////////

func (t *MemFSTest) Rename_WithinDir() {
	file := t.createWithContents(root, "foo", "taco")

	AssertEq(nil, t.Kernel.Rename(root, "foo", root, "bar", 0))

	_, err := t.Kernel.Lookup(root, "foo")
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)

	looked, err := t.Kernel.Lookup(root, "bar")
	AssertEq(nil, err)
	ExpectEq(file.Nodeid, looked.Nodeid)
}

func (t *MemFSTest) Rename_ReplacesExisting() {
	t.createWithContents(root, "foo", "taco")
	t.createWithContents(root, "bar", "burrito")

	AssertEq(nil, t.Kernel.Rename(root, "foo", root, "bar", 0))

	looked, err := t.Kernel.Lookup(root, "bar")
	AssertEq(nil, err)
	ExpectEq("taco", t.readAll(looked.Nodeid))
	ExpectThat(t.readDirNames(root), ElementsAre(".", "..", "bar"))
}

func (t *MemFSTest) Rename_NoReplaceOntoExisting() {
	foo := t.createWithContents(root, "foo", "taco")
	bar := t.createWithContents(root, "bar", "burrito")

	err := t.Kernel.Rename(root, "foo", root, "bar", fusekernel.RenameNoReplace)
	ExpectTrue(errnoIs(err, unix.EEXIST), "%v", err)

	// Nothing changed.
	looked, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)
	ExpectEq(foo.Nodeid, looked.Nodeid)
	ExpectEq("taco", t.readAll(looked.Nodeid))

	looked, err = t.Kernel.Lookup(root, "bar")
	AssertEq(nil, err)
	ExpectEq(bar.Nodeid, looked.Nodeid)
	ExpectEq("burrito", t.readAll(looked.Nodeid))
}

func (t *MemFSTest) Rename_NoReplaceOntoMissing() {
	t.createWithContents(root, "foo", "taco")

	AssertEq(nil, t.Kernel.Rename(root, "foo", root, "bar", fusekernel.RenameNoReplace))
	ExpectThat(t.readDirNames(root), ElementsAre(".", "..", "bar"))
}

func (t *MemFSTest) Rename_Exchange() {
	t.createWithContents(root, "foo", "taco")
	t.createWithContents(root, "bar", "burrito")

	err := t.Kernel.Rename(root, "foo", root, "bar", fusekernel.RenameExchange)
	ExpectTrue(errnoIs(err, unix.ENOTSUP), "%v", err)
}

func (t *MemFSTest) Rename_DirectoryAcrossParents() {
	a, err := t.Kernel.Mkdir(root, "a", 0700)
	AssertEq(nil, err)
	b, err := t.Kernel.Mkdir(root, "b", 0700)
	AssertEq(nil, err)
	child, err := t.Kernel.Mkdir(a.Nodeid, "child", 0700)
	AssertEq(nil, err)

	AssertEq(nil, t.Kernel.Rename(a.Nodeid, "child", b.Nodeid, "child", 0))

	attr, err := t.Kernel.Getattr(a.Nodeid)
	AssertEq(nil, err)
	ExpectEq(2, attr.Attr.Nlink)

	attr, err = t.Kernel.Getattr(b.Nodeid)
	AssertEq(nil, err)
	ExpectEq(3, attr.Attr.Nlink)

	dir, err := t.Kernel.Opendir(child.Nodeid)
	AssertEq(nil, err)

	entries, err := t.Kernel.ReadDirAll(child.Nodeid, dir.Fh, 4096)
	AssertEq(nil, err)
	AssertEq(2, len(entries))
	ExpectEq(b.Nodeid, entries[1].Inode)

	AssertEq(nil, t.Kernel.Releasedir(child.Nodeid, dir.Fh))
}

func (t *MemFSTest) Rename_DirectoryIntoItself() {
	a, err := t.Kernel.Mkdir(root, "a", 0700)
	AssertEq(nil, err)
	child, err := t.Kernel.Mkdir(a.Nodeid, "child", 0700)
	AssertEq(nil, err)

	err = t.Kernel.Rename(root, "a", child.Nodeid, "a", 0)
	ExpectTrue(errnoIs(err, unix.EINVAL), "%v", err)
}

func (t *MemFSTest) Rename_OntoNonEmptyDirectory() {
	_, err := t.Kernel.Mkdir(root, "a", 0700)
	AssertEq(nil, err)
	b, err := t.Kernel.Mkdir(root, "b", 0700)
	AssertEq(nil, err)
	t.createWithContents(b.Nodeid, "foo", "")

	err = t.Kernel.Rename(root, "a", root, "b", 0)
	ExpectTrue(errnoIs(err, unix.ENOTEMPTY), "%v", err)
}

////////////////////////////////////////////////////////////////////////
// Extended attributes
////////////////////////////////////////////////////////////////////////

func (t *MemFSTest) Xattrs() {
	file := t.createWithContents(root, "foo", "")

	AssertEq(nil, t.Kernel.Setxattr(file.Nodeid, "user.a", []byte("taco"), 0))
	AssertEq(nil, t.Kernel.Setxattr(file.Nodeid, "user.b", []byte("burrito"), 0))

	// Size probe.
	_, n, err := t.Kernel.Getxattr(file.Nodeid, "user.a", 0)
	AssertEq(nil, err)
	ExpectEq(4, n)

	// Data.
	value, _, err := t.Kernel.Getxattr(file.Nodeid, "user.a", 4)
	AssertEq(nil, err)
	ExpectEq("taco", string(value))

	// Too small.
	_, _, err = t.Kernel.Getxattr(file.Nodeid, "user.b", 4)
	ExpectTrue(errnoIs(err, unix.ERANGE), "%v", err)

	// Missing.
	_, _, err = t.Kernel.Getxattr(file.Nodeid, "user.c", 0)
	ExpectTrue(errnoIs(err, unix.ENODATA), "%v", err)

	// Listing.
	_, n, err = t.Kernel.Listxattr(file.Nodeid, 0)
	AssertEq(nil, err)
	ExpectEq(len("user.a\x00user.b\x00"), n)

	value, _, err = t.Kernel.Listxattr(file.Nodeid, 64)
	AssertEq(nil, err)
	ExpectEq("user.a\x00user.b\x00", string(value))

	// Removal.
	AssertEq(nil, t.Kernel.Removexattr(file.Nodeid, "user.a"))
	err = t.Kernel.Removexattr(file.Nodeid, "user.a")
	ExpectTrue(errnoIs(err, unix.ENODATA), "%v", err)
}

func (t *MemFSTest) Xattrs_CreateAndReplace() {
	file := t.createWithContents(root, "foo", "")

	err := t.Kernel.Setxattr(file.Nodeid, "user.a", []byte("taco"), unix.XATTR_REPLACE)
	ExpectTrue(errnoIs(err, unix.ENODATA), "%v", err)

	AssertEq(nil, t.Kernel.Setxattr(file.Nodeid, "user.a", []byte("taco"), unix.XATTR_CREATE))

	err = t.Kernel.Setxattr(file.Nodeid, "user.a", []byte("burrito"), unix.XATTR_CREATE)
	ExpectTrue(errnoIs(err, unix.EEXIST), "%v", err)

	AssertEq(nil, t.Kernel.Setxattr(file.Nodeid, "user.a", []byte("burrito"), unix.XATTR_REPLACE))

	value, _, err := t.Kernel.Getxattr(file.Nodeid, "user.a", 64)
	AssertEq(nil, err)
	ExpectEq("burrito", string(value))
}
