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

package passthroughfs_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fusetesting"
	"github.com/llfuse/fuse/internal/fusekernel"
	"github.com/llfuse/fuse/samples"
	"github.com/llfuse/fuse/samples/passthroughfs"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func TestPassthroughFS(t *testing.T) { RunTests(t) }

const root = fuseops.RootInodeID

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

type PassthroughFSTest struct {
	samples.SampleTest

	// The host directory being mirrored.
	hostDir string
}

func init() { RegisterTestSuite(&PassthroughFSTest{}) }

func (t *PassthroughFSTest) SetUp(ti *TestInfo) {
	var err error
	t.hostDir, err = os.MkdirTemp("", "passthroughfs_test")
	AssertEq(nil, err)

	// Known contents.
	t.writeHostFile("foo", "taco")
	AssertEq(nil, os.Mkdir(filepath.Join(t.hostDir, "dir"), 0755))
	AssertEq(nil, os.Chmod(filepath.Join(t.hostDir, "dir"), 0755))
	t.writeHostFile("dir/bar", "burrito")

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	t.Server, err = passthroughfs.NewPassthroughServer(t.hostDir, &t.Clock, logger)
	AssertEq(nil, err)

	t.SampleTest.SetUp()
}

func (t *PassthroughFSTest) TearDown() {
	t.SampleTest.TearDown()
	os.RemoveAll(t.hostDir)
}

func (t *PassthroughFSTest) writeHostFile(name string, contents string) {
	p := filepath.Join(t.hostDir, name)
	AssertEq(nil, os.WriteFile(p, []byte(contents), 0644))
	AssertEq(nil, os.Chmod(p, 0644))
}

func (t *PassthroughFSTest) readHostFile(name string) string {
	b, err := os.ReadFile(filepath.Join(t.hostDir, name))
	AssertEq(nil, err)
	return string(b)
}

func errnoIs(err error, errno unix.Errno) bool {
	return errors.Is(err, errno)
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *PassthroughFSTest) NonExistentRoot() {
	_, err := passthroughfs.NewPassthroughServer(
		filepath.Join(t.hostDir, "missing"),
		&t.Clock,
		nil)

	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

func (t *PassthroughFSTest) LookUp_Existing() {
	entry, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)

	ExpectNe(0, entry.Nodeid)
	ExpectNe(root, entry.Nodeid)
	ExpectThat(entry, fusetesting.ModeIs(0644))
	ExpectThat(entry, fusetesting.SizeIs(4))

	// Looking up again gives the same inode.
	again, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)
	ExpectEq(entry.Nodeid, again.Nodeid)
}

func (t *PassthroughFSTest) LookUp_Missing() {
	_, err := t.Kernel.Lookup(root, "missing")
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

func (t *PassthroughFSTest) LookUp_UnknownParent() {
	_, err := t.Kernel.Lookup(1000, "foo")
	ExpectTrue(errnoIs(err, unix.ENOENT), "%v", err)
}

func (t *PassthroughFSTest) ReadFile() {
	entry, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)

	open, err := t.Kernel.Open(entry.Nodeid, unix.O_RDONLY)
	AssertEq(nil, err)

	data, err := t.Kernel.Read(entry.Nodeid, open.Fh, 0, 100)
	AssertEq(nil, err)
	ExpectEq("taco", string(data))

	data, err = t.Kernel.Read(entry.Nodeid, open.Fh, 4, 100)
	AssertEq(nil, err)
	ExpectEq(0, len(data))

	AssertEq(nil, t.Kernel.Flush(entry.Nodeid, open.Fh))
	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))
}

func (t *PassthroughFSTest) CreateAndWrite() {
	entry, open, err := t.Kernel.Create(root, "baz", unix.S_IFREG|0600, unix.O_RDWR)
	AssertEq(nil, err)
	ExpectThat(entry, fusetesting.SizeIs(0))

	_, err = t.Kernel.Write(entry.Nodeid, open.Fh, 0, []byte("enchilada"))
	AssertEq(nil, err)
	AssertEq(nil, t.Kernel.Fsync(entry.Nodeid, open.Fh, false))
	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))

	ExpectEq("enchilada", t.readHostFile("baz"))

	// Create then lookup agree.
	looked, err := t.Kernel.Lookup(root, "baz")
	AssertEq(nil, err)
	ExpectEq(entry.Nodeid, looked.Nodeid)
	ExpectThat(looked, fusetesting.SizeIs(9))
}

func (t *PassthroughFSTest) Create_AlreadyExists() {
	_, _, err := t.Kernel.Create(root, "foo", unix.S_IFREG|0600, unix.O_RDWR)
	ExpectTrue(errnoIs(err, unix.EEXIST), "%v", err)
}

func (t *PassthroughFSTest) ReadDir() {
	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	entries, err := t.Kernel.ReadDirAll(root, dir.Fh, 4096)
	AssertEq(nil, err)
	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))

	AssertEq(4, len(entries))
	ExpectEq(".", entries[0].Name)
	ExpectEq("..", entries[1].Name)
	ExpectThat(fusetesting.Names(entries), ElementsAre(".", "..", "dir", "foo"))
}

func (t *PassthroughFSTest) ReadDir_SmallBuffer() {
	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	entries, err := t.Kernel.ReadDirAll(root, dir.Fh, 40)
	AssertEq(nil, err)
	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))

	ExpectThat(fusetesting.Names(entries), ElementsAre(".", "..", "dir", "foo"))
}

func (t *PassthroughFSTest) ReadDir_InodeIDs() {
	foo, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)
	dirEntry, err := t.Kernel.Lookup(root, "dir")
	AssertEq(nil, err)
	bar, err := t.Kernel.Lookup(dirEntry.Nodeid, "bar")
	AssertEq(nil, err)

	inodes := func(parent uint64) map[string]fuseops.InodeID {
		dir, err := t.Kernel.Opendir(parent)
		AssertEq(nil, err)

		entries, err := t.Kernel.ReadDirAll(parent, dir.Fh, 4096)
		AssertEq(nil, err)
		AssertEq(nil, t.Kernel.Releasedir(parent, dir.Fh))

		m := make(map[string]fuseops.InodeID)
		for _, e := range entries {
			m[e.Name] = e.Inode
		}

		return m
	}

	// The root is its own parent.
	ids := inodes(root)
	ExpectEq(root, ids["."])
	ExpectEq(root, ids[".."])
	ExpectEq(foo.Nodeid, ids["foo"])
	ExpectEq(dirEntry.Nodeid, ids["dir"])

	ids = inodes(dirEntry.Nodeid)
	ExpectEq(dirEntry.Nodeid, ids["."])
	ExpectEq(root, ids[".."])
	ExpectEq(bar.Nodeid, ids["bar"])
}

func (t *PassthroughFSTest) ReadDir_ListedIDsMatchLaterLookUps() {
	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	entries, err := t.Kernel.ReadDirAll(root, dir.Fh, 4096)
	AssertEq(nil, err)
	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))

	for _, e := range entries {
		if e.Name == "." || e.Name == ".." {
			continue
		}

		entry, err := t.Kernel.Lookup(root, e.Name)
		AssertEq(nil, err)
		ExpectEq(e.Inode, entry.Nodeid, "%s", e.Name)

		attr, err := t.Kernel.Getattr(entry.Nodeid)
		AssertEq(nil, err)
		ExpectEq(e.Inode, attr.Attr.Ino, "%s", e.Name)
	}
}

func (t *PassthroughFSTest) ReadDirPlus() {
	dir, err := t.Kernel.Opendir(root)
	AssertEq(nil, err)

	b, err := t.Kernel.ReaddirPlus(root, dir.Fh, 0, 4096)
	AssertEq(nil, err)
	AssertEq(nil, t.Kernel.Releasedir(root, dir.Fh))

	entries, err := fusetesting.ParseDirentsPlus(b)
	AssertEq(nil, err)
	AssertEq(4, len(entries))

	for _, e := range entries {
		switch e.Dirent.Name {
		case ".", "..":
			ExpectEq(0, e.Entry.Nodeid)

		case "foo":
			ExpectNe(0, e.Entry.Nodeid)
			ExpectEq(e.Entry.Nodeid, e.Dirent.Inode)
			ExpectThat(e.Entry, fusetesting.SizeIs(4))

		case "dir":
			ExpectNe(0, e.Entry.Nodeid)
			ExpectThat(e.Entry, fusetesting.ModeIs(0755|os.ModeDir))
		}
	}
}

func (t *PassthroughFSTest) Mkdir() {
	entry, err := t.Kernel.Mkdir(root, "new", 0700)
	AssertEq(nil, err)
	ExpectThat(entry, fusetesting.ModeIs(0700|os.ModeDir))

	fi, err := os.Stat(filepath.Join(t.hostDir, "new"))
	AssertEq(nil, err)
	ExpectTrue(fi.IsDir())
}

func (t *PassthroughFSTest) Unlink() {
	AssertEq(nil, t.Kernel.Unlink(root, "foo"))

	_, err := os.Stat(filepath.Join(t.hostDir, "foo"))
	ExpectTrue(os.IsNotExist(err), "%v", err)
}

func (t *PassthroughFSTest) Rmdir_NonEmpty() {
	err := t.Kernel.Rmdir(root, "dir")
	ExpectTrue(errnoIs(err, unix.ENOTEMPTY), "%v", err)
}

func (t *PassthroughFSTest) RenameDirectory() {
	dir, err := t.Kernel.Lookup(root, "dir")
	AssertEq(nil, err)

	AssertEq(nil, t.Kernel.Rename(root, "dir", root, "moved", 0))
	ExpectEq("burrito", t.readHostFile("moved/bar"))

	// The inode the kernel already knows follows the rename.
	bar, err := t.Kernel.Lookup(dir.Nodeid, "bar")
	AssertEq(nil, err)
	ExpectThat(bar, fusetesting.SizeIs(7))
}

func (t *PassthroughFSTest) Symlink() {
	entry, err := t.Kernel.Symlink(root, "link", "foo")
	AssertEq(nil, err)
	ExpectThat(entry, fusetesting.ModeIs(0777|os.ModeSymlink))

	target, err := t.Kernel.Readlink(entry.Nodeid)
	AssertEq(nil, err)
	ExpectEq("foo", target)
}

func (t *PassthroughFSTest) HardLink() {
	foo, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)

	entry, err := t.Kernel.Link(foo.Nodeid, root, "other")
	AssertEq(nil, err)
	ExpectEq(foo.Nodeid, entry.Nodeid)
	ExpectEq(2, entry.Attr.Nlink)

	ExpectEq("taco", t.readHostFile("other"))
}

func (t *PassthroughFSTest) Truncate() {
	entry, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)

	attr, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrSize),
		Size:  2,
	})

	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.SizeIs(2))
	ExpectEq("ta", t.readHostFile("foo"))
}

func (t *PassthroughFSTest) Chmod() {
	entry, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)

	attr, err := t.Kernel.Setattr(entry.Nodeid, fusekernel.SetattrIn{
		Valid: uint32(fusekernel.SetattrMode),
		Mode:  0600,
	})

	AssertEq(nil, err)
	ExpectThat(attr, fusetesting.ModeIs(0600))

	fi, err := os.Stat(filepath.Join(t.hostDir, "foo"))
	AssertEq(nil, err)
	ExpectEq(os.FileMode(0600), fi.Mode())
}

func (t *PassthroughFSTest) Fallocate() {
	entry, err := t.Kernel.Lookup(root, "foo")
	AssertEq(nil, err)

	open, err := t.Kernel.Open(entry.Nodeid, unix.O_RDWR)
	AssertEq(nil, err)

	AssertEq(nil, t.Kernel.Fallocate(entry.Nodeid, open.Fh, 0, 4096, 0))
	AssertEq(nil, t.Kernel.Release(entry.Nodeid, open.Fh))

	fi, err := os.Stat(filepath.Join(t.hostDir, "foo"))
	AssertEq(nil, err)
	ExpectEq(4096, fi.Size())
}

func (t *PassthroughFSTest) StatFS() {
	st, err := t.Kernel.Statfs(root)
	AssertEq(nil, err)

	ExpectGt(st.St.Blocks, 0)
	ExpectGt(st.St.Bsize, 0)
	ExpectGt(st.St.Namelen, 0)
}

func (t *PassthroughFSTest) Access() {
	ExpectEq(nil, t.Kernel.Access(root, unix.F_OK))
}
