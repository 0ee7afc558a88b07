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

// Package flushfs is a file system that reports the flush, fsync and release
// ops it receives, and fails them on request.
package flushfs

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
)

// A function called with the current contents of "foo" (or the empty string
// for the directory "bar"). A non-nil error is returned to the kernel.
type Reporter func(contents string) error

// Create a file system whose root contains a file named "foo" and an empty
// directory named "bar".
//
// The file may be opened for reading and/or writing. Its initial contents
// are empty. Whenever a flush or fsync is received, the matching reporter is
// called with the current contents of the file, and its error becomes the
// op's result. reportRelease works likewise for releases of either inode.
// Any reporter may be nil.
func NewFileSystem(
	reportFlush Reporter,
	reportFsync Reporter,
	reportRelease Reporter) (fuse.Server, error) {
	fs := &flushFS{
		reportFlush:   reportFlush,
		reportFsync:   reportFsync,
		reportRelease: reportRelease,
	}

	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	return fuseutil.NewFileSystemServer(fs), nil
}

const (
	fooID = fuseops.RootInodeID + 1 + iota
	barID
)

type flushFS struct {
	fuseutil.NotImplementedFileSystem

	reportFlush   Reporter
	reportFsync   Reporter
	reportRelease Reporter

	mu syncutil.InvariantMutex

	// GUARDED_BY(mu)
	fooContents []byte

	// The number of open file handles (all for foo) and directory handles.
	//
	// INVARIANT: Both are non-negative.
	//
	// GUARDED_BY(mu)
	fooOpen  int
	dirsOpen int
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (fs *flushFS) checkInvariants() {
	if fs.fooOpen < 0 || fs.dirsOpen < 0 {
		panic(fmt.Sprintf("Negative open count: %d, %d", fs.fooOpen, fs.dirsOpen))
	}
}

// LOCKS_REQUIRED(fs.mu)
func (fs *flushFS) rootAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0777 | os.ModeDir,
	}
}

// LOCKS_REQUIRED(fs.mu)
func (fs *flushFS) fooAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0777,
		Size:  uint64(len(fs.fooContents)),
	}
}

// LOCKS_REQUIRED(fs.mu)
func (fs *flushFS) barAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0777 | os.ModeDir,
	}
}

// LOCKS_REQUIRED(fs.mu)
func (fs *flushFS) getAttributes(id fuseops.InodeID) (fuseops.InodeAttributes, error) {
	switch id {
	case fuseops.RootInodeID:
		return fs.rootAttributes(), nil

	case fooID:
		return fs.fooAttributes(), nil

	case barID:
		return fs.barAttributes(), nil

	default:
		return fuseops.InodeAttributes{}, fuse.ENOENT
	}
}

func report(r Reporter, contents string) error {
	if r == nil {
		return nil
	}

	return r(contents)
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *flushFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	return nil
}

func (fs *flushFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Parent != fuseops.RootInodeID {
		return fuse.ENOENT
	}

	var id fuseops.InodeID
	switch op.Name {
	case "foo":
		id = fooID

	case "bar":
		id = barID

	default:
		return fuse.ENOENT
	}

	attrs, _ := fs.getAttributes(id)
	op.Entry = fuseops.ChildInodeEntry{
		Child:      id,
		Attributes: attrs,
	}

	return nil
}

func (fs *flushFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var err error
	op.Attributes, err = fs.getAttributes(op.Inode)
	return err
}

func (fs *flushFS) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Size != nil {
		if op.Inode != fooID {
			return fuse.EISDIR
		}

		size := int(*op.Size)
		if size <= len(fs.fooContents) {
			fs.fooContents = fs.fooContents[:size]
		} else {
			fs.fooContents = append(
				fs.fooContents,
				make([]byte, size-len(fs.fooContents))...)
		}
	}

	var err error
	op.Attributes, err = fs.getAttributes(op.Inode)
	return err
}

func (fs *flushFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *flushFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch op.Inode {
	case fooID:
	case fuseops.RootInodeID, barID:
		return fuse.EISDIR
	default:
		return fuse.ENOENT
	}

	if op.OpenFlags&fuseops.OpenFlags(os.O_TRUNC) != 0 {
		fs.fooContents = fs.fooContents[:0]
	}

	fs.fooOpen++
	return nil
}

func (fs *flushFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode != fooID {
		return fuse.EINVAL
	}

	if op.Offset > int64(len(fs.fooContents)) {
		return nil
	}

	op.BytesRead = copy(op.Dst, fs.fooContents[op.Offset:])
	return nil
}

func (fs *flushFS) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Inode != fooID {
		return fuse.EINVAL
	}

	// Ensure that the contents slice is long enough.
	newLen := int(op.Offset) + len(op.Data)
	if len(fs.fooContents) < newLen {
		padding := make([]byte, newLen-len(fs.fooContents))
		fs.fooContents = append(fs.fooContents, padding...)
	}

	copy(fs.fooContents[op.Offset:], op.Data)
	return nil
}

func (fs *flushFS) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return report(fs.reportFsync, string(fs.fooContents))
}

func (fs *flushFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return report(fs.reportFlush, string(fs.fooContents))
}

func (fs *flushFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Only foo can be opened as a file.
	fs.fooOpen--
	return report(fs.reportRelease, string(fs.fooContents))
}

func (fs *flushFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch op.Inode {
	case fuseops.RootInodeID, barID:
	case fooID:
		return fuse.ENOTDIR
	default:
		return fuse.ENOENT
	}

	fs.dirsOpen++
	return nil
}

func (fs *flushFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var entries []fuseutil.Dirent
	switch op.Inode {
	case fuseops.RootInodeID:
		entries = []fuseutil.Dirent{
			{Offset: 1, Inode: fuseops.RootInodeID, Name: ".", Type: fuseutil.DT_Directory},
			{Offset: 2, Inode: fuseops.RootInodeID, Name: "..", Type: fuseutil.DT_Directory},
			{Offset: 3, Inode: fooID, Name: "foo", Type: fuseutil.DT_File},
			{Offset: 4, Inode: barID, Name: "bar", Type: fuseutil.DT_Directory},
		}

	case barID:
		entries = []fuseutil.Dirent{
			{Offset: 1, Inode: barID, Name: ".", Type: fuseutil.DT_Directory},
			{Offset: 2, Inode: fuseops.RootInodeID, Name: "..", Type: fuseutil.DT_Directory},
		}

	default:
		return fuse.ENOTDIR
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return nil
	}

	buf := fuseutil.NewDirBuffer(op.Dst[op.BytesRead:], time.Time{})
	for _, e := range entries[op.Offset:] {
		if !buf.Add(e) {
			break
		}
	}

	op.BytesRead += buf.Len()
	return nil
}

func (fs *flushFS) SyncDir(
	ctx context.Context,
	op *fuseops.SyncDirOp) error {
	return report(fs.reportFsync, "")
}

func (fs *flushFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.dirsOpen--
	return report(fs.reportRelease, "")
}
