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

// Package errorfs is a file system that fails chosen op types with canned
// errors, for testing how errors reach the kernel.
package errorfs

import (
	"context"
	"os"
	"reflect"
	"sync"

	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
)

const FooContents = "xxxx"

const fooInodeID = fuseops.RootInodeID + 1

var fooAttrs = fuseops.InodeAttributes{
	Nlink: 1,
	Size:  uint64(len(FooContents)),
	Mode:  0444,
}

// A file system whose sole contents are a file named "foo" containing the
// string defined by FooContents.
//
// The file system can be configured to returned canned errors for particular
// operations using the method SetError.
type FS interface {
	fuseutil.FileSystem

	// Cause the file system to return the supplied error for all future
	// operations matching the supplied type, which must be a pointer to one
	// of the fuseops op structs. A nil error clears it.
	SetError(t reflect.Type, err error)
}

func New() (FS, error) {
	fs := &errorFS{
		errors: make(map[reflect.Type]error),
	}

	return fs, nil
}

type errorFS struct {
	fuseutil.NotImplementedFileSystem

	mu sync.Mutex

	// GUARDED_BY(mu)
	errors map[reflect.Type]error
}

func (fs *errorFS) SetError(t reflect.Type, err error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err == nil {
		delete(fs.errors, t)
		return
	}

	fs.errors[t] = err
}

// The error configured for op's type, if any.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *errorFS) transformError(op interface{}) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.errors[reflect.TypeOf(op)]
}

////////////////////////////////////////////////////////////////////////
// File system methods
////////////////////////////////////////////////////////////////////////

func (fs *errorFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	return fs.transformError(op)
}

func (fs *errorFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Parent != fuseops.RootInodeID || op.Name != "foo" {
		return fuse.ENOENT
	}

	op.Entry.Child = fooInodeID
	op.Entry.Attributes = fooAttrs
	return nil
}

func (fs *errorFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	switch op.Inode {
	case fuseops.RootInodeID:
		op.Attributes.Nlink = 1
		op.Attributes.Mode = os.ModeDir | 0777

	case fooInodeID:
		op.Attributes = fooAttrs

	default:
		return fuse.ENOENT
	}

	return nil
}

func (fs *errorFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *errorFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Inode != fooInodeID {
		return fuse.EISDIR
	}

	return nil
}

func (fs *errorFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Inode != fooInodeID || op.Offset > int64(len(FooContents)) {
		return fuse.EINVAL
	}

	op.BytesRead = copy(op.Dst, FooContents[op.Offset:])
	return nil
}

func (fs *errorFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	return fs.transformError(op)
}

func (fs *errorFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	return fs.transformError(op)
}

func (fs *errorFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Inode != fuseops.RootInodeID {
		return fuse.ENOTDIR
	}

	return nil
}

func (fs *errorFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	if op.Inode != fuseops.RootInodeID {
		return fuse.ENOTDIR
	}

	entries := []fuseutil.Dirent{
		{Offset: 1, Inode: fuseops.RootInodeID, Name: ".", Type: fuseutil.DT_Directory},
		{Offset: 2, Inode: fuseops.RootInodeID, Name: "..", Type: fuseutil.DT_Directory},
		{Offset: 3, Inode: fooInodeID, Name: "foo", Type: fuseutil.DT_File},
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return fuse.EINVAL
	}

	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}

		op.BytesRead += n
	}

	return nil
}

func (fs *errorFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	return fs.transformError(op)
}

func (fs *errorFS) GetXattr(
	ctx context.Context,
	op *fuseops.GetXattrOp) error {
	if err := fs.transformError(op); err != nil {
		return err
	}

	return fuse.ENOATTR
}
