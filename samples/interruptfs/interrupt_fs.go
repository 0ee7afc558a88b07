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

// Package interruptfs is a file system whose reads hang until the kernel
// interrupts them.
package interruptfs

import (
	"context"
	"os"
	"sync"

	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
)

var rootAttrs = fuseops.InodeAttributes{
	Nlink: 1,
	Mode:  os.ModeDir | 0777,
}

const fooID = fuseops.RootInodeID + 1

var fooAttrs = fuseops.InodeAttributes{
	Nlink: 1,
	Mode:  0777,
	Size:  1234,
}

// A file system containing exactly one file, named "foo". Reads to the file
// always hang until interrupted. Exposes a method for synchronizing with the
// arrival of a read.
//
// Must be created with New.
type InterruptFS struct {
	fuseutil.NotImplementedFileSystem

	mu sync.Mutex

	blockForFlushes bool // GUARDED_BY(mu)

	// The number of ops that have begun blocking. Signalled when it changes.
	//
	// GUARDED_BY(mu)
	inFlight        int
	inFlightChanged sync.Cond

	// The number of blocked ops that have seen their context cancelled.
	//
	// GUARDED_BY(mu)
	interrupted int
}

func New() *InterruptFS {
	fs := &InterruptFS{}
	fs.inFlightChanged.L = &fs.mu

	return fs
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

// Block until n blocking ops have been received in total.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *InterruptFS) WaitForInFlight(n int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for fs.inFlight < n {
		fs.inFlightChanged.Wait()
	}
}

// Block until the first read is received.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *InterruptFS) WaitForFirstRead() {
	fs.WaitForInFlight(1)
}

// Make flushes hang until interrupted, like reads.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *InterruptFS) EnableFlushBlocking() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.blockForFlushes = true
}

// The number of blocked ops that returned because they were interrupted.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *InterruptFS) Interrupted() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.interrupted
}

// Record a blocking op, then wait for its cancellation.
//
// LOCKS_EXCLUDED(fs.mu)
func (fs *InterruptFS) block(ctx context.Context) error {
	fs.mu.Lock()
	fs.inFlight++
	fs.inFlightChanged.Broadcast()
	fs.mu.Unlock()

	<-ctx.Done()

	fs.mu.Lock()
	fs.interrupted++
	fs.mu.Unlock()

	return fuse.EINTR
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *InterruptFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	return nil
}

func (fs *InterruptFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	// We support only one parent.
	if op.Parent != fuseops.RootInodeID {
		return fuse.ENOENT
	}

	// We support only one name.
	if op.Name != "foo" {
		return fuse.ENOENT
	}

	// Fill in the response.
	op.Entry.Child = fooID
	op.Entry.Attributes = fooAttrs

	return nil
}

func (fs *InterruptFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	switch op.Inode {
	case fuseops.RootInodeID:
		op.Attributes = rootAttrs

	case fooID:
		op.Attributes = fooAttrs

	default:
		return fuse.ENOENT
	}

	return nil
}

func (fs *InterruptFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *InterruptFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	if op.Inode != fooID {
		return fuse.EISDIR
	}

	return nil
}

func (fs *InterruptFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	return fs.block(ctx)
}

func (fs *InterruptFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	fs.mu.Lock()
	shouldBlock := fs.blockForFlushes
	fs.mu.Unlock()

	if !shouldBlock {
		return nil
	}

	return fs.block(ctx)
}

func (fs *InterruptFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	return nil
}
