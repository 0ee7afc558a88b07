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

// Package memfs is a complete file system that keeps everything in memory.
// It supports directories, regular files, symlinks, hard links, extended
// attributes and readdirplus.
package memfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
	"golang.org/x/sys/unix"
)

// How long the kernel may cache entries and attributes. Everything changes
// through us, so this could be much longer.
const ttl = time.Second

// State for an open file or directory.
type handle struct {
	inode fuseops.InodeID
	dir   bool
}

// MemFS is the in-memory file system. Serve it with
// fuseutil.NewFileSystemServer.
type MemFS struct {
	fuseutil.NotImplementedFileSystem

	/////////////////////////
	// Dependencies
	/////////////////////////

	clock timeutil.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	// The UID and GID of the root directory.
	uid uint32
	gid uint32

	/////////////////////////
	// Mutable state
	/////////////////////////

	// Open files and directories. Synchronized internally.
	handles *fuseutil.HandleTable[handle]

	// Guards all inodes.
	mu syncutil.InvariantMutex

	// The collection of live inodes, indexed by ID. IDs of free inodes that may
	// be re-used have nil entries. No ID less than fuseops.RootInodeID is ever
	// used.
	//
	// INVARIANT: len(inodes) > fuseops.RootInodeID
	// INVARIANT: For all i < fuseops.RootInodeID, inodes[i] == nil
	// INVARIANT: inodes[fuseops.RootInodeID] != nil
	// INVARIANT: inodes[fuseops.RootInodeID].isDir()
	//
	// GUARDED_BY(mu)
	inodes []*inode

	// A list of inode IDs within inodes available for reuse, not including the
	// reserved IDs less than fuseops.RootInodeID.
	//
	// INVARIANT: This is all and only indices i of 'inodes' such that i >
	// fuseops.RootInodeID and inodes[i] == nil
	//
	// GUARDED_BY(mu)
	freeInodes []fuseops.InodeID

	// The last generation number handed out for each inode ID.
	//
	// INVARIANT: len(generations) == len(inodes)
	//
	// GUARDED_BY(mu)
	generations []fuseops.GenerationNumber
}

// NewMemFS creates a file system that stores data and metadata in memory.
// The root directory is owned by the supplied UID and GID.
func NewMemFS(
	uid uint32,
	gid uint32,
	clock timeutil.Clock) *MemFS {
	// Set up the basic struct.
	fs := &MemFS{
		clock:       clock,
		uid:         uid,
		gid:         gid,
		handles:     fuseutil.NewHandleTable[handle](),
		inodes:      make([]*inode, fuseops.RootInodeID+1),
		generations: make([]fuseops.GenerationNumber, fuseops.RootInodeID+1),
	}

	// Set up the root inode.
	rootAttrs := fuseops.InodeAttributes{
		Mode:  0700 | os.ModeDir,
		Nlink: 2,
		Uid:   uid,
		Gid:   gid,
	}

	fs.inodes[fuseops.RootInodeID] = newInode(
		clock.Now(),
		fuseops.RootInodeID,
		fuseops.RootInodeID,
		rootAttrs)

	// Set up invariant checking.
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	return fs
}

// OpenHandles returns the number of file and directory handles that have
// been opened and not yet released.
func (fs *MemFS) OpenHandles() int {
	return fs.handles.Len()
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func (fs *MemFS) checkInvariants() {
	// Check reserved inodes.
	for i := 0; i < fuseops.RootInodeID; i++ {
		if fs.inodes[i] != nil {
			panic(fmt.Sprintf("Non-nil inode for ID: %v", i))
		}
	}

	// Check the root inode.
	if !fs.inodes[fuseops.RootInodeID].isDir() {
		panic("Expected root to be a directory.")
	}

	// Build our own list of free IDs.
	freeIDsEncountered := make(map[fuseops.InodeID]struct{})
	for i := fuseops.RootInodeID + 1; i < len(fs.inodes); i++ {
		in := fs.inodes[i]
		if in == nil {
			freeIDsEncountered[fuseops.InodeID(i)] = struct{}{}
			continue
		}

		in.CheckInvariants()
	}

	// Check fs.freeInodes.
	if len(fs.freeInodes) != len(freeIDsEncountered) {
		panic(
			fmt.Sprintf(
				"Length mismatch: %v vs. %v",
				len(fs.freeInodes),
				len(freeIDsEncountered)))
	}

	for _, id := range fs.freeInodes {
		if _, ok := freeIDsEncountered[id]; !ok {
			panic(fmt.Sprintf("Unexected free inode ID: %v", id))
		}
	}

	if len(fs.generations) != len(fs.inodes) {
		panic("generations out of sync with inodes")
	}
}

// Find the given inode, or return ENOENT if it doesn't exist.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *MemFS) getInode(id fuseops.InodeID) (*inode, error) {
	if id >= fuseops.InodeID(len(fs.inodes)) || fs.inodes[id] == nil {
		return nil, fuse.ENOENT
	}

	return fs.inodes[id], nil
}

// Find the given directory.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *MemFS) getDir(id fuseops.InodeID) (*inode, error) {
	in, err := fs.getInode(id)
	if err != nil {
		return nil, err
	}

	if !in.isDir() {
		return nil, fuse.ENOTDIR
	}

	return in, nil
}

// Allocate a new inode, assigning it an ID that is not in use.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *MemFS) allocateInode(
	parent fuseops.InodeID,
	attrs fuseops.InodeAttributes) (id fuseops.InodeID, in *inode) {
	// Re-use a free ID if possible. Otherwise mint a new one.
	numFree := len(fs.freeInodes)
	if numFree != 0 {
		id = fs.freeInodes[numFree-1]
		fs.freeInodes = fs.freeInodes[:numFree-1]
	} else {
		id = fuseops.InodeID(len(fs.inodes))
		fs.inodes = append(fs.inodes, nil)
		fs.generations = append(fs.generations, 0)
	}

	fs.generations[id]++

	in = newInode(fs.clock.Now(), id, parent, attrs)
	in.generation = fs.generations[id]
	fs.inodes[id] = in

	return
}

// Free the inode once nothing refers to it: no directory entry, and no
// lookup the kernel hasn't forgotten.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *MemFS) maybeDeallocateInode(id fuseops.InodeID) {
	in := fs.inodes[id]
	if id == fuseops.RootInodeID || in.attrs.Nlink != 0 || in.lookupCount != 0 {
		return
	}

	fs.inodes[id] = nil
	fs.freeInodes = append(fs.freeInodes, id)
}

// Fill in an entry for the given child, counting it as a lookup.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *MemFS) fillEntry(
	id fuseops.InodeID,
	in *inode,
	e *fuseops.ChildInodeEntry) {
	in.lookupCount++

	e.Child = id
	e.Generation = in.generation
	e.Attributes = in.attrs
	e.SetExpiration(fs.clock.Now(), ttl, ttl)
}

// Create a new child of the given directory, failing if the name is taken.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *MemFS) createChild(
	parentID fuseops.InodeID,
	name string,
	attrs fuseops.InodeAttributes,
	e *fuseops.ChildInodeEntry) (*inode, error) {
	parent, err := fs.getDir(parentID)
	if err != nil {
		return nil, err
	}

	// Ensure that the name doesn't already exist, so we don't wind up with a
	// duplicate.
	if _, _, exists := parent.LookUpChild(name); exists {
		return nil, fuse.EEXIST
	}

	// Allocate a child.
	childID, child := fs.allocateInode(parentID, attrs)

	// Add an entry in the parent.
	parent.AddChild(fs.clock.Now(), childID, name, child.direntType())

	if child.isDir() {
		parent.attrs.Nlink++
	}

	fs.fillEntry(childID, child, e)
	return child, nil
}

// Return the handle's state, or EBADF if the kernel sent a handle we never
// handed out for this inode.
func (fs *MemFS) checkHandle(
	h fuseops.HandleID,
	id fuseops.InodeID,
	dir bool) error {
	st, ok := fs.handles.Lookup(h)
	if !ok || st.inode != id || st.dir != dir {
		return fuse.EBADF
	}

	return nil
}

// Whether ancestor is id or one of its ancestors.
//
// LOCKS_REQUIRED(fs.mu)
func (fs *MemFS) isAncestor(ancestor fuseops.InodeID, id fuseops.InodeID) bool {
	for {
		if id == ancestor {
			return true
		}

		if id == fuseops.RootInodeID {
			return false
		}

		id = fs.inodes[id].Parent()
	}
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *MemFS) Init(
	ctx context.Context,
	op *fuseops.InitOp) {
	// Anything the kernel doesn't offer is dropped.
	op.Conn.Want |= fuseops.CapReaddirplus | fuseops.CapReaddirplusAuto
}

func (fs *MemFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	const blockSize = 4096
	const capacity = maxFileSize

	var used uint64
	for _, in := range fs.inodes {
		if in != nil {
			used += (in.attrs.Size + blockSize - 1) / blockSize
		}
	}

	live := uint64(len(fs.inodes) - len(fs.freeInodes) - fuseops.RootInodeID)

	op.BlockSize = blockSize
	op.Blocks = capacity / blockSize
	op.BlocksFree = op.Blocks - min(used, op.Blocks)
	op.BlocksAvailable = op.BlocksFree
	op.Inodes = live
	op.InodesFree = 1<<20 - live
	op.NameLen = 255

	return nil
}

func (fs *MemFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Grab the parent directory.
	parent, err := fs.getDir(op.Parent)
	if err != nil {
		return err
	}

	// Does the directory have an entry with the given name?
	childID, _, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuse.ENOENT
	}

	fs.fillEntry(childID, fs.inodes[childID], &op.Entry)
	return nil
}

func (fs *MemFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	op.Attributes = in.attrs
	op.AttributesExpiration = fs.clock.Now().Add(ttl)

	return nil
}

func (fs *MemFS) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if err := in.SetAttributes(fs.clock.Now(), op); err != nil {
		return err
	}

	op.Attributes = in.attrs
	op.AttributesExpiration = fs.clock.Now().Add(ttl)

	return nil
}

func (fs *MemFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if op.N > in.lookupCount {
		err = fmt.Errorf(
			"forget %d of inode %d with only %d lookups",
			op.N,
			op.Inode,
			in.lookupCount)

		in.lookupCount = 0
		fs.maybeDeallocateInode(op.Inode)
		return err
	}

	in.lookupCount -= op.N
	fs.maybeDeallocateInode(op.Inode)

	return nil
}

func (fs *MemFS) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Set up attributes for the child. The kernel has already applied the
	// umask.
	childAttrs := fuseops.InodeAttributes{
		Nlink: 2,
		Mode:  op.Mode&permBits | os.ModeDir,
		Uid:   op.Uid,
		Gid:   op.Gid,
	}

	_, err := fs.createChild(op.Parent, op.Name, childAttrs, &op.Entry)
	return err
}

func (fs *MemFS) MkNode(
	ctx context.Context,
	op *fuseops.MkNodeOp) error {
	// Only regular files.
	if op.Mode&os.ModeType != 0 {
		return fuse.ENOTSUP
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err := fs.createChild(op.Parent, op.Name, fs.fileAttrs(op.Mode, op.OpContext), &op.Entry)
	return err
}

// Attributes for a new regular file created by the caller.
func (fs *MemFS) fileAttrs(
	mode os.FileMode,
	opCtx fuseops.OpContext) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  mode & permBits,
		Uid:   opCtx.Uid,
		Gid:   opCtx.Gid,
	}
}

func (fs *MemFS) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err := fs.createChild(op.Parent, op.Name, fs.fileAttrs(op.Mode, op.OpContext), &op.Entry)
	if err != nil {
		return err
	}

	op.Handle = fs.handles.Encode(handle{inode: op.Entry.Child})
	return nil
}

func (fs *MemFS) CreateSymlink(
	ctx context.Context,
	op *fuseops.CreateSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Symlink sizes are the length of their target.
	childAttrs := fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0444 | os.ModeSymlink,
		Size:  uint64(len(op.Target)),
		Uid:   op.Uid,
		Gid:   op.Gid,
	}

	child, err := fs.createChild(op.Parent, op.Name, childAttrs, &op.Entry)
	if err != nil {
		return err
	}

	child.target = op.Target
	return nil
}

func (fs *MemFS) CreateLink(
	ctx context.Context,
	op *fuseops.CreateLinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.getDir(op.Parent)
	if err != nil {
		return err
	}

	target, err := fs.getInode(op.Target)
	if err != nil {
		return err
	}

	// Hard links to directories are not allowed.
	if target.isDir() {
		return fuse.EPERM
	}

	if _, _, exists := parent.LookUpChild(op.Name); exists {
		return fuse.EEXIST
	}

	now := fs.clock.Now()
	parent.AddChild(now, op.Target, op.Name, target.direntType())
	target.attrs.Nlink++
	target.attrs.Ctime = now

	fs.fillEntry(op.Target, target, &op.Entry)
	return nil
}

func (fs *MemFS) Rename(
	ctx context.Context,
	op *fuseops.RenameOp) error {
	if op.Flags&(fuseops.RenameExchange|fuseops.RenameWhiteout) != 0 {
		return fuse.ENOTSUP
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	oldParent, err := fs.getDir(op.OldParent)
	if err != nil {
		return err
	}

	newParent, err := fs.getDir(op.NewParent)
	if err != nil {
		return err
	}

	// Ensure the child exists.
	childID, childType, ok := oldParent.LookUpChild(op.OldName)
	if !ok {
		return fuse.ENOENT
	}

	child := fs.inodes[childID]

	// A directory can't be moved beneath itself.
	if child.isDir() && fs.isAncestor(childID, op.NewParent) {
		return fuse.EINVAL
	}

	now := fs.clock.Now()

	// If the new name exists already in the new parent, make sure it's not a
	// non-empty directory, then delete it.
	existingID, _, ok := newParent.LookUpChild(op.NewName)
	if ok {
		if op.Flags&fuseops.RenameNoReplace != 0 {
			return fuse.EEXIST
		}

		// Renaming a name onto another link to the same inode does nothing.
		if existingID == childID {
			return nil
		}

		existing := fs.inodes[existingID]
		switch {
		case existing.isDir() && !child.isDir():
			return fuse.EISDIR

		case !existing.isDir() && child.isDir():
			return fuse.ENOTDIR

		case existing.isDir() && existing.Len() != 0:
			return fuse.ENOTEMPTY
		}

		newParent.RemoveChild(now, op.NewName)
		if existing.isDir() {
			newParent.attrs.Nlink--
			existing.attrs.Nlink = 0
		} else {
			existing.attrs.Nlink--
		}

		existing.attrs.Ctime = now
		fs.maybeDeallocateInode(existingID)
	}

	// Link the new name.
	newParent.AddChild(now, childID, op.NewName, childType)

	// Finally, remove the old name from the old parent.
	oldParent.RemoveChild(now, op.OldName)

	if child.isDir() && op.OldParent != op.NewParent {
		child.SetParent(op.NewParent)
		oldParent.attrs.Nlink--
		newParent.attrs.Nlink++
	}

	child.attrs.Ctime = now
	return nil
}

func (fs *MemFS) RmDir(
	ctx context.Context,
	op *fuseops.RmDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.getDir(op.Parent)
	if err != nil {
		return err
	}

	// Find the child within the parent.
	childID, _, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuse.ENOENT
	}

	child := fs.inodes[childID]
	if !child.isDir() {
		return fuse.ENOTDIR
	}

	// Make sure the child is empty.
	if child.Len() != 0 {
		return fuse.ENOTEMPTY
	}

	// Remove the entry within the parent.
	now := fs.clock.Now()
	parent.RemoveChild(now, op.Name)
	parent.attrs.Nlink--

	// Mark the child as unlinked.
	child.attrs.Nlink = 0
	child.attrs.Ctime = now
	fs.maybeDeallocateInode(childID)

	return nil
}

func (fs *MemFS) Unlink(
	ctx context.Context,
	op *fuseops.UnlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parent, err := fs.getDir(op.Parent)
	if err != nil {
		return err
	}

	// Find the child within the parent.
	childID, _, ok := parent.LookUpChild(op.Name)
	if !ok {
		return fuse.ENOENT
	}

	child := fs.inodes[childID]
	if child.isDir() {
		return fuse.EISDIR
	}

	// Remove the entry within the parent.
	now := fs.clock.Now()
	parent.RemoveChild(now, op.Name)

	// Mark the child as unlinked.
	child.attrs.Nlink--
	child.attrs.Ctime = now
	fs.maybeDeallocateInode(childID)

	return nil
}

func (fs *MemFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.getDir(op.Inode); err != nil {
		return err
	}

	op.Handle = fs.handles.Encode(handle{inode: op.Inode, dir: true})
	return nil
}

func (fs *MemFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	if err := fs.checkHandle(op.Handle, op.Inode, true); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getDir(op.Inode)
	if err != nil {
		return err
	}

	buf := fuseutil.NewDirBuffer(op.Dst[op.BytesRead:], fs.clock.Now())
	in.ReadDir(op.Offset, func(d fuseutil.Dirent) bool {
		if !op.Plus {
			return buf.Add(d)
		}

		// The kernel takes no reference for the dot entries.
		e := fuseutil.DirentPlus{Dirent: d}
		if d.Name == "." || d.Name == ".." {
			return buf.AddPlus(e)
		}

		child := fs.inodes[d.Inode]
		e.Entry.Child = d.Inode
		e.Entry.Generation = child.generation
		e.Entry.Attributes = child.attrs
		e.Entry.SetExpiration(fs.clock.Now(), ttl, ttl)

		if !buf.AddPlus(e) {
			return false
		}

		child.lookupCount++
		return true
	})

	op.BytesRead += buf.Len()
	return nil
}

func (fs *MemFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	fs.handles.Release(op.Handle)
	return nil
}

func (fs *MemFS) SyncDir(
	ctx context.Context,
	op *fuseops.SyncDirOp) error {
	return fs.checkHandle(op.Handle, op.Inode, true)
}

func (fs *MemFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if in.isDir() {
		return fuse.EISDIR
	}

	// With atomic truncation, O_TRUNC arrives here rather than as a setattr.
	if uint32(op.OpenFlags)&unix.O_TRUNC != 0 && in.isFile() {
		in.truncate(0)
		in.attrs.Mtime = fs.clock.Now()
		in.attrs.Ctime = in.attrs.Mtime
	}

	op.Handle = fs.handles.Encode(handle{inode: op.Inode})
	op.KeepPageCache = true

	return nil
}

func (fs *MemFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	if err := fs.checkHandle(op.Handle, op.Inode, false); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if !in.isFile() {
		return fuse.EINVAL
	}

	// Serve the request.
	op.BytesRead, err = in.ReadAt(op.Dst, op.Offset)

	// Don't return EOF errors; we just indicate EOF to fuse using a short read.
	if err == io.EOF {
		return nil
	}

	return err
}

func (fs *MemFS) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	if err := fs.checkHandle(op.Handle, op.Inode, false); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if !in.isFile() {
		return fuse.EINVAL
	}

	// Serve the request.
	_, err = in.WriteAt(fs.clock.Now(), op.Data, op.Offset)
	return err
}

func (fs *MemFS) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	return fs.checkHandle(op.Handle, op.Inode, false)
}

func (fs *MemFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	return fs.checkHandle(op.Handle, op.Inode, false)
}

func (fs *MemFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	fs.handles.Release(op.Handle)
	return nil
}

func (fs *MemFS) ReadSymlink(
	ctx context.Context,
	op *fuseops.ReadSymlinkOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if !in.isSymlink() {
		return fuse.EINVAL
	}

	op.Target = in.target
	return nil
}

func (fs *MemFS) GetXattr(
	ctx context.Context,
	op *fuseops.GetXattrOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	value, ok := in.xattrs[op.Name]
	if !ok {
		return fuse.ENOATTR
	}

	op.BytesRead, err = fuseutil.ReplyXattr(op.Dst, value)
	return err
}

func (fs *MemFS) ListXattr(
	ctx context.Context,
	op *fuseops.ListXattrOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(in.xattrs))
	for name := range in.xattrs {
		names = append(names, name)
	}

	sort.Strings(names)

	op.BytesRead, err = fuseutil.ReplyXattr(op.Dst, fuseutil.ListXattrValue(names))
	return err
}

func (fs *MemFS) SetXattr(
	ctx context.Context,
	op *fuseops.SetXattrOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	_, exists := in.xattrs[op.Name]
	switch {
	case op.Flags&fuseops.XattrCreate != 0 && exists:
		return fuse.EEXIST

	case op.Flags&fuseops.XattrReplace != 0 && !exists:
		return fuse.ENOATTR
	}

	in.xattrs[op.Name] = append([]byte(nil), op.Value...)
	in.attrs.Ctime = fs.clock.Now()

	return nil
}

func (fs *MemFS) RemoveXattr(
	ctx context.Context,
	op *fuseops.RemoveXattrOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if _, ok := in.xattrs[op.Name]; !ok {
		return fuse.ENOATTR
	}

	delete(in.xattrs, op.Name)
	in.attrs.Ctime = fs.clock.Now()

	return nil
}

func (fs *MemFS) Fallocate(
	ctx context.Context,
	op *fuseops.FallocateOp) error {
	if err := fs.checkHandle(op.Handle, op.Inode, false); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	in, err := fs.getInode(op.Inode)
	if err != nil {
		return err
	}

	if !in.isFile() {
		return fuse.EINVAL
	}

	return in.Fallocate(fs.clock.Now(), op.Mode, op.Offset, op.Length)
}

func (fs *MemFS) Access(
	ctx context.Context,
	op *fuseops.AccessOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	// Permissions are left to the kernel's default_permissions checks.
	_, err := fs.getInode(op.Inode)
	return err
}
