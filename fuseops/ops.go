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

// Package fuseops contains ops that may be returned by fuse.Connection.ReadOp.
// See documentation in that package for more.
package fuseops

import (
	"os"
	"time"

	"github.com/llfuse/fuse/internal/fusekernel"
)

// OpenFlags are the open(2) flags a file or directory was opened with.
type OpenFlags = fusekernel.OpenFlags

////////////////////////////////////////////////////////////////////////
// Session
////////////////////////////////////////////////////////////////////////

// Sent once, before any other op, when the kernel initializes the
// connection. The file system may inspect the kernel's protocol version and
// capabilities and adjust the writable fields of Conn. There is no way to
// fail it.
type InitOp struct {
	OpContext

	Conn *ConnInfo
}

// Sent when the file system is being unmounted cleanly. No reply is sent to
// the kernel, and no further ops follow.
type DestroyOp struct {
	OpContext
}

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

// Look up a child by name within a parent directory. The kernel sends this
// when resolving user paths to dentry structs, which are then cached.
//
// Each successful lookup increments the lookup count of the child inode by
// one; the count is decremented again by ForgetInodeOp.
type LookUpInodeOp struct {
	OpContext

	// The ID of the directory inode to which the child belongs.
	Parent InodeID

	// The name of the child of interest, relative to the parent.
	Name string

	// Set by the file system: the resulting entry.
	Entry ChildInodeEntry
}

// Refresh the attributes for an inode whose ID was previously returned in a
// LookUpInodeOp. The kernel sends this when the FUSE VFS layer's cache of
// inode attributes is stale. This is controlled by the AttributesExpiration
// field of ChildInodeEntry, etc.
type GetInodeAttributesOp struct {
	OpContext

	// The inode of interest.
	Inode InodeID

	// The handle through which the attributes are requested, for fstat(2), or
	// nil.
	Handle *HandleID

	// Set by the file system: attributes for the inode, and the time at which
	// they should expire. See notes on ChildInodeEntry.AttributesExpiration for
	// more.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// Change attributes for an inode.
//
// The kernel sends this for obvious cases like chmod(2), and for less obvious
// cases like ftrunctate(2).
type SetInodeAttributesOp struct {
	OpContext

	// The inode of interest.
	Inode InodeID

	// If set, this is ftruncate(2) or similar, otherwise truncate(2) or
	// similar.
	Handle *HandleID

	// The attributes to modify, or nil for attributes that don't need a change.
	Size  *uint64
	Mode  *os.FileMode
	Uid   *uint32
	Gid   *uint32
	Atime *time.Time
	Mtime *time.Time
	Ctime *time.Time

	// Set instead of Atime or Mtime when the user asked for the current time
	// (UTIME_NOW). The file system supplies its own clock's reading.
	AtimeNow bool
	MtimeNow bool

	// Set by the file system: the new attributes for the inode, and the time at
	// which they should expire. See notes on
	// ChildInodeEntry.AttributesExpiration for more.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// Decrement the reference count for an inode ID previously issued by the file
// system.
//
// The comments for the ops that implicitly increment the reference count
// contain a note of this (but see also the note about the root inode below).
// For example, LookUpInodeOp and MkDirOp. The authoritative source is the
// libfuse documentation, which states that any op that returns
// fuse_reply_entry fuse_reply_create implicitly increments (cf.
// http://goo.gl/o5C7Dx).
//
// If the reference count hits zero, the file system can forget about that ID
// entirely, and even re-use it in future responses. The kernel guarantees
// that it will not otherwise use it again.
//
// The reference count corresponds to fuse_inode::nlookup
// (http://goo.gl/ut48S4). Some examples of where the kernel manipulates it:
//
//   - (http://goo.gl/vPD9Oh) Any caller to fuse_iget increases the count.
//   - (http://goo.gl/B6tTTC) fuse_lookup_name calls fuse_iget.
//   - (http://goo.gl/IlcxWv) fuse_create_open calls fuse_iget.
//   - (http://goo.gl/VQMQul) fuse_dentry_revalidate increments after
//     revalidating.
//
// In contrast to all other inodes, RootInodeID begins with an implicit
// lookup count of one, without a corresponding op to increase it. (There
// could be no such op, because the root cannot be referred to by name.) Code
// walk:
//
//   - (http://goo.gl/gWAheU) fuse_fill_super calls fuse_get_root_inode.
//
//   - (http://goo.gl/AoLsbb) fuse_get_root_inode calls fuse_iget without
//     sending any particular request.
//
//   - (http://goo.gl/vPD9Oh) fuse_iget increments nlookup.
//
// File systems should tolerate but not rely on receiving forget ops for
// remaining inodes when the file system unmounts, including the root inode.
// Rather they should take fuse.Connection.ReadOp returning io.EOF as
// implicitly decrementing all lookup counts to zero.
//
// No reply is sent to the kernel for this op.
type ForgetInodeOp struct {
	OpContext

	// The inode whose reference count should be decremented.
	Inode InodeID

	// The amount to decrement the reference count.
	N uint64
}

// BatchForgetEntry is one element of a BatchForgetOp.
type BatchForgetEntry struct {
	Inode InodeID
	N     uint64
}

// Decrement the reference counts of several inodes at once. Equivalent to a
// ForgetInodeOp for each entry, and likewise unanswered.
type BatchForgetOp struct {
	OpContext

	Entries []BatchForgetEntry
}

////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////

// Create a directory inode as a child of an existing directory inode. The
// kernel sends this in response to a mkdir(2) call.
//
// The Linux kernel appears to verify the name doesn't already exist (mkdir
// calls mkdirat calls user_path_create calls filename_create, which verifies:
// http://goo.gl/FZpLu5). Indirectly, that references lookup_hash, which calls
// LookUpInodeOp on the name. But volatile file systems should check anyway.
//
// Therefore the file system should return EEXIST if the name already exists.
type MkDirOp struct {
	OpContext

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	// os.ModeDir is always set.
	Name string
	Mode os.FileMode

	// The umask of the calling process. The kernel has already applied it to
	// Mode unless the file system supports POSIX ACLs.
	Umask os.FileMode

	// Set by the file system: information about the inode that was created.
	//
	// The lookup count for the inode is implicitly incremented. See notes on
	// ForgetInodeOp for more information.
	Entry ChildInodeEntry
}

// Create a file inode as a child of an existing directory inode. The kernel
// sends this in response to a mknod(2) call. It may also be sent in some
// cases when the file system doesn't implement CreateFileOp.
//
// The file system should return EEXIST if the name already exists.
type MkNodeOp struct {
	OpContext

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name  string
	Mode  os.FileMode
	Umask os.FileMode

	// The device number, for device nodes.
	Rdev uint32

	// Set by the file system: information about the inode that was created.
	//
	// The lookup count for the inode is implicitly incremented. See notes on
	// ForgetInodeOp for more information.
	Entry ChildInodeEntry
}

// Create a file inode and open it.
//
// The kernel sends this when the user asks to open a file with the O_CREAT
// flag and the kernel has observed that the file doesn't exist. (See for
// example lookup_open, http://goo.gl/PlqE9d). However, it's not sufficient
// for the file system to assume the name doesn't exist; volatile file systems
// should check and return EEXIST.
type CreateFileOp struct {
	OpContext

	// The ID of parent directory inode within which to create the child file.
	Parent InodeID

	// The name of the child to create, and the mode with which to create it.
	Name  string
	Mode  os.FileMode
	Umask os.FileMode

	// The flags passed to open(2).
	OpenFlags OpenFlags

	// Set by the file system: information about the inode that was created.
	//
	// The lookup count for the inode is implicitly incremented. See notes on
	// ForgetInodeOp for more information.
	Entry ChildInodeEntry

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this file using the same struct file in the kernel. In practice
	// this usually means follow-up calls using the file descriptor returned by
	// open(2).
	//
	// The handle may be supplied in future ops like ReadFileOp that contain a
	// file handle. The file system must ensure this ID remains valid until a
	// later call to ReleaseFileHandle.
	Handle HandleID

	// Set by the file system: options for the open file, as for OpenFileOp.
	KeepPageCache bool
	UseDirectIO   bool
	NonSeekable   bool
}

// Create a symlink inode. If the name already exists, the file system should
// return EEXIST (cf. the notes on CreateFileOp and MkDirOp).
type CreateSymlinkOp struct {
	OpContext

	// The ID of parent directory inode within which to create the child symlink.
	Parent InodeID

	// The name of the symlink to create.
	Name string

	// The target of the symlink.
	Target string

	// Set by the file system: information about the symlink inode that was
	// created.
	//
	// The lookup count for the inode is implicitly incremented. See notes on
	// ForgetInodeOp for more information.
	Entry ChildInodeEntry
}

// Create a hard link to an inode. If the name already exists, the file system
// should return EEXIST (cf. the notes on CreateFileOp and MkDirOp).
type CreateLinkOp struct {
	OpContext

	// The ID of parent directory inode within which to create the child.
	Parent InodeID

	// The name of the new inode.
	Name string

	// The ID of the target inode.
	Target InodeID

	// Set by the file system: information about the inode that was created.
	//
	// The lookup count for the inode is implicitly incremented. See notes on
	// ForgetInodeOp for more information.
	Entry ChildInodeEntry
}

////////////////////////////////////////////////////////////////////////
// Unlinking
////////////////////////////////////////////////////////////////////////

// RenameFlags modify the behavior of a RenameOp, as for renameat2(2).
type RenameFlags uint32

const (
	// Fail with EEXIST rather than replace an existing target.
	RenameNoReplace RenameFlags = fusekernel.RenameNoReplace

	// Atomically swap the source and the target, which must both exist.
	RenameExchange RenameFlags = fusekernel.RenameExchange

	// Leave a whiteout in place of the source (overlay file systems).
	RenameWhiteout RenameFlags = fusekernel.RenameWhiteout
)

// Rename a file or directory, given the IDs of the original parent directory
// and the new one (which may be the same).
//
// In Linux, this is called by vfs_rename (https://goo.gl/eERItT), which is
// called by sys_renameat2 (https://goo.gl/fCC9qC).
//
// The kernel takes care of ensuring that the source and destination are not
// identical (in which case it does nothing), that the rename is not across
// file system boundaries, and that the destination doesn't already exist with
// the wrong type. Some subtleties that the file system must care about:
//
//   - If the new name is an existing directory, the file system must ensure it
//     is empty before replacing it, returning ENOTEMPTY otherwise. (This is
//     per the posix spec: http://goo.gl/4XtT79)
//
//   - The rename must be atomic from the point of view of an observer of the
//     new name. That is, if the new name already exists, there must be no
//     point at which it doesn't exist.
//
//   - It is okay for the new name to be modified before the old name is
//     removed; these need not be atomic. In fact, the Linux man page
//     explicitly says this is likely (cf. https://goo.gl/Y1wVZc).
//
//   - Linux bends over backwards (https://goo.gl/pLDn3r) to ensure that
//     neither the old nor the new parent can be concurrently modified. But
//     it's not clear whether OS X does this, and in any case it doesn't matter
//     for file systems that may be modified remotely. Therefore a careful file
//     system implementor should probably ensure if possible that the unlink
//     step in the "link new name, unlink old name" process doesn't unlink a
//     different inode than the one that was linked to the new name. Still,
//     posix and the man pages are imprecise about the actual semantics of a
//     rename if it's not atomic, so it is probably not disastrous to be loose
//     about this.
type RenameOp struct {
	OpContext

	// The old parent directory, and the name of the entry within it to be
	// relocated.
	OldParent InodeID
	OldName   string

	// The new parent directory, and the name of the entry to be created or
	// overwritten within it.
	NewParent InodeID
	NewName   string

	// Flags from renameat2(2). File systems that don't understand a flag
	// should return EINVAL or ENOTSUP.
	Flags RenameFlags
}

// Unlink a directory from its parent. Because directories cannot have a link
// count above one, this means the directory inode should be deleted as well
// once the kernel sends ForgetInodeOp.
//
// The file system is responsible for checking that the directory is empty.
//
// Sample implementation in ext2: ext2_rmdir (http://goo.gl/B9QmFf)
type RmDirOp struct {
	OpContext

	// The ID of parent directory inode, and the name of the directory being
	// removed within it.
	Parent InodeID
	Name   string
}

// Unlink a file or symlink from its parent. If this brings the inode's link
// count to zero, the inode should be deleted once the kernel sends
// ForgetInodeOp. It may still be referenced before then if a user still has
// the file open.
//
// Sample implementation in ext2: ext2_unlink (http://goo.gl/hY6r6C)
type UnlinkOp struct {
	OpContext

	// The ID of parent directory inode, and the name of the entry being removed
	// within it.
	Parent InodeID
	Name   string
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

// Open a directory inode.
//
// On Linux the kernel sends this when setting up a struct file for a
// particular inode with type directory, usually in response to an open(2)
// call from a user-space process.
type OpenDirOp struct {
	OpContext

	// The ID of the inode to be opened.
	Inode InodeID

	// The flags passed to open(2).
	OpenFlags OpenFlags

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this directory using the same struct file in the kernel. In
	// practice this usually means follow-up calls using the file descriptor
	// returned by open(2).
	//
	// The handle may be supplied in future ops like ReadDirOp that contain a
	// directory handle. The file system must ensure this ID remains valid until
	// a later call to ReleaseDirHandle.
	Handle HandleID

	// Set by the file system: keep the kernel's cache of the directory's
	// contents from a previous open, and allow the kernel to cache the
	// contents returned by this one.
	KeepCache bool
	CacheDir  bool
}

// Read entries from a directory previously opened with OpenDir.
type ReadDirOp struct {
	OpContext

	// The directory inode that we are reading, and the handle previously
	// returned by OpenDir when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset within the directory at which to read.
	//
	// Warning: this field is not necessarily a count of bytes. Its legal values
	// are defined by the results returned in previous ReadDirOps: zero for the
	// start of the directory, otherwise the Offset of some Dirent returned
	// earlier, naming the entry that follows it.
	//
	// FUSE offers no way to intercept seeks (http://goo.gl/H6gEXa), so there
	// is no way to cause seekdir or rewinddir to fail, and no way to tell an
	// explicit rewinddir from the initial read. Posix only requires that
	// rewinddir results in something that looks like a newly-opened
	// directory, so file systems may e.g. cache an entire fresh listing for
	// each ReadDir with a zero offset, and return array offsets into that
	// cached listing.
	Offset DirOffset

	// Set when the kernel asked for readdirplus: each record must then be
	// written with fuseutil.WriteDirentPlus, carrying a full entry. The lookup
	// count of every returned inode other than "." and ".." is incremented.
	Plus bool

	// The destination buffer, whose length gives the size of the read.
	//
	// The output data should consist of a sequence of FUSE directory entries in
	// the format generated by fuse_add_direntry (http://goo.gl/qCcHCV), which is
	// consumed by parse_dirfile (http://goo.gl/2WUmD2). Use fuseutil.DirBuffer
	// or fuseutil.WriteDirent to generate this data.
	//
	// Entries must never be truncated. Each entry returned exposes a directory
	// offset to the user that may later show up in ReadDirOp.Offset. See notes
	// on that field for more information.
	Dst []byte

	// Set by the file system: the number of bytes read into Dst. Zero
	// indicates the end of the directory has been reached.
	BytesRead int
}

// Release a previously-minted directory handle. The kernel sends this when
// there are no more references to an open directory: all file descriptors are
// closed and all memory mappings are unmapped.
//
// The kernel guarantees that the handle ID will not be used in further ops
// sent to the file system (unless it is reissued by the file system).
//
// Errors from this op are not returned to the user; see
// fuse.MountConfig.HandleErrorPolicy.
type ReleaseDirHandleOp struct {
	OpContext

	// The handle ID to be released.
	Handle HandleID
}

// Synchronize the contents of a directory to storage. Sent by fsync(2) on a
// directory file descriptor.
type SyncDirOp struct {
	OpContext

	Inode  InodeID
	Handle HandleID

	// Set for fdatasync(2): only the contents need to be flushed, not the
	// metadata.
	DataOnly bool
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

// Open a file inode.
//
// On Linux the kernel sends this when setting up a struct file for a
// particular inode with type file, usually in response to an open(2) call
// from a user-space process.
type OpenFileOp struct {
	OpContext

	// The ID of the inode to be opened.
	Inode InodeID

	// The flags passed to open(2). O_CREAT, O_EXCL and O_NOCTTY have been
	// filtered out by the kernel.
	OpenFlags OpenFlags

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this file using the same struct file in the kernel. In practice
	// this usually means follow-up calls using the file descriptor returned by
	// open(2).
	//
	// The handle may be supplied in future ops like ReadFileOp that contain a
	// file handle. The file system must ensure this ID remains valid until a
	// later call to ReleaseFileHandle.
	Handle HandleID

	// By default, fuse invalidates the kernel's page cache for an inode when a
	// new file handle is opened for that inode (cf. https://goo.gl/2rZ9uk). The
	// intent appears to be to allow users to "see" content that has changed
	// remotely on a networked file system by re-opening the file.
	//
	// For file systems where this is not a concern because all modifications
	// for a particular inode go through the kernel, set this field to true to
	// disable this behavior.
	KeepPageCache bool

	// Whether to use direct IO for this file handle, bypassing the page cache.
	UseDirectIO bool

	// Whether the file is a stream that can't be seeked, like a pipe.
	NonSeekable bool
}

// Read data from a file previously opened with CreateFile or OpenFile.
//
// Note that this op is not sent for every call to read(2) by the end user;
// some reads may be served by the page cache. See notes on WriteFileOp for
// more.
type ReadFileOp struct {
	OpContext

	// The file inode that we are reading, and the handle previously returned by
	// CreateFile or OpenFile when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset within the file at which to read.
	Offset int64

	// The destination buffer, whose length gives the size of the read.
	Dst []byte

	// Set by the file system: the number of bytes read.
	//
	// The FUSE documentation requires that exactly the requested number of
	// bytes be returned, except in the case of EOF or error
	// (http://goo.gl/ZgfBkF). It uses the inode size, returned by a previous
	// LookUpInode, GetInodeAttributes, etc., to know where EOF is. A read
	// beyond EOF is not an error: leave this at zero.
	BytesRead int

	// The open(2) flags of the handle, and the lock owner if the kernel
	// supplied one.
	OpenFlags OpenFlags
	LockOwner *uint64
}

// Write data to a file previously opened with CreateFile or OpenFile.
//
// When the user writes data using write(2), the write goes into the page
// cache and the page is marked dirty. Later the kernel may write back the
// page via the FUSE VFS layer, causing this op to be sent:
//
//   - The kernel calls address_space_operations::writepage when a dirty page
//     needs to be written to backing store (cf. http://goo.gl/Ezbewg). Fuse
//     sets this to fuse_writepage (cf. http://goo.gl/IeNvLT).
//
//   - (http://goo.gl/Eestuy) fuse_writepage calls fuse_writepage_locked.
//
//   - (http://goo.gl/RqYIxY) fuse_writepage_locked makes a write request to
//     the userspace server.
//
// Note that the kernel *will* ensure that writes are received and acknowledged
// by the file system before sending a FlushFileOp when closing the file
// descriptor to which they were written.
type WriteFileOp struct {
	OpContext

	// The file inode that we are modifying, and the handle previously returned
	// by CreateFile or OpenFile when opening that inode.
	Inode  InodeID
	Handle HandleID

	// The offset at which to write the data below.
	//
	// If the offset is greater than the current size, the file is extended
	// with zeroes until it is not, and a later read of the gap returns them.
	Offset int64

	// The data to write.
	//
	// The FUSE documentation requires that exactly the number of bytes supplied
	// be written, except on error (http://goo.gl/KUpwwn). This appears to be
	// because it uses file mmapping machinery (http://goo.gl/SGxnaN) to write a
	// page at a time.
	//
	// Data refers to storage that is reused once the op is replied to.
	Data []byte

	// Set for a delayed write from the page cache, in which case the PID and
	// lock owner don't identify the writer.
	WritePage bool

	OpenFlags OpenFlags
	LockOwner *uint64

	// Set by the file system to report a short write. If nil, all of Data is
	// reported written. Values outside [0, len(Data)] are clamped. The kernel
	// only accepts short writes for handles opened with UseDirectIO.
	BytesWritten *int
}

// Synchronize the current contents of an open file to storage.
//
// vfs.txt documents this as being called for by the fsync(2) system call
// (cf. http://goo.gl/j9X8nB). Note that this is also sent by fdatasync(2)
// (cf. http://goo.gl/01R7rF), and may be sent for msync(2) with the MS_SYNC
// flag (see the notes on FlushFileOp).
//
// See also: FlushFileOp, which may perform a similar function when closing a
// file (but which is not used in "real" file systems).
type SyncFileOp struct {
	OpContext

	// The file and handle being sync'd.
	Inode  InodeID
	Handle HandleID

	// Set for fdatasync(2).
	DataOnly bool
}

// Flush the current state of an open file to storage upon closing a file
// descriptor.
//
// vfs.txt documents this as being sent for each close(2) system call (cf.
// http://goo.gl/FSkbrq). Code walk for that case:
//
//   - (http://goo.gl/e3lv0e) sys_close calls __close_fd, calls filp_close.
//   - (http://goo.gl/nI8fxD) filp_close calls f_op->flush (fuse_flush).
//
// But note that this is also sent in other contexts where a file descriptor is
// closed, such as dup2(2) (cf. http://goo.gl/NQDvFS). In the case of close(2),
// a flush error is returned to the user. For dup2(2), it is not.
//
// Because of cases like dup2(2), FlushFileOps are not necessarily one to one
// with OpenFileOps. They should not be used for reference counting, and the
// handle must remain valid even after the flush op is received (use
// ReleaseFileHandleOp for disposing of it).
type FlushFileOp struct {
	OpContext

	// The file and handle being flushed.
	Inode  InodeID
	Handle HandleID

	// The lock owner of the closing file descriptor.
	LockOwner uint64
}

// Release a previously-minted file handle. The kernel calls this when there
// are no more references to an open file: all file descriptors are closed
// and all memory mappings are unmapped.
//
// The kernel guarantees that the handle ID will not be used in further calls
// to the file system (unless it is reissued by the file system).
//
// Errors from this op are not returned to the user; see
// fuse.MountConfig.HandleErrorPolicy.
type ReleaseFileHandleOp struct {
	OpContext

	// The handle ID to be released.
	Handle HandleID

	// The open(2) flags of the handle.
	OpenFlags OpenFlags

	// Set when the kernel asks for a flush along with the release.
	Flush bool

	// Set when flock(2) locks held by LockOwner should be released.
	FlockRelease bool
	LockOwner    uint64
}

// Allocate or deallocate a range of an open file, as for fallocate(2).
type FallocateOp struct {
	OpContext

	// The file and handle being allocated.
	Inode  InodeID
	Handle HandleID

	// The range of the file, and the fallocate(2) mode flags.
	Offset uint64
	Length uint64
	Mode   uint32
}

////////////////////////////////////////////////////////////////////////
// Reading symlinks
////////////////////////////////////////////////////////////////////////

// Read the target of a symlink inode.
type ReadSymlinkOp struct {
	OpContext

	// The symlink inode that we are reading.
	Inode InodeID

	// Set by the file system: the target of the symlink.
	Target string
}

////////////////////////////////////////////////////////////////////////
// eXtended attributes
////////////////////////////////////////////////////////////////////////

// XattrFlags modify the behavior of a SetXattrOp, as for setxattr(2).
type XattrFlags uint32

const (
	// Fail with EEXIST if the attribute already exists.
	XattrCreate XattrFlags = fusekernel.XattrCreate

	// Fail with ENOATTR if the attribute doesn't exist.
	XattrReplace XattrFlags = fusekernel.XattrReplace
)

// Remove an extended attribute.
//
// This is sent in response to removexattr(2). Return ENOATTR if the
// extended attribute does not exist.
type RemoveXattrOp struct {
	OpContext

	// The inode that we are removing an extended attribute from.
	Inode InodeID

	// The name of the extended attribute.
	Name string
}

// Get an extended attribute.
//
// This is sent in response to getxattr(2). Return ENOATTR if the
// extended attribute does not exist.
type GetXattrOp struct {
	OpContext

	// The inode whose extended attribute we are reading.
	Inode InodeID

	// The name of the extended attribute.
	Name string

	// The destination buffer. If the size is too small for the value, the
	// file system should return ERANGE (see fuseutil.ReplyXattr).
	//
	// An empty Dst means the caller is asking how large a buffer it needs: set
	// BytesRead to the size of the value without writing anything.
	Dst []byte

	// Set by the file system: the number of bytes read into Dst, or the
	// required size if Dst is empty.
	BytesRead int
}

// List all the extended attributes for a file.
//
// This is sent in response to listxattr(2).
type ListXattrOp struct {
	OpContext

	// The inode whose extended attributes we are listing.
	Inode InodeID

	// The destination buffer. If the size is too small for the list, the
	// file system should return ERANGE.
	//
	// The output data should consist of a sequence of NUL-terminated strings,
	// one for each xattr.
	//
	// An empty Dst means the caller is asking how large a buffer it needs: set
	// BytesRead to the size of the list without writing anything.
	Dst []byte

	// Set by the file system: the number of bytes read into Dst, or the
	// required size if Dst is empty.
	BytesRead int
}

// Set an extended attribute.
//
// This is sent in response to setxattr(2). Return ENOSPC if there is
// insufficient space remaining to store the extended attribute.
type SetXattrOp struct {
	OpContext

	// The inode whose extended attribute we are setting.
	Inode InodeID

	// The name of the extended attribute
	Name string

	// The value to for the extened attribute.
	Value []byte

	// If Flags is XattrCreate, return EEXIST if the extended attribute already
	// exists. If Flags is XattrReplace, return ENOATTR if the extended
	// attribute does not exist. Otherwise the attribute is created or
	// replaced.
	Flags XattrFlags
}

////////////////////////////////////////////////////////////////////////
// Miscellaneous
////////////////////////////////////////////////////////////////////////

// Return statistics about the file system's capacity and available resources.
//
// Called by statfs(2) and friends:
//
//   - (https://goo.gl/Xi1lDr) sys_statfs called user_statfs, which calls
//     vfs_statfs, which calls statfs_by_dentry.
//
//   - (https://goo.gl/VAIOwU) statfs_by_dentry calls the superblock
//     operation statfs, which in our case is fuse_statfs_send.
//
//   - (https://goo.gl/FSPLmj) fuse_statfs_send sends a FUSE_STATFS message.
//
// Leaving the fields at their zero values is valid: df(1) then shows an
// empty file system.
type StatFSOp struct {
	OpContext

	// The size of the file system's blocks. This may be used, in combination
	// with the block counts below, by callers of statfs(2) to infer the file
	// system's capacity and space availability.
	//
	// On Linux this is surfaced as statfs::f_frsize, matching the posix standard
	// (http://goo.gl/LktgrF), which says that f_blocks and friends are in units
	// of f_frsize.
	BlockSize uint32

	// The total number of blocks in the file system, the number of unused
	// blocks, and the count of the latter that are available for use by non-root
	// users.
	//
	// For each category, the corresponding number of bytes is derived by
	// multiplying by BlockSize.
	Blocks          uint64
	BlocksFree      uint64
	BlocksAvailable uint64

	// The preferred size of writes to and reads from the file system, in bytes.
	// This may affect clients that use statfs(2) to size buffers correctly. It
	// does not appear to influence the size of writes sent from the kernel to
	// the file system daemon.
	//
	// On Linux this is surfaced as statfs::f_bsize.
	IoSize uint32

	// The total number of inodes in the file system, and how many remain free.
	Inodes     uint64
	InodesFree uint64

	// The maximum length of a name within the file system, or zero for 255.
	NameLen uint32
}

// Check file access permissions, as for access(2). Not sent when the file
// system is mounted with default_permissions, which is the default.
type AccessOp struct {
	OpContext

	Inode InodeID

	// The access(2) mask: some combination of R_OK, W_OK and X_OK, or F_OK.
	Mask uint32
}
