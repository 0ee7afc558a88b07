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

package fuseops

import (
	"fmt"
	"os"
	"time"
)

// InodeID is a 64-bit number used to uniquely identify a file or directory in
// the file system. File systems may mint inode IDs with any value except for
// RootInodeID.
//
// This corresponds to struct inode::i_no in the VFS layer.
// (Cf. http://goo.gl/tvYyQt)
type InodeID uint64

// RootInodeID is a distinguished inode ID that identifies the root of the
// file system, e.g. in an OpenDirOp or LookUpInodeOp. Unlike all other inode
// IDs, which are minted by the file system, the FUSE VFS layer may send a
// request for this ID without the file system ever having referenced it in a
// previous response. It is never forgotten.
const RootInodeID = 1

// GenerationNumber represents a generation of an inode. It is irrelevant for
// file systems that won't be exported over NFS. For those that will and that
// reuse inode IDs when they become free, the generation number must change
// when an ID is reused.
type GenerationNumber uint64

// HandleID is an opaque 64-bit number used to identify a particular open
// handle to a file or directory.
//
// This corresponds to fuse_file_info::fh. Zero means "no handle": the kernel
// sends it when the file system never set one, and HandleTable never mints
// it.
type HandleID uint64

// DirOffset is an offset into an open directory handle. It is opaque to FUSE,
// and can be used for whatever purpose the file system desires. See notes on
// ReadDirOp.Offset for details.
type DirOffset uint64

// OpContext contains extra context that may be needed by some file systems.
// It is the same for every op type and is embedded in each.
type OpContext struct {
	// FuseID is the Unique field of the kernel's request header. It is the
	// value an interrupt names when asking to abandon the request.
	FuseID uint64

	// PID of the process that is invoking the operation. Not necessarily the
	// process that opened the file: the kernel may pass along a worker's PID
	// for writeback.
	Pid uint32

	// UID and GID of the process that is invoking the operation.
	Uid uint32
	Gid uint32
}

// InodeAttributes contains attributes for a file or directory inode. It
// corresponds to struct inode (cf. http://goo.gl/tvYyQt). The zero value is
// a valid, empty set of attributes.
type InodeAttributes struct {
	Size uint64

	// The number of incoming hard links to this inode.
	Nlink uint32

	// The mode of the inode. This is exposed to the user in e.g. the result of
	// fstat(2).
	//
	// Note that in contrast to the defaults for FUSE, this package mounts file
	// systems in a manner such that the kernel checks inode permissions in the
	// standard posix way. This is implemented by setting the default_permissions
	// mount option (cf. http://goo.gl/1LxOop and http://goo.gl/1pTjuk).
	//
	// For example, in the case of mkdir:
	//
	//  *  (http://goo.gl/JkdxDI) sys_mkdirat calls inode_permission.
	//
	//  *  (...) inode_permission calls generic_permission via
	//     do_inode_permission.
	//
	//  *  (http://goo.gl/5Wxz8r) generic_permission calls acl_permission_check,
	//     which consults the inode's mode.
	//
	// Note that the two least significant bits of the mode are ignored by the
	// kernel for directories; see the notes on MkDirOp.Mode.
	Mode os.FileMode

	// The device number. Only valid for device nodes.
	Rdev uint32

	// Time information. See `man 2 stat` for full details.
	Atime  time.Time // Time of last access
	Mtime  time.Time // Time of last modification
	Ctime  time.Time // Time of last modification to inode
	Crtime time.Time // Time of creation (OS X only)

	// Ownership information
	Uid uint32
	Gid uint32

	// The preferred block size for I/O, or zero for the kernel's default.
	BlockSize uint32
}

func (a *InodeAttributes) DebugString() string {
	return fmt.Sprintf(
		"%d %d %v %d %d",
		a.Size,
		a.Nlink,
		a.Mode,
		a.Uid,
		a.Gid)
}

// ChildInodeEntry contains information about a child inode within its parent
// directory. It is shared by LookUpInodeOp, MkDirOp, CreateFileOp, etc, and
// is consumed by the kernel in order to set up a dcache entry.
type ChildInodeEntry struct {
	// The ID of the child inode. The file system must ensure that the returned
	// inode ID remains valid until a later ForgetInodeOp.
	Child InodeID

	// A generation number for this incarnation of the inode with the given ID.
	// See comments on type GenerationNumber for more.
	Generation GenerationNumber

	// Current attributes for the child inode.
	//
	// When creating a new inode, the file system is responsible for initializing
	// and recording (where supported) attributes like time information,
	// ownership information, etc.
	//
	// Ownership information in particular must be set to something reasonable or
	// by default root will own everything and unprivileged users won't be able
	// to do anything useful. In traditional file systems in the kernel, the
	// function inode_init_owner (http://goo.gl/5qavg8) contains the
	// standards-compliant logic for this.
	Attributes InodeAttributes

	// The FUSE VFS layer in the kernel maintains a cache of file attributes,
	// used whenever up to date information about size, mode, etc. is needed.
	//
	// For example, this is the abridged call chain for fstat(2):
	//
	//  *  (http://goo.gl/tKBH1p) fstat calls vfs_fstat.
	//  *  (http://goo.gl/3HeITq) vfs_fstat eventuall calls vfs_getattr_nosec.
	//  *  (http://goo.gl/DccFQr) vfs_getattr_nosec calls i_op->getattr.
	//  *  (http://goo.gl/dpKkst) fuse_getattr calls fuse_update_attributes.
	//  *  (http://goo.gl/yNlqPw) fuse_update_attributes uses the values in the
	//     struct inode if allowed, otherwise calling out to the user-space code.
	//
	// In addition to obvious cases like fstat, this is also used in more subtle
	// cases like updating size information before seeking (http://goo.gl/2nnMFa)
	// or reading (http://goo.gl/FQSWs8).
	//
	// This field controls when the attributes returned in this response and
	// stashed in the struct inode should be re-queried. Leave at the zero value
	// to disable caching.
	AttributesExpiration time.Time

	// The time until which the kernel may maintain an entry for this name to
	// inode mapping in its dentry cache. After this time, it will revalidate the
	// dentry. Leave at the zero value to disable caching.
	EntryExpiration time.Time
}

// SetExpiration sets both cache deadlines of e relative to now. A
// non-positive duration disables the corresponding cache.
func (e *ChildInodeEntry) SetExpiration(
	now time.Time,
	attrTTL time.Duration,
	entryTTL time.Duration) {
	e.AttributesExpiration = time.Time{}
	if attrTTL > 0 {
		e.AttributesExpiration = now.Add(attrTTL)
	}

	e.EntryExpiration = time.Time{}
	if entryTTL > 0 {
		e.EntryExpiration = now.Add(entryTTL)
	}
}
