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

// Package fusekernel contains the structures exchanged with the Linux fuse
// kernel module over /dev/fuse, mirroring include/uapi/linux/fuse.h at
// protocol version 7.31.
//
// Field names follow the C header with the usual Go capitalization. All
// structs are laid out exactly as the kernel expects them on amd64 and arm64,
// so the wire codec casts pointers into message buffers directly.
package fusekernel

import (
	"fmt"
	"strings"
	"unsafe"
)

// The FUSE version implemented by the package.
const (
	ProtoVersionMinMajor = 7
	ProtoVersionMinMinor = 12
	ProtoVersionMaxMajor = 7
	ProtoVersionMaxMinor = 31
)

// The ID of the root of the file system, as seen by the kernel.
const RootID = 1

// Limits on the size of the data carried by reads and writes. The kernel
// splits larger requests.
const (
	MaxReadSize  = 1 << 20
	MaxWriteSize = 1 << 20

	// The maximum value for InitOut.MaxPages that the kernel accepts.
	MaxMaxPages = 256
)

// A Protocol is a FUSE protocol version number.
type Protocol struct {
	Major uint32
	Minor uint32
}

func (p Protocol) String() string {
	return fmt.Sprintf("%d.%d", p.Major, p.Minor)
}

// LT returns whether a is less than b.
func (a Protocol) LT(b Protocol) bool {
	return a.Major < b.Major ||
		(a.Major == b.Major && a.Minor < b.Minor)
}

// GE returns whether a is greater than or equal to b.
func (a Protocol) GE(b Protocol) bool {
	return a.Major > b.Major ||
		(a.Major == b.Major && a.Minor >= b.Minor)
}

func (a Protocol) is79() bool {
	return a.GE(Protocol{7, 9})
}

// HasAttrBlockSize returns whether Attr.BlockSize is respected by the
// kernel.
func (a Protocol) HasAttrBlockSize() bool {
	return a.is79()
}

// HasReadWriteFlags returns whether ReadRequest/WriteRequest fields Flags and
// FileFlags are valid.
func (a Protocol) HasReadWriteFlags() bool {
	return a.is79()
}

// HasGetattrFlags returns whether GetattrRequest field Flags is valid.
func (a Protocol) HasGetattrFlags() bool {
	return a.is79()
}

// HasUmask returns whether CreateIn, MknodIn and MkdirIn carry a umask.
func (a Protocol) HasUmask() bool {
	return a.GE(Protocol{7, 12})
}

// HasInitOutMaxPages returns whether the longer InitOut, with MaxPages and
// TimeGran honoured, is understood.
func (a Protocol) HasInitOutMaxPages() bool {
	return a.GE(Protocol{7, 23})
}

// HasInvalidate returns whether InvalidateNode/InvalidateEntry are
// supported.
func (a Protocol) HasInvalidate() bool {
	return a.GE(Protocol{7, 12})
}

////////////////////////////////////////////////////////////////////////
// Attributes
////////////////////////////////////////////////////////////////////////

// Attr is struct fuse_attr.
type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint32
	Blksize   uint32
	Padding   uint32
}

// Kstatfs is struct fuse_kstatfs.
type Kstatfs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
	Padding uint32
	Spare   [6]uint32
}

// GetattrFlags are bit flags that can be seen in GetattrIn.
type GetattrFlags uint32

const (
	GetattrFh GetattrFlags = 1 << 0
)

// SetattrValid are bit flags describing which fields in SetattrIn are
// included in the change.
type SetattrValid uint32

const (
	SetattrMode      SetattrValid = 1 << 0
	SetattrUid       SetattrValid = 1 << 1
	SetattrGid       SetattrValid = 1 << 2
	SetattrSize      SetattrValid = 1 << 3
	SetattrAtime     SetattrValid = 1 << 4
	SetattrMtime     SetattrValid = 1 << 5
	SetattrHandle    SetattrValid = 1 << 6
	SetattrAtimeNow  SetattrValid = 1 << 7
	SetattrMtimeNow  SetattrValid = 1 << 8
	SetattrLockOwner SetattrValid = 1 << 9
	SetattrCtime     SetattrValid = 1 << 10
)

func (fl SetattrValid) Mode() bool      { return fl&SetattrMode != 0 }
func (fl SetattrValid) Uid() bool       { return fl&SetattrUid != 0 }
func (fl SetattrValid) Gid() bool       { return fl&SetattrGid != 0 }
func (fl SetattrValid) Size() bool      { return fl&SetattrSize != 0 }
func (fl SetattrValid) Atime() bool     { return fl&SetattrAtime != 0 }
func (fl SetattrValid) Mtime() bool     { return fl&SetattrMtime != 0 }
func (fl SetattrValid) Handle() bool    { return fl&SetattrHandle != 0 }
func (fl SetattrValid) AtimeNow() bool  { return fl&SetattrAtimeNow != 0 }
func (fl SetattrValid) MtimeNow() bool  { return fl&SetattrMtimeNow != 0 }
func (fl SetattrValid) LockOwner() bool { return fl&SetattrLockOwner != 0 }
func (fl SetattrValid) Ctime() bool     { return fl&SetattrCtime != 0 }

////////////////////////////////////////////////////////////////////////
// Flags
////////////////////////////////////////////////////////////////////////

// OpenFlags are the O_FOO flags passed to open/create/etc calls. For
// example, os.O_WRONLY | os.O_APPEND.
type OpenFlags uint32

const (
	// Access modes. These are not 1-bit flags, but alternatives where only
	// one can be chosen. See the IsReadOnly etc convenience methods.
	OpenReadOnly  OpenFlags = 0x0
	OpenWriteOnly OpenFlags = 0x1
	OpenReadWrite OpenFlags = 0x2

	OpenAccessModeMask OpenFlags = 0x3

	OpenCreate    OpenFlags = 0x40
	OpenExclusive OpenFlags = 0x80
	OpenTruncate  OpenFlags = 0x200
	OpenAppend    OpenFlags = 0x400
	OpenSync      OpenFlags = 0x101000
	OpenDirectory OpenFlags = 0x10000
)

// IsReadOnly returns whether the access mode is O_RDONLY.
func (fl OpenFlags) IsReadOnly() bool {
	return fl&OpenAccessModeMask == OpenReadOnly
}

// IsWriteOnly returns whether the access mode is O_WRONLY.
func (fl OpenFlags) IsWriteOnly() bool {
	return fl&OpenAccessModeMask == OpenWriteOnly
}

// IsReadWrite returns whether the access mode is O_RDWR.
func (fl OpenFlags) IsReadWrite() bool {
	return fl&OpenAccessModeMask == OpenReadWrite
}

func (fl OpenFlags) String() string {
	var parts []string
	switch fl & OpenAccessModeMask {
	case OpenReadOnly:
		parts = append(parts, "O_RDONLY")
	case OpenWriteOnly:
		parts = append(parts, "O_WRONLY")
	case OpenReadWrite:
		parts = append(parts, "O_RDWR")
	default:
		parts = append(parts, fmt.Sprintf("O_ACCMODE(%d)", fl&OpenAccessModeMask))
	}

	names := []struct {
		bit  OpenFlags
		name string
	}{
		{OpenCreate, "O_CREAT"},
		{OpenExclusive, "O_EXCL"},
		{OpenTruncate, "O_TRUNC"},
		{OpenAppend, "O_APPEND"},
		{OpenSync, "O_SYNC"},
		{OpenDirectory, "O_DIRECTORY"},
	}

	for _, n := range names {
		if fl&n.bit == n.bit {
			parts = append(parts, n.name)
		}
	}

	return strings.Join(parts, "+")
}

// OpenResponseFlags tell the kernel how to treat an open file.
type OpenResponseFlags uint32

const (
	OpenDirectIO    OpenResponseFlags = 1 << 0 // bypass page cache for this open file
	OpenKeepCache   OpenResponseFlags = 1 << 1 // don't invalidate the data cache on open
	OpenNonSeekable OpenResponseFlags = 1 << 2 // mark the file as non-seekable
	OpenCacheDir    OpenResponseFlags = 1 << 3 // allow caching of directory entries
)

// InitFlags are capability bits exchanged during the INIT handshake.
type InitFlags uint32

const (
	InitAsyncRead         InitFlags = 1 << 0
	InitPosixLocks        InitFlags = 1 << 1
	InitFileOps           InitFlags = 1 << 2
	InitAtomicTrunc       InitFlags = 1 << 3
	InitExportSupport     InitFlags = 1 << 4
	InitBigWrites         InitFlags = 1 << 5
	InitDontMask          InitFlags = 1 << 6
	InitSpliceWrite       InitFlags = 1 << 7
	InitSpliceMove        InitFlags = 1 << 8
	InitSpliceRead        InitFlags = 1 << 9
	InitFlockLocks        InitFlags = 1 << 10
	InitHasIoctlDir       InitFlags = 1 << 11
	InitAutoInvalData     InitFlags = 1 << 12
	InitDoReaddirplus     InitFlags = 1 << 13
	InitReaddirplusAuto   InitFlags = 1 << 14
	InitAsyncDIO          InitFlags = 1 << 15
	InitWritebackCache    InitFlags = 1 << 16
	InitNoOpenSupport     InitFlags = 1 << 17
	InitParallelDirOps    InitFlags = 1 << 18
	InitHandleKillpriv    InitFlags = 1 << 19
	InitPosixACL          InitFlags = 1 << 20
	InitAbortError        InitFlags = 1 << 21
	InitMaxPages          InitFlags = 1 << 22
	InitCacheSymlinks     InitFlags = 1 << 23
	InitNoOpendirSupport  InitFlags = 1 << 24
	InitExplicitInvalData InitFlags = 1 << 25
)

var initFlagNames = []struct {
	bit  InitFlags
	name string
}{
	{InitAsyncRead, "AsyncRead"},
	{InitPosixLocks, "PosixLocks"},
	{InitFileOps, "FileOps"},
	{InitAtomicTrunc, "AtomicTrunc"},
	{InitExportSupport, "ExportSupport"},
	{InitBigWrites, "BigWrites"},
	{InitDontMask, "DontMask"},
	{InitSpliceWrite, "SpliceWrite"},
	{InitSpliceMove, "SpliceMove"},
	{InitSpliceRead, "SpliceRead"},
	{InitFlockLocks, "FlockLocks"},
	{InitHasIoctlDir, "HasIoctlDir"},
	{InitAutoInvalData, "AutoInvalData"},
	{InitDoReaddirplus, "DoReaddirplus"},
	{InitReaddirplusAuto, "ReaddirplusAuto"},
	{InitAsyncDIO, "AsyncDIO"},
	{InitWritebackCache, "WritebackCache"},
	{InitNoOpenSupport, "NoOpenSupport"},
	{InitParallelDirOps, "ParallelDirOps"},
	{InitHandleKillpriv, "HandleKillpriv"},
	{InitPosixACL, "PosixACL"},
	{InitAbortError, "AbortError"},
	{InitMaxPages, "MaxPages"},
	{InitCacheSymlinks, "CacheSymlinks"},
	{InitNoOpendirSupport, "NoOpendirSupport"},
	{InitExplicitInvalData, "ExplicitInvalData"},
}

func (fl InitFlags) String() string {
	var parts []string
	rest := fl
	for _, n := range initFlagNames {
		if fl&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}

	if rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint32(rest)))
	}

	if len(parts) == 0 {
		return "0"
	}

	return strings.Join(parts, "+")
}

// ReleaseFlags are flags sent with FUSE_RELEASE.
type ReleaseFlags uint32

const (
	ReleaseFlush       ReleaseFlags = 1 << 0
	ReleaseFlockUnlock ReleaseFlags = 1 << 1
)

// WriteFlags are flags sent with FUSE_WRITE.
type WriteFlags uint32

const (
	WriteCache     WriteFlags = 1 << 0 // delayed write from page cache
	WriteLockOwner WriteFlags = 1 << 1 // LockOwner is valid
)

// ReadFlags are flags sent with FUSE_READ.
type ReadFlags uint32

const (
	ReadLockOwner ReadFlags = 1 << 1
)

// FsyncFlags are flags sent with FUSE_FSYNC and FUSE_FSYNCDIR.
type FsyncFlags uint32

const (
	FsyncFdatasync FsyncFlags = 1 << 0
)

// Flags carried by FUSE_RENAME2.
const (
	RenameNoReplace = 1 << 0
	RenameExchange  = 1 << 1
	RenameWhiteout  = 1 << 2
)

// Flags carried by FUSE_SETXATTR.
const (
	XattrCreate  = 1
	XattrReplace = 2
)

////////////////////////////////////////////////////////////////////////
// Opcodes
////////////////////////////////////////////////////////////////////////

// The kernel op codes understood by the package. See the fuse_opcode enum in
// fuse.h.
const (
	OpLookup        = 1
	OpForget        = 2 // no reply
	OpGetattr       = 3
	OpSetattr       = 4
	OpReadlink      = 5
	OpSymlink       = 6
	OpMknod         = 8
	OpMkdir         = 9
	OpUnlink        = 10
	OpRmdir         = 11
	OpRename        = 12
	OpLink          = 13
	OpOpen          = 14
	OpRead          = 15
	OpWrite         = 16
	OpStatfs        = 17
	OpRelease       = 18
	OpFsync         = 20
	OpSetxattr      = 21
	OpGetxattr      = 22
	OpListxattr     = 23
	OpRemovexattr   = 24
	OpFlush         = 25
	OpInit          = 26
	OpOpendir       = 27
	OpReaddir       = 28
	OpReleasedir    = 29
	OpFsyncdir      = 30
	OpGetlk         = 31
	OpSetlk         = 32
	OpSetlkw        = 33
	OpAccess        = 34
	OpCreate        = 35
	OpInterrupt     = 36
	OpBmap          = 37
	OpDestroy       = 38
	OpIoctl         = 39
	OpPoll          = 40
	OpNotifyReply   = 41
	OpBatchForget   = 42 // no reply
	OpFallocate     = 43
	OpReaddirplus   = 44
	OpRename2       = 45
	OpLseek         = 46
	OpCopyFileRange = 47
)

var opNames = map[uint32]string{
	OpLookup:        "LOOKUP",
	OpForget:        "FORGET",
	OpGetattr:       "GETATTR",
	OpSetattr:       "SETATTR",
	OpReadlink:      "READLINK",
	OpSymlink:       "SYMLINK",
	OpMknod:         "MKNOD",
	OpMkdir:         "MKDIR",
	OpUnlink:        "UNLINK",
	OpRmdir:         "RMDIR",
	OpRename:        "RENAME",
	OpLink:          "LINK",
	OpOpen:          "OPEN",
	OpRead:          "READ",
	OpWrite:         "WRITE",
	OpStatfs:        "STATFS",
	OpRelease:       "RELEASE",
	OpFsync:         "FSYNC",
	OpSetxattr:      "SETXATTR",
	OpGetxattr:      "GETXATTR",
	OpListxattr:     "LISTXATTR",
	OpRemovexattr:   "REMOVEXATTR",
	OpFlush:         "FLUSH",
	OpInit:          "INIT",
	OpOpendir:       "OPENDIR",
	OpReaddir:       "READDIR",
	OpReleasedir:    "RELEASEDIR",
	OpFsyncdir:      "FSYNCDIR",
	OpGetlk:         "GETLK",
	OpSetlk:         "SETLK",
	OpSetlkw:        "SETLKW",
	OpAccess:        "ACCESS",
	OpCreate:        "CREATE",
	OpInterrupt:     "INTERRUPT",
	OpBmap:          "BMAP",
	OpDestroy:       "DESTROY",
	OpIoctl:         "IOCTL",
	OpPoll:          "POLL",
	OpNotifyReply:   "NOTIFY_REPLY",
	OpBatchForget:   "BATCH_FORGET",
	OpFallocate:     "FALLOCATE",
	OpReaddirplus:   "READDIRPLUS",
	OpRename2:       "RENAME2",
	OpLseek:         "LSEEK",
	OpCopyFileRange: "COPY_FILE_RANGE",
}

// OpName returns the kernel's name for an opcode, or a placeholder for
// opcodes the package doesn't know.
func OpName(opcode uint32) string {
	if n, ok := opNames[opcode]; ok {
		return n
	}

	return fmt.Sprintf("OPCODE_%d", opcode)
}

////////////////////////////////////////////////////////////////////////
// Messages
////////////////////////////////////////////////////////////////////////

// InHeader is struct fuse_in_header, which prefixes every request.
type InHeader struct {
	Len     uint32
	Opcode  uint32
	Unique  uint64
	Nodeid  uint64
	Uid     uint32
	Gid     uint32
	Pid     uint32
	Padding uint32
}

const InHeaderSize = int(unsafe.Sizeof(InHeader{}))

// OutHeader is struct fuse_out_header, which prefixes every reply.
type OutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

const OutHeaderSize = int(unsafe.Sizeof(OutHeader{}))

type EntryOut struct {
	Nodeid         uint64 // Inode ID
	Generation     uint64 // Inode generation
	EntryValid     uint64 // Cache timeout for the name
	AttrValid      uint64 // Cache timeout for the attributes
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

// EntryOutSize returns the size of EntryOut understood by the given
// protocol version.
func EntryOutSize(p Protocol) uintptr {
	switch {
	case p.LT(Protocol{7, 9}):
		return unsafe.Offsetof(EntryOut{}.Attr) + unsafe.Offsetof(EntryOut{}.Attr.Blksize)
	default:
		return unsafe.Sizeof(EntryOut{})
	}
}

type ForgetIn struct {
	Nlookup uint64
}

type BatchForgetCountIn struct {
	Count uint32
	Dummy uint32
}

type BatchForgetEntryIn struct {
	Inode   uint64
	Nlookup uint64
}

type GetattrIn struct {
	GetattrFlags uint32
	Dummy        uint32
	Fh           uint64
}

type AttrOut struct {
	AttrValid     uint64 // Cache timeout for the attributes
	AttrValidNsec uint32
	Dummy         uint32
	Attr          Attr
}

// AttrOutSize returns the size of AttrOut understood by the given protocol
// version.
func AttrOutSize(p Protocol) uintptr {
	switch {
	case p.LT(Protocol{7, 9}):
		return unsafe.Offsetof(AttrOut{}.Attr) + unsafe.Offsetof(AttrOut{}.Attr.Blksize)
	default:
		return unsafe.Sizeof(AttrOut{})
	}
}

type MknodIn struct {
	Mode    uint32
	Rdev    uint32
	Umask   uint32
	Padding uint32
}

// MknodInSize returns the size of MknodIn sent by the given protocol
// version.
func MknodInSize(p Protocol) uintptr {
	switch {
	case p.LT(Protocol{7, 12}):
		return unsafe.Offsetof(MknodIn{}.Umask)
	default:
		return unsafe.Sizeof(MknodIn{})
	}
}

type MkdirIn struct {
	Mode  uint32
	Umask uint32
}

// MkdirInSize returns the size of MkdirIn sent by the given protocol version.
func MkdirInSize(p Protocol) uintptr {
	switch {
	case p.LT(Protocol{7, 12}):
		return unsafe.Offsetof(MkdirIn{}.Umask) + 4
	default:
		return unsafe.Sizeof(MkdirIn{})
	}
}

type RenameIn struct {
	Newdir uint64
}

type Rename2In struct {
	Newdir  uint64
	Flags   uint32
	Padding uint32
}

type LinkIn struct {
	Oldnodeid uint64
}

type SetattrIn struct {
	Valid     uint32
	Padding   uint32
	Fh        uint64
	Size      uint64
	LockOwner uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Unused4   uint32
	Uid       uint32
	Gid       uint32
	Unused5   uint32
}

type OpenIn struct {
	Flags  uint32
	Unused uint32
}

type OpenOut struct {
	Fh        uint64
	OpenFlags uint32
	Padding   uint32
}

type CreateIn struct {
	Flags   uint32
	Mode    uint32
	Umask   uint32
	Padding uint32
}

// CreateInSize returns the size of CreateIn sent by the given protocol
// version.
func CreateInSize(p Protocol) uintptr {
	switch {
	case p.LT(Protocol{7, 12}):
		return unsafe.Offsetof(CreateIn{}.Umask)
	default:
		return unsafe.Sizeof(CreateIn{})
	}
}

type ReleaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
	LockOwner    uint64
}

type FlushIn struct {
	Fh        uint64
	Unused    uint32
	Padding   uint32
	LockOwner uint64
}

type ReadIn struct {
	Fh        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
	Padding   uint32
}

// ReadInSize returns the size of ReadIn sent by the given protocol version.
func ReadInSize(p Protocol) uintptr {
	switch {
	case p.LT(Protocol{7, 9}):
		return unsafe.Offsetof(ReadIn{}.ReadFlags) + 4
	default:
		return unsafe.Sizeof(ReadIn{})
	}
}

type WriteIn struct {
	Fh         uint64
	Offset     uint64
	Size       uint32
	WriteFlags uint32
	LockOwner  uint64
	Flags      uint32
	Padding    uint32
}

// WriteInSize returns the size of WriteIn sent by the given protocol
// version.
func WriteInSize(p Protocol) uintptr {
	switch {
	case p.LT(Protocol{7, 9}):
		return unsafe.Offsetof(WriteIn{}.LockOwner)
	default:
		return unsafe.Sizeof(WriteIn{})
	}
}

type WriteOut struct {
	Size    uint32
	Padding uint32
}

type StatfsOut struct {
	St Kstatfs
}

type FsyncIn struct {
	Fh         uint64
	FsyncFlags uint32
	Padding    uint32
}

type SetxattrIn struct {
	Size  uint32
	Flags uint32
}

type GetxattrIn struct {
	Size    uint32
	Padding uint32
}

type GetxattrOut struct {
	Size    uint32
	Padding uint32
}

type AccessIn struct {
	Mask    uint32
	Padding uint32
}

type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
}

const InitInSize = int(unsafe.Sizeof(InitIn{}))

type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
	MapAlignment        uint16
	Unused              [8]uint32
}

// InitOutSize returns the size of InitOut understood by the given protocol
// version. Kernels before 7.23 expect the short, 24-byte form.
func InitOutSize(p Protocol) uintptr {
	switch {
	case p.LT(Protocol{7, 23}):
		return unsafe.Offsetof(InitOut{}.TimeGran)
	default:
		return unsafe.Sizeof(InitOut{})
	}
}

type InterruptIn struct {
	Unique uint64
}

type FallocateIn struct {
	Fh      uint64
	Offset  uint64
	Length  uint64
	Mode    uint32
	Padding uint32
}

// Dirent is the fixed-size prefix of struct fuse_dirent. The name follows,
// padded to an 8-byte boundary.
type Dirent struct {
	Ino     uint64
	Off     uint64
	Namelen uint32
	Type    uint32
}

const DirentSize = int(unsafe.Sizeof(Dirent{}))

// DirentAlignment is the alignment of each record in a readdir reply.
const DirentAlignment = 8

// DirentAlign rounds x up to a multiple of DirentAlignment.
func DirentAlign(x int) int {
	return (x + DirentAlignment - 1) &^ (DirentAlignment - 1)
}

// EntryOutPlusSize is the size of the EntryOut preceding each Dirent in a
// readdirplus reply.
const EntryOutPlusSize = int(unsafe.Sizeof(EntryOut{}))
