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
	"os"
	"time"

	"github.com/llfuse/fuse/internal/fusekernel"
	"golang.org/x/sys/unix"
)

// ConvertFileMode returns an os.FileMode with the Go mode and permission bits
// set according to the Linux mode and permission bits.
func ConvertFileMode(unixMode uint32) os.FileMode {
	mode := os.FileMode(unixMode & 0777)
	switch unixMode & unix.S_IFMT {
	case unix.S_IFREG:
		// nothing
	case unix.S_IFDIR:
		mode |= os.ModeDir
	case unix.S_IFCHR:
		mode |= os.ModeCharDevice | os.ModeDevice
	case unix.S_IFBLK:
		mode |= os.ModeDevice
	case unix.S_IFIFO:
		mode |= os.ModeNamedPipe
	case unix.S_IFLNK:
		mode |= os.ModeSymlink
	case unix.S_IFSOCK:
		mode |= os.ModeSocket
	case 0:
		// No type bits, e.g. a setattr that only changes permissions.
	default:
		// no idea
		mode |= os.ModeDevice
	}

	if unixMode&unix.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if unixMode&unix.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if unixMode&unix.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}

	return mode
}

// ConvertGoMode returns an integer with the Linux mode and permission bits
// set according to the Go mode and permission bits.
func ConvertGoMode(inMode os.FileMode) uint32 {
	outMode := uint32(inMode) & 0777
	switch {
	default:
		outMode |= unix.S_IFREG
	case inMode&os.ModeDir != 0:
		outMode |= unix.S_IFDIR
	case inMode&os.ModeDevice != 0:
		if inMode&os.ModeCharDevice != 0 {
			outMode |= unix.S_IFCHR
		} else {
			outMode |= unix.S_IFBLK
		}
	case inMode&os.ModeNamedPipe != 0:
		outMode |= unix.S_IFIFO
	case inMode&os.ModeSymlink != 0:
		outMode |= unix.S_IFLNK
	case inMode&os.ModeSocket != 0:
		outMode |= unix.S_IFSOCK
	}

	if inMode&os.ModeSetuid != 0 {
		outMode |= unix.S_ISUID
	}
	if inMode&os.ModeSetgid != 0 {
		outMode |= unix.S_ISGID
	}
	if inMode&os.ModeSticky != 0 {
		outMode |= unix.S_ISVTX
	}

	return outMode
}

// ConvertTime splits t into the seconds and nanoseconds since the epoch, the
// way the kernel represents timestamps. Times before the epoch become zero.
func ConvertTime(t time.Time) (secs uint64, nsec uint32) {
	totalNano := t.UnixNano()
	if t.IsZero() || totalNano < 0 {
		return 0, 0
	}

	secs = uint64(totalNano / 1e9)
	nsec = uint32(totalNano % 1e9)
	return
}

// ConvertExpirationTime converts an absolute cache expiration time to a
// duration relative to now, in the form consumed by the kernel.
//
// Fuse represents durations as unsigned 64-bit counts of seconds and 32-bit
// counts of nanoseconds (cf. http://goo.gl/EJupJV). So negative durations
// are clamped to zero. There is no need to cap the positive magnitude,
// because 2^64 seconds is well longer than the 2^63 ns range of
// time.Duration.
func ConvertExpirationTime(now time.Time, t time.Time) (secs uint64, nsecs uint32) {
	d := t.Sub(now)
	if d > 0 {
		secs = uint64(d / time.Second)
		nsecs = uint32((d % time.Second) / time.Nanosecond)
	}

	return
}

// ConvertAttributes fills in out, which must be zeroed, from in.
func ConvertAttributes(
	inodeID InodeID,
	in *InodeAttributes,
	out *fusekernel.Attr) {
	out.Ino = uint64(inodeID)
	out.Size = in.Size
	out.Atime, out.AtimeNsec = ConvertTime(in.Atime)
	out.Mtime, out.MtimeNsec = ConvertTime(in.Mtime)
	out.Ctime, out.CtimeNsec = ConvertTime(in.Ctime)
	out.Nlink = in.Nlink
	out.Uid = in.Uid
	out.Gid = in.Gid
	out.Blksize = in.BlockSize

	// round up to the nearest 512 boundary
	out.Blocks = (in.Size + 512 - 1) / 512

	// Set the mode.
	out.Mode = ConvertGoMode(in.Mode)

	if in.Mode&os.ModeDevice != 0 {
		out.Rdev = in.Rdev
	}
}

// ConvertChildInodeEntry fills in out, which must be zeroed, from in, with
// cache durations relative to now.
func ConvertChildInodeEntry(
	now time.Time,
	in *ChildInodeEntry,
	out *fusekernel.EntryOut) {
	out.Nodeid = uint64(in.Child)
	out.Generation = uint64(in.Generation)
	out.EntryValid, out.EntryValidNsec = ConvertExpirationTime(now, in.EntryExpiration)
	out.AttrValid, out.AttrValidNsec = ConvertExpirationTime(now, in.AttributesExpiration)

	ConvertAttributes(in.Child, &in.Attributes, &out.Attr)
}
