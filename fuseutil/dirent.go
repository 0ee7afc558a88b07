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

package fuseutil

import (
	"syscall"
	"time"
	"unsafe"

	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/internal/fusekernel"
)

type DirentType uint32

const (
	DT_Unknown   DirentType = 0
	DT_Socket    DirentType = syscall.DT_SOCK
	DT_Link      DirentType = syscall.DT_LNK
	DT_File      DirentType = syscall.DT_REG
	DT_Block     DirentType = syscall.DT_BLK
	DT_Directory DirentType = syscall.DT_DIR
	DT_Char      DirentType = syscall.DT_CHR
	DT_FIFO      DirentType = syscall.DT_FIFO
)

// A struct representing an entry within a directory file, describing a child.
// See notes on fuseops.ReadDirOp and on WriteDirent for details.
type Dirent struct {
	// The (opaque) offset within the directory file of the entry following this
	// one. See notes on fuseops.ReadDirOp.Offset for details.
	Offset fuseops.DirOffset

	// The inode of the child file or directory, and its name within the parent.
	Inode fuseops.InodeID
	Name  string

	// The type of the child. The zero value (DT_Unknown) is legal, but means
	// that the kernel will need to call GetAttr when the type is needed.
	Type DirentType
}

// An entry in the reply to a readdirplus request: the dirent plus the lookup
// result the kernel caches for it. Each entry with a non-zero Entry.Child
// counts as a lookup of that inode.
type DirentPlus struct {
	Dirent Dirent
	Entry  fuseops.ChildInodeEntry
}

// DirentSize returns the number of bytes WriteDirent uses for an entry with
// the given name.
func DirentSize(name string) int {
	return fusekernel.DirentAlign(fusekernel.DirentSize + len(name))
}

// DirentPlusSize returns the number of bytes WriteDirentPlus uses for an
// entry with the given name.
func DirentPlusSize(name string) int {
	return fusekernel.EntryOutPlusSize + DirentSize(name)
}

// WriteDirent writes the supplied directory entry into the given buffer in
// the format expected in fuseops.ReadDirOp.Dst, returning the number of
// bytes written. Returns zero if the entry would not fit.
func WriteDirent(buf []byte, d Dirent) (n int) {
	// We want to write bytes with the layout of fuse_dirent
	// (http://goo.gl/BmFxob) in host order. The struct must be aligned according
	// to FUSE_DIRENT_ALIGN (http://goo.gl/UziWvH), which dictates 8-byte
	// alignment.
	size := DirentSize(d.Name)
	if size > len(buf) {
		return 0
	}

	writeDirent(buf[:size], d)
	return size
}

// WriteDirentPlus is like WriteDirent, but writes the entry in the format of
// a readdirplus reply. Expiration times in d.Entry are taken relative to now.
func WriteDirentPlus(buf []byte, now time.Time, d DirentPlus) (n int) {
	size := DirentPlusSize(d.Dirent.Name)
	if size > len(buf) {
		return 0
	}

	clear(buf[:fusekernel.EntryOutPlusSize])
	out := (*fusekernel.EntryOut)(unsafe.Pointer(&buf[0]))
	if d.Entry.Child != 0 {
		fuseops.ConvertChildInodeEntry(now, &d.Entry, out)
	}

	writeDirent(buf[fusekernel.EntryOutPlusSize:size], d.Dirent)
	return size
}

// Write d into buf, which has exactly the aligned size.
func writeDirent(buf []byte, d Dirent) {
	de := fusekernel.Dirent{
		Ino:     uint64(d.Inode),
		Off:     uint64(d.Offset),
		Namelen: uint32(len(d.Name)),
		Type:    uint32(d.Type),
	}

	n := copy(buf, (*[fusekernel.DirentSize]byte)(unsafe.Pointer(&de))[:])
	n += copy(buf[n:], d.Name)

	// Zero the padding.
	clear(buf[n:])
}

// DirBuffer fills the destination of a ReadDirOp. An entry is written only
// if it fits whole, so the reply never exceeds the size the kernel asked for
// and a listing can resume at the first entry that was refused.
type DirBuffer struct {
	dst []byte
	n   int
	now time.Time
}

// NewDirBuffer returns a buffer writing into dst. now is used to convert
// expiration times of readdirplus entries.
func NewDirBuffer(dst []byte, now time.Time) *DirBuffer {
	return &DirBuffer{
		dst: dst,
		now: now,
	}
}

// Add writes d if it fits, reporting whether it did.
func (b *DirBuffer) Add(d Dirent) bool {
	n := WriteDirent(b.dst[b.n:], d)
	b.n += n
	return n != 0
}

// AddPlus writes d in readdirplus form if it fits, reporting whether it did.
func (b *DirBuffer) AddPlus(d DirentPlus) bool {
	n := WriteDirentPlus(b.dst[b.n:], b.now, d)
	b.n += n
	return n != 0
}

// Len returns the number of bytes written so far, suitable for
// ReadDirOp.BytesRead.
func (b *DirBuffer) Len() int {
	return b.n
}

// Cap returns the size of the destination.
func (b *DirBuffer) Cap() int {
	return len(b.dst)
}

// Bytes returns the bytes written so far.
func (b *DirBuffer) Bytes() []byte {
	return b.dst[:b.n]
}
