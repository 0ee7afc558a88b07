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

package memfs

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
	"golang.org/x/sys/unix"
)

// Mode bits an inode may carry besides its type.
const permBits = os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky

// The largest file size memfs accepts. StatFS reports it as the capacity.
const maxFileSize = 1 << 30

// Return EFBIG if a file can't hold length bytes starting at off.
func checkExtent(off uint64, length uint64) error {
	if length > maxFileSize || off > maxFileSize-length {
		return fuse.EFBIG
	}

	return nil
}

// Common attributes for files and directories.
//
// External synchronization is required.
type inode struct {
	// The current attributes of this inode.
	//
	// INVARIANT: attrs.Mode &^ (permBits|os.ModeDir|os.ModeSymlink) == 0
	// INVARIANT: !(isDir() && isSymlink())
	// INVARIANT: If isSymlink(), attrs.Size == len(target)
	// INVARIANT: Otherwise attrs.Size == len(contents)
	attrs fuseops.InodeAttributes

	// The generation number handed out with this incarnation of the inode ID.
	generation fuseops.GenerationNumber

	// The number of entry replies the kernel has not yet forgotten.
	lookupCount uint64

	// For directories, entries describing the children of the directory. Unused
	// entries are of type DT_Unknown.
	//
	// This array can never be shortened, nor can its elements be moved, because
	// we use its indices for Dirent.Offset, which is exposed to the user who
	// might be calling readdir in a loop while concurrently modifying the
	// directory. Unused entries can, however, be reused.
	//
	// INVARIANT: If !isDir(), len(entries) == 0
	// INVARIANT: If isDir(), entries[0] is "." and entries[1] is ".."
	// INVARIANT: For each i, entries[i].Offset == i+1
	// INVARIANT: Contains no duplicate names in used entries.
	entries []fuseutil.Dirent

	// For files, the current contents of the file.
	//
	// INVARIANT: If !isFile(), len(contents) == 0
	contents []byte

	// For symlinks, the target of the symlink.
	//
	// INVARIANT: If !isSymlink(), len(target) == 0
	target string

	// Extended attributes.
	xattrs map[string][]byte
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// Create a new inode with the supplied attributes, which need not contain
// time-related information (the inode object will take care of that).
// Directories start out with "." and ".." entries naming self and parent.
func newInode(
	now time.Time,
	self fuseops.InodeID,
	parent fuseops.InodeID,
	attrs fuseops.InodeAttributes) *inode {
	// Update time info.
	attrs.Atime = now
	attrs.Mtime = now
	attrs.Ctime = now
	attrs.Crtime = now

	in := &inode{
		attrs:  attrs,
		xattrs: make(map[string][]byte),
	}

	if in.isDir() {
		in.entries = []fuseutil.Dirent{
			{Offset: 1, Inode: self, Name: ".", Type: fuseutil.DT_Directory},
			{Offset: 2, Inode: parent, Name: "..", Type: fuseutil.DT_Directory},
		}
	}

	return in
}

func (in *inode) CheckInvariants() {
	// INVARIANT: attrs.Mode &^ (permBits|os.ModeDir|os.ModeSymlink) == 0
	if !(in.attrs.Mode&^(permBits|os.ModeDir|os.ModeSymlink) == 0) {
		panic(fmt.Sprintf("Unexpected mode: %v", in.attrs.Mode))
	}

	// INVARIANT: !(isDir() && isSymlink())
	if in.isDir() && in.isSymlink() {
		panic(fmt.Sprintf("Unexpected mode: %v", in.attrs.Mode))
	}

	// INVARIANT: If isSymlink(), attrs.Size == len(target)
	// INVARIANT: Otherwise attrs.Size == len(contents)
	expectedSize := uint64(len(in.contents))
	if in.isSymlink() {
		expectedSize = uint64(len(in.target))
	}

	if in.attrs.Size != expectedSize {
		panic(fmt.Sprintf(
			"Size mismatch: %d vs. %d",
			in.attrs.Size,
			expectedSize))
	}

	// INVARIANT: If !isDir(), len(entries) == 0
	if !in.isDir() && len(in.entries) != 0 {
		panic(fmt.Sprintf("Unexpected entries length: %d", len(in.entries)))
	}

	// INVARIANT: If isDir(), entries[0] is "." and entries[1] is ".."
	if in.isDir() {
		if len(in.entries) < 2 ||
			in.entries[0].Name != "." ||
			in.entries[1].Name != ".." {
			panic("Missing dot entries")
		}
	}

	// INVARIANT: For each i, entries[i].Offset == i+1
	for i, e := range in.entries {
		if !(e.Offset == fuseops.DirOffset(i+1)) {
			panic(fmt.Sprintf("Unexpected offset for index %d: %d", i, e.Offset))
		}
	}

	// INVARIANT: Contains no duplicate names in used entries.
	childNames := make(map[string]struct{})
	for _, e := range in.entries {
		if e.Type != fuseutil.DT_Unknown {
			if _, ok := childNames[e.Name]; ok {
				panic(fmt.Sprintf("Duplicate name: %s", e.Name))
			}

			childNames[e.Name] = struct{}{}
		}
	}

	// INVARIANT: If !isFile(), len(contents) == 0
	if !in.isFile() && len(in.contents) != 0 {
		panic(fmt.Sprintf("Unexpected length: %d", len(in.contents)))
	}

	// INVARIANT: If !isSymlink(), len(target) == 0
	if !in.isSymlink() && len(in.target) != 0 {
		panic(fmt.Sprintf("Unexpected target length: %d", len(in.target)))
	}
}

func (in *inode) isDir() bool {
	return in.attrs.Mode&os.ModeDir != 0
}

func (in *inode) isSymlink() bool {
	return in.attrs.Mode&os.ModeSymlink != 0
}

func (in *inode) isFile() bool {
	return !(in.isDir() || in.isSymlink())
}

// Return the index of the child within in.entries, if it exists. The dot
// entries are never found.
//
// REQUIRES: in.isDir()
func (in *inode) findChild(name string) (i int, ok bool) {
	if !in.isDir() {
		panic("findChild called on non-directory.")
	}

	for i = 2; i < len(in.entries); i++ {
		e := in.entries[i]
		if e.Type != fuseutil.DT_Unknown && e.Name == name {
			return i, true
		}
	}

	return 0, false
}

// The directory entry type for the inode.
func (in *inode) direntType() fuseutil.DirentType {
	switch {
	case in.isDir():
		return fuseutil.DT_Directory
	case in.isSymlink():
		return fuseutil.DT_Link
	default:
		return fuseutil.DT_File
	}
}

////////////////////////////////////////////////////////////////////////
// Public methods
////////////////////////////////////////////////////////////////////////

// Return the number of children of the directory, not counting "." and "..".
//
// REQUIRES: in.isDir()
func (in *inode) Len() (n int) {
	for _, e := range in.entries[2:] {
		if e.Type != fuseutil.DT_Unknown {
			n++
		}
	}

	return
}

// Find an entry for the given child name and return its inode ID and type.
//
// REQUIRES: in.isDir()
func (in *inode) LookUpChild(name string) (
	id fuseops.InodeID,
	typ fuseutil.DirentType,
	ok bool) {
	index, ok := in.findChild(name)
	if ok {
		id = in.entries[index].Inode
		typ = in.entries[index].Type
	}

	return
}

// Add an entry for a child.
//
// REQUIRES: in.isDir()
// REQUIRES: dt != fuseutil.DT_Unknown
func (in *inode) AddChild(
	now time.Time,
	id fuseops.InodeID,
	name string,
	dt fuseutil.DirentType) {
	var index int

	// Update the modification time.
	in.attrs.Mtime = now
	in.attrs.Ctime = now

	// No matter where we place the entry, make sure it has the correct Offset
	// field.
	defer func() {
		in.entries[index].Offset = fuseops.DirOffset(index + 1)
	}()

	// Set up the entry.
	e := fuseutil.Dirent{
		Inode: id,
		Name:  name,
		Type:  dt,
	}

	// Look for a gap in which we can insert it.
	for index = 2; index < len(in.entries); index++ {
		if in.entries[index].Type == fuseutil.DT_Unknown {
			in.entries[index] = e
			return
		}
	}

	// Append it to the end.
	index = len(in.entries)
	in.entries = append(in.entries, e)
}

// Remove an entry for a child.
//
// REQUIRES: in.isDir()
// REQUIRES: An entry for the given name exists.
func (in *inode) RemoveChild(now time.Time, name string) {
	// Update the modification time.
	in.attrs.Mtime = now
	in.attrs.Ctime = now

	// Find the entry.
	i, ok := in.findChild(name)
	if !ok {
		panic(fmt.Sprintf("Unknown child: %s", name))
	}

	// Mark it as unused.
	in.entries[i] = fuseutil.Dirent{
		Type:   fuseutil.DT_Unknown,
		Offset: fuseops.DirOffset(i + 1),
	}
}

// Point the ".." entry at a new parent.
//
// REQUIRES: in.isDir()
func (in *inode) SetParent(parent fuseops.InodeID) {
	in.entries[1].Inode = parent
}

// Return the inode ID of the parent directory.
//
// REQUIRES: in.isDir()
func (in *inode) Parent() fuseops.InodeID {
	return in.entries[1].Inode
}

// Call add for each used entry with offset greater than the one supplied,
// stopping when it returns false.
//
// REQUIRES: in.isDir()
func (in *inode) ReadDir(
	offset fuseops.DirOffset,
	add func(fuseutil.Dirent) bool) {
	if !in.isDir() {
		panic("ReadDir called on non-directory.")
	}

	if offset >= fuseops.DirOffset(len(in.entries)) {
		return
	}

	for i := int(offset); i < len(in.entries); i++ {
		e := in.entries[i]

		// Skip unused entries.
		if e.Type == fuseutil.DT_Unknown {
			continue
		}

		if !add(e) {
			break
		}
	}
}

// Read from the file's contents. See documentation for io.ReaderAt.
//
// REQUIRES: in.isFile()
func (in *inode) ReadAt(p []byte, off int64) (int, error) {
	if !in.isFile() {
		panic("ReadAt called on non-file.")
	}

	// Ensure the offset is in range.
	if off > int64(len(in.contents)) {
		return 0, io.EOF
	}

	// Read what we can.
	n := copy(p, in.contents[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// Write to the file's contents. See documentation for io.WriterAt.
//
// REQUIRES: in.isFile()
func (in *inode) WriteAt(now time.Time, p []byte, off int64) (int, error) {
	if !in.isFile() {
		panic("WriteAt called on non-file.")
	}

	if off < 0 {
		return 0, fuse.EINVAL
	}

	if err := checkExtent(uint64(off), uint64(len(p))); err != nil {
		return 0, err
	}

	// Update the modification time.
	in.attrs.Mtime = now
	in.attrs.Ctime = now

	// Ensure that the contents slice is long enough.
	newLen := int(off) + len(p)
	if len(in.contents) < newLen {
		in.truncate(uint64(newLen))
	}

	// Copy in the data.
	n := copy(in.contents[off:], p)

	// Sanity check.
	if n != len(p) {
		panic(fmt.Sprintf("Unexpected short copy: %v", n))
	}

	return n, nil
}

// Resize the contents, zero filling any growth.
//
// REQUIRES: size <= maxFileSize
func (in *inode) truncate(size uint64) {
	intSize := int(size)
	if intSize <= len(in.contents) {
		in.contents = in.contents[:intSize]
	} else {
		padding := make([]byte, intSize-len(in.contents))
		in.contents = append(in.contents, padding...)
	}

	in.attrs.Size = size
}

// Apply the non-nil fields of a setattr request.
func (in *inode) SetAttributes(now time.Time, op *fuseops.SetInodeAttributesOp) error {
	// Truncate?
	if op.Size != nil {
		if in.isDir() {
			return fuse.EISDIR
		}

		if !in.isFile() {
			return fuse.EINVAL
		}

		if *op.Size > maxFileSize {
			return fuse.EFBIG
		}

		in.truncate(*op.Size)
		in.attrs.Mtime = now
	}

	// Change mode?
	if op.Mode != nil {
		in.attrs.Mode = (in.attrs.Mode &^ permBits) | (*op.Mode & permBits)
	}

	// Change ownership?
	if op.Uid != nil {
		in.attrs.Uid = *op.Uid
	}

	if op.Gid != nil {
		in.attrs.Gid = *op.Gid
	}

	// Change times?
	switch {
	case op.AtimeNow:
		in.attrs.Atime = now
	case op.Atime != nil:
		in.attrs.Atime = *op.Atime
	}

	switch {
	case op.MtimeNow:
		in.attrs.Mtime = now
	case op.Mtime != nil:
		in.attrs.Mtime = *op.Mtime
	}

	in.attrs.Ctime = now
	if op.Ctime != nil {
		in.attrs.Ctime = *op.Ctime
	}

	return nil
}

// Allocate or deallocate space as fallocate(2) does. Only the default mode,
// FALLOC_FL_KEEP_SIZE and hole punching are supported.
//
// REQUIRES: in.isFile()
func (in *inode) Fallocate(now time.Time, mode uint32, off uint64, length uint64) error {
	switch mode {
	case 0:
		if err := checkExtent(off, length); err != nil {
			return err
		}

		if end := off + length; end > in.attrs.Size {
			in.truncate(end)
		}

	case unix.FALLOC_FL_KEEP_SIZE:
		// Nothing to reserve in memory.
		return nil

	case unix.FALLOC_FL_KEEP_SIZE | unix.FALLOC_FL_PUNCH_HOLE:
		if off < in.attrs.Size {
			end := in.attrs.Size
			if length < end-off {
				end = off + length
			}

			clear(in.contents[off:end])
		}

	default:
		return fuse.ENOTSUP
	}

	in.attrs.Mtime = now
	in.attrs.Ctime = now
	return nil
}
