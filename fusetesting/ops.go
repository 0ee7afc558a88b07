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

package fusetesting

import (
	"fmt"

	"github.com/llfuse/fuse/fuseutil"
	"github.com/llfuse/fuse/internal/fusekernel"
)

// Typed wrappers for each request. Errors returned by the file system are
// syscall.Errno values.

func (k *Kernel) Lookup(parent uint64, name string) (out fusekernel.EntryOut, err error) {
	err = k.Call(&out, fusekernel.OpLookup, parent, name)
	return
}

// Forget drops n lookups of the inode. No reply is expected.
func (k *Kernel) Forget(nodeid uint64, n uint64) error {
	_, err := k.SendNoReply(fusekernel.OpForget, nodeid, fusekernel.ForgetIn{Nlookup: n})
	return err
}

func (k *Kernel) BatchForget(entries ...fusekernel.BatchForgetEntryIn) error {
	args := []interface{}{
		fusekernel.BatchForgetCountIn{Count: uint32(len(entries))},
	}

	for _, e := range entries {
		args = append(args, e)
	}

	_, err := k.SendNoReply(fusekernel.OpBatchForget, 0, args...)
	return err
}

func (k *Kernel) Getattr(nodeid uint64) (out fusekernel.AttrOut, err error) {
	err = k.Call(&out, fusekernel.OpGetattr, nodeid, fusekernel.GetattrIn{})
	return
}

// GetattrFh is like Getattr, for an open handle.
func (k *Kernel) GetattrFh(nodeid uint64, fh uint64) (out fusekernel.AttrOut, err error) {
	err = k.Call(&out, fusekernel.OpGetattr, nodeid, fusekernel.GetattrIn{
		GetattrFlags: uint32(fusekernel.GetattrFh),
		Fh:           fh,
	})
	return
}

func (k *Kernel) Setattr(nodeid uint64, in fusekernel.SetattrIn) (out fusekernel.AttrOut, err error) {
	err = k.Call(&out, fusekernel.OpSetattr, nodeid, in)
	return
}

func (k *Kernel) Readlink(nodeid uint64) (string, error) {
	r, err := k.Send(fusekernel.OpReadlink, nodeid)
	if err != nil {
		return "", err
	}

	if err := r.Err(); err != nil {
		return "", err
	}

	return string(r.Data), nil
}

func (k *Kernel) Mknod(
	parent uint64,
	name string,
	mode uint32,
	rdev uint32) (out fusekernel.EntryOut, err error) {
	err = k.Call(&out, fusekernel.OpMknod, parent, fusekernel.MknodIn{
		Mode: mode,
		Rdev: rdev,
	}, name)
	return
}

func (k *Kernel) Mkdir(parent uint64, name string, mode uint32) (out fusekernel.EntryOut, err error) {
	err = k.Call(&out, fusekernel.OpMkdir, parent, fusekernel.MkdirIn{Mode: mode}, name)
	return
}

func (k *Kernel) Unlink(parent uint64, name string) error {
	return k.Call(nil, fusekernel.OpUnlink, parent, name)
}

func (k *Kernel) Rmdir(parent uint64, name string) error {
	return k.Call(nil, fusekernel.OpRmdir, parent, name)
}

func (k *Kernel) Symlink(parent uint64, name string, target string) (out fusekernel.EntryOut, err error) {
	err = k.Call(&out, fusekernel.OpSymlink, parent, name, target)
	return
}

// Rename sends RENAME, or RENAME2 when flags are given.
func (k *Kernel) Rename(
	oldParent uint64,
	oldName string,
	newParent uint64,
	newName string,
	flags uint32) error {
	if flags == 0 {
		return k.Call(nil, fusekernel.OpRename, oldParent, fusekernel.RenameIn{
			Newdir: newParent,
		}, oldName, newName)
	}

	return k.Call(nil, fusekernel.OpRename2, oldParent, fusekernel.Rename2In{
		Newdir: newParent,
		Flags:  flags,
	}, oldName, newName)
}

func (k *Kernel) Link(target uint64, newParent uint64, newName string) (out fusekernel.EntryOut, err error) {
	err = k.Call(&out, fusekernel.OpLink, newParent, fusekernel.LinkIn{Oldnodeid: target}, newName)
	return
}

func (k *Kernel) Open(nodeid uint64, flags uint32) (out fusekernel.OpenOut, err error) {
	err = k.Call(&out, fusekernel.OpOpen, nodeid, fusekernel.OpenIn{Flags: flags})
	return
}

func (k *Kernel) Create(
	parent uint64,
	name string,
	mode uint32,
	flags uint32) (entry fusekernel.EntryOut, open fusekernel.OpenOut, err error) {
	var out struct {
		Entry fusekernel.EntryOut
		Open  fusekernel.OpenOut
	}

	err = k.Call(&out, fusekernel.OpCreate, parent, fusekernel.CreateIn{
		Flags: flags,
		Mode:  mode,
	}, name)

	entry, open = out.Entry, out.Open
	return
}

// Read returns the data read, which is short at the end of the file.
func (k *Kernel) Read(nodeid uint64, fh uint64, offset uint64, size uint32) ([]byte, error) {
	return k.readData(fusekernel.OpRead, nodeid, fusekernel.ReadIn{
		Fh:     fh,
		Offset: offset,
		Size:   size,
	})
}

// ReadStart sends a read without waiting for the reply, e.g. to interrupt it.
func (k *Kernel) ReadStart(nodeid uint64, fh uint64, offset uint64, size uint32) (*Pending, error) {
	return k.Start(fusekernel.OpRead, nodeid, fusekernel.ReadIn{
		Fh:     fh,
		Offset: offset,
		Size:   size,
	})
}

func (k *Kernel) readData(opcode uint32, nodeid uint64, args ...interface{}) ([]byte, error) {
	r, err := k.Send(opcode, nodeid, args...)
	if err != nil {
		return nil, err
	}

	if err := r.Err(); err != nil {
		return nil, err
	}

	return r.Data, nil
}

// Write returns the number of bytes the file system says it wrote.
func (k *Kernel) Write(nodeid uint64, fh uint64, offset uint64, data []byte) (uint32, error) {
	var out fusekernel.WriteOut
	err := k.Call(&out, fusekernel.OpWrite, nodeid, fusekernel.WriteIn{
		Fh:     fh,
		Offset: offset,
		Size:   uint32(len(data)),
	}, data)

	return out.Size, err
}

func (k *Kernel) Flush(nodeid uint64, fh uint64) error {
	return k.Call(nil, fusekernel.OpFlush, nodeid, fusekernel.FlushIn{Fh: fh})
}

func (k *Kernel) Release(nodeid uint64, fh uint64) error {
	return k.Call(nil, fusekernel.OpRelease, nodeid, fusekernel.ReleaseIn{Fh: fh})
}

func (k *Kernel) Fsync(nodeid uint64, fh uint64, datasync bool) error {
	in := fusekernel.FsyncIn{Fh: fh}
	if datasync {
		in.FsyncFlags = uint32(fusekernel.FsyncFdatasync)
	}

	return k.Call(nil, fusekernel.OpFsync, nodeid, in)
}

func (k *Kernel) Opendir(nodeid uint64) (out fusekernel.OpenOut, err error) {
	err = k.Call(&out, fusekernel.OpOpendir, nodeid, fusekernel.OpenIn{})
	return
}

// Readdir returns the raw reply, in the format written by
// fuseutil.WriteDirent.
func (k *Kernel) Readdir(nodeid uint64, fh uint64, offset uint64, size uint32) ([]byte, error) {
	return k.readData(fusekernel.OpReaddir, nodeid, fusekernel.ReadIn{
		Fh:     fh,
		Offset: offset,
		Size:   size,
	})
}

// ReaddirPlus returns the raw reply, in the format written by
// fuseutil.WriteDirentPlus.
func (k *Kernel) ReaddirPlus(nodeid uint64, fh uint64, offset uint64, size uint32) ([]byte, error) {
	return k.readData(fusekernel.OpReaddirplus, nodeid, fusekernel.ReadIn{
		Fh:     fh,
		Offset: offset,
		Size:   size,
	})
}

// ReadDirAll reads the whole directory through the open handle, size bytes
// at a time, resuming from the offset of the last entry of each reply.
func (k *Kernel) ReadDirAll(nodeid uint64, fh uint64, size uint32) ([]fuseutil.Dirent, error) {
	var all []fuseutil.Dirent
	var offset uint64

	for {
		b, err := k.Readdir(nodeid, fh, offset, size)
		if err != nil {
			return all, err
		}

		if len(b) > int(size) {
			return all, fmt.Errorf("reply of %d bytes exceeds %d", len(b), size)
		}

		ds, err := ParseDirents(b)
		if err != nil {
			return all, err
		}

		if len(ds) == 0 {
			return all, nil
		}

		all = append(all, ds...)
		offset = uint64(ds[len(ds)-1].Offset)
	}
}

func (k *Kernel) Releasedir(nodeid uint64, fh uint64) error {
	return k.Call(nil, fusekernel.OpReleasedir, nodeid, fusekernel.ReleaseIn{Fh: fh})
}

func (k *Kernel) Fsyncdir(nodeid uint64, fh uint64, datasync bool) error {
	in := fusekernel.FsyncIn{Fh: fh}
	if datasync {
		in.FsyncFlags = uint32(fusekernel.FsyncFdatasync)
	}

	return k.Call(nil, fusekernel.OpFsyncdir, nodeid, in)
}

func (k *Kernel) Statfs(nodeid uint64) (out fusekernel.StatfsOut, err error) {
	err = k.Call(&out, fusekernel.OpStatfs, nodeid)
	return
}

func (k *Kernel) Setxattr(nodeid uint64, name string, value []byte, flags uint32) error {
	return k.Call(nil, fusekernel.OpSetxattr, nodeid, fusekernel.SetxattrIn{
		Size:  uint32(len(value)),
		Flags: flags,
	}, name, value)
}

// Getxattr asks for the value with a size-byte buffer. With size zero the
// file system reports the size of the value instead.
func (k *Kernel) Getxattr(nodeid uint64, name string, size uint32) (value []byte, n uint32, err error) {
	return k.xattrData(fusekernel.OpGetxattr, nodeid, size, fusekernel.GetxattrIn{Size: size}, name)
}

// Listxattr is like Getxattr, for the NUL-separated list of names.
func (k *Kernel) Listxattr(nodeid uint64, size uint32) (value []byte, n uint32, err error) {
	return k.xattrData(fusekernel.OpListxattr, nodeid, size, fusekernel.GetxattrIn{Size: size})
}

func (k *Kernel) xattrData(
	opcode uint32,
	nodeid uint64,
	size uint32,
	args ...interface{}) (value []byte, n uint32, err error) {
	if size == 0 {
		var out fusekernel.GetxattrOut
		err = k.Call(&out, opcode, nodeid, args...)
		n = out.Size
		return
	}

	value, err = k.readData(opcode, nodeid, args...)
	n = uint32(len(value))
	return
}

func (k *Kernel) Removexattr(nodeid uint64, name string) error {
	return k.Call(nil, fusekernel.OpRemovexattr, nodeid, name)
}

func (k *Kernel) Access(nodeid uint64, mask uint32) error {
	return k.Call(nil, fusekernel.OpAccess, nodeid, fusekernel.AccessIn{Mask: mask})
}

func (k *Kernel) Fallocate(
	nodeid uint64,
	fh uint64,
	offset uint64,
	length uint64,
	mode uint32) error {
	return k.Call(nil, fusekernel.OpFallocate, nodeid, fusekernel.FallocateIn{
		Fh:     fh,
		Offset: offset,
		Length: length,
		Mode:   mode,
	})
}

// Interrupt asks the file system to abandon the request with the given
// unique ID. No reply is expected.
func (k *Kernel) Interrupt(unique uint64) error {
	_, err := k.SendNoReply(fusekernel.OpInterrupt, 0, fusekernel.InterruptIn{Unique: unique})
	return err
}

// Destroy tells the file system the session is ending. No reply is
// expected.
func (k *Kernel) Destroy() error {
	_, err := k.SendNoReply(fusekernel.OpDestroy, 0)
	return err
}
