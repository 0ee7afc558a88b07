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

package fuse

import (
	"bytes"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/internal/buffer"
	"github.com/llfuse/fuse/internal/fusekernel"
)

////////////////////////////////////////////////////////////////////////
// Internal ops
////////////////////////////////////////////////////////////////////////

// An op the package doesn't know how to decode. It is answered with ENOSYS
// without involving the file system.
type unknownOp struct {
	OpCode uint32
	Inode  fuseops.InodeID
}

// The kernel's half of the INIT handshake. Connection.ReadOp checks the
// version and hands the file system a fuseops.InitOp.
type initOp struct {
	Kernel       fusekernel.Protocol
	MaxReadahead uint32
	Flags        fusekernel.InitFlags
}

// A request to interrupt the op with the given FuseID. Never answered.
type interruptOp struct {
	FuseID uint64
}

////////////////////////////////////////////////////////////////////////
// Incoming messages
////////////////////////////////////////////////////////////////////////

// Consume a NUL-terminated name from the remainder of the message.
func consumeName(inMsg *buffer.InMessage) (string, bool) {
	buf := inMsg.ConsumeBytes(inMsg.Len())
	n := len(buf)
	if n == 0 || buf[n-1] != '\x00' {
		return "", false
	}

	name := buf[:n-1]
	if bytes.IndexByte(name, '\x00') >= 0 {
		return "", false
	}

	return string(name), true
}

// Consume two consecutive NUL-terminated names from the remainder of the
// message, as sent with symlink and rename.
func consumeTwoNames(inMsg *buffer.InMessage) (string, string, bool) {
	buf := inMsg.ConsumeBytes(inMsg.Len())
	n := len(buf)
	if n == 0 || buf[n-1] != '\x00' {
		return "", "", false
	}

	i := bytes.IndexByte(buf, '\x00')
	if i == n-1 {
		return "", "", false
	}

	first, second := buf[:i], buf[i+1:n-1]
	if bytes.IndexByte(second, '\x00') >= 0 {
		return "", "", false
	}

	return string(first), string(second), true
}

// Point dst at a fresh n-byte segment at the end of outMsg, into which the
// file system will write reply data.
func growDst(outMsg *buffer.OutMessage, n int, dst *[]byte) error {
	if n == 0 {
		*dst = nil
		return nil
	}

	b := outMsg.GrowSlice(n)
	if b == nil {
		return fmt.Errorf("Can't grow for %d-byte read", n)
	}

	*dst = b
	return nil
}

// Convert a kernel message to an appropriate op. If the op is unknown, a
// special unexported type will be used.
//
// The caller is responsible for arranging for the message to be destroyed.
func convertInMessage(
	inMsg *buffer.InMessage,
	outMsg *buffer.OutMessage,
	protocol fusekernel.Protocol) (o interface{}, err error) {
	h := inMsg.Header()
	ctx := fuseops.OpContext{
		FuseID: h.Unique,
		Pid:    h.Pid,
		Uid:    h.Uid,
		Gid:    h.Gid,
	}

	corrupt := func() error {
		return fmt.Errorf("Corrupt %s", fusekernel.OpName(h.Opcode))
	}

	switch h.Opcode {
	case fusekernel.OpLookup:
		name, ok := consumeName(inMsg)
		if !ok {
			return nil, corrupt()
		}

		o = &fuseops.LookUpInodeOp{
			OpContext: ctx,
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      name,
		}

	case fusekernel.OpGetattr:
		to := &fuseops.GetInodeAttributesOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
		}
		o = to

		if protocol.HasGetattrFlags() {
			type input fusekernel.GetattrIn
			in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
			if in == nil {
				return nil, corrupt()
			}

			if fusekernel.GetattrFlags(in.GetattrFlags)&fusekernel.GetattrFh != 0 {
				fh := fuseops.HandleID(in.Fh)
				to.Handle = &fh
			}
		}

	case fusekernel.OpSetattr:
		type input fusekernel.SetattrIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		to := &fuseops.SetInodeAttributesOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
		}
		o = to

		valid := fusekernel.SetattrValid(in.Valid)
		if valid.Size() {
			to.Size = &in.Size
		}

		if valid.Mode() {
			mode := fuseops.ConvertFileMode(in.Mode)
			to.Mode = &mode
		}

		if valid.Uid() {
			to.Uid = &in.Uid
		}

		if valid.Gid() {
			to.Gid = &in.Gid
		}

		switch {
		case valid.AtimeNow():
			to.AtimeNow = true
		case valid.Atime():
			t := time.Unix(int64(in.Atime), int64(in.AtimeNsec))
			to.Atime = &t
		}

		switch {
		case valid.MtimeNow():
			to.MtimeNow = true
		case valid.Mtime():
			t := time.Unix(int64(in.Mtime), int64(in.MtimeNsec))
			to.Mtime = &t
		}

		if valid.Ctime() {
			t := time.Unix(int64(in.Ctime), int64(in.CtimeNsec))
			to.Ctime = &t
		}

		if valid.Handle() {
			fh := fuseops.HandleID(in.Fh)
			to.Handle = &fh
		}

	case fusekernel.OpForget:
		type input fusekernel.ForgetIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		o = &fuseops.ForgetInodeOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			N:         in.Nlookup,
		}

	case fusekernel.OpBatchForget:
		type input fusekernel.BatchForgetCountIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		entries := make([]fuseops.BatchForgetEntry, 0, in.Count)
		for i := uint32(0); i < in.Count; i++ {
			type entry fusekernel.BatchForgetEntryIn
			ein := (*entry)(inMsg.Consume(unsafe.Sizeof(entry{})))
			if ein == nil {
				return nil, corrupt()
			}

			entries = append(entries, fuseops.BatchForgetEntry{
				Inode: fuseops.InodeID(ein.Inode),
				N:     ein.Nlookup,
			})
		}

		o = &fuseops.BatchForgetOp{
			OpContext: ctx,
			Entries:   entries,
		}

	case fusekernel.OpMkdir:
		in := (*fusekernel.MkdirIn)(inMsg.Consume(fusekernel.MkdirInSize(protocol)))
		if in == nil {
			return nil, corrupt()
		}

		name, ok := consumeName(inMsg)
		if !ok {
			return nil, corrupt()
		}

		o = &fuseops.MkDirOp{
			OpContext: ctx,
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      name,

			// On Linux, vfs_mkdir calls through to the inode with at most
			// permissions and sticky bits set (cf. https://goo.gl/WxgQXk), and fuse
			// passes that on directly (cf. https://goo.gl/f31aMo). In other words,
			// the fact that this is a directory is implicit in the fact that the
			// opcode is mkdir. But we want the correct mode to go through, so ensure
			// that os.ModeDir is set.
			Mode:  fuseops.ConvertFileMode(in.Mode) | os.ModeDir,
			Umask: os.FileMode(in.Umask) & os.ModePerm,
		}

	case fusekernel.OpMknod:
		in := (*fusekernel.MknodIn)(inMsg.Consume(fusekernel.MknodInSize(protocol)))
		if in == nil {
			return nil, corrupt()
		}

		name, ok := consumeName(inMsg)
		if !ok {
			return nil, corrupt()
		}

		o = &fuseops.MkNodeOp{
			OpContext: ctx,
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      name,
			Mode:      fuseops.ConvertFileMode(in.Mode),
			Umask:     os.FileMode(in.Umask) & os.ModePerm,
			Rdev:      in.Rdev,
		}

	case fusekernel.OpCreate:
		in := (*fusekernel.CreateIn)(inMsg.Consume(fusekernel.CreateInSize(protocol)))
		if in == nil {
			return nil, corrupt()
		}

		name, ok := consumeName(inMsg)
		if !ok {
			return nil, corrupt()
		}

		o = &fuseops.CreateFileOp{
			OpContext: ctx,
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      name,
			Mode:      fuseops.ConvertFileMode(in.Mode),
			Umask:     os.FileMode(in.Umask) & os.ModePerm,
			OpenFlags: fusekernel.OpenFlags(in.Flags),
		}

	case fusekernel.OpSymlink:
		// The message is "newName\0target\0".
		newName, target, ok := consumeTwoNames(inMsg)
		if !ok {
			return nil, corrupt()
		}

		o = &fuseops.CreateSymlinkOp{
			OpContext: ctx,
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      newName,
			Target:    target,
		}

	case fusekernel.OpRename, fusekernel.OpRename2:
		var newDir uint64
		var flags uint32
		if h.Opcode == fusekernel.OpRename2 {
			type input fusekernel.Rename2In
			in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
			if in == nil {
				return nil, corrupt()
			}
			newDir, flags = in.Newdir, in.Flags
		} else {
			type input fusekernel.RenameIn
			in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
			if in == nil {
				return nil, corrupt()
			}
			newDir = in.Newdir
		}

		// names should be "old\x00new\x00"
		oldName, newName, ok := consumeTwoNames(inMsg)
		if !ok || oldName == "" || newName == "" {
			return nil, corrupt()
		}

		o = &fuseops.RenameOp{
			OpContext: ctx,
			OldParent: fuseops.InodeID(h.Nodeid),
			OldName:   oldName,
			NewParent: fuseops.InodeID(newDir),
			NewName:   newName,
			Flags:     fuseops.RenameFlags(flags),
		}

	case fusekernel.OpUnlink:
		name, ok := consumeName(inMsg)
		if !ok {
			return nil, corrupt()
		}

		o = &fuseops.UnlinkOp{
			OpContext: ctx,
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      name,
		}

	case fusekernel.OpRmdir:
		name, ok := consumeName(inMsg)
		if !ok {
			return nil, corrupt()
		}

		o = &fuseops.RmDirOp{
			OpContext: ctx,
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      name,
		}

	case fusekernel.OpLink:
		type input fusekernel.LinkIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		name, ok := consumeName(inMsg)
		if !ok || name == "" {
			return nil, corrupt()
		}

		o = &fuseops.CreateLinkOp{
			OpContext: ctx,
			Parent:    fuseops.InodeID(h.Nodeid),
			Name:      name,
			Target:    fuseops.InodeID(in.Oldnodeid),
		}

	case fusekernel.OpOpen:
		type input fusekernel.OpenIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		o = &fuseops.OpenFileOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			OpenFlags: fusekernel.OpenFlags(in.Flags),
		}

	case fusekernel.OpOpendir:
		type input fusekernel.OpenIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		o = &fuseops.OpenDirOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			OpenFlags: fusekernel.OpenFlags(in.Flags),
		}

	case fusekernel.OpRead:
		in := (*fusekernel.ReadIn)(inMsg.Consume(fusekernel.ReadInSize(protocol)))
		if in == nil {
			return nil, corrupt()
		}

		to := &fuseops.ReadFileOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    int64(in.Offset),
		}
		o = to

		if protocol.HasReadWriteFlags() {
			to.OpenFlags = fusekernel.OpenFlags(in.Flags)
			if fusekernel.ReadFlags(in.ReadFlags)&fusekernel.ReadLockOwner != 0 {
				owner := in.LockOwner
				to.LockOwner = &owner
			}
		}

		// Read straight into the reply.
		if err = growDst(outMsg, int(in.Size), &to.Dst); err != nil {
			return nil, err
		}

	case fusekernel.OpReaddir, fusekernel.OpReaddirplus:
		in := (*fusekernel.ReadIn)(inMsg.Consume(fusekernel.ReadInSize(protocol)))
		if in == nil {
			return nil, corrupt()
		}

		to := &fuseops.ReadDirOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    fuseops.DirOffset(in.Offset),
			Plus:      h.Opcode == fusekernel.OpReaddirplus,
		}
		o = to

		if err = growDst(outMsg, int(in.Size), &to.Dst); err != nil {
			return nil, err
		}

	case fusekernel.OpRelease, fusekernel.OpReleasedir:
		type input fusekernel.ReleaseIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		if h.Opcode == fusekernel.OpReleasedir {
			o = &fuseops.ReleaseDirHandleOp{
				OpContext: ctx,
				Handle:    fuseops.HandleID(in.Fh),
			}
			break
		}

		flags := fusekernel.ReleaseFlags(in.ReleaseFlags)
		o = &fuseops.ReleaseFileHandleOp{
			OpContext:    ctx,
			Handle:       fuseops.HandleID(in.Fh),
			OpenFlags:    fusekernel.OpenFlags(in.Flags),
			Flush:        flags&fusekernel.ReleaseFlush != 0,
			FlockRelease: flags&fusekernel.ReleaseFlockUnlock != 0,
			LockOwner:    in.LockOwner,
		}

	case fusekernel.OpWrite:
		in := (*fusekernel.WriteIn)(inMsg.Consume(fusekernel.WriteInSize(protocol)))
		if in == nil {
			return nil, corrupt()
		}

		buf := inMsg.ConsumeBytes(inMsg.Len())
		if len(buf) < int(in.Size) {
			return nil, corrupt()
		}

		to := &fuseops.WriteFileOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Data:      buf[:in.Size],
			Offset:    int64(in.Offset),
		}
		o = to

		flags := fusekernel.WriteFlags(in.WriteFlags)
		to.WritePage = flags&fusekernel.WriteCache != 0
		if protocol.HasReadWriteFlags() {
			to.OpenFlags = fusekernel.OpenFlags(in.Flags)
			if flags&fusekernel.WriteLockOwner != 0 {
				owner := in.LockOwner
				to.LockOwner = &owner
			}
		}

	case fusekernel.OpFsync, fusekernel.OpFsyncdir:
		type input fusekernel.FsyncIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		dataOnly := fusekernel.FsyncFlags(in.FsyncFlags)&fusekernel.FsyncFdatasync != 0
		if h.Opcode == fusekernel.OpFsyncdir {
			o = &fuseops.SyncDirOp{
				OpContext: ctx,
				Inode:     fuseops.InodeID(h.Nodeid),
				Handle:    fuseops.HandleID(in.Fh),
				DataOnly:  dataOnly,
			}
			break
		}

		o = &fuseops.SyncFileOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			DataOnly:  dataOnly,
		}

	case fusekernel.OpFlush:
		type input fusekernel.FlushIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		o = &fuseops.FlushFileOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			LockOwner: in.LockOwner,
		}

	case fusekernel.OpReadlink:
		o = &fuseops.ReadSymlinkOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
		}

	case fusekernel.OpStatfs:
		o = &fuseops.StatFSOp{
			OpContext: ctx,
		}

	case fusekernel.OpAccess:
		type input fusekernel.AccessIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		o = &fuseops.AccessOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Mask:      in.Mask,
		}

	case fusekernel.OpInterrupt:
		type input fusekernel.InterruptIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		o = &interruptOp{
			FuseID: in.Unique,
		}

	case fusekernel.OpInit:
		type input fusekernel.InitIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		o = &initOp{
			Kernel:       fusekernel.Protocol{Major: in.Major, Minor: in.Minor},
			MaxReadahead: in.MaxReadahead,
			Flags:        fusekernel.InitFlags(in.Flags),
		}

	case fusekernel.OpDestroy:
		o = &fuseops.DestroyOp{
			OpContext: ctx,
		}

	case fusekernel.OpRemovexattr:
		name, ok := consumeName(inMsg)
		if !ok {
			return nil, corrupt()
		}

		o = &fuseops.RemoveXattrOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Name:      name,
		}

	case fusekernel.OpGetxattr:
		type input fusekernel.GetxattrIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		name, ok := consumeName(inMsg)
		if !ok {
			return nil, corrupt()
		}

		to := &fuseops.GetXattrOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Name:      name,
		}
		o = to

		if err = growDst(outMsg, int(in.Size), &to.Dst); err != nil {
			return nil, err
		}

	case fusekernel.OpListxattr:
		type input fusekernel.GetxattrIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		to := &fuseops.ListXattrOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
		}
		o = to

		if err = growDst(outMsg, int(in.Size), &to.Dst); err != nil {
			return nil, err
		}

	case fusekernel.OpSetxattr:
		type input fusekernel.SetxattrIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		// payload should be "name\x00value"
		payload := inMsg.ConsumeBytes(inMsg.Len())
		i := bytes.IndexByte(payload, '\x00')
		if i < 0 || len(payload)-(i+1) < int(in.Size) {
			return nil, corrupt()
		}

		name, value := payload[:i], payload[i+1:i+1+int(in.Size)]
		o = &fuseops.SetXattrOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Name:      string(name),
			Value:     value,
			Flags:     fuseops.XattrFlags(in.Flags),
		}

	case fusekernel.OpFallocate:
		type input fusekernel.FallocateIn
		in := (*input)(inMsg.Consume(unsafe.Sizeof(input{})))
		if in == nil {
			return nil, corrupt()
		}

		o = &fuseops.FallocateOp{
			OpContext: ctx,
			Inode:     fuseops.InodeID(h.Nodeid),
			Handle:    fuseops.HandleID(in.Fh),
			Offset:    in.Offset,
			Length:    in.Length,
			Mode:      in.Mode,
		}

	default:
		o = &unknownOp{
			OpCode: h.Opcode,
			Inode:  fuseops.InodeID(h.Nodeid),
		}
	}

	return o, nil
}

////////////////////////////////////////////////////////////////////////
// Outgoing messages
////////////////////////////////////////////////////////////////////////

// Fill in the response that should be sent to the kernel, or set noResponse if
// the op requires no response.
func (c *Connection) kernelResponse(
	m *buffer.OutMessage,
	fuseID uint64,
	op interface{},
	opErr error) (noResponse bool) {
	h := m.OutHeader()
	h.Unique = fuseID

	// Special case: handle the ops for which the kernel expects no response.
	switch op.(type) {
	case *fuseops.ForgetInodeOp,
		*fuseops.BatchForgetOp,
		*fuseops.DestroyOp,
		*interruptOp:
		return true
	}

	// If the user returned the error, fill in the error field of the outgoing
	// message header.
	if opErr != nil {
		errno, _ := errnoFor(opErr)
		h.Error = -int32(errno)

		// Some ops grew the message in convertInMessage in order to obtain a
		// destination buffer. Make sure that we shrink back to just the
		// header, because an error reply must carry nothing else.
		m.ShrinkTo(buffer.OutMessageHeaderSize)
	} else {
		c.kernelResponseForOp(m, op)
	}

	h.Len = uint32(m.Len())
	return false
}

// Like kernelResponse, but assumes the user replied with a nil error to the
// op.
func (c *Connection) kernelResponseForOp(
	m *buffer.OutMessage,
	op interface{}) {
	now := c.clock.Now()

	// Create the appropriate output message
	switch o := op.(type) {
	case *fuseops.LookUpInodeOp:
		c.growEntryOut(m, now, &o.Entry)

	case *fuseops.GetInodeAttributesOp:
		size := int(fusekernel.AttrOutSize(c.protocol))
		out := (*fusekernel.AttrOut)(m.Grow(size))
		out.AttrValid, out.AttrValidNsec = fuseops.ConvertExpirationTime(
			now,
			o.AttributesExpiration)
		fuseops.ConvertAttributes(o.Inode, &o.Attributes, &out.Attr)

	case *fuseops.SetInodeAttributesOp:
		size := int(fusekernel.AttrOutSize(c.protocol))
		out := (*fusekernel.AttrOut)(m.Grow(size))
		out.AttrValid, out.AttrValidNsec = fuseops.ConvertExpirationTime(
			now,
			o.AttributesExpiration)
		fuseops.ConvertAttributes(o.Inode, &o.Attributes, &out.Attr)

	case *fuseops.MkDirOp:
		c.growEntryOut(m, now, &o.Entry)

	case *fuseops.MkNodeOp:
		c.growEntryOut(m, now, &o.Entry)

	case *fuseops.CreateFileOp:
		c.growEntryOut(m, now, &o.Entry)

		oo := (*fusekernel.OpenOut)(m.Grow(int(unsafe.Sizeof(fusekernel.OpenOut{}))))
		oo.Fh = uint64(o.Handle)
		oo.OpenFlags = uint32(openResponseFlags(
			o.KeepPageCache,
			o.UseDirectIO,
			o.NonSeekable))

	case *fuseops.CreateSymlinkOp:
		c.growEntryOut(m, now, &o.Entry)

	case *fuseops.CreateLinkOp:
		c.growEntryOut(m, now, &o.Entry)

	case *fuseops.RenameOp,
		*fuseops.RmDirOp,
		*fuseops.UnlinkOp,
		*fuseops.ReleaseDirHandleOp,
		*fuseops.SyncDirOp,
		*fuseops.SyncFileOp,
		*fuseops.FlushFileOp,
		*fuseops.ReleaseFileHandleOp,
		*fuseops.RemoveXattrOp,
		*fuseops.SetXattrOp,
		*fuseops.FallocateOp,
		*fuseops.AccessOp:
		// Empty response

	case *fuseops.OpenDirOp:
		out := (*fusekernel.OpenOut)(m.Grow(int(unsafe.Sizeof(fusekernel.OpenOut{}))))
		out.Fh = uint64(o.Handle)

		var flags fusekernel.OpenResponseFlags
		if o.CacheDir {
			flags |= fusekernel.OpenCacheDir
		}

		if o.KeepCache {
			flags |= fusekernel.OpenKeepCache
		}
		out.OpenFlags = uint32(flags)

	case *fuseops.OpenFileOp:
		out := (*fusekernel.OpenOut)(m.Grow(int(unsafe.Sizeof(fusekernel.OpenOut{}))))
		out.Fh = uint64(o.Handle)
		out.OpenFlags = uint32(openResponseFlags(
			o.KeepPageCache,
			o.UseDirectIO,
			o.NonSeekable))

	case *fuseops.ReadDirOp:
		// convertInMessage already set up the destination buffer to be at the end
		// of the out message. We need only shrink to the right size based on how
		// much the user read.
		shrinkToRead(m, o.Dst, o.BytesRead)

	case *fuseops.ReadFileOp:
		shrinkToRead(m, o.Dst, o.BytesRead)

	case *fuseops.WriteFileOp:
		out := (*fusekernel.WriteOut)(m.Grow(int(unsafe.Sizeof(fusekernel.WriteOut{}))))
		n := len(o.Data)
		if o.BytesWritten != nil {
			n = max(0, min(*o.BytesWritten, n))
		}

		out.Size = uint32(n)

	case *fuseops.ReadSymlinkOp:
		m.AppendString(o.Target)

	case *fuseops.StatFSOp:
		out := (*fusekernel.StatfsOut)(m.Grow(int(unsafe.Sizeof(fusekernel.StatfsOut{}))))
		out.St.Blocks = o.Blocks
		out.St.Bfree = o.BlocksFree
		out.St.Bavail = o.BlocksAvailable
		out.St.Files = o.Inodes
		out.St.Ffree = o.InodesFree

		out.St.Namelen = o.NameLen
		if out.St.Namelen == 0 {
			out.St.Namelen = 255
		}

		// Linux surfaces fuse_kstatfs::bsize as statfs::f_bsize and
		// fuse_kstatfs::frsize as statfs::f_frsize, the unit of the block
		// counts (cf. https://goo.gl/LktgrF).
		out.St.Bsize = o.IoSize
		if out.St.Bsize == 0 {
			out.St.Bsize = o.BlockSize
		}
		out.St.Frsize = o.BlockSize

	case *fuseops.GetXattrOp:
		// An empty Dst asks for the size only.
		if len(o.Dst) == 0 {
			writeXattrSize(m, uint32(o.BytesRead))
		} else {
			shrinkToRead(m, o.Dst, o.BytesRead)
		}

	case *fuseops.ListXattrOp:
		if len(o.Dst) == 0 {
			writeXattrSize(m, uint32(o.BytesRead))
		} else {
			shrinkToRead(m, o.Dst, o.BytesRead)
		}

	case *fuseops.InitOp:
		c.growInitOut(m, o.Conn)

	case *unknownOp:
		// Only ever replied to with ENOSYS.
		panic(fmt.Sprintf("Unexpected success for unknown op %d", o.OpCode))

	default:
		panic(fmt.Sprintf("Unexpected op: %#v", op))
	}
}

func (c *Connection) growEntryOut(
	m *buffer.OutMessage,
	now time.Time,
	e *fuseops.ChildInodeEntry) {
	size := int(fusekernel.EntryOutSize(c.protocol))
	out := (*fusekernel.EntryOut)(m.Grow(size))
	fuseops.ConvertChildInodeEntry(now, e, out)
}

// Fill in the reply to the kernel's INIT from the connection parameters the
// file system settled on.
func (c *Connection) growInitOut(m *buffer.OutMessage, conn *fuseops.ConnInfo) {
	for _, change := range conn.Normalize() {
		c.logInfo("Init: %s", change)
	}

	size := int(fusekernel.InitOutSize(c.protocol))
	out := (*fusekernel.InitOut)(m.Grow(size))

	out.Major = fusekernel.ProtoVersionMaxMajor
	out.Minor = fusekernel.ProtoVersionMaxMinor
	out.MaxReadahead = conn.MaxReadahead
	out.MaxWrite = conn.MaxWrite
	out.MaxBackground = conn.MaxBackground
	out.CongestionThreshold = conn.CongestionThreshold

	flags := fusekernel.InitFlags(conn.Want)

	// Large writes need more than the kernel's default 32 pages per request.
	if c.kernelFlags&fusekernel.InitMaxPages != 0 {
		flags |= fusekernel.InitMaxPages
		pages := (int(conn.MaxWrite)-1)/os.Getpagesize() + 1
		if pages > fusekernel.MaxMaxPages {
			pages = fusekernel.MaxMaxPages
		}
		if c.protocol.HasInitOutMaxPages() {
			out.MaxPages = uint16(pages)
		}
	}

	out.Flags = uint32(flags)
	if c.protocol.HasInitOutMaxPages() {
		out.TimeGran = conn.TimeGran
	}
}

func openResponseFlags(
	keepCache bool,
	directIO bool,
	nonSeekable bool) (flags fusekernel.OpenResponseFlags) {
	if keepCache {
		flags |= fusekernel.OpenKeepCache
	}

	if directIO {
		flags |= fusekernel.OpenDirectIO
	}

	if nonSeekable {
		flags |= fusekernel.OpenNonSeekable
	}

	return
}

// Shrink m to just the bytesRead bytes of dst, which convertInMessage placed
// directly after the header.
func shrinkToRead(m *buffer.OutMessage, dst []byte, bytesRead int) {
	if bytesRead < 0 || bytesRead > len(dst) {
		panic(fmt.Sprintf(
			"BytesRead %d out of range for %d-byte destination",
			bytesRead,
			len(dst)))
	}

	m.ShrinkTo(buffer.OutMessageHeaderSize + bytesRead)
}

func writeXattrSize(m *buffer.OutMessage, size uint32) {
	out := (*fusekernel.GetxattrOut)(m.Grow(int(unsafe.Sizeof(fusekernel.GetxattrOut{}))))
	out.Size = size
}
