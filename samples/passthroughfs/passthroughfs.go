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

// Package passthroughfs mirrors a directory on the host, forwarding each
// request to the corresponding system call.
package passthroughfs

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"

	fallocate "github.com/detailyang/go-fallocate"
	"github.com/jacobsa/timeutil"
	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// The host can change behind our back, so the kernel shouldn't hold on to
// anything for long.
const ttl = time.Second

// A snapshot of a directory taken when it was opened, so that offsets stay
// stable while it is read.
type dirHandle struct {
	inode   fuseops.InodeID
	entries []fuseutil.Dirent
}

type passthroughFS struct {
	fuseutil.NotImplementedFileSystem

	root   string
	clock  timeutil.Clock
	logger logrus.FieldLogger

	inodes *inodeTable
	files  *fuseutil.HandleTable[*os.File]
	dirs   *fuseutil.HandleTable[*dirHandle]
}

var _ fuseutil.FileSystem = &passthroughFS{}

// NewPassthroughServer creates a file system that mirrors an existing
// directory. Host errors that aren't errnos are logged and reported as EIO.
func NewPassthroughServer(
	root string,
	clock timeutil.Clock,
	logger logrus.FieldLogger) (fuse.Server, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Stat(root, &st); err != nil {
		return nil, &os.PathError{Op: "stat", Path: root, Err: err}
	}

	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return nil, &os.PathError{Op: "mount", Path: root, Err: unix.ENOTDIR}
	}

	if logger == nil {
		logger = logrus.StandardLogger()
	}

	fs := &passthroughFS{
		root:   root,
		clock:  clock,
		logger: logger.WithField("root", root),
		inodes: newInodeTable(root, &st),
		files:  fuseutil.NewHandleTable[*os.File](),
		dirs:   fuseutil.NewHandleTable[*dirHandle](),
	}

	return fuseutil.NewFileSystemServer(fs), nil
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// Convert a host error to the errno to give the kernel.
func (fs *passthroughFS) toErrno(op string, err error) error {
	if err == nil {
		return nil
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	fs.logger.WithError(err).Errorf("%s", op)
	return fuse.EIO
}

func (fs *passthroughFS) path(id fuseops.InodeID) (string, error) {
	p, ok := fs.inodes.Path(id)
	if !ok {
		return "", fuse.ENOENT
	}

	return p, nil
}

func (fs *passthroughFS) childPath(parent fuseops.InodeID, name string) (string, error) {
	p, err := fs.path(parent)
	if err != nil {
		return "", err
	}

	return filepath.Join(p, name), nil
}

// Stat the host file at path and fill in an entry for it, counting a lookup.
func (fs *passthroughFS) entryFor(path string, e *fuseops.ChildInodeEntry) error {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return err
	}

	e.Child = fs.inodes.Ref(path, &st)
	e.Attributes = attributesOf(&st)
	e.SetExpiration(fs.clock.Now(), ttl, ttl)

	return nil
}

func (fs *passthroughFS) file(h fuseops.HandleID) (*os.File, error) {
	f, ok := fs.files.Lookup(h)
	if !ok {
		return nil, fuse.EBADF
	}

	return f, nil
}

// List the directory at path, which has ID self, with "." and ".." first.
// Entries carry the IDs GetInodeAttributes reports for them.
func (fs *passthroughFS) readDirEntries(
	path string,
	self fuseops.InodeID) ([]fuseutil.Dirent, error) {
	children, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	parent := self
	if self != fuseops.RootInodeID {
		var st unix.Stat_t
		if err := unix.Lstat(filepath.Dir(path), &st); err != nil {
			return nil, err
		}

		parent = fs.inodes.ID(filepath.Dir(path), &st)
	}

	entries := []fuseutil.Dirent{
		{Offset: 1, Inode: self, Name: ".", Type: fuseutil.DT_Directory},
		{Offset: 2, Inode: parent, Name: "..", Type: fuseutil.DT_Directory},
	}

	for _, child := range children {
		// Skip children removed since ReadDir.
		childPath := filepath.Join(path, child.Name())
		var st unix.Stat_t
		if err := unix.Lstat(childPath, &st); err != nil {
			continue
		}

		var childType fuseutil.DirentType
		switch mode := child.Type(); {
		case mode.IsDir():
			childType = fuseutil.DT_Directory
		case mode&os.ModeSymlink != 0:
			childType = fuseutil.DT_Link
		case mode&os.ModeNamedPipe != 0:
			childType = fuseutil.DT_FIFO
		case mode&os.ModeSocket != 0:
			childType = fuseutil.DT_Socket
		case mode&os.ModeCharDevice != 0:
			childType = fuseutil.DT_Char
		case mode&os.ModeDevice != 0:
			childType = fuseutil.DT_Block
		default:
			childType = fuseutil.DT_File
		}

		entries = append(entries, fuseutil.Dirent{
			Offset: fuseops.DirOffset(len(entries) + 1),
			Inode:  fs.inodes.ID(childPath, &st),
			Name:   child.Name(),
			Type:   childType,
		})
	}

	return entries, nil
}

////////////////////////////////////////////////////////////////////////
// FileSystem methods
////////////////////////////////////////////////////////////////////////

func (fs *passthroughFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.root, &st); err != nil {
		return fs.toErrno("statfs", err)
	}

	op.BlockSize = uint32(st.Frsize)
	op.IoSize = uint32(st.Bsize)
	op.Blocks = st.Blocks
	op.BlocksFree = st.Bfree
	op.BlocksAvailable = st.Bavail
	op.Inodes = st.Files
	op.InodesFree = st.Ffree
	op.NameLen = uint32(st.Namelen)

	return nil
}

func (fs *passthroughFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	p, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	return fs.toErrno("lookup", fs.entryFor(p, &op.Entry))
}

func (fs *passthroughFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	var st unix.Stat_t
	if op.Handle != nil {
		f, err := fs.file(*op.Handle)
		if err != nil {
			return err
		}

		if err := unix.Fstat(int(f.Fd()), &st); err != nil {
			return fs.toErrno("fstat", err)
		}
	} else {
		p, err := fs.path(op.Inode)
		if err != nil {
			return err
		}

		if err := unix.Lstat(p, &st); err != nil {
			return fs.toErrno("lstat", err)
		}
	}

	op.Attributes = attributesOf(&st)
	op.AttributesExpiration = fs.clock.Now().Add(ttl)

	return nil
}

func (fs *passthroughFS) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	if op.Mode != nil {
		if err := unix.Chmod(p, fuseops.ConvertGoMode(*op.Mode)&07777); err != nil {
			return fs.toErrno("chmod", err)
		}
	}

	if op.Uid != nil || op.Gid != nil {
		uid, gid := -1, -1
		if op.Uid != nil {
			uid = int(*op.Uid)
		}

		if op.Gid != nil {
			gid = int(*op.Gid)
		}

		if err := unix.Lchown(p, uid, gid); err != nil {
			return fs.toErrno("lchown", err)
		}
	}

	if op.Size != nil {
		if err := fs.truncate(p, op.Handle, int64(*op.Size)); err != nil {
			return err
		}
	}

	if op.Atime != nil || op.Mtime != nil || op.AtimeNow || op.MtimeNow {
		times := []unix.Timespec{
			{Nsec: unix.UTIME_OMIT},
			{Nsec: unix.UTIME_OMIT},
		}

		switch {
		case op.AtimeNow:
			times[0].Nsec = unix.UTIME_NOW
		case op.Atime != nil:
			times[0] = unix.NsecToTimespec(op.Atime.UnixNano())
		}

		switch {
		case op.MtimeNow:
			times[1].Nsec = unix.UTIME_NOW
		case op.Mtime != nil:
			times[1] = unix.NsecToTimespec(op.Mtime.UnixNano())
		}

		if err := unix.UtimesNanoAt(unix.AT_FDCWD, p, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fs.toErrno("utimensat", err)
		}
	}

	var st unix.Stat_t
	if err := unix.Lstat(p, &st); err != nil {
		return fs.toErrno("lstat", err)
	}

	op.Attributes = attributesOf(&st)
	op.AttributesExpiration = fs.clock.Now().Add(ttl)

	return nil
}

// Truncate through the handle if the kernel supplied one.
func (fs *passthroughFS) truncate(p string, h *fuseops.HandleID, size int64) error {
	if h == nil {
		return fs.toErrno("truncate", unix.Truncate(p, size))
	}

	f, err := fs.file(*h)
	if err != nil {
		return err
	}

	return fs.toErrno("ftruncate", f.Truncate(size))
}

func (fs *passthroughFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	fs.inodes.Forget(op.Inode, op.N)
	return nil
}

func (fs *passthroughFS) MkDir(
	ctx context.Context,
	op *fuseops.MkDirOp) error {
	p, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	if err := unix.Mkdir(p, uint32(op.Mode.Perm())); err != nil {
		return fs.toErrno("mkdir", err)
	}

	return fs.toErrno("lookup", fs.entryFor(p, &op.Entry))
}

func (fs *passthroughFS) MkNode(
	ctx context.Context,
	op *fuseops.MkNodeOp) error {
	p, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	if err := unix.Mknod(p, fuseops.ConvertGoMode(op.Mode), int(op.Rdev)); err != nil {
		return fs.toErrno("mknod", err)
	}

	return fs.toErrno("lookup", fs.entryFor(p, &op.Entry))
}

func (fs *passthroughFS) CreateFile(
	ctx context.Context,
	op *fuseops.CreateFileOp) error {
	p, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	flags := int(op.OpenFlags)&^(unix.O_APPEND|unix.O_NOCTTY) | unix.O_CREAT | unix.O_EXCL
	f, err := os.OpenFile(p, flags, op.Mode.Perm())
	if err != nil {
		return fs.toErrno("create", err)
	}

	if err := fs.entryFor(p, &op.Entry); err != nil {
		f.Close()
		return fs.toErrno("lookup", err)
	}

	op.Handle = fs.files.Encode(f)
	return nil
}

func (fs *passthroughFS) CreateSymlink(
	ctx context.Context,
	op *fuseops.CreateSymlinkOp) error {
	p, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	if err := unix.Symlink(op.Target, p); err != nil {
		return fs.toErrno("symlink", err)
	}

	return fs.toErrno("lookup", fs.entryFor(p, &op.Entry))
}

func (fs *passthroughFS) CreateLink(
	ctx context.Context,
	op *fuseops.CreateLinkOp) error {
	target, err := fs.path(op.Target)
	if err != nil {
		return err
	}

	p, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	if err := unix.Link(target, p); err != nil {
		return fs.toErrno("link", err)
	}

	return fs.toErrno("lookup", fs.entryFor(p, &op.Entry))
}

func (fs *passthroughFS) Rename(
	ctx context.Context,
	op *fuseops.RenameOp) error {
	oldPath, err := fs.childPath(op.OldParent, op.OldName)
	if err != nil {
		return err
	}

	newPath, err := fs.childPath(op.NewParent, op.NewName)
	if err != nil {
		return err
	}

	if op.Flags == 0 {
		err = unix.Rename(oldPath, newPath)
	} else {
		err = unix.Renameat2(unix.AT_FDCWD, oldPath, unix.AT_FDCWD, newPath, uint(op.Flags))
	}

	if err != nil {
		return fs.toErrno("rename", err)
	}

	if op.Flags&fuseops.RenameExchange != 0 {
		// Swap through a name that can't exist.
		tmp := newPath + "\x00"
		fs.inodes.Renamed(newPath, tmp)
		fs.inodes.Renamed(oldPath, newPath)
		fs.inodes.Renamed(tmp, oldPath)
		return nil
	}

	fs.inodes.Renamed(oldPath, newPath)
	return nil
}

func (fs *passthroughFS) RmDir(
	ctx context.Context,
	op *fuseops.RmDirOp) error {
	p, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	return fs.toErrno("rmdir", unix.Rmdir(p))
}

func (fs *passthroughFS) Unlink(
	ctx context.Context,
	op *fuseops.UnlinkOp) error {
	p, err := fs.childPath(op.Parent, op.Name)
	if err != nil {
		return err
	}

	return fs.toErrno("unlink", unix.Unlink(p))
}

func (fs *passthroughFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	entries, err := fs.readDirEntries(p, op.Inode)
	if err != nil {
		return fs.toErrno("readdir", err)
	}

	op.Handle = fs.dirs.Encode(&dirHandle{inode: op.Inode, entries: entries})
	return nil
}

func (fs *passthroughFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	dh, ok := fs.dirs.Lookup(op.Handle)
	if !ok || dh.inode != op.Inode {
		return fuse.EBADF
	}

	dirPath, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	if op.Offset > fuseops.DirOffset(len(dh.entries)) {
		return nil
	}

	buf := fuseutil.NewDirBuffer(op.Dst[op.BytesRead:], fs.clock.Now())
	for _, d := range dh.entries[op.Offset:] {
		if !op.Plus {
			if !buf.Add(d) {
				break
			}

			continue
		}

		e := fuseutil.DirentPlus{Dirent: d}
		if d.Name == "." || d.Name == ".." {
			if !buf.AddPlus(e) {
				break
			}

			continue
		}

		// Entries that vanished since opendir are listed without attributes.
		p := filepath.Join(dirPath, d.Name)
		if err := fs.entryFor(p, &e.Entry); err != nil {
			e.Entry = fuseops.ChildInodeEntry{}
		} else {
			e.Dirent.Inode = e.Entry.Child
		}

		if !buf.AddPlus(e) {
			if e.Entry.Child != 0 {
				fs.inodes.Forget(e.Entry.Child, 1)
			}

			break
		}
	}

	op.BytesRead += buf.Len()
	return nil
}

func (fs *passthroughFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	fs.dirs.Release(op.Handle)
	return nil
}

func (fs *passthroughFS) SyncDir(
	ctx context.Context,
	op *fuseops.SyncDirOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	d, err := os.Open(p)
	if err != nil {
		return fs.toErrno("open", err)
	}
	defer d.Close()

	return fs.toErrno("fsync", d.Sync())
}

func (fs *passthroughFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	// The kernel keeps track of the end of the file for appends.
	flags := int(op.OpenFlags) &^ (unix.O_CREAT | unix.O_EXCL | unix.O_NOCTTY | unix.O_APPEND)
	f, err := os.OpenFile(p, flags, 0)
	if err != nil {
		return fs.toErrno("open", err)
	}

	op.Handle = fs.files.Encode(f)
	return nil
}

func (fs *passthroughFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	f, err := fs.file(op.Handle)
	if err != nil {
		return err
	}

	op.BytesRead, err = f.ReadAt(op.Dst, op.Offset)

	// Short reads at the end of the file are how EOF is reported.
	if err == io.EOF {
		return nil
	}

	return fs.toErrno("read", err)
}

func (fs *passthroughFS) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	f, err := fs.file(op.Handle)
	if err != nil {
		return err
	}

	// pwrite(2) may write less than asked without failing, e.g. when the
	// disk fills up.
	n, err := unix.Pwrite(int(f.Fd()), op.Data, op.Offset)
	if err != nil {
		return fs.toErrno("write", err)
	}

	if n < len(op.Data) {
		op.BytesWritten = &n
	}

	return nil
}

func (fs *passthroughFS) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	f, err := fs.file(op.Handle)
	if err != nil {
		return err
	}

	if op.DataOnly {
		return fs.toErrno("fdatasync", unix.Fdatasync(int(f.Fd())))
	}

	return fs.toErrno("fsync", f.Sync())
}

func (fs *passthroughFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	f, err := fs.file(op.Handle)
	if err != nil {
		return err
	}

	// Closing a duplicate reports deferred write errors without giving up
	// the handle.
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return fs.toErrno("dup", err)
	}

	return fs.toErrno("close", unix.Close(fd))
}

func (fs *passthroughFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	f := fs.files.Release(op.Handle)
	return fs.toErrno("close", f.Close())
}

func (fs *passthroughFS) ReadSymlink(
	ctx context.Context,
	op *fuseops.ReadSymlinkOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	op.Target, err = os.Readlink(p)
	return fs.toErrno("readlink", err)
}

func (fs *passthroughFS) GetXattr(
	ctx context.Context,
	op *fuseops.GetXattrOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	// An empty destination asks for the size, as with getxattr(2).
	op.BytesRead, err = unix.Lgetxattr(p, op.Name, op.Dst)
	return fs.toErrno("getxattr", err)
}

func (fs *passthroughFS) ListXattr(
	ctx context.Context,
	op *fuseops.ListXattrOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	op.BytesRead, err = unix.Llistxattr(p, op.Dst)
	return fs.toErrno("listxattr", err)
}

func (fs *passthroughFS) SetXattr(
	ctx context.Context,
	op *fuseops.SetXattrOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	return fs.toErrno("setxattr", unix.Lsetxattr(p, op.Name, op.Value, int(op.Flags)))
}

func (fs *passthroughFS) RemoveXattr(
	ctx context.Context,
	op *fuseops.RemoveXattrOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	return fs.toErrno("removexattr", unix.Lremovexattr(p, op.Name))
}

func (fs *passthroughFS) Fallocate(
	ctx context.Context,
	op *fuseops.FallocateOp) error {
	f, err := fs.file(op.Handle)
	if err != nil {
		return err
	}

	if op.Mode == 0 {
		err = fallocate.Fallocate(f, int64(op.Offset), int64(op.Length))
	} else {
		err = unix.Fallocate(int(f.Fd()), op.Mode, int64(op.Offset), int64(op.Length))
	}

	return fs.toErrno("fallocate", err)
}

func (fs *passthroughFS) Access(
	ctx context.Context,
	op *fuseops.AccessOp) error {
	p, err := fs.path(op.Inode)
	if err != nil {
		return err
	}

	return fs.toErrno("access", unix.Access(p, op.Mask))
}

func (fs *passthroughFS) Destroy() {
	fs.logger.WithField("inodes", fs.inodes.Len()).Debug("destroy")
}
