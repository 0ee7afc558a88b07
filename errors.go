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
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

const (
	// Errors corresponding to kernel error numbers. These may be treated
	// specially by Connection.Reply.
	EACCES       = unix.EACCES
	EBADF        = unix.EBADF
	EEXIST       = unix.EEXIST
	EFBIG        = unix.EFBIG
	EINTR        = unix.EINTR
	EINVAL       = unix.EINVAL
	EIO          = unix.EIO
	EISDIR       = unix.EISDIR
	ENAMETOOLONG = unix.ENAMETOOLONG
	ENOATTR      = unix.ENODATA
	ENODATA      = unix.ENODATA
	ENOENT       = unix.ENOENT
	ENOSPC       = unix.ENOSPC
	ENOSYS       = unix.ENOSYS
	ENOTDIR      = unix.ENOTDIR
	ENOTEMPTY    = unix.ENOTEMPTY
	ENOTSUP      = unix.ENOTSUP
	EPERM        = unix.EPERM
	ERANGE       = unix.ERANGE
	EXDEV        = unix.EXDEV
)

// ErrExternallyManagedMountPoint is returned by Unmount for /dev/fd/N mount
// points, which were mounted by another process and must be unmounted by it.
var ErrExternallyManagedMountPoint = errors.New("externally managed mount point")

// errnoFor returns the error number to send to the kernel for err, which must
// be non-nil. Errors that aren't (or don't wrap) a syscall.Errno map to EIO,
// in which case ok is false.
func errnoFor(err error) (errno syscall.Errno, ok bool) {
	if errors.As(err, &errno) && errno != 0 {
		return errno, true
	}

	return EIO, false
}
