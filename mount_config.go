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
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jacobsa/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// HandleErrorPolicy decides whether errors returned for flush and release
// ops reach the kernel. close(2) reports a flush error to the user; nothing
// reports a release error, because the file descriptor is already gone.
type HandleErrorPolicy int

const (
	// Flush errors reach the kernel. Release and release-dir errors are
	// logged and replaced by success.
	ReportFlushErrors HandleErrorPolicy = iota

	// Flush, release and release-dir errors all reach the kernel.
	ReportAllHandleErrors

	// None of them reach the kernel; all are logged.
	SuppressHandleErrors
)

func (p HandleErrorPolicy) String() string {
	switch p {
	case ReportFlushErrors:
		return "report-flush"
	case ReportAllHandleErrors:
		return "report-all"
	case SuppressHandleErrors:
		return "suppress"
	default:
		return fmt.Sprintf("HandleErrorPolicy(%d)", int(p))
	}
}

// ParseHandleErrorPolicy is the inverse of HandleErrorPolicy.String.
func ParseHandleErrorPolicy(s string) (HandleErrorPolicy, error) {
	for _, p := range []HandleErrorPolicy{
		ReportFlushErrors,
		ReportAllHandleErrors,
		SuppressHandleErrors,
	} {
		if p.String() == s {
			return p, nil
		}
	}

	return 0, fmt.Errorf("unknown handle error policy %q", s)
}

// Optional configuration accepted by Mount.
type MountConfig struct {
	// The context from which every op read from the connection by the sever
	// should inherit. If nil, context.Background() will be used.
	OpContext context.Context

	// If non-empty, the name of the file system as displayed by e.g. `mount`.
	// This is important because the `umount` command requires root privileges
	// if it doesn't agree with /etc/fstab.
	FSName string

	// The file system type, shown as "fuse.<Subtype>" in /proc/mounts.
	Subtype string

	// Mount the file system in read-only mode. File modes will appear as normal,
	// but opening a file for writing and metadata operations like chmod,
	// chtimes, etc. will fail.
	ReadOnly bool

	// A logger to use for logging errors. All errors are logged, with the
	// exception of a few blacklisted errors that are expected. If nil, no
	// error logging is performed.
	ErrorLogger logrus.FieldLogger

	// A logger to use for logging debug information. If nil, the logger
	// enabled by the --fuse.debug flag is used, if any.
	DebugLogger logrus.FieldLogger

	// Whether errors from flush and release ops reach the kernel. The zero
	// value reports flush errors only.
	HandleErrorPolicy HandleErrorPolicy

	// The max_read mount option: the largest read the kernel will send. Zero
	// leaves it to the kernel. It can't be changed during Init.
	MaxRead uint32

	// The largest readahead to allow, or zero for the kernel's value.
	MaxReadahead uint32

	// By default the kernel is allowed to perform writeback caching
	// (cf. http://goo.gl/LdZzo1): write(2) lands in the page cache, and the
	// file system later receives possibly coalesced and concurrent
	// WriteFileOps. close(2) writes out dirty pages, then sends a setattr
	// with the mtime of those writes, then a flush. File systems relying on
	// writeback caching must therefore handle SetInodeAttributesOp.
	//
	// The kernel caches mtime, ctime and size under writeback caching
	// regardless of attribute expiration, so it doesn't suit file systems
	// whose attributes change behind the kernel's back. Setting this field
	// makes each write(2) call through to the file system synchronously.
	DisableWritebackCaching bool

	// Allow the kernel to send concurrent lookup and readdir ops for the same
	// directory. By default the kernel serializes them.
	EnableParallelDirOps bool

	// Additional mount options, as for the -o flag of mount(8). A value of ""
	// gives a bare option name.
	Options map[string]string

	// The clock used to turn cache expiration times into durations. If nil,
	// the real clock is used.
	Clock timeutil.Clock

	// If non-nil, per-op counters and latency histograms are registered here.
	MetricsRegisterer prometheus.Registerer

	// The source of message buffers. If nil, a DefaultMessageProvider is used.
	MessageProvider MessageProvider
}

// Create a map containing all of the key=value mount options to be given to
// the mount helper.
func (c *MountConfig) toMap() (opts map[string]string) {
	opts = make(map[string]string)

	// Enable permissions checking in the kernel. See the comments on
	// InodeAttributes.Mode.
	opts["default_permissions"] = ""

	// HACK(jacobsa): Work around what appears to be a bug in systemd v219, as
	// shipped in Ubuntu 15.04, where it automatically unmounts any file system
	// that doesn't set an explicit name.
	//
	// When Ubuntu contains systemd v220, this workaround should be removed and
	// the systemd bug reopened if the problem persists.
	//
	// Cf. https://github.com/bazil/fuse/issues/89
	// Cf. https://bugs.freedesktop.org/show_bug.cgi?id=90907
	fsname := c.FSName
	if fsname == "" {
		fsname = "some_fuse_file_system"
	}

	opts["fsname"] = fsname

	if c.Subtype != "" {
		opts["subtype"] = c.Subtype
	}

	// Read only?
	if c.ReadOnly {
		opts["ro"] = ""
	}

	if c.MaxRead != 0 {
		opts["max_read"] = fmt.Sprint(c.MaxRead)
	}

	// Last, copy in the user's explicit options.
	for k, v := range c.Options {
		opts[k] = v
	}

	return
}

func escapeOptionsKey(s string) (res string) {
	res = s
	res = strings.Replace(res, `\`, `\\`, -1)
	res = strings.Replace(res, `,`, `\,`, -1)
	return
}

// Create an options string suitable for passing to the mount helper.
func (c *MountConfig) toOptionsString() string {
	var components []string
	for k, v := range c.toMap() {
		k = escapeOptionsKey(k)

		component := k
		if v != "" {
			component = fmt.Sprintf("%s=%s", k, v)
		}

		components = append(components, component)
	}

	sort.Strings(components)
	return strings.Join(components, ",")
}
