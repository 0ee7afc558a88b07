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

	"github.com/llfuse/fuse/internal/fusekernel"
)

// Capabilities is a set of optional protocol features, exchanged with the
// kernel when the connection is initialized. The bits are those of the
// kernel's FUSE_INIT flags.
type Capabilities uint32

const (
	CapAsyncRead         = Capabilities(fusekernel.InitAsyncRead)
	CapPosixLocks        = Capabilities(fusekernel.InitPosixLocks)
	CapAtomicTrunc       = Capabilities(fusekernel.InitAtomicTrunc)
	CapExportSupport     = Capabilities(fusekernel.InitExportSupport)
	CapBigWrites         = Capabilities(fusekernel.InitBigWrites)
	CapDontMask          = Capabilities(fusekernel.InitDontMask)
	CapSpliceWrite       = Capabilities(fusekernel.InitSpliceWrite)
	CapSpliceMove        = Capabilities(fusekernel.InitSpliceMove)
	CapSpliceRead        = Capabilities(fusekernel.InitSpliceRead)
	CapFlockLocks        = Capabilities(fusekernel.InitFlockLocks)
	CapIoctlDir          = Capabilities(fusekernel.InitHasIoctlDir)
	CapAutoInvalData     = Capabilities(fusekernel.InitAutoInvalData)
	CapReaddirplus       = Capabilities(fusekernel.InitDoReaddirplus)
	CapReaddirplusAuto   = Capabilities(fusekernel.InitReaddirplusAuto)
	CapAsyncDIO          = Capabilities(fusekernel.InitAsyncDIO)
	CapWritebackCache    = Capabilities(fusekernel.InitWritebackCache)
	CapNoOpenSupport     = Capabilities(fusekernel.InitNoOpenSupport)
	CapParallelDirOps    = Capabilities(fusekernel.InitParallelDirOps)
	CapHandleKillpriv    = Capabilities(fusekernel.InitHandleKillpriv)
	CapPosixACL          = Capabilities(fusekernel.InitPosixACL)
	CapCacheSymlinks     = Capabilities(fusekernel.InitCacheSymlinks)
	CapNoOpendirSupport  = Capabilities(fusekernel.InitNoOpendirSupport)
	CapExplicitInvalData = Capabilities(fusekernel.InitExplicitInvalData)
)

// DefaultWant is the set of capabilities requested on behalf of every file
// system, masked by what the kernel offers.
const DefaultWant = CapAsyncRead |
	CapAtomicTrunc |
	CapBigWrites |
	CapAutoInvalData |
	CapAsyncDIO

func (c Capabilities) String() string {
	return fusekernel.InitFlags(c).String()
}

// Defaults for the writable ConnInfo fields.
const (
	DefaultMaxBackground       = 12
	DefaultCongestionThreshold = 9
	DefaultTimeGran            = 1

	minMaxWrite = 4096
	maxTimeGran = 1000000000
)

// ConnInfo describes the connection to the kernel. File systems inspect and
// adjust it in their Init method; the adjusted values are sent back to the
// kernel in the reply to its INIT request.
//
// The protocol version and the kernel's capabilities are read-only. All
// exported fields may be changed. Values the kernel can't honour are clamped
// after Init returns, and wanted capabilities the kernel doesn't offer are
// dropped.
type ConnInfo struct {
	protoMajor uint32
	protoMinor uint32
	capable    Capabilities

	// Limits fixed outside of Init.
	kernelMaxReadahead uint32
	mountMaxRead       uint32

	// The maximum size of a read request, as set with the max_read mount
	// option. It cannot be changed here; a different value is reset.
	MaxRead uint32

	// The maximum size of a write request.
	MaxWrite uint32

	// The maximum readahead the kernel may perform.
	MaxReadahead uint32

	// Capabilities the file system would like to use.
	Want Capabilities

	// The maximum number of outstanding background requests, and the number
	// at which the kernel considers the connection congested.
	MaxBackground       uint16
	CongestionThreshold uint16

	// The granularity of timestamps, in nanoseconds. A power of ten between 1
	// and 1e9.
	TimeGran uint32
}

// NewConnInfo returns the connection description offered to a file system
// for a kernel speaking the given protocol version with the given
// capabilities. maxRead is the max_read mount option, or zero if none was
// set.
func NewConnInfo(
	major uint32,
	minor uint32,
	capable Capabilities,
	maxReadahead uint32,
	maxRead uint32) *ConnInfo {
	return &ConnInfo{
		protoMajor:          major,
		protoMinor:          minor,
		capable:             capable,
		kernelMaxReadahead:  maxReadahead,
		mountMaxRead:        maxRead,
		MaxRead:             maxRead,
		MaxWrite:            fusekernel.MaxWriteSize,
		MaxReadahead:        maxReadahead,
		Want:                capable & DefaultWant,
		MaxBackground:       DefaultMaxBackground,
		CongestionThreshold: DefaultCongestionThreshold,
		TimeGran:            DefaultTimeGran,
	}
}

// ProtoMajor returns the major protocol version spoken by the kernel.
func (c *ConnInfo) ProtoMajor() uint32 { return c.protoMajor }

// ProtoMinor returns the minor protocol version spoken by the kernel.
func (c *ConnInfo) ProtoMinor() uint32 { return c.protoMinor }

// Capable returns the capabilities offered by the kernel.
func (c *ConnInfo) Capable() Capabilities { return c.capable }

// Normalize brings the writable fields back within what the kernel and the
// library support, returning a description of each value it had to change.
// Dropping wanted capabilities the kernel doesn't offer is not reported.
func (c *ConnInfo) Normalize() (changes []string) {
	c.Want &= c.capable

	if c.MaxRead != c.mountMaxRead {
		changes = append(changes, fmt.Sprintf(
			"MaxRead can only be set at mount time; resetting %d to %d",
			c.MaxRead,
			c.mountMaxRead))
		c.MaxRead = c.mountMaxRead
	}

	if c.MaxReadahead > c.kernelMaxReadahead {
		changes = append(changes, fmt.Sprintf(
			"MaxReadahead %d exceeds the kernel's %d",
			c.MaxReadahead,
			c.kernelMaxReadahead))
		c.MaxReadahead = c.kernelMaxReadahead
	}

	switch {
	case c.MaxWrite > fusekernel.MaxWriteSize:
		changes = append(changes, fmt.Sprintf(
			"MaxWrite %d exceeds the buffer size %d",
			c.MaxWrite,
			fusekernel.MaxWriteSize))
		c.MaxWrite = fusekernel.MaxWriteSize

	case c.MaxWrite < minMaxWrite:
		changes = append(changes, fmt.Sprintf(
			"MaxWrite %d is below the minimum %d",
			c.MaxWrite,
			minMaxWrite))
		c.MaxWrite = minMaxWrite
	}

	if c.CongestionThreshold > c.MaxBackground {
		changes = append(changes, fmt.Sprintf(
			"CongestionThreshold %d exceeds MaxBackground %d",
			c.CongestionThreshold,
			c.MaxBackground))
		c.CongestionThreshold = c.MaxBackground
	}

	switch {
	case c.TimeGran == 0:
		changes = append(changes, "TimeGran 0 is invalid; using 1")
		c.TimeGran = 1

	case c.TimeGran > maxTimeGran:
		changes = append(changes, fmt.Sprintf(
			"TimeGran %d exceeds one second",
			c.TimeGran))
		c.TimeGran = maxTimeGran
	}

	return
}
