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
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/internal/buffer"
	"github.com/llfuse/fuse/internal/fusekernel"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Ask the Linux kernel for larger read requests.
//
// As of 2015-03-26, the behavior in the kernel is:
//
//   - (https://goo.gl/bQ1f1i, https://goo.gl/HwBrR6) Set the local variable
//     ra_pages to be init_response->max_readahead divided by the page size.
//
//   - (https://goo.gl/gcIsSh, https://goo.gl/LKV2vA) Set
//     backing_dev_info::ra_pages to the min of that value and what was sent
//     in the request's max_readahead field.
//
//   - (https://goo.gl/u2SqzH) Use backing_dev_info::ra_pages when deciding
//     how much to read ahead.
//
//   - (https://goo.gl/JnhbdL) Don't read ahead at all if that field is zero.
//
// Reading a page at a time is a drag. Ask for a larger size.
const maxReadahead = 1 << 20

// A connection to the fuse kernel process.
type Connection struct {
	cfg         MountConfig
	id          string
	debugLogger logrus.FieldLogger
	errorLogger logrus.FieldLogger
	clock       timeutil.Clock
	metrics     *opMetrics
	messages    MessageProvider

	// The device through which we're talking to the kernel, and the protocol
	// version that we're using to talk to it.
	dev      io.ReadWriteCloser
	protocol fusekernel.Protocol

	// The INIT flags the kernel offered.
	kernelFlags fusekernel.InitFlags

	// Whether INIT has been received. Touched only by ReadOp.
	initialized bool

	mu sync.Mutex

	// A map from fuse "unique" request ID (*not* the op ID for logging used
	// above) to a function that cancel's its associated context.
	//
	// GUARDED_BY(mu)
	cancelFuncs map[uint64]func()

	// The error that made ReadOp give up, other than io.EOF.
	//
	// GUARDED_BY(mu)
	readErr error
}

// State that is maintained for each in-flight op. This is stuffed into the
// context that the user uses to reply to the op.
type opState struct {
	inMsg  *buffer.InMessage
	outMsg *buffer.OutMessage
	op     interface{}
	fuseID uint64
	start  time.Time

	report reqtrace.ReportFunc
	cancel func()

	replied atomic.Bool
}

type contextKeyType uint64

var contextKey interface{} = contextKeyType(0)

// NewConnection wraps dev, the kernel end of a fuse session. It is exported
// for tests that play the part of the kernel; Mount uses it with /dev/fuse.
// Responsibility for closing dev is transferred to the connection.
func NewConnection(cfg *MountConfig, dev io.ReadWriteCloser) (*Connection, error) {
	if cfg == nil {
		cfg = &MountConfig{}
	}

	c := &Connection{
		cfg:         *cfg,
		id:          uuid.NewString(),
		debugLogger: cfg.DebugLogger,
		errorLogger: cfg.ErrorLogger,
		clock:       cfg.Clock,
		messages:    cfg.MessageProvider,
		dev:         dev,
		cancelFuncs: make(map[uint64]func()),
	}

	if c.debugLogger == nil {
		c.debugLogger = defaultDebugLogger()
	}

	if c.clock == nil {
		c.clock = timeutil.RealClock()
	}

	if c.messages == nil {
		c.messages = &DefaultMessageProvider{}
	}

	c.metrics = newOpMetrics(cfg.MetricsRegisterer, c.id)
	return c, nil
}

// ID returns the identifier used to tell this connection apart in logs and
// metrics.
func (c *Connection) ID() string {
	return c.id
}

// Protocol returns the FUSE protocol version in use, which is known once the
// INIT op has been read.
func (c *Connection) Protocol() fusekernel.Protocol {
	return c.protocol
}

// Err returns the error that ended the connection, or nil if the kernel
// simply hung up. Once ReadOp has returned an error other than io.EOF, the
// connection is unusable and Err reports why.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.readErr
}

func (c *Connection) setReadErr(err error) {
	if err == nil || err == io.EOF {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.readErr == nil {
		c.readErr = err
	}
}

// Log information for an operation with the given unique ID.
func (c *Connection) debugLog(
	fuseID uint64,
	format string,
	v ...interface{}) {
	if c.debugLogger == nil {
		return
	}

	c.debugLogger.WithFields(logrus.Fields{
		"conn":   c.id,
		"unique": fuseID,
	}).Debugf("Op 0x%08x %s", fuseID, fmt.Sprintf(format, v...))
}

func (c *Connection) logInfo(format string, v ...interface{}) {
	if c.debugLogger == nil {
		return
	}

	c.debugLogger.WithField("conn", c.id).Infof(format, v...)
}

func (c *Connection) logError(op interface{}, err error) {
	if c.errorLogger == nil {
		return
	}

	c.errorLogger.WithFields(logrus.Fields{
		"conn": c.id,
		"op":   opName(op),
	}).Errorf("%s error: %v", opName(op), err)
}

// Record that the op with the given unique ID can be interrupted by calling
// cancel.
func (c *Connection) recordCancelFunc(
	fuseID uint64,
	f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.cancelFuncs[fuseID]; ok {
		panic(fmt.Sprintf("Already have cancel func for request %v", fuseID))
	}

	c.cancelFuncs[fuseID] = f
}

// Set up state for an op that is about to be returned to the user, given its
// underlying fuse opcode and request ID.
//
// Return a context that should be used for the op.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) beginOp(
	op interface{},
	fuseID uint64,
	inMsg *buffer.InMessage,
	outMsg *buffer.OutMessage) context.Context {
	parent := c.cfg.OpContext
	if parent == nil {
		parent = context.Background()
	}

	// Set up a cancellation function, recorded so that an interrupt from the
	// kernel can reach it.
	ctx, cancel := context.WithCancel(parent)
	c.recordCancelFunc(fuseID, cancel)

	// Start a trace span for the op.
	ctx, report := reqtrace.StartSpan(ctx, opName(op))

	state := &opState{
		inMsg:  inMsg,
		outMsg: outMsg,
		op:     op,
		fuseID: fuseID,
		start:  time.Now(),
		report: report,
		cancel: cancel,
	}

	c.metrics.opStarted()
	return context.WithValue(ctx, contextKey, state)
}

// Clean up all state associated with an op to which the user has responded,
// given its underlying fuse opcode and request ID. This must be called before
// a response is sent to the kernel, to avoid a race where the request's ID
// might be reused by osxfuse.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) finishOp(fuseID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Even though the op is finished, context.WithCancel requires us to arrange
	// for the cancellation function to be invoked. We also must remove it from
	// our map.
	//
	// An op that is interrupted may have already been cancelled.
	if cancel, ok := c.cancelFuncs[fuseID]; ok {
		cancel()
		delete(c.cancelFuncs, fuseID)
	}
}

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) handleInterrupt(fuseID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// NOTE(jacobsa): fuse.txt in the Linux kernel documentation
	// (https://goo.gl/H55Dnr) defines the kernel <-> userspace protocol for
	// interrupts.
	//
	// In particular, my reading of it is that an interrupt request cannot be
	// delivered to userspace before the original request. The kernel may
	// send the interrupt after we've already replied, in which case there is
	// nothing to cancel and we drop it.
	cancel, ok := c.cancelFuncs[fuseID]
	if !ok {
		return
	}

	cancel()
}

// Read the next message from the kernel. The message must later be destroyed
// using destroyInMessage.
func (c *Connection) readMessage() (*buffer.InMessage, error) {
	m := c.messages.GetInMessage()

	// Loop past transient errors.
	for {
		err := m.Init(c.dev)

		// Special cases:
		//
		//  *  ENODEV means fuse has hung up.
		//
		//  *  EINTR means we should try again. (This seems to happen often on
		//     OS X, cf. http://golang.org/issue/11180.)
		//
		//  *  ENOENT means the request was interrupted before we read it.
		//
		switch {
		case errors.Is(err, unix.ENODEV):
			err = io.EOF

		case errors.Is(err, unix.EINTR), errors.Is(err, unix.ENOENT):
			continue
		}

		if err != nil {
			c.messages.PutInMessage(m)
			return nil, err
		}

		return m, nil
	}
}

// Write the supplied message to the kernel.
func (c *Connection) writeMessage(msg []byte) error {
	n, err := c.dev.Write(msg)
	if err != nil {
		return err
	}

	if n != len(msg) {
		return fmt.Errorf("Wrote %d bytes; expected %d", n, len(msg))
	}

	return nil
}

// Reply to an op that never reaches the file system.
func (c *Connection) replyDirectly(
	inMsg *buffer.InMessage,
	outMsg *buffer.OutMessage,
	op interface{},
	opErr error) error {
	defer c.messages.PutInMessage(inMsg)
	defer c.messages.PutOutMessage(outMsg)

	fuseID := inMsg.Header().Unique
	if opErr != nil {
		c.debugLog(fuseID, "-> Error: %q", opErr.Error())
	}

	if c.kernelResponse(outMsg, fuseID, op, opErr) {
		return nil
	}

	return c.writeMessage(outMsg.Bytes())
}

// ReadOp consumes the next op from the kernel process, returning the op and a
// context that should be used for work related to the op. Return io.EOF if
// the kernel has closed the connection.
//
// If err == nil, the user is responsible for later calling c.Reply with the
// returned context.
//
// This function delivers ops in exactly the order they are received from
// /dev/fuse. It must not be called multiple times concurrently.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) ReadOp() (_ context.Context, op interface{}, err error) {
	defer func() { c.setReadErr(err) }()

	// Keep going until we find a request we know how to convert.
	for {
		// Read the next message from the kernel.
		var inMsg *buffer.InMessage
		inMsg, err = c.readMessage()
		if err != nil {
			return
		}

		outMsg := c.messages.GetOutMessage()
		outMsg.Reset()

		// Convert the message to an op.
		op, err = convertInMessage(inMsg, outMsg, c.protocol)
		if err != nil {
			c.messages.PutInMessage(inMsg)
			c.messages.PutOutMessage(outMsg)
			err = fmt.Errorf("convertInMessage: %w", err)
			return
		}

		fuseID := inMsg.Header().Unique
		if c.debugLogger != nil {
			c.debugLog(fuseID, "<- %s", describeRequest(op))
		}

		switch o := op.(type) {
		case *initOp:
			var ready bool
			op, ready, err = c.beginInit(inMsg, outMsg, o)
			if err != nil {
				return
			}

			if !ready {
				continue
			}

		case *interruptOp:
			c.handleInterrupt(o.FuseID)
			c.messages.PutInMessage(inMsg)
			c.messages.PutOutMessage(outMsg)
			continue

		case *unknownOp:
			if err = c.replyDirectly(inMsg, outMsg, op, ENOSYS); err != nil {
				err = fmt.Errorf("writeMessage: %w", err)
				return
			}
			continue

		default:
			if !c.initialized {
				if err = c.replyDirectly(inMsg, outMsg, op, EIO); err != nil {
					err = fmt.Errorf("writeMessage: %w", err)
					return
				}
				continue
			}
		}

		ctx := c.beginOp(op, fuseID, inMsg, outMsg)
		return ctx, op, nil
	}
}

// Handle the kernel's INIT request. If the kernel speaks a newer major
// version, we answer with ours and wait for it to try again, returning
// ready == false. Otherwise op is the InitOp to give to the file system.
func (c *Connection) beginInit(
	inMsg *buffer.InMessage,
	outMsg *buffer.OutMessage,
	o *initOp) (op *fuseops.InitOp, ready bool, err error) {
	minProto := fusekernel.Protocol{
		Major: fusekernel.ProtoVersionMinMajor,
		Minor: fusekernel.ProtoVersionMinMinor,
	}

	maxProto := fusekernel.Protocol{
		Major: fusekernel.ProtoVersionMaxMajor,
		Minor: fusekernel.ProtoVersionMaxMinor,
	}

	// The kernel may only offer a newer major version than ours once; it then
	// repeats INIT with ours.
	if o.Kernel.Major > maxProto.Major {
		out := (*fusekernel.InitOut)(outMsg.Grow(int(fusekernel.InitOutSize(minProto))))
		out.Major = maxProto.Major
		out.Minor = maxProto.Minor

		h := outMsg.OutHeader()
		h.Unique = inMsg.Header().Unique
		h.Len = uint32(outMsg.Len())

		err = c.writeMessage(outMsg.Bytes())
		c.messages.PutInMessage(inMsg)
		c.messages.PutOutMessage(outMsg)
		if err != nil {
			err = fmt.Errorf("writeMessage: %w", err)
		}

		return
	}

	if o.Kernel.LT(minProto) {
		h := outMsg.OutHeader()
		h.Unique = inMsg.Header().Unique
		h.Error = -int32(unix.EPROTO)
		h.Len = uint32(outMsg.Len())

		writeErr := c.writeMessage(outMsg.Bytes())
		c.messages.PutInMessage(inMsg)
		c.messages.PutOutMessage(outMsg)

		err = fmt.Errorf("Version too old: %v: %w", o.Kernel, unix.EPROTO)
		if writeErr != nil {
			err = fmt.Errorf("%w (writeMessage: %v)", err, writeErr)
		}

		return
	}

	c.protocol = o.Kernel
	if maxProto.LT(c.protocol) {
		c.protocol = maxProto
	}

	c.kernelFlags = o.Flags
	c.initialized = true

	capable := fuseops.Capabilities(o.Flags &^ fusekernel.InitMaxPages)

	readahead := o.MaxReadahead
	if readahead > maxReadahead {
		readahead = maxReadahead
	}

	conn := fuseops.NewConnInfo(
		c.protocol.Major,
		c.protocol.Minor,
		capable,
		o.MaxReadahead,
		c.cfg.MaxRead)

	conn.MaxReadahead = readahead
	if c.cfg.MaxReadahead != 0 && c.cfg.MaxReadahead < readahead {
		conn.MaxReadahead = c.cfg.MaxReadahead
	}

	if !c.cfg.DisableWritebackCaching {
		conn.Want |= fuseops.CapWritebackCache
	}

	if c.cfg.EnableParallelDirOps {
		conn.Want |= fuseops.CapParallelDirOps
	}

	conn.Want &= capable

	op = &fuseops.InitOp{
		OpContext: fuseops.OpContext{
			FuseID: inMsg.Header().Unique,
			Pid:    inMsg.Header().Pid,
			Uid:    inMsg.Header().Uid,
			Gid:    inMsg.Header().Gid,
		},
		Conn: conn,
	}

	ready = true
	return
}

// Skip errors that happen as a matter of course, since they spook users.
func (c *Connection) shouldLogError(
	op interface{},
	err error) bool {
	// We don't log non-errors.
	if err == nil {
		return false
	}

	// We can't log if there's nothing to log to.
	if c.errorLogger == nil {
		return false
	}

	switch op.(type) {
	case *fuseops.LookUpInodeOp:
		// It is totally normal for the kernel to ask to look up an inode by name
		// and find the name doesn't exist. For example, this happens each time
		// you run `git status` in a git repo.
		if errors.Is(err, ENOENT) {
			return false
		}

	case *fuseops.GetXattrOp, *fuseops.ListXattrOp:
		if errors.Is(err, ENODATA) || errors.Is(err, ERANGE) {
			return false
		}

	case *unknownOp:
		// Don't bother the user with methods we intentionally don't support.
		if errors.Is(err, ENOSYS) {
			return false
		}
	}

	return true
}

// Apply the configured policy for errors from the ops that end the life of
// a handle, returning the error to send to the kernel.
func (c *Connection) handleErrorForKernel(op interface{}, opErr error) error {
	if opErr == nil {
		return nil
	}

	var report bool
	switch op.(type) {
	case *fuseops.FlushFileOp:
		report = c.cfg.HandleErrorPolicy != SuppressHandleErrors

	case *fuseops.ReleaseFileHandleOp, *fuseops.ReleaseDirHandleOp:
		report = c.cfg.HandleErrorPolicy == ReportAllHandleErrors

	case *fuseops.InitOp:
		// INIT can't fail.
		report = false

	default:
		return opErr
	}

	if report {
		return opErr
	}

	return nil
}

// Reply replies to an op previously read using ReadOp, with the supplied
// error (or nil if successful). The context must be the context returned by
// ReadOp.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) Reply(ctx context.Context, opErr error) {
	// Extract the state we stuffed in earlier.
	state, ok := ctx.Value(contextKey).(*opState)
	if !ok {
		panic(fmt.Sprintf("Reply called with invalid context: %#v", ctx))
	}

	if !state.replied.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("Reply called twice for %s", opName(state.op)))
	}

	op := state.op
	inMsg := state.inMsg
	outMsg := state.outMsg
	fuseID := state.fuseID

	// Make sure we destroy the messages when we're done.
	defer c.messages.PutInMessage(inMsg)
	defer c.messages.PutOutMessage(outMsg)

	// Clean up state for this op.
	c.finishOp(fuseID)

	// Debug logging
	switch {
	case c.debugLogger == nil:
	case opErr == nil:
		c.debugLog(fuseID, "-> OK (%s)", opName(op))
	default:
		c.debugLog(fuseID, "-> Error: %q", opErr.Error())
	}

	// Error logging
	if c.shouldLogError(op, opErr) {
		c.logError(op, opErr)
	}

	// Report the op to the trace and the metrics.
	state.report(opErr)

	if c.metrics != nil {
		status := "OK"
		if opErr != nil {
			errno, _ := errnoFor(opErr)
			status = unix.ErrnoName(errno)
			if status == "" {
				status = fmt.Sprintf("errno %d", int(errno))
			}
		}

		c.metrics.opFinished(opName(op), status, time.Since(state.start))
	}

	// Errors that the handle policy swallows are logged above but replaced by
	// success here.
	kernelErr := c.handleErrorForKernel(op, opErr)
	if kernelErr == nil && opErr != nil {
		c.debugLog(fuseID, "Not reporting %s error to the kernel", opName(op))
	}

	// Send the reply to the kernel, if one is required.
	noResponse := c.kernelResponse(outMsg, fuseID, op, kernelErr)
	if noResponse {
		return
	}

	err := c.writeMessage(outMsg.Bytes())

	// The kernel answers ENOENT when the request it refers to has gone away
	// because it was interrupted.
	if errors.Is(err, unix.ENOENT) {
		err = nil
	}

	if err != nil && c.errorLogger != nil {
		c.errorLogger.WithField("conn", c.id).Errorf(
			"writeMessage for %s: %v",
			opName(op),
			err)
	}
}

// Close the connection. Must not be called until operations that were read
// from the connection have been responded to.
func (c *Connection) close() error {
	return c.dev.Close()
}
