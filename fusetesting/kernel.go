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

// Package fusetesting plays the part of the kernel for fuse.Connection, so
// that file systems can be tested without mounting them.
package fusetesting

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/internal/fusekernel"
	"golang.org/x/sys/unix"
)

// ErrTimeout is returned when the file system doesn't reply in time.
var ErrTimeout = errors.New("timed out waiting for reply")

// DefaultTimeout is how long a Kernel waits for each reply unless told
// otherwise.
const DefaultTimeout = 5 * time.Second

// A Reply is a message sent by the file system.
type Reply struct {
	Header fusekernel.OutHeader
	Data   []byte
}

// Err returns the error the reply carries, as a syscall.Errno, or nil.
func (r Reply) Err() error {
	if r.Header.Error == 0 {
		return nil
	}

	return syscall.Errno(-r.Header.Error)
}

// InitRequest is the content of the kernel's INIT request.
type InitRequest struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        fusekernel.InitFlags
}

// DefaultInit is what a recent Linux kernel sends.
func DefaultInit() InitRequest {
	return InitRequest{
		Major:        fusekernel.ProtoVersionMaxMajor,
		Minor:        fusekernel.ProtoVersionMaxMinor,
		MaxReadahead: 128 << 10,
		Flags: fusekernel.InitAsyncRead |
			fusekernel.InitPosixLocks |
			fusekernel.InitAtomicTrunc |
			fusekernel.InitExportSupport |
			fusekernel.InitBigWrites |
			fusekernel.InitFlockLocks |
			fusekernel.InitAutoInvalData |
			fusekernel.InitDoReaddirplus |
			fusekernel.InitReaddirplusAuto |
			fusekernel.InitAsyncDIO |
			fusekernel.InitWritebackCache |
			fusekernel.InitParallelDirOps |
			fusekernel.InitMaxPages,
	}
}

// Kernel sends requests to a fuse.Connection and collects its replies.
type Kernel struct {
	// The identity requests are sent with. Defaults to the current process.
	Uid uint32
	Gid uint32
	Pid uint32

	// How long to wait for each reply.
	Timeout time.Duration

	// The reply to INIT, when it succeeded.
	Init *fusekernel.InitOut

	dev        *device
	conn       *fuse.Connection
	mfs        *fuse.MountedFileSystem
	readerDone chan struct{}

	mu sync.Mutex

	// GUARDED_BY(mu)
	nextUnique uint64

	// Callers waiting for the reply with the given unique ID.
	//
	// GUARDED_BY(mu)
	waiters map[uint64]chan Reply

	// Replies nobody was waiting for, such as a reply to a forget.
	//
	// GUARDED_BY(mu)
	unexpected []Reply
}

// Start serves a new connection with server in the background, and completes
// the INIT handshake with DefaultInit. cfg may be nil.
func Start(server fuse.Server, cfg *fuse.MountConfig) (*Kernel, error) {
	return StartWithInit(server, cfg, DefaultInit())
}

// StartWithInit is like Start, but sends the given INIT request. If the file
// system rejects it, the Kernel is returned along with the error so that it
// can be closed.
func StartWithInit(
	server fuse.Server,
	cfg *fuse.MountConfig,
	init InitRequest) (*Kernel, error) {
	k, err := NewKernel(server, cfg)
	if err != nil {
		return nil, err
	}

	r, err := k.Send(fusekernel.OpInit, 0, fusekernel.InitIn{
		Major:        init.Major,
		Minor:        init.Minor,
		MaxReadahead: init.MaxReadahead,
		Flags:        uint32(init.Flags),
	})

	if err != nil {
		return k, fmt.Errorf("Init: %w", err)
	}

	if err := r.Err(); err != nil {
		return k, fmt.Errorf("Init: %w", err)
	}

	// Short replies are zero-extended, as the kernel does.
	out := new(fusekernel.InitOut)
	data := make([]byte, binary.Size(out))
	copy(data, r.Data)
	if err := decode(data, out); err != nil {
		return k, fmt.Errorf("Init: %w", err)
	}

	k.Init = out
	return k, nil
}

// NewKernel serves a new connection with server in the background, without
// sending INIT.
func NewKernel(server fuse.Server, cfg *fuse.MountConfig) (*Kernel, error) {
	dev := newDevice()
	conn, err := fuse.NewConnection(cfg, dev)
	if err != nil {
		return nil, fmt.Errorf("NewConnection: %w", err)
	}

	k := &Kernel{
		Uid:        uint32(os.Getuid()),
		Gid:        uint32(os.Getgid()),
		Pid:        uint32(os.Getpid()),
		Timeout:    DefaultTimeout,
		dev:        dev,
		conn:       conn,
		readerDone: make(chan struct{}),
		nextUnique: 1,
		waiters:    make(map[uint64]chan Reply),
	}

	k.mfs = fuse.Serve(conn, server)
	go k.readReplies()

	return k, nil
}

// Connection returns the connection the file system is served on.
func (k *Kernel) Connection() *fuse.Connection {
	return k.conn
}

// Close hangs up, as the kernel does on unmount, and waits for the server to
// return. Errors that ended serving are reported by Join, not Close.
func (k *Kernel) Close() error {
	k.dev.Close()

	ctx, cancel := context.WithTimeout(context.Background(), k.Timeout)
	defer cancel()

	if err := k.mfs.Join(ctx); errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("server didn't return: %w", ErrTimeout)
	}

	<-k.readerDone
	return nil
}

// Join waits for the server to stop serving, which it does when Close is
// called or when the connection fails, and returns what
// fuse.MountedFileSystem.Join would for a real mount.
func (k *Kernel) Join(ctx context.Context) error {
	return k.mfs.Join(ctx)
}

// Unexpected returns the replies received that no request was waiting for.
func (k *Kernel) Unexpected() []Reply {
	k.mu.Lock()
	defer k.mu.Unlock()

	return append([]Reply(nil), k.unexpected...)
}

func (k *Kernel) readReplies() {
	defer close(k.readerDone)

	for msg := range k.dev.replies {
		var r Reply
		if len(msg) < fusekernel.OutHeaderSize {
			panic(fmt.Sprintf("Reply too short: %v", msg))
		}

		if err := decode(msg[:fusekernel.OutHeaderSize], &r.Header); err != nil {
			panic(err)
		}

		if int(r.Header.Len) != len(msg) {
			panic(fmt.Sprintf(
				"Reply header says %d bytes, but there are %d",
				r.Header.Len,
				len(msg)))
		}

		r.Data = msg[fusekernel.OutHeaderSize:]

		k.mu.Lock()
		c, ok := k.waiters[r.Header.Unique]
		if ok {
			delete(k.waiters, r.Header.Unique)
		} else {
			k.unexpected = append(k.unexpected, r)
		}
		k.mu.Unlock()

		if ok {
			c <- r
		}
	}
}

////////////////////////////////////////////////////////////////////////
// Requests
////////////////////////////////////////////////////////////////////////

// A Pending request, awaiting its reply.
type Pending struct {
	Unique uint64

	k *Kernel
	c chan Reply
}

// Wait for the reply to the request.
func (p *Pending) Wait() (Reply, error) {
	select {
	case r := <-p.c:
		return r, nil

	case <-time.After(p.k.Timeout):
		return Reply{}, fmt.Errorf("unique %d: %w", p.Unique, ErrTimeout)
	}
}

// Encode a request. Strings are sent NUL-terminated, byte slices as they
// are, and anything else with encoding/binary.
func (k *Kernel) encode(
	unique uint64,
	opcode uint32,
	nodeid uint64,
	args ...interface{}) []byte {
	var body bytes.Buffer
	for _, a := range args {
		switch v := a.(type) {
		case string:
			body.WriteString(v)
			body.WriteByte(0)

		case []byte:
			body.Write(v)

		default:
			if err := binary.Write(&body, binary.NativeEndian, v); err != nil {
				panic(fmt.Sprintf("binary.Write(%T): %v", v, err))
			}
		}
	}

	h := fusekernel.InHeader{
		Len:    uint32(fusekernel.InHeaderSize + body.Len()),
		Opcode: opcode,
		Unique: unique,
		Nodeid: nodeid,
		Uid:    k.Uid,
		Gid:    k.Gid,
		Pid:    k.Pid,
	}

	var msg bytes.Buffer
	binary.Write(&msg, binary.NativeEndian, h)
	msg.Write(body.Bytes())

	return msg.Bytes()
}

func (k *Kernel) allocUnique() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	u := k.nextUnique
	k.nextUnique++
	return u
}

// Start sends a request without waiting for the reply.
func (k *Kernel) Start(
	opcode uint32,
	nodeid uint64,
	args ...interface{}) (*Pending, error) {
	p := &Pending{
		Unique: k.allocUnique(),
		k:      k,
		c:      make(chan Reply, 1),
	}

	k.mu.Lock()
	k.waiters[p.Unique] = p.c
	k.mu.Unlock()

	if err := k.SendRaw(k.encode(p.Unique, opcode, nodeid, args...)); err != nil {
		k.mu.Lock()
		delete(k.waiters, p.Unique)
		k.mu.Unlock()
		return nil, err
	}

	return p, nil
}

// Send sends a request and waits for the reply. An error from the file
// system is in the Reply, not the returned error.
func (k *Kernel) Send(
	opcode uint32,
	nodeid uint64,
	args ...interface{}) (Reply, error) {
	p, err := k.Start(opcode, nodeid, args...)
	if err != nil {
		return Reply{}, err
	}

	return p.Wait()
}

// SendNoReply sends a request for which the kernel expects no reply, such as
// a forget, returning its unique ID.
func (k *Kernel) SendNoReply(
	opcode uint32,
	nodeid uint64,
	args ...interface{}) (uint64, error) {
	unique := k.allocUnique()
	return unique, k.SendRaw(k.encode(unique, opcode, nodeid, args...))
}

// SendRaw sends msg as it is. Use it to send corrupt requests.
func (k *Kernel) SendRaw(msg []byte) error {
	return k.dev.send(msg, k.Timeout)
}

// Call sends a request and decodes the reply into out, if it isn't nil. The
// error is the file system's errno, if any.
func (k *Kernel) Call(
	out interface{},
	opcode uint32,
	nodeid uint64,
	args ...interface{}) error {
	r, err := k.Send(opcode, nodeid, args...)
	if err != nil {
		return err
	}

	if err := r.Err(); err != nil {
		return err
	}

	if out == nil {
		if len(r.Data) != 0 {
			return fmt.Errorf("unexpected %d-byte reply to %s", len(r.Data), fusekernel.OpName(opcode))
		}

		return nil
	}

	return decode(r.Data, out)
}

func decode(b []byte, out interface{}) error {
	if n := binary.Size(out); n >= 0 && n != len(b) {
		return fmt.Errorf("reply of %d bytes, want %d for %T", len(b), n, out)
	}

	return binary.Read(bytes.NewReader(b), binary.NativeEndian, out)
}

////////////////////////////////////////////////////////////////////////
// device
////////////////////////////////////////////////////////////////////////

// The connection's end of the fake /dev/fuse. Each Read returns one request
// and each Write carries one reply, as with the real device.
type device struct {
	requests chan []byte
	replies  chan []byte
	closed   chan struct{}

	closeOnce sync.Once

	// Replies are closed once no Write can be in progress.
	writers sync.WaitGroup
	mu      sync.Mutex
	done    bool // GUARDED_BY(mu)
}

func newDevice() *device {
	return &device{
		requests: make(chan []byte),
		replies:  make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (d *device) send(msg []byte, timeout time.Duration) error {
	select {
	case d.requests <- msg:
		return nil

	case <-d.closed:
		return unix.ENODEV

	case <-time.After(timeout):
		return fmt.Errorf("file system isn't reading: %w", ErrTimeout)
	}
}

func (d *device) Read(p []byte) (int, error) {
	select {
	case msg := <-d.requests:
		if len(msg) > len(p) {
			return 0, unix.EINVAL
		}

		return copy(p, msg), nil

	case <-d.closed:
		return 0, unix.ENODEV
	}
}

func (d *device) Write(p []byte) (int, error) {
	d.mu.Lock()
	if d.done {
		d.mu.Unlock()
		return 0, unix.ENODEV
	}
	d.writers.Add(1)
	d.mu.Unlock()
	defer d.writers.Done()

	msg := append([]byte(nil), p...)
	select {
	case d.replies <- msg:
		return len(p), nil

	case <-d.closed:
		return 0, unix.ENODEV
	}
}

func (d *device) Close() error {
	d.closeOnce.Do(func() {
		close(d.closed)

		d.mu.Lock()
		d.done = true
		d.mu.Unlock()

		go func() {
			d.writers.Wait()
			close(d.replies)
		}()
	})

	return nil
}
