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
	"os"
	"os/signal"
	"sync"
	"syscall"

	mobysignal "github.com/moby/sys/signal"
)

// A struct representing the status of a mount operation, with a method that
// waits for unmounting.
type MountedFileSystem struct {
	dir  string
	conn *Connection

	// The result to return from Join. Not valid until the channel is closed.
	joinStatus          error
	joinStatusAvailable chan struct{}

	signalsOnce sync.Once
}

// Dir returns the directory on which the file system is mounted (or where we
// attempted to mount it.)
func (mfs *MountedFileSystem) Dir() string {
	return mfs.dir
}

// Connection returns the connection to the kernel serving the mount.
func (mfs *MountedFileSystem) Connection() *Connection {
	return mfs.conn
}

// Join blocks until a mounted file system has been unmounted. It does not
// return successfully until all ops read from the connection have been
// responded to (i.e. the file system server has finished processing all
// in-flight ops).
//
// The return value will be non-nil if anything unexpected happened while
// serving, such as a kernel too old to talk to or a message that could not be
// parsed (see Connection.Err). May be called multiple times.
func (mfs *MountedFileSystem) Join(ctx context.Context) error {
	select {
	case <-mfs.joinStatusAvailable:
		return mfs.joinStatus
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DefaultUnmountSignals are the signals SetSignalHandlers reacts to when
// given none.
var DefaultUnmountSignals = []os.Signal{
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGTERM,
}

// ParseSignals converts signal names like "TERM", "SIGINT" or "15" to
// signals, for use with SetSignalHandlers.
func ParseSignals(names []string) ([]os.Signal, error) {
	sigs := make([]os.Signal, 0, len(names))
	for _, name := range names {
		s, err := mobysignal.ParseSignal(name)
		if err != nil {
			return nil, err
		}

		sigs = append(sigs, s)
	}

	return sigs, nil
}

// SetSignalHandlers arranges for the file system to be unmounted when the
// process receives one of the given signals, or DefaultUnmountSignals if none
// are given. Join then returns as usual. The returned function removes the
// handlers.
func (mfs *MountedFileSystem) SetSignalHandlers(sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = DefaultUnmountSignals
	}

	c := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(c, sigs...)

	go func() {
		for {
			select {
			case s := <-c:
				mfs.conn.logInfo("Received %v; unmounting %s", s, mfs.dir)
				if err := Unmount(mfs.dir); err != nil {
					mfs.conn.logInfo("Unmount: %v", err)
				}

			case <-done:
				return

			case <-mfs.joinStatusAvailable:
				return
			}
		}
	}()

	return func() {
		mfs.signalsOnce.Do(func() {
			signal.Stop(c)
			close(done)
		})
	}
}

// Mount attempts to mount a file system on the given directory, using the
// supplied Server to serve connection requests. It blocks until the file
// system is successfully mounted.
func Mount(
	dir string,
	server Server,
	config *MountConfig) (*MountedFileSystem, error) {
	if config == nil {
		config = &MountConfig{}
	}

	// Begin the mounting process, which will continue in the background.
	dev, err := mount(dir, config)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	// Create a Connection object wrapping the device.
	connection, err := NewConnection(config, dev)
	if err != nil {
		dev.Close()
		return nil, fmt.Errorf("NewConnection: %w", err)
	}

	return serve(dir, connection, server), nil
}

// Serve serves a connection made with NewConnection in the background, as
// Mount does for the connections it makes. Join on the result waits for
// ServeOps to return and then closes the device. The file system is not
// mounted anywhere as far as the result knows, so Dir is empty and
// SetSignalHandlers should not be used.
func Serve(c *Connection, server Server) *MountedFileSystem {
	return serve("", c, server)
}

func serve(dir string, c *Connection, server Server) *MountedFileSystem {
	mfs := &MountedFileSystem{
		dir:                 dir,
		conn:                c,
		joinStatusAvailable: make(chan struct{}),
	}

	// When ServeOps is done, set the join status. An error that ended the
	// connection wins over one from closing it.
	go func() {
		server.ServeOps(c)

		closeErr := c.close()
		mfs.joinStatus = c.Err()
		if mfs.joinStatus == nil && closeErr != nil {
			mfs.joinStatus = fmt.Errorf("close: %w", closeErr)
		}

		close(mfs.joinStatusAvailable)
	}()

	return mfs
}
