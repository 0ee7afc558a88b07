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

// Package samples holds example file systems and the harness their tests
// share.
package samples

import (
	"context"
	"fmt"
	"time"

	"github.com/jacobsa/timeutil"
	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fusetesting"
	"github.com/llfuse/fuse/fuseutil"
)

// A struct that implements common behavior needed by tests in the samples/
// directory. Use it as an embedded field in your test fixture, calling its
// initialization methods from your SetUp method and its TearDown method
// from yours.
type SampleTest struct {
	// The server under test, which the fixture's SetUp must set before
	// calling SampleTest.SetUp. Alternatively, set FileSystem.
	Server     fuse.Server
	FileSystem fuseutil.FileSystem

	// Configuration for the connection. Optional.
	MountConfig fuse.MountConfig

	// A context object that can be used for long-running operations.
	Ctx context.Context

	// A clock with a fixed initial time. The test's set up method may use this
	// to wire the file system with a clock, if desired.
	Clock timeutil.SimulatedClock

	// The fake kernel the file system is served to.
	Kernel *fusetesting.Kernel
}

// SetUp starts serving st.Server (or st.FileSystem) and completes the INIT
// handshake. Panics on error.
func (st *SampleTest) SetUp() {
	if err := st.initialize(); err != nil {
		panic(err)
	}
}

// Like SetUp, but doesn't panic.
func (st *SampleTest) initialize() error {
	st.Ctx = context.Background()

	// Set up the clock.
	st.Clock.SetTime(time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local))
	if st.MountConfig.Clock == nil {
		st.MountConfig.Clock = &st.Clock
	}

	if st.Server == nil {
		if st.FileSystem == nil {
			return fmt.Errorf("SampleTest: neither Server nor FileSystem set")
		}

		st.Server = fuseutil.NewFileSystemServer(st.FileSystem)
	}

	k, err := fusetesting.Start(st.Server, &st.MountConfig)
	if err != nil {
		if k != nil {
			k.Close()
		}

		return fmt.Errorf("fusetesting.Start: %w", err)
	}

	st.Kernel = k
	return nil
}

// TearDown hangs up and waits for the server to finish. It panics if that
// fails, or if the file system sent replies nobody asked for.
func (st *SampleTest) TearDown() {
	if st.Kernel == nil {
		return
	}

	if err := st.Kernel.Close(); err != nil {
		panic(err)
	}

	if u := st.Kernel.Unexpected(); len(u) != 0 {
		panic(fmt.Sprintf("Unexpected replies: %v", u))
	}
}
