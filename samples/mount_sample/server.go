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

package main

import (
	"fmt"
	"os"

	"github.com/jacobsa/timeutil"
	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseutil"
	"github.com/llfuse/fuse/samples/flushfs"
	"github.com/llfuse/fuse/samples/hellofs"
	"github.com/llfuse/fuse/samples/interruptfs"
	"github.com/llfuse/fuse/samples/memfs"
	"github.com/llfuse/fuse/samples/passthroughfs"
	"github.com/sirupsen/logrus"
)

func makeFlushFS(cfg *Config, logger logrus.FieldLogger) (fuse.Server, error) {
	report := func(what string, errno int) flushfs.Reporter {
		return func(contents string) error {
			logger.WithFields(logrus.Fields{
				"op":       what,
				"contents": contents,
			}).Info("flushfs report")

			return errnoOrNil(errno)
		}
	}

	return flushfs.NewFileSystem(
		report("flush", cfg.FlushErrno),
		report("fsync", cfg.FsyncErrno),
		report("release", 0))
}

// NewServer creates the sample file system named by cfg.Type.
func NewServer(
	cfg *Config,
	logger logrus.FieldLogger,
	clock timeutil.Clock) (fuse.Server, error) {
	switch cfg.Type {
	case "hellofs":
		return hellofs.NewHelloFS(clock)

	case "memfs":
		fs := memfs.NewMemFS(uint32(os.Getuid()), uint32(os.Getgid()), clock)
		return fuseutil.NewFileSystemServer(fs), nil

	case "passthroughfs":
		return passthroughfs.NewPassthroughServer(cfg.Root, clock, logger)

	case "flushfs":
		return makeFlushFS(cfg, logger)

	case "interruptfs":
		return fuseutil.NewFileSystemServer(interruptfs.New()), nil

	default:
		return nil, fmt.Errorf("unknown file system type: %q", cfg.Type)
	}
}
