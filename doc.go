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

// Package fuse enables writing and mounting user-space file systems that
// speak the FUSE low-level protocol.
//
// The primary elements of interest are:
//
//   - fuseutil.FileSystem, which defines one method per kernel request. Each
//     method receives an op from package fuseops, fills in its outputs, and
//     returns an error.
//
//   - fuseutil.NotImplementedFileSystem, which may be embedded to obtain
//     default implementations (ENOSYS) for all methods that are not of
//     interest to a particular file system.
//
//   - fuseutil.NewFileSystemServer, which turns a FileSystem into a Server.
//
//   - Mount, a function that allows for mounting a file system, and Unmount.
//
// A Connection may also be driven directly: ReadOp returns the next op and a
// context, and exactly one call to Reply must follow for each op. Package
// fusetesting plays the part of the kernel so that file systems can be
// tested without mounting them.
//
// Linux only.
package fuse
