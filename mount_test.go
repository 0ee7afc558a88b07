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

package fuse_test

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"syscall"
	"testing"

	"github.com/llfuse/fuse"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
)

////////////////////////////////////////////////////////////////////////
// minimalFS
////////////////////////////////////////////////////////////////////////

// A minimal fuseutil.FileSystem that can successfully mount but do nothing
// else.
type minimalFS struct {
	fuseutil.NotImplementedFileSystem
}

func (fs *minimalFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	return nil
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func TestNonexistentMountPoint(t *testing.T) {
	// Attempt to mount into a sub-directory that doesn't exist.
	dir := path.Join(t.TempDir(), "foo")

	_, err := fuse.Mount(
		dir,
		fuseutil.NewFileSystemServer(&minimalFS{}),
		&fuse.MountConfig{})

	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Expected a not-exist error, got %v", err)
	}
}

func TestUnmountOfPlainDirectory(t *testing.T) {
	// Not a mount point, so there's nothing to do.
	if err := fuse.Unmount(t.TempDir()); err != nil {
		t.Errorf("Unmount: %v", err)
	}
}

func TestParseSignals(t *testing.T) {
	sigs, err := fuse.ParseSignals([]string{"TERM", "SIGINT", "1"})
	if err != nil {
		t.Fatalf("ParseSignals: %v", err)
	}

	expected := []syscall.Signal{syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP}
	if len(sigs) != len(expected) {
		t.Fatalf("Got %v, expected %v", sigs, expected)
	}

	for i := range sigs {
		if sigs[i] != expected[i] {
			t.Errorf("Signal %d: got %v, expected %v", i, sigs[i], expected[i])
		}
	}

	if _, err := fuse.ParseSignals([]string{"TACO"}); err == nil {
		t.Errorf("Expected an error for an unknown signal")
	}
}

func TestHandleErrorPolicyNames(t *testing.T) {
	for _, p := range []fuse.HandleErrorPolicy{
		fuse.ReportFlushErrors,
		fuse.ReportAllHandleErrors,
		fuse.SuppressHandleErrors,
	} {
		parsed, err := fuse.ParseHandleErrorPolicy(p.String())
		if err != nil {
			t.Errorf("ParseHandleErrorPolicy(%q): %v", p.String(), err)
			continue
		}

		if parsed != p {
			t.Errorf("Round trip of %v gave %v", p, parsed)
		}
	}

	if _, err := fuse.ParseHandleErrorPolicy("sometimes"); err == nil {
		t.Errorf("Expected an error for an unknown policy")
	}
}
