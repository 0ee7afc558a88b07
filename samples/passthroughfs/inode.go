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

package passthroughfs

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/llfuse/fuse/fuseops"
	"golang.org/x/sys/unix"
)

// Identifies a file on the host.
type hostKey struct {
	dev uint64
	ino uint64
}

type inodeEntry struct {
	id   fuseops.InodeID
	key  hostKey
	path string

	// Lookups the kernel has not yet forgotten. The root is never forgotten.
	lookupCount uint64
}

func (in *inodeEntry) String() string {
	return fmt.Sprintf("%v::%v", in.id, in.path)
}

// The inodes the kernel knows about, by our ID and by host identity.
type inodeTable struct {
	mu sync.Mutex

	// GUARDED_BY(mu)
	byID map[fuseops.InodeID]*inodeEntry

	// GUARDED_BY(mu)
	byKey map[hostKey]*inodeEntry

	// INVARIANT: nextID > fuseops.RootInodeID
	//
	// GUARDED_BY(mu)
	nextID fuseops.InodeID
}

func newInodeTable(rootPath string, st *unix.Stat_t) *inodeTable {
	root := &inodeEntry{
		id:   fuseops.RootInodeID,
		key:  keyOf(st),
		path: rootPath,
	}

	return &inodeTable{
		byID:   map[fuseops.InodeID]*inodeEntry{root.id: root},
		byKey:  map[hostKey]*inodeEntry{root.key: root},
		nextID: fuseops.RootInodeID + 1,
	}
}

func keyOf(st *unix.Stat_t) hostKey {
	return hostKey{dev: uint64(st.Dev), ino: st.Ino}
}

// Path returns the host path of the inode, or false if the kernel shouldn't
// know about it.
func (t *inodeTable) Path(id fuseops.InodeID) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	in, ok := t.byID[id]
	if !ok {
		return "", false
	}

	return in.path, true
}

// Ref records a lookup of the host file at path, returning its ID.
func (t *inodeTable) Ref(path string, st *unix.Stat_t) fuseops.InodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	in := t.getOrAdd(path, st)
	in.lookupCount++
	return in.id
}

// ID returns the ID of the host file at path without recording a lookup, for
// directory listings. A file that is only ever listed keeps its ID until it
// is looked up and then forgotten.
func (t *inodeTable) ID(path string, st *unix.Stat_t) fuseops.InodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.getOrAdd(path, st).id
}

// LOCKS_REQUIRED(t.mu)
func (t *inodeTable) getOrAdd(path string, st *unix.Stat_t) *inodeEntry {
	key := keyOf(st)
	if in, ok := t.byKey[key]; ok {
		return in
	}

	in := &inodeEntry{
		id:   t.nextID,
		key:  key,
		path: path,
	}

	t.nextID++
	t.byID[in.id] = in
	t.byKey[key] = in
	return in
}

// Forget drops n lookups of id, discarding the inode when none remain.
func (t *inodeTable) Forget(id fuseops.InodeID, n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	in, ok := t.byID[id]
	if !ok || id == fuseops.RootInodeID {
		return
	}

	in.lookupCount -= min(n, in.lookupCount)
	if in.lookupCount == 0 {
		delete(t.byID, id)
		delete(t.byKey, in.key)
	}
}

// Renamed updates the paths of the inodes at or below oldPath.
func (t *inodeTable) Renamed(oldPath string, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prefix := oldPath + string(filepath.Separator)
	for _, in := range t.byID {
		switch {
		case in.path == oldPath:
			in.path = newPath

		case strings.HasPrefix(in.path, prefix):
			in.path = filepath.Join(newPath, in.path[len(prefix):])
		}
	}
}

// Len returns the number of inodes known, including the root.
func (t *inodeTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byID)
}

func timespecToTime(ts unix.Timespec) time.Time {
	return time.Unix(ts.Unix())
}

// Attributes for a host file as the kernel should see them.
func attributesOf(st *unix.Stat_t) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:      uint64(st.Size),
		Nlink:     uint32(st.Nlink),
		Mode:      fuseops.ConvertFileMode(st.Mode),
		Rdev:      uint32(st.Rdev),
		Atime:     timespecToTime(st.Atim),
		Mtime:     timespecToTime(st.Mtim),
		Ctime:     timespecToTime(st.Ctim),
		Crtime:    timespecToTime(st.Ctim),
		Uid:       st.Uid,
		Gid:       st.Gid,
		BlockSize: uint32(st.Blksize),
	}
}
