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

package fusetesting

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/fuseutil"
	"github.com/llfuse/fuse/internal/fusekernel"
)

// A DirentPlus parsed from a readdirplus reply.
type DirentPlus struct {
	Entry  fusekernel.EntryOut
	Dirent fuseutil.Dirent
}

func parseDirent(b []byte) (d fuseutil.Dirent, size int, err error) {
	if len(b) < fusekernel.DirentSize {
		err = fmt.Errorf("%d trailing bytes", len(b))
		return
	}

	var de fusekernel.Dirent
	if err = binary.Read(bytes.NewReader(b), binary.NativeEndian, &de); err != nil {
		return
	}

	end := fusekernel.DirentSize + int(de.Namelen)
	size = fusekernel.DirentAlign(end)
	if size > len(b) {
		err = fmt.Errorf("entry of %d bytes overruns the remaining %d", size, len(b))
		return
	}

	d = fuseutil.Dirent{
		Offset: fuseops.DirOffset(de.Off),
		Inode:  fuseops.InodeID(de.Ino),
		Name:   string(b[fusekernel.DirentSize:end]),
		Type:   fuseutil.DirentType(de.Type),
	}

	return
}

// ParseDirents parses a readdir reply.
func ParseDirents(b []byte) ([]fuseutil.Dirent, error) {
	var ds []fuseutil.Dirent
	for len(b) > 0 {
		d, size, err := parseDirent(b)
		if err != nil {
			return ds, err
		}

		ds = append(ds, d)
		b = b[size:]
	}

	return ds, nil
}

// ParseDirentsPlus parses a readdirplus reply.
func ParseDirentsPlus(b []byte) (ds []DirentPlus, err error) {
	for len(b) > 0 {
		if len(b) < fusekernel.EntryOutPlusSize {
			return ds, fmt.Errorf("%d trailing bytes", len(b))
		}

		var d DirentPlus
		err = binary.Read(
			bytes.NewReader(b[:fusekernel.EntryOutPlusSize]),
			binary.NativeEndian,
			&d.Entry)

		if err != nil {
			return ds, err
		}

		b = b[fusekernel.EntryOutPlusSize:]

		var size int
		d.Dirent, size, err = parseDirent(b)
		if err != nil {
			return ds, err
		}

		ds = append(ds, d)
		b = b[size:]
	}

	return ds, nil
}

type sortedDirents []fuseutil.Dirent

func (f sortedDirents) Len() int           { return len(f) }
func (f sortedDirents) Less(i, j int) bool { return f[i].Name < f[j].Name }
func (f sortedDirents) Swap(i, j int)      { f[i], f[j] = f[j], f[i] }

// Names returns the names of the entries, sorted.
func Names(ds []fuseutil.Dirent) []string {
	sorted := append(sortedDirents(nil), ds...)
	sort.Sort(sorted)

	names := make([]string, len(sorted))
	for i, d := range sorted {
		names[i] = d.Name
	}

	return names
}
