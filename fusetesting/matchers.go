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
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/jacobsa/oglematchers"
	"github.com/llfuse/fuse/fuseops"
	"github.com/llfuse/fuse/internal/fusekernel"
)

// Extract the attributes from a reply struct.
func extractAttr(c interface{}) (*fusekernel.Attr, error) {
	switch v := c.(type) {
	case fusekernel.Attr:
		return &v, nil
	case *fusekernel.Attr:
		return v, nil
	case fusekernel.AttrOut:
		return &v.Attr, nil
	case *fusekernel.AttrOut:
		return &v.Attr, nil
	case fusekernel.EntryOut:
		return &v.Attr, nil
	case *fusekernel.EntryOut:
		return &v.Attr, nil
	}

	return nil, fmt.Errorf("which is of type %v", reflect.TypeOf(c))
}

// MtimeIs matches attribute replies that specify an mtime equal to the given
// time.
func MtimeIs(expected time.Time) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error { return mtimeIs(c, expected) },
		fmt.Sprintf("mtime is %v", expected))
}

func mtimeIs(c interface{}, expected time.Time) error {
	attr, err := extractAttr(c)
	if err != nil {
		return err
	}

	mtime := time.Unix(int64(attr.Mtime), int64(attr.MtimeNsec))
	if !mtime.Equal(expected) {
		d := mtime.Sub(expected)
		return fmt.Errorf("which has mtime %v, off by %v", mtime, d)
	}

	return nil
}

// ModeIs matches attribute replies with the given mode, type bits included.
func ModeIs(expected os.FileMode) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error {
			attr, err := extractAttr(c)
			if err != nil {
				return err
			}

			if mode := fuseops.ConvertFileMode(attr.Mode); mode != expected {
				return fmt.Errorf("which has mode %v", mode)
			}

			return nil
		},
		fmt.Sprintf("mode is %v", expected))
}

// SizeIs matches attribute replies with the given size.
func SizeIs(expected uint64) oglematchers.Matcher {
	return oglematchers.NewMatcher(
		func(c interface{}) error {
			attr, err := extractAttr(c)
			if err != nil {
				return err
			}

			if attr.Size != expected {
				return fmt.Errorf("which has size %d", attr.Size)
			}

			return nil
		},
		fmt.Sprintf("size is %d", expected))
}
