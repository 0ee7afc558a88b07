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

package fuseutil

import (
	"github.com/llfuse/fuse"
)

// ReplyXattr copies value into dst for a GetXattrOp or ListXattrOp, returning
// the value for BytesRead. An empty dst is a request for the size alone. A
// value that doesn't fit is ERANGE, as for getxattr(2).
func ReplyXattr(dst []byte, value []byte) (int, error) {
	if len(dst) == 0 {
		return len(value), nil
	}

	if len(value) > len(dst) {
		return 0, fuse.ERANGE
	}

	return copy(dst, value), nil
}

// ListXattrValue joins names in the NUL-terminated form expected in the
// reply to listxattr.
func ListXattrValue(names []string) []byte {
	var n int
	for _, name := range names {
		n += len(name) + 1
	}

	b := make([]byte, 0, n)
	for _, name := range names {
		b = append(b, name...)
		b = append(b, 0)
	}

	return b
}
