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
	"bytes"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

func unmount(dir string) error {
	// Root doesn't need the helper, unless the kernel refuses.
	if os.Geteuid() == 0 && !isDevFd(dir) {
		err := unix.Unmount(dir, 0)
		if err == nil || err == unix.EBUSY || err == unix.EINVAL {
			return wrapUnmountError(dir, err)
		}
	}

	err := fuserunmount(dir)
	if err != nil {
		// /dev/fd/N mount points belong to whoever passed us the fd.
		if isDevFd(dir) {
			return fmt.Errorf("%w: %s", ErrExternallyManagedMountPoint, err)
		}
	}
	return err
}

func wrapUnmountError(dir string, err error) error {
	if err == nil {
		return nil
	}

	return &os.PathError{Op: "unmount", Path: dir, Err: err}
}

func fuserunmount(dir string) error {
	fusermount, err := findFusermount()
	if err != nil {
		return err
	}
	cmd := exec.Command(fusermount, "-u", dir)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if len(output) > 0 {
			output = bytes.TrimRight(output, "\n")
			return fmt.Errorf("%w: %s", err, output)
		}

		return err
	}
	return nil
}
