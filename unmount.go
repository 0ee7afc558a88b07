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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
)

// How hard Unmount tries while the mount point is busy.
const (
	unmountAttempts = 5
	unmountDelay    = 50 * time.Millisecond
	unmountMaxDelay = time.Second
)

// Unmount attempts to unmount the file system whose mount point is the
// supplied directory. It is a no-op for a directory that isn't a mount
// point.
//
// While the file system is busy, for example because a process has a file
// open, the attempt is retried with backoff before giving up with an error
// wrapping EBUSY.
func Unmount(dir string) error {
	return UnmountContext(context.Background(), dir)
}

// UnmountContext is like Unmount, but gives up retrying when ctx is done.
func UnmountContext(ctx context.Context, dir string) error {
	// /dev/fd/N isn't in the mount table; the attempt below reports why it
	// can't be unmounted from here.
	if !isDevFd(dir) {
		mounted, err := mountinfo.Mounted(dir)
		if err == nil && !mounted {
			return nil
		}
	}

	err := retry.Do(
		func() error { return unmount(dir) },
		retry.Attempts(unmountAttempts),
		retry.Delay(unmountDelay),
		retry.MaxDelay(unmountMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isBusy),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)

	if err != nil {
		return fmt.Errorf("unmount %s: %w", dir, err)
	}

	return nil
}

// fusermount reports EBUSY only in its output.
func isBusy(err error) bool {
	return errors.Is(err, unix.EBUSY) ||
		strings.Contains(err.Error(), "resource busy")
}
