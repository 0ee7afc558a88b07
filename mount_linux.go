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
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Helpers in the order we try them.
var fusermountBinaries = []string{
	"fusermount3",
	"fusermount",
}

// Where to look when the helpers aren't on $PATH.
var fusermountDirs = []string{
	"/bin",
	"/usr/bin",
	"/sbin",
	"/usr/sbin",
}

func findFusermount() (string, error) {
	for _, name := range fusermountBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	for _, dir := range fusermountDirs {
		for _, name := range fusermountBinaries {
			path := dir + "/" + name
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", errors.New("fusermount3 or fusermount not found")
}

// parseFuseFd checks if `mountPoint` is the special form /dev/fd/N (with N >=
// 0), and returns N in this case. Returns -1 otherwise.
func parseFuseFd(mountPoint string) (int, error) {
	dir, file := splitDevFd(mountPoint)
	if dir != "/dev/fd" {
		return -1, fmt.Errorf("not a /dev/fd path: %q", mountPoint)
	}

	fd, err := strconv.Atoi(file)
	if err != nil {
		return -1, fmt.Errorf("invalid file descriptor %q: %w", file, err)
	}

	if fd < 0 {
		return -1, fmt.Errorf("negative file descriptor %d", fd)
	}

	return fd, nil
}

func splitDevFd(p string) (dir string, file string) {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return "", p
	}

	return p[:i], p[i+1:]
}

func isDevFd(dir string) bool {
	return strings.HasPrefix(dir, "/dev/fd/")
}

// Begin the process of mounting at the given directory, returning a
// connection to the kernel.
func mount(dir string, cfg *MountConfig) (*os.File, error) {
	// The mount point was set up by a privileged parent, which passed us
	// /dev/fuse as fd N.
	if isDevFd(dir) {
		fd, err := parseFuseFd(dir)
		if err != nil {
			return nil, err
		}

		unix.CloseOnExec(fd)
		return os.NewFile(uintptr(fd), "/dev/fuse"), nil
	}

	// Check that the mount point exists, so the error is clear.
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("stat mount point: %w", err)
	}

	// Root can mount directly. Fall back to the helper if the kernel says no,
	// e.g. inside a user namespace.
	if os.Geteuid() == 0 {
		dev, err := directmount(dir, cfg)
		if err == nil {
			return dev, nil
		}

		if !errors.Is(err, unix.EPERM) {
			return nil, fmt.Errorf("directmount: %w", err)
		}
	}

	return fusermount(dir, cfg)
}

// Mount using mount(2), which requires CAP_SYS_ADMIN.
func directmount(dir string, cfg *MountConfig) (*os.File, error) {
	dev, err := os.OpenFile("/dev/fuse", os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	var st unix.Stat_t
	if err := unix.Stat(dir, &st); err != nil {
		dev.Close()
		return nil, err
	}

	opts := cfg.toMap()
	source := opts["fsname"]
	fstype := "fuse"
	if sub := opts["subtype"]; sub != "" {
		fstype = "fuse." + sub
	}

	var flags uintptr = unix.MS_NOSUID | unix.MS_NODEV
	if _, ok := opts["ro"]; ok {
		flags |= unix.MS_RDONLY
	}

	// The kernel understands only a few of the options; fsname, subtype and ro
	// are carried above.
	delete(opts, "fsname")
	delete(opts, "subtype")
	delete(opts, "ro")

	data := []string{
		fmt.Sprintf("fd=%d", dev.Fd()),
		fmt.Sprintf("rootmode=%o", st.Mode&unix.S_IFMT),
		fmt.Sprintf("user_id=%d", os.Geteuid()),
		fmt.Sprintf("group_id=%d", os.Getegid()),
	}

	for k, v := range opts {
		if v == "" {
			data = append(data, k)
		} else {
			data = append(data, k+"="+v)
		}
	}

	err = unix.Mount(source, dir, fstype, flags, strings.Join(data, ","))
	if err != nil {
		dev.Close()
		return nil, err
	}

	return dev, nil
}

// Mount using the setuid fusermount helper, which sends the opened /dev/fuse
// back to us over a unix socket named by _FUSE_COMMFD.
func fusermount(dir string, cfg *MountConfig) (*os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}

	local := os.NewFile(uintptr(fds[0]), "fusermount local")
	remote := os.NewFile(uintptr(fds[1]), "fusermount remote")
	defer local.Close()
	defer remote.Close()

	bin, err := findFusermount()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(
		bin,
		"-o", cfg.toOptionsString(),
		"--",
		dir,
	)
	cmd.Env = append(os.Environ(), "_FUSE_COMMFD=3")
	cmd.ExtraFiles = []*os.File{remote}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := bytes.TrimSpace(stderr.Bytes()); len(msg) > 0 {
			return nil, fmt.Errorf("%s: %w: %s", bin, err, msg)
		}

		return nil, fmt.Errorf("%s: %w", bin, err)
	}

	fd, err := receiveFd(int(local.Fd()))
	if err != nil {
		return nil, fmt.Errorf("receiveFd: %w", err)
	}

	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), "/dev/fuse"), nil
}

// Receive one file descriptor sent with SCM_RIGHTS.
func receiveFd(sock int) (int, error) {
	var data [4]byte
	oob := make([]byte, unix.CmsgSpace(4))

	_, oobn, _, _, err := unix.Recvmsg(sock, data[:], oob, 0)
	if err != nil {
		return -1, err
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, err
	}

	if len(msgs) != 1 {
		return -1, fmt.Errorf("expected 1 control message, got %d", len(msgs))
	}

	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return -1, err
	}

	if len(fds) != 1 {
		return -1, fmt.Errorf("expected 1 fd, got %d", len(fds))
	}

	return fds[0], nil
}
