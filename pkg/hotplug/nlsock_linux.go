// Copyright The Platformd Authors. All Rights Reserved.
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

//go:build linux

package hotplug

import (
	"fmt"
	"io"
	"os"
	"syscall"
)

// kernelReader is an io.ReadCloser for raw event data from the
// kernel's uevent netlink socket.
type kernelReader struct {
	sock   int
	closed bool
}

func newKernelReader() (io.ReadCloser, error) {
	fd, err := syscall.Socket(syscall.AF_NETLINK, syscall.SOCK_RAW,
		syscall.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("failed to create hotplug reader: %w", err)
	}

	addr := syscall.SockaddrNetlink{
		Family: syscall.AF_NETLINK,
		Pid:    uint32(os.Getpid()),
		Groups: 1,
	}

	if err := syscall.Bind(fd, &addr); err != nil {
		syscall.Close(fd) // nolint:errcheck
		return nil, fmt.Errorf("failed to bind hotplug reader: %w", err)
	}

	return &kernelReader{sock: fd}, nil
}

// Read implements the io.Reader interface.
func (r *kernelReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.EOF
	}

	n, err := syscall.Read(r.sock, p)

	// allow wrapping in a bufio.Reader, which would panic on n < 0
	if n == -1 {
		n = 0
	}

	if err == syscall.ENOBUFS {
		log.Warn("kernel ran out of uevent buffer space (events were dropped)")
		err = nil
	}

	return n, err
}

// Close implements the io.Closer interface.
func (r *kernelReader) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true
	return syscall.Close(r.sock)
}
