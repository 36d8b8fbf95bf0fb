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

package dmamem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// mbind(2) memory policy mode.
const mpolBind = 2

// WithNUMANode binds buffer backing memory to the given NUMA node. DMA
// engines reach node-local memory with lower latency, so on multi-node
// hosts buffers should live next to the device's root port.
func WithNUMANode(node int) HostOption {
	return func(a *HostAllocator) {
		a.numa = &node
	}
}

// nodeMask returns an mbind(2) nodemask with the given node's bit set.
func nodeMask(node int) ([]uint64, error) {
	if node < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidNode, node)
	}
	mask := make([]uint64, node/64+1)
	mask[node/64] |= 1 << (node % 64)
	return mask, nil
}

// bindToNode restricts the pages of a mapped region to one NUMA node.
func bindToNode(mem []byte, node int) error {
	mask, err := nodeMask(node)
	if err != nil {
		return err
	}

	_, _, errno := unix.Syscall6(unix.SYS_MBIND,
		uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)), mpolBind,
		uintptr(unsafe.Pointer(&mask[0])), uintptr(len(mask)*64), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
