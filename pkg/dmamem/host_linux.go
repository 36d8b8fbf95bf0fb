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
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// HostAllocator is an Allocator backed by anonymous host mappings.
// Buffers are page-aligned and locked into memory so their pages stay
// resident while devices have them mapped; bus addresses are carved
// from the window like SimAllocator's.
type HostAllocator struct {
	sync.Mutex
	spans   *spanSet
	buffers map[Handle]*Buffer
	nextID  Handle
	mlock   bool
	numa    *int
}

var _ Allocator = (*HostAllocator)(nil)

// HostOption is an option for NewHostAllocator.
type HostOption func(*HostAllocator)

// WithoutMemoryLocking disables locking buffer pages into memory. Use
// it when RLIMIT_MEMLOCK is too tight for the expected buffer load.
func WithoutMemoryLocking() HostOption {
	return func(a *HostAllocator) {
		a.mlock = false
	}
}

// NewHostAllocator creates a host-backed allocator for the given
// window. The zero Window selects DefaultWindow.
func NewHostAllocator(window Window, options ...HostOption) (*HostAllocator, error) {
	spans, err := newSpanSet(window, uint64(os.Getpagesize()))
	if err != nil {
		return nil, err
	}

	a := &HostAllocator{
		spans:   spans,
		buffers: make(map[Handle]*Buffer),
		mlock:   true,
	}
	for _, o := range options {
		o(a)
	}

	return a, nil
}

// Alloc implements the Allocator interface.
func (a *HostAllocator) Alloc(size uint64, policy CachePolicy) (*Buffer, error) {
	if err := policy.check(); err != nil {
		return nil, err
	}

	a.Lock()
	defer a.Unlock()

	bus, rounded, err := a.spans.carve(size)
	if err != nil {
		return nil, err
	}
	if rounded > uint64(math.MaxInt) {
		a.spans.release(bus)
		return nil, fmt.Errorf("%w: 0x%x bytes", ErrNoMemory, rounded)
	}

	mem, err := unix.Mmap(-1, 0, int(rounded),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		a.spans.release(bus)
		return nil, fmt.Errorf("%w: mmap 0x%x bytes: %v", ErrNoMemory, rounded, err)
	}
	if a.numa != nil {
		// bind before the pages are touched so they get placed right
		if err := bindToNode(mem, *a.numa); err != nil {
			unix.Munmap(mem)
			a.spans.release(bus)
			return nil, fmt.Errorf("%w: bind 0x%x bytes to node %d: %v",
				ErrNoMemory, rounded, *a.numa, err)
		}
	}
	if a.mlock {
		if err := unix.Mlock(mem); err != nil {
			unix.Munmap(mem)
			a.spans.release(bus)
			return nil, fmt.Errorf("%w: mlock 0x%x bytes: %v", ErrNoMemory, rounded, err)
		}
	}

	a.nextID++
	buf := &Buffer{
		id:     a.nextID,
		bus:    bus,
		size:   rounded,
		policy: policy,
		mem:    mem,
	}
	a.buffers[buf.id] = buf

	log.Debug("allocated %s", buf)

	return buf, nil
}

// Free implements the Allocator interface.
func (a *HostAllocator) Free(buf *Buffer) error {
	if buf == nil {
		return fmt.Errorf("%w: nil buffer", ErrUnknownBuffer)
	}

	a.Lock()
	defer a.Unlock()

	if a.buffers[buf.id] != buf {
		return fmt.Errorf("%w: %s", ErrUnknownBuffer, buf)
	}
	if err := a.spans.release(buf.bus); err != nil {
		return err
	}
	delete(a.buffers, buf.id)

	mem := buf.mem
	buf.mem = nil
	if a.mlock {
		unix.Munlock(mem)
	}
	if err := unix.Munmap(mem); err != nil {
		return fmt.Errorf("dmamem: munmap %s: %v", buf, err)
	}

	log.Debug("freed %s", buf)

	return nil
}

// Live returns the number of live buffers.
func (a *HostAllocator) Live() int {
	a.Lock()
	defer a.Unlock()
	return len(a.buffers)
}

// UsedBytes returns the total allocated size of all live buffers.
func (a *HostAllocator) UsedBytes() uint64 {
	a.Lock()
	defer a.Unlock()
	return a.spans.bytes
}
