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

package dmamem

import (
	"fmt"
	"sync"
)

// simQuantum is the fixed allocation granularity of SimAllocator,
// independent of the host page size so allocations are reproducible
// everywhere.
const simQuantum = 4096

// SimAllocator is a deterministic Allocator without host backing
// memory. Buffers get consecutive handles and lowest-address-first bus
// addresses, and repeating an allocation sequence reproduces the same
// buffers.
type SimAllocator struct {
	sync.Mutex
	spans   *spanSet
	buffers map[Handle]*Buffer
	nextID  Handle
}

var _ Allocator = (*SimAllocator)(nil)

// NewSimAllocator creates a simulated allocator for the given window.
// The zero Window selects DefaultWindow.
func NewSimAllocator(window Window) (*SimAllocator, error) {
	spans, err := newSpanSet(window, simQuantum)
	if err != nil {
		return nil, err
	}

	return &SimAllocator{
		spans:   spans,
		buffers: make(map[Handle]*Buffer),
	}, nil
}

// Alloc implements the Allocator interface.
func (a *SimAllocator) Alloc(size uint64, policy CachePolicy) (*Buffer, error) {
	if err := policy.check(); err != nil {
		return nil, err
	}

	a.Lock()
	defer a.Unlock()

	bus, rounded, err := a.spans.carve(size)
	if err != nil {
		return nil, err
	}

	a.nextID++
	buf := &Buffer{
		id:     a.nextID,
		bus:    bus,
		size:   rounded,
		policy: policy,
	}
	a.buffers[buf.id] = buf

	log.Debug("allocated %s", buf)

	return buf, nil
}

// Free implements the Allocator interface.
func (a *SimAllocator) Free(buf *Buffer) error {
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

	log.Debug("freed %s", buf)

	return nil
}

// Live returns the number of live buffers.
func (a *SimAllocator) Live() int {
	a.Lock()
	defer a.Unlock()
	return len(a.buffers)
}

// UsedBytes returns the total allocated size of all live buffers.
func (a *SimAllocator) UsedBytes() uint64 {
	a.Lock()
	defer a.Unlock()
	return a.spans.bytes
}
