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

package session

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/platformd/platformd/pkg/dmamem"
	"github.com/platformd/platformd/pkg/iommu"
)

// buffer is one registered DMA buffer. granted is the quota amount
// reserved for it, the requested size before the allocator's rounding.
type buffer struct {
	buf     *dmamem.Buffer
	granted uint64
}

// busRange returns the bus address range the buffer occupies.
func (b *buffer) busRange() iommu.Range {
	return iommu.Range{Base: b.buf.BusAddr(), Size: b.buf.Size()}
}

// AllocDMABuffer allocates a contiguous DMA buffer and maps its range
// into every live translation domain of the session. On any failure
// the partial work is fully rolled back: ranges already inserted are
// withdrawn, the memory is freed and the quota reservation returned.
func (s *Session) AllocDMABuffer(size uint64, policy dmamem.CachePolicy) (dmamem.Handle, error) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return dmamem.NoHandle, fmt.Errorf("%w: session %q is closed",
			ErrInternal, s.label)
	}

	if err := s.mem.Reserve(size); err != nil {
		return dmamem.NoHandle, fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
	}

	buf, err := s.alloc.Alloc(size, policy)
	if err != nil {
		s.mem.Release(size)
		return dmamem.NoHandle, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	entry := &buffer{buf: buf, granted: size}
	rng := entry.busRange()

	var mapped []iommu.Domain
	for name, d := range s.domains {
		if err := d.dom.AddRange(rng); err != nil {
			for _, dom := range mapped {
				dom.RemoveRange(rng)
			}
			s.alloc.Free(buf)
			s.mem.Release(size)
			return dmamem.NoHandle, fmt.Errorf(
				"%w: failed to map %s into domain %q: %v",
				ErrInternal, rng, name, err)
		}
		mapped = append(mapped, d.dom)
	}

	s.buffers[buf.Handle()] = entry

	s.log.Debug("allocated %s, mapped into %d domains", buf, len(mapped))

	return buf.Handle(), nil
}

// FreeDMABuffer frees a previously allocated DMA buffer. Unknown
// handles are ignored.
func (s *Session) FreeDMABuffer(handle dmamem.Handle) error {
	s.Lock()
	defer s.Unlock()

	entry, ok := s.buffers[handle]
	if !ok {
		return nil
	}

	return s.freeBuffer(entry)
}

// DMAAddr returns the bus address of an allocated buffer, 0 for
// unknown handles.
func (s *Session) DMAAddr(handle dmamem.Handle) uint64 {
	s.Lock()
	defer s.Unlock()

	if entry, ok := s.buffers[handle]; ok {
		return entry.buf.BusAddr()
	}
	return 0
}

// DMABufferCount returns the number of live DMA buffers.
func (s *Session) DMABufferCount() int {
	s.Lock()
	defer s.Unlock()

	return len(s.buffers)
}

// freeBuffer tears one buffer down in the mandatory order: its range
// is withdrawn from every live domain first, then the memory is
// released, then the quota reservation, then the registry entry. A
// device must never be able to address memory that has started being
// released. Callers must hold the session lock.
func (s *Session) freeBuffer(entry *buffer) error {
	var errs *multierror.Error

	rng := entry.busRange()
	for name, d := range s.domains {
		if err := d.dom.RemoveRange(rng); err != nil {
			errs = multierror.Append(errs, fmt.Errorf(
				"%w: failed to withdraw %s from domain %q: %v",
				ErrInternal, rng, name, err))
		}
	}

	if err := s.alloc.Free(entry.buf); err != nil {
		errs = multierror.Append(errs, fmt.Errorf(
			"%w: failed to free %s: %v", ErrInternal, entry.buf, err))
	}

	s.mem.Release(entry.granted)
	delete(s.buffers, entry.buf.Handle())

	s.log.Debug("freed %s", entry.buf)

	return errs.ErrorOrNil()
}

// bufferTeardownOrder returns all buffer entries in ascending handle
// order so session teardown is deterministic. Callers must hold the
// session lock.
func (s *Session) bufferTeardownOrder() []*buffer {
	handles := make([]dmamem.Handle, 0, len(s.buffers))
	for h := range s.buffers {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	entries := make([]*buffer, 0, len(handles))
	for _, h := range handles {
		entries = append(entries, s.buffers[h])
	}
	return entries
}
