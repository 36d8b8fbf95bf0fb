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
	"math"

	"github.com/google/btree"
)

// span is one carved stretch of the DMA window.
type span struct {
	base uint64
	size uint64
}

// spanSet tracks first-fit bus address allocation within a window. It
// has no locking of its own, the owning allocator serializes access.
type spanSet struct {
	window  Window
	quantum uint64
	used    *btree.BTreeG[span]
	bytes   uint64
}

// spanDegree is the btree degree of the carved span set.
const spanDegree = 16

func newSpanSet(w Window, quantum uint64) (*spanSet, error) {
	if w == (Window{}) {
		w = DefaultWindow
	}
	if w.Size == 0 || w.End() < w.Base || w.Base > math.MaxUint64-quantum+1 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWindow, w)
	}

	// align the usable aperture inward to the allocation granularity
	base := roundUp(w.Base, quantum)
	end := w.End() / quantum * quantum
	if base >= end {
		return nil, fmt.Errorf("%w: %s smaller than 0x%x granularity",
			ErrInvalidWindow, w, quantum)
	}

	return &spanSet{
		window:  Window{Base: base, Size: end - base},
		quantum: quantum,
		used: btree.NewG(spanDegree, func(a, b span) bool {
			return a.base < b.base
		}),
	}, nil
}

// carve allocates the lowest free stretch of the window that can hold
// size bytes, rounded up to the granularity. It returns the bus address
// and the rounded size.
func (s *spanSet) carve(size uint64) (uint64, uint64, error) {
	if size == 0 {
		return 0, 0, fmt.Errorf("%w: zero size", ErrInvalidSize)
	}
	if size > math.MaxUint64-s.quantum+1 {
		return 0, 0, fmt.Errorf("%w: 0x%x bytes", ErrInvalidSize, size)
	}
	rounded := roundUp(size, s.quantum)

	var (
		base  uint64
		found bool
	)

	prevEnd := s.window.Base
	s.used.Ascend(func(sp span) bool {
		if sp.base-prevEnd >= rounded {
			base, found = prevEnd, true
			return false
		}
		prevEnd = sp.base + sp.size
		return true
	})
	if !found && s.window.End()-prevEnd >= rounded {
		base, found = prevEnd, true
	}
	if !found {
		return 0, 0, fmt.Errorf("%w: no room for 0x%x bytes in window %s",
			ErrNoMemory, rounded, s.window)
	}

	s.used.ReplaceOrInsert(span{base: base, size: rounded})
	s.bytes += rounded

	return base, rounded, nil
}

// release returns a previously carved stretch to the window.
func (s *spanSet) release(base uint64) error {
	sp, ok := s.used.Get(span{base: base})
	if !ok {
		return fmt.Errorf("%w: no allocation at 0x%x", ErrUnknownBuffer, base)
	}

	s.used.Delete(sp)
	s.bytes -= sp.size

	return nil
}

func roundUp(value, quantum uint64) uint64 {
	return (value + quantum - 1) / quantum * quantum
}
