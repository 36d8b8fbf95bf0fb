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

// Package dmamem implements allocation of contiguous DMA-capable memory.
// An Allocator hands out Buffers which occupy a bus address range carved
// first-fit from a configured DMA Window and are tagged with a cache
// policy. HostAllocator backs buffers with locked anonymous mappings,
// SimAllocator is a deterministic implementation for tests and platforms
// without host memory support.
package dmamem

import (
	"encoding/json"
	"fmt"

	logger "github.com/platformd/platformd/pkg/log"
)

var log = logger.Get("dmamem")

// CachePolicy selects the caching attributes DMA memory is mapped with.
type CachePolicy int

const (
	// Cached memory is mapped write-back cacheable.
	Cached CachePolicy = iota
	// Uncached memory bypasses the cache hierarchy.
	Uncached
	// WriteCombined memory is uncached with write combining.
	WriteCombined
)

// String returns the cache policy as a string.
func (p CachePolicy) String() string {
	switch p {
	case Cached:
		return "cached"
	case Uncached:
		return "uncached"
	case WriteCombined:
		return "write-combined"
	}
	return fmt.Sprintf("invalid(%d)", int(p))
}

// ParseCachePolicy parses a string into a cache policy.
func ParseCachePolicy(value string) (CachePolicy, error) {
	switch value {
	case "cached":
		return Cached, nil
	case "uncached":
		return Uncached, nil
	case "write-combined", "write-combining":
		return WriteCombined, nil
	}
	return Cached, fmt.Errorf("%w: %q", ErrInvalidPolicy, value)
}

// MarshalJSON is the JSON marshaller for cache policies.
func (p CachePolicy) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON is the JSON unmarshaller for cache policies.
func (p *CachePolicy) UnmarshalJSON(data []byte) error {
	var value string
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	policy, err := ParseCachePolicy(value)
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

func (p CachePolicy) check() error {
	switch p {
	case Cached, Uncached, WriteCombined:
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidPolicy, int(p))
}

// Handle is an opaque reference to one allocated buffer.
type Handle uint64

// NoHandle is the zero Handle, referring to no buffer.
const NoHandle Handle = 0

// Window is the bus address aperture buffers are allocated from.
type Window struct {
	// Base is the first bus address of the window.
	Base uint64 `json:"base"`
	// Size is the size of the window in bytes.
	Size uint64 `json:"size"`
}

// DefaultWindow is the window used when none is configured.
var DefaultWindow = Window{Base: 0x40000000, Size: 0x20000000}

// End returns the first bus address past the window.
func (w Window) End() uint64 {
	return w.Base + w.Size
}

// String returns the window formatted for diagnostics.
func (w Window) String() string {
	return fmt.Sprintf("[0x%x-0x%x)", w.Base, w.End())
}

// Buffer is one contiguous DMA-capable allocation. Its size is the
// allocated size, the requested size rounded up to the allocator's
// granularity.
type Buffer struct {
	id     Handle
	bus    uint64
	size   uint64
	policy CachePolicy
	mem    []byte
}

// Handle returns the opaque handle of the buffer.
func (b *Buffer) Handle() Handle {
	return b.id
}

// BusAddr returns the bus address of the buffer.
func (b *Buffer) BusAddr() uint64 {
	return b.bus
}

// Size returns the allocated size of the buffer in bytes.
func (b *Buffer) Size() uint64 {
	return b.size
}

// Policy returns the cache policy of the buffer.
func (b *Buffer) Policy() CachePolicy {
	return b.policy
}

// Bytes returns the host backing memory of the buffer, or nil if the
// buffer has none.
func (b *Buffer) Bytes() []byte {
	return b.mem
}

// String returns the buffer formatted for diagnostics.
func (b *Buffer) String() string {
	return fmt.Sprintf("buffer #%d: 0x%x bytes @ 0x%x, %s", b.id, b.size, b.bus, b.policy)
}

// Allocator allocates and frees contiguous DMA-capable buffers.
type Allocator interface {
	// Alloc allocates a buffer of at least the given size with the
	// given cache policy.
	Alloc(size uint64, policy CachePolicy) (*Buffer, error)
	// Free releases a buffer allocated by this allocator.
	Free(*Buffer) error
}
