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

// Package iommu defines the translation-domain primitive sessions use to
// restrict which memory ranges a group of devices may address. A Domain
// is one translation context; a Provider creates domains by hardware
// domain name. SoftTable is an in-memory reference implementation.
package iommu

import "fmt"

// Range is a bus-addressable memory range.
type Range struct {
	// Base is the bus address of the first byte of the range.
	Base uint64 `json:"base"`
	// Size is the length of the range in bytes.
	Size uint64 `json:"size"`
}

// Domain is a single hardware translation context. Devices attached to
// the domain can address exactly the ranges added to it.
type Domain interface {
	// Name returns the hardware domain name this domain was created for.
	Name() string
	// AddRange makes the given range addressable in this domain.
	AddRange(Range) error
	// RemoveRange withdraws a previously added range from this domain.
	RemoveRange(Range) error
	// Close releases the translation resources of this domain.
	Close() error
}

// Provider creates translation domains. Each call creates a distinct
// domain; the provider does not deduplicate by name, one session's
// domain is never shared with another.
type Provider interface {
	CreateDomain(name string) (Domain, error)
}

// End returns the first bus address past the range.
func (r Range) End() uint64 {
	return r.Base + r.Size
}

// Overlaps returns true if the two ranges share any address.
func (r Range) Overlaps(o Range) bool {
	return r.Base < o.End() && o.Base < r.End()
}

// String returns the range formatted for diagnostics.
func (r Range) String() string {
	return fmt.Sprintf("[0x%x-0x%x)", r.Base, r.End())
}
